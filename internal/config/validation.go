package config

import (
	"fmt"
	"strings"

	"github.com/dbsmedya/regstage/internal/sqlutil"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// Validate checks the configuration for required fields and valid values.
func (c *Config) Validate() error {
	var errors ValidationErrors

	errors = append(errors, c.validateSource()...)
	errors = append(errors, c.validateStage()...)
	errors = append(errors, c.validateProcessing()...)
	errors = append(errors, c.validateCheckpoint()...)
	errors = append(errors, c.validateLogging()...)

	if len(errors) > 0 {
		return errors
	}
	return nil
}

func (c *Config) validateSource() ValidationErrors {
	var errors ValidationErrors
	db := &c.Source

	if _, err := sqlutil.DialectFor(db.Driver); err != nil {
		errors = append(errors, ValidationError{
			Field:   "source.driver",
			Message: "driver must be 'postgres', 'mysql', or 'sqlite3'",
		})
	}

	if db.Database == "" {
		errors = append(errors, ValidationError{
			Field:   "source.database",
			Message: "database name is required",
		})
	}

	if db.Schema != "" && !sqlutil.IsValidIdentifier(db.Schema) {
		errors = append(errors, ValidationError{
			Field:   "source.schema",
			Message: "schema must contain only alphanumeric characters and underscores",
		})
	}

	// sqlite3 sources are files; the network settings do not apply
	if db.Driver == "sqlite3" {
		return errors
	}

	if db.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "source.host",
			Message: "host is required",
		})
	}

	if db.Port <= 0 || db.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "source.port",
			Message: "port must be between 1 and 65535",
		})
	}

	if db.User == "" {
		errors = append(errors, ValidationError{
			Field:   "source.user",
			Message: "user is required",
		})
	}

	validTLS := map[string]bool{"disable": true, "preferred": true, "required": true, "": true}
	if !validTLS[db.TLS] {
		errors = append(errors, ValidationError{
			Field:   "source.tls",
			Message: "tls must be 'disable', 'preferred', or 'required'",
		})
	}

	if db.MaxConnections < 0 {
		errors = append(errors, ValidationError{
			Field:   "source.max_connections",
			Message: "max_connections cannot be negative",
		})
	} else if db.MaxConnections == 1 {
		// the run lock holds one connection for the whole run
		errors = append(errors, ValidationError{
			Field:   "source.max_connections",
			Message: "max_connections must be at least 2 (or 0 for unlimited)",
		})
	}

	if db.MaxIdleConnections < 0 {
		errors = append(errors, ValidationError{
			Field:   "source.max_idle_connections",
			Message: "max_idle_connections cannot be negative",
		})
	}

	return errors
}

func (c *Config) validateStage() ValidationErrors {
	var errors ValidationErrors

	if !sqlutil.IsValidIdentifier(c.Stage.Name) {
		errors = append(errors, ValidationError{
			Field:   "stage.name",
			Message: "name must contain only alphanumeric characters and underscores",
		})
	}

	if c.Stage.BatchSize <= 0 {
		errors = append(errors, ValidationError{
			Field:   "stage.batch_size",
			Message: "batch_size must be positive",
		})
	}

	switch strings.ToLower(c.Stage.Verify) {
	case "", "skip", "count", "sha256":
	default:
		errors = append(errors, ValidationError{
			Field:   "stage.verify",
			Message: fmt.Sprintf("unknown method %q (use count, sha256 or skip)", c.Stage.Verify),
		})
	}

	return errors
}

func (c *Config) validateProcessing() ValidationErrors {
	var errors ValidationErrors

	if c.Processing.BatchSize <= 0 {
		errors = append(errors, ValidationError{
			Field:   "processing.batch_size",
			Message: "batch_size must be positive",
		})
	}

	if c.Processing.MaxCorps < 0 {
		errors = append(errors, ValidationError{
			Field:   "processing.max_corps",
			Message: "max_corps cannot be negative",
		})
	}

	if len(c.Processing.CorpTypes) == 0 {
		errors = append(errors, ValidationError{
			Field:   "processing.corp_types",
			Message: "at least one corp type is required",
		})
	}

	return errors
}

func (c *Config) validateCheckpoint() ValidationErrors {
	var errors ValidationErrors

	if c.Checkpoint.Path == "" {
		errors = append(errors, ValidationError{
			Field:   "checkpoint.path",
			Message: "path is required",
		})
	}

	if c.Checkpoint.SystemType == "" {
		errors = append(errors, ValidationError{
			Field:   "checkpoint.system_type",
			Message: "system_type is required",
		})
	}

	return errors
}

func (c *Config) validateLogging() ValidationErrors {
	var errors ValidationErrors

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "": true}
	if !validLevels[c.Logging.Level] {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Message: "level must be 'debug', 'info', 'warn', or 'error'",
		})
	}

	validFormats := map[string]bool{"json": true, "text": true, "": true}
	if !validFormats[c.Logging.Format] {
		errors = append(errors, ValidationError{
			Field:   "logging.format",
			Message: "format must be 'json' or 'text'",
		})
	}

	return errors
}
