// Package config provides configuration structures and loading for regstage.
package config

// Config represents the complete application configuration.
type Config struct {
	Source     DatabaseConfig   `yaml:"source" mapstructure:"source"`
	Stage      StageConfig      `yaml:"stage" mapstructure:"stage"`
	Processing ProcessingConfig `yaml:"processing" mapstructure:"processing"`
	Checkpoint CheckpointConfig `yaml:"checkpoint" mapstructure:"checkpoint"`
	Output     OutputConfig     `yaml:"output" mapstructure:"output"`
	Logging    LoggingConfig    `yaml:"logging" mapstructure:"logging"`
}

// DatabaseConfig represents the source-of-record connection configuration.
type DatabaseConfig struct {
	Driver             string `yaml:"driver" mapstructure:"driver"` // postgres, mysql or sqlite3
	Host               string `yaml:"host" mapstructure:"host"`
	Port               int    `yaml:"port" mapstructure:"port"`
	User               string `yaml:"user" mapstructure:"user"`
	Password           string `yaml:"password" mapstructure:"password"`
	Database           string `yaml:"database" mapstructure:"database"` // file path for sqlite3
	Schema             string `yaml:"schema" mapstructure:"schema"`     // schema holding the registry tables
	TLS                string `yaml:"tls" mapstructure:"tls"`           // disable, preferred, required
	MaxConnections     int    `yaml:"max_connections" mapstructure:"max_connections"`
	MaxIdleConnections int    `yaml:"max_idle_connections" mapstructure:"max_idle_connections"`
}

// StageConfig controls the process-local staging store.
type StageConfig struct {
	Name      string `yaml:"name" mapstructure:"name"`             // in-memory database name
	Snapshot  bool   `yaml:"snapshot" mapstructure:"snapshot"`     // copy raw registry rows per batch
	BatchSize int    `yaml:"batch_size" mapstructure:"batch_size"` // ids per IN list
	Verify    string `yaml:"verify" mapstructure:"verify"`         // count, sha256 or skip
}

// ProcessingConfig represents batch processing settings.
type ProcessingConfig struct {
	BatchSize int      `yaml:"batch_size" mapstructure:"batch_size"` // corporations per cache generation
	MaxCorps  int      `yaml:"max_corps" mapstructure:"max_corps"`   // 0 means no limit
	CorpTypes []string `yaml:"corp_types" mapstructure:"corp_types"` // registrable legal-entity types
}

// CheckpointConfig locates the event checkpoint store.
type CheckpointConfig struct {
	Path       string `yaml:"path" mapstructure:"path"`               // sqlite file
	SystemType string `yaml:"system_type" mapstructure:"system_type"` // checkpoint key
}

// OutputConfig controls where assembled corporations are written.
type OutputConfig struct {
	Path string `yaml:"path" mapstructure:"path"` // stdout, stderr, or file path
}

// LoggingConfig represents logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"` // json or text
	Output string `yaml:"output" mapstructure:"output"` // stdout, stderr, or file path
}

// DefaultCorpTypes are the corporation types whose events are processed.
var DefaultCorpTypes = []string{"A", "LLC", "BC", "C", "CUL", "ULC"}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Source: DatabaseConfig{
			Driver:             "postgres",
			Port:               5432,
			Schema:             "bc_registries",
			TLS:                "preferred",
			MaxConnections:     4,
			MaxIdleConnections: 2,
		},
		Stage: StageConfig{
			Name:      "regstage",
			Snapshot:  false,
			BatchSize: 1000,
			Verify:    "skip",
		},
		Processing: ProcessingConfig{
			BatchSize: 100,
			MaxCorps:  0,
			CorpTypes: append([]string(nil), DefaultCorpTypes...),
		},
		Checkpoint: CheckpointConfig{
			Path:       "regstage_checkpoint.db",
			SystemType: "BC_REG",
		},
		Output: OutputConfig{
			Path: "stdout",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
	}
}

// ApplyOverrides applies CLI flag overrides to the configuration.
// Only non-zero/non-empty values are applied.
func (c *Config) ApplyOverrides(logLevel, logFormat string, batchSize, maxCorps int, output string) {
	if logLevel != "" {
		c.Logging.Level = logLevel
	}
	if logFormat != "" {
		c.Logging.Format = logFormat
	}
	if batchSize > 0 {
		c.Processing.BatchSize = batchSize
	}
	if maxCorps > 0 {
		c.Processing.MaxCorps = maxCorps
	}
	if output != "" {
		c.Output.Path = output
	}
}
