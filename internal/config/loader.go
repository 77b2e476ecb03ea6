package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides of config keys, so
// REGSTAGE_SOURCE_PASSWORD overrides source.password.
const EnvPrefix = "REGSTAGE"

// Load reads a YAML config file. Keys may be overridden from the
// environment and string values may reference ${VAR} or ${VAR:-default}.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	bindEnv(v)

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from a prepared Viper instance, starting
// from DefaultConfig.
func LoadFromViper(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for _, field := range cfg.expandable() {
		*field = expandEnvVar(*field)
	}
	return cfg, nil
}

// envKeys are the keys that may be set from REGSTAGE_* variables. Viper only
// consults the environment for keys it already knows about.
var envKeys = []string{
	"source.driver", "source.host", "source.port", "source.user", "source.password",
	"source.database", "source.schema", "source.tls",
	"stage.name", "stage.snapshot", "stage.verify",
	"processing.batch_size", "processing.max_corps",
	"checkpoint.path", "checkpoint.system_type",
	"output.path",
	"logging.level", "logging.format", "logging.output",
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}
}

// expandable lists the string fields that go through ${VAR} expansion.
func (c *Config) expandable() []*string {
	return []*string{
		&c.Source.Host,
		&c.Source.User,
		&c.Source.Password,
		&c.Source.Database,
		&c.Source.Schema,
		&c.Stage.Name,
		&c.Checkpoint.Path,
		&c.Checkpoint.SystemType,
		&c.Output.Path,
		&c.Logging.Output,
	}
}

// envVarPattern matches ${NAME}, ${NAME:-default} and $NAME.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVar substitutes set variables. An unset variable falls back to its
// default when one is given and is otherwise left as written.
func expandEnvVar(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		m := envVarPattern.FindStringSubmatch(match)
		name, hasDefault, def := m[1], m[2] != "", m[3]
		if name == "" {
			name = m[4]
		}

		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		if hasDefault {
			return def
		}
		return match
	})
}
