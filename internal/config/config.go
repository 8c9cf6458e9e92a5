// Package config provides configuration loading for the inspection
// service.
package config

// Config represents the complete service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

// ServerConfig represents the request/response service settings.
type ServerConfig struct {
	// Host is the loopback interface to bind. The port is always
	// ephemeral and announced on stdout.
	Host string `yaml:"host" mapstructure:"host"`

	// IdleTimeoutSeconds is how long the process may sit without a
	// request before it terminates. Zero disables the watchdog.
	IdleTimeoutSeconds int `yaml:"idle_timeout_seconds" mapstructure:"idle_timeout_seconds"`
}

// LoggingConfig represents logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"` // json or text
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "127.0.0.1",
			IdleTimeoutSeconds: 300,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
