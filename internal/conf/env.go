// env.go - Environment variable configuration and validation
package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "SHIPWATCH_DEBUG", validateEnvBool},

		// Database
		{"database.type", "SHIPWATCH_DATABASE_TYPE", validateEnvDatabaseType},
		{"database.sqlite.path", "SHIPWATCH_SQLITE_PATH", nil},
		{"database.mysql.host", "SHIPWATCH_MYSQL_HOST", nil},
		{"database.mysql.port", "SHIPWATCH_MYSQL_PORT", validateEnvPort},
		{"database.mysql.database", "SHIPWATCH_MYSQL_DATABASE", nil},
		{"database.mysql.username", "SHIPWATCH_MYSQL_USERNAME", nil},
		{"database.mysql.password", "SHIPWATCH_MYSQL_PASSWORD", nil},

		// Web server
		{"webserver.listen", "SHIPWATCH_LISTEN", nil},

		// Acquisition credentials
		{"acquisition.username", "SHIPWATCH_EARTHDATA_USERNAME", nil},
		{"acquisition.password", "SHIPWATCH_EARTHDATA_PASSWORD", nil},
		{"acquisition.datadir", "SHIPWATCH_DATA_DIR", nil},

		// Processing
		{"processing.gptpath", "SHIPWATCH_GPT_PATH", nil},
		{"pipeline.maxconcurrent", "SHIPWATCH_MAX_CONCURRENT", validateEnvPositiveInt},

		// Integrations
		{"mqtt.broker", "SHIPWATCH_MQTT_BROKER", validateEnvURL},
		{"mqtt.username", "SHIPWATCH_MQTT_USERNAME", nil},
		{"mqtt.password", "SHIPWATCH_MQTT_PASSWORD", nil},
		{"telemetry.sentry.dsn", "SHIPWATCH_SENTRY_DSN", validateEnvURL},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value: %v", binding.EnvVar, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("invalid boolean value '%s': must be true/false, 1/0", value)
	}
	return nil
}

func validateEnvDatabaseType(value string) error {
	switch strings.ToLower(value) {
	case "sqlite", "mysql":
		return nil
	}
	return fmt.Errorf("database type must be sqlite or mysql, got '%s'", value)
}

func validateEnvPort(value string) error {
	port, err := strconv.Atoi(value)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("port must be a number between 1 and 65535, got '%s'", value)
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return fmt.Errorf("must be a positive integer, got '%s'", value)
	}
	return nil
}

// validateEnvURL only checks that the value has a scheme and a host; the
// error never echoes the value since it may carry credentials.
func validateEnvURL(value string) error {
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must be an absolute URL with scheme and host")
	}
	return nil
}
