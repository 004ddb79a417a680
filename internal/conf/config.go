// config.go: settings struct for shipwatch and the functions that load it.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/shipwatch/shipwatch/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// DatabaseSettings selects and configures the detection store backend.
type DatabaseSettings struct {
	Type               string        // "sqlite" or "mysql"
	SlowQueryThreshold time.Duration // queries slower than this are logged as warnings

	SQLite struct {
		Path string // path to sqlite database file
	}

	MySQL struct {
		Username string
		Password string
		Database string
		Host     string
		Port     string
	}
}

// WebServerSettings configures the HTTP API.
type WebServerSettings struct {
	Listen    string  // address to listen on, e.g. ":9967"
	RateLimit float64 // polygon submissions per second per client IP, 0 disables
	Burst     int     // burst allowance for RateLimit
}

// AcquisitionSettings configures the satellite product search and download.
type AcquisitionSettings struct {
	SearchURL       string        // ASF search API endpoint
	Username        string        // Earthdata login
	Password        string        // Earthdata password
	DataDir         string        // directory products are downloaded to
	Platform        string        // e.g. "Sentinel-1"
	ProcessingLevel string        // e.g. "GRD_HD"
	MaxResults      int           // result cap passed to the search API
	Timeout         time.Duration // search request timeout
}

// GraphSettings holds the SNAP ship-detection graph parameters.
type GraphSettings struct {
	ShorelineExtension   int     // Land-Sea-Mask shoreline extension in pixels
	TargetWindowSize     float64 // AdaptiveThresholding target window, meters
	GuardWindowSize      float64 // AdaptiveThresholding guard window, meters
	BackgroundWindowSize float64 // AdaptiveThresholding background window, meters
	PFA                  float64 // probability of false alarm, 10^-x
	MinTargetSize        float64 // Object-Discrimination minimum target, meters
	MaxTargetSize        float64 // Object-Discrimination maximum target, meters
}

// ProcessingSettings configures the external SNAP gpt runner.
type ProcessingSettings struct {
	GPTPath string        // path to the gpt executable
	Timeout time.Duration // 0 means no limit
	Graph   GraphSettings
}

// PipelineSettings configures the ingestion coordinator.
type PipelineSettings struct {
	MaxConcurrent     int // concurrent pipeline runs
	DefaultWindowDays int // search window when a request omits dates
}

// PortsSettings configures the port reference data.
type PortsSettings struct {
	SeedFile      string // GeoJSON file imported on first start
	DefaultNumber int    // default number of ports returned by the API
}

// MQTTSettings configures publication of ingestion events.
type MQTTSettings struct {
	Enabled  bool   // true to enable MQTT
	Broker   string // MQTT (tcp://host:port)
	Topic    string // MQTT topic
	ClientID string // MQTT client id
	Username string // MQTT username
	Password string // MQTT password
	Retain   bool   // retain published messages
}

// AlertSettings configures operator alerts for failed runs.
type AlertSettings struct {
	Enabled bool
	URLs    []string // shoutrrr service URLs
}

// TelemetrySettings contains settings for metrics and error reporting.
type TelemetrySettings struct {
	Enabled bool // true to expose /metrics
	Sentry  struct {
		Enabled     bool
		DSN         string
		Environment string
	}
}

// CacheSettings configures the API query cache.
type CacheSettings struct {
	TTL time.Duration
}

// Settings contains all configuration options for shipwatch.
type Settings struct {
	Debug bool // true to enable debug mode

	// Runtime values, not stored in config file
	Version   string `yaml:"-" mapstructure:"-"`
	BuildDate string `yaml:"-" mapstructure:"-"`

	Main struct {
		Name string // instance name, included in events and alerts
	}

	Logging     logger.LoggingConfig
	Database    DatabaseSettings
	WebServer   WebServerSettings
	Acquisition AcquisitionSettings
	Processing  ProcessingSettings
	Pipeline    PipelineSettings
	Ports       PortsSettings
	Cache       CacheSettings
	MQTT        MQTTSettings
	Alerts      AlertSettings
	Telemetry   TelemetrySettings
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file (explicit path, or the first config.yaml
// found in the default search paths), applies defaults and environment
// overrides, and validates the result. A missing config file is not an error.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper registers defaults and env bindings and reads the config file.
func initViper(configFile string) error {
	setDefaultConfig()

	if err := bindEnvVars(); err != nil {
		return err
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
		return nil
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	for _, path := range GetDefaultConfigPaths() {
		viper.AddConfigPath(path)
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return nil
}

// GetDefaultConfigPaths returns the directories searched for config.yaml,
// most specific first.
func GetDefaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "shipwatch"))
	}
	return append(paths, "/etc/shipwatch")
}

// ConfigFileUsed returns the path of the config file that was read, or "".
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}

// DefaultConfig returns the annotated default config.yaml shipped with the binary.
func DefaultConfig() ([]byte, error) {
	return fs.ReadFile(configFiles, "config.yaml")
}

// WriteDefaultConfig writes the default config.yaml to path unless a file already exists there.
func WriteDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	data, err := DefaultConfig()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Redacted returns a copy of the settings with credentials masked, for display.
func (s *Settings) Redacted() Settings {
	c := *s
	mask := func(v *string) {
		if *v != "" {
			*v = "********"
		}
	}
	mask(&c.Database.MySQL.Password)
	mask(&c.Acquisition.Password)
	mask(&c.MQTT.Password)
	mask(&c.Telemetry.Sentry.DSN)
	c.Alerts.URLs = make([]string, len(s.Alerts.URLs))
	for i := range c.Alerts.URLs {
		c.Alerts.URLs[i] = "********"
	}
	return c
}
