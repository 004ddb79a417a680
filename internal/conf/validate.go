// conf/validate.go

package conf

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) error{
		func(s *Settings) error { return validateDatabaseSettings(&s.Database) },
		func(s *Settings) error { return validateWebServerSettings(&s.WebServer) },
		func(s *Settings) error { return validateAcquisitionSettings(&s.Acquisition) },
		func(s *Settings) error { return validateGraphSettings(&s.Processing.Graph) },
		func(s *Settings) error { return validatePipelineSettings(&s.Pipeline, &s.Ports) },
		func(s *Settings) error { return validateMQTTSettings(&s.MQTT) },
		func(s *Settings) error { return validateAlertSettings(&s.Alerts) },
	}
	for _, validate := range validators {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateDatabaseSettings(settings *DatabaseSettings) error {
	settings.Type = strings.ToLower(settings.Type)
	switch settings.Type {
	case "sqlite":
		if settings.SQLite.Path == "" {
			return errors.New("database.sqlite.path is required for the sqlite backend")
		}
	case "mysql":
		var missing []string
		if settings.MySQL.Host == "" {
			missing = append(missing, "host")
		}
		if settings.MySQL.Database == "" {
			missing = append(missing, "database")
		}
		if settings.MySQL.Username == "" {
			missing = append(missing, "username")
		}
		if len(missing) > 0 {
			return fmt.Errorf("database.mysql is missing: %s", strings.Join(missing, ", "))
		}
	default:
		return fmt.Errorf("database.type must be sqlite or mysql, got %q", settings.Type)
	}
	return nil
}

func validateWebServerSettings(settings *WebServerSettings) error {
	if _, _, err := net.SplitHostPort(settings.Listen); err != nil {
		return fmt.Errorf("webserver.listen must be host:port: %w", err)
	}
	if settings.RateLimit < 0 {
		return errors.New("webserver.ratelimit must not be negative")
	}
	if settings.RateLimit > 0 && settings.Burst < 1 {
		return errors.New("webserver.burst must be at least 1 when rate limiting is enabled")
	}
	return nil
}

func validateAcquisitionSettings(settings *AcquisitionSettings) error {
	u, err := url.Parse(settings.SearchURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("acquisition.searchurl must be an absolute URL")
	}
	if settings.DataDir == "" {
		return errors.New("acquisition.datadir is required")
	}
	if settings.MaxResults < 1 {
		return errors.New("acquisition.maxresults must be at least 1")
	}
	return nil
}

func validateGraphSettings(settings *GraphSettings) error {
	if settings.TargetWindowSize <= 0 || settings.GuardWindowSize <= 0 || settings.BackgroundWindowSize <= 0 {
		return errors.New("processing.graph window sizes must be positive")
	}
	if settings.GuardWindowSize >= settings.BackgroundWindowSize {
		return errors.New("processing.graph.guardwindowsize must be smaller than backgroundwindowsize")
	}
	if settings.MinTargetSize <= 0 || settings.MinTargetSize >= settings.MaxTargetSize {
		return errors.New("processing.graph.mintargetsize must be positive and below maxtargetsize")
	}
	if settings.PFA <= 0 {
		return errors.New("processing.graph.pfa must be positive")
	}
	return nil
}

func validatePipelineSettings(pipeline *PipelineSettings, ports *PortsSettings) error {
	if pipeline.MaxConcurrent < 1 {
		return errors.New("pipeline.maxconcurrent must be at least 1")
	}
	if pipeline.DefaultWindowDays < 0 {
		return errors.New("pipeline.defaultwindowdays must not be negative")
	}
	if ports.DefaultNumber < 1 {
		return errors.New("ports.defaultnumber must be at least 1")
	}
	return nil
}

func validateMQTTSettings(settings *MQTTSettings) error {
	if !settings.Enabled {
		return nil
	}
	u, err := url.Parse(settings.Broker)
	if err != nil || u.Host == "" {
		return errors.New("mqtt.broker must be a URL like tcp://host:1883")
	}
	switch u.Scheme {
	case "tcp", "ssl", "tls", "mqtt", "mqtts", "ws", "wss":
	default:
		return fmt.Errorf("mqtt.broker has unsupported scheme %q", u.Scheme)
	}
	if settings.Topic == "" {
		return errors.New("mqtt.topic is required when mqtt is enabled")
	}
	return nil
}

func validateAlertSettings(settings *AlertSettings) error {
	if settings.Enabled && len(settings.URLs) == 0 {
		return errors.New("alerts.urls must contain at least one URL when alerts are enabled")
	}
	return nil
}
