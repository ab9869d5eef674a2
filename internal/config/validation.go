package config

import (
	"fmt"
	"strings"

	"spectverify/internal/logging"
	"spectverify/internal/seed"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
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
	return strings.Join(msgs, "; ")
}

// ValidateConfig checks every section and reports all problems at once.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateTransport(&c.Transport)...)
	errs = append(errs, validateSeed(&c.Seed)...)
	errs = append(errs, validateResults(&c.Results)...)
	errs = append(errs, validateLogging(&c.Logging)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateTransport(t *TransportConfig) ValidationErrors {
	var errs ValidationErrors

	switch t.Kind {
	case TransportSim:
	case TransportSerial:
		if t.Serial.Port == "" {
			errs = append(errs, ValidationError{Field: "transport.serial.port", Message: "port is required"})
		}
		if t.Serial.BaudRate <= 0 {
			errs = append(errs, ValidationError{Field: "transport.serial.baud_rate", Message: "must be positive"})
		}
		if t.Serial.TimeoutMs < 100 {
			errs = append(errs, ValidationError{Field: "transport.serial.timeout_ms", Message: "must be at least 100ms"})
		}
	case TransportFile:
		if t.File.ExchangeDir == "" {
			errs = append(errs, ValidationError{Field: "transport.file.exchange_dir", Message: "directory is required"})
		}
		if t.File.TimeoutMs < 100 {
			errs = append(errs, ValidationError{Field: "transport.file.timeout_ms", Message: "must be at least 100ms"})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "transport.kind",
			Message: fmt.Sprintf("unknown transport %q (want sim, serial or file)", t.Kind),
		})
	}
	return errs
}

func validateSeed(s *SeedConfig) ValidationErrors {
	var errs ValidationErrors
	if s.Value != "" {
		if _, err := seed.ParseHex(s.Value); err != nil {
			errs = append(errs, ValidationError{Field: "seed.value", Message: err.Error()})
		}
		return errs
	}
	switch s.Source {
	case "", "os", "tpm":
	default:
		errs = append(errs, ValidationError{
			Field:   "seed.source",
			Message: fmt.Sprintf("unknown source %q (want os or tpm)", s.Source),
		})
	}
	return errs
}

func validateResults(r *ResultsConfig) ValidationErrors {
	if r.Enabled && r.Path == "" {
		return ValidationErrors{{Field: "results.path", Message: "path is required when results are enabled"}}
	}
	return nil
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors
	if _, err := logging.ParseLevel(l.Level); err != nil {
		errs = append(errs, ValidationError{Field: "logging.level", Message: err.Error()})
	}
	if _, err := logging.ParseFormat(l.Format); err != nil {
		errs = append(errs, ValidationError{Field: "logging.format", Message: err.Error()})
	}
	switch l.Output {
	case "stderr", "stdout", "both":
	case "file":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{Field: "logging.file_path", Message: "path is required for file output"})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("unknown output %q", l.Output),
		})
	}
	if l.MaxSizeMB < 0 {
		errs = append(errs, ValidationError{Field: "logging.max_size_mb", Message: "must not be negative"})
	}
	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{Field: "logging.max_backups", Message: "must not be negative"})
	}
	return errs
}
