package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from path. A missing file yields the defaults.
// TOML, JSON and YAML are selected by extension; anything else is tried
// as TOML. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

func loadConfigFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	switch filepath.Ext(path) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	}
	return cfg, nil
}

// ApplyEnvOverrides applies SPECTVERIFY_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	str := func(name string, dst *string) {
		if v := os.Getenv("SPECTVERIFY_" + name); v != "" {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if v := os.Getenv("SPECTVERIFY_" + name); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	integer := func(name string, dst *int) {
		if v := os.Getenv("SPECTVERIFY_" + name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	str("TRANSPORT", &c.Transport.Kind)
	str("SERIAL_PORT", &c.Transport.Serial.Port)
	integer("SERIAL_BAUD_RATE", &c.Transport.Serial.BaudRate)
	str("EXCHANGE_DIR", &c.Transport.File.ExchangeDir)
	if v := os.Getenv("SPECTVERIFY_SIM_COMMAND"); v != "" {
		c.Transport.File.Command = strings.Fields(v)
	}

	boolean("RERANDOMIZE", &c.DUT.Rerandomize)
	str("OPS_TABLE", &c.DUT.OpsTable)

	str("SEED_SOURCE", &c.Seed.Source)
	str("SEED", &c.Seed.Value)
	str("TPM_PATH", &c.Seed.TPMPath)

	boolean("RESULTS", &c.Results.Enabled)
	str("RESULTS_PATH", &c.Results.Path)

	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_PATH", &c.Logging.FilePath)
}

// SaveConfig writes cfg to path in the format its extension selects.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := Encode(cfg, filepath.Ext(path))
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Encode renders cfg as ".json", ".yaml"/".yml" or TOML.
func Encode(cfg *Config, ext string) ([]byte, error) {
	switch ext {
	case ".json":
		return json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		return yaml.Marshal(cfg)
	default:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, fmt.Errorf("encode TOML: %w", err)
		}
		return buf.Bytes(), nil
	}
}
