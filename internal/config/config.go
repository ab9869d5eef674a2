// Package config handles configuration loading and validation for spectverify.
package config

import (
	"os"
	"path/filepath"
	"runtime"

	"spectverify/internal/logging"
)

// Version is the current configuration schema version.
const Version = 1

// Transport kinds.
const (
	TransportSim    = "sim"
	TransportSerial = "serial"
	TransportFile   = "file"
)

// Config holds the complete harness configuration.
type Config struct {
	Version int `toml:"version" json:"version" yaml:"version"`

	// Transport selects and configures the link to the DUT.
	Transport TransportConfig `toml:"transport" json:"transport" yaml:"transport"`

	// DUT describes firmware behaviour the scenarios depend on.
	DUT DUTConfig `toml:"dut" json:"dut" yaml:"dut"`

	// Seed configures the run seed.
	Seed SeedConfig `toml:"seed" json:"seed" yaml:"seed"`

	// Results configures the run ledger.
	Results ResultsConfig `toml:"results" json:"results" yaml:"results"`

	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
}

// TransportConfig holds DUT link configuration.
type TransportConfig struct {
	// Kind is "sim", "serial" or "file".
	Kind   string       `toml:"kind" json:"kind" yaml:"kind"`
	Serial SerialConfig `toml:"serial" json:"serial" yaml:"serial"`
	File   FileConfig   `toml:"file" json:"file" yaml:"file"`
}

// SerialConfig configures a serial-attached board.
type SerialConfig struct {
	Port      string `toml:"port" json:"port" yaml:"port"`
	BaudRate  int    `toml:"baud_rate" json:"baud_rate" yaml:"baud_rate"`
	TimeoutMs int    `toml:"timeout_ms" json:"timeout_ms" yaml:"timeout_ms"`
}

// FileConfig configures the file exchange with an external simulator.
type FileConfig struct {
	// ExchangeDir is where command and result frames are exchanged.
	ExchangeDir string `toml:"exchange_dir" json:"exchange_dir" yaml:"exchange_dir"`

	// Command is run once per call with the command and result paths
	// appended. Empty means an already running simulator picks up the
	// command file.
	Command []string `toml:"command" json:"command" yaml:"command"`

	TimeoutMs int `toml:"timeout_ms" json:"timeout_ms" yaml:"timeout_ms"`

	// KeepArtifacts keeps the exchanged frames after each call.
	KeepArtifacts bool `toml:"keep_artifacts" json:"keep_artifacts" yaml:"keep_artifacts"`
}

// DUTConfig holds firmware behaviour switches.
type DUTConfig struct {
	// Rerandomize means set_context remasks the stored shares.
	Rerandomize bool `toml:"rerandomize" json:"rerandomize" yaml:"rerandomize"`

	// InSrcRandom and OutSrcRandom let each scenario pick its input and
	// output banks at random between the command and data RAM banks.
	InSrcRandom  bool `toml:"in_src_random" json:"in_src_random" yaml:"in_src_random"`
	OutSrcRandom bool `toml:"out_src_random" json:"out_src_random" yaml:"out_src_random"`

	// OpsTable is an alternative operation table. Empty uses the built-in one.
	OpsTable string `toml:"ops_table" json:"ops_table" yaml:"ops_table"`

	// BootConstants is a hex word file. Empty uses the Ed25519 table.
	BootConstants string `toml:"boot_constants" json:"boot_constants" yaml:"boot_constants"`
}

// SeedConfig configures where the run seed comes from.
type SeedConfig struct {
	// Source is "os" or "tpm".
	Source  string `toml:"source" json:"source" yaml:"source"`
	TPMPath string `toml:"tpm_path" json:"tpm_path" yaml:"tpm_path"`

	// Value is a fixed hex seed; it overrides Source.
	Value string `toml:"value" json:"value" yaml:"value"`
}

// ResultsConfig configures the SQLite run ledger.
type ResultsConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Path    string `toml:"path" json:"path" yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level       string `toml:"level" json:"level" yaml:"level"`
	Format      string `toml:"format" json:"format" yaml:"format"`
	Output      string `toml:"output" json:"output" yaml:"output"`
	FilePath    string `toml:"file_path" json:"file_path" yaml:"file_path"`
	ShowSecrets bool   `toml:"show_secrets" json:"show_secrets" yaml:"show_secrets"`

	// MaxSizeMB and MaxBackups bound the log file when output includes it.
	MaxSizeMB  int64 `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int   `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
}

// DefaultConfig returns a configuration that drives the in-process
// simulator.
func DefaultConfig() *Config {
	dir := Dir()
	return &Config{
		Version: Version,
		Transport: TransportConfig{
			Kind: TransportSim,
			Serial: SerialConfig{
				Port:      defaultSerialPort(),
				BaudRate:  115200,
				TimeoutMs: 5000,
			},
			File: FileConfig{
				ExchangeDir: filepath.Join(dir, "exchange"),
				TimeoutMs:   10000,
			},
		},
		DUT: DUTConfig{
			Rerandomize: true,
		},
		Seed: SeedConfig{
			Source: "os",
		},
		Results: ResultsConfig{
			Enabled: true,
			Path:    filepath.Join(dir, "results.db"),
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "text",
			Output:     "stderr",
			FilePath:   filepath.Join(dir, "spectverify.log"),
			MaxSizeMB:  50,
			MaxBackups: 5,
		},
	}
}

// Dir returns the spectverify data directory. SPECTVERIFY_DATA_DIR
// overrides it.
func Dir() string {
	if d := os.Getenv("SPECTVERIFY_DATA_DIR"); d != "" {
		return d
	}
	if d, err := os.UserConfigDir(); err == nil {
		return filepath.Join(d, "spectverify")
	}
	return filepath.Join(os.TempDir(), "spectverify")
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(Dir(), "config.toml")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Transport.File.Command = append([]string(nil), c.Transport.File.Command...)
	return &clone
}

func defaultSerialPort() string {
	switch runtime.GOOS {
	case "windows":
		return "COM3"
	case "darwin":
		return "/dev/cu.usbmodem1"
	default:
		return "/dev/ttyACM0"
	}
}

// LoggerConfig converts the logging section for logging.New.
func (l LoggingConfig) LoggerConfig() (*logging.Config, error) {
	cfg := logging.DefaultConfig()
	level, err := logging.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(l.Format)
	if err != nil {
		return nil, err
	}
	cfg.Level = level
	cfg.Format = format
	cfg.Output = l.Output
	cfg.ShowSecrets = l.ShowSecrets
	if l.FilePath != "" {
		cfg.FilePath = l.FilePath
	}
	cfg.MaxSize = l.MaxSizeMB
	cfg.MaxBackups = l.MaxBackups
	return cfg, nil
}
