package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/chaz8081/basestation/internal/ble"
	"github.com/chaz8081/basestation/internal/central"
)

// Config holds all application configuration.
type Config struct {
	Scan       ScanConfig       `yaml:"scan"`
	Target     TargetConfig     `yaml:"target"`
	Connection ConnectionConfig `yaml:"connection"`
	Security   SecurityConfig   `yaml:"security"`
	Poll       PollConfig       `yaml:"poll"`
	Bond       BondConfig       `yaml:"bond"`
	LogLevel   string           `yaml:"log_level"`
}

// ScanConfig holds scanning settings.
type ScanConfig struct {
	Mode   string `yaml:"mode"` // "none", "whitelist" or "fast"
	Active bool   `yaml:"active"`

	// Interval and Window are handed to the adapter; the tinygo backend
	// logs them and lets the host stack choose its own scan timing.
	Interval         time.Duration `yaml:"interval"`
	Window           time.Duration `yaml:"window"`
	WhitelistTimeout time.Duration `yaml:"whitelist_timeout"`
}

// TargetConfig identifies the peripheral service and characteristics.
type TargetConfig struct {
	BaseUUID  string `yaml:"base_uuid"`
	Service   Hex16  `yaml:"service"`
	ReadChar  Hex16  `yaml:"read_char"`
	WriteChar Hex16  `yaml:"write_char"`
	MaxPeers  int    `yaml:"max_peers"`
}

// ConnectionConfig holds the link parameters requested when connecting.
type ConnectionConfig struct {
	MinInterval        time.Duration `yaml:"min_interval"`
	MaxInterval        time.Duration `yaml:"max_interval"`
	SlaveLatency       uint16        `yaml:"slave_latency"` // not settable through the tinygo backend
	SupervisionTimeout time.Duration `yaml:"supervision_timeout"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
}

// SecurityConfig holds pairing parameters.
type SecurityConfig struct {
	Bond       bool   `yaml:"bond"`
	MITM       bool   `yaml:"mitm"`
	IOCaps     string `yaml:"io_caps"` // "none", "display" or "keyboard"
	MinKeySize int    `yaml:"min_key_size"`
	MaxKeySize int    `yaml:"max_key_size"`
}

// PollConfig holds polling settings.
type PollConfig struct {
	Period    time.Duration `yaml:"period"`
	Subscribe bool          `yaml:"subscribe"` // also enable notifications
}

// BondConfig holds bond storage settings.
type BondConfig struct {
	Path         string `yaml:"path"`
	Secret       string `yaml:"secret"` // hex; empty stores bonds unsealed
	EraseOnStart bool   `yaml:"erase_on_start"`
}

// Hex16 is a 16-bit UUID alias written as 0xNNNN.
type Hex16 uint16

func (h Hex16) MarshalYAML() (interface{}, error) {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: fmt.Sprintf("0x%04X", uint16(h))}, nil
}

func (h *Hex16) UnmarshalYAML(node *yaml.Node) error {
	v, err := strconv.ParseUint(node.Value, 0, 16)
	if err != nil {
		return fmt.Errorf("line %d: invalid 16-bit UUID %q", node.Line, node.Value)
	}
	*h = Hex16(v)
	return nil
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "basestation")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with the clock base station's values.
func Default() *Config {
	home, _ := os.UserHomeDir()
	bondPath := filepath.Join(home, ".local", "share", "basestation", "bonds.db")

	return &Config{
		Scan: ScanConfig{
			Mode:             "fast",
			Interval:         100 * time.Millisecond,
			Window:           50 * time.Millisecond,
			WhitelistTimeout: 30 * time.Second,
		},
		Target: TargetConfig{
			BaseUUID:  "00000000-1212-efde-1523-785fef13d123",
			Service:   0x152C,
			ReadChar:  0x3907,
			WriteChar: 0x3909,
			MaxPeers:  1,
		},
		Connection: ConnectionConfig{
			MinInterval:        7500 * time.Microsecond,
			MaxInterval:        30 * time.Millisecond,
			SupervisionTimeout: 4 * time.Second,
			ConnectTimeout:     4 * time.Second,
		},
		Security: SecurityConfig{
			Bond:       true,
			MITM:       true,
			IOCaps:     ble.IOCapsNone,
			MinKeySize: 7,
			MaxKeySize: 16,
		},
		Poll: PollConfig{
			Period: time.Second,
		},
		Bond: BondConfig{
			Path: bondPath,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in bond.path is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Bond.Path = expandTilde(cfg.Bond.Path)

	return cfg, nil
}

// WriteDefault writes the default config to DefaultConfigPath. If a file
// already exists there it is left untouched and ("", nil) is returned.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	body, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	header := "# basestation configuration\n# Durations use Go syntax (100ms, 4s). UUID aliases are 16-bit hex.\n\n"

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(header), body...), 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if _, err := central.ParseScanMode(c.Scan.Mode); err != nil {
		return fmt.Errorf("scan.mode must be \"none\", \"whitelist\" or \"fast\", got %q", c.Scan.Mode)
	}
	if c.Scan.Interval <= 0 || c.Scan.Window <= 0 {
		return fmt.Errorf("scan.interval and scan.window must be > 0")
	}
	if c.Scan.Window > c.Scan.Interval {
		return fmt.Errorf("scan.window (%v) must not exceed scan.interval (%v)", c.Scan.Window, c.Scan.Interval)
	}
	if c.Scan.WhitelistTimeout <= 0 {
		return fmt.Errorf("scan.whitelist_timeout must be > 0")
	}

	if _, err := uuid.Parse(c.Target.BaseUUID); err != nil {
		return fmt.Errorf("target.base_uuid: %w", err)
	}
	if c.Target.Service == 0 {
		return fmt.Errorf("target.service must not be zero")
	}
	if c.Target.ReadChar == c.Target.WriteChar {
		return fmt.Errorf("target.read_char and target.write_char must differ")
	}
	if c.Target.MaxPeers < 1 {
		return fmt.Errorf("target.max_peers must be >= 1, got %d", c.Target.MaxPeers)
	}

	conn := c.Connection
	if conn.MinInterval < 7500*time.Microsecond || conn.MaxInterval > 4*time.Second || conn.MinInterval > conn.MaxInterval {
		return fmt.Errorf("connection interval must satisfy 7.5ms <= min_interval <= max_interval <= 4s")
	}
	if conn.SupervisionTimeout < 100*time.Millisecond || conn.SupervisionTimeout > 32*time.Second {
		return fmt.Errorf("connection.supervision_timeout must be between 100ms and 32s, got %v", conn.SupervisionTimeout)
	}
	if conn.ConnectTimeout <= 0 {
		return fmt.Errorf("connection.connect_timeout must be > 0")
	}

	switch c.Security.IOCaps {
	case ble.IOCapsNone, ble.IOCapsDisplayOnly, ble.IOCapsKeyboardOnly:
	default:
		return fmt.Errorf("security.io_caps must be none, display, or keyboard, got %q", c.Security.IOCaps)
	}
	if c.Security.MinKeySize < 7 || c.Security.MaxKeySize > 16 || c.Security.MinKeySize > c.Security.MaxKeySize {
		return fmt.Errorf("security key sizes must satisfy 7 <= min_key_size <= max_key_size <= 16")
	}

	if c.Poll.Period <= 0 {
		return fmt.Errorf("poll.period must be > 0")
	}

	if c.Bond.Path == "" {
		return fmt.Errorf("bond.path must not be empty")
	}
	if _, err := c.BondSecret(); err != nil {
		return err
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// BondSecret decodes bond.secret. An empty secret returns nil.
func (c *Config) BondSecret() ([]byte, error) {
	if c.Bond.Secret == "" {
		return nil, nil
	}
	secret, err := hex.DecodeString(c.Bond.Secret)
	if err != nil {
		return nil, fmt.Errorf("bond.secret must be hex: %w", err)
	}
	if len(secret) < 16 {
		return nil, fmt.Errorf("bond.secret must be at least 16 bytes, got %d", len(secret))
	}
	return secret, nil
}

// CentralOptions converts the config into central options. The config must
// have passed Validate.
func (c *Config) CentralOptions() (central.Options, error) {
	mode, err := central.ParseScanMode(c.Scan.Mode)
	if err != nil {
		return central.Options{}, err
	}
	base, err := uuid.Parse(c.Target.BaseUUID)
	if err != nil {
		return central.Options{}, fmt.Errorf("target.base_uuid: %w", err)
	}
	return central.Options{
		Mode:             mode,
		Active:           c.Scan.Active,
		Interval:         c.Scan.Interval,
		Window:           c.Scan.Window,
		WhitelistTimeout: c.Scan.WhitelistTimeout,
		Conn: central.ConnParams{
			MinInterval:        c.Connection.MinInterval,
			MaxInterval:        c.Connection.MaxInterval,
			SlaveLatency:       c.Connection.SlaveLatency,
			SupervisionTimeout: c.Connection.SupervisionTimeout,
			ConnectTimeout:     c.Connection.ConnectTimeout,
		},
		BaseUUID:  base,
		Service:   uint16(c.Target.Service),
		ReadChar:  uint16(c.Target.ReadChar),
		WriteChar: uint16(c.Target.WriteChar),
		MaxPeers:  c.Target.MaxPeers,
		Subscribe: c.Poll.Subscribe,
	}, nil
}

// SecurityParams converts the security section for the BLE stack.
func (c *Config) SecurityParams() ble.SecurityParams {
	return ble.SecurityParams{
		Bond:       c.Security.Bond,
		MITM:       c.Security.MITM,
		IOCaps:     c.Security.IOCaps,
		MinKeySize: c.Security.MinKeySize,
		MaxKeySize: c.Security.MaxKeySize,
	}
}

// ParseLogLevel maps a log_level value to a slog level, defaulting to info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
