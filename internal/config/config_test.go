package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/basestation/internal/central"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Scan.Mode != "fast" {
		t.Errorf("Scan.Mode = %q, want %q", cfg.Scan.Mode, "fast")
	}
	if cfg.Scan.Interval != 100*time.Millisecond || cfg.Scan.Window != 50*time.Millisecond {
		t.Errorf("Scan interval/window = %v/%v, want 100ms/50ms", cfg.Scan.Interval, cfg.Scan.Window)
	}
	if cfg.Scan.WhitelistTimeout != 30*time.Second {
		t.Errorf("Scan.WhitelistTimeout = %v, want 30s", cfg.Scan.WhitelistTimeout)
	}
	if cfg.Target.Service != 0x152C || cfg.Target.ReadChar != 0x3907 || cfg.Target.WriteChar != 0x3909 {
		t.Errorf("Target = %+v", cfg.Target)
	}
	if cfg.Target.MaxPeers != 1 {
		t.Errorf("Target.MaxPeers = %d, want 1", cfg.Target.MaxPeers)
	}
	if cfg.Poll.Period != time.Second {
		t.Errorf("Poll.Period = %v, want 1s", cfg.Poll.Period)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
scan:
  mode: whitelist
  active: true
  interval: 200ms
  window: 100ms
  whitelist_timeout: 10s
target:
  service: 0x180D
  read_char: 0x2A37
  write_char: 0x2A39
  max_peers: 2
connection:
  min_interval: 15ms
  max_interval: 45ms
  slave_latency: 2
poll:
  period: 500ms
  subscribe: true
bond:
  path: /tmp/bonds.db
  secret: "00112233445566778899aabbccddeeff"
log_level: debug
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Scan.Mode != "whitelist" || !cfg.Scan.Active {
		t.Errorf("Scan = %+v", cfg.Scan)
	}
	if cfg.Scan.Interval != 200*time.Millisecond || cfg.Scan.WhitelistTimeout != 10*time.Second {
		t.Errorf("Scan durations = %v, %v", cfg.Scan.Interval, cfg.Scan.WhitelistTimeout)
	}
	if cfg.Target.Service != 0x180D || cfg.Target.ReadChar != 0x2A37 || cfg.Target.WriteChar != 0x2A39 {
		t.Errorf("Target = %+v", cfg.Target)
	}
	if cfg.Target.BaseUUID != Default().Target.BaseUUID {
		t.Errorf("Target.BaseUUID = %q, want the default", cfg.Target.BaseUUID)
	}
	if cfg.Connection.MinInterval != 15*time.Millisecond || cfg.Connection.SlaveLatency != 2 {
		t.Errorf("Connection = %+v", cfg.Connection)
	}
	// Fields not in the file keep their defaults.
	if cfg.Connection.SupervisionTimeout != 4*time.Second {
		t.Errorf("Connection.SupervisionTimeout = %v, want 4s", cfg.Connection.SupervisionTimeout)
	}
	if cfg.Poll.Period != 500*time.Millisecond || !cfg.Poll.Subscribe {
		t.Errorf("Poll = %+v", cfg.Poll)
	}
	if cfg.Bond.Path != "/tmp/bonds.db" {
		t.Errorf("Bond.Path = %q", cfg.Bond.Path)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadInvalidUUIDAlias(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("target:\n  service: 0x1FFFF\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() should reject a service alias wider than 16 bits")
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home directory")
	}

	yamlContent := `
bond:
  path: ~/state/bonds.db
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	expected := filepath.Join(home, "state/bonds.db")
	if cfg.Bond.Path != expected {
		t.Errorf("Bond.Path = %q, want %q", cfg.Bond.Path, expected)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid default config", func(c *Config) {}, false},
		{"whitelist mode", func(c *Config) { c.Scan.Mode = "whitelist" }, false},
		{"invalid scan mode", func(c *Config) { c.Scan.Mode = "slow" }, true},
		{"window exceeds interval", func(c *Config) { c.Scan.Window = 200 * time.Millisecond }, true},
		{"zero whitelist timeout", func(c *Config) { c.Scan.WhitelistTimeout = 0 }, true},
		{"bad base uuid", func(c *Config) { c.Target.BaseUUID = "not-a-uuid" }, true},
		{"zero service", func(c *Config) { c.Target.Service = 0 }, true},
		{"same read and write char", func(c *Config) { c.Target.WriteChar = c.Target.ReadChar }, true},
		{"zero max peers", func(c *Config) { c.Target.MaxPeers = 0 }, true},
		{"interval below 7.5ms", func(c *Config) { c.Connection.MinInterval = 5 * time.Millisecond }, true},
		{"min above max interval", func(c *Config) { c.Connection.MinInterval = time.Second }, true},
		{"supervision timeout too long", func(c *Config) { c.Connection.SupervisionTimeout = time.Minute }, true},
		{"zero connect timeout", func(c *Config) { c.Connection.ConnectTimeout = 0 }, true},
		{"invalid io caps", func(c *Config) { c.Security.IOCaps = "keyboard-display" }, true},
		{"key size below 7", func(c *Config) { c.Security.MinKeySize = 6 }, true},
		{"key size above 16", func(c *Config) { c.Security.MaxKeySize = 17 }, true},
		{"zero poll period", func(c *Config) { c.Poll.Period = 0 }, true},
		{"empty bond path", func(c *Config) { c.Bond.Path = "" }, true},
		{"bond secret not hex", func(c *Config) { c.Bond.Secret = strings.Repeat("zz", 16) }, true},
		{"bond secret too short", func(c *Config) { c.Bond.Secret = "0011" }, true},
		{"valid bond secret", func(c *Config) { c.Bond.Secret = strings.Repeat("ab", 32) }, false},
		{"invalid log level", func(c *Config) { c.LogLevel = "invalid" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCentralOptions(t *testing.T) {
	cfg := Default()
	cfg.Scan.Mode = "whitelist"
	cfg.Poll.Subscribe = true

	opts, err := cfg.CentralOptions()
	if err != nil {
		t.Fatalf("CentralOptions() error = %v", err)
	}
	want := central.DefaultOptions()
	if opts.Mode != central.WhitelistScan {
		t.Errorf("Mode = %v, want whitelist", opts.Mode)
	}
	if opts.BaseUUID != want.BaseUUID {
		t.Errorf("BaseUUID = %s, want %s", opts.BaseUUID, want.BaseUUID)
	}
	if opts.Service != want.Service || opts.ReadChar != want.ReadChar || opts.WriteChar != want.WriteChar {
		t.Errorf("target = %04x/%04x/%04x", opts.Service, opts.ReadChar, opts.WriteChar)
	}
	if opts.Conn != want.Conn {
		t.Errorf("Conn = %+v, want %+v", opts.Conn, want.Conn)
	}
	if !opts.Subscribe {
		t.Error("Subscribe = false, want true")
	}
}

func TestSecurityParams(t *testing.T) {
	p := Default().SecurityParams()
	if !p.Bond || !p.MITM || p.MinKeySize != 7 || p.MaxKeySize != 16 {
		t.Errorf("SecurityParams() = %+v", p)
	}
	if p.Authenticated() {
		t.Error("no IO capabilities should not give authenticated pairing")
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "basestation", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}
	content := string(data)

	if !strings.HasPrefix(content, "# basestation") {
		t.Error("written config should start with header comment")
	}
	if !strings.Contains(content, "service: 0x152C") {
		t.Errorf("written config should carry hex UUID aliases:\n%s", content)
	}

	// The written file must load back to the defaults.
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() of written config error = %v", err)
	}
	if cfg.Target.Service != 0x152C {
		t.Errorf("written config Target.Service = %#x, want 0x152C", cfg.Target.Service)
	}
	if cfg.Connection.MinInterval != 7500*time.Microsecond {
		t.Errorf("written config Connection.MinInterval = %v, want 7.5ms", cfg.Connection.MinInterval)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("written config does not validate: %v", err)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "basestation")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("log_level: debug\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	// WriteDefault should return ("", nil) without overwriting
	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}

func TestHex16UnmarshalForms(t *testing.T) {
	tests := []struct {
		input string
		want  Hex16
	}{
		{"v: 0x152C", 0x152C},
		{"v: 0x152c", 0x152C},
		{"v: 5420", 0x152C},
		{"v: 0xFFFF", 0xFFFF},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var out struct {
				V Hex16 `yaml:"v"`
			}
			if err := yaml.Unmarshal([]byte(tt.input), &out); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if out.V != tt.want {
				t.Errorf("got %#x, want %#x", out.V, tt.want)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
