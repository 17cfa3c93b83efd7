package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	ble "github.com/rigado/lehost"
	"github.com/rigado/lehost/linux/hci"
	"github.com/rigado/lehost/linux/hci/cmd"
)

// recorder is a ble.DeviceOption remembering what was set.
type recorder struct {
	requestTimeout time.Duration
	cacheTimeout   time.Duration
	conn           *cmd.LECreateConnection
	scan           *cmd.LESetScanParameters
	bondFile       string
	transport      string
}

func (r *recorder) SetRequestTimeout(d time.Duration) error { r.requestTimeout = d; return nil }
func (r *recorder) SetCacheTimeout(d time.Duration) error   { r.cacheTimeout = d; return nil }
func (r *recorder) SetConnParams(p cmd.LECreateConnection) error {
	r.conn = &p
	return nil
}
func (r *recorder) SetScanParams(p cmd.LESetScanParameters) error {
	r.scan = &p
	return nil
}
func (r *recorder) SetErrorHandler(func(error)) error { return nil }
func (r *recorder) SetLogger(ble.Logger) error        { return nil }
func (r *recorder) SetBondFile(f string) error        { r.bondFile = f; return nil }
func (r *recorder) SetTransportHCISocket(id int) error {
	r.transport = "hci"
	return nil
}
func (r *recorder) SetTransportH4Socket(addr string, timeout time.Duration) error {
	r.transport = "h4socket " + addr
	return nil
}
func (r *recorder) SetTransportH4Uart(path string) error {
	r.transport = "h4uart " + path
	return nil
}

func apply(t *testing.T, cfg *Config) *recorder {
	r := &recorder{}
	for _, opt := range cfg.Options() {
		if err := opt(r); err != nil {
			t.Fatalf("expected nil error but got %s instead", err)
		}
	}
	return r
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if cfg.Transport.HCIDevice != -1 {
		t.Errorf("Transport.HCIDevice = %d, want -1", cfg.Transport.HCIDevice)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.ScanParams() != hci.DefaultScanParams() {
		t.Errorf("ScanParams = %+v, want %+v", cfg.ScanParams(), hci.DefaultScanParams())
	}
	if cfg.ConnParams() != hci.DefaultConnParams() {
		t.Errorf("ConnParams = %+v, want %+v", cfg.ConnParams(), hci.DefaultConnParams())
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
transport:
  h4_socket: 127.0.0.1:9000
  h4_socket_timeout: 2s
log_level: debug
request_timeout: 5s
scan:
  active: false
  interval: 0x100
  window: 0x80
connection:
  interval_min: 0x06
  interval_max: 0x0c
`
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if cfg.Transport.H4SocketTimeout != 2*time.Second {
		t.Errorf("Transport.H4SocketTimeout = %v, want 2s", cfg.Transport.H4SocketTimeout)
	}
	if cfg.RequestTimeout != 5*time.Second {
		t.Errorf("RequestTimeout = %v, want 5s", cfg.RequestTimeout)
	}
	// untouched fields keep their defaults
	if cfg.CacheTimeout != Default().CacheTimeout {
		t.Errorf("CacheTimeout = %v, want default", cfg.CacheTimeout)
	}
	sp := cfg.ScanParams()
	if sp.LEScanType != hci.LEScanTypePassive || sp.LEScanInterval != 0x100 || sp.LEScanWindow != 0x80 {
		t.Errorf("unexpected scan params %+v", sp)
	}
	cp := cfg.ConnParams()
	if cp.ConnIntervalMin != 0x06 || cp.ConnIntervalMax != 0x0c || cp.SupervisionTimeout != Default().Connection.SupervisionTimeout {
		t.Errorf("unexpected connection params %+v", cp)
	}

	r := apply(t, cfg)
	if r.transport != "h4socket 127.0.0.1:9000" {
		t.Errorf("transport = %q", r.transport)
	}
	if r.requestTimeout != 5*time.Second || r.scan == nil || *r.scan != sp || r.conn == nil || *r.conn != cp {
		t.Errorf("options not applied: %+v", r)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(cfgPath, []byte("scan: [1, 2"), 0644)
	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("expected an error for malformed yaml")
	}
}

func TestLoadExpandsBondFile(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(cfgPath, []byte("bond_file: ~/bonds.json\n"), 0644)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if strings.HasPrefix(cfg.BondFile, "~") {
		t.Errorf("BondFile = %q, want ~ expanded", cfg.BondFile)
	}
	if r := apply(t, cfg); r.bondFile != cfg.BondFile {
		t.Errorf("bond file option = %q, want %q", r.bondFile, cfg.BondFile)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"both h4 transports", func(c *Config) { c.Transport.H4Socket = "x:1"; c.Transport.H4Uart = "/dev/ttyS0" }},
		{"bad hci device", func(c *Config) { c.Transport.HCIDevice = -2 }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"zero request timeout", func(c *Config) { c.RequestTimeout = 0 }},
		{"zero cache timeout", func(c *Config) { c.CacheTimeout = 0 }},
		{"window above interval", func(c *Config) { c.Scan.Window = c.Scan.Interval + 1 }},
		{"interval min above max", func(c *Config) { c.Connection.IntervalMin = c.Connection.IntervalMax + 1 }},
		{"supervision timeout too small", func(c *Config) { c.Connection.SupervisionTimeout = 0x0a }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected a validation error")
			}
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Transport.H4Uart = "/dev/ttyACM0"

	b, err := cfg.Marshal()
	if err != nil {
		t.Fatalf("expected nil error but got %s instead", err)
	}
	if !strings.Contains(string(b), "request_timeout: 20s") {
		t.Errorf("expected durations rendered as strings, got:\n%s", b)
	}

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(cfgPath, b, 0644)
	loaded, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if *loaded != *cfg {
		t.Errorf("loaded %+v, want %+v", loaded, cfg)
	}
	if r := apply(t, loaded); r.transport != "h4uart /dev/ttyACM0" {
		t.Errorf("transport = %q", r.transport)
	}
}
