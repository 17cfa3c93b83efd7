// Package config reads the YAML configuration of the host and turns it
// into device options.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	ble "github.com/rigado/lehost"
	"github.com/rigado/lehost/gap"
	"github.com/rigado/lehost/linux/hci"
	"github.com/rigado/lehost/linux/hci/cmd"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds all host configuration.
type Config struct {
	Transport      TransportConfig  `yaml:"transport"`
	LogLevel       string           `yaml:"log_level"`
	BondFile       string           `yaml:"bond_file,omitempty"`
	RequestTimeout time.Duration    `yaml:"request_timeout"`
	CacheTimeout   time.Duration    `yaml:"cache_timeout"`
	Scan           ScanConfig       `yaml:"scan"`
	Connection     ConnectionConfig `yaml:"connection"`
}

// TransportConfig selects the controller. H4 settings win over the HCI
// device when set.
type TransportConfig struct {
	HCIDevice       int           `yaml:"hci_device"` // -1 picks the first device
	H4Socket        string        `yaml:"h4_socket,omitempty"`
	H4SocketTimeout time.Duration `yaml:"h4_socket_timeout,omitempty"`
	H4Uart          string        `yaml:"h4_uart,omitempty"`
}

// ScanConfig holds discovery settings. Interval and window are in units
// of 0.625 ms.
type ScanConfig struct {
	Active       bool   `yaml:"active"`
	Interval     uint16 `yaml:"interval"`
	Window       uint16 `yaml:"window"`
	FilterPolicy uint8  `yaml:"filter_policy"`
}

// ConnectionConfig holds the parameters of outgoing connections. Scan
// values are in units of 0.625 ms, intervals in 1.25 ms and the
// supervision timeout in 10 ms.
type ConnectionConfig struct {
	ScanInterval       uint16 `yaml:"scan_interval"`
	ScanWindow         uint16 `yaml:"scan_window"`
	IntervalMin        uint16 `yaml:"interval_min"`
	IntervalMax        uint16 `yaml:"interval_max"`
	Latency            uint16 `yaml:"latency"`
	SupervisionTimeout uint16 `yaml:"supervision_timeout"`
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "lehost", "config.yaml")
}

// Default returns the configuration the host runs with when no file is
// given.
func Default() *Config {
	sp := hci.DefaultScanParams()
	cp := hci.DefaultConnParams()
	return &Config{
		Transport:      TransportConfig{HCIDevice: -1},
		LogLevel:       "info",
		RequestTimeout: gap.DefaultRequestTimeout,
		CacheTimeout:   gap.DefaultCacheTimeout,
		Scan: ScanConfig{
			Active:       sp.LEScanType == hci.LEScanTypeActive,
			Interval:     sp.LEScanInterval,
			Window:       sp.LEScanWindow,
			FilterPolicy: sp.ScanningFilterPolicy,
		},
		Connection: ConnectionConfig{
			ScanInterval:       cp.LEScanInterval,
			ScanWindow:         cp.LEScanWindow,
			IntervalMin:        cp.ConnIntervalMin,
			IntervalMax:        cp.ConnIntervalMax,
			Latency:            cp.ConnLatency,
			SupervisionTimeout: cp.SupervisionTimeout,
		},
	}
}

// Load reads and parses a YAML config file. Missing fields keep their
// defaults. A leading ~ in bond_file is expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parsing config file")
	}
	cfg.BondFile = expandTilde(cfg.BondFile)

	return cfg, nil
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Transport.H4Socket != "" && c.Transport.H4Uart != "" {
		return errors.New("transport: h4_socket and h4_uart are exclusive")
	}
	if c.Transport.HCIDevice < -1 {
		return errors.Errorf("transport.hci_device must be >= -1, got %d", c.Transport.HCIDevice)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return errors.Errorf("log_level %q is not a log level", c.LogLevel)
	}
	if c.RequestTimeout <= 0 {
		return errors.New("request_timeout must be > 0")
	}
	if c.CacheTimeout <= 0 {
		return errors.New("cache_timeout must be > 0")
	}
	if err := hci.ValidateScanParams(c.ScanParams()); err != nil {
		return errors.Wrap(err, "scan")
	}
	if err := hci.ValidateConnParams(c.ConnParams()); err != nil {
		return errors.Wrap(err, "connection")
	}
	return nil
}

func (c *Config) ScanParams() cmd.LESetScanParameters {
	p := hci.DefaultScanParams()
	p.LEScanType = hci.LEScanTypePassive
	if c.Scan.Active {
		p.LEScanType = hci.LEScanTypeActive
	}
	p.LEScanInterval = c.Scan.Interval
	p.LEScanWindow = c.Scan.Window
	p.ScanningFilterPolicy = c.Scan.FilterPolicy
	return p
}

func (c *Config) ConnParams() cmd.LECreateConnection {
	p := hci.DefaultConnParams()
	p.LEScanInterval = c.Connection.ScanInterval
	p.LEScanWindow = c.Connection.ScanWindow
	p.ConnIntervalMin = c.Connection.IntervalMin
	p.ConnIntervalMax = c.Connection.IntervalMax
	p.ConnLatency = c.Connection.Latency
	p.SupervisionTimeout = c.Connection.SupervisionTimeout
	return p
}

// Options converts the configuration into device options. It does not
// validate; call Validate first.
func (c *Config) Options() []ble.Option {
	opts := []ble.Option{
		ble.OptRequestTimeout(c.RequestTimeout),
		ble.OptCacheTimeout(c.CacheTimeout),
		ble.OptScanParams(c.ScanParams()),
		ble.OptConnParams(c.ConnParams()),
	}

	switch {
	case c.Transport.H4Socket != "":
		opts = append(opts, ble.OptTransportH4Socket(c.Transport.H4Socket, c.Transport.H4SocketTimeout))
	case c.Transport.H4Uart != "":
		opts = append(opts, ble.OptTransportH4Uart(c.Transport.H4Uart))
	default:
		opts = append(opts, ble.OptTransportHCISocket(c.Transport.HCIDevice))
	}

	if c.BondFile != "" {
		opts = append(opts, ble.OptBondFile(c.BondFile))
	}
	return opts
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
