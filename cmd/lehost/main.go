// Command lehost scans for and connects to LE devices through a local
// controller.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	ble "github.com/rigado/lehost"
	"github.com/rigado/lehost/config"
	"github.com/rigado/lehost/linux"
	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "lehost"
	app.Usage = "LE discovery and connection host"
	app.Flags = []cli.Flag{
		cli.IntFlag{Name: "device", Value: -1, Usage: "hci index, -1 for the first device"},
		cli.StringFlag{Name: "h4-socket", Usage: "h4 socket server address"},
		cli.StringFlag{Name: "h4-uart", Usage: "h4 uart path"},
		cli.StringFlag{Name: "config", Usage: "config file (default " + config.DefaultConfigPath() + ")"},
		cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
		cli.StringFlag{Name: "bond-file", Usage: "file holding bonded peers"},
	}
	app.Commands = []cli.Command{
		scanCommand,
		connectCommand,
		bondsCommand,
		{
			Name:   "config",
			Usage:  "print the effective configuration",
			Action: printConfig,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, if any, and applies the global flags
// on top of it.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()

	path := c.GlobalString("config")
	if path == "" {
		if p := config.DefaultConfigPath(); p != "" {
			if _, err := os.Stat(p); err == nil {
				path = p
			}
		}
	}
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	applyFlags(c, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

func applyFlags(c *cli.Context, cfg *config.Config) {
	switch {
	case c.GlobalIsSet("h4-socket"):
		cfg.Transport = config.TransportConfig{H4Socket: c.GlobalString("h4-socket"), HCIDevice: -1}
	case c.GlobalIsSet("h4-uart"):
		cfg.Transport = config.TransportConfig{H4Uart: c.GlobalString("h4-uart"), HCIDevice: -1}
	case c.GlobalIsSet("device"):
		cfg.Transport = config.TransportConfig{HCIDevice: c.GlobalInt("device")}
	}
	if c.GlobalIsSet("log-level") {
		cfg.LogLevel = c.GlobalString("log-level")
	}
	if c.GlobalIsSet("bond-file") {
		cfg.BondFile = c.GlobalString("bond-file")
	}
}

func openDevice(cfg *config.Config) (*linux.Device, error) {
	if err := ble.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, err
	}
	d, err := linux.NewDevice(cfg.Options()...)
	if err != nil {
		return nil, errors.Wrap(err, "can't open device")
	}
	return d, nil
}

// signalContext is canceled on SIGINT or SIGTERM, or when the device
// stops.
func signalContext(d *linux.Device) (context.Context, context.CancelFunc) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-d.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func printConfig(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	b, err := cfg.Marshal()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(b)
	return err
}
