package ble

import (
	"time"

	"github.com/rigado/lehost/linux/hci/cmd"
)

// DeviceOption is an interface which the device should implement to allow using configuration options
type DeviceOption interface {
	SetRequestTimeout(time.Duration) error
	SetCacheTimeout(time.Duration) error
	SetConnParams(cmd.LECreateConnection) error
	SetScanParams(cmd.LESetScanParameters) error
	SetErrorHandler(handler func(error)) error
	SetLogger(Logger) error
	SetBondFile(filename string) error

	SetTransportHCISocket(id int) error
	SetTransportH4Socket(addr string, timeout time.Duration) error
	SetTransportH4Uart(path string) error
}

// An Option is a configuration function, which configures the device.
type Option func(DeviceOption) error

// OptRequestTimeout sets how long an outgoing LE connection attempt may
// take before it is canceled.
func OptRequestTimeout(d time.Duration) Option {
	return func(opt DeviceOption) error {
		return opt.SetRequestTimeout(d)
	}
}

// OptCacheTimeout sets how long an idle temporary peer stays in the cache.
func OptCacheTimeout(d time.Duration) Option {
	return func(opt DeviceOption) error {
		return opt.SetCacheTimeout(d)
	}
}

// OptConnParams overrides default connection parameters.
func OptConnParams(param cmd.LECreateConnection) Option {
	return func(opt DeviceOption) error {
		return opt.SetConnParams(param)
	}
}

// OptScanParams overrides default scanning parameters.
func OptScanParams(param cmd.LESetScanParameters) Option {
	return func(opt DeviceOption) error {
		return opt.SetScanParams(param)
	}
}

// OptErrorHandler sets error handler
func OptErrorHandler(handler func(error)) Option {
	return func(opt DeviceOption) error {
		return opt.SetErrorHandler(handler)
	}
}

// OptLogger replaces the logger used by the device and its components.
func OptLogger(l Logger) Option {
	return func(opt DeviceOption) error {
		return opt.SetLogger(l)
	}
}

// OptBondFile loads bonded peers from filename at startup.
func OptBondFile(filename string) Option {
	return func(opt DeviceOption) error {
		return opt.SetBondFile(filename)
	}
}

// OptTransportHCISocket set hci socket transport
func OptTransportHCISocket(id int) Option {
	return func(opt DeviceOption) error {
		return opt.SetTransportHCISocket(id)
	}
}

// OptTransportH4Socket set h4 socket transport
func OptTransportH4Socket(addr string, timeout time.Duration) Option {
	return func(opt DeviceOption) error {
		return opt.SetTransportH4Socket(addr, timeout)
	}
}

// OptTransportH4Uart set h4 uart transport
func OptTransportH4Uart(path string) Option {
	return func(opt DeviceOption) error {
		return opt.SetTransportH4Uart(path)
	}
}
