package linux

import (
	"time"

	"github.com/pkg/errors"
	ble "github.com/rigado/lehost"
	"github.com/rigado/lehost/cache"
	"github.com/rigado/lehost/linux/hci"
	"github.com/rigado/lehost/linux/hci/cmd"
	"github.com/rigado/lehost/linux/hci/controller"
)

// Option applies opts in order and stops at the first failure.
func (d *Device) Option(opts ...ble.Option) error {
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return err
		}
	}
	return nil
}

// SetRequestTimeout bounds each outgoing connection attempt.
func (d *Device) SetRequestTimeout(t time.Duration) error {
	if t <= 0 {
		return errors.Errorf("invalid request timeout %v", t)
	}
	d.requestTimeout = t
	return nil
}

func (d *Device) SetCacheTimeout(t time.Duration) error {
	if t <= 0 {
		return errors.Errorf("invalid cache timeout %v", t)
	}
	d.cacheTimeout = t
	return nil
}

// SetConnParams overrides default connection parameters.
func (d *Device) SetConnParams(param cmd.LECreateConnection) error {
	if err := hci.ValidateConnParams(param); err != nil {
		return errors.Wrap(err, "conn params")
	}
	d.connParams = param
	return nil
}

// SetScanParams overrides default scanning parameters.
func (d *Device) SetScanParams(param cmd.LESetScanParameters) error {
	if err := hci.ValidateScanParams(param); err != nil {
		return errors.Wrap(err, "scan params")
	}
	d.scanParams = param
	return nil
}

// SetErrorHandler sets the function told about controller failures. It
// runs on the dispatcher.
func (d *Device) SetErrorHandler(handler func(error)) error {
	d.errorHandler = handler
	return nil
}

func (d *Device) SetLogger(l ble.Logger) error {
	if l == nil {
		return errors.New("nil logger")
	}
	ble.SetLogger(l)
	d.log = ble.ComponentLogger("device")
	return nil
}

func (d *Device) SetBondFile(filename string) error {
	d.bonds = cache.New(filename)
	return nil
}

// SetTransportHCISocket sets HCI device for hci socket
func (d *Device) SetTransportHCISocket(id int) error {
	d.transport = controller.Transport{
		HCI: &controller.TransportHCI{ID: id},
	}
	return nil
}

// SetTransportH4Socket sets h4 socket server
func (d *Device) SetTransportH4Socket(addr string, timeout time.Duration) error {
	d.transport = controller.Transport{
		H4Socket: &controller.TransportH4Socket{Addr: addr, Timeout: timeout},
	}
	return nil
}

// SetTransportH4Uart sets h4 uart path
func (d *Device) SetTransportH4Uart(path string) error {
	d.transport = controller.Transport{
		H4Uart: &controller.TransportH4Uart{Path: path},
	}
	return nil
}
