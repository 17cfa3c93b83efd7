package controller

import (
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/lehost/linux/hci/h4"
	"github.com/rigado/lehost/linux/hci/socket"
)

// Transport selects how the host reaches the controller. Exactly one of
// the fields should be set.
type Transport struct {
	HCI      *TransportHCI
	H4Socket *TransportH4Socket
	H4Uart   *TransportH4Uart
}

// TransportHCI is a Linux HCI user channel; ID -1 picks the first device.
type TransportHCI struct {
	ID int
}

type TransportH4Socket struct {
	Addr    string
	Timeout time.Duration
}

type TransportH4Uart struct {
	Path string
}

func (t Transport) String() string {
	switch {
	case t.HCI != nil:
		return "hci user channel"
	case t.H4Socket != nil:
		return "h4 over tcp " + t.H4Socket.Addr
	case t.H4Uart != nil:
		return "h4 uart " + t.H4Uart.Path
	}
	return "no transport"
}

// Open connects the transport.
func (t Transport) Open() (io.ReadWriteCloser, error) {
	switch {
	case t.HCI != nil:
		s, err := socket.NewSocket(t.HCI.ID)
		if err != nil {
			return nil, err
		}
		return s, nil

	case t.H4Socket != nil:
		return h4.NewSocket(t.H4Socket.Addr, t.H4Socket.Timeout)

	case t.H4Uart != nil:
		so := h4.DefaultSerialOptions()
		so.PortName = t.H4Uart.Path
		return h4.NewSerial(so)

	default:
		return nil, errors.New("no valid transport found")
	}
}
