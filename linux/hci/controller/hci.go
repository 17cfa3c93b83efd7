// Package controller implements hci.CommandChannel over a byte transport
// such as the HCI user channel socket or an H4 UART. Packets read from the
// transport are handed to the dispatcher; everything else runs on it.
package controller

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	ble "github.com/rigado/lehost"
	"github.com/rigado/lehost/dispatch"
	"github.com/rigado/lehost/linux/hci"
	"github.com/rigado/lehost/linux/hci/cmd"
	"github.com/rigado/lehost/linux/hci/evt"
)

const (
	// DefaultCommandTimeout bounds the wait for Command Complete or Command
	// Status. A controller that misses it is considered broken.
	DefaultCommandTimeout = 10 * time.Second

	// LE events the host handles: connection complete, advertising report,
	// connection update complete, directed advertising report.
	leEventMask = 0x000000000000040F

	eventMask = 0x3dbff807fffbffff
)

// HCI talks to one controller over skt.
type HCI struct {
	d   dispatch.Dispatcher
	skt io.ReadWriteCloser
	log ble.Logger

	// Host to Controller command flow control [Vol 2, Part E, 4.4]
	cmdTimeout time.Duration
	credits    int
	queue      []*pendingCommand
	sent       map[int]*pendingCommand

	nextHandlerID hci.HandlerID
	handlers      []*eventHandler

	// Packet-based data flow control for LE-U [Vol 2, Part E, 4.1.1]
	aclHandler func([]byte)
	aclSize    int
	aclMax     int
	aclCredits int
	aclQueue   []aclPacket
	inFlight   map[uint16]int

	addr ble.Addr

	errorHandler func(error)
	err          error
	closed       bool

	done      chan struct{}
	closeOnce sync.Once
}

// New returns an HCI using skt. Nothing is read until Start.
func New(d dispatch.Dispatcher, skt io.ReadWriteCloser) *HCI {
	return &HCI{
		d:          d,
		skt:        skt,
		log:        ble.ComponentLogger("hci"),
		cmdTimeout: DefaultCommandTimeout,
		credits:    1,
		sent:       make(map[int]*pendingCommand),
		inFlight:   make(map[uint16]int),
		done:       make(chan struct{}),
	}
}

func (h *HCI) SetCommandTimeout(d time.Duration) {
	h.cmdTimeout = d
}

// SetErrorHandler sets the function told about transport failures and
// unresponsive controllers. It runs on the dispatcher.
func (h *HCI) SetErrorHandler(fn func(error)) {
	h.errorHandler = fn
}

// SetACLHandler sets the consumer of incoming ACL data packets. Packets are
// passed without their HCI packet type octet.
func (h *HCI) SetACLHandler(fn func([]byte)) {
	h.aclHandler = fn
}

// Start launches the reader goroutine. It is safe to call from any
// goroutine.
func (h *HCI) Start() {
	go h.readLoop()
}

// Init resets the controller and reads what the host needs to know about
// it. cb runs on the dispatcher.
func (h *HCI) Init(cb func(error)) {
	r := hci.NewSequentialCommandRunner(h)
	r.QueueCommand(&cmd.Reset{}, nil)
	r.QueueCommand(&cmd.ReadBDADDR{}, func(err error, params []byte) {
		if err != nil {
			return
		}
		var rp cmd.ReadBDADDRRP
		if err := rp.Unmarshal(params); err != nil {
			h.log.Warnf("read bd_addr: %v", err)
			return
		}
		h.addr = ble.AddrFromLittleEndian(ble.AddrLEPublic, rp.BDADDR)
	})
	r.QueueCommand(&cmd.LEReadBufferSize{}, func(err error, params []byte) {
		if err != nil {
			return
		}
		var rp cmd.LEReadBufferSizeRP
		if err := rp.Unmarshal(params); err != nil {
			h.log.Warnf("le read buffer size: %v", err)
			return
		}
		h.setBufferSize(int(rp.HCLEDataPacketLength), int(rp.HCTotalNumLEDataPackets))
	})
	r.QueueCommand(&cmd.SetEventMask{EventMask: eventMask}, nil)
	r.QueueCommand(&cmd.LESetEventMask{LEEventMask: leEventMask}, nil)

	r.RunCommands(func(err error) {
		if err != nil {
			cb(errors.Wrap(err, "controller init"))
			return
		}
		if h.aclMax != 0 {
			h.log.Infof("controller %v ready, %d LE buffers of %d bytes", h.addr, h.aclMax, h.aclSize)
			cb(nil)
			return
		}

		// No dedicated LE buffers: they are shared with ACL-U.
		h.SendCommand(&cmd.ReadBufferSize{}, func(err error, params []byte) {
			if err != nil {
				cb(errors.Wrap(err, "controller init"))
				return
			}
			var rp cmd.ReadBufferSizeRP
			if err := rp.Unmarshal(params); err != nil {
				cb(errors.Wrap(err, "read buffer size"))
				return
			}
			h.setBufferSize(int(rp.HCACLDataPacketLength), int(rp.HCTotalNumACLDataPackets))
			h.log.Infof("controller %v ready, %d shared buffers of %d bytes", h.addr, h.aclMax, h.aclSize)
			cb(nil)
		})
	})
}

// Addr is the public address read during Init.
func (h *HCI) Addr() ble.Addr {
	return h.addr
}

// Err returns the error that stopped the channel, if any.
func (h *HCI) Err() error {
	return h.err
}

// Close stops the channel and closes the transport. Commands still
// waiting fail with ble.ErrCanceled. It must be called on the dispatcher.
func (h *HCI) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	h.closeOnce.Do(func() { close(h.done) })
	err := h.skt.Close()
	h.failCommands(ble.ErrCanceled)
	h.aclQueue = nil
	return err
}

// fail shuts the channel down after an unrecoverable transport or
// controller error.
func (h *HCI) fail(err error) {
	if h.closed {
		return
	}
	h.log.Errorf("%v", err)
	h.err = err
	h.closed = true
	h.closeOnce.Do(func() { close(h.done) })
	h.skt.Close()
	h.failCommands(ble.ErrNotReady)
	h.aclQueue = nil
	h.dispatchError(err)
}

func (h *HCI) dispatchError(err error) {
	if h.errorHandler != nil {
		h.errorHandler(err)
	}
}

func (h *HCI) readLoop() {
	b := make([]byte, 4096)
	for {
		n, err := h.skt.Read(b)

		switch {
		case n == 0 && err == nil:
			// read timeout
			select {
			case <-h.done:
				return
			default:
				continue
			}

		case err != nil:
			select {
			case <-h.done:
				return
			default:
			}
			if err != io.EOF {
				err = errors.Wrap(err, "transport read")
			}
			h.d.Post(func() { h.fail(err) })
			return

		default:
			p := make([]byte, n)
			copy(p, b)
			h.d.Post(func() {
				if h.closed {
					return
				}
				if err := h.handlePkt(p); err != nil {
					h.fail(err)
				}
			})
		}
	}
}

type eventHandler struct {
	id      hci.HandlerID
	code    int
	subcode int
	removed bool
	fn      hci.EventHandler
}

func (h *HCI) AddEventHandler(code int, fn hci.EventHandler) hci.HandlerID {
	return h.addHandler(&eventHandler{code: code, subcode: -1, fn: fn})
}

func (h *HCI) AddLEMetaEventHandler(subcode int, fn hci.EventHandler) hci.HandlerID {
	return h.addHandler(&eventHandler{code: evt.LEMetaEventCode, subcode: subcode, fn: fn})
}

func (h *HCI) addHandler(eh *eventHandler) hci.HandlerID {
	h.nextHandlerID++
	eh.id = h.nextHandlerID
	h.handlers = append(h.handlers, eh)
	return eh.id
}

func (h *HCI) RemoveEventHandler(id hci.HandlerID) {
	for i, eh := range h.handlers {
		if eh.id == id {
			eh.removed = true
			h.handlers = append(h.handlers[:i:i], h.handlers[i+1:]...)
			return
		}
	}
}

// notify runs the handlers registered for an event in registration order.
// Handlers added while notifying see the next event only.
func (h *HCI) notify(code, subcode int, params []byte) bool {
	handled := false
	for _, eh := range append([]*eventHandler(nil), h.handlers...) {
		if eh.removed || eh.code != code || eh.subcode != subcode {
			continue
		}
		handled = true
		eh.fn(params)
	}
	return handled
}
