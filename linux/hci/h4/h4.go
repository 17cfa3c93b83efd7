// Package h4 implements the HCI UART transport [Vol 4, Part A] over a
// serial port or a TCP connection to one.
package h4

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/jacobsa/go-serial/serial"
	"github.com/pkg/errors"
	ble "github.com/rigado/lehost"
)

const (
	rxQueueSize = 64
	readTimeout = time.Second
)

// SerialOptions selects the UART a controller is attached to.
type SerialOptions struct {
	PortName     string
	BaudRate     uint
	FlowControl  bool
	ReadChunkLen int
}

// DefaultSerialOptions are 1Mbaud 8N1 with hardware flow control.
func DefaultSerialOptions() SerialOptions {
	return SerialOptions{
		BaudRate:     1000000,
		FlowControl:  true,
		ReadChunkLen: 512,
	}
}

type h4 struct {
	rw  io.ReadWriteCloser
	log ble.Logger

	wmu sync.Mutex

	rxQueue chan []byte
	frame   *frame

	done chan struct{}
	cmu  sync.Mutex
}

// NewSerial opens the serial port described by so.
func NewSerial(so SerialOptions) (io.ReadWriteCloser, error) {
	sp, err := serial.Open(serial.OpenOptions{
		PortName:              so.PortName,
		BaudRate:              so.BaudRate,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       0,
		InterCharacterTimeout: 100,
		RTSCTSFlowControl:     so.FlowControl,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "can't open %v", so.PortName)
	}

	// Drain whatever the controller had queued before we showed up.
	b := make([]byte, 2048)
	if _, err := sp.Write([]byte{0x01, 0x03, 0x0c, 0x00}); err != nil {
		sp.Close()
		return nil, errors.Wrap(err, "can't write reset")
	}
	time.Sleep(250 * time.Millisecond)
	if _, err := sp.Read(b); err != nil && err != io.EOF {
		sp.Close()
		return nil, errors.Wrap(err, "can't flush")
	}

	return newH4(sp, so.ReadChunkLen), nil
}

// NewSocket connects to an H4 stream served over TCP, e.g. by a
// controller emulator.
func NewSocket(addr string, timeout time.Duration) (io.ReadWriteCloser, error) {
	c, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "can't dial %v", addr)
	}
	return newH4(newDeadlineConn(c, timeout), 512), nil
}

func newH4(rw io.ReadWriteCloser, chunk int) *h4 {
	if chunk <= 0 {
		chunk = 512
	}
	h := &h4{
		rw:      rw,
		log:     ble.ComponentLogger("h4"),
		rxQueue: make(chan []byte, rxQueueSize),
		done:    make(chan struct{}),
	}
	h.frame = newFrame(h.rxQueue)
	go h.rxLoop(chunk)
	return h
}

// Read returns one complete HCI packet, type octet included. It returns
// 0, nil when nothing arrived within the read timeout.
func (h *h4) Read(p []byte) (int, error) {
	select {
	case <-h.done:
		return 0, io.EOF
	case t := <-h.rxQueue:
		if len(p) < len(t) {
			return 0, errors.Errorf("buffer too small: %d < %d", len(p), len(t))
		}
		return copy(p, t), nil
	case <-time.After(readTimeout):
		return 0, nil
	}
}

func (h *h4) Write(p []byte) (int, error) {
	if !h.isOpen() {
		return 0, io.EOF
	}

	h.wmu.Lock()
	defer h.wmu.Unlock()
	n, err := h.rw.Write(p)
	return n, errors.Wrap(err, "can't write h4")
}

func (h *h4) Close() error {
	h.cmu.Lock()
	defer h.cmu.Unlock()

	select {
	case <-h.done:
		return nil
	default:
		close(h.done)
		return errors.Wrap(h.rw.Close(), "can't close h4")
	}
}

func (h *h4) isOpen() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *h4) rxLoop(chunk int) {
	tmp := make([]byte, chunk)
	for h.isOpen() {
		n, err := h.rw.Read(tmp)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if h.isOpen() && err != io.EOF {
				h.log.Warnf("read: %v", err)
			}
			if err == io.EOF {
				h.Close()
				return
			}
			continue
		}
		if n == 0 {
			continue
		}
		h.frame.Assemble(tmp[:n])
	}
}
