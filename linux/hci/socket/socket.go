//go:build linux
// +build linux

// Package socket opens an HCI User Channel, giving the host exclusive
// access to a controller while bypassing the kernel's own Bluetooth stack.
package socket

import (
	"io"
	"strings"
	"sync"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	ble "github.com/rigado/lehost"
	"golang.org/x/sys/unix"
)

func ioR(t, nr, size uintptr) uintptr {
	return (2 << 30) | (t << 8) | nr | (size << 16)
}

func ioW(t, nr, size uintptr) uintptr {
	return (1 << 30) | (t << 8) | nr | (size << 16)
}

func ioctl(fd, op, arg uintptr) error {
	if _, _, ep := unix.Syscall(unix.SYS_IOCTL, fd, op, arg); ep != 0 {
		return ep
	}
	return nil
}

const (
	ioctlSize      = 4
	hciMaxDevices  = 16
	typHCI         = 72 // 'H'
	readTimeoutMs  = 1000
	unixPollErrors = int16(unix.POLLHUP | unix.POLLNVAL | unix.POLLERR)
	unixPollDataIn = int16(unix.POLLIN)

	// DefaultOpenWait is how long NewSocket keeps retrying a named device.
	DefaultOpenWait = 60 * time.Second
)

var (
	hciDownDevice    = ioW(typHCI, 202, ioctlSize) // HCIDEVDOWN
	hciGetDeviceList = ioR(typHCI, 210, ioctlSize) // HCIGETDEVLIST
)

type devListRequest struct {
	devNum     uint16
	devRequest [hciMaxDevices]struct {
		id  uint16
		opt uint32
	}
}

// Socket implements a HCI User Channel as ReadWriteCloser. Each Read
// returns one HCI packet, type octet included, or 0, nil on timeout.
type Socket struct {
	fd   int
	log  ble.Logger
	rmu  sync.Mutex
	wmu  sync.Mutex
	cmu  sync.Mutex
	done chan struct{}
}

// NewSocket returns a HCI User Channel of specified device id.
// If id is -1, the first available HCI device is returned.
func NewSocket(id int) (*Socket, error) {
	return Open(id, DefaultOpenWait)
}

// Open is NewSocket with a bound on how long to wait for device id to
// become available, e.g. while bluetoothd lets go of it.
func Open(id int, wait time.Duration) (*Socket, error) {
	if id < 0 {
		return openAny()
	}

	deadline := time.Now().Add(wait)
	for {
		s, err := openID(id)
		if err == nil {
			return s, nil
		}
		if time.Now().After(deadline) {
			return nil, err
		}
		ble.ComponentLogger("hci-socket").Debugf("hci%d: %v, retrying", id, err)
		time.Sleep(time.Second)
	}
}

func openAny() (*Socket, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_RAW, unix.BTPROTO_HCI)
	if err != nil {
		return nil, errors.Wrap(err, "can't create socket")
	}
	req := devListRequest{devNum: hciMaxDevices}
	err = ioctl(uintptr(fd), hciGetDeviceList, uintptr(unsafe.Pointer(&req)))
	unix.Close(fd)
	if err != nil {
		return nil, errors.Wrap(err, "can't get device list")
	}

	var msgs []string
	for i := 0; i < int(req.devNum); i++ {
		id := int(req.devRequest[i].id)
		s, err := openID(id)
		if err == nil {
			return s, nil
		}
		msgs = append(msgs, errors.Wrapf(err, "hci%d", id).Error())
	}
	return nil, errors.Errorf("no devices available: %s", strings.Join(msgs, "; "))
}

func openID(id int) (*Socket, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_RAW, unix.BTPROTO_HCI)
	if err != nil {
		return nil, errors.Wrap(err, "can't create socket")
	}

	// HCI User Channel requires exclusive access to the device.
	// The device has to be down at the time of binding.
	if err := ioctl(uintptr(fd), hciDownDevice, uintptr(id)); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "can't down device")
	}

	sa := unix.SockaddrHCI{Dev: uint16(id), Channel: unix.HCI_CHANNEL_USER}
	if err := unix.Bind(fd, &sa); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "can't bind socket to hci user channel")
	}

	// poll for 20ms to see if any data becomes available, then clear it
	pfds := []unix.PollFd{{Fd: int32(fd), Events: unixPollDataIn}}
	unix.Poll(pfds, 20)
	evts := pfds[0].Revents
	switch {
	case evts&unixPollErrors != 0:
		unix.Close(fd)
		return nil, io.EOF
	case evts&unixPollDataIn != 0:
		b := make([]byte, 2048)
		unix.Read(fd, b)
	}

	log := ble.ComponentLogger("hci-socket").ChildLogger(map[string]interface{}{"dev": id})
	log.Infof("opened hci%d user channel", id)
	return &Socket{fd: fd, log: log, done: make(chan struct{})}, nil
}

func (s *Socket) Read(p []byte) (int, error) {
	if !s.isOpen() {
		return 0, io.EOF
	}

	s.rmu.Lock()
	defer s.rmu.Unlock()

	// poll errors are always reported, no need to ask for them
	pfds := []unix.PollFd{{Fd: int32(s.fd), Events: unixPollDataIn}}
	unix.Poll(pfds, readTimeoutMs)
	evts := pfds[0].Revents

	var n int
	var err error
	switch {
	case evts&unixPollErrors != 0:
		s.log.Warnf("poll events 0x%04x", evts)
		return 0, io.EOF
	case evts&unixPollDataIn != 0:
		n, err = unix.Read(s.fd, p)
	default:
		return 0, nil
	}

	// the device may have been closed while we were waiting
	if !s.isOpen() {
		return 0, io.EOF
	}
	return n, errors.Wrap(err, "can't read hci socket")
}

func (s *Socket) Write(p []byte) (int, error) {
	if !s.isOpen() {
		return 0, io.EOF
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	n, err := unix.Write(s.fd, p)
	return n, errors.Wrap(err, "can't write hci socket")
}

func (s *Socket) Close() error {
	s.cmu.Lock()
	defer s.cmu.Unlock()

	select {
	case <-s.done:
		return nil
	default:
	}
	close(s.done)
	s.log.Debugf("closing")

	s.rmu.Lock()
	err := unix.Close(s.fd)
	s.rmu.Unlock()
	return errors.Wrap(err, "can't close hci socket")
}

func (s *Socket) isOpen() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}
