package linux

import (
	"context"
	"encoding/binary"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	ble "github.com/rigado/lehost"
	"github.com/rigado/lehost/cache"
	"github.com/rigado/lehost/gap"
	"github.com/rigado/lehost/linux/hci"
	"github.com/rigado/lehost/linux/hci/cmd"
	"github.com/rigado/lehost/linux/hci/evt"
)

var (
	controllerAddr = ble.MustAddr(ble.AddrLEPublic, "01:02:03:04:05:06")
	peerAddr       = ble.MustAddr(ble.AddrLEPublic, "00:00:00:00:00:01")
)

// scriptedController answers every command the way a healthy controller
// would and completes connection attempts right away.
type scriptedController struct {
	mu       sync.Mutex
	ops      []int
	rx       chan []byte
	closed   chan struct{}
	once     sync.Once
	handle   uint16
	failInit bool
}

func newScriptedController() *scriptedController {
	return &scriptedController{
		rx:     make(chan []byte, 64),
		closed: make(chan struct{}),
		handle: 0x0040,
	}
}

func (c *scriptedController) Read(p []byte) (int, error) {
	select {
	case b := <-c.rx:
		return copy(p, b), nil
	case <-c.closed:
		return 0, io.EOF
	}
}

func (c *scriptedController) Write(p []byte) (int, error) {
	select {
	case <-c.closed:
		return 0, io.ErrClosedPipe
	default:
	}
	if p[0] != hci.PktTypeCommand {
		return len(p), nil
	}

	op := int(binary.LittleEndian.Uint16(p[1:]))
	params := p[4:]
	c.mu.Lock()
	c.ops = append(c.ops, op)
	c.mu.Unlock()

	switch op {
	case cmd.ResetOpCode:
		if c.failInit {
			c.send(commandComplete(op, byte(hci.ErrHardware)))
			return len(p), nil
		}
		c.send(commandComplete(op, 0))
	case cmd.ReadBDADDROpCode:
		le := controllerAddr.LittleEndian()
		c.send(commandComplete(op, append([]byte{0}, le[:]...)...))
	case cmd.LEReadBufferSizeOpCode:
		c.send(commandComplete(op, 0, 27, 0, 8))
	case cmd.LECreateConnectionOpCode:
		c.send(commandStatus(op))
		c.send(connectionComplete(c.handle, params[5], params[6:12]))
	case cmd.DisconnectOpCode:
		c.send(commandStatus(op))
		c.send(event(evt.DisconnectionCompleteCode, 0, params[0], params[1], params[2]))
	default:
		c.send(commandComplete(op, 0))
	}
	return len(p), nil
}

func (c *scriptedController) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *scriptedController) send(b []byte) {
	c.rx <- b
}

func (c *scriptedController) sent(op int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, o := range c.ops {
		if o == op {
			return true
		}
	}
	return false
}

func event(code int, params ...byte) []byte {
	return append([]byte{hci.PktTypeEvent, byte(code), byte(len(params))}, params...)
}

func commandComplete(op int, rp ...byte) []byte {
	return event(evt.CommandCompleteCode, append([]byte{1, byte(op), byte(op >> 8)}, rp...)...)
}

func commandStatus(op int) []byte {
	return event(evt.CommandStatusCode, 0, 1, byte(op), byte(op>>8))
}

func connectionComplete(handle uint16, addrType byte, addr []byte) []byte {
	p := []byte{evt.LEConnectionCompleteSubCode, 0, byte(handle), byte(handle >> 8), byte(hci.RoleMaster), addrType}
	p = append(p, addr...)
	p = append(p, 0x18, 0x00, 0x00, 0x00, 0x2a, 0x00, 0x00)
	return event(evt.LEMetaEventCode, p...)
}

func advertisingReport(typ byte, a ble.Addr, data []byte, rssi int8) []byte {
	le := a.LittleEndian()
	p := []byte{evt.LEAdvertisingReportSubCode, 1, typ, byte(hci.AddressTypePublic)}
	p = append(p, le[:]...)
	p = append(p, byte(len(data)))
	p = append(p, data...)
	p = append(p, byte(rssi))
	return event(evt.LEMetaEventCode, p...)
}

func startTestDevice(t *testing.T, c *scriptedController, opts ...ble.Option) *Device {
	d := newDevice()
	if err := d.Option(opts...); err != nil {
		t.Fatalf("expected nil error but got %s instead", err)
	}
	if err := d.start(c); err != nil {
		t.Fatalf("expected nil error but got %s instead", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestDeviceStart(t *testing.T) {
	c := newScriptedController()
	d := startTestDevice(t, c)

	if d.Addr() != controllerAddr {
		t.Fatalf("expected %v but got %v instead", controllerAddr, d.Addr())
	}
	for _, op := range []int{cmd.ResetOpCode, cmd.ReadBDADDROpCode, cmd.LEReadBufferSizeOpCode, cmd.SetEventMaskOpCode, cmd.LESetEventMaskOpCode} {
		if !c.sent(op) {
			t.Fatalf("expected opcode 0x%04x during init", op)
		}
	}
}

func TestDeviceStartFailure(t *testing.T) {
	c := newScriptedController()
	c.failInit = true

	d := newDevice()
	if err := d.start(c); err == nil {
		t.Fatalf("expected an error from a failing controller")
	}
	select {
	case <-c.closed:
	default:
		t.Fatalf("expected the transport to be closed")
	}
	select {
	case <-d.Done():
	case <-time.After(time.Second):
		t.Fatalf("expected the dispatcher to stop")
	}
}

func TestDeviceOptions(t *testing.T) {
	d := newDevice()

	bad := hci.DefaultScanParams()
	bad.LEScanWindow = bad.LEScanInterval + 1
	if err := d.Option(ble.OptScanParams(bad)); err == nil {
		t.Fatalf("expected invalid scan params to be rejected")
	}
	if err := d.Option(ble.OptRequestTimeout(0)); err == nil {
		t.Fatalf("expected a zero request timeout to be rejected")
	}

	passive := hci.DefaultScanParams()
	passive.LEScanType = hci.LEScanTypePassive
	err := d.Option(
		ble.OptScanParams(passive),
		ble.OptCacheTimeout(time.Minute),
		ble.OptTransportH4Socket("127.0.0.1:9000", time.Second),
	)
	if err != nil {
		t.Fatalf("expected nil error but got %s instead", err)
	}
	if d.ScanOptions().Active {
		t.Fatalf("expected passive scan options")
	}
	if d.cacheTimeout != time.Minute {
		t.Fatalf("expected cache timeout of 1m but got %v instead", d.cacheTimeout)
	}
	if d.transport.H4Socket == nil || d.transport.HCI != nil {
		t.Fatalf("unexpected transport %v", d.transport)
	}
}

func TestDeviceScan(t *testing.T) {
	c := newScriptedController()
	d := startTestDevice(t, c)

	found := make(chan *gap.Peer, 1)
	status := make(chan hci.ScanStatus, 4)
	opts := d.ScanOptions()
	opts.Active = false

	var started bool
	d.Call(context.Background(), func() {
		started = d.Scan(opts, func(p *gap.Peer, r hci.LowEnergyScanResult, data []byte) {
			found <- p
		}, func(s hci.ScanStatus) { status <- s })
	})
	if !started {
		t.Fatalf("expected the scan to start")
	}
	if s := <-status; s != hci.ScanPassive {
		t.Fatalf("expected %v but got %v instead", hci.ScanPassive, s)
	}

	c.send(advertisingReport(hci.AdvInd, peerAddr, []byte{0x02, 0x01, 0x06}, -40))

	select {
	case p := <-found:
		if p.Address() != peerAddr {
			t.Fatalf("expected %v but got %v instead", peerAddr, p.Address())
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a scan result")
	}

	var rssi int8
	var connectable bool
	d.Call(context.Background(), func() {
		p := d.Peers().FindByAddress(peerAddr)
		rssi, connectable = p.RSSI(), p.Connectable()
		d.Scanner().StopScan()
	})
	if rssi != -40 || !connectable {
		t.Fatalf("unexpected cached peer, rssi %d connectable %v", rssi, connectable)
	}
	if s := <-status; s != hci.ScanStopped {
		t.Fatalf("expected %v but got %v instead", hci.ScanStopped, s)
	}
}

func TestDeviceConnect(t *testing.T) {
	c := newScriptedController()
	d := startTestDevice(t, c)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ref, err := d.Connect(ctx, peerAddr)
	if err != nil {
		t.Fatalf("expected nil error but got %s instead", err)
	}

	var handle uint16
	var peers []gap.PeerID
	d.Call(ctx, func() {
		handle = ref.Handle()
		peers = d.Manager().ConnectedPeers()
	})
	if handle != c.handle {
		t.Fatalf("expected handle 0x%04x but got 0x%04x instead", c.handle, handle)
	}
	if len(peers) != 1 {
		t.Fatalf("expected one connected peer but got %v instead", peers)
	}

	if err := d.Close(); err != nil {
		t.Fatalf("expected nil error but got %s instead", err)
	}
	if !c.sent(cmd.DisconnectOpCode) {
		t.Fatalf("expected the link to be disconnected on close")
	}
}

func TestDeviceConnectCanceled(t *testing.T) {
	c := newScriptedController()
	d := startTestDevice(t, c)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ref, err := d.Connect(ctx, peerAddr)
	if err != context.Canceled {
		t.Fatalf("expected %v but got %v instead", context.Canceled, err)
	}
	if ref != nil {
		t.Fatalf("expected no ref for a canceled connect")
	}

	time.Sleep(50 * time.Millisecond)

	var peers []gap.PeerID
	d.Call(context.Background(), func() { peers = d.Manager().ConnectedPeers() })
	if len(peers) != 0 {
		t.Fatalf("expected no connected peers but got %v instead", peers)
	}
	if c.sent(cmd.LECreateConnectionOpCode) {
		t.Fatalf("expected no connection attempt for a canceled connect")
	}
}

func TestDeviceRemoteInitiatedLink(t *testing.T) {
	c := newScriptedController()
	d := startTestDevice(t, c)

	le := peerAddr.LittleEndian()
	c.send(connectionComplete(0x0041, byte(hci.AddressTypePublic), le[:]))

	deadline := time.Now().Add(time.Second)
	for {
		var held bool
		d.Call(context.Background(), func() { held = len(d.incoming) == 1 })
		if held {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected the incoming link to be registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	c.send(event(evt.DisconnectionCompleteCode, 0, 0x41, 0x00, byte(hci.ErrRemoteUser)))

	deadline = time.Now().Add(time.Second)
	for {
		var held bool
		d.Call(context.Background(), func() { held = len(d.incoming) != 0 })
		if !held {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected the incoming ref to be dropped on disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDeviceRestoresBonds(t *testing.T) {
	file := filepath.Join(t.TempDir(), "bonds.json")
	bc := cache.New(file)
	random := ble.MustAddr(ble.AddrLERandom, "c0:00:00:00:00:02")
	bond := gap.BondData{LongTermKey: make([]byte, 16), EDiv: 1, Random: 2}
	if err := bc.Store(random, bond, false); err != nil {
		t.Fatalf("expected nil error but got %s instead", err)
	}

	c := newScriptedController()
	d := startTestDevice(t, c, ble.OptBondFile(file))

	var temporary, bonded bool
	d.Call(context.Background(), func() {
		p := d.Peers().FindByAddress(random)
		if p == nil {
			return
		}
		temporary = p.Temporary()
		bonded = p.LE().BondData() != nil
	})
	if !bonded || temporary {
		t.Fatalf("expected a bonded, non-temporary peer for %v", random)
	}
}
