// Package hcitest provides an emulated controller for exercising the host
// without hardware.
package hcitest

import (
	"encoding/binary"
	"fmt"
	"time"

	ble "github.com/rigado/lehost"
	"github.com/rigado/lehost/dispatch"
	"github.com/rigado/lehost/linux/hci"
	"github.com/rigado/lehost/linux/hci/cmd"
	"github.com/rigado/lehost/linux/hci/evt"
)

// LEScanState is the scan configuration the controller was given.
type LEScanState struct {
	Enabled          bool
	ScanType         uint8
	Interval         uint16
	Window           uint16
	FilterDuplicates bool
	FilterPolicy     uint8
	OwnAddressType   uint8
}

type handlerEntry struct {
	meta bool
	code int
	h    hci.EventHandler
}

type pendingConnect struct {
	addr ble.Addr
	task *dispatch.Task
}

// FakeController implements hci.CommandChannel on top of a dispatcher.
// Responses and events are posted, so tests drive it by running the
// dispatcher.
type FakeController struct {
	d dispatch.Dispatcher

	peers     map[ble.Addr]*FakePeer
	peerOrder []*FakePeer

	handlers  map[hci.HandlerID]handlerEntry
	nextID    hci.HandlerID
	defStatus map[int]hci.ErrCommand
	counts    map[int]int

	scan          LEScanState
	randomAddress *ble.Addr
	pending       *pendingConnect
	lastCreate    *cmd.LECreateConnection
	nextHandle    uint16

	// LEConnectionDelay delays the LE Connection Complete of a successful
	// connection attempt.
	LEConnectionDelay time.Duration

	connStateCb  func(addr ble.Addr, connected, canceled bool)
	connParamsCb func(addr ble.Addr, params hci.LEConnectionParams)
}

func NewFakeController(d dispatch.Dispatcher) *FakeController {
	return &FakeController{
		d:          d,
		peers:      make(map[ble.Addr]*FakePeer),
		handlers:   make(map[hci.HandlerID]handlerEntry),
		defStatus:  make(map[int]hci.ErrCommand),
		counts:     make(map[int]int),
		nextHandle: 0x0001,
	}
}

// AddPeer registers p. It returns false if a peer with the same address
// exists.
func (f *FakeController) AddPeer(p *FakePeer) bool {
	if _, ok := f.peers[p.address]; ok {
		return false
	}
	f.peers[p.address] = p
	f.peerOrder = append(f.peerOrder, p)
	return true
}

func (f *FakeController) Peer(addr ble.Addr) *FakePeer {
	return f.peers[addr]
}

func (f *FakeController) LEScanState() LEScanState {
	return f.scan
}

// RandomAddress returns the address set with LE Set Random Address.
func (f *FakeController) RandomAddress() (ble.Addr, bool) {
	if f.randomAddress == nil {
		return ble.Addr{}, false
	}
	return *f.randomAddress, true
}

// LastCreateConnection returns the parameters of the latest LE Create
// Connection command.
func (f *FakeController) LastCreateConnection() (cmd.LECreateConnection, bool) {
	if f.lastCreate == nil {
		return cmd.LECreateConnection{}, false
	}
	return *f.lastCreate, true
}

// CommandCount returns how many times the opcode was sent.
func (f *FakeController) CommandCount(opcode int) int {
	return f.counts[opcode]
}

// SetDefaultResponseStatus makes every command with the given opcode fail
// with status.
func (f *FakeController) SetDefaultResponseStatus(opcode int, status hci.ErrCommand) {
	f.defStatus[opcode] = status
}

func (f *FakeController) ClearDefaultResponseStatus(opcode int) {
	delete(f.defStatus, opcode)
}

// SetConnectionStateCallback is notified when a link goes up or down, or
// when a pending connection is canceled.
func (f *FakeController) SetConnectionStateCallback(cb func(addr ble.Addr, connected, canceled bool)) {
	f.connStateCb = cb
}

// SetLEConnectionParametersCallback is notified when a connection update
// completes.
func (f *FakeController) SetLEConnectionParametersCallback(cb func(addr ble.Addr, params hci.LEConnectionParams)) {
	f.connParamsCb = cb
}

func (f *FakeController) SendCommand(c hci.Command, cb hci.CommandCallback) {
	f.counts[c.OpCode()]++
	f.d.Post(func() {
		if cb == nil {
			cb = func(error, []byte) {}
		}
		f.handleCommand(c, cb)
	})
}

func (f *FakeController) AddEventHandler(code int, h hci.EventHandler) hci.HandlerID {
	f.nextID++
	f.handlers[f.nextID] = handlerEntry{code: code, h: h}
	return f.nextID
}

func (f *FakeController) AddLEMetaEventHandler(subcode int, h hci.EventHandler) hci.HandlerID {
	f.nextID++
	f.handlers[f.nextID] = handlerEntry{meta: true, code: subcode, h: h}
	return f.nextID
}

func (f *FakeController) RemoveEventHandler(id hci.HandlerID) {
	delete(f.handlers, id)
}

// ConnectLowEnergy emulates a link initiated by the remote peer.
func (f *FakeController) ConnectLowEnergy(addr ble.Addr, role hci.Role) error {
	p, ok := f.peers[addr]
	if !ok {
		return fmt.Errorf("no fake peer %v", addr)
	}
	if p.connected {
		return fmt.Errorf("fake peer %v already connected", addr)
	}

	f.d.Post(func() {
		p.connected = true
		p.handle = f.allocHandle()
		p.params = hci.LEConnectionParams{Interval: 0x0018, Latency: 0, SupervisionTimeout: 0x002a}
		if f.connStateCb != nil {
			f.connStateCb(addr, true, false)
		}
		f.sendLEMetaEvent(leConnectionComplete(0, p.handle, role, p.eventAddressType(), addr, p.params))
	})
	return nil
}

// Disconnect emulates the remote peer terminating its link.
func (f *FakeController) Disconnect(addr ble.Addr) error {
	p, ok := f.peers[addr]
	if !ok || !p.connected {
		return fmt.Errorf("fake peer %v not connected", addr)
	}

	f.d.Post(func() {
		if !p.connected {
			return
		}
		f.disconnectPeer(p, hci.ErrRemoteUser)
	})
	return nil
}

func (f *FakeController) handleCommand(c hci.Command, cb hci.CommandCallback) {
	op := c.OpCode()

	switch c := c.(type) {
	case *cmd.LESetScanParameters:
		if f.failComplete(op, cb) {
			return
		}
		if f.scan.Enabled {
			completeStatus(cb, hci.ErrDisallowed)
			return
		}
		f.scan.ScanType = c.LEScanType
		f.scan.Interval = c.LEScanInterval
		f.scan.Window = c.LEScanWindow
		f.scan.OwnAddressType = c.OwnAddressType
		f.scan.FilterPolicy = c.ScanningFilterPolicy
		completeStatus(cb, 0)

	case *cmd.LESetScanEnable:
		if f.failComplete(op, cb) {
			return
		}
		f.scan.Enabled = c.LEScanEnable == 0x01
		f.scan.FilterDuplicates = c.FilterDuplicates == 0x01
		completeStatus(cb, 0)
		if f.scan.Enabled {
			f.sendAdvertisingReports()
		}

	case *cmd.LESetRandomAddress:
		if f.failComplete(op, cb) {
			return
		}
		if f.scan.Enabled || f.pending != nil {
			completeStatus(cb, hci.ErrDisallowed)
			return
		}
		a := ble.AddrFromLittleEndian(ble.AddrLERandom, c.RandomAddress)
		f.randomAddress = &a
		completeStatus(cb, 0)

	case *cmd.LECreateConnection:
		f.handleCreateConnection(c, cb)

	case *cmd.LECreateConnectionCancel:
		if f.failComplete(op, cb) {
			return
		}
		pc := f.pending
		if pc == nil {
			completeStatus(cb, hci.ErrDisallowed)
			return
		}
		f.pending = nil
		pc.task.Cancel()
		completeStatus(cb, 0)

		typ := uint8(hci.LEAddressTypePublic)
		if pc.addr.Type == ble.AddrLERandom {
			typ = hci.LEAddressTypeRandom
		}
		f.sendLEMetaEvent(leConnectionComplete(uint8(hci.ErrConnID), 0, hci.RoleMaster, typ, pc.addr, hci.LEConnectionParams{}))
		if f.connStateCb != nil {
			f.connStateCb(pc.addr, false, true)
		}

	case *cmd.Disconnect:
		if s, ok := f.defStatus[op]; ok {
			cb(s, nil)
			return
		}
		p := f.peerByHandle(c.ConnectionHandle)
		if p == nil {
			cb(hci.ErrConnID, nil)
			return
		}
		cb(nil, nil)
		f.disconnectPeer(p, hci.ErrLocalHost)

	case *cmd.LEConnectionUpdate:
		if s, ok := f.defStatus[op]; ok {
			cb(s, nil)
			return
		}
		p := f.peerByHandle(c.ConnectionHandle)
		if p == nil {
			cb(hci.ErrConnID, nil)
			return
		}
		cb(nil, nil)

		p.params = hci.LEConnectionParams{
			Interval:           c.ConnIntervalMin,
			Latency:            c.ConnLatency,
			SupervisionTimeout: c.SupervisionTimeout,
		}
		f.sendLEMetaEvent(leConnectionUpdateComplete(0, p.handle, p.params))
		if f.connParamsCb != nil {
			f.connParamsCb(p.address, p.params)
		}

	case *cmd.ReadBDADDR:
		if f.failComplete(op, cb) {
			return
		}
		cb(nil, []byte{0x00, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01})

	default:
		if f.failComplete(op, cb) {
			return
		}
		completeStatus(cb, 0)
	}
}

func (f *FakeController) handleCreateConnection(c *cmd.LECreateConnection, cb hci.CommandCallback) {
	if s, ok := f.defStatus[c.OpCode()]; ok {
		cb(s, nil)
		return
	}
	if f.pending != nil {
		cb(hci.ErrDisallowed, nil)
		return
	}

	cc := *c
	f.lastCreate = &cc

	t := ble.AddrLEPublic
	if c.PeerAddressType == hci.AddressTypeRandom {
		t = ble.AddrLERandom
	}
	addr := ble.AddrFromLittleEndian(t, c.PeerAddress)

	p := f.peers[addr]
	if p != nil && p.connectStatus != 0 {
		cb(p.connectStatus, nil)
		return
	}
	cb(nil, nil)

	pc := &pendingConnect{addr: addr}
	f.pending = pc
	if p == nil || p.forcePendingConn {
		// wait for a cancel
		return
	}

	pc.task = f.d.PostDelayed(f.LEConnectionDelay, func() {
		if f.pending != pc {
			return
		}
		f.pending = nil

		if p.connectResponse != 0 {
			f.sendLEMetaEvent(leConnectionComplete(uint8(p.connectResponse), 0, hci.RoleMaster, p.eventAddressType(), addr, hci.LEConnectionParams{}))
			return
		}

		p.connected = true
		p.handle = f.allocHandle()
		p.params = hci.LEConnectionParams{
			Interval:           cc.ConnIntervalMin,
			Latency:            cc.ConnLatency,
			SupervisionTimeout: cc.SupervisionTimeout,
		}
		if f.connStateCb != nil {
			f.connStateCb(addr, true, false)
		}
		f.sendLEMetaEvent(leConnectionComplete(0, p.handle, hci.RoleMaster, p.eventAddressType(), addr, p.params))
	})
}

func (f *FakeController) disconnectPeer(p *FakePeer, reason hci.ErrCommand) {
	handle := p.handle
	p.connected = false
	p.handle = 0
	if f.connStateCb != nil {
		f.connStateCb(p.address, false, false)
	}
	f.sendEvent(evt.DisconnectionCompleteCode, []byte{0x00, byte(handle), byte(handle >> 8), byte(reason)})
}

func (f *FakeController) sendAdvertisingReports() {
	active := f.scan.ScanType == hci.LEScanTypeActive

	for _, p := range f.peerOrder {
		reports := [][]byte{advReport(p.advertisingEventType(), p.eventAddressType(), p.address, p.advData, p.rssi)}
		if p.directed {
			f.sendLEMetaEvent(advertisingReportEvent(reports))
			continue
		}

		if !active || !p.scannable {
			f.sendLEMetaEvent(advertisingReportEvent(reports))
			continue
		}

		sr := advReport(hci.ScanRsp, p.eventAddressType(), p.address, p.scanRsp, p.rssi)
		if p.scanRspSeparate {
			f.sendLEMetaEvent(advertisingReportEvent(reports))
			f.sendLEMetaEvent(advertisingReportEvent([][]byte{sr}))
			continue
		}
		f.sendLEMetaEvent(advertisingReportEvent(append(reports, sr)))
	}
}

// SendAdvertisingReports emits the advertising reports of peers in a
// single LE Advertising Report event.
func (f *FakeController) SendAdvertisingReports(peers ...*FakePeer) {
	reports := make([][]byte, 0, len(peers))
	for _, p := range peers {
		reports = append(reports, advReport(p.advertisingEventType(), p.eventAddressType(), p.address, p.advData, p.rssi))
	}
	f.sendLEMetaEvent(advertisingReportEvent(reports))
}

// SendDirectedAdvertisingReport emits an LE Directed Advertising Report
// for peer.
func (f *FakeController) SendDirectedAdvertisingReport(p *FakePeer, direct ble.Addr) {
	b := []byte{evt.LEDirectedAdvertisingReportSubCode, 0x01, hci.AdvDirectInd, p.eventAddressType()}
	a := p.address.LittleEndian()
	b = append(b, a[:]...)
	b = append(b, hci.LEAddressTypeRandom)
	d := direct.LittleEndian()
	b = append(b, d[:]...)
	b = append(b, byte(p.rssi))
	f.sendLEMetaEvent(b)
}

func (f *FakeController) sendEvent(code int, params []byte) {
	f.d.Post(func() {
		for _, id := range f.handlerIDs() {
			e, ok := f.handlers[id]
			if ok && !e.meta && e.code == code {
				e.h(params)
			}
		}
	})
}

func (f *FakeController) sendLEMetaEvent(params []byte) {
	f.d.Post(func() {
		for _, id := range f.handlerIDs() {
			e, ok := f.handlers[id]
			if ok && e.meta && e.code == int(params[0]) {
				e.h(params)
			}
		}
	})
}

// handlerIDs snapshots registrations in registration order.
func (f *FakeController) handlerIDs() []hci.HandlerID {
	ids := make([]hci.HandlerID, 0, len(f.handlers))
	for id := hci.HandlerID(1); id <= f.nextID; id++ {
		if _, ok := f.handlers[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func (f *FakeController) failComplete(op int, cb hci.CommandCallback) bool {
	s, ok := f.defStatus[op]
	if !ok {
		return false
	}
	completeStatus(cb, s)
	return true
}

func (f *FakeController) peerByHandle(handle uint16) *FakePeer {
	for _, p := range f.peerOrder {
		if p.connected && p.handle == handle {
			return p
		}
	}
	return nil
}

func (f *FakeController) allocHandle() uint16 {
	h := f.nextHandle
	f.nextHandle++
	return h
}

func completeStatus(cb hci.CommandCallback, status hci.ErrCommand) {
	if status != 0 {
		cb(status, []byte{byte(status)})
		return
	}
	cb(nil, []byte{0x00})
}

func advReport(evType, addrType uint8, addr ble.Addr, data []byte, rssi int8) []byte {
	a := addr.LittleEndian()
	b := []byte{evType, addrType}
	b = append(b, a[:]...)
	b = append(b, byte(len(data)))
	b = append(b, data...)
	return append(b, byte(rssi))
}

func advertisingReportEvent(reports [][]byte) []byte {
	b := []byte{evt.LEAdvertisingReportSubCode, byte(len(reports))}
	for _, r := range reports {
		b = append(b, r...)
	}
	return b
}

func leConnectionComplete(status uint8, handle uint16, role hci.Role, addrType uint8, addr ble.Addr, p hci.LEConnectionParams) []byte {
	a := addr.LittleEndian()
	b := make([]byte, 19)
	b[0] = evt.LEConnectionCompleteSubCode
	b[1] = status
	binary.LittleEndian.PutUint16(b[2:], handle)
	b[4] = byte(role)
	b[5] = addrType
	copy(b[6:12], a[:])
	binary.LittleEndian.PutUint16(b[12:], p.Interval)
	binary.LittleEndian.PutUint16(b[14:], p.Latency)
	binary.LittleEndian.PutUint16(b[16:], p.SupervisionTimeout)
	return b
}

func leConnectionUpdateComplete(status uint8, handle uint16, p hci.LEConnectionParams) []byte {
	b := make([]byte, 10)
	b[0] = evt.LEConnectionUpdateCompleteSubCode
	b[1] = status
	binary.LittleEndian.PutUint16(b[2:], handle)
	binary.LittleEndian.PutUint16(b[4:], p.Interval)
	binary.LittleEndian.PutUint16(b[6:], p.Latency)
	binary.LittleEndian.PutUint16(b[8:], p.SupervisionTimeout)
	return b
}
