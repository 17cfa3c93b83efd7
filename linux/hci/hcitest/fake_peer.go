package hcitest

import (
	ble "github.com/rigado/lehost"
	"github.com/rigado/lehost/linux/hci"
)

// FakePeer is a remote device emulated by a FakeController.
type FakePeer struct {
	address     ble.Addr
	connectable bool
	scannable   bool

	advData          []byte
	scanRsp          []byte
	scanRspSeparate  bool
	directed         bool
	addressResolved  bool
	rssi             int8
	connectStatus    hci.ErrCommand
	connectResponse  hci.ErrCommand
	forcePendingConn bool

	connected bool
	handle    uint16
	params    hci.LEConnectionParams
}

// NewFakePeer creates a peer that advertises with the given flags. Scan
// responses are sent as a separate event unless changed.
func NewFakePeer(address ble.Addr, connectable, scannable bool) *FakePeer {
	return &FakePeer{
		address:         address,
		connectable:     connectable,
		scannable:       scannable,
		scanRspSeparate: true,
		rssi:            -60,
	}
}

func (p *FakePeer) Address() ble.Addr                  { return p.address }
func (p *FakePeer) Connected() bool                    { return p.connected }
func (p *FakePeer) Handle() uint16                     { return p.handle }
func (p *FakePeer) Params() hci.LEConnectionParams     { return p.params }
func (p *FakePeer) SetAdvertisingData(data []byte)     { p.advData = data }
func (p *FakePeer) SetRSSI(rssi int8)                  { p.rssi = rssi }
func (p *FakePeer) EnableDirectedAdvertising(on bool)  { p.directed = on }
func (p *FakePeer) SetAddressResolved(resolved bool)   { p.addressResolved = resolved }
func (p *FakePeer) SetForcePendingConnections(on bool) { p.forcePendingConn = on }

// SetScanResponse sets the scan response payload. When separateEvent is
// false the response shares an HCI event with the advertising report.
func (p *FakePeer) SetScanResponse(separateEvent bool, data []byte) {
	p.scanRspSeparate = separateEvent
	p.scanRsp = data
}

// SetConnectStatus makes LE Create Connection fail with the given Command
// Status.
func (p *FakePeer) SetConnectStatus(status hci.ErrCommand) { p.connectStatus = status }

// SetConnectResponse makes the LE Connection Complete event carry the
// given failure status.
func (p *FakePeer) SetConnectResponse(status hci.ErrCommand) { p.connectResponse = status }

func (p *FakePeer) eventAddressType() uint8 {
	var t uint8 = hci.LEAddressTypePublic
	if p.address.Type == ble.AddrLERandom {
		t = hci.LEAddressTypeRandom
	}
	if p.addressResolved {
		t += 2
	}
	return t
}

func (p *FakePeer) advertisingEventType() uint8 {
	switch {
	case p.directed:
		return hci.AdvDirectInd
	case p.connectable:
		return hci.AdvInd
	case p.scannable:
		return hci.AdvScanInd
	}
	return hci.AdvNonconnInd
}
