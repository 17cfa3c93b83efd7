package hci_test

import (
	"testing"
	"time"

	ble "github.com/rigado/lehost"
	"github.com/rigado/lehost/dispatch"
	"github.com/rigado/lehost/linux/hci"
	"github.com/rigado/lehost/linux/hci/cmd"
	"github.com/rigado/lehost/linux/hci/hcitest"
)

const connectTimeout = 20 * time.Second

type connectorFixture struct {
	loop      *dispatch.TestLoop
	ctrl      *hcitest.FakeController
	addr      *hcitest.FakeLocalAddressDelegate
	connector *hci.LowEnergyConnector
	incoming  []*hci.Connection

	results []error
	links   []*hci.Connection
}

func newConnectorFixture() *connectorFixture {
	f := &connectorFixture{loop: dispatch.NewTestLoop()}
	f.ctrl = hcitest.NewFakeController(f.loop)
	f.addr = hcitest.NewFakeLocalAddressDelegate(f.loop)
	f.connector = hci.NewLowEnergyConnector(f.loop, f.ctrl, f.addr, func(link *hci.Connection) {
		f.incoming = append(f.incoming, link)
	})
	return f
}

func (f *connectorFixture) connect(peer ble.Addr) bool {
	return f.connector.CreateConnection(peer, hci.DefaultPreferredConnectionParams(), connectTimeout, func(err error, link *hci.Connection) {
		f.results = append(f.results, err)
		f.links = append(f.links, link)
	})
}

func TestCreateConnection(t *testing.T) {
	f := newConnectorFixture()
	f.ctrl.AddPeer(hcitest.NewFakePeer(publicAddress1, true, true))

	if !f.connect(publicAddress1) {
		t.Fatalf("expected attempt to be accepted")
	}
	if !f.connector.RequestPending() {
		t.Fatalf("expected a pending request")
	}
	if f.connect(publicAddress2) {
		t.Fatalf("expected a second attempt to be rejected")
	}

	f.loop.RunUntilIdle()

	if len(f.results) != 1 || f.results[0] != nil {
		t.Fatalf("expected one successful result but got %v", f.results)
	}
	link := f.links[0]
	if link.PeerAddress() != publicAddress1 || link.Role() != hci.RoleMaster || !link.IsOpen() {
		t.Fatalf("unexpected link %v", link)
	}
	if link.LocalAddress() != f.addr.Local {
		t.Fatalf("expected local address %v but got %v", f.addr.Local, link.LocalAddress())
	}
	if f.connector.RequestPending() {
		t.Fatalf("expected no pending request")
	}
	if f.loop.PendingTimers() != 0 {
		t.Fatalf("expected the timeout to be canceled")
	}

	c, _ := f.ctrl.LastCreateConnection()
	if c.OwnAddressType != hci.AddressTypePublic || c.PeerAddressType != hci.AddressTypePublic {
		t.Fatalf("unexpected create connection %+v", c)
	}

	link.Close()
	f.loop.RunUntilIdle()
	if f.ctrl.Peer(publicAddress1).Connected() {
		t.Fatalf("expected closing the link to disconnect the peer")
	}
}

func TestCreateConnectionStatusError(t *testing.T) {
	f := newConnectorFixture()
	p := hcitest.NewFakePeer(publicAddress1, true, true)
	p.SetConnectStatus(hci.ErrConnLimit)
	f.ctrl.AddPeer(p)

	f.connect(publicAddress1)
	f.loop.RunUntilIdle()

	if len(f.results) != 1 || f.results[0] != hci.ErrConnLimit {
		t.Fatalf("expected %v but got %v instead", hci.ErrConnLimit, f.results)
	}
}

func TestCreateConnectionEventError(t *testing.T) {
	f := newConnectorFixture()
	p := hcitest.NewFakePeer(publicAddress1, true, true)
	p.SetConnectResponse(hci.ErrConnFailedToBeEstablished)
	f.ctrl.AddPeer(p)

	f.connect(publicAddress1)
	f.loop.RunUntilIdle()

	if len(f.results) != 1 {
		t.Fatalf("expected one result but got %d", len(f.results))
	}
	ec, ok := hci.IsProtocolError(f.results[0])
	if !ok || ec != hci.ErrConnFailedToBeEstablished {
		t.Fatalf("expected protocol error but got %v instead", f.results[0])
	}
}

func TestCreateConnectionTimeout(t *testing.T) {
	f := newConnectorFixture()

	// nobody answers at this address
	f.connect(publicAddress1)
	f.loop.RunUntilIdle()
	if len(f.results) != 0 {
		t.Fatalf("expected the attempt to wait")
	}

	f.loop.RunFor(connectTimeout)
	if len(f.results) != 1 || f.results[0] != ble.ErrTimedOut {
		t.Fatalf("expected %v but got %v instead", ble.ErrTimedOut, f.results)
	}
	if f.ctrl.CommandCount(cmd.LECreateConnectionCancelOpCode) != 1 {
		t.Fatalf("expected the attempt to be canceled at the controller")
	}
	if _, ok := hci.IsProtocolError(f.results[0]); ok {
		t.Fatalf("timeout must be a host error")
	}
}

func TestCreateConnectionCancel(t *testing.T) {
	f := newConnectorFixture()
	var canceled []ble.Addr
	f.ctrl.SetConnectionStateCallback(func(addr ble.Addr, connected, wasCanceled bool) {
		if wasCanceled {
			canceled = append(canceled, addr)
		}
	})
	p := hcitest.NewFakePeer(publicAddress1, true, true)
	p.SetForcePendingConnections(true)
	f.ctrl.AddPeer(p)

	f.connect(publicAddress1)
	f.loop.RunUntilIdle()
	f.connector.Cancel()
	f.loop.RunUntilIdle()

	if len(f.results) != 1 || f.results[0] != ble.ErrCanceled {
		t.Fatalf("expected %v but got %v instead", ble.ErrCanceled, f.results)
	}
	if len(canceled) != 1 || canceled[0] != publicAddress1 {
		t.Fatalf("expected controller to see the cancel, got %v", canceled)
	}
}

func TestConnectorCloseWhileInitiating(t *testing.T) {
	f := newConnectorFixture()
	p := hcitest.NewFakePeer(publicAddress1, true, true)
	p.SetForcePendingConnections(true)
	f.ctrl.AddPeer(p)

	f.connect(publicAddress1)
	f.loop.RunUntilIdle()

	f.connector.Close()
	if len(f.results) != 1 || f.results[0] != ble.ErrCanceled {
		t.Fatalf("expected synchronous %v but got %v instead", ble.ErrCanceled, f.results)
	}
	f.loop.RunUntilIdle()
	if f.ctrl.CommandCount(cmd.LECreateConnectionCancelOpCode) != 1 {
		t.Fatalf("expected a cancel command")
	}
	if f.connect(publicAddress1) {
		t.Fatalf("expected a closed connector to reject attempts")
	}
}

func TestConnectorIncomingConnection(t *testing.T) {
	f := newConnectorFixture()
	f.ctrl.AddPeer(hcitest.NewFakePeer(randomAddress1, true, true))

	if err := f.ctrl.ConnectLowEnergy(randomAddress1, hci.RoleSlave); err != nil {
		t.Fatalf("expected no error but got %s instead", err)
	}
	f.loop.RunUntilIdle()

	if len(f.incoming) != 1 {
		t.Fatalf("expected one incoming link but got %d", len(f.incoming))
	}
	link := f.incoming[0]
	if link.PeerAddress() != randomAddress1 || link.Role() != hci.RoleSlave {
		t.Fatalf("unexpected incoming link %v", link)
	}
	if len(f.results) != 0 {
		t.Fatalf("incoming link must not resolve an attempt")
	}
}

func TestConnectorAllowsRandomAddressChange(t *testing.T) {
	f := newConnectorFixture()
	f.addr.Async = true
	p := hcitest.NewFakePeer(publicAddress1, true, true)
	p.SetForcePendingConnections(true)
	f.ctrl.AddPeer(p)

	if !f.connector.AllowsRandomAddressChange() {
		t.Fatalf("expected change allowed while idle")
	}
	f.connect(publicAddress1)
	if !f.connector.AllowsRandomAddressChange() {
		t.Fatalf("expected change allowed while waiting for the local address")
	}

	f.loop.RunUntilIdle()
	if f.connector.AllowsRandomAddressChange() {
		t.Fatalf("expected change disallowed once initiating")
	}

	// canceling before the address arrives never reaches the controller
	f.connector.Cancel()
	f.loop.RunUntilIdle()
	f.connect(publicAddress1)
	f.connector.Cancel()
	if len(f.results) != 2 || f.results[1] != ble.ErrCanceled {
		t.Fatalf("expected synchronous cancel, got %v", f.results)
	}
	f.loop.RunUntilIdle()
	if f.ctrl.CommandCount(cmd.LECreateConnectionOpCode) != 1 {
		t.Fatalf("expected a single create connection command")
	}
}

func TestConnectUsingRandomAddress(t *testing.T) {
	f := newConnectorFixture()
	f.addr.Local = ble.MustAddr(ble.AddrLERandom, "c0:00:00:00:00:01")
	f.ctrl.AddPeer(hcitest.NewFakePeer(randomAddress1, true, true))

	f.connect(randomAddress1)
	f.loop.RunUntilIdle()

	c, ok := f.ctrl.LastCreateConnection()
	if !ok || c.OwnAddressType != hci.AddressTypeRandom || c.PeerAddressType != hci.AddressTypeRandom {
		t.Fatalf("unexpected create connection %+v", c)
	}
	if len(f.results) != 1 || f.results[0] != nil {
		t.Fatalf("expected success but got %v", f.results)
	}
}
