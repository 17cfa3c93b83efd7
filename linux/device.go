// Package linux assembles the LE host on top of a Linux HCI transport: the
// controller channel, L2CAP signaling, the peer cache, the connector, the
// connection manager and the scanner, all served by one dispatch.Loop.
package linux

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	ble "github.com/rigado/lehost"
	"github.com/rigado/lehost/cache"
	"github.com/rigado/lehost/dispatch"
	"github.com/rigado/lehost/gap"
	"github.com/rigado/lehost/linux/hci"
	"github.com/rigado/lehost/linux/hci/cmd"
	"github.com/rigado/lehost/linux/hci/controller"
	"github.com/rigado/lehost/linux/l2cap"
)

// ScanHandler receives the devices found by a scan started with Scan,
// after the peer cache has been updated. It runs on the dispatcher.
type ScanHandler func(p *gap.Peer, r hci.LowEnergyScanResult, data []byte)

// Device is a running host. Unless a method says otherwise it must be
// used from the dispatcher, i.e. from functions handed to Post or Call.
type Device struct {
	transport      controller.Transport
	requestTimeout time.Duration
	cacheTimeout   time.Duration
	connParams     cmd.LECreateConnection
	scanParams     cmd.LESetScanParameters
	errorHandler   func(error)
	bonds          *cache.BondCache
	log            ble.Logger

	loop      *dispatch.Loop
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	mu  sync.Mutex
	err error

	hci       *controller.HCI
	signaling *l2cap.Signaling
	addr      *hci.LocalAddressManager
	peers     *gap.PeerCache
	connector *hci.LowEnergyConnector
	manager   *gap.LowEnergyConnectionManager
	scanner   *hci.LegacyLowEnergyScanner

	scanHandler ScanHandler

	// refs held on behalf of remote-initiated links
	incoming map[gap.PeerID]*gap.LowEnergyConnectionRef
}

func newDevice() *Device {
	return &Device{
		transport:      controller.Transport{HCI: &controller.TransportHCI{ID: -1}},
		requestTimeout: gap.DefaultRequestTimeout,
		cacheTimeout:   gap.DefaultCacheTimeout,
		connParams:     hci.DefaultConnParams(),
		scanParams:     hci.DefaultScanParams(),
		log:            ble.ComponentLogger("device"),
		incoming:       make(map[gap.PeerID]*gap.LowEnergyConnectionRef),
	}
}

// NewDevice applies opts, opens the transport and initializes the
// controller. It returns once the host is ready for use.
func NewDevice(opts ...ble.Option) (*Device, error) {
	d := newDevice()
	if err := d.Option(opts...); err != nil {
		return nil, errors.Wrap(err, "can't set options")
	}

	skt, err := d.transport.Open()
	if err != nil {
		return nil, errors.Wrapf(err, "can't open %v", d.transport)
	}
	if err := d.start(skt); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Device) start(skt io.ReadWriteCloser) error {
	d.loop = dispatch.NewLoop()
	d.done = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	go func() {
		defer close(d.done)
		d.loop.Run(ctx)
	}()

	d.hci = controller.New(d.loop, skt)
	d.hci.SetErrorHandler(d.onControllerError)
	d.hci.Start()

	ready := make(chan error, 1)
	d.loop.Post(func() {
		d.hci.Init(func(err error) {
			if err == nil {
				err = d.build()
			}
			ready <- err
		})
	})

	if err := <-ready; err != nil {
		d.Close()
		return err
	}
	d.log.Infof("host ready on %v, address %v", d.transport, d.hci.Addr())
	return nil
}

// build creates the host components once the controller is initialized.
func (d *Device) build() error {
	d.signaling = l2cap.NewSignaling(d.hci)
	d.hci.SetACLHandler(d.signaling.HandleACL)

	d.peers = gap.NewPeerCache(d.loop)
	d.peers.SetCacheTimeout(d.cacheTimeout)

	d.addr = hci.NewLocalAddressManager(d.hci, d.hci.Addr())

	d.connector = hci.NewLowEnergyConnector(d.loop, d.hci, d.addr, d.onIncomingLink)
	d.connector.SetScanParameters(d.connParams.LEScanInterval, d.connParams.LEScanWindow)

	d.manager = gap.NewLowEnergyConnectionManager(d.loop, d.hci, d.connector, d.peers, d.signaling)
	d.manager.SetRequestTimeout(d.requestTimeout)
	d.manager.SetConnectionParameters(hci.PreferredFromCreateConnection(d.connParams))

	d.scanner = hci.NewLegacyLowEnergyScanner(d.loop, d.hci, d.addr, d)

	d.addr.AddGuard(d.connector.AllowsRandomAddressChange)
	d.addr.AddGuard(d.scanner.AllowsRandomAddressChange)

	return d.restoreBonds()
}

func (d *Device) restoreBonds() error {
	if d.bonds == nil {
		return nil
	}
	bonds, err := d.bonds.All()
	if err != nil {
		return errors.Wrapf(err, "can't load bonds from %s", d.bonds.Filename())
	}
	for _, b := range bonds {
		if !b.Address.IsLE() {
			d.log.Warnf("skipping bond of non-LE address %v", b.Address)
			continue
		}
		d.peers.NewPeer(b.Address, true).LE().SetBondData(b.Data)
	}
	d.log.Debugf("restored %d bonds", len(bonds))
	return nil
}

func (d *Device) onIncomingLink(link *hci.Connection) {
	ref := d.manager.RegisterRemoteInitiatedLink(link)
	if ref == nil {
		return
	}
	id := ref.PeerID()
	d.incoming[id] = ref
	ref.SetClosedCallback(func() {
		if d.incoming[id] == ref {
			delete(d.incoming, id)
		}
	})
}

func (d *Device) onControllerError(err error) {
	d.log.Errorf("controller: %v", err)
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
	if d.errorHandler != nil {
		d.errorHandler(err)
	}
}

// OnPeerFound records the result in the peer cache and hands it to the
// current scan handler.
func (d *Device) OnPeerFound(r hci.LowEnergyScanResult, data []byte) {
	p := d.peers.NewPeer(r.Address, r.Connectable)
	p.LE().SetAdvertisingData(r.RSSI, data)
	if d.scanHandler != nil {
		d.scanHandler(p, r, data)
	}
}

// OnDirectedAdvertisement only notes the peer; directed advertisements
// carry no data.
func (d *Device) OnDirectedAdvertisement(r hci.LowEnergyScanResult) {
	p := d.peers.NewPeer(r.Address, true)
	d.log.Debugf("directed advertisement from %v", p)
	if d.scanHandler != nil {
		d.scanHandler(p, r, nil)
	}
}

// ScanOptions are the scan parameters the device was configured with,
// unbounded and with duplicate filtering.
func (d *Device) ScanOptions() hci.ScanOptions {
	return hci.ScanOptions{
		Active:           d.scanParams.LEScanType == hci.LEScanTypeActive,
		Interval:         d.scanParams.LEScanInterval,
		Window:           d.scanParams.LEScanWindow,
		FilterDuplicates: true,
		FilterPolicy:     d.scanParams.ScanningFilterPolicy,
		Period:           hci.PeriodInfinite,
	}
}

// Scan starts a scan reporting to h. It returns false if a scan is
// already running.
func (d *Device) Scan(opts hci.ScanOptions, h ScanHandler, cb hci.ScanStatusCallback) bool {
	if !d.scanner.StartScan(opts, func(s hci.ScanStatus) {
		switch s {
		case hci.ScanFailed, hci.ScanStopped, hci.ScanComplete:
			d.scanHandler = nil
		}
		cb(s)
	}) {
		return false
	}
	d.scanHandler = h
	return true
}

// Connect asks for a link to addr and waits for the outcome. The peer is
// added to the cache if needed. It may be called from any goroutine; the
// returned ref must only be used on the dispatcher.
func (d *Device) Connect(ctx context.Context, addr ble.Addr) (*gap.LowEnergyConnectionRef, error) {
	type result struct {
		ref *gap.LowEnergyConnectionRef
		err error
	}
	ch := make(chan result, 1)

	// drain releases a ref that arrives after the caller gave up
	drain := func() {
		go func() {
			select {
			case r := <-ch:
				if r.ref != nil {
					d.loop.Post(r.ref.Release)
				}
			case <-d.done:
			}
		}()
	}

	var accepted bool
	err := d.loop.Call(ctx, func() {
		if ctx.Err() != nil {
			return
		}
		p := d.peers.NewPeer(addr, true)
		accepted = d.manager.Connect(p.ID(), func(err error, ref *gap.LowEnergyConnectionRef) {
			ch <- result{ref, err}
		})
	})
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		drain()
		return nil, err
	}
	if !accepted {
		return nil, errors.Wrapf(ble.ErrInvalidParameters, "can't connect to %v", addr)
	}

	select {
	case r := <-ch:
		return r.ref, r.err
	case <-ctx.Done():
		drain()
		return nil, ctx.Err()
	}
}

// Addr is the public address of the controller.
func (d *Device) Addr() ble.Addr { return d.hci.Addr() }

func (d *Device) Peers() *gap.PeerCache                    { return d.peers }
func (d *Device) Manager() *gap.LowEnergyConnectionManager { return d.manager }
func (d *Device) Scanner() *hci.LegacyLowEnergyScanner     { return d.scanner }
func (d *Device) LocalAddress() *hci.LocalAddressManager   { return d.addr }
func (d *Device) Bonds() *cache.BondCache                  { return d.bonds }

// Post runs fn on the dispatcher. Safe to call from any goroutine.
func (d *Device) Post(fn func()) { d.loop.Post(fn) }

// Call runs fn on the dispatcher and waits for it. It must not be called
// from the dispatcher.
func (d *Device) Call(ctx context.Context, fn func()) error {
	return d.loop.Call(ctx, fn)
}

// Done is closed once the device has been closed.
func (d *Device) Done() <-chan struct{} { return d.done }

// Err returns the controller failure that stopped the device, if any.
func (d *Device) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Close fails outstanding requests, disconnects every link and closes the
// transport. Safe to call from any goroutine but the dispatcher.
func (d *Device) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.loop.Call(context.Background(), func() {
			if d.manager != nil {
				d.manager.Close()
			}
			if d.scanner != nil {
				d.scanner.Close()
			}
			if d.connector != nil {
				d.connector.Close()
			}
			err = d.hci.Close()
		})
		d.cancel()
		<-d.done
		d.loop.Close()
	})
	return err
}
