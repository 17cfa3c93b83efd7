package gap

import (
	"sort"
	"time"

	ble "github.com/rigado/lehost"
	"github.com/rigado/lehost/dispatch"
	"github.com/rigado/lehost/linux/hci"
	"github.com/rigado/lehost/linux/hci/evt"
	"github.com/rigado/lehost/linux/l2cap"
)

// DefaultRequestTimeout bounds an outgoing connection attempt.
const DefaultRequestTimeout = 20 * time.Second

// ConnectionResultCallback receives the outcome of Connect. On success err
// is nil and ref is active; otherwise ref is nil.
type ConnectionResultCallback func(err error, ref *LowEnergyConnectionRef)

type pendingRequest struct {
	seq       uint64
	peerID    PeerID
	addr      ble.Addr
	callbacks []ConnectionResultCallback
}

// connection is a link shared by all refs handed out for a peer.
type connection struct {
	mgr     *LowEnergyConnectionManager
	peerID  PeerID
	link    *hci.Connection
	refs    []*LowEnergyConnectionRef
	closing bool
}

func (c *connection) addRef() *LowEnergyConnectionRef {
	r := &LowEnergyConnectionRef{
		conn:   c,
		peerID: c.peerID,
		handle: c.link.Handle(),
		active: true,
	}
	c.refs = append(c.refs, r)
	return r
}

func (c *connection) releaseRef(r *LowEnergyConnectionRef) {
	for i, ref := range c.refs {
		if ref == r {
			c.refs = append(c.refs[:i], c.refs[i+1:]...)
			break
		}
	}
	if len(c.refs) == 0 && !c.closing {
		c.mgr.log.Debugf("last ref to %v released", c.peerID)
		c.mgr.cleanUpConnection(c, true)
	}
}

// LowEnergyConnectionManager hands out LE links to peers of a PeerCache.
// Concurrent requests for one peer share a single connection attempt and a
// single link. It must only be used from the dispatcher goroutine.
type LowEnergyConnectionManager struct {
	d         dispatch.Dispatcher
	cmds      hci.CommandChannel
	connector *hci.LowEnergyConnector
	cache     *PeerCache
	l2cap     l2cap.Domain
	log       ble.Logger

	requestTimeout time.Duration
	params         hci.LEPreferredConnectionParams

	nextSeq     uint64
	pending     map[PeerID]*pendingRequest
	queue       []PeerID
	connections map[PeerID]*connection
	tearingDown map[PeerID]bool
	closed      bool

	disconnectionHandler hci.HandlerID
	updateHandler        hci.HandlerID

	disconnectHook func(handle uint16)
	paramsHook     func(*Peer)
}

func NewLowEnergyConnectionManager(d dispatch.Dispatcher, cmds hci.CommandChannel, connector *hci.LowEnergyConnector, cache *PeerCache, domain l2cap.Domain) *LowEnergyConnectionManager {
	m := &LowEnergyConnectionManager{
		d:              d,
		cmds:           cmds,
		connector:      connector,
		cache:          cache,
		l2cap:          domain,
		log:            ble.ComponentLogger("le-conn-mgr"),
		requestTimeout: DefaultRequestTimeout,
		params:         hci.DefaultPreferredConnectionParams(),
		pending:        make(map[PeerID]*pendingRequest),
		connections:    make(map[PeerID]*connection),
		tearingDown:    make(map[PeerID]bool),
	}
	m.disconnectionHandler = cmds.AddEventHandler(evt.DisconnectionCompleteCode, m.onDisconnectionComplete)
	m.updateHandler = cmds.AddLEMetaEventHandler(evt.LEConnectionUpdateCompleteSubCode, m.onConnectionUpdateComplete)
	return m
}

// SetConnectionParameters sets the parameters requested for outgoing links.
func (m *LowEnergyConnectionManager) SetConnectionParameters(p hci.LEPreferredConnectionParams) {
	m.params = p
}

func (m *LowEnergyConnectionManager) SetRequestTimeout(d time.Duration) {
	m.requestTimeout = d
}

func (m *LowEnergyConnectionManager) SetRequestTimeoutForTesting(d time.Duration) {
	m.SetRequestTimeout(d)
}

// SetDisconnectCallbackForTesting is called with the handle of every link
// the controller reports disconnected or L2CAP reports a link error on,
// once the link has been torn down.
func (m *LowEnergyConnectionManager) SetDisconnectCallbackForTesting(cb func(handle uint16)) {
	m.disconnectHook = cb
}

// SetConnectionParametersCallbackForTesting is called when a link's
// parameters change.
func (m *LowEnergyConnectionManager) SetConnectionParametersCallbackForTesting(cb func(*Peer)) {
	m.paramsHook = cb
}

// Connect asks for a link to the peer. It returns false, without calling
// cb, if the peer is unknown, not an LE peer, or not connectable. Otherwise
// cb is called exactly once: right away on the next dispatcher turn if the
// peer is connected, or when the connection attempt resolves.
func (m *LowEnergyConnectionManager) Connect(id PeerID, cb ConnectionResultCallback) bool {
	if m.closed {
		return false
	}
	peer := m.cache.FindByID(id)
	if peer == nil {
		m.log.Debugf("connect: peer %v not found", id)
		return false
	}
	if peer.LE() == nil {
		m.log.Debugf("connect: %v is not an LE peer", peer)
		return false
	}
	if !peer.Connectable() {
		m.log.Debugf("connect: %v is not connectable", peer)
		return false
	}

	if m.tearingDown[id] {
		m.log.Debugf("connect: link to %v is being torn down", peer)
		m.d.Post(func() { cb(ble.ErrFailed, nil) })
		return true
	}

	if req, ok := m.pending[id]; ok {
		req.callbacks = append(req.callbacks, cb)
		return true
	}

	if conn, ok := m.connections[id]; ok {
		ref := conn.addRef()
		m.d.Post(func() {
			if !ref.Active() {
				cb(ble.ErrFailed, nil)
				return
			}
			cb(nil, ref)
		})
		return true
	}

	m.nextSeq++
	m.pending[id] = &pendingRequest{
		seq:       m.nextSeq,
		peerID:    id,
		addr:      peer.Address(),
		callbacks: []ConnectionResultCallback{cb},
	}
	m.queue = append(m.queue, id)
	peer.LE().SetConnectionState(Initializing)

	m.tryCreateNextConnection()
	return true
}

// Disconnect tears down the link to the peer, invalidating every ref to
// it. It returns false if the peer has no link.
func (m *LowEnergyConnectionManager) Disconnect(id PeerID) bool {
	conn, ok := m.connections[id]
	if !ok {
		return false
	}
	m.log.Infof("disconnecting %v", id)
	m.cleanUpConnection(conn, true)
	return true
}

// RegisterRemoteInitiatedLink takes ownership of a link the remote device
// created and returns the first ref to it. The peer is added to the cache
// if needed. It returns nil if the peer already has a link.
func (m *LowEnergyConnectionManager) RegisterRemoteInitiatedLink(link *hci.Connection) *LowEnergyConnectionRef {
	if m.closed {
		link.Close()
		return nil
	}

	peer := m.cache.NewPeer(link.PeerAddress(), true)
	id := peer.ID()
	if _, ok := m.connections[id]; ok || m.tearingDown[id] {
		m.log.Warnf("%v already has a link, closing %v", peer, link)
		link.Close()
		return nil
	}

	conn := m.initializeConnection(id, link)
	if conn == nil {
		return nil
	}
	ref := conn.addRef()

	// Callers waiting on an outgoing attempt get the incoming link instead.
	if req, ok := m.pending[id]; ok {
		delete(m.pending, id)
		if a, ok := m.connector.PendingPeerAddress(); ok && a == req.addr {
			m.connector.Cancel()
		}
		m.fanOut(conn, req)
	}
	return ref
}

// ConnectedPeers lists the peers with a link.
func (m *LowEnergyConnectionManager) ConnectedPeers() []PeerID {
	ids := make([]PeerID, 0, len(m.connections))
	for id := range m.connections {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Close fails every pending request with ble.ErrFailed, then invalidates
// every ref and disconnects its link, then cancels the outstanding
// connection attempt.
func (m *LowEnergyConnectionManager) Close() {
	if m.closed {
		return
	}
	m.closed = true
	m.cmds.RemoveEventHandler(m.disconnectionHandler)
	m.cmds.RemoveEventHandler(m.updateHandler)

	reqs := make([]*pendingRequest, 0, len(m.pending))
	for _, req := range m.pending {
		reqs = append(reqs, req)
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].seq < reqs[j].seq })
	m.pending = make(map[PeerID]*pendingRequest)
	m.queue = nil

	for _, req := range reqs {
		if peer := m.cache.FindByID(req.peerID); peer != nil {
			peer.LE().SetConnectionState(NotConnected)
		}
		for _, cb := range req.callbacks {
			cb(ble.ErrFailed, nil)
		}
	}

	for _, id := range m.ConnectedPeers() {
		if conn, ok := m.connections[id]; ok {
			m.cleanUpConnection(conn, true)
		}
	}

	if m.connector.RequestPending() {
		m.connector.Cancel()
	}
}

func (m *LowEnergyConnectionManager) tryCreateNextConnection() {
	if m.closed || m.connector.RequestPending() {
		return
	}

	for len(m.queue) > 0 {
		id := m.queue[0]
		m.queue = m.queue[1:]

		req, ok := m.pending[id]
		if !ok {
			continue
		}
		peer := m.cache.FindByID(id)
		if peer == nil {
			delete(m.pending, id)
			for _, cb := range req.callbacks {
				cb(ble.ErrNotFound, nil)
			}
			continue
		}

		m.log.Debugf("connecting to %v", peer)
		started := m.connector.CreateConnection(req.addr, m.params, m.requestTimeout, func(err error, link *hci.Connection) {
			m.onConnectResult(req, err, link)
		})
		if !started {
			// Only one attempt runs at a time, so this is not expected.
			m.log.Errorf("connector refused attempt to %v", peer)
			m.failRequest(req, ble.ErrFailed)
			continue
		}
		return
	}
}

func (m *LowEnergyConnectionManager) onConnectResult(req *pendingRequest, err error, link *hci.Connection) {
	if m.closed {
		if link != nil {
			link.Close()
		}
		return
	}

	if m.pending[req.peerID] != req {
		// Served by an incoming link, or dropped.
		if link != nil {
			link.Close()
		}
		m.tryCreateNextConnection()
		return
	}

	if err != nil {
		m.log.Infof("connection to %v failed: %v", req.peerID, err)
		m.failRequest(req, err)
	} else {
		delete(m.pending, req.peerID)
		if conn := m.initializeConnection(req.peerID, link); conn != nil {
			m.fanOut(conn, req)
		} else {
			for _, cb := range req.callbacks {
				cb(ble.ErrFailed, nil)
			}
		}
	}

	m.tryCreateNextConnection()
}

func (m *LowEnergyConnectionManager) failRequest(req *pendingRequest, err error) {
	delete(m.pending, req.peerID)
	if peer := m.cache.FindByID(req.peerID); peer != nil {
		peer.LE().SetConnectionState(NotConnected)
	}
	for _, cb := range req.callbacks {
		cb(err, nil)
	}
}

// fanOut hands every waiter of req its own ref to conn. All refs exist
// before the first callback runs, so a callback releasing its ref cannot
// take the link down under the others.
func (m *LowEnergyConnectionManager) fanOut(conn *connection, req *pendingRequest) {
	refs := make([]*LowEnergyConnectionRef, len(req.callbacks))
	for i := range req.callbacks {
		refs[i] = conn.addRef()
	}
	for i, cb := range req.callbacks {
		if !refs[i].Active() {
			cb(ble.ErrFailed, nil)
			continue
		}
		cb(nil, refs[i])
	}
}

func (m *LowEnergyConnectionManager) initializeConnection(id PeerID, link *hci.Connection) *connection {
	peer := m.cache.FindByID(id)
	if peer == nil || peer.LE() == nil {
		m.log.Warnf("peer %v gone, closing %v", id, link)
		link.Close()
		return nil
	}

	conn := &connection{mgr: m, peerID: id, link: link}
	m.connections[id] = conn

	handle := link.Handle()
	m.l2cap.RegisterLE(handle, link.Role(), func(p hci.LEPreferredConnectionParams) {
		m.onNewLEConnectionParams(id, handle, p)
	}, func() {
		m.onLinkError(id, handle)
	})

	peer.LE().SetConnectionState(Connected)
	peer.LE().SetConnectionParameters(link.LEParameters())
	m.log.Infof("connected to %v: %v", peer, link)
	return conn
}

// cleanUpConnection tears down conn: the peer is marked disconnected first,
// then each ref still held is invalidated in the order it was handed out.
// Connect calls made from the closed callbacks see the peer as
// disconnected and fail with ble.ErrFailed.
func (m *LowEnergyConnectionManager) cleanUpConnection(conn *connection, closeLink bool) {
	if conn.closing {
		return
	}
	conn.closing = true

	id := conn.peerID
	handle := conn.link.Handle()
	delete(m.connections, id)
	m.tearingDown[id] = true
	defer delete(m.tearingDown, id)

	m.l2cap.Unregister(handle)
	if peer := m.cache.FindByID(id); peer != nil {
		peer.LE().SetConnectionState(NotConnected)
	}

	for len(conn.refs) > 0 {
		r := conn.refs[0]
		conn.refs = conn.refs[1:]
		r.invalidate()
	}

	if closeLink {
		conn.link.Disconnect(hci.ErrRemoteUser)
	} else {
		conn.link.MarkClosed()
		if m.disconnectHook != nil {
			m.disconnectHook(handle)
		}
	}
}

func (m *LowEnergyConnectionManager) findByHandle(handle uint16) *connection {
	for _, conn := range m.connections {
		if conn.link.Handle() == handle {
			return conn
		}
	}
	return nil
}

func (m *LowEnergyConnectionManager) onDisconnectionComplete(params []byte) {
	e := evt.DisconnectionComplete(params)
	status, err := e.StatusWErr()
	if err != nil {
		m.log.Warnf("malformed disconnection complete: %v", err)
		return
	}
	handle, err := e.ConnectionHandleWErr()
	if err != nil {
		m.log.Warnf("malformed disconnection complete: %v", err)
		return
	}
	if status != 0x00 {
		m.log.Warnf("disconnection of 0x%04x failed: %v", handle, hci.ErrCommand(status))
		return
	}

	conn := m.findByHandle(handle)
	if conn == nil {
		m.log.Debugf("disconnection complete for unknown link 0x%04x", handle)
		return
	}
	reason, _ := e.ReasonWErr()
	m.log.Infof("link to %v disconnected: %v", conn.peerID, hci.ErrCommand(reason))
	m.cleanUpConnection(conn, false)
}

func (m *LowEnergyConnectionManager) onLinkError(id PeerID, handle uint16) {
	conn, ok := m.connections[id]
	if !ok || conn.link.Handle() != handle {
		return
	}
	m.log.Warnf("link error on %v, disconnecting", conn.link)
	m.cleanUpConnection(conn, true)
	if m.disconnectHook != nil {
		m.disconnectHook(handle)
	}
}

func (m *LowEnergyConnectionManager) onNewLEConnectionParams(id PeerID, handle uint16, p hci.LEPreferredConnectionParams) {
	conn, ok := m.connections[id]
	if !ok || conn.link.Handle() != handle {
		return
	}
	peer := m.cache.FindByID(id)
	if peer == nil {
		return
	}
	peer.LE().SetPreferredConnectionParameters(p)

	// Only the central may update the parameters of a link.
	if conn.link.Role() == hci.RoleMaster {
		conn.link.UpdateParameters(p, nil)
	}
}

func (m *LowEnergyConnectionManager) onConnectionUpdateComplete(params []byte) {
	e := evt.LEConnectionUpdateComplete(params)
	status, err := e.StatusWErr()
	if err != nil {
		m.log.Warnf("malformed connection update complete: %v", err)
		return
	}
	handle, err := e.ConnectionHandleWErr()
	if err != nil {
		m.log.Warnf("malformed connection update complete: %v", err)
		return
	}
	conn := m.findByHandle(handle)
	if conn == nil {
		m.log.Debugf("connection update for unknown link 0x%04x", handle)
		return
	}
	if status != 0x00 {
		m.log.Warnf("connection update of %v failed: %v", conn.link, hci.ErrCommand(status))
		return
	}

	interval, _ := e.ConnIntervalWErr()
	latency, _ := e.ConnLatencyWErr()
	sto, _ := e.SupervisionTimeoutWErr()
	lp := hci.LEConnectionParams{Interval: interval, Latency: latency, SupervisionTimeout: sto}
	conn.link.SetLEParameters(lp)

	peer := m.cache.FindByID(conn.peerID)
	if peer == nil {
		return
	}
	peer.LE().SetConnectionParameters(lp)
	if m.paramsHook != nil {
		m.paramsHook(peer)
	}
}
