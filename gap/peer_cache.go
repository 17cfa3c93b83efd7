package gap

import (
	"time"

	ble "github.com/rigado/lehost"
	"github.com/rigado/lehost/dispatch"
)

// DefaultCacheTimeout is how long a temporary peer survives without
// activity.
const DefaultCacheTimeout = 60 * time.Second

// PeerCache owns every known peer record. It indexes them by ID and by
// address, and evicts temporary peers that have been idle for the cache
// timeout. It must only be used from the dispatcher goroutine.
type PeerCache struct {
	d   dispatch.Dispatcher
	log ble.Logger

	timeout time.Duration
	nextID  PeerID

	peers   map[PeerID]*Peer
	order   []PeerID
	byAddr  map[ble.Addr]PeerID
	expiry  map[PeerID]*dispatch.Task
	updated func(*Peer)
	removed func(PeerID)
}

func NewPeerCache(d dispatch.Dispatcher) *PeerCache {
	return &PeerCache{
		d:       d,
		log:     ble.ComponentLogger("peer-cache"),
		timeout: DefaultCacheTimeout,
		peers:   make(map[PeerID]*Peer),
		byAddr:  make(map[ble.Addr]PeerID),
		expiry:  make(map[PeerID]*dispatch.Task),
	}
}

// SetCacheTimeout changes the expiry of temporary peers. It applies to
// expiry timers started afterwards.
func (c *PeerCache) SetCacheTimeout(d time.Duration) {
	c.timeout = d
}

func (c *PeerCache) SetPeerUpdatedCallback(cb func(*Peer))  { c.updated = cb }
func (c *PeerCache) SetPeerRemovedCallback(cb func(PeerID)) { c.removed = cb }

// NewPeer returns the peer known under addr, creating a temporary one if
// there is none. Finding an existing peer through the BR/EDR alias of an
// LE public address, or the other way around, makes it dual-mode.
func (c *PeerCache) NewPeer(addr ble.Addr, connectable bool) *Peer {
	if p := c.FindByAddress(addr); p != nil {
		if p.address.Type != addr.Type && p.address.IsAliasOf(addr) {
			c.promoteToDualMode(p, addr)
		}
		if connectable {
			p.connectable = true
		}
		p.touch()
		c.updateExpiry(p)
		return p
	}

	c.nextID++
	p := &Peer{
		cache:       c,
		id:          c.nextID,
		address:     addr,
		connectable: connectable,
		temporary:   true,
		lastUpdated: c.d.Now(),
	}
	if addr.IsLE() {
		p.technology = TechnologyLowEnergy
		p.le = &LowEnergyData{peer: p}
	} else {
		p.technology = TechnologyClassic
		p.bredr = &BrEdrData{peer: p}
	}

	c.peers[p.id] = p
	c.order = append(c.order, p.id)
	c.byAddr[addr] = p.id
	c.log.Debugf("new %v", p)

	c.updateExpiry(p)
	c.notifyUpdated(p)
	return p
}

func (c *PeerCache) promoteToDualMode(p *Peer, alias ble.Addr) {
	if p.technology == TechnologyDualMode {
		return
	}
	p.technology = TechnologyDualMode
	if p.le == nil {
		p.le = &LowEnergyData{peer: p}
	}
	if p.bredr == nil {
		p.bredr = &BrEdrData{peer: p}
	}
	c.byAddr[alias] = p.id
	c.log.Debugf("%v is dual-mode", p)
}

// FindByAddress looks up a peer by any of its addresses. A public address
// also matches a peer known under its LE or BR/EDR alias.
func (c *PeerCache) FindByAddress(addr ble.Addr) *Peer {
	if id, ok := c.byAddr[addr]; ok {
		return c.peers[id]
	}
	if !addr.IsPublic() {
		return nil
	}

	alias := addr
	if addr.Type == ble.AddrLEPublic {
		alias.Type = ble.AddrBREDR
	} else {
		alias.Type = ble.AddrLEPublic
	}
	if id, ok := c.byAddr[alias]; ok {
		return c.peers[id]
	}
	return nil
}

func (c *PeerCache) FindByID(id PeerID) *Peer {
	return c.peers[id]
}

// RemovePeer drops a peer that has neither a link nor a connection
// attempt. It reports whether the peer was removed.
func (c *PeerCache) RemovePeer(id PeerID) bool {
	p, ok := c.peers[id]
	if !ok {
		return false
	}
	if p.busy() {
		c.log.Infof("not removing %v: connection in use", p)
		return false
	}
	c.remove(p)
	return true
}

// ForEach calls fn for every peer, oldest first.
func (c *PeerCache) ForEach(fn func(*Peer)) {
	for _, id := range append([]PeerID(nil), c.order...) {
		if p, ok := c.peers[id]; ok {
			fn(p)
		}
	}
}

func (c *PeerCache) Count() int {
	return len(c.peers)
}

func (c *PeerCache) remove(p *Peer) {
	c.expiry[p.id].Cancel()
	delete(c.expiry, p.id)
	delete(c.peers, p.id)
	for a, id := range c.byAddr {
		if id == p.id {
			delete(c.byAddr, a)
		}
	}
	for i, id := range c.order {
		if id == p.id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}

	c.log.Debugf("removed %v", p)
	if c.removed != nil {
		c.removed(p.id)
	}
}

// updateExpiry restarts the expiry timer of a temporary idle peer and stops
// it for everything else.
func (c *PeerCache) updateExpiry(p *Peer) {
	if _, ok := c.peers[p.id]; !ok {
		return
	}
	c.expiry[p.id].Cancel()
	delete(c.expiry, p.id)

	if !p.temporary || p.busy() {
		return
	}

	id := p.id
	c.expiry[id] = c.d.PostDelayed(c.timeout, func() {
		p, ok := c.peers[id]
		if !ok || !p.temporary || p.busy() {
			return
		}
		c.log.Debugf("%v expired", p)
		c.remove(p)
	})
}

func (c *PeerCache) notifyUpdated(p *Peer) {
	if c.updated != nil {
		c.updated(p)
	}
}
