// Package gap keeps track of remote devices and of the LE links to them.
// Peers live in a PeerCache; the LowEnergyConnectionManager turns
// connection requests into shared, reference counted links.
package gap

import (
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	ble "github.com/rigado/lehost"
	"github.com/rigado/lehost/linux/hci"
)

// PeerID identifies a peer for the lifetime of the process. IDs are never
// reused.
type PeerID uint64

func (id PeerID) String() string {
	return fmt.Sprintf("%016x", uint64(id))
}

// TechnologyType tells which transports a peer is known on.
type TechnologyType int

const (
	TechnologyLowEnergy TechnologyType = iota
	TechnologyClassic
	TechnologyDualMode
)

func (t TechnologyType) String() string {
	switch t {
	case TechnologyLowEnergy:
		return "le"
	case TechnologyClassic:
		return "classic"
	case TechnologyDualMode:
		return "dual-mode"
	}
	return fmt.Sprintf("technology(%d)", int(t))
}

func (t TechnologyType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

type ConnectionState int

const (
	NotConnected ConnectionState = iota
	Initializing
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case NotConnected:
		return "not-connected"
	case Initializing:
		return "initializing"
	case Connected:
		return "connected"
	}
	return fmt.Sprintf("connection-state(%d)", int(s))
}

func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// BondData holds the keys of a bonded peer. It is stored and handed back
// as is; nothing here computes or checks it.
type BondData struct {
	LongTermKey []byte `json:"longTermKey"`
	EDiv        uint16 `json:"encryptionDiversifier"`
	Random      uint64 `json:"randomValue"`
	Legacy      bool   `json:"legacy"`
}

// Peer is a remote device known to the host. Peers are owned by the
// PeerCache; hold on to the ID rather than the pointer across dispatcher
// turns.
type Peer struct {
	cache *PeerCache

	id          PeerID
	address     ble.Addr
	technology  TechnologyType
	connectable bool
	temporary   bool
	lastUpdated time.Time
	rssi        int8

	le    *LowEnergyData
	bredr *BrEdrData
}

func (p *Peer) ID() PeerID                 { return p.id }
func (p *Peer) Address() ble.Addr          { return p.address }
func (p *Peer) Technology() TechnologyType { return p.technology }
func (p *Peer) Connectable() bool          { return p.connectable }
func (p *Peer) LastUpdated() time.Time     { return p.lastUpdated }
func (p *Peer) RSSI() int8                 { return p.rssi }

// Temporary reports whether the peer is evicted from the cache once it has
// been left alone for the cache timeout.
func (p *Peer) Temporary() bool { return p.temporary }

// LE returns the LE part of the record, or nil for a classic-only peer.
func (p *Peer) LE() *LowEnergyData { return p.le }

// BrEdr returns the BR/EDR part of the record, or nil for an LE-only peer.
func (p *Peer) BrEdr() *BrEdrData { return p.bredr }

// Connected reports whether any transport has an established link.
func (p *Peer) Connected() bool {
	return (p.le != nil && p.le.state == Connected) ||
		(p.bredr != nil && p.bredr.state == Connected)
}

func (p *Peer) busy() bool {
	return (p.le != nil && p.le.state != NotConnected) ||
		(p.bredr != nil && p.bredr.state != NotConnected)
}

// identityKnown reports whether the address can be used to find the peer
// again later.
func (p *Peer) identityKnown() bool {
	if p.address.IsPublic() || p.address.IsStaticRandom() {
		return true
	}
	return p.le != nil && p.le.bond != nil
}

func (p *Peer) String() string {
	return fmt.Sprintf("peer %v (%v, %v)", p.id, p.address, p.technology)
}

func (p *Peer) touch() {
	p.lastUpdated = p.cache.d.Now()
	p.cache.notifyUpdated(p)
}

// connectionStateChanged keeps temporary in sync with the link state: a
// peer with an attempt or a link is pinned, a disconnected one falls back
// to temporary unless its identity is known.
func (p *Peer) connectionStateChanged() {
	if p.busy() {
		p.temporary = false
	} else if !p.identityKnown() {
		p.temporary = true
	}
	p.touch()
	p.cache.updateExpiry(p)
}

// MarshalJSON renders a snapshot of the record.
func (p *Peer) MarshalJSON() ([]byte, error) {
	type leSnapshot struct {
		State           ConnectionState                  `json:"state"`
		Params          *hci.LEConnectionParams          `json:"params,omitempty"`
		PreferredParams *hci.LEPreferredConnectionParams `json:"preferredParams,omitempty"`
		AdvertisingData []byte                           `json:"advertisingData,omitempty"`
		Bonded          bool                             `json:"bonded"`
	}
	type bredrSnapshot struct {
		State ConnectionState `json:"state"`
	}
	s := struct {
		ID          string         `json:"id"`
		Address     ble.Addr       `json:"address"`
		Technology  TechnologyType `json:"technology"`
		Connectable bool           `json:"connectable"`
		Temporary   bool           `json:"temporary"`
		RSSI        int8           `json:"rssi"`
		LastUpdated time.Time      `json:"lastUpdated"`
		LE          *leSnapshot    `json:"le,omitempty"`
		BrEdr       *bredrSnapshot `json:"bredr,omitempty"`
	}{
		ID:          p.id.String(),
		Address:     p.address,
		Technology:  p.technology,
		Connectable: p.connectable,
		Temporary:   p.temporary,
		RSSI:        p.rssi,
		LastUpdated: p.lastUpdated,
	}
	if le := p.le; le != nil {
		s.LE = &leSnapshot{
			State:           le.state,
			Params:          le.params,
			PreferredParams: le.preferred,
			AdvertisingData: le.advData,
			Bonded:          le.bond != nil,
		}
	}
	if p.bredr != nil {
		s.BrEdr = &bredrSnapshot{State: p.bredr.state}
	}
	return jsoniter.Marshal(s)
}

// LowEnergyData is the LE part of a peer record.
type LowEnergyData struct {
	peer *Peer

	state     ConnectionState
	params    *hci.LEConnectionParams
	preferred *hci.LEPreferredConnectionParams
	advData   []byte
	bond      *BondData
}

func (d *LowEnergyData) ConnectionState() ConnectionState { return d.state }
func (d *LowEnergyData) Connected() bool                  { return d.state == Connected }

func (d *LowEnergyData) SetConnectionState(s ConnectionState) {
	if d.state == s {
		return
	}
	d.peer.cache.log.Debugf("%v: LE %v -> %v", d.peer, d.state, s)
	d.state = s
	if s == NotConnected {
		d.params = nil
	}
	d.peer.connectionStateChanged()
}

// ConnectionParameters returns the parameters of the current link, nil if
// there is none.
func (d *LowEnergyData) ConnectionParameters() *hci.LEConnectionParams { return d.params }

func (d *LowEnergyData) SetConnectionParameters(p hci.LEConnectionParams) {
	d.params = &p
	d.peer.touch()
}

// PreferredConnectionParameters returns what the peer last asked for, nil
// if it never did.
func (d *LowEnergyData) PreferredConnectionParameters() *hci.LEPreferredConnectionParams {
	return d.preferred
}

func (d *LowEnergyData) SetPreferredConnectionParameters(p hci.LEPreferredConnectionParams) {
	d.preferred = &p
	d.peer.touch()
}

func (d *LowEnergyData) AdvertisingData() []byte { return d.advData }

// SetAdvertisingData records the payload and signal strength of the latest
// advertisement; it counts as activity for cache expiry.
func (d *LowEnergyData) SetAdvertisingData(rssi int8, data []byte) {
	d.advData = append(d.advData[:0], data...)
	d.peer.rssi = rssi
	d.peer.touch()
	d.peer.cache.updateExpiry(d.peer)
}

func (d *LowEnergyData) BondData() *BondData { return d.bond }

// SetBondData stores keys obtained by pairing. A bonded peer is never
// temporary.
func (d *LowEnergyData) SetBondData(b BondData) {
	d.bond = &b
	d.peer.temporary = false
	d.peer.touch()
	d.peer.cache.updateExpiry(d.peer)
}

// BrEdrData is the BR/EDR part of a peer record. Only the bookkeeping
// needed for dual-mode peers lives here.
type BrEdrData struct {
	peer  *Peer
	state ConnectionState
}

func (d *BrEdrData) ConnectionState() ConnectionState { return d.state }

func (d *BrEdrData) SetConnectionState(s ConnectionState) {
	if d.state == s {
		return
	}
	d.state = s
	d.peer.connectionStateChanged()
}
