package hci

import (
	"github.com/pkg/errors"
	ble "github.com/rigado/lehost"
	"github.com/rigado/lehost/linux/hci/cmd"
)

// LocalAddressDelegate supplies the local address used by a link-layer
// procedure. EnsureLocalAddress may call back synchronously or later on the
// dispatcher.
type LocalAddressDelegate interface {
	IdentityAddress() ble.Addr
	EnsureLocalAddress(cb func(ble.Addr))
}

// AddressChangeGuard reports whether the random address may change now.
type AddressChangeGuard func() bool

// LocalAddressManager hands out the public address, or a random address
// once one was configured. A new random address is only programmed into
// the controller when every registered guard allows it, and procedures
// asking for an address wait for that command to complete.
type LocalAddressManager struct {
	cmds     CommandChannel
	public   ble.Addr
	random   *ble.Addr
	pending  *ble.Addr
	guards   []AddressChangeGuard
	waiters  []func(ble.Addr)
	inFlight bool
	log      ble.Logger
}

func NewLocalAddressManager(cmds CommandChannel, public ble.Addr) *LocalAddressManager {
	return &LocalAddressManager{
		cmds:   cmds,
		public: public,
		log:    ble.ComponentLogger("local-addr"),
	}
}

func (m *LocalAddressManager) IdentityAddress() ble.Addr {
	return m.public
}

// AddGuard registers a check consulted before the random address changes.
func (m *LocalAddressManager) AddGuard(g AddressChangeGuard) {
	m.guards = append(m.guards, g)
}

// SetRandomAddress schedules addr to be used for procedures from now on.
func (m *LocalAddressManager) SetRandomAddress(addr ble.Addr) error {
	if addr.Type != ble.AddrLERandom {
		return errors.Errorf("%v is not a random address", addr)
	}
	m.pending = &addr
	return nil
}

func (m *LocalAddressManager) EnsureLocalAddress(cb func(ble.Addr)) {
	if m.pending == nil || !m.changeAllowed() {
		cb(m.current())
		return
	}

	m.waiters = append(m.waiters, cb)
	if m.inFlight {
		return
	}

	m.inFlight = true
	addr := *m.pending
	m.cmds.SendCommand(&cmd.LESetRandomAddress{RandomAddress: addr.LittleEndian()}, func(err error, _ []byte) {
		m.inFlight = false
		if err != nil {
			m.log.Warnf("set random address %v: %v", addr, err)
		} else {
			m.random = &addr
			if m.pending != nil && *m.pending == addr {
				m.pending = nil
			}
		}

		waiters := m.waiters
		m.waiters = nil
		for _, w := range waiters {
			w(m.current())
		}
	})
}

func (m *LocalAddressManager) current() ble.Addr {
	if m.random != nil {
		return *m.random
	}
	return m.public
}

func (m *LocalAddressManager) changeAllowed() bool {
	for _, g := range m.guards {
		if !g() {
			return false
		}
	}
	return true
}
