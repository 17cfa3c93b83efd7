package gap

import (
	"fmt"
)

// LowEnergyConnectionRef is one caller's interest in an LE link. The link
// stays up while at least one ref is held; releasing the last ref
// disconnects it. A ref becomes inactive when the link goes away, and its
// closed callback runs once at that moment.
type LowEnergyConnectionRef struct {
	conn     *connection
	peerID   PeerID
	handle   uint16
	active   bool
	released bool
	closed   func()
}

// Active reports whether the link behind the ref is still up.
func (r *LowEnergyConnectionRef) Active() bool {
	return r.active
}

// PeerID returns the peer the link goes to. The ref must be active.
func (r *LowEnergyConnectionRef) PeerID() PeerID {
	r.mustBeActive()
	return r.peerID
}

// Handle returns the HCI connection handle of the link. The ref must be
// active.
func (r *LowEnergyConnectionRef) Handle() uint16 {
	r.mustBeActive()
	return r.handle
}

// SetClosedCallback sets the function called when the link is torn down
// while the ref is held. It is not called for a ref released by its owner.
func (r *LowEnergyConnectionRef) SetClosedCallback(cb func()) {
	r.closed = cb
}

// Release gives up the ref. Releasing an inactive ref is a no-op; releasing
// a ref twice is a programming error.
func (r *LowEnergyConnectionRef) Release() {
	if r.released {
		panic(fmt.Sprintf("gap: connection ref to %v released twice", r.peerID))
	}
	r.released = true
	if !r.active {
		return
	}
	r.active = false
	r.closed = nil
	r.conn.releaseRef(r)
}

func (r *LowEnergyConnectionRef) String() string {
	state := "inactive"
	if r.active {
		state = "active"
	}
	return fmt.Sprintf("connection ref %v 0x%04x (%s)", r.peerID, r.handle, state)
}

func (r *LowEnergyConnectionRef) mustBeActive() {
	if !r.active {
		panic(fmt.Sprintf("gap: %v used after the link closed", r))
	}
}

// invalidate marks the ref inactive and runs its closed callback.
func (r *LowEnergyConnectionRef) invalidate() {
	if !r.active {
		return
	}
	r.active = false
	cb := r.closed
	r.closed = nil
	if cb != nil {
		cb()
	}
}
