// Package l2captest provides an in-memory l2cap.Domain for tests.
package l2captest

import (
	"github.com/rigado/lehost/linux/hci"
	"github.com/rigado/lehost/linux/l2cap"
)

type registration struct {
	role    hci.Role
	params  l2cap.ParamsCallback
	linkErr l2cap.LinkErrorCallback
}

// FakeDomain records link registrations and lets tests raise the signals
// the real signaling channel would.
type FakeDomain struct {
	links map[uint16]registration
}

func NewFakeDomain() *FakeDomain {
	return &FakeDomain{links: make(map[uint16]registration)}
}

func (f *FakeDomain) RegisterLE(handle uint16, role hci.Role, params l2cap.ParamsCallback, linkErr l2cap.LinkErrorCallback) {
	f.links[handle] = registration{role: role, params: params, linkErr: linkErr}
}

func (f *FakeDomain) Unregister(handle uint16) {
	delete(f.links, handle)
}

func (f *FakeDomain) IsRegistered(handle uint16) bool {
	_, ok := f.links[handle]
	return ok
}

// TriggerLEConnectionParameterUpdate delivers p as if the remote had sent
// an accepted Connection Parameter Update Request. It reports whether the
// link was registered.
func (f *FakeDomain) TriggerLEConnectionParameterUpdate(handle uint16, p hci.LEPreferredConnectionParams) bool {
	r, ok := f.links[handle]
	if !ok {
		return false
	}
	if r.params != nil {
		r.params(p)
	}
	return true
}

// SignalLinkError reports the link as broken.
func (f *FakeDomain) SignalLinkError(handle uint16) bool {
	r, ok := f.links[handle]
	if !ok {
		return false
	}
	if r.linkErr != nil {
		r.linkErr()
	}
	return true
}
