package hcitest

import (
	ble "github.com/rigado/lehost"
	"github.com/rigado/lehost/dispatch"
)

// FakeLocalAddressDelegate hands out a fixed local address, either
// immediately or on the next dispatcher turn.
type FakeLocalAddressDelegate struct {
	d        dispatch.Dispatcher
	Async    bool
	Local    ble.Addr
	Identity ble.Addr
}

func NewFakeLocalAddressDelegate(d dispatch.Dispatcher) *FakeLocalAddressDelegate {
	public := ble.MustAddr(ble.AddrLEPublic, "01:02:03:04:05:06")
	return &FakeLocalAddressDelegate{d: d, Local: public, Identity: public}
}

func (f *FakeLocalAddressDelegate) IdentityAddress() ble.Addr {
	return f.Identity
}

func (f *FakeLocalAddressDelegate) EnsureLocalAddress(cb func(ble.Addr)) {
	local := f.Local
	if f.Async {
		f.d.Post(func() { cb(local) })
		return
	}
	cb(local)
}
