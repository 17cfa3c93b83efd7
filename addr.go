package ble

import (
	"fmt"
	"net"
	"strings"
)

// AddrType tells which technology and address space an Addr belongs to.
type AddrType uint8

const (
	AddrBREDR AddrType = iota
	AddrLEPublic
	AddrLERandom
	AddrLEAnonymous
)

func (t AddrType) String() string {
	switch t {
	case AddrBREDR:
		return "br/edr"
	case AddrLEPublic:
		return "le-public"
	case AddrLERandom:
		return "le-random"
	case AddrLEAnonymous:
		return "le-anonymous"
	}
	return fmt.Sprintf("addr-type(%d)", uint8(t))
}

// Addr is a typed 48-bit device address. It is comparable and can be used
// as a map key.
type Addr struct {
	Type AddrType

	// value is stored in the order it is written, most significant octet first
	value [6]byte
}

// NewAddr creates an Addr from a colon separated string such as
// "00:11:22:33:44:55".
func NewAddr(t AddrType, s string) (Addr, error) {
	hw, err := net.ParseMAC(s)
	if err != nil || len(hw) != 6 {
		return Addr{}, fmt.Errorf("invalid address %q", s)
	}

	a := Addr{Type: t}
	copy(a.value[:], hw)
	return a, nil
}

// MustAddr is like NewAddr but panics on malformed input. Meant for
// constants and tests.
func MustAddr(t AddrType, s string) Addr {
	a, err := NewAddr(t, s)
	if err != nil {
		panic(err)
	}
	return a
}

// AddrFromLittleEndian builds an Addr from the byte order used on the HCI
// wire.
func AddrFromLittleEndian(t AddrType, b [6]byte) Addr {
	a := Addr{Type: t}
	for i := 0; i < 6; i++ {
		a.value[i] = b[5-i]
	}
	return a
}

// LittleEndian returns the address in HCI wire order.
func (a Addr) LittleEndian() [6]byte {
	var b [6]byte
	for i := 0; i < 6; i++ {
		b[i] = a.value[5-i]
	}
	return b
}

func (a Addr) String() string {
	return strings.ToLower(net.HardwareAddr(a.value[:]).String())
}

// Bytes returns the address, most significant octet first.
func (a Addr) Bytes() []byte {
	out := make([]byte, 6)
	copy(out, a.value[:])
	return out
}

// IsLE reports whether the address belongs to the LE address space.
func (a Addr) IsLE() bool {
	return a.Type != AddrBREDR
}

// IsPublic reports whether the address is a public device address, LE or BR/EDR.
func (a Addr) IsPublic() bool {
	return a.Type == AddrBREDR || a.Type == AddrLEPublic
}

// IsResolvablePrivate reports whether a random address is a resolvable
// private address (two most significant bits 0b01).
func (a Addr) IsResolvablePrivate() bool {
	return a.Type == AddrLERandom && a.value[0]&0xc0 == 0x40
}

// IsStaticRandom reports whether a random address is a static device address.
func (a Addr) IsStaticRandom() bool {
	return a.Type == AddrLERandom && a.value[0]&0xc0 == 0xc0
}

// SameValue reports whether two addresses carry the same 48-bit value,
// regardless of their type.
func (a Addr) SameValue(b Addr) bool {
	return a.value == b.value
}

// IsAliasOf reports whether a and b are the LE public and BR/EDR forms of
// the same identity.
func (a Addr) IsAliasOf(b Addr) bool {
	return a.SameValue(b) && a.Type != b.Type && a.IsPublic() && b.IsPublic()
}

func (a Addr) MarshalText() ([]byte, error) {
	return []byte(a.String() + "/" + a.Type.String()), nil
}

// UnmarshalText parses the "value/type" form written by MarshalText. A bare
// value is taken as an LE public address.
func (a *Addr) UnmarshalText(b []byte) error {
	s := string(b)
	t := AddrLEPublic
	if i := strings.IndexByte(s, '/'); i >= 0 {
		var err error
		if t, err = ParseAddrType(s[i+1:]); err != nil {
			return err
		}
		s = s[:i]
	}
	v, err := NewAddr(t, s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// ParseAddrType is the inverse of AddrType.String.
func ParseAddrType(s string) (AddrType, error) {
	for _, t := range []AddrType{AddrBREDR, AddrLEPublic, AddrLERandom, AddrLEAnonymous} {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown address type %q", s)
}
