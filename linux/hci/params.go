package hci

import (
	"fmt"
	"time"

	ble "github.com/rigado/lehost"
	"github.com/rigado/lehost/linux/hci/cmd"
)

const (
	AddressTypePublic           = 0
	AddressTypeRandom           = 1
	FilterPolicyAcceptAll       = 0
	FilterPolicyAcceptWhitelist = 1
	LEScanTypePassive           = 0
	LEScanTypeActive            = 1

	LEScanIntervalMin = 0x0004
	LEScanIntervalMax = 0x4000
	LEScanWindowMin   = 0x0004
	LEScanWindowMax   = 0x4000

	ConnIntervalMin = 0x0006
	ConnIntervalMax = 0x0c80
	ConnLatencyMin  = 0x0000
	ConnLatencyMax  = 0x01f3

	SupervisionTimeoutMin = 0x000a
	SupervisionTimeoutMax = 0x0c80

	CELengthMin = 0x0000
	CELengthMax = 0xffff
)

const (
	// 60ms interval, 30ms window; N * 0.625 msec
	DefaultLEScanInterval = 0x0060
	DefaultLEScanWindow   = 0x0030

	DefaultCreateConnectionTimeout = 20 * time.Second
)

// LEConnectionParams are the parameters in effect on a link.
type LEConnectionParams struct {
	Interval           uint16 // N * 1.25 msec
	Latency            uint16
	SupervisionTimeout uint16 // N * 10 msec
}

// LEPreferredConnectionParams are the parameters a device asks for.
type LEPreferredConnectionParams struct {
	MinInterval        uint16
	MaxInterval        uint16
	MaxLatency         uint16
	SupervisionTimeout uint16
}

// DefaultPreferredConnectionParams asks for a 30-50ms interval, no latency
// and a 420ms supervision timeout.
func DefaultPreferredConnectionParams() LEPreferredConnectionParams {
	return LEPreferredConnectionParams{
		MinInterval:        0x0018,
		MaxInterval:        0x0028,
		MaxLatency:         0x0000,
		SupervisionTimeout: 0x002a,
	}
}

// DefaultScanParams is an active scan at the default interval and window.
func DefaultScanParams() cmd.LESetScanParameters {
	return cmd.LESetScanParameters{
		LEScanType:           LEScanTypeActive,
		LEScanInterval:       DefaultLEScanInterval, // 0x0004 - 0x4000; N * 0.625msec
		LEScanWindow:         DefaultLEScanWindow,   // 0x0004 - 0x4000; N * 0.625msec
		OwnAddressType:       AddressTypePublic,
		ScanningFilterPolicy: FilterPolicyAcceptAll,
	}
}

// DefaultConnParams carries DefaultPreferredConnectionParams. The peer and
// own address fields are filled per attempt.
func DefaultConnParams() cmd.LECreateConnection {
	p := DefaultPreferredConnectionParams()
	return cmd.LECreateConnection{
		LEScanInterval:        DefaultLEScanInterval,
		LEScanWindow:          DefaultLEScanWindow,
		InitiatorFilterPolicy: FilterPolicyAcceptAll,
		ConnIntervalMin:       p.MinInterval, // 0x0006 - 0x0C80; N * 1.25 msec
		ConnIntervalMax:       p.MaxInterval,
		ConnLatency:           p.MaxLatency,
		SupervisionTimeout:    p.SupervisionTimeout, // 0x000A - 0x0C80; N * 10 msec
		MinimumCELength:       CELengthMin,
		MaximumCELength:       CELengthMin,
	}
}

// Validate checks the ranges of [Vol 2, Part E, 7.8.12] and the supervision
// timeout constraint.
func (p LEPreferredConnectionParams) Validate() error {
	switch {
	case p.MinInterval < ConnIntervalMin || p.MinInterval > ConnIntervalMax:
		return fmt.Errorf("invalid ConnIntervalMin %v", p.MinInterval)

	case p.MaxInterval < ConnIntervalMin || p.MaxInterval > ConnIntervalMax:
		return fmt.Errorf("invalid ConnIntervalMax %v", p.MaxInterval)

	case p.MinInterval > p.MaxInterval:
		return fmt.Errorf("ConnIntervalMin %v > ConnIntervalMax %v", p.MinInterval, p.MaxInterval)

	case p.MaxLatency > ConnLatencyMax:
		return fmt.Errorf("invalid ConnLatency %v", p.MaxLatency)

	case p.SupervisionTimeout < SupervisionTimeoutMin || p.SupervisionTimeout > SupervisionTimeoutMax:
		return fmt.Errorf("invalid SupervisionTimeout %v", p.SupervisionTimeout)

	case !supervisionTimeoutOK(p.MaxInterval, p.MaxLatency, p.SupervisionTimeout):
		return fmt.Errorf("invalid SupervisionTimeout %v (too small)", p.SupervisionTimeout)
	}

	return nil
}

// PreferredFromCreateConnection extracts the connection parameter part of
// an LE Create Connection command.
func PreferredFromCreateConnection(c cmd.LECreateConnection) LEPreferredConnectionParams {
	return LEPreferredConnectionParams{
		MinInterval:        c.ConnIntervalMin,
		MaxInterval:        c.ConnIntervalMax,
		MaxLatency:         c.ConnLatency,
		SupervisionTimeout: c.SupervisionTimeout,
	}
}

/*
	The Supervision_Timeout in milliseconds shall be larger than

(1 + Conn_Latency) * Conn_Interval_Max * 2, where Conn_Interval_Max is
given in milliseconds.
*/
func supervisionTimeoutOK(intervalMax, latency, sto uint16) bool {
	minStoMs := (1 + float64(latency)) * (float64(intervalMax) * 1.25) * 2
	return float64(sto)*10 > minStoMs
}

func ValidateScanParams(p cmd.LESetScanParameters) error {
	switch {
	case p.LEScanType != LEScanTypeActive && p.LEScanType != LEScanTypePassive:
		return fmt.Errorf("invalid LEScanType %v", p.LEScanType)

	case p.LEScanInterval < LEScanIntervalMin || p.LEScanInterval > LEScanIntervalMax:
		return fmt.Errorf("invalid LEScanInterval %v", p.LEScanInterval)

	case p.LEScanWindow < LEScanWindowMin || p.LEScanWindow > LEScanWindowMax:
		return fmt.Errorf("invalid LEScanWindow %v", p.LEScanWindow)

	case p.LEScanWindow > p.LEScanInterval:
		return fmt.Errorf("LEScanWindow %v > LEScanInterval %v", p.LEScanWindow, p.LEScanInterval)

	case p.OwnAddressType != AddressTypePublic && p.OwnAddressType != AddressTypeRandom:
		return fmt.Errorf("invalid OwnAddressType %v", p.OwnAddressType)

	case p.ScanningFilterPolicy != FilterPolicyAcceptAll && p.ScanningFilterPolicy != FilterPolicyAcceptWhitelist:
		return fmt.Errorf("invalid ScanningFilterPolicy %v", p.ScanningFilterPolicy)
	}

	return nil
}

func ValidateConnParams(p cmd.LECreateConnection) error {
	switch {
	case p.LEScanInterval < LEScanIntervalMin || p.LEScanInterval > LEScanIntervalMax:
		return fmt.Errorf("invalid LEScanInterval %v", p.LEScanInterval)

	case p.LEScanWindow < LEScanWindowMin || p.LEScanWindow > LEScanWindowMax:
		return fmt.Errorf("invalid LEScanWindow %v", p.LEScanWindow)

	case p.LEScanWindow > p.LEScanInterval:
		return fmt.Errorf("LEScanWindow %v > LEScanInterval %v", p.LEScanWindow, p.LEScanInterval)

	case p.InitiatorFilterPolicy != FilterPolicyAcceptAll && p.InitiatorFilterPolicy != FilterPolicyAcceptWhitelist:
		return fmt.Errorf("invalid InitiatorFilterPolicy %v", p.InitiatorFilterPolicy)

	case p.OwnAddressType != AddressTypePublic && p.OwnAddressType != AddressTypeRandom:
		// this probably is filled later
		return fmt.Errorf("invalid OwnAddressType %v", p.OwnAddressType)

	case p.PeerAddressType != AddressTypePublic && p.PeerAddressType != AddressTypeRandom:
		// this probably is filled later along with peer addr
		return fmt.Errorf("invalid PeerAddressType %v", p.PeerAddressType)

	case p.MinimumCELength > p.MaximumCELength:
		return fmt.Errorf("MinimumCELength %v > MaximumCELength %v", p.MinimumCELength, p.MaximumCELength)
	}

	return PreferredFromCreateConnection(p).Validate()
}

// ownAddressType picks the Own_Address_Type for a procedure run with the
// given local address.
func ownAddressType(local ble.Addr) uint8 {
	if local.Type == ble.AddrLERandom {
		return AddressTypeRandom
	}
	return AddressTypePublic
}

func peerAddressType(peer ble.Addr) uint8 {
	if peer.Type == ble.AddrLERandom {
		return AddressTypeRandom
	}
	return AddressTypePublic
}

// AddrFromEvent converts an address carried in an LE event. resolved is
// true for the identity address types reported when the controller
// resolved a private address.
func AddrFromEvent(typ uint8, b [6]byte) (a ble.Addr, resolved bool) {
	switch typ {
	case LEAddressTypePublic:
		return ble.AddrFromLittleEndian(ble.AddrLEPublic, b), false
	case LEAddressTypeRandom:
		return ble.AddrFromLittleEndian(ble.AddrLERandom, b), false
	case LEAddressTypePublicIdentity:
		return ble.AddrFromLittleEndian(ble.AddrLEPublic, b), true
	case LEAddressTypeRandomIdentity:
		return ble.AddrFromLittleEndian(ble.AddrLERandom, b), true
	}
	return ble.AddrFromLittleEndian(ble.AddrLEAnonymous, b), false
}
