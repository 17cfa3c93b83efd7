package hci_test

import (
	"testing"

	ble "github.com/rigado/lehost"
	"github.com/rigado/lehost/linux/hci"
)

func TestDefaultParamsAreValid(t *testing.T) {
	if err := hci.ValidateScanParams(hci.DefaultScanParams()); err != nil {
		t.Fatalf("expected valid default scan params but got %s", err)
	}
	if err := hci.ValidateConnParams(hci.DefaultConnParams()); err != nil {
		t.Fatalf("expected valid default conn params but got %s", err)
	}
	if hci.PreferredFromCreateConnection(hci.DefaultConnParams()) != hci.DefaultPreferredConnectionParams() {
		t.Fatalf("default conn params should carry the default preferred params")
	}
}

func TestPreferredParamsValidate(t *testing.T) {
	tests := []struct {
		name string
		p    hci.LEPreferredConnectionParams
		ok   bool
	}{
		{"defaults", hci.DefaultPreferredConnectionParams(), true},
		{"bounds", hci.LEPreferredConnectionParams{hci.ConnIntervalMin, hci.ConnIntervalMin, hci.ConnLatencyMin, hci.SupervisionTimeoutMin}, true},
		{"interval too small", hci.LEPreferredConnectionParams{0x0005, 0x0010, 0, 0x0064}, false},
		{"interval too large", hci.LEPreferredConnectionParams{0x0010, 0x0c81, 0, 0x0c80}, false},
		{"min above max", hci.LEPreferredConnectionParams{0x0020, 0x0010, 0, 0x0064}, false},
		{"latency too large", hci.LEPreferredConnectionParams{0x0006, 0x0006, 0x01f4, 0x0c80}, false},
		{"timeout below interval", hci.LEPreferredConnectionParams{0x0010, 0x0050, 0, 0x0014}, false},
		{"timeout out of range", hci.LEPreferredConnectionParams{0x0006, 0x0006, 0, 0x0c81}, false},
	}
	for _, tt := range tests {
		err := tt.p.Validate()
		if tt.ok && err != nil {
			t.Fatalf("%s: expected nil error but got %s instead", tt.name, err)
		}
		if !tt.ok && err == nil {
			t.Fatalf("%s: expected an error", tt.name)
		}
	}
}

func TestAddrFromEvent(t *testing.T) {
	raw := [6]byte{0x06, 0x05, 0x04, 0x03, 0x02, 0x01}
	tests := []struct {
		typ      uint8
		want     ble.AddrType
		resolved bool
	}{
		{0x00, ble.AddrLEPublic, false},
		{0x01, ble.AddrLERandom, false},
		{0x02, ble.AddrLEPublic, true},
		{0x03, ble.AddrLERandom, true},
	}
	for _, tt := range tests {
		a, resolved := hci.AddrFromEvent(tt.typ, raw)
		if a.Type != tt.want || resolved != tt.resolved {
			t.Fatalf("type 0x%02x: expected %v/%v but got %v/%v instead", tt.typ, tt.want, tt.resolved, a.Type, resolved)
		}
		if a.String() != "01:02:03:04:05:06" {
			t.Fatalf("unexpected address %v", a)
		}
	}
}
