package evt

import (
	"bytes"
	"testing"
)

func TestAdvertisingReportMulti(t *testing.T) {
	e := LEAdvertisingReport{
		LEAdvertisingReportSubCode, 0x02,
		// report 0: ADV_IND, public, 4 bytes of data, rssi -60
		0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x04, 'T', 'e', 's', 't', 0xc4,
		// report 1: SCAN_RSP, public, no data, rssi 127
		0x04, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x7f,
	}

	rr, err := e.ReportsWErr()
	if err != nil {
		t.Fatalf("expected no error but got %s instead", err)
	}
	if len(rr) != 2 {
		t.Fatalf("expected 2 reports but got %d instead", len(rr))
	}
	if rr[0].EventType != 0x00 || !bytes.Equal(rr[0].Data, []byte("Test")) || rr[0].RSSI != -60 {
		t.Fatalf("unexpected first report %+v", rr[0])
	}
	if rr[1].EventType != 0x04 || len(rr[1].Data) != 0 || rr[1].RSSI != 127 {
		t.Fatalf("unexpected second report %+v", rr[1])
	}
	if rr[0].Address != [6]byte{0x01} {
		t.Fatalf("unexpected address %x", rr[0].Address)
	}
}

func TestAdvertisingReportTruncated(t *testing.T) {
	e := LEAdvertisingReport{
		LEAdvertisingReportSubCode, 0x01,
		0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x10, 'T',
	}

	if _, err := e.ReportsWErr(); err == nil {
		t.Fatalf("expected an error for a truncated report")
	}
}

func TestConnectionComplete(t *testing.T) {
	e := LEConnectionComplete{
		LEConnectionCompleteSubCode, 0x00, 0x40, 0x00, 0x01, 0x01,
		0x06, 0x05, 0x04, 0x03, 0x02, 0x01,
		0x18, 0x00, 0x00, 0x00, 0x48, 0x00, 0x00,
	}

	if s, _ := e.StatusWErr(); s != 0 {
		t.Fatalf("unexpected status %v", s)
	}
	if h, _ := e.ConnectionHandleWErr(); h != 0x40 {
		t.Fatalf("unexpected handle %v", h)
	}
	if r, _ := e.RoleWErr(); r != 0x01 {
		t.Fatalf("unexpected role %v", r)
	}
	if a, _ := e.PeerAddressWErr(); a != [6]byte{6, 5, 4, 3, 2, 1} {
		t.Fatalf("unexpected address %x", a)
	}
	if i, _ := e.ConnIntervalWErr(); i != 0x18 {
		t.Fatalf("unexpected interval %v", i)
	}
	if s, _ := e.SupervisionTimeoutWErr(); s != 0x48 {
		t.Fatalf("unexpected supervision timeout %v", s)
	}

	short := LEConnectionComplete{LEConnectionCompleteSubCode, 0x00}
	if _, err := short.PeerAddressWErr(); err == nil {
		t.Fatalf("expected index error")
	}
}

func TestCommandEvents(t *testing.T) {
	cc := CommandComplete{0x01, 0x0b, 0x20, 0x00}
	if cc.CommandOpcode() != 0x200b || !bytes.Equal(cc.ReturnParameters(), []byte{0x00}) {
		t.Fatalf("unexpected command complete %x", []byte(cc))
	}

	cs := CommandStatus{0x3e, 0x01, 0x0d, 0x20}
	if cs.Status() != 0x3e || cs.CommandOpcode() != 0x200d || cs.NumHCICommandPackets() != 1 {
		t.Fatalf("unexpected command status %x", []byte(cs))
	}
}

func TestDirectedAdvertisingReport(t *testing.T) {
	e := LEDirectedAdvertisingReport{
		LEDirectedAdvertisingReportSubCode, 0x01,
		0x01, 0x03, 1, 2, 3, 4, 5, 6, 0x01, 9, 9, 9, 9, 9, 9, 0xd8,
	}

	rr, err := e.ReportsWErr()
	if err != nil || len(rr) != 1 {
		t.Fatalf("expected one report, got %v %v", rr, err)
	}
	if rr[0].AddressType != 0x03 || rr[0].RSSI != -40 || rr[0].DirectAddress != [6]byte{9, 9, 9, 9, 9, 9} {
		t.Fatalf("unexpected report %+v", rr[0])
	}
}
