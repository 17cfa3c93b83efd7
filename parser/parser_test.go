package parser

import (
	"bytes"
	"testing"
)

type testPdu struct {
	b []byte
}

func (t *testPdu) addBad(recTyp byte, badRecLen byte, recBytes []byte) {
	t.b = append(t.b, badRecLen, recTyp)
	t.b = append(t.b, recBytes...)
}

func (t *testPdu) add(recTyp byte, recBytes []byte) {
	lb := byte(len(recBytes) + 1)
	t.b = append(t.b, lb, recTyp)
	t.b = append(t.b, recBytes...)
}

func seq(n int, base byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = base + byte(i)
	}
	return b
}

func TestParserArrays(t *testing.T) {
	for _, typ := range []byte{
		types.uuid16inc, types.uuid16comp,
		types.uuid32inc, types.uuid32comp,
		types.uuid128inc, types.uuid128comp,
		types.sol16, types.sol32, types.sol128,
	} {
		dec := pduDecodeMap[typ]
		sz := dec.arrayElementSz

		p := testPdu{}
		p.add(typ, append(append(seq(sz, 0), seq(sz, 0x80)...), seq(sz, 0x40)...))

		f, err := Parse(p.b)
		if err != nil {
			t.Fatalf("type 0x%02x: expected no error but got %s instead", typ, err)
		}

		got := f.Services
		if typ == types.sol16 || typ == types.sol32 || typ == types.sol128 {
			got = f.Solicited
		}
		want := []string{UUIDString(seq(sz, 0)), UUIDString(seq(sz, 0x80)), UUIDString(seq(sz, 0x40))}
		if len(got) != 3 {
			t.Fatalf("type 0x%02x: expected 3 uuids but got %v instead", typ, got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("type 0x%02x: expected %v but got %v instead", typ, want, got)
			}
		}
	}
}

func TestParserArraysBad(t *testing.T) {
	for _, typ := range []byte{types.uuid16comp, types.uuid32comp, types.uuid128comp, types.sol128} {
		sz := pduDecodeMap[typ].arrayElementSz

		p := testPdu{}
		p.add(typ, append(seq(2*sz, 0), 0xbb))
		if _, err := Parse(p.b); err == nil {
			t.Fatalf("type 0x%02x: len%%size != 0, no decode error", typ)
		}

		p = testPdu{}
		p.add(typ, seq(sz-1, 0))
		if _, err := Parse(p.b); err == nil {
			t.Fatalf("type 0x%02x: len<arrayElementSize, no decode error", typ)
		}

		p = testPdu{}
		p.addBad(typ, byte(2*sz+32), seq(2*sz, 0))
		if _, err := Parse(p.b); err == nil {
			t.Fatalf("type 0x%02x: corrupt length +32, no decode error", typ)
		}

		p = testPdu{}
		p.addBad(typ, 255, seq(2*sz, 0))
		if _, err := Parse(p.b); err == nil {
			t.Fatalf("type 0x%02x: corrupt length 255, no decode error", typ)
		}
	}
}

func TestParserFields(t *testing.T) {
	p := testPdu{}
	p.add(types.flags, []byte{0x06})
	p.add(types.namecomp, []byte("lehost"))
	p.add(types.txpwr, []byte{0xf4})
	p.add(types.svc16, []byte{0x0d, 0x18, 0x01, 0x02})
	p.add(types.svc16, []byte{0x0d, 0x18, 0x03})
	p.add(0x2a, []byte{0xde, 0xad}) // unknown type, skipped

	f, err := Parse(p.b)
	if err != nil {
		t.Fatalf("expected no error but got %s instead", err)
	}
	if f.Flags == nil || *f.Flags != 0x06 {
		t.Fatalf("unexpected flags %v", f.Flags)
	}
	if f.LocalName != "lehost" {
		t.Fatalf("expected name lehost but got %q instead", f.LocalName)
	}
	if f.TxPower == nil || *f.TxPower != -12 {
		t.Fatalf("unexpected tx power %v", f.TxPower)
	}
	sd := f.ServiceData["180d"]
	if len(sd) != 2 || !bytes.Equal(sd[0], []byte{0x01, 0x02}) || !bytes.Equal(sd[1], []byte{0x03}) {
		t.Fatalf("unexpected service data %v", f.ServiceData)
	}
}

func TestParserScanResponseManufacturerData(t *testing.T) {
	adv := testPdu{}
	adv.add(types.mfgdata, []byte{0x3a, 0x01, 0xaa, 0xbb})
	rsp := testPdu{}
	rsp.add(types.mfgdata, []byte{0x3a, 0x01, 0xcc})

	f, err := Parse(adv.b, rsp.b)
	if err != nil {
		t.Fatalf("expected no error but got %s instead", err)
	}
	want := []byte{0x3a, 0x01, 0xaa, 0xbb, 0xcc}
	if !bytes.Equal(f.ManufacturerData, want) {
		t.Fatalf("expected % X but got % X instead", want, f.ManufacturerData)
	}
}

func TestParserEmpty(t *testing.T) {
	if _, err := Parse(nil); err != EmptyOrNilPdu {
		t.Fatalf("expected %v but got %v instead", EmptyOrNilPdu, err)
	}
	// zero padding ends the significant part
	f, err := Parse([]byte{0x02, 0x01, 0x06, 0x00, 0x00, 0x00})
	if err != nil || f.Flags == nil {
		t.Fatalf("expected padding to be ignored, got %v", err)
	}
}

func TestUUIDString(t *testing.T) {
	if s := UUIDString([]byte{0x0d, 0x18}); s != "180d" {
		t.Fatalf("expected 180d but got %s instead", s)
	}
	u := []byte{0xfb, 0x34, 0x9b, 0x5f, 0x80, 0x00, 0x00, 0x80, 0x00, 0x10, 0x00, 0x00, 0x0d, 0x18, 0x00, 0x00}
	if s := UUIDString(u); s != "0000180d-0000-1000-8000-00805f9b34fb" {
		t.Fatalf("unexpected uuid %s", s)
	}
}
