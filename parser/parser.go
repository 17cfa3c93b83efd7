// Package parser decodes the AD structures carried in advertising data
// and scan responses [Core Specification Supplement, Part A, 1].
package parser

import (
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
	"github.com/rigado/lehost/sliceops"
)

var EmptyOrNilPdu = errors.New("nil/empty pdu")

// https://www.bluetooth.org/en-us/specification/assigned-numbers/generic-access-profile
var types = struct {
	flags       byte
	uuid16inc   byte
	uuid16comp  byte
	uuid32inc   byte
	uuid32comp  byte
	uuid128inc  byte
	uuid128comp byte
	sol16       byte
	sol32       byte
	sol128      byte
	svc16       byte
	svc32       byte
	svc128      byte
	nameshort   byte
	namecomp    byte
	txpwr       byte
	mfgdata     byte
}{
	flags:       0x01,
	uuid16inc:   0x02,
	uuid16comp:  0x03,
	uuid32inc:   0x04,
	uuid32comp:  0x05,
	uuid128inc:  0x06,
	uuid128comp: 0x07,
	sol16:       0x14,
	sol32:       0x1f,
	sol128:      0x15,
	svc16:       0x16,
	svc32:       0x20,
	svc128:      0x21,
	nameshort:   0x08,
	namecomp:    0x09,
	txpwr:       0x0a,
	mfgdata:     0xff,
}

// Fields is the decoded content of one or more advertising PDUs. UUIDs are
// rendered most significant octet first.
type Fields struct {
	Flags            *uint8              `json:"flags,omitempty"`
	LocalName        string              `json:"localName,omitempty"`
	Services         []string            `json:"services,omitempty"`
	Solicited        []string            `json:"solicited,omitempty"`
	ServiceData      map[string][][]byte `json:"serviceData,omitempty"`
	TxPower          *int8               `json:"txPower,omitempty"`
	ManufacturerData []byte              `json:"manufacturerData,omitempty"`
}

type pduRecord struct {
	arrayElementSz int
	minSz          int
	svcDataUUIDSz  int
	apply          func(f *Fields, b []byte)
}

func services(f *Fields, u string)  { f.Services = append(f.Services, u) }
func solicited(f *Fields, u string) { f.Solicited = append(f.Solicited, u) }

func uuidList(add func(*Fields, string)) func(*Fields, []byte) {
	return func(f *Fields, b []byte) { add(f, UUIDString(b)) }
}

func serviceData(size int) func(*Fields, []byte) {
	return func(f *Fields, b []byte) {
		if f.ServiceData == nil {
			f.ServiceData = make(map[string][][]byte)
		}
		u := UUIDString(b[:size])
		f.ServiceData[u] = append(f.ServiceData[u], b[size:])
	}
}

func localName(f *Fields, b []byte) {
	f.LocalName = string(b)
}

func flags(f *Fields, b []byte) {
	v := b[0]
	f.Flags = &v
}

func txPower(f *Fields, b []byte) {
	v := int8(b[0])
	f.TxPower = &v
}

func manufacturerData(f *Fields, b []byte) {
	if f.ManufacturerData == nil {
		f.ManufacturerData = b
		return
	}
	// the scan response repeats the company id; strip it
	if len(b) >= 2 {
		b = b[2:]
	}
	f.ManufacturerData = append(f.ManufacturerData, b...)
}

var pduDecodeMap = map[byte]pduRecord{
	types.uuid16inc:   {2, 2, 0, uuidList(services)},
	types.uuid16comp:  {2, 2, 0, uuidList(services)},
	types.uuid32inc:   {4, 4, 0, uuidList(services)},
	types.uuid32comp:  {4, 4, 0, uuidList(services)},
	types.uuid128inc:  {16, 16, 0, uuidList(services)},
	types.uuid128comp: {16, 16, 0, uuidList(services)},
	types.sol16:       {2, 2, 0, uuidList(solicited)},
	types.sol32:       {4, 4, 0, uuidList(solicited)},
	types.sol128:      {16, 16, 0, uuidList(solicited)},
	types.svc16:       {0, 2, 2, serviceData(2)},
	types.svc32:       {0, 4, 4, serviceData(4)},
	types.svc128:      {0, 16, 16, serviceData(16)},
	types.namecomp:    {0, 1, 0, localName},
	types.nameshort:   {0, 1, 0, localName},
	types.txpwr:       {0, 1, 0, txPower},
	types.mfgdata:     {0, 1, 0, manufacturerData},
	types.flags:       {0, 1, 0, flags},
}

// UUIDString renders a little endian UUID. 128-bit UUIDs get the usual
// 8-4-4-4-12 grouping.
func UUIDString(le []byte) string {
	b := sliceops.SwapBuf(le)
	s := hex.EncodeToString(b)
	if len(b) != 16 {
		return s
	}
	return strings.Join([]string{s[:8], s[8:12], s[12:16], s[16:20], s[20:]}, "-")
}

// Parse decodes pdus, typically the advertising data followed by the scan
// response, into one Fields. Unknown record types are skipped. On error the
// records decoded so far are returned along with it.
func Parse(pdus ...[]byte) (*Fields, error) {
	f := &Fields{}
	empty := true
	for _, pdu := range pdus {
		if len(pdu) == 0 {
			continue
		}
		empty = false
		if err := parse(f, pdu); err != nil {
			return f, err
		}
	}
	if empty {
		return f, EmptyOrNilPdu
	}
	return f, nil
}

func parse(f *Fields, pdu []byte) error {
	for i := 0; i < len(pdu); {
		//length @ offset 0
		//type @ offset 1
		//data @ 2 - length
		length := int(pdu[i])
		if length == 0 {
			// early termination of significant part [Vol 3, Part C, 11]
			return nil
		}
		if i+length >= len(pdu) {
			return errors.Errorf("buffer overflow: want %v, have %v, idx %v", i+length+1, len(pdu), i)
		}
		typ := pdu[i+1]
		data := append([]byte(nil), pdu[i+2:i+1+length]...)
		i += length + 1

		dec, ok := pduDecodeMap[typ]
		if !ok || len(data) == 0 {
			continue
		}
		if len(data) < dec.minSz {
			return errors.Errorf("adv type 0x%02x: min length %v, have %v", typ, dec.minSz, len(data))
		}

		if dec.arrayElementSz == 0 {
			dec.apply(f, data)
			continue
		}
		if len(data)%dec.arrayElementSz != 0 {
			return errors.Errorf("adv type 0x%02x: length %v is not a multiple of %v", typ, len(data), dec.arrayElementSz)
		}
		for j := 0; j < len(data); j += dec.arrayElementSz {
			dec.apply(f, data[j:j+dec.arrayElementSz])
		}
	}
	return nil
}
