package evt

import (
	"encoding/binary"
	"fmt"
)

func (e CommandComplete) NumHCICommandPacketsWErr() (uint8, error) {
	return getByte(e, 0, 0)
}

func (e CommandComplete) CommandOpcodeWErr() (uint16, error) {
	return getUint16LE(e, 1, 0xffff)
}

func (e CommandComplete) ReturnParametersWErr() ([]byte, error) {
	if len(e) == 3 {
		return []byte{}, nil
	}
	return getBytes(e, 3, -1)
}

func (e CommandStatus) StatusWErr() (uint8, error) {
	return getByte(e, 0, 0xff)
}

func (e CommandStatus) NumHCICommandPacketsWErr() (uint8, error) {
	return getByte(e, 1, 0)
}

func (e CommandStatus) CommandOpcodeWErr() (uint16, error) {
	return getUint16LE(e, 2, 0xffff)
}

func (e DisconnectionComplete) StatusWErr() (uint8, error) {
	return getByte(e, 0, 0xff)
}

func (e DisconnectionComplete) ConnectionHandleWErr() (uint16, error) {
	return getUint16LE(e, 1, 0xffff)
}

func (e DisconnectionComplete) ReasonWErr() (uint8, error) {
	return getByte(e, 3, 0)
}

func (e NumberOfCompletedPackets) NumberOfHandlesWErr() (uint8, error) {
	return getByte(e, 0, 0)
}

func (e NumberOfCompletedPackets) ConnectionHandleWErr(i int) (uint16, error) {
	si := 1 + (i * 4)
	return getUint16LE(e, si, 0xffff)
}

func (e NumberOfCompletedPackets) HCNumOfCompletedPacketsWErr(i int) (uint16, error) {
	si := 1 + (i * 4) + 2
	return getUint16LE(e, si, 0)
}

func (e LEConnectionComplete) StatusWErr() (uint8, error) {
	return getByte(e, 1, 0xff)
}

func (e LEConnectionComplete) ConnectionHandleWErr() (uint16, error) {
	h, err := getUint16LE(e, 2, 0xffff)
	return h & 0x0fff, err
}

func (e LEConnectionComplete) RoleWErr() (uint8, error) {
	return getByte(e, 4, 0xff)
}

func (e LEConnectionComplete) PeerAddressTypeWErr() (uint8, error) {
	return getByte(e, 5, 0xff)
}

func (e LEConnectionComplete) PeerAddressWErr() ([6]byte, error) {
	var a [6]byte
	b, err := getBytes(e, 6, 6)
	if err != nil {
		return a, err
	}
	copy(a[:], b)
	return a, nil
}

func (e LEConnectionComplete) ConnIntervalWErr() (uint16, error) {
	return getUint16LE(e, 12, 0)
}

func (e LEConnectionComplete) ConnLatencyWErr() (uint16, error) {
	return getUint16LE(e, 14, 0)
}

func (e LEConnectionComplete) SupervisionTimeoutWErr() (uint16, error) {
	return getUint16LE(e, 16, 0)
}

func (e LEConnectionUpdateComplete) StatusWErr() (uint8, error) {
	return getByte(e, 1, 0xff)
}

func (e LEConnectionUpdateComplete) ConnectionHandleWErr() (uint16, error) {
	h, err := getUint16LE(e, 2, 0xffff)
	return h & 0x0fff, err
}

func (e LEConnectionUpdateComplete) ConnIntervalWErr() (uint16, error) {
	return getUint16LE(e, 4, 0)
}

func (e LEConnectionUpdateComplete) ConnLatencyWErr() (uint16, error) {
	return getUint16LE(e, 6, 0)
}

func (e LEConnectionUpdateComplete) SupervisionTimeoutWErr() (uint16, error) {
	return getUint16LE(e, 8, 0)
}

func (e LEAdvertisingReport) SubeventCodeWErr() (uint8, error) {
	return getByte(e, 0, 0xff)
}

func (e LEAdvertisingReport) NumReportsWErr() (uint8, error) {
	return getByte(e, 1, 0)
}

// ReportsWErr decodes every report of the event. Reports are laid out one
// after another (event type, address type, address, length, data, rssi),
// which is what controllers send in practice.
func (e LEAdvertisingReport) ReportsWErr() ([]AdvertisingReport, error) {
	nr, err := e.NumReportsWErr()
	if err != nil {
		return nil, err
	}

	reports := make([]AdvertisingReport, 0, nr)
	si := 2
	for i := 0; i < int(nr); i++ {
		hdr, err := getBytes(e, si, 9)
		if err != nil {
			return reports, fmt.Errorf("report %d header: %v", i, err)
		}

		r := AdvertisingReport{EventType: hdr[0], AddressType: hdr[1]}
		copy(r.Address[:], hdr[2:8])
		l := int(hdr[8])
		si += 9

		if l > 0 {
			d, err := getBytes(e, si, l)
			if err != nil {
				return reports, fmt.Errorf("report %d data: %v", i, err)
			}
			r.Data = make([]byte, l)
			copy(r.Data, d)
		}
		si += l

		rssi, err := getByte(e, si, 0)
		if err != nil {
			return reports, fmt.Errorf("report %d rssi: %v", i, err)
		}
		r.RSSI = int8(rssi)
		si++

		reports = append(reports, r)
	}

	return reports, nil
}

func (e LEDirectedAdvertisingReport) NumReportsWErr() (uint8, error) {
	return getByte(e, 1, 0)
}

func (e LEDirectedAdvertisingReport) ReportsWErr() ([]DirectedAdvertisingReport, error) {
	nr, err := e.NumReportsWErr()
	if err != nil {
		return nil, err
	}

	reports := make([]DirectedAdvertisingReport, 0, nr)
	for i := 0; i < int(nr); i++ {
		b, err := getBytes(e, 2+i*16, 16)
		if err != nil {
			return reports, fmt.Errorf("report %d: %v", i, err)
		}
		r := DirectedAdvertisingReport{
			EventType:         b[0],
			AddressType:       b[1],
			DirectAddressType: b[8],
			RSSI:              int8(b[15]),
		}
		copy(r.Address[:], b[2:8])
		copy(r.DirectAddress[:], b[9:15])
		reports = append(reports, r)
	}

	return reports, nil
}

// get or default
func getByte(b []byte, i int, def byte) (byte, error) {
	bb, err := getBytes(b, i, 1)
	if err != nil {
		return def, err
	}
	return bb[0], nil
}

// get or default
func getUint16LE(b []byte, i int, def uint16) (uint16, error) {
	bb, err := getBytes(b, i, 2)
	if err != nil {
		return def, err
	}
	return binary.LittleEndian.Uint16(bb), nil
}

func getBytes(bytes []byte, start int, count int) ([]byte, error) {
	if bytes == nil || start >= len(bytes) {
		return nil, fmt.Errorf("index error")
	}

	if count < 0 {
		return bytes[start:], nil
	}

	end := start + count
	//end is non-inclusive
	if end > len(bytes) {
		return nil, fmt.Errorf("index error")
	}

	return bytes[start:end], nil
}
