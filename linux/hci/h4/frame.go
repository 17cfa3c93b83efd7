package h4

import (
	"time"

	"github.com/pkg/errors"
)

const (
	aclPacket   = 0x02
	eventPacket = 0x04

	eventHeaderLen = 3 // type, code, length
	aclHeaderLen   = 5 // type, handle and flags, length
)

// frameTimeout drops a partial packet whose remainder never shows up.
const frameTimeout = 500 * time.Millisecond

var errIncomplete = errors.New("incomplete packet")

// frame reassembles the UART byte stream into HCI packets. Each complete
// packet, type octet included, is sent on out. Bytes that cannot start a
// packet are skipped.
type frame struct {
	b        []byte
	deadline time.Time
	out      chan<- []byte
	now      func() time.Time
}

func newFrame(out chan<- []byte) *frame {
	return &frame{out: out, now: time.Now}
}

func (f *frame) Assemble(b []byte) {
	if len(f.b) > 0 && f.now().After(f.deadline) {
		f.b = f.b[:0]
	}

	for len(b) > 0 {
		if len(f.b) == 0 {
			i := startIndex(b)
			if i < 0 {
				return
			}
			b = b[i:]
			f.deadline = f.now().Add(frameTimeout)
		}

		f.b = append(f.b, b...)
		b = nil

		for len(f.b) > 0 {
			n, err := packetLen(f.b)
			if err != nil || len(f.b) < n {
				break
			}
			pkt := make([]byte, n)
			copy(pkt, f.b[:n])
			f.out <- pkt

			rest := f.b[n:]
			f.b = nil
			if len(rest) > 0 {
				b = rest
				break
			}
		}
		if len(f.b) > 0 {
			return
		}
	}
}

func startIndex(b []byte) int {
	for i, v := range b {
		if v == eventPacket || v == aclPacket {
			return i
		}
	}
	return -1
}

func packetLen(b []byte) (int, error) {
	switch b[0] {
	case eventPacket:
		if len(b) < eventHeaderLen {
			return 0, errIncomplete
		}
		return eventHeaderLen + int(b[2]), nil
	case aclPacket:
		if len(b) < aclHeaderLen {
			return 0, errIncomplete
		}
		return aclHeaderLen + (int(b[3]) | int(b[4])<<8), nil
	}
	return 0, errors.Errorf("invalid packet type 0x%02x", b[0])
}
