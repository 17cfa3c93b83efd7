package h4

import (
	"bytes"
	"testing"
	"time"
)

func collect(ch chan []byte) [][]byte {
	var out [][]byte
	for {
		select {
		case p := <-ch:
			out = append(out, p)
		default:
			return out
		}
	}
}

func TestFrameAssemble(t *testing.T) {
	cmdComplete := []byte{0x04, 0x0e, 0x04, 0x01, 0x03, 0x0c, 0x00}
	acl := []byte{0x02, 0x40, 0x00, 0x03, 0x00, 0xaa, 0xbb, 0xcc}

	for _, tc := range []struct {
		name   string
		chunks [][]byte
		want   [][]byte
	}{
		{"whole", [][]byte{cmdComplete}, [][]byte{cmdComplete}},
		{"split header", [][]byte{cmdComplete[:2], cmdComplete[2:]}, [][]byte{cmdComplete}},
		{"split body", [][]byte{cmdComplete[:5], cmdComplete[5:]}, [][]byte{cmdComplete}},
		{"two in one read", [][]byte{append(append([]byte{}, cmdComplete...), acl...)}, [][]byte{cmdComplete, acl}},
		{"acl split", [][]byte{acl[:4], acl[4:6], acl[6:]}, [][]byte{acl}},
		{"leading garbage", [][]byte{append([]byte{0x00, 0x11}, cmdComplete...)}, [][]byte{cmdComplete}},
		{"trailing partial", [][]byte{append(append([]byte{}, cmdComplete...), acl[:3]...), acl[3:]}, [][]byte{cmdComplete, acl}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ch := make(chan []byte, 8)
			f := newFrame(ch)
			for _, c := range tc.chunks {
				f.Assemble(c)
			}

			got := collect(ch)
			if len(got) != len(tc.want) {
				t.Fatalf("expected %d packets but got %d instead: % X", len(tc.want), len(got), got)
			}
			for i := range got {
				if !bytes.Equal(got[i], tc.want[i]) {
					t.Fatalf("packet %d: expected % X but got % X instead", i, tc.want[i], got[i])
				}
			}
		})
	}
}

func TestFrameTimeout(t *testing.T) {
	ch := make(chan []byte, 8)
	f := newFrame(ch)

	now := time.Unix(0, 0)
	f.now = func() time.Time { return now }

	f.Assemble([]byte{0x04, 0x0e, 0x04, 0x01})
	now = now.Add(2 * frameTimeout)

	// the stale partial packet is dropped; a fresh one goes through
	pkt := []byte{0x04, 0x05, 0x04, 0x00, 0x40, 0x00, 0x13}
	f.Assemble(pkt)

	got := collect(ch)
	if len(got) != 1 || !bytes.Equal(got[0], pkt) {
		t.Fatalf("expected % X but got % X instead", pkt, got)
	}
}
