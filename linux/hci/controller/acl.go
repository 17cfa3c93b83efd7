package controller

import (
	"github.com/pkg/errors"
	ble "github.com/rigado/lehost"
	"github.com/rigado/lehost/linux/hci"
)

type aclPacket struct {
	handle uint16
	b      []byte
}

func (h *HCI) setBufferSize(size, count int) {
	h.aclSize = size
	h.aclMax = count
	h.aclCredits = count
}

// WriteACL fragments pdu to the controller's buffer size and sends the
// fragments as buffers become free. It must be called on the dispatcher.
func (h *HCI) WriteACL(handle uint16, pdu []byte) error {
	if h.closed {
		return ble.ErrNotReady
	}
	if h.aclSize == 0 {
		return errors.Wrap(ble.ErrNotReady, "controller buffers unknown")
	}

	pbf := uint8(hci.PbfHostToControllerStart)
	for len(pdu) > 0 {
		n := len(pdu)
		if n > h.aclSize {
			n = h.aclSize
		}

		b := make([]byte, 5+n)
		b[0] = hci.PktTypeACLData
		b[1] = byte(handle)
		b[2] = byte(handle>>8)&0x0f | pbf<<4
		b[3] = byte(n)
		b[4] = byte(n >> 8)
		copy(b[5:], pdu[:n])
		h.aclQueue = append(h.aclQueue, aclPacket{handle: handle, b: b})

		pdu = pdu[n:]
		pbf = hci.PbfContinuing
	}
	h.flushACL()
	return h.err
}

func (h *HCI) flushACL() {
	for !h.closed && h.aclCredits > 0 && len(h.aclQueue) > 0 {
		p := h.aclQueue[0]
		h.aclQueue = h.aclQueue[1:]

		if err := h.write(p.b); err != nil {
			h.fail(errors.Wrapf(err, "acl write to 0x%04x", p.handle))
			return
		}
		h.aclCredits--
		h.inFlight[p.handle]++
	}
}

func (h *HCI) completed(handle uint16, n int) {
	if n > h.inFlight[handle] {
		h.log.Debugf("controller completed %d packets on 0x%04x, %d in flight", n, handle, h.inFlight[handle])
		n = h.inFlight[handle]
	}
	h.inFlight[handle] -= n
	if h.inFlight[handle] == 0 {
		delete(h.inFlight, handle)
	}
	h.aclCredits += n
}

// When a connection disconnects, all the sent packets that weren't acked
// yet are recycled. [Vol2, Part E 4.3]
func (h *HCI) releaseLink(handle uint16) {
	h.aclCredits += h.inFlight[handle]
	delete(h.inFlight, handle)

	q := h.aclQueue[:0]
	for _, p := range h.aclQueue {
		if p.handle != handle {
			q = append(q, p)
		}
	}
	h.aclQueue = q
	h.flushACL()
}
