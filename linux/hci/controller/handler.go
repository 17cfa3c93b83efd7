package controller

import (
	"github.com/pkg/errors"
	"github.com/rigado/lehost/linux/hci"
	"github.com/rigado/lehost/linux/hci/evt"
)

func (h *HCI) handlePkt(b []byte) error {
	if len(b) == 0 {
		return errors.New("empty packet")
	}

	// Strip the 1-byte HCI header and pass down the rest of the packet.
	t, b := b[0], b[1:]
	switch t {
	case hci.PktTypeACLData:
		h.handleACL(b)
		return nil
	case hci.PktTypeEvent:
		return h.handleEvt(b)
	case hci.PktTypeCommand, hci.PktTypeSCOData, hci.PktTypeVendor:
		// Some controllers append vendor specific packets; nothing to do
		// with them or with the others.
		h.log.Debugf("ignoring packet type 0x%02x: % X", t, b)
		return nil
	default:
		return errors.Errorf("invalid packet: 0x%02X % X", t, b)
	}
}

func (h *HCI) handleEvt(b []byte) error {
	if len(b) < 2 {
		return errors.Errorf("short event packet: % X", b)
	}
	code, plen := int(b[0]), int(b[1])
	if plen != len(b[2:]) {
		return errors.Errorf("invalid event packet: % X", b)
	}
	params := b[2:]

	switch code {
	case evt.CommandCompleteCode:
		return h.handleCommandComplete(params)
	case evt.CommandStatusCode:
		return h.handleCommandStatus(params)
	case evt.NumberOfCompletedPacketsCode:
		h.handleNumberOfCompletedPackets(params)
		return nil
	case evt.DisconnectionCompleteCode:
		h.handleDisconnectionComplete(params)
	case evt.HardwareErrorCode:
		return errors.Errorf("controller hardware error: % X", params)
	case evt.LEMetaEventCode:
		if len(params) == 0 {
			return errors.New("empty LE meta event")
		}
		if !h.notify(code, int(params[0]), params) {
			h.log.Debugf("unhandled LE event: % X", params)
		}
		return nil
	case 0xff:
		// vendor events
		return nil
	}

	if !h.notify(code, -1, params) {
		h.log.Debugf("unhandled event 0x%02x: % X", code, params)
	}
	return nil
}

func (h *HCI) handleACL(b []byte) {
	if len(b) < 4 {
		h.log.Warnf("short ACL packet: % X", b)
		return
	}
	if h.aclHandler == nil {
		h.log.Debugf("no ACL handler, dropping % X", b)
		return
	}
	h.aclHandler(b)
}

// handleDisconnectionComplete reclaims the buffers of a link that is gone;
// the event still goes to the registered handlers afterwards.
func (h *HCI) handleDisconnectionComplete(b []byte) {
	e := evt.DisconnectionComplete(b)
	status, err := e.StatusWErr()
	if err != nil || status != 0x00 {
		return
	}
	handle, err := e.ConnectionHandleWErr()
	if err != nil {
		return
	}
	h.releaseLink(handle)
}

func (h *HCI) handleNumberOfCompletedPackets(b []byte) {
	e := evt.NumberOfCompletedPackets(b)
	n, err := e.NumberOfHandlesWErr()
	if err != nil {
		h.log.Warnf("malformed number of completed packets: % X", b)
		return
	}
	for i := 0; i < int(n); i++ {
		handle, err := e.ConnectionHandleWErr(i)
		if err != nil {
			h.log.Warnf("malformed number of completed packets: % X", b)
			return
		}
		count, _ := e.HCNumOfCompletedPacketsWErr(i)
		h.completed(handle, int(count))
	}
	h.flushACL()
}
