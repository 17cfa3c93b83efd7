package l2cap

import (
	"fmt"

	"github.com/pkg/errors"
	ble "github.com/rigado/lehost"
	"github.com/rigado/lehost/linux/hci"
)

// Signaling implements Domain over the LE signaling channel of every
// registered link. It is fed ACL data by the controller and must only be
// used from the dispatcher goroutine.
type Signaling struct {
	w     ACLWriter
	links map[uint16]*link
	log   ble.Logger
}

type link struct {
	handle  uint16
	role    hci.Role
	params  ParamsCallback
	linkErr LinkErrorCallback

	// rx holds a PDU whose fragments are still arriving.
	rx Pdu

	// failed is set once the link error was reported.
	failed bool
}

func NewSignaling(w ACLWriter) *Signaling {
	return &Signaling{
		w:     w,
		links: make(map[uint16]*link),
		log:   ble.ComponentLogger("l2cap"),
	}
}

// RegisterLE starts serving the signaling channel of an LE link.
func (s *Signaling) RegisterLE(handle uint16, role hci.Role, params ParamsCallback, linkErr LinkErrorCallback) {
	if _, ok := s.links[handle]; ok {
		s.log.Warnf("link 0x%04x registered twice", handle)
	}
	s.links[handle] = &link{handle: handle, role: role, params: params, linkErr: linkErr}
}

func (s *Signaling) Unregister(handle uint16) {
	delete(s.links, handle)
}

// IsRegistered reports whether handle is being served.
func (s *Signaling) IsRegistered(handle uint16) bool {
	_, ok := s.links[handle]
	return ok
}

// HandleACL consumes one ACL data packet with its HCI header stripped:
// handle and flags, length, data [Vol 2, Part E, 5.4.2].
func (s *Signaling) HandleACL(b []byte) {
	if len(b) < 4 {
		s.log.Warnf("short ACL packet: % X", b)
		return
	}
	handle := uint16(b[0]) | uint16(b[1]&0x0f)<<8
	pbf := int(b[1]>>4) & 0x3
	data := b[4:]

	l, ok := s.links[handle]
	if !ok {
		s.log.Debugf("ACL data for unknown link 0x%04x", handle)
		return
	}
	if err := s.recombine(l, pbf, data); err != nil {
		s.fail(l, err)
	}
}

// Recombines fragments into a L2CAP PDU. [Vol 3, Part A, 7.2.2]
func (s *Signaling) recombine(l *link, pbf int, data []byte) error {
	switch pbf {
	case hci.PbfContinuing:
		if l.rx == nil {
			return errors.New("continuing fragment without a start")
		}
		l.rx = append(l.rx, data...)
	default:
		if l.rx != nil {
			return errors.New("start fragment while a PDU is incomplete")
		}
		l.rx = append(Pdu(nil), data...)
	}

	if len(l.rx) < 4 || len(l.rx) < 4+l.rx.dlen() {
		return nil
	}
	p := l.rx
	l.rx = nil
	if len(p) > 4+p.dlen() {
		return fmt.Errorf("PDU longer than its header: %d > %d", len(p), 4+p.dlen())
	}

	switch p.cid() {
	case CidLESignal:
		return s.handleSignal(l, p.payload())
	default:
		s.log.Debugf("dropping PDU on channel 0x%04x", p.cid())
	}
	return nil
}

func (s *Signaling) handleSignal(l *link, b []byte) error {
	if len(b) < 4 {
		return errors.Errorf("short signaling command: % X", b)
	}
	h := signalHdr(b)
	if h.len() != len(h.payload()) {
		return errors.Errorf("signaling length mismatch: % X", b)
	}
	if h.id() == 0 {
		// Identifier 0x00 is illegal and shall never be used.
		s.log.Debugf("ignoring signaling command with id 0")
		return nil
	}

	switch h.code() {
	case SignalConnectionParameterUpdateRequest:
		return s.handleConnectionParameterUpdateRequest(l, h)
	case SignalCommandReject:
		var r CommandReject
		if err := r.Unmarshal(h.payload()); err == nil {
			s.log.Debugf("link 0x%04x: command %d rejected, reason %d", l.handle, h.id(), r.Reason)
		}
		return nil
	case SignalConnectionParameterUpdateResponse:
		// never requested by this host
		return nil
	default:
		return s.send(l, h.id(), &CommandReject{Reason: RejectNotUnderstood})
	}
}

func (s *Signaling) handleConnectionParameterUpdateRequest(l *link, h signalHdr) error {
	// Only a central can act on the request [Vol 3, Part A, 4.20].
	if l.role != hci.RoleMaster {
		return s.send(l, h.id(), &CommandReject{Reason: RejectNotUnderstood})
	}

	var req ConnectionParameterUpdateRequest
	if err := req.Unmarshal(h.payload()); err != nil {
		return s.send(l, h.id(), &CommandReject{Reason: RejectNotUnderstood})
	}

	p := hci.LEPreferredConnectionParams{
		MinInterval:        req.IntervalMin,
		MaxInterval:        req.IntervalMax,
		MaxLatency:         req.SlaveLatency,
		SupervisionTimeout: req.TimeoutMultiplier,
	}
	if err := p.Validate(); err != nil {
		s.log.Infof("link 0x%04x: rejecting parameters: %v", l.handle, err)
		return s.send(l, h.id(), &ConnectionParameterUpdateResponse{Result: ParametersRejected})
	}

	if err := s.send(l, h.id(), &ConnectionParameterUpdateResponse{Result: ParametersAccepted}); err != nil {
		return err
	}
	if l.params != nil {
		l.params(p)
	}
	return nil
}

func (s *Signaling) send(l *link, id uint8, sig signal) error {
	if err := s.w.WriteACL(l.handle, signalFrame(id, sig)); err != nil {
		return errors.Wrapf(err, "signaling 0x%02x", sig.Code())
	}
	return nil
}

func (s *Signaling) fail(l *link, err error) {
	if l.failed {
		return
	}
	l.failed = true
	l.rx = nil
	s.log.Warnf("link 0x%04x: %v", l.handle, err)
	if l.linkErr != nil {
		l.linkErr()
	}
}
