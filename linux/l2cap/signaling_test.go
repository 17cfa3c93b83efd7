package l2cap

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/rigado/lehost/linux/hci"
)

type aclRecorder struct {
	handles []uint16
	pdus    [][]byte
}

func (a *aclRecorder) WriteACL(handle uint16, pdu []byte) error {
	a.handles = append(a.handles, handle)
	a.pdus = append(a.pdus, append([]byte(nil), pdu...))
	return nil
}

func aclPacket(handle uint16, pbf int, data []byte) []byte {
	b := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint16(b[0:], handle|uint16(pbf)<<12)
	binary.LittleEndian.PutUint16(b[2:], uint16(len(data)))
	copy(b[4:], data)
	return b
}

func paramUpdateRequest(id uint8, min, max, latency, timeout uint16) []byte {
	return signalFrame(id, &ConnectionParameterUpdateRequest{
		IntervalMin:       min,
		IntervalMax:       max,
		SlaveLatency:      latency,
		TimeoutMultiplier: timeout,
	})
}

type signalingFixture struct {
	acl     *aclRecorder
	s       *Signaling
	params  []hci.LEPreferredConnectionParams
	linkErr int
}

func newSignalingFixture(role hci.Role) *signalingFixture {
	f := &signalingFixture{acl: &aclRecorder{}}
	f.s = NewSignaling(f.acl)
	f.s.RegisterLE(0x0040, role, func(p hci.LEPreferredConnectionParams) {
		f.params = append(f.params, p)
	}, func() {
		f.linkErr++
	})
	return f
}

func TestConnectionParameterUpdateAccepted(t *testing.T) {
	f := newSignalingFixture(hci.RoleMaster)

	f.s.HandleACL(aclPacket(0x0040, hci.PbfControllerToHostStart, paramUpdateRequest(7, 0x18, 0x28, 0, 0x2a)))

	if len(f.params) != 1 {
		t.Fatalf("expected 1 parameter update but got %d instead", len(f.params))
	}
	want := hci.LEPreferredConnectionParams{MinInterval: 0x18, MaxInterval: 0x28, MaxLatency: 0, SupervisionTimeout: 0x2a}
	if f.params[0] != want {
		t.Fatalf("expected %+v but got %+v instead", want, f.params[0])
	}

	rsp := signalFrame(7, &ConnectionParameterUpdateResponse{Result: ParametersAccepted})
	if len(f.acl.pdus) != 1 || !bytes.Equal(f.acl.pdus[0], rsp) {
		t.Fatalf("expected response % X but got %v instead", rsp, f.acl.pdus)
	}
}

func TestConnectionParameterUpdateRejected(t *testing.T) {
	f := newSignalingFixture(hci.RoleMaster)

	// min > max
	f.s.HandleACL(aclPacket(0x0040, hci.PbfControllerToHostStart, paramUpdateRequest(3, 0x40, 0x20, 0, 0x2a)))

	if len(f.params) != 0 {
		t.Fatalf("rejected parameters must not be delivered")
	}
	rsp := signalFrame(3, &ConnectionParameterUpdateResponse{Result: ParametersRejected})
	if len(f.acl.pdus) != 1 || !bytes.Equal(f.acl.pdus[0], rsp) {
		t.Fatalf("expected response % X but got %v instead", rsp, f.acl.pdus)
	}
}

func TestConnectionParameterUpdateAsPeripheral(t *testing.T) {
	f := newSignalingFixture(hci.RoleSlave)

	f.s.HandleACL(aclPacket(0x0040, hci.PbfControllerToHostStart, paramUpdateRequest(1, 0x18, 0x28, 0, 0x2a)))

	rej := signalFrame(1, &CommandReject{Reason: RejectNotUnderstood})
	if len(f.params) != 0 || len(f.acl.pdus) != 1 || !bytes.Equal(f.acl.pdus[0], rej) {
		t.Fatalf("expected command reject but got %v instead", f.acl.pdus)
	}
}

func TestFragmentedRequest(t *testing.T) {
	f := newSignalingFixture(hci.RoleMaster)
	frame := paramUpdateRequest(9, 0x18, 0x28, 0, 0x2a)

	f.s.HandleACL(aclPacket(0x0040, hci.PbfControllerToHostStart, frame[:5]))
	if len(f.params) != 0 {
		t.Fatalf("expected no update before the last fragment")
	}
	f.s.HandleACL(aclPacket(0x0040, hci.PbfContinuing, frame[5:]))
	if len(f.params) != 1 {
		t.Fatalf("expected the recombined request to be handled")
	}
}

func TestUnknownCommandRejected(t *testing.T) {
	f := newSignalingFixture(hci.RoleMaster)
	frame := []byte{0x06, 0x00, 0x05, 0x00, 0x7f, 0x02, 0x02, 0x00, 0xaa, 0xbb}

	f.s.HandleACL(aclPacket(0x0040, hci.PbfControllerToHostStart, frame))

	rej := signalFrame(2, &CommandReject{Reason: RejectNotUnderstood})
	if len(f.acl.pdus) != 1 || !bytes.Equal(f.acl.pdus[0], rej) {
		t.Fatalf("expected command reject but got %v instead", f.acl.pdus)
	}
	if f.linkErr != 0 {
		t.Fatalf("unknown commands are not link errors")
	}
}

func TestMalformedFrameIsLinkError(t *testing.T) {
	f := newSignalingFixture(hci.RoleMaster)

	f.s.HandleACL(aclPacket(0x0040, hci.PbfContinuing, []byte{0x01, 0x02}))
	if f.linkErr != 1 {
		t.Fatalf("expected 1 link error but got %d instead", f.linkErr)
	}

	// reported once
	f.s.HandleACL(aclPacket(0x0040, hci.PbfContinuing, []byte{0x01, 0x02}))
	if f.linkErr != 1 {
		t.Fatalf("expected link error to be reported once but got %d", f.linkErr)
	}
}

func TestUnregisteredLink(t *testing.T) {
	f := newSignalingFixture(hci.RoleMaster)
	f.s.Unregister(0x0040)

	f.s.HandleACL(aclPacket(0x0040, hci.PbfControllerToHostStart, paramUpdateRequest(7, 0x18, 0x28, 0, 0x2a)))
	if len(f.params) != 0 || len(f.acl.pdus) != 0 || f.s.IsRegistered(0x0040) {
		t.Fatalf("expected data for an unregistered link to be dropped")
	}
}
