package l2cap

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// SignalCommandReject is the code of Command Reject signaling packet.
const SignalCommandReject = 0x01

// Command Reject reasons [Vol 3, Part A, 4.1].
const (
	RejectNotUnderstood uint16 = 0x0000
	RejectMTUExceeded   uint16 = 0x0001
	RejectInvalidCID    uint16 = 0x0002
)

// CommandReject implements Command Reject (0x01) [Vol 3, Part A, 4.1].
type CommandReject struct {
	Reason uint16
}

// Code returns the code of the command.
func (s CommandReject) Code() int { return SignalCommandReject }

// Marshal serializes the command parameters into binary form.
func (s *CommandReject) Marshal() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 2))
	binary.Write(buf, binary.LittleEndian, s)
	return buf.Bytes()
}

// Unmarshal de-serializes the binary data and stores the result in the receiver.
func (s *CommandReject) Unmarshal(b []byte) error {
	return binary.Read(bytes.NewBuffer(b), binary.LittleEndian, s)
}

// SignalConnectionParameterUpdateRequest is the code of Connection Parameter Update Request signaling packet.
const SignalConnectionParameterUpdateRequest = 0x12

// ConnectionParameterUpdateRequest implements Connection Parameter Update Request (0x12) [Vol 3, Part A, 4.20].
type ConnectionParameterUpdateRequest struct {
	IntervalMin       uint16
	IntervalMax       uint16
	SlaveLatency      uint16
	TimeoutMultiplier uint16
}

// Code returns the code of the command.
func (s ConnectionParameterUpdateRequest) Code() int { return SignalConnectionParameterUpdateRequest }

// Marshal serializes the command parameters into binary form.
func (s *ConnectionParameterUpdateRequest) Marshal() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 8))
	binary.Write(buf, binary.LittleEndian, s)
	return buf.Bytes()
}

// Unmarshal de-serializes the binary data and stores the result in the receiver.
func (s *ConnectionParameterUpdateRequest) Unmarshal(b []byte) error {
	if len(b) != 8 {
		return fmt.Errorf("connection parameter update request: length %d", len(b))
	}
	return binary.Read(bytes.NewBuffer(b), binary.LittleEndian, s)
}

// SignalConnectionParameterUpdateResponse is the code of Connection Parameter Update Response signaling packet.
const SignalConnectionParameterUpdateResponse = 0x13

// Connection Parameter Update Response results.
const (
	ParametersAccepted uint16 = 0x0000
	ParametersRejected uint16 = 0x0001
)

// ConnectionParameterUpdateResponse implements Connection Parameter Update Response (0x13) [Vol 3, Part A, 4.21].
type ConnectionParameterUpdateResponse struct {
	Result uint16
}

// Code returns the code of the command.
func (s ConnectionParameterUpdateResponse) Code() int { return SignalConnectionParameterUpdateResponse }

// Marshal serializes the command parameters into binary form.
func (s *ConnectionParameterUpdateResponse) Marshal() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 2))
	binary.Write(buf, binary.LittleEndian, s)
	return buf.Bytes()
}

// Unmarshal de-serializes the binary data and stores the result in the receiver.
func (s *ConnectionParameterUpdateResponse) Unmarshal(b []byte) error {
	return binary.Read(bytes.NewBuffer(b), binary.LittleEndian, s)
}

type signal interface {
	Code() int
	Marshal() []byte
}

// signalFrame builds a B-frame on the LE signaling channel carrying one
// command [Vol 3, Part A, 4].
func signalFrame(id uint8, s signal) []byte {
	data := s.Marshal()
	b := make([]byte, 8+len(data))
	binary.LittleEndian.PutUint16(b[0:], uint16(4+len(data)))
	binary.LittleEndian.PutUint16(b[2:], CidLESignal)
	b[4] = uint8(s.Code())
	b[5] = id
	binary.LittleEndian.PutUint16(b[6:], uint16(len(data)))
	copy(b[8:], data)
	return b
}
