// Package cmd defines the HCI commands issued by the host. Every command
// marshals its parameters in little endian order, in declaration order.
package cmd

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	ogfLinkCtl    = 0x01
	ogfHostCtl    = 0x03
	ogfInfoParam  = 0x04
	ogfLECtl      = 0x08
	ogfBitShift   = 10
	maxHCIPayload = 255
)

func marshal(b []byte, length int, v interface{}) error {
	buf := bytes.NewBuffer(b)
	buf.Reset()
	if buf.Cap() < length {
		return io.ErrShortBuffer
	}
	return binary.Write(buf, binary.LittleEndian, v)
}

func unmarshal(b []byte, length int, v interface{}) error {
	if len(b) < length {
		return io.ErrUnexpectedEOF
	}
	return binary.Read(bytes.NewReader(b[:length]), binary.LittleEndian, v)
}

// Name returns a readable name for an opcode.
func Name(op int) string {
	if n, ok := names[op]; ok {
		return n
	}
	return fmt.Sprintf("0x%02x|0x%04x", (op&0xFC00)>>10, op&0x3FF)
}

var names = map[int]string{
	DisconnectOpCode:               "Disconnect",
	SetEventMaskOpCode:             "Set Event Mask",
	ResetOpCode:                    "Reset",
	ReadBDADDROpCode:               "Read BD_ADDR",
	ReadBufferSizeOpCode:           "Read Buffer Size",
	LEReadBufferSizeOpCode:         "LE Read Buffer Size",
	LESetEventMaskOpCode:           "LE Set Event Mask",
	LESetRandomAddressOpCode:       "LE Set Random Address",
	LESetScanParametersOpCode:      "LE Set Scan Parameters",
	LESetScanEnableOpCode:          "LE Set Scan Enable",
	LECreateConnectionOpCode:       "LE Create Connection",
	LECreateConnectionCancelOpCode: "LE Create Connection Cancel",
	LEConnectionUpdateOpCode:       "LE Connection Update",
}

// Custom carries a caller supplied opcode and payload.
type Custom struct {
	Op      int
	Length  int
	Payload interface{}
}

func (c *Custom) OpCode() int { return c.Op }
func (c *Custom) Len() int    { return c.Length }
func (c *Custom) Marshal(b []byte) error {
	if c.Length > maxHCIPayload {
		return fmt.Errorf("invalid length %v; max hci payload length is %v", c.Length, maxHCIPayload)
	}
	return marshal(b, c.Length, c.Payload)
}
