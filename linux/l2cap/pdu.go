package l2cap

import "encoding/binary"

// Pdu is an L2CAP basic frame: length, channel id, payload [Vol 3, Part A, 3.1].
type Pdu []byte

func (p Pdu) dlen() int       { return int(binary.LittleEndian.Uint16(p[0:2])) }
func (p Pdu) cid() uint16     { return binary.LittleEndian.Uint16(p[2:4]) }
func (p Pdu) payload() []byte { return p[4:] }

// signalHdr is the header of a command on the signaling channel.
type signalHdr []byte

func (s signalHdr) code() uint8     { return s[0] }
func (s signalHdr) id() uint8       { return s[1] }
func (s signalHdr) len() int        { return int(binary.LittleEndian.Uint16(s[2:4])) }
func (s signalHdr) payload() []byte { return s[4:] }
