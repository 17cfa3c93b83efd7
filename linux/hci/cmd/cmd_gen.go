package cmd

const (
	DisconnectOpCode               = ogfLinkCtl<<ogfBitShift | 0x0006
	SetEventMaskOpCode             = ogfHostCtl<<ogfBitShift | 0x0001
	ResetOpCode                    = ogfHostCtl<<ogfBitShift | 0x0003
	ReadBufferSizeOpCode           = ogfInfoParam<<ogfBitShift | 0x0005
	ReadBDADDROpCode               = ogfInfoParam<<ogfBitShift | 0x0009
	LEReadBufferSizeOpCode         = ogfLECtl<<ogfBitShift | 0x0002
	LESetEventMaskOpCode           = ogfLECtl<<ogfBitShift | 0x0001
	LESetRandomAddressOpCode       = ogfLECtl<<ogfBitShift | 0x0005
	LESetScanParametersOpCode      = ogfLECtl<<ogfBitShift | 0x000B
	LESetScanEnableOpCode          = ogfLECtl<<ogfBitShift | 0x000C
	LECreateConnectionOpCode       = ogfLECtl<<ogfBitShift | 0x000D
	LECreateConnectionCancelOpCode = ogfLECtl<<ogfBitShift | 0x000E
	LEConnectionUpdateOpCode       = ogfLECtl<<ogfBitShift | 0x0013
)

// Disconnect implements Disconnect (0x01|0x0006) [Vol 2, Part E, 7.1.6]
type Disconnect struct {
	ConnectionHandle uint16
	Reason           uint8
}

func (c *Disconnect) OpCode() int            { return DisconnectOpCode }
func (c *Disconnect) Len() int               { return 3 }
func (c *Disconnect) Marshal(b []byte) error { return marshal(b, c.Len(), c) }

// SetEventMask implements Set Event Mask (0x03|0x0001) [Vol 2, Part E, 7.3.1]
type SetEventMask struct {
	EventMask uint64
}

func (c *SetEventMask) OpCode() int            { return SetEventMaskOpCode }
func (c *SetEventMask) Len() int               { return 8 }
func (c *SetEventMask) Marshal(b []byte) error { return marshal(b, c.Len(), c) }

// Reset implements Reset (0x03|0x0003) [Vol 2, Part E, 7.3.2]
type Reset struct{}

func (c *Reset) OpCode() int            { return ResetOpCode }
func (c *Reset) Len() int               { return 0 }
func (c *Reset) Marshal(b []byte) error { return nil }

// ReadBDADDR implements Read BD_ADDR (0x04|0x0009) [Vol 2, Part E, 7.4.6]
type ReadBDADDR struct{}

func (c *ReadBDADDR) OpCode() int            { return ReadBDADDROpCode }
func (c *ReadBDADDR) Len() int               { return 0 }
func (c *ReadBDADDR) Marshal(b []byte) error { return nil }

// ReadBDADDRRP is the return parameter of Read BD_ADDR.
type ReadBDADDRRP struct {
	Status uint8
	BDADDR [6]byte
}

func (c *ReadBDADDRRP) Unmarshal(b []byte) error { return unmarshal(b, 7, c) }

// ReadBufferSize implements Read Buffer Size (0x04|0x0005) [Vol 2, Part E, 7.4.5]
type ReadBufferSize struct{}

func (c *ReadBufferSize) OpCode() int            { return ReadBufferSizeOpCode }
func (c *ReadBufferSize) Len() int               { return 0 }
func (c *ReadBufferSize) Marshal(b []byte) error { return nil }

// ReadBufferSizeRP is the return parameter of Read Buffer Size.
type ReadBufferSizeRP struct {
	Status                    uint8
	HCACLDataPacketLength     uint16
	HCSynchronousDataLength   uint8
	HCTotalNumACLDataPackets  uint16
	HCTotalNumSyncDataPackets uint16
}

func (c *ReadBufferSizeRP) Unmarshal(b []byte) error { return unmarshal(b, 8, c) }

// LEReadBufferSize implements LE Read Buffer Size (0x08|0x0002) [Vol 2, Part E, 7.8.2]
type LEReadBufferSize struct{}

func (c *LEReadBufferSize) OpCode() int            { return LEReadBufferSizeOpCode }
func (c *LEReadBufferSize) Len() int               { return 0 }
func (c *LEReadBufferSize) Marshal(b []byte) error { return nil }

// LEReadBufferSizeRP is the return parameter of LE Read Buffer Size.
type LEReadBufferSizeRP struct {
	Status                  uint8
	HCLEDataPacketLength    uint16
	HCTotalNumLEDataPackets uint8
}

func (c *LEReadBufferSizeRP) Unmarshal(b []byte) error { return unmarshal(b, 4, c) }

// LESetEventMask implements LE Set Event Mask (0x08|0x0001) [Vol 2, Part E, 7.8.1]
type LESetEventMask struct {
	LEEventMask uint64
}

func (c *LESetEventMask) OpCode() int            { return LESetEventMaskOpCode }
func (c *LESetEventMask) Len() int               { return 8 }
func (c *LESetEventMask) Marshal(b []byte) error { return marshal(b, c.Len(), c) }

// LESetRandomAddress implements LE Set Random Address (0x08|0x0005) [Vol 2, Part E, 7.8.4]
type LESetRandomAddress struct {
	RandomAddress [6]byte
}

func (c *LESetRandomAddress) OpCode() int            { return LESetRandomAddressOpCode }
func (c *LESetRandomAddress) Len() int               { return 6 }
func (c *LESetRandomAddress) Marshal(b []byte) error { return marshal(b, c.Len(), c) }

// LESetScanParameters implements LE Set Scan Parameters (0x08|0x000B) [Vol 2, Part E, 7.8.10]
type LESetScanParameters struct {
	LEScanType           uint8
	LEScanInterval       uint16
	LEScanWindow         uint16
	OwnAddressType       uint8
	ScanningFilterPolicy uint8
}

func (c *LESetScanParameters) OpCode() int            { return LESetScanParametersOpCode }
func (c *LESetScanParameters) Len() int               { return 7 }
func (c *LESetScanParameters) Marshal(b []byte) error { return marshal(b, c.Len(), c) }

// LESetScanEnable implements LE Set Scan Enable (0x08|0x000C) [Vol 2, Part E, 7.8.11]
type LESetScanEnable struct {
	LEScanEnable     uint8
	FilterDuplicates uint8
}

func (c *LESetScanEnable) OpCode() int            { return LESetScanEnableOpCode }
func (c *LESetScanEnable) Len() int               { return 2 }
func (c *LESetScanEnable) Marshal(b []byte) error { return marshal(b, c.Len(), c) }

// LECreateConnection implements LE Create Connection (0x08|0x000D) [Vol 2, Part E, 7.8.12]
type LECreateConnection struct {
	LEScanInterval        uint16
	LEScanWindow          uint16
	InitiatorFilterPolicy uint8
	PeerAddressType       uint8
	PeerAddress           [6]byte
	OwnAddressType        uint8
	ConnIntervalMin       uint16
	ConnIntervalMax       uint16
	ConnLatency           uint16
	SupervisionTimeout    uint16
	MinimumCELength       uint16
	MaximumCELength       uint16
}

func (c *LECreateConnection) OpCode() int            { return LECreateConnectionOpCode }
func (c *LECreateConnection) Len() int               { return 25 }
func (c *LECreateConnection) Marshal(b []byte) error { return marshal(b, c.Len(), c) }

// LECreateConnectionCancel implements LE Create Connection Cancel (0x08|0x000E) [Vol 2, Part E, 7.8.13]
type LECreateConnectionCancel struct{}

func (c *LECreateConnectionCancel) OpCode() int            { return LECreateConnectionCancelOpCode }
func (c *LECreateConnectionCancel) Len() int               { return 0 }
func (c *LECreateConnectionCancel) Marshal(b []byte) error { return nil }

// LEConnectionUpdate implements LE Connection Update (0x08|0x0013) [Vol 2, Part E, 7.8.18]
type LEConnectionUpdate struct {
	ConnectionHandle   uint16
	ConnIntervalMin    uint16
	ConnIntervalMax    uint16
	ConnLatency        uint16
	SupervisionTimeout uint16
	MinimumCELength    uint16
	MaximumCELength    uint16
}

func (c *LEConnectionUpdate) OpCode() int            { return LEConnectionUpdateOpCode }
func (c *LEConnectionUpdate) Len() int               { return 14 }
func (c *LEConnectionUpdate) Marshal(b []byte) error { return marshal(b, c.Len(), c) }
