// Package evt provides zero-copy views over HCI event parameters. Each view
// is the parameter block of the event, without the event code and length
// octets. LE meta event views keep the subevent code at offset 0.
package evt

const (
	DisconnectionCompleteCode    = 0x05
	EncryptionChangeCode         = 0x08
	CommandCompleteCode          = 0x0E
	CommandStatusCode            = 0x0F
	HardwareErrorCode            = 0x10
	NumberOfCompletedPacketsCode = 0x13
	LEMetaEventCode              = 0x3E
)

const (
	LEConnectionCompleteSubCode         = 0x01
	LEAdvertisingReportSubCode          = 0x02
	LEConnectionUpdateCompleteSubCode   = 0x03
	LEDirectedAdvertisingReportSubCode  = 0x0B
	LEEnhancedConnectionCompleteSubCode = 0x0A
)

type CommandComplete []byte
type CommandStatus []byte
type DisconnectionComplete []byte
type NumberOfCompletedPackets []byte
type LEConnectionComplete []byte
type LEConnectionUpdateComplete []byte
type LEAdvertisingReport []byte
type LEDirectedAdvertisingReport []byte

// AdvertisingReport is one entry of an LE Advertising Report event.
type AdvertisingReport struct {
	EventType   uint8
	AddressType uint8
	Address     [6]byte
	Data        []byte
	RSSI        int8
}

// DirectedAdvertisingReport is one entry of an LE Directed Advertising
// Report event.
type DirectedAdvertisingReport struct {
	EventType         uint8
	AddressType       uint8
	Address           [6]byte
	DirectAddressType uint8
	DirectAddress     [6]byte
	RSSI              int8
}

func (e CommandComplete) NumHCICommandPackets() uint8 {
	v, _ := e.NumHCICommandPacketsWErr()
	return v
}

func (e CommandComplete) CommandOpcode() uint16 {
	v, _ := e.CommandOpcodeWErr()
	return v
}

func (e CommandComplete) ReturnParameters() []byte {
	v, _ := e.ReturnParametersWErr()
	return v
}

func (e CommandStatus) Status() uint8 {
	v, _ := e.StatusWErr()
	return v
}

func (e CommandStatus) NumHCICommandPackets() uint8 {
	v, _ := e.NumHCICommandPacketsWErr()
	return v
}

func (e CommandStatus) CommandOpcode() uint16 {
	v, _ := e.CommandOpcodeWErr()
	return v
}

// Bluetooth Core [Vol 2, Part E, 7.7.19] packet structure:
//
//     NumOfHandle, HandleA, HandleB, CompPktNumA, CompPktNumB
//
// But we got the actual packet from BCM20702A1 with the following structure instead.
//
//     NumOfHandle, HandleA, CompPktNumA, HandleB, CompPktNumB
//              02,   40 00,       01 00,   41 00,       01 00

func (e NumberOfCompletedPackets) NumberOfHandles() uint8 {
	v, _ := e.NumberOfHandlesWErr()
	return v
}

func (e NumberOfCompletedPackets) ConnectionHandle(i int) uint16 {
	v, _ := e.ConnectionHandleWErr(i)
	return v
}

func (e NumberOfCompletedPackets) HCNumOfCompletedPackets(i int) uint16 {
	v, _ := e.HCNumOfCompletedPacketsWErr(i)
	return v
}
