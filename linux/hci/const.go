package hci

// HCI Packet types
const (
	PktTypeCommand uint8 = 0x01
	PktTypeACLData uint8 = 0x02
	PktTypeSCOData uint8 = 0x03
	PktTypeEvent   uint8 = 0x04
	PktTypeVendor  uint8 = 0xFF
)

// Packet boundary flags of HCI ACL Data Packet [Vol 2, Part E, 5.4.2].
const (
	PbfHostToControllerStart = 0x00 // Start of a non-automatically-flushable from host to controller.
	PbfContinuing            = 0x01 // Continuing fragment.
	PbfControllerToHostStart = 0x02 // Start of a non-automatically-flushable from controller to host.
	PbfCompleteL2CAPPDU      = 0x03 // A automatically flushable complete PDU. (Not used in LE-U).
)

// Role is the link-layer role of the local device on a connection.
type Role uint8

const (
	RoleMaster Role = 0x00
	RoleSlave  Role = 0x01
)

func (r Role) String() string {
	if r == RoleMaster {
		return "central"
	}
	return "peripheral"
}

// Advertising report event types [Vol 2, Part E, 7.7.65.2].
const (
	AdvInd        = 0x00
	AdvDirectInd  = 0x01
	AdvScanInd    = 0x02
	AdvNonconnInd = 0x03
	ScanRsp       = 0x04
)

// Address types carried in LE events.
const (
	LEAddressTypePublic         = 0x00
	LEAddressTypeRandom         = 0x01
	LEAddressTypePublicIdentity = 0x02
	LEAddressTypeRandomIdentity = 0x03
)
