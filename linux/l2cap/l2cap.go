// Package l2cap carries the part of L2CAP the LE connection manager depends
// on: the LE signaling channel of each link, which delivers connection
// parameter update requests and reports broken links.
package l2cap

import (
	"github.com/rigado/lehost/linux/hci"
)

// L2CAP Channel Identifier namespace for LE-U logical link [Vol 3, Part A, 2.1].
const (
	CidLEAtt    uint16 = 0x04 // Attribute Protocol [Vol 3, Part F].
	CidLESignal uint16 = 0x05 // Low Energy L2CAP Signaling channel [Vol 3, Part A, 4].
	CidSMP      uint16 = 0x06 // Security Manager Protocol [Vol 3, Part H].
)

// ParamsCallback receives connection parameters the remote side asked for
// and that were accepted.
type ParamsCallback func(p hci.LEPreferredConnectionParams)

// LinkErrorCallback is called when the link can no longer be used and must
// be torn down.
type LinkErrorCallback func()

// Domain is the per-link registration point of L2CAP. Callbacks run on the
// dispatcher that feeds the domain its ACL data.
type Domain interface {
	RegisterLE(handle uint16, role hci.Role, params ParamsCallback, linkErr LinkErrorCallback)
	Unregister(handle uint16)
}

// ACLWriter sends a complete L2CAP PDU over the ACL link identified by
// handle; fragmentation is up to the writer.
type ACLWriter interface {
	WriteACL(handle uint16, pdu []byte) error
}
