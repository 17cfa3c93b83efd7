package hci

import (
	"fmt"

	ble "github.com/rigado/lehost"
	"github.com/rigado/lehost/linux/hci/cmd"
)

// Connection is a logical LE link to a remote device. It is owned by
// whoever received it from the connector; closing it tears the link down.
type Connection struct {
	cmds   CommandChannel
	handle uint16
	role   Role
	local  ble.Addr
	peer   ble.Addr
	params LEConnectionParams
	open   bool
	log    ble.Logger
}

func NewLEConnection(cmds CommandChannel, handle uint16, role Role, local, peer ble.Addr, params LEConnectionParams) *Connection {
	return &Connection{
		cmds:   cmds,
		handle: handle,
		role:   role,
		local:  local,
		peer:   peer,
		params: params,
		open:   true,
		log: ble.ComponentLogger("hci-conn").ChildLogger(map[string]interface{}{
			"handle": fmt.Sprintf("0x%04x", handle),
			"peer":   peer.String(),
		}),
	}
}

func (c *Connection) Handle() uint16                   { return c.handle }
func (c *Connection) Role() Role                       { return c.role }
func (c *Connection) LocalAddress() ble.Addr           { return c.local }
func (c *Connection) PeerAddress() ble.Addr            { return c.peer }
func (c *Connection) LEParameters() LEConnectionParams { return c.params }
func (c *Connection) IsOpen() bool                     { return c.open }

func (c *Connection) String() string {
	return fmt.Sprintf("LE link 0x%04x (%s, %s)", c.handle, c.peer, c.role)
}

// SetLEParameters records the parameters the controller reports in effect.
func (c *Connection) SetLEParameters(p LEConnectionParams) {
	c.params = p
}

// Disconnect asks the controller to terminate the link. It only sends the
// command the first time; it reports whether it did.
func (c *Connection) Disconnect(reason ErrCommand) bool {
	if !c.open {
		return false
	}
	c.open = false

	c.log.Debugf("disconnecting: %v", reason)
	c.cmds.SendCommand(&cmd.Disconnect{
		ConnectionHandle: c.handle,
		Reason:           uint8(reason),
	}, func(err error, _ []byte) {
		if err != nil {
			c.log.Warnf("disconnect failed: %v", err)
		}
	})
	return true
}

// Close terminates the link as the local user.
func (c *Connection) Close() {
	c.Disconnect(ErrRemoteUser)
}

// MarkClosed records a link the controller already reported as gone. No
// command is sent.
func (c *Connection) MarkClosed() {
	c.open = false
}

// UpdateParameters issues LE Connection Update. The outcome of the
// procedure itself arrives in an LE Connection Update Complete event; cb
// only sees the command status.
func (c *Connection) UpdateParameters(p LEPreferredConnectionParams, cb func(error)) {
	if !c.open {
		if cb != nil {
			cb(ble.ErrNotReady)
		}
		return
	}

	c.cmds.SendCommand(&cmd.LEConnectionUpdate{
		ConnectionHandle:   c.handle,
		ConnIntervalMin:    p.MinInterval,
		ConnIntervalMax:    p.MaxInterval,
		ConnLatency:        p.MaxLatency,
		SupervisionTimeout: p.SupervisionTimeout,
	}, func(err error, _ []byte) {
		if err != nil {
			c.log.Warnf("connection update failed: %v", err)
		}
		if cb != nil {
			cb(err)
		}
	})
}
