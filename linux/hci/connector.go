package hci

import (
	"time"

	ble "github.com/rigado/lehost"
	"github.com/rigado/lehost/dispatch"
	"github.com/rigado/lehost/linux/hci/cmd"
	"github.com/rigado/lehost/linux/hci/evt"
)

// ConnectionResultCallback receives the outcome of an outgoing connection
// attempt. link is non-nil only when err is nil.
type ConnectionResultCallback func(err error, link *Connection)

// IncomingConnectionDelegate receives links the local device did not
// initiate. The delegate owns the link.
type IncomingConnectionDelegate func(link *Connection)

// LowEnergyConnector runs the LE Create Connection procedure for one
// attempt at a time.
type LowEnergyConnector struct {
	d        dispatch.Dispatcher
	cmds     CommandChannel
	addr     LocalAddressDelegate
	incoming IncomingConnectionDelegate

	scanInterval uint16
	scanWindow   uint16

	pending   *connectRequest
	handlerID HandlerID
	closed    bool

	log ble.Logger
}

type connectRequest struct {
	peer    ble.Addr
	params  LEPreferredConnectionParams
	timeout time.Duration
	cb      ConnectionResultCallback

	// set once the local address is fixed and the command was issued
	initiating bool
	local      ble.Addr

	canceled    bool
	timedOut    bool
	timeoutTask *dispatch.Task
}

func NewLowEnergyConnector(d dispatch.Dispatcher, cmds CommandChannel, addr LocalAddressDelegate, incoming IncomingConnectionDelegate) *LowEnergyConnector {
	c := &LowEnergyConnector{
		d:            d,
		cmds:         cmds,
		addr:         addr,
		incoming:     incoming,
		scanInterval: DefaultLEScanInterval,
		scanWindow:   DefaultLEScanWindow,
		log:          ble.ComponentLogger("le-connector"),
	}
	c.handlerID = cmds.AddLEMetaEventHandler(evt.LEConnectionCompleteSubCode, c.onConnectionComplete)
	return c
}

// SetScanParameters sets the interval and window used while initiating.
func (c *LowEnergyConnector) SetScanParameters(interval, window uint16) {
	c.scanInterval = interval
	c.scanWindow = window
}

// SetIncomingConnectionDelegate replaces the receiver of remote-initiated
// links.
func (c *LowEnergyConnector) SetIncomingConnectionDelegate(incoming IncomingConnectionDelegate) {
	c.incoming = incoming
}

// RequestPending reports whether an attempt is outstanding.
func (c *LowEnergyConnector) RequestPending() bool {
	return c.pending != nil
}

// PendingPeerAddress returns the target of the outstanding attempt.
func (c *LowEnergyConnector) PendingPeerAddress() (ble.Addr, bool) {
	if c.pending == nil {
		return ble.Addr{}, false
	}
	return c.pending.peer, true
}

// AllowsRandomAddressChange is false once an attempt has fixed its local
// address.
func (c *LowEnergyConnector) AllowsRandomAddressChange() bool {
	return c.pending == nil || !c.pending.initiating
}

// CreateConnection starts an attempt to connect to peer. It returns false
// when another attempt is outstanding. cb is always invoked exactly once
// for an accepted attempt, on the dispatcher.
func (c *LowEnergyConnector) CreateConnection(peer ble.Addr, params LEPreferredConnectionParams, timeout time.Duration, cb ConnectionResultCallback) bool {
	if c.closed {
		return false
	}
	if c.pending != nil {
		c.log.Debugf("connection to %v rejected: attempt to %v outstanding", peer, c.pending.peer)
		return false
	}

	req := &connectRequest{
		peer:    peer,
		params:  params,
		timeout: timeout,
		cb:      cb,
	}
	c.pending = req

	c.addr.EnsureLocalAddress(func(local ble.Addr) {
		if c.pending != req || req.canceled {
			return
		}
		c.createConnectionInternal(req, local)
	})

	return true
}

func (c *LowEnergyConnector) createConnectionInternal(req *connectRequest, local ble.Addr) {
	req.initiating = true
	req.local = local

	c.log.Debugf("connecting to %v as %v", req.peer, local)
	c.cmds.SendCommand(&cmd.LECreateConnection{
		LEScanInterval:        c.scanInterval,
		LEScanWindow:          c.scanWindow,
		InitiatorFilterPolicy: FilterPolicyAcceptAll,
		PeerAddressType:       peerAddressType(req.peer),
		PeerAddress:           req.peer.LittleEndian(),
		OwnAddressType:        ownAddressType(local),
		ConnIntervalMin:       req.params.MinInterval,
		ConnIntervalMax:       req.params.MaxInterval,
		ConnLatency:           req.params.MaxLatency,
		SupervisionTimeout:    req.params.SupervisionTimeout,
	}, func(err error, _ []byte) {
		if c.pending != req {
			return
		}
		if err != nil {
			c.log.Debugf("create connection to %v failed: %v", req.peer, err)
			c.complete(req, err, nil)
			return
		}
		if req.canceled {
			return
		}
		req.timeoutTask = c.d.PostDelayed(req.timeout, func() {
			c.onTimeout(req)
		})
	})
}

// Cancel aborts the outstanding attempt. Its callback sees ErrCanceled.
func (c *LowEnergyConnector) Cancel() {
	if c.pending == nil {
		return
	}
	c.cancelInternal(c.pending, false)
}

func (c *LowEnergyConnector) onTimeout(req *connectRequest) {
	if c.pending != req {
		return
	}
	c.log.Debugf("connection attempt to %v timed out", req.peer)
	c.cancelInternal(req, true)
}

func (c *LowEnergyConnector) cancelInternal(req *connectRequest, timedOut bool) {
	if req.canceled {
		return
	}
	req.canceled = true
	req.timedOut = timedOut
	req.timeoutTask.Cancel()

	if !req.initiating {
		// nothing was sent to the controller yet
		c.complete(req, c.cancelError(req), nil)
		return
	}

	// the attempt resolves on the LE Connection Complete that follows
	c.cmds.SendCommand(&cmd.LECreateConnectionCancel{}, func(err error, _ []byte) {
		if err != nil {
			c.log.Debugf("create connection cancel: %v", err)
		}
	})
}

func (c *LowEnergyConnector) cancelError(req *connectRequest) error {
	if req.timedOut {
		return ble.ErrTimedOut
	}
	return ble.ErrCanceled
}

func (c *LowEnergyConnector) complete(req *connectRequest, err error, link *Connection) {
	if c.pending != req {
		return
	}
	c.pending = nil
	req.timeoutTask.Cancel()
	req.cb(err, link)
}

func (c *LowEnergyConnector) onConnectionComplete(params []byte) {
	e := evt.LEConnectionComplete(params)

	status, err := e.StatusWErr()
	if err != nil {
		c.log.Warnf("malformed LE connection complete: %v", err)
		return
	}

	if status != 0x00 {
		req := c.pending
		if req == nil || !req.initiating {
			c.log.Debugf("LE connection complete with status 0x%02x and no attempt outstanding", status)
			return
		}
		result := error(ErrCommand(status))
		if req.canceled && ErrCommand(status) == ErrConnID {
			result = c.cancelError(req)
		}
		c.complete(req, result, nil)
		return
	}

	handle, err := e.ConnectionHandleWErr()
	if err != nil {
		c.log.Warnf("malformed LE connection complete: %v", err)
		return
	}
	role, _ := e.RoleWErr()
	addrType, _ := e.PeerAddressTypeWErr()
	raw, _ := e.PeerAddressWErr()
	interval, _ := e.ConnIntervalWErr()
	latency, _ := e.ConnLatencyWErr()
	sto, _ := e.SupervisionTimeoutWErr()

	peer, _ := AddrFromEvent(addrType, raw)
	lp := LEConnectionParams{Interval: interval, Latency: latency, SupervisionTimeout: sto}

	req := c.pending
	if req != nil && req.initiating && Role(role) == RoleMaster && peer == req.peer {
		link := NewLEConnection(c.cmds, handle, RoleMaster, req.local, peer, lp)
		if req.canceled {
			// the cancel lost the race against the controller
			link.Close()
			c.complete(req, c.cancelError(req), nil)
			return
		}
		c.complete(req, nil, link)
		return
	}

	link := NewLEConnection(c.cmds, handle, Role(role), c.addr.IdentityAddress(), peer, lp)
	if c.incoming == nil {
		c.log.Warnf("no delegate for incoming link from %v, disconnecting", peer)
		link.Close()
		return
	}
	c.log.Debugf("remote initiated link from %v (%v)", peer, Role(role))
	c.incoming(link)
}

// Close releases the connector. An outstanding attempt is canceled and its
// callback invoked before Close returns.
func (c *LowEnergyConnector) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.cmds.RemoveEventHandler(c.handlerID)

	req := c.pending
	if req == nil {
		return
	}
	if req.initiating && !req.canceled {
		c.cmds.SendCommand(&cmd.LECreateConnectionCancel{}, nil)
	}
	req.canceled = true
	c.complete(req, c.cancelError(req), nil)
}
