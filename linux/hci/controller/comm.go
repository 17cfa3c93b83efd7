package controller

import (
	"github.com/pkg/errors"
	ble "github.com/rigado/lehost"
	"github.com/rigado/lehost/dispatch"
	"github.com/rigado/lehost/linux/hci"
	"github.com/rigado/lehost/linux/hci/cmd"
	"github.com/rigado/lehost/linux/hci/evt"
)

type pendingCommand struct {
	op       int
	pkt      []byte
	cb       hci.CommandCallback
	watchdog *dispatch.Task
}

func (p *pendingCommand) complete(err error, params []byte) {
	p.watchdog.Cancel()
	if p.cb != nil {
		p.cb(err, params)
	}
}

// SendCommand queues c. At most one command per opcode is outstanding and
// no more than the controller allows in total; the rest wait in order.
func (h *HCI) SendCommand(c hci.Command, cb hci.CommandCallback) {
	if h.closed {
		h.d.Post(func() {
			if cb != nil {
				cb(ble.ErrNotReady, nil)
			}
		})
		return
	}

	b := make([]byte, 4+c.Len())
	b[0] = hci.PktTypeCommand
	b[1] = byte(c.OpCode())
	b[2] = byte(c.OpCode() >> 8)
	b[3] = byte(c.Len())
	if err := c.Marshal(b[4:]); err != nil {
		err = errors.Wrapf(err, "marshal %s", cmd.Name(c.OpCode()))
		h.d.Post(func() {
			if cb != nil {
				cb(err, nil)
			}
		})
		return
	}

	h.queue = append(h.queue, &pendingCommand{op: c.OpCode(), pkt: b, cb: cb})
	h.trySendCommands()
}

func (h *HCI) trySendCommands() {
	for !h.closed && h.credits > 0 {
		idx := -1
		for i, p := range h.queue {
			if _, busy := h.sent[p.op]; !busy {
				idx = i
				break
			}
		}
		if idx < 0 {
			return
		}
		p := h.queue[idx]
		h.queue = append(h.queue[:idx], h.queue[idx+1:]...)

		if err := h.write(p.pkt); err != nil {
			h.queue = append([]*pendingCommand{p}, h.queue...)
			h.fail(errors.Wrapf(err, "send %s", cmd.Name(p.op)))
			return
		}
		h.credits--
		h.sent[p.op] = p
		p.watchdog = h.d.PostDelayed(h.cmdTimeout, func() { h.onCommandTimeout(p) })
	}
}

func (h *HCI) write(b []byte) error {
	n, err := h.skt.Write(b)
	if err != nil {
		return err
	}
	if n != len(b) {
		return errors.Errorf("short write: %d of %d bytes", n, len(b))
	}
	return nil
}

func (h *HCI) onCommandTimeout(p *pendingCommand) {
	if h.sent[p.op] != p {
		return
	}
	delete(h.sent, p.op)

	// The credit went with the lost response.
	h.credits = 1

	err := errors.Errorf("no response to %s", cmd.Name(p.op))
	h.log.Errorf("%v", err)
	p.complete(ble.ErrTimedOut, nil)
	h.dispatchError(err)
	h.trySendCommands()
}

func (h *HCI) failCommands(err error) {
	var all []*pendingCommand
	for _, p := range h.sent {
		all = append(all, p)
	}
	all = append(all, h.queue...)
	h.sent = make(map[int]*pendingCommand)
	h.queue = nil

	for _, p := range all {
		p.complete(err, nil)
	}
}

func (h *HCI) handleCommandComplete(b []byte) error {
	e := evt.CommandComplete(b)
	n, err := e.NumHCICommandPacketsWErr()
	if err != nil {
		return errors.Wrap(err, "command complete")
	}
	op, err := e.CommandOpcodeWErr()
	if err != nil {
		return errors.Wrap(err, "command complete")
	}
	rp, err := e.ReturnParametersWErr()
	if err != nil {
		return errors.Wrap(err, "command complete")
	}
	h.credits = int(n)

	// NOP command, used for flow control purpose [Vol 2, Part E, 4.4]
	if op == 0x0000 {
		h.trySendCommands()
		return nil
	}

	p, ok := h.sent[int(op)]
	if !ok {
		h.log.Debugf("command complete for %s, not pending", cmd.Name(int(op)))
		h.trySendCommands()
		return nil
	}
	delete(h.sent, int(op))

	var status error
	if len(rp) > 0 && rp[0] != 0x00 {
		status = hci.ErrCommand(rp[0])
	}
	p.complete(status, rp)
	h.trySendCommands()
	return nil
}

func (h *HCI) handleCommandStatus(b []byte) error {
	e := evt.CommandStatus(b)
	status, err := e.StatusWErr()
	if err != nil {
		return errors.Wrap(err, "command status")
	}
	n, err := e.NumHCICommandPacketsWErr()
	if err != nil {
		return errors.Wrap(err, "command status")
	}
	op, err := e.CommandOpcodeWErr()
	if err != nil {
		return errors.Wrap(err, "command status")
	}
	h.credits = int(n)

	if op == 0x0000 {
		h.trySendCommands()
		return nil
	}

	p, ok := h.sent[int(op)]
	if !ok {
		h.log.Debugf("command status for %s, not pending", cmd.Name(int(op)))
		h.trySendCommands()
		return nil
	}
	delete(h.sent, int(op))

	var result error
	if status != 0x00 {
		result = hci.ErrCommand(status)
	}
	p.complete(result, nil)
	h.trySendCommands()
	return nil
}
