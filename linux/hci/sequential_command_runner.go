package hci

// SequentialCommandRunner sends a batch of commands one after another,
// stopping at the first failure.
type SequentialCommandRunner struct {
	cmds     CommandChannel
	queue    []queuedCommand
	statusCb func(error)
	running  bool

	// bumped on Cancel so completions of the old sequence are dropped
	seq uint64
}

type queuedCommand struct {
	c  Command
	cb CommandCallback
}

func NewSequentialCommandRunner(cmds CommandChannel) *SequentialCommandRunner {
	return &SequentialCommandRunner{cmds: cmds}
}

// QueueCommand adds c to the next sequence. cb, if set, sees the outcome of
// c before the sequence moves on.
func (r *SequentialCommandRunner) QueueCommand(c Command, cb CommandCallback) {
	if r.running {
		panic("hci: queueing a command on a running sequence")
	}
	r.queue = append(r.queue, queuedCommand{c: c, cb: cb})
}

// RunCommands starts the queued sequence. statusCb receives nil once all
// commands succeeded, or the first error.
func (r *SequentialCommandRunner) RunCommands(statusCb func(error)) {
	if r.running {
		panic("hci: sequence already running")
	}
	r.running = true
	r.statusCb = statusCb
	r.next()
}

// Cancel drops the remaining commands. The status callback is not invoked
// and the outcome of a command already sent is ignored.
func (r *SequentialCommandRunner) Cancel() {
	r.seq++
	r.queue = nil
	r.running = false
	r.statusCb = nil
}

func (r *SequentialCommandRunner) IsReady() bool {
	return !r.running
}

func (r *SequentialCommandRunner) next() {
	if len(r.queue) == 0 {
		r.done(nil)
		return
	}

	qc := r.queue[0]
	r.queue = r.queue[1:]
	seq := r.seq

	r.cmds.SendCommand(qc.c, func(err error, params []byte) {
		if seq != r.seq {
			return
		}
		if qc.cb != nil {
			qc.cb(err, params)
		}
		if seq != r.seq {
			return
		}
		if err != nil {
			r.done(err)
			return
		}
		r.next()
	})
}

func (r *SequentialCommandRunner) done(err error) {
	cb := r.statusCb
	r.running = false
	r.queue = nil
	r.statusCb = nil
	if cb != nil {
		cb(err)
	}
}
