// Package hci implements the LE link-layer procedures of the host: outgoing
// connection establishment, legacy scanning, and the per-link connection
// object. Everything in this package runs on a dispatch.Dispatcher and talks
// to the controller through a CommandChannel.
package hci

// Command is an HCI command that can be sent to the controller.
type Command interface {
	OpCode() int
	Len() int
	Marshal([]byte) error
}

// CommandRP is the return parameter block of a command.
type CommandRP interface {
	Unmarshal(b []byte) error
}

// CommandCallback receives the outcome of a command. err is nil on success,
// an ErrCommand when the controller reported a failure status, or a host
// error. params holds the return parameters of a Command Complete event,
// status octet included, and is nil for commands answered by Command
// Status.
type CommandCallback func(err error, params []byte)

// EventHandler receives the parameters of an event. LE meta events keep
// their subevent code at offset 0.
type EventHandler func(params []byte)

// HandlerID identifies a registered event handler.
type HandlerID uint64

// CommandChannel is the command and event boundary to the controller. All
// callbacks run on the dispatcher the channel was created with.
type CommandChannel interface {
	// SendCommand queues c. cb may be nil.
	SendCommand(c Command, cb CommandCallback)

	AddEventHandler(code int, h EventHandler) HandlerID
	AddLEMetaEventHandler(subcode int, h EventHandler) HandlerID
	RemoveEventHandler(id HandlerID)
}
