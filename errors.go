package ble

import "fmt"

// HostError is an error produced by the host stack itself, as opposed to a
// status code reported by the controller.
type HostError uint8

const (
	ErrFailed HostError = iota + 1
	ErrTimedOut
	ErrNotFound
	ErrCanceled
	ErrNotReady
	ErrInvalidParameters
	ErrInProgress
)

var hostErrorStrings = map[HostError]string{
	ErrFailed:            "failed",
	ErrTimedOut:          "timed out",
	ErrNotFound:          "not found",
	ErrCanceled:          "canceled",
	ErrNotReady:          "not ready",
	ErrInvalidParameters: "invalid parameters",
	ErrInProgress:        "in progress",
}

func (e HostError) Error() string {
	if s, ok := hostErrorStrings[e]; ok {
		return s
	}
	return fmt.Sprintf("host error %d", uint8(e))
}
