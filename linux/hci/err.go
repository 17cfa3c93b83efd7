package hci

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrCommand is an HCI status code reported by the controller
// [Vol 2, Part D, 1.3].
type ErrCommand byte

const (
	ErrUnknownCommand            ErrCommand = 0x01
	ErrConnID                    ErrCommand = 0x02
	ErrHardware                  ErrCommand = 0x03
	ErrPageTimeout               ErrCommand = 0x04
	ErrAuth                      ErrCommand = 0x05
	ErrPINMissing                ErrCommand = 0x06
	ErrMemoryCapacity            ErrCommand = 0x07
	ErrConnTimeout               ErrCommand = 0x08
	ErrConnLimit                 ErrCommand = 0x09
	ErrConnExists                ErrCommand = 0x0B
	ErrDisallowed                ErrCommand = 0x0C
	ErrLimitedResources          ErrCommand = 0x0D
	ErrSecurity                  ErrCommand = 0x0E
	ErrUnacceptableAddr          ErrCommand = 0x0F
	ErrConnAcceptTimeout         ErrCommand = 0x10
	ErrUnsupported               ErrCommand = 0x11
	ErrInvalidParams             ErrCommand = 0x12
	ErrRemoteUser                ErrCommand = 0x13
	ErrRemoteLowResources        ErrCommand = 0x14
	ErrRemotePowerOff            ErrCommand = 0x15
	ErrLocalHost                 ErrCommand = 0x16
	ErrUnsupportedRemoteFeature  ErrCommand = 0x1A
	ErrUnspecified               ErrCommand = 0x1F
	ErrUnsupportedParam          ErrCommand = 0x20
	ErrLLResponseTimeout         ErrCommand = 0x22
	ErrInstantPassed             ErrCommand = 0x28
	ErrControllerBusy            ErrCommand = 0x3A
	ErrUnacceptableConnInterval  ErrCommand = 0x3B
	ErrAdvertisingTimeout        ErrCommand = 0x3C
	ErrConnTerminatedMICFailure  ErrCommand = 0x3D
	ErrConnFailedToBeEstablished ErrCommand = 0x3E
)

var errCommandStrings = map[ErrCommand]string{
	ErrUnknownCommand:            "unknown HCI command",
	ErrConnID:                    "unknown connection identifier",
	ErrHardware:                  "hardware failure",
	ErrPageTimeout:               "page timeout",
	ErrAuth:                      "authentication failure",
	ErrPINMissing:                "PIN or key missing",
	ErrMemoryCapacity:            "memory capacity exceeded",
	ErrConnTimeout:               "connection timeout",
	ErrConnLimit:                 "connection limit exceeded",
	ErrConnExists:                "connection already exists",
	ErrDisallowed:                "command disallowed",
	ErrLimitedResources:          "rejected due to limited resources",
	ErrSecurity:                  "rejected due to security reasons",
	ErrUnacceptableAddr:          "rejected due to unacceptable BD_ADDR",
	ErrConnAcceptTimeout:         "connection accept timeout exceeded",
	ErrUnsupported:               "unsupported feature or parameter value",
	ErrInvalidParams:             "invalid HCI command parameters",
	ErrRemoteUser:                "remote user terminated connection",
	ErrRemoteLowResources:        "remote device terminated connection due to low resources",
	ErrRemotePowerOff:            "remote device terminated connection due to power off",
	ErrLocalHost:                 "connection terminated by local host",
	ErrUnsupportedRemoteFeature:  "unsupported remote feature",
	ErrUnspecified:               "unspecified error",
	ErrUnsupportedParam:          "unsupported LMP/LL parameter value",
	ErrLLResponseTimeout:         "LMP/LL response timeout",
	ErrInstantPassed:             "instant passed",
	ErrControllerBusy:            "controller busy",
	ErrUnacceptableConnInterval:  "unacceptable connection parameters",
	ErrAdvertisingTimeout:        "advertising timeout",
	ErrConnTerminatedMICFailure:  "connection terminated due to MIC failure",
	ErrConnFailedToBeEstablished: "connection failed to be established",
}

func (e ErrCommand) Error() string {
	if s, ok := errCommandStrings[e]; ok {
		return fmt.Sprintf("hci: %s (0x%02X)", s, byte(e))
	}
	return fmt.Sprintf("hci: status 0x%02X", byte(e))
}

// statusError turns a status octet into an error, nil for success.
func statusError(status uint8) error {
	if status == 0x00 {
		return nil
	}
	return ErrCommand(status)
}

// IsProtocolError reports whether err, or its cause, is a status code
// reported by the controller.
func IsProtocolError(err error) (ErrCommand, bool) {
	var ec ErrCommand
	if errors.As(err, &ec) {
		return ec, true
	}
	return 0, false
}
