//go:build !linux
// +build !linux

package socket

import (
	"io"
	"time"

	"github.com/pkg/errors"
)

// NewSocket is a dummy function for non-Linux platform.
func NewSocket(id int) (io.ReadWriteCloser, error) {
	return nil, errors.New("hci user channel is only available on linux")
}

func Open(id int, wait time.Duration) (io.ReadWriteCloser, error) {
	return NewSocket(id)
}
