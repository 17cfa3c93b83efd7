package h4

import (
	"net"
	"time"
)

// deadlineConn bounds every read and write on a net.Conn. A zero write
// timeout means writes may block.
type deadlineConn struct {
	net.Conn
	readPoll     time.Duration
	writeTimeout time.Duration
}

func newDeadlineConn(c net.Conn, writeTimeout time.Duration) *deadlineConn {
	return &deadlineConn{Conn: c, readPoll: readTimeout, writeTimeout: writeTimeout}
}

// Read times out after readPoll so the receiver can notice Close.
func (dc *deadlineConn) Read(b []byte) (int, error) {
	dc.Conn.SetReadDeadline(time.Now().Add(dc.readPoll))
	return dc.Conn.Read(b)
}

func (dc *deadlineConn) Write(b []byte) (int, error) {
	var deadline time.Time
	if dc.writeTimeout > 0 {
		deadline = time.Now().Add(dc.writeTimeout)
	}
	dc.Conn.SetWriteDeadline(deadline)
	return dc.Conn.Write(b)
}
