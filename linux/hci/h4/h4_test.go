package h4

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"
)

func TestSocketRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("expected nil error but got %s instead", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	h, err := NewSocket(ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("expected nil error but got %s instead", err)
	}
	defer h.Close()

	srv, ok := <-accepted
	if !ok {
		t.Fatalf("no connection accepted")
	}
	defer srv.Close()

	reset := []byte{0x01, 0x03, 0x0c, 0x00}
	if _, err := h.Write(reset); err != nil {
		t.Fatalf("expected nil error but got %s instead", err)
	}
	got := make([]byte, len(reset))
	srv.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := io.ReadFull(srv, got); err != nil || !bytes.Equal(got, reset) {
		t.Fatalf("expected % X on the wire but got % X (%v)", reset, got, err)
	}

	// split across two writes; Read must hand back the whole packet
	evt := []byte{0x04, 0x0e, 0x04, 0x01, 0x03, 0x0c, 0x00}
	srv.Write(evt[:3])
	srv.Write(evt[3:])

	b := make([]byte, 64)
	deadline := time.Now().Add(2 * time.Second)
	for {
		n, err := h.Read(b)
		if err != nil {
			t.Fatalf("expected nil error but got %s instead", err)
		}
		if n > 0 {
			if !bytes.Equal(b[:n], evt) {
				t.Fatalf("expected % X but got % X instead", evt, b[:n])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no packet received")
		}
	}

	h.Close()
	if _, err := h.Read(b); err != io.EOF {
		t.Fatalf("expected io.EOF after close but got %v instead", err)
	}
	if _, err := h.Write(reset); err == nil {
		t.Fatalf("expected an error writing after close")
	}
}
