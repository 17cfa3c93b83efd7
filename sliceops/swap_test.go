package sliceops

import (
	"bytes"
	"testing"
)

func TestSwapBuf(t *testing.T) {
	tests := []struct {
		in, out []byte
	}{
		{nil, []byte{}},
		{[]byte{1}, []byte{1}},
		{[]byte{1, 2}, []byte{2, 1}},
		{[]byte{1, 2, 3, 4, 5}, []byte{5, 4, 3, 2, 1}},
	}
	for _, tt := range tests {
		in := append([]byte(nil), tt.in...)
		got := SwapBuf(in)
		if !bytes.Equal(got, tt.out) {
			t.Fatalf("expected %v but got %v instead", tt.out, got)
		}
		if !bytes.Equal(in, tt.in) {
			t.Fatalf("input modified: %v", in)
		}
	}
}
