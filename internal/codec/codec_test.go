package codec

import (
	"bytes"
	"testing"
)

func TestLengthPrefixedRoundTrip(t *testing.T) {
	var c LengthPrefixed
	var wire []byte
	payload := []byte("hello ringnet")

	wire, err := c.Encode(payload, wire)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if total := c.Length(wire); total != len(wire) {
		t.Fatalf("Length = %d, want %d", total, len(wire))
	}

	var decoded []byte
	consumed, err := c.Decode(wire, &decoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if consumed != len(wire) {
		t.Fatalf("consumed = %d, want %d", consumed, len(wire))
	}
	if !bytes.Equal(decoded, payload) {
		t.Fatalf("decoded = %q, want %q", decoded, payload)
	}
}

func TestLengthReportsNeedMoreOnPartialHeader(t *testing.T) {
	var c LengthPrefixed
	if got := c.Length([]byte{0x00, 0x00}); got != NeedMore {
		t.Fatalf("Length = %d, want NeedMore", got)
	}
}

func TestLengthReportsNeedMoreOnPartialBody(t *testing.T) {
	var c LengthPrefixed
	var wire []byte
	wire, _ = c.Encode([]byte("0123456789"), wire)
	short := wire[:len(wire)-2]
	if got := c.Length(short); got != NeedMore {
		t.Fatalf("Length = %d, want NeedMore", got)
	}
}

func TestDecodeRejectsOversizedFrame(t *testing.T) {
	var c LengthPrefixed
	hdr := []byte{0xff, 0xff, 0xff, 0xff} // claims a ~4GiB frame
	var dst []byte
	if _, err := c.Decode(hdr, &dst); err != ErrFrameTooLarge {
		t.Fatalf("got %v, want ErrFrameTooLarge", err)
	}
}

func TestEncodeConcatenatesMultipleFrames(t *testing.T) {
	var c LengthPrefixed
	var wire []byte
	wire, _ = c.Encode([]byte("a"), wire)
	wire, _ = c.Encode([]byte("bb"), wire)

	var first, second []byte
	n1, err := c.Decode(wire, &first)
	if err != nil {
		t.Fatalf("Decode first: %v", err)
	}
	n2, err := c.Decode(wire[n1:], &second)
	if err != nil {
		t.Fatalf("Decode second: %v", err)
	}
	if string(first) != "a" || string(second) != "bb" {
		t.Fatalf("got %q, %q", first, second)
	}
	if n1+n2 != len(wire) {
		t.Fatalf("consumed %d+%d bytes, want %d", n1, n2, len(wire))
	}
}
