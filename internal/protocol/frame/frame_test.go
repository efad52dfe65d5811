package frame

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"
)

func rawFrame(t Type, payload []byte) []byte {
	buf := EncodeHeader(Header{Length: uint32(HeaderLen + len(payload)), Type: t})
	return append(buf, payload...)
}

func TestHeaderRoundTripIsLittleEndian(t *testing.T) {
	b := EncodeHeader(Header{Length: 0x0102, Type: TypeB})
	want := []byte{0x02, 0x01, 0x00, 0x00, 0x0b, 0x00, 0x00, 0x00}
	if !bytes.Equal(b, want) {
		t.Fatalf("header bytes mismatch: got=% x want=% x", b, want)
	}
	h, err := DecodeHeader(b)
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	if h.Length != 0x0102 || h.Type != TypeB {
		t.Fatalf("header mismatch: %+v", h)
	}
}

func TestDecodeHeaderShortBufferIsMalformed(t *testing.T) {
	_, err := DecodeHeader([]byte{1, 2, 3})
	if !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestCheckLengthBounds(t *testing.T) {
	limits := DefaultLimits()
	for _, length := range []uint32{0, 7, 257, 0xFFFFFFFF} {
		if err := limits.CheckLength(length); !errors.Is(err, ErrMalformedFrame) {
			t.Fatalf("length=%d: expected ErrMalformedFrame, got %v", length, err)
		}
	}
	for _, length := range []uint32{HeaderLen, 20, MaxFrameLen} {
		if err := limits.CheckLength(length); err != nil {
			t.Fatalf("length=%d: unexpected error %v", length, err)
		}
	}
}

func TestAppendMarkerGrowsLengthOnly(t *testing.T) {
	orig := rawFrame(TypeA, []byte("payload"))
	before := append([]byte(nil), orig...)

	out, err := AppendMarker(orig, []byte(")>-"), DefaultLimits())
	if err != nil {
		t.Fatalf("append marker: %v", err)
	}
	h, err := DecodeHeader(out)
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	if int(h.Length) != len(before)+3 || len(out) != int(h.Length) {
		t.Fatalf("length not bumped by marker: header=%d out=%d before=%d", h.Length, len(out), len(before))
	}
	if !bytes.Equal(out[4:len(before)], before[4:]) {
		t.Fatalf("prior bytes changed")
	}
	if string(out[len(before):]) != ")>-" {
		t.Fatalf("marker mismatch: %q", out[len(before):])
	}
}

func TestAppendMarkerIgnoresBytesPastDeclaredLength(t *testing.T) {
	f := rawFrame(TypeB, []byte("ab"))
	f = append(f, 0xEE, 0xEE)
	out, err := AppendMarker(f, []byte("-<(0"), DefaultLimits())
	if err != nil {
		t.Fatalf("append marker: %v", err)
	}
	if string(out[HeaderLen:]) != "ab-<(0" {
		t.Fatalf("unexpected payload: %q", out[HeaderLen:])
	}
}

func TestAppendMarkerRejectsOversizedResult(t *testing.T) {
	f := rawFrame(TypeA, bytes.Repeat([]byte{'x'}, MaxFrameLen-HeaderLen-1))
	_, err := AppendMarker(f, []byte("ab"), DefaultLimits())
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestAppendMarkerRejectsTruncatedFrame(t *testing.T) {
	f := rawFrame(TypeA, []byte("abcdef"))
	_, err := AppendMarker(f[:10], []byte("m"), DefaultLimits())
	if !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestLimitsValidate(t *testing.T) {
	if err := DefaultLimits().Validate(); err != nil {
		t.Fatalf("default limits invalid: %v", err)
	}
	if err := (Limits{MaxFrameLen: 512, MaxTrailerLen: 10}).Validate(); err == nil {
		t.Fatalf("expected error for max frame above protocol maximum")
	}
	if err := (Limits{MaxFrameLen: 128, MaxTrailerLen: 251}).Validate(); err == nil {
		t.Fatalf("expected error for max trailer above protocol maximum")
	}
}

func TestKindLabels(t *testing.T) {
	cases := map[string]error{
		"":                nil,
		"end_of_stream":   io.EOF,
		"invalid_input":   fmt.Errorf("wrap: %w", ErrInvalidInput),
		"malformed_frame": ErrMalformedFrame,
		"unknown_variant": UnknownVariantError{Type: 99},
		"truncated_frame": ErrTruncatedFrame,
		"other":           errors.New("boom"),
	}
	for want, err := range cases {
		if got := Kind(err); got != want {
			t.Fatalf("Kind(%v)=%q want %q", err, got, want)
		}
	}
}

func TestTypeString(t *testing.T) {
	if TypeA.String() != "A" || TypeB.String() != "B" || TypeNone.String() != "none" {
		t.Fatalf("unexpected type names")
	}
	if Type(42).String() != "unknown(42)" {
		t.Fatalf("unexpected unknown name: %s", Type(42))
	}
}
