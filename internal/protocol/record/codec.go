package record

import (
	"fmt"

	"github.com/danmuck/flexpipe/internal/protocol/frame"
)

// Codec encodes and decodes records against a set of frame limits.
type Codec struct {
	Limits frame.Limits
}

func DefaultCodec() Codec {
	return Codec{Limits: frame.DefaultLimits()}
}

// Encode serializes rec into a new frame whose length field equals its exact size.
func (c Codec) Encode(rec Record) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("%w: nil record", frame.ErrInvalidInput)
	}
	if _, ok := New(rec.Type()); !ok {
		return nil, fmt.Errorf("%w: type=%d is not a payload tag", frame.ErrInvalidInput, uint32(rec.Type()))
	}
	text := rec.Text()
	if len(text) > c.Limits.MaxTrailerLen {
		return nil, fmt.Errorf("%w: trailer of %d bytes exceeds %d", frame.ErrInvalidInput, len(text), c.Limits.MaxTrailerLen)
	}
	size := EncodedLen(rec)
	if size > c.Limits.MaxFrameLen {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds %d", frame.ErrInvalidInput, size, c.Limits.MaxFrameLen)
	}

	buf := make([]byte, size)
	frame.PutHeader(buf, frame.Header{Length: uint32(size), Type: rec.Type()})
	fixedEnd := frame.HeaderLen + rec.FixedLen()
	rec.putFixed(buf[frame.HeaderLen:fixedEnd])
	copy(buf[fixedEnd:], text)
	return buf, nil
}

// Decode parses one frame from buf. Bytes past the declared length are ignored.
// The returned trailer is a copy, so buf may be reused by the caller.
func (c Codec) Decode(buf []byte) (Record, error) {
	h, err := frame.DecodeHeader(buf)
	if err != nil {
		return nil, err
	}
	if err := c.Limits.CheckLength(h.Length); err != nil {
		return nil, err
	}
	if int(h.Length) > len(buf) {
		return nil, fmt.Errorf("%w: length=%d buffer=%d", frame.ErrMalformedFrame, h.Length, len(buf))
	}
	rec, ok := New(h.Type)
	if !ok {
		return nil, frame.UnknownVariantError{Type: h.Type}
	}
	fixedEnd := frame.HeaderLen + rec.FixedLen()
	if int(h.Length) < fixedEnd {
		return nil, fmt.Errorf("%w: length=%d below fixed size %d for type %s", frame.ErrMalformedFrame, h.Length, fixedEnd, h.Type)
	}
	rec.readFixed(buf[frame.HeaderLen:fixedEnd])
	text := make([]byte, int(h.Length)-fixedEnd)
	copy(text, buf[fixedEnd:h.Length])
	rec.setText(text)
	return rec, nil
}

// AppendMarker tags an encoded frame with marker using the codec limits.
func (c Codec) AppendMarker(f, marker []byte) ([]byte, error) {
	return frame.AppendMarker(f, marker, c.Limits)
}

func Encode(rec Record) ([]byte, error) {
	return DefaultCodec().Encode(rec)
}

func Decode(buf []byte) (Record, error) {
	return DefaultCodec().Decode(buf)
}
