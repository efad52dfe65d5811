package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderLen is the fixed wire header: length(4) + type(4).
	HeaderLen = 8

	MaxFrameLen   = 256
	MaxTrailerLen = 250
)

// ByteOrder is fixed for both endpoints regardless of host architecture.
var ByteOrder = binary.LittleEndian

var (
	ErrInvalidInput   = errors.New("frame: invalid input")
	ErrMalformedFrame = errors.New("frame: malformed frame")
	ErrUnknownVariant = errors.New("frame: unknown variant")
	ErrTruncatedFrame = errors.New("frame: truncated frame")
)

// Type discriminates record variants on the wire.
type Type uint32

const (
	// TypeNone is reserved as the end-of-stream marker and is never a payload tag.
	TypeNone Type = 0
	TypeA    Type = 10
	TypeB    Type = 11
)

func (t Type) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeA:
		return "A"
	case TypeB:
		return "B"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(t))
	}
}

// UnknownVariantError carries the unrecognised tag. It matches ErrUnknownVariant.
type UnknownVariantError struct {
	Type Type
}

func (e UnknownVariantError) Error() string {
	return fmt.Sprintf("frame: unknown variant type=%d", uint32(e.Type))
}

func (e UnknownVariantError) Is(target error) bool {
	return target == ErrUnknownVariant
}

// Header is the fixed wire header.
type Header struct {
	Length uint32
	Type   Type
}

// Limits constrains frame sizes. Values above the protocol maxima are rejected by Validate.
type Limits struct {
	MaxFrameLen   int
	MaxTrailerLen int
}

func DefaultLimits() Limits {
	return Limits{
		MaxFrameLen:   MaxFrameLen,
		MaxTrailerLen: MaxTrailerLen,
	}
}

func (l Limits) Validate() error {
	if l.MaxFrameLen <= HeaderLen || l.MaxFrameLen > MaxFrameLen {
		return fmt.Errorf("frame: max frame length %d outside (%d, %d]", l.MaxFrameLen, HeaderLen, MaxFrameLen)
	}
	if l.MaxTrailerLen < 0 || l.MaxTrailerLen > MaxTrailerLen {
		return fmt.Errorf("frame: max trailer length %d outside [0, %d]", l.MaxTrailerLen, MaxTrailerLen)
	}
	return nil
}

// CheckLength reports ErrMalformedFrame when a declared length is outside [HeaderLen, MaxFrameLen].
// A length that reads as negative in a signed view is above MaxFrameLen here.
func (l Limits) CheckLength(length uint32) error {
	if length < HeaderLen || uint64(length) > uint64(l.MaxFrameLen) {
		return fmt.Errorf("%w: length=%d bounds=[%d,%d]", ErrMalformedFrame, int32(length), HeaderLen, l.MaxFrameLen)
	}
	return nil
}

// PutHeader writes h into the first HeaderLen bytes of b.
func PutHeader(b []byte, h Header) {
	ByteOrder.PutUint32(b[0:4], h.Length)
	ByteOrder.PutUint32(b[4:8], uint32(h.Type))
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	PutHeader(buf, h)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, fmt.Errorf("%w: short header: %d bytes", ErrMalformedFrame, len(b))
	}
	return Header{
		Length: ByteOrder.Uint32(b[0:4]),
		Type:   Type(ByteOrder.Uint32(b[4:8])),
	}, nil
}

// AppendMarker grows f by marker directly after its declared payload and bumps the
// length field by len(marker). The backing array is reused when capacity allows.
func AppendMarker(f, marker []byte, limits Limits) ([]byte, error) {
	h, err := DecodeHeader(f)
	if err != nil {
		return nil, err
	}
	if err := limits.CheckLength(h.Length); err != nil {
		return nil, err
	}
	if int(h.Length) > len(f) {
		return nil, fmt.Errorf("%w: length=%d buffer=%d", ErrMalformedFrame, h.Length, len(f))
	}
	grown := int(h.Length) + len(marker)
	if grown > limits.MaxFrameLen {
		return nil, fmt.Errorf("%w: marker of %d bytes grows frame to %d (max %d)", ErrInvalidInput, len(marker), grown, limits.MaxFrameLen)
	}
	out := append(f[:h.Length], marker...)
	ByteOrder.PutUint32(out[0:4], uint32(grown))
	return out, nil
}

// Kind returns a stable label for err, suitable for logs and metric labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, io.EOF):
		return "end_of_stream"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrMalformedFrame):
		return "malformed_frame"
	case errors.Is(err, ErrUnknownVariant):
		return "unknown_variant"
	case errors.Is(err, ErrTruncatedFrame):
		return "truncated_frame"
	default:
		return "other"
	}
}
