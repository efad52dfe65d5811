// Package record owns the typed payload layouts that share the frame header.
//
// Wire layout, little-endian, no padding:
//
//	A: header(8) | float32(4) | float64(8) | trailer
//	B: header(8) | int16(2)   | int32(4)   | trailer
//
// The trailer is raw bytes, never null terminated. Its size is derived from the
// header length and is not stored separately.
package record

import (
	"bytes"
	"math"

	"github.com/danmuck/flexpipe/internal/protocol/frame"
)

const (
	FixedLenA = 12
	FixedLenB = 6
)

// Record is the closed set of payload variants. Only *A and *B implement it.
type Record interface {
	Type() frame.Type
	// FixedLen is the size of the fixed fields between header and trailer.
	FixedLen() int
	Text() []byte
	putFixed(b []byte)
	readFixed(b []byte)
	setText(b []byte)
}

// A carries one float32 and one float64.
type A struct {
	Float  float32
	Double float64
	Trail  []byte
}

func (r *A) Type() frame.Type { return frame.TypeA }
func (r *A) FixedLen() int    { return FixedLenA }
func (r *A) Text() []byte     { return r.Trail }

func (r *A) putFixed(b []byte) {
	frame.ByteOrder.PutUint32(b[0:4], math.Float32bits(r.Float))
	frame.ByteOrder.PutUint64(b[4:12], math.Float64bits(r.Double))
}

func (r *A) readFixed(b []byte) {
	r.Float = math.Float32frombits(frame.ByteOrder.Uint32(b[0:4]))
	r.Double = math.Float64frombits(frame.ByteOrder.Uint64(b[4:12]))
}

func (r *A) setText(b []byte) { r.Trail = b }

// B carries one int16 and one int32.
type B struct {
	Short int16
	Int   int32
	Trail []byte
}

func (r *B) Type() frame.Type { return frame.TypeB }
func (r *B) FixedLen() int    { return FixedLenB }
func (r *B) Text() []byte     { return r.Trail }

func (r *B) putFixed(b []byte) {
	frame.ByteOrder.PutUint16(b[0:2], uint16(r.Short))
	frame.ByteOrder.PutUint32(b[2:6], uint32(r.Int))
}

func (r *B) readFixed(b []byte) {
	r.Short = int16(frame.ByteOrder.Uint16(b[0:2]))
	r.Int = int32(frame.ByteOrder.Uint32(b[2:6]))
}

func (r *B) setText(b []byte) { r.Trail = b }

// New returns an empty record for t, or false when t is not a payload tag.
func New(t frame.Type) (Record, bool) {
	switch t {
	case frame.TypeA:
		return &A{}, true
	case frame.TypeB:
		return &B{}, true
	default:
		return nil, false
	}
}

// EncodedLen is the exact serialized size of rec.
func EncodedLen(rec Record) int {
	return frame.HeaderLen + rec.FixedLen() + len(rec.Text())
}

// Equal compares two records field by field, floats bit for bit.
func Equal(x, y Record) bool {
	if x == nil || y == nil {
		return x == y
	}
	switch a := x.(type) {
	case *A:
		b, ok := y.(*A)
		return ok &&
			math.Float32bits(a.Float) == math.Float32bits(b.Float) &&
			math.Float64bits(a.Double) == math.Float64bits(b.Double) &&
			bytes.Equal(a.Trail, b.Trail)
	case *B:
		b, ok := y.(*B)
		return ok && a.Short == b.Short && a.Int == b.Int && bytes.Equal(a.Trail, b.Trail)
	default:
		return false
	}
}
