// Package trace renders frames for humans. The output is diagnostic and carries no
// stability guarantee.
package trace

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/danmuck/flexpipe/internal/protocol/frame"
	"github.com/danmuck/flexpipe/internal/protocol/record"
)

var codec = sonic.ConfigStd

type Format string

const (
	FormatJSON Format = "json"
	FormatHex  Format = "hex"
	FormatOff  Format = "off"
)

func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case FormatJSON, FormatHex, FormatOff:
		return f, nil
	case "":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("trace: unknown format %q", raw)
	}
}

// Entry is the JSON rendering of one frame.
type Entry struct {
	Role      string   `json:"role"`
	Direction string   `json:"direction"`
	Length    uint32   `json:"length"`
	Type      uint32   `json:"type"`
	Float     any      `json:"float,omitempty"`
	Double    any      `json:"double,omitempty"`
	Short     *int16   `json:"short,omitempty"`
	Int       *int32   `json:"int,omitempty"`
	Text      string   `json:"text"`
	Hex       []string `json:"hex"`
	Error     string   `json:"error,omitempty"`
}

// NewEntry describes raw; rec may be nil when the frame did not decode.
func NewEntry(role, direction string, raw []byte, rec record.Record) Entry {
	e := Entry{
		Role:      role,
		Direction: direction,
		Hex:       HexBytes(raw),
	}
	if h, err := frame.DecodeHeader(raw); err == nil {
		e.Length = h.Length
		e.Type = uint32(h.Type)
	}
	switch r := rec.(type) {
	case *record.A:
		e.Float = number(float64(r.Float), 32)
		e.Double = number(r.Double, 64)
		e.Text = string(r.Trail)
	case *record.B:
		short, n := r.Short, r.Int
		e.Short = &short
		e.Int = &n
		e.Text = string(r.Trail)
	}
	return e
}

// number keeps finite values numeric and spells out the rest, which JSON cannot carry.
func number(v float64, bits int) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'g', -1, bits)
	}
	return v
}

// HexBytes renders each byte as "0x.." in wire order.
func HexBytes(b []byte) []string {
	out := make([]string, len(b))
	for i, c := range b {
		out[i] = fmt.Sprintf("0x%02x", c)
	}
	return out
}

// HexDump renders b sixteen bytes per row with offsets.
func HexDump(b []byte) string {
	var sb strings.Builder
	for off := 0; off < len(b); off += 16 {
		end := min(off+16, len(b))
		fmt.Fprintf(&sb, "%04x ", off)
		for i := off; i < end; i++ {
			fmt.Fprintf(&sb, " %02x", b[i])
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Sink writes one rendering per frame. It is safe for concurrent use so both
// endpoints of an in-process run can share it.
type Sink struct {
	mu     sync.Mutex
	w      io.Writer
	format Format
}

func NewSink(w io.Writer, format Format) *Sink {
	if w == nil {
		format = FormatOff
	}
	return &Sink{w: w, format: format}
}

// Discard is a sink that renders nothing.
func Discard() *Sink {
	return NewSink(nil, FormatOff)
}

func (s *Sink) Frame(role, direction string, raw []byte, rec record.Record) error {
	return s.write(NewEntry(role, direction, raw, rec), raw)
}

// Failure records a frame that could not be produced or decoded.
func (s *Sink) Failure(role, direction string, raw []byte, err error) error {
	e := NewEntry(role, direction, raw, nil)
	e.Error = err.Error()
	return s.write(e, raw)
}

func (s *Sink) write(e Entry, raw []byte) error {
	if s == nil || s.format == FormatOff {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.format {
	case FormatHex:
		line := fmt.Sprintf("%s %s length=%d type=%d text=%q", e.Role, e.Direction, e.Length, e.Type, e.Text)
		if e.Error != "" {
			line += " error=" + strconv.Quote(e.Error)
		}
		_, err := io.WriteString(s.w, line+"\n"+HexDump(raw))
		return err
	default:
		return codec.NewEncoder(s.w).Encode(e)
	}
}
