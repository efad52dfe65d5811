package transport

import (
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/flexpipe/internal/protocol/frame"
)

var ErrWriteFailed = errors.New("transport: write failed")

// ReadExact reads exactly n bytes. It returns io.EOF only when the stream ended
// before any byte arrived; a partial read is ErrTruncatedFrame.
func ReadExact(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	got, err := io.ReadFull(r, buf)
	switch {
	case err == nil:
		return buf, nil
	case errors.Is(err, io.EOF) && got == 0:
		return nil, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		return buf[:got], fmt.Errorf("%w: got %d of %d bytes", frame.ErrTruncatedFrame, got, n)
	default:
		return buf[:got], err
	}
}

type flusher interface {
	Flush() error
}

// WriteAll writes b completely and flushes w when it buffers.
func WriteAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrWriteFailed, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %w", ErrWriteFailed, io.ErrShortWrite)
		}
		b = b[n:]
	}
	if f, ok := w.(flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("%w: flush: %w", ErrWriteFailed, err)
		}
	}
	return nil
}

// ReadFrame reads one frame: the fixed header first, then length-HeaderLen more bytes.
// A clean end of stream before the header yields io.EOF. A bad length yields
// ErrMalformedFrame and leaves the stream unsynchronised.
func ReadFrame(r io.Reader, limits frame.Limits) ([]byte, error) {
	head, err := ReadExact(r, frame.HeaderLen)
	if err != nil {
		return nil, err
	}
	h, err := frame.DecodeHeader(head)
	if err != nil {
		return nil, err
	}
	if err := limits.CheckLength(h.Length); err != nil {
		return nil, err
	}

	buf := make([]byte, h.Length)
	copy(buf, head)
	if h.Length == frame.HeaderLen {
		return buf, nil
	}
	got, err := io.ReadFull(r, buf[frame.HeaderLen:])
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: body got %d of %d bytes", frame.ErrTruncatedFrame, got, int(h.Length)-frame.HeaderLen)
		}
		return nil, err
	}
	return buf, nil
}

// WriteFrame writes exactly the declared length of f.
func WriteFrame(w io.Writer, f []byte) error {
	h, err := frame.DecodeHeader(f)
	if err != nil {
		return err
	}
	if int(h.Length) > len(f) || h.Length < frame.HeaderLen {
		return fmt.Errorf("%w: length=%d buffer=%d", frame.ErrMalformedFrame, h.Length, len(f))
	}
	return WriteAll(w, f[:h.Length])
}
