package transport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/danmuck/flexpipe/internal/protocol/frame"
	"github.com/rs/zerolog"
)

var ErrReadTimeout = errors.New("transport: read timeout")

// Options configures a Conn. A zero ReadTimeout blocks until a frame or end of stream.
type Options struct {
	Limits      frame.Limits
	ReadTimeout time.Duration
	Logger      zerolog.Logger
}

func DefaultOptions() Options {
	return Options{
		Limits: frame.DefaultLimits(),
		Logger: zerolog.Nop(),
	}
}

// Conn reads and writes whole frames over a Channel. Cancelling the context of a
// pending read closes the channel, since blocking pipe reads cannot be interrupted otherwise.
type Conn struct {
	ch   Channel
	opts Options
}

func NewConn(ch Channel, opts Options) *Conn {
	if opts.Limits == (frame.Limits{}) {
		opts.Limits = frame.DefaultLimits()
	}
	return &Conn{ch: ch, opts: opts}
}

func (c *Conn) Limits() frame.Limits {
	return c.opts.Limits
}

// ReadFrame returns the next frame, io.EOF on a clean end of stream, or ErrReadTimeout.
func (c *Conn) ReadFrame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	readCtx, cancel, err := c.readContext(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	stop := context.AfterFunc(readCtx, func() { _ = c.ch.Close() })
	defer stop()

	b, err := ReadFrame(c.ch, c.opts.Limits)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case readCtx.Err() != nil, errors.Is(err, os.ErrDeadlineExceeded):
			return nil, fmt.Errorf("%w after %s", ErrReadTimeout, c.opts.ReadTimeout)
		}
		return nil, err
	}
	c.opts.Logger.Debug().Int("bytes", len(b)).Msg("transport.Conn.ReadFrame")
	return b, nil
}

// readContext arms the read timeout: a channel deadline when supported, otherwise a
// derived context whose expiry closes the channel.
func (c *Conn) readContext(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if c.opts.ReadTimeout <= 0 {
		return ctx, func() {}, nil
	}
	deadline := time.Now().Add(c.opts.ReadTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	err := SetReadDeadline(c.ch, deadline)
	switch {
	case err == nil:
		return ctx, func() {}, nil
	case errors.Is(err, ErrDeadlineUnsupported), errors.Is(err, os.ErrNoDeadline):
		readCtx, cancel := context.WithDeadline(ctx, deadline)
		return readCtx, cancel, nil
	default:
		return nil, nil, fmt.Errorf("transport: set read deadline: %w", err)
	}
}

func (c *Conn) WriteFrame(ctx context.Context, f []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := WriteFrame(c.ch, f); err != nil {
		return err
	}
	c.opts.Logger.Debug().Int("bytes", len(f)).Msg("transport.Conn.WriteFrame")
	return nil
}

// CloseWrite signals end of stream to the peer.
func (c *Conn) CloseWrite() error {
	return c.ch.CloseWrite()
}

func (c *Conn) Close() error {
	return c.ch.Close()
}
