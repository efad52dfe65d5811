package endpoint

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/flexpipe/internal/observability"
	"github.com/danmuck/flexpipe/internal/protocol/frame"
	"github.com/danmuck/flexpipe/internal/protocol/record"
	"github.com/danmuck/flexpipe/internal/trace"
	"github.com/danmuck/flexpipe/internal/transport"
	"github.com/rs/zerolog"
)

var ErrEmptyMarker = errors.New("endpoint: marker must not be empty")

// TransformerConfig holds the per-variant scale factors and pass-through markers.
type TransformerConfig struct {
	FloatFactor  float32
	DoubleFactor float64
	ShortFactor  int16
	IntFactor    int32
	MarkerA      []byte
	MarkerB      []byte
}

func DefaultTransformerConfig() TransformerConfig {
	return TransformerConfig{
		FloatFactor:  2,
		DoubleFactor: 32,
		ShortFactor:  2,
		IntFactor:    32,
		MarkerA:      []byte(")>-"),
		MarkerB:      []byte("-<(0"),
	}
}

func (c TransformerConfig) Validate() error {
	if len(c.MarkerA) == 0 || len(c.MarkerB) == 0 {
		return ErrEmptyMarker
	}
	return nil
}

// Apply mutates rec in place and returns the marker to append for its variant.
// Integer products wrap like two's-complement machine arithmetic.
func (c TransformerConfig) Apply(rec record.Record) ([]byte, error) {
	switch r := rec.(type) {
	case *record.A:
		r.Float *= c.FloatFactor
		r.Double *= c.DoubleFactor
		return c.MarkerA, nil
	case *record.B:
		r.Short *= c.ShortFactor
		r.Int *= c.IntFactor
		return c.MarkerB, nil
	case nil:
		return nil, fmt.Errorf("%w: nil record", frame.ErrInvalidInput)
	default:
		return nil, frame.UnknownVariantError{Type: rec.Type()}
	}
}

// Transformer is the far side of the channel: it answers every recognised frame.
type Transformer struct {
	conn    *transport.Conn
	cfg     TransformerConfig
	codec   record.Codec
	sink    *trace.Sink
	log     zerolog.Logger
	state   TransformerState
	handled int
	dropped int
}

func NewTransformer(conn *transport.Conn, cfg TransformerConfig, sink *trace.Sink, logger zerolog.Logger) (*Transformer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Transformer{
		conn:  conn,
		cfg:   cfg,
		codec: record.Codec{Limits: conn.Limits()},
		sink:  sink,
		log:   logger.With().Str("role", RoleTransformer).Logger(),
	}, nil
}

func (t *Transformer) State() TransformerState { return t.state }
func (t *Transformer) Handled() int            { return t.handled }
func (t *Transformer) Dropped() int            { return t.dropped }

func (t *Transformer) setState(s TransformerState) {
	t.state = s
	t.log.Trace().Stringer("state", s).Msg("endpoint.Transformer state")
}

// Handle turns one received frame into its reply: decode, dispatch by type,
// mutate, re-encode and append the variant marker.
func (t *Transformer) Handle(raw []byte) ([]byte, record.Record, error) {
	rec, err := t.codec.Decode(raw)
	if err != nil {
		return nil, nil, err
	}
	t.setState(TransformerDispatch)
	marker, err := t.cfg.Apply(rec)
	if err != nil {
		return nil, nil, err
	}
	t.setState(TransformerMutating)
	out, err := t.codec.Encode(rec)
	if err != nil {
		return nil, nil, err
	}
	out, err = t.codec.AppendMarker(out, marker)
	if err != nil {
		return nil, nil, err
	}
	reply, err := t.codec.Decode(out)
	if err != nil {
		return nil, nil, err
	}
	return out, reply, nil
}

// Run serves frames until the producer closes its write side. It always closes the conn.
func (t *Transformer) Run(ctx context.Context) error {
	defer t.conn.Close()
	t.log.Info().Msg("endpoint.Transformer.Run start")

	for {
		t.setState(TransformerAwaitingFrame)
		raw, err := t.conn.ReadFrame(ctx)
		if errors.Is(err, io.EOF) {
			t.setState(TransformerClosed)
			t.log.Info().Int("handled", t.handled).Int("dropped", t.dropped).Msg("endpoint.Transformer.Run end of stream")
			return nil
		}
		if err != nil {
			t.setState(TransformerClosed)
			observability.RecordError(RoleTransformer, err)
			return fmt.Errorf("endpoint: transformer read: %w", err)
		}
		observability.RecordFrame(RoleTransformer, observability.DirectionReceived, frameType(raw), len(raw))

		reply, rec, err := t.Handle(raw)
		if err != nil {
			if !droppable(err) {
				t.setState(TransformerClosed)
				return err
			}
			t.dropped++
			observability.RecordError(RoleTransformer, err)
			t.traceFailure(observability.DirectionReceived, raw, err)
			t.log.Warn().Err(err).Str("kind", frame.Kind(err)).Stringer("type", frameType(raw)).Msg("endpoint.Transformer.Run frame dropped")
			continue
		}

		t.setState(TransformerSending)
		if err := t.conn.WriteFrame(ctx, reply); err != nil {
			t.setState(TransformerClosed)
			observability.RecordError(RoleTransformer, err)
			return fmt.Errorf("endpoint: transformer write: %w", err)
		}
		t.handled++
		observability.RecordFrame(RoleTransformer, observability.DirectionSent, rec.Type(), len(reply))
		if err := t.sink.Frame(RoleTransformer, observability.DirectionSent, reply, rec); err != nil {
			t.log.Warn().Err(err).Msg("endpoint.Transformer.Run trace failed")
		}
		t.log.Debug().Stringer("type", rec.Type()).Int("length", len(reply)).Msg("endpoint.Transformer.Run replied")
	}
}

func (t *Transformer) traceFailure(direction string, raw []byte, cause error) {
	if err := t.sink.Failure(RoleTransformer, direction, raw, cause); err != nil {
		t.log.Warn().Err(err).Msg("endpoint.Transformer trace failed")
	}
}

// droppable errors concern one fully read frame; the stream stays in sync.
func droppable(err error) bool {
	return errors.Is(err, frame.ErrUnknownVariant) ||
		errors.Is(err, frame.ErrMalformedFrame) ||
		errors.Is(err, frame.ErrInvalidInput)
}

func frameType(raw []byte) frame.Type {
	h, err := frame.DecodeHeader(raw)
	if err != nil {
		return frame.TypeNone
	}
	return h.Type
}
