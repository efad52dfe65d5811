package endpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/danmuck/flexpipe/internal/observability"
	"github.com/danmuck/flexpipe/internal/protocol/frame"
	"github.com/danmuck/flexpipe/internal/protocol/record"
	"github.com/danmuck/flexpipe/internal/trace"
	"github.com/danmuck/flexpipe/internal/transport"
	"github.com/rs/zerolog"
)

var (
	ErrNoVariants      = errors.New("endpoint: producer needs at least one variant")
	ErrReplyTimeout    = errors.New("endpoint: reply timeout")
	ErrPeerClosed      = errors.New("endpoint: peer closed before replying")
	ErrInvalidHeadroom = errors.New("endpoint: reply headroom must not be negative")
)

// ProducerConfig selects which variants are sent per input line and the fixed
// demonstration values they carry.
type ProducerConfig struct {
	Variants []frame.Type
	Float    float32
	Double   float64
	Short    int16
	Int      int32
	// ReplyHeadroom is reserved below the frame limit for the transformer's marker.
	ReplyHeadroom int
}

func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{
		Variants:      []frame.Type{frame.TypeA, frame.TypeB},
		Float:         1.234e5,
		Double:        2.345e67,
		Short:         0x1234,
		Int:           0x123456,
		ReplyHeadroom: 4,
	}
}

func (c ProducerConfig) Validate() error {
	if len(c.Variants) == 0 {
		return ErrNoVariants
	}
	for _, t := range c.Variants {
		if _, ok := record.New(t); !ok {
			return fmt.Errorf("endpoint: producer variant: %w", frame.UnknownVariantError{Type: t})
		}
	}
	if c.ReplyHeadroom < 0 {
		return ErrInvalidHeadroom
	}
	return nil
}

// Exchange is the outcome of one producer cycle.
type Exchange struct {
	Text     []byte
	Sent     []record.Record
	Replies  []record.Record
	Rejected []error
	Failed   []error
}

// Producer sends records built from input lines and reports the transformed replies.
type Producer struct {
	conn  *transport.Conn
	input Input
	cfg   ProducerConfig
	codec record.Codec
	sink  *trace.Sink
	log   zerolog.Logger
	state ProducerState
}

func NewProducer(conn *transport.Conn, input Input, cfg ProducerConfig, sink *trace.Sink, logger zerolog.Logger) (*Producer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Producer{
		conn:  conn,
		input: input,
		cfg:   cfg,
		codec: record.Codec{Limits: conn.Limits()},
		sink:  sink,
		log:   logger.With().Str("role", RoleProducer).Logger(),
	}, nil
}

func (p *Producer) State() ProducerState { return p.state }

func (p *Producer) setState(s ProducerState) {
	p.state = s
	p.log.Trace().Stringer("state", s).Msg("endpoint.Producer state")
}

// Run cycles until the input ends, then closes the write side so the transformer
// sees end of stream. Any exchange failure closes the conn and is returned.
func (p *Producer) Run(ctx context.Context) error {
	p.log.Info().Msg("endpoint.Producer.Run start")
	cycles := 0
	for {
		p.setState(ProducerAwaitingInput)
		line, err := p.input.Next()
		if errors.Is(err, io.EOF) || (err == nil && line == "") {
			p.log.Info().Int("cycles", cycles).Msg("endpoint.Producer.Run input closed")
			return p.close()
		}
		if err != nil {
			_ = p.conn.Close()
			p.setState(ProducerClosed)
			return err
		}

		ex, err := p.Exchange(ctx, []byte(line))
		if err != nil {
			observability.RecordError(RoleProducer, err)
			_ = p.conn.Close()
			p.setState(ProducerClosed)
			return err
		}
		cycles++
		p.log.Info().
			Int("cycle", cycles).
			Int("sent", len(ex.Sent)).
			Int("replies", len(ex.Replies)).
			Int("rejected", len(ex.Rejected)).
			Int("failed", len(ex.Failed)).
			Msg("endpoint.Producer.Run exchange complete")
	}
}

func (p *Producer) close() error {
	p.setState(ProducerClosed)
	if err := p.conn.CloseWrite(); err != nil {
		_ = p.conn.Close()
		return fmt.Errorf("endpoint: producer close write: %w", err)
	}
	return p.conn.Close()
}

// Exchange sends one record per configured variant carrying text, then reads exactly
// as many replies as frames were sent. Variants whose frame would not fit are
// rejected with ErrInvalidInput and skipped; no frame is produced for them.
func (p *Producer) Exchange(ctx context.Context, text []byte) (Exchange, error) {
	start := time.Now()
	ex := Exchange{Text: append([]byte(nil), text...)}

	for _, t := range p.cfg.Variants {
		p.setState(ProducerEncoding)
		rec := p.build(t, ex.Text)
		raw, err := p.encode(rec)
		if err != nil {
			if !errors.Is(err, frame.ErrInvalidInput) {
				return ex, err
			}
			ex.Rejected = append(ex.Rejected, err)
			observability.RecordError(RoleProducer, err)
			p.log.Warn().Err(err).Stringer("type", t).Int("text_len", len(text)).Msg("endpoint.Producer.Exchange input rejected")
			continue
		}

		p.setState(ProducerSending)
		if err := p.conn.WriteFrame(ctx, raw); err != nil {
			return ex, fmt.Errorf("endpoint: producer write: %w", err)
		}
		ex.Sent = append(ex.Sent, rec)
		observability.RecordFrame(RoleProducer, observability.DirectionSent, t, len(raw))
		p.trace(observability.DirectionSent, raw, rec)
	}

	for range ex.Sent {
		p.setState(ProducerAwaitingReply)
		raw, err := p.conn.ReadFrame(ctx)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return ex, ErrPeerClosed
		case errors.Is(err, transport.ErrReadTimeout):
			return ex, fmt.Errorf("%w: %w", ErrReplyTimeout, err)
		default:
			return ex, fmt.Errorf("endpoint: producer read: %w", err)
		}

		p.setState(ProducerReporting)
		observability.RecordFrame(RoleProducer, observability.DirectionReceived, frameType(raw), len(raw))
		rec, err := p.codec.Decode(raw)
		if err != nil {
			ex.Failed = append(ex.Failed, err)
			observability.RecordError(RoleProducer, err)
			if terr := p.sink.Failure(RoleProducer, observability.DirectionReceived, raw, err); terr != nil {
				p.log.Warn().Err(terr).Msg("endpoint.Producer trace failed")
			}
			p.log.Warn().Err(err).Str("kind", frame.Kind(err)).Msg("endpoint.Producer.Exchange reply undecodable")
			continue
		}
		ex.Replies = append(ex.Replies, rec)
		p.trace(observability.DirectionReceived, raw, rec)
	}

	observability.ObserveExchange(RoleProducer, time.Since(start))
	return ex, nil
}

func (p *Producer) build(t frame.Type, text []byte) record.Record {
	switch t {
	case frame.TypeA:
		return &record.A{Float: p.cfg.Float, Double: p.cfg.Double, Trail: text}
	default:
		return &record.B{Short: p.cfg.Short, Int: p.cfg.Int, Trail: text}
	}
}

func (p *Producer) encode(rec record.Record) ([]byte, error) {
	size := record.EncodedLen(rec)
	if limit := p.codec.Limits.MaxFrameLen - p.cfg.ReplyHeadroom; size > limit && len(rec.Text()) <= p.codec.Limits.MaxTrailerLen {
		return nil, fmt.Errorf("%w: frame of %d bytes leaves no room for a %d byte reply marker (max %d)",
			frame.ErrInvalidInput, size, p.cfg.ReplyHeadroom, p.codec.Limits.MaxFrameLen)
	}
	return p.codec.Encode(rec)
}

func (p *Producer) trace(direction string, raw []byte, rec record.Record) {
	if err := p.sink.Frame(RoleProducer, direction, raw, rec); err != nil {
		p.log.Warn().Err(err).Msg("endpoint.Producer trace failed")
	}
}
