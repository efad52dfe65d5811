package endpoint

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/flexpipe/internal/protocol/frame"
	"github.com/danmuck/flexpipe/internal/protocol/record"
	"github.com/danmuck/flexpipe/internal/testutil/testlog"
	"github.com/danmuck/flexpipe/internal/trace"
	"github.com/danmuck/flexpipe/internal/transport"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pair struct {
	producerConn    *transport.Conn
	transformerConn *transport.Conn
	transformer     *Transformer
	done            chan error
}

// startTransformer runs a default transformer over an in-process channel.
func startTransformer(t *testing.T, logger zerolog.Logger, producerTimeout time.Duration) *pair {
	t.Helper()
	a, b := transport.InProc()
	popts := transport.DefaultOptions()
	popts.Logger = logger
	popts.ReadTimeout = producerTimeout
	topts := transport.DefaultOptions()
	topts.Logger = logger

	p := &pair{
		producerConn:    transport.NewConn(a, popts),
		transformerConn: transport.NewConn(b, topts),
		done:            make(chan error, 1),
	}
	tr, err := NewTransformer(p.transformerConn, DefaultTransformerConfig(), trace.Discard(), logger)
	require.NoError(t, err)
	p.transformer = tr
	go func() { p.done <- tr.Run(context.Background()) }()
	return p
}

func (p *pair) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-p.done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatalf("transformer did not stop")
		return nil
	}
}

func newProducer(t *testing.T, conn *transport.Conn, input Input, cfg ProducerConfig, sink *trace.Sink, logger zerolog.Logger) *Producer {
	t.Helper()
	p, err := NewProducer(conn, input, cfg, sink, logger)
	require.NoError(t, err)
	return p
}

func TestScenarioVariantA(t *testing.T) {
	logger := testlog.Start(t)
	pr := startTransformer(t, logger, 2*time.Second)

	cfg := DefaultProducerConfig()
	cfg.Variants = []frame.Type{frame.TypeA}
	p := newProducer(t, pr.producerConn, NewStaticInput(), cfg, trace.Discard(), logger)

	ex, err := p.Exchange(context.Background(), []byte("hello"))
	require.NoError(t, err)
	require.Len(t, ex.Sent, 1)
	require.Len(t, ex.Replies, 1)

	reply, ok := ex.Replies[0].(*record.A)
	require.True(t, ok, "reply is %T", ex.Replies[0])
	assert.InEpsilon(t, 2.468e5, float64(reply.Float), 1e-6)
	assert.InEpsilon(t, 7.504e68, reply.Double, 1e-9)
	assert.Equal(t, "hello)>-", string(reply.Trail))
	assert.Equal(t, record.EncodedLen(ex.Sent[0])+3, record.EncodedLen(reply))

	require.NoError(t, p.close())
	require.NoError(t, pr.wait(t))
	assert.Equal(t, 1, pr.transformer.Handled())
}

func TestScenarioVariantB(t *testing.T) {
	logger := testlog.Start(t)
	pr := startTransformer(t, logger, 2*time.Second)

	cfg := DefaultProducerConfig()
	cfg.Variants = []frame.Type{frame.TypeB}
	p := newProducer(t, pr.producerConn, NewStaticInput(), cfg, trace.Discard(), logger)

	ex, err := p.Exchange(context.Background(), []byte("x"))
	require.NoError(t, err)
	require.Len(t, ex.Replies, 1)

	reply, ok := ex.Replies[0].(*record.B)
	require.True(t, ok, "reply is %T", ex.Replies[0])
	assert.Equal(t, int16(0x2468), reply.Short)
	assert.Equal(t, int32(0x2468AC0), reply.Int)
	assert.Equal(t, "x-<(0", string(reply.Trail))

	require.NoError(t, p.close())
	require.NoError(t, pr.wait(t))
}

func TestProducerRunBothVariantsPerLine(t *testing.T) {
	logger := testlog.Start(t)
	pr := startTransformer(t, logger, 2*time.Second)

	var out bytes.Buffer
	input := NewStaticInput("first", "second", "")
	p := newProducer(t, pr.producerConn, input, DefaultProducerConfig(), trace.NewSink(&out, trace.FormatJSON), logger)

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, ProducerClosed, p.State())
	require.NoError(t, pr.wait(t))
	assert.Equal(t, 4, pr.transformer.Handled())
	assert.Equal(t, TransformerClosed, pr.transformer.State())

	// two sent + two received per line
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, 8)
	assert.Contains(t, out.String(), `"text":"second)`)
}

func TestStreamTerminationWithoutFrames(t *testing.T) {
	logger := testlog.Start(t)
	pr := startTransformer(t, logger, time.Second)

	p := newProducer(t, pr.producerConn, NewStaticInput(), DefaultProducerConfig(), trace.Discard(), logger)
	require.NoError(t, p.Run(context.Background()))
	require.NoError(t, pr.wait(t))
	assert.Zero(t, pr.transformer.Handled())
	assert.Zero(t, pr.transformer.Dropped())
}

func TestTransformerDropsUnknownVariantWithoutReply(t *testing.T) {
	logger := testlog.Start(t)
	pr := startTransformer(t, logger, 2*time.Second)
	ctx := context.Background()

	unknown := frame.EncodeHeader(frame.Header{Length: frame.HeaderLen + 3, Type: 42})
	unknown = append(unknown, 'a', 'b', 'c')
	require.NoError(t, pr.producerConn.WriteFrame(ctx, unknown))

	valid, err := record.Encode(&record.B{Short: 1, Int: 1, Trail: []byte("ok")})
	require.NoError(t, err)
	require.NoError(t, pr.producerConn.WriteFrame(ctx, valid))

	// The first frame back must answer the valid record: nothing was sent for the unknown tag.
	raw, err := pr.producerConn.ReadFrame(ctx)
	require.NoError(t, err)
	rec, err := record.Decode(raw)
	require.NoError(t, err)
	b, ok := rec.(*record.B)
	require.True(t, ok)
	assert.Equal(t, "ok-<(0", string(b.Trail))

	require.NoError(t, pr.producerConn.CloseWrite())
	require.NoError(t, pr.wait(t))
	assert.Equal(t, 1, pr.transformer.Handled())
	assert.Equal(t, 1, pr.transformer.Dropped())
}

func TestTransformerHandleUnknownVariant(t *testing.T) {
	logger := testlog.Start(t)
	a, _ := transport.InProc()
	tr, err := NewTransformer(transport.NewConn(a, transport.DefaultOptions()), DefaultTransformerConfig(), nil, logger)
	require.NoError(t, err)

	raw := frame.EncodeHeader(frame.Header{Length: frame.HeaderLen, Type: 12})
	reply, rec, err := tr.Handle(raw)
	require.ErrorIs(t, err, frame.ErrUnknownVariant)
	assert.Nil(t, reply)
	assert.Nil(t, rec)
}

func TestTransformerHandleMarkerOverflowIsDropped(t *testing.T) {
	logger := testlog.Start(t)
	a, _ := transport.InProc()
	tr, err := NewTransformer(transport.NewConn(a, transport.DefaultOptions()), DefaultTransformerConfig(), nil, logger)
	require.NoError(t, err)

	// 8 + 12 + 236 = 256: valid on the wire, no room left for the marker.
	raw, err := record.Encode(&record.A{Trail: bytes.Repeat([]byte{'a'}, 236)})
	require.NoError(t, err)
	_, _, err = tr.Handle(raw)
	require.ErrorIs(t, err, frame.ErrInvalidInput)
	assert.True(t, droppable(err))
}

func TestTransformerFailsOnMalformedStream(t *testing.T) {
	logger := testlog.Start(t)
	pr := startTransformer(t, logger, time.Second)

	bad := frame.EncodeHeader(frame.Header{Length: 1000, Type: frame.TypeA})
	bad = append(bad, make([]byte, 992)...)
	// The write may race the transformer closing its side; only the read error matters.
	_ = pr.producerConn.WriteFrame(context.Background(), bad)

	err := pr.wait(t)
	require.ErrorIs(t, err, frame.ErrMalformedFrame)
}

func TestProducerRejectsOversizedInput(t *testing.T) {
	logger := testlog.Start(t)
	pr := startTransformer(t, logger, 2*time.Second)
	p := newProducer(t, pr.producerConn, NewStaticInput(), DefaultProducerConfig(), trace.Discard(), logger)

	// 8+6+240 = 254 and 8+12+240 = 260 both exceed 256 minus the 4 byte headroom.
	ex, err := p.Exchange(context.Background(), bytes.Repeat([]byte{'z'}, 240))
	require.NoError(t, err)
	assert.Empty(t, ex.Sent)
	require.Len(t, ex.Rejected, 2)
	for _, rerr := range ex.Rejected {
		assert.ErrorIs(t, rerr, frame.ErrInvalidInput)
	}

	ex, err = p.Exchange(context.Background(), bytes.Repeat([]byte{'z'}, 251))
	require.NoError(t, err)
	require.Len(t, ex.Rejected, 2)

	// 8+12+232+4 = 256 fits A, B fits too.
	ex, err = p.Exchange(context.Background(), bytes.Repeat([]byte{'z'}, 232))
	require.NoError(t, err)
	assert.Len(t, ex.Replies, 2)
	assert.Empty(t, ex.Rejected)

	require.NoError(t, p.close())
	require.NoError(t, pr.wait(t))
}

func TestProducerReplyTimeout(t *testing.T) {
	logger := testlog.Start(t)
	a, b := transport.InProc()
	opts := transport.DefaultOptions()
	opts.ReadTimeout = 50 * time.Millisecond

	// A silent peer: reads frames but never answers.
	go func() {
		_, _ = io.Copy(io.Discard, b)
	}()

	cfg := DefaultProducerConfig()
	cfg.Variants = []frame.Type{frame.TypeA}
	p := newProducer(t, transport.NewConn(a, opts), NewStaticInput("hello"), cfg, trace.Discard(), logger)
	err := p.Run(context.Background())
	require.ErrorIs(t, err, ErrReplyTimeout)
	assert.Equal(t, ProducerClosed, p.State())
}

func TestProducerPeerClosed(t *testing.T) {
	logger := testlog.Start(t)
	a, b := transport.InProc()
	go func() {
		_, _ = transport.ReadFrame(b, frame.DefaultLimits())
		_ = b.Close()
	}()

	cfg := DefaultProducerConfig()
	cfg.Variants = []frame.Type{frame.TypeB}
	p := newProducer(t, transport.NewConn(a, transport.DefaultOptions()), NewStaticInput(), cfg, trace.Discard(), logger)
	_, err := p.Exchange(context.Background(), []byte("x"))
	require.ErrorIs(t, err, ErrPeerClosed)
}

func TestProducerConfigValidate(t *testing.T) {
	cfg := DefaultProducerConfig()
	require.NoError(t, cfg.Validate())

	cfg.Variants = nil
	require.ErrorIs(t, cfg.Validate(), ErrNoVariants)

	cfg.Variants = []frame.Type{frame.TypeNone}
	require.ErrorIs(t, cfg.Validate(), frame.ErrUnknownVariant)

	cfg = DefaultProducerConfig()
	cfg.ReplyHeadroom = -1
	require.ErrorIs(t, cfg.Validate(), ErrInvalidHeadroom)
}

func TestTransformerApplyWraps(t *testing.T) {
	cfg := DefaultTransformerConfig()
	rec := &record.B{Short: 0x7000, Int: 0x7FFFFFFF}
	marker, err := cfg.Apply(rec)
	require.NoError(t, err)
	assert.Equal(t, "-<(0", string(marker))
	assert.Equal(t, int16(-8192), rec.Short)
	assert.Equal(t, int32(-32), rec.Int)

	_, err = cfg.Apply(nil)
	require.ErrorIs(t, err, frame.ErrInvalidInput)

	cfg.MarkerA = nil
	require.True(t, errors.Is(cfg.Validate(), ErrEmptyMarker))
}

func TestLineInput(t *testing.T) {
	var prompt bytes.Buffer
	in := NewLineInput(strings.NewReader("one\r\ntwo\n"), &prompt, "> ")

	line, err := in.Next()
	require.NoError(t, err)
	assert.Equal(t, "one", line)
	line, err = in.Next()
	require.NoError(t, err)
	assert.Equal(t, "two", line)
	_, err = in.Next()
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "> > > ", prompt.String())
}

func TestStateNames(t *testing.T) {
	assert.Equal(t, "awaiting_reply", ProducerAwaitingReply.String())
	assert.Equal(t, "mutating", TransformerMutating.String())
	assert.Equal(t, "unknown", ProducerState(99).String())
}
