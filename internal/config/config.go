package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/flexpipe/internal/endpoint"
	"github.com/danmuck/flexpipe/internal/protocol/frame"
	"github.com/danmuck/flexpipe/internal/trace"
	"github.com/danmuck/flexpipe/internal/transport"
)

var ErrInvalidConfig = errors.New("config: invalid")

// Config is the resolved flexpipe configuration: file values applied over Default.
type Config struct {
	Channel     ChannelConfig
	Limits      frame.Limits
	Producer    endpoint.ProducerConfig
	Prompt      string
	Transformer endpoint.TransformerConfig
	Trace       TraceConfig
	Metrics     MetricsConfig
}

type ChannelConfig struct {
	Kind transport.Kind
	// ReadTimeout bounds the transformer's wait for the next frame. Zero blocks.
	ReadTimeout time.Duration
	// ReplyTimeout bounds the producer's wait for each reply.
	ReplyTimeout time.Duration
}

type TraceConfig struct {
	Format trace.Format
	// Output is "stdout", "stderr" or a file path.
	Output string
}

// MetricsConfig enables the metrics listener when Addr is set.
type MetricsConfig struct {
	Addr string
}

func Default() Config {
	return Config{
		Channel: ChannelConfig{
			Kind:         transport.KindPipe,
			ReplyTimeout: 5 * time.Second,
		},
		Limits:      frame.DefaultLimits(),
		Producer:    endpoint.DefaultProducerConfig(),
		Prompt:      "> ",
		Transformer: endpoint.DefaultTransformerConfig(),
		Trace: TraceConfig{
			Format: trace.FormatJSON,
			Output: "stdout",
		},
	}
}

type fileConfig struct {
	Channel     fileChannel     `toml:"channel"`
	Limits      fileLimits      `toml:"limits"`
	Producer    fileProducer    `toml:"producer"`
	Transformer fileTransformer `toml:"transformer"`
	Trace       fileTrace       `toml:"trace"`
	Metrics     fileMetrics     `toml:"metrics"`
}

type fileChannel struct {
	Kind         string `toml:"kind" comment:"pipe | socketpair | inproc"`
	ReadTimeout  string `toml:"read_timeout" comment:"transformer wait for the next frame; 0s blocks until end of stream"`
	ReplyTimeout string `toml:"reply_timeout" comment:"producer wait for each reply"`
}

type fileLimits struct {
	MaxFrame   int `toml:"max_frame"`
	MaxTrailer int `toml:"max_trailer"`
}

type fileProducer struct {
	Variants      []string `toml:"variants" comment:"records sent per input line, in order"`
	Prompt        string   `toml:"prompt" comment:"shown only when stdin is a terminal"`
	Float         float64  `toml:"float"`
	Double        float64  `toml:"double"`
	Short         int64    `toml:"short"`
	Int           int64    `toml:"int"`
	ReplyHeadroom int      `toml:"reply_headroom" comment:"bytes kept free below max_frame for the reply marker"`
}

type fileTransformer struct {
	FloatFactor  float64 `toml:"float_factor"`
	DoubleFactor float64 `toml:"double_factor"`
	ShortFactor  int64   `toml:"short_factor"`
	IntFactor    int64   `toml:"int_factor"`
	MarkerA      string  `toml:"marker_a"`
	MarkerB      string  `toml:"marker_b"`
}

type fileTrace struct {
	Format string `toml:"format" comment:"json | hex | off"`
	Output string `toml:"output" comment:"stdout | stderr | file path"`
}

type fileMetrics struct {
	Addr string `toml:"addr" comment:"empty disables the /metrics and /healthz listener"`
}

// Load decodes path over Default and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %q", ErrInvalidConfig, undecoded[0].String())
	}
	if err := apply(&cfg, raw, meta); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func apply(cfg *Config, raw fileConfig, meta toml.MetaData) error {
	if meta.IsDefined("channel", "kind") {
		kind, err := transport.ParseKind(raw.Channel.Kind)
		if err != nil {
			return fmt.Errorf("%w: channel.kind: %w", ErrInvalidConfig, err)
		}
		cfg.Channel.Kind = kind
	}
	if meta.IsDefined("channel", "read_timeout") {
		d, err := parseDuration("channel.read_timeout", raw.Channel.ReadTimeout)
		if err != nil {
			return err
		}
		cfg.Channel.ReadTimeout = d
	}
	if meta.IsDefined("channel", "reply_timeout") {
		d, err := parseDuration("channel.reply_timeout", raw.Channel.ReplyTimeout)
		if err != nil {
			return err
		}
		cfg.Channel.ReplyTimeout = d
	}

	if meta.IsDefined("limits", "max_frame") {
		cfg.Limits.MaxFrameLen = raw.Limits.MaxFrame
	}
	if meta.IsDefined("limits", "max_trailer") {
		cfg.Limits.MaxTrailerLen = raw.Limits.MaxTrailer
	}

	if meta.IsDefined("producer", "variants") {
		variants, err := ParseVariants(raw.Producer.Variants)
		if err != nil {
			return err
		}
		cfg.Producer.Variants = variants
	}
	if meta.IsDefined("producer", "prompt") {
		cfg.Prompt = raw.Producer.Prompt
	}
	if meta.IsDefined("producer", "float") {
		if raw.Producer.Float > math.MaxFloat32 || raw.Producer.Float < -math.MaxFloat32 {
			return fmt.Errorf("%w: producer.float out of float32 range", ErrInvalidConfig)
		}
		cfg.Producer.Float = float32(raw.Producer.Float)
	}
	if meta.IsDefined("producer", "double") {
		cfg.Producer.Double = raw.Producer.Double
	}
	if meta.IsDefined("producer", "short") {
		v, err := int16Value("producer.short", raw.Producer.Short)
		if err != nil {
			return err
		}
		cfg.Producer.Short = v
	}
	if meta.IsDefined("producer", "int") {
		v, err := int32Value("producer.int", raw.Producer.Int)
		if err != nil {
			return err
		}
		cfg.Producer.Int = v
	}
	if meta.IsDefined("producer", "reply_headroom") {
		cfg.Producer.ReplyHeadroom = raw.Producer.ReplyHeadroom
	}

	if meta.IsDefined("transformer", "float_factor") {
		cfg.Transformer.FloatFactor = float32(raw.Transformer.FloatFactor)
	}
	if meta.IsDefined("transformer", "double_factor") {
		cfg.Transformer.DoubleFactor = raw.Transformer.DoubleFactor
	}
	if meta.IsDefined("transformer", "short_factor") {
		v, err := int16Value("transformer.short_factor", raw.Transformer.ShortFactor)
		if err != nil {
			return err
		}
		cfg.Transformer.ShortFactor = v
	}
	if meta.IsDefined("transformer", "int_factor") {
		v, err := int32Value("transformer.int_factor", raw.Transformer.IntFactor)
		if err != nil {
			return err
		}
		cfg.Transformer.IntFactor = v
	}
	if meta.IsDefined("transformer", "marker_a") {
		cfg.Transformer.MarkerA = []byte(raw.Transformer.MarkerA)
	}
	if meta.IsDefined("transformer", "marker_b") {
		cfg.Transformer.MarkerB = []byte(raw.Transformer.MarkerB)
	}

	if meta.IsDefined("trace", "format") {
		format, err := trace.ParseFormat(raw.Trace.Format)
		if err != nil {
			return fmt.Errorf("%w: trace.format: %w", ErrInvalidConfig, err)
		}
		cfg.Trace.Format = format
	}
	if meta.IsDefined("trace", "output") {
		cfg.Trace.Output = strings.TrimSpace(raw.Trace.Output)
	}

	if meta.IsDefined("metrics", "addr") {
		cfg.Metrics.Addr = strings.TrimSpace(raw.Metrics.Addr)
	}
	return nil
}

// Validate checks cross-field constraints the endpoints rely on.
func (c Config) Validate() error {
	if err := c.Limits.Validate(); err != nil {
		return fmt.Errorf("%w: limits: %w", ErrInvalidConfig, err)
	}
	if c.Channel.ReadTimeout < 0 || c.Channel.ReplyTimeout < 0 {
		return fmt.Errorf("%w: channel timeouts must not be negative", ErrInvalidConfig)
	}
	if err := c.Producer.Validate(); err != nil {
		return fmt.Errorf("%w: producer: %w", ErrInvalidConfig, err)
	}
	if err := c.Transformer.Validate(); err != nil {
		return fmt.Errorf("%w: transformer: %w", ErrInvalidConfig, err)
	}
	marker := max(len(c.Transformer.MarkerA), len(c.Transformer.MarkerB))
	if c.Producer.ReplyHeadroom < marker {
		return fmt.Errorf("%w: producer.reply_headroom %d is below the longest marker (%d bytes)",
			ErrInvalidConfig, c.Producer.ReplyHeadroom, marker)
	}
	if c.Trace.Output == "" && c.Trace.Format != trace.FormatOff {
		return fmt.Errorf("%w: trace.output is required", ErrInvalidConfig)
	}
	return nil
}

// ParseVariants maps variant names ("A", "B") to frame types.
func ParseVariants(names []string) ([]frame.Type, error) {
	out := make([]frame.Type, 0, len(names))
	for _, name := range names {
		switch strings.ToUpper(strings.TrimSpace(name)) {
		case "A":
			out = append(out, frame.TypeA)
		case "B":
			out = append(out, frame.TypeB)
		default:
			return nil, fmt.Errorf("%w: producer.variants: unknown variant %q", ErrInvalidConfig, name)
		}
	}
	return out, nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: parse %s: %w", ErrInvalidConfig, key, err)
	}
	return d, nil
}

func int16Value(key string, v int64) (int16, error) {
	if v < math.MinInt16 || v > math.MaxInt16 {
		return 0, fmt.Errorf("%w: %s=%d out of int16 range", ErrInvalidConfig, key, v)
	}
	return int16(v), nil
}

func int32Value(key string, v int64) (int32, error) {
	if v < math.MinInt32 || v > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %s=%d out of int32 range", ErrInvalidConfig, key, v)
	}
	return int32(v), nil
}
