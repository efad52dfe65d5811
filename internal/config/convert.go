package config

import (
	"fmt"
	"io"
	"os"

	"github.com/danmuck/flexpipe/internal/trace"
	"github.com/danmuck/flexpipe/internal/transport"
	"github.com/rs/zerolog"
)

// ProducerOptions applies the reply timeout to the producer's reads.
func (c Config) ProducerOptions(logger zerolog.Logger) transport.Options {
	return transport.Options{
		Limits:      c.Limits,
		ReadTimeout: c.Channel.ReplyTimeout,
		Logger:      logger,
	}
}

func (c Config) TransformerOptions(logger zerolog.Logger) transport.Options {
	return transport.Options{
		Limits:      c.Limits,
		ReadTimeout: c.Channel.ReadTimeout,
		Logger:      logger,
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OpenTrace returns the configured trace sink and the closer for its output.
func (c Config) OpenTrace() (*trace.Sink, io.Closer, error) {
	if c.Trace.Format == trace.FormatOff {
		return trace.Discard(), nopCloser{}, nil
	}
	switch c.Trace.Output {
	case "stdout", "-":
		return trace.NewSink(os.Stdout, c.Trace.Format), nopCloser{}, nil
	case "stderr":
		return trace.NewSink(os.Stderr, c.Trace.Format), nopCloser{}, nil
	}
	f, err := os.OpenFile(c.Trace.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open trace output: %w", err)
	}
	return trace.NewSink(f, c.Trace.Format), f, nil
}
