package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/danmuck/flexpipe/internal/config"
	"github.com/danmuck/flexpipe/internal/endpoint"
	"github.com/danmuck/flexpipe/internal/observability"
	"github.com/danmuck/flexpipe/internal/trace"
	"github.com/danmuck/flexpipe/internal/transport"
	"github.com/rs/zerolog"
)

// firstInheritedFD is where os/exec places ExtraFiles in the child.
const firstInheritedFD = 3

type runner struct {
	cfg     config.Config
	opts    options
	session string
	stdin   *os.File
	stdout  io.Writer
	log     zerolog.Logger
}

func (r *runner) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	observability.RegisterMetrics()
	var wg sync.WaitGroup
	if addr := r.cfg.Metrics.Addr; addr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := observability.Serve(ctx, addr, r.log, r.opts.role); err != nil {
				r.log.Error().Err(err).Msg("flexpipe metrics listener stopped")
			}
		}()
	}
	defer wg.Wait()
	defer cancel()

	sink, closer, err := r.cfg.OpenTrace()
	if err != nil {
		return fail(exitConfig, err)
	}
	defer closer.Close()

	switch r.opts.role {
	case roleProducer:
		return r.runProducerOnFDs(ctx, sink)
	case roleTransformer:
		return r.runTransformerOnFDs(ctx, sink)
	case roleInProc:
		return r.runInProc(ctx, sink)
	default:
		if r.cfg.Channel.Kind == transport.KindInProc {
			return r.runInProc(ctx, sink)
		}
		return r.runLocal(ctx, sink)
	}
}

func (r *runner) input() endpoint.Input {
	return endpoint.TerminalInput(r.stdin, r.stdout, r.cfg.Prompt)
}

func (r *runner) producer(ch transport.Channel, sink *trace.Sink) (*endpoint.Producer, error) {
	conn := transport.NewConn(ch, r.cfg.ProducerOptions(r.log))
	return endpoint.NewProducer(conn, r.input(), r.cfg.Producer, sink, r.log)
}

func (r *runner) transformer(ch transport.Channel, sink *trace.Sink) (*endpoint.Transformer, error) {
	conn := transport.NewConn(ch, r.cfg.TransformerOptions(r.log))
	return endpoint.NewTransformer(conn, r.cfg.Transformer, sink, r.log)
}

// runLocal opens the configured channel, starts a transformer child on its far
// side and runs the producer here.
func (r *runner) runLocal(ctx context.Context, sink *trace.Sink) error {
	link, err := transport.OpenLink(r.cfg.Channel.Kind)
	if err != nil {
		return fail(exitChannel, err)
	}

	child, err := r.spawnTransformer(ctx, link)
	closeErr := link.CloseRemote()
	if err != nil {
		_ = link.Local.Close()
		return fail(exitProcess, err)
	}
	if closeErr != nil {
		r.log.Warn().Err(closeErr).Msg("flexpipe.runLocal close remote files")
	}
	r.log.Info().
		Int("pid", child.Process.Pid).
		Str("channel", string(link.Kind)).
		Msg("flexpipe.runLocal transformer started")

	p, err := r.producer(link.Local, sink)
	if err != nil {
		_ = link.Local.Close()
		_ = child.Wait()
		return fail(exitConfig, err)
	}
	runErr := p.Run(ctx)
	waitErr := child.Wait()
	if runErr != nil {
		return runErr
	}
	if waitErr != nil {
		return fmt.Errorf("transformer process: %w", waitErr)
	}
	return nil
}

func (r *runner) spawnTransformer(ctx context.Context, link transport.Link) (*exec.Cmd, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	args := []string{
		"-role", roleTransformer,
		"-fds", strconv.Itoa(len(link.Remote)),
		"-metrics=",
	}
	if r.opts.configPath != "" {
		args = append(args, "-config", r.opts.configPath)
	}
	cmd := exec.CommandContext(ctx, exe, args...)
	cmd.ExtraFiles = link.Remote
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), sessionEnv+"="+r.session)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start transformer: %w", err)
	}
	return cmd, nil
}

func (r *runner) inheritedChannel() (transport.Channel, error) {
	files := make([]*os.File, 0, r.opts.fds)
	for i := 0; i < r.opts.fds; i++ {
		fd := uintptr(firstInheritedFD + i)
		files = append(files, os.NewFile(fd, "flexpipe-fd-"+strconv.Itoa(int(fd))))
	}
	ch, err := transport.FromFiles(files...)
	if err != nil {
		return nil, fail(exitChannel, err)
	}
	return ch, nil
}

func (r *runner) runTransformerOnFDs(ctx context.Context, sink *trace.Sink) error {
	ch, err := r.inheritedChannel()
	if err != nil {
		return err
	}
	t, err := r.transformer(ch, sink)
	if err != nil {
		_ = ch.Close()
		return fail(exitConfig, err)
	}
	return t.Run(ctx)
}

func (r *runner) runProducerOnFDs(ctx context.Context, sink *trace.Sink) error {
	ch, err := r.inheritedChannel()
	if err != nil {
		return err
	}
	p, err := r.producer(ch, sink)
	if err != nil {
		_ = ch.Close()
		return fail(exitConfig, err)
	}
	return p.Run(ctx)
}

// runInProc runs both endpoints in this process over an in-memory channel.
func (r *runner) runInProc(ctx context.Context, sink *trace.Sink) error {
	a, b := transport.InProc()
	t, err := r.transformer(b, sink)
	if err == nil {
		var p *endpoint.Producer
		if p, err = r.producer(a, sink); err == nil {
			return r.exchangeInProc(ctx, p, t)
		}
	}
	_ = a.Close()
	_ = b.Close()
	return fail(exitConfig, err)
}

func (r *runner) exchangeInProc(ctx context.Context, p *endpoint.Producer, t *endpoint.Transformer) error {
	done := make(chan error, 1)
	go func() { done <- t.Run(ctx) }()

	runErr := p.Run(ctx)
	tErr := <-done
	return errors.Join(runErr, tErr)
}
