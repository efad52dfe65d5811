package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/flexpipe/internal/config"
	"github.com/danmuck/flexpipe/internal/ids"
	"github.com/danmuck/flexpipe/internal/logging"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
	exitChannel = 3
	exitProcess = 4
)

const sessionEnv = "FLEXPIPE_SESSION"

const (
	roleLocal       = "local"
	roleProducer    = "producer"
	roleTransformer = "transformer"
	roleInProc      = "inproc"
)

// exitError carries the process exit code for a failure.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func fail(code int, err error) error {
	return &exitError{code: code, err: err}
}

type options struct {
	configPath  string
	role        string
	fds         int
	metrics     string
	metricsSet  bool
	printConfig bool
	writeConfig string
	force       bool
	validate    bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin *os.File, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitConfig
	}

	if opts.printConfig {
		tmpl, err := config.Template()
		if err != nil {
			fmt.Fprintf(stderr, "flexpipe: %v\n", err)
			return exitConfig
		}
		fmt.Fprint(stdout, tmpl)
		return exitOK
	}
	if opts.writeConfig != "" {
		if err := config.WriteTemplate(opts.writeConfig, opts.force); err != nil {
			fmt.Fprintf(stderr, "flexpipe: %v\n", err)
			return exitConfig
		}
		fmt.Fprintf(stderr, "flexpipe: wrote config template to %s\n", opts.writeConfig)
		return exitOK
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(stderr, "flexpipe: %v\n", err)
		return exitConfig
	}
	if opts.validate {
		fmt.Fprintf(stderr, "flexpipe: config ok\n")
		return exitOK
	}

	session := os.Getenv(sessionEnv)
	if session == "" {
		session = ids.NewSessionID()
	}
	logger := logging.ConfigureRuntime().With().Str("session", session).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := &runner{
		cfg:     cfg,
		opts:    opts,
		session: session,
		stdin:   stdin,
		stdout:  stdout,
		log:     logger,
	}
	if err := r.run(ctx); err != nil {
		logger.Error().Err(err).Str("role", opts.role).Msg("flexpipe failed")
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			return exitErr.code
		}
		return exitRuntime
	}
	return exitOK
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("flexpipe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "", "path to a TOML config (defaults apply when empty)")
	fs.StringVar(&opts.role, "role", roleLocal, "role: local|producer|transformer|inproc")
	fs.IntVar(&opts.fds, "fds", 2, "inherited channel descriptors from fd 3: 1 socket or 2 pipes (producer|transformer)")
	fs.StringVar(&opts.metrics, "metrics", "", "metrics listen address, overrides [metrics] addr")
	fs.BoolVar(&opts.printConfig, "print-config", false, "print the default config template and exit")
	fs.StringVar(&opts.writeConfig, "write-config", "", "write the default config template to path and exit")
	fs.BoolVar(&opts.force, "force", false, "overwrite an existing file with -write-config")
	fs.BoolVar(&opts.validate, "validate", false, "load and validate the config, then exit")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "metrics" {
			opts.metricsSet = true
		}
	})
	switch opts.role {
	case roleLocal, roleProducer, roleTransformer, roleInProc:
	default:
		err := fmt.Errorf("unknown role %q", opts.role)
		fmt.Fprintf(stderr, "flexpipe: %v\n", err)
		return options{}, err
	}
	if opts.fds != 1 && opts.fds != 2 {
		err := fmt.Errorf("-fds must be 1 or 2, got %d", opts.fds)
		fmt.Fprintf(stderr, "flexpipe: %v\n", err)
		return options{}, err
	}
	return opts, nil
}

func loadConfig(opts options) (config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if opts.metricsSet {
		cfg.Metrics.Addr = opts.metrics
	}
	return cfg, nil
}
