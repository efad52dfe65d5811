package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func tempFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestParseFlagsRejectsUnknownRole(t *testing.T) {
	var stderr bytes.Buffer
	if _, err := parseFlags([]string{"-role", "relay"}, &stderr); err == nil {
		t.Fatalf("expected unknown role error")
	}
	if !strings.Contains(stderr.String(), "unknown role") {
		t.Fatalf("unexpected stderr: %q", stderr.String())
	}
}

func TestParseFlagsMetricsOverride(t *testing.T) {
	opts, err := parseFlags([]string{"-metrics="}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !opts.metricsSet || opts.metrics != "" {
		t.Fatalf("expected explicit empty metrics addr, got %+v", opts)
	}
	opts, err = parseFlags(nil, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.metricsSet || opts.role != roleLocal || opts.fds != 2 {
		t.Fatalf("unexpected defaults: %+v", opts)
	}
}

func TestRunPrintConfig(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"-print-config"}, os.Stdin, &stdout, &stderr); code != exitOK {
		t.Fatalf("unexpected exit code %d: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "[channel]") {
		t.Fatalf("unexpected template:\n%s", stdout.String())
	}
}

func TestRunWriteConfigThenValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flexpipe.toml")
	var stderr bytes.Buffer
	if code := run([]string{"-write-config", path}, os.Stdin, &bytes.Buffer{}, &stderr); code != exitOK {
		t.Fatalf("write config exit %d: %s", code, stderr.String())
	}
	if code := run([]string{"-write-config", path}, os.Stdin, &bytes.Buffer{}, &stderr); code != exitConfig {
		t.Fatalf("expected existing config to be kept, exit %d", code)
	}
	if code := run([]string{"-config", path, "-validate"}, os.Stdin, &bytes.Buffer{}, &stderr); code != exitOK {
		t.Fatalf("validate exit %d: %s", code, stderr.String())
	}
}

func TestRunInvalidConfigExitCode(t *testing.T) {
	path := tempFile(t, "bad.toml", "[channel]\nkind = \"tin-can\"\n")
	var stderr bytes.Buffer
	if code := run([]string{"-config", path}, os.Stdin, &bytes.Buffer{}, &stderr); code != exitConfig {
		t.Fatalf("expected exit %d, got %d", exitConfig, code)
	}
}

func TestRunInProcExchange(t *testing.T) {
	tracePath := filepath.Join(t.TempDir(), "trace.jsonl")
	cfgPath := tempFile(t, "flexpipe.toml", "[trace]\nformat = \"json\"\noutput = \""+filepath.ToSlash(tracePath)+"\"\n")
	stdin, err := os.Open(tempFile(t, "input.txt", "hello\n"))
	if err != nil {
		t.Fatalf("open input: %v", err)
	}
	defer stdin.Close()

	var stdout, stderr bytes.Buffer
	if code := run([]string{"-role", "inproc", "-config", cfgPath}, stdin, &stdout, &stderr); code != exitOK {
		t.Fatalf("inproc exit %d: %s", code, stderr.String())
	}

	data, err := os.ReadFile(tracePath)
	if err != nil {
		t.Fatalf("read trace: %v", err)
	}
	out := string(data)
	// producer: 2 sent + 2 received, transformer: 2 sent
	if got := strings.Count(out, "\n"); got != 6 {
		t.Fatalf("expected 6 trace entries, got %d:\n%s", got, out)
	}
	if !strings.Contains(out, `"text":"hello)`) {
		t.Fatalf("missing variant A reply in trace:\n%s", out)
	}
	if stdout.Len() != 0 {
		t.Fatalf("expected no prompt on a non-terminal stdin, got %q", stdout.String())
	}
}
