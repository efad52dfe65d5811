package endpoint

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Input yields one text fragment per producer cycle. An empty fragment or io.EOF
// ends the session.
type Input interface {
	Next() (string, error)
}

// LineInput reads newline-terminated fragments, optionally printing a prompt first.
type LineInput struct {
	scanner *bufio.Scanner
	prompt  io.Writer
	text    string
}

// NewLineInput reads lines from r. A nil prompt writer disables prompting.
func NewLineInput(r io.Reader, prompt io.Writer, text string) *LineInput {
	return &LineInput{
		scanner: bufio.NewScanner(r),
		prompt:  prompt,
		text:    text,
	}
}

// TerminalInput prompts only when in is an interactive terminal.
func TerminalInput(in *os.File, prompt io.Writer, text string) *LineInput {
	if !term.IsTerminal(int(in.Fd())) {
		prompt = nil
	}
	return NewLineInput(in, prompt, text)
}

func (l *LineInput) Next() (string, error) {
	if l.prompt != nil && l.text != "" {
		if _, err := fmt.Fprint(l.prompt, l.text); err != nil {
			return "", err
		}
	}
	if !l.scanner.Scan() {
		if err := l.scanner.Err(); err != nil {
			return "", fmt.Errorf("endpoint: read input: %w", err)
		}
		return "", io.EOF
	}
	return strings.TrimRight(l.scanner.Text(), "\r"), nil
}

// StaticInput replays a fixed list of fragments, then reports io.EOF.
type StaticInput struct {
	lines []string
}

func NewStaticInput(lines ...string) *StaticInput {
	return &StaticInput{lines: lines}
}

func (s *StaticInput) Next() (string, error) {
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}
