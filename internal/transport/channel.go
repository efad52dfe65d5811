// Package transport owns the duplex byte channel between two endpoints.
//
// Ownership boundary:
// - exact-length reads and writes
// - frame-at-a-time read/write over any Channel
// - channel constructors (OS pipes, unix socket pair, in-process pipes, inherited fds)
package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"
)

var (
	ErrUnsupportedKind     = errors.New("transport: unsupported channel kind")
	ErrDeadlineUnsupported = errors.New("transport: read deadline unsupported")
)

// Kind selects how a channel between two processes is created.
type Kind string

const (
	KindPipe       Kind = "pipe"
	KindSocketPair Kind = "socketpair"
	KindInProc     Kind = "inproc"
)

func ParseKind(raw string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(raw))); k {
	case KindPipe, KindSocketPair, KindInProc:
		return k, nil
	case "":
		return KindPipe, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedKind, raw)
	}
}

// Channel is one side of a duplex byte stream. CloseWrite signals end of stream to
// the peer while keeping the read side open.
type Channel interface {
	io.ReadWriteCloser
	CloseWrite() error
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// SetReadDeadline applies t when the channel supports deadlines.
func SetReadDeadline(ch Channel, t time.Time) error {
	d, ok := ch.(readDeadliner)
	if !ok {
		return ErrDeadlineUnsupported
	}
	return d.SetReadDeadline(t)
}

// duplex joins two unidirectional streams.
type duplex struct {
	r      io.ReadCloser
	w      io.WriteCloser
	closeR sync.Once
	closeW sync.Once
	errR   error
	errW   error
}

func NewDuplex(r io.ReadCloser, w io.WriteCloser) Channel {
	return &duplex{r: r, w: w}
}

func (d *duplex) Read(p []byte) (int, error)  { return d.r.Read(p) }
func (d *duplex) Write(p []byte) (int, error) { return d.w.Write(p) }

func (d *duplex) CloseWrite() error {
	d.closeW.Do(func() { d.errW = d.w.Close() })
	return d.errW
}

func (d *duplex) Close() error {
	werr := d.CloseWrite()
	d.closeR.Do(func() { d.errR = d.r.Close() })
	return errors.Join(werr, d.errR)
}

func (d *duplex) SetReadDeadline(t time.Time) error {
	rd, ok := d.r.(readDeadliner)
	if !ok {
		return ErrDeadlineUnsupported
	}
	return rd.SetReadDeadline(t)
}

// Link is the local side of a channel plus the files handed to a peer process.
type Link struct {
	Kind   Kind
	Local  Channel
	Remote []*os.File
}

// OpenLink creates a channel whose far side can be inherited by a child process.
func OpenLink(kind Kind) (Link, error) {
	switch kind {
	case KindPipe:
		return openPipeLink()
	case KindSocketPair:
		return openSocketLink()
	default:
		return Link{}, fmt.Errorf("%w: %q cannot cross a process boundary", ErrUnsupportedKind, kind)
	}
}

// RemoteChannel builds a Channel from the remote files, for running both
// endpoints in one process.
func (l Link) RemoteChannel() (Channel, error) {
	return FromFiles(l.Remote...)
}

// CloseRemote releases the parent's copies of the remote files after a child inherited them.
func (l Link) CloseRemote() error {
	var errs []error
	for _, f := range l.Remote {
		errs = append(errs, f.Close())
	}
	return errors.Join(errs...)
}

func openPipeLink() (Link, error) {
	// out: local writes, remote reads. in: remote writes, local reads.
	outR, outW, err := os.Pipe()
	if err != nil {
		return Link{}, fmt.Errorf("transport: open outbound pipe: %w", err)
	}
	inR, inW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return Link{}, fmt.Errorf("transport: open inbound pipe: %w", err)
	}
	return Link{
		Kind:   KindPipe,
		Local:  NewDuplex(inR, outW),
		Remote: []*os.File{outR, inW},
	}, nil
}

// FromFiles wraps inherited descriptors: one file is a stream socket, two files
// are a read pipe followed by a write pipe.
func FromFiles(files ...*os.File) (Channel, error) {
	switch len(files) {
	case 1:
		conn, err := net.FileConn(files[0])
		if err != nil {
			return nil, fmt.Errorf("transport: socket from fd %d: %w", files[0].Fd(), err)
		}
		files[0].Close()
		ch, ok := conn.(Channel)
		if !ok {
			conn.Close()
			return nil, fmt.Errorf("%w: %T has no half-close", ErrUnsupportedKind, conn)
		}
		return ch, nil
	case 2:
		return NewDuplex(files[0], files[1]), nil
	default:
		return nil, fmt.Errorf("transport: expected 1 or 2 files, got %d", len(files))
	}
}
