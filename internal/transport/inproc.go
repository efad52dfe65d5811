package transport

import (
	"bytes"
	"io"
	"sync"
)

// InProc returns two connected in-memory channels. Writes are buffered like an OS
// pipe, so an endpoint may send several frames before its peer reads any.
// Deadlines are unsupported.
func InProc() (Channel, Channel) {
	ab := newMemPipe()
	ba := newMemPipe()
	return NewDuplex(memReader{ba}, memWriter{ab}), NewDuplex(memReader{ab}, memWriter{ba})
}

// memPipe is a one-directional byte stream with an unbounded buffer.
type memPipe struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buf     bytes.Buffer
	wclosed bool
	rclosed bool
}

func newMemPipe() *memPipe {
	p := &memPipe{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *memPipe) read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.buf.Len() == 0 && !p.wclosed && !p.rclosed {
		p.cond.Wait()
	}
	switch {
	case p.rclosed:
		return 0, io.ErrClosedPipe
	case p.buf.Len() == 0:
		return 0, io.EOF
	}
	return p.buf.Read(b)
}

func (p *memPipe) write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.wclosed || p.rclosed {
		return 0, io.ErrClosedPipe
	}
	n, _ := p.buf.Write(b)
	p.cond.Broadcast()
	return n, nil
}

func (p *memPipe) closeRead() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rclosed = true
	p.buf.Reset()
	p.cond.Broadcast()
	return nil
}

func (p *memPipe) closeWrite() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.wclosed = true
	p.cond.Broadcast()
	return nil
}

type memReader struct{ p *memPipe }

func (r memReader) Read(b []byte) (int, error) { return r.p.read(b) }
func (r memReader) Close() error               { return r.p.closeRead() }

type memWriter struct{ p *memPipe }

func (w memWriter) Write(b []byte) (int, error) { return w.p.write(b) }
func (w memWriter) Close() error                { return w.p.closeWrite() }
