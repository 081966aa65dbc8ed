package serialmux

import (
	"bytes"
	"errors"
	"sync"
)

var errPortClosed = errors.New("serial port closed")

// fakePort is an in-memory SerialPorter. ReadError and WriteError fail the
// next call only.
type fakePort struct {
	mu   sync.Mutex
	cond *sync.Cond
	in   bytes.Buffer
	out  bytes.Buffer

	// BlockReads makes Read wait for Feed or Close instead of returning EOF.
	BlockReads bool
	ReadError  error
	WriteError error
	CloseError error
	Closed     bool
}

func newFakePort() *fakePort {
	p := &fakePort{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ReadError; err != nil {
		p.ReadError = nil
		return 0, err
	}
	for p.BlockReads && !p.Closed && p.in.Len() == 0 {
		p.cond.Wait()
	}
	if p.Closed {
		return 0, errPortClosed
	}
	return p.in.Read(b)
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Closed {
		return 0, errPortClosed
	}
	if err := p.WriteError; err != nil {
		p.WriteError = nil
		return 0, err
	}
	return p.out.Write(b)
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	p.cond.Broadcast()
	return p.CloseError
}

// Feed queues data for Read.
func (p *fakePort) Feed(data string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.in.WriteString(data)
	p.cond.Broadcast()
}

// Written returns everything written so far.
func (p *fakePort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.String()
}

type openCall struct {
	Path    string
	Options PortOptions
}

// recordingFactory hands out port and remembers each Open.
type recordingFactory struct {
	port  SerialPorter
	err   error
	calls []openCall
}

func (f *recordingFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	f.calls = append(f.calls, openCall{Path: path, Options: opts})
	if f.err != nil {
		return nil, f.err
	}
	return f.port, nil
}
