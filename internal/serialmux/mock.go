package serialmux

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"time"
)

// MockSerialPort stands in for the instrument in --mock mode: reads come from
// a scripted feed and writes are kept in memory.
type MockSerialPort struct {
	io.Reader
	feed *io.PipeWriter
	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	written bytes.Buffer
}

func (m *MockSerialPort) Write(p []byte) (n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written.Write(p)
}

// Written returns everything written to the port so far.
func (m *MockSerialPort) Written() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written.String()
}

func (m *MockSerialPort) Close() error {
	m.once.Do(func() {
		close(m.done)
		m.feed.Close()
	})
	return nil
}

// NewMockSerialMux creates a SerialMux whose port delivers lines one at a
// time, interval apart, then stays idle until closed.
func NewMockSerialMux(interval time.Duration, lines ...string) *SerialMux[*MockSerialPort] {
	r, w := io.Pipe()
	port := &MockSerialPort{Reader: r, feed: w, done: make(chan struct{})}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for _, line := range lines {
			select {
			case <-ticker.C:
			case <-port.done:
				return
			}
			if !strings.HasSuffix(line, "\n") {
				line += "\n"
			}
			if _, err := w.Write([]byte(line)); err != nil {
				return
			}
		}
	}()

	return NewSerialMux(port)
}
