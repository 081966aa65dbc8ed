package serialmux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/monitoring"
	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/testutil"
)

func newBlockingPort() *fakePort {
	port := newFakePort()
	port.BlockReads = true
	return port
}

// startMonitor runs Monitor in the background and closes the mux when the
// test finishes.
func startMonitor(t *testing.T, mux *SerialMux[*fakePort]) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()
	t.Cleanup(func() {
		cancel()
		mux.Close()
	})
	return cancel, done
}

func TestSerialMux_SubscribeUnsubscribe(t *testing.T) {
	mux := NewSerialMux(newFakePort())

	id1, ch1 := mux.Subscribe()
	id2, _ := mux.Subscribe()
	assert.NotEqual(t, id1, id2)
	assert.Equal(t, subscriberBuffer, cap(ch1))

	mux.Unsubscribe(id1)
	_, ok := <-ch1
	assert.False(t, ok, "unsubscribe closes the channel")

	mux.Unsubscribe("non-existent-id")
	assert.Equal(t, 1, mux.fanout.Len())
}

func TestSerialMux_WriteLine(t *testing.T) {
	port := newFakePort()
	mux := NewSerialMux(port)

	require.NoError(t, mux.WriteLine("PARAMETER,p1Line,2"))
	require.NoError(t, mux.WriteLine("Parameter p1Line set to 2\n"))

	assert.Equal(t, "PARAMETER,p1Line,2\nParameter p1Line set to 2\n", port.Written())
}

func TestSerialMux_WriteLine_Errors(t *testing.T) {
	port := newFakePort()
	port.WriteError = errors.New("write failed")
	assert.EqualError(t, NewSerialMux(port).WriteLine("*"), "write failed")

	partial := NewSerialMux(&PartialWritePort{maxWrite: 1})
	assert.ErrorIs(t, partial.WriteLine("*"), ErrWriteFailed)
}

func TestSerialMux_Initialise(t *testing.T) {
	port := newFakePort()
	mux := NewSerialMux(port)

	require.NoError(t, mux.Initialise())
	assert.Equal(t, "*\n", port.Written())

	port.WriteError = errors.New("unplugged")
	assert.ErrorContains(t, mux.Initialise(), "unplugged")
}

func TestSerialMux_Monitor_FansOutLines(t *testing.T) {
	port := newBlockingPort()
	mux := NewSerialMux(port)
	_, a := mux.Subscribe()
	_, b := mux.Subscribe()
	startMonitor(t, mux)

	port.Feed("PARAMETER,dimOneChan,1,7\r\n*\n")

	for _, ch := range []chan string{a, b} {
		assert.Equal(t, "PARAMETER,dimOneChan,1,7", testutil.Receive(t, ch))
		assert.Equal(t, "*", testutil.Receive(t, ch))
	}
}

func TestSerialMux_Monitor_ContextCancel(t *testing.T) {
	mux := NewSerialMux(newBlockingPort())
	cancel, done := startMonitor(t, mux)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return after cancel")
	}
}

func TestSerialMux_Monitor_ReadError(t *testing.T) {
	mux := NewSerialMux(&ErrorReadPort{errAfter: 2})
	err := mux.Monitor(context.Background())
	assert.EqualError(t, err, "simulated read error")
}

func TestSerialMux_Monitor_EOF(t *testing.T) {
	port := newFakePort()
	port.Feed("Scan done\n")
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	require.NoError(t, mux.Monitor(context.Background()))
	assert.Equal(t, "Scan done", testutil.Receive(t, ch))
}

func TestSerialMux_Monitor_DropsForFullSubscriber(t *testing.T) {
	rec, restore := monitoring.Capture()
	defer restore()

	port := newBlockingPort()
	mux := NewSerialMux(port)
	_, slow := mux.Subscribe()
	_, fast := mux.Subscribe()
	startMonitor(t, mux)

	// fill both buffers, then drain only the fast subscriber
	for i := 0; i < subscriberBuffer; i++ {
		port.Feed(fmt.Sprintf("MSG%d\n", i))
	}
	for i := 0; i < subscriberBuffer; i++ {
		assert.Equal(t, fmt.Sprintf("MSG%d", i), testutil.Receive(t, fast))
	}

	extra := 6
	for i := subscriberBuffer; i < subscriberBuffer+extra; i++ {
		port.Feed(fmt.Sprintf("MSG%d\n", i))
		assert.Equal(t, fmt.Sprintf("MSG%d", i), testutil.Receive(t, fast))
	}

	require.Len(t, slow, subscriberBuffer)
	for i := 0; i < subscriberBuffer; i++ {
		assert.Equal(t, fmt.Sprintf("MSG%d", i), <-slow)
	}
	assert.Empty(t, slow)
	assert.Len(t, rec.Lines(), extra)
}

func TestSerialMux_Monitor_LosslessSubscriberWaits(t *testing.T) {
	rec, restore := monitoring.Capture()
	defer restore()

	port := newBlockingPort()
	mux := NewSerialMux(port)
	_, ch := mux.SubscribeLossless()
	startMonitor(t, mux)

	total := 2*subscriberBuffer + 22
	for i := 0; i < total; i++ {
		port.Feed(fmt.Sprintf("MSG%d\n", i))
	}
	// nothing was read yet, so Monitor is holding the rest back
	require.Eventually(t, func() bool { return len(ch) == subscriberBuffer }, 2*time.Second, time.Millisecond)

	for i := 0; i < total; i++ {
		assert.Equal(t, fmt.Sprintf("MSG%d", i), testutil.Receive(t, ch))
	}
	assert.Empty(t, rec.Lines())
}

func TestSerialMux_UnsubscribeReleasesBlockedMonitor(t *testing.T) {
	port := newBlockingPort()
	mux := NewSerialMux(port)
	stuckID, _ := mux.SubscribeLossless()
	_, tail := mux.Subscribe()
	startMonitor(t, mux)

	for i := 0; i < subscriberBuffer; i++ {
		port.Feed(fmt.Sprintf("MSG%d\n", i))
	}
	for i := 0; i < subscriberBuffer; i++ {
		assert.Equal(t, fmt.Sprintf("MSG%d", i), testutil.Receive(t, tail))
	}

	// the lossless subscriber is full, so this line holds Monitor up
	port.Feed(fmt.Sprintf("MSG%d\n", subscriberBuffer))
	mux.Unsubscribe(stuckID)
	assert.Equal(t, fmt.Sprintf("MSG%d", subscriberBuffer), testutil.Receive(t, tail))
}

func TestSerialMux_CloseReleasesBlockedMonitor(t *testing.T) {
	port := newBlockingPort()
	mux := NewSerialMux(port)
	_, ch := mux.SubscribeLossless()
	_, done := startMonitor(t, mux)

	for i := 0; i < subscriberBuffer+1; i++ {
		port.Feed(fmt.Sprintf("MSG%d\n", i))
	}
	require.Eventually(t, func() bool { return len(ch) == subscriberBuffer }, 2*time.Second, time.Millisecond)

	require.NoError(t, mux.Close())
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return after Close")
	}
}

func TestSerialMux_Close(t *testing.T) {
	port := newFakePort()
	mux := NewSerialMux(port)
	id, ch := mux.Subscribe()

	require.NoError(t, mux.Close())
	_, ok := <-ch
	assert.False(t, ok)
	assert.True(t, port.Closed)

	mux.closingMu.Lock()
	assert.True(t, mux.closing)
	mux.closingMu.Unlock()

	// unsubscribing after close is safe
	mux.Unsubscribe(id)
}

func TestSerialMux_CloseError(t *testing.T) {
	port := newFakePort()
	port.CloseError = errors.New("busy")
	assert.EqualError(t, NewSerialMux(port).Close(), "busy")
}

func TestRandomID(t *testing.T) {
	ids := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := randomID()
		assert.Len(t, id, 16)
		assert.False(t, ids[id], "duplicate id %s", id)
		ids[id] = true
	}
}

// ErrorReadPort returns empty lines and then an error after errAfter reads.
type ErrorReadPort struct {
	readCount int
	errAfter  int
}

func (p *ErrorReadPort) Read(buf []byte) (int, error) {
	p.readCount++
	if p.readCount > p.errAfter {
		return 0, errors.New("simulated read error")
	}
	buf[0] = '\n'
	return 1, nil
}

func (p *ErrorReadPort) Write(data []byte) (int, error) { return len(data), nil }

func (p *ErrorReadPort) Close() error { return nil }

// PartialWritePort accepts at most maxWrite bytes per Write.
type PartialWritePort struct {
	maxWrite int
}

func (p *PartialWritePort) Read(buf []byte) (int, error) { return 0, io.EOF }

func (p *PartialWritePort) Write(data []byte) (int, error) {
	if len(data) > p.maxWrite {
		return p.maxWrite, nil
	}
	return len(data), nil
}

func (p *PartialWritePort) Close() error { return nil }
