package serialmux

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/testutil"
)

func TestNewMockSerialMux_ReplaysLines(t *testing.T) {
	mux := NewMockSerialMux(time.Millisecond, "PARAMETER,p1Line,2", "*\n")
	_, ch := mux.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)

	assert.Equal(t, "PARAMETER,p1Line,2", testutil.Receive(t, ch))
	assert.Equal(t, "*", testutil.Receive(t, ch))

	require.NoError(t, mux.WriteLine("Parameter p1Line set to 2"))
	assert.Equal(t, "Parameter p1Line set to 2\n", mux.port.Written())

	require.NoError(t, mux.Close())
	require.NoError(t, mux.port.Close(), "second close is a no-op")
}

func TestFakePort(t *testing.T) {
	port := newFakePort()
	port.Feed("abc")

	buf := make([]byte, 8)
	n, err := port.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(buf[:n]))

	port.ReadError = errors.New("once")
	_, err = port.Read(buf)
	assert.EqualError(t, err, "once")
	assert.Nil(t, port.ReadError, "read error is consumed")

	_, err = port.Write([]byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "x", port.Written())

	require.NoError(t, port.Close())
	_, err = port.Read(buf)
	assert.Error(t, err)
	_, err = port.Write([]byte("y"))
	assert.Error(t, err)
}

func TestFakePort_BlockingReadWakesOnClose(t *testing.T) {
	port := newFakePort()
	port.BlockReads = true

	done := make(chan error, 1)
	go func() {
		_, err := port.Read(make([]byte, 4))
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	port.Close()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked read did not wake on close")
	}
}
