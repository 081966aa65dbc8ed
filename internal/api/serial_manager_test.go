package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/params"
	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/serialmux"
	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/testutil"
)

type factoryCall struct {
	path string
	opts serialmux.PortOptions
}

type stubFactory struct {
	mu    sync.Mutex
	calls []factoryCall
	muxes []*fakeMux
	err   error
}

func (f *stubFactory) open(path string, opts serialmux.PortOptions) (serialmux.SerialMuxInterface, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, factoryCall{path, opts})
	if f.err != nil {
		return nil, f.err
	}
	m := newFakeMux()
	f.muxes = append(f.muxes, m)
	return m, nil
}

func (f *stubFactory) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

var initialSettings = SerialSettings{
	PortPath: "/dev/ttyACM0",
	Options:  serialmux.PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"},
}

func newTestManager(t *testing.T) (*SerialPortManager, *fakeMux, *stubFactory) {
	t.Helper()
	initial := newFakeMux()
	factory := &stubFactory{}
	mgr := NewSerialPortManager(initial, initialSettings, factory.open)
	t.Cleanup(func() { mgr.Close() })
	return mgr, initial, factory
}

func waitSubscribed(t *testing.T, m *fakeMux) {
	t.Helper()
	require.Eventually(t, func() bool { return m.subscriberCount() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestSerialPortManager_Fanout(t *testing.T) {
	mgr, initial, _ := newTestManager(t)

	id, ch := mgr.Subscribe()
	require.NotEmpty(t, id)
	waitSubscribed(t, initial)

	require.Equal(t, 1, initial.publish("Parameter p1Line set to 1"))
	assert.Equal(t, "Parameter p1Line set to 1", testutil.Receive(t, ch))

	require.NoError(t, mgr.WriteLine("*"))
	assert.Equal(t, []string{"*"}, initial.Written())

	mgr.Unsubscribe(id)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestSerialPortManager_LosslessSubscriber(t *testing.T) {
	mgr, initial, _ := newTestManager(t)

	_, ch := mgr.SubscribeLossless()
	_, tail := mgr.Subscribe()
	waitSubscribed(t, initial)

	total := 150
	go func() {
		for i := 1; i <= total; i++ {
			initial.publish(fmt.Sprintf("PARAMETER,timeLapsePoints,%d", i))
		}
	}()

	// let the lossy tail overflow before anything is read
	time.Sleep(50 * time.Millisecond)
	for i := 1; i <= total; i++ {
		require.Equal(t, fmt.Sprintf("PARAMETER,timeLapsePoints,%d", i), testutil.Receive(t, ch))
	}
	assert.Len(t, tail, cap(tail))
}

func TestSerialPortManager_Reload(t *testing.T) {
	mgr, initial, factory := newTestManager(t)
	_, ch := mgr.Subscribe()
	waitSubscribed(t, initial)

	next := SerialSettings{
		PortPath: "/dev/ttyUSB1",
		Options:  serialmux.PortOptions{BaudRate: 9600, Parity: "even"},
	}
	result, err := mgr.Reload(context.Background(), next)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, result.Message, "/dev/ttyUSB1")

	require.Equal(t, 1, factory.callCount())
	assert.Equal(t, "/dev/ttyUSB1", factory.calls[0].path)
	assert.Equal(t, serialmux.PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "E"}, factory.calls[0].opts)

	replacement := factory.muxes[0]
	assert.Equal(t, "/dev/ttyUSB1", mgr.Settings().PortPath)
	assert.Same(t, replacement, mgr.CurrentMux())

	// the old link was released and the subscription survives the swap
	assert.True(t, initial.closed)
	waitSubscribed(t, replacement)
	replacement.publish("MSG1")
	assert.Equal(t, "MSG1", testutil.Receive(t, ch))
}

func TestSerialPortManager_ReloadSameSettings(t *testing.T) {
	mgr, initial, factory := newTestManager(t)

	same := initialSettings
	same.Options.Parity = "none"
	result, err := mgr.Reload(context.Background(), same)
	require.NoError(t, err)
	assert.Contains(t, result.Message, "already active")
	assert.Zero(t, factory.callCount())
	assert.False(t, initial.closed)
}

func TestSerialPortManager_ReloadErrors(t *testing.T) {
	mgr, _, factory := newTestManager(t)

	_, err := mgr.Reload(context.Background(), SerialSettings{})
	assert.ErrorContains(t, err, "port_path")

	_, err = mgr.Reload(context.Background(), SerialSettings{PortPath: "/dev/x", Options: serialmux.PortOptions{BaudRate: 12345}})
	assert.ErrorContains(t, err, "invalid serial configuration")
	assert.Zero(t, factory.callCount())

	factory.err = errors.New("no such device")
	_, err = mgr.Reload(context.Background(), SerialSettings{PortPath: "/dev/missing"})
	assert.ErrorContains(t, err, "no such device")
	assert.Nil(t, mgr.CurrentMux())
	assert.ErrorIs(t, mgr.WriteLine("*"), ErrMuxUnavailable)
	assert.ErrorIs(t, mgr.Initialise(), ErrMuxUnavailable)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = mgr.Reload(ctx, initialSettings)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSerialPortManager_Close(t *testing.T) {
	mgr, initial, _ := newTestManager(t)
	_, ch := mgr.Subscribe()

	require.NoError(t, mgr.Close())
	assert.True(t, initial.closed)

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber channel not closed")
	}

	_, closedCh := mgr.Subscribe()
	_, ok := <-closedCh
	assert.False(t, ok)

	assert.ErrorIs(t, mgr.WriteLine("*"), ErrManagerClosed)
	_, err := mgr.Reload(context.Background(), initialSettings)
	assert.ErrorIs(t, err, ErrManagerClosed)
	assert.NoError(t, mgr.Close())
}

func TestSerialPortManager_Monitor(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mgr.Monitor(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return")
	}
}

func TestSerialRoutes(t *testing.T) {
	mgr, _, factory := newTestManager(t)
	d := serialmux.NewDispatcher(params.NewRegistry(), nil)
	h := NewServer(mgr, d, nil).ServeMux()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/serial", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"port_path":"/dev/ttyACM0"`)

	w = httptest.NewRecorder()
	body := `{"port_path":"/dev/ttyUSB0","options":{"baud_rate":57600}}`
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/serial/reload", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"success":true`)
	assert.Equal(t, 1, factory.callCount())

	factory.err = errors.New("busy")
	w = httptest.NewRecorder()
	body = `{"port_path":"/dev/ttyUSB2"}`
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/serial/reload", strings.NewReader(body)))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "busy")

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/serial/reload", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestSerialRoutes_OnlyWithManager(t *testing.T) {
	ts := newTestServer(t, false)
	w := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/serial", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
