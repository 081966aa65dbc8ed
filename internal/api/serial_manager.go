package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/monitoring"
	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/serialmux"
)

// ErrManagerClosed is returned once Close has been called.
var ErrManagerClosed = errors.New("serial manager is closed")

// ErrMuxUnavailable is returned while a reload is swapping the link.
var ErrMuxUnavailable = errors.New("serial mux unavailable")

// SerialMuxFactory opens a mux for the given port. It is injected so the
// manager can be tested and so the real, mock and disabled modes can supply
// their own constructors.
type SerialMuxFactory func(path string, opts serialmux.PortOptions) (serialmux.SerialMuxInterface, error)

// SerialSettings is the link configuration currently applied, and the body
// accepted by the reload endpoint.
type SerialSettings struct {
	PortPath string                `json:"port_path"`
	Options  serialmux.PortOptions `json:"options"`
}

// SerialReloadResult is returned to API clients when a reload is processed.
type SerialReloadResult struct {
	Success  bool            `json:"success"`
	Message  string          `json:"message"`
	Settings *SerialSettings `json:"settings,omitempty"`
}

// SerialPortManager wraps a SerialMuxInterface so the instrument link can be
// reopened with different settings while the service runs. It implements
// SerialMuxInterface itself, so the dispatcher and debug routes keep working
// across reloads.
//
// Subscribers receive channels from an internal fanout rather than from the
// mux. A background goroutine holds a lossless subscription on whichever mux
// is current and forwards every line, reconnecting after a reload.
type SerialPortManager struct {
	mu       sync.RWMutex
	current  serialmux.SerialMuxInterface
	settings *SerialSettings
	closed   bool

	factory  SerialMuxFactory
	reloadMu sync.Mutex

	done   chan struct{}
	stop   context.CancelFunc
	ctx    context.Context
	fanout *serialmux.Fanout
}

// NewSerialPortManager starts the fanout goroutine, which runs until Close.
// An empty PortPath in settings means no link has been configured yet.
func NewSerialPortManager(initial serialmux.SerialMuxInterface, settings SerialSettings, factory SerialMuxFactory) *SerialPortManager {
	ctx, stop := context.WithCancel(context.Background())
	m := &SerialPortManager{
		current: initial,
		factory: factory,
		done:    make(chan struct{}),
		ctx:     ctx,
		stop:    stop,
		fanout:  serialmux.NewFanout("serial manager"),
	}
	if settings.PortPath != "" {
		s := settings
		m.settings = &s
	}
	go m.runFanout()
	return m
}

// CurrentMux returns the mux in use, or nil mid-reload.
func (m *SerialPortManager) CurrentMux() serialmux.SerialMuxInterface {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Settings returns a copy of the active link settings.
func (m *SerialPortManager) Settings() SerialSettings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.settings == nil {
		return SerialSettings{}
	}
	return *m.settings
}

func (m *SerialPortManager) runFanout() {
	var subID string
	var subCh chan string

	defer func() {
		if subID != "" {
			if mux := m.CurrentMux(); mux != nil {
				mux.Unsubscribe(subID)
			}
		}
		m.fanout.Close()
		monitoring.Logf("serial manager: fanout stopped")
	}()

	for {
		if subID == "" {
			m.mu.RLock()
			mux, closed := m.current, m.closed
			m.mu.RUnlock()
			if closed {
				return
			}
			if mux == nil {
				select {
				case <-m.done:
					return
				case <-time.After(250 * time.Millisecond):
				}
				continue
			}
			subID, subCh = mux.SubscribeLossless()
		}

		select {
		case <-m.done:
			return
		case line, ok := <-subCh:
			if !ok {
				// the mux was closed, most likely by a reload
				subID, subCh = "", nil
				continue
			}
			m.fanout.Publish(m.ctx, line)
		}
	}
}

// Subscribe returns a channel that stays valid across reloads. After Close
// it returns an already closed channel.
func (m *SerialPortManager) Subscribe() (string, chan string) {
	return m.subscribe(false)
}

// SubscribeLossless is Subscribe without dropped lines. The fanout waits for
// the subscriber, so it must be drained or unsubscribed.
func (m *SerialPortManager) SubscribeLossless() (string, chan string) {
	return m.subscribe(true)
}

func (m *SerialPortManager) subscribe(lossless bool) (string, chan string) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		ch := make(chan string)
		close(ch)
		return "", ch
	}
	return m.fanout.Subscribe(lossless)
}

func (m *SerialPortManager) Unsubscribe(id string) {
	m.fanout.Unsubscribe(id)
}

func (m *SerialPortManager) active() (serialmux.SerialMuxInterface, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	if m.current == nil {
		return nil, ErrMuxUnavailable
	}
	return m.current, nil
}

func (m *SerialPortManager) WriteLine(line string) error {
	mux, err := m.active()
	if err != nil {
		return err
	}
	return mux.WriteLine(line)
}

func (m *SerialPortManager) Initialise() error {
	mux, err := m.active()
	if err != nil {
		return err
	}
	return mux.Initialise()
}

// Monitor runs Monitor on the current mux and moves on to the replacement
// when a reload swaps it.
func (m *SerialPortManager) Monitor(ctx context.Context) error {
	for {
		mux := m.CurrentMux()
		if mux == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-m.done:
				return nil
			case <-time.After(250 * time.Millisecond):
				continue
			}
		}

		err := mux.Monitor(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-m.done:
			return nil
		default:
		}
		if err != nil {
			monitoring.Logf("serial manager: monitor stopped with error: %v", err)
			time.Sleep(500 * time.Millisecond)
		} else {
			time.Sleep(100 * time.Millisecond)
		}
	}
}

// Close closes the active mux and stops the fanout. Subscriber channels are
// closed.
func (m *SerialPortManager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var err error
	if m.current != nil {
		err = m.current.Close()
	}
	m.current = nil
	m.mu.Unlock()

	m.stop()
	close(m.done)
	return err
}

// AttachAdminRoutes mounts the debug pages so they go through the manager.
func (m *SerialPortManager) AttachAdminRoutes(mux *http.ServeMux) {
	serialmux.AttachAdminRoutesForMux(mux, m)
}

// Reload reopens the link with settings and swaps it in. Settings equal to
// the active ones are a no-op.
func (m *SerialPortManager) Reload(ctx context.Context, settings SerialSettings) (*SerialReloadResult, error) {
	if m.factory == nil {
		return nil, errors.New("serial mux factory not configured")
	}
	if settings.PortPath == "" {
		return nil, errors.New("port_path is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts, err := settings.Options.Normalise()
	if err != nil {
		return nil, fmt.Errorf("invalid serial configuration: %w", err)
	}
	settings.Options = opts

	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	if _, err := m.active(); errors.Is(err, ErrManagerClosed) {
		return nil, err
	}

	cur := m.Settings()
	if cur.PortPath == settings.PortPath && cur.Options.Equal(opts) && m.CurrentMux() != nil {
		return &SerialReloadResult{
			Success:  true,
			Message:  fmt.Sprintf("Serial port %s already active", settings.PortPath),
			Settings: &settings,
		}, nil
	}

	// A port cannot be opened twice, so the old link is released first.
	m.mu.Lock()
	old := m.current
	m.current = nil
	m.mu.Unlock()

	if old != nil {
		monitoring.Logf("serial manager: closing %s before reload", cur.PortPath)
		if err := old.Close(); err != nil {
			monitoring.Logf("serial manager: failed to close previous mux: %v", err)
		}
	}

	next, err := m.factory(settings.PortPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", settings.PortPath, err)
	}
	m.mu.Lock()
	m.current = next
	m.settings = &settings
	m.mu.Unlock()

	monitoring.Logf("serial manager: reloaded %s at %d baud", settings.PortPath, opts.BaudRate)
	return &SerialReloadResult{
		Success:  true,
		Message:  fmt.Sprintf("Reloaded serial port %s", settings.PortPath),
		Settings: &settings,
	}, nil
}
