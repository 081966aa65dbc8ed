package serialmux

import (
	"context"
	"sync"

	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/monitoring"
)

// Fanout delivers lines to a set of subscriber channels. Ordinary
// subscribers get a buffered channel and lose lines once it fills. Lossless
// subscribers make Publish wait until they take the line, they unsubscribe,
// or the publish context ends.
type Fanout struct {
	name   string
	mu     sync.Mutex
	subs   map[string]*subscription
	closed bool
}

type subscription struct {
	ch       chan string
	lossless bool

	// gone is closed before ch so a blocked Publish lets go of sendMu.
	gone   chan struct{}
	sendMu sync.RWMutex
	once   sync.Once
	done   bool
}

// NewFanout returns an empty fanout. name prefixes its log lines.
func NewFanout(name string) *Fanout {
	return &Fanout{name: name, subs: make(map[string]*subscription)}
}

// Subscribe registers a channel. After Close it returns an already closed
// channel and an empty ID.
func (f *Fanout) Subscribe(lossless bool) (string, chan string) {
	sub := &subscription{
		ch:       make(chan string, subscriberBuffer),
		lossless: lossless,
		gone:     make(chan struct{}),
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(sub.ch)
		return "", sub.ch
	}
	id := randomID()
	f.subs[id] = sub
	return id, sub.ch
}

// Unsubscribe closes the channel registered under id. Unknown IDs are
// ignored.
func (f *Fanout) Unsubscribe(id string) {
	f.mu.Lock()
	sub, ok := f.subs[id]
	delete(f.subs, id)
	f.mu.Unlock()
	if ok {
		sub.close()
	}
}

// Publish hands line to every subscriber.
func (f *Fanout) Publish(ctx context.Context, line string) {
	f.mu.Lock()
	subs := make(map[string]*subscription, len(f.subs))
	for id, sub := range f.subs {
		subs[id] = sub
	}
	f.mu.Unlock()

	for id, sub := range subs {
		if !sub.send(ctx, line) {
			monitoring.Logf("%s: subscriber %s is full, dropped line %q", f.name, id, line)
		}
	}
}

// Close closes every subscriber channel. Later calls to Subscribe get a
// closed channel.
func (f *Fanout) Close() {
	f.mu.Lock()
	f.closed = true
	subs := f.subs
	f.subs = make(map[string]*subscription)
	f.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

// Len reports the number of live subscribers.
func (f *Fanout) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// send reports false only when a lossy subscriber had no room for line.
func (s *subscription) send(ctx context.Context, line string) bool {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.done {
		return true
	}
	if !s.lossless {
		select {
		case s.ch <- line:
			return true
		default:
			return false
		}
	}
	select {
	case s.ch <- line:
	case <-s.gone:
	case <-ctx.Done():
	}
	return true
}

func (s *subscription) close() {
	s.once.Do(func() {
		close(s.gone)
		s.sendMu.Lock()
		s.done = true
		close(s.ch)
		s.sendMu.Unlock()
	})
}
