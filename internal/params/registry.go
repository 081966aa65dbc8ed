package params

import (
	"errors"
	"fmt"
	"sync"

	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/monitoring"
)

// ErrUnknownParameter is returned by callers that want to surface a lookup
// miss. Registry.Set itself never fails.
var ErrUnknownParameter = errors.New("unknown parameter")

// Status is the outcome of a Set call.
type Status int

const (
	// StatusUnknown means the name matched no field and nothing changed.
	StatusUnknown Status = iota
	// StatusSet means the value was converted and stored.
	StatusSet
)

func (s Status) String() string {
	if s == StatusSet {
		return "set"
	}
	return "unknown"
}

// Result describes one Set call.
type Result struct {
	Name   string `json:"name"`
	Raw    string `json:"raw"`
	Value  string `json:"value,omitempty"`
	Type   string `json:"type,omitempty"`
	Status Status `json:"-"`
	// Defaulted is true when the raw text held no number and zero was stored.
	Defaulted bool `json:"defaulted,omitempty"`
}

// OK reports whether a field was written.
func (r Result) OK() bool { return r.Status == StatusSet }

// Message is the confirmation line for a stored value, or "" when no field
// matched.
func (r Result) Message() string {
	if r.Status != StatusSet {
		return ""
	}
	return fmt.Sprintf("Parameter %s set to %s", r.Name, r.Value)
}

// Registry owns the parameter Config. It is the single writer; readers take
// copies through Snapshot.
type Registry struct {
	mu          sync.RWMutex
	cfg         Config
	last        string
	wideTimings bool
	quiet       bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithWideTimings stores the pulse window timings at full 32-bit width
// instead of narrowing them through 16 bits.
func WithWideTimings() Option {
	return func(r *Registry) { r.wideTimings = true }
}

// Quiet stops Set from logging each stored value.
func Quiet() Option {
	return func(r *Registry) { r.quiet = true }
}

// NewRegistry returns a registry with every field at zero.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Set converts value for the field called name and stores it. Unknown names
// leave every field and the last confirmation message untouched.
func (r *Registry) Set(name, value string) Result {
	res := Result{Name: name, Raw: value}
	f, ok := byName[name]
	if !ok {
		return res
	}

	r.mu.Lock()
	stored, parsed := f.store(&r.cfg, value, r.wideTimings)
	res.Status = StatusSet
	res.Value = stored
	res.Type = f.kind.String()
	res.Defaulted = !parsed
	r.last = res.Message()
	r.mu.Unlock()

	if !r.quiet {
		monitoring.Logf("%s", res.Message())
	}
	return res
}

// Get returns the current value of the named field as text.
func (r *Registry) Get(name string) (string, bool) {
	f, ok := byName[name]
	if !ok {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return f.load(&r.cfg), true
}

// Snapshot returns a copy of the current configuration.
func (r *Registry) Snapshot() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// LastMessage returns the most recent confirmation line, or "" before the
// first successful Set.
func (r *Registry) LastMessage() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

// Value pairs a catalogue entry with its current value.
type Value struct {
	FieldInfo
	Value string `json:"value"`
}

// Values returns every field with its current value, in catalogue order.
func (r *Registry) Values() []Value {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Value, len(catalogue))
	for i, f := range catalogue {
		out[i] = Value{FieldInfo: f.info(), Value: f.load(&r.cfg)}
	}
	return out
}

// Dump renders one "name=value" line per field.
func (r *Registry) Dump() []string {
	values := r.Values()
	lines := make([]string, len(values))
	for i, v := range values {
		lines[i] = v.Name + "=" + v.Value
	}
	return lines
}
