// Package client sends parameter sets to a running instrument, either over
// the serial link directly or through the HTTP service, and checks the
// confirmations that come back.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/config"
	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/monitoring"
	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/params"
	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/protocol"
	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/timeutil"
)

// DefaultPacing is the pause between consecutive parameter lines. The
// instrument reads one line at a time and has a small receive buffer.
const DefaultPacing = 50 * time.Millisecond

// ErrTimeout is returned when the instrument stops replying before the
// expected lines arrive.
var ErrTimeout = errors.New("timed out waiting for instrument reply")

// Sender writes one line to the instrument.
type Sender interface {
	WriteLine(line string) error
}

// Sent records one line written by Upload.
type Sent struct {
	Name  string
	Value string
	Line  string
	// Expected is the value the instrument should echo back in its
	// confirmation.
	Expected string
}

// Report lists what an upload wrote, in order.
type Report struct {
	Sent []Sent
}

// Mismatch is a confirmation that disagrees with what was sent, or a
// confirmation that never arrived.
type Mismatch struct {
	Name     string
	Expected string
	// Got is empty when no confirmation was seen.
	Got string
}

func (m Mismatch) String() string {
	if m.Got == "" {
		return fmt.Sprintf("%s: no confirmation (expected %s)", m.Name, m.Expected)
	}
	return fmt.Sprintf("%s: instrument stored %s, expected %s", m.Name, m.Got, m.Expected)
}

// Uploader writes a parameter set one line at a time.
type Uploader struct {
	Sender Sender
	Clock  timeutil.Clock
	// Pacing is the pause after each line. Zero means DefaultPacing; a
	// negative value disables the pause.
	Pacing time.Duration
	// Typed selects the four-field form carrying the field's type-tag.
	Typed bool
	// WideTimings mirrors the instrument's pulse window width so the
	// expected values match what it stores.
	WideTimings bool
}

// NewUploader returns an uploader using the real clock and default pacing.
func NewUploader(s Sender) *Uploader {
	return &Uploader{Sender: s, Clock: timeutil.RealClock{}}
}

// Upload validates every assignment before sending anything, then writes
// them in order.
func (u *Uploader) Upload(ctx context.Context, assignments []config.Assignment) (Report, error) {
	var report Report
	for _, a := range assignments {
		if !params.Known(a.Name) {
			return report, fmt.Errorf("%w: %q", params.ErrUnknownParameter, a.Name)
		}
		if err := protocol.CheckToken(a.Value); err != nil {
			return report, fmt.Errorf("%s: %w: %q", a.Name, err, a.Value)
		}
	}

	opts := []params.Option{params.Quiet()}
	if u.WideTimings {
		opts = append(opts, params.WithWideTimings())
	}
	scratch := params.NewRegistry(opts...)

	for _, a := range assignments {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		line := protocol.FormatParameter(a.Name, a.Value)
		if u.Typed {
			info, _ := params.Lookup(a.Name)
			line = protocol.FormatTypedParameter(a.Name, info.Kind.String(), a.Value)
		}
		if err := u.Sender.WriteLine(line); err != nil {
			return report, fmt.Errorf("failed to send %s: %w", a.Name, err)
		}
		res := scratch.Set(a.Name, a.Value)
		report.Sent = append(report.Sent, Sent{
			Name:     a.Name,
			Value:    a.Value,
			Line:     line,
			Expected: res.Value,
		})

		if p := u.pacing(); p > 0 {
			u.clock().Sleep(p)
		}
	}
	monitoring.Logf("client: uploaded %d parameters", len(report.Sent))
	return report, nil
}

func (u *Uploader) pacing() time.Duration {
	if u.Pacing == 0 {
		return DefaultPacing
	}
	return u.Pacing
}

func (u *Uploader) clock() timeutil.Clock {
	if u.Clock == nil {
		return timeutil.RealClock{}
	}
	return u.Clock
}

// Verify compares the confirmations found in replies against the report.
// When a name was sent more than once only its last confirmation counts.
func Verify(report Report, replies []string) []Mismatch {
	got := map[string]string{}
	for _, line := range replies {
		r := protocol.ParseReply(line)
		if r.Kind == protocol.ReplyConfirmation {
			got[r.Name] = r.Value
		}
	}

	want := map[string]string{}
	var order []string
	for _, s := range report.Sent {
		if _, seen := want[s.Name]; !seen {
			order = append(order, s.Name)
		}
		want[s.Name] = s.Expected
	}

	var mismatches []Mismatch
	for _, name := range order {
		if g := got[name]; g != want[name] {
			mismatches = append(mismatches, Mismatch{Name: name, Expected: want[name], Got: g})
		}
	}
	return mismatches
}

// Collect reads lines until want confirmations have arrived, lines closes,
// or ctx is done. It returns whatever was read. Run it alongside Upload so
// the subscription never backs up.
func Collect(ctx context.Context, lines <-chan string, want int) ([]string, error) {
	var replies []string
	pending := want
	for pending > 0 {
		select {
		case <-ctx.Done():
			return replies, fmt.Errorf("%w: %d confirmations outstanding", ErrTimeout, pending)
		case line, ok := <-lines:
			if !ok {
				return replies, nil
			}
			replies = append(replies, line)
			if protocol.ParseReply(line).Kind == protocol.ReplyConfirmation {
				pending--
			}
		}
	}
	return replies, nil
}

// WaitScanDone reads lines until the instrument reports the end of a scan.
// The MSG ids seen on the way are returned in order.
func WaitScanDone(ctx context.Context, lines <-chan string) ([]int, error) {
	var ids []int
	for {
		select {
		case <-ctx.Done():
			return ids, fmt.Errorf("%w: scan still running", ErrTimeout)
		case line, ok := <-lines:
			if !ok {
				return ids, errors.New("link closed before scan finished")
			}
			switch r := protocol.ParseReply(line); r.Kind {
			case protocol.ReplyMessage:
				ids = append(ids, r.ID)
			case protocol.ReplyScanDone:
				return ids, nil
			}
		}
	}
}
