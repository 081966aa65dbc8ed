package serialmux

import (
	"context"
	"strings"
	"time"

	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/db"
	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/monitoring"
	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/params"
	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/protocol"
	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/timeutil"
	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/version"
)

// Journal receives one record per handled line. *db.DB implements it.
type Journal interface {
	RecordCommand(ctx context.Context, rec *db.CommandRecord) error
}

// Sources recorded in the journal.
const (
	SourceSerial = "serial"
	SourceHTTP   = "http"
)

// Outcome describes what handling a single line did.
type Outcome struct {
	Kind    protocol.Kind
	Command protocol.Command
	Result  params.Result
	// Replies are the lines written back to the link, in order.
	Replies []string
	Err     error
}

// Dispatcher applies incoming command lines to a parameter registry.
type Dispatcher struct {
	Registry *params.Registry
	Parser   protocol.Parser
	// Journal is optional.
	Journal Journal
	// Echo writes the "Received pName" line ahead of each confirmation.
	Echo  bool
	Clock timeutil.Clock
}

// NewDispatcher returns a dispatcher with echo enabled and the real clock.
func NewDispatcher(reg *params.Registry, journal Journal) *Dispatcher {
	return &Dispatcher{
		Registry: reg,
		Journal:  journal,
		Echo:     true,
		Clock:    timeutil.RealClock{},
	}
}

// HandleLine parses and applies one line. The trailing newline is optional.
// Malformed or unknown input never changes the registry.
func (d *Dispatcher) HandleLine(ctx context.Context, source, line string) Outcome {
	line = strings.TrimRight(line, "\r\n") + "\n"
	out := Outcome{Kind: protocol.Classify(line)}
	rec := &db.CommandRecord{
		ReceivedAt: d.now(),
		Source:     source,
		Line:       strings.TrimSuffix(line, "\n"),
		Kind:       out.Kind.String(),
	}

	switch out.Kind {
	case protocol.KindParameter:
		cmd, err := d.Parser.ParseParameter(line)
		out.Command = cmd
		rec.Name, rec.TypeTag, rec.Value = cmd.Name, cmd.TypeTag, cmd.Value
		if err != nil {
			out.Err = err
			rec.Status = db.StatusMalformed
			rec.Error = err.Error()
			monitoring.Logf("dispatcher: malformed command %q: %v", rec.Line, err)
			break
		}
		if d.Echo {
			out.Replies = append(out.Replies, protocol.ReceivedLine(cmd.Name, cmd.Value))
		}
		out.Result = d.Registry.Set(cmd.Name, cmd.Value)
		if out.Result.OK() {
			rec.Status = db.StatusApplied
			rec.Stored = out.Result.Value
			out.Replies = append(out.Replies, out.Result.Message())
		} else {
			rec.Status = db.StatusUnknownName
		}

	case protocol.KindIdentify:
		rec.Status = db.StatusHandled
		out.Replies = append(out.Replies, version.Identify())

	case protocol.KindDump:
		rec.Status = db.StatusHandled
		out.Replies = append(out.Replies, d.Registry.Dump()...)

	default:
		rec.Status = db.StatusIgnored
	}

	if d.Journal != nil {
		if err := d.Journal.RecordCommand(ctx, rec); err != nil {
			monitoring.Logf("dispatcher: failed to journal %q: %v", rec.Line, err)
		}
	}
	return out
}

// Run handles every line read by mux until ctx is cancelled or the
// subscription closes. Replies are written back through mux. The
// subscription is lossless so a slow journal delays reading instead of
// losing commands.
func (d *Dispatcher) Run(ctx context.Context, mux SerialMuxInterface) error {
	id, lines := mux.SubscribeLossless()
	defer mux.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			out := d.HandleLine(ctx, SourceSerial, line)
			for _, reply := range out.Replies {
				if err := mux.WriteLine(reply); err != nil {
					monitoring.Logf("dispatcher: failed to write reply %q: %v", reply, err)
				}
			}
		}
	}
}

func (d *Dispatcher) now() time.Time {
	if d.Clock == nil {
		return timeutil.RealClock{}.Now()
	}
	return d.Clock.Now()
}
