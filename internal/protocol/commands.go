package protocol

import (
	"errors"
	"strconv"
	"strings"
)

// ErrInvalidToken is returned for a name or value that would split the line
// it is formatted into.
var ErrInvalidToken = errors.New("name and value must not contain ',' or newlines")

// Kind classifies an incoming line by its leading keyword.
type Kind int

const (
	KindUnknown Kind = iota
	// KindParameter is a PARAMETER,... command.
	KindParameter
	// KindIdentify is the "*" probe the host sends on connect.
	KindIdentify
	// KindDump asks for every parameter value.
	KindDump
)

func (k Kind) String() string {
	switch k {
	case KindParameter:
		return "parameter"
	case KindIdentify:
		return "identify"
	case KindDump:
		return "dump"
	default:
		return "unknown"
	}
}

// DumpCommand requests a listing of all parameters.
const DumpCommand = "PARAMETERS?"

// IdentifyCommand is the connect probe.
const IdentifyCommand = "*"

// Classify returns the kind of line. Trailing CR/LF are ignored.
func Classify(line string) Kind {
	if strings.HasPrefix(line, Prefix) {
		return KindParameter
	}
	switch strings.TrimRight(line, "\r\n") {
	case IdentifyCommand:
		return KindIdentify
	case DumpCommand:
		return KindDump
	}
	return KindUnknown
}

// CheckToken returns ErrInvalidToken when tok holds a field separator or a
// line terminator.
func CheckToken(tok string) error {
	if strings.ContainsAny(tok, ",\r\n") {
		return ErrInvalidToken
	}
	return nil
}

// FormatParameter renders the host form PARAMETER,<name>,<value>\n.
func FormatParameter(name, value string) string {
	return Prefix + name + "," + value + "\n"
}

// FormatTypedParameter renders PARAMETER,<name>,<type-tag>,<value>\n.
func FormatTypedParameter(name, typeTag, value string) string {
	return Prefix + name + "," + typeTag + "," + value + "\n"
}

// ReplyKind classifies a line written back by the instrument.
type ReplyKind int

const (
	ReplyOther ReplyKind = iota
	// ReplyConfirmation is "Parameter <name> set to <value>".
	ReplyConfirmation
	// ReplyReceived is the "Received pName: ..., pValue: ..." echo.
	ReplyReceived
	// ReplyScanDone reports the end of a scan.
	ReplyScanDone
	// ReplyMessage is "MSG<n>".
	ReplyMessage
)

// Reply is a classified instrument reply.
type Reply struct {
	Kind ReplyKind
	Text string
	// Name and Value are set for confirmations.
	Name  string
	Value string
	// ID is set for ReplyMessage.
	ID int
}

// ScanDoneReply is sent when a scan finishes.
const ScanDoneReply = "Scan done"

// ParseReply classifies one reply line.
func ParseReply(line string) Reply {
	text := strings.TrimRight(line, "\r\n")
	r := Reply{Kind: ReplyOther, Text: text}

	switch {
	case text == ScanDoneReply:
		r.Kind = ReplyScanDone
	case strings.HasPrefix(text, "MSG"):
		if id, err := strconv.Atoi(text[3:]); err == nil {
			r.Kind = ReplyMessage
			r.ID = id
		}
	case strings.HasPrefix(text, "Received pName: "):
		r.Kind = ReplyReceived
	case strings.HasPrefix(text, "Parameter "):
		rest := strings.TrimPrefix(text, "Parameter ")
		if name, value, ok := strings.Cut(rest, " set to "); ok && name != "" {
			r.Kind = ReplyConfirmation
			r.Name = name
			r.Value = value
		}
	}
	return r
}

// ReceivedLine is the echo written before a parameter is applied.
func ReceivedLine(name, value string) string {
	return "Received pName: " + name + ", pValue: " + value
}
