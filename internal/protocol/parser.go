// Package protocol implements the line grammar spoken over the instrument's
// serial link.
//
// A parameter command looks like
//
//	PARAMETER,<name>,<type-tag>,<value>\n
//
// The host software also sends the shorter PARAMETER,<name>,<value>\n form;
// both are accepted. The type-tag is carried through but never used to type
// the value: the registry entry for <name> decides that.
package protocol

import (
	"errors"
	"strings"
)

// Prefix is the keyword and delimiter that open a parameter command.
const Prefix = "PARAMETER,"

// PrefixLen is the fixed offset at which the name field begins.
const PrefixLen = len(Prefix)

// DefaultMaxLineLength bounds how far the parser scans into a line.
const DefaultMaxLineLength = 256

var (
	// ErrShortLine is returned when the line ends before the name field.
	ErrShortLine = errors.New("line shorter than command prefix")
	// ErrUnterminated is returned when a token runs to the end of the input
	// without a ',' or newline.
	ErrUnterminated = errors.New("token not terminated by ',' or newline")
	// ErrLineTooLong is returned when no terminator is found within the
	// maximum line length.
	ErrLineTooLong = errors.New("line exceeds maximum length")
	// ErrMissingValue is returned when the newline ends the name field.
	ErrMissingValue = errors.New("missing value field")
)

// Command is a parsed parameter command.
type Command struct {
	Name    string `json:"name"`
	TypeTag string `json:"type_tag,omitempty"`
	Value   string `json:"value"`
}

// Parser extracts name and value tokens from parameter command lines.
type Parser struct {
	// MaxLineLength caps the scan; zero means DefaultMaxLineLength.
	MaxLineLength int
}

// ParseCommandLine parses line with the default bounds.
func ParseCommandLine(line string) (name, value string, err error) {
	return Parser{}.ParseCommandLine(line)
}

// ParseParameter parses line with the default bounds.
func ParseParameter(line string) (Command, error) {
	return Parser{}.ParseParameter(line)
}

// ParseCommandLine returns the name and value tokens of a parameter command.
// Spaces inside tokens are dropped; ',' and newline end a token. Tokens are
// returned as text, unconverted.
func (p Parser) ParseCommandLine(line string) (name, value string, err error) {
	cmd, err := p.ParseParameter(line)
	return cmd.Name, cmd.Value, err
}

// ParseParameter is ParseCommandLine that also reports the type-tag when the
// line carries one. On error the tokens read so far are still returned.
func (p Parser) ParseParameter(line string) (Command, error) {
	var cmd Command
	if len(line) < PrefixLen {
		return cmd, ErrShortLine
	}

	limit := p.maxLen()
	if limit > len(line) {
		limit = len(line)
	}

	name, end, term, err := scanToken(line, PrefixLen, limit)
	cmd.Name = name
	if err != nil {
		return cmd, err
	}
	if term == '\n' {
		return cmd, ErrMissingValue
	}

	second, end, term, err := scanToken(line, end+1, limit)
	if err != nil {
		cmd.Value = second
		return cmd, err
	}
	if term == '\n' {
		cmd.Value = second
		return cmd, nil
	}

	// four-field form: the second token was the type-tag
	cmd.TypeTag = second
	value, _, _, err := scanToken(line, end+1, limit)
	cmd.Value = value
	return cmd, err
}

func (p Parser) maxLen() int {
	if p.MaxLineLength <= 0 {
		return DefaultMaxLineLength
	}
	return p.MaxLineLength
}

// scanToken collects the bytes of line from pos up to the next ',' or '\n',
// skipping spaces. It never reads at or beyond limit.
func scanToken(line string, pos, limit int) (tok string, end int, term byte, err error) {
	var b strings.Builder
	for i := pos; i < limit; i++ {
		switch c := line[i]; c {
		case ' ':
		case ',', '\n':
			return b.String(), i, c, nil
		default:
			b.WriteByte(c)
		}
	}
	if limit < len(line) {
		return b.String(), limit, 0, ErrLineTooLong
	}
	return b.String(), limit, 0, ErrUnterminated
}
