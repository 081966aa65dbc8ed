package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommandLine(t *testing.T) {
	cases := []struct {
		name      string
		line      string
		wantName  string
		wantValue string
	}{
		{"typed form", "PARAMETER,dimOneChan,1,7\n", "dimOneChan", "7"},
		{"host form", "PARAMETER,dimOneChan,7\n", "dimOneChan", "7"},
		{"embedded spaces", "PARAMETER, d i m O n e C h a n ,u8, 7 \n", "dimOneChan", "7"},
		{"float value", "PARAMETER,angleRad,f32,0.7853\n", "angleRad", "0.7853"},
		{"negative", "PARAMETER,roStartV,-1.5\n", "roStartV", "-1.5"},
		{"trailing fields ignored", "PARAMETER,p1Line,u8,2,extra\n", "p1Line", "2"},
		{"empty value", "PARAMETER,p1Line,\n", "p1Line", ""},
		{"garbage name", "PARAMETER,???,1\n", "???", "1"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			name, value, err := ParseCommandLine(c.line)
			require.NoError(t, err)
			assert.Equal(t, c.wantName, name)
			assert.Equal(t, c.wantValue, value)
		})
	}
}

func TestParseParameter_TypeTag(t *testing.T) {
	cmd, err := ParseParameter("PARAMETER,p1StartUs,u32,65600\n")
	require.NoError(t, err)
	assert.Equal(t, Command{Name: "p1StartUs", TypeTag: "u32", Value: "65600"}, cmd)

	cmd, err = ParseParameter("PARAMETER,p1StartUs,65600\n")
	require.NoError(t, err)
	assert.Empty(t, cmd.TypeTag)
	assert.Equal(t, "65600", cmd.Value)
}

func TestParseParameter_Errors(t *testing.T) {
	cases := []struct {
		name    string
		line    string
		wantErr error
	}{
		{"empty", "", ErrShortLine},
		{"prefix only short", "PARAM", ErrShortLine},
		{"no terminator at all", "PARAMETER,dimOneChan", ErrUnterminated},
		{"value without newline", "PARAMETER,dimOneChan,7", ErrUnterminated},
		{"typed value without newline", "PARAMETER,dimOneChan,u8,7", ErrUnterminated},
		{"newline ends name", "PARAMETER,dimOneChan\n", ErrMissingValue},
		{"prefix only", "PARAMETER,", ErrUnterminated},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				_, _, err := ParseCommandLine(c.line)
				assert.ErrorIs(t, err, c.wantErr)
			})
		})
	}
}

func TestParseParameter_PartialTokensOnError(t *testing.T) {
	cmd, err := ParseParameter("PARAMETER,dimOneChan,7")
	assert.ErrorIs(t, err, ErrUnterminated)
	assert.Equal(t, "dimOneChan", cmd.Name)
	assert.Equal(t, "7", cmd.Value)
}

func TestParser_MaxLineLength(t *testing.T) {
	p := Parser{MaxLineLength: 16}

	_, _, err := p.ParseCommandLine("PARAMETER," + strings.Repeat("x", 32) + ",1\n")
	assert.ErrorIs(t, err, ErrLineTooLong)

	name, value, err := p.ParseCommandLine("PARAMETER,ab,1\n")
	require.NoError(t, err)
	assert.Equal(t, "ab", name)
	assert.Equal(t, "1", value)

	// default bound
	_, _, err = ParseCommandLine("PARAMETER," + strings.Repeat("y", DefaultMaxLineLength) + ",1\n")
	assert.ErrorIs(t, err, ErrLineTooLong)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		line string
		want Kind
	}{
		{"PARAMETER,dimOneChan,7\n", KindParameter},
		{"*", KindIdentify},
		{"*\r\n", KindIdentify},
		{"PARAMETERS?", KindDump},
		{"PARAMETERS?\n", KindDump},
		{"RASTER_SCAN", KindUnknown},
		{"parameter,dimOneChan,7", KindUnknown},
		{"", KindUnknown},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Classify(c.line), "Classify(%q)", c.line)
	}
}

func TestFormatParameter(t *testing.T) {
	line := FormatParameter("p1Line", "2")
	assert.Equal(t, "PARAMETER,p1Line,2\n", line)

	name, value, err := ParseCommandLine(line)
	require.NoError(t, err)
	assert.Equal(t, "p1Line", name)
	assert.Equal(t, "2", value)

	typed := FormatTypedParameter("p1Line", "u8", "2")
	assert.Equal(t, "PARAMETER,p1Line,u8,2\n", typed)
}

func TestCheckToken(t *testing.T) {
	assert.NoError(t, CheckToken("p1Line"))
	assert.NoError(t, CheckToken("-1.25e3"))
	for _, tok := range []string{"1,2", "1\n", "a\rb", ","} {
		assert.ErrorIs(t, CheckToken(tok), ErrInvalidToken, "CheckToken(%q)", tok)
	}
}

func TestParseReply(t *testing.T) {
	r := ParseReply("Parameter dimOneChan set to 7\r\n")
	assert.Equal(t, ReplyConfirmation, r.Kind)
	assert.Equal(t, "dimOneChan", r.Name)
	assert.Equal(t, "7", r.Value)

	assert.Equal(t, ReplyScanDone, ParseReply("Scan done").Kind)

	msg := ParseReply("MSG12")
	assert.Equal(t, ReplyMessage, msg.Kind)
	assert.Equal(t, 12, msg.ID)

	assert.Equal(t, ReplyOther, ParseReply("MSGx").Kind)
	assert.Equal(t, ReplyReceived, ParseReply(ReceivedLine("a", "1")).Kind)
	assert.Equal(t, ReplyOther, ParseReply("Running read parameter function").Kind)
}
