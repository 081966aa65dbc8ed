package params

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// ParseIntOrZero converts the leading decimal integer of s. Leading spaces
// and tabs are skipped, an optional sign is accepted and parsing stops at the
// first non-digit, so "12abc" is 12. When no digit is found the result is 0
// and ok is false. Values beyond the int32 range saturate, as the
// instrument's 32-bit long does, before any narrowing to the field width.
func ParseIntOrZero(s string) (n int64, ok bool) {
	i := skipSpace(s, 0)
	neg := false
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		neg = s[i] == '-'
		i++
	}

	var acc int64
	start := i
	for ; i < len(s) && isDigit(s[i]); i++ {
		// digits past the int32 range keep acc pinned just above it
		if acc <= math.MaxInt32+1 {
			acc = acc*10 + int64(s[i]-'0')
		}
	}
	if i == start {
		return 0, false
	}

	if neg {
		return max(-acc, math.MinInt32), true
	}
	return min(acc, math.MaxInt32), true
}

// ParseFloatOrZero converts the longest leading decimal floating point prefix
// of s to a float32, e.g. "1.5V" is 1.5. When no number is found the result
// is 0 and ok is false. Out of range magnitudes become ±Inf. "Inf",
// "Infinity" and "NaN" are accepted in any case so formatted values parse
// back.
func ParseFloatOrZero(s string) (v float32, ok bool) {
	prefix := floatPrefix(s)
	if prefix == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(prefix, 32)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, false
	}
	return float32(f), true
}

// floatPrefix returns the part of s that forms a decimal float:
// [sign] digits [. digits] [e [sign] digits], [sign] inf|infinity, or nan,
// after leading whitespace.
func floatPrefix(s string) string {
	start := skipSpace(s, 0)
	i := start
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	for _, word := range []string{"infinity", "inf", "nan"} {
		if len(s)-i >= len(word) && strings.EqualFold(s[i:i+len(word)], word) {
			if word == "nan" && i > start {
				return ""
			}
			return s[start : i+len(word)]
		}
	}

	digits := 0
	for ; i < len(s) && isDigit(s[i]); i++ {
		digits++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for ; i < len(s) && isDigit(s[i]); i++ {
			digits++
		}
	}
	if digits == 0 {
		return ""
	}

	// exponent only counts when it carries at least one digit
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		k := j
		for ; k < len(s) && isDigit(s[k]); k++ {
		}
		if k > j {
			i = k
		}
	}
	return s[start:i]
}

func skipSpace(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\r' || s[i] == '\n' || s[i] == '\v' || s[i] == '\f') {
		i++
	}
	return i
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func formatUint(v uint64) string { return strconv.FormatUint(v, 10) }

// formatFloat renders v with the fewest digits that parse back to the same
// float32.
func formatFloat(v float32) string { return strconv.FormatFloat(float64(v), 'g', -1, 32) }
