package datanorm

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// =============================================================================
// NUMBERS
// =============================================================================

var currencyTokens = []string{"us$", "r$", "brl", "usd", "eur", "$", "€", "£", "¥"}

var digitsRe = regexp.MustCompile(`^\d*\.?\d+$`)

// ParseNumber reads a localized number. It strips currency symbols,
// percent signs and spaces (including NBSP), treats parentheses as a
// negative sign and scales k / m / mil / mi suffixes. When both '.' and ','
// appear the last one is the decimal separator. A lone separator followed
// by exactly three digits is read as grouping for integer fields; for
// floats a lone ',' or '.' is a decimal separator. ok is false for empty or
// non-numeric input.
func ParseNumber(raw string, integer bool) (decimal.Decimal, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer(" ", "", "\u00a0", "", "\u202f", "", "%", "", "'", "").Replace(s)
	if s == "" {
		return decimal.Zero, false
	}

	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	for _, c := range currencyTokens {
		s = strings.ReplaceAll(s, c, "")
	}
	switch {
	case strings.HasPrefix(s, "-"):
		neg = !neg
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	case strings.HasSuffix(s, "-"):
		neg = !neg
		s = s[:len(s)-1]
	}

	scale := decimal.NewFromInt(1)
	for _, suf := range []struct {
		token string
		mult  int64
	}{{"mil", 1_000}, {"mi", 1_000_000}, {"k", 1_000}, {"m", 1_000_000}, {"b", 1_000_000_000}} {
		if strings.HasSuffix(s, suf.token) && len(s) > len(suf.token) {
			s = strings.TrimSuffix(s, suf.token)
			scale = decimal.NewFromInt(suf.mult)
			// Abbreviated values are rounded displays, so a lone separator is decimal.
			integer = false
			break
		}
	}

	s = normalizeSeparators(s, integer)
	if !digitsRe.MatchString(s) {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	d = d.Mul(scale)
	if neg {
		d = d.Neg()
	}
	return d, true
}

// ErrOutOfRange reports a number too large for its field type.
var ErrOutOfRange = errors.New("value out of range")

var (
	minInt64 = decimal.NewFromInt(math.MinInt64)
	maxInt64 = decimal.NewFromInt(math.MaxInt64)
)

// Int64 rounds d to a whole number. ok is false when the result does not
// fit in an int64.
func Int64(d decimal.Decimal) (int64, bool) {
	r := d.Round(0)
	if r.LessThan(minInt64) || r.GreaterThan(maxInt64) {
		return 0, false
	}
	return r.IntPart(), true
}

func normalizeSeparators(s string, integer bool) string {
	dot, comma := strings.LastIndex(s, "."), strings.LastIndex(s, ",")
	switch {
	case dot >= 0 && comma >= 0:
		if dot > comma {
			return strings.ReplaceAll(s, ",", "")
		}
		s = strings.ReplaceAll(s, ".", "")
		return strings.Replace(s, ",", ".", 1)
	case dot < 0 && comma < 0:
		return s
	}

	sep := ","
	if dot >= 0 {
		sep = "."
	}
	if strings.Count(s, sep) > 1 {
		return strings.ReplaceAll(s, sep, "")
	}
	idx := strings.Index(s, sep)
	head, tail := s[:idx], s[idx+1:]
	if integer && len(tail) == 3 && head != "" && head != "0" {
		return head + tail
	}
	return head + "." + tail
}

// =============================================================================
// DATES
// =============================================================================

var canonicalDateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// dateLayouts accept one- or two-digit day and month. Slash, dash and dot
// dates are always day-first: "01/03/2024" is the 1st of March.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05 -0700",
	"2006-1-2",
	"2006/1/2",
	"2/1/2006",
	"2/1/2006 15:04",
	"2/1/2006 15:04:05",
	"2/1/2006, 15:04",
	"2/1/2006 3:04 PM",
	"2-1-2006",
	"2-1-2006 15:04",
	"2.1.2006",
}

var ErrInvalidDate = errors.New("invalid date")

// IsCanonicalDate reports whether s is a valid YYYY-MM-DD calendar date.
func IsCanonicalDate(s string) bool {
	if !canonicalDateRe.MatchString(s) {
		return false
	}
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

// ParseDate resolves DD/MM/YYYY, YYYY-MM-DD and ISO-with-time strings to
// YYYY-MM-DD. Excel serial numbers are accepted only when the value came
// from a spreadsheet grid. Calendar-impossible dates such as 31/02/2024
// fail. Canonical input is returned unchanged.
func ParseDate(raw string, spreadsheet bool) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDate)
	}
	if IsCanonicalDate(s) {
		return s, nil
	}
	if spreadsheet {
		if serial, err := strconv.ParseFloat(s, 64); err == nil && serial > 0 && serial < 2958466 {
			t, err := excelize.ExcelDateToTime(serial, false)
			if err == nil {
				return t.Format("2006-01-02"), nil
			}
		}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDate, raw)
}

// =============================================================================
// DURATIONS
// =============================================================================

// ParseDuration converts HH:MM:SS, MM:SS or raw seconds to whole seconds.
// ok is false for malformed input and for totals beyond int64 seconds.
func ParseDuration(raw string) (int64, bool) {
	secs, err := parseDuration(raw)
	return secs, err == nil
}

var errInvalidDuration = errors.New("invalid duration")

func parseDuration(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, errInvalidDuration
	}
	if !strings.Contains(s, ":") {
		d, ok := ParseNumber(s, false)
		if !ok {
			return 0, errInvalidDuration
		}
		return durationSeconds(d)
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, errInvalidDuration
	}
	var total decimal.Decimal
	for i, p := range parts {
		p = strings.TrimSpace(p)
		last := i == len(parts)-1
		if p == "" || (!last && strings.ContainsAny(p, ".,")) {
			return 0, errInvalidDuration
		}
		d, ok := ParseNumber(p, false)
		if !ok || d.IsNegative() {
			return 0, errInvalidDuration
		}
		if !last && i > 0 && d.GreaterThanOrEqual(decimal.NewFromInt(60)) {
			return 0, errInvalidDuration
		}
		unit := int64(1)
		switch len(parts) - 1 - i {
		case 1:
			unit = 60
		case 2:
			unit = 3600
		}
		total = total.Add(d.Mul(decimal.NewFromInt(unit)))
	}
	return durationSeconds(total)
}

func durationSeconds(d decimal.Decimal) (int64, error) {
	secs, ok := Int64(d)
	if !ok {
		return 0, ErrOutOfRange
	}
	return secs, nil
}
