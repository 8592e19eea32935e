package datanorm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNumber(t *testing.T) {
	tests := []struct {
		raw     string
		integer bool
		want    string
		ok      bool
	}{
		{"1200", true, "1200", true},
		{"1.200", true, "1200", true},
		{"1,200", true, "1200", true},
		{"1.200", false, "1.2", true},
		{"1,5", false, "1.5", true},
		{"1.234.567", true, "1234567", true},
		{"1.234,56", false, "1234.56", true},
		{"1,234.56", false, "1234.56", true},
		{"R$ 1.234,56", false, "1234.56", true},
		{"US$1,234.56", false, "1234.56", true},
		{"12,5%", false, "12.5", true},
		{"(150)", true, "-150", true},
		{"-42", true, "-42", true},
		{"50-", true, "-50", true},
		{"1 200", true, "1200", true},
		{" 1200", true, "1200", true},
		{"1,2k", true, "1200", true},
		{"3.4 mil", true, "3400", true},
		{"2mi", true, "2000000", true},
		{"1.5M", true, "1500000", true},
		{"", true, "0", false},
		{"-", true, "0", false},
		{"n/a", true, "0", false},
		{"12abc", true, "0", false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := ParseNumber(tt.raw, tt.integer)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		raw         string
		spreadsheet bool
		want        string
	}{
		{"2024-03-01", false, "2024-03-01"},
		{"01/03/2024", false, "2024-03-01"},
		{"1/3/2024", false, "2024-03-01"},
		{"01-03-2024", false, "2024-03-01"},
		{"01.03.2024", false, "2024-03-01"},
		{"2024/03/01", false, "2024-03-01"},
		{"2024-3-1", false, "2024-03-01"},
		{"2024-03-01T10:30:00Z", false, "2024-03-01"},
		{"2024-03-01T10:30:00-03:00", false, "2024-03-01"},
		{"2024-03-01 10:30:00", false, "2024-03-01"},
		{"01/03/2024 10:30", false, "2024-03-01"},
		{"45352", true, "2024-03-01"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseDate(tt.raw, tt.spreadsheet)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, IsCanonicalDate(got))
		})
	}
}

func TestParseDateInvalid(t *testing.T) {
	for _, raw := range []string{"", "31/02/2024", "13/25/2024", "2024-02-30", "yesterday", "45352"} {
		t.Run(raw, func(t *testing.T) {
			_, err := ParseDate(raw, false)
			assert.True(t, errors.Is(err, ErrInvalidDate), "got %v", err)
		})
	}
}

func TestIsCanonicalDate(t *testing.T) {
	assert.True(t, IsCanonicalDate("2024-02-29"))
	assert.False(t, IsCanonicalDate("2023-02-29"))
	assert.False(t, IsCanonicalDate("2024-3-1"))
	assert.False(t, IsCanonicalDate("01/03/2024"))
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		raw  string
		want int64
		ok   bool
	}{
		{"1:02:03", 3723, true},
		{"02:30", 150, true},
		{"95", 95, true},
		{"12,6", 13, true},
		{"0:60:00", 0, false},
		{"1:2:3:4", 0, false},
		{"", 0, false},
		{"1:xx", 0, false},
		{"99999999999999999999999", 0, false},
		{"9999999999999999:00:00", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := ParseDuration(tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInt64(t *testing.T) {
	d, ok := ParseNumber("99999999999999999999999", true)
	require.True(t, ok, "huge integers still parse as decimals")
	_, fits := Int64(d)
	assert.False(t, fits)

	d, ok = ParseNumber("-9.223.372.036.854.775.808", true)
	require.True(t, ok)
	n, fits := Int64(d)
	assert.True(t, fits)
	assert.Equal(t, int64(-9223372036854775808), n)

	d, _ = ParseNumber("9223372036854775808", true)
	_, fits = Int64(d)
	assert.False(t, fits, "one past the largest int64")

	d, _ = ParseNumber("1,5k", true)
	n, fits = Int64(d)
	assert.True(t, fits)
	assert.Equal(t, int64(1500), n)
}

func TestParseDurationOutOfRange(t *testing.T) {
	_, err := parseDuration("99999999999999999999999")
	assert.True(t, errors.Is(err, ErrOutOfRange))

	_, err = parseDuration("1:xx")
	assert.True(t, errors.Is(err, errInvalidDuration))
}
