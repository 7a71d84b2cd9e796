package util

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	assert.True(t, ok)
	assert.Equal(t, s, got.Format(time.RFC3339))

	got, ok = ParseTime("2024-10-10T17:10:10.5+07:00")
	assert.True(t, ok)
	assert.Equal(t, time.UTC, got.Location())
	assert.Equal(t, 500*time.Millisecond, time.Duration(got.Nanosecond()))
}

func TestParseTimeUnix(t *testing.T) {
	want := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)

	got, ok := ParseTime(strconv.FormatInt(want.Unix(), 10))
	assert.True(t, ok)
	assert.True(t, want.Equal(got))

	got, ok = ParseTime(strconv.FormatInt(want.UnixMilli()+250, 10))
	assert.True(t, ok)
	assert.True(t, want.Add(250*time.Millisecond).Equal(got))
}

func TestParseTimeInvalid(t *testing.T) {
	for _, s := range []string{"", "yesterday", "-5", "0"} {
		_, ok := ParseTime(s)
		assert.False(t, ok, s)
	}
}

func TestParseTimeDefault(t *testing.T) {
	def := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	assert.True(t, ParseTimeDefault("", def).Equal(def))
	assert.True(t, ParseTimeDefault("nope", def).Equal(def))
}

func TestAlignFromTo(t *testing.T) {
	from := time.Date(2024, 3, 9, 12, 34, 45, 0, time.UTC)
	to := time.Date(2024, 3, 9, 13, 7, 1, 0, time.UTC)

	f, tt := AlignFromTo(from, to, 15*time.Minute)
	assert.Equal(t, time.Date(2024, 3, 9, 12, 30, 0, 0, time.UTC), f)
	assert.Equal(t, time.Date(2024, 3, 9, 13, 0, 0, 0, time.UTC), tt)

	f, tt = AlignFromTo(time.Time{}, to, time.Hour)
	assert.True(t, f.IsZero())
	assert.Equal(t, time.Date(2024, 3, 9, 13, 0, 0, 0, time.UTC), tt)

	f, _ = AlignFromTo(from, to, 0)
	assert.Equal(t, from, f)
}
