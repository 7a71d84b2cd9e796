package models

import (
	"fmt"
	"time"
)

// Interval is the width of a kline bucketing window.
type Interval uint8

const (
	Interval1s Interval = iota
	Interval1m
	Interval5m
	Interval15m
	Interval1h

	intervalCount
)

// NumIntervals is the size of the supported interval set.
const NumIntervals = int(intervalCount)

var intervalNames = [NumIntervals]string{"1s", "1m", "5m", "15m", "1h"}

var intervalSeconds = [NumIntervals]int64{1, 60, 5 * 60, 15 * 60, 60 * 60}

// DefaultInterval is used by the query layer when the caller omits one.
const DefaultInterval = Interval1m

// Intervals returns the supported intervals, shortest first.
func Intervals() []Interval {
	return []Interval{Interval1s, Interval1m, Interval5m, Interval15m, Interval1h}
}

// IntervalNames returns the accepted interval names in the order of Intervals.
func IntervalNames() []string {
	names := make([]string, NumIntervals)
	copy(names, intervalNames[:])
	return names
}

// ParseInterval maps a name such as "5m" to its Interval.
// Unknown names are rejected, never coerced.
func ParseInterval(name string) (Interval, error) {
	for i, n := range intervalNames {
		if n == name {
			return Interval(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidInterval, name)
}

// Valid reports whether i is one of the supported intervals.
func (i Interval) Valid() bool { return i < intervalCount }

func (i Interval) String() string {
	if !i.Valid() {
		return fmt.Sprintf("Interval(%d)", uint8(i))
	}
	return intervalNames[i]
}

// Seconds returns the window width in seconds.
func (i Interval) Seconds() int64 {
	return intervalSeconds[i]
}

// Duration returns the window width.
func (i Interval) Duration() time.Duration {
	return time.Duration(intervalSeconds[i]) * time.Second
}

// WindowStart floors t to the start of its window. Epoch seconds are divided
// with floor semantics, so instants before 1970 align downwards as well.
func (i Interval) WindowStart(t time.Time) time.Time {
	d := intervalSeconds[i]
	s := t.Unix()
	q := s / d
	if s%d < 0 {
		q--
	}
	return time.Unix(q*d, 0).UTC()
}

// MarshalText renders the interval by name.
func (i Interval) MarshalText() ([]byte, error) {
	if !i.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidInterval, uint8(i))
	}
	return []byte(intervalNames[i]), nil
}

// UnmarshalText parses an interval name.
func (i *Interval) UnmarshalText(b []byte) error {
	v, err := ParseInterval(string(b))
	if err != nil {
		return err
	}
	*i = v
	return nil
}
