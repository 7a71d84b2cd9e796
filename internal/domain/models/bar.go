package models

import (
	"math"
	"time"
)

// Bar is one OHLCV aggregate for a (symbol, interval, window) triple.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Symbol    string    `json:"symbol"`
	Interval  string    `json:"interval"`
}

// NewBar returns an empty bar for the window. Low starts at +Inf so the first
// applied price always becomes the low.
func NewBar(windowStart time.Time, symbol string, interval Interval) Bar {
	return Bar{
		Timestamp: windowStart,
		Low:       math.Inf(1),
		Symbol:    symbol,
		Interval:  interval.String(),
	}
}

// IsEmpty reports whether no trade has been applied yet.
func (b *Bar) IsEmpty() bool {
	return math.IsInf(b.Low, 1)
}

// Apply folds one trade into the bar. Invalid input leaves the bar untouched.
func (b *Bar) Apply(price, quantity float64) error {
	if !positiveFinite(price) {
		return ErrInvalidPrice
	}
	if !positiveFinite(quantity) {
		return ErrInvalidQuantity
	}

	if b.IsEmpty() {
		b.Open = price
	}
	if price > b.High {
		b.High = price
	}
	if price < b.Low {
		b.Low = price
	}
	b.Close = price
	b.Volume += quantity
	return nil
}

// Key returns the "symbol@interval" key used for bar topics and caches.
func (b *Bar) Key() string {
	return SeriesKey(b.Symbol, b.Interval)
}

// SeriesKey joins a symbol and interval name.
func SeriesKey(symbol, interval string) string {
	return symbol + "@" + interval
}

// KlineResponse is the payload returned for kline queries.
type KlineResponse struct {
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
	Data     []Bar  `json:"data"`
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
