package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Side is the aggressor side of a trade.
type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// ParseSide accepts "Buy"/"Sell" in any letter case, plus "b"/"s".
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(s) {
	case "buy", "b":
		return SideBuy, nil
	case "sell", "s":
		return SideSell, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSide, s)
	}
}

// Trade is a single executed trade. Values are copied, never shared.
type Trade struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Quantity  float64   `json:"quantity"`
	Side      Side      `json:"side"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTrade stamps a trade with a fresh id and the current UTC time.
func NewTrade(symbol string, price, quantity float64, side Side) Trade {
	return Trade{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Price:     price,
		Quantity:  quantity,
		Side:      side,
		Timestamp: time.Now().UTC(),
	}
}

// Validate checks the fields the aggregation engine relies on.
func (t *Trade) Validate() error {
	if t == nil {
		return fmt.Errorf("%w: nil trade", ErrInvalidTrade)
	}
	if t.Symbol == "" {
		return fmt.Errorf("%w: %w", ErrInvalidTrade, ErrInvalidSymbol)
	}
	if !positiveFinite(t.Price) {
		return fmt.Errorf("%w: %w", ErrInvalidTrade, ErrInvalidPrice)
	}
	if !positiveFinite(t.Quantity) {
		return fmt.Errorf("%w: %w", ErrInvalidTrade, ErrInvalidQuantity)
	}
	if t.Side != SideBuy && t.Side != SideSell {
		return fmt.Errorf("%w: %w", ErrInvalidTrade, ErrInvalidSide)
	}
	if t.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp missing", ErrInvalidTrade)
	}
	return nil
}
