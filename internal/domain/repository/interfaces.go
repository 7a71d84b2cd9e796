package repository

import (
	"context"
	"time"

	"KlineHub/internal/domain/models"
)

// MarketStream is a source of trade events.
type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Trade, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// BarPublisher ships closed bars to a message broker.
type BarPublisher interface {
	PublishBars(ctx context.Context, bars []models.Bar) error
	Close() error
}

// BarStorage archives closed bars and serves range reads over the archive.
type BarStorage interface {
	Init(ctx context.Context) error
	StoreBars(ctx context.Context, bars []models.Bar) error
	QueryBars(ctx context.Context, symbol, interval string, from, to time.Time, limit int) ([]models.Bar, error)
	Health(ctx context.Context) error
	Close() error
}

// BarMirror keeps the latest closed bar per series in a shared cache.
type BarMirror interface {
	SaveLast(ctx context.Context, bars []models.Bar) error
	// LoadLast returns the cached bars keyed by interval name. Missing
	// intervals are absent from the map.
	LoadLast(ctx context.Context, symbol string, intervals []string) (map[string]models.Bar, error)
}

type Metrics interface {
	RecordTradeIngested(symbol string)
	RecordBarSealed(symbol, interval string)
	RecordMessageSent(backend, symbol string)
	RecordDropped(kind string)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
}
