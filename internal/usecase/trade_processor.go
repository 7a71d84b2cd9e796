package usecase

import (
	"context"
	"fmt"
	"time"

	"KlineHub/internal/domain/models"
	drepo "KlineHub/internal/domain/repository"
)

// Ingester folds trades into the kline series.
type Ingester interface {
	Ingest(t models.Trade) error
}

// TradePublisher fans trades out to live subscribers, keyed by symbol.
type TradePublisher interface {
	Publish(topic string, msg models.Trade) int
}

// TradeProcessor applies a trade to the kline store and broadcasts it.
type TradeProcessor struct {
	store   Ingester
	bus     TradePublisher
	metrics drepo.Metrics
}

// NewTradeProcessor creates a new TradeProcessor instance.
func NewTradeProcessor(store Ingester, bus TradePublisher, metrics drepo.Metrics) *TradeProcessor {
	return &TradeProcessor{
		store:   store,
		bus:     bus,
		metrics: metrics,
	}
}

// Process ingests a single trade and publishes it to the trade stream.
// A trade the store rejects is not broadcast.
func (p *TradeProcessor) Process(ctx context.Context, t *models.Trade) error {
	if t == nil {
		return fmt.Errorf("trade is nil")
	}

	start := time.Now()
	if err := p.store.Ingest(*t); err != nil {
		p.metrics.RecordError("ingest")
		return fmt.Errorf("process trade: %w", err)
	}

	if n := p.bus.Publish(t.Symbol, *t); n > 0 {
		p.metrics.RecordMessageSent("ws", t.Symbol)
	}
	p.metrics.RecordLastPrice(t.Symbol, t.Price)
	p.metrics.RecordLatency("process", time.Since(start).Seconds())

	return nil
}

// ProcessBatch processes multiple trades in order, stopping at the first
// failure.
func (p *TradeProcessor) ProcessBatch(ctx context.Context, trades []*models.Trade) error {
	for i, t := range trades {
		if err := p.Process(ctx, t); err != nil {
			return fmt.Errorf("process batch at %d: %w", i, err)
		}
	}
	return nil
}
