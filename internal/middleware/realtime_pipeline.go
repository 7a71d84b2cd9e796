package middleware

import (
	"context"
	"fmt"
	"strings"
	"time"

	"KlineHub/internal/domain/models"
	domrepo "KlineHub/internal/domain/repository"
	"KlineHub/internal/service/ratelimit"
)

// Proc is the minimal processor interface the pipeline needs.
type Proc interface {
	Process(ctx context.Context, t *models.Trade) error
}

// RealtimePipeline sits between a market stream and the trade processor.
// It validates, optionally transforms and throttles trades per symbol.
type RealtimePipeline struct {
	proc    Proc
	metrics domrepo.Metrics
	limiter *ratelimit.Limiter
	maxRPS  float64
	burst   float64
	// simple format transform hook (optional)
	transform func(*models.Trade) *models.Trade
}

type PipelineOption func(*RealtimePipeline)

// WithRateLimit throttles each symbol to maxRPS trades per second with the
// given burst. maxRPS <= 0 disables throttling; burst <= 0 defaults to maxRPS
// and is never below one token.
func WithRateLimit(l *ratelimit.Limiter, maxRPS, burst float64) PipelineOption {
	return func(p *RealtimePipeline) {
		if maxRPS <= 0 || l == nil {
			return
		}
		if burst <= 0 {
			burst = maxRPS
		}
		if burst < 1 {
			burst = 1
		}
		p.limiter = l
		p.maxRPS = maxRPS
		p.burst = burst
	}
}

// WithTransform sets a transformation hook to modify trade format.
func WithTransform(fn func(*models.Trade) *models.Trade) PipelineOption {
	return func(p *RealtimePipeline) { p.transform = fn }
}

// NormalizeSymbol trims and upper-cases the trade symbol so external feeds
// land on the same series as configured symbols.
func NormalizeSymbol(t *models.Trade) *models.Trade {
	sym := strings.ToUpper(strings.TrimSpace(t.Symbol))
	if sym == t.Symbol {
		return t
	}
	out := *t
	out.Symbol = sym
	return &out
}

// NewRealtimePipeline creates a new pipeline.
func NewRealtimePipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *RealtimePipeline {
	p := &RealtimePipeline{
		proc:    proc,
		metrics: metrics,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process validates, throttles, and forwards a trade downstream.
// Throttled trades are dropped without error.
func (p *RealtimePipeline) Process(ctx context.Context, t *models.Trade) error {
	start := time.Now()
	if err := t.Validate(); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if p.transform != nil {
		t = p.transform(t)
		if err := t.Validate(); err != nil {
			p.metrics.RecordError("pipeline_transform_invalid")
			return err
		}
	}
	if p.limiter != nil && !p.limiter.Allow(t.Symbol, p.burst, p.maxRPS) {
		p.metrics.RecordDropped("pipeline_throttle")
		return nil
	}

	if err := p.proc.Process(ctx, t); err != nil {
		p.metrics.RecordError("pipeline_process")
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return nil
}
