package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"KlineHub/internal/domain/models"
	drepo "KlineHub/internal/domain/repository"
	mid "KlineHub/internal/middleware"
	"KlineHub/pkg/logger"
)

var errStreamClosed = errors.New("market stream closed")

// TradeCollector collects trades from market stream and processes them.
type TradeCollector struct {
	stream         drepo.MarketStream
	pipe           mid.Proc
	metrics        drepo.Metrics
	logger         *logger.Logger
	reconnectDelay time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTradeCollector creates a new TradeCollector instance. pipe is usually a
// RealtimePipeline wrapping the TradeProcessor.
func NewTradeCollector(stream drepo.MarketStream, pipe mid.Proc, metrics drepo.Metrics, l *logger.Logger, reconnectDelay time.Duration) *TradeCollector {
	if l == nil {
		l = logger.NewNop()
	}
	if reconnectDelay <= 0 {
		reconnectDelay = 5 * time.Second
	}
	return &TradeCollector{
		stream:         stream,
		pipe:           pipe,
		metrics:        metrics,
		logger:         l,
		reconnectDelay: reconnectDelay,
	}
}

// IsConnected returns true if the market stream is connected.
func (c *TradeCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

// Start connects and subscribes, then consumes the stream in the background
// until ctx is done or Shutdown is called. Stream failures trigger a
// reconnect after the configured delay.
func (c *TradeCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		_ = c.stream.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.run(runCtx)
	}()
	return nil
}

func (c *TradeCollector) run(ctx context.Context) {
	for {
		err := c.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		c.metrics.RecordError("stream")
		c.logger.Warn("collector: stream interrupted, reconnecting",
			logger.Error(err), logger.Duration("delay_ms", c.reconnectDelay))

		for {
			if !sleepCtx(ctx, c.reconnectDelay) {
				return
			}
			if err := c.stream.Reconnect(ctx); err != nil {
				c.metrics.RecordError("reconnect")
				c.logger.Error("collector: reconnect failed", logger.Error(err))
				continue
			}
			c.logger.Info("collector: reconnected")
			break
		}
	}
}

// consume reads one stream session until it fails or ends.
func (c *TradeCollector) consume(ctx context.Context) error {
	trCh, errCh := c.stream.Read(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return err
			}
		case t, ok := <-trCh:
			if !ok {
				select {
				case err := <-errCh:
					if err != nil {
						return err
					}
				default:
				}
				return errStreamClosed
			}
			c.handle(ctx, t)
		}
	}
}

func (c *TradeCollector) handle(ctx context.Context, t *models.Trade) {
	if t == nil {
		return
	}
	if err := c.pipe.Process(ctx, t); err != nil {
		c.logger.Debug("collector: trade rejected",
			logger.String("symbol", t.Symbol), logger.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Shutdown stops the consume loop and closes the stream.
func (c *TradeCollector) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			_ = c.stream.Close()
			return ctx.Err()
		}
	}
	return c.stream.Close()
}
