package usecase

import (
	"context"
	"sync"
	"time"

	"KlineHub/internal/domain/models"
	drepo "KlineHub/internal/domain/repository"
	"KlineHub/pkg/logger"
)

type barSink struct {
	name  string
	write func(ctx context.Context, bars []models.Bar) error
}

type ArchiverOption func(*BarArchiver)

// WithBarStorage archives sealed bars in a database.
func WithBarStorage(s drepo.BarStorage) ArchiverOption {
	return func(a *BarArchiver) {
		if s != nil {
			a.sinks = append(a.sinks, barSink{name: "clickhouse", write: s.StoreBars})
		}
	}
}

// WithBarPublisher ships sealed bars to a broker.
func WithBarPublisher(p drepo.BarPublisher) ArchiverOption {
	return func(a *BarArchiver) {
		if p != nil {
			a.sinks = append(a.sinks, barSink{name: "kafka", write: p.PublishBars})
		}
	}
}

// WithBarMirror keeps the last sealed bar per series in a cache.
func WithBarMirror(m drepo.BarMirror) ArchiverOption {
	return func(a *BarArchiver) {
		if m != nil {
			a.sinks = append(a.sinks, barSink{name: "redis", write: m.SaveLast})
		}
	}
}

// WithArchiveBatch sets the flush size and the maximum time a bar waits.
func WithArchiveBatch(size int, timeout time.Duration) ArchiverOption {
	return func(a *BarArchiver) {
		if size > 0 {
			a.batchSize = size
		}
		if timeout > 0 {
			a.batchTimeout = timeout
		}
	}
}

// WithArchiveQueueSize bounds the number of bars waiting to be flushed.
func WithArchiveQueueSize(n int) ArchiverOption {
	return func(a *BarArchiver) {
		if n > 0 {
			a.queueSize = n
		}
	}
}

// WithArchiverLogger sets the logger.
func WithArchiverLogger(l *logger.Logger) ArchiverOption {
	return func(a *BarArchiver) {
		if l != nil {
			a.logger = l
		}
	}
}

// BarArchiver batches sealed bars off the ingest path and writes them to
// every configured sink. Enqueue never blocks; a full queue drops the bar.
type BarArchiver struct {
	sinks        []barSink
	metrics      drepo.Metrics
	logger       *logger.Logger
	batchSize    int
	batchTimeout time.Duration
	queueSize    int
	flushTimeout time.Duration

	queue chan models.Bar
	quit  chan struct{}
	done  chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewBarArchiver creates an archiver. It does nothing until Start is called.
func NewBarArchiver(metrics drepo.Metrics, opts ...ArchiverOption) *BarArchiver {
	a := &BarArchiver{
		metrics:      metrics,
		logger:       logger.NewNop(),
		batchSize:    500,
		batchTimeout: 2 * time.Second,
		queueSize:    10000,
		flushTimeout: 10 * time.Second,
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.queue = make(chan models.Bar, a.queueSize)
	return a
}

// Enabled reports whether any sink is configured.
func (a *BarArchiver) Enabled() bool { return len(a.sinks) > 0 }

// Enqueue schedules a sealed bar for archiving. It is safe to call from the
// kline store's seal hook.
func (a *BarArchiver) Enqueue(bar models.Bar) {
	if !a.Enabled() {
		return
	}
	select {
	case <-a.quit:
		a.metrics.RecordDropped("archive_stopped")
		return
	default:
	}
	select {
	case a.queue <- bar:
	default:
		a.metrics.RecordDropped("archive_queue")
	}
}

// Start launches the batching loop.
func (a *BarArchiver) Start() {
	a.startOnce.Do(func() { go a.loop() })
}

func (a *BarArchiver) loop() {
	defer close(a.done)

	batch := make([]models.Bar, 0, a.batchSize)
	ticker := time.NewTicker(a.batchTimeout)
	defer ticker.Stop()

	for {
		select {
		case bar := <-a.queue:
			batch = append(batch, bar)
			if len(batch) >= a.batchSize {
				a.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				a.flush(batch)
				batch = batch[:0]
			}
		case <-a.quit:
			for {
				select {
				case bar := <-a.queue:
					batch = append(batch, bar)
					if len(batch) >= a.batchSize {
						a.flush(batch)
						batch = batch[:0]
					}
				default:
					if len(batch) > 0 {
						a.flush(batch)
					}
					return
				}
			}
		}
	}
}

func (a *BarArchiver) flush(batch []models.Bar) {
	ctx, cancel := context.WithTimeout(context.Background(), a.flushTimeout)
	defer cancel()

	for _, s := range a.sinks {
		start := time.Now()
		if err := s.write(ctx, batch); err != nil {
			a.metrics.RecordError("archive_" + s.name)
			a.logger.Error("archiver: flush failed",
				logger.String("sink", s.name), logger.Int("bars", len(batch)), logger.Error(err))
			continue
		}
		for i := range batch {
			a.metrics.RecordMessageSent(s.name, batch[i].Symbol)
		}
		a.metrics.RecordLatency("archive_"+s.name, time.Since(start).Seconds())
	}
}

// Stop flushes whatever is queued and waits for the loop to exit.
func (a *BarArchiver) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() { close(a.quit) })
	// never started: nothing to drain, and Start becomes a no-op
	a.startOnce.Do(func() { close(a.done) })

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
