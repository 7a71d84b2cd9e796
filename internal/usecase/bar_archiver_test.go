package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"KlineHub/internal/domain/models"
)

type recordingSink struct {
	mu      sync.Mutex
	batches [][]models.Bar
	err     error
	block   chan struct{}
}

func (s *recordingSink) write(ctx context.Context, bars []models.Bar) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]models.Bar(nil), bars...))
	return s.err
}

func (s *recordingSink) StoreBars(ctx context.Context, bars []models.Bar) error {
	return s.write(ctx, bars)
}
func (s *recordingSink) PublishBars(ctx context.Context, bars []models.Bar) error {
	return s.write(ctx, bars)
}
func (s *recordingSink) SaveLast(ctx context.Context, bars []models.Bar) error {
	return s.write(ctx, bars)
}
func (s *recordingSink) LoadLast(context.Context, string, []string) (map[string]models.Bar, error) {
	return nil, nil
}
func (s *recordingSink) Init(context.Context) error   { return nil }
func (s *recordingSink) Health(context.Context) error { return nil }
func (s *recordingSink) Close() error                 { return nil }
func (s *recordingSink) QueryBars(context.Context, string, string, time.Time, time.Time, int) ([]models.Bar, error) {
	return nil, nil
}

func (s *recordingSink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func (s *recordingSink) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func sealedBar(symbol string, minute int) models.Bar {
	b := models.NewBar(at(10, minute, 0), symbol, models.Interval1m)
	_ = b.Apply(1, 1)
	return b
}

func Test_BarArchiver_FlushesOnBatchSize(t *testing.T) {
	sink := &recordingSink{}
	a := NewBarArchiver(looseMetrics(), WithBarStorage(sink), WithArchiveBatch(3, time.Hour))
	a.Start()

	for i := 0; i < 7; i++ {
		a.Enqueue(sealedBar("DOGE", i))
	}
	assert.Eventually(t, func() bool { return sink.total() == 6 }, time.Second, time.Millisecond)
	assert.Equal(t, 2, sink.batchCount())

	require.NoError(t, a.Stop(context.Background()))
	assert.Equal(t, 7, sink.total(), "stop flushes the partial batch")
}

func Test_BarArchiver_FlushesOnTimeout(t *testing.T) {
	sink := &recordingSink{}
	a := NewBarArchiver(looseMetrics(), WithBarPublisher(sink), WithArchiveBatch(100, 10*time.Millisecond))
	a.Start()
	defer a.Stop(context.Background())

	a.Enqueue(sealedBar("PEPE", 1))
	assert.Eventually(t, func() bool { return sink.total() == 1 }, time.Second, time.Millisecond)
}

func Test_BarArchiver_WritesEverySink(t *testing.T) {
	db, broker, cache := &recordingSink{}, &recordingSink{}, &recordingSink{}
	metrics := looseMetrics()
	a := NewBarArchiver(metrics,
		WithBarStorage(db), WithBarPublisher(broker), WithBarMirror(cache),
		WithArchiveBatch(2, time.Hour))
	a.Start()

	a.Enqueue(sealedBar("SHIB", 1))
	a.Enqueue(sealedBar("SHIB", 2))
	require.NoError(t, a.Stop(context.Background()))

	for _, s := range []*recordingSink{db, broker, cache} {
		assert.Equal(t, 2, s.total())
	}
	metrics.AssertCalled(t, "RecordMessageSent", "clickhouse", "SHIB")
	metrics.AssertCalled(t, "RecordMessageSent", "kafka", "SHIB")
	metrics.AssertCalled(t, "RecordMessageSent", "redis", "SHIB")
}

func Test_BarArchiver_SinkFailureDoesNotBlockOthers(t *testing.T) {
	bad := &recordingSink{err: errors.New("clickhouse down")}
	good := &recordingSink{}
	metrics := looseMetrics()
	a := NewBarArchiver(metrics, WithBarStorage(bad), WithBarPublisher(good), WithArchiveBatch(1, time.Hour))
	a.Start()

	a.Enqueue(sealedBar("FLOKI", 1))
	require.NoError(t, a.Stop(context.Background()))

	assert.Equal(t, 1, good.total())
	metrics.AssertCalled(t, "RecordError", "archive_clickhouse")
	metrics.AssertNotCalled(t, "RecordMessageSent", "clickhouse", mock.Anything)
}

func Test_BarArchiver_DropsWhenQueueFull(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	metrics := looseMetrics()
	a := NewBarArchiver(metrics, WithBarStorage(sink), WithArchiveBatch(1, time.Hour), WithArchiveQueueSize(2))
	a.Start()

	// the first bar is taken by the loop and blocks in the sink
	a.Enqueue(sealedBar("DOGE", 0))
	assert.Eventually(t, func() bool { return len(a.queue) == 0 }, time.Second, time.Millisecond)

	for i := 1; i <= 4; i++ {
		a.Enqueue(sealedBar("DOGE", i))
	}
	metrics.AssertNumberOfCalls(t, "RecordDropped", 2)

	close(sink.block)
	require.NoError(t, a.Stop(context.Background()))
	assert.Equal(t, 3, sink.total())
}

func Test_BarArchiver_DisabledAndStopped(t *testing.T) {
	metrics := looseMetrics()
	idle := NewBarArchiver(metrics)
	assert.False(t, idle.Enabled())
	idle.Enqueue(sealedBar("DOGE", 0))
	assert.Zero(t, len(idle.queue))
	require.NoError(t, idle.Stop(context.Background()), "stop without start must not hang")

	sink := &recordingSink{}
	a := NewBarArchiver(metrics, WithBarStorage(sink))
	a.Start()
	require.NoError(t, a.Stop(context.Background()))
	require.NoError(t, a.Stop(context.Background()))

	a.Enqueue(sealedBar("DOGE", 1))
	metrics.AssertCalled(t, "RecordDropped", "archive_stopped")
	assert.Zero(t, sink.total())
}

func Test_BarArchiver_StopHonoursContext(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	a := NewBarArchiver(looseMetrics(), WithBarStorage(sink), WithArchiveBatch(1, time.Hour))
	a.Start()
	a.Enqueue(sealedBar("DOGE", 0))
	assert.Eventually(t, func() bool { return len(a.queue) == 0 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, a.Stop(ctx), context.DeadlineExceeded)
	close(sink.block)
}

func Test_BarArchiver_WiredToStoreSealHook(t *testing.T) {
	sink := &recordingSink{}
	a := NewBarArchiver(looseMetrics(), WithBarStorage(sink), WithArchiveBatch(10, time.Hour))
	a.Start()

	store := NewKlineStore(WithOnBarSealed(a.Enqueue))
	require.NoError(t, store.Ingest(trade("DOGE", at(12, 34, 45), 10, 1)))
	require.NoError(t, store.Ingest(trade("DOGE", at(12, 35, 5), 9, 1)))
	require.NoError(t, a.Stop(context.Background()))

	// 12:34:45 -> 12:35:05 crosses the 1s, 1m and 5m boundaries
	require.Equal(t, 3, sink.total())
	var intervals []string
	for _, batch := range sink.batches {
		for _, b := range batch {
			intervals = append(intervals, b.Interval)
		}
	}
	assert.ElementsMatch(t, []string{"1s", "1m", "5m"}, intervals)
}
