package usecase

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"KlineHub/internal/domain/models"
	drepo "KlineHub/internal/domain/repository"
)

const (
	// DefaultHistoryCapacity is the number of closed bars kept per series.
	DefaultHistoryCapacity = 1000
	// DefaultQueryLimit is used when a query does not ask for a positive limit.
	DefaultQueryLimit = 100
	// MaxQueryLimit caps the number of closed bars a query returns.
	MaxQueryLimit = 1000
)

// EffectiveLimit applies the query limit policy: non-positive means default,
// anything above the cap is clamped.
func EffectiveLimit(limit int) int {
	if limit <= 0 {
		return DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}

// BarHook observes bar changes. Hooks run while the series is locked and
// must return quickly without blocking.
type BarHook func(models.Bar)

type KlineStoreOption func(*KlineStore)

// WithHistoryCapacity overrides the per-series closed bar capacity.
func WithHistoryCapacity(n int) KlineStoreOption {
	return func(s *KlineStore) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithOnBarUpdate registers a hook called with the current bar after every applied trade.
func WithOnBarUpdate(h BarHook) KlineStoreOption {
	return func(s *KlineStore) {
		if h != nil {
			s.onUpdate = append(s.onUpdate, h)
		}
	}
}

// WithOnBarSealed registers a hook called with every bar moved into history.
func WithOnBarSealed(h BarHook) KlineStoreOption {
	return func(s *KlineStore) {
		if h != nil {
			s.onSealed = append(s.onSealed, h)
		}
	}
}

// WithStoreMetrics attaches a metrics recorder.
func WithStoreMetrics(m drepo.Metrics) KlineStoreOption {
	return func(s *KlineStore) { s.metrics = m }
}

// KlineStore aggregates trades into OHLCV bars for every supported interval.
//
// Each (symbol, interval) series has its own mutex that serializes writers.
// After every mutation the writer publishes an immutable snapshot through an
// atomic pointer, so readers never take the lock and never wait on ingest.
type KlineStore struct {
	books    sync.Map // symbol -> *book
	capacity int
	onUpdate []BarHook
	onSealed []BarHook
	metrics  drepo.Metrics
}

// NewKlineStore creates an empty store.
func NewKlineStore(opts ...KlineStoreOption) *KlineStore {
	s := &KlineStore{capacity: DefaultHistoryCapacity}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type book struct {
	series [models.NumIntervals]*series
}

type series struct {
	mu       sync.Mutex
	symbol   string
	interval models.Interval

	// hist is only appended to or resliced from the front, so earlier
	// snapshots that alias its backing array stay valid.
	hist   []models.Bar
	cur    models.Bar
	hasCur bool

	view atomic.Pointer[seriesView]
}

type seriesView struct {
	closed     []models.Bar
	current    models.Bar
	hasCurrent bool
}

func newBook(symbol string) *book {
	b := &book{}
	for _, iv := range models.Intervals() {
		b.series[iv] = &series{symbol: symbol, interval: iv}
	}
	return b
}

// Ingest applies the trade to the current bar of every interval for its symbol.
func (s *KlineStore) Ingest(t models.Trade) error {
	if err := t.Validate(); err != nil {
		return err
	}

	b := s.bookFor(t.Symbol)
	for _, iv := range models.Intervals() {
		if err := s.apply(b.series[iv], t); err != nil {
			return fmt.Errorf("ingest %s@%s: %w", t.Symbol, iv, err)
		}
	}
	if s.metrics != nil {
		s.metrics.RecordTradeIngested(t.Symbol)
	}
	return nil
}

// bookFor returns the book for symbol, creating it on first use. When two
// goroutines race, LoadOrStore picks one winner and both use it.
func (s *KlineStore) bookFor(symbol string) *book {
	if v, ok := s.books.Load(symbol); ok {
		return v.(*book)
	}
	v, _ := s.books.LoadOrStore(symbol, newBook(symbol))
	return v.(*book)
}

func (s *KlineStore) apply(sr *series, t models.Trade) error {
	start := sr.interval.WindowStart(t.Timestamp)

	sr.mu.Lock()
	defer sr.mu.Unlock()

	if !sr.hasCur || !sr.cur.Timestamp.Equal(start) {
		if sr.hasCur {
			sealed := s.seal(sr)
			for _, h := range s.onSealed {
				h(sealed)
			}
		}
		sr.cur = models.NewBar(start, sr.symbol, sr.interval)
		sr.hasCur = true
	}

	if err := sr.cur.Apply(t.Price, t.Quantity); err != nil {
		return err
	}

	sr.view.Store(&seriesView{
		closed:     sr.hist[:len(sr.hist):len(sr.hist)],
		current:    sr.cur,
		hasCurrent: true,
	})

	for _, h := range s.onUpdate {
		h(sr.cur)
	}
	return nil
}

// seal moves the current bar into history. Caller holds sr.mu.
func (s *KlineStore) seal(sr *series) models.Bar {
	if !sr.hasCur {
		panic(fmt.Sprintf("kline: seal %s@%s without a current bar", sr.symbol, sr.interval))
	}
	if sr.cur.IsEmpty() {
		panic(fmt.Sprintf("kline: seal %s@%s with an empty bar", sr.symbol, sr.interval))
	}

	sealed := sr.cur
	sr.hist = append(sr.hist, sealed)
	if over := len(sr.hist) - s.capacity; over > 0 {
		sr.hist = sr.hist[over:]
	}
	sr.hasCur = false

	if s.metrics != nil {
		s.metrics.RecordBarSealed(sealed.Symbol, sealed.Interval)
	}
	return sealed
}

// Query returns up to EffectiveLimit(limit) most recent closed bars, oldest
// first, followed by the in-progress bar. Unknown series yield an empty slice.
// Window starts are strictly increasing only when trades arrived in time
// order; a late trade reopens its older window and can repeat a start.
func (s *KlineStore) Query(symbol string, interval models.Interval, limit int) []models.Bar {
	if !interval.Valid() {
		return []models.Bar{}
	}
	v, ok := s.books.Load(symbol)
	if !ok {
		return []models.Bar{}
	}
	view := v.(*book).series[interval].view.Load()
	if view == nil {
		return []models.Bar{}
	}

	closed := view.closed
	if n := EffectiveLimit(limit); len(closed) > n {
		closed = closed[len(closed)-n:]
	}

	out := make([]models.Bar, 0, len(closed)+1)
	out = append(out, closed...)
	if view.hasCurrent {
		out = append(out, view.current)
	}
	return out
}

// Symbols lists every symbol that has received at least one trade.
func (s *KlineStore) Symbols() []string {
	out := make([]string, 0)
	s.books.Range(func(k, _ any) bool {
		out = append(out, k.(string))
		return true
	})
	sort.Strings(out)
	return out
}
