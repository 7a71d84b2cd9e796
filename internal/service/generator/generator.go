package generator

import (
	"context"
	"errors"
	"math/rand/v2"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"KlineHub/internal/domain/models"
	drepo "KlineHub/internal/domain/repository"
	"KlineHub/pkg/logger"
)

var ErrNotConnected = errors.New("generator: not connected")

// Option configures a Generator.
type Option func(*Generator)

// WithTickInterval sets how often a trade is emitted.
func WithTickInterval(d time.Duration) Option {
	return func(g *Generator) {
		if d > 0 {
			g.tick = d
		}
	}
}

// WithBasePrices sets the symbols and their reference prices.
func WithBasePrices(prices map[string]float64) Option {
	return func(g *Generator) {
		if len(prices) > 0 {
			g.basePrices = prices
		}
	}
}

// WithMaxMovePct bounds the random deviation from the base price, in percent.
func WithMaxMovePct(pct float64) Option {
	return func(g *Generator) {
		if pct > 0 && pct < 100 {
			g.maxMove = pct / 100
		}
	}
}

// WithQuantityRange sets the half-open range [min, max) for trade quantities.
func WithQuantityRange(min, max float64) Option {
	return func(g *Generator) {
		if min > 0 && max > min {
			g.minQty, g.maxQty = min, max
		}
	}
}

// WithSeed makes the random sequence reproducible.
func WithSeed(seed uint64) Option {
	return func(g *Generator) {
		g.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// Generator is a MarketStream that synthesizes random trades around fixed
// base prices.
type Generator struct {
	tick       time.Duration
	basePrices map[string]float64
	symbols    []string
	maxMove    float64
	minQty     float64
	maxQty     float64
	now        func() time.Time
	logger     *logger.Logger

	mu  sync.Mutex
	rng *rand.Rand

	connected atomic.Bool
}

var _ drepo.MarketStream = (*Generator)(nil)

// New creates a generator with the defaults used by the demo feed.
func New(opts ...Option) *Generator {
	g := &Generator{
		tick: 100 * time.Millisecond,
		basePrices: map[string]float64{
			"PEPE":  0.000001234,
			"DOGE":  0.0823,
			"SHIB":  0.000008456,
			"FLOKI": 0.00012345,
		},
		maxMove: 0.05,
		minQty:  100,
		maxQty:  10000,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger.NewNop(),
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.symbols = make([]string, 0, len(g.basePrices))
	for s := range g.basePrices {
		g.symbols = append(g.symbols, s)
	}
	sort.Strings(g.symbols)
	return g
}

func (g *Generator) Connect(ctx context.Context) error {
	g.connected.Store(true)
	g.logger.Info("generator: connected", logger.Strings("symbols", g.symbols), logger.Duration("tick_ms", g.tick))
	return nil
}

func (g *Generator) Subscribe(ctx context.Context) error {
	if !g.connected.Load() {
		return ErrNotConnected
	}
	return nil
}

// Read emits one trade per tick until ctx is done or the generator is closed.
func (g *Generator) Read(ctx context.Context) (<-chan *models.Trade, <-chan error) {
	trades := make(chan *models.Trade, 64)
	errs := make(chan error, 1)

	go func() {
		defer close(trades)
		defer close(errs)

		if !g.connected.Load() {
			errs <- ErrNotConnected
			return
		}

		ticker := time.NewTicker(g.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !g.connected.Load() {
					return
				}
				t := g.Next()
				select {
				case trades <- &t:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return trades, errs
}

// Next builds one random trade.
func (g *Generator) Next() models.Trade {
	g.mu.Lock()
	symbol := g.symbols[g.rng.IntN(len(g.symbols))]
	move := (g.rng.Float64()*2 - 1) * g.maxMove
	qty := g.minQty + g.rng.Float64()*(g.maxQty-g.minQty)
	side := models.SideBuy
	if g.rng.IntN(2) == 1 {
		side = models.SideSell
	}
	g.mu.Unlock()

	return models.Trade{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Price:     g.basePrices[symbol] * (1 + move),
		Quantity:  qty,
		Side:      side,
		Timestamp: g.now(),
	}
}

func (g *Generator) Reconnect(ctx context.Context) error {
	_ = g.Close()
	return g.Connect(ctx)
}

func (g *Generator) Close() error {
	g.connected.Store(false)
	return nil
}

func (g *Generator) IsConnected() bool { return g.connected.Load() }

// Symbols returns the generated symbols in sorted order.
func (g *Generator) Symbols() []string {
	return append([]string(nil), g.symbols...)
}
