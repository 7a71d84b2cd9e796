package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"KlineHub/internal/domain/models"
	domrepo "KlineHub/internal/domain/repository"
	"KlineHub/pkg/util"
)

const (
	defaultArchiveLimit = 500
	maxArchiveLimit     = 10000
	defaultArchiveSpan  = 24 * time.Hour
)

// KlineService serves kline reads from the in-memory store and, when
// configured, from the archive and the last-bar cache.
type KlineService struct {
	store   *KlineStore
	archive domrepo.BarStorage
	mirror  domrepo.BarMirror
	now     func() time.Time
}

// NewKlineService creates the query use case. archive and mirror may be nil.
func NewKlineService(store *KlineStore, archive domrepo.BarStorage, mirror domrepo.BarMirror) *KlineService {
	return &KlineService{
		store:   store,
		archive: archive,
		mirror:  mirror,
		now:     time.Now,
	}
}

// GetKlines returns recent closed bars plus the in-progress bar.
func (s *KlineService) GetKlines(ctx context.Context, symbol, interval string, limit int) (*models.KlineResponse, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, models.ErrInvalidSymbol
	}
	iv, err := models.ParseInterval(interval)
	if err != nil {
		return nil, err
	}

	return &models.KlineResponse{
		Symbol:   symbol,
		Interval: iv.String(),
		Data:     s.store.Query(symbol, iv, limit),
	}, nil
}

// Symbols lists every symbol with at least one bar.
func (s *KlineService) Symbols() []string {
	return s.store.Symbols()
}

type ArchiveParams struct {
	Symbol   string
	Interval string
	From     time.Time
	To       time.Time
	Limit    int
}

// Archived reads closed bars from the archive. A zero To means now and a
// zero From means one day before To. Both ends are aligned down to the
// interval.
func (s *KlineService) Archived(ctx context.Context, p ArchiveParams) (*models.KlineResponse, error) {
	if s.archive == nil {
		return nil, models.ErrArchiveDisabled
	}
	if strings.TrimSpace(p.Symbol) == "" {
		return nil, models.ErrInvalidSymbol
	}
	iv, err := models.ParseInterval(p.Interval)
	if err != nil {
		return nil, err
	}
	if p.To.IsZero() {
		p.To = s.now().UTC()
	}
	if p.From.IsZero() {
		p.From = p.To.Add(-defaultArchiveSpan)
	}
	if p.From.After(p.To) {
		return nil, models.ErrInvalidRange
	}
	p.From, p.To = util.AlignFromTo(p.From, p.To, iv.Duration())
	if p.Limit <= 0 {
		p.Limit = defaultArchiveLimit
	}
	if p.Limit > maxArchiveLimit {
		p.Limit = maxArchiveLimit
	}

	bars, err := s.archive.QueryBars(ctx, p.Symbol, iv.String(), p.From, p.To, p.Limit)
	if err != nil {
		return nil, fmt.Errorf("query archive: %w", err)
	}
	if bars == nil {
		bars = []models.Bar{}
	}
	return &models.KlineResponse{Symbol: p.Symbol, Interval: iv.String(), Data: bars}, nil
}

// LastClosed returns the most recently sealed bar per interval from the
// shared cache.
func (s *KlineService) LastClosed(ctx context.Context, symbol string) (map[string]models.Bar, error) {
	if s.mirror == nil {
		return nil, models.ErrMirrorDisabled
	}
	if strings.TrimSpace(symbol) == "" {
		return nil, models.ErrInvalidSymbol
	}
	bars, err := s.mirror.LoadLast(ctx, symbol, models.IntervalNames())
	if err != nil {
		return nil, fmt.Errorf("load last bars: %w", err)
	}
	return bars, nil
}
