package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"KlineHub/internal/domain/models"
	domrepo "KlineHub/internal/domain/repository"
	applogger "KlineHub/pkg/logger"
)

const insertChunkSize = 2000

// CHBarStorage archives closed bars in ClickHouse. Rows are deduplicated by
// (symbol, interval, ts) on merge, so replays are idempotent.
type CHBarStorage struct {
	db       *sql.DB
	database string
	table    string
	l        *applogger.Logger
}

var _ domrepo.BarStorage = (*CHBarStorage)(nil)

func NewCHBarStorage(db *sql.DB, database string, l *applogger.Logger) *CHBarStorage {
	if l == nil {
		l = applogger.NewNop()
	}
	return &CHBarStorage{db: db, database: database, table: database + ".klines", l: l}
}

// Schema returns the DDL for the archive table.
func (s *CHBarStorage) Schema() []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", s.database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    symbol      LowCardinality(String),
    `+"`interval`"+`  LowCardinality(String),
    ts          DateTime64(3, 'UTC'),
    open        Float64,
    high        Float64,
    low         Float64,
    close       Float64,
    volume      Float64,
    inserted_at DateTime64(3, 'UTC') DEFAULT now64(3)
) ENGINE = ReplacingMergeTree(inserted_at)
PARTITION BY toYYYYMM(ts)
ORDER BY (symbol, `+"`interval`"+`, ts)`, s.table),
	}
}

func (s *CHBarStorage) Init(ctx context.Context) error {
	for _, stmt := range s.Schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init klines schema: %w", err)
		}
	}
	return nil
}

// StoreBars inserts bars with multi-row VALUES, in chunks.
func (s *CHBarStorage) StoreBars(ctx context.Context, bars []models.Bar) error {
	for start := 0; start < len(bars); start += insertChunkSize {
		end := min(start+insertChunkSize, len(bars))

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*8)
		for _, b := range bars[start:end] {
			if b.Symbol == "" || b.IsEmpty() {
				continue
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args, b.Symbol, b.Interval, b.Timestamp.UTC(), b.Open, b.High, b.Low, b.Close, b.Volume)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (symbol, `interval`, ts, open, high, low, close, volume) VALUES %s",
			s.table, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			s.l.Error("clickhouse store_bars error",
				applogger.String("table", s.table),
				applogger.Int("rows", len(values)),
				applogger.Error(err),
			)
			return fmt.Errorf("store bars: %w", err)
		}
	}
	return nil
}

// QueryBars returns up to limit of the most recent bars in [from, to],
// oldest first.
func (s *CHBarStorage) QueryBars(ctx context.Context, symbol, interval string, from, to time.Time, limit int) ([]models.Bar, error) {
	start := time.Now()
	q := fmt.Sprintf(`SELECT ts, open, high, low, close, volume
FROM %s FINAL
WHERE symbol = ? AND `+"`interval`"+` = ? AND ts >= ? AND ts <= ?
ORDER BY ts DESC
LIMIT ?`, s.table)

	rows, err := s.db.QueryContext(ctx, q, symbol, interval, from.UTC(), to.UTC(), limit)
	if err != nil {
		s.l.Error("clickhouse query_bars error",
			applogger.String("symbol", symbol),
			applogger.String("interval", interval),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("query bars: %w", err)
	}
	defer rows.Close()

	out := make([]models.Bar, 0, limit)
	for rows.Next() {
		b := models.Bar{Symbol: symbol, Interval: interval}
		if err := rows.Scan(&b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		b.Timestamp = b.Timestamp.UTC()
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bars: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}

	s.l.Debug("clickhouse query_bars",
		applogger.String("symbol", symbol),
		applogger.String("interval", interval),
		applogger.Int("rows", len(out)),
		applogger.Duration("took_ms", time.Since(start)),
	)
	return out, nil
}

func (s *CHBarStorage) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op; the connection pool belongs to pkg/clickhouse.Client.
func (s *CHBarStorage) Close() error { return nil }
