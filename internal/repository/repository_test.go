package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"KlineHub/internal/domain/models"
	pkgkafka "KlineHub/pkg/kafka"
)

func bar(symbol, interval string, ts time.Time, o, h, l, c, v float64) models.Bar {
	return models.Bar{Timestamp: ts, Open: o, High: h, Low: l, Close: c, Volume: v, Symbol: symbol, Interval: interval}
}

var t0 = time.Date(2024, 3, 9, 12, 34, 0, 0, time.UTC)

func Test_CHBarStorage_Init(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewCHBarStorage(db, "klinehub", nil)
	mock.ExpectExec(regexp.QuoteMeta("CREATE DATABASE IF NOT EXISTS klinehub")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS klinehub.klines")).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Init(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())

	ddl := s.Schema()[1]
	assert.Contains(t, ddl, "ReplacingMergeTree")
	assert.Contains(t, ddl, "ORDER BY (symbol, `interval`, ts)")
}

func Test_CHBarStorage_InitError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE DATABASE").WillReturnError(errors.New("denied"))
	err = NewCHBarStorage(db, "klinehub", nil).Init(context.Background())
	assert.ErrorContains(t, err, "denied")
}

func Test_CHBarStorage_StoreBars(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewCHBarStorage(db, "klinehub", nil)
	empty := models.NewBar(t0, "DOGE", models.Interval1m)
	bars := []models.Bar{
		bar("DOGE", "1m", t0, 10, 12, 10, 12, 3),
		empty,
		bar("DOGE", "1s", t0.Add(45*time.Second), 10, 10, 10, 10, 1),
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO klinehub.klines (symbol, `interval`, ts, open, high, low, close, volume) VALUES (?, ?, ?, ?, ?, ?, ?, ?),(?, ?, ?, ?, ?, ?, ?, ?)")).
		WithArgs(
			"DOGE", "1m", t0, 10.0, 12.0, 10.0, 12.0, 3.0,
			"DOGE", "1s", t0.Add(45*time.Second), 10.0, 10.0, 10.0, 10.0, 1.0,
		).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, s.StoreBars(context.Background(), bars))
	require.NoError(t, s.StoreBars(context.Background(), nil))
	require.NoError(t, s.StoreBars(context.Background(), []models.Bar{empty}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func Test_CHBarStorage_StoreBarsChunks(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	bars := make([]models.Bar, insertChunkSize+1)
	for i := range bars {
		bars[i] = bar("PEPE", "1s", t0.Add(time.Duration(i)*time.Second), 1, 1, 1, 1, 1)
	}
	mock.ExpectExec("INSERT INTO klinehub.klines").WillReturnResult(sqlmock.NewResult(0, insertChunkSize))
	mock.ExpectExec("INSERT INTO klinehub.klines").WillReturnError(errors.New("too many parts"))

	err = NewCHBarStorage(db, "klinehub", nil).StoreBars(context.Background(), bars)
	assert.ErrorContains(t, err, "too many parts")
	require.NoError(t, mock.ExpectationsWereMet())
}

func Test_CHBarStorage_QueryBars(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	from, to := t0.Add(-time.Hour), t0
	rows := sqlmock.NewRows([]string{"ts", "open", "high", "low", "close", "volume"}).
		AddRow(t0, 9.0, 9.0, 9.0, 9.0, 1.0).
		AddRow(t0.Add(-time.Minute), 10.0, 12.0, 10.0, 12.0, 3.0)
	mock.ExpectQuery(regexp.QuoteMeta("FROM klinehub.klines FINAL")).
		WithArgs("DOGE", "1m", from, to, 2).
		WillReturnRows(rows)

	got, err := NewCHBarStorage(db, "klinehub", nil).QueryBars(context.Background(), "DOGE", "1m", from, to, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, bar("DOGE", "1m", t0.Add(-time.Minute), 10, 12, 10, 12, 3), got[0], "oldest first")
	assert.Equal(t, t0, got[1].Timestamp)
	require.NoError(t, mock.ExpectationsWereMet())
}

func Test_CHBarStorage_QueryBarsError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT").WillReturnError(errors.New("timeout"))
	_, err = NewCHBarStorage(db, "klinehub", nil).QueryBars(context.Background(), "DOGE", "1m", t0, t0, 1)
	assert.ErrorContains(t, err, "timeout")
}

type captureProducer struct {
	topic  string
	msgs   []pkgkafka.Message
	err    error
	closed bool
}

func (p *captureProducer) PublishBatch(_ context.Context, topic string, msgs []pkgkafka.Message) error {
	p.topic = topic
	p.msgs = append(p.msgs, msgs...)
	return p.err
}

func (p *captureProducer) Close() error {
	p.closed = true
	return nil
}

func Test_KafkaBarPublisher(t *testing.T) {
	prod := &captureProducer{}
	pub := NewKafkaBarPublisher(prod, "klines")

	require.NoError(t, pub.PublishBars(context.Background(), nil))
	assert.Empty(t, prod.msgs)

	b := bar("SHIB", "5m", t0, 1, 2, 0.5, 1.5, 100)
	require.NoError(t, pub.PublishBars(context.Background(), []models.Bar{b}))
	assert.Equal(t, "klines", prod.topic)
	require.Len(t, prod.msgs, 1)
	assert.Equal(t, "SHIB@5m", string(prod.msgs[0].Key))
	assert.Equal(t, b, prod.msgs[0].Value)

	prod.err = errors.New("broker down")
	assert.EqualError(t, pub.PublishBars(context.Background(), []models.Bar{b}), "broker down")

	require.NoError(t, pub.Close())
	assert.True(t, prod.closed)
}

// memCache is an in-memory cache.Service storing JSON like Redis does.
type memCache struct {
	data map[string]string
	ttl  time.Duration
}

func newMemCache() *memCache { return &memCache{data: map[string]string{}} }

func (m *memCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	return m.MSet(context.Background(), map[string]interface{}{key: value}, ttl)
}

func (m *memCache) Get(_ context.Context, key string, dest interface{}) error {
	return json.Unmarshal([]byte(m.data[key]), dest)
}

func (m *memCache) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memCache) MSet(_ context.Context, values map[string]interface{}, ttl time.Duration) error {
	m.ttl = ttl
	for k, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		m.data[k] = string(b)
	}
	return nil
}

func (m *memCache) MGet(_ context.Context, keys ...string) (map[string]string, error) {
	out := map[string]string{}
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func Test_RedisBarMirror(t *testing.T) {
	c := newMemCache()
	m := NewRedisBarMirror(c, time.Hour)

	older := bar("DOGE", "1m", t0, 1, 1, 1, 1, 1)
	newer := bar("DOGE", "1m", t0.Add(time.Minute), 2, 2, 2, 2, 2)
	hourly := bar("DOGE", "1h", t0.Truncate(time.Hour), 3, 3, 3, 3, 3)
	require.NoError(t, m.SaveLast(context.Background(), []models.Bar{older, newer, hourly}))
	require.NoError(t, m.SaveLast(context.Background(), nil))

	assert.Equal(t, time.Hour, c.ttl)
	assert.Contains(t, c.data, "kline:last:DOGE:1m")

	got, err := m.LoadLast(context.Background(), "DOGE", models.IntervalNames())
	require.NoError(t, err)
	assert.Equal(t, map[string]models.Bar{"1m": newer, "1h": hourly}, got)

	none, err := m.LoadLast(context.Background(), "PEPE", models.IntervalNames())
	require.NoError(t, err)
	assert.Empty(t, none)
}
