package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"KlineHub/internal/domain/models"
)

type mockStorage struct{ mock.Mock }

func (m *mockStorage) Init(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *mockStorage) StoreBars(ctx context.Context, bars []models.Bar) error {
	return m.Called(ctx, bars).Error(0)
}
func (m *mockStorage) QueryBars(ctx context.Context, symbol, interval string, from, to time.Time, limit int) ([]models.Bar, error) {
	args := m.Called(ctx, symbol, interval, from, to, limit)
	bars, _ := args.Get(0).([]models.Bar)
	return bars, args.Error(1)
}
func (m *mockStorage) Health(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *mockStorage) Close() error                     { return m.Called().Error(0) }

type mockMirror struct{ mock.Mock }

func (m *mockMirror) SaveLast(ctx context.Context, bars []models.Bar) error {
	return m.Called(ctx, bars).Error(0)
}
func (m *mockMirror) LoadLast(ctx context.Context, symbol string, intervals []string) (map[string]models.Bar, error) {
	args := m.Called(ctx, symbol, intervals)
	bars, _ := args.Get(0).(map[string]models.Bar)
	return bars, args.Error(1)
}

func Test_KlineService_GetKlines(t *testing.T) {
	store := NewKlineStore()
	require.NoError(t, store.Ingest(trade("DOGE", at(12, 34, 45), 10, 1)))
	require.NoError(t, store.Ingest(trade("DOGE", at(12, 35, 5), 9, 1)))
	svc := NewKlineService(store, nil, nil)

	resp, err := svc.GetKlines(context.Background(), "DOGE", "1m", 0)
	require.NoError(t, err)
	assert.Equal(t, "DOGE", resp.Symbol)
	assert.Equal(t, "1m", resp.Interval)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, at(12, 34, 0), resp.Data[0].Timestamp)
	assert.Equal(t, at(12, 35, 0), resp.Data[1].Timestamp)

	resp, err = svc.GetKlines(context.Background(), "NOPE", "1h", 10)
	require.NoError(t, err)
	assert.NotNil(t, resp.Data)
	assert.Empty(t, resp.Data)

	assert.Equal(t, []string{"DOGE"}, svc.Symbols())
}

func Test_KlineService_GetKlinesRejectsBadInput(t *testing.T) {
	svc := NewKlineService(NewKlineStore(), nil, nil)

	for _, iv := range []string{"", "2m", "1M", "1d", "60s"} {
		_, err := svc.GetKlines(context.Background(), "DOGE", iv, 10)
		assert.ErrorIs(t, err, models.ErrInvalidInterval, "interval %q", iv)
	}

	_, err := svc.GetKlines(context.Background(), "  ", "1m", 10)
	assert.ErrorIs(t, err, models.ErrInvalidSymbol)
}

func Test_KlineService_ArchivedDisabled(t *testing.T) {
	svc := NewKlineService(NewKlineStore(), nil, nil)
	_, err := svc.Archived(context.Background(), ArchiveParams{Symbol: "DOGE", Interval: "1m"})
	assert.ErrorIs(t, err, models.ErrArchiveDisabled)
}

func Test_KlineService_ArchivedDefaults(t *testing.T) {
	archive := &mockStorage{}
	svc := NewKlineService(NewKlineStore(), archive, nil)
	now := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	bars := []models.Bar{sealedBar("DOGE", 1)}
	archive.On("QueryBars", mock.Anything, "DOGE", "5m", now.Add(-24*time.Hour), now, 500).Return(bars, nil).Once()

	resp, err := svc.Archived(context.Background(), ArchiveParams{Symbol: "DOGE", Interval: "5m"})
	require.NoError(t, err)
	assert.Equal(t, bars, resp.Data)
	assert.Equal(t, "5m", resp.Interval)
	archive.AssertExpectations(t)
}

func Test_KlineService_ArchivedClampsAndValidates(t *testing.T) {
	archive := &mockStorage{}
	svc := NewKlineService(NewKlineStore(), archive, nil)
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(time.Hour)

	archive.On("QueryBars", mock.Anything, "DOGE", "1h", from, to, 10000).Return(nil, nil).Once()
	resp, err := svc.Archived(context.Background(), ArchiveParams{Symbol: "DOGE", Interval: "1h", From: from, To: to, Limit: 1_000_000})
	require.NoError(t, err)
	assert.NotNil(t, resp.Data)

	_, err = svc.Archived(context.Background(), ArchiveParams{Symbol: "DOGE", Interval: "1h", From: to, To: from})
	assert.ErrorIs(t, err, models.ErrInvalidRange)

	_, err = svc.Archived(context.Background(), ArchiveParams{Symbol: "DOGE", Interval: "3m"})
	assert.ErrorIs(t, err, models.ErrInvalidInterval)

	_, err = svc.Archived(context.Background(), ArchiveParams{Interval: "1m"})
	assert.ErrorIs(t, err, models.ErrInvalidSymbol)

	boom := errors.New("clickhouse down")
	archive.On("QueryBars", mock.Anything, "SHIB", "1m", mock.Anything, mock.Anything, 500).Return(nil, boom).Once()
	_, err = svc.Archived(context.Background(), ArchiveParams{Symbol: "SHIB", Interval: "1m"})
	assert.ErrorIs(t, err, boom)
}

func Test_KlineService_LastClosed(t *testing.T) {
	_, err := NewKlineService(NewKlineStore(), nil, nil).LastClosed(context.Background(), "DOGE")
	assert.ErrorIs(t, err, models.ErrMirrorDisabled)

	mirror := &mockMirror{}
	svc := NewKlineService(NewKlineStore(), nil, mirror)
	want := map[string]models.Bar{"1m": sealedBar("DOGE", 3)}
	mirror.On("LoadLast", mock.Anything, "DOGE", models.IntervalNames()).Return(want, nil).Once()

	got, err := svc.LastClosed(context.Background(), "DOGE")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = svc.LastClosed(context.Background(), "")
	assert.ErrorIs(t, err, models.ErrInvalidSymbol)
}
