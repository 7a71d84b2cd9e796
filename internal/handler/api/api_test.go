package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"KlineHub/internal/domain/models"
	"KlineHub/internal/stream"
	"KlineHub/internal/usecase"
	xhttp "KlineHub/pkg/http"
	xlogger "KlineHub/pkg/logger"
)

type mockStorage struct{ mock.Mock }

func (m *mockStorage) Init(context.Context) error                    { return nil }
func (m *mockStorage) StoreBars(context.Context, []models.Bar) error { return nil }
func (m *mockStorage) Health(context.Context) error                  { return nil }
func (m *mockStorage) Close() error                                  { return nil }
func (m *mockStorage) QueryBars(ctx context.Context, symbol, interval string, from, to time.Time, limit int) ([]models.Bar, error) {
	args := m.Called(symbol, interval, from, to, limit)
	bars, _ := args.Get(0).([]models.Bar)
	return bars, args.Error(1)
}

type fixture struct {
	store  *usecase.KlineStore
	trades *stream.Bus[models.Trade]
	bars   *stream.Bus[models.Bar]
	server *xhttp.Server
}

func newFixture(t *testing.T, archive *mockStorage) *fixture {
	t.Helper()
	f := &fixture{
		trades: stream.NewBus[models.Trade](),
		bars:   stream.NewBus[models.Bar](),
	}
	f.store = usecase.NewKlineStore(usecase.WithOnBarUpdate(func(b models.Bar) {
		f.bars.Publish(b.Key(), b)
	}))

	var svc *usecase.KlineService
	if archive != nil {
		svc = usecase.NewKlineService(f.store, archive, nil)
	} else {
		svc = usecase.NewKlineService(f.store, nil, nil)
	}
	l := xlogger.NewNop()
	f.server = xhttp.NewServer(NewRouter(
		NewKlinesEchoHandler(l, svc),
		NewStreamHandler(l, f.trades, f.bars, WithPing(50*time.Millisecond, time.Second)),
	), xhttp.WithMetrics(false, ""))
	return f
}

func (f *fixture) get(t *testing.T, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	f.server.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func at(h, m, s int) time.Time {
	return time.Date(2024, 3, 9, h, m, s, 0, time.UTC)
}

func ingest(t *testing.T, store *usecase.KlineStore, symbol string, ts time.Time, price, qty float64) {
	t.Helper()
	require.NoError(t, store.Ingest(models.Trade{
		ID: ts.String(), Symbol: symbol, Price: price, Quantity: qty, Side: models.SideBuy, Timestamp: ts,
	}))
}

func Test_Health(t *testing.T) {
	f := newFixture(t, nil)
	rec, _ := f.get(t, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func Test_Klines(t *testing.T) {
	f := newFixture(t, nil)
	ingest(t, f.store, "DOGE", at(12, 34, 45), 10, 1)
	ingest(t, f.store, "DOGE", at(12, 34, 50), 12, 2)
	ingest(t, f.store, "DOGE", at(12, 35, 5), 9, 1)

	rec, body := f.get(t, "/api/klines/DOGE")
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	assert.Equal(t, "DOGE", data["symbol"])
	assert.Equal(t, "1m", data["interval"])

	bars := data["data"].([]any)
	require.Len(t, bars, 2)
	closed := bars[0].(map[string]any)
	assert.Equal(t, 10.0, closed["open"])
	assert.Equal(t, 12.0, closed["close"])
	assert.Equal(t, 3.0, closed["volume"])
	assert.Equal(t, "2024-03-09T12:34:00Z", closed["timestamp"])

	_, body = f.get(t, "/api/klines/DOGE?interval=1m&limit=1")
	assert.Len(t, body["data"].(map[string]any)["data"].([]any), 2, "limit counts closed bars only")

	_, body = f.get(t, "/api/klines/UNKNOWN?interval=1h")
	assert.Empty(t, body["data"].(map[string]any)["data"].([]any))
}

func Test_Klines_InvalidInterval(t *testing.T) {
	f := newFixture(t, nil)
	for _, iv := range []string{"2m", "1d", "1M"} {
		rec, body := f.get(t, "/api/klines/DOGE?interval="+iv)
		assert.Equal(t, http.StatusBadRequest, rec.Code, iv)
		first := body["data"].([]any)[0].(map[string]any)
		assert.Equal(t, "ERR_INTERVAL", first["code"])
		assert.Equal(t, "interval", first["field"])
		assert.Equal(t, "interval must be a supported interval: 1s, 1m, 5m, 15m, 1h", first["message"])
		assert.Equal(t, []any{"1s", "1m", "5m", "15m", "1h"}, first["params"].(map[string]any)["options"])
	}

	rec, _ := f.get(t, "/api/klines/DOGE?limit=lots")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func Test_Symbols(t *testing.T) {
	f := newFixture(t, nil)
	ingest(t, f.store, "SHIB", at(1, 0, 0), 1, 1)
	ingest(t, f.store, "DOGE", at(1, 0, 0), 1, 1)

	_, body := f.get(t, "/api/symbols")
	data := body["data"].(map[string]any)
	assert.Equal(t, []any{"DOGE", "SHIB"}, data["rows"])
	assert.Equal(t, 2.0, data["total"])
}

func Test_Archive(t *testing.T) {
	archive := &mockStorage{}
	f := newFixture(t, archive)
	from, to := at(10, 0, 0), at(12, 0, 0)
	archive.On("QueryBars", "DOGE", "5m", from, to, 2).Return([]models.Bar{{Timestamp: from, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1, Symbol: "DOGE", Interval: "5m"}}, nil)

	rec, body := f.get(t, "/api/klines/DOGE/archive?interval=5m&from=2024-03-09T10:00:00Z&to=1709985600&limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["data"].(map[string]any)["data"].([]any), 1)
	assert.Equal(t, "private, max-age=15", rec.Header().Get("Cache-Control"))

	rec, _ = f.get(t, "/api/klines/DOGE/archive?from=yesterday")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.get(t, "/api/klines/DOGE/archive?from=2024-03-09T12:00:00Z&to=2024-03-09T10:00:00Z")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func Test_Archive_Disabled(t *testing.T) {
	f := newFixture(t, nil)
	rec, body := f.get(t, "/api/klines/DOGE/archive")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "ERR_NOT_FOUND", body["data"].([]any)[0].(map[string]any)["code"])

	rec, _ = f.get(t, "/api/klines/DOGE/last")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	return conn
}

func waitSubscribers[T any](t *testing.T, bus *stream.Bus[T], topic string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return bus.Subscribers(topic) == n }, 2*time.Second, 5*time.Millisecond)
}

func Test_TradeStream(t *testing.T) {
	f := newFixture(t, nil)
	srv := httptest.NewServer(f.server.Echo())
	defer srv.Close()

	conn := dial(t, srv, "/ws/DOGE")
	waitSubscribers(t, f.trades, "DOGE", 1)

	want := models.Trade{ID: "abc", Symbol: "DOGE", Price: 0.08, Quantity: 100, Side: models.SideSell, Timestamp: at(1, 2, 3)}
	f.trades.Publish("PEPE", models.Trade{ID: "other", Symbol: "PEPE"})
	f.trades.Publish("DOGE", want)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, b, err := conn.ReadMessage()
	require.NoError(t, err)

	var got models.Trade
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, want, got)

	require.NoError(t, conn.Close())
	waitSubscribers(t, f.trades, "DOGE", 0)
}

func Test_BarStream(t *testing.T) {
	f := newFixture(t, nil)
	srv := httptest.NewServer(f.server.Echo())
	defer srv.Close()

	conn := dial(t, srv, "/ws/DOGE/klines?interval=5m")
	defer conn.Close()
	waitSubscribers(t, f.bars, "DOGE@5m", 1)

	ingest(t, f.store, "DOGE", at(12, 34, 45), 10, 1)
	ingest(t, f.store, "DOGE", at(12, 34, 50), 12, 2)

	var got []models.Bar
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for len(got) < 2 {
		_, b, err := conn.ReadMessage()
		require.NoError(t, err)
		var bar models.Bar
		require.NoError(t, json.Unmarshal(b, &bar))
		got = append(got, bar)
	}
	assert.Equal(t, "5m", got[1].Interval)
	assert.Equal(t, at(12, 30, 0), got[1].Timestamp)
	assert.Equal(t, 12.0, got[1].High)
	assert.Equal(t, 3.0, got[1].Volume)
}

func Test_Stream_RejectsBadRequest(t *testing.T) {
	f := newFixture(t, nil)
	rec, _ := f.get(t, "/ws/DOGE/klines?interval=7m")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// a plain GET without the upgrade handshake is refused by the upgrader
	rec, _ = f.get(t, "/ws/DOGE")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func Test_Stream_Pings(t *testing.T) {
	f := newFixture(t, nil)
	srv := httptest.NewServer(f.server.Echo())
	defer srv.Close()

	conn := dial(t, srv, "/ws/DOGE")
	defer conn.Close()

	pinged := make(chan struct{}, 1)
	conn.SetPingHandler(func(data string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("no ping received")
	}
}

func Test_Stream_DropsSilentPeer(t *testing.T) {
	f := newFixture(t, nil)
	srv := httptest.NewServer(f.server.Echo())
	defer srv.Close()

	conn := dial(t, srv, "/ws/DOGE")
	defer conn.Close()

	// no reads means no pongs; the server read deadline is twice the ping interval
	time.Sleep(300 * time.Millisecond)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		assert.False(t, netErr.Timeout(), "server should have closed the connection")
	}
}

func Test_WithPing_KeepsDefaultsForNonPositive(t *testing.T) {
	h := NewStreamHandler(xlogger.NewNop(), nil, nil, WithPing(0, -time.Second))
	assert.Equal(t, 30*time.Second, h.pingInterval)
	assert.Equal(t, 10*time.Second, h.writeTimeout)
}

func Test_AllowedOrigins(t *testing.T) {
	h := NewStreamHandler(xlogger.NewNop(), nil, nil, WithAllowedOrigins([]string{"https://app.example"}))
	ok := httptest.NewRequest(http.MethodGet, "/ws/DOGE", nil)
	ok.Header.Set("Origin", "https://app.example")
	bad := httptest.NewRequest(http.MethodGet, "/ws/DOGE", nil)
	bad.Header.Set("Origin", "https://evil.example")

	assert.True(t, h.upgrader.CheckOrigin(ok))
	assert.False(t, h.upgrader.CheckOrigin(bad))

	open := NewStreamHandler(xlogger.NewNop(), nil, nil, WithAllowedOrigins([]string{"*"}))
	assert.True(t, open.upgrader.CheckOrigin(bad))
}
