package finnhub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"KlineHub/internal/domain/models"
)

type fakeFeed struct {
	t          *testing.T
	subscribed chan string
	token      chan string
	frames     []string
}

func (f *fakeFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	f.token <- r.URL.Query().Get("token")

	_, b, err := conn.ReadMessage()
	if err != nil {
		return
	}
	var sub subscribeMessage
	if json.Unmarshal(b, &sub) == nil {
		f.subscribed <- sub.Symbol
	}

	for _, frame := range f.frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			return
		}
	}
	// hold the connection open until the client goes away
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func Test_Client_StreamsTrades(t *testing.T) {
	feed := &fakeFeed{
		t:          t,
		subscribed: make(chan string, 1),
		token:      make(chan string, 1),
		frames: []string{
			`{"type":"ping"}`,
			`not json`,
			`{"type":"trade","data":[{"s":"BINANCE:BTCUSDT","p":100,"v":0.5,"t":1700000000123},{"s":"BINANCE:BTCUSDT","p":101,"v":1,"t":1700000000200}]}`,
			`{"type":"trade","data":[{"s":"BINANCE:BTCUSDT","p":101,"v":2,"t":1700000000300},{"s":"BINANCE:BTCUSDT","p":99,"v":1,"t":1700000000400}]}`,
		},
	}
	srv := httptest.NewServer(feed)
	defer srv.Close()

	c := New("secret", wsURL(srv), []string{"BINANCE:BTCUSDT"}, time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Subscribe(ctx))
	assert.True(t, c.IsConnected())
	assert.Equal(t, "secret", <-feed.token)
	assert.Equal(t, "BINANCE:BTCUSDT", <-feed.subscribed)

	trades, _ := c.Read(ctx)
	var got []*models.Trade
	for len(got) < 4 {
		select {
		case tr := <-trades:
			require.NotNil(t, tr)
			got = append(got, tr)
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d of 4 trades", len(got))
		}
	}

	assert.Equal(t, time.UnixMilli(1700000000123).UTC(), got[0].Timestamp)
	assert.Equal(t, 0.5, got[0].Quantity)
	assert.NotEmpty(t, got[0].ID)

	sides := []models.Side{got[0].Side, got[1].Side, got[2].Side, got[3].Side}
	assert.Equal(t, []models.Side{models.SideBuy, models.SideBuy, models.SideBuy, models.SideSell}, sides)

	require.NoError(t, c.Close())
	assert.False(t, c.IsConnected())
}

func Test_Client_ReadReportsDisconnect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.Close()
	}))
	defer srv.Close()

	c := New("", wsURL(srv), nil, 0, nil)
	require.NoError(t, c.Connect(context.Background()))

	trades, errs := c.Read(context.Background())
	select {
	case err := <-errs:
		assert.ErrorContains(t, err, "finnhub read")
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect not reported")
	}
	_, open := <-trades
	assert.False(t, open)
}

func Test_Client_ReadWithoutConnection(t *testing.T) {
	c := New("", "ws://127.0.0.1:1", nil, 0, nil)
	assert.Error(t, c.Subscribe(context.Background()))

	_, errs := c.Read(context.Background())
	assert.Error(t, <-errs)
}

func Test_Client_ConnectFailure(t *testing.T) {
	c := New("", "ws://127.0.0.1:1", nil, 0, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.ErrorContains(t, c.Connect(ctx), "finnhub connect")
	assert.False(t, c.IsConnected())
}

func Test_ToTrade_TickRule(t *testing.T) {
	c := New("", "", nil, 0, nil)
	prices := []float64{10, 10, 9, 9, 11, 11}
	want := []models.Side{
		models.SideBuy,  // first print
		models.SideBuy,  // zero tick repeats
		models.SideSell, // downtick
		models.SideSell, // zero tick repeats
		models.SideBuy,  // uptick
		models.SideBuy,
	}
	for i, p := range prices {
		tr := c.toTrade(fhTrade{S: "X", P: p, V: 1, T: int64(i)})
		assert.Equal(t, want[i], tr.Side, "print %d", i)
	}

	other := c.toTrade(fhTrade{S: "Y", P: 1, V: 1})
	assert.Equal(t, models.SideBuy, other.Side)
}
