package finnhub

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"KlineHub/internal/domain/models"
	drepo "KlineHub/internal/domain/repository"
	"KlineHub/pkg/logger"
)

// Client implements a MarketStream backed by Finnhub WebSocket.
type Client struct {
	apiKey       string
	websocketURL string
	symbols      []string
	pingInterval time.Duration
	dialer       *websocket.Dialer
	logger       *logger.Logger

	mu        sync.Mutex // guards conn and writes to it
	conn      *websocket.Conn
	connected atomic.Bool

	tickMu sync.Mutex
	ticks  map[string]tick
}

type tick struct {
	price float64
	side  models.Side
}

var _ drepo.MarketStream = (*Client)(nil)

// New creates a new Finnhub MarketStream.
func New(apiKey, websocketURL string, symbols []string, pingInterval time.Duration, l *logger.Logger) *Client {
	if l == nil {
		l = logger.NewNop()
	}
	return &Client{
		apiKey:       apiKey,
		websocketURL: websocketURL,
		symbols:      symbols,
		pingInterval: pingInterval,
		dialer:       websocket.DefaultDialer,
		logger:       l,
		ticks:        make(map[string]tick),
	}
}

// Connect establishes the WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.websocketURL)
	if err != nil {
		return fmt.Errorf("finnhub url: %w", err)
	}
	if c.apiKey != "" {
		q := u.Query()
		q.Set("token", c.apiKey)
		u.RawQuery = q.Encode()
	}

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("finnhub connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(true)
	c.logger.Info("finnhub: connected", logger.String("url", c.websocketURL))
	return nil
}

// Subscribe subscribes to configured symbols.
func (c *Client) Subscribe(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.connected.Load() {
		return fmt.Errorf("finnhub not connected")
	}
	for _, s := range c.symbols {
		msg, err := json.Marshal(subscribeMessage{Type: "subscribe", Symbol: s})
		if err != nil {
			return err
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
		c.logger.Debug("finnhub: subscribed", logger.String("symbol", s))
	}
	return nil
}

type subscribeMessage struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

type fhTrade struct {
	S string  `json:"s"`
	P float64 `json:"p"`
	V float64 `json:"v"`
	T int64   `json:"t"` // ms
}

type fhMessage struct {
	Type string    `json:"type"`
	Data []fhTrade `json:"data"`
}

// Read streams Trade events and errors. Both channels are closed when the
// connection fails or ctx is done.
func (c *Client) Read(ctx context.Context) (<-chan *models.Trade, <-chan error) {
	trades := make(chan *models.Trade, 1024)
	errs := make(chan error, 1)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		errs <- fmt.Errorf("finnhub conn nil")
		close(errs)
		close(trades)
		return trades, errs
	}

	readCtx, cancel := context.WithCancel(ctx)
	// unblock ReadMessage on shutdown
	stop := context.AfterFunc(readCtx, func() { _ = conn.Close() })

	if c.pingInterval > 0 {
		go c.pingLoop(readCtx, conn)
	}

	go func() {
		defer close(trades)
		defer close(errs)
		defer stop()
		defer cancel()

		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				if readCtx.Err() == nil {
					errs <- fmt.Errorf("finnhub read: %w", err)
				}
				return
			}
			var m fhMessage
			if err := json.Unmarshal(b, &m); err != nil {
				c.logger.Debug("finnhub: skip frame", logger.Error(err))
				continue
			}
			if m.Type != "trade" {
				continue
			}
			for _, d := range m.Data {
				t := c.toTrade(d)
				select {
				case trades <- &t:
				case <-readCtx.Done():
					return
				}
			}
		}
	}()

	return trades, errs
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.pingInterval))
			c.mu.Unlock()
			if err != nil {
				c.logger.Warn("finnhub: ping failed", logger.Error(err))
				return
			}
		}
	}
}

// toTrade maps a Finnhub print to a trade. Finnhub does not report the
// aggressor, so the side follows the tick rule: an uptick is a buy, a
// downtick a sell, and an unchanged price repeats the previous side.
func (c *Client) toTrade(d fhTrade) models.Trade {
	c.tickMu.Lock()
	prev, seen := c.ticks[d.S]
	side := models.SideBuy
	switch {
	case !seen:
	case d.P > prev.price:
		side = models.SideBuy
	case d.P < prev.price:
		side = models.SideSell
	default:
		side = prev.side
	}
	c.ticks[d.S] = tick{price: d.P, side: side}
	c.tickMu.Unlock()

	return models.Trade{
		ID:        uuid.NewString(),
		Symbol:    d.S,
		Price:     d.P,
		Quantity:  d.V,
		Side:      side,
		Timestamp: time.UnixMilli(d.T).UTC(),
	}
}

// Reconnect closes and reconnects.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

// Close closes the WS connection.
func (c *Client) Close() error {
	c.connected.Store(false)
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// IsConnected indicates status.
func (c *Client) IsConnected() bool { return c.connected.Load() }
