package api

import (
	"context"
	"net/http"
	"slices"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"KlineHub/internal/domain/models"
	"KlineHub/internal/stream"
	xhttp "KlineHub/pkg/http"
	xlogger "KlineHub/pkg/logger"
)

const maxInboundFrame = 4096

// StreamHandler pushes live trades and bar updates over websockets.
type StreamHandler struct {
	logger       *xlogger.Logger
	trades       *stream.Bus[models.Trade]
	bars         *stream.Bus[models.Bar]
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	writeTimeout time.Duration
}

type StreamOption func(*StreamHandler)

// WithPing sets the keepalive ping period and the per-frame write deadline.
func WithPing(interval, writeTimeout time.Duration) StreamOption {
	return func(h *StreamHandler) {
		if interval > 0 {
			h.pingInterval = interval
		}
		if writeTimeout > 0 {
			h.writeTimeout = writeTimeout
		}
	}
}

// WithAllowedOrigins restricts websocket origins. "*" or an empty list
// accepts any origin.
func WithAllowedOrigins(origins []string) StreamOption {
	return func(h *StreamHandler) {
		if len(origins) == 0 || slices.Contains(origins, "*") {
			return
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(origins, origin)
		}
	}
}

func NewStreamHandler(logger *xlogger.Logger, trades *stream.Bus[models.Trade], bars *stream.Bus[models.Bar], opts ...StreamOption) *StreamHandler {
	h := &StreamHandler{
		logger: logger,
		trades: trades,
		bars:   bars,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		pingInterval: 30 * time.Second,
		writeTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *StreamHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws/:symbol", h.Trades)
	e.GET("/ws/:symbol/klines", h.Klines)
}

// Trades streams every trade for the symbol as a JSON text frame.
func (h *StreamHandler) Trades(c echo.Context) error {
	req := &models.TradeStreamRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader already wrote the HTTP error
		h.logger.Warn("ws upgrade failed", xlogger.String("symbol", req.Symbol), xlogger.Error(err))
		return nil
	}

	ctx, cancel := context.WithCancel(c.Request().Context())
	sub := h.trades.Subscribe(ctx, req.Symbol)
	serve(ctx, cancel, h, conn, sub)
	return nil
}

// Klines streams every update of the (symbol, interval) bar.
func (h *StreamHandler) Klines(c echo.Context) error {
	req := &models.BarStreamRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", xlogger.String("symbol", req.Symbol), xlogger.Error(err))
		return nil
	}

	ctx, cancel := context.WithCancel(c.Request().Context())
	sub := h.bars.Subscribe(ctx, models.SeriesKey(req.Symbol, req.Interval))
	serve(ctx, cancel, h, conn, sub)
	return nil
}

// serve owns conn until the client leaves or ctx ends. Incoming frames are
// discarded; they only tell us when the peer is gone.
func serve[T any](ctx context.Context, cancel context.CancelFunc, h *StreamHandler, conn *websocket.Conn, sub *stream.Subscription[T]) {
	defer conn.Close()
	defer cancel()

	topic := sub.Topic()
	h.logger.Info("ws connected", xlogger.String("topic", topic), xlogger.String("remote", conn.RemoteAddr().String()))

	conn.SetReadLimit(maxInboundFrame)
	_ = conn.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(h.pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeConn(conn, topic, sub.Dropped())
			return
		case msg, ok := <-sub.C():
			if !ok {
				h.closeConn(conn, topic, sub.Dropped())
				return
			}
			b, err := json.Marshal(msg)
			if err != nil {
				h.logger.Error("ws encode failed", xlogger.String("topic", topic), xlogger.Error(err))
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				h.logger.Debug("ws write failed", xlogger.String("topic", topic), xlogger.Error(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeTimeout)); err != nil {
				h.logger.Debug("ws ping failed", xlogger.String("topic", topic), xlogger.Error(err))
				return
			}
		}
	}
}

func (h *StreamHandler) closeConn(conn *websocket.Conn, topic string, dropped uint64) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.writeTimeout))
	h.logger.Info("ws disconnected", xlogger.String("topic", topic), xlogger.Uint64("dropped", dropped))
}
