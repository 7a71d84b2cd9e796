package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"KlineHub/internal/domain/models"
	domrepo "KlineHub/internal/domain/repository"
	mid "KlineHub/internal/middleware"
	pkgkafka "KlineHub/pkg/kafka"
)

// TradeMessage is the wire format of the trades topic. Price and quantity
// accept JSON numbers or decimal strings; Ts is epoch milliseconds, or
// seconds when it is too small to be milliseconds.
type TradeMessage struct {
	ID       string          `json:"id"`
	Symbol   string          `json:"symbol"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Side     string          `json:"side"`
	Ts       int64           `json:"ts"`
}

// Trade converts the message into a validated trade.
func (m *TradeMessage) Trade() (models.Trade, error) {
	side, err := models.ParseSide(m.Side)
	if err != nil {
		return models.Trade{}, fmt.Errorf("%w: %w", models.ErrInvalidTrade, err)
	}
	ts := m.Ts
	var when time.Time
	if ts > 1e11 {
		when = time.UnixMilli(ts).UTC()
	} else if ts > 0 {
		when = time.Unix(ts, 0).UTC()
	}
	id := m.ID
	if id == "" {
		id = uuid.NewString()
	}

	t := models.Trade{
		ID:        id,
		Symbol:    m.Symbol,
		Price:     m.Price.InexactFloat64(),
		Quantity:  m.Quantity.InexactFloat64(),
		Side:      side,
		Timestamp: when,
	}
	if err := t.Validate(); err != nil {
		return models.Trade{}, err
	}
	return t, nil
}

type decodedTradeKey struct{}

// KafkaTradesHandler consumes the trades topic and feeds the ingest pipeline.
type KafkaTradesHandler struct {
	topic   string
	pipe    mid.Proc
	metrics domrepo.Metrics
}

func NewKafkaTradesHandler(topic string, pipe mid.Proc, metrics domrepo.Metrics) *KafkaTradesHandler {
	return &KafkaTradesHandler{topic: topic, pipe: pipe, metrics: metrics}
}

func (h *KafkaTradesHandler) Topic() string { return h.topic }

// Handle ingests one message. Payloads already decoded by Hook are taken
// from ctx.
func (h *KafkaTradesHandler) Handle(ctx context.Context, b []byte) error {
	t, ok := ctx.Value(decodedTradeKey{}).(models.Trade)
	if !ok {
		var err error
		if t, err = decodeTrade(b); err != nil {
			h.metrics.RecordError("consumer_unmarshal")
			return err
		}
	}

	if !t.Timestamp.IsZero() {
		h.metrics.RecordLatency("ingest_e2e", time.Since(t.Timestamp).Seconds())
	}
	if err := h.pipe.Process(ctx, &t); err != nil {
		if errors.Is(err, models.ErrInvalidTrade) {
			// redelivery cannot fix a bad trade
			return nil
		}
		h.metrics.RecordError("consumer_process")
		return err
	}
	return nil
}

// Hook rejects undecodable or invalid payloads before the handler runs so
// they skip retries and go straight to the dead-letter topic.
func (h *KafkaTradesHandler) Hook() pkgkafka.ConsumerHook {
	return pkgkafka.HookFuncs{
		Before: func(ctx context.Context, topic string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
			if topic != h.topic {
				return ctx, km, data, nil
			}
			if len(data) == 0 {
				return ctx, km, data, &pkgkafka.HookError{Code: "ERR_VALIDATION", Err: errors.New("empty payload")}
			}
			t, err := decodeTrade(data)
			if err != nil {
				return ctx, km, data, &pkgkafka.HookError{Code: "ERR_VALIDATION", Err: err}
			}
			return context.WithValue(ctx, decodedTradeKey{}, t), km, data, nil
		},
		Err: func(_ context.Context, _ string, _ kafka.Message, _ []byte, err error) {
			var he *pkgkafka.HookError
			if errors.As(err, &he) {
				h.metrics.RecordError("consumer_" + he.Code)
			}
		},
	}
}

func decodeTrade(b []byte) (models.Trade, error) {
	var m TradeMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return models.Trade{}, fmt.Errorf("decode trade: %w", err)
	}
	return m.Trade()
}

var _ pkgkafka.MessageHandler = (*KafkaTradesHandler)(nil)
