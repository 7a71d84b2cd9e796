package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"KlineHub/internal/domain/models"
)

type mockMetrics struct{ mock.Mock }

func (m *mockMetrics) RecordTradeIngested(symbol string)            { m.Called(symbol) }
func (m *mockMetrics) RecordBarSealed(symbol, interval string)      { m.Called(symbol, interval) }
func (m *mockMetrics) RecordMessageSent(backend, symbol string)     { m.Called(backend, symbol) }
func (m *mockMetrics) RecordDropped(kind string)                    { m.Called(kind) }
func (m *mockMetrics) RecordError(kind string)                      { m.Called(kind) }
func (m *mockMetrics) RecordLastPrice(symbol string, price float64) { m.Called(symbol, price) }
func (m *mockMetrics) RecordLatency(op string, seconds float64)     { m.Called(op, seconds) }

// looseMetrics accepts every call.
func looseMetrics() *mockMetrics {
	m := &mockMetrics{}
	for _, name := range []string{"RecordTradeIngested", "RecordDropped", "RecordError"} {
		m.On(name, mock.Anything).Maybe()
	}
	for _, name := range []string{"RecordBarSealed", "RecordMessageSent", "RecordLastPrice", "RecordLatency"} {
		m.On(name, mock.Anything, mock.Anything).Maybe()
	}
	return m
}

type mockIngester struct{ mock.Mock }

func (m *mockIngester) Ingest(t models.Trade) error { return m.Called(t).Error(0) }

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) Publish(topic string, msg models.Trade) int {
	return m.Called(topic, msg).Int(0)
}

type mockProc struct {
	mu     sync.Mutex
	trades []*models.Trade
	err    error
}

func (p *mockProc) Process(_ context.Context, t *models.Trade) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trades = append(p.trades, t)
	return p.err
}

func (p *mockProc) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.trades)
}

// session is one Read() of a fakeStream.
type session struct {
	trades chan *models.Trade
	errs   chan error
}

// fakeStream hands out a fresh session per Read call.
type fakeStream struct {
	mu            sync.Mutex
	connected     bool
	connectErr    error
	reconnectErrs []error
	reconnects    int
	closed        int
	sessions      chan session
}

func newFakeStream() *fakeStream {
	return &fakeStream{sessions: make(chan session, 8)}
}

func (s *fakeStream) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connectErr != nil {
		return s.connectErr
	}
	s.connected = true
	return nil
}

func (s *fakeStream) Subscribe(context.Context) error { return nil }

func (s *fakeStream) Read(context.Context) (<-chan *models.Trade, <-chan error) {
	ss := session{trades: make(chan *models.Trade, 16), errs: make(chan error, 1)}
	s.sessions <- ss
	return ss.trades, ss.errs
}

func (s *fakeStream) Reconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnects++
	if len(s.reconnectErrs) > 0 {
		err := s.reconnectErrs[0]
		s.reconnectErrs = s.reconnectErrs[1:]
		return err
	}
	s.connected = true
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	s.connected = false
	return nil
}

func (s *fakeStream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeStream) reconnectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnects
}

func (s *fakeStream) nextSession(timeout time.Duration) (session, bool) {
	select {
	case ss := <-s.sessions:
		return ss, true
	case <-time.After(timeout):
		return session{}, false
	}
}
