package binance

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// MainnetStreamURL is the production spot market data stream host.
	MainnetStreamURL = "wss://stream.binance.com:9443"
	// TestnetStreamURL is the spot testnet stream host.
	TestnetStreamURL = "wss://stream.testnet.binance.vision"

	// Listen keys expire after 60 minutes without a keepalive.
	keepAliveInterval = 30 * time.Minute
)

// UserDataStream maintains the private WebSocket session that delivers
// execution reports. Fill notifications arriving here are the authoritative
// source of order state, not the REST responses.
type UserDataStream struct {
	mu sync.RWMutex

	client    SpotClient
	listenKey string
	wsConn    *websocket.Conn
	isRunning bool
	stopChan  chan struct{}
	ctx       context.Context

	onExecutionReport func(*ExecutionReport)
	onConnected       func(reconnect bool)

	baseURL    string
	reconnects int
	logger     zerolog.Logger
}

// ExecutionReport is the order update event from the spot user data stream.
type ExecutionReport struct {
	EventType           string  `json:"e"`
	EventTime           int64   `json:"E"`
	Symbol              string  `json:"s"`
	ClientOrderId       string  `json:"c"`
	Side                string  `json:"S"` // BUY, SELL
	OrderType           string  `json:"o"` // LIMIT, MARKET
	OriginalQuantity    float64 `json:"q,string"`
	OriginalPrice       float64 `json:"p,string"`
	ExecutionType       string  `json:"x"` // NEW, TRADE, CANCELED, etc.
	OrderStatus         string  `json:"X"` // NEW, PARTIALLY_FILLED, FILLED, CANCELED
	OrderId             int64   `json:"i"`
	LastFilledQty       float64 `json:"l,string"`
	CumulativeFilledQty float64 `json:"z,string"`
	LastFilledPrice     float64 `json:"L,string"`
	Commission          float64 `json:"n,string"`
	CommissionAsset     string  `json:"N"`
	TransactionTime     int64   `json:"T"`
}

// NewUserDataStream creates a new user data stream
func NewUserDataStream(client SpotClient, baseURL string, logger zerolog.Logger) *UserDataStream {
	return &UserDataStream{
		client:   client,
		baseURL:  baseURL,
		stopChan: make(chan struct{}),
		logger:   logger.With().Str("component", "user_data_stream").Logger(),
	}
}

// SetExecutionReportCallback sets the callback for order execution updates
func (s *UserDataStream) SetExecutionReportCallback(cb func(*ExecutionReport)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExecutionReport = cb
}

// SetConnectedCallback sets a callback fired after every successful connect.
// The reconnect flag is false only for the first connection; callers use it
// to trigger reconciliation of pending orders after a dropped session.
func (s *UserDataStream) SetConnectedCallback(cb func(reconnect bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnected = cb
}

// Start obtains a listen key and begins the stream connection
func (s *UserDataStream) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.ctx = ctx
	s.mu.Unlock()

	listenKey, err := s.client.GetListenKey(ctx)
	if err != nil {
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.listenKey = listenKey
	s.mu.Unlock()

	go s.connect()
	go s.keepAliveLoop()

	s.logger.Info().Msg("user data stream started")
	return nil
}

// Stop closes the stream and releases the listen key
func (s *UserDataStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}

	s.isRunning = false
	close(s.stopChan)

	if s.wsConn != nil {
		s.wsConn.Close()
	}

	if s.listenKey != "" {
		_ = s.client.CloseListenKey(context.Background(), s.listenKey)
	}

	s.logger.Info().Msg("user data stream stopped")
}

// IsRunning returns true if the stream is running
func (s *UserDataStream) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Reconnects returns how many times the session has been re-established.
func (s *UserDataStream) Reconnects() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reconnects
}

// connect establishes the WebSocket connection and reconnects on loss
func (s *UserDataStream) connect() {
	first := true

	for {
		s.mu.RLock()
		if !s.isRunning {
			s.mu.RUnlock()
			return
		}
		wsURL := s.baseURL + "/ws/" + s.listenKey
		s.mu.RUnlock()

		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			s.logger.Warn().Err(err).Msg("stream connection failed, retrying in 5s")
			time.Sleep(5 * time.Second)
			continue
		}

		s.mu.Lock()
		s.wsConn = conn
		if !first {
			s.reconnects++
		}
		onConnected := s.onConnected
		s.mu.Unlock()

		s.logger.Info().Bool("reconnect", !first).Msg("stream connected")

		if onConnected != nil {
			go onConnected(!first)
		}
		first = false

		s.readLoop(conn)

		s.mu.RLock()
		isRunning := s.isRunning
		s.mu.RUnlock()
		if !isRunning {
			return
		}

		s.logger.Warn().Msg("stream connection lost, reconnecting in 3s")
		time.Sleep(3 * time.Second)
	}
}

// readLoop reads messages until the connection drops
func (s *UserDataStream) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info().Msg("stream closed normally")
			} else {
				s.logger.Warn().Err(err).Msg("stream read error")
			}
			return
		}

		s.handleMessage(message)
	}
}

// handleMessage dispatches an incoming stream message by event type
func (s *UserDataStream) handleMessage(message []byte) {
	var baseEvent struct {
		EventType string `json:"e"`
	}
	if err := json.Unmarshal(message, &baseEvent); err != nil {
		s.logger.Warn().Err(err).Msg("failed to parse stream event type")
		return
	}

	switch baseEvent.EventType {
	case "executionReport":
		s.handleExecutionReport(message)

	case "listenKeyExpired":
		s.logger.Warn().Msg("listen key expired, refreshing")
		s.refreshListenKey()

	case "outboundAccountPosition", "balanceUpdate":
		// Balance snapshots are fetched over REST when needed.

	default:
		s.logger.Debug().Str("event", baseEvent.EventType).Msg("ignoring stream event")
	}
}

func (s *UserDataStream) handleExecutionReport(message []byte) {
	var report ExecutionReport
	if err := json.Unmarshal(message, &report); err != nil {
		s.logger.Warn().Err(err).Msg("failed to parse execution report")
		return
	}

	s.logger.Debug().
		Str("symbol", report.Symbol).
		Str("side", report.Side).
		Int64("order_id", report.OrderId).
		Str("status", report.OrderStatus).
		Float64("filled_qty", report.CumulativeFilledQty).
		Msg("execution report")

	s.mu.RLock()
	cb := s.onExecutionReport
	s.mu.RUnlock()

	if cb != nil {
		cb(&report)
	}
}

// keepAliveLoop renews the listen key on a fixed interval, independently of
// message traffic.
func (s *UserDataStream) keepAliveLoop() {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	consecutiveFailures := 0
	const maxConsecutiveFailures = 3

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.mu.RLock()
			listenKey := s.listenKey
			isRunning := s.isRunning
			ctx := s.ctx
			s.mu.RUnlock()

			if !isRunning {
				return
			}

			success := false
			var lastErr error
			for attempt := 1; attempt <= 3; attempt++ {
				if err := s.client.KeepAliveListenKey(ctx, listenKey); err != nil {
					lastErr = err
					s.logger.Warn().Err(err).Int("attempt", attempt).Msg("keepalive failed")
					if attempt < 3 {
						time.Sleep(5 * time.Second)
					}
				} else {
					success = true
					break
				}
			}

			if success {
				consecutiveFailures = 0
				s.logger.Debug().Msg("listen key kept alive")
			} else {
				consecutiveFailures++
				s.logger.Error().Err(lastErr).Int("consecutive_failures", consecutiveFailures).
					Msg("all keepalive attempts failed")

				if consecutiveFailures >= maxConsecutiveFailures {
					s.logger.Warn().Msg("forcing listen key refresh")
					s.refreshListenKey()
					consecutiveFailures = 0
				}
			}
		}
	}
}

// refreshListenKey obtains a new listen key and forces a reconnect
func (s *UserDataStream) refreshListenKey() {
	s.mu.RLock()
	ctx := s.ctx
	s.mu.RUnlock()

	listenKey, err := s.client.GetListenKey(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to refresh listen key")
		return
	}

	s.mu.Lock()
	s.listenKey = listenKey
	if s.wsConn != nil {
		s.wsConn.Close() // triggers reconnect with the new key
	}
	s.mu.Unlock()

	s.logger.Info().Msg("listen key refreshed")
}
