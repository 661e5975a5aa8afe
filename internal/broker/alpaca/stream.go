package alpaca

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/polystrat/polystrat/internal/domain"
)

const (
	streamDialTimeout  = 30 * time.Second
	baseReconnectDelay = 5 * time.Second
	maxReconnectDelay  = 5 * time.Minute
)

// TradeUpdateStream listens to the broker's trade-updates websocket and
// keeps the latest known status per order. The settlement poller uses it
// as a fast path; REST polling remains the source of truth.
type TradeUpdateStream struct {
	url       string
	keyID     string
	secretKey string

	mu       sync.RWMutex
	statuses map[string]domain.OrderStatus
	conn     *websocket.Conn
	stopped  bool

	stopChan chan struct{}
	log      zerolog.Logger
}

// NewTradeUpdateStream creates a stream client for the trading endpoint.
// Call Run to connect.
func NewTradeUpdateStream(cfg Config, log zerolog.Logger) *TradeUpdateStream {
	wsURL := cfg.StreamURL
	if wsURL == "" {
		tradingURL := cfg.TradingURL
		if tradingURL == "" {
			if cfg.Paper {
				tradingURL = paperTradingURL
			} else {
				tradingURL = defaultTradingURL
			}
		}
		wsURL = strings.Replace(tradingURL, "https://", "wss://", 1) + "/stream"
	}
	return &TradeUpdateStream{
		url:       wsURL,
		keyID:     cfg.KeyID,
		secretKey: cfg.SecretKey,
		statuses:  make(map[string]domain.OrderStatus),
		stopChan:  make(chan struct{}),
		log:       log.With().Str("component", "trade_update_stream").Logger(),
	}
}

// OrderStatus returns the last streamed status for an order, if any
func (s *TradeUpdateStream) OrderStatus(orderID string) (domain.OrderStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.statuses[orderID]
	return status, ok
}

// Run connects and consumes trade updates until the context is canceled
// or Stop is called, reconnecting with capped exponential backoff.
func (s *TradeUpdateStream) Run(ctx context.Context) {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		default:
		}

		if err := s.connectAndListen(ctx); err != nil {
			attempt++
			delay := time.Duration(float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1)))
			if delay > maxReconnectDelay {
				delay = maxReconnectDelay
			}
			s.log.Warn().Err(err).Dur("retry_in", delay).Msg("Trade update stream disconnected")
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-time.After(delay):
			}
			continue
		}
		attempt = 0
	}
}

// Stop closes the stream permanently
func (s *TradeUpdateStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.stopChan)
	if s.conn != nil {
		_ = s.conn.Close(websocket.StatusNormalClosure, "shutting down")
	}
}

type streamAuthMsg struct {
	Action string `json:"action"`
	Data   struct {
		KeyID     string `json:"key_id"`
		SecretKey string `json:"secret_key"`
	} `json:"data"`
}

type streamListenMsg struct {
	Action string `json:"action"`
	Data   struct {
		Streams []string `json:"streams"`
	} `json:"data"`
}

type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type tradeUpdateMsg struct {
	Event string `json:"event"`
	Order struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"order"`
}

func (s *TradeUpdateStream) connectAndListen(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, streamDialTimeout)
	conn, _, err := websocket.Dial(dialCtx, s.url, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("dialing %s: %w", s.url, err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer conn.Close(websocket.StatusInternalError, "listener exited")

	auth := streamAuthMsg{Action: "authenticate"}
	auth.Data.KeyID = s.keyID
	auth.Data.SecretKey = s.secretKey
	if err := writeJSON(ctx, conn, auth); err != nil {
		return fmt.Errorf("authenticating: %w", err)
	}

	listen := streamListenMsg{Action: "listen"}
	listen.Data.Streams = []string{"trade_updates"}
	if err := writeJSON(ctx, conn, listen); err != nil {
		return fmt.Errorf("subscribing: %w", err)
	}
	s.log.Info().Str("url", s.url).Msg("Trade update stream connected")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var envelope streamEnvelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			s.log.Debug().Err(err).Msg("Unparseable stream frame")
			continue
		}
		if envelope.Stream != "trade_updates" {
			continue
		}
		var update tradeUpdateMsg
		if err := json.Unmarshal(envelope.Data, &update); err != nil {
			continue
		}
		if update.Order.ID == "" {
			continue
		}
		status := statusFromWire(update.Order.Status)
		s.mu.Lock()
		s.statuses[update.Order.ID] = status
		s.mu.Unlock()
		s.log.Debug().
			Str("order_id", update.Order.ID).
			Str("event", update.Event).
			Str("status", string(status)).
			Msg("Trade update received")
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
