// ws.go implements the authenticated user WebSocket feed for fill and order
// lifecycle events. The scanner and edge pipeline poll REST on a schedule,
// but fill reconciliation wants to see matches as they happen rather than
// waiting for the next lifecycle tick; this feed is best-effort and the
// lifecycle manager's polling reconciliation remains the source of truth.
//
// The feed auto-reconnects with exponential backoff (1s -> 30s max) and
// re-subscribes to all tracked condition IDs on reconnection. A read
// deadline (90s) detects a silent server within ~2 missed pings.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsPingInterval     = 50 * time.Second
	wsReadTimeout      = 90 * time.Second
	wsMaxReconnectWait = 30 * time.Second
	wsWriteTimeout     = 10 * time.Second
	wsEventBufferSize  = 64
)

// TradeEvent is a fill notification: one of our resting orders matched.
type TradeEvent struct {
	ID      string `json:"id"`
	Market  string `json:"market"`
	AssetID string `json:"asset_id"`
	Side    string `json:"side"`
	Size    string `json:"size"`
	Price   string `json:"price"`
	Outcome string `json:"outcome"`
}

// OrderEvent is an order lifecycle notification (placed, matched, canceled).
type OrderEvent struct {
	ID          string `json:"id"`
	Market      string `json:"market"`
	AssetID     string `json:"asset_id"`
	Status      string `json:"status"`
	SizeMatched string `json:"size_matched"`
}

type wsSubscribeMsg struct {
	Auth    *wsAuth  `json:"auth,omitempty"`
	Type    string   `json:"type"`
	Markets []string `json:"markets,omitempty"`
}

type wsAuth struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

type wsUpdateMsg struct {
	Markets   []string `json:"markets,omitempty"`
	Operation string   `json:"operation"`
}

// UserFeed is the authenticated WebSocket connection for fill and order
// lifecycle events, keyed by condition ID (market).
type UserFeed struct {
	url  string
	auth *Auth

	connMu sync.Mutex
	conn   *websocket.Conn

	subscribedMu sync.RWMutex
	subscribed   map[string]bool

	tradeCh chan TradeEvent
	orderCh chan OrderEvent

	logger *slog.Logger
}

// NewUserFeed creates a user-channel feed. auth must already have L2
// credentials set.
func NewUserFeed(wsURL string, auth *Auth, logger *slog.Logger) *UserFeed {
	return &UserFeed{
		url:        wsURL,
		auth:       auth,
		subscribed: make(map[string]bool),
		tradeCh:    make(chan TradeEvent, wsEventBufferSize),
		orderCh:    make(chan OrderEvent, wsEventBufferSize),
		logger:     logger.With("component", "venue.polymarket.ws"),
	}
}

func (f *UserFeed) TradeEvents() <-chan TradeEvent { return f.tradeCh }
func (f *UserFeed) OrderEvents() <-chan OrderEvent { return f.orderCh }

// Subscribe adds condition IDs to the tracked set and, if connected, sends
// an incremental subscription update.
func (f *UserFeed) Subscribe(marketIDs []string) error {
	f.subscribedMu.Lock()
	for _, id := range marketIDs {
		f.subscribed[id] = true
	}
	f.subscribedMu.Unlock()

	return f.writeJSON(wsUpdateMsg{Operation: "subscribe", Markets: marketIDs})
}

// Run connects and maintains the connection with auto-reconnect. Blocks
// until ctx is cancelled.
func (f *UserFeed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("websocket disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > wsMaxReconnectWait {
			backoff = wsMaxReconnectWait
		}
	}
}

func (f *UserFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *UserFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.sendInitialSubscription(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	f.logger.Info("websocket connected")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.dispatchMessage(msg)
	}
}

func (f *UserFeed) sendInitialSubscription() error {
	f.subscribedMu.RLock()
	ids := make([]string, 0, len(f.subscribed))
	for id := range f.subscribed {
		ids = append(ids, id)
	}
	f.subscribedMu.RUnlock()

	return f.writeJSON(wsSubscribeMsg{
		Type: "user",
		Auth: &wsAuth{
			APIKey:     f.auth.creds.ApiKey,
			Secret:     f.auth.creds.Secret,
			Passphrase: f.auth.creds.Passphrase,
		},
		Markets: ids,
	})
}

func (f *UserFeed) dispatchMessage(data []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		f.logger.Debug("ignoring non-json ws message", "data", string(data))
		return
	}

	switch envelope.EventType {
	case "trade":
		var evt TradeEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal trade event", "error", err)
			return
		}
		select {
		case f.tradeCh <- evt:
		default:
			f.logger.Warn("trade channel full, dropping event", "id", evt.ID)
		}

	case "order":
		var evt OrderEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal order event", "error", err)
			return
		}
		select {
		case f.orderCh <- evt:
		default:
			f.logger.Warn("order channel full, dropping event", "id", evt.ID)
		}

	default:
		f.logger.Debug("ignoring ws event", "type", envelope.EventType)
	}
}

func (f *UserFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *UserFeed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return nil // not connected yet; sendInitialSubscription covers the first send
	}
	f.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return f.conn.WriteJSON(v)
}

func (f *UserFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return f.conn.WriteMessage(msgType, data)
}
