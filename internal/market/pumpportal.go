package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/talon-trading/talon/internal/solana"
)

// ---------------------------------------------------------------------------
// PumpPortal Token Feed — real-time new token mints via subscribeNewToken
// ---------------------------------------------------------------------------

// PumpFeedConfig configures the PumpPortal websocket feed.
type PumpFeedConfig struct {
	WSEndpoint       string `yaml:"ws_endpoint"`
	ReconnectDelayMs int    `yaml:"reconnect_delay_ms"`
	PingIntervalS    int    `yaml:"ping_interval_s"`
}

// DefaultPumpFeedConfig returns defaults for the public PumpPortal endpoint.
func DefaultPumpFeedConfig() PumpFeedConfig {
	return PumpFeedConfig{
		WSEndpoint:       "wss://pumpportal.fun/api/data",
		ReconnectDelayMs: 1000,
		PingIntervalS:    30,
	}
}

// TokenEvent is emitted when a new token launch is observed.
type TokenEvent struct {
	Mint       solana.Pubkey `json:"mint"`
	Name       string        `json:"name"`
	Symbol     string        `json:"symbol"`
	Source     string        `json:"source"`
	DetectedAt time.Time     `json:"detected_at"`
}

// PumpFeed streams newly launched tokens from the PumpPortal websocket,
// reconnecting with exponential backoff on failure.
type PumpFeed struct {
	config PumpFeedConfig

	mu   sync.RWMutex
	conn *websocket.Conn

	tokenChan chan TokenEvent
	closed    atomic.Bool

	// Stats.
	messagesRecv   atomic.Int64
	tokensDetected atomic.Int64
	reconnects     atomic.Int64
	connected      atomic.Bool
}

// NewPumpFeed creates a PumpPortal token feed.
func NewPumpFeed(config PumpFeedConfig) *PumpFeed {
	return &PumpFeed{
		config:    config,
		tokenChan: make(chan TokenEvent, 256),
	}
}

// Start connects and begins streaming. Returns the token channel; the feed
// runs until ctx is cancelled, after which the channel is closed.
func (f *PumpFeed) Start(ctx context.Context) <-chan TokenEvent {
	go f.runLoop(ctx)
	return f.tokenChan
}

func (f *PumpFeed) runLoop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("pumpfeed: runLoop panic recovered")
		}
		// Write lock synchronizes with handleMessage's channel send.
		f.mu.Lock()
		if f.closed.CompareAndSwap(false, true) {
			close(f.tokenChan)
		}
		f.mu.Unlock()
	}()

	reconnectDelay := time.Duration(f.config.ReconnectDelayMs) * time.Millisecond
	maxDelay := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			f.disconnect()
			return
		default:
		}

		if err := f.connect(ctx); err != nil {
			log.Warn().Err(err).Msg("pumpfeed: connection failed")
			f.reconnects.Add(1)

			select {
			case <-time.After(reconnectDelay):
				reconnectDelay = reconnectDelay * 2
				if reconnectDelay > maxDelay {
					reconnectDelay = maxDelay
				}
			case <-ctx.Done():
				return
			}
			continue
		}

		reconnectDelay = time.Duration(f.config.ReconnectDelayMs) * time.Millisecond

		if err := f.subscribe(); err != nil {
			log.Warn().Err(err).Msg("pumpfeed: subscribe failed")
			f.disconnect()
			continue
		}

		f.readLoop(ctx)
	}
}

func (f *PumpFeed) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, f.config.WSEndpoint, http.Header{})
	if err != nil {
		return fmt.Errorf("pumpfeed: dial: %w", err)
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	f.connected.Store(true)

	log.Info().Str("endpoint", f.config.WSEndpoint).Msg("pumpfeed: connected")
	return nil
}

func (f *PumpFeed) disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
	f.connected.Store(false)
}

func (f *PumpFeed) subscribe() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("pumpfeed: not connected")
	}
	req := map[string]any{"method": "subscribeNewToken"}
	if err := f.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("pumpfeed: write subscribe: %w", err)
	}
	log.Info().Msg("pumpfeed: subscribed to new token stream")
	return nil
}

func (f *PumpFeed) readLoop(ctx context.Context) {
	pingInterval := time.Duration(f.config.PingIntervalS) * time.Second
	if pingInterval == 0 {
		pingInterval = 30 * time.Second
	}
	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			f.mu.RLock()
			conn := f.conn
			f.mu.RUnlock()
			if conn != nil {
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					log.Debug().Err(err).Msg("pumpfeed: ping failed")
					return
				}
			}
		default:
		}

		f.mu.RLock()
		conn := f.conn
		f.mu.RUnlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Info().Msg("pumpfeed: connection closed normally")
			} else {
				log.Warn().Err(err).Msg("pumpfeed: read error, reconnecting")
			}
			f.connected.Store(false)
			return
		}

		f.messagesRecv.Add(1)
		f.handleMessage(message)
	}
}

func (f *PumpFeed) handleMessage(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("pumpfeed: handleMessage panic recovered")
		}
	}()

	var msg struct {
		Mint   string `json:"mint"`
		Name   string `json:"name"`
		Symbol string `json:"symbol"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if msg.Mint == "" {
		// Subscription confirmation or unrelated message.
		return
	}

	mint := solana.Pubkey(msg.Mint)
	if err := solana.ValidateMint(mint); err != nil {
		log.Debug().Str("addr", msg.Mint).Msg("pumpfeed: skipping malformed mint")
		return
	}

	event := TokenEvent{
		Mint:       mint,
		Name:       msg.Name,
		Symbol:     msg.Symbol,
		Source:     "pumpfun",
		DetectedAt: time.Now(),
	}

	f.tokensDetected.Add(1)

	// Synchronize channel send with close to avoid send-on-closed panic.
	f.mu.RLock()
	if !f.closed.Load() {
		select {
		case f.tokenChan <- event:
			log.Info().
				Str("mint", mint.Short()).
				Str("symbol", msg.Symbol).
				Msg("pumpfeed: new token detected")
		default:
			log.Warn().Msg("pumpfeed: token channel full, dropping event")
		}
	}
	f.mu.RUnlock()
}

// FeedStats reports stream counters.
type FeedStats struct {
	Connected      bool  `json:"connected"`
	MessagesRecv   int64 `json:"messages_recv"`
	TokensDetected int64 `json:"tokens_detected"`
	Reconnects     int64 `json:"reconnects"`
}

func (f *PumpFeed) Stats() FeedStats {
	return FeedStats{
		Connected:      f.connected.Load(),
		MessagesRecv:   f.messagesRecv.Load(),
		TokensDetected: f.tokensDetected.Load(),
		Reconnects:     f.reconnects.Load(),
	}
}
