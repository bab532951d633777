package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	liveWSURL            = "wss://fstream.binance.com/ws"
	liveRestURL          = "https://fapi.binance.com"
	pingInterval         = 30 * time.Second
	reconnectDelay       = 5 * time.Second
	maxReconnectAttempts = 10
)

// LiveSource streams mark prices from the Binance futures WebSocket API
type LiveSource struct {
	wsURL   string
	restURL string

	conn        *websocket.Conn
	connMux     sync.RWMutex
	isConnected bool

	subscriber Subscriber
	subMux     sync.RWMutex

	subscribed    map[string]bool
	subscribedMux sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	reconnectAttempts int
}

// NewLiveSource creates a live exchange price source
func NewLiveSource() *LiveSource {
	return &LiveSource{
		wsURL:      liveWSURL,
		restURL:    liveRestURL,
		subscribed: make(map[string]bool),
	}
}

// Name identifies the source
func (s *LiveSource) Name() string {
	return "live"
}

// IsConnected reports whether the WebSocket is connected
func (s *LiveSource) IsConnected() bool {
	s.connMux.RLock()
	defer s.connMux.RUnlock()
	return s.isConnected
}

// Connect establishes the WebSocket connection and starts the read loops
func (s *LiveSource) Connect(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.connect(); err != nil {
		return err
	}

	s.wg.Add(1)
	go s.messageLoop()

	s.wg.Add(1)
	go s.pingLoop()

	return nil
}

func (s *LiveSource) connect() error {
	s.connMux.Lock()
	defer s.connMux.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.Dial(s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to price feed: %w", err)
	}

	s.conn = conn
	s.isConnected = true
	s.reconnectAttempts = 0

	log.Printf("[LiveSource] WebSocket connected")

	// Resubscribe to previous symbols
	s.subscribedMux.RLock()
	symbols := make([]string, 0, len(s.subscribed))
	for symbol := range s.subscribed {
		symbols = append(symbols, symbol)
	}
	s.subscribedMux.RUnlock()

	if len(symbols) > 0 {
		go s.subscribe(symbols)
	}

	return nil
}

// Subscribe subscribes to mark price updates for given symbols
func (s *LiveSource) Subscribe(symbols []string) error {
	s.subscribedMux.Lock()
	for _, symbol := range symbols {
		s.subscribed[strings.ToUpper(symbol)] = true
	}
	s.subscribedMux.Unlock()

	return s.subscribe(symbols)
}

func (s *LiveSource) subscribe(symbols []string) error {
	if !s.IsConnected() {
		return fmt.Errorf("not connected")
	}

	streams := make([]string, len(symbols))
	for i, symbol := range symbols {
		streams[i] = strings.ToLower(symbol) + "@markPrice@1s"
	}

	msg := map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": streams,
		"id":     time.Now().UnixNano(),
	}

	s.connMux.RLock()
	err := s.conn.WriteJSON(msg)
	s.connMux.RUnlock()

	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	log.Printf("[LiveSource] Subscribed to %d symbols", len(symbols))
	return nil
}

// SetSubscriber sets the price update subscriber
func (s *LiveSource) SetSubscriber(subscriber Subscriber) {
	s.subMux.Lock()
	defer s.subMux.Unlock()
	s.subscriber = subscriber
}

func (s *LiveSource) messageLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		s.connMux.RLock()
		conn := s.conn
		s.connMux.RUnlock()

		if conn == nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[LiveSource] WebSocket error: %v", err)
			}
			s.handleDisconnect()
			continue
		}

		s.handleMessage(message)
	}
}

func (s *LiveSource) handleMessage(message []byte) {
	var data map[string]interface{}
	if err := json.Unmarshal(message, &data); err != nil {
		return
	}

	eventType, ok := data["e"].(string)
	if !ok || eventType != "markPriceUpdate" {
		return
	}

	symbol, _ := data["s"].(string)
	priceStr, _ := data["p"].(string)
	timeMs, _ := data["E"].(float64)

	price, _ := strconv.ParseFloat(priceStr, 64)
	if price <= 0 {
		return
	}

	update := PriceUpdate{
		Symbol:    symbol,
		Price:     price,
		Timestamp: int64(timeMs),
	}

	s.subMux.RLock()
	subscriber := s.subscriber
	s.subMux.RUnlock()

	if subscriber != nil {
		subscriber.OnPriceUpdate(update)
	}
}

func (s *LiveSource) handleDisconnect() {
	s.connMux.Lock()
	s.isConnected = false
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMux.Unlock()

	for s.reconnectAttempts < maxReconnectAttempts {
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}

		s.reconnectAttempts++
		log.Printf("[LiveSource] Attempting reconnect %d/%d", s.reconnectAttempts, maxReconnectAttempts)

		if err := s.connect(); err != nil {
			log.Printf("[LiveSource] Reconnect failed: %v", err)
			continue
		}

		return
	}

	log.Printf("[LiveSource] Max reconnect attempts reached")
}

func (s *LiveSource) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.connMux.RLock()
			conn := s.conn
			isConnected := s.isConnected
			s.connMux.RUnlock()

			if !isConnected || conn == nil {
				continue
			}

			if err := conn.WriteMessage(websocket.PongMessage, nil); err != nil {
				log.Printf("[LiveSource] Ping failed: %v", err)
			}
		}
	}
}

// GetCurrentPrice fetches the current price over REST as a fallback
// when no stream update has arrived yet
func (s *LiveSource) GetCurrentPrice(symbol string) (float64, error) {
	resp, err := http.Get(s.restURL + "/fapi/v1/ticker/price?symbol=" + strings.ToUpper(symbol))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("ticker request failed: %s", resp.Status)
	}

	var result struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, err
	}

	price, err := strconv.ParseFloat(result.Price, 64)
	if err != nil {
		return 0, err
	}

	return price, nil
}

// Close stops the feed
func (s *LiveSource) Close() error {
	if s.cancel != nil {
		s.cancel()
	}

	s.connMux.Lock()
	s.isConnected = false
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMux.Unlock()

	s.wg.Wait()
	return nil
}
