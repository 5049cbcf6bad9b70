package rpcServer

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/copperlabs/engine/pkg/eventBus"
	"github.com/copperlabs/engine/pkg/eventBus/eventBusTypes"
	"github.com/copperlabs/engine/pkg/metrics"
	"github.com/copperlabs/engine/pkg/metrics/metricsTypes"
	"github.com/copperlabs/engine/pkg/utils"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	DefaultMaxWsConnectionsPerIp = 5

	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = 25 * time.Second
	wsSendBuffer     = 64
	wsMaxMessageSize = 4096
	wsConsumerBuffer = 256
)

// LeaderboardInvalidator drops cached rankings.
type LeaderboardInvalidator interface {
	InvalidateLeaderboard()
}

// Message is the frame pushed to websocket clients. Type is the event name.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ClientCommand lets a client narrow wallet scoped events to one wallet.
type ClientCommand struct {
	Action string `json:"action"`
	Wallet string `json:"wallet"`
}

type wsClient struct {
	id     string
	ip     string
	wallet string
	conn   *websocket.Conn
	send   chan []byte
	once   sync.Once
}

// Hub fans event bus events out to connected websocket clients.
type Hub struct {
	mu          sync.Mutex
	clients     map[*wsClient]struct{}
	perIp       map[string]int
	maxPerIp    int
	upgrader    websocket.Upgrader
	invalidator LeaderboardInvalidator
	metricsSink *metrics.MetricsSink
	logger      *zap.Logger
}

func NewHub(invalidator LeaderboardInvalidator, maxPerIp int, origins []string, ms *metrics.MetricsSink, l *zap.Logger) *Hub {
	if maxPerIp <= 0 {
		maxPerIp = DefaultMaxWsConnectionsPerIp
	}
	h := &Hub{
		clients:     make(map[*wsClient]struct{}),
		perIp:       make(map[string]int),
		maxPerIp:    maxPerIp,
		invalidator: invalidator,
		metricsSink: ms,
		logger:      l,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(origins),
	}
	return h
}

func originChecker(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}

// Count returns the number of registered clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Run subscribes to eb and dispatches every event until ctx is done, then
// disconnects all clients.
func (h *Hub) Run(ctx context.Context, eb eventBusTypes.IEventBus) {
	consumer := eventBus.NewConsumer(ctx, "ws-hub-"+uuid.NewString(), wsConsumerBuffer)
	eb.Subscribe(consumer)
	defer eb.Unsubscribe(consumer)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case ev := <-consumer.Channel:
			h.Dispatch(ev)
		}
	}
}

func invalidatesLeaderboard(name eventBusTypes.EventName) bool {
	switch name {
	case eventBusTypes.Event_LeaderboardUpdated,
		eventBusTypes.Event_TierChanged,
		eventBusTypes.Event_SellDetected,
		eventBusTypes.Event_SnapshotTaken,
		eventBusTypes.Event_DistributionExecuted:
		return true
	}
	return false
}

// eventWallet returns the wallet an event is about, or "" for global events.
func eventWallet(data any) string {
	switch d := data.(type) {
	case *eventBusTypes.TierChangedData:
		return d.Wallet
	case *eventBusTypes.SellDetectedData:
		return d.Wallet
	}
	return ""
}

// Dispatch pushes ev to every interested client. Clients whose send buffer
// is full are disconnected.
func (h *Hub) Dispatch(ev *eventBusTypes.Event) {
	if ev == nil {
		return
	}
	if h.invalidator != nil && invalidatesLeaderboard(ev.Name) {
		h.invalidator.InvalidateLeaderboard()
	}
	payload, err := json.Marshal(&Message{Type: string(ev.Name), Data: ev.Data})
	if err != nil {
		h.logger.Sugar().Errorw("Failed to encode websocket message",
			zap.String("event", string(ev.Name)),
			zap.Error(err),
		)
		return
	}
	scope := eventWallet(ev.Data)

	h.mu.Lock()
	var slow []*wsClient
	for c := range h.clients {
		if scope != "" && c.wallet != "" && c.wallet != scope {
			continue
		}
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		h.logger.Sugar().Debugw("Dropping slow websocket client", zap.String("clientId", c.id))
		h.unregister(c)
	}
}

func (h *Hub) reserve(ip string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.perIp[ip] >= h.maxPerIp {
		return false
	}
	h.perIp[ip]++
	return true
}

func (h *Hub) releaseIp(ip string) {
	h.perIp[ip]--
	if h.perIp[ip] <= 0 {
		delete(h.perIp, ip)
	}
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	_ = h.metricsSink.Gauge(metricsTypes.Metric_Gauge_WsConnections, float64(n), nil)
}

func (h *Hub) unregister(c *wsClient) {
	c.once.Do(func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.releaseIp(c.ip)
		n := len(h.clients)
		close(c.send)
		h.mu.Unlock()
		_ = h.metricsSink.Gauge(metricsTypes.Metric_Gauge_WsConnections, float64(n), nil)
	})
}

func (h *Hub) setWallet(c *wsClient, wallet string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.wallet = wallet
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.unregister(c)
	}
}

// ServeWs upgrades the request. An optional wallet query parameter limits
// wallet scoped events to that wallet.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	wallet := r.URL.Query().Get("wallet")
	if wallet != "" && !utils.IsValidWalletAddress(wallet) {
		writeError(w, http.StatusBadRequest, "invalid_wallet", "wallet must be a base58 Solana address")
		return
	}
	ip := clientIP(r)
	if !h.reserve(ip) {
		writeError(w, http.StatusTooManyRequests, "too_many_connections", "too many websocket connections from this address")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.mu.Lock()
		h.releaseIp(ip)
		h.mu.Unlock()
		h.logger.Sugar().Debugw("Websocket upgrade failed", zap.Error(err))
		return
	}

	c := &wsClient{
		id:     uuid.NewString(),
		ip:     ip,
		wallet: wallet,
		conn:   conn,
		send:   make(chan []byte, wsSendBuffer),
	}
	h.register(c)
	h.logger.Sugar().Debugw("Websocket client connected",
		zap.String("clientId", c.id),
		zap.String("wallet", wallet),
	)

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) readPump(c *wsClient) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(wsMaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd ClientCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			continue
		}
		switch cmd.Action {
		case "subscribe":
			if utils.IsValidWalletAddress(cmd.Wallet) {
				h.setWallet(c, cmd.Wallet)
			}
		case "unsubscribe":
			h.setWallet(c, "")
		}
	}
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
