package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/smartgarden/garden-core/internal/infrastructure/config"
	"github.com/smartgarden/garden-core/internal/infrastructure/logging"
)

// Event channels clients can subscribe to.
const (
	ChannelTelemetry   = "telemetry.updated"
	ChannelDeviceState = "device.state_changed"
	ChannelSmartAction = "smart.action"
	ChannelSmartCycle  = "smart.cycle"

	// ChannelAll subscribes to every channel.
	ChannelAll = "*"
)

// Channels lists every event channel in a stable order.
var Channels = []string{ChannelTelemetry, ChannelDeviceState, ChannelSmartAction, ChannelSmartCycle}

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeSnapshot    = "snapshot"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// outboxSize is how many encoded messages may queue per subscriber
	// before new events are dropped for it.
	outboxSize = 256
)

// WSMessage is the envelope for every frame in both directions.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// SnapshotFunc returns the current state of a channel, sent to a
// subscriber as soon as it joins the channel. ok is false for channels
// that only carry events.
type SnapshotFunc func(channel string) (payload any, ok bool)

// Hub fans garden events out to websocket subscribers.
//
// Thread Safety: all methods are safe for concurrent use. Broadcast never
// blocks on a slow subscriber.
type Hub struct {
	cfg      config.WebSocketConfig
	logger   *logging.Logger
	snapshot SnapshotFunc

	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// subscriber is one websocket connection and its channel set.
type subscriber struct {
	hub    *Hub
	conn   *websocket.Conn
	outbox chan []byte

	mu       sync.RWMutex
	channels map[string]bool
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are checked by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:    cfg,
		logger: logger,
		subs:   make(map[*subscriber]struct{}),
	}
}

// SetSnapshot installs the function that primes new subscribers.
func (h *Hub) SetSnapshot(fn SnapshotFunc) {
	h.mu.Lock()
	h.snapshot = fn
	h.mu.Unlock()
}

// Run blocks until ctx is cancelled, then disconnects every subscriber.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*subscriber]struct{})
	h.mu.Unlock()

	for s := range subs {
		close(s.outbox)
	}
}

// Broadcast sends payload to every subscriber of channel.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := encode(WSMessage{Type: WSTypeEvent, EventType: channel, Payload: payload})
	if err != nil {
		h.logger.Error("encoding websocket event failed", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if s.wants(channel) {
			s.enqueue(data)
		}
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) add(s *subscriber) {
	h.mu.Lock()
	h.subs[s] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// remove drops s and closes its outbox. Only the call that finds s in the
// map closes it, so Run and the read loop can race safely.
func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	_, ok := h.subs[s]
	delete(h.subs, s)
	n := len(h.subs)
	h.mu.Unlock()

	if ok {
		close(s.outbox)
		h.logger.Debug("websocket client disconnected", "clients", n)
	}
}

func (h *Hub) snapshotOf(channel string) (any, bool) {
	h.mu.RLock()
	fn := h.snapshot
	h.mu.RUnlock()
	if fn == nil {
		return nil, false
	}
	return fn(channel)
}

// handleWebSocket upgrades the request. An optional ?channels=a,b query
// subscribes the connection before the first frame is read.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var initial []string
	if q := r.URL.Query().Get("channels"); q != "" {
		initial = strings.Split(q, ",")
		if bad := unknownChannels(initial); len(bad) > 0 {
			writeBadRequest(w, "unknown channels: "+strings.Join(bad, ","))
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sub := &subscriber{
		hub:      s.Hub(),
		conn:     conn,
		outbox:   make(chan []byte, outboxSize),
		channels: make(map[string]bool),
	}
	sub.hub.add(sub)
	sub.prime(sub.subscribe(initial))

	go sub.writeLoop(s.wsCfg)
	go sub.readLoop(s.wsCfg)
}

func (s *subscriber) readLoop(cfg config.WebSocketConfig) {
	defer func() {
		s.hub.remove(s)
		s.conn.Close()
	}()

	deadline := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	s.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	s.conn.SetReadDeadline(time.Now().Add(deadline)) //nolint:errcheck // read error surfaces below
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(deadline)) //nolint:errcheck // read error surfaces above
		s.handle(frame)
	}
}

func (s *subscriber) writeLoop(cfg config.WebSocketConfig) {
	ping := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ping.Stop()
		s.conn.Close()
	}()

	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	for {
		select {
		case data, ok := <-s.outbox:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // write error surfaces below
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, nil) //nolint:errcheck // closing anyway
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // write error surfaces below
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *subscriber) handle(frame []byte) {
	var msg struct {
		Type    string             `json:"type"`
		ID      string             `json:"id"`
		Payload WSSubscribePayload `json:"payload"`
	}
	if err := json.Unmarshal(frame, &msg); err != nil {
		s.reply("", WSTypeError, map[string]string{"message": "invalid JSON message"})
		return
	}

	switch msg.Type {
	case WSTypePing:
		s.reply(msg.ID, WSTypePong, nil)
	case WSTypeSubscribe, WSTypeUnsubscribe:
		if bad := unknownChannels(msg.Payload.Channels); len(bad) > 0 {
			s.reply(msg.ID, WSTypeError, map[string]any{"message": "unknown channels", "channels": bad})
			return
		}
		if msg.Type == WSTypeSubscribe {
			added := s.subscribe(msg.Payload.Channels)
			s.reply(msg.ID, WSTypeResponse, map[string]any{"subscribed": msg.Payload.Channels})
			s.prime(added)
			return
		}
		s.leave(msg.Payload.Channels)
		s.reply(msg.ID, WSTypeResponse, map[string]any{"unsubscribed": msg.Payload.Channels})
	default:
		s.reply(msg.ID, WSTypeError, map[string]string{"message": "unknown message type: " + msg.Type})
	}
}

// subscribe adds channels and returns the ones that were new.
func (s *subscriber) subscribe(channels []string) []string {
	var added []string
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range expand(channels) {
		if !s.channels[ch] {
			s.channels[ch] = true
			added = append(added, ch)
		}
	}
	return added
}

// prime sends the current state of each channel that has one.
func (s *subscriber) prime(channels []string) {
	for _, ch := range channels {
		if payload, ok := s.hub.snapshotOf(ch); ok {
			if data, err := encode(WSMessage{Type: WSTypeSnapshot, EventType: ch, Payload: payload}); err == nil {
				s.deliver(data)
			}
		}
	}
}

func (s *subscriber) leave(channels []string) {
	s.mu.Lock()
	for _, ch := range expand(channels) {
		delete(s.channels, ch)
	}
	s.mu.Unlock()
}

func (s *subscriber) wants(channel string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channels[channel]
}

// enqueue never blocks: a full outbox drops data. Callers hold the hub
// read lock so the outbox cannot be closed underneath them.
func (s *subscriber) enqueue(data []byte) {
	select {
	case s.outbox <- data:
	default:
	}
}

func (s *subscriber) reply(id, msgType string, payload any) {
	if data, err := encode(WSMessage{Type: msgType, ID: id, Payload: payload}); err == nil {
		s.deliver(data)
	}
}

// deliver enqueues data if s is still registered.
func (s *subscriber) deliver(data []byte) {
	s.hub.mu.RLock()
	defer s.hub.mu.RUnlock()
	if _, ok := s.hub.subs[s]; ok {
		s.enqueue(data)
	}
}

func encode(msg WSMessage) ([]byte, error) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	return json.Marshal(msg)
}

// expand replaces ChannelAll with every channel.
func expand(channels []string) []string {
	if slices.Contains(channels, ChannelAll) {
		return Channels
	}
	return channels
}

func unknownChannels(channels []string) []string {
	var bad []string
	for _, ch := range channels {
		if ch != ChannelAll && !slices.Contains(Channels, ch) {
			bad = append(bad, ch)
		}
	}
	return bad
}
