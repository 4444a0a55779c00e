// pkg/network/websocket.go
package network

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/opd-ai/go-dronesim/pkg/engine"
	"github.com/opd-ai/go-dronesim/pkg/event"
	"github.com/opd-ai/go-dronesim/pkg/logging"
	"github.com/opd-ai/go-dronesim/pkg/physics"
	"github.com/opd-ai/go-dronesim/pkg/validation"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	wsOutboxSize = 64
)

// Websocket message types. Outbound: hello, sample, event, error.
// Inbound: key, mode.
const (
	wsHello  = "hello"
	wsSample = "sample"
	wsEvent  = "event"
	wsError  = "error"
	wsKey    = "key"
	wsMode   = "mode"
)

// wsMessage is the JSON envelope for every websocket frame.
type wsMessage struct {
	Type     string            `json:"type"`
	Sample   *engine.Sample    `json:"sample,omitempty"`
	Entry    *event.Entry      `json:"entry,omitempty"`
	Envelope *physics.Envelope `json:"envelope,omitempty"`
	Error    string            `json:"error,omitempty"`

	Code    string `json:"code,omitempty"`
	Pressed bool   `json:"pressed,omitempty"`
	Mode    string `json:"mode,omitempty"`
	Toggle  bool   `json:"toggle,omitempty"`
}

// wsSubscriber owns one browser connection. Only its write pump writes to
// the connection after the hello frame, so a stalled browser only backs up
// its own outbox.
type wsSubscriber struct {
	id     string
	conn   *websocket.Conn
	outbox chan []byte
	done   chan struct{}
	once   sync.Once
}

func newWSSubscriber(conn *websocket.Conn) *wsSubscriber {
	return &wsSubscriber{
		id:     uuid.NewString(),
		conn:   conn,
		outbox: make(chan []byte, wsOutboxSize),
		done:   make(chan struct{}),
	}
}

// write sends one text frame under the write deadline.
func (s *wsSubscriber) write(data []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// enqueue queues data without blocking and reports whether it fit.
func (s *wsSubscriber) enqueue(data []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.outbox <- data:
		return true
	default:
		return false
	}
}

func (s *wsSubscriber) close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// writePump drains the outbox and keeps the connection alive with pings.
func (s *wsSubscriber) writePump(logger *logging.Logger) {
	pinger := time.NewTicker(pingPeriod)
	defer pinger.Stop()
	defer s.close()

	for {
		select {
		case <-s.done:
			return
		case data := <-s.outbox:
			if err := s.write(data); err != nil {
				logger.Debug(context.Background(), "Failed to send to subscriber", "id", s.id, "error", err.Error())
				return
			}
		case <-pinger.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// WebSocketHub serves browser consoles: it pushes samples and event log
// entries as JSON and accepts key and mode messages.
type WebSocketHub struct {
	runner     *engine.Runner
	updateRate int
	upgrader   websocket.Upgrader
	validator  *validation.MessageValidator
	logger     *logging.Logger

	entries chan []byte

	mu          sync.Mutex
	subscribers map[string]*wsSubscriber
	running     bool
	cancel      context.CancelFunc
	unwatch     func()
	loop        sync.WaitGroup
}

// NewWebSocketHub creates a hub for runner sending at most updateRate
// samples per second.
func NewWebSocketHub(runner *engine.Runner, updateRate int, logger *logging.Logger) *WebSocketHub {
	if logger == nil {
		logger = logging.NewLogger()
	}
	if updateRate <= 0 {
		updateRate = 20
	}
	return &WebSocketHub{
		runner:     runner,
		updateRate: updateRate,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		validator:   validation.NewMessageValidator(),
		logger:      logger.With("websocket_hub"),
		entries:     make(chan []byte, 64),
		subscribers: make(map[string]*wsSubscriber),
	}
}

// Start begins forwarding runner output to subscribers.
func (h *WebSocketHub) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return errors.New("websocket hub already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	samples, unsubscribe := h.runner.Subscribe(h.updateRate)
	h.unwatch = h.runner.Events().Watch(h.queueEntry)
	h.cancel = cancel
	h.running = true

	h.loop.Add(1)
	go h.broadcastLoop(ctx, samples, unsubscribe)
	return nil
}

// Stop closes every subscriber and stops the broadcast loop.
func (h *WebSocketHub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.cancel()
	h.unwatch()
	subs := h.subscribers
	h.subscribers = make(map[string]*wsSubscriber)
	h.mu.Unlock()

	h.loop.Wait()
	for _, sub := range subs {
		sub.close()
	}
}

// Close stops the hub and releases the validator.
func (h *WebSocketHub) Close() {
	h.Stop()
	h.validator.Close()
}

// SubscriberCount returns the number of connected browsers.
func (h *WebSocketHub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// ServeHTTP upgrades the request and serves the subscriber until it
// disconnects.
func (h *WebSocketHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn(r.Context(), "WebSocket upgrade failed", "error", err.Error())
		return
	}
	sub := newWSSubscriber(conn)
	defer sub.close()
	ctx := logging.WithCorrelationID(r.Context(), sub.id)

	envelope := h.runner.Envelope()
	sample := h.runner.Latest()
	hello, _ := json.Marshal(wsMessage{Type: wsHello, Envelope: &envelope, Sample: &sample})
	if err := sub.write(hello); err != nil {
		return
	}

	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.subscribers[sub.id] = sub
	h.mu.Unlock()
	go sub.writePump(h.logger)

	h.logger.Info(ctx, "WebSocket subscriber connected", "remote_addr", r.RemoteAddr)
	defer func() {
		h.remove(sub.id)
		h.logger.Info(ctx, "WebSocket subscriber disconnected")
	}()

	conn.SetReadLimit(validation.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug(ctx, "WebSocket read failed", "error", err.Error())
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		if err := h.handle(sub, data); err != nil {
			h.logger.Warn(ctx, "Rejected websocket message", "error", err.Error())
			reply, _ := json.Marshal(wsMessage{Type: wsError, Error: err.Error()})
			sub.enqueue(reply)
		}
	}
}

func (h *WebSocketHub) handle(sub *wsSubscriber, data []byte) error {
	if err := h.validator.ValidateFormat(data); err != nil {
		return err
	}

	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	if msg.Type != wsKey || msg.Pressed {
		if err := h.validator.Charge(sub.id); err != nil {
			return err
		}
	}

	switch msg.Type {
	case wsKey:
		if err := validation.ValidateKeyCode(msg.Code); err != nil {
			return err
		}
		_, err := h.runner.KeyEvent(msg.Code, msg.Pressed)
		return err
	case wsMode:
		if msg.Toggle {
			return h.runner.ToggleMode()
		}
		mode, err := validation.ValidateMode(msg.Mode)
		if err != nil {
			return err
		}
		return h.runner.SetMode(mode)
	default:
		return errors.New("unknown message type: " + msg.Type)
	}
}

func (h *WebSocketHub) remove(id string) {
	h.mu.Lock()
	delete(h.subscribers, id)
	h.mu.Unlock()
	h.validator.Forget(id)
}

// queueEntry runs on the goroutine appending to the event log and must
// not block.
func (h *WebSocketHub) queueEntry(entry event.Entry) {
	data, err := json.Marshal(wsMessage{Type: wsEvent, Entry: &entry})
	if err != nil {
		return
	}
	select {
	case h.entries <- data:
	default:
	}
}

func (h *WebSocketHub) broadcastLoop(ctx context.Context, samples <-chan engine.Sample, unsubscribe func()) {
	defer h.loop.Done()
	defer unsubscribe()

	ticker := time.NewTicker(time.Second / time.Duration(h.updateRate))
	defer ticker.Stop()

	var latest engine.Sample
	pending := false

	for {
		select {
		case <-ctx.Done():
			return
		case sample, ok := <-samples:
			if !ok {
				return
			}
			latest, pending = sample, true
		case data := <-h.entries:
			h.broadcast(data)
		case <-ticker.C:
			if !pending {
				continue
			}
			pending = false
			sample := latest
			data, err := json.Marshal(wsMessage{Type: wsSample, Sample: &sample})
			if err != nil {
				h.logger.Error(ctx, "Failed to encode sample", err)
				continue
			}
			h.broadcast(data)
		}
	}
}

func (h *WebSocketHub) snapshot() []*wsSubscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := make([]*wsSubscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		subs = append(subs, sub)
	}
	return subs
}

// broadcast queues data for every subscriber. A subscriber whose outbox
// is full misses the frame.
func (h *WebSocketHub) broadcast(data []byte) {
	for _, sub := range h.snapshot() {
		if !sub.enqueue(data) {
			h.logger.Debug(context.Background(), "Dropped frame for slow subscriber", "id", sub.id)
		}
	}
}
