// pkg/network/server.go
package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opd-ai/go-dronesim/pkg/config"
	"github.com/opd-ai/go-dronesim/pkg/engine"
	"github.com/opd-ai/go-dronesim/pkg/event"
	"github.com/opd-ai/go-dronesim/pkg/logging"
	"github.com/opd-ai/go-dronesim/pkg/resource"
	"github.com/opd-ai/go-dronesim/pkg/validation"
)

// ErrServerRunning is returned by Start on a server that is already listening.
var ErrServerRunning = errors.New("telemetry server already running")

const (
	clientOutboxSize = 64
	handshakeTimeout = 5 * time.Second
)

// ServerConfig holds the telemetry server limits.
type ServerConfig struct {
	MaxClients   int
	UpdateRate   int // samples per second sent to each operator
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// ServerConfigFromEnv derives server limits from the environment config.
func ServerConfigFromEnv(env *config.EnvironmentConfig) ServerConfig {
	return ServerConfig{
		MaxClients:   env.MaxClients,
		UpdateRate:   env.UpdateRate,
		ReadTimeout:  env.ReadTimeout,
		WriteTimeout: env.WriteTimeout,
	}
}

func (c ServerConfig) withDefaults() ServerConfig {
	if c.MaxClients <= 0 {
		c.MaxClients = 16
	}
	if c.UpdateRate <= 0 {
		c.UpdateRate = 20
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	return c
}

// ClientInfo describes a connected operator.
type ClientInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	RemoteAddr  string    `json:"remoteAddr"`
	ConnectedAt time.Time `json:"connectedAt"`
	LastInput   time.Time `json:"lastInput"`
}

type client struct {
	id          string
	name        string
	conn        net.Conn
	outbox      chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	connectedAt time.Time

	mu        sync.Mutex
	lastInput time.Time
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// enqueue queues a frame without blocking. A full outbox drops the frame.
func (c *client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.outbox <- frame:
		return true
	default:
		return false
	}
}

// TelemetryServer streams samples and event log entries from a Runner to
// remote operators over the framed TCP protocol, and feeds their key and
// mode requests back into the runner.
type TelemetryServer struct {
	runner    *engine.Runner
	cfg       ServerConfig
	resources *resource.ResourceManager
	validator *validation.MessageValidator
	logger    *logging.Logger

	mu       sync.RWMutex
	listener net.Listener
	clients  map[string]*client
	running  bool
	ctx      context.Context
	cancel   context.CancelFunc
	loops    sync.WaitGroup
	handlers sync.WaitGroup
	unwatch  func()
}

// NewTelemetryServer creates a server for runner. Per-operator goroutines
// are charged to resources; a nil manager leaves them unbounded.
func NewTelemetryServer(runner *engine.Runner, cfg ServerConfig, resources *resource.ResourceManager, logger *logging.Logger) *TelemetryServer {
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &TelemetryServer{
		runner:    runner,
		cfg:       cfg.withDefaults(),
		resources: resources,
		validator: validation.NewMessageValidator(),
		logger:    logger.With("telemetry_server"),
		clients:   make(map[string]*client),
	}
}

// Start listens on address and begins accepting operators.
func (s *TelemetryServer) Start(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrServerRunning
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to start telemetry server: %w", err)
	}

	s.listener = listener
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())

	samples, unsubscribe := s.runner.Subscribe(s.cfg.UpdateRate)
	s.unwatch = s.runner.Events().Watch(s.broadcastEntry)

	s.loops.Add(2)
	go s.acceptConnections(listener)
	go s.sampleLoop(samples, unsubscribe)

	s.logger.Info(s.ctx, "Telemetry server started",
		"address", listener.Addr().String(),
		"max_clients", s.cfg.MaxClients,
		"update_rate", s.cfg.UpdateRate,
	)
	return nil
}

// Stop disconnects every operator and closes the listener.
func (s *TelemetryServer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.listener.Close()
	s.unwatch()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	s.loops.Wait()
	s.handlers.Wait()

	s.logger.Info(context.Background(), "Telemetry server stopped", "clients_closed", len(clients))
}

// ListenerAddress returns the bound address, or "" when not listening.
func (s *TelemetryServer) ListenerAddress() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// ClientCount returns the number of connected operators.
func (s *TelemetryServer) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Clients returns a snapshot of connected operators.
func (s *TelemetryServer) Clients() []ClientInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]ClientInfo, 0, len(s.clients))
	for _, c := range s.clients {
		c.mu.Lock()
		infos = append(infos, ClientInfo{
			ID:          c.id,
			Name:        c.name,
			RemoteAddr:  c.conn.RemoteAddr().String(),
			ConnectedAt: c.connectedAt,
			LastInput:   c.lastInput,
		})
		c.mu.Unlock()
	}
	return infos
}

// Close stops the server and releases the validator.
func (s *TelemetryServer) Close() {
	s.Stop()
	s.validator.Close()
}

func (s *TelemetryServer) acceptConnections(listener net.Listener) {
	defer s.loops.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Warn(s.ctx, "Error accepting connection", "error", err.Error())
			continue
		}

		if err := s.startHandler(conn); err != nil {
			s.logger.Warn(s.ctx, "Rejecting connection", "remote_addr", conn.RemoteAddr().String(), "error", err.Error())
			go s.rejectConnection(conn, "server busy")
		}
	}
}

// rejectConnection consumes the connect request before answering, so the
// close does not reset the connection ahead of the response.
func (s *TelemetryServer) rejectConnection(conn net.Conn, reason string) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	if _, _, err := ReadMessage(conn); err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	WriteMessage(conn, ConnectResponse, ConnectResponseData{Error: reason})
}

// startHandler runs handleConnection on a goroutine charged to the
// resource manager, when one is configured.
func (s *TelemetryServer) startHandler(conn net.Conn) error {
	s.handlers.Add(1)
	run := func(ctx context.Context) {
		defer s.handlers.Done()
		s.handleConnection(ctx, conn)
	}

	if s.resources == nil {
		go run(s.ctx)
		return nil
	}
	if err := s.resources.StartGoroutine(s.ctx, "operator-"+conn.RemoteAddr().String(), run); err != nil {
		s.handlers.Done()
		return err
	}
	return nil
}

func (s *TelemetryServer) handleConnection(ctx context.Context, conn net.Conn) {
	c, err := s.handshake(conn)
	if err != nil {
		s.logger.Warn(ctx, "Operator handshake failed",
			"remote_addr", conn.RemoteAddr().String(),
			"error", err.Error(),
		)
		conn.Close()
		return
	}

	ctx = logging.WithCorrelationID(ctx, c.id)
	s.logger.Info(ctx, "Operator connected", "operator", c.name, "remote_addr", conn.RemoteAddr().String())
	s.runner.Bus().Publish(event.NewConnectionEvent(event.OperatorConnected, s, c.id, c.name, ""))

	stopWatch := context.AfterFunc(ctx, c.close)
	defer stopWatch()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx, c)
	}()

	reason := s.readLoop(ctx, c)

	c.close()
	<-writerDone
	s.removeClient(c)

	s.logger.Info(ctx, "Operator disconnected", "operator", c.name, "reason", reason)
	s.runner.Bus().Publish(event.NewConnectionEvent(event.OperatorDisconnected, s, c.id, c.name, reason))
}

// handshake reads the ConnectRequest and registers the client.
func (s *TelemetryServer) handshake(conn net.Conn) (*client, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	msgType, data, err := ReadMessage(conn)
	conn.SetReadDeadline(time.Time{})
	if err != nil {
		return nil, fmt.Errorf("reading connect request: %w", err)
	}
	if msgType != ConnectRequest {
		return nil, fmt.Errorf("expected %s, got %s", ConnectRequest, msgType)
	}

	reject := func(reason string) error {
		conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		WriteMessage(conn, ConnectResponse, ConnectResponseData{Error: reason})
		return errors.New(reason)
	}

	var req ConnectRequestData
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, reject("malformed connect request")
	}
	name, err := validation.ValidateOperatorName(req.OperatorName)
	if err != nil {
		return nil, reject(err.Error())
	}

	now := time.Now()
	c := &client{
		id:          uuid.NewString(),
		name:        name,
		conn:        conn,
		outbox:      make(chan []byte, clientOutboxSize),
		done:        make(chan struct{}),
		connectedAt: now,
		lastInput:   now,
	}

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil, reject("server stopping")
	}
	if len(s.clients) >= s.cfg.MaxClients {
		s.mu.Unlock()
		return nil, reject("server full")
	}
	s.clients[c.id] = c
	s.mu.Unlock()

	resp := ConnectResponseData{
		Success:  true,
		ClientID: c.id,
		Envelope: s.runner.Envelope(),
		Sample:   s.runner.Latest(),
	}
	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := WriteMessage(conn, ConnectResponse, resp); err != nil {
		s.removeClient(c)
		return nil, fmt.Errorf("writing connect response: %w", err)
	}
	conn.SetWriteDeadline(time.Time{})

	return c, nil
}

func (s *TelemetryServer) removeClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	s.validator.Forget(c.id)
}

// readLoop handles operator messages until the connection ends and returns
// the reason.
func (s *TelemetryServer) readLoop(ctx context.Context, c *client) string {
	for {
		c.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		msgType, data, err := ReadMessage(c.conn)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				return "closed by operator"
			case ctx.Err() != nil:
				return "server stopping"
			default:
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					return "read timeout"
				}
				return err.Error()
			}
		}

		if msgType == DisconnectNotification {
			return "disconnect requested"
		}

		if err := s.validator.ValidateFormat(data); err != nil {
			s.logger.Warn(ctx, "Rejected operator message", "type", msgType.String(), "error", err.Error())
			continue
		}
		if !isKeyRelease(msgType, data) {
			if err := s.validator.Charge(c.id); err != nil {
				s.logger.Warn(ctx, "Rejected operator message", "type", msgType.String(), "error", err.Error())
				continue
			}
		}

		c.mu.Lock()
		c.lastInput = time.Now()
		c.mu.Unlock()

		s.handleMessage(ctx, c, msgType, data)
	}
}

func (s *TelemetryServer) handleMessage(ctx context.Context, c *client, msgType MessageType, data []byte) {
	switch msgType {
	case KeyInput:
		var in KeyInputData
		if err := json.Unmarshal(data, &in); err != nil {
			s.logger.Warn(ctx, "Malformed key input", "error", err.Error())
			return
		}
		if err := validation.ValidateKeyCode(in.Code); err != nil {
			s.logger.Warn(ctx, "Invalid key code", "error", err.Error())
			return
		}
		if _, err := s.runner.KeyEvent(in.Code, in.Pressed); err != nil {
			s.logger.Warn(ctx, "Key input dropped", "key_code", in.Code, "error", err.Error())
		}

	case ModeRequest:
		var req ModeRequestData
		if err := json.Unmarshal(data, &req); err != nil {
			s.logger.Warn(ctx, "Malformed mode request", "error", err.Error())
			return
		}
		var err error
		if req.Toggle {
			err = s.runner.ToggleMode()
		} else {
			mode, verr := validation.ValidateMode(req.Mode)
			if verr != nil {
				s.logger.Warn(ctx, "Invalid mode request", "error", verr.Error())
				return
			}
			err = s.runner.SetMode(mode)
		}
		if err != nil {
			s.logger.Warn(ctx, "Mode request dropped", "error", err.Error())
		}

	case PingRequest:
		frame, err := encodeFrame(PingResponse, json.RawMessage(data))
		if err == nil {
			c.enqueue(frame)
		}

	default:
		s.logger.Debug(ctx, "Unknown message type", "type", msgType.String())
	}
}

func (s *TelemetryServer) writeLoop(ctx context.Context, c *client) {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.outbox:
			c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if _, err := c.conn.Write(frame); err != nil {
				s.logger.Debug(ctx, "Write to operator failed", "error", err.Error())
				c.close()
				return
			}
		}
	}
}

// sampleLoop forwards at most UpdateRate samples per second, always the
// newest one.
func (s *TelemetryServer) sampleLoop(samples <-chan engine.Sample, unsubscribe func()) {
	defer s.loops.Done()
	defer unsubscribe()

	ticker := time.NewTicker(time.Second / time.Duration(s.cfg.UpdateRate))
	defer ticker.Stop()

	var latest engine.Sample
	pending := false

	for {
		select {
		case <-s.ctx.Done():
			return
		case sample, ok := <-samples:
			if !ok {
				return
			}
			latest, pending = sample, true
		case <-ticker.C:
			if !pending {
				continue
			}
			pending = false
			s.broadcast(SampleUpdate, latest)
		}
	}
}

// broadcastEntry runs on the goroutine appending to the event log, which
// may be the frame loop, so it only enqueues.
func (s *TelemetryServer) broadcastEntry(entry event.Entry) {
	s.broadcast(EventNotice, entry)
}

func (s *TelemetryServer) broadcast(msgType MessageType, msg interface{}) {
	frame, err := encodeFrame(msgType, msg)
	if err != nil {
		s.logger.Error(context.Background(), "Failed to encode broadcast", err, "type", msgType.String())
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		if !c.enqueue(frame) {
			s.logger.Debug(context.Background(), "Dropped frame for slow operator",
				"operator", c.name, "type", msgType.String())
		}
	}
}
