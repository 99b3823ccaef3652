// Package bridge connects the browser UI to the voice subsystem over a
// WebSocket.
//
// The server pushes navigation, action, submission, error and state
// messages to every connected client and accepts control messages (listen,
// stop, focus, blur, typed text, form start and cancel) from any of them.
// Messages are JSON objects discriminated by their "type" field.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/observe"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/voice/command"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/voice/dictation"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/voice/dispatch"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/voice/recognition"
)

// Server to client message types.
const (
	TypeNavigate = "navigate"
	TypeAction   = "action"
	TypeSubmit   = "submit"
	TypeError    = "error"
	TypeState    = "state"
)

// Client to server message types.
const (
	TypeListen     = "listen"
	TypeStop       = "stop"
	TypeFocus      = "focus"
	TypeBlur       = "blur"
	TypeText       = "text"
	TypeStartForm  = "startForm"
	TypeCancelForm = "cancelForm"
)

const (
	// sendBuffer is the number of messages queued per client before new
	// ones are dropped.
	sendBuffer = 32

	writeTimeout = 5 * time.Second
)

// Message is the envelope for both directions. Only the fields of the given
// Type are set.
type Message struct {
	Type string `json:"type"`

	// navigate
	Route     string `json:"route,omitempty"`
	RouteName string `json:"routeName,omitempty"`

	// action
	FunctionName string         `json:"functionName,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`

	// submit; FormType is also used by startForm
	Event    string         `json:"event,omitempty"`
	FormType string         `json:"formType,omitempty"`
	Values   map[string]any `json:"values,omitempty"`

	// error
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	// state
	Recognition string `json:"recognition,omitempty"`

	// text
	Text string `json:"text,omitempty"`
}

// Controller carries out client requests. The app implements it.
type Controller interface {
	StartListening(ctx context.Context) error
	StopListening()
	Focus()
	Blur()
	HandleText(ctx context.Context, text string)
	StartForm(ctx context.Context, formType string) error
	CancelForm(ctx context.Context) bool
}

// Option configures a [Server].
type Option func(*Server)

// WithController sets the controller. See also [Server.SetController].
func WithController(c Controller) Option {
	return func(s *Server) { s.ctrl = c }
}

// WithMetrics tracks connected clients.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithOriginPatterns allows cross-origin clients whose host matches one of
// the patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

// Server is the UI bridge. It implements [dispatch.Host] by broadcasting to
// all connected clients, and [http.Handler] for the WebSocket endpoint.
type Server struct {
	metrics *observe.Metrics
	origins []string

	mu      sync.Mutex
	ctrl    Controller
	clients map[*client]struct{}
	state   recognition.State
}

type client struct {
	send chan Message
}

var _ dispatch.Host = (*Server)(nil)

// New creates a Server with no clients.
func New(opts ...Option) *Server {
	s := &Server{clients: make(map[*client]struct{})}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetController replaces the controller.
func (s *Server) SetController(c Controller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctrl = c
}

// Register mounts the endpoint on mux at /ws.
func (s *Server) Register(mux *http.ServeMux) {
	mux.Handle("GET /ws", s)
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// ServeHTTP upgrades the request and serves one client until it
// disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		slog.Warn("bridge: accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(observe.WithLogAttrs(r.Context(), slog.String("remote", r.RemoteAddr)))
	defer cancel()

	c := &client{send: make(chan Message, sendBuffer)}
	s.add(ctx, c)
	defer s.remove(ctx, c)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.write(ctx, conn, c)
		cancel()
	}()

	s.read(ctx, conn)
	cancel()
	<-done
	conn.Close(websocket.StatusNormalClosure, "")
}

// read handles client messages until the connection fails.
func (s *Server) read(ctx context.Context, conn *websocket.Conn) {
	for {
		var m Message
		if err := wsjson.Read(ctx, conn, &m); err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				slog.Debug("bridge: read failed", "err", err)
			}
			return
		}
		s.handle(ctx, m)
	}
}

// write delivers queued messages until ctx is done or a write fails.
func (s *Server) write(ctx context.Context, conn *websocket.Conn, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, m)
			cancel()
			if err != nil {
				slog.Debug("bridge: write failed", "type", m.Type, "err", err)
				return
			}
		}
	}
}

// handle executes one client request.
func (s *Server) handle(ctx context.Context, m Message) {
	s.mu.Lock()
	ctrl := s.ctrl
	s.mu.Unlock()
	if ctrl == nil {
		slog.Warn("bridge: no controller; dropping request", "type", m.Type)
		return
	}

	log := observe.Logger(ctx)
	switch m.Type {
	case TypeListen:
		// Listening may wait for the greeting; keep reading meanwhile.
		go func() {
			err := ctrl.StartListening(ctx)
			if err == nil {
				return
			}
			// The session has already announced the failure and reported
			// it through the dispatcher.
			log.Warn("bridge: start listening failed", "err", err)
		}()
	case TypeStop:
		ctrl.StopListening()
	case TypeFocus:
		ctrl.Focus()
	case TypeBlur:
		ctrl.Blur()
	case TypeText:
		ctrl.HandleText(ctx, m.Text)
	case TypeStartForm:
		if err := ctrl.StartForm(ctx, m.FormType); err != nil {
			log.Warn("bridge: start form failed", "form", m.FormType, "err", err)
			s.broadcast(Message{Type: TypeError, Code: "unknown-form", Message: err.Error()})
		}
	case TypeCancelForm:
		ctrl.CancelForm(ctx)
	default:
		log.Debug("bridge: unknown message type", "type", m.Type)
	}
}

// Navigate implements [dispatch.Host].
func (s *Server) Navigate(_ context.Context, nav command.Navigation) error {
	return s.broadcast(Message{Type: TypeNavigate, Route: nav.Route, RouteName: nav.RouteName})
}

// Invoke implements [dispatch.Host].
func (s *Server) Invoke(_ context.Context, a command.Action) error {
	return s.broadcast(Message{Type: TypeAction, FunctionName: a.FunctionName, Parameters: a.Parameters})
}

// Submit implements [dispatch.Host].
func (s *Server) Submit(_ context.Context, c dictation.Completion) error {
	return s.broadcast(Message{Type: TypeSubmit, Event: c.Event, FormType: c.FormType, Values: c.Values})
}

// Fail implements [dispatch.Host].
func (s *Server) Fail(_ context.Context, e *recognition.Error) error {
	if e == nil {
		return nil
	}
	return s.broadcast(Message{Type: TypeError, Code: string(e.Code), Message: e.Message()})
}

// PublishState announces a recognition state change. Clients that connect
// later receive the latest state first.
func (s *Server) PublishState(st recognition.State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	_ = s.broadcast(Message{Type: TypeState, Recognition: st.String()})
}

// ErrNoClients is returned when a message had nobody to go to.
var ErrNoClients = errors.New("bridge: no connected clients")

// broadcast queues m for every client. Clients whose queue is full miss m.
func (s *Server) broadcast(m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.clients) == 0 {
		return ErrNoClients
	}
	for c := range s.clients {
		select {
		case c.send <- m:
		default:
			slog.Warn("bridge: client queue full; dropping message", "type", m.Type)
		}
	}
	return nil
}

func (s *Server) add(ctx context.Context, c *client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	c.send <- Message{Type: TypeState, Recognition: s.state.String()}
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.BridgeClients.Add(ctx, 1)
	}
	slog.Info("bridge: client connected")
}

func (s *Server) remove(ctx context.Context, c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.BridgeClients.Add(context.WithoutCancel(ctx), -1)
	}
	slog.Info("bridge: client disconnected")
}
