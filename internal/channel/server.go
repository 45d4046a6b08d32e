package channel

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeTimeout = 10 * time.Second

type ServerOptions struct {
	Handler MethodCallHandler
	// Status is reported by /healthz.
	Status func() string
	Logger *zap.Logger
}

// Server routes WebSocket connections on /channels/<name> to the attached
// handler. Calls on a detached server are answered as not implemented.
type Server struct {
	mu      sync.RWMutex
	handler MethodCallHandler
	conns   map[*conn]struct{}

	status   func() string
	log      *zap.Logger
	upgrader websocket.Upgrader
	router   chi.Router
}

func NewServer(opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	status := opts.Status
	if status == nil {
		status = func() string { return "unknown" }
	}

	s := &Server{
		handler: opts.Handler,
		conns:   make(map[*conn]struct{}),
		status:  status,
		log:     logger.With(zap.String("component", "channel.server")),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.serveHealth)
	r.Get("/channels/*", s.serveChannel)
	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// SetHandler attaches h; nil detaches the current handler.
func (s *Server) SetHandler(h MethodCallHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Close drops every open connection. Replies still in flight are discarded.
func (s *Server) Close() {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

func (s *Server) connCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

func (s *Server) currentHandler() MethodCallHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handler
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"state": s.status()})
}

func (s *Server) serveChannel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "*")
	if name != Name {
		http.NotFound(w, r)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &conn{ws: ws, log: s.log, closed: make(chan struct{})}
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		c.close()
	}()

	s.log.Debug("channel connected", zap.String("remote", r.RemoteAddr))
	for {
		var call Call
		if err := ws.ReadJSON(&call); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("channel read ended", zap.Error(err))
			}
			return
		}
		s.dispatch(c, call)
	}
}

func (s *Server) dispatch(c *conn, call Call) {
	result := &connResult{conn: c, id: call.ID, method: call.Method}
	if call.Channel != "" && call.Channel != Name {
		result.NotImplemented()
		return
	}

	h := s.currentHandler()
	if h == nil {
		result.NotImplemented()
		return
	}
	h.OnMethodCall(call, result)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

type conn struct {
	ws  *websocket.Conn
	log *zap.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// send writes one reply. Replies to a closed connection are dropped.
func (c *conn) send(reply Reply) {
	select {
	case <-c.closed:
		c.log.Debug("dropping reply for closed connection", zap.String("id", reply.ID))
		return
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteJSON(reply); err != nil {
		c.log.Debug("dropping reply", zap.String("id", reply.ID), zap.Error(err))
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
	})
}

// connResult answers one call; only the first outcome is sent.
type connResult struct {
	conn   *conn
	id     string
	method string
	once   sync.Once
}

func (r *connResult) Success(value any) {
	payload, err := json.Marshal(value)
	if err != nil {
		r.Error("ENCODE_FAILED", err.Error(), nil)
		return
	}
	r.reply(Reply{ID: r.id, Result: payload})
}

func (r *connResult) Error(code, message string, details any) {
	r.reply(Reply{ID: r.id, Error: &ReplyError{Code: code, Message: message, Details: details}})
}

func (r *connResult) NotImplemented() {
	r.reply(Reply{ID: r.id, NotImplemented: true})
}

func (r *connResult) reply(reply Reply) {
	r.once.Do(func() { r.conn.send(reply) })
}
