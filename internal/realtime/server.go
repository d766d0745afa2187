package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/practicesync/internal/metrics"
	"github.com/mesh-intelligence/practicesync/pkg/types"
)

// Server is an http.Handler upgrading authenticated requests to websocket
// sessions that relay changes from source.
type Server struct {
	source   types.ChangeChannel
	verify   func(token string) (string, error)
	logger   *zap.Logger
	metrics  *metrics.Collector
	settings *Settings
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[*session]struct{}
	closed   bool
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the logger.
func WithServerLogger(l *zap.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithServerMetrics records open sessions on m.
func WithServerMetrics(m *metrics.Collector) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithServerSettings replaces the default settings.
func WithServerSettings(st *Settings) ServerOption {
	return func(s *Server) { s.settings = st }
}

// NewServer returns a Server relaying changes from source. verify maps a
// bearer token to the user id it was issued for.
func NewServer(source types.ChangeChannel, verify func(token string) (string, error), opts ...ServerOption) *Server {
	s := &Server{
		source:   source,
		verify:   verify,
		logger:   zap.NewNop(),
		settings: DefaultSettings(),
		sessions: make(map[*session]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.upgrader = websocket.Upgrader{
		HandshakeTimeout: s.settings.HandshakeTimeout,
		CheckOrigin:      func(r *http.Request) bool { return true },
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token, err := bearerToken(r)
	if err == nil {
		var user string
		if user, err = s.verify(token); err == nil {
			s.serve(w, r, user)
			return
		}
	}
	http.Error(w, "authentication failed: "+err.Error(), http.StatusUnauthorized)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request, user string) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("problem initiating websocket", zap.Error(err))
		return
	}
	sess := &session{
		server: s,
		conn:   conn,
		user:   user,
		logger: s.logger.With(zap.String("user", user), zap.String("remote", r.RemoteAddr)),
		send:   make(chan Frame, s.settings.SendBuffer),
		done:   make(chan struct{}),
		subs:   make(map[string]types.ChannelHandle),
	}
	if !s.track(sess) {
		conn.Close()
		return
	}
	defer s.untrack(sess)

	s.metrics.SessionOpened()
	defer s.metrics.SessionClosed()
	sess.run()
}

func (s *Server) track(sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sessions[sess] = struct{}{}
	return true
}

func (s *Server) untrack(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sess)
}

// Sessions returns the number of open sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// DropSessions closes every open session. Clients reconnect on their own.
func (s *Server) DropSessions() {
	for _, sess := range s.snapshot() {
		sess.close()
	}
}

// Close drops every session and refuses new ones.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.DropSessions()
	return nil
}

func (s *Server) snapshot() []*session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// session is one websocket connection. Only writeLoop writes to conn.
type session struct {
	server *Server
	conn   *websocket.Conn
	user   string
	logger *zap.Logger

	send      chan Frame
	done      chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	subs map[string]types.ChannelHandle
}

func (ss *session) run() {
	go ss.writeLoop()
	defer ss.close()

	st := ss.server.settings
	ss.conn.SetReadDeadline(time.Now().Add(st.ReadTimeout))
	ss.conn.SetPongHandler(func(string) error {
		return ss.conn.SetReadDeadline(time.Now().Add(st.ReadTimeout))
	})
	for {
		var f Frame
		if err := ss.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				ss.logger.Debug("session read ended", zap.Error(err))
			}
			return
		}
		ss.conn.SetReadDeadline(time.Now().Add(st.ReadTimeout))
		ss.handle(f)
	}
}

func (ss *session) handle(f Frame) {
	switch f.Type {
	case FrameSubscribe:
		ss.subscribe(f.Table)
	case FrameUnsubscribe:
		ss.unsubscribe(f.Table)
	default:
		ss.enqueue(Frame{Type: FrameError, Error: "unknown frame type " + f.Type})
	}
}

func (ss *session) subscribe(table string) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if _, ok := ss.subs[table]; ok {
		return
	}
	h, err := ss.server.source.Subscribe(table, types.ChannelHandlers{
		OnInsert: ss.forward,
		OnUpdate: ss.forward,
		OnDelete: ss.forward,
	})
	if err != nil {
		ss.enqueue(Frame{Type: FrameError, Table: table, Error: err.Error()})
		return
	}
	ss.subs[table] = h
}

func (ss *session) unsubscribe(table string) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if h, ok := ss.subs[table]; ok {
		ss.server.source.Unsubscribe(h)
		delete(ss.subs, table)
	}
}

// forward queues rc when it concerns a row the session's user owns.
func (ss *session) forward(rc types.RawChange) {
	if changeOwner(rc) != ss.user {
		return
	}
	ss.enqueue(Frame{Type: FrameChange, Table: rc.Table, Change: &rc})
}

// enqueue never blocks: a session that cannot keep up is dropped, and its
// client refreshes after reconnecting.
func (ss *session) enqueue(f Frame) {
	select {
	case <-ss.done:
	case ss.send <- f:
	default:
		ss.logger.Warn("session send buffer full, dropping session")
		go ss.close()
	}
}

func (ss *session) writeLoop() {
	st := ss.server.settings
	ticker := time.NewTicker(st.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ss.done:
			return
		case f := <-ss.send:
			ss.conn.SetWriteDeadline(time.Now().Add(st.WriteTimeout))
			if err := ss.conn.WriteJSON(f); err != nil {
				ss.logger.Debug("session write failed", zap.Error(err))
				ss.close()
				return
			}
		case <-ticker.C:
			if err := ss.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(st.WriteTimeout)); err != nil {
				ss.close()
				return
			}
		}
	}
}

// close releases the subscriptions and the connection. Idempotent.
func (ss *session) close() {
	ss.closeOnce.Do(func() {
		ss.mu.Lock()
		for table, h := range ss.subs {
			ss.server.source.Unsubscribe(h)
			delete(ss.subs, table)
		}
		ss.mu.Unlock()
		close(ss.done)
		ss.conn.Close()
	})
}

// changeOwner returns the owner column of the row a change concerns, read
// from the new row or, for deletes, the old one.
func changeOwner(rc types.RawChange) string {
	raw := rc.New
	if len(raw) == 0 {
		raw = rc.Old
	}
	var row types.Row
	if err := json.Unmarshal(raw, &row); err != nil {
		return ""
	}
	owner, _ := row.String(types.ColumnOwner)
	return owner
}
