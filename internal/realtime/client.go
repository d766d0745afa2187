package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/practicesync/pkg/types"
)

// Client is a types.ChangeChannel backed by a websocket connection to a
// Server. It dials in the background, reconnects with backoff after a drop
// and subscribes every table again. Changes committed while disconnected
// are not replayed; handlers learn of the gap through OnStatus.
type Client struct {
	url      string
	token    string
	settings *Settings
	clock    clock.Clock
	logger   *zap.Logger
	dialer   *websocket.Dialer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	next      uint64
	subs      map[string]map[uint64]types.ChannelHandlers
	conn      *websocket.Conn
	connected bool
	everUp    bool
	closed    bool

	// writeMu serializes frame writes; gorilla allows one writer.
	writeMu sync.Mutex
}

var _ types.ChangeChannel = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the logger.
func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithClientSettings replaces the default settings.
func WithClientSettings(st *Settings) ClientOption {
	return func(c *Client) { c.settings = st }
}

// WithClientClock sets the clock used for reconnect backoff.
func WithClientClock(clk clock.Clock) ClientOption {
	return func(c *Client) { c.clock = clk }
}

// NewClient starts connecting to the server at url, authenticating with
// token. It returns immediately; use Close to stop.
func NewClient(url, token string, opts ...ClientOption) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		url:      url,
		token:    token,
		settings: DefaultSettings(),
		clock:    clock.WallClock,
		logger:   zap.NewNop(),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		subs:     make(map[string]map[uint64]types.ChannelHandlers),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.dialer = &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.settings.HandshakeTimeout,
	}
	go c.run()
	return c
}

// Subscribe implements types.ChangeChannel.
func (c *Client) Subscribe(table string, handlers types.ChannelHandlers) (types.ChannelHandle, error) {
	if table == "" {
		return types.ChannelHandle{}, types.ErrTableNotFound
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return types.ChannelHandle{}, types.ErrChannelClosed
	}
	c.next++
	h := types.ChannelHandle{Table: table, ID: c.next}
	first := len(c.subs[table]) == 0
	if first {
		c.subs[table] = make(map[uint64]types.ChannelHandlers)
	}
	c.subs[table][h.ID] = handlers
	conn := c.conn
	c.mu.Unlock()

	if first && conn != nil {
		c.write(conn, Frame{Type: FrameSubscribe, Table: table})
	}
	return h, nil
}

// Unsubscribe implements types.ChangeChannel.
func (c *Client) Unsubscribe(h types.ChannelHandle) error {
	c.mu.Lock()
	subs, ok := c.subs[h.Table]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	delete(subs, h.ID)
	last := len(subs) == 0
	if last {
		delete(c.subs, h.Table)
	}
	conn := c.conn
	c.mu.Unlock()

	if last && conn != nil {
		c.write(conn, Frame{Type: FrameUnsubscribe, Table: h.Table})
	}
	return nil
}

// Connected reports whether a connection is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close stops reconnecting, closes the connection and waits for the
// background loop to exit.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		conn.Close()
	}
	<-c.done
	return nil
}

func (c *Client) run() {
	defer close(c.done)
	delay := c.settings.ReconnectMin
	for {
		conn, err := c.dial()
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.logger.Info("realtime connect failed", zap.String("url", c.url), zap.Error(err))
			if !c.wait(delay) {
				return
			}
			delay = min(delay*2, c.settings.ReconnectMax)
			continue
		}
		delay = c.settings.ReconnectMin

		status, ok := c.attach(conn)
		if !ok {
			conn.Close()
			return
		}
		c.broadcast(status)
		c.readLoop(conn)

		c.mu.Lock()
		c.conn = nil
		c.connected = false
		c.mu.Unlock()
		conn.Close()
		if c.ctx.Err() != nil {
			return
		}
		c.broadcast(types.StatusDisconnected)
		if !c.wait(delay) {
			return
		}
	}
}

func (c *Client) dial() (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)
	conn, resp, err := c.dialer.DialContext(c.ctx, c.url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

// attach installs conn and subscribes every table. It reports the status
// to announce, or false when the client closed meanwhile.
func (c *Client) attach(conn *websocket.Conn) (types.ChannelStatus, bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, false
	}
	c.conn = conn
	c.connected = true
	status := types.StatusConnected
	if c.everUp {
		status = types.StatusReconnected
	}
	c.everUp = true
	tables := make([]string, 0, len(c.subs))
	for t := range c.subs {
		tables = append(tables, t)
	}
	c.mu.Unlock()

	sort.Strings(tables)
	for _, t := range tables {
		c.write(conn, Frame{Type: FrameSubscribe, Table: t})
	}
	return status, true
}

func (c *Client) readLoop(conn *websocket.Conn) {
	st := c.settings
	conn.SetReadDeadline(time.Now().Add(st.ReadTimeout))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(st.ReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(st.WriteTimeout))
	})
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Info("realtime connection lost", zap.Error(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(st.ReadTimeout))
		var f Frame
		if err := json.Unmarshal(msg, &f); err != nil {
			c.logger.Warn("malformed realtime frame", zap.Error(err))
			continue
		}
		switch f.Type {
		case FrameChange:
			if f.Change != nil {
				c.dispatch(*f.Change)
			}
		case FrameError:
			c.logger.Warn("realtime server error", zap.String("table", f.Table), zap.String("error", f.Error))
		}
	}
}

func (c *Client) write(conn *websocket.Conn, f Frame) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout))
	if err := conn.WriteJSON(f); err != nil {
		c.logger.Debug("realtime write failed", zap.String("type", f.Type), zap.Error(err))
	}
}

// wait sleeps for d on the client's clock; false means the client closed.
func (c *Client) wait(d time.Duration) bool {
	select {
	case <-c.ctx.Done():
		return false
	case <-c.clock.After(d):
		return true
	}
}

func (c *Client) dispatch(rc types.RawChange) {
	for _, h := range c.handlers(rc.Table) {
		h.Dispatch(rc)
	}
}

func (c *Client) broadcast(status types.ChannelStatus) {
	for _, h := range c.handlers("") {
		if h.OnStatus != nil {
			h.OnStatus(status)
		}
	}
}

// handlers snapshots the handlers of table, or of every table when table is
// empty, ordered by subscription.
func (c *Client) handlers(table string) []types.ChannelHandlers {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []uint64
	all := map[uint64]types.ChannelHandlers{}
	for t, subs := range c.subs {
		if table != "" && t != table {
			continue
		}
		for id, h := range subs {
			ids = append(ids, id)
			all[id] = h
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]types.ChannelHandlers, len(ids))
	for i, id := range ids {
		out[i] = all[id]
	}
	return out
}
