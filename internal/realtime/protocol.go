// Package realtime carries row changes over websockets. A Server forwards
// the changes of a local change channel to authenticated clients, each
// seeing only the rows it owns; a Client is a types.ChangeChannel that
// keeps a connection to a Server open across drops.
package realtime

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/mesh-intelligence/practicesync/pkg/types"
)

// Frame types.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameChange      = "change"
	FrameError       = "error"
)

// Frame is one JSON message on the socket. Clients send subscribe and
// unsubscribe frames; the server sends change and error frames.
type Frame struct {
	Type   string           `json:"type"`
	Table  string           `json:"table,omitempty"`
	Change *types.RawChange `json:"change,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// Settings tunes both ends of the connection.
type Settings struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// PingInterval is how often the server pings an idle client.
	PingInterval time.Duration
	// ReadTimeout closes a connection that has been silent this long. It
	// must exceed PingInterval.
	ReadTimeout time.Duration
	// ReconnectMin and ReconnectMax bound the client's backoff.
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	// SendBuffer is the number of frames queued per session before the
	// session is dropped as too slow.
	SendBuffer int
}

// DefaultSettings returns the settings used when none are given.
func DefaultSettings() *Settings {
	return &Settings{
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     15 * time.Second,
		ReadTimeout:      40 * time.Second,
		ReconnectMin:     250 * time.Millisecond,
		ReconnectMax:     10 * time.Second,
		SendBuffer:       256,
	}
}

// ErrNoToken is returned when a request carries no bearer token.
var ErrNoToken = errors.New("no credentials provided")

// tokenQueryParam carries the token for clients that cannot set headers.
const tokenQueryParam = "access_token"

// bearerToken extracts the token from the Authorization header or the
// access_token query parameter.
func bearerToken(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			return "", ErrNoToken
		}
		return token, nil
	}
	if token := r.URL.Query().Get(tokenQueryParam); token != "" {
		return token, nil
	}
	return "", ErrNoToken
}
