// Package auth provides the session identities synchronized collections use
// to scope reads and mutations to the signed-in user.
//
// Tokens are HS256 JWTs whose subject claim carries the user id.
package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/juju/clock"
)

const issuer = "practicesync"

// Auth errors.
var (
	ErrEmptySecret  = errors.New("signing secret must not be empty")
	ErrEmptySubject = errors.New("token subject must not be empty")
	ErrInvalidToken = errors.New("invalid session token")
)

// Signer issues session tokens.
type Signer struct {
	secret []byte
	clock  clock.Clock
}

// NewSigner returns a Signer for secret. A nil clock uses the wall clock.
func NewSigner(secret string, clk clock.Clock) (*Signer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &Signer{secret: []byte(secret), clock: clk}, nil
}

// Sign returns a token for userID valid for ttl.
func (s *Signer) Sign(userID string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", ErrEmptySubject
	}
	now := s.clock.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verifier checks session tokens.
type Verifier struct {
	secret []byte
	clock  clock.Clock
}

// NewVerifier returns a Verifier for secret. A nil clock uses the wall clock.
func NewVerifier(secret string, clk clock.Clock) (*Verifier, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &Verifier{secret: []byte(secret), clock: clk}, nil
}

// Verify returns the user id carried by token. Expired, malformed and
// foreign tokens wrap ErrInvalidToken.
func (v *Verifier) Verify(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{},
		func(*jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.clock.Now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return sub, nil
}

// StaticSession is a session whose user is set directly, as after an
// interactive sign-in. The zero value is signed out.
type StaticSession struct {
	mu     sync.RWMutex
	userID string
}

// NewStaticSession returns a session signed in as userID ("" for signed out).
func NewStaticSession(userID string) *StaticSession {
	return &StaticSession{userID: userID}
}

// CurrentUser implements types.Session.
func (s *StaticSession) CurrentUser() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID, s.userID != ""
}

// Set signs the session in as userID.
func (s *StaticSession) Set(userID string) {
	s.mu.Lock()
	s.userID = userID
	s.mu.Unlock()
}

// Clear signs the session out.
func (s *StaticSession) Clear() {
	s.Set("")
}

// TokenSession derives the user from a bearer token, verified on every call
// so that an expired token stops authenticating without further action.
type TokenSession struct {
	verifier *Verifier

	mu    sync.RWMutex
	token string
}

// NewTokenSession returns a session backed by token.
func NewTokenSession(v *Verifier, token string) *TokenSession {
	return &TokenSession{verifier: v, token: token}
}

// CurrentUser implements types.Session.
func (s *TokenSession) CurrentUser() (string, bool) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()
	if token == "" {
		return "", false
	}
	userID, err := s.verifier.Verify(token)
	if err != nil {
		return "", false
	}
	return userID, true
}

// Token returns the current bearer token.
func (s *TokenSession) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// SetToken replaces the bearer token; "" signs the session out.
func (s *TokenSession) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}
