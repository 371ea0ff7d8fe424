package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"supply_agent/internal/config"
	"supply_agent/internal/core"
	apperrors "supply_agent/pkg/errors"
)

// TokenManager issues opaque bearer tokens against the configured admin
// credential and validates them until they expire.
type TokenManager struct {
	mu     sync.Mutex
	tokens map[string]time.Time
	ttl    time.Duration
	cfg    config.ServerConfig
	logger core.ILogger

	ipLimiters sync.Map // map[string]*rate.Limiter
	rateLimit  rate.Limit
	rateBurst  int
}

// NewTokenManager creates a token manager from the server config
func NewTokenManager(cfg config.ServerConfig, logger core.ILogger) *TokenManager {
	perMinute := cfg.TokenRatePerMinute
	if perMinute <= 0 {
		perMinute = 10
	}
	return &TokenManager{
		tokens:    make(map[string]time.Time),
		ttl:       time.Duration(cfg.TokenTTLMinutes) * time.Minute,
		cfg:       cfg,
		logger:    logger.WithField("component", "auth"),
		rateLimit: rate.Limit(float64(perMinute) / 60.0),
		rateBurst: perMinute,
	}
}

// Issue validates the credential and mints a token
func (tm *TokenManager) Issue(username, password string) (string, time.Time, error) {
	if username != tm.cfg.AdminUsername || password != string(tm.cfg.AdminPassword) {
		return "", time.Time{}, apperrors.ErrInvalidCredential
	}

	token := uuid.NewString()
	expires := time.Now().Add(tm.ttl)

	tm.mu.Lock()
	tm.tokens[token] = expires
	// expired tokens are swept opportunistically on each issue
	now := time.Now()
	for t, exp := range tm.tokens {
		if exp.Before(now) {
			delete(tm.tokens, t)
		}
	}
	tm.mu.Unlock()

	return token, expires, nil
}

// Validate reports whether a token is live
func (tm *TokenManager) Validate(token string) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	exp, ok := tm.tokens[token]
	if !ok {
		return false
	}
	if exp.Before(time.Now()) {
		delete(tm.tokens, token)
		return false
	}
	return true
}

// Revoke invalidates a token immediately
func (tm *TokenManager) Revoke(token string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	delete(tm.tokens, token)
}

// Allow applies the per-IP rate limit on the token endpoint
func (tm *TokenManager) Allow(remoteAddr string) bool {
	ip := remoteIP(remoteAddr)
	if val, ok := tm.ipLimiters.Load(ip); ok {
		return val.(*rate.Limiter).Allow()
	}
	limiter := rate.NewLimiter(tm.rateLimit, tm.rateBurst)
	actual, _ := tm.ipLimiters.LoadOrStore(ip, limiter)
	return actual.(*rate.Limiter).Allow()
}

func remoteIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// bearerToken extracts the token from the Authorization header, falling
// back to the token query parameter for EventSource and websocket
// clients that cannot set headers.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// requireAuth wraps a handler with bearer token validation
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" || !s.tokens.Validate(token) {
			s.writeError(w, http.StatusUnauthorized, apperrors.ErrUnauthorized)
			return
		}
		next(w, r)
	}
}
