package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/ballotgate/internal/clock"
	"github.com/MarkoPoloResearchLab/ballotgate/internal/logging"
)

// Verification results reported to a Recorder.
const (
	VerificationCacheHit = "cache_hit"
	VerificationVerified = "verified"
	VerificationRejected = "rejected"
	VerificationMissing  = "missing"
)

// Recorder receives session events for metrics.
type Recorder interface {
	RecordSessionVerification(result string)
	RecordSessionIssued()
	SetSessionCacheSize(size int)
}

type noopRecorder struct{}

func (noopRecorder) RecordSessionVerification(string) {}
func (noopRecorder) RecordSessionIssued()             {}
func (noopRecorder) SetSessionCacheSize(int)          {}

// Manager issues and verifies sessions on top of a Signer.
type Manager struct {
	signer           Signer
	cache            *Cache
	clock            clock.Clock
	logger           *zap.Logger
	recorder         Recorder
	cacheSize        int
	evictionPolicy   EvictionPolicy
	defaultExpiresIn string
	defaultTTL       time.Duration
}

type Option func(*Manager)

func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithRecorder(recorder Recorder) Option {
	return func(m *Manager) {
		if recorder != nil {
			m.recorder = recorder
		}
	}
}

func WithCacheSize(size int) Option {
	return func(m *Manager) {
		if size > 0 {
			m.cacheSize = size
		}
	}
}

func WithEvictionPolicy(policy EvictionPolicy) Option {
	return func(m *Manager) { m.evictionPolicy = policy }
}

// WithDefaultExpiresIn sets the lifetime used when CreateSession gets an
// empty expiresIn.
func WithDefaultExpiresIn(expiresIn string) Option {
	return func(m *Manager) {
		if expiresIn != "" {
			m.defaultExpiresIn = expiresIn
		}
	}
}

func NewManager(signer Signer, options ...Option) (*Manager, error) {
	if signer == nil {
		return nil, ErrMissingSigner
	}
	manager := &Manager{
		signer:           signer,
		clock:            clock.SystemClock{},
		logger:           zap.NewNop(),
		recorder:         noopRecorder{},
		cacheSize:        MaxCacheSize,
		evictionPolicy:   InsertionOrder,
		defaultExpiresIn: DefaultExpiresIn,
	}
	for _, option := range options {
		option(manager)
	}
	defaultTTL, parseError := ParseExpiresIn(manager.defaultExpiresIn)
	if parseError != nil {
		return nil, fmt.Errorf("default session lifetime: %w", parseError)
	}
	manager.defaultTTL = defaultTTL
	manager.cache = NewCache(manager.cacheSize, manager.evictionPolicy)
	manager.logger = manager.logger.Named("session")
	return manager, nil
}

// CreateSession signs a token for user and caches the session. An empty
// expiresIn uses the configured default. The returned Data is the cached
// record.
func (m *Manager) CreateSession(user User, expiresIn string) (string, Data, error) {
	userID := user.identity()
	if userID == "" {
		return "", Data{}, ErrMissingIdentity
	}
	ttl := m.defaultTTL
	if expiresIn != "" {
		parsedTTL, parseError := ParseExpiresIn(expiresIn)
		if parseError != nil {
			return "", Data{}, parseError
		}
		ttl = parsedTTL
	}

	currentTime := m.clock.Now()
	data := Data{
		UserID:       userID,
		Role:         user.Role.orGuest(),
		Email:        user.Email,
		Phone:        user.Phone,
		VoterID:      user.VoterID,
		ExpiresAt:    currentTime.Add(ttl),
		LastActivity: currentTime,
	}
	token, signError := m.issue(data, ttl)
	if signError != nil {
		return "", Data{}, signError
	}
	m.logger.Info("session created",
		zap.String("user_id", userID),
		zap.String("role", string(data.Role)),
		zap.Time("expires_at", data.ExpiresAt))
	return token, data, nil
}

func (m *Manager) issue(data Data, ttl time.Duration) (string, error) {
	token, signError := m.signer.Sign(claimsFromData(data, uuid.NewString()), ttl)
	if signError != nil {
		return "", signError
	}
	m.store(token, data)
	m.recorder.RecordSessionIssued()
	return token, nil
}

func (m *Manager) store(token string, data Data) {
	if evictedToken, didEvict := m.cache.Put(token, data); didEvict {
		m.logger.Debug("session cache full, evicted entry",
			zap.String("token", logging.Fingerprint(evictedToken)),
			zap.String("policy", m.evictionPolicy.String()))
	}
	m.recorder.SetSessionCacheSize(m.cache.Len())
}

// VerifySession resolves the session carried by request. Any token problem
// yields false.
func (m *Manager) VerifySession(request Request) (Data, bool) {
	token := ExtractToken(request)
	if token == "" {
		m.recorder.RecordSessionVerification(VerificationMissing)
		return Data{}, false
	}

	currentTime := m.clock.Now()
	if cached, found := m.cache.Get(token); found && cached.ValidAt(currentTime, InactivityTimeout) {
		if touched, stillCached := m.cache.Touch(token, currentTime); stillCached {
			m.recorder.RecordSessionVerification(VerificationCacheHit)
			return touched, true
		}
	}

	claims, verifyError := m.signer.Verify(token)
	if verifyError != nil {
		reason := "invalid"
		if errors.Is(verifyError, ErrTokenExpired) {
			reason = "expired"
		}
		m.logger.Debug("session token rejected",
			zap.String("token", logging.Fingerprint(token)),
			zap.String("reason", reason))
		m.recorder.RecordSessionVerification(VerificationRejected)
		return Data{}, false
	}

	data := Data{
		UserID:       claims.UserID,
		Role:         claims.Role.orGuest(),
		Email:        claims.Email,
		Phone:        claims.Phone,
		VoterID:      claims.VoterID,
		ExpiresAt:    time.UnixMilli(claims.SessionExpiresAt),
		LastActivity: currentTime,
	}
	if data.UserID == "" || !m.IsSessionValid(data) {
		m.recorder.RecordSessionVerification(VerificationRejected)
		return Data{}, false
	}
	m.store(token, data)
	m.recorder.RecordSessionVerification(VerificationVerified)
	return data, true
}

// RefreshSession issues a new token for data with a full SessionTimeout.
// The previous token stays cached until it lapses on its own.
func (m *Manager) RefreshSession(data Data) (string, Data, error) {
	if data.UserID == "" {
		return "", Data{}, ErrMissingIdentity
	}
	currentTime := m.clock.Now()
	data.Role = data.Role.orGuest()
	data.ExpiresAt = currentTime.Add(SessionTimeout)
	data.LastActivity = currentTime

	token, signError := m.issue(data, SessionTimeout)
	if signError != nil {
		return "", Data{}, signError
	}
	m.logger.Info("session refreshed",
		zap.String("user_id", data.UserID),
		zap.Time("expires_at", data.ExpiresAt))
	return token, data, nil
}

// InvalidateSession forgets the cached session of request. A token that is
// still signature-valid will be accepted again by VerifySession.
func (m *Manager) InvalidateSession(request Request) {
	token := ExtractToken(request)
	if token == "" {
		return
	}
	if m.cache.Delete(token) {
		m.recorder.SetSessionCacheSize(m.cache.Len())
		m.logger.Info("session invalidated", zap.String("token", logging.Fingerprint(token)))
	}
}

func (m *Manager) IsSessionValid(data Data) bool {
	return data.ValidAt(m.clock.Now(), InactivityTimeout)
}

// TokenExpiry reads the exp claim of token without verifying it.
func (m *Manager) TokenExpiry(token string) (time.Time, bool) {
	claims, decoded := m.signer.Decode(token)
	if !decoded || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// ExpiresWithin reports whether token expires within window of now. Tokens
// that cannot be decoded count as expiring.
func (m *Manager) ExpiresWithin(token string, window time.Duration) bool {
	expiresAt, found := m.TokenExpiry(token)
	if !found {
		return true
	}
	return !expiresAt.After(m.clock.Now().Add(window))
}

// Sweep drops cached sessions that are no longer valid.
func (m *Manager) Sweep() int {
	currentTime := m.clock.Now()
	removed := m.cache.Sweep(func(data Data) bool {
		return data.ValidAt(currentTime, InactivityTimeout)
	})
	m.recorder.SetSessionCacheSize(m.cache.Len())
	if removed > 0 {
		m.logger.Info("session cache sweep", zap.Int("removed", removed))
	}
	return removed
}

// RunCleanup sweeps on every tick until ctx is done.
func (m *Manager) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = CleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

func (m *Manager) Len() int { return m.cache.Len() }

// Cache exposes the session cache for inspection.
func (m *Manager) Cache() *Cache { return m.cache }
