package main

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/ballotgate/internal/clock"
	"github.com/MarkoPoloResearchLab/ballotgate/internal/logging"
	"github.com/MarkoPoloResearchLab/ballotgate/internal/ratelimit"
	"github.com/MarkoPoloResearchLab/ballotgate/internal/session"
)

const (
	headerContentType = "Content-Type"
	headerRetryAfter  = "Retry-After"
	headerServiceKey  = "X-Service-Key"
	contentTypeJSON   = "application/json"

	maxRequestBodyBytes = 1 << 20
)

type sessionContextKey struct{}

type gatewayHandlers struct {
	config         serverConfig
	sessions       *session.Manager
	limiters       *ratelimit.Set
	clock          clock.Clock
	logger         *zap.Logger
	trustedProxies *trustedProxyList
}

func newGatewayHandlers(gatewayConfig serverConfig, sessions *session.Manager, limiters *ratelimit.Set, systemClock clock.Clock, logger *zap.Logger) (*gatewayHandlers, error) {
	trustedProxies, trustedProxiesError := newTrustedProxyList(gatewayConfig.TrustedProxies)
	if trustedProxiesError != nil {
		return nil, trustedProxiesError
	}
	return &gatewayHandlers{
		config:         gatewayConfig,
		sessions:       sessions,
		limiters:       limiters,
		clock:          systemClock,
		logger:         logger.Named("http"),
		trustedProxies: trustedProxies,
	}, nil
}

type createSessionRequest struct {
	session.User
	ExpiresIn string `json:"expiresIn"`
}

type rateLimitStatusResponse struct {
	Class       ratelimit.Class `json:"class"`
	Allowed     bool            `json:"allowed"`
	Count       int             `json:"count"`
	MaxRequests int             `json:"maxRequests"`
	ResetTime   int64           `json:"resetTime"`
	Blocked     bool            `json:"blocked"`
}

type rateLimitResetRequest struct {
	Class      ratelimit.Class `json:"class"`
	Identifier string          `json:"identifier"`
	UserID     string          `json:"userId"`
}

func handleHealth(httpResponseWriter http.ResponseWriter, _ *http.Request) {
	httpResponseWriter.Header().Set(headerContentType, contentTypeJSON)
	httpResponseWriter.WriteHeader(http.StatusOK)
	_, _ = httpResponseWriter.Write([]byte("{\"status\":\"ok\"}"))
}

func (h *gatewayHandlers) handleCreateSession(httpResponseWriter http.ResponseWriter, httpRequest *http.Request) {
	presentedKey := httpRequest.Header.Get(headerServiceKey)
	if h.config.ServiceAPIKey == "" || subtle.ConstantTimeCompare([]byte(presentedKey), []byte(h.config.ServiceAPIKey)) != 1 {
		httpErrorJSON(httpResponseWriter, http.StatusUnauthorized, "invalid_service_key")
		return
	}

	var sessionRequest createSessionRequest
	if decodeError := decodeJSONBody(httpRequest, &sessionRequest); decodeError != nil {
		httpErrorJSON(httpResponseWriter, http.StatusBadRequest, "invalid_json")
		return
	}

	if sessionRequest.ExpiresIn != "" {
		if _, parseError := session.ParseExpiresIn(sessionRequest.ExpiresIn); parseError != nil {
			httpErrorJSON(httpResponseWriter, http.StatusBadRequest, "invalid_expires_in")
			return
		}
	}

	token, issuedData, createError := h.sessions.CreateSession(sessionRequest.User, sessionRequest.ExpiresIn)
	if errors.Is(createError, session.ErrMissingIdentity) {
		httpErrorJSON(httpResponseWriter, http.StatusBadRequest, "missing_user_id")
		return
	}
	if createError != nil {
		h.logger.Error("session create failed", zap.Error(createError))
		httpErrorJSON(httpResponseWriter, http.StatusInternalServerError, "sign_error")
		return
	}
	session.WriteSessionResponse(httpResponseWriter, issuedData, token, h.config.SecureCookies())
}

func (h *gatewayHandlers) handleCurrentSession(httpResponseWriter http.ResponseWriter, httpRequest *http.Request) {
	sessionData, verified := h.sessions.VerifySession(session.FromHTTP(httpRequest))
	if !verified {
		httpErrorJSON(httpResponseWriter, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(httpResponseWriter, http.StatusOK, session.NewResponse(sessionData))
}

func (h *gatewayHandlers) handleRefreshSession(httpResponseWriter http.ResponseWriter, httpRequest *http.Request) {
	sessionData, verified := h.sessions.VerifySession(session.FromHTTP(httpRequest))
	if !verified {
		httpErrorJSON(httpResponseWriter, http.StatusUnauthorized, "unauthorized")
		return
	}
	token, issuedData, refreshError := h.sessions.RefreshSession(sessionData)
	if refreshError != nil {
		h.logger.Error("session refresh failed", zap.Error(refreshError))
		httpErrorJSON(httpResponseWriter, http.StatusInternalServerError, "sign_error")
		return
	}
	session.WriteSessionResponse(httpResponseWriter, issuedData, token, h.config.SecureCookies())
}

func (h *gatewayHandlers) handleLogout(httpResponseWriter http.ResponseWriter, httpRequest *http.Request) {
	h.sessions.InvalidateSession(session.FromHTTP(httpRequest))
	session.ClearSessionCookies(httpResponseWriter, h.config.SecureCookies())
	writeJSON(httpResponseWriter, http.StatusOK, map[string]bool{"success": true})
}

func (h *gatewayHandlers) handleRateLimitStatus(httpResponseWriter http.ResponseWriter, httpRequest *http.Request) {
	className := strings.TrimSpace(httpRequest.URL.Query().Get("class"))
	if className == "" {
		className = string(ratelimit.ClassGeneral)
	}
	class, known := ratelimit.ParseClass(className)
	limiter := h.limiters.For(class)
	if !known || limiter == nil {
		httpErrorJSON(httpResponseWriter, http.StatusBadRequest, "unknown_class")
		return
	}
	status := limiter.Status(httpRequest.Context(), h.identifierFor(httpRequest, class))
	writeJSON(httpResponseWriter, http.StatusOK, rateLimitStatusResponse{
		Class:       class,
		Allowed:     status.Allowed,
		Count:       status.Count,
		MaxRequests: status.MaxRequests,
		ResetTime:   status.ResetTime.UnixMilli(),
		Blocked:     status.Blocked,
	})
}

func (h *gatewayHandlers) handleRateLimitReset(httpResponseWriter http.ResponseWriter, httpRequest *http.Request) {
	var resetRequest rateLimitResetRequest
	if decodeError := decodeJSONBody(httpRequest, &resetRequest); decodeError != nil {
		httpErrorJSON(httpResponseWriter, http.StatusBadRequest, "invalid_json")
		return
	}
	class, known := ratelimit.ParseClass(string(resetRequest.Class))
	limiter := h.limiters.For(class)
	if !known || limiter == nil {
		httpErrorJSON(httpResponseWriter, http.StatusBadRequest, "unknown_class")
		return
	}
	identifier := renderIdentifier(strings.TrimSpace(resetRequest.Identifier))
	if userID := strings.TrimSpace(resetRequest.UserID); userID != "" {
		identifier = userIdentifier(userID)
	}
	if identifier == "" {
		httpErrorJSON(httpResponseWriter, http.StatusBadRequest, "missing_identifier")
		return
	}
	limiter.Reset(httpRequest.Context(), identifier)

	adminData, _ := sessionFromContext(httpRequest.Context())
	h.logger.Info("rate limit reset by admin",
		zap.String("admin_id", adminData.UserID),
		zap.String("class", string(class)),
		zap.String("identifier", logging.Fingerprint(identifier)))
	writeJSON(httpResponseWriter, http.StatusOK, map[string]bool{"success": true})
}

func (h *gatewayHandlers) requireRole(role session.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(httpResponseWriter http.ResponseWriter, httpRequest *http.Request) {
			sessionData, verified := h.sessions.VerifySession(session.FromHTTP(httpRequest))
			if !verified {
				httpErrorJSON(httpResponseWriter, http.StatusUnauthorized, "unauthorized")
				return
			}
			if sessionData.Role != role {
				httpErrorJSON(httpResponseWriter, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(httpResponseWriter, httpRequest.WithContext(context.WithValue(httpRequest.Context(), sessionContextKey{}, sessionData)))
		})
	}
}

func sessionFromContext(ctx context.Context) (session.Data, bool) {
	sessionData, found := ctx.Value(sessionContextKey{}).(session.Data)
	return sessionData, found
}

func (h *gatewayHandlers) rateLimit(class ratelimit.Class) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(httpResponseWriter http.ResponseWriter, httpRequest *http.Request) {
			if !h.allow(httpResponseWriter, httpRequest, class, h.identifierFor(httpRequest, class)) {
				return
			}
			next.ServeHTTP(httpResponseWriter, httpRequest)
		})
	}
}

func (h *gatewayHandlers) allow(httpResponseWriter http.ResponseWriter, httpRequest *http.Request, class ratelimit.Class, identifier string) bool {
	limiter := h.limiters.For(class)
	if limiter == nil {
		return true
	}
	if limiter.Allow(httpRequest.Context(), identifier) {
		return true
	}
	retryAfter := limiter.Status(httpRequest.Context(), identifier).RetryAfter(h.clock.Now())
	if retryAfter <= 0 {
		retryAfter = limiter.Config().Window
	}
	httpResponseWriter.Header().Set(headerRetryAfter, strconv.Itoa(int(retryAfter.Seconds())))
	httpErrorJSON(httpResponseWriter, http.StatusTooManyRequests, "rate_limited")
	return false
}

func (h *gatewayHandlers) identifierFor(httpRequest *http.Request, class ratelimit.Class) string {
	if class == ratelimit.ClassVoting {
		if sessionData, verified := h.sessions.VerifySession(session.FromHTTP(httpRequest)); verified {
			return userIdentifier(sessionData.UserID)
		}
	}
	return clientIdentifier(httpRequest, h.trustedProxies)
}

// hex keeps IDs that differ only in case apart after limiter normalization.
func userIdentifier(userID string) string {
	return "user-" + hex.EncodeToString([]byte(userID))
}

func decodeJSONBody(httpRequest *http.Request, target any) error {
	defer httpRequest.Body.Close()
	requestBodyBytes, readBodyError := io.ReadAll(io.LimitReader(httpRequest.Body, maxRequestBodyBytes))
	if readBodyError != nil {
		return readBodyError
	}
	return json.Unmarshal(requestBodyBytes, target)
}

func writeJSON(httpResponseWriter http.ResponseWriter, statusCode int, payload any) {
	httpResponseWriter.Header().Set(headerContentType, contentTypeJSON)
	httpResponseWriter.WriteHeader(statusCode)
	_ = json.NewEncoder(httpResponseWriter).Encode(payload)
}
