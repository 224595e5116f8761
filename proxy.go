package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"strings"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/ballotgate/internal/ratelimit"
	"github.com/MarkoPoloResearchLab/ballotgate/internal/session"
)

const (
	headerAccessControlAllowOrigin      = "Access-Control-Allow-Origin"
	headerAccessControlAllowHeaders     = "Access-Control-Allow-Headers"
	headerAccessControlAllowMethods     = "Access-Control-Allow-Methods"
	headerAccessControlAllowCredentials = "Access-Control-Allow-Credentials"
	headerVary                          = "Vary"

	headerAllowHeadersValue = "Authorization, Content-Type, X-Auth-Token"
	headerAllowMethodsValue = "GET, POST, PUT, PATCH, DELETE, OPTIONS"

	headerSessionUserID = "X-Session-User-Id"
	headerSessionRole   = "X-Session-Role"
)

var pathClasses = []struct {
	prefix string
	class  ratelimit.Class
}{
	{prefix: "/api/auth", class: ratelimit.ClassAuth},
	{prefix: "/api/upload", class: ratelimit.ClassUpload},
	{prefix: "/api/otp", class: ratelimit.ClassOTP},
	{prefix: "/api/vote", class: ratelimit.ClassVoting},
}

func classForPath(requestPath string) ratelimit.Class {
	for _, pathClass := range pathClasses {
		if requestPath == pathClass.prefix || strings.HasPrefix(requestPath, pathClass.prefix+"/") {
			return pathClass.class
		}
	}
	return ratelimit.ClassGeneral
}

func newReverseProxy(gatewayConfig serverConfig, logger *zap.Logger) *httputil.ReverseProxy {
	reverseProxy := httputil.NewSingleHostReverseProxy(gatewayConfig.UpstreamBaseURL)
	reverseProxy.ErrorHandler = func(httpResponseWriter http.ResponseWriter, httpRequest *http.Request, proxyError error) {
		logger.Warn("reverse proxy error", zap.String("path", httpRequest.URL.Path), zap.Error(proxyError))
		httpErrorJSON(httpResponseWriter, http.StatusBadGateway, "upstream_error")
	}
	return reverseProxy
}

func (h *gatewayHandlers) handleProxy(upstreamProxy http.Handler) http.HandlerFunc {
	return func(httpResponseWriter http.ResponseWriter, httpRequest *http.Request) {
		class := classForPath(httpRequest.URL.Path)
		sessionData, verified := h.sessions.VerifySession(session.FromHTTP(httpRequest))

		identifier := clientIdentifier(httpRequest, h.trustedProxies)
		if class == ratelimit.ClassVoting && verified {
			identifier = userIdentifier(sessionData.UserID)
		}
		if !h.allow(httpResponseWriter, httpRequest, class, identifier) {
			return
		}

		httpRequest.Header.Del(headerSessionUserID)
		httpRequest.Header.Del(headerSessionRole)
		if verified {
			httpRequest.Header.Set(headerSessionUserID, sessionData.UserID)
			httpRequest.Header.Set(headerSessionRole, string(sessionData.Role))
		}

		upstreamContext, cancelUpstream := context.WithTimeout(httpRequest.Context(), h.config.UpstreamTimeout)
		defer cancelUpstream()
		upstreamProxy.ServeHTTP(httpResponseWriter, httpRequest.WithContext(upstreamContext))
	}
}

func handleNotFound(httpResponseWriter http.ResponseWriter, _ *http.Request) {
	httpErrorJSON(httpResponseWriter, http.StatusNotFound, "not_found")
}

func httpErrorJSON(httpResponseWriter http.ResponseWriter, statusCode int, errorCode string) {
	httpResponseWriter.Header().Set(headerContentType, contentTypeJSON)
	httpResponseWriter.WriteHeader(statusCode)
	_, _ = httpResponseWriter.Write([]byte(fmt.Sprintf("{\"error\":\"%s\"}", errorCode)))
}

func checkOrigin(httpResponseWriter http.ResponseWriter, httpRequest *http.Request, allowedOrigins map[string]struct{}) bool {
	originHeader := httpRequest.Header.Get("Origin")
	if len(allowedOrigins) == 0 || originHeader == "" {
		return true
	}
	if _, isAllowed := allowedOrigins[originHeader]; !isAllowed {
		httpErrorJSON(httpResponseWriter, http.StatusForbidden, "origin_not_allowed")
		return false
	}
	httpResponseWriter.Header().Set(headerAccessControlAllowOrigin, originHeader)
	httpResponseWriter.Header().Set(headerAccessControlAllowCredentials, "true")
	httpResponseWriter.Header().Add(headerVary, "Origin")
	httpResponseWriter.Header().Set(headerAccessControlAllowHeaders, headerAllowHeadersValue)
	httpResponseWriter.Header().Set(headerAccessControlAllowMethods, headerAllowMethodsValue)
	return true
}

func originMiddleware(allowedOrigins map[string]struct{}) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(httpResponseWriter http.ResponseWriter, httpRequest *http.Request) {
			if !checkOrigin(httpResponseWriter, httpRequest, allowedOrigins) {
				return
			}
			if httpRequest.Method == http.MethodOptions && httpRequest.Header.Get("Origin") != "" {
				httpResponseWriter.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(httpResponseWriter, httpRequest)
		})
	}
}
