package session

import (
	"net/http"
	"strings"
)

const (
	CookieAdmin     = "admin_session"
	CookieCandidate = "candidate_session"
	CookieVoter     = "voter_session"

	headerAuthorization = "Authorization"
	HeaderAuthToken     = "X-Auth-Token"

	bearerPrefix = "Bearer "
)

// Request is the read-only view of an inbound request that token extraction
// needs.
type Request interface {
	CookieValue(name string) (string, bool)
	HeaderValue(name string) string
}

type httpRequest struct {
	request *http.Request
}

// FromHTTP adapts an *http.Request.
func FromHTTP(request *http.Request) Request {
	return httpRequest{request: request}
}

func (r httpRequest) CookieValue(name string) (string, bool) {
	cookie, cookieError := r.request.Cookie(name)
	if cookieError != nil {
		return "", false
	}
	return cookie.Value, true
}

func (r httpRequest) HeaderValue(name string) string {
	return r.request.Header.Get(name)
}

// ExtractToken returns the first non-empty token from the admin, candidate
// and voter cookies, the bearer Authorization header, then X-Auth-Token.
func ExtractToken(request Request) string {
	if request == nil {
		return ""
	}
	for _, cookieName := range []string{CookieAdmin, CookieCandidate, CookieVoter} {
		if cookieValue, found := request.CookieValue(cookieName); found && cookieValue != "" {
			return cookieValue
		}
	}
	if authorizationHeaderValue := request.HeaderValue(headerAuthorization); strings.HasPrefix(authorizationHeaderValue, bearerPrefix) {
		if bearerToken := strings.TrimPrefix(authorizationHeaderValue, bearerPrefix); bearerToken != "" {
			return bearerToken
		}
	}
	return request.HeaderValue(HeaderAuthToken)
}
