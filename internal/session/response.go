package session

import (
	"encoding/json"
	"net/http"
)

const cookieMaxAgeSeconds = 24 * 60 * 60

// CookieName is the cookie a session of role is stored in.
func CookieName(role Role) string {
	switch role {
	case RoleAdmin:
		return CookieAdmin
	case RoleCandidate:
		return CookieCandidate
	default:
		return CookieVoter
	}
}

type responseUser struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	VoterID string `json:"voterId,omitempty"`
}

// Response is the JSON body written next to a session cookie.
type Response struct {
	Success   bool         `json:"success"`
	User      responseUser `json:"user"`
	ExpiresAt int64        `json:"expiresAt"`
}

func NewResponse(data Data) Response {
	return Response{
		Success: true,
		User: responseUser{
			ID:      data.UserID,
			Role:    data.Role,
			Email:   data.Email,
			Phone:   data.Phone,
			VoterID: data.VoterID,
		},
		ExpiresAt: data.ExpiresAt.UnixMilli(),
	}
}

// WriteSessionResponse sets the role cookie and writes the session as JSON.
func WriteSessionResponse(httpResponseWriter http.ResponseWriter, data Data, token string, secure bool) {
	http.SetCookie(httpResponseWriter, &http.Cookie{
		Name:     CookieName(data.Role),
		Value:    token,
		Path:     "/",
		MaxAge:   cookieMaxAgeSeconds,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	httpResponseWriter.Header().Set("Content-Type", "application/json")
	httpResponseWriter.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(httpResponseWriter).Encode(NewResponse(data))
}

// ClearSessionCookies expires every role cookie.
func ClearSessionCookies(httpResponseWriter http.ResponseWriter, secure bool) {
	for _, cookieName := range []string{CookieAdmin, CookieCandidate, CookieVoter} {
		http.SetCookie(httpResponseWriter, &http.Cookie{
			Name:     cookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}
