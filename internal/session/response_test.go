package session

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCookieName(t *testing.T) {
	assert.Equal(t, "admin_session", CookieName(RoleAdmin))
	assert.Equal(t, "candidate_session", CookieName(RoleCandidate))
	assert.Equal(t, "voter_session", CookieName(RoleVoter))
	assert.Equal(t, "voter_session", CookieName(RoleGuest))
}

func TestWriteSessionResponse(t *testing.T) {
	recorder := httptest.NewRecorder()
	data := Data{
		UserID:    "a1",
		Role:      RoleAdmin,
		Email:     "admin@example.org",
		ExpiresAt: testStart.Add(24 * time.Hour),
	}
	WriteSessionResponse(recorder, data, "signed-token", true)

	result := recorder.Result()
	defer result.Body.Close()
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, "application/json", result.Header.Get("Content-Type"))

	cookies := result.Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CookieAdmin, cookies[0].Name)
	assert.Equal(t, "signed-token", cookies[0].Value)
	assert.Equal(t, 86400, cookies[0].MaxAge)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)
	assert.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)

	var body map[string]any
	require.NoError(t, json.NewDecoder(result.Body).Decode(&body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(data.ExpiresAt.UnixMilli()), body["expiresAt"])
	user := body["user"].(map[string]any)
	assert.Equal(t, "a1", user["id"])
	assert.Equal(t, "ADMIN", user["role"])
	assert.Equal(t, "admin@example.org", user["email"])
	assert.NotContains(t, user, "phone")
}

func TestClearSessionCookies(t *testing.T) {
	recorder := httptest.NewRecorder()
	ClearSessionCookies(recorder, false)

	cookies := recorder.Result().Cookies()
	require.Len(t, cookies, 3)
	for _, cookie := range cookies {
		assert.Equal(t, -1, cookie.MaxAge, cookie.Name)
		assert.Empty(t, cookie.Value)
	}
}

func TestExtractTokenOrder(t *testing.T) {
	testCases := []struct {
		name     string
		request  headerRequest
		expected string
	}{
		{
			name: "admin cookie wins",
			request: headerRequest{
				cookies: map[string]string{CookieAdmin: "admin", CookieVoter: "voter"},
				headers: map[string]string{"Authorization": "Bearer bearer"},
			},
			expected: "admin",
		},
		{
			name:     "candidate before voter",
			request:  headerRequest{cookies: map[string]string{CookieCandidate: "candidate", CookieVoter: "voter"}},
			expected: "candidate",
		},
		{
			name:     "empty cookie is skipped",
			request:  headerRequest{cookies: map[string]string{CookieAdmin: ""}, headers: map[string]string{HeaderAuthToken: "custom"}},
			expected: "custom",
		},
		{
			name: "bearer before custom header",
			request: headerRequest{headers: map[string]string{
				"Authorization": "Bearer bearer",
				HeaderAuthToken: "custom",
			}},
			expected: "bearer",
		},
		{
			name:     "non-bearer authorization is ignored",
			request:  headerRequest{headers: map[string]string{"Authorization": "Basic abc"}},
			expected: "",
		},
		{
			name:     "nothing",
			request:  headerRequest{},
			expected: "",
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			assert.Equal(t, testCase.expected, ExtractToken(testCase.request))
		})
	}
}

func TestFromHTTPHeaders(t *testing.T) {
	request := httptest.NewRequest(http.MethodGet, "/", nil)
	request.Header.Set(HeaderAuthToken, "custom")
	assert.Equal(t, "custom", ExtractToken(FromHTTP(request)))
}
