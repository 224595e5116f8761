package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

const fingerprintLength = 12

// Fingerprint returns a short, stable digest of value so log lines can be
// correlated without writing tokens or full client identifiers.
func Fingerprint(value string) string {
	if value == "" {
		return ""
	}
	digest := sha256.Sum256([]byte(value))
	return hex.EncodeToString(digest[:])[:fingerprintLength]
}

// MaskAuthorization masks bearer tokens, preserving the scheme.
func MaskAuthorization(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	parts := strings.Fields(value)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return "Bearer " + MaskLast4(parts[1])
	}
	return MaskLast4(value)
}

// MaskCookie masks cookie values while preserving cookie names.
func MaskCookie(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	parts := strings.Split(value, ";")
	masked := make([]string, 0, len(parts))
	for _, part := range parts {
		segment := strings.TrimSpace(part)
		if segment == "" {
			continue
		}
		if idx := strings.Index(segment, "="); idx >= 0 {
			segment = strings.TrimSpace(segment[:idx]) + "=" + MaskLast4(segment[idx+1:])
		} else {
			segment = MaskLast4(segment)
		}
		masked = append(masked, segment)
	}
	return strings.Join(masked, "; ")
}

// MaskHeaders returns a flattened copy of headers with credentials masked.
func MaskHeaders(headers http.Header) map[string]string {
	masked := make(map[string]string, len(headers))
	for key, values := range headers {
		joined := strings.Join(values, ",")
		switch strings.ToLower(key) {
		case "authorization":
			masked[key] = MaskAuthorization(joined)
		case "cookie":
			masked[key] = MaskCookie(joined)
		case "x-auth-token", "x-service-key":
			masked[key] = MaskLast4(joined)
		default:
			masked[key] = joined
		}
	}
	return masked
}

// MaskLast4 keeps only the last four characters of value.
func MaskLast4(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if len(value) <= 4 {
		return "****" + value
	}
	return "****" + value[len(value)-4:]
}
