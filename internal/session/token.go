package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/MarkoPoloResearchLab/ballotgate/internal/clock"
)

const minimumSecretLength = 16

var errUnexpectedAlgorithm = errors.New("unexpected_jwt_alg")

var (
	ErrMissingSecret = errors.New("session signing secret is missing")
	ErrWeakSecret    = errors.New("session signing secret is too short")
	ErrTokenExpired  = errors.New("session token expired")
	ErrTokenInvalid  = errors.New("session token invalid")
)

// TokenError is returned by Signer.Verify. Kind is ErrTokenExpired or
// ErrTokenInvalid.
type TokenError struct {
	Kind  error
	Cause error
}

func (e *TokenError) Error() string {
	if e.Cause == nil {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Cause.Error()
}

func (e *TokenError) Unwrap() error { return e.Kind }

// Claims is the signed session payload.
type Claims struct {
	jwt.RegisteredClaims
	UserID           string `json:"userId"`
	Role             Role   `json:"role,omitempty"`
	Email            string `json:"email,omitempty"`
	Phone            string `json:"phone,omitempty"`
	VoterID          string `json:"voterId,omitempty"`
	SessionExpiresAt int64  `json:"expiresAt"`
	LastActivity     int64  `json:"lastActivity"`
	SessionID        string `json:"sessionId"`
}

func claimsFromData(data Data, sessionID string) Claims {
	return Claims{
		UserID:           data.UserID,
		Role:             data.Role,
		Email:            data.Email,
		Phone:            data.Phone,
		VoterID:          data.VoterID,
		SessionExpiresAt: data.ExpiresAt.UnixMilli(),
		LastActivity:     data.LastActivity.UnixMilli(),
		SessionID:        sessionID,
	}
}

// Signer is the cryptographic token primitive behind a Manager.
type Signer interface {
	Sign(claims Claims, ttl time.Duration) (string, error)
	// Verify checks the signature and expiry. Failures wrap ErrTokenExpired
	// or ErrTokenInvalid.
	Verify(token string) (Claims, error)
	// Decode reads the payload without verifying it.
	Decode(token string) (Claims, bool)
}

// JWTSigner signs HS256 JWTs.
type JWTSigner struct {
	secret []byte
	clock  clock.Clock
}

var _ Signer = (*JWTSigner)(nil)

func NewJWTSigner(secret []byte, c clock.Clock) (*JWTSigner, error) {
	if len(secret) == 0 {
		return nil, ErrMissingSecret
	}
	if len(secret) < minimumSecretLength {
		return nil, fmt.Errorf("%w: need at least %d bytes", ErrWeakSecret, minimumSecretLength)
	}
	if c == nil {
		c = clock.SystemClock{}
	}
	return &JWTSigner{secret: append([]byte(nil), secret...), clock: c}, nil
}

func (s *JWTSigner) Sign(claims Claims, ttl time.Duration) (string, error) {
	currentTime := s.clock.Now()
	claims.IssuedAt = jwt.NewNumericDate(currentTime)
	claims.ExpiresAt = jwt.NewNumericDate(currentTime.Add(ttl))
	claims.ID = claims.SessionID

	signedToken, signError := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if signError != nil {
		return "", fmt.Errorf("sign session token: %w", signError)
	}
	return signedToken, nil
}

func (s *JWTSigner) Verify(token string) (Claims, error) {
	var parsedClaims Claims
	parsedToken, parseTokenError := jwt.ParseWithClaims(token, &parsedClaims, func(token *jwt.Token) (interface{}, error) {
		if token.Method == nil || token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errUnexpectedAlgorithm
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.clock.Now), jwt.WithExpirationRequired())
	if parseTokenError != nil {
		if errors.Is(parseTokenError, jwt.ErrTokenExpired) {
			return Claims{}, &TokenError{Kind: ErrTokenExpired, Cause: parseTokenError}
		}
		return Claims{}, &TokenError{Kind: ErrTokenInvalid, Cause: parseTokenError}
	}
	if !parsedToken.Valid {
		return Claims{}, &TokenError{Kind: ErrTokenInvalid}
	}
	return parsedClaims, nil
}

func (s *JWTSigner) Decode(token string) (Claims, bool) {
	var decodedClaims Claims
	if _, _, parseError := jwt.NewParser().ParseUnverified(token, &decodedClaims); parseError != nil {
		return Claims{}, false
	}
	return decodedClaims, true
}
