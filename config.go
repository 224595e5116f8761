package main

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/MarkoPoloResearchLab/ballotgate/internal/logging"
	"github.com/MarkoPoloResearchLab/ballotgate/internal/ratelimit"
	"github.com/MarkoPoloResearchLab/ballotgate/internal/session"
)

const (
	envKeyListenAddress          = "LISTEN_ADDR"
	envKeyEnvironment            = "APP_ENV"
	envKeyLogLevel               = "LOG_LEVEL"
	envKeyServiceAPIKey          = "SERVICE_API_KEY"
	envKeySessionSecret          = "SESSION_SECRET"
	envKeyJwtSecret              = "JWT_SECRET"
	envKeyNextAuthSecret         = "NEXTAUTH_SECRET"
	envKeySessionExpiresIn       = "SESSION_EXPIRES_IN"
	envKeySessionEviction        = "SESSION_CACHE_EVICTION"
	envKeyOriginAllowlist        = "ORIGIN_ALLOWLIST"
	envKeyUpstreamBaseURL        = "UPSTREAM_BASE_URL"
	envKeyUpstreamTimeoutSeconds = "UPSTREAM_TIMEOUT_SECONDS"
	envKeyTrustedProxies         = "TRUSTED_PROXIES"
	envKeyRateLimitStore         = "RATE_LIMIT_STORE"
	envKeyRedisAddress           = "REDIS_ADDR"
	envKeyRedisPassword          = "REDIS_PASSWORD"
	envKeyRedisDB                = "REDIS_DB"

	envKeyRateLimitPrefix    = "RATE_LIMIT_"
	envKeyRateLimitMaxSuffix = "_MAX"
	envKeyRateLimitWinSuffix = "_WINDOW"

	defaultListenAddress          = ":8080"
	defaultLogLevel               = "info"
	defaultUpstreamTimeoutSeconds = 40
	defaultRedisAddress           = "localhost:6379"

	rateLimitStoreMemory = "memory"
	rateLimitStoreRedis  = "redis"

	minimumSecretLength = 16
)

// secretEnvKeys are consulted in order for the session signing secret.
var secretEnvKeys = []string{envKeySessionSecret, envKeyJwtSecret, envKeyNextAuthSecret}

type serverConfig struct {
	ListenAddress     string
	Environment       string
	LogLevel          string
	ServiceAPIKey     string
	SessionSecret     []byte
	SessionSecretKey  string
	SessionExpiresIn  string
	SessionEviction   session.EvictionPolicy
	AllowedOrigins    map[string]struct{}
	UpstreamBaseURL   *url.URL
	UpstreamTimeout   time.Duration
	TrustedProxies    []string
	RateLimitStore    string
	RedisAddress      string
	RedisPassword     string
	RedisDB           int
	RateLimitPolicies map[ratelimit.Class]ratelimit.Config
}

// SecureCookies reports whether session cookies carry the Secure flag.
func (c serverConfig) SecureCookies() bool {
	return strings.EqualFold(c.Environment, logging.EnvProduction)
}

// loadDotEnv reads .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func loadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if loadError := godotenv.Load(path); loadError != nil && !errors.Is(loadError, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", path, loadError)
		}
	}
	return nil
}

func loadConfig() (serverConfig, error) {
	listenAddress := strings.TrimSpace(os.Getenv(envKeyListenAddress))
	if listenAddress == "" {
		listenAddress = defaultListenAddress
	}

	environment := strings.TrimSpace(os.Getenv(envKeyEnvironment))
	if environment == "" {
		environment = logging.EnvDevelopment
	}

	logLevel := strings.TrimSpace(os.Getenv(envKeyLogLevel))
	if logLevel == "" {
		logLevel = defaultLogLevel
	}

	sessionSecret, sessionSecretKey := "", ""
	for _, secretEnvKey := range secretEnvKeys {
		if candidate := strings.TrimSpace(os.Getenv(secretEnvKey)); candidate != "" {
			sessionSecret, sessionSecretKey = candidate, secretEnvKey
			break
		}
	}
	if sessionSecret == "" {
		return serverConfig{}, fmt.Errorf("missing %s", strings.Join(secretEnvKeys, " / "))
	}
	if len(sessionSecret) < minimumSecretLength {
		return serverConfig{}, fmt.Errorf("weak %s: need at least %d bytes", sessionSecretKey, minimumSecretLength)
	}

	serviceAPIKey := strings.TrimSpace(os.Getenv(envKeyServiceAPIKey))
	if serviceAPIKey == "" {
		return serverConfig{}, fmt.Errorf("missing %s", envKeyServiceAPIKey)
	}

	sessionExpiresIn := strings.TrimSpace(os.Getenv(envKeySessionExpiresIn))
	if sessionExpiresIn == "" {
		sessionExpiresIn = session.DefaultExpiresIn
	}
	if _, parseExpiresInError := session.ParseExpiresIn(sessionExpiresIn); parseExpiresInError != nil {
		return serverConfig{}, fmt.Errorf("bad %s: %v", envKeySessionExpiresIn, parseExpiresInError)
	}

	sessionEviction := session.InsertionOrder
	switch evictionEnv := strings.ToLower(strings.TrimSpace(os.Getenv(envKeySessionEviction))); evictionEnv {
	case "", session.InsertionOrder.String():
	case session.AccessOrder.String():
		sessionEviction = session.AccessOrder
	default:
		return serverConfig{}, fmt.Errorf("bad %s: %q", envKeySessionEviction, evictionEnv)
	}

	allowedOrigins := make(map[string]struct{})
	for _, originItem := range strings.Split(os.Getenv(envKeyOriginAllowlist), ",") {
		if trimmed := strings.TrimSpace(originItem); trimmed != "" {
			allowedOrigins[trimmed] = struct{}{}
		}
	}

	var upstreamBaseURL *url.URL
	if upstreamBaseURLString := strings.TrimSpace(os.Getenv(envKeyUpstreamBaseURL)); upstreamBaseURLString != "" {
		parsedURL, parseURLError := url.Parse(upstreamBaseURLString)
		if parseURLError != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
			return serverConfig{}, fmt.Errorf("bad %s: %q", envKeyUpstreamBaseURL, upstreamBaseURLString)
		}
		upstreamBaseURL = parsedURL
	}

	upstreamTimeoutSeconds := defaultUpstreamTimeoutSeconds
	if timeoutEnv := strings.TrimSpace(os.Getenv(envKeyUpstreamTimeoutSeconds)); timeoutEnv != "" {
		if parsedTimeout, parseTimeoutError := strconv.Atoi(timeoutEnv); parseTimeoutError == nil && parsedTimeout > 0 {
			upstreamTimeoutSeconds = parsedTimeout
		}
	}

	var trustedProxies []string
	for _, proxyItem := range strings.Split(os.Getenv(envKeyTrustedProxies), ",") {
		if trimmed := strings.TrimSpace(proxyItem); trimmed != "" {
			trustedProxies = append(trustedProxies, trimmed)
		}
	}

	rateLimitStore := strings.ToLower(strings.TrimSpace(os.Getenv(envKeyRateLimitStore)))
	if rateLimitStore == "" {
		rateLimitStore = rateLimitStoreMemory
	}
	if rateLimitStore != rateLimitStoreMemory && rateLimitStore != rateLimitStoreRedis {
		return serverConfig{}, fmt.Errorf("bad %s: %q", envKeyRateLimitStore, rateLimitStore)
	}

	redisAddress := strings.TrimSpace(os.Getenv(envKeyRedisAddress))
	if redisAddress == "" {
		redisAddress = defaultRedisAddress
	}
	redisDB := 0
	if redisDBEnv := strings.TrimSpace(os.Getenv(envKeyRedisDB)); redisDBEnv != "" {
		parsedDB, parseDBError := strconv.Atoi(redisDBEnv)
		if parseDBError != nil || parsedDB < 0 {
			return serverConfig{}, fmt.Errorf("bad %s: %q", envKeyRedisDB, redisDBEnv)
		}
		redisDB = parsedDB
	}

	rateLimitPolicies, policiesError := loadRateLimitPolicies()
	if policiesError != nil {
		return serverConfig{}, policiesError
	}

	return serverConfig{
		ListenAddress:     listenAddress,
		Environment:       environment,
		LogLevel:          logLevel,
		ServiceAPIKey:     serviceAPIKey,
		SessionSecret:     []byte(sessionSecret),
		SessionSecretKey:  sessionSecretKey,
		SessionExpiresIn:  sessionExpiresIn,
		SessionEviction:   sessionEviction,
		AllowedOrigins:    allowedOrigins,
		UpstreamBaseURL:   upstreamBaseURL,
		UpstreamTimeout:   time.Duration(upstreamTimeoutSeconds) * time.Second,
		TrustedProxies:    trustedProxies,
		RateLimitStore:    rateLimitStore,
		RedisAddress:      redisAddress,
		RedisPassword:     os.Getenv(envKeyRedisPassword),
		RedisDB:           redisDB,
		RateLimitPolicies: rateLimitPolicies,
	}, nil
}

// loadRateLimitPolicies applies RATE_LIMIT_<CLASS>_MAX and
// RATE_LIMIT_<CLASS>_WINDOW overrides to the default policy table.
func loadRateLimitPolicies() (map[ratelimit.Class]ratelimit.Config, error) {
	policies := ratelimit.DefaultPolicies()
	for _, class := range ratelimit.Classes {
		policy := policies[class]
		classKey := envKeyRateLimitPrefix + strings.ToUpper(string(class))

		if maxEnv := strings.TrimSpace(os.Getenv(classKey + envKeyRateLimitMaxSuffix)); maxEnv != "" {
			parsedMax, parseMaxError := strconv.Atoi(maxEnv)
			if parseMaxError != nil {
				return nil, fmt.Errorf("bad %s: %q", classKey+envKeyRateLimitMaxSuffix, maxEnv)
			}
			policy.MaxRequests = parsedMax
		}
		if windowEnv := strings.TrimSpace(os.Getenv(classKey + envKeyRateLimitWinSuffix)); windowEnv != "" {
			parsedWindow, parseWindowError := time.ParseDuration(windowEnv)
			if parseWindowError != nil {
				return nil, fmt.Errorf("bad %s: %q", classKey+envKeyRateLimitWinSuffix, windowEnv)
			}
			policy.Window = parsedWindow
		}
		if validateError := policy.Validate(); validateError != nil {
			return nil, fmt.Errorf("%s: %w", classKey, validateError)
		}
		policies[class] = policy
	}
	return policies, nil
}
