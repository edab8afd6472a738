// Package admission implements the gateway's admission layer: API-key/JWT authentication and
// token-bucket rate limiting, applied before a request reaches the router core.
package admission

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/llm-router-waf/internal/gatewayerror"
)

// Authenticator validates callers against a static API key list and, optionally, a JWT secret.
type Authenticator struct {
	apiKeys   []string
	jwtSecret string
	logger    *logrus.Logger
}

// NewAuthenticator builds an Authenticator. An empty apiKeys list with no jwtSecret disables
// auth entirely, per the bypass rule below.
func NewAuthenticator(apiKeys []string, jwtSecret string, logger *logrus.Logger) *Authenticator {
	return &Authenticator{apiKeys: apiKeys, jwtSecret: jwtSecret, logger: logger}
}

func bypassPath(path string) bool {
	return strings.HasPrefix(path, "/health") || path == "/metrics"
}

// Authenticate checks r against the configured credentials, returning nil when the request is
// admitted. Paths under /health and exactly /metrics always bypass auth; when neither api_keys
// nor a JWT secret is configured, auth is bypassed entirely.
func (a *Authenticator) Authenticate(r *http.Request) error {
	if bypassPath(r.URL.Path) {
		return nil
	}
	if len(a.apiKeys) == 0 && a.jwtSecret == "" {
		return nil
	}

	token, malformed := extractCredential(r)
	if malformed {
		return gatewayerror.InvalidRequest("malformed Authorization header")
	}
	if token == "" {
		return gatewayerror.ClientError(http.StatusUnauthorized, "invalid_api_key", "missing credential")
	}

	if a.jwtSecret != "" {
		if err := a.validateJWT(token); err == nil {
			return nil
		}
	}

	for _, key := range a.apiKeys {
		if subtle.ConstantTimeCompare([]byte(token), []byte(key)) == 1 {
			return nil
		}
	}

	a.logger.WithField("path", r.URL.Path).Warn("admission: invalid credential")
	return gatewayerror.ClientError(http.StatusUnauthorized, "invalid_api_key", "invalid credential")
}

func (a *Authenticator) validateJWT(token string) error {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, gatewayerror.InvalidRequest("unexpected JWT signing method")
		}
		return []byte(a.jwtSecret), nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil || !parsed.Valid {
		if err == nil {
			err = gatewayerror.InvalidRequest("invalid JWT")
		}
		return err
	}
	return nil
}

// extractCredential pulls the credential from Authorization: Bearer <k>, a raw
// Authorization: <k>, or a query parameter api_key=/api-key=. malformed is true when an
// Authorization header uses the Bearer scheme but carries no token.
func extractCredential(r *http.Request) (token string, malformed bool) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if strings.HasPrefix(auth, "Bearer") {
			token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer"))
			if token == "" {
				return "", true
			}
			return token, false
		}
		return auth, false
	}
	if v := r.URL.Query().Get("api_key"); v != "" {
		return v, false
	}
	if v := r.URL.Query().Get("api-key"); v != "" {
		return v, false
	}
	return "", false
}
