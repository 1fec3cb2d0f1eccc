package ingest

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// =============================================================================
// AUTHENTICATION STRATEGIES
// =============================================================================

// AuthConfig represents authentication configuration.
type AuthConfig interface {
	Apply(req *http.Request) error
}

// NoAuth represents no authentication.
type NoAuth struct{}

func (a NoAuth) Apply(req *http.Request) error { return nil }

// BearerToken uses a fixed bearer token.
type BearerToken struct {
	Token string
}

func (a BearerToken) Apply(req *http.Request) error {
	if a.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.Token)
	}
	return nil
}

// ConnectorToken signs a short-lived HS256 JWT per request, issued by the
// connector id and signed with the connector secret.
type ConnectorToken struct {
	ConnectorID string
	Secret      string
	TTL         time.Duration

	now func() time.Time
}

// Sign returns a signed token.
func (a ConnectorToken) Sign() (string, error) {
	if a.Secret == "" {
		return "", fmt.Errorf("connector secret is required")
	}
	now := time.Now
	if a.now != nil {
		now = a.now
	}
	ttl := a.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	issuedAt := now()
	claims := jwt.RegisteredClaims{
		Issuer:    a.ConnectorID,
		Subject:   a.ConnectorID,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.Secret))
}

func (a ConnectorToken) Apply(req *http.Request) error {
	token, err := a.Sign()
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}
