// Package identity signs and verifies the long-lived device credential
// a pairing handshake exchanges a PairingToken for.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agentsh/agentsh/internal/agentmodel"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrDisabled      = errors.New("identity: signing disabled, no secret configured")
	ErrInvalidToken  = errors.New("identity: invalid device credential")
	ErrDeviceIDEmpty = errors.New("identity: device id required")
)

// Claims embeds the device identity a credential asserts.
type Claims struct {
	Hostname string `json:"hostname,omitempty"`
	jwt.RegisteredClaims
}

// Service signs and verifies device credentials with an HMAC secret.
type Service struct {
	secret []byte
	expiry time.Duration
}

// NewService builds a credential signer. expiry == 0 issues tokens
// with no expiration, for long-lived static fleets. A negative expiry
// is honored as-is, producing an already-expired token, for tests.
func NewService(secret string, expiry time.Duration) *Service {
	return &Service{secret: []byte(secret), expiry: expiry}
}

// Issue signs a device credential for d.
func (s *Service) Issue(d agentmodel.Device) (string, error) {
	if s == nil || len(s.secret) == 0 {
		return "", ErrDisabled
	}
	if strings.TrimSpace(d.ID) == "" {
		return "", ErrDeviceIDEmpty
	}

	claims := Claims{
		Hostname: strings.TrimSpace(d.Hostname),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  d.ID,
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if s.expiry != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(s.expiry))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify parses and validates a device credential, returning the
// Device it asserts.
func (s *Service) Verify(token string) (agentmodel.Device, error) {
	if s == nil || len(s.secret) == 0 {
		return agentmodel.Device{}, ErrDisabled
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return agentmodel.Device{}, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return agentmodel.Device{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return agentmodel.Device{}, ErrInvalidToken
	}

	return agentmodel.Device{ID: claims.Subject, Hostname: claims.Hostname}, nil
}
