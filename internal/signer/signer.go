// Package signer fills the wire protocol's signature field. Signatures are
// opaque to the driver (nothing local verifies them); when no secret is
// configured requests go out unsigned, which the connector tolerates.
package signer

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// HS256 signs each request with a compact JWT binding the agent, method, and
// request id.
type HS256 struct {
	Secret  string
	Subject string
	Now     func() time.Time
}

func (s *HS256) Sign(method, requestID string) string {
	if s == nil || s.Secret == "" {
		return ""
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	claims := jwt.MapClaims{
		"sub": s.Subject,
		"mtd": method,
		"mid": requestID,
		"iat": now().Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.Secret))
	if err != nil {
		return ""
	}
	return signed
}
