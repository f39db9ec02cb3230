package signer_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"swarmline/internal/signer"
)

func TestSignProducesVerifiableToken(t *testing.T) {
	s := &signer.HS256{
		Secret:  "s3cret",
		Subject: "peer-1",
		Now:     func() time.Time { return time.Unix(1700000000, 0) },
	}
	token := s.Sign("swarm.submit_result", "abc12345")
	if token == "" {
		t.Fatal("want a token")
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := jwt.MapClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte("s3cret"), nil
	})
	if err != nil || !parsed.Valid {
		t.Fatalf("token does not verify: %v", err)
	}
	if claims["sub"] != "peer-1" || claims["mtd"] != "swarm.submit_result" || claims["mid"] != "abc12345" {
		t.Fatalf("bad claims: %+v", claims)
	}
	if iat, _ := claims["iat"].(float64); int64(iat) != 1700000000 {
		t.Fatalf("bad iat: %v", claims["iat"])
	}
}

func TestSignWithoutSecret(t *testing.T) {
	s := &signer.HS256{Subject: "peer-1"}
	if got := s.Sign("swarm.get_status", "id"); got != "" {
		t.Fatalf("no secret means unsigned, got %q", got)
	}
	var nilSigner *signer.HS256
	if got := nilSigner.Sign("swarm.get_status", "id"); got != "" {
		t.Fatalf("nil signer must be inert, got %q", got)
	}
}
