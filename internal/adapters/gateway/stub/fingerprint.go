package stub

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrUnauthorized indicates a missing or invalid authorization fingerprint.
var ErrUnauthorized = errors.New("unauthorized")

type fingerprintClaims struct {
	jwt.RegisteredClaims
	MerchantAccountID string `json:"merchantAccountId,omitempty"`
}

// IssueFingerprint mints an HS256 authorization fingerprint for merchant.
func (s *Server) IssueFingerprint(merchant string) (string, time.Time, error) {
	now := s.clk.Now().UTC()
	exp := now.Add(s.cfg.TTL)
	claims := fingerprintClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   merchant,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		MerchantAccountID: merchant,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign fingerprint: %w", err)
	}
	return signed, exp, nil
}

// verify checks an "Authorization: Bearer <fingerprint>" header.
func (s *Server) verify(header string) (fingerprintClaims, error) {
	raw, ok := strings.CutPrefix(strings.TrimSpace(header), "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return fingerprintClaims{}, ErrUnauthorized
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clk.Now),
	)
	var claims fingerprintClaims
	if _, err := parser.ParseWithClaims(strings.TrimSpace(raw), &claims, func(*jwt.Token) (any, error) {
		return s.cfg.Secret, nil
	}); err != nil {
		return fingerprintClaims{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return claims, nil
}
