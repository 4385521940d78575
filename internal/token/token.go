/**
 * @description
 * This package implements the resume-token service: issuance and verification
 * of the short-lived, single-use capability tokens that authorize resuming a
 * suspended registration attempt.
 *
 * The service itself is stateless and side-effect-free. A token is an HS256
 * JWT binding (request id, interrupt id, nonce, expiry); verification checks
 * signature shape and expiry only. Single-use enforcement lives with the
 * interrupt manager, which atomically consumes the referenced InterruptRecord.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: JWT signing and parsing.
 * - github.com/google/uuid: nonce and id handling.
 */

package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "registration-service"

var (
	ErrInvalidToken = errors.New("invalid resume token")
	ErrExpiredToken = errors.New("resume token expired")
)

// Claims is the payload carried by a resume token.
type Claims struct {
	RequestID   uuid.UUID `json:"request_id"`
	InterruptID uuid.UUID `json:"interrupt_id"`
	Nonce       string    `json:"nonce"`
	jwt.RegisteredClaims
}

// Service issues and verifies resume tokens with a server-held secret.
type Service struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewService constructs a token service. ttl bounds how long an issued token
// stays verifiable; the interrupt record carries the authoritative expiry.
func NewService(secret string, ttl time.Duration) (*Service, error) {
	if secret == "" {
		return nil, errors.New("resume token secret must be configured")
	}
	if ttl <= 0 {
		return nil, errors.New("resume token ttl must be positive")
	}
	return &Service{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// TTL returns the configured token lifetime.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Issue signs a token bound to (request, interrupt) expiring after the
// configured window. The random nonce makes every issued token distinct even
// for the same pair.
func (s *Service) Issue(requestID, interruptID uuid.UUID) (string, time.Time, error) {
	now := s.now().UTC()
	expiresAt := now.Add(s.ttl)
	claims := Claims{
		RequestID:   requestID,
		InterruptID: interruptID,
		Nonce:       uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign resume token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify parses and validates a token string, returning its claims. It
// rejects signature mismatches, wrong algorithms, malformed payloads, and
// expired tokens. It does not know whether the token was already consumed.
func (s *Service) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.RequestID == uuid.Nil || claims.InterruptID == uuid.Nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
