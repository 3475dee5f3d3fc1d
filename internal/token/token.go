// Package token issues and verifies the short-lived capability tokens that
// authorize one agent to invoke a specific operation on another. Tokens are
// ephemeral: constructed on demand, verified on receipt, never persisted.
// There is no revocation list; short TTLs bound the blast radius of a leaked
// token.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	Issuer = "registry"

	// MaxTTL caps issuance. Callers use 5-60 minute sessions; anything past
	// an hour is rejected outright.
	MaxTTL = time.Hour
)

var (
	ErrTTLInvalid              = errors.New("ttl must be positive")
	ErrTTLTooLong              = fmt.Errorf("ttl exceeds maximum of %s", MaxTTL)
	ErrTokenExpired            = errors.New("token expired")
	ErrTokenInvalidSignature   = errors.New("token signature invalid")
	ErrTokenAudienceMismatch   = errors.New("token audience mismatch")
	ErrTokenCapabilityMismatch = errors.New("token capability mismatch")
)

// Claims are the verified contents of a capability token.
type Claims struct {
	Capability string `json:"capability"`
	jwt.RegisteredClaims
}

// Service signs and verifies capability tokens with a single shared key.
// Verifying parties hold the same key out of band.
type Service struct {
	key []byte
	now func() time.Time
}

func NewService(key []byte) *Service {
	return &Service{key: key, now: time.Now}
}

// Issue builds a signed token authorizing subject to call capability on
// audience for the next ttl.
func (s *Service) Issue(subject, audience, capability string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", ErrTTLInvalid
	}
	if ttl > MaxTTL {
		return "", ErrTTLTooLong
	}

	now := s.now()
	claims := Claims{
		Capability: capability,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, expiry, audience and, when expectedCapability is
// non-empty, the capability claim. The returned claims are only valid when
// err is nil.
func (s *Service) Verify(tokenString, expectedAudience, expectedCapability string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return s.key, nil
		},
		jwt.WithTimeFunc(s.now),
		jwt.WithIssuer(Issuer),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrTokenInvalidSignature
		default:
			return nil, fmt.Errorf("parsing token: %w", err)
		}
	}
	if !parsed.Valid {
		return nil, ErrTokenInvalidSignature
	}

	audOK := false
	for _, aud := range claims.Audience {
		if aud == expectedAudience {
			audOK = true
			break
		}
	}
	if !audOK {
		return nil, ErrTokenAudienceMismatch
	}

	if expectedCapability != "" && claims.Capability != expectedCapability {
		return nil, ErrTokenCapabilityMismatch
	}

	return claims, nil
}
