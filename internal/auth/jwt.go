package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/reflink/platform/internal/domain"
)

const issuer = "reflink"

// Realm separates operator tokens from affiliate portal tokens.
type Realm string

const (
	RealmAdmin     Realm = "admin"
	RealmAffiliate Realm = "affiliate"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrWrongRealm   = errors.New("token issued for another realm")
)

// Claims are the reflink token claims. Role is set for operators, Status for affiliates.
type Claims struct {
	jwt.RegisteredClaims
	Realm  Realm                  `json:"realm"`
	Email  string                 `json:"email,omitempty"`
	Role   domain.AdminRole       `json:"role,omitempty"`
	Status domain.AffiliateStatus `json:"status,omitempty"`
}

// SubjectID returns the token subject as a UUID.
func (c *Claims) SubjectID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// Subject is who a token is issued to.
type Subject struct {
	ID     uuid.UUID
	Email  string
	Role   domain.AdminRole
	Status domain.AffiliateStatus
}

// JWTManager issues and validates HS256 tokens for both realms.
type JWTManager struct {
	secret []byte
	expiry map[Realm]time.Duration
	parser *jwt.Parser
}

// NewJWTManager creates a JWT manager with realm-specific expiry durations.
func NewJWTManager(secret string, adminExpiry, affiliateExpiry time.Duration) *JWTManager {
	return &JWTManager{
		secret: []byte(secret),
		expiry: map[Realm]time.Duration{
			RealmAdmin:     adminExpiry,
			RealmAffiliate: affiliateExpiry,
		},
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
		),
	}
}

// Issue signs a token for sub in realm.
func (m *JWTManager) Issue(realm Realm, sub Subject) (string, error) {
	expiry, ok := m.expiry[realm]
	if !ok {
		return "", fmt.Errorf("unknown realm: %s", realm)
	}
	if realm == RealmAdmin && !sub.Role.Valid() {
		return "", fmt.Errorf("unknown operator role %q", sub.Role)
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   sub.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			ID:        uuid.New().String(),
		},
		Realm:  realm,
		Email:  sub.Email,
		Role:   sub.Role,
		Status: sub.Status,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Validate parses a token issued for realm.
func (m *JWTManager) Validate(tokenString string, realm Realm) (*Claims, error) {
	claims := &Claims{}
	_, err := m.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case err != nil:
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if claims.Realm != realm {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrWrongRealm, realm, claims.Realm)
	}
	return claims, nil
}
