package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/teleconsult/arcsignal/internal/domain"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

type Claims struct {
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
	jwt.RegisteredClaims
}

// JWTProvider validates HS256 tokens issued by the platform's identity
// service and maps their claims onto an Identity.
type JWTProvider struct {
	secretKey []byte
}

func NewJWTProvider(secretKey string) *JWTProvider {
	return &JWTProvider{secretKey: []byte(secretKey)}
}

func (p *JWTProvider) Authenticate(token string) (Identity, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return p.secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredToken
		}
		return Identity{}, ErrInvalidToken
	}
	if !parsed.Valid || claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{
		UserID:      domain.UserID(claims.Subject),
		DisplayName: claims.DisplayName,
		Role:        domain.Role(claims.Role),
	}, nil
}

// IssueToken is used by tests and local development; production tokens
// come from the external identity service.
func (p *JWTProvider) IssueToken(id Identity, ttl time.Duration) (string, error) {
	claims := &Claims{
		DisplayName: id.DisplayName,
		Role:        string(id.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(id.UserID),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "arcsignal",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(p.secretKey)
}
