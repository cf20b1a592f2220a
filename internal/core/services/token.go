package services

import (
	"cargolink/internal/core/domain"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenService is the identity verifier for connections and REST calls.
type TokenService struct {
	secretKey []byte
	issuer    string
}

func NewTokenService(secret string) *TokenService {
	return &TokenService{
		secretKey: []byte(secret),
		issuer:    "cargolink",
	}
}

// GenerateToken issues a credential for userID. Issuance belongs to the
// identity provider; this exists for tooling and tests.
func (s *TokenService) GenerateToken(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secretKey)
}

// ValidateToken parses the JWT and returns its subject.
func (s *TokenService) ValidateToken(tokenStr string) (string, error) {
	if tokenStr == "" {
		return "", domain.ErrMissingCredential
	}
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidCredential, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: subject not found in token", domain.ErrInvalidCredential)
	}
	return claims.Subject, nil
}
