package middleware

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the JWT payload. Owner is the player identity battles and
// combatant records are keyed by.
type Claims struct {
	Owner string `json:"owner"`
	jwt.RegisteredClaims
}

// GenerateToken signs a JWT for owner with the given secret and TTL. Each
// token gets a unique ID so it can be revoked on its own.
func GenerateToken(owner, secret string, ttl time.Duration) (string, error) {
	if owner == "" {
		return "", errors.New("empty owner")
	}
	now := time.Now()
	claims := &Claims{
		Owner: owner,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   owner,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken validates a JWT string and returns the claims.
func ParseToken(tokenStr, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Owner == "" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
