package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	UserID  uint `json:"user_id"`
	IsAdmin bool `json:"is_admin"`
	jwt.RegisteredClaims
}

// TokenGenerator issues and validates the HS256 access/refresh token pair.
// Refresh tokens are signed with a separate secret so an access token can
// never be replayed against the refresh endpoint.
type TokenGenerator struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

func NewTokenGenerator(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *TokenGenerator {
	return &TokenGenerator{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}
}

func (tg *TokenGenerator) GenerateAccessToken(userID uint, isAdmin bool) (string, error) {
	return tg.generate(userID, isAdmin, tg.accessSecret, tg.accessTTL)
}

func (tg *TokenGenerator) GenerateRefreshToken(userID uint, isAdmin bool) (string, error) {
	return tg.generate(userID, isAdmin, tg.refreshSecret, tg.refreshTTL)
}

func (tg *TokenGenerator) generate(userID uint, isAdmin bool, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:  userID,
		IsAdmin: isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "libproxy",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func (tg *TokenGenerator) ValidateAccessToken(tokenString string) (*Claims, error) {
	return tg.validate(tokenString, tg.accessSecret)
}

func (tg *TokenGenerator) ValidateRefreshToken(tokenString string) (*Claims, error) {
	return tg.validate(tokenString, tg.refreshSecret)
}

func (tg *TokenGenerator) validate(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
