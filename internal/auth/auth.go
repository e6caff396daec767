// Package auth turns the identity provider's ID token into the acting
// principal and decides who is a super admin.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrNoEmail      = errors.New("token carries no email")
)

// Principal is the signed-in member.
type Principal struct {
	Email string
	Name  string
}

// Claims are the ID token claims the app relies on.
type Claims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

// NormalizeEmail lowercases and trims an address; emails are document ids.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsSuperAdmin reports whether email is the configured super admin.
func IsSuperAdmin(email, superAdmin string) bool {
	s := NormalizeEmail(superAdmin)
	return s != "" && NormalizeEmail(email) == s
}

func GenerateToken(p Principal, secretKey []byte, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   NormalizeEmail(p.Email),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
		},
		Email:         p.Email,
		EmailVerified: true,
		Name:          p.Name,
	})

	return token.SignedString(secretKey)
}

// PrincipalFromToken verifies an HS256 ID token and extracts the principal.
func PrincipalFromToken(tokenString string, secretKey []byte) (Principal, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if errors.Is(err, jwt.ErrTokenExpired) {
		return Principal{}, ErrTokenExpired
	}
	if err != nil || !token.Valid {
		return Principal{}, ErrInvalidToken
	}

	email := NormalizeEmail(claims.Email)
	if email == "" {
		return Principal{}, ErrNoEmail
	}
	return Principal{Email: email, Name: strings.TrimSpace(claims.Name)}, nil
}
