// Package auth handles password hashing and session tokens.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/golang-jwt/jwt/v5"
)

// TokenTTL is how long a session token stays valid.
const TokenTTL = 12 * time.Hour

func HashPassword(password string) (string, error) {
	hashedPw, err := argon2id.CreateHash(password, argon2id.DefaultParams)
	if err != nil {
		return "", fmt.Errorf("internal/auth: pw hash failed: %w", err)
	}

	return hashedPw, nil
}

func CheckPasswordHash(password, hash string) (bool, error) {
	isMatch, err := argon2id.ComparePasswordAndHash(password, hash)
	if err != nil {
		return false, fmt.Errorf("internal/auth: pw and hash comparison failed: %w", err)
	}

	return isMatch, nil
}

// MakeToken mints the session token carried by every websocket frame.
// The username is the subject; nothing else identifies the session.
func MakeToken(username, tokenSecret string, expiresIn time.Duration) (string, error) {
	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
	})

	return token.SignedString([]byte(tokenSecret))
}

// ValidateToken returns the username a token was minted for.
func ValidateToken(tokenString, tokenSecret string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(t *jwt.Token) (any, error) { return []byte(tokenSecret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("internal/auth: failed to parse token: %w", err)
	}

	if !token.Valid {
		return "", errors.New("internal/auth: token is invalid")
	}

	if claims.Subject == "" {
		return "", errors.New("internal/auth: subject claim is missing")
	}

	return claims.Subject, nil
}
