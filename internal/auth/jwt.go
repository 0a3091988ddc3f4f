// Package auth - jwt.go handles session token creation, signing, and verification
// using a shared HS256 secret, including lazy secret initialization and claims parsing.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fieldops/fieldops/internal/apperr"
	"github.com/fieldops/fieldops/internal/db/models"
	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "fieldops"

var (
	jwtSecret     string
	jwtSecretOnce sync.Once
	jwtSecretErr  error
)

// Claims represents the session token claims. Role is the global role at issue time and
// is informational only; authorization always re-reads the user row.
type Claims struct {
	UserID string            `json:"user_id"`
	Role   models.GlobalRole `json:"role"`
	jwt.RegisteredClaims
}

func isDevMode() bool {
	devMode := os.Getenv("DEV_MODE")
	return devMode == "true" || devMode == "1" || os.Getenv("GIN_MODE") == "debug"
}

func generateRandomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("dev-fallback-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// ValidateJWTSecret checks that FOPS_JWT_SECRET is configured. Outside dev mode a
// missing secret is fatal; in dev mode a random one is generated and sessions do not
// survive restarts. Call this at startup.
func ValidateJWTSecret() error {
	jwtSecretOnce.Do(func() {
		secret := os.Getenv("FOPS_JWT_SECRET")
		if secret == "" {
			if isDevMode() {
				jwtSecret = generateRandomSecret()
				slog.Warn("FOPS_JWT_SECRET not set, using an auto-generated development secret")
				return
			}
			jwtSecretErr = errors.New("FOPS_JWT_SECRET environment variable is required in production " +
				"(generate one with: openssl rand -hex 32)")
			return
		}
		if len(secret) < 32 {
			slog.Warn("FOPS_JWT_SECRET is shorter than the recommended 32 characters")
		}
		jwtSecret = secret
	})
	return jwtSecretErr
}

// GetJWTSecret returns the validated secret. Panics if validation failed.
func GetJWTSecret() string {
	if jwtSecret == "" {
		if err := ValidateJWTSecret(); err != nil {
			panic(err)
		}
	}
	return jwtSecret
}

// GenerateJWT issues a session token for userID
func GenerateJWT(userID string, role models.GlobalRole, expiresIn time.Duration) (string, error) {
	if expiresIn == 0 {
		expiresIn = time.Hour
	}
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(GetJWTSecret()))
}

// ValidateJWT parses and validates a session token
func ValidateJWT(tokenString string) (*Claims, error) {
	secret := GetJWTSecret()

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}
	if claims.Subject == "" || claims.Subject != claims.UserID {
		return nil, errors.New("token subject mismatch")
	}
	return claims, nil
}

// JWTVerifier is the credential verifier used by the HTTP layer
type JWTVerifier struct{}

// Verify resolves a bearer token to its subject id. Any failure is reported as
// apperr.ErrUnauthenticated with the parse error attached.
func (JWTVerifier) Verify(token string) (string, error) {
	if token == "" {
		return "", apperr.ErrUnauthenticated
	}
	claims, err := ValidateJWT(token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrUnauthenticated, err)
	}
	return claims.Subject, nil
}
