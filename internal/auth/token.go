// ABOUTME: JWT issuance and verification for user bearer authentication
// ABOUTME: HS256 tokens with fixed issuer and subject claims and a username claim

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// MinSecretLength is the minimum HS256 secret length in bytes.
const MinSecretLength = 32

// JWTSubject is the fixed subject claim of user tokens.
const JWTSubject = "User Details"

// TokenVerifier defines the interface for token verification
type TokenVerifier interface {
	Verify(tokenString string) (username string, err error)
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs
type JWTVerifier struct {
	secret []byte
	issuer string
	parser *jwt.Parser
}

// NewJWTVerifier creates a new JWT verifier with the given secret and issuer.
func NewJWTVerifier(secret []byte, issuer string) (*JWTVerifier, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes, got %d", MinSecretLength, len(secret))
	}
	if issuer == "" {
		return nil, errors.New("jwt issuer is required")
	}
	return &JWTVerifier{
		secret: secret,
		issuer: issuer,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithSubject(JWTSubject),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
		),
	}, nil
}

// Verify validates the token and extracts the "username" claim.
func (v *JWTVerifier) Verify(tokenString string) (username string, err error) {
	token, err := v.parser.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		// Check if it's specifically an expiration error
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	username, ok = claims["username"].(string)
	if !ok || username == "" {
		return "", fmt.Errorf("%w: username", ErrMissingClaim)
	}

	return username, nil
}

// Generate creates a signed token for username that expires after expiresIn.
func (v *JWTVerifier) Generate(username string, expiresIn time.Duration) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(expiresIn)
	claims := jwt.MapClaims{
		"iss":      v.issuer,
		"sub":      JWTSubject,
		"username": username,
		"iat":      now.Unix(),
		"exp":      exp.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return signed, exp, nil
}
