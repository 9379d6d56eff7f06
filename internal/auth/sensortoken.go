// ABOUTME: Sensor API token generation and lookup key extraction
// ABOUTME: Tokens are UNCONV plus a base62 body; only a bcrypt hash and lower-cased suffix are stored

package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/hashicorp/go-secure-stdlib/base62"
)

const (
	// TokenPrefix starts every sensor API token.
	TokenPrefix = "UNCONV"

	// TokenLength is the total length of a sensor API token including the prefix.
	TokenLength = 30

	// SuffixLength is the number of trailing characters used as the lookup key.
	SuffixLength = 12

	// saltBytes is the number of random bytes behind a salt (24 base64 chars).
	saltBytes = 16
)

// The lookup key must be a strict slice of the random body so the stored
// suffix never reveals the whole secret.
var _ = [TokenLength - len(TokenPrefix) - SuffixLength - 1]struct{}{}

// GenerateToken returns a new sensor API token: TokenPrefix followed by a
// crypto/rand backed base62 body. Errors only when the OS entropy source fails.
func GenerateToken() (string, error) {
	body, err := base62.Random(TokenLength - len(TokenPrefix))
	if err != nil {
		return "", fmt.Errorf("generating token body: %w", err)
	}
	return TokenPrefix + body, nil
}

// GenerateSaltedSuffix returns a random salt encoded as standard padded base64.
func GenerateSaltedSuffix() (string, error) {
	b := make([]byte, saltBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// LookupKey returns the lower-cased last SuffixLength characters of raw.
// Returns ErrInvalidTokenLength when raw is too short to slice.
func LookupKey(raw string) (string, error) {
	if len(raw) < SuffixLength {
		return "", ErrInvalidTokenLength
	}
	return strings.ToLower(raw[len(raw)-SuffixLength:]), nil
}

// Credential is a freshly issued sensor token together with its stored form.
// Token is shown to the operator once; Salt, Suffix and Hash are persisted.
type Credential struct {
	Token  string
	Salt   string
	Suffix string
	Hash   string
}

// Issuer mints sensor API credentials.
type Issuer struct {
	hasher Hasher
}

// NewIssuer creates an Issuer using the given hasher.
func NewIssuer(hasher Hasher) *Issuer {
	return &Issuer{hasher: hasher}
}

// NewCredential generates a token and salt and hashes token+salt.
// It does not persist anything.
func (i *Issuer) NewCredential() (*Credential, error) {
	token, err := GenerateToken()
	if err != nil {
		return nil, err
	}
	salt, err := GenerateSaltedSuffix()
	if err != nil {
		return nil, err
	}
	suffix, err := LookupKey(token)
	if err != nil {
		return nil, err
	}
	hash, err := i.hasher.Hash(token + salt)
	if err != nil {
		return nil, err
	}
	return &Credential{Token: token, Salt: salt, Suffix: suffix, Hash: hash}, nil
}
