// ABOUTME: User account registration and password login
// ABOUTME: Hashes passwords with the injected Hasher and issues JWTs on login

package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/unconv/unconv-server/internal/auth"
	"github.com/unconv/unconv-server/internal/store"
)

// Account validation limits
const (
	minUsernameLength = 3
	maxUsernameLength = 64
	minPasswordLength = 8
	maxPasswordLength = 72 // bcrypt input limit
)

var (
	// ErrInvalidAccount is returned when registration input fails validation.
	ErrInvalidAccount = errors.New("invalid account details")

	// ErrInvalidCredentials is returned for an unknown user or wrong password.
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// TokenGenerator generates JWT tokens.
type TokenGenerator interface {
	Generate(username string, ttl time.Duration) (string, time.Time, error)
}

// AccountStore is the persistence the AccountService needs.
type AccountStore interface {
	CreateUser(ctx context.Context, user *store.User) error
	GetUserByUsername(ctx context.Context, username string) (*store.User, error)
	AppendAuditLog(ctx context.Context, e *store.AuditEntry) error
}

// LoginResult is a freshly issued bearer token.
type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AccountService registers users and logs them in.
type AccountService struct {
	store    AccountStore
	hasher   auth.Hasher
	tokenGen TokenGenerator
	tokenTTL time.Duration
	logger   *slog.Logger
}

// NewAccountService creates an AccountService issuing tokens valid for tokenTTL.
func NewAccountService(s AccountStore, hasher auth.Hasher, tokenGen TokenGenerator, tokenTTL time.Duration, logger *slog.Logger) *AccountService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountService{
		store:    s,
		hasher:   hasher,
		tokenGen: tokenGen,
		tokenTTL: tokenTTL,
		logger:   logger.With("component", "accounts"),
	}
}

func validateAccount(username, password string) error {
	if n := len(username); n < minUsernameLength || n > maxUsernameLength {
		return fmt.Errorf("%w: username must be %d-%d characters", ErrInvalidAccount, minUsernameLength, maxUsernameLength)
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return fmt.Errorf("%w: username must not contain whitespace", ErrInvalidAccount)
	}
	if n := len(password); n < minPasswordLength || n > maxPasswordLength {
		return fmt.Errorf("%w: password must be %d-%d bytes", ErrInvalidAccount, minPasswordLength, maxPasswordLength)
	}
	return nil
}

// Register creates a user with a hashed password.
// Returns store.ErrUsernameExists when the username is taken.
func (s *AccountService) Register(ctx context.Context, username, email, password string) (*store.User, error) {
	if err := validateAccount(username, password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	user := &store.User{
		Username:     username,
		Email:        strings.TrimSpace(email),
		PasswordHash: hash,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	_ = s.store.AppendAuditLog(ctx, &store.AuditEntry{
		Actor:      username,
		Action:     store.AuditRegisterUser,
		TargetType: "user",
		TargetID:   user.ID,
	})

	s.logger.Info("registered user", "username", username)
	return user, nil
}

// Login checks the password and returns a bearer token.
func (s *AccountService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrHashMismatch) {
			s.logger.Warn("login failed", "username", username)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	token, exp, err := s.tokenGen.Generate(user.Username, s.tokenTTL)
	if err != nil {
		return nil, fmt.Errorf("generating token: %w", err)
	}
	return &LoginResult{Token: token, ExpiresAt: exp}, nil
}
