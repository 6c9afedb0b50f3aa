// Package auth issues and verifies control-plane credentials: password hashes,
// signed access/refresh tokens, basic auth and the streaming pre-shared secret.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"spotmirror/internal/apperr"
	"spotmirror/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidCredentials = fmt.Errorf("invalid credentials: %w", apperr.ErrUnauthorized)
	ErrInvalidToken       = fmt.Errorf("invalid token: %w", apperr.ErrUnauthorized)
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 30 * 24 * time.Hour
)

// TokenType distinguishes short-lived access tokens from refresh tokens.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

// Identity is the subject block of a token.
type Identity struct {
	Username string `json:"u"`
}

// Claims is the signed token payload.
type Claims struct {
	Identity Identity  `json:"identity"`
	Type     TokenType `json:"type"`
	jwt.RegisteredClaims
}

// TokenPair is issued on login.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Directory resolves control-plane identities. Accounts lists the admin first.
type Directory interface {
	Accounts() []models.UserAccount
	Account(username string) (models.UserAccount, bool)
	StreamSecrets() []string
}

// Options tune a Service. Zero values fall back to the defaults.
type Options struct {
	AccessTTL            time.Duration
	RefreshTTL           time.Duration
	AllowLegacyPlaintext bool
	Logger               *slog.Logger
	Now                  func() time.Time
}

// Service authenticates callers against the directory.
type Service struct {
	jwtSecret   []byte
	accessTTL   time.Duration
	refreshTTL  time.Duration
	allowLegacy bool
	directory   Directory
	logger      *slog.Logger
	now         func() time.Time
}

func NewService(jwtSecret string, directory Directory, opts Options) *Service {
	s := &Service{
		jwtSecret:   []byte(jwtSecret),
		accessTTL:   opts.AccessTTL,
		refreshTTL:  opts.RefreshTTL,
		allowLegacy: opts.AllowLegacyPlaintext,
		directory:   directory,
		logger:      opts.Logger,
		now:         opts.Now,
	}

	if s.accessTTL <= 0 {
		s.accessTTL = DefaultAccessTTL
	}
	if s.refreshTTL <= 0 {
		s.refreshTTL = DefaultRefreshTTL
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.now == nil {
		s.now = time.Now
	}

	return s
}

// === Tokens ===

// CreateToken signs a token of the given type for subject.
func (s *Service) CreateToken(subject string, typ TokenType) (string, error) {
	var ttl time.Duration
	switch typ {
	case TokenAccess:
		ttl = s.accessTTL
	case TokenRefresh:
		ttl = s.refreshTTL
	default:
		return "", fmt.Errorf("unknown token type %q", typ)
	}

	now := s.now()
	claims := &Claims{
		Identity: Identity{Username: subject},
		Type:     typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	return token.SignedString(s.jwtSecret)
}

// VerifyToken checks signature, expiry and type and returns the subject.
func (s *Service) VerifyToken(tokenString string, expected TokenType) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}

		return s.jwtSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", errors.Join(ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	if claims.Type != expected {
		return "", fmt.Errorf("expected %s token, got %q: %w", expected, claims.Type, ErrInvalidToken)
	}
	if claims.Identity.Username == "" {
		return "", fmt.Errorf("missing subject: %w", ErrInvalidToken)
	}

	return claims.Identity.Username, nil
}

// IssuePair creates an access and a refresh token for subject.
func (s *Service) IssuePair(subject string) (TokenPair, error) {
	access, err := s.CreateToken(subject, TokenAccess)
	if err != nil {
		return TokenPair{}, fmt.Errorf("failed to create access token: %w", err)
	}

	refresh, err := s.CreateToken(subject, TokenRefresh)
	if err != nil {
		return TokenPair{}, fmt.Errorf("failed to create refresh token: %w", err)
	}

	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Refresh mints a new access token for the subject of a valid refresh token.
func (s *Service) Refresh(refreshToken string) (string, error) {
	subject, err := s.VerifyToken(refreshToken, TokenRefresh)
	if err != nil {
		return "", err
	}

	return s.CreateToken(subject, TokenAccess)
}

// === Callers ===

// Authenticate checks username and password against the admin first, then each tenant.
func (s *Service) Authenticate(username, password string) (models.UserAccount, error) {
	for _, acc := range s.directory.Accounts() {
		if subtle.ConstantTimeCompare([]byte(username), []byte(acc.Username)) != 1 {
			continue
		}

		if s.VerifyPassword(password, acc.PasswordHash) {
			return acc, nil
		}

		return models.UserAccount{}, ErrInvalidCredentials
	}

	return models.UserAccount{}, ErrInvalidCredentials
}

// Credentials is what a request presented: a bearer token, basic auth, or both.
type Credentials struct {
	Bearer   string
	Username string
	Password string
	HasBasic bool
}

// Resolve identifies the caller: a valid access token wins, basic auth is the fallback.
func (s *Service) Resolve(c Credentials) (models.UserAccount, error) {
	if c.Bearer != "" {
		subject, err := s.VerifyToken(c.Bearer, TokenAccess)
		if err != nil {
			return models.UserAccount{}, err
		}

		acc, ok := s.directory.Account(subject)
		if !ok {
			return models.UserAccount{}, fmt.Errorf("unknown subject %q: %w", subject, ErrInvalidToken)
		}

		return acc, nil
	}

	if c.HasBasic {
		return s.Authenticate(c.Username, c.Password)
	}

	return models.UserAccount{}, fmt.Errorf("no credentials: %w", apperr.ErrUnauthorized)
}

// VerifyStreamSecret compares token with every configured streaming secret in constant time.
func (s *Service) VerifyStreamSecret(token string) bool {
	if token == "" {
		return false
	}

	match := 0
	for _, secret := range s.directory.StreamSecrets() {
		if secret == "" {
			continue
		}
		match |= subtle.ConstantTimeCompare([]byte(token), []byte(secret))
	}

	return match == 1
}
