// Package auth binds connections and API requests to chat users.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/openchat-io/openchat/internal/config"
	"github.com/openchat-io/openchat/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
	ErrUnauthenticated    = errors.New("unauthenticated")
)

// Claims are carried by the session cookie. The session id is also the
// token's jti so a revoked session invalidates the cookie.
type Claims struct {
	UserID   string `json:"uid"`
	Username string `json:"usr"`
	jwt.RegisteredClaims
}

// Service is the builtin binder: username/password accounts whose sessions
// are stored in the database and referenced by a signed cookie.
// It implements Binder and LoginProvider.
type Service struct {
	store        store.Store
	jwtSecret    []byte
	sessionTTL   time.Duration
	initialUsers []config.InitialUser
	now          func() time.Time
}

// NewService creates a new auth service.
func NewService(s store.Store, cfg config.AuthConfig) *Service {
	ttl := cfg.SessionTTL.Duration
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		store:        s,
		jwtSecret:    []byte(cfg.JWTSecret),
		sessionTTL:   ttl,
		initialUsers: cfg.InitialUsers,
		now:          time.Now,
	}
}

// Name returns the provider name.
func (s *Service) Name() string { return "builtin" }

// Bootstrap creates the configured initial users that do not exist yet.
func (s *Service) Bootstrap(ctx context.Context) error {
	for _, u := range s.initialUsers {
		existing, err := s.store.GetUserByUsername(ctx, u.Username)
		if err != nil {
			return fmt.Errorf("check existing user: %w", err)
		}
		if existing != nil {
			continue
		}
		if _, err := s.Register(ctx, u.Username, u.Name, u.Password); err != nil {
			return fmt.Errorf("bootstrap user %s: %w", u.Username, err)
		}
	}
	return nil
}

// Register creates a new user account.
func (s *Service) Register(ctx context.Context, username, name, password string) (*store.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	existing, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("check existing: %w", err)
	}
	if existing != nil {
		return nil, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	if name == "" {
		name = username
	}
	user := &store.User{
		ID:           uuid.New().String(),
		Username:     username,
		Name:         name,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Login checks the password and opens a new session.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil || user.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	now := s.now().UTC()
	sess := &store.Session{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionTTL),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	token, err := s.signToken(user, sess)
	if err != nil {
		return nil, fmt.Errorf("sign session token: %w", err)
	}
	return &LoginResult{Token: token, ExpiresAt: sess.ExpiresAt, User: user}, nil
}

// Logout revokes the session named by the credential. Unknown or already
// revoked sessions are not an error.
func (s *Service) Logout(ctx context.Context, credential string) error {
	claims, err := s.parseToken(credential)
	if err != nil {
		return err
	}
	if err := s.store.RevokeSession(ctx, claims.ID); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// Bind validates the cookie signature and checks that the session it names
// is still active.
func (s *Service) Bind(ctx context.Context, credential string) (*Identity, error) {
	if credential == "" {
		return nil, ErrUnauthenticated
	}
	claims, err := s.parseToken(credential)
	if err != nil {
		return nil, err
	}

	sess, err := s.store.GetSession(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil || sess.UserID != claims.UserID || !sess.Active(s.now()) {
		return nil, ErrUnauthenticated
	}

	return &Identity{
		UserID:    claims.UserID,
		Username:  claims.Username,
		SessionID: sess.ID,
	}, nil
}

func (s *Service) parseToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, ErrUnauthenticated
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.ID == "" || claims.UserID == "" {
		return nil, ErrUnauthenticated
	}
	return claims, nil
}

func (s *Service) signToken(user *store.User, sess *store.Session) (string, error) {
	claims := &Claims{
		UserID:   user.ID,
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(sess.CreatedAt),
			ID:        sess.ID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}
