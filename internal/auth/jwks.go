package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/openchat-io/openchat/internal/store"
)

// JWKSBinder binds connections using tokens issued by an external identity
// provider. The token subject is mapped to a local user, which is created on
// first sight so that chat history has a stable owner.
type JWKSBinder struct {
	store  store.Store
	issuer string
	keys   func(ctx context.Context) jwt.Keyfunc
	cancel context.CancelFunc
}

// NewJWKSBinder fetches the key set from jwksURL and keeps it refreshed in the
// background until Close is called.
func NewJWKSBinder(s store.Store, jwksURL, issuer string) (*JWKSBinder, error) {
	if jwksURL == "" {
		return nil, fmt.Errorf("jwks url is required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	jwks, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("fetch JWKS from %s: %w", jwksURL, err)
	}
	return &JWKSBinder{
		store:  s,
		issuer: issuer,
		keys:   jwks.KeyfuncCtx,
		cancel: cancel,
	}, nil
}

// Name returns the provider name.
func (b *JWKSBinder) Name() string { return "jwks" }

// Bootstrap is a no-op: users are provisioned on first login.
func (b *JWKSBinder) Bootstrap(ctx context.Context) error {
	return nil
}

// Bind validates the token against the key set and resolves its subject.
func (b *JWKSBinder) Bind(ctx context.Context, credential string) (*Identity, error) {
	if credential == "" {
		return nil, ErrUnauthenticated
	}
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if b.issuer != "" {
		opts = append(opts, jwt.WithIssuer(b.issuer))
	}
	token, err := jwt.Parse(credential, b.keys(ctx), opts...)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrUnauthenticated
	}
	sub := claimStr(claims, "sub")
	if sub == "" {
		return nil, ErrUnauthenticated
	}

	user, err := b.store.GetUserByExternalID(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("lookup external user: %w", err)
	}
	if user == nil {
		if user, err = b.provision(ctx, sub, claims); err != nil {
			return nil, err
		}
	}
	return &Identity{UserID: user.ID, Username: user.Username}, nil
}

func (b *JWKSBinder) provision(ctx context.Context, sub string, claims jwt.MapClaims) (*store.User, error) {
	username := sub
	switch {
	case claimStr(claims, "preferred_username") != "":
		username = claimStr(claims, "preferred_username")
	case claimStr(claims, "username") != "":
		username = claimStr(claims, "username")
	case claimStr(claims, "email") != "":
		username = claimStr(claims, "email")
	}
	name := claimStr(claims, "name")
	if name == "" {
		name = strings.TrimSpace(claimStr(claims, "given_name") + " " + claimStr(claims, "family_name"))
	}
	if name == "" {
		name = username
	}

	// Usernames are unique; fall back to the subject if the display handle is taken.
	if taken, err := b.store.GetUserByUsername(ctx, username); err != nil {
		return nil, fmt.Errorf("check username: %w", err)
	} else if taken != nil {
		username = sub
	}

	user := &store.User{
		ID:         uuid.New().String(),
		ExternalID: sub,
		Username:   username,
		Name:       name,
		CreatedAt:  time.Now().UTC(),
	}
	if err := b.store.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("provision user: %w", err)
	}
	return user, nil
}

// Close stops the background key refresh.
func (b *JWKSBinder) Close() error {
	if b.cancel != nil {
		b.cancel()
	}
	return nil
}

// claimStr extracts a string claim or returns "".
func claimStr(claims jwt.MapClaims, key string) string {
	v, _ := claims[key].(string)
	return v
}
