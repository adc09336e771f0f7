package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/openchat-io/openchat/internal/store"
)

// Identity is the user a connection or request is bound to.
type Identity struct {
	UserID    string
	Username  string
	SessionID string // empty for externally issued tokens
}

// Binder resolves a session credential to the identity that owns it. It only
// reads from the session store. ErrUnauthenticated is returned when the
// credential does not name an active session.
type Binder interface {
	Bind(ctx context.Context, credential string) (*Identity, error)
	Bootstrap(ctx context.Context) error
	Name() string
}

// LoginProvider is implemented by binders that own the session lifecycle.
type LoginProvider interface {
	Login(ctx context.Context, username, password string) (*LoginResult, error)
	Logout(ctx context.Context, credential string) error
	Register(ctx context.Context, username, name, password string) (*store.User, error)
}

// LoginResult is a freshly issued session credential.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      *store.User
}

// CredentialFromRequest extracts the session credential from the named
// cookie, falling back to a "token" query parameter or a bearer header for
// clients that cannot send cookies.
func CredentialFromRequest(r *http.Request, cookieName string) string {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}
