package auth

import (
	"fmt"

	"github.com/openchat-io/openchat/internal/config"
	"github.com/openchat-io/openchat/internal/store"
)

// NewBinder creates a Binder based on configuration.
func NewBinder(cfg config.AuthConfig, s store.Store) (Binder, error) {
	switch cfg.Provider {
	case "jwks":
		return NewJWKSBinder(s, cfg.JWKSURL, cfg.Issuer)
	case "builtin", "":
		return NewService(s, cfg), nil
	default:
		return nil, fmt.Errorf("unknown auth provider: %q", cfg.Provider)
	}
}
