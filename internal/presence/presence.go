// Package presence records which users currently hold at least one live
// connection and announces changes on the event bus.
package presence

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openchat-io/openchat/internal/eventbus"
	"github.com/openchat-io/openchat/internal/store"
)

// Backend persists online status.
type Backend interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string) error
	Online(ctx context.Context, userIDs []string) (map[string]bool, error)
	// Reset marks everyone offline and returns how many users were online.
	Reset(ctx context.Context) (int64, error)
}

// Service writes status changes to a Backend and publishes them on the bus.
type Service struct {
	backend Backend
	bus     *eventbus.Bus
	logger  *slog.Logger
}

// New creates a presence service. bus may be nil.
func New(backend Backend, bus *eventbus.Bus, logger *slog.Logger) *Service {
	return &Service{
		backend: backend,
		bus:     bus,
		logger:  logger.With("component", "presence"),
	}
}

// SetOnline marks the user online.
func (s *Service) SetOnline(ctx context.Context, userID string) error {
	if err := s.backend.SetOnline(ctx, userID); err != nil {
		return fmt.Errorf("set online: %w", err)
	}
	s.logger.Debug("user online", "user_id", userID)
	if s.bus != nil {
		s.bus.PublishUser(eventbus.UserOnline, userID)
	}
	return nil
}

// SetOffline marks the user offline.
func (s *Service) SetOffline(ctx context.Context, userID string) error {
	if err := s.backend.SetOffline(ctx, userID); err != nil {
		return fmt.Errorf("set offline: %w", err)
	}
	s.logger.Debug("user offline", "user_id", userID)
	if s.bus != nil {
		s.bus.PublishUser(eventbus.UserOffline, userID)
	}
	return nil
}

// Online reports which of the given users are online. Users missing from the
// result are offline.
func (s *Service) Online(ctx context.Context, userIDs []string) (map[string]bool, error) {
	return s.backend.Online(ctx, userIDs)
}

// Reset clears online flags left behind by a previous process. It runs before
// any connection is accepted, so nothing is published.
func (s *Service) Reset(ctx context.Context) error {
	n, err := s.backend.Reset(ctx)
	if err != nil {
		return fmt.Errorf("reset presence: %w", err)
	}
	if n > 0 {
		s.logger.Info("cleared stale presence", "count", n)
	}
	return nil
}

// StoreBackend keeps the online flag on the user row.
type StoreBackend struct {
	store store.Store
}

// NewStoreBackend creates a Backend over the hub's database.
func NewStoreBackend(s store.Store) *StoreBackend {
	return &StoreBackend{store: s}
}

func (b *StoreBackend) SetOnline(ctx context.Context, userID string) error {
	return b.store.SetUserOnline(ctx, userID, true)
}

func (b *StoreBackend) SetOffline(ctx context.Context, userID string) error {
	return b.store.SetUserOnline(ctx, userID, false)
}

func (b *StoreBackend) Online(ctx context.Context, userIDs []string) (map[string]bool, error) {
	return b.store.OnlineUsers(ctx, userIDs)
}

func (b *StoreBackend) Reset(ctx context.Context) (int64, error) {
	return b.store.ResetOnline(ctx)
}
