// Package store defines the storage interface for the chat hub and provides
// SQLite and PostgreSQL implementations.
package store

import (
	"context"
	"time"
)

// Store is the persistence interface for the hub.
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByExternalID(ctx context.Context, externalID string) (*User, error)
	SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]User, error)

	// Sessions
	CreateSession(ctx context.Context, sess *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	RevokeSession(ctx context.Context, id string) error

	// Messages
	AppendMessage(ctx context.Context, msg *Message) (int64, error)
	ListConversation(ctx context.Context, userID, peerID string, limit int) ([]Message, error)
	MarkConversationRead(ctx context.Context, userID, peerID string) (int64, error)
	ListThreads(ctx context.Context, userID string) ([]Thread, error)

	// Presence
	SetUserOnline(ctx context.Context, userID string, online bool) error
	OnlineUsers(ctx context.Context, userIDs []string) (map[string]bool, error)
	ResetOnline(ctx context.Context) (int64, error)

	// Data retention
	PurgeExpiredSessions(ctx context.Context, before time.Time) (int64, error)

	// Health
	Ping(ctx context.Context) error

	Close() error
}

// User is a chat account.
type User struct {
	ID           string    `json:"id"`
	ExternalID   string    `json:"external_id,omitempty"` // subject from an external identity provider
	Username     string    `json:"username"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Session is a login session. The session cookie carries its id.
type Session struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// Active reports whether the session can still authenticate a request.
func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// Message is one chat message between two users.
type Message struct {
	Seq        int64     `json:"seq"`
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Body       string    `json:"body"`
	Read       bool      `json:"read"`
	CreatedAt  time.Time `json:"created_at"`
}

// Thread summarises a user's conversation with one peer.
type Thread struct {
	PeerID       string    `json:"peer_id"`
	PeerUsername string    `json:"peer_username"`
	PeerName     string    `json:"peer_name"`
	LastMessage  string    `json:"last_message"`
	LastSenderID string    `json:"last_sender_id"`
	LastAt       time.Time `json:"last_at"`
	Unread       int       `json:"unread"`
}
