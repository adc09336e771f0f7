package router

import (
	"context"

	"github.com/openchat-io/openchat/pkg/protocol"
)

// SidebarLoader loads a user's conversation threads.
type SidebarLoader interface {
	LoadSidebar(ctx context.Context, userID string) ([]protocol.SidebarEntry, error)
}

// ConversationLoader loads the requester's view of a conversation. The peer is
// named by the recipient token in Details.
type ConversationLoader interface {
	LoadConversation(ctx context.Context, req protocol.ConversationRequest) (*protocol.Conversation, error)
}

// ReceiverLoader loads the receiving user's view of a conversation that just
// got a new message. Details is the receiver's identity and UserID the sender.
type ReceiverLoader interface {
	LoadReceiver(ctx context.Context, req protocol.ConversationRequest) (*protocol.Conversation, error)
}

// Searcher searches the user's existing threads.
type Searcher interface {
	Search(ctx context.Context, req protocol.SearchRequest) ([]protocol.SidebarEntry, error)
}

// Composer lists users the requester can start a conversation with.
type Composer interface {
	Compose(ctx context.Context, req protocol.SearchRequest) ([]protocol.Contact, error)
}

// Replier stores a chat message. Name is the plain identity of the target.
type Replier interface {
	Reply(ctx context.Context, req protocol.ReplyRequest) (string, error)
}

// Services bundles every data service the router delegates to.
type Services interface {
	SidebarLoader
	ConversationLoader
	ReceiverLoader
	Searcher
	Composer
	Replier
}

// Presence is notified when a user gains a first connection or loses a last
// one. Failures are logged; they never affect the connection.
type Presence interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string) error
}
