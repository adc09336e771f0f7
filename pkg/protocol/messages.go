// Package protocol defines the wire protocol spoken between the OpenChat web
// client and the hub over WebSocket.
//
// Inbound messages are JSON objects carrying a "type" tag; the remaining
// fields depend on the tag. Outbound messages are bare JSON objects whose
// field set is fixed per response shape.
package protocol

import (
	"encoding/json"
	"time"
)

// --- Type tags ---

// Inbound type tags recognised by the hub. Any other tag is a chat send.
const (
	TagOpenChat    = "OpenChat initiated..!"
	TagLoadSidebar = "Load Sidebar"
	TagInitiated   = "Initiated"
	TagSearch      = "Search"
	TagCompose     = "Compose"
	TagTyping      = "typing"
)

// DefaultConversationLoad is the number of messages loaded for a conversation
// view when the client does not ask for a specific amount.
const DefaultConversationLoad = 20

// TypingSignal is the value of the ephemeral typing ping.
const TypingSignal = "typing"

// --- Requests (router → services) ---

// ConversationRequest asks for a page of a conversation.
//
// For the conversation loader Details is the peer's recipient token. For the
// receiver loader Details is the plain identity of the receiving user.
type ConversationRequest struct {
	Details string `json:"details"`
	Load    int    `json:"load"`
	UserID  string `json:"userId"`
}

// SearchRequest carries a search or compose query.
type SearchRequest struct {
	Value  string `json:"value"`
	UserID string `json:"userId"`
}

// ReplyRequest carries a chat message to persist. Name holds the decoded
// identity of the recipient, not the token.
type ReplyRequest struct {
	Name   string `json:"name"`
	Reply  string `json:"reply"`
	UserID string `json:"userId"`
}

// --- Views (services → router) ---

// SidebarEntry is one conversation thread in a user's sidebar.
type SidebarEntry struct {
	LoginID  string    `json:"login_id"` // recipient token of the peer
	Name     string    `json:"name"`
	Username string    `json:"username"`
	Message  string    `json:"message"`
	Time     time.Time `json:"time"`
	Unread   int       `json:"unread"`
	Online   bool      `json:"online"`
}

// Contact is a candidate recipient returned by compose.
type Contact struct {
	LoginID  string `json:"login_id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

// Peer describes the other side of a conversation.
type Peer struct {
	LoginID  string `json:"login_id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

// Message directions relative to the viewing user.
const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

// ChatMessage is one message inside a conversation view.
type ChatMessage struct {
	ID        string    `json:"id"`
	Body      string    `json:"message"`
	Direction string    `json:"direction"`
	Read      bool      `json:"read"`
	Time      time.Time `json:"time"`
}

// Conversation is a page of messages between the viewing user and a peer,
// oldest first.
type Conversation struct {
	Peer     Peer          `json:"peer"`
	Messages []ChatMessage `json:"messages"`
}

// --- Responses (hub → client) ---

// InitialResponse answers TagOpenChat. Conversation is present only when the
// sidebar has at least one entry.
type InitialResponse struct {
	Initial      []SidebarEntry `json:"initial"`
	Conversation *Conversation  `json:"conversation,omitempty"`
}

// SidebarResponse answers TagLoadSidebar.
type SidebarResponse struct {
	Sidebar []SidebarEntry `json:"sidebar"`
}

// ConversationResponse answers TagInitiated.
type ConversationResponse struct {
	Conversation *Conversation `json:"conversation"`
}

// TypingResponse is the ephemeral ping delivered to the typing target.
type TypingResponse struct {
	Typing string `json:"typing"`
}

// ReceivedResponse is delivered to every connection of a chat recipient.
type ReceivedResponse struct {
	Sidebar []SidebarEntry `json:"sidebar"`
	Reply   *Conversation  `json:"reply"`
}

// SentResponse is delivered to the connection that sent a chat message.
type SentResponse struct {
	Sidebar      []SidebarEntry `json:"sidebar"`
	Conversation *Conversation  `json:"conversation"`
}

// PresenceUpdate announces that a user came online or went offline.
type PresenceUpdate struct {
	LoginID string `json:"login_id"`
	Online  bool   `json:"online"`
}

// PresenceResponse wraps a PresenceUpdate for broadcast.
type PresenceResponse struct {
	Presence PresenceUpdate `json:"presence"`
}

// Error codes sent in ErrorResponse.
const (
	CodeMalformedEnvelope = "malformed_envelope"
	CodeInvalidPayload    = "invalid_payload"
	CodeInvalidToken      = "invalid_token"
	CodeTimeout           = "timeout"
	CodeServiceError      = "service_error"
)

// ErrorDetail describes a failed turn.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse carries an error from hub to the sending client.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// Encode serialises an outbound payload. Fields are written in struct order.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}
