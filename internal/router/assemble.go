package router

import (
	"context"
	"errors"

	"github.com/openchat-io/openchat/pkg/protocol"
)

// Response builders. Every list is encoded as an array, never null.

func entries(s []protocol.SidebarEntry) []protocol.SidebarEntry {
	if s == nil {
		return []protocol.SidebarEntry{}
	}
	return s
}

func contacts(s []protocol.Contact) []protocol.Contact {
	if s == nil {
		return []protocol.Contact{}
	}
	return s
}

func initialResponse(sidebar []protocol.SidebarEntry, conv *protocol.Conversation) protocol.InitialResponse {
	return protocol.InitialResponse{Initial: entries(sidebar), Conversation: conv}
}

func sidebarResponse(sidebar []protocol.SidebarEntry) protocol.SidebarResponse {
	return protocol.SidebarResponse{Sidebar: entries(sidebar)}
}

func conversationResponse(conv *protocol.Conversation) protocol.ConversationResponse {
	return protocol.ConversationResponse{Conversation: conv}
}

func typingResponse() protocol.TypingResponse {
	return protocol.TypingResponse{Typing: protocol.TypingSignal}
}

func receivedResponse(sidebar []protocol.SidebarEntry, conv *protocol.Conversation) protocol.ReceivedResponse {
	return protocol.ReceivedResponse{Sidebar: entries(sidebar), Reply: conv}
}

func sentResponse(sidebar []protocol.SidebarEntry, conv *protocol.Conversation) protocol.SentResponse {
	return protocol.SentResponse{Sidebar: entries(sidebar), Conversation: conv}
}

func presenceResponse(userID string, online bool) protocol.PresenceResponse {
	return protocol.PresenceResponse{Presence: protocol.PresenceUpdate{
		LoginID: protocol.EncodeRecipientToken(userID),
		Online:  online,
	}}
}

// errorCode maps a handler error to the code reported to the client.
func errorCode(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return protocol.CodeTimeout
	case errors.Is(err, protocol.ErrMalformedEnvelope):
		return protocol.CodeMalformedEnvelope
	case errors.Is(err, protocol.ErrInvalidToken):
		return protocol.CodeInvalidToken
	case errors.Is(err, protocol.ErrInvalidPayload):
		return protocol.CodeInvalidPayload
	default:
		return protocol.CodeServiceError
	}
}

// errorResponse builds the error sent to the triggering connection. Service
// failures are reported generically; their details only go to the log.
func errorResponse(err error) protocol.ErrorResponse {
	code := errorCode(err)
	msg := err.Error()
	switch code {
	case protocol.CodeServiceError:
		msg = "request failed"
	case protocol.CodeTimeout:
		msg = "request timed out"
	}
	return protocol.ErrorResponse{Error: protocol.ErrorDetail{Code: code, Message: msg}}
}
