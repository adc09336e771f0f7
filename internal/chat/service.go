// Package chat implements the data services behind the message router:
// sidebars, conversation pages, search, compose and reply persistence.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/openchat-io/openchat/internal/store"
	"github.com/openchat-io/openchat/pkg/protocol"
)

// Limits applied to user input.
const (
	MaxMessageRunes  = 4096
	MaxConversation  = 200
	ComposeLimit     = 20
	defaultPageLimit = protocol.DefaultConversationLoad
)

// Validation errors. They wrap protocol.ErrInvalidPayload so the router
// reports them to the client as payload errors.
var (
	ErrEmptyMessage     = fmt.Errorf("%w: message is empty", protocol.ErrInvalidPayload)
	ErrMessageTooLong   = fmt.Errorf("%w: message exceeds %d characters", protocol.ErrInvalidPayload, MaxMessageRunes)
	ErrUnknownRecipient = fmt.Errorf("%w: unknown recipient", protocol.ErrInvalidPayload)
)

// OnlineChecker reports which users are online.
type OnlineChecker interface {
	Online(ctx context.Context, userIDs []string) (map[string]bool, error)
}

// Service answers router requests from the store.
type Service struct {
	store    store.Store
	presence OnlineChecker
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates the chat data service. presence may be nil, in which
// case every user is reported offline.
func NewService(s store.Store, presence OnlineChecker, logger *slog.Logger) *Service {
	return &Service{
		store:    s,
		presence: presence,
		logger:   logger.With("component", "chat"),
		now:      time.Now,
	}
}

// LoadSidebar returns the user's conversation threads, most recent first.
func (s *Service) LoadSidebar(ctx context.Context, userID string) ([]protocol.SidebarEntry, error) {
	threads, err := s.store.ListThreads(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	return s.sidebarEntries(ctx, threads)
}

// Search filters the user's threads by peer username or display name.
func (s *Service) Search(ctx context.Context, req protocol.SearchRequest) ([]protocol.SidebarEntry, error) {
	threads, err := s.store.ListThreads(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	q := strings.ToLower(strings.TrimSpace(req.Value))
	matched := threads[:0]
	for _, th := range threads {
		if q == "" ||
			strings.Contains(strings.ToLower(th.PeerUsername), q) ||
			strings.Contains(strings.ToLower(th.PeerName), q) {
			matched = append(matched, th)
		}
	}
	return s.sidebarEntries(ctx, matched)
}

// Compose searches every user other than the requester.
func (s *Service) Compose(ctx context.Context, req protocol.SearchRequest) ([]protocol.Contact, error) {
	users, err := s.store.SearchUsers(ctx, strings.TrimSpace(req.Value), req.UserID, ComposeLimit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	out := make([]protocol.Contact, 0, len(users))
	for _, u := range users {
		out = append(out, protocol.Contact{
			LoginID:  protocol.EncodeRecipientToken(u.ID),
			Name:     u.Name,
			Username: u.Username,
		})
	}
	return out, nil
}

// LoadConversation returns the requester's conversation with the peer named by
// the recipient token in req.Details and marks the peer's messages as read.
func (s *Service) LoadConversation(ctx context.Context, req protocol.ConversationRequest) (*protocol.Conversation, error) {
	peerID, err := protocol.DecodeRecipientToken(req.Details)
	if err != nil {
		return nil, err
	}
	conv, err := s.conversation(ctx, req.UserID, peerID, req.Load)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.MarkConversationRead(ctx, req.UserID, peerID); err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	return conv, nil
}

// LoadReceiver returns the conversation as seen by the receiving user
// req.Details, with req.UserID (the sender) as the peer. Nothing is marked
// read: the receiver has not opened the thread yet.
func (s *Service) LoadReceiver(ctx context.Context, req protocol.ConversationRequest) (*protocol.Conversation, error) {
	if req.Details == "" {
		return nil, fmt.Errorf("%w: receiver is required", protocol.ErrInvalidPayload)
	}
	return s.conversation(ctx, req.Details, req.UserID, req.Load)
}

// Reply stores a message from req.UserID to req.Name and returns its id.
func (s *Service) Reply(ctx context.Context, req protocol.ReplyRequest) (string, error) {
	body := strings.TrimSpace(req.Reply)
	if body == "" {
		return "", ErrEmptyMessage
	}
	if utf8.RuneCountInString(body) > MaxMessageRunes {
		return "", ErrMessageTooLong
	}

	target, err := s.store.GetUserByID(ctx, req.Name)
	if err != nil {
		return "", fmt.Errorf("get recipient: %w", err)
	}
	if target == nil {
		return "", ErrUnknownRecipient
	}

	msg := &store.Message{
		ID:         uuid.New().String(),
		SenderID:   req.UserID,
		ReceiverID: target.ID,
		Body:       body,
		CreatedAt:  s.now().UTC(),
	}
	if _, err := s.store.AppendMessage(ctx, msg); err != nil {
		return "", fmt.Errorf("append message: %w", err)
	}
	s.logger.Debug("message stored", "message_id", msg.ID, "user_id", req.UserID, "to", target.ID)
	return msg.ID, nil
}

func (s *Service) conversation(ctx context.Context, viewerID, peerID string, load int) (*protocol.Conversation, error) {
	if load <= 0 {
		load = defaultPageLimit
	}
	load = min(load, MaxConversation)

	peer, err := s.store.GetUserByID(ctx, peerID)
	if err != nil {
		return nil, fmt.Errorf("get peer: %w", err)
	}
	if peer == nil {
		return nil, ErrUnknownRecipient
	}

	msgs, err := s.store.ListConversation(ctx, viewerID, peerID, load)
	if err != nil {
		return nil, fmt.Errorf("list conversation: %w", err)
	}

	online, err := s.online(ctx, []string{peerID})
	if err != nil {
		return nil, err
	}

	conv := &protocol.Conversation{
		Peer: protocol.Peer{
			LoginID:  protocol.EncodeRecipientToken(peer.ID),
			Name:     peer.Name,
			Username: peer.Username,
			Online:   online[peer.ID],
		},
		Messages: make([]protocol.ChatMessage, 0, len(msgs)),
	}
	for _, m := range msgs {
		dir := protocol.DirectionReceived
		if m.SenderID == viewerID {
			dir = protocol.DirectionSent
		}
		conv.Messages = append(conv.Messages, protocol.ChatMessage{
			ID:        m.ID,
			Body:      m.Body,
			Direction: dir,
			Read:      m.Read,
			Time:      m.CreatedAt,
		})
	}
	return conv, nil
}

func (s *Service) sidebarEntries(ctx context.Context, threads []store.Thread) ([]protocol.SidebarEntry, error) {
	ids := make([]string, len(threads))
	for i, th := range threads {
		ids[i] = th.PeerID
	}
	online, err := s.online(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]protocol.SidebarEntry, 0, len(threads))
	for _, th := range threads {
		out = append(out, protocol.SidebarEntry{
			LoginID:  protocol.EncodeRecipientToken(th.PeerID),
			Name:     th.PeerName,
			Username: th.PeerUsername,
			Message:  th.LastMessage,
			Time:     th.LastAt,
			Unread:   th.Unread,
			Online:   online[th.PeerID],
		})
	}
	return out, nil
}

func (s *Service) online(ctx context.Context, ids []string) (map[string]bool, error) {
	if s.presence == nil || len(ids) == 0 {
		return map[string]bool{}, nil
	}
	online, err := s.presence.Online(ctx, ids)
	if err != nil {
		// Views still render without presence; peers just show as offline.
		s.logger.Warn("presence lookup failed", "error", err)
		return map[string]bool{}, nil
	}
	return online, nil
}
