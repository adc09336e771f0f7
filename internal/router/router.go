// Package router manages chat WebSocket connections and routes each inbound
// envelope to its handler, fanning responses out to the sender and to the
// connections of the message's target.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/openchat-io/openchat/internal/auth"
	"github.com/openchat-io/openchat/internal/eventbus"
	"github.com/openchat-io/openchat/internal/registry"
	"github.com/openchat-io/openchat/pkg/protocol"
)

// makeUpgrader creates a WebSocket upgrader with origin checking.
func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients
			}
			return originSet[origin]
		},
	}
}

// Options configures the Router.
type Options struct {
	AllowedOrigins    []string // for WebSocket origin check
	CookieName        string   // session cookie read at upgrade
	ServiceTimeout    time.Duration
	ConversationLoad  int
	MaxMessageBytes   int64 // max WebSocket message size from clients (default 64KB)
	MaxConnsPerUser   int
	MessagesPerSecond float64
	MessageBurst      int
	PingInterval      time.Duration
	PongWait          time.Duration
}

// Stats is a point-in-time view of router activity.
type Stats struct {
	Connections      int    `json:"connections"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesRouted   uint64 `json:"messages_routed"`
	ParseErrors      uint64 `json:"parse_errors"`
	HandlerErrors    uint64 `json:"handler_errors"`
	RateLimited      uint64 `json:"rate_limited"`
}

// Router owns the connection registry and dispatches client messages.
type Router struct {
	registry *registry.Registry
	binder   auth.Binder
	services Services
	presence Presence
	logger   *slog.Logger
	upgrader websocket.Upgrader

	cookieName       string
	serviceTimeout   time.Duration
	conversationLoad int
	maxMessageBytes  int64
	maxConnsPerUser  int
	msgRate          rate.Limit
	msgBurst         int
	pingInterval     time.Duration
	pongWait         time.Duration

	received    atomic.Uint64
	routed      atomic.Uint64
	parseErrors atomic.Uint64
	handlerErrs atomic.Uint64
	rateLimited atomic.Uint64
}

// New creates a Router. presence may be nil.
func New(binder auth.Binder, services Services, presence Presence, logger *slog.Logger, opts Options) *Router {
	r := &Router{
		registry:         registry.New(),
		binder:           binder,
		services:         services,
		presence:         presence,
		logger:           logger.With("component", "router"),
		upgrader:         makeUpgrader(opts.AllowedOrigins),
		cookieName:       opts.CookieName,
		serviceTimeout:   opts.ServiceTimeout,
		conversationLoad: opts.ConversationLoad,
		maxMessageBytes:  opts.MaxMessageBytes,
		maxConnsPerUser:  opts.MaxConnsPerUser,
		msgRate:          rate.Limit(opts.MessagesPerSecond),
		msgBurst:         opts.MessageBurst,
		pingInterval:     opts.PingInterval,
		pongWait:         opts.PongWait,
	}
	if r.cookieName == "" {
		r.cookieName = "openchat_session"
	}
	if r.serviceTimeout == 0 {
		r.serviceTimeout = 10 * time.Second
	}
	if r.conversationLoad <= 0 {
		r.conversationLoad = protocol.DefaultConversationLoad
	}
	if r.maxMessageBytes == 0 {
		r.maxMessageBytes = 64 * 1024
	}
	if r.msgRate == 0 {
		r.msgRate = 30
	}
	if r.msgBurst == 0 {
		r.msgBurst = 50
	}
	if r.pingInterval == 0 {
		r.pingInterval = defaultPingInterval
	}
	if r.pongWait == 0 {
		r.pongWait = defaultPongWait
	}
	return r
}

// Registry exposes the live connection set.
func (r *Router) Registry() *registry.Registry {
	return r.registry
}

// Stats returns current counters.
func (r *Router) Stats() Stats {
	return Stats{
		Connections:      r.registry.Len(),
		MessagesReceived: r.received.Load(),
		MessagesRouted:   r.routed.Load(),
		ParseErrors:      r.parseErrors.Load(),
		HandlerErrors:    r.handlerErrs.Load(),
		RateLimited:      r.rateLimited.Load(),
	}
}

// HandleWS authenticates the session cookie, upgrades the request and serves
// the connection until it closes. Requests without an active session are
// refused with 401 before the upgrade.
func (r *Router) HandleWS(w http.ResponseWriter, req *http.Request) {
	identity, err := r.binder.Bind(req.Context(), auth.CredentialFromRequest(req, r.cookieName))
	if err != nil {
		if !errors.Is(err, auth.ErrUnauthenticated) {
			r.logger.Warn("session lookup failed", "error", err)
		}
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	ws := &wsTransport{conn: conn}
	defer func() { _ = ws.Close() }()

	c, err := r.open(identity.UserID, ws)
	if err != nil {
		if errors.Is(err, registry.ErrUserLimit) {
			r.logger.Warn("too many WebSocket connections for user", "user_id", identity.UserID, "limit", r.maxConnsPerUser)
			ws.closeWith(websocket.ClosePolicyViolation, "too many connections")
		} else {
			r.logger.Error("attach connection failed", "error", err)
			ws.closeWith(websocket.CloseInternalServerErr, "internal error")
		}
		return
	}
	defer r.close(c)

	conn.SetReadLimit(r.maxMessageBytes)
	stop := ws.startKeepalive(r.pingInterval, r.pongWait)
	defer stop()

	r.logger.Info("client connected", "user", identity.Username, "user_id", c.UserID, "conn_id", c.ID)

	limiter := rate.NewLimiter(r.msgRate, r.msgBurst)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			r.logger.Debug("client read error", "conn_id", c.ID, "error", err)
			return
		}
		if !limiter.Allow() {
			r.rateLimited.Add(1)
			r.logger.Debug("client message rate limited", "conn_id", c.ID)
			continue
		}
		r.handleMessage(req.Context(), c, msg)
	}
}

// open registers a connection bound to userID and marks the user online when
// it is their first connection.
func (r *Router) open(userID string, t registry.Transport) (*registry.Conn, error) {
	if userID == "" {
		return nil, auth.ErrUnauthenticated
	}
	c := &registry.Conn{ID: uuid.New().String(), UserID: userID, Transport: t}
	n, err := r.registry.AttachLimited(c, r.maxConnsPerUser)
	if err != nil {
		return nil, err
	}
	if n == 1 {
		r.setPresence(userID, true)
	}
	return c, nil
}

// close detaches the connection and marks the user offline when it was their
// last one. Duplicate closes are ignored.
func (r *Router) close(c *registry.Conn) {
	removed, remaining := r.registry.DetachCount(c)
	if !removed {
		return
	}
	r.logger.Info("client disconnected", "user_id", c.UserID, "conn_id", c.ID)
	if remaining > 0 {
		return
	}
	r.setPresence(c.UserID, false)
	// A new connection may have attached while the offline write was in
	// flight.
	if r.registry.CountByUser(c.UserID) > 0 {
		r.setPresence(c.UserID, true)
	}
}

func (r *Router) setPresence(userID string, online bool) {
	if r.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.serviceTimeout)
	defer cancel()

	var err error
	if online {
		err = r.presence.SetOnline(ctx, userID)
	} else {
		err = r.presence.SetOffline(ctx, userID)
	}
	if err != nil {
		r.logger.Warn("presence update failed", "user_id", userID, "online", online, "error", err)
	}
}

// handleMessage runs one turn: decode, dispatch, and report any failure to
// the sender only.
func (r *Router) handleMessage(ctx context.Context, c *registry.Conn, raw []byte) {
	r.received.Add(1)

	env, err := protocol.Decode(raw)
	if err != nil {
		r.parseErrors.Add(1)
		r.logger.Warn("invalid message from client", "conn_id", c.ID, "error", err)
		r.send(c, errorResponse(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, r.serviceTimeout)
	defer cancel()

	if err := r.dispatch(ctx, c, env); err != nil {
		r.handlerErrs.Add(1)
		if errorCode(err) == protocol.CodeServiceError {
			r.logger.Error("handler failed", "conn_id", c.ID, "user_id", c.UserID, "type", env.Kind().String(), "error", err)
		} else {
			r.logger.Debug("request rejected", "conn_id", c.ID, "type", env.Kind().String(), "error", err)
		}
		r.send(c, errorResponse(err))
	}
}

func (r *Router) dispatch(ctx context.Context, c *registry.Conn, env *protocol.Envelope) error {
	switch env.Kind() {
	case protocol.KindOpenChat:
		return r.handleOpenChat(ctx, c)
	case protocol.KindLoadSidebar:
		return r.handleLoadSidebar(ctx, c)
	case protocol.KindInitiated:
		return r.handleInitiated(ctx, c, env)
	case protocol.KindSearch:
		return r.handleSearch(ctx, c, env)
	case protocol.KindCompose:
		return r.handleCompose(ctx, c, env)
	case protocol.KindTyping:
		return r.handleTyping(c, env)
	case protocol.KindChatSend:
		return r.handleChatSend(ctx, c, env)
	default:
		return fmt.Errorf("%w: unhandled kind %s", protocol.ErrInvalidPayload, env.Kind())
	}
}

func (r *Router) handleOpenChat(ctx context.Context, c *registry.Conn) error {
	sidebar, err := r.services.LoadSidebar(ctx, c.UserID)
	if err != nil {
		return fmt.Errorf("load sidebar: %w", err)
	}
	var conv *protocol.Conversation
	if len(sidebar) > 0 {
		conv, err = r.services.LoadConversation(ctx, protocol.ConversationRequest{
			Details: sidebar[0].LoginID,
			Load:    r.conversationLoad,
			UserID:  c.UserID,
		})
		if err != nil {
			return fmt.Errorf("load conversation: %w", err)
		}
	}
	r.send(c, initialResponse(sidebar, conv))
	return nil
}

func (r *Router) handleLoadSidebar(ctx context.Context, c *registry.Conn) error {
	sidebar, err := r.services.LoadSidebar(ctx, c.UserID)
	if err != nil {
		return fmt.Errorf("load sidebar: %w", err)
	}
	r.send(c, sidebarResponse(sidebar))
	return nil
}

func (r *Router) handleInitiated(ctx context.Context, c *registry.Conn, env *protocol.Envelope) error {
	details, err := env.RequireString("details")
	if err != nil {
		return err
	}
	load, ok := env.Int("load")
	if !ok || load <= 0 {
		load = r.conversationLoad
	}
	conv, err := r.services.LoadConversation(ctx, protocol.ConversationRequest{
		Details: details,
		Load:    load,
		UserID:  c.UserID,
	})
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	r.send(c, conversationResponse(conv))
	return nil
}

// searchRequest binds a Search or Compose payload with the sender's identity
// injected over anything the client sent.
func searchRequest(c *registry.Conn, env *protocol.Envelope) (protocol.SearchRequest, error) {
	var req protocol.SearchRequest
	if !env.Has("value") {
		return req, fmt.Errorf("%w: %q is required for %q", protocol.ErrInvalidPayload, "value", env.Type)
	}
	withUser, err := env.With("userId", c.UserID)
	if err != nil {
		return req, err
	}
	if err := withUser.Bind(&req); err != nil {
		return req, err
	}
	return req, nil
}

func (r *Router) handleSearch(ctx context.Context, c *registry.Conn, env *protocol.Envelope) error {
	req, err := searchRequest(c, env)
	if err != nil {
		return err
	}
	res, err := r.services.Search(ctx, req)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	r.send(c, entries(res))
	return nil
}

func (r *Router) handleCompose(ctx context.Context, c *registry.Conn, env *protocol.Envelope) error {
	req, err := searchRequest(c, env)
	if err != nil {
		return err
	}
	res, err := r.services.Compose(ctx, req)
	if err != nil {
		return fmt.Errorf("compose: %w", err)
	}
	r.send(c, contacts(res))
	return nil
}

// handleTyping pings every connection of the target. The sender gets nothing.
func (r *Router) handleTyping(c *registry.Conn, env *protocol.Envelope) error {
	token, err := env.RequireString("name")
	if err != nil {
		return err
	}
	target, err := protocol.DecodeRecipientToken(token)
	if err != nil {
		return err
	}
	for _, m := range r.registry.ByUser(target) {
		if m.ID != c.ID {
			r.send(m, typingResponse())
		}
	}
	return nil
}

// handleChatSend stores the message, then delivers the receive view to every
// connection of the target and the sent view to the sending connection.
// Other connections of the sender get nothing. A message to oneself reaches
// every connection of the sender as the receive view.
func (r *Router) handleChatSend(ctx context.Context, c *registry.Conn, env *protocol.Envelope) error {
	token, err := env.RequireString("name")
	if err != nil {
		return err
	}
	if _, err := env.RequireString("reply"); err != nil {
		return err
	}
	target, err := protocol.DecodeRecipientToken(token)
	if err != nil {
		return err
	}

	withUser, err := env.With("userId", c.UserID)
	if err != nil {
		return err
	}
	withTarget, err := withUser.With("name", target)
	if err != nil {
		return err
	}
	var req protocol.ReplyRequest
	if err := withTarget.Bind(&req); err != nil {
		return err
	}
	msgID, err := r.services.Reply(ctx, req)
	if err != nil {
		return fmt.Errorf("reply: %w", err)
	}
	r.logger.Debug("message stored", "conn_id", c.ID, "user_id", c.UserID, "to", target, "message_id", msgID)

	var (
		received    *protocol.ReceivedResponse
		receivedErr error
		loaded      bool
	)
	var sentErr error
	r.registry.ForEach(
		func(m *registry.Conn) bool { return m.UserID == target || m.ID == c.ID },
		func(m *registry.Conn) {
			if m.UserID == target {
				// The receive view is the same for every connection of the
				// target, so it is loaded once per turn.
				if !loaded {
					loaded = true
					received, receivedErr = r.loadReceived(ctx, target, c.UserID)
				}
				if received != nil {
					r.send(m, *received)
				}
				return
			}
			resp, err := r.loadSent(ctx, c.UserID, target)
			if err != nil {
				sentErr = err
				return
			}
			r.send(m, resp)
		},
	)
	// Deliveries already made stand; the sender still hears about a view
	// that could not be loaded.
	return errors.Join(receivedErr, sentErr)
}

func (r *Router) loadReceived(ctx context.Context, target, sender string) (*protocol.ReceivedResponse, error) {
	sidebar, err := r.services.LoadSidebar(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("load receiver sidebar: %w", err)
	}
	conv, err := r.services.LoadReceiver(ctx, protocol.ConversationRequest{
		Details: target,
		Load:    r.conversationLoad,
		UserID:  sender,
	})
	if err != nil {
		return nil, fmt.Errorf("load receiver conversation: %w", err)
	}
	resp := receivedResponse(sidebar, conv)
	return &resp, nil
}

func (r *Router) loadSent(ctx context.Context, sender, target string) (protocol.SentResponse, error) {
	sidebar, err := r.services.LoadSidebar(ctx, sender)
	if err != nil {
		return protocol.SentResponse{}, fmt.Errorf("load sender sidebar: %w", err)
	}
	conv, err := r.services.LoadConversation(ctx, protocol.ConversationRequest{
		Details: protocol.EncodeRecipientToken(target),
		Load:    r.conversationLoad,
		UserID:  sender,
	})
	if err != nil {
		return protocol.SentResponse{}, fmt.Errorf("load sender conversation: %w", err)
	}
	return sentResponse(sidebar, conv), nil
}

// BroadcastPresence relays presence events from the bus to every connection
// not bound to the user concerned. It returns when ctx is done or events is
// closed.
func (r *Router) BroadcastPresence(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			var online bool
			switch e.Type {
			case eventbus.UserOnline:
				online = true
			case eventbus.UserOffline:
			default:
				continue
			}
			resp := presenceResponse(e.UserID, online)
			for c := range r.registry.All() {
				if c.UserID != e.UserID {
					r.send(c, resp)
				}
			}
		}
	}
}

// send encodes v and writes it to c. A failed write closes the transport so
// the connection's read loop exits and detaches it.
func (r *Router) send(c *registry.Conn, v any) {
	data, err := protocol.Encode(v)
	if err != nil {
		r.logger.Error("encode response failed", "conn_id", c.ID, "error", err)
		return
	}
	if err := c.Send(data); err != nil {
		r.logger.Debug("send to client failed", "conn_id", c.ID, "error", err)
		_ = c.Transport.Close()
		return
	}
	r.routed.Add(1)
}
