package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openchat-io/openchat/internal/auth"
	"github.com/openchat-io/openchat/internal/chat"
	"github.com/openchat-io/openchat/internal/config"
	"github.com/openchat-io/openchat/internal/presence"
	"github.com/openchat-io/openchat/internal/router"
	"github.com/openchat-io/openchat/internal/store"
	"github.com/openchat-io/openchat/pkg/protocol"
)

func setupTestServer(t *testing.T) (*Server, *auth.Service, store.Store) {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })

	cfg := &config.Config{
		Server: config.ServerConfig{
			Addr:           ":0",
			AllowedOrigins: []string{"*"},
			MaxBodyBytes:   1024 * 1024,
		},
		Auth: config.AuthConfig{
			JWTSecret:  "test-secret-at-least-32-chars-long",
			SessionTTL: config.Duration{Duration: time.Hour},
			CookieName: "openchat_session",
		},
		RateLimit: config.RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
		},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	authSvc := auth.NewService(s, cfg.Auth)
	presenceSvc := presence.New(presence.NewStoreBackend(s), nil, logger)
	chatSvc := chat.NewService(s, presenceSvc, logger)
	rt := router.New(authSvc, chatSvc, presenceSvc, logger, router.Options{CookieName: cfg.Auth.CookieName})
	srv := NewServer(s, authSvc, rt, cfg, logger)
	return srv, authSvc, s
}

func createTestUserAndGetToken(t *testing.T, authSvc *auth.Service, username string) (*store.User, string) {
	t.Helper()
	ctx := context.Background()
	user, err := authSvc.Register(ctx, username, "", "testpassword123")
	if err != nil {
		t.Fatal(err)
	}
	res, err := authSvc.Login(ctx, username, "testpassword123")
	if err != nil {
		t.Fatal(err)
	}
	return user, res.Token
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, cookie string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: "openchat_session", Value: cookie})
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == "openchat_session" {
			return c
		}
	}
	t.Fatal("session cookie not set")
	return nil
}

func TestHealthz(t *testing.T) {
	srv, _, _ := setupTestServer(t)
	w := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers")
	}
}

func TestReadyz(t *testing.T) {
	srv, _, _ := setupTestServer(t)
	w := doJSON(t, srv.Handler(), http.MethodGet, "/readyz", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Status string       `json:"status"`
		Router router.Stats `json:"router"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "ready" || resp.Router.Connections != 0 {
		t.Errorf("unexpected readyz body: %+v", resp)
	}
}

func TestAuthConfig(t *testing.T) {
	srv, _, _ := setupTestServer(t)
	w := doJSON(t, srv.Handler(), http.MethodGet, "/api/auth/config", nil, "")
	if !strings.Contains(w.Body.String(), `"builtin"`) {
		t.Errorf("expected builtin provider, got %s", w.Body.String())
	}
}

func TestRegisterLoginMeLogout(t *testing.T) {
	srv, _, _ := setupTestServer(t)
	h := srv.Handler()

	w := doJSON(t, h, http.MethodPost, "/api/auth/register", map[string]string{
		"username": "alice", "name": "Alice", "password": "password123",
	}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, h, http.MethodPost, "/api/auth/register", map[string]string{
		"username": "alice", "password": "password123",
	}, "")
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate register: expected 409, got %d", w.Code)
	}

	w = doJSON(t, h, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "alice", "password": "wrong-password",
	}, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad login: expected 401, got %d", w.Code)
	}

	w = doJSON(t, h, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "alice", "password": "password123",
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	cookie := sessionCookie(t, w)
	if !cookie.HttpOnly || cookie.Value == "" {
		t.Errorf("unexpected cookie: %+v", cookie)
	}

	w = doJSON(t, h, http.MethodGet, "/api/me", nil, cookie.Value)
	if w.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", w.Code)
	}
	var me userResponse
	if err := json.NewDecoder(w.Body).Decode(&me); err != nil {
		t.Fatal(err)
	}
	if me.Username != "alice" || me.Name != "Alice" {
		t.Errorf("unexpected me: %+v", me)
	}

	w = doJSON(t, h, http.MethodPost, "/api/auth/logout", nil, cookie.Value)
	if w.Code != http.StatusNoContent {
		t.Errorf("logout: expected 204, got %d", w.Code)
	}
	w = doJSON(t, h, http.MethodGet, "/api/me", nil, cookie.Value)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("me after logout: expected 401, got %d", w.Code)
	}
}

func TestRegister_Validation(t *testing.T) {
	srv, _, _ := setupTestServer(t)
	tests := []struct {
		name string
		body map[string]string
	}{
		{"short username", map[string]string{"username": "al", "password": "password123"}},
		{"short password", map[string]string{"username": "alice", "password": "short"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, srv.Handler(), http.MethodPost, "/api/auth/register", tt.body, "")
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", w.Code)
			}
		})
	}
}

func TestMe_Unauthenticated(t *testing.T) {
	srv, _, _ := setupTestServer(t)
	w := doJSON(t, srv.Handler(), http.MethodGet, "/api/me", nil, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
	w = doJSON(t, srv.Handler(), http.MethodGet, "/api/me", nil, "garbage")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for invalid cookie, got %d", w.Code)
	}
}

func TestLoginRateLimit(t *testing.T) {
	srv, _, _ := setupTestServer(t)
	var last int
	for range 20 {
		w := doJSON(t, srv.Handler(), http.MethodPost, "/api/auth/login", map[string]string{
			"username": "nobody", "password": "whatever1",
		}, "")
		last = w.Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("expected 429 after repeated attempts, got %d", last)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _, _ := setupTestServer(t)
	w := doJSON(t, srv.Handler(), http.MethodOptions, "/api/auth/login", nil, "")
	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("expected wildcard origin, got %q", w.Header().Get("Access-Control-Allow-Origin"))
	}
}

func dialChat(t *testing.T, wsURL, token string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set("Cookie", "openchat_session="+token)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("frame is not an object: %s", data)
	}
	return m
}

func TestChatOverWebSocket(t *testing.T) {
	srv, authSvc, _ := setupTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	_, aliceToken := createTestUserAndGetToken(t, authSvc, "alice")
	bob, bobToken := createTestUserAndGetToken(t, authSvc, "bob")

	aliceConn := dialChat(t, wsURL, aliceToken)
	bobConn := dialChat(t, wsURL, bobToken)

	// The dial returns once upgraded; registration follows shortly after.
	deadline := time.Now().Add(2 * time.Second)
	for srv.router.Registry().Len() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	// Typing reaches bob only.
	bobLogin := protocol.EncodeRecipientToken(bob.ID)
	if err := aliceConn.WriteJSON(map[string]string{"type": protocol.TagTyping, "name": bobLogin}); err != nil {
		t.Fatal(err)
	}
	if m := readFrame(t, bobConn); string(m["typing"]) != `"typing"` {
		t.Fatalf("expected typing ping, got %v", m)
	}

	if err := aliceConn.WriteJSON(map[string]string{"type": "send", "name": bobLogin, "reply": "hello bob"}); err != nil {
		t.Fatal(err)
	}

	sent := readFrame(t, aliceConn)
	if _, ok := sent["conversation"]; !ok {
		t.Fatalf("sender expected {sidebar, conversation}, got %v", sent)
	}
	var conv protocol.Conversation
	if err := json.Unmarshal(sent["conversation"], &conv); err != nil {
		t.Fatal(err)
	}
	if len(conv.Messages) != 1 || conv.Messages[0].Body != "hello bob" || conv.Messages[0].Direction != protocol.DirectionSent {
		t.Errorf("unexpected sent conversation: %+v", conv)
	}

	recv := readFrame(t, bobConn)
	var received protocol.ReceivedResponse
	raw, _ := json.Marshal(recv)
	if err := json.Unmarshal(raw, &received); err != nil {
		t.Fatal(err)
	}
	if received.Reply == nil || len(received.Reply.Messages) != 1 || received.Reply.Messages[0].Direction != protocol.DirectionReceived {
		t.Fatalf("bob expected the receive view, got %s", raw)
	}
	if len(received.Sidebar) != 1 || received.Sidebar[0].Unread != 1 || received.Sidebar[0].Username != "alice" {
		t.Errorf("unexpected bob sidebar: %+v", received.Sidebar)
	}

	// Opening the chat loads the sidebar and the first thread.
	if err := bobConn.WriteJSON(map[string]string{"type": protocol.TagOpenChat}); err != nil {
		t.Fatal(err)
	}
	initial := readFrame(t, bobConn)
	if _, ok := initial["conversation"]; !ok {
		t.Errorf("expected the first thread to be loaded, got %v", initial)
	}
}
