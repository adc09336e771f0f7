package router

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// defaultPingInterval is how often the hub sends WebSocket ping frames.
	defaultPingInterval = 30 * time.Second
	// defaultPongWait is the maximum time to wait for a pong from the peer.
	defaultPongWait = 60 * time.Second
	// writeWait bounds every frame written to a client.
	writeWait = 10 * time.Second
)

// wsTransport is the registry.Transport for a gorilla connection. gorilla
// allows one concurrent writer, so every write, pings included, takes mu.
type wsTransport struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (t *wsTransport) WriteText(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

// closeWith sends a close frame with the given code before the caller closes
// the socket.
func (t *wsTransport) closeWith(code int, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
}

// startKeepalive sets a read deadline, extends it on every pong and pings the
// peer every interval. The returned function stops the ping goroutine.
func (t *wsTransport) startKeepalive(interval, pongWait time.Duration) (stop func()) {
	_ = t.conn.SetReadDeadline(time.Now().Add(pongWait))
	t.conn.SetPongHandler(func(string) error {
		return t.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.mu.Lock()
				err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
				t.mu.Unlock()
				if err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
