package session

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/thereceipt/print-agent/internal/apperr"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Endpoint is where and how to connect.
type Endpoint struct {
	URL    string
	Header http.Header
}

// Conn is one established transport session.
type Conn interface {
	// ReadMessage blocks for the next message. Any error ends the session.
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Ping() error
	Close() error
}

// Dialer establishes sessions.
type Dialer interface {
	Dial(ctx context.Context, ep Endpoint) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
}

func (d WebsocketDialer) Dial(ctx context.Context, ep Endpoint) (Conn, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}

	c, resp, err := dialer.DialContext(ctx, ep.URL, ep.Header)
	if err != nil {
		if resp != nil {
			return nil, apperr.Wrap(apperr.KindTransport, "dial "+resp.Status, err)
		}
		return nil, apperr.Wrap(apperr.KindTransport, "dial", err)
	}

	_ = c.SetReadDeadline(time.Now().Add(pongWait))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(pongWait))
	})
	return &wsConn{conn: c}, nil
}

type wsConn struct {
	conn *websocket.Conn
	// gorilla allows one concurrent writer.
	mu   sync.Mutex
	once sync.Once
}

func (w *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := w.conn.ReadMessage()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransport, "read", err)
	}
	_ = w.conn.SetReadDeadline(time.Now().Add(pongWait))
	return data, nil
}

func (w *wsConn) WriteMessage(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return apperr.Wrap(apperr.KindTransport, "write", err)
	}
	return nil
}

func (w *wsConn) Ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.PingMessage, nil)
}

func (w *wsConn) Close() error {
	var err error
	w.once.Do(func() {
		w.mu.Lock()
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "Service stopped"),
			time.Now().Add(time.Second))
		w.mu.Unlock()
		err = w.conn.Close()
	})
	return err
}
