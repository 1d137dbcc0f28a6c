package connection

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is the single owned full-duplex handle under the Manager.
type Transport interface {
	// ReadMessage blocks until the next text frame or a read error.
	ReadMessage() ([]byte, error)

	// WriteMessage writes a single text frame.
	WriteMessage(data []byte) error

	// Close sends a close frame with the given code and tears the handle down.
	Close(code int, reason string) error
}

// DialFunc opens a Transport to the given endpoint.
type DialFunc func(ctx context.Context, endpoint string) (Transport, error)

// wsTransport implements Transport over gorilla/websocket.
type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	// Serializes writes; gorilla connections allow one concurrent writer.
	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// Dialer returns the production DialFunc.
func Dialer(handshakeTimeout, writeTimeout time.Duration) DialFunc {
	return func(ctx context.Context, endpoint string) (Transport, error) {
		dialer := websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
		}
		conn, _, err := dialer.DialContext(ctx, endpoint, nil)
		if err != nil {
			return nil, err
		}
		return &wsTransport{conn: conn, writeTimeout: writeTimeout}, nil
	}
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t *wsTransport) WriteMessage(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close(code int, reason string) error {
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		t.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(time.Second),
		)
		t.writeMu.Unlock()
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}
