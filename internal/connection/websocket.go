package connection

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"canvassync/internal/protocol"
)

// WebsocketTransport carries envelopes over a gorilla/websocket connection.
// gorilla allows one concurrent writer, so Send serializes behind a mutex.
type WebsocketTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// WebsocketDialer returns a DialFunc for the given backend URL. authToken,
// when non-empty, is sent as a bearer header on the upgrade request.
func WebsocketDialer(url, authToken string, timeout time.Duration) DialFunc {
	return func(ctx context.Context) (Transport, error) {
		dialer := websocket.Dialer{HandshakeTimeout: timeout}

		var header http.Header
		if authToken != "" {
			header = http.Header{"Authorization": []string{"Bearer " + authToken}}
		}

		conn, resp, err := dialer.DialContext(ctx, url, header)
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("websocket dial %s: %w (status %d)", url, err, resp.StatusCode)
			}
			return nil, fmt.Errorf("websocket dial %s: %w", url, err)
		}
		return &WebsocketTransport{conn: conn}, nil
	}
}

// Send writes one envelope as a text frame.
func (t *WebsocketTransport) Send(env protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Receive blocks for the next frame and decodes it.
func (t *WebsocketTransport) Receive() (protocol.Envelope, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return protocol.Envelope{}, err
	}
	return protocol.Decode(data)
}

// Close sends a close frame and drops the connection.
func (t *WebsocketTransport) Close() error {
	t.writeMu.Lock()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	t.writeMu.Unlock()
	return t.conn.Close()
}
