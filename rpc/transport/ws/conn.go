package ws

import (
	"github.com/gorilla/websocket"
	"io"
	"time"
)

// closeGracePeriod bounds the write of the close frame
const closeGracePeriod = time.Second

// wsConn adapts a websocket connection to base.IMessageConn, one binary
// websocket message per protocol message
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func newWSConn(conn *websocket.Conn, writeTimeout time.Duration) *wsConn {
	return &wsConn{conn: conn, writeTimeout: writeTimeout}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IMessageConn)
// --------------------------------------------------------------------------

func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		// text frames are not part of the protocol
		if messageType != websocket.BinaryMessage {
			Logger.Debugf("Ignoring websocket message of type %d", messageType)
			continue
		}
		return data, nil
	}
}

func (c *wsConn) WriteMessage(data []byte) error {
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *wsConn) Close() error {
	// best effort close handshake, the peer may already be gone
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeGracePeriod))
	return c.conn.Close()
}
