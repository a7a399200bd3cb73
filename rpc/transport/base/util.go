package base

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// MaxFrameSize is the largest message a frame may carry (64 MiB)
const MaxFrameSize = 64 << 20

// ErrFrameTooLarge is returned for frames above MaxFrameSize
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// writeFrame writes a frame to the connection with the format:
// - 4 bytes: data length (uint32, big endian)
// - N bytes: data payload
func writeFrame(conn net.Conn, data []byte) error {
	if len(data) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(data)))

	// header and payload in one syscall
	b := net.Buffers{header, data}
	_, err := b.WriteTo(conn)
	return err
}

// readFrame reads one frame from the connection. The header buffer is reused,
// the returned payload is freshly allocated because it is handed to the subscribers.
func readFrame(conn net.Conn, header []byte) ([]byte, error) {
	if _, err := io.ReadFull(conn, header[:4]); err != nil {
		return nil, err
	}

	contentLength := binary.BigEndian.Uint32(header[:4])
	if contentLength > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, contentLength)
	}

	data := make([]byte, contentLength)
	if _, err := io.ReadFull(conn, data); err != nil {
		if errors.Is(err, io.EOF) {
			// the peer went away in the middle of a frame
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return data, nil
}

// --------------------------------------------------------------------------
// Framed net.Conn
// --------------------------------------------------------------------------

// frameConn adapts a stream oriented net.Conn to IMessageConn using length prefixed frames
type frameConn struct {
	conn         net.Conn
	header       []byte
	writeTimeout time.Duration
}

// NewFrameConn wraps conn; a positive writeTimeout bounds every frame write
func NewFrameConn(conn net.Conn, writeTimeout time.Duration) IMessageConn {
	return &frameConn{
		conn:         conn,
		header:       make([]byte, 4),
		writeTimeout: writeTimeout,
	}
}

func (c *frameConn) ReadMessage() ([]byte, error) {
	return readFrame(c.conn, c.header)
}

func (c *frameConn) WriteMessage(data []byte) error {
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %v", err)
		}
	}
	return writeFrame(c.conn, data)
}

func (c *frameConn) Close() error {
	return c.conn.Close()
}

// isGracefulClose reports whether a read or write error only means the
// connection was closed by one of the peers
func isGracefulClose(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
