package ws

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/portrpc/rpc/common"
	"github.com/ValentinKolb/portrpc/rpc/transport"
	"github.com/ValentinKolb/portrpc/rpc/transport/base"
	"github.com/gorilla/websocket"
	"strings"
	"time"
)

// NewWSClientTransport creates a websocket client transport
func NewWSClientTransport() transport.IRPCClientTransport {
	return &wsClientTransport{}
}

type wsClientTransport struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *wsClientTransport) Connect(ctx context.Context, config common.ClientConfig) (transport.ITransport, error) {
	endpoint := config.Transport.Endpoint
	if endpoint == "" {
		return nil, fmt.Errorf("no endpoint provided")
	}
	// allow plain host:port endpoints like the socket transports
	if !strings.HasPrefix(endpoint, "ws://") && !strings.HasPrefix(endpoint, "wss://") {
		endpoint = "ws://" + endpoint + DefaultPath
	}

	dialer := websocket.Dialer{
		ReadBufferSize:   config.Transport.ReadBufferSize,
		WriteBufferSize:  config.Transport.WriteBufferSize,
		HandshakeTimeout: 10 * time.Second,
	}

	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}

	Logger.Infof("Connected to %s using ws transport", endpoint)

	writeTimeout := time.Duration(config.TimeoutSecond) * time.Second
	return base.NewMessageTransport(newWSConn(conn, writeTimeout), "ws"), nil
}
