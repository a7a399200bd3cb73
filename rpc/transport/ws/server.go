package ws

import (
	"bufio"
	"errors"
	"fmt"
	"github.com/ValentinKolb/portrpc/rpc/common"
	"github.com/ValentinKolb/portrpc/rpc/transport"
	"github.com/ValentinKolb/portrpc/rpc/transport/base"
	"github.com/gorilla/websocket"
	"github.com/lni/dragonboat/v4/logger"
	"net"
	"net/http"
	"sync"
	"time"
)

var Logger = logger.GetLogger("transport/rpc")

// DefaultPath is the http path connections are upgraded on if none is configured
const DefaultPath = "/"

// NewWSServerTransport creates a websocket server transport
func NewWSServerTransport() transport.IRPCServerTransport {
	return &wsServerTransport{}
}

type wsServerTransport struct {
	handler  transport.ServerAttachFunc
	config   common.ServerConfig
	upgrader websocket.Upgrader

	mu     sync.Mutex
	server *http.Server
	closed bool
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *wsServerTransport) RegisterHandler(handler transport.ServerAttachFunc) {
	t.handler = handler
}

func (t *wsServerTransport) Listen(config common.ServerConfig) error {
	if t.handler == nil {
		return fmt.Errorf("no handler registered")
	}
	t.config = config
	t.upgrader = websocket.Upgrader{
		ReadBufferSize:  config.Transport.ReadBufferSize,
		WriteBufferSize: config.Transport.WriteBufferSize,
		// the protocol carries no browser credentials, any origin may connect
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	path := config.Transport.WSPath
	if path == "" {
		path = DefaultPath
	}

	mux := http.NewServeMux()

	// Register handler
	if t.config.LogLevel == "debug" {
		mux.HandleFunc("GET "+path, loggerMiddleware(t.handleUpgrade))
	} else {
		mux.HandleFunc("GET "+path, t.handleUpgrade)
	}

	listener, err := net.Listen("tcp", config.Transport.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to create listener: %v", err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return listener.Close()
	}
	t.server = &http.Server{Handler: mux}
	server := t.server
	t.mu.Unlock()

	Logger.Infof("Starting websocket server on %s%s", listener.Addr(), path)

	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (t *wsServerTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	if t.server == nil {
		return nil
	}
	// Close only stops the listener and idle http connections, hijacked
	// websocket connections stay attached
	return t.server.Close()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handleUpgrade upgrades the request and attaches the websocket as a transport
func (t *wsServerTransport) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already replied with an http error
		Logger.Warningf("Websocket upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}

	writeTimeout := time.Duration(t.config.TimeoutSecond) * time.Second
	t.handler(base.NewMessageTransport(newWSConn(conn, writeTimeout), "ws"))
}

// --------------------------------------------------------------------------
// Middleware (logging)
// --------------------------------------------------------------------------

// responseWriter is a custom ResponseWriter that captures status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code before writing it
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack passes the connection takeover of the websocket upgrade through
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

// loggerMiddleware is a middleware that logs HTTP requests
func loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create custom response writer to capture status code
		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		// Process request
		next.ServeHTTP(rw, r)

		// Log the request
		duration := time.Since(start)
		Logger.Debugf("%s %s from %s => %d took %s", r.Method, r.URL.Path, r.RemoteAddr, rw.statusCode, duration)
	}
}
