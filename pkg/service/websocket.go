package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/open-feature/flagwatch/pkg/provider"
	"github.com/open-feature/flagwatch/pkg/telemetry"
	"github.com/open-feature/flagwatch/pkg/watch"
)

const (
	writeTimeout     = 10 * time.Second
	closeGracePeriod = time.Second
)

// WatchHandler accepts watch connections and runs one session per
// connection until it ends. A failing session only affects its own
// connection.
type WatchHandler struct {
	provider provider.IProvider
	config   watch.Config
	registry *SessionRegistry
	metrics  *telemetry.Metrics
	upgrader websocket.Upgrader
	active   sync.WaitGroup
}

func NewWatchHandler(p provider.IProvider, config watch.Config, registry *SessionRegistry, metrics *telemetry.Metrics, origins []string) *WatchHandler {
	return &WatchHandler{
		provider: p,
		config:   config,
		registry: registry,
		metrics:  metrics,
		upgrader: websocket.Upgrader{CheckOrigin: originChecker(origins)},
	}
}

func (h *WatchHandler) Watch(w http.ResponseWriter, r *http.Request, flagID string, targetID string) {
	logger := log.WithFields(log.Fields{
		"flag_id":   flagID,
		"target_id": targetID,
		"remote":    r.RemoteAddr,
	})

	// counted before the hijack, while http.Server.Shutdown still tracks the request
	h.active.Add(1)
	defer h.active.Done()

	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied with an HTTP error
		logger.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer c.Close()
	// an oversized handshake fails with websocket.ErrReadLimit after the
	// library has sent close 1009
	c.SetReadLimit(maxRequestBody)

	conn := newWSConn(c)
	session := watch.NewSession(flagID, targetID, conn, h.provider, h.config, logger)

	h.registry.Register(session, flagID, targetID)
	defer h.registry.Unregister(session)

	result, err := runSession(r.Context(), session)
	h.metrics.SessionFinished(result)
	logger = logger.WithFields(log.Fields{
		"connection_id": result.ConnectionID,
		"outcome":       result.Outcome.String(),
		"elapsed":       result.Ticks,
	})

	switch result.Outcome {
	case watch.ClosedError:
		logger.WithError(err).Error("watch session failed")
		_ = conn.Close(websocket.CloseInternalServerErr, "")
	case watch.HandshakeFailed, watch.ClosedTimeout, watch.ClosedShutdown:
		conn.awaitPeerClose(closeGracePeriod)
	}
}

// Wait blocks until every running session has returned or ctx is done.
func (h *WatchHandler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runSession turns a panicking session into a failed one.
func runSession(ctx context.Context, session *watch.Session) (result watch.Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result.Outcome = watch.ClosedError
			err = fmt.Errorf("watch session panicked: %v", rec)
		}
	}()
	return session.Run(ctx)
}

func originChecker(origins []string) func(r *http.Request) bool {
	allowed := map[string]bool{}
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}

// wsConn adapts a websocket connection to watch.Conn. Send and Close are
// only called from the session goroutine; the background reader only reads.
type wsConn struct {
	conn *websocket.Conn

	readOnce sync.Once
	gone     chan struct{}
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn, gone: make(chan struct{})}
}

func (c *wsConn) Receive(deadline time.Time) ([]byte, error) {
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, classify(err)
	}
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, classify(err)
	}
	if err := c.conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, classify(err)
	}
	return data, nil
}

func (c *wsConn) Send(v interface{}) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return classify(err)
	}
	return classify(c.conn.WriteJSON(v))
}

func (c *wsConn) Close(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	return classify(c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout)))
}

func (c *wsConn) Disconnected() <-chan struct{} {
	c.readOnce.Do(func() { go c.read() })
	return c.gone
}

// read discards client messages until the connection fails. Control frames
// are handled by the websocket library while reading.
func (c *wsConn) read() {
	defer close(c.gone)
	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			return
		}
	}
}

// awaitPeerClose gives the peer a moment to acknowledge a close frame
// before the connection is torn down.
func (c *wsConn) awaitPeerClose(timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-c.Disconnected():
	case <-timer.C:
	}
}

// classify maps the ways a gone peer surfaces to watch.ErrDisconnected.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) ||
		errors.Is(err, websocket.ErrCloseSent) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) {
		return fmt.Errorf("%w: %s", watch.ErrDisconnected, err)
	}
	return err
}
