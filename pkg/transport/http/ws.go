package http

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rhuss/polyrun/pkg/api"
	"github.com/rhuss/polyrun/pkg/transport"
)

const (
	wsWriteWait  = 10 * time.Second
	wsReadLimit  = 4 << 20
	wsCloseGrace = time.Second
)

// wsWriter implements transport.EventWriter over a WebSocket connection.
type wsWriter struct {
	conn *websocket.Conn

	mu   sync.Mutex
	done bool
}

var _ transport.EventWriter = (*wsWriter)(nil)

func (ws *wsWriter) WriteEvent(_ context.Context, event api.StreamEvent) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.done {
		return errors.New("cannot write event: stream is completed")
	}
	ws.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := ws.conn.WriteJSON(event); err != nil {
		return err
	}
	ws.done = event.Terminal()
	return nil
}

// handleWebSocket handles GET /api/ws/execute. The client sends one
// ExecuteRequest; the server streams the run's events and closes the
// connection after the terminal event. Closing the connection from the
// client side cancels the run.
func (a *Adapter) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		a.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ww := &wsWriter{conn: conn}
	var runID string
	obs := transport.NewStreamObserver(ctx, ww, func(id string) {
		runID = id
		a.inflight.Register(id, cancel)
	})

	var req api.ExecuteRequest
	if err := conn.ReadJSON(&req); err != nil {
		obs.Fail(api.NewInvalidRequestError("body", "invalid JSON: "+err.Error()))
		a.closeWebSocket(conn, websocket.CloseUnsupportedData)
		return
	}

	// A client disconnect surfaces as a read error; use it to cancel.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	_, err = a.executor.Execute(ctx, &req, obs)
	if runID != "" {
		a.inflight.Remove(runID)
	}
	if err != nil {
		obs.Fail(toAPIError(err))
	}
	a.closeWebSocket(conn, websocket.CloseNormalClosure)
}

func (a *Adapter) closeWebSocket(conn *websocket.Conn, code int) {
	msg := websocket.FormatCloseMessage(code, "")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsCloseGrace))
}

// checkOrigin accepts requests without an Origin header, same-host
// origins and the configured allowed origins.
func (a *Adapter) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(a.config.AllowedOrigins, "*") {
		return true
	}
	if slices.Contains(a.config.AllowedOrigins, origin) {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}
