package server

import (
	"context"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/proximityhq/proximity/internal/shell"
)

// handleAppEvents streams the Deployment Pipeline's Progress events for one
// App over a WebSocket until the client disconnects or the context ends.
func (s *Server) handleAppEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetApp(id); err != nil {
		writeError(w, http.StatusNotFound, "app not found")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.allowedOriginPatterns(r)})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	ch, cancel := s.events.Subscribe(id)
	defer cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case progress, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, progress)
			cancelWrite()
			if err != nil {
				return
			}
		}
	}
}

// handleAppShell bridges a WebSocket to an interactive PTY shell inside
// the App's managed LXC.
func (s *Server) handleAppShell(w http.ResponseWriter, r *http.Request) {
	app, err := s.store.GetApp(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "app not found")
		return
	}
	if app.VMID == 0 {
		writeError(w, http.StatusConflict, "app has no running container")
		return
	}
	_ = shell.Attach(w, r, app.VMID, s.allowedOriginPatterns(r))
}

// handleAppShellLogs streams a live tail of the App's container OS logs.
func (s *Server) handleAppShellLogs(w http.ResponseWriter, r *http.Request) {
	app, err := s.store.GetApp(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "app not found")
		return
	}
	if app.VMID == 0 {
		writeError(w, http.StatusConflict, "app has no running container")
		return
	}
	_ = shell.TailLogs(w, r, app.VMID, s.allowedOriginPatterns(r))
}
