package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/jkaninda/grcpilot/internal/approval"
	"github.com/jkaninda/grcpilot/internal/identity"
)

// handleConverseWS serves GET /v1/converse/ws. The client sends one
// ConverseRequest per turn and receives the same events as the SSE endpoint.
// Closing the connection cancels the running turn.
func (g *Gateway) handleConverseWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r.Header.Get("Authorization"))
	}
	id, err := g.auth.Authenticate(r.Context(), token)
	if err != nil {
		status, body := errorResponse(&approval.Error{Kind: approval.KindUnauthenticated, Message: "authentication required", Err: err}, "")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		g.logger.Error("websocket accept failed", slog.String("error", err.Error()))
		return
	}
	conn.SetReadLimit(g.config.MaxRequestSize)
	g.serveConn(r.Context(), conn, id)
}

func (g *Gateway) serveConn(ctx context.Context, conn *websocket.Conn, id identity.Identity) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer conn.Close(websocket.StatusNormalClosure, "connection closed")

	// The read loop owns the connection's lifetime: a read failure means the
	// client is gone and cancels any running turn.
	requests := make(chan ConverseRequest)
	go func() {
		defer cancel()
		defer close(requests)
		for {
			var req ConverseRequest
			if err := wsjson.Read(ctx, conn, &req); err != nil {
				if websocket.CloseStatus(err) != websocket.StatusNormalClosure && ctx.Err() == nil {
					g.logger.Debug("websocket read ended",
						slog.String("user_id", id.UserID),
						slog.String("error", err.Error()),
					)
				}
				return
			}
			select {
			case requests <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	send := func(v any) error {
		return wsjson.Write(ctx, conn, v)
	}
	for req := range requests {
		if err := req.validate(); err != nil {
			_, body := errorResponse(err, "")
			if send(Event{Type: EventError, Message: body.Error.Message}) != nil {
				return
			}
			continue
		}
		if _, err := g.limiter.Allow(id.UserID); err != nil {
			_ = send(Event{Type: EventError, Message: "rate limit exceeded"})
			continue
		}
		if err := g.runTurn(ctx, id, &req, send); err != nil && errors.Is(err, context.Canceled) {
			return
		}
	}
}
