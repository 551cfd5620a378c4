package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/basket/chatgate/internal/shared"
)

// wsReply wraps every frame sent back on /ws. Status carries the HTTP
// status the same turn would have produced on POST /chat/.
type wsReply struct {
	Status int `json:"status"`
	Body   any `json:"body"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowOrigins,
	})
	if err != nil {
		return
	}
	ctx := r.Context()
	logger := shared.Logger(ctx, s.logger)
	logger.Info("ws: client connected")
	defer func() {
		logger.Info("ws: client disconnecting")
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
				logger.Error("ws: read error, closing", "error", err)
			}
			return
		}
		reply := s.wsTurn(ctx, raw)
		if err := wsjson.Write(ctx, conn, reply); err != nil {
			logger.Error("ws: write error", "error", err)
			return
		}
	}
}

func (s *Server) wsTurn(ctx context.Context, raw []byte) wsReply {
	var req chatRequest
	if err := s.schema.decode(raw, &req); err != nil {
		return wsReply{Status: http.StatusBadRequest, Body: errorResponse{Error: err.Error()}}
	}
	status, body := s.runTurn(shared.WithTraceID(ctx, shared.NewTraceID()), req)
	return wsReply{Status: status, Body: body}
}
