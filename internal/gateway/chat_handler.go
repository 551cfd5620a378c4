package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/basket/chatgate/internal/chat"
	"github.com/basket/chatgate/internal/session"
	"github.com/basket/chatgate/internal/shared"
)

type chatRequest struct {
	SessionID string  `json:"session_id"`
	Prompt    string  `json:"prompt"`
	Title     *string `json:"title,omitempty"`
	MaxTokens *int    `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
	Model     string `json:"model"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type historyItem struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type historyResponse struct {
	SessionID   string        `json:"session_id"`
	ChatHistory []historyItem `json:"chat_history"`
}

type sessionsResponse struct {
	Sessions []session.Summary `json:"sessions"`
}

const sessionNotFoundMessage = "Session not found."

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "read request body")
		return
	}
	var req chatRequest
	if err := s.schema.decode(raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	status, payload := s.runTurn(r.Context(), req)
	writeJSON(w, status, payload)
}

// runTurn executes one turn and returns the status and body to send. It is
// shared by the HTTP and WebSocket transports.
func (s *Server) runTurn(ctx context.Context, req chatRequest) (int, any) {
	turn := chat.TurnRequest{SessionID: req.SessionID, Prompt: req.Prompt}
	if req.Title != nil {
		turn.Title = *req.Title
	}
	if req.MaxTokens != nil {
		turn.MaxTokens = *req.MaxTokens
	}

	res, err := s.cfg.Chat.HandleTurn(ctx, turn)
	if err != nil {
		return s.turnFailure(ctx, err)
	}
	if res.BudgetExceeded {
		return s.cfg.BudgetErrorStatus, errorResponse{Error: res.Error}
	}
	return http.StatusOK, chatResponse{
		Response:  res.Reply,
		SessionID: res.SessionID,
		Model:     res.Model,
	}
}

func (s *Server) turnFailure(ctx context.Context, err error) (int, any) {
	logger := shared.Logger(ctx, s.logger)
	if errors.Is(err, chat.ErrEmptyPrompt) {
		return http.StatusBadRequest, errorResponse{Error: err.Error()}
	}
	var cerr *chat.CompletionError
	if errors.As(err, &cerr) {
		logger.Error("chat turn failed", "error_class", cerr.Class, "error", err)
		return cerr.Class.HTTPStatus(), errorResponse{Error: "upstream model error: " + string(cerr.Class)}
	}
	logger.Error("chat turn failed", "error", err)
	return http.StatusInternalServerError, errorResponse{Error: "internal error"}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")
	turns, err := s.cfg.Chat.History(r.Context(), id)
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, sessionNotFoundMessage)
		return
	}
	if err != nil {
		shared.Logger(r.Context(), s.logger).Error("load history", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	items := make([]historyItem, 0, len(turns))
	for _, t := range turns {
		items = append(items, historyItem{Type: messageType(t.Role), Content: t.Content})
	}
	writeJSON(w, http.StatusOK, historyResponse{SessionID: id, ChatHistory: items})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	list, err := s.cfg.Chat.Sessions(r.Context())
	if err != nil {
		shared.Logger(r.Context(), s.logger).Error("list sessions", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if list == nil {
		list = []session.Summary{}
	}
	writeJSON(w, http.StatusOK, sessionsResponse{Sessions: list})
}

// messageType maps a stored role to the wire message type.
func messageType(role session.Role) string {
	switch role {
	case session.RoleUser:
		return "human"
	case session.RoleAssistant:
		return "ai"
	default:
		return string(role)
	}
}
