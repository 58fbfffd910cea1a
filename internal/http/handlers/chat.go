package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/pahuang-96485/clinic-scheduler/internal/chat"
	"github.com/pahuang-96485/clinic-scheduler/internal/http/middleware"
	"github.com/pahuang-96485/clinic-scheduler/pkg/logging"
)

// ChatService is the turn pipeline the HTTP layer drives.
type ChatService interface {
	HandleTurn(ctx context.Context, req chat.TurnRequest) (*chat.TurnResponse, error)
	EndSession(ctx context.Context, sessionID uuid.UUID) error
}

// ChatHandler serves the conversational scheduling endpoints.
type ChatHandler struct {
	svc    ChatService
	logger *logging.Logger
}

// ChatRequest is the body of POST /chat/text and POST /chat/voice.
type ChatRequest struct {
	Message string `json:"message"`
	Context struct {
		SessionID string `json:"session_id"`
	} `json:"context"`
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(svc ChatService, logger *logging.Logger) *ChatHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ChatHandler{svc: svc, logger: logger}
}

// HandleText processes one typed conversation turn.
// POST /chat/text
func (h *ChatHandler) HandleText(w http.ResponseWriter, r *http.Request) {
	h.handleTurn(w, r, "text")
}

// HandleVoice processes one transcribed voice turn.
// POST /chat/voice
func (h *ChatHandler) HandleVoice(w http.ResponseWriter, r *http.Request) {
	h.handleTurn(w, r, "voice")
}

func (h *ChatHandler) handleTurn(w http.ResponseWriter, r *http.Request, inputMode string) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		jsonError(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		jsonError(w, "message is required", http.StatusBadRequest)
		return
	}
	sessionID, err := uuid.Parse(strings.TrimSpace(req.Context.SessionID))
	if err != nil {
		jsonError(w, "context.session_id must be a valid UUID", http.StatusBadRequest)
		return
	}

	resp, err := h.svc.HandleTurn(r.Context(), chat.TurnRequest{
		UserID:    user.ID,
		SessionID: sessionID,
		Message:   req.Message,
		InputMode: inputMode,
	})
	if err != nil {
		h.logger.Error("turn failed", "session_id", sessionID, "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Logout ends the caller's session and forgets its conversation.
// POST /logout
func (h *ChatHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.UserFromContext(r.Context()); !ok {
		jsonError(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	sessionID, err := uuid.Parse(strings.TrimSpace(req.SessionID))
	if err != nil {
		jsonError(w, "session_id must be a valid UUID", http.StatusBadRequest)
		return
	}

	if err := h.svc.EndSession(r.Context(), sessionID); err != nil {
		h.logger.Error("logout failed", "session_id", sessionID, "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}
