package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pahuang-96485/clinic-scheduler/internal/chat"
	"github.com/pahuang-96485/clinic-scheduler/internal/http/middleware"
	"github.com/pahuang-96485/clinic-scheduler/pkg/logging"
)

type fakeChatService struct {
	turnReq  chat.TurnRequest
	turnResp *chat.TurnResponse
	turnErr  error
	ended    []uuid.UUID
	endErr   error
}

func (f *fakeChatService) HandleTurn(_ context.Context, req chat.TurnRequest) (*chat.TurnResponse, error) {
	f.turnReq = req
	if f.turnErr != nil {
		return nil, f.turnErr
	}
	if f.turnResp == nil {
		return &chat.TurnResponse{}, nil
	}
	return f.turnResp, nil
}

func (f *fakeChatService) EndSession(_ context.Context, sessionID uuid.UUID) error {
	f.ended = append(f.ended, sessionID)
	return f.endErr
}

func authedRequest(t *testing.T, method, path string, body any, user middleware.AuthUser) *http.Request {
	t.Helper()
	buf := &bytes.Buffer{}
	require.NoError(t, json.NewEncoder(buf).Encode(body))
	req := httptest.NewRequest(method, path, buf)
	return req.WithContext(middleware.WithUser(req.Context(), user))
}

func chatBody(message, sessionID string) map[string]any {
	return map[string]any{
		"message": message,
		"context": map[string]any{"session_id": sessionID},
	}
}

func TestHandleTextForwardsTurn(t *testing.T) {
	svc := &fakeChatService{turnResp: &chat.TurnResponse{Reply: "All set!"}}
	h := NewChatHandler(svc, logging.Default())
	user := middleware.AuthUser{ID: uuid.New(), Role: "patient"}
	sessionID := uuid.New()

	rec := httptest.NewRecorder()
	h.HandleText(rec, authedRequest(t, http.MethodPost, "/chat/text", chatBody("book me in", sessionID.String()), user))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, user.ID, svc.turnReq.UserID)
	assert.Equal(t, sessionID, svc.turnReq.SessionID)
	assert.Equal(t, "book me in", svc.turnReq.Message)
	assert.Equal(t, "text", svc.turnReq.InputMode)

	var resp chat.TurnResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "All set!", resp.Reply)
}

func TestHandleVoiceRecordsInputMode(t *testing.T) {
	svc := &fakeChatService{}
	h := NewChatHandler(svc, logging.Default())
	user := middleware.AuthUser{ID: uuid.New(), Role: "patient"}

	rec := httptest.NewRecorder()
	h.HandleVoice(rec, authedRequest(t, http.MethodPost, "/chat/voice", chatBody("cancel my appointment", uuid.NewString()), user))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "voice", svc.turnReq.InputMode)
}

func TestHandleTextRejectsUnauthenticated(t *testing.T) {
	svc := &fakeChatService{}
	h := NewChatHandler(svc, logging.Default())

	buf := &bytes.Buffer{}
	require.NoError(t, json.NewEncoder(buf).Encode(chatBody("hi", uuid.NewString())))
	rec := httptest.NewRecorder()
	h.HandleText(rec, httptest.NewRequest(http.MethodPost, "/chat/text", buf))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, svc.turnReq.Message)
}

func TestHandleTextValidatesBody(t *testing.T) {
	svc := &fakeChatService{}
	h := NewChatHandler(svc, logging.Default())
	user := middleware.AuthUser{ID: uuid.New(), Role: "patient"}

	cases := []struct {
		name string
		body map[string]any
	}{
		{"empty message", chatBody("  ", uuid.NewString())},
		{"missing session", chatBody("hi", "")},
		{"malformed session", chatBody("hi", "not-a-uuid")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.HandleText(rec, authedRequest(t, http.MethodPost, "/chat/text", tc.body, user))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandleTextSurfacesServiceFailure(t *testing.T) {
	svc := &fakeChatService{turnErr: errors.New("db down")}
	h := NewChatHandler(svc, logging.Default())
	user := middleware.AuthUser{ID: uuid.New(), Role: "patient"}

	rec := httptest.NewRecorder()
	h.HandleText(rec, authedRequest(t, http.MethodPost, "/chat/text", chatBody("hi", uuid.NewString()), user))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "db down")
}

func TestLogoutEndsSession(t *testing.T) {
	svc := &fakeChatService{}
	h := NewChatHandler(svc, logging.Default())
	user := middleware.AuthUser{ID: uuid.New(), Role: "patient"}
	sessionID := uuid.New()

	rec := httptest.NewRecorder()
	h.Logout(rec, authedRequest(t, http.MethodPost, "/logout", map[string]any{"session_id": sessionID.String()}, user))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, svc.ended, 1)
	assert.Equal(t, sessionID, svc.ended[0])
}

func TestLogoutRequiresValidSession(t *testing.T) {
	svc := &fakeChatService{}
	h := NewChatHandler(svc, logging.Default())
	user := middleware.AuthUser{ID: uuid.New(), Role: "patient"}

	rec := httptest.NewRecorder()
	h.Logout(rec, authedRequest(t, http.MethodPost, "/logout", map[string]any{"session_id": "nope"}, user))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, svc.ended)
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestHealthCheckAllOK(t *testing.T) {
	h := NewHealthHandler(fakePinger{}, fakePinger{}, logging.Default())
	rec := httptest.NewRecorder()
	h.Check(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ok", resp.Dependencies["database"])
	assert.Equal(t, "ok", resp.Dependencies["cache"])
}

func TestHealthCheckDegradedOnDatabaseFailure(t *testing.T) {
	h := NewHealthHandler(fakePinger{err: fmt.Errorf("connection refused")}, fakePinger{}, logging.Default())
	rec := httptest.NewRecorder()
	h.Check(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "unreachable", resp.Dependencies["database"])
}

func TestHealthCheckSkipsMissingDependencies(t *testing.T) {
	h := NewHealthHandler(nil, nil, logging.Default())
	rec := httptest.NewRecorder()
	h.Check(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "skipped")
}
