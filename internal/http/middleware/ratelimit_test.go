package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiterExhaustsBurst(t *testing.T) {
	rl := NewRateLimiter(0.001, 2)

	assert.True(t, rl.Allow("caller"))
	assert.True(t, rl.Allow("caller"))
	assert.False(t, rl.Allow("caller"))
	// Other callers have their own bucket.
	assert.True(t, rl.Allow("someone-else"))
}

func TestRateLimitMiddlewareKeysByUser(t *testing.T) {
	handler := RateLimit(0.001, 1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	userA := AuthUser{ID: uuid.New(), Role: "patient"}
	userB := AuthUser{ID: uuid.New(), Role: "patient"}

	send := func(user AuthUser) int {
		req := httptest.NewRequest(http.MethodPost, "/chat/text", nil)
		req = req.WithContext(WithUser(req.Context(), user))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send(userA))
	assert.Equal(t, http.StatusTooManyRequests, send(userA))
	// A different user shares the IP but not the bucket.
	assert.Equal(t, http.StatusOK, send(userB))
}
