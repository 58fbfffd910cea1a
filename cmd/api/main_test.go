package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	appconfig "github.com/pahuang-96485/clinic-scheduler/internal/config"
	"github.com/pahuang-96485/clinic-scheduler/pkg/logging"
)

func TestSetupConversationMetricsExposesMetrics(t *testing.T) {
	handler, conv := setupConversationMetrics()
	if handler == nil || conv == nil {
		t.Fatalf("expected non-nil handler and metrics")
	}

	conv.ObserveTurn("book_appointment", "ok")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "scheduler_conversation_turns_total") {
		t.Fatalf("expected turn counter to be exported")
	}
}

func TestConnectPostgresPoolEmptyURLReturnsNil(t *testing.T) {
	logger := logging.New("error")
	if pool := connectPostgresPool(context.Background(), "", logger); pool != nil {
		t.Fatalf("expected nil pool for empty URL")
	}
}

func TestConnectRedisTLS(t *testing.T) {
	client := connectRedis(&appconfig.Config{RedisAddr: "localhost:6379", RedisTLS: true})
	defer func() { _ = client.Close() }()
	if client.Options().TLSConfig == nil {
		t.Fatalf("expected TLS config when REDIS_TLS is set")
	}
}
