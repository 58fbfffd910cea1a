package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/pahuang-96485/clinic-scheduler/pkg/logging"
)

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports service and dependency health.
type HealthHandler struct {
	db     Pinger
	cache  Pinger
	logger *logging.Logger
}

// NewHealthHandler creates a new health handler. Either dependency may be
// nil, in which case it is reported as "skipped".
func NewHealthHandler(db, cache Pinger, logger *logging.Logger) *HealthHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &HealthHandler{db: db, cache: cache, logger: logger}
}

// Check returns overall health and per-dependency status.
// GET /health
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := map[string]string{}
	for name, p := range map[string]Pinger{"database": h.db, "cache": h.cache} {
		if p == nil {
			deps[name] = "skipped"
			continue
		}
		if err := p.Ping(ctx); err != nil {
			h.logger.Error("health check failed", "dependency", name, "error", err)
			deps[name] = "unreachable"
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{"status": overall, "dependencies": deps})
}
