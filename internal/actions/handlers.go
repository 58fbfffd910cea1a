package actions

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pahuang-96485/clinic-scheduler/pkg/logging"
)

// displayTime is how segment and appointment times are rendered to users.
const displayTime = "2006-01-02 15:04"

// Handlers owns the dependencies shared by every action handler.
type Handlers struct {
	store    ResourceStore
	registry SlotRegistry
	tasks    TaskTracker
	searcher Searcher
	logger   *logging.Logger
	now      func() time.Time

	// slotLimit caps candidate lists; zero means the search engine default.
	slotLimit int
}

// New wires a handler set. All dependencies are required.
func New(store ResourceStore, registry SlotRegistry, tasks TaskTracker, searcher Searcher, logger *logging.Logger) *Handlers {
	if store == nil || registry == nil || tasks == nil || searcher == nil {
		panic("actions: all dependencies are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handlers{
		store:    store,
		registry: registry,
		tasks:    tasks,
		searcher: searcher,
		logger:   logger,
		now:      time.Now,
	}
}

// SetSlotLimit overrides how many candidate slots a search may present.
func (h *Handlers) SetSlotLimit(n int) {
	if n > 0 {
		h.slotLimit = n
	}
}

// clearTask drops the session's task pointer after a terminal success. A
// tracker failure here is logged, not surfaced: the user's operation already
// completed.
func (h *Handlers) clearTask(ctx context.Context, sessionID uuid.UUID) {
	if sessionID == uuid.Nil {
		return
	}
	if err := h.tasks.SetTask(ctx, sessionID, ""); err != nil {
		h.logger.Error("failed to clear session task", "session_id", sessionID, "error", err)
	}
}

// internalOutcome logs the real error and returns the generic apology.
func (h *Handlers) internalOutcome(op string, err error) Outcome {
	h.logger.Error("handler failure", "op", op, "error", err)
	return Outcome{
		Kind:  KindInternal,
		Reply: "Sorry, something went wrong on my end. Please try again in a moment.",
	}
}

// doctorOnly is the guard outcome for patient calls into doctor handlers.
func doctorOnly(what string) Outcome {
	return Outcome{Kind: KindInvalidInput, Reply: "Only doctors can " + what + "."}
}
