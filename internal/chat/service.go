// Package chat runs one conversational turn end to end: recall history,
// extract an intent, dispatch it, summarize the outcome and log the turn.
package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/pahuang-96485/clinic-scheduler/internal/actions"
	"github.com/pahuang-96485/clinic-scheduler/internal/intent"
	"github.com/pahuang-96485/clinic-scheduler/internal/observability/metrics"
	"github.com/pahuang-96485/clinic-scheduler/internal/session"
	"github.com/pahuang-96485/clinic-scheduler/internal/store"
	"github.com/pahuang-96485/clinic-scheduler/internal/summarize"
	"github.com/pahuang-96485/clinic-scheduler/pkg/logging"
)

const defaultHistoryTurns = 6

// fallbackReply is what the user sees when both the summarizer and the
// handler reply come up empty.
const fallbackReply = "Sorry, I couldn't process that. Could you rephrase your request?"

// TurnStore is the durable turn log the service reads and appends.
type TurnStore interface {
	Append(ctx context.Context, rec session.TurnRecord) error
	Task(ctx context.Context, sessionID uuid.UUID) (string, error)
	History(ctx context.Context, sessionID uuid.UUID, limit int) ([]session.ChatTurn, error)
	Delete(ctx context.Context, sessionID uuid.UUID) error
}

// HistoryCache is the fast rolling window in front of the turn log.
type HistoryCache interface {
	Save(ctx context.Context, sessionID uuid.UUID, turns []session.ChatTurn) error
	Load(ctx context.Context, sessionID uuid.UUID) ([]session.ChatTurn, bool, error)
	Delete(ctx context.Context, sessionID uuid.UUID) error
}

// Dispatcher routes one extracted intent to its handler.
type Dispatcher interface {
	Dispatch(ctx context.Context, user actions.User, sess actions.SessionContext, action string, args map[string]any) actions.Outcome
}

// UserDirectory resolves the authenticated subject to a full profile.
type UserDirectory interface {
	UserByID(ctx context.Context, userID uuid.UUID) (store.UserInfo, error)
}

// TurnRequest is one inbound message.
type TurnRequest struct {
	UserID    uuid.UUID
	SessionID uuid.UUID
	Message   string
	InputMode string
}

// SlotView is a candidate slot shaped for the API response.
type SlotView struct {
	Index     int    `json:"index"`
	StartTime string `json:"start_time"`
}

// TurnResponse is what goes back to the client.
type TurnResponse struct {
	Reply          string     `json:"reply"`
	AvailableSlots []SlotView `json:"available_slots"`
}

// Service wires the whole turn pipeline together.
type Service struct {
	turns        TurnStore
	cache        HistoryCache
	dispatcher   Dispatcher
	extractor    intent.Extractor
	summarizer   summarize.Summarizer
	users        UserDirectory
	metrics      *metrics.ConversationMetrics
	logger       *logging.Logger
	tracer       trace.Tracer
	historyTurns int
	now          func() time.Time
}

// Config collects the service dependencies. Metrics may be nil.
type Config struct {
	Turns        TurnStore
	Cache        HistoryCache
	Dispatcher   Dispatcher
	Extractor    intent.Extractor
	Summarizer   summarize.Summarizer
	Users        UserDirectory
	Metrics      *metrics.ConversationMetrics
	Logger       *logging.Logger
	HistoryTurns int
}

// New builds a Service.
func New(cfg Config) *Service {
	if cfg.Turns == nil || cfg.Cache == nil || cfg.Dispatcher == nil ||
		cfg.Extractor == nil || cfg.Summarizer == nil || cfg.Users == nil {
		panic("chat: all pipeline dependencies are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	historyTurns := cfg.HistoryTurns
	if historyTurns <= 0 {
		historyTurns = defaultHistoryTurns
	}
	return &Service{
		turns:        cfg.Turns,
		cache:        cfg.Cache,
		dispatcher:   cfg.Dispatcher,
		extractor:    cfg.Extractor,
		summarizer:   cfg.Summarizer,
		users:        cfg.Users,
		metrics:      cfg.Metrics,
		logger:       logger,
		tracer:       otel.Tracer("chat"),
		historyTurns: historyTurns,
		now:          time.Now,
	}
}

// HandleTurn runs one message through the pipeline and returns the reply.
func (s *Service) HandleTurn(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	ctx, span := s.tracer.Start(ctx, "chat.turn",
		trace.WithAttributes(attribute.String("session_id", req.SessionID.String())))
	defer span.End()
	start := s.now()

	info, err := s.users.UserByID(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("chat: resolve user: %w", err)
	}
	user := actions.User{ID: info.ID, Role: info.Role, Timezone: info.Timezone}
	sess := actions.SessionContext{SessionID: req.SessionID, InputMode: req.InputMode}

	history := s.loadHistory(ctx, req.SessionID)

	currentTask, err := s.turns.Task(ctx, req.SessionID)
	if err != nil {
		s.logger.Error("failed to read session task", "session_id", req.SessionID, "error", err)
		currentTask = ""
	}

	action := "unknown"
	var outcome actions.Outcome
	extracted, err := s.extractor.Extract(ctx, intent.Request{
		Message:     req.Message,
		History:     history,
		Today:       s.now().In(user.Location()).Format("2006-01-02"),
		Timezone:    user.Timezone,
		Role:        user.Role,
		CurrentTask: currentTask,
	})
	if err != nil {
		s.logger.Error("intent extraction failed", "session_id", req.SessionID, "error", err)
		outcome = actions.Outcome{
			Kind:  actions.KindInternal,
			Reply: fallbackReply,
		}
	} else {
		action = extracted.Action
		outcome = s.dispatcher.Dispatch(ctx, user, sess, extracted.Action, extracted.Arguments)
	}

	s.metrics.ObserveTurn(action, string(outcome.Kind))
	if outcome.Kind == actions.KindConflict {
		s.metrics.ObserveBookingConflict()
	}
	if len(outcome.Slots) > 0 {
		s.metrics.ObserveSearchMode(string(outcome.SearchMode))
	}

	reply := s.render(ctx, req.Message, user.Role, history, outcome)

	s.logTurn(ctx, req, user, reply, outcome)
	s.refreshCache(ctx, req.SessionID, history, user.Role, req.Message, reply)

	s.metrics.ObserveTurnLatency(req.InputMode, s.now().Sub(start).Seconds())

	resp := &TurnResponse{Reply: reply, AvailableSlots: []SlotView{}}
	loc := user.Location()
	for _, c := range outcome.Slots {
		resp.AvailableSlots = append(resp.AvailableSlots, SlotView{
			Index:     c.Index,
			StartTime: c.Segment.StartTime.In(loc).Format("2006-01-02 15:04"),
		})
	}
	return resp, nil
}

// EndSession wipes everything the session accumulated: turn records, task
// pointer, slot mappings and the cached history window.
func (s *Service) EndSession(ctx context.Context, sessionID uuid.UUID) error {
	if err := s.turns.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("chat: end session: %w", err)
	}
	if err := s.cache.Delete(ctx, sessionID); err != nil {
		s.logger.Error("failed to drop cached history", "session_id", sessionID, "error", err)
	}
	return nil
}

// loadHistory prefers the cache and falls back to the turn log.
func (s *Service) loadHistory(ctx context.Context, sessionID uuid.UUID) []session.ChatTurn {
	cached, ok, err := s.cache.Load(ctx, sessionID)
	if err != nil {
		s.logger.Error("history cache read failed", "session_id", sessionID, "error", err)
	}
	if ok {
		return cached
	}
	history, err := s.turns.History(ctx, sessionID, s.historyTurns)
	if err != nil {
		s.logger.Error("turn log history read failed", "session_id", sessionID, "error", err)
		return nil
	}
	return history
}

// render asks the summarizer for the final text, falling back to the
// handler's own reply when the model is unavailable.
func (s *Service) render(ctx context.Context, message, role string, history []session.ChatTurn, outcome actions.Outcome) string {
	reply, err := s.summarizer.Summarize(ctx, summarize.Request{
		Message: message,
		Outcome: outcome,
		History: history,
		Role:    role,
	})
	if err != nil {
		s.logger.Error("summarization failed, using handler reply", "error", err)
		reply = outcome.Reply
	}
	if reply == "" {
		reply = outcome.Reply
	}
	if reply == "" {
		reply = fallbackReply
	}
	return reply
}

// logTurn appends the durable turn record, carrying the current task pointer
// forward onto the newest row and embedding any published slot mapping.
func (s *Service) logTurn(ctx context.Context, req TurnRequest, user actions.User, reply string, outcome actions.Outcome) {
	taskNow, err := s.turns.Task(ctx, req.SessionID)
	if err != nil {
		s.logger.Error("failed to re-read session task", "session_id", req.SessionID, "error", err)
	}

	rec := session.TurnRecord{
		SessionID: req.SessionID,
		Role:      user.Role,
		Input:     req.Message,
		Response:  reply,
		InputMode: req.InputMode,
		TaskID:    taskNow,
	}
	userID := user.ID
	if user.IsDoctor() {
		rec.DoctorID = &userID
	} else {
		rec.PatientID = &userID
	}
	if len(outcome.Slots) > 0 {
		slots := make([]any, 0, len(outcome.Slots))
		for _, c := range outcome.Slots {
			slots = append(slots, map[string]any{"index": c.Index, "segment_id": c.Segment.ID.String()})
		}
		rec.Meta = map[string]any{"available_slots": slots}
	}

	if err := s.turns.Append(ctx, rec); err != nil {
		s.logger.Error("failed to append turn record", "session_id", req.SessionID, "error", err)
	}
}

// refreshCache pushes the newest exchange into the rolling window.
func (s *Service) refreshCache(ctx context.Context, sessionID uuid.UUID, history []session.ChatTurn, role, input, reply string) {
	window := append(history, session.ChatTurn{Role: role, Input: input, Response: reply})
	if len(window) > s.historyTurns {
		window = window[len(window)-s.historyTurns:]
	}
	if err := s.cache.Save(ctx, sessionID, window); err != nil {
		s.logger.Error("history cache write failed", "session_id", sessionID, "error", err)
	}
}
