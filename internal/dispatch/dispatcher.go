// Package dispatch routes extracted intents to action handlers. It owns
// action-name normalization, task bookkeeping and the defensive decoding of
// untrusted intent arguments.
package dispatch

import (
	"context"
	"encoding/json"
	"math/rand"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/pahuang-96485/clinic-scheduler/internal/actions"
	"github.com/pahuang-96485/clinic-scheduler/pkg/logging"
)

// Canonical action names accepted from the intent extractor.
const (
	ActionBookAppointment   = "book_appointment"
	ActionCancelAppointment = "cancel_appointment"
	ActionShowAppointments  = "show_appointments"
	ActionShowMySchedule    = "show_my_schedule"
	ActionReactivateSegment = "reactivate_time_segment"
	ActionReschedule        = "reschedule_appointment"
	ActionCreateEvent       = "create_event"
	ActionCancelEvent       = "cancel_event"
	ActionGeneralChat       = "general_chat"
)

// actionAliases maps the extractor's single-letter shorthand to full names.
var actionAliases = map[string]string{
	"a": ActionBookAppointment,
	"b": ActionCancelAppointment,
	"c": ActionShowAppointments,
	"d": ActionShowMySchedule,
	"e": ActionReactivateSegment,
	"f": ActionReschedule,
	"g": ActionCreateEvent,
	"h": ActionCancelEvent,
}

// actionTasks names the task each action leaves in progress while its
// handler runs. general_chat deliberately has none.
var actionTasks = map[string]actions.Task{
	ActionBookAppointment:   actions.TaskBookAppt,
	ActionCancelAppointment: actions.TaskCancelAppt,
	ActionShowAppointments:  actions.TaskShowAppt,
	ActionShowMySchedule:    actions.TaskShowSchedule,
	ActionReactivateSegment: actions.TaskReactivateSegment,
	ActionReschedule:        actions.TaskRescheduleAppt,
	ActionCreateEvent:       actions.TaskCreateEvent,
	ActionCancelEvent:       actions.TaskCancelEvent,
}

var idleReplies = []string{
	"Let me know if you need help with anything else.",
	"Got it. I'm here if you need me.",
}

// Handlers is the slice of the action layer the dispatcher drives.
type Handlers interface {
	Book(ctx context.Context, user actions.User, sess actions.SessionContext, args actions.BookArgs) actions.Outcome
	Cancel(ctx context.Context, user actions.User, sess actions.SessionContext, args actions.CancelArgs) actions.Outcome
	Reschedule(ctx context.Context, user actions.User, sess actions.SessionContext, args actions.RescheduleArgs) actions.Outcome
	ShowAppointments(ctx context.Context, user actions.User, sess actions.SessionContext, args actions.ShowAppointmentsArgs) actions.Outcome
	ShowSchedule(ctx context.Context, user actions.User, sess actions.SessionContext, args actions.ShowScheduleArgs) actions.Outcome
	Reactivate(ctx context.Context, user actions.User, sess actions.SessionContext, args actions.ReactivateArgs) actions.Outcome
	CreateEvent(ctx context.Context, user actions.User, sess actions.SessionContext, args actions.CreateEventArgs) actions.Outcome
	CancelEvent(ctx context.Context, user actions.User, sess actions.SessionContext, args actions.CancelEventArgs) actions.Outcome
}

// TaskTracker is the task pointer store the dispatcher annotates.
type TaskTracker interface {
	SetTask(ctx context.Context, sessionID uuid.UUID, task string) error
}

// Dispatcher maps one extracted intent per turn onto a handler call.
type Dispatcher struct {
	handlers Handlers
	tasks    TaskTracker
	logger   *logging.Logger
	pick     func(n int) int
}

// New builds a Dispatcher.
func New(handlers Handlers, tasks TaskTracker, logger *logging.Logger) *Dispatcher {
	if handlers == nil || tasks == nil {
		panic("dispatch: handlers and task tracker required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{handlers: handlers, tasks: tasks, logger: logger, pick: rand.Intn}
}

// Dispatch normalizes the action, records the in-progress task, runs the
// matching handler and follows at most one chained hand-off. Unknown actions
// come back as unsupported without touching task state.
func (d *Dispatcher) Dispatch(ctx context.Context, user actions.User, sess actions.SessionContext, action string, rawArgs map[string]any) actions.Outcome {
	name := strings.ToLower(strings.TrimSpace(action))
	if full, ok := actionAliases[name]; ok {
		name = full
	}

	if name == ActionGeneralChat {
		return d.generalChat(rawArgs)
	}

	task, known := actionTasks[name]
	if !known {
		d.logger.Warn("unsupported action from intent extractor", "action", action)
		return actions.Outcome{
			Kind:  actions.KindUnsupportedAction,
			Reply: "Sorry, I couldn't understand your request. Can you rephrase?",
		}
	}

	// Record the task before the handler runs so a crash mid-handler still
	// leaves an accurate pointer for the next turn.
	if sess.SessionID != uuid.Nil {
		if err := d.tasks.SetTask(ctx, sess.SessionID, string(task)); err != nil {
			d.logger.Error("failed to record task", "session_id", sess.SessionID, "task", task, "error", err)
		}
	}

	out := d.invoke(ctx, user, sess, name, rawArgs)

	if out.ChainTo == actions.TaskBookAppt && out.ChainArgs != nil {
		chained := d.handlers.Book(ctx, user, sess, *out.ChainArgs)
		if out.Reply != "" && chained.Reply != "" {
			chained.Reply = out.Reply + "\n" + chained.Reply
		}
		return chained
	}
	return out
}

func (d *Dispatcher) invoke(ctx context.Context, user actions.User, sess actions.SessionContext, name string, rawArgs map[string]any) actions.Outcome {
	switch name {
	case ActionBookAppointment:
		var args actions.BookArgs
		if !d.decode(rawArgs, &args) {
			return insufficientInput()
		}
		return d.handlers.Book(ctx, user, sess, args)
	case ActionCancelAppointment:
		var args actions.CancelArgs
		if !d.decode(rawArgs, &args) {
			return insufficientInput()
		}
		return d.handlers.Cancel(ctx, user, sess, args)
	case ActionReschedule:
		var args actions.RescheduleArgs
		if !d.decode(rawArgs, &args) {
			return insufficientInput()
		}
		return d.handlers.Reschedule(ctx, user, sess, args)
	case ActionShowAppointments:
		var args actions.ShowAppointmentsArgs
		if !d.decode(rawArgs, &args) {
			return insufficientInput()
		}
		return d.handlers.ShowAppointments(ctx, user, sess, args)
	case ActionShowMySchedule:
		var args actions.ShowScheduleArgs
		if !d.decode(rawArgs, &args) {
			return insufficientInput()
		}
		return d.handlers.ShowSchedule(ctx, user, sess, args)
	case ActionReactivateSegment:
		var args actions.ReactivateArgs
		if !d.decode(rawArgs, &args) {
			return insufficientInput()
		}
		return d.handlers.Reactivate(ctx, user, sess, args)
	case ActionCreateEvent:
		var args actions.CreateEventArgs
		if !d.decode(rawArgs, &args) {
			return insufficientInput()
		}
		return d.handlers.CreateEvent(ctx, user, sess, args)
	case ActionCancelEvent:
		var args actions.CancelEventArgs
		if !d.decode(rawArgs, &args) {
			return insufficientInput()
		}
		return d.handlers.CancelEvent(ctx, user, sess, args)
	}
	// invoke is only called with names present in actionTasks.
	return insufficientInput()
}

// decode round-trips the untrusted argument map through JSON into the typed
// shape, coercing numeric strings first. A failure is reported, never
// propagated as an error.
func (d *Dispatcher) decode(rawArgs map[string]any, dst any) bool {
	coerceNumbers(rawArgs)
	data, err := json.Marshal(rawArgs)
	if err != nil {
		d.logger.Warn("intent arguments not serializable", "error", err)
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		d.logger.Warn("intent arguments do not fit the action shape", "error", err)
		return false
	}
	return true
}

// coerceNumbers turns numeric strings in known count fields into numbers so
// extractors that quote everything still work. Unusable values are dropped.
func coerceNumbers(args map[string]any) {
	for _, key := range []string{"slot_index", "days_ahead"} {
		v, ok := args[key].(string)
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			args[key] = n
		} else {
			delete(args, key)
		}
	}
}

func (d *Dispatcher) generalChat(rawArgs map[string]any) actions.Outcome {
	chatType, _ := rawArgs["type"].(string)
	switch chatType {
	case "intro":
		return actions.Outcome{
			Kind:  actions.KindOK,
			Reply: "Hi! I'm your scheduling assistant. I can help you book, cancel, or view appointments.",
		}
	case "help":
		return actions.Outcome{
			Kind:  actions.KindOK,
			Reply: "You can say things like 'Book me an appointment tomorrow morning' or 'Cancel my next appointment'.",
		}
	}
	return actions.Outcome{Kind: actions.KindOK, Reply: idleReplies[d.pick(len(idleReplies))]}
}

func insufficientInput() actions.Outcome {
	return actions.Outcome{
		Kind:  actions.KindInvalidInput,
		Reply: "I couldn't make sense of those details. Could you rephrase your request?",
	}
}
