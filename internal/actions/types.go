// Package actions implements one handler per scheduling task. Handlers
// compose the store, the slot registry and the search engine into a single
// structured outcome the summarizer can render.
package actions

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pahuang-96485/clinic-scheduler/internal/search"
	"github.com/pahuang-96485/clinic-scheduler/internal/store"
)

// Task identifies the multi-turn operation a session is in the middle of.
type Task string

const (
	TaskBookAppt          Task = "BOOK_APPT"
	TaskCancelAppt        Task = "CANCEL_APPT"
	TaskShowAppt          Task = "SHOW_APPT"
	TaskShowSchedule      Task = "SHOW_SCHEDULE"
	TaskReactivateSegment Task = "REACTIVATE_SEGMENT"
	TaskRescheduleAppt    Task = "RESCHEDULE_APPT"
	TaskCreateEvent       Task = "CREATE_EVENT"
	TaskCancelEvent       Task = "CANCEL_EVENT"
)

// Kind classifies an outcome for the caller. Handlers fold every lower-layer
// failure into one of these; raw store errors never cross this boundary.
type Kind string

const (
	KindOK                Kind = "ok"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindInvalidInput      Kind = "invalid_input"
	KindInternal          Kind = "internal"
	KindUnsupportedAction Kind = "unsupported_action"
)

// User is the authenticated caller.
type User struct {
	ID       uuid.UUID
	Role     string
	Timezone string
}

// Location resolves the user's zone, falling back to UTC when the stored
// name is unusable.
func (u User) Location() *time.Location {
	if u.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsDoctor reports whether the caller holds the doctor role.
func (u User) IsDoctor() bool { return u.Role == "doctor" }

// SessionContext carries the per-turn session identity.
type SessionContext struct {
	SessionID uuid.UUID
	InputMode string
}

// AppointmentView is one appointment shaped for display.
type AppointmentView struct {
	ID        uuid.UUID `json:"appointment_id"`
	LocalTime string    `json:"local_time"`
	Name      string    `json:"name"`
}

// ScheduleEntryView is one schedule row shaped for display.
type ScheduleEntryView struct {
	SegmentID   uuid.UUID `json:"segment_id"`
	LocalTime   string    `json:"local_time"`
	Status      string    `json:"status"`
	PatientName string    `json:"patient_name,omitempty"`
	Description string    `json:"description,omitempty"`
}

// Outcome is a handler's structured result. Reply is a hint for the
// summarizer; when VerbatimReply is set the text must reach the user
// unaltered. ChainTo, when non-empty, tells the dispatcher to continue
// straight into another handler with ChainArgs.
type Outcome struct {
	Kind          Kind
	Reply         string
	VerbatimReply bool

	Slots      []search.Candidate
	SearchMode search.Mode

	Appointments []AppointmentView
	Schedule     []ScheduleEntryView

	AppointmentID uuid.UUID
	SegmentID     uuid.UUID

	ChainTo   Task
	ChainArgs *BookArgs
}

// BookArgs are the resolved arguments for the book handler.
type BookArgs struct {
	SlotIndex     int    `json:"slot_index"`
	Description   string `json:"description"`
	PreferredDate string `json:"preferred_date"`
	PreferredTime string `json:"preferred_time"`
	DaysAhead     int    `json:"days_ahead"`
}

// hasPreference reports whether any search field was supplied.
func (a BookArgs) hasPreference() bool {
	return a.PreferredDate != "" || a.PreferredTime != "" || a.DaysAhead > 0
}

// CancelArgs select an appointment either as the next upcoming one or by
// calendar date.
type CancelArgs struct {
	Target     string `json:"target"` // "next" or "date"
	TargetDate string `json:"target_date"`
}

// RescheduleArgs combine a cancellation target with the preference for the
// replacement booking.
type RescheduleArgs struct {
	Target        string `json:"target"`
	TargetDate    string `json:"target_date"`
	PreferredDate string `json:"preferred_date"`
	PreferredTime string `json:"preferred_time"`
	DaysAhead     int    `json:"days_ahead"`
}

// ShowAppointmentsArgs optionally override the role-dependent window.
type ShowAppointmentsArgs struct {
	FromDate string `json:"from_date"`
	ToDate   string `json:"to_date"`
}

// ShowScheduleArgs optionally bound the schedule listing.
type ShowScheduleArgs struct {
	TargetDate string `json:"target_date"`
	DaysAhead  int    `json:"days_ahead"`
}

// ReactivateArgs name the blocked segment by its start time.
type ReactivateArgs struct {
	SlotTime string `json:"slot_time"`
}

// CreateEventArgs block a segment on a date, picked by exact time first and
// time-of-day second.
type CreateEventArgs struct {
	PreferredDate string `json:"preferred_date"`
	PreferredTime string `json:"preferred_time"`
	Description   string `json:"description"`
}

// CancelEventArgs name the block to lift by date and time preference.
type CancelEventArgs struct {
	PreferredDate string `json:"preferred_date"`
	PreferredTime string `json:"preferred_time"`
}

// ResourceStore is the slice of the store the handlers need.
type ResourceStore interface {
	Reserve(ctx context.Context, segmentID, patientID uuid.UUID, description string) (*store.Appointment, error)
	Release(ctx context.Context, appointmentID uuid.UUID) (time.Time, error)
	Block(ctx context.Context, segmentID, doctorID uuid.UUID, description string) (time.Time, error)
	Unblock(ctx context.Context, segmentID, doctorID uuid.UUID) (time.Time, error)
	DoctorSchedule(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]store.ScheduleEntry, error)
	AppointmentsForUser(ctx context.Context, userID uuid.UUID, role string) ([]store.Appointment, error)
	AssignedDoctor(ctx context.Context, patientID uuid.UUID) (store.UserInfo, error)
}

// SlotRegistry publishes and resolves display-index mappings for a session.
type SlotRegistry interface {
	PublishSlots(ctx context.Context, sessionID uuid.UUID, mapping map[int]uuid.UUID, patientID, doctorID *uuid.UUID, inputMode string) error
	ResolveSlot(ctx context.Context, sessionID uuid.UUID, index int) (uuid.UUID, error)
}

// TaskTracker reads and writes the session's in-progress task pointer.
type TaskTracker interface {
	SetTask(ctx context.Context, sessionID uuid.UUID, task string) error
	Task(ctx context.Context, sessionID uuid.UUID) (string, error)
}

// Searcher runs the availability cascade.
type Searcher interface {
	Find(ctx context.Context, q search.Query) (*search.Result, error)
}
