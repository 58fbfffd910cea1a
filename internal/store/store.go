// Package store is the typed client for the transactional scheduling store.
// Every mutating operation on time segments is a single atomic transaction;
// callers never read-then-write segment status across separate calls.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// SegmentStatus is the tri-state lifecycle of a time segment.
type SegmentStatus int16

const (
	SegmentBlocked   SegmentStatus = -1
	SegmentAvailable SegmentStatus = 0
	SegmentBooked    SegmentStatus = 1
)

// Label returns the human-readable name for a segment status.
func (s SegmentStatus) Label() string {
	switch s {
	case SegmentBlocked:
		return "Blocked"
	case SegmentAvailable:
		return "Available"
	case SegmentBooked:
		return "Booked"
	}
	return "Unknown"
}

// Appointment lifecycle states.
const (
	AppointmentCancelled int16 = 0
	AppointmentActive    int16 = 1
)

// Sentinel errors classifying expected failure modes. Anything else coming
// out of this package is an internal store failure.
var (
	ErrSlotTaken           = errors.New("store: segment is not available")
	ErrSegmentNotFound     = errors.New("store: segment not found")
	ErrSegmentNotAvailable = errors.New("store: segment is not available for blocking")
	ErrAppointmentNotFound = errors.New("store: appointment not found or already cancelled")
	ErrEventNotFound       = errors.New("store: no active event on segment")
	ErrNoAssignedDoctor    = errors.New("store: patient has no assigned doctor")
	ErrUserNotFound        = errors.New("store: user not found")
)

// Segment is a doctor-owned half-open time interval, the unit of schedulability.
type Segment struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	StartTime time.Time
	EndTime   time.Time
	Status    SegmentStatus
}

// Appointment links a patient, a doctor and exactly one segment.
type Appointment struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	SegmentID       uuid.UUID
	Time            time.Time
	Description     string
	Status          int16
	CounterpartName string
}

// ScheduleEntry is a segment enriched with whoever occupies it.
type ScheduleEntry struct {
	Segment
	PatientName      string
	EventDescription string
}

// UserInfo is the identity read model for an authenticated user.
type UserInfo struct {
	ID        uuid.UUID
	Role      string
	FirstName string
	LastName  string
	Email     string
	Timezone  string
}

// DisplayName renders "Dr. First Last" for doctors, "First Last" otherwise.
func (u UserInfo) DisplayName() string {
	name := u.FirstName
	if u.LastName != "" {
		if name != "" {
			name += " "
		}
		name += u.LastName
	}
	if name == "" {
		return ""
	}
	if u.Role == "doctor" {
		return "Dr. " + name
	}
	return name
}

// PgxPool is the subset of pgxpool.Pool the store needs; pgxmock satisfies it.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the resource store client.
type Store struct {
	pool   PgxPool
	tracer trace.Tracer
}

// New creates a store over a pgx pool.
func New(pool PgxPool) *Store {
	if pool == nil {
		panic("store: pgx pool required")
	}
	return &Store{pool: pool, tracer: otel.Tracer("store")}
}

// Reserve atomically transitions a segment AVAILABLE -> BOOKED and creates the
// active appointment. Losing a race for the segment returns ErrSlotTaken, not
// an internal error.
func (s *Store) Reserve(ctx context.Context, segmentID, patientID uuid.UUID, description string) (*Appointment, error) {
	ctx, span := s.tracer.Start(ctx, "store.reserve")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("store: begin reserve: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		doctorID  uuid.UUID
		startTime time.Time
	)
	err = tx.QueryRow(ctx, `
		UPDATE time_segments SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3
		RETURNING doctor_id, start_time
	`, SegmentBooked, segmentID, SegmentAvailable).Scan(&doctorID, &startTime)
	if errors.Is(err, pgx.ErrNoRows) {
		// Guard failed: either the segment never existed or someone got there
		// first. The distinction only affects the failure kind reported.
		var status SegmentStatus
		lookupErr := tx.QueryRow(ctx, `SELECT status FROM time_segments WHERE id = $1`, segmentID).Scan(&status)
		if errors.Is(lookupErr, pgx.ErrNoRows) {
			return nil, ErrSegmentNotFound
		}
		return nil, ErrSlotTaken
	}
	if err != nil {
		return nil, fmt.Errorf("store: reserve segment: %w", err)
	}

	appt := &Appointment{
		ID:          uuid.New(),
		PatientID:   patientID,
		DoctorID:    doctorID,
		SegmentID:   segmentID,
		Time:        startTime,
		Description: description,
		Status:      AppointmentActive,
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, segment_id, appointment_time, description, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, appt.ID, appt.PatientID, appt.DoctorID, appt.SegmentID, appt.Time, appt.Description, appt.Status)
	if err != nil {
		return nil, fmt.Errorf("store: insert appointment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("store: commit reserve: %w", err)
	}
	return appt, nil
}

// Release atomically cancels an active appointment and returns its segment to
// AVAILABLE. Returns the appointment time for caller messaging.
func (s *Store) Release(ctx context.Context, appointmentID uuid.UUID) (time.Time, error) {
	ctx, span := s.tracer.Start(ctx, "store.release")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return time.Time{}, fmt.Errorf("store: begin release: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		segmentID uuid.UUID
		apptTime  time.Time
	)
	err = tx.QueryRow(ctx, `
		UPDATE appointments SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3
		RETURNING segment_id, appointment_time
	`, AppointmentCancelled, appointmentID, AppointmentActive).Scan(&segmentID, &apptTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, ErrAppointmentNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("store: cancel appointment: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE time_segments SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3
	`, SegmentAvailable, segmentID, SegmentBooked)
	if err != nil {
		return time.Time{}, fmt.Errorf("store: release segment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return time.Time{}, fmt.Errorf("store: commit release: %w", err)
	}
	return apptTime, nil
}

// Block atomically transitions a doctor's own segment AVAILABLE -> BLOCKED and
// records the event description. Returns the segment start time.
func (s *Store) Block(ctx context.Context, segmentID, doctorID uuid.UUID, description string) (time.Time, error) {
	ctx, span := s.tracer.Start(ctx, "store.block")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return time.Time{}, fmt.Errorf("store: begin block: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var startTime time.Time
	err = tx.QueryRow(ctx, `
		UPDATE time_segments SET status = $1, updated_at = now()
		WHERE id = $2 AND doctor_id = $3 AND status = $4
		RETURNING start_time
	`, SegmentBlocked, segmentID, doctorID, SegmentAvailable).Scan(&startTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, ErrSegmentNotAvailable
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("store: block segment: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO doctor_events (id, doctor_id, segment_id, description, status)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.New(), doctorID, segmentID, description, AppointmentActive)
	if err != nil {
		return time.Time{}, fmt.Errorf("store: insert event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return time.Time{}, fmt.Errorf("store: commit block: %w", err)
	}
	return startTime, nil
}

// Unblock atomically transitions a doctor's segment BLOCKED -> AVAILABLE and
// cancels the event recorded against it. Returns the segment start time.
func (s *Store) Unblock(ctx context.Context, segmentID, doctorID uuid.UUID) (time.Time, error) {
	ctx, span := s.tracer.Start(ctx, "store.unblock")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return time.Time{}, fmt.Errorf("store: begin unblock: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var startTime time.Time
	err = tx.QueryRow(ctx, `
		UPDATE time_segments SET status = $1, updated_at = now()
		WHERE id = $2 AND doctor_id = $3 AND status = $4
		RETURNING start_time
	`, SegmentAvailable, segmentID, doctorID, SegmentBlocked).Scan(&startTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, ErrEventNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("store: unblock segment: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE doctor_events SET status = $1, updated_at = now()
		WHERE segment_id = $2 AND doctor_id = $3 AND status = $4
	`, AppointmentCancelled, segmentID, doctorID, AppointmentActive)
	if err != nil {
		return time.Time{}, fmt.Errorf("store: cancel event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return time.Time{}, fmt.Errorf("store: commit unblock: %w", err)
	}
	return startTime, nil
}

// AvailableSegments returns a doctor's AVAILABLE segments starting in
// [from, to), ordered by start time. A zero `to` leaves the window unbounded.
func (s *Store) AvailableSegments(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Segment, error) {
	ctx, span := s.tracer.Start(ctx, "store.available_segments")
	defer span.End()

	query := `
		SELECT id, doctor_id, start_time, end_time, status
		FROM time_segments
		WHERE doctor_id = $1 AND status = $2 AND start_time >= $3
	`
	args := []any{doctorID, SegmentAvailable, from}
	if !to.IsZero() {
		query += " AND start_time < $4"
		args = append(args, to)
	}
	query += " ORDER BY start_time ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query available segments: %w", err)
	}
	defer rows.Close()

	var segments []Segment
	for rows.Next() {
		var seg Segment
		if err := rows.Scan(&seg.ID, &seg.DoctorID, &seg.StartTime, &seg.EndTime, &seg.Status); err != nil {
			return nil, fmt.Errorf("store: scan segment: %w", err)
		}
		segments = append(segments, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate segments: %w", err)
	}
	return segments, nil
}

// DoctorSchedule lists all of a doctor's segments in [from, to), any status,
// enriched with the booked patient's name or the blocking event description.
// Zero bounds are ignored.
func (s *Store) DoctorSchedule(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]ScheduleEntry, error) {
	ctx, span := s.tracer.Start(ctx, "store.doctor_schedule")
	defer span.End()

	query := `
		SELECT s.id, s.doctor_id, s.start_time, s.end_time, s.status,
		       COALESCE(NULLIF(TRIM(u.fname || ' ' || u.lname), ''), ''),
		       COALESCE(e.description, '')
		FROM time_segments s
		LEFT JOIN appointments a ON a.segment_id = s.id AND a.status = 1
		LEFT JOIN users u ON u.id = a.patient_id
		LEFT JOIN doctor_events e ON e.segment_id = s.id AND e.status = 1
		WHERE s.doctor_id = $1
	`
	args := []any{doctorID}
	if !from.IsZero() {
		args = append(args, from)
		query += fmt.Sprintf(" AND s.start_time >= $%d", len(args))
	}
	if !to.IsZero() {
		args = append(args, to)
		query += fmt.Sprintf(" AND s.start_time < $%d", len(args))
	}
	query += " ORDER BY s.start_time ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query schedule: %w", err)
	}
	defer rows.Close()

	var entries []ScheduleEntry
	for rows.Next() {
		var entry ScheduleEntry
		if err := rows.Scan(&entry.ID, &entry.DoctorID, &entry.StartTime, &entry.EndTime,
			&entry.Status, &entry.PatientName, &entry.EventDescription); err != nil {
			return nil, fmt.Errorf("store: scan schedule entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate schedule: %w", err)
	}
	return entries, nil
}

// AppointmentsForUser returns all appointments owned by the user in the given
// role, each with the counterpart's display name, ordered by time.
func (s *Store) AppointmentsForUser(ctx context.Context, userID uuid.UUID, role string) ([]Appointment, error) {
	ctx, span := s.tracer.Start(ctx, "store.appointments_for_user")
	defer span.End()

	ownerColumn, counterpartColumn := "a.patient_id", "a.doctor_id"
	if role == "doctor" {
		ownerColumn, counterpartColumn = "a.doctor_id", "a.patient_id"
	}

	query := fmt.Sprintf(`
		SELECT a.id, a.patient_id, a.doctor_id, a.segment_id, a.appointment_time,
		       a.description, a.status,
		       COALESCE(NULLIF(TRIM(u.fname || ' ' || u.lname), ''), '')
		FROM appointments a
		LEFT JOIN users u ON u.id = %s
		WHERE %s = $1
		ORDER BY a.appointment_time ASC
	`, counterpartColumn, ownerColumn)

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("store: query appointments: %w", err)
	}
	defer rows.Close()

	var appts []Appointment
	for rows.Next() {
		var a Appointment
		if err := rows.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.SegmentID,
			&a.Time, &a.Description, &a.Status, &a.CounterpartName); err != nil {
			return nil, fmt.Errorf("store: scan appointment: %w", err)
		}
		appts = append(appts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate appointments: %w", err)
	}
	return appts, nil
}

// AssignedDoctor resolves the patient's active assigned doctor.
func (s *Store) AssignedDoctor(ctx context.Context, patientID uuid.UUID) (UserInfo, error) {
	ctx, span := s.tracer.Start(ctx, "store.assigned_doctor")
	defer span.End()

	var doc UserInfo
	err := s.pool.QueryRow(ctx, `
		SELECT u.id, u.role, u.fname, u.lname, u.email, u.timezone
		FROM patient_doctor pd
		JOIN users u ON u.id = pd.doctor_id
		WHERE pd.patient_id = $1 AND pd.relationship_status = 'active'
		LIMIT 1
	`, patientID).Scan(&doc.ID, &doc.Role, &doc.FirstName, &doc.LastName, &doc.Email, &doc.Timezone)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserInfo{}, ErrNoAssignedDoctor
	}
	if err != nil {
		return UserInfo{}, fmt.Errorf("store: lookup assigned doctor: %w", err)
	}
	return doc, nil
}

// UserByID loads the identity read model for a user.
func (s *Store) UserByID(ctx context.Context, userID uuid.UUID) (UserInfo, error) {
	ctx, span := s.tracer.Start(ctx, "store.user_by_id")
	defer span.End()

	var u UserInfo
	err := s.pool.QueryRow(ctx, `
		SELECT id, role, fname, lname, email, timezone
		FROM users
		WHERE id = $1
	`, userID).Scan(&u.ID, &u.Role, &u.FirstName, &u.LastName, &u.Email, &u.Timezone)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserInfo{}, ErrUserNotFound
	}
	if err != nil {
		return UserInfo{}, fmt.Errorf("store: lookup user: %w", err)
	}
	return u, nil
}
