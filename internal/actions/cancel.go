package actions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/pahuang-96485/clinic-scheduler/internal/store"
)

// errNoMatchingAppointment marks target resolution coming up empty.
var errNoMatchingAppointment = errors.New("no matching appointment")

// Cancel releases the user's next upcoming appointment, or the one on a
// named date.
func (h *Handlers) Cancel(ctx context.Context, user User, sess SessionContext, args CancelArgs) Outcome {
	appt, err := h.resolveAppointment(ctx, user, args.Target, args.TargetDate)
	if err != nil {
		if errors.Is(err, errNoMatchingAppointment) {
			return Outcome{Kind: KindNotFound, Reply: "No matching appointment found."}
		}
		return h.internalOutcome("cancel.resolve", err)
	}

	if _, err := h.store.Release(ctx, appt.ID); err != nil {
		if errors.Is(err, store.ErrAppointmentNotFound) {
			return Outcome{Kind: KindNotFound, Reply: "Appointment not found or already cancelled."}
		}
		return h.internalOutcome("cancel.release", err)
	}

	h.clearTask(ctx, sess.SessionID)

	localTime := appt.Time.In(user.Location()).Format(displayTime)
	return Outcome{
		Kind:          KindOK,
		Reply:         fmt.Sprintf("Your appointment on %s has been cancelled.", localTime),
		AppointmentID: appt.ID,
		SegmentID:     appt.SegmentID,
	}
}

// Reschedule cancels like Cancel, then hands off to the booking flow with the
// freed preference. The cancellation is not rolled back if the follow-up
// booking finds nothing; the task pointer stays on booking so the user can
// retry.
func (h *Handlers) Reschedule(ctx context.Context, user User, sess SessionContext, args RescheduleArgs) Outcome {
	appt, err := h.resolveAppointment(ctx, user, args.Target, args.TargetDate)
	if err != nil {
		if errors.Is(err, errNoMatchingAppointment) {
			return Outcome{Kind: KindNotFound, Reply: "You don't have any upcoming appointments to reschedule."}
		}
		return h.internalOutcome("reschedule.resolve", err)
	}

	if _, err := h.store.Release(ctx, appt.ID); err != nil {
		if errors.Is(err, store.ErrAppointmentNotFound) {
			return Outcome{Kind: KindNotFound, Reply: "Appointment not found or already cancelled."}
		}
		return h.internalOutcome("reschedule.release", err)
	}

	if sess.SessionID != uuid.Nil {
		if err := h.tasks.SetTask(ctx, sess.SessionID, string(TaskBookAppt)); err != nil {
			h.logger.Error("failed to set booking task after reschedule", "session_id", sess.SessionID, "error", err)
		}
	}

	return Outcome{
		Kind:          KindOK,
		AppointmentID: appt.ID,
		SegmentID:     appt.SegmentID,
		ChainTo:       TaskBookAppt,
		ChainArgs: &BookArgs{
			PreferredDate: args.PreferredDate,
			PreferredTime: args.PreferredTime,
			DaysAhead:     args.DaysAhead,
		},
	}
}

// resolveAppointment picks the user's earliest ACTIVE appointment matching
// the target: "next" means from now on, "date" means on that calendar day in
// the user's zone.
func (h *Handlers) resolveAppointment(ctx context.Context, user User, target, targetDate string) (*store.Appointment, error) {
	appts, err := h.store.AppointmentsForUser(ctx, user.ID, user.Role)
	if err != nil {
		return nil, err
	}

	loc := user.Location()
	var dayStart, dayEnd time.Time
	if target == "date" && targetDate != "" {
		dayStart, err = time.ParseInLocation("2006-01-02", targetDate, loc)
		if err != nil {
			return nil, errNoMatchingAppointment
		}
		dayEnd = dayStart.AddDate(0, 0, 1)
	}

	now := h.now()
	var matches []store.Appointment
	for _, a := range appts {
		if a.Status != store.AppointmentActive {
			continue
		}
		if !dayStart.IsZero() {
			if a.Time.Before(dayStart) || !a.Time.Before(dayEnd) {
				continue
			}
		} else if a.Time.Before(now) {
			continue
		}
		matches = append(matches, a)
	}
	if len(matches) == 0 {
		return nil, errNoMatchingAppointment
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Time.Before(matches[j].Time) })
	return &matches[0], nil
}
