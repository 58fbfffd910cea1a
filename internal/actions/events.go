package actions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/pahuang-96485/clinic-scheduler/internal/search"
	"github.com/pahuang-96485/clinic-scheduler/internal/store"
)

// reactivateTolerance is how close a blocked segment's start must be to the
// parsed target time to count as the one the doctor meant.
const reactivateTolerance = time.Minute

// slotTimeLayouts are the accepted shapes for a reactivation target time.
var slotTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// Reactivate lifts a block from the segment whose start time is within a
// minute of the named time. Doctor only.
func (h *Handlers) Reactivate(ctx context.Context, user User, sess SessionContext, args ReactivateArgs) Outcome {
	if !user.IsDoctor() {
		return doctorOnly("reactivate segments")
	}
	if args.SlotTime == "" {
		return Outcome{Kind: KindInvalidInput, Reply: "Please tell me the time you want to reopen (e.g. '2025-07-27 17:30')."}
	}

	target, ok := parseSlotTime(args.SlotTime, user.Location())
	if !ok {
		return Outcome{Kind: KindInvalidInput, Reply: "Sorry, I couldn't understand the time. Could you rephrase it?"}
	}

	entries, err := h.store.DoctorSchedule(ctx, user.ID, time.Time{}, time.Time{})
	if err != nil {
		return h.internalOutcome("reactivate.schedule", err)
	}

	for _, e := range entries {
		if e.Status != store.SegmentBlocked {
			continue
		}
		diff := e.StartTime.Sub(target)
		if diff < 0 {
			diff = -diff
		}
		if diff >= reactivateTolerance {
			continue
		}

		if _, err := h.store.Unblock(ctx, e.ID, user.ID); err != nil {
			if errors.Is(err, store.ErrEventNotFound) {
				return Outcome{Kind: KindNotFound, Reply: "That segment is no longer blocked."}
			}
			return h.internalOutcome("reactivate.unblock", err)
		}

		h.clearTask(ctx, sess.SessionID)
		return Outcome{
			Kind:      KindOK,
			Reply:     fmt.Sprintf("Segment at %s reactivated.", e.StartTime.In(user.Location()).Format(displayTime)),
			SegmentID: e.ID,
		}
	}

	return Outcome{
		Kind:  KindNotFound,
		Reply: fmt.Sprintf("No blocked segment found at %s. Please try another time.", target.In(user.Location()).Format(displayTime)),
	}
}

// CreateEvent blocks a segment on the given date for the doctor's own use.
// An exact "HH:MM" preference wins; otherwise the first segment matching the
// time-of-day preference is taken.
func (h *Handlers) CreateEvent(ctx context.Context, user User, sess SessionContext, args CreateEventArgs) Outcome {
	if !user.IsDoctor() {
		return doctorOnly("create events")
	}
	if args.PreferredDate == "" {
		return Outcome{Kind: KindInvalidInput, Reply: "Please tell me which date you'd like to block."}
	}

	loc := user.Location()
	entries, err := h.scheduleForDate(ctx, user.ID, args.PreferredDate, loc)
	if err != nil {
		if errors.Is(err, errBadDate) {
			return Outcome{Kind: KindInvalidInput, Reply: "I couldn't read that date. Please use a format like 2025-07-25."}
		}
		return h.internalOutcome("create_event.schedule", err)
	}

	candidate := pickSegment(entries, store.SegmentAvailable, args.PreferredTime, loc)
	if candidate == nil {
		return Outcome{Kind: KindNotFound, Reply: "No available time slot found on that date."}
	}

	description := args.Description
	if description == "" {
		description = "Event"
	}

	start, err := h.store.Block(ctx, candidate.ID, user.ID, description)
	if err != nil {
		if errors.Is(err, store.ErrSegmentNotAvailable) {
			return Outcome{Kind: KindConflict, Reply: "That slot is already taken. Please choose another."}
		}
		return h.internalOutcome("create_event.block", err)
	}

	h.clearTask(ctx, sess.SessionID)

	return Outcome{
		Kind:      KindOK,
		Reply:     fmt.Sprintf("Got it. I've scheduled the event %q at %s.", description, start.In(loc).Format(displayTime)),
		SegmentID: candidate.ID,
	}
}

// CancelEvent lifts the earliest block matching the date and time
// preference. Doctor only; both fields are required.
func (h *Handlers) CancelEvent(ctx context.Context, user User, sess SessionContext, args CancelEventArgs) Outcome {
	if !user.IsDoctor() {
		return doctorOnly("cancel events")
	}
	if args.PreferredDate == "" || args.PreferredTime == "" {
		return Outcome{Kind: KindInvalidInput, Reply: "Please specify the date and time of the event you want to cancel."}
	}

	loc := user.Location()
	entries, err := h.scheduleForDate(ctx, user.ID, args.PreferredDate, loc)
	if err != nil {
		if errors.Is(err, errBadDate) {
			return Outcome{Kind: KindInvalidInput, Reply: "I couldn't read that date. Please use a format like 2025-07-25."}
		}
		return h.internalOutcome("cancel_event.schedule", err)
	}

	candidate := pickSegment(entries, store.SegmentBlocked, args.PreferredTime, loc)
	if candidate == nil {
		return Outcome{Kind: KindNotFound, Reply: "No matching event found."}
	}

	start, err := h.store.Unblock(ctx, candidate.ID, user.ID)
	if err != nil {
		if errors.Is(err, store.ErrEventNotFound) {
			return Outcome{Kind: KindNotFound, Reply: "No matching event found."}
		}
		return h.internalOutcome("cancel_event.unblock", err)
	}

	h.clearTask(ctx, sess.SessionID)

	return Outcome{
		Kind:      KindOK,
		Reply:     fmt.Sprintf("Event on %s cancelled.", start.In(loc).Format(displayTime)),
		SegmentID: candidate.ID,
	}
}

var errBadDate = errors.New("unparseable date")

// scheduleForDate fetches the doctor's segments for one calendar day.
func (h *Handlers) scheduleForDate(ctx context.Context, doctorID uuid.UUID, date string, loc *time.Location) ([]store.ScheduleEntry, error) {
	day, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return nil, errBadDate
	}
	return h.store.DoctorSchedule(ctx, doctorID, day, day.AddDate(0, 0, 1))
}

// pickSegment returns the earliest segment in the wanted status matching the
// time preference, trying an exact clock-time match before the broader
// time-of-day predicate.
func pickSegment(entries []store.ScheduleEntry, want store.SegmentStatus, timePref string, loc *time.Location) *store.ScheduleEntry {
	sort.Slice(entries, func(i, j int) bool { return entries[i].StartTime.Before(entries[j].StartTime) })

	if search.IsClockTime(timePref) {
		for i := range entries {
			e := &entries[i]
			if e.Status != want {
				continue
			}
			local := e.StartTime.In(loc)
			if local.Format("15:04") == normalizeClock(timePref) {
				return e
			}
		}
	}
	for i := range entries {
		e := &entries[i]
		if e.Status != want {
			continue
		}
		if search.MatchesTimeOfDay(e.StartTime, timePref, loc) {
			return e
		}
	}
	return nil
}

// normalizeClock pads "9:30" to "09:30" so it compares against Format output.
func normalizeClock(s string) string {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return s
	}
	return t.Format("15:04")
}

// parseSlotTime tries the accepted layouts in order, interpreting zoneless
// ones in the user's location.
func parseSlotTime(s string, loc *time.Location) (time.Time, bool) {
	for _, layout := range slotTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
