package actions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pahuang-96485/clinic-scheduler/internal/search"
	"github.com/pahuang-96485/clinic-scheduler/internal/session"
	"github.com/pahuang-96485/clinic-scheduler/internal/store"
)

// Book reserves a segment for the patient. With a slot index it books
// directly through the registry mapping; with only a preference it runs the
// search cascade and publishes a fresh candidate list instead.
func (h *Handlers) Book(ctx context.Context, user User, sess SessionContext, args BookArgs) Outcome {
	if args.SlotIndex > 0 {
		return h.bookByIndex(ctx, user, sess, args)
	}
	if args.hasPreference() {
		return h.offerSlots(ctx, user, sess, args)
	}
	return Outcome{
		Kind:  KindInvalidInput,
		Reply: "I need a bit more to go on. Tell me a preferred date or time, or pick a slot number from a list I've shown you.",
	}
}

func (h *Handlers) bookByIndex(ctx context.Context, user User, sess SessionContext, args BookArgs) Outcome {
	segmentID, err := h.registry.ResolveSlot(ctx, sess.SessionID, args.SlotIndex)
	if err != nil {
		if errors.Is(err, session.ErrSlotMappingNotFound) {
			return Outcome{
				Kind:  KindNotFound,
				Reply: fmt.Sprintf("I couldn't find slot %d. Please try again.", args.SlotIndex),
			}
		}
		return h.internalOutcome("book.resolve_slot", err)
	}

	appt, err := h.store.Reserve(ctx, segmentID, user.ID, args.Description)
	switch {
	case errors.Is(err, store.ErrSlotTaken), errors.Is(err, store.ErrSegmentNotFound):
		// The race-losing path: somebody got there first. Recoverable by
		// picking another slot.
		return Outcome{
			Kind:  KindConflict,
			Reply: "That time slot has just been taken. Please choose another.",
		}
	case err != nil:
		return h.internalOutcome("book.reserve", err)
	}

	h.clearTask(ctx, sess.SessionID)

	doctorName := "your doctor"
	if doc, err := h.store.AssignedDoctor(ctx, user.ID); err == nil {
		doctorName = doc.DisplayName()
	}
	localTime := appt.Time.In(user.Location()).Format(displayTime)

	return Outcome{
		Kind:          KindOK,
		Reply:         fmt.Sprintf("Your appointment with %s has been successfully booked for %s.", doctorName, localTime),
		AppointmentID: appt.ID,
		SegmentID:     appt.SegmentID,
	}
}

func (h *Handlers) offerSlots(ctx context.Context, user User, sess SessionContext, args BookArgs) Outcome {
	loc := user.Location()
	if args.PreferredDate != "" {
		if _, err := time.ParseInLocation("2006-01-02", args.PreferredDate, loc); err != nil {
			return Outcome{Kind: KindInvalidInput, Reply: "I couldn't read that date. Please use a format like 2025-07-20."}
		}
	}

	doctor, err := h.store.AssignedDoctor(ctx, user.ID)
	if err != nil {
		if errors.Is(err, store.ErrNoAssignedDoctor) {
			return Outcome{
				Kind:  KindNotFound,
				Reply: "You don't have an assigned doctor yet, so I can't look up availability.",
			}
		}
		return h.internalOutcome("book.assigned_doctor", err)
	}

	result, err := h.searcher.Find(ctx, search.Query{
		DoctorID:      doctor.ID,
		PreferredDate: args.PreferredDate,
		TimeOfDay:     args.PreferredTime,
		DaysAhead:     args.DaysAhead,
		Limit:         h.slotLimit,
		Location:      loc,
	})
	if err != nil {
		return h.internalOutcome("book.search", err)
	}
	if len(result.Candidates) == 0 {
		return Outcome{
			Kind:  KindNotFound,
			Reply: "I couldn't find any available appointments. Please provide a preferred time or try again later.",
		}
	}

	mapping := make(map[int]uuid.UUID, len(result.Candidates))
	for _, c := range result.Candidates {
		mapping[c.Index] = c.Segment.ID
	}
	doctorID := doctor.ID
	userID := user.ID
	if err := h.registry.PublishSlots(ctx, sess.SessionID, mapping, &userID, &doctorID, sess.InputMode); err != nil {
		// The list is still usable this turn; only index recall suffers.
		h.logger.Error("failed to publish slot mapping", "session_id", sess.SessionID, "error", err)
	}

	return Outcome{
		Kind:          KindOK,
		Reply:         slotListReply(doctor.DisplayName(), args.PreferredDate, result, loc),
		VerbatimReply: true,
		Slots:         result.Candidates,
		SearchMode:    result.Mode,
	}
}

// slotListReply renders the numbered candidate list with a notice describing
// how far the search had to widen.
func slotListReply(doctorName, preferredDate string, result *search.Result, loc *time.Location) string {
	var b strings.Builder
	switch result.Mode {
	case search.ModeExtended:
		fmt.Fprintf(&b, "Unfortunately, %s has no available slots on %s. Here are some nearby options:\n", doctorName, preferredDate)
	case search.ModeEarliest:
		b.WriteString("Here are the earliest options I could find:\n")
	}
	for _, c := range result.Candidates {
		fmt.Fprintf(&b, "%d. %s\n", c.Index, c.Segment.StartTime.In(loc).Format(displayTime))
	}
	b.WriteString("Please respond with the number of your chosen slot.")
	return b.String()
}
