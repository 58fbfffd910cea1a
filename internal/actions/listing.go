package actions

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pahuang-96485/clinic-scheduler/internal/store"
)

// Window defaults for ShowAppointments. Patients look back a day so an
// appointment earlier today still shows; doctors review the week ahead.
const (
	patientLookback    = 24 * time.Hour
	patientWindowDays  = 90
	doctorWindowDays   = 7
	scheduleWindowDays = 7
)

// ShowAppointments lists the user's ACTIVE appointments in a role-dependent
// window, overridable by explicit bounds.
func (h *Handlers) ShowAppointments(ctx context.Context, user User, sess SessionContext, args ShowAppointmentsArgs) Outcome {
	loc := user.Location()
	now := h.now()

	from := now.Add(-patientLookback)
	to := now.AddDate(0, 0, patientWindowDays)
	if user.IsDoctor() {
		from = now
		to = now.AddDate(0, 0, doctorWindowDays)
	}
	if args.FromDate != "" {
		parsed, err := time.ParseInLocation("2006-01-02", args.FromDate, loc)
		if err != nil {
			return Outcome{Kind: KindInvalidInput, Reply: "I couldn't read that start date. Please use a format like 2025-07-20."}
		}
		from = parsed
	}
	if args.ToDate != "" {
		parsed, err := time.ParseInLocation("2006-01-02", args.ToDate, loc)
		if err != nil {
			return Outcome{Kind: KindInvalidInput, Reply: "I couldn't read that end date. Please use a format like 2025-07-27."}
		}
		to = parsed.AddDate(0, 0, 1)
	}

	appts, err := h.store.AppointmentsForUser(ctx, user.ID, user.Role)
	if err != nil {
		return h.internalOutcome("show_appointments.list", err)
	}

	var views []AppointmentView
	for _, a := range appts {
		if a.Status != store.AppointmentActive {
			continue
		}
		if a.Time.Before(from) || a.Time.After(to) {
			continue
		}
		views = append(views, AppointmentView{
			ID:        a.ID,
			LocalTime: a.Time.In(loc).Format(displayTime),
			Name:      a.CounterpartName,
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].LocalTime < views[j].LocalTime })

	if len(views) == 0 {
		return Outcome{Kind: KindOK, Reply: "You don't have any upcoming appointments.", Appointments: []AppointmentView{}}
	}

	h.clearTask(ctx, sess.SessionID)

	return Outcome{
		Kind:         KindOK,
		Reply:        fmt.Sprintf("You have %d upcoming appointment(s).", len(views)),
		Appointments: views,
	}
}

// ShowSchedule lists every segment in the window regardless of status,
// enriched with who or what occupies it. Doctor only.
func (h *Handlers) ShowSchedule(ctx context.Context, user User, sess SessionContext, args ShowScheduleArgs) Outcome {
	if !user.IsDoctor() {
		return doctorOnly("view schedules")
	}

	loc := user.Location()
	var from, to time.Time
	if args.TargetDate != "" {
		parsed, err := time.ParseInLocation("2006-01-02", args.TargetDate, loc)
		if err != nil {
			return Outcome{Kind: KindInvalidInput, Reply: "I couldn't read that date. Please use a format like 2025-07-20."}
		}
		from = parsed
		days := args.DaysAhead
		if days <= 0 {
			days = 1
		}
		to = parsed.AddDate(0, 0, days)
	} else if args.DaysAhead > 0 {
		from = h.now()
		to = from.AddDate(0, 0, args.DaysAhead)
	}

	entries, err := h.store.DoctorSchedule(ctx, user.ID, from, to)
	if err != nil {
		return h.internalOutcome("show_schedule.list", err)
	}
	if len(entries) == 0 {
		return Outcome{Kind: KindOK, Reply: "No schedule found for that period.", Schedule: []ScheduleEntryView{}}
	}

	views := make([]ScheduleEntryView, len(entries))
	for i, e := range entries {
		views[i] = ScheduleEntryView{
			SegmentID:   e.ID,
			LocalTime:   e.StartTime.In(loc).Format(displayTime),
			Status:      e.Status.Label(),
			PatientName: e.PatientName,
			Description: e.EventDescription,
		}
	}

	h.clearTask(ctx, sess.SessionID)

	return Outcome{
		Kind:     KindOK,
		Reply:    fmt.Sprintf("Here is your schedule (%d segments).", len(views)),
		Schedule: views,
	}
}
