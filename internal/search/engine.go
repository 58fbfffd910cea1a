// Package search finds bookable time segments for a doctor, widening the
// window step by step until something turns up.
package search

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pahuang-96485/clinic-scheduler/internal/store"
	"github.com/pahuang-96485/clinic-scheduler/pkg/logging"
)

// Mode records which step of the cascade produced the result set.
type Mode string

const (
	// ModePreferred means the segments fell inside the requested window.
	ModePreferred Mode = "preferred"
	// ModeExtended means the requested window was empty and a nearby day
	// was substituted.
	ModeExtended Mode = "extended"
	// ModeEarliest means no usable date was given (or nothing nearby was
	// open) and the earliest future openings were returned instead.
	ModeEarliest Mode = "earliest"
)

// defaultLimit caps how many candidates are shown at once.
const defaultLimit = 5

// defaultScanDays is how many individual days the widening step tries.
const defaultScanDays = 5

// dateLayout is the wire format for preferred dates.
const dateLayout = "2006-01-02"

var clockTimeRe = regexp.MustCompile(`^\d{1,2}:\d{2}$`)

// SegmentSource supplies open segments for a doctor. A zero `to` means no
// upper bound.
type SegmentSource interface {
	AvailableSegments(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]store.Segment, error)
}

// Query describes what the patient asked for.
type Query struct {
	DoctorID      uuid.UUID
	PreferredDate string // "2006-01-02", empty when the patient gave no date
	TimeOfDay     string // any | morning | afternoon | evening | HH:MM
	DaysAhead     int
	Limit         int
	Location      *time.Location // patient's zone; nil falls back to the engine default
}

// Candidate is one presentable opening. Index is the 1-based position the
// patient will refer back to.
type Candidate struct {
	Index   int
	Segment store.Segment
}

// Result is an ordered candidate list plus the cascade step that produced it.
type Result struct {
	Mode       Mode
	Candidates []Candidate
}

// Engine runs the availability cascade against a segment source.
type Engine struct {
	source SegmentSource
	loc    *time.Location
	now    func() time.Time
	logger *logging.Logger
}

// New builds an Engine. loc is the zone used when a query carries none.
func New(source SegmentSource, loc *time.Location, logger *logging.Logger) *Engine {
	if source == nil {
		panic("search: segment source required")
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{source: source, loc: loc, now: time.Now, logger: logger}
}

// Find runs the cascade. Each step only runs when the previous one produced
// nothing or did not apply:
//
//  1. the requested window [preferred_date, preferred_date+max(days_ahead,1))
//  2. each of the following days_ahead (or 5) days, one at a time, first
//     non-empty day wins
//  3. earliest open segments from now forward, no date bound
//
// Output is always sorted by start time ascending; the cap is applied after
// sorting.
func (e *Engine) Find(ctx context.Context, q Query) (*Result, error) {
	loc := q.Location
	if loc == nil {
		loc = e.loc
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	if q.PreferredDate != "" {
		day, err := time.ParseInLocation(dateLayout, q.PreferredDate, loc)
		if err != nil {
			return nil, fmt.Errorf("search: bad preferred date %q: %w", q.PreferredDate, err)
		}

		window := q.DaysAhead
		if window < 1 {
			window = 1
		}
		segs, err := e.openSegments(ctx, q, day, day.AddDate(0, 0, window), loc)
		if err != nil {
			return nil, err
		}
		if len(segs) > 0 {
			return e.rank(ModePreferred, segs, limit), nil
		}

		scan := q.DaysAhead
		if scan <= 0 {
			scan = defaultScanDays
		}
		for i := 1; i <= scan; i++ {
			dayStart := day.AddDate(0, 0, i)
			segs, err := e.openSegments(ctx, q, dayStart, dayStart.AddDate(0, 0, 1), loc)
			if err != nil {
				return nil, err
			}
			if len(segs) > 0 {
				e.logger.Debug("widened search past requested date",
					"doctor_id", q.DoctorID, "requested", q.PreferredDate, "found", dayStart.Format(dateLayout))
				return e.rank(ModeExtended, segs, limit), nil
			}
		}
	}

	segs, err := e.openSegments(ctx, q, e.now(), time.Time{}, loc)
	if err != nil {
		return nil, err
	}
	return e.rank(ModeEarliest, segs, limit), nil
}

func (e *Engine) openSegments(ctx context.Context, q Query, from, to time.Time, loc *time.Location) ([]store.Segment, error) {
	segs, err := e.source.AvailableSegments(ctx, q.DoctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("search: list open segments: %w", err)
	}
	kept := segs[:0]
	for _, s := range segs {
		if MatchesTimeOfDay(s.StartTime, q.TimeOfDay, loc) {
			kept = append(kept, s)
		}
	}
	return kept, nil
}

// rank sorts ascending by start time, caps, and assigns display indices.
func (e *Engine) rank(mode Mode, segs []store.Segment, limit int) *Result {
	sort.Slice(segs, func(i, j int) bool { return segs[i].StartTime.Before(segs[j].StartTime) })
	if len(segs) > limit {
		segs = segs[:limit]
	}
	candidates := make([]Candidate, len(segs))
	for i, s := range segs {
		candidates[i] = Candidate{Index: i + 1, Segment: s}
	}
	return &Result{Mode: mode, Candidates: candidates}
}

// IsClockTime reports whether pref is a literal clock time like "14:30".
func IsClockTime(pref string) bool {
	return clockTimeRe.MatchString(strings.TrimSpace(pref))
}

// MatchesTimeOfDay evaluates the preference against the segment start in the
// requester's zone. Unrecognized preferences match everything.
func MatchesTimeOfDay(start time.Time, pref string, loc *time.Location) bool {
	local := start.In(loc)
	switch strings.ToLower(strings.TrimSpace(pref)) {
	case "", "any":
		return true
	case "morning":
		return local.Hour() < 12
	case "afternoon":
		return local.Hour() >= 12 && local.Hour() < 17
	case "evening":
		return local.Hour() >= 17 && local.Hour() < 21
	}
	if IsClockTime(pref) {
		want, err := time.Parse("15:04", strings.TrimSpace(pref))
		if err == nil {
			return local.Hour() == want.Hour() && local.Minute() == want.Minute()
		}
	}
	return true
}
