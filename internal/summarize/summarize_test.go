package summarize

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pahuang-96485/clinic-scheduler/internal/actions"
)

func TestVerbatimReplySkipsTheModel(t *testing.T) {
	// No client is wired up: a verbatim outcome must never reach it.
	s := &GeminiSummarizer{}

	reply := "1. 2025-07-20 09:00\n2. 2025-07-20 10:00\nPlease respond with the number of your chosen slot."
	got, err := s.Summarize(t.Context(), Request{
		Message: "book me something on the 20th",
		Outcome: actions.Outcome{Kind: actions.KindOK, Reply: reply, VerbatimReply: true},
		Role:    "patient",
	})

	require.NoError(t, err)
	assert.Equal(t, reply, got)
}

func TestOutcomePayloadHidesIdentifiers(t *testing.T) {
	payload, err := outcomePayload(actions.Outcome{
		Kind:  actions.KindOK,
		Reply: "You have 1 upcoming appointment(s).",
		Appointments: []actions.AppointmentView{
			{ID: uuid.New(), LocalTime: "2025-07-20 09:00", Name: "Dr. Grace Wu"},
		},
	})

	require.NoError(t, err)
	assert.Contains(t, payload, "2025-07-20 09:00")
	assert.Contains(t, payload, "Dr. Grace Wu")
	assert.NotContains(t, payload, "appointment_id")
	assert.NotContains(t, payload, "segment_id")
}

func TestOutcomePayloadCarriesScheduleEnrichment(t *testing.T) {
	payload, err := outcomePayload(actions.Outcome{
		Kind: actions.KindOK,
		Schedule: []actions.ScheduleEntryView{
			{SegmentID: uuid.New(), LocalTime: "2025-07-20 10:00", Status: "blocked", Description: "Staff meeting"},
		},
	})

	require.NoError(t, err)
	assert.Contains(t, payload, "Staff meeting")
	assert.Contains(t, payload, "blocked")
}
