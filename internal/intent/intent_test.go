package intent

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIntentPlainJSON(t *testing.T) {
	got, err := parseIntent(`{"action": "cancel_appointment", "arguments": {"target": "next"}}`)
	require.NoError(t, err)
	assert.Equal(t, "cancel_appointment", got.Action)
	assert.Equal(t, "next", got.Arguments["target"])
}

func TestParseIntentStripsCodeFences(t *testing.T) {
	raw := "```json\n{\"action\": \"a\", \"arguments\": {\"slot_index\": 2}}\n```"
	got, err := parseIntent(raw)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Action)
	assert.Equal(t, float64(2), got.Arguments["slot_index"])
}

func TestParseIntentIgnoresSurroundingProse(t *testing.T) {
	raw := `Sure! Here is the result: {"action": "general_chat", "arguments": {"type": "help"}} Hope that helps.`
	got, err := parseIntent(raw)
	require.NoError(t, err)
	assert.Equal(t, "general_chat", got.Action)
}

func TestParseIntentMissingArgumentsGetsEmptyMap(t *testing.T) {
	got, err := parseIntent(`{"action": "show_appointments"}`)
	require.NoError(t, err)
	assert.NotNil(t, got.Arguments)
	assert.Empty(t, got.Arguments)
}

func TestParseIntentRejectsEmptyAction(t *testing.T) {
	_, err := parseIntent(`{"action": "", "arguments": {}}`)
	assert.True(t, errors.Is(err, ErrNoIntent))
}

func TestParseIntentRejectsNonJSON(t *testing.T) {
	_, err := parseIntent("I'd be happy to help you book an appointment!")
	assert.True(t, errors.Is(err, ErrNoIntent))
}

func TestParseIntentRejectsBrokenJSON(t *testing.T) {
	_, err := parseIntent(`{"action": "book_appointment", "arguments": {`)
	assert.Error(t, err)
}
