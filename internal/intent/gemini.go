package intent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultModelID = "gemini-2.5-flash"

// systemPromptTemplate instructs the model to answer with exactly one JSON
// action block. Placeholders: role, today, timezone, current task.
const systemPromptTemplate = `--- SYSTEM CONTEXT ---
You are the scheduling assistant of a clinic. The current user is a **%s**.
Today is **%s**, and the user's local timezone is **%s**.
Current task: **%s**. Unless the user explicitly changes tasks, continue on this one.

--- PRIMARY GOAL ---
Understand the user's intention and return **a single JSON block** in the following format:
{ "action": "<action_string>", "arguments": { ...all required fields for this action, even if empty } }

--- SUPPORTED ACTIONS ---
a. book_appointment
   - args: { slot_index, description }  <- if the user picked from a numbered slot list
   - args: { preferred_date, preferred_time, days_ahead }
   - Always convert relative time expressions ("tomorrow afternoon", "next Tuesday") into preferred_date: YYYY-MM-DD based on today.
   - If the user is vague ("book an appointment for me"), return { "preferred_date": "", "preferred_time": "any", "days_ahead": 7 }.
b. cancel_appointment
   - args: { target, target_date (optional) }
   - target: "next" for "cancel my next appointment"; target: "date" plus target_date (YYYY-MM-DD) for a named day.
c. show_appointments
   - args: optionally { from_date, to_date }
d. show_my_schedule
   - args: { target_date (optional), days_ahead (optional) }
e. reactivate_time_segment
   - args: { slot_time }  <- ISO format like "2025-07-27T13:00". If the doctor is vague, return { "slot_time": "" }.
f. reschedule_appointment
   - args: { target, target_date, preferred_date, preferred_time }
   - If the user did not say which appointment, use target: "next".
g. create_event
   - args: { preferred_date, preferred_time, description }
h. cancel_event
   - args: { preferred_date, preferred_time }
i. general_chat
   - args: { type }  <- one of intro | help | "" (e.g. when the user says "what can you do", "thanks")

--- TIME & DATE ARGUMENTS ---
- preferred_date is always YYYY-MM-DD; preferred_time is "morning", "afternoon", "evening" or "14:00" when precise.
- If the user did not give enough information, leave the fields empty and the system will follow up.

--- SLOT SELECTION RULES ---
- If a numbered slot list was presented in a previous turn and the user answers with a number, return slot_index, not a new search.

--- SAFETY RULES ---
- Do NOT ask for login, password, or email.
- Do NOT invent names, IDs, or doctor information.
- Do NOT return multiple actions, prose, or partial code. Always include the "arguments" key.`

// GeminiExtractor implements Extractor on the Gemini API.
type GeminiExtractor struct {
	client  *genai.Client
	modelID string
}

// NewGeminiExtractor dials Gemini. modelID may be empty.
func NewGeminiExtractor(ctx context.Context, apiKey, modelID string) (*GeminiExtractor, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("intent: gemini api key is required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = defaultModelID
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("intent: create gemini client: %w", err)
	}
	return &GeminiExtractor{client: client, modelID: modelID}, nil
}

// Close releases the underlying API client.
func (e *GeminiExtractor) Close() error { return e.client.Close() }

// Extract asks the model for one JSON action block and decodes it leniently.
func (e *GeminiExtractor) Extract(ctx context.Context, req Request) (Intent, error) {
	model := e.client.GenerativeModel(e.modelID)
	model.SetTemperature(0)
	model.ResponseMIMEType = "application/json"

	task := req.CurrentTask
	if task == "" {
		task = "none"
	}
	model.SystemInstruction = genai.NewUserContent(genai.Text(fmt.Sprintf(
		systemPromptTemplate, req.Role, req.Today, req.Timezone, task,
	)))

	cs := model.StartChat()
	for _, turn := range req.History {
		if strings.TrimSpace(turn.Input) != "" {
			cs.History = append(cs.History, &genai.Content{
				Role:  "user",
				Parts: []genai.Part{genai.Text(turn.Input)},
			})
		}
		if strings.TrimSpace(turn.Response) != "" {
			cs.History = append(cs.History, &genai.Content{
				Role:  "model",
				Parts: []genai.Part{genai.Text(turn.Response)},
			})
		}
	}

	resp, err := cs.SendMessage(ctx, genai.Text(req.Message))
	if err != nil {
		return Intent{}, fmt.Errorf("intent: gemini extraction failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Intent{}, errors.New("intent: gemini returned no candidates")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	return parseIntent(text.String())
}
