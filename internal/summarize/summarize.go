// Package summarize renders a structured handler outcome as the natural
// language reply the user actually sees.
package summarize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/pahuang-96485/clinic-scheduler/internal/actions"
	"github.com/pahuang-96485/clinic-scheduler/internal/session"
)

const defaultModelID = "gemini-2.5-flash"

const systemPrompt = `You are a helpful clinical assistant inside a scheduling system.
The current user is a **%s**.

You will be given the user's original request and a structured JSON output
from the system (such as slot availability or booking status).

Your task is to:
- summarize the result in natural language
- be concise (under 50 words), polite, and user-friendly
- NOT show any internal IDs or JSON keys`

// Request is one outcome to render.
type Request struct {
	Message string
	Outcome actions.Outcome
	History []session.ChatTurn
	Role    string
}

// Summarizer renders an outcome into reply text.
type Summarizer interface {
	Summarize(ctx context.Context, req Request) (string, error)
}

// GeminiSummarizer implements Summarizer on the Gemini API. Replies the
// handler marked verbatim are passed through untouched, never rephrased.
type GeminiSummarizer struct {
	client  *genai.Client
	modelID string
}

// NewGeminiSummarizer dials Gemini. modelID may be empty.
func NewGeminiSummarizer(ctx context.Context, apiKey, modelID string) (*GeminiSummarizer, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("summarize: gemini api key is required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = defaultModelID
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("summarize: create gemini client: %w", err)
	}
	return &GeminiSummarizer{client: client, modelID: modelID}, nil
}

// Close releases the underlying API client.
func (s *GeminiSummarizer) Close() error { return s.client.Close() }

// Summarize renders the outcome. A slot list the handler already formatted
// must reach the user exactly as written, so those skip the model entirely.
func (s *GeminiSummarizer) Summarize(ctx context.Context, req Request) (string, error) {
	if req.Outcome.VerbatimReply {
		return req.Outcome.Reply, nil
	}

	payload, err := outcomePayload(req.Outcome)
	if err != nil {
		return "", err
	}

	model := s.client.GenerativeModel(s.modelID)
	model.SystemInstruction = genai.NewUserContent(genai.Text(fmt.Sprintf(systemPrompt, req.Role)))

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

	prompt := fmt.Sprintf("User request: %s\n\nSystem result:\n%s", req.Message, payload)
	resp, err := cs.SendMessage(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("summarize: gemini call failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("summarize: gemini returned no candidates")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	out := strings.TrimSpace(text.String())
	if out == "" {
		return "", errors.New("summarize: gemini returned empty text")
	}
	return out, nil
}

// outcomePayload is the JSON the model sees. Only display-safe fields go in;
// identifiers stay out.
func outcomePayload(out actions.Outcome) (string, error) {
	view := map[string]any{
		"status": string(out.Kind),
		"reply":  out.Reply,
	}
	if len(out.Appointments) > 0 {
		appts := make([]map[string]string, len(out.Appointments))
		for i, a := range out.Appointments {
			appts[i] = map[string]string{"time": a.LocalTime, "with": a.Name}
		}
		view["appointments"] = appts
	}
	if len(out.Schedule) > 0 {
		sched := make([]map[string]string, len(out.Schedule))
		for i, e := range out.Schedule {
			row := map[string]string{"time": e.LocalTime, "status": e.Status}
			if e.PatientName != "" {
				row["patient"] = e.PatientName
			}
			if e.Description != "" {
				row["event"] = e.Description
			}
			sched[i] = row
		}
		view["schedule"] = sched
	}
	data, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return "", fmt.Errorf("summarize: encode outcome: %w", err)
	}
	return string(data), nil
}
