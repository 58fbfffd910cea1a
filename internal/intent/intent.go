// Package intent turns a free-text patient or doctor message into a single
// structured action with arguments. The output is untrusted by design: the
// dispatcher validates it again.
package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pahuang-96485/clinic-scheduler/internal/session"
)

// Intent is the extractor's structured verdict for one message.
type Intent struct {
	Action    string         `json:"action"`
	Arguments map[string]any `json:"arguments"`
}

// Request bundles the context the extractor needs to disambiguate relative
// dates and multi-turn references.
type Request struct {
	Message     string
	History     []session.ChatTurn
	Today       string // ISO date in the user's zone
	Timezone    string
	Role        string
	CurrentTask string
}

// Extractor resolves one message into an Intent.
type Extractor interface {
	Extract(ctx context.Context, req Request) (Intent, error)
}

// ErrNoIntent means the model output carried no decodable action.
var ErrNoIntent = errors.New("intent: no decodable action in model output")

// parseIntent leniently decodes model output: code fences are stripped and
// anything outside the outermost JSON object is ignored.
func parseIntent(raw string) (Intent, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return Intent{}, ErrNoIntent
	}

	var out Intent
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &out); err != nil {
		return Intent{}, fmt.Errorf("intent: decode model output: %w", err)
	}
	if strings.TrimSpace(out.Action) == "" {
		return Intent{}, ErrNoIntent
	}
	if out.Arguments == nil {
		out.Arguments = map[string]any{}
	}
	return out, nil
}
