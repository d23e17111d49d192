package narrator

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// echoToolPrefix marks user input that carries literal tool calls.
const echoToolPrefix = "tool:"

// Echo is an offline [Narrator]. It answers "Echo: <input>" and, when the
// input starts with "tool:" followed by a JSON object or array, proposes those
// objects as tool calls. Calls without an id get a random one.
type Echo struct{}

var _ Narrator = Echo{}

// Generate implements [Narrator].
func (Echo) Generate(ctx context.Context, req Request) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Output{
		AssistantText: "Echo: " + req.UserInput,
		ToolCalls:     echoToolCalls(req.UserInput),
	}, nil
}

func echoToolCalls(input string) []map[string]any {
	calls := []map[string]any{}
	rest, ok := strings.CutPrefix(strings.TrimSpace(input), echoToolPrefix)
	if !ok {
		return calls
	}

	var payload any
	if err := json.Unmarshal([]byte(strings.TrimSpace(rest)), &payload); err != nil {
		return calls
	}
	switch v := payload.(type) {
	case map[string]any:
		calls = append(calls, v)
	case []any:
		calls = objects(v)
	}

	for _, c := range calls {
		if id, _ := c["id"].(string); id == "" {
			c["id"] = uuid.NewString()
		}
	}
	return calls
}
