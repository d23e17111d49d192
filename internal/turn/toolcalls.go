package turn

import "github.com/MrWong99/arbiter/pkg/types"

// ParseToolCalls converts narrator tool call objects into [types.ToolCall]s.
// Entries whose id or tool is not a string, whose args is not an object, or
// whose reason is present but not a string are dropped.
func ParseToolCalls(raw []map[string]any) []types.ToolCall {
	out := make([]types.ToolCall, 0, len(raw))
	for _, m := range raw {
		id, ok := m["id"].(string)
		if !ok {
			continue
		}
		tool, ok := m["tool"].(string)
		if !ok {
			continue
		}
		args, ok := m["args"].(map[string]any)
		if !ok {
			continue
		}
		var reason string
		if r, present := m["reason"]; present && r != nil {
			if reason, ok = r.(string); !ok {
				continue
			}
		}
		out = append(out, types.ToolCall{ID: id, Tool: tool, Args: args, Reason: reason})
	}
	return out
}
