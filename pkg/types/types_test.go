package types

import (
	"encoding/json"
	"testing"
)

func TestAppliedAction_ResultInt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		value  any
		want   int
		wantOK bool
	}{
		{"int", 7, 7, true},
		{"negative int", -5, -5, true},
		{"integral float", float64(3), 3, true},
		{"fractional float", 2.5, 0, false},
		{"json number", json.Number("12"), 12, true},
		{"string", "12", 0, false},
		{"missing", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := AppliedAction{Result: map[string]any{}}
			if tt.value != nil {
				a.Result["new_hp"] = tt.value
			}
			got, ok := a.ResultInt("new_hp")
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("ResultInt = (%d, %v), want (%d, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestAppliedAction_ResultIntAfterJSON(t *testing.T) {
	t.Parallel()

	in := AppliedAction{Tool: "hp_delta", Result: map[string]any{"new_hp": -5}}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out AppliedAction
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if got, ok := out.ResultInt("new_hp"); !ok || got != -5 {
		t.Errorf("ResultInt after round trip = (%d, %v), want (-5, true)", got, ok)
	}
}
