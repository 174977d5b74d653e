package configprojection

import (
	"reflect"
	"testing"
)

func TestMerge_ConfigOptionsIntoEmptyMetadata(t *testing.T) {
	snapshot := map[string]any{
		"configOptions": []any{
			map[string]any{
				"type":         "select",
				"category":     "mode",
				"currentValue": "code",
				"options": []any{
					map[string]any{"value": "ask", "name": "Ask"},
					map[string]any{"value": "code", "name": "Code"},
				},
			},
			map[string]any{
				"type":         "select",
				"category":     "model",
				"currentValue": "opus",
				"options": []any{
					map[string]any{"value": "sonnet", "name": "Sonnet"},
					map[string]any{"value": "opus", "name": "Opus"},
				},
			},
		},
	}

	got := Merge(&Metadata{}, snapshot)

	wantModes := []Option{{Code: "ask", Value: "Ask"}, {Code: "code", Value: "Code"}}
	if !reflect.DeepEqual(got.OperatingModes, wantModes) {
		t.Errorf("OperatingModes = %+v, want %+v", got.OperatingModes, wantModes)
	}
	if got.CurrentOperatingModeCode != "code" {
		t.Errorf("CurrentOperatingModeCode = %q, want %q", got.CurrentOperatingModeCode, "code")
	}
	wantModels := []Option{{Code: "sonnet", Value: "Sonnet"}, {Code: "opus", Value: "Opus"}}
	if !reflect.DeepEqual(got.Models, wantModels) {
		t.Errorf("Models = %+v, want %+v", got.Models, wantModels)
	}
	if got.CurrentModelCode != "opus" {
		t.Errorf("CurrentModelCode = %q, want %q", got.CurrentModelCode, "opus")
	}
}

func TestMerge_ConfigOptionsOverridesLegacyModes(t *testing.T) {
	snapshot := map[string]any{
		"configOptions": []any{
			map[string]any{
				"type":         "select",
				"category":     "mode",
				"currentValue": "code",
				"options": []any{
					map[string]any{"value": "code", "name": "Code"},
				},
			},
		},
		"modes": map[string]any{
			"availableModes": []any{
				map[string]any{"id": "ask", "name": "Ask"},
			},
			"currentModeId": "ask",
		},
	}

	got := Merge(&Metadata{}, snapshot)

	wantModes := []Option{{Code: "code", Value: "Code"}}
	if !reflect.DeepEqual(got.OperatingModes, wantModes) {
		t.Errorf("OperatingModes = %+v, want %+v (configOptions should win)", got.OperatingModes, wantModes)
	}
	if got.CurrentOperatingModeCode != "code" {
		t.Errorf("CurrentOperatingModeCode = %q, want %q", got.CurrentOperatingModeCode, "code")
	}
}

func TestMerge_LegacyFallbackWhenConfigOptionsAbsent(t *testing.T) {
	snapshot := map[string]any{
		"modes": map[string]any{
			"availableModes": []any{
				map[string]any{"id": "ask", "name": "Ask"},
			},
			"currentModeId": "ask",
		},
	}
	got := Merge(&Metadata{}, snapshot)
	wantModes := []Option{{Code: "ask", Value: "Ask"}}
	if !reflect.DeepEqual(got.OperatingModes, wantModes) {
		t.Errorf("OperatingModes = %+v, want %+v", got.OperatingModes, wantModes)
	}
	if got.CurrentOperatingModeCode != "ask" {
		t.Errorf("CurrentOperatingModeCode = %q, want %q", got.CurrentOperatingModeCode, "ask")
	}
}

func TestMerge_BareCurrentModeIdOverridesLast(t *testing.T) {
	snapshot := map[string]any{
		"configOptions": []any{
			map[string]any{
				"type":         "select",
				"category":     "mode",
				"currentValue": "code",
				"options":      []any{map[string]any{"value": "code", "name": "Code"}, map[string]any{"value": "ask", "name": "Ask"}},
			},
		},
		"currentModeId": "ask",
	}
	got := Merge(&Metadata{}, snapshot)
	if got.CurrentOperatingModeCode != "ask" {
		t.Errorf("CurrentOperatingModeCode = %q, want %q (bare currentModeId overrides last)", got.CurrentOperatingModeCode, "ask")
	}
}

func TestMerge_CategoriesAbsentFromBothAreDeleted(t *testing.T) {
	existing := &Metadata{
		Models:           []Option{{Code: "opus", Value: "Opus"}},
		CurrentModelCode: "opus",
	}
	got := Merge(existing, map[string]any{})
	if got.Models != nil {
		t.Errorf("Models = %+v, want nil (deleted, not reset-to-empty-but-kept)", got.Models)
	}
	if got.CurrentModelCode != "" {
		t.Errorf("CurrentModelCode = %q, want empty", got.CurrentModelCode)
	}
}

func TestMerge_RoundTripIsFixedPoint(t *testing.T) {
	snapshot := map[string]any{
		"configOptions": []any{
			map[string]any{
				"type":         "select",
				"category":     "mode",
				"currentValue": "code",
				"options":      []any{map[string]any{"value": "code", "name": "Code"}},
			},
		},
	}
	first := Merge(&Metadata{}, snapshot)
	second := Merge(first, snapshot)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("merging the same snapshot twice is not a fixed point: first=%+v second=%+v", first, second)
	}
}

func TestMerge_GroupedConfigOptionsFlatten(t *testing.T) {
	snapshot := map[string]any{
		"configOptions": []any{
			map[string]any{
				"label": "group",
				"options": []any{
					map[string]any{
						"type":         "select",
						"category":     "model",
						"currentValue": "opus",
						"options":      []any{map[string]any{"value": "opus", "name": "Opus"}},
					},
				},
			},
		},
	}
	got := Merge(&Metadata{}, snapshot)
	if len(got.Models) != 1 || got.Models[0].Code != "opus" {
		t.Errorf("Models = %+v, want [{opus Opus}] flattened from grouped entry", got.Models)
	}
}

func TestExtractConfigOptionsFromPayload(t *testing.T) {
	if got := ExtractConfigOptionsFromPayload([]any{"a"}); len(got) != 1 {
		t.Errorf("bare array: got %v", got)
	}
	if got := ExtractConfigOptionsFromPayload(map[string]any{"configOptions": []any{"a", "b"}}); len(got) != 2 {
		t.Errorf("wrapped object: got %v", got)
	}
	if got := ExtractConfigOptionsFromPayload(nil); got != nil {
		t.Errorf("nil payload: got %v, want nil", got)
	}
}
