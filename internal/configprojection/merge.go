package configprojection

// categoryData accumulates the options and current selection discovered
// for one category (mode, model, thought_level) while flattening a
// configOptions payload.
type categoryData struct {
	options      []Option
	currentValue string
	hasCurrent   bool
}

// Merge folds snapshot into metadata per spec.md §4.5's six ordered
// rules. snapshot is the raw ACP session-state shape:
// {configOptions?, modes?, models?, currentModeId?}. Each category's
// option list is taken from snapshot alone, and categories absent from
// both configOptions and their legacy fallback are deleted from the
// result. A category's current code is carried over from metadata only
// when its source in snapshot names no current value. Merging the same
// snapshot twice is a fixed point.
func Merge(metadata *Metadata, snapshot map[string]any) *Metadata {
	result := metadata.Clone()

	configOptions := ExtractConfigOptionsFromPayload(snapshot["configOptions"])
	flattened := flattenSelectEntries(configOptions)

	applyCategory(result, categoryMode, flattened, extractLegacyModes(snapshot["modes"]))
	applyCategory(result, categoryModel, flattened, extractLegacyModels(snapshot["models"]))
	applyCategory(result, categoryThoughtLevel, flattened, nil)

	// Rule 5: a bare top-level currentModeId overrides
	// currentOperatingModeCode last, regardless of source.
	if currentModeID, ok := snapshot["currentModeId"].(string); ok && currentModeID != "" {
		result.CurrentOperatingModeCode = currentModeID
	}

	return result
}

// applyCategory writes one category's options/current-value into result,
// preferring configOptions over the legacy fallback (rule 4), and
// deleting the category entirely when neither source has it (rule 6).
func applyCategory(result *Metadata, category string, flattened map[string]categoryData, legacy *categoryData) {
	data, fromConfigOptions := flattened[category]
	if !fromConfigOptions {
		if legacy == nil {
			clearCategory(result, category)
			return
		}
		data = *legacy
	}

	switch category {
	case categoryMode:
		result.OperatingModes = data.options
		if data.hasCurrent {
			result.CurrentOperatingModeCode = data.currentValue
		}
	case categoryModel:
		result.Models = data.options
		if data.hasCurrent {
			result.CurrentModelCode = data.currentValue
		}
	case categoryThoughtLevel:
		result.ThoughtLevels = data.options
		if data.hasCurrent {
			result.CurrentThoughtLevelCode = data.currentValue
		}
	}
}

func clearCategory(result *Metadata, category string) {
	switch category {
	case categoryMode:
		result.OperatingModes = nil
		result.CurrentOperatingModeCode = ""
	case categoryModel:
		result.Models = nil
		result.CurrentModelCode = ""
	case categoryThoughtLevel:
		result.ThoughtLevels = nil
		result.CurrentThoughtLevelCode = ""
	}
}

// ExtractConfigOptionsFromPayload accepts either a bare array of config
// option entries or {configOptions: [...]}, returning nil when neither
// shape is present.
func ExtractConfigOptionsFromPayload(payload any) []any {
	switch v := payload.(type) {
	case []any:
		return v
	case map[string]any:
		if arr, ok := v["configOptions"].([]any); ok {
			return arr
		}
	}
	return nil
}

// flattenSelectEntries walks a configOptions array per rule 1: a
// top-level entry whose type is "select" and category is one of
// mode/model/thought_level contributes its own options directly; any
// other entry is treated as a grouping node whose "options" array holds
// further entries to flatten recursively.
func flattenSelectEntries(entries []any) map[string]categoryData {
	result := make(map[string]categoryData)
	for _, raw := range entries {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		typ, _ := entry["type"].(string)
		category, _ := entry["category"].(string)
		if typ == "select" && isRecognizedCategory(category) {
			mergeInto(result, category, extractOptions(entry["options"]), entry["currentValue"])
			continue
		}
		if nested, ok := entry["options"].([]any); ok {
			for cat, data := range flattenSelectEntries(nested) {
				mergeInto(result, cat, data.options, optionalCurrentValue(data))
			}
		}
	}
	return result
}

func optionalCurrentValue(data categoryData) any {
	if !data.hasCurrent {
		return nil
	}
	return data.currentValue
}

func mergeInto(result map[string]categoryData, category string, options []Option, currentValue any) {
	data := result[category]
	data.options = append(data.options, options...)
	if cv, ok := currentValue.(string); ok && cv != "" {
		data.currentValue = cv
		data.hasCurrent = true
	}
	result[category] = data
}

func isRecognizedCategory(category string) bool {
	switch category {
	case categoryMode, categoryModel, categoryThoughtLevel:
		return true
	default:
		return false
	}
}

// extractOptions maps {value→code, name→value, description} across an
// options array.
func extractOptions(raw any) []Option {
	arr, ok := raw.([]any)
	if !ok {
		return nil
	}
	options := make([]Option, 0, len(arr))
	for _, item := range arr {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		value, _ := m["value"].(string)
		name, _ := m["name"].(string)
		description, _ := m["description"].(string)
		if value == "" {
			continue
		}
		options = append(options, Option{Code: value, Value: name, Description: description})
	}
	return options
}

// extractLegacyModes validates and extracts {availableModes, currentModeId}
// from the legacy modes state, returning nil when required fields are
// absent.
func extractLegacyModes(raw any) *categoryData {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	available, ok := m["availableModes"].([]any)
	if !ok {
		return nil
	}
	options := make([]Option, 0, len(available))
	for _, item := range available {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := entry["id"].(string)
		name, _ := entry["name"].(string)
		description, _ := entry["description"].(string)
		if id == "" {
			continue
		}
		options = append(options, Option{Code: id, Value: name, Description: description})
	}
	data := &categoryData{options: options}
	if currentModeID, ok := m["currentModeId"].(string); ok && currentModeID != "" {
		data.currentValue = currentModeID
		data.hasCurrent = true
	}
	return data
}

// extractLegacyModels validates and extracts
// {availableModels, currentModelId} from the legacy models state.
func extractLegacyModels(raw any) *categoryData {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	available, ok := m["availableModels"].([]any)
	if !ok {
		return nil
	}
	options := make([]Option, 0, len(available))
	for _, item := range available {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		modelID, _ := entry["modelId"].(string)
		name, _ := entry["name"].(string)
		description, _ := entry["description"].(string)
		if modelID == "" {
			continue
		}
		options = append(options, Option{Code: modelID, Value: name, Description: description})
	}
	data := &categoryData{options: options}
	if currentModelID, ok := m["currentModelId"].(string); ok && currentModelID != "" {
		data.currentValue = currentModelID
		data.hasCurrent = true
	}
	return data
}
