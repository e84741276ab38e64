package models

// Blueprint is the frozen question and option order one attempt sees.
type Blueprint struct {
	Seed  int64           `json:"seed"`
	Items []BlueprintItem `json:"items"`
}

// BlueprintItem maps a displayed position back to the original question.
// OptionOrder lists original option keys in the order they are shown.
type BlueprintItem struct {
	Position       int              `json:"position"`
	QuestionID     uint             `json:"question_id"`
	Number         int              `json:"number"`
	Type           QuestionType     `json:"type"`
	SlotKey        string           `json:"slot_key"`
	SituationIndex *int             `json:"situation_index,omitempty"`
	Prompt         string           `json:"prompt,omitempty"`
	Options        []QuestionOption `json:"options,omitempty"`
	OptionOrder    []string         `json:"option_order,omitempty"`
}

// Item returns the entry for slotKey.
func (b *Blueprint) Item(slotKey string) (*BlueprintItem, bool) {
	for i := range b.Items {
		if b.Items[i].SlotKey == slotKey {
			return &b.Items[i], true
		}
	}
	return nil, false
}

// OptionAt resolves a displayed position (0-based) to the original key.
func (it *BlueprintItem) OptionAt(position int) (string, bool) {
	if position < 0 || position >= len(it.OptionOrder) {
		return "", false
	}
	return it.OptionOrder[position], true
}

// HasOption reports whether key is one of the item's options.
func (it *BlueprintItem) HasOption(key string) bool {
	for _, k := range it.OptionOrder {
		if k == key {
			return true
		}
	}
	return false
}
