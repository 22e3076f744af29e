package actions

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"board-room/domain"
)

func decode(data json.RawMessage, v any) error {
	if isNull(data) {
		return domain.Validation("Missing action data")
	}
	if err := sonic.Unmarshal(data, v); err != nil {
		return domain.Validation("Malformed action data")
	}
	return nil
}

func isNull(data json.RawMessage) bool {
	s := strings.TrimSpace(string(data))
	return s == "" || s == "null"
}

func required(value, field string) error {
	if strings.TrimSpace(value) == "" {
		return domain.Validation("%s cannot be empty", field)
	}
	return nil
}

// presentKeys reports which top-level keys a JSON object carries, so a field
// explicitly set to null can be told apart from an absent one.
func presentKeys(data json.RawMessage) map[string]json.RawMessage {
	keys := map[string]json.RawMessage{}
	_ = sonic.Unmarshal(data, &keys)
	return keys
}

// nullableTime reads an optional date: absent, explicitly null, or a timestamp.
func nullableTime(keys map[string]json.RawMessage, name string) (set, clear bool, at *time.Time, err error) {
	raw, ok := keys[name]
	if !ok {
		return false, false, nil, nil
	}
	if isNull(raw) {
		return true, true, nil, nil
	}
	var t time.Time
	if err := sonic.Unmarshal(raw, &t); err != nil {
		return false, false, nil, domain.Validation("Invalid %s", name)
	}
	return true, false, &t, nil
}

func nullableString(keys map[string]json.RawMessage, name string) (set, clear bool, value *string, err error) {
	raw, ok := keys[name]
	if !ok {
		return false, false, nil, nil
	}
	if isNull(raw) {
		return true, true, nil, nil
	}
	var s string
	if err := sonic.Unmarshal(raw, &s); err != nil {
		return false, false, nil, domain.Validation("Invalid %s", name)
	}
	if s == "" {
		return true, true, nil, nil
	}
	return true, false, &s, nil
}
