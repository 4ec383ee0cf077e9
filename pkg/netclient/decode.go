package netclient

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// maxSchemaKeys bounds how many object keys a SchemaError reports.
const maxSchemaKeys = 8

// SchemaError describes a payload that is neither a list nor an object
// wrapping one. PayloadKeys holds up to maxSchemaKeys sorted keys when the
// payload was an object.
type SchemaError struct {
	PayloadType string
	PayloadKeys []string
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	if len(e.PayloadKeys) == 0 {
		return fmt.Sprintf("unexpected payload shape: %s", e.PayloadType)
	}
	return fmt.Sprintf("unexpected payload shape: %s with keys [%s]", e.PayloadType, strings.Join(e.PayloadKeys, " "))
}

// DecodeList decodes a payload that is either a bare JSON array or an
// object with the array under "data". Anything else yields a *SchemaError
// describing what arrived instead.
func DecodeList[T any](raw json.RawMessage) ([]T, error) {
	switch payloadType(raw) {
	case "array":
		var list []T
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("failed to decode list: %w", err)
		}
		return list, nil
	case "object":
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("failed to decode object: %w", err)
		}
		if data, ok := obj["data"]; ok && payloadType(data) == "array" {
			var list []T
			if err := json.Unmarshal(data, &list); err != nil {
				return nil, fmt.Errorf("failed to decode list: %w", err)
			}
			return list, nil
		}
		return nil, &SchemaError{PayloadType: "object", PayloadKeys: objectKeys(obj)}
	default:
		return nil, &SchemaError{PayloadType: payloadType(raw)}
	}
}

// payloadType names the JSON type of the first value in raw.
func payloadType(raw json.RawMessage) string {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '[':
			return "array"
		case '{':
			return "object"
		case '"':
			return "string"
		case 't', 'f':
			return "boolean"
		case 'n':
			return "null"
		default:
			return "number"
		}
	}
	return "empty"
}

func objectKeys(obj map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > maxSchemaKeys {
		keys = keys[:maxSchemaKeys]
	}
	return keys
}
