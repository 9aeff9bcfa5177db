package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap is a schemaless key/value payload stored as a JSON text column.
// The engine never interprets its keys.
type JSONMap map[string]interface{}

// Value implements driver.Valuer
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal json map: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (m *JSONMap) Scan(src interface{}) error {
	if src == nil {
		*m = JSONMap{}
		return nil
	}

	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type for json map: %T", src)
	}

	if len(data) == 0 {
		*m = JSONMap{}
		return nil
	}

	return json.Unmarshal(data, m)
}

// Merge returns a new map containing the receiver's entries overlaid with the
// patch entries. Merging is a shallow key overwrite, never a wholesale
// replacement; neither input is mutated.
func (m JSONMap) Merge(patch JSONMap) JSONMap {
	merged := make(JSONMap, len(m)+len(patch))
	for k, v := range m {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	return merged
}

// Clone returns a shallow copy of the map
func (m JSONMap) Clone() JSONMap {
	if m == nil {
		return JSONMap{}
	}
	cloned := make(JSONMap, len(m))
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}
