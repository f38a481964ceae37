package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

var (
	_ sql.Scanner   = (*TaskResult)(nil)
	_ driver.Valuer = TaskResult{}
	_ sql.Scanner   = (*TaskError)(nil)
	_ driver.Valuer = TaskError{}
)

// scanJSONB scans a JSONB database value into dest.
// It accepts both []byte and string representations.
func scanJSONB(dest interface{}, value interface{}) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, dest)
}

func valueJSONB(v interface{}) (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Scan implements sql.Scanner for TaskResult.
func (r *TaskResult) Scan(value interface{}) error {
	return scanJSONB(r, value)
}

// Value implements driver.Valuer for TaskResult.
func (r TaskResult) Value() (driver.Value, error) {
	return valueJSONB(r)
}

// Scan implements sql.Scanner for TaskError.
func (e *TaskError) Scan(value interface{}) error {
	return scanJSONB(e, value)
}

// Value implements driver.Valuer for TaskError.
func (e TaskError) Value() (driver.Value, error) {
	return valueJSONB(e)
}

// DecodeTaskResult decodes a nullable JSONB column. Empty input yields nil.
// The decoded union must be internally consistent.
func DecodeTaskResult(raw []byte) (*TaskResult, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var r TaskResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode task result: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("decode task result: %w", err)
	}
	return &r, nil
}

// DecodeTaskError decodes a nullable JSONB column. Empty input yields nil.
func DecodeTaskError(raw []byte) (*TaskError, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var e TaskError
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode task error: %w", err)
	}
	return &e, nil
}
