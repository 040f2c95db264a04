package models

import (
	"database/sql/driver"
	"fmt"

	json "github.com/goccy/go-json"
)

// JSONStringArray is a custom type for handling JSON string arrays in SQL columns.
type JSONStringArray []string

// Scan implements sql.Scanner for JSONStringArray.
func (j *JSONStringArray) Scan(src interface{}) error {
	data, err := scanBytes("JSONStringArray", src)
	if err != nil || data == nil {
		*j = nil
		return err
	}
	return json.Unmarshal(data, j)
}

// Value implements driver.Valuer for JSONStringArray.
func (j JSONStringArray) Value() (driver.Value, error) {
	if j == nil {
		return "[]", nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// JSONFloatMap is a custom type for handling JSON string->float64 maps in SQL columns.
type JSONFloatMap map[string]float64

// Scan implements sql.Scanner for JSONFloatMap.
func (j *JSONFloatMap) Scan(src interface{}) error {
	data, err := scanBytes("JSONFloatMap", src)
	if err != nil || data == nil {
		*j = nil
		return err
	}
	return json.Unmarshal(data, j)
}

// Value implements driver.Valuer for JSONFloatMap.
func (j JSONFloatMap) Value() (driver.Value, error) {
	if j == nil {
		return "{}", nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// JSONIntMap is a custom type for handling JSON string->int maps in SQL columns.
type JSONIntMap map[string]int

// Scan implements sql.Scanner for JSONIntMap.
func (j *JSONIntMap) Scan(src interface{}) error {
	data, err := scanBytes("JSONIntMap", src)
	if err != nil || data == nil {
		*j = nil
		return err
	}
	return json.Unmarshal(data, j)
}

// Value implements driver.Valuer for JSONIntMap.
func (j JSONIntMap) Value() (driver.Value, error) {
	if j == nil {
		return "{}", nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// scanBytes normalizes the driver value into a byte slice.
// A nil slice with nil error means the column was NULL or empty.
func scanBytes(typeName string, src interface{}) ([]byte, error) {
	if src == nil {
		return nil, nil
	}

	var data []byte
	switch v := src.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return nil, fmt.Errorf("%s: unsupported type %T", typeName, src)
	}

	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}
