// Package jsonutil holds helpers for JSON produced by language models,
// which does not always respect the requested field types.
package jsonutil

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// FlexibleStringValue converts a raw JSON value to a string. Models asked
// for a string field occasionally emit a number or boolean instead; those
// are rendered verbatim. Null and absent values become "".
func FlexibleStringValue(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}

	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err == nil {
		switch t := v.(type) {
		case json.Number:
			return t.String()
		case bool:
			return strconv.FormatBool(t)
		}
	}

	return string(trimmed)
}
