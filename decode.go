package skinroutine

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

type validator interface {
	Validate() error
}

// DecodeStrict decodes a single JSON document into v, rejecting unknown
// fields and trailing data, then runs v.Validate. Every failure wraps
// ErrMalformedOutput.
func DecodeStrict(data []byte, v validator) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Malformedf("empty document")
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return Malformedf("decode: %v", err)
	}

	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Malformedf("trailing data after JSON document")
	}

	if err := v.Validate(); err != nil {
		return Malformedf("%v", err)
	}
	return nil
}

// ExtractJSONObject returns the outermost {...} span of s, tolerating prose or
// code fences around it. It returns s unchanged when no object is found.
func ExtractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}
