package session

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const maxNameLength = 128

// ValidateName checks that name can be used as a session identifier.
// The empty name is handled by the stores as "no session" and is not
// accepted here.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	case len(name) > maxNameLength:
		return fmt.Errorf("%w: name longer than %d bytes", ErrInvalidName, maxNameLength)
	case strings.Contains(name, ".."):
		return fmt.Errorf("%w: name cannot contain '..'", ErrInvalidName)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: name cannot start with '.'", ErrInvalidName)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: name cannot contain path separators", ErrInvalidName)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: name cannot contain null bytes", ErrInvalidName)
	}
	return nil
}

// transcriptSchema describes the version 1 document.
const transcriptSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["version", "exchanges"],
  "properties": {
    "version": {"type": "integer", "enum": [1]},
    "name": {"type": "string"},
    "last_model_used": {"type": "string"},
    "created_at": {"type": "string", "format": "date-time"},
    "updated_at": {"type": "string", "format": "date-time"},
    "exchanges": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["task", "response", "timestamp"],
        "properties": {
          "id": {"type": "string"},
          "task": {"type": "string"},
          "context_digest": {"type": "string"},
          "context_bytes": {"type": "integer", "minimum": 0},
          "context_truncated": {"type": "boolean"},
          "image_ref": {"type": "string"},
          "response": {"type": "string"},
          "model": {"type": "string"},
          "backend": {"type": "string"},
          "timestamp": {"type": "string", "format": "date-time"}
        }
      }
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(transcriptSchema)

func encodeTranscript(name string, t Transcript) ([]byte, error) {
	t.Version = FormatVersion
	t.Name = name
	if t.Exchanges == nil {
		t.Exchanges = []Exchange{}
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// decodeTranscript validates data against the schema before decoding so
// that corruption reports name the offending field.
func decodeTranscript(name, where string, data []byte) (Transcript, error) {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return Transcript{}, fmt.Errorf("%w: %s: %v", ErrCorruptSession, where, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return Transcript{}, fmt.Errorf("%w: %s: %s", ErrCorruptSession, where, strings.Join(msgs, "; "))
	}

	var t Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return Transcript{}, fmt.Errorf("%w: %s: %v", ErrCorruptSession, where, err)
	}
	if t.Name == "" {
		t.Name = name
	}
	if t.Exchanges == nil {
		t.Exchanges = []Exchange{}
	}
	return t, nil
}
