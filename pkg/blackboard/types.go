package blackboard

import (
	"encoding/json"
	"fmt"
)

// Fact is a typed key/value entry on the blackboard. Writes have upsert
// semantics: the last write for a key wins, and every write emits a
// fact_upserted event even when the value is unchanged.
type Fact struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
	Type  string          `json:"type"`
}

// Artifact is a named work product (file on disk) recorded on the
// blackboard. Artifacts are append-only: duplicates by name are allowed and
// both remain queryable.
type Artifact struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Path string `json:"path"`
}

// EventKind discriminates blackboard change events.
type EventKind string

const (
	// EventFactUpserted is emitted on every fact write.
	EventFactUpserted EventKind = "fact_upserted"

	// EventArtifactAdded is emitted on every artifact append.
	EventArtifactAdded EventKind = "artifact_added"
)

// Event is a blackboard change notification. Key is set for fact events,
// Name for artifact events.
type Event struct {
	Kind EventKind `json:"kind"`
	Key  string    `json:"key,omitempty"`
	Name string    `json:"name,omitempty"`
}

// Subject returns the fact key or artifact name the event refers to.
func (e Event) Subject() string {
	if e.Kind == EventFactUpserted {
		return e.Key
	}
	return e.Name
}

// Validate checks if the Fact has valid field values.
func (f *Fact) Validate() error {
	if f.Key == "" {
		return fmt.Errorf("fact key cannot be empty")
	}
	if f.Type == "" {
		return fmt.Errorf("fact type cannot be empty")
	}
	if len(f.Value) == 0 {
		return fmt.Errorf("fact value cannot be empty")
	}
	if !json.Valid(f.Value) {
		return fmt.Errorf("fact value is not valid JSON")
	}
	return nil
}

// Validate checks if the Artifact has valid field values.
func (a *Artifact) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("artifact name cannot be empty")
	}
	if a.Type == "" {
		return fmt.Errorf("artifact type cannot be empty")
	}
	if a.Path == "" {
		return fmt.Errorf("artifact path cannot be empty")
	}
	return nil
}

// Validate checks if the EventKind is a valid enum value.
func (k EventKind) Validate() error {
	switch k {
	case EventFactUpserted, EventArtifactAdded:
		return nil
	default:
		return fmt.Errorf("unknown event kind: %q", k)
	}
}

// StringFact builds a fact holding a JSON string value.
func StringFact(key, value string) Fact {
	raw, _ := json.Marshal(value)
	return Fact{Key: key, Value: raw, Type: "string"}
}

// NumberFact builds a fact holding a JSON number value.
func NumberFact(key string, value float64) Fact {
	raw, _ := json.Marshal(value)
	return Fact{Key: key, Value: raw, Type: "number"}
}

// Float decodes the fact's value as a number.
func (f *Fact) Float() (float64, error) {
	var v float64
	if err := json.Unmarshal(f.Value, &v); err != nil {
		return 0, fmt.Errorf("fact %q does not hold a number: %w", f.Key, err)
	}
	return v, nil
}

// Text decodes the fact's value as a string.
func (f *Fact) Text() (string, error) {
	var v string
	if err := json.Unmarshal(f.Value, &v); err != nil {
		return "", fmt.Errorf("fact %q does not hold a string: %w", f.Key, err)
	}
	return v, nil
}
