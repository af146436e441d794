// Package bus provides the domain event types and an ordered, lossless
// multi-subscriber broadcast bus. Collaborators (dataset manager, playbook
// runner, app lifecycle) publish events; the automation engine consumes them.
//
// Every subscriber observes every event published after its subscription was
// created, in publish order. Events arriving while a subscriber is busy are
// queued, never dropped.
package bus

import (
	"encoding/json"
	"fmt"
)

// Dataset identifies a mounted dataset. Path is the identity used for
// action dedup - renaming a dataset produces a new identity.
type Dataset struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
}

// RunStats summarizes a finished playbook run over a dataset.
type RunStats struct {
	Dataset        Dataset `json:"dataset"`
	NullRatio      float64 `json:"null_ratio"`
	ImagesProduced int     `json:"images_produced"`
}

// Event is the sum type of domain events carried by the bus.
// Implementations are immutable value types.
type Event interface {
	// Kind returns the stable wire name of the event.
	Kind() string
}

// DatasetMounted is published when a dataset becomes available.
type DatasetMounted struct {
	Dataset Dataset `json:"dataset"`
}

// RunFinished is published when a playbook run completes.
type RunFinished struct {
	Stats RunStats `json:"stats"`
}

// AppBecameActive is published when the host application gains focus.
type AppBecameActive struct{}

// ErrorOccurred is published when a collaborator reports an error.
type ErrorOccurred struct {
	Message string `json:"message"`
}

func (DatasetMounted) Kind() string  { return "dataset_mounted" }
func (RunFinished) Kind() string     { return "run_finished" }
func (AppBecameActive) Kind() string { return "app_became_active" }
func (ErrorOccurred) Kind() string   { return "error_occurred" }

// envelope is the wire format for events: {"kind": ..., <payload fields>}.
type envelope struct {
	Kind string `json:"kind"`
}

// ParseEvent decodes a JSON-encoded event envelope into its concrete type.
// Used by the watch command to ingest events from stdin.
func ParseEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse event envelope: %w", err)
	}

	switch env.Kind {
	case "dataset_mounted":
		var ev DatasetMounted
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("failed to parse dataset_mounted event: %w", err)
		}
		return ev, nil
	case "run_finished":
		var ev RunFinished
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("failed to parse run_finished event: %w", err)
		}
		return ev, nil
	case "app_became_active":
		return AppBecameActive{}, nil
	case "error_occurred":
		var ev ErrorOccurred
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("failed to parse error_occurred event: %w", err)
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("unknown event kind: %q", env.Kind)
	}
}
