package crawler

import (
	"errors"
	"fmt"
	"time"
)

// EventKind names a lifecycle notification. Router message factories may
// introduce their own kinds.
type EventKind string

// Core event kinds.
const (
	EventRunStarted          EventKind = "RUN_STARTED"
	EventRunStopped          EventKind = "RUN_STOPPED"
	EventProcessingStarted   EventKind = "PROCESSING_STARTED"
	EventProcessingCompleted EventKind = "PROCESSING_COMPLETED"
	EventProcessingSkipped   EventKind = "PROCESSING_SKIPPED"
	EventResourceRecovered   EventKind = "RESOURCE_RECOVERED"
	EventSuccessorsComplete  EventKind = "SUCCESSORS_COMPLETE"
)

// Event is an immutable lifecycle notification. Resource, when present, is
// a detached clone taken at publish time.
type Event struct {
	Kind EventKind `json:"kind"`
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time `json:"ts"`
	// RunID identifies the run for run-level events.
	RunID string `json:"run_id,omitempty"`
	// Payload is the run name for run-level events.
	Payload      string    `json:"payload,omitempty"`
	Abnormal     bool      `json:"abnormal,omitempty"`
	Resource     *Resource `json:"resource,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	WasProcessed bool      `json:"was_processed,omitempty"`
	// Parent is the address whose successors all finished processing.
	Parent string `json:"parent,omitempty"`
}

// RunStarted announces the start of a run.
func RunStarted(runID, payload string) Event {
	return Event{Kind: EventRunStarted, TS: now(), RunID: runID, Payload: payload}
}

// RunStopped announces the end of a run; abnormal marks a failure.
func RunStopped(runID, payload string, abnormal bool) Event {
	return Event{Kind: EventRunStopped, TS: now(), RunID: runID, Payload: payload, Abnormal: abnormal}
}

// ProcessingStarted announces that r passed every filter.
func ProcessingStarted(r *Resource) Event {
	return ResourceEvent(EventProcessingStarted, r)
}

// ProcessingCompleted announces that r's step returned.
func ProcessingCompleted(r *Resource) Event {
	return ResourceEvent(EventProcessingCompleted, r)
}

// ProcessingSkipped announces that r was filtered out.
func ProcessingSkipped(r *Resource, reason string) Event {
	evt := ResourceEvent(EventProcessingSkipped, r)
	evt.Reason = reason
	return evt
}

// ResourceRecovered announces a resource read back from a recovery archive.
func ResourceRecovered(r *Resource, wasProcessed bool) Event {
	evt := ResourceEvent(EventResourceRecovered, r)
	evt.WasProcessed = wasProcessed
	return evt
}

// SuccessorsComplete announces that every child of parent was processed.
// r is the edge value recorded for the child that completed last.
func SuccessorsComplete(parent string, r *Resource) Event {
	evt := ResourceEvent(EventSuccessorsComplete, r)
	evt.Parent = parent
	return evt
}

// ResourceEvent builds an event of any kind around a clone of r.
func ResourceEvent(kind EventKind, r *Resource) Event {
	return Event{Kind: kind, TS: now(), Resource: r.Clone()}
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.Kind == "" {
		return errors.New("event kind is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case EventRunStarted, EventRunStopped:
		if e.Payload == "" {
			return fmt.Errorf("%s requires payload", e.Kind)
		}
	case EventProcessingStarted, EventProcessingCompleted, EventResourceRecovered:
		if e.Resource == nil {
			return fmt.Errorf("%s requires resource", e.Kind)
		}
	case EventSuccessorsComplete:
		if e.Resource == nil || e.Parent == "" {
			return fmt.Errorf("%s requires resource and parent", e.Kind)
		}
	case EventProcessingSkipped:
		if e.Resource == nil {
			return fmt.Errorf("%s requires resource", e.Kind)
		}
		if e.Reason == "" {
			return fmt.Errorf("%s requires reason", e.Kind)
		}
	}
	return nil
}

// URL returns the resource address carried by the event, if any.
func (e Event) URL() string {
	if e.Resource == nil {
		return ""
	}
	return e.Resource.URL
}

func now() time.Time {
	return time.Now().UTC()
}
