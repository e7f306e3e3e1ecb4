package sinks

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/JakeFAU/webwalker/internal/crawler"
)

// Status is a point-in-time view of the current (or last) run.
type Status struct {
	RunID     string           `json:"run_id"`
	Run       string           `json:"run"`
	Running   bool             `json:"running"`
	Abnormal  bool             `json:"abnormal"`
	StartedAt time.Time        `json:"started_at"`
	StoppedAt time.Time        `json:"stopped_at,omitzero"`
	LastURL   string           `json:"last_url,omitempty"`
	Counts    map[string]int64 `json:"counts"`
}

// StatusSink keeps the Status of the most recent run in memory.
type StatusSink struct {
	mu     sync.RWMutex
	status Status
}

// NewStatusSink returns an empty StatusSink.
func NewStatusSink() *StatusSink {
	return &StatusSink{status: Status{Counts: map[string]int64{}}}
}

// Consume folds the batch into the status.
func (s *StatusSink) Consume(_ context.Context, batch []crawler.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		switch evt.Kind {
		case crawler.EventRunStarted:
			s.status = Status{
				RunID:     evt.RunID,
				Run:       evt.Payload,
				Running:   true,
				StartedAt: evt.TS,
				Counts:    map[string]int64{},
			}
		case crawler.EventRunStopped:
			s.status.Running = false
			s.status.Abnormal = evt.Abnormal
			s.status.StoppedAt = evt.TS
		default:
			s.status.Counts[string(evt.Kind)]++
			if evt.Kind == crawler.EventProcessingCompleted {
				s.status.LastURL = evt.URL()
			}
		}
	}
	return nil
}

// Snapshot returns a copy of the current status.
func (s *StatusSink) Snapshot() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.status
	out.Counts = maps.Clone(s.status.Counts)
	return out
}

// Close implements the Subscriber interface; it performs no action.
func (s *StatusSink) Close(context.Context) error {
	return nil
}
