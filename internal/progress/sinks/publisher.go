package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/webwalker/internal/crawler"
)

// Publisher pushes messages to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// EventMessage is the wire form of a forwarded event. Bodies are left out;
// they travel through the export sink instead.
type EventMessage struct {
	Kind         string    `json:"kind"`
	TS           time.Time `json:"ts"`
	RunID        string    `json:"run_id,omitempty"`
	Run          string    `json:"run,omitempty"`
	Abnormal     bool      `json:"abnormal,omitempty"`
	URL          string    `json:"url,omitempty"`
	Name         string    `json:"name,omitempty"`
	Depth        int       `json:"depth,omitempty"`
	Size         int64     `json:"size,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	WasProcessed bool      `json:"was_processed,omitempty"`
	Parent       string    `json:"parent,omitempty"`
}

// NewEventMessage flattens evt into its wire form.
func NewEventMessage(evt crawler.Event) EventMessage {
	msg := EventMessage{
		Kind:         string(evt.Kind),
		TS:           evt.TS,
		RunID:        evt.RunID,
		Run:          evt.Payload,
		Abnormal:     evt.Abnormal,
		Reason:       evt.Reason,
		WasProcessed: evt.WasProcessed,
		Parent:       evt.Parent,
	}
	if r := evt.Resource; r != nil {
		msg.URL = r.URL
		msg.Name = r.Name
		msg.Depth = r.Depth
		msg.Size = r.Size
		if msg.Run == "" {
			msg.Run = r.RunName
		}
	}
	return msg
}

// PublisherSink forwards selected events to a topic.
type PublisherSink struct {
	pub   Publisher
	topic string
	kinds map[crawler.EventKind]struct{}
}

// NewPublisherSink forwards events of the given kinds, or of every kind when
// none are listed.
func NewPublisherSink(pub Publisher, topic string, kinds ...crawler.EventKind) (*PublisherSink, error) {
	if pub == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	s := &PublisherSink{pub: pub, topic: topic}
	if len(kinds) > 0 {
		s.kinds = make(map[crawler.EventKind]struct{}, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = struct{}{}
		}
	}
	return s, nil
}

// Consume publishes every selected event; one failed publish does not stop
// the rest of the batch.
func (s *PublisherSink) Consume(ctx context.Context, batch []crawler.Event) error {
	var errs []error
	for _, evt := range batch {
		if s.kinds != nil {
			if _, ok := s.kinds[evt.Kind]; !ok {
				continue
			}
		}
		if _, err := s.pub.Publish(ctx, s.topic, NewEventMessage(evt)); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", evt.Kind, err))
		}
	}
	return errors.Join(errs...)
}

// Close implements the Subscriber interface; it performs no action.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
