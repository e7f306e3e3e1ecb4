package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/webwalker/internal/crawler"
)

// LogSink emits structured logs for every event. Resource-level events log
// at debug so a long crawl stays readable at info.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []crawler.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("kind", string(evt.Kind)),
			zap.Time("ts", evt.TS),
		}
		if evt.RunID != "" {
			fields = append(fields, zap.String("run_id", evt.RunID))
		}
		if evt.Payload != "" {
			fields = append(fields, zap.String("payload", evt.Payload))
		}
		if r := evt.Resource; r != nil {
			fields = append(fields,
				zap.String("url", r.URL),
				zap.String("name", r.Name),
				zap.Int("depth", r.Depth),
				zap.Int64("size", r.Size),
			)
		}
		if evt.Reason != "" {
			fields = append(fields, zap.String("reason", evt.Reason))
		}
		switch evt.Kind {
		case crawler.EventRunStarted:
			s.logger.Info("run event", fields...)
		case crawler.EventRunStopped:
			fields = append(fields, zap.Bool("abnormal", evt.Abnormal))
			if evt.Abnormal {
				s.logger.Warn("run event", fields...)
			} else {
				s.logger.Info("run event", fields...)
			}
		case crawler.EventResourceRecovered:
			fields = append(fields, zap.Bool("was_processed", evt.WasProcessed))
			s.logger.Debug("resource event", fields...)
		default:
			s.logger.Debug("resource event", fields...)
		}
	}
	return nil
}

// Close implements the Subscriber interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
