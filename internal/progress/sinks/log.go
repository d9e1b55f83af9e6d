package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/bizharvest/bizharvest/internal/progress"
)

// LogSink emits structured logs for debugging progress streams. It is useful
// during development or audits where a metrics backend is unavailable.
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
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job_id", evt.JobID),
			zap.String("stage", string(evt.Stage)),
		}
		switch evt.Stage {
		case progress.StagePageFetched:
			fields = append(fields,
				zap.String("host", evt.Host),
				zap.String("url", evt.URL),
				zap.String("status", string(evt.Status)),
				zap.String("transport", string(evt.Transport)),
				zap.Int64("bytes", evt.Bytes),
				zap.Duration("dur", evt.Dur))
		case progress.StageHeartbeat:
			fields = append(fields,
				zap.Int64("pages_fetched", evt.Counters.PagesFetched),
				zap.Int64("entities_found", evt.Counters.EntitiesFound))
		case progress.StageJobDone, progress.StageJobError:
			fields = append(fields,
				zap.Int64("pages_fetched", evt.Counters.PagesFetched),
				zap.Int64("entities_found", evt.Counters.EntitiesFound),
				zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
