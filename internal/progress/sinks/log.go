package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/board-archiver/internal/progress"
)

// LogSink writes every progress event at debug level.
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
	if ce := s.logger.Check(zap.DebugLevel, "progress event"); ce == nil {
		return nil
	}
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.Duration("dur", evt.Dur),
		}
		if evt.Board != "" {
			fields = append(fields, zap.String("board", evt.Board))
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL), zap.String("outcome", evt.Outcome))
		}
		if evt.Threads > 0 || evt.Posts > 0 {
			fields = append(fields, zap.Int64("threads", evt.Threads), zap.Int64("posts", evt.Posts))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Debug("progress event", fields...)
	}
	return nil
}

// Close is a no-op.
func (s *LogSink) Close(context.Context) error {
	return nil
}
