package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/compintel-monitor/internal/progress"
)

// LogSink writes each event as a structured log line. Fetch starts are
// logged at debug level.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a LogSink; a nil logger discards output.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("progress")}
}

// Consume implements progress.Sink.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID.String()),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.Company != "" {
			fields = append(fields, zap.String("company", evt.Company))
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL))
		}
		if evt.StatusClass != "" {
			fields = append(fields, zap.String("status_class", string(evt.StatusClass)))
		}
		if evt.Bytes > 0 {
			fields = append(fields, zap.Int64("bytes", evt.Bytes))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Change != "" {
			fields = append(fields, zap.String("change", string(evt.Change)), zap.Int("interest", evt.Interest))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}

		switch evt.Stage {
		case progress.StageFetchStart:
			s.logger.Debug("progress", fields...)
		case progress.StageFetchError, progress.StageRunError:
			s.logger.Warn("progress", fields...)
		default:
			s.logger.Info("progress", fields...)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	// Sync fails on non-file stdout; nothing useful to report.
	_ = s.logger.Sync()
	return nil
}
