package training

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"twostream/metrics"
)

// Sink receives every train/test record in emission order.
type Sink interface {
	Append(ctx context.Context, r metrics.Record) error
}

// MultiSink fans a record out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Append(ctx context.Context, r metrics.Record) error {
	var err error
	for _, sink := range m {
		err = multierr.Append(err, sink.Append(ctx, r))
	}
	return err
}

// LogSink writes records as structured log entries.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Append(_ context.Context, r metrics.Record) error {
	s.logger.Info("record", zap.Object(string(r.Stream), r))
	return nil
}
