package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/carepoint/policygate/internal/observability"
)

// Writer persists a batch of records (the durable store).
type Writer interface {
	InsertAuditRecords(ctx context.Context, records []Record) error
}

// BufferedConfig holds the BufferedSink settings.
type BufferedConfig struct {
	// Capacity is the maximum number of queued records.
	Capacity int
	// BatchSize is the maximum number of records per write.
	BatchSize int
	// FlushInterval is the maximum time a record waits before being written.
	FlushInterval time.Duration
}

// BufferedSink queues records in memory and writes them to a Writer from a
// background loop, so request handling never waits on the store.
type BufferedSink struct {
	logger *slog.Logger
	cfg    BufferedConfig
	writer Writer
	queue  chan Record
}

// NewBufferedSink creates a buffered durable sink. Call Run to start flushing.
func NewBufferedSink(logger *slog.Logger, cfg BufferedConfig, w Writer) *BufferedSink {
	if logger == nil {
		logger = slog.Default()
	}
	if w == nil {
		panic("audit: writer cannot be nil")
	}
	if cfg.Capacity < 1 {
		cfg.Capacity = 1024
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval < 10*time.Millisecond {
		cfg.FlushInterval = time.Second
	}

	return &BufferedSink{
		logger: logger,
		cfg:    cfg,
		writer: w,
		queue:  make(chan Record, cfg.Capacity),
	}
}

func (s *BufferedSink) Name() string { return "store" }

// Write enqueues the record without blocking.
func (s *BufferedSink) Write(_ context.Context, rec Record) error {
	select {
	case s.queue <- rec:
		observability.AuditQueueDepth.Set(float64(len(s.queue)))
		return nil
	default:
		return fmt.Errorf("%w (capacity %d)", ErrBufferFull, s.cfg.Capacity)
	}
}

// Run flushes queued records until the context is cancelled, then drains what is left.
func (s *BufferedSink) Run(ctx context.Context) error {
	s.logger.Info("starting audit flusher",
		slog.Int("capacity", s.cfg.Capacity),
		slog.Int("batch_size", s.cfg.BatchSize),
		slog.String("interval", s.cfg.FlushInterval.String()),
	)

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]Record, 0, s.cfg.BatchSize)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("audit flusher stopping...")
			s.drain(batch)
			return nil
		case rec := <-s.queue:
			batch = append(batch, rec)
			if len(batch) >= s.cfg.BatchSize {
				batch = s.flush(ctx, batch)
			}
		case <-ticker.C:
			batch = s.flush(ctx, batch)
		}
	}
}

// drain writes the remaining records with a fresh, bounded context.
func (s *BufferedSink) drain(batch []Record) {
	for {
		select {
		case rec := <-s.queue:
			batch = append(batch, rec)
			continue
		default:
		}
		break
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.flush(ctx, batch)
}

// flush writes the batch and returns it emptied. A failed batch is dropped
// after logging; audit delivery is best effort.
func (s *BufferedSink) flush(ctx context.Context, batch []Record) []Record {
	observability.AuditQueueDepth.Set(float64(len(s.queue)))
	if len(batch) == 0 {
		return batch
	}

	start := time.Now()
	if err := s.writer.InsertAuditRecords(ctx, batch); err != nil {
		observability.AuditRecordsTotal.WithLabelValues(s.Name(), "dropped").Add(float64(len(batch)))
		s.logger.Error("failed to persist audit batch",
			slog.Int("records", len(batch)),
			slog.String("error", err.Error()),
		)
		return batch[:0]
	}

	observability.AuditRecordsTotal.WithLabelValues(s.Name(), "written").Add(float64(len(batch)))
	s.logger.Debug("audit batch persisted",
		slog.Int("records", len(batch)),
		slog.String("duration", time.Since(start).String()),
	)
	return batch[:0]
}
