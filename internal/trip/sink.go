package trip

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jengzang/trips-backend-go/internal/metrics"
	"github.com/jengzang/trips-backend-go/internal/models"
)

// SummaryWriter persists trip summary rows
type SummaryWriter interface {
	UpsertSummary(ctx context.Context, s models.TripSummary) error
}

// SummarySink receives the summary of every accepted fix
type SummarySink interface {
	WriteSummary(ctx context.Context, s models.TripSummary) error
	// Pending reports whether a summary for tripID has not reached storage yet
	Pending(tripID int64) bool
	// Discard drops any unwritten summary for tripID
	Discard(tripID int64)
}

// StoreSink writes every summary synchronously
type StoreSink struct {
	w SummaryWriter
}

// NewStoreSink creates a synchronous sink
func NewStoreSink(w SummaryWriter) *StoreSink {
	return &StoreSink{w: w}
}

func (s *StoreSink) WriteSummary(ctx context.Context, sum models.TripSummary) error {
	return s.w.UpsertSummary(ctx, sum)
}

func (s *StoreSink) Pending(int64) bool { return false }

func (s *StoreSink) Discard(int64) {}

// SummaryBuffer keeps the latest summary per trip and writes them out periodically.
// A crash loses at most the summaries accepted since the last flush; points are not
// buffered.
type SummaryBuffer struct {
	w        SummaryWriter
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu      sync.Mutex
	pending map[int64]models.TripSummary
}

// NewSummaryBuffer creates a buffer flushed every interval by Run
func NewSummaryBuffer(w SummaryWriter, interval time.Duration, m *metrics.Metrics, logger *zap.Logger) *SummaryBuffer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SummaryBuffer{
		w:        w,
		interval: interval,
		metrics:  m,
		logger:   logger,
		pending:  make(map[int64]models.TripSummary),
	}
}

func (b *SummaryBuffer) WriteSummary(_ context.Context, s models.TripSummary) error {
	b.mu.Lock()
	b.pending[s.ID] = s
	b.mu.Unlock()
	return nil
}

func (b *SummaryBuffer) Pending(tripID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.pending[tripID]
	return ok
}

func (b *SummaryBuffer) Discard(tripID int64) {
	b.mu.Lock()
	delete(b.pending, tripID)
	b.mu.Unlock()
}

// Len returns the number of unwritten summaries
func (b *SummaryBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Flush writes all pending summaries. Failed ones are kept for the next flush unless
// a newer summary for the same trip arrived meanwhile.
func (b *SummaryBuffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	batch := b.pending
	b.pending = make(map[int64]models.TripSummary, len(batch))
	b.mu.Unlock()

	var errs []error
	written := 0
	for id, s := range batch {
		if err := b.w.UpsertSummary(ctx, s); err != nil {
			errs = append(errs, fmt.Errorf("trip %d: %w", id, err))
			b.mu.Lock()
			if _, newer := b.pending[id]; !newer {
				b.pending[id] = s
			}
			b.mu.Unlock()
			continue
		}
		written++
	}

	b.metrics.SummaryFlushed(written)
	if len(errs) > 0 {
		b.metrics.StorageError()
		return fmt.Errorf("failed to flush trip summaries: %w", errors.Join(errs...))
	}
	return nil
}

// Run flushes on every tick until ctx is done, then flushes once more
func (b *SummaryBuffer) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := b.Flush(final); err != nil {
				b.logger.Error("Final summary flush failed", zap.Error(err))
				return err
			}
			return nil
		case <-ticker.C:
			if err := b.Flush(ctx); err != nil {
				b.logger.Warn("Summary flush failed, will retry", zap.Error(err))
			}
		}
	}
}
