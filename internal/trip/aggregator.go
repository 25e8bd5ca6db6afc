package trip

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/jengzang/trips-backend-go/internal/metrics"
	"github.com/jengzang/trips-backend-go/internal/models"
	"github.com/jengzang/trips-backend-go/internal/spatial"
)

// PointStore is the durable storage of trip summaries and accepted points
type PointStore interface {
	CreateTrip(ctx context.Context) (int64, error)
	AppendPoint(ctx context.Context, tripID int64, p models.AcceptedPoint) error
	UpsertSummary(ctx context.Context, s models.TripSummary) error
	ReadSummary(ctx context.Context, tripID int64) (models.TripSummary, error)
	ReadPoints(ctx context.Context, tripID int64) ([]models.AcceptedPoint, error)
	DeleteTrip(ctx context.Context, tripID int64) error
	DeletePoints(ctx context.Context, tripID int64) error
}

// tripDropper is implemented by stores that delete a trip and its points atomically
type tripDropper interface {
	DropTrip(ctx context.Context, tripID int64) error
}

// OutcomeKind classifies an ingested fix
type OutcomeKind int

const (
	Duplicate OutcomeKind = iota + 1
	Accepted
)

func (k OutcomeKind) String() string {
	switch k {
	case Duplicate:
		return "duplicate"
	case Accepted:
		return "accepted"
	default:
		return "unknown"
	}
}

// MarshalText encodes the kind by name
func (k OutcomeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Outcome is the result of Ingest. Point is set for accepted fixes, also when
// persisting it failed, so the caller can retry with PersistPoint.
type Outcome struct {
	Kind     OutcomeKind          `json:"outcome"`
	Point    models.AcceptedPoint `json:"point"`
	Snapshot Snapshot             `json:"trip"`
}

// Options holds the aggregation thresholds
type Options struct {
	AccuracyThreshold float64 // meters; statistics update only below it
	SpeedConversion   float64 // device unit to reported unit
	MaxPlausibleSpeed float64 // reported unit; excluded from the running maximum at or above it
	Now               func() time.Time
}

// DefaultOptions uses m/s input, mph output
func DefaultOptions() Options {
	return Options{
		AccuracyThreshold: 75,
		SpeedConversion:   2.2369,
		MaxPlausibleSpeed: 60,
		Now:               time.Now,
	}
}

// Aggregator applies position fixes to trip records
type Aggregator struct {
	store   PointStore
	sink    SummarySink
	opts    Options
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewAggregator creates an aggregator. A nil sink writes summaries straight to store.
func NewAggregator(store PointStore, sink SummarySink, opts Options, m *metrics.Metrics, logger *zap.Logger) *Aggregator {
	if sink == nil {
		sink = NewStoreSink(store)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		store:   store,
		sink:    sink,
		opts:    opts,
		metrics: m,
		logger:  logger,
	}
}

// CreateTrip allocates a trip, initialises an empty record and persists its summary
func (a *Aggregator) CreateTrip(ctx context.Context) (*Record, error) {
	id, err := a.store.CreateTrip(ctx)
	if err != nil {
		a.metrics.StorageError()
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	rec := newRecord(id, a.opts.Now().UnixMilli())
	if err := a.store.UpsertSummary(ctx, rec.summary()); err != nil {
		a.metrics.StorageError()
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	a.logger.Info("Trip created", zap.Int64("trip_id", id))
	return rec, nil
}

// Ingest applies one fix to rec.
//
// A fix whose quantized coordinates equal the last accepted point is a Duplicate and
// changes nothing. Any other valid fix is accepted: the point count and bounding box
// always grow and the point is always stored, but distance and speed only update
// when the fix's accuracy radius is below the threshold.
//
// On a storage failure the statistics stay applied and the point is kept on the
// record. The next Ingest, including a resubmission of the same fix, stores it
// before doing anything else; PersistPoint retries it directly.
func (a *Aggregator) Ingest(ctx context.Context, rec *Record, fix models.RawFix) (Outcome, error) {
	if rec.closed {
		return Outcome{}, ErrTripClosed
	}
	if err := validateFix(fix); err != nil {
		a.metrics.Fix(metrics.OutcomeInvalid)
		return Outcome{}, err
	}
	if err := a.flushPending(ctx, rec); err != nil {
		a.metrics.Fix(metrics.OutcomeStorageError)
		return Outcome{}, err
	}

	q := spatial.Quantize(fix.Latitude, fix.Longitude)
	if rec.hasLast && rec.last == q {
		a.metrics.Fix(metrics.OutcomeDuplicate)
		return Outcome{Kind: Duplicate, Snapshot: rec.Snapshot()}, nil
	}

	if fix.Time == 0 {
		fix.Time = a.opts.Now().UnixMilli()
	}

	a.apply(rec, q, fix.Accuracy, fix.Speed)

	point := models.AcceptedPoint{
		TripID:   rec.id,
		Lat:      q.Lat,
		Lgt:      q.Lgt,
		Time:     fix.Time,
		Accuracy: fix.Accuracy,
		Altitude: fix.Altitude,
		Speed:    fix.Speed,
	}

	if err := a.PersistPoint(ctx, rec, point); err != nil {
		a.metrics.Fix(metrics.OutcomeStorageError)
		return Outcome{Kind: Accepted, Point: point, Snapshot: rec.Snapshot()}, err
	}

	a.notify(rec)
	a.metrics.Fix(metrics.OutcomeAccepted)
	return Outcome{Kind: Accepted, Point: point, Snapshot: rec.Snapshot()}, nil
}

// apply updates the statistics for an accepted quantized point
func (a *Aggregator) apply(rec *Record, q spatial.Micro, accuracy, speed float64) {
	rec.pointCount++
	rec.box = spatial.Extend(rec.box, q)
	rec.last, rec.hasLast = q, true
	rec.dirty = true

	if accuracy >= a.opts.AccuracyThreshold {
		return
	}
	if rec.hasPrev {
		rec.distance += spatial.Distance(rec.prev, q)
		rec.currentSpeed = speed * a.opts.SpeedConversion
		if rec.currentSpeed < a.opts.MaxPlausibleSpeed {
			rec.maxSpeed = math.Max(rec.maxSpeed, rec.currentSpeed)
		}
	}
	rec.prev, rec.hasPrev = q, true
}

// PersistPoint stores point and the record's summary. Ingest calls it for every
// accepted fix; callers use it directly to retry after ErrStorage.
func (a *Aggregator) PersistPoint(ctx context.Context, rec *Record, point models.AcceptedPoint) error {
	if err := a.store.AppendPoint(ctx, rec.id, point); err != nil {
		rec.addPending(point)
		a.metrics.StorageError()
		a.logger.Error("Failed to append point", zap.Int64("trip_id", rec.id), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	rec.dropPending(point)
	return a.writeSummary(ctx, rec)
}

// flushPending stores points left over from failed appends, then the summary if it
// never reached the sink
func (a *Aggregator) flushPending(ctx context.Context, rec *Record) error {
	for len(rec.pending) > 0 {
		p := rec.pending[0]
		if err := a.store.AppendPoint(ctx, rec.id, p); err != nil {
			a.metrics.StorageError()
			return fmt.Errorf("%w: %w", ErrStorage, err)
		}
		rec.pending = rec.pending[1:]
		a.logger.Info("Stored pending point", zap.Int64("trip_id", rec.id), zap.Int64("time", p.Time))
	}
	if !rec.dirty {
		return nil
	}
	return a.writeSummary(ctx, rec)
}

func (a *Aggregator) writeSummary(ctx context.Context, rec *Record) error {
	if err := a.sink.WriteSummary(ctx, rec.summary()); err != nil {
		a.metrics.StorageError()
		a.logger.Error("Failed to write trip summary", zap.Int64("trip_id", rec.id), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	rec.dirty = false
	return nil
}

// notify runs the record's notifier; failures never reach the caller
func (a *Aggregator) notify(rec *Record) {
	if rec.notifier == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			a.metrics.NotificationFailed()
			a.logger.Warn("Trip notifier panicked", zap.Int64("trip_id", rec.id), zap.Any("panic", p))
		}
	}()
	if err := rec.notifier.Notify(); err != nil {
		a.metrics.NotificationFailed()
		a.logger.Warn("Trip notifier failed", zap.Int64("trip_id", rec.id), zap.Error(err))
	}
}

// LoadSummary reads a stored trip for display. Only the start time, bounding box and
// metadata are restored; the running statistics stay at zero. The record is read-only.
func (a *Aggregator) LoadSummary(ctx context.Context, tripID int64) (*Record, error) {
	s, err := a.store.ReadSummary(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	rec := newRecord(s.ID, s.StartTime)
	rec.box = s.Box
	rec.purpose, rec.category, rec.notes = s.Purpose, s.Category, s.Notes
	rec.closed = true
	return rec, nil
}

// LoadPoints returns the stored points of a trip in insertion order
func (a *Aggregator) LoadPoints(ctx context.Context, tripID int64) ([]models.AcceptedPoint, error) {
	points, err := a.store.ReadPoints(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return points, nil
}

// Resume reopens a stored trip for recording. Without recompute the record has the
// same zeroed statistics as LoadSummary. With recompute the stored points are replayed
// through the statistics rules, which also restores the duplicate and distance
// reference points.
func (a *Aggregator) Resume(ctx context.Context, tripID int64, recompute bool) (*Record, error) {
	rec, err := a.LoadSummary(ctx, tripID)
	if err != nil {
		return nil, err
	}
	rec.closed = false

	if !recompute {
		return rec, nil
	}

	points, err := a.LoadPoints(ctx, tripID)
	if err != nil {
		return nil, err
	}
	for _, p := range points {
		q := spatial.Micro{Lat: p.Lat, Lgt: p.Lgt}
		if rec.hasLast && rec.last == q {
			continue
		}
		a.apply(rec, q, p.Accuracy, p.Speed)
	}
	rec.dirty = false

	a.logger.Info("Trip resumed from stored points",
		zap.Int64("trip_id", tripID),
		zap.Int("points", rec.pointCount),
		zap.Float64("distance_m", rec.distance),
	)
	return rec, nil
}

// UpdateDetails sets the user metadata and writes the summary immediately
func (a *Aggregator) UpdateDetails(ctx context.Context, rec *Record, d models.TripDetails) error {
	rec.purpose, rec.category, rec.notes = d.Purpose, d.Category, d.Notes
	rec.dirty = true
	if err := a.store.UpsertSummary(ctx, rec.summary()); err != nil {
		a.metrics.StorageError()
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	a.sink.Discard(rec.id)
	rec.dirty = false
	return nil
}

// Close terminates a record. Pending points and unsaved summary changes are
// written first; the record is closed even when that fails.
func (a *Aggregator) Close(ctx context.Context, rec *Record) error {
	if rec.closed {
		return nil
	}
	rec.closed = true
	rec.notifier = nil

	for _, p := range rec.pending {
		if err := a.store.AppendPoint(ctx, rec.id, p); err != nil {
			a.metrics.StorageError()
			return fmt.Errorf("%w: %w", ErrStorage, err)
		}
	}
	rec.pending = nil

	if !rec.dirty && !a.sink.Pending(rec.id) {
		return nil
	}
	if err := a.store.UpsertSummary(ctx, rec.summary()); err != nil {
		a.metrics.StorageError()
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	a.sink.Discard(rec.id)
	rec.dirty = false
	return nil
}

// Abandon closes a record without writing anything, for trips about to be deleted.
// Later Ingest calls fail with ErrTripClosed.
func (a *Aggregator) Abandon(rec *Record) {
	rec.closed = true
	rec.notifier = nil
	rec.pending = nil
	rec.dirty = false
	a.sink.Discard(rec.id)
}

// DropTrip deletes a trip's points and then its summary
func (a *Aggregator) DropTrip(ctx context.Context, tripID int64) error {
	a.sink.Discard(tripID)

	if d, ok := a.store.(tripDropper); ok {
		if err := d.DropTrip(ctx, tripID); err != nil {
			return fmt.Errorf("%w: %w", ErrStorage, err)
		}
		return nil
	}

	if err := a.store.DeletePoints(ctx, tripID); err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	if err := a.store.DeleteTrip(ctx, tripID); err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return nil
}

func validateFix(fix models.RawFix) error {
	if !spatial.ValidCoordinate(fix.Latitude, fix.Longitude) {
		return fmt.Errorf("%w: coordinate (%v, %v)", ErrInvalidInput, fix.Latitude, fix.Longitude)
	}
	if math.IsNaN(fix.Accuracy) || math.IsNaN(fix.Speed) || math.IsNaN(fix.Altitude) {
		return fmt.Errorf("%w: NaN accuracy, speed or altitude", ErrInvalidInput)
	}
	if fix.Time < 0 {
		return fmt.Errorf("%w: negative timestamp %d", ErrInvalidInput, fix.Time)
	}
	return nil
}
