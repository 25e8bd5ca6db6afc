package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/jengzang/trips-backend-go/internal/metrics"
	"github.com/jengzang/trips-backend-go/internal/models"
	"github.com/jengzang/trips-backend-go/internal/repository"
	"github.com/jengzang/trips-backend-go/internal/track"
	"github.com/jengzang/trips-backend-go/internal/trip"
)

// TripStore is the storage the recorder needs beyond the aggregator's PointStore
type TripStore interface {
	trip.PointStore
	ListTrips(ctx context.Context, filter models.TripFilter) ([]models.TripSummary, int64, error)
	CountPoints(ctx context.Context, tripID int64) (int, error)
}

// session is a trip open for recording. mu serializes ingestion into rec.
type session struct {
	mu  sync.Mutex
	rec *trip.Record
}

// RecorderService owns the trips currently being recorded
type RecorderService struct {
	agg       *trip.Aggregator
	store     TripStore
	tracks    *track.Builder
	recompute bool
	metrics   *metrics.Metrics
	logger    *zap.Logger

	mu       sync.Mutex
	sessions map[int64]*session
}

// NewRecorderService creates a recorder. recompute controls whether resumed trips
// rebuild their statistics from stored points.
func NewRecorderService(agg *trip.Aggregator, store TripStore, tracks *track.Builder, recompute bool, m *metrics.Metrics, logger *zap.Logger) *RecorderService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecorderService{
		agg:       agg,
		store:     store,
		tracks:    tracks,
		recompute: recompute,
		metrics:   m,
		logger:    logger,
		sessions:  make(map[int64]*session),
	}
}

// StartTrip creates a trip and opens it for recording
func (s *RecorderService) StartTrip(ctx context.Context) (trip.Snapshot, error) {
	rec, err := s.agg.CreateTrip(ctx)
	if err != nil {
		return trip.Snapshot{}, fmt.Errorf("failed to start trip: %w", err)
	}
	s.openIfAbsent(rec)
	return rec.Snapshot(), nil
}

// RecordFix ingests one fix into an open trip. A storage failure is retried once;
// a point that still could not be stored is kept and written by the next call,
// so clients may resubmit the same fix.
func (s *RecorderService) RecordFix(ctx context.Context, tripID int64, fix models.RawFix) (trip.Outcome, error) {
	sess, err := s.session(ctx, tripID)
	if err != nil {
		return trip.Outcome{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	hadPending := sess.rec.PendingPoints() > 0
	out, err := s.agg.Ingest(ctx, sess.rec, fix)
	if err == nil && hadPending {
		// points stored late never reached the notifier
		s.tracks.Invalidate(tripID)
	}
	if errors.Is(err, trip.ErrStorage) && out.Kind == trip.Accepted {
		s.logger.Warn("Retrying point persistence", zap.Int64("trip_id", tripID), zap.Error(err))
		if err = s.agg.PersistPoint(ctx, sess.rec, out.Point); err == nil {
			s.tracks.Invalidate(tripID)
			out.Snapshot = sess.rec.Snapshot()
		}
	}
	if err != nil {
		return out, fmt.Errorf("failed to record fix for trip %d: %w", tripID, err)
	}
	return out, nil
}

// FinishTrip closes an open trip
func (s *RecorderService) FinishTrip(ctx context.Context, tripID int64) (trip.Snapshot, error) {
	s.mu.Lock()
	sess, ok := s.sessions[tripID]
	delete(s.sessions, tripID)
	n := len(s.sessions)
	s.mu.Unlock()

	if !ok {
		if err := s.exists(ctx, tripID); err != nil {
			return trip.Snapshot{}, err
		}
		return trip.Snapshot{}, fmt.Errorf("trip %d: %w", tripID, trip.ErrTripClosed)
	}
	s.metrics.SetActiveSessions(n)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := s.agg.Close(ctx, sess.rec); err != nil {
		return sess.rec.Snapshot(), fmt.Errorf("failed to finish trip %d: %w", tripID, err)
	}

	s.logger.Info("Trip finished",
		zap.Int64("trip_id", tripID),
		zap.Int("points", sess.rec.PointCount()),
		zap.Float64("distance_m", sess.rec.DistanceTraveled()),
	)
	return sess.rec.Snapshot(), nil
}

// ResumeTrip reopens a stored trip. Resuming an open trip returns its current state.
func (s *RecorderService) ResumeTrip(ctx context.Context, tripID int64) (trip.Snapshot, error) {
	if sess := s.active(tripID); sess != nil {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		return sess.rec.Snapshot(), nil
	}

	rec, err := s.agg.Resume(ctx, tripID, s.recompute)
	if err != nil {
		return trip.Snapshot{}, fmt.Errorf("failed to resume trip %d: %w", tripID, err)
	}
	if sess, raced := s.openIfAbsent(rec); raced {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		return sess.rec.Snapshot(), nil
	}
	return rec.Snapshot(), nil
}

// GetTrip returns the live state of an open trip, or the stored summary otherwise
func (s *RecorderService) GetTrip(ctx context.Context, tripID int64) (trip.Snapshot, error) {
	if sess := s.active(tripID); sess != nil {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		return sess.rec.Snapshot(), nil
	}

	rec, err := s.agg.LoadSummary(ctx, tripID)
	if err != nil {
		return trip.Snapshot{}, fmt.Errorf("failed to get trip %d: %w", tripID, err)
	}
	return rec.Snapshot(), nil
}

// UpdateDetails sets purpose, category and notes of any stored trip
func (s *RecorderService) UpdateDetails(ctx context.Context, tripID int64, d models.TripDetails) (trip.Snapshot, error) {
	if sess := s.active(tripID); sess != nil {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		if err := s.agg.UpdateDetails(ctx, sess.rec, d); err != nil {
			return trip.Snapshot{}, fmt.Errorf("failed to update trip %d: %w", tripID, err)
		}
		return sess.rec.Snapshot(), nil
	}

	rec, err := s.agg.LoadSummary(ctx, tripID)
	if err != nil {
		return trip.Snapshot{}, fmt.Errorf("failed to update trip %d: %w", tripID, err)
	}
	if err := s.agg.UpdateDetails(ctx, rec, d); err != nil {
		return trip.Snapshot{}, fmt.Errorf("failed to update trip %d: %w", tripID, err)
	}
	return rec.Snapshot(), nil
}

// ListTrips retrieves stored trip summaries with filtering and pagination
func (s *RecorderService) ListTrips(ctx context.Context, filter models.TripFilter) (*models.TripsResponse, error) {
	filter.Page, filter.PageSize = repository.NormalizePage(filter.Page, filter.PageSize)

	trips, total, err := s.store.ListTrips(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list trips: %w", err)
	}

	return &models.TripsResponse{
		Data:       trips,
		Total:      total,
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalPages: int(math.Ceil(float64(total) / float64(filter.PageSize))),
	}, nil
}

// GetPoints returns the stored points of a trip
func (s *RecorderService) GetPoints(ctx context.Context, tripID int64) (*models.TrackPointsResponse, error) {
	if err := s.exists(ctx, tripID); err != nil {
		return nil, err
	}
	points, err := s.agg.LoadPoints(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("failed to get points of trip %d: %w", tripID, err)
	}
	return &models.TrackPointsResponse{TripID: tripID, Data: points, Total: len(points)}, nil
}

// GetTrack returns the renderable track of a trip. A positive tolerance (meters)
// simplifies the returned vertices.
func (s *RecorderService) GetTrack(ctx context.Context, tripID int64, tolerance float64) (*track.Track, error) {
	if err := s.exists(ctx, tripID); err != nil {
		return nil, err
	}
	t, err := s.tracks.Get(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("failed to get track of trip %d: %w", tripID, err)
	}
	if tolerance > 0 {
		return t.Simplified(tolerance), nil
	}
	return t, nil
}

// DeleteTrip removes a trip and its points, closing it first if it is open
func (s *RecorderService) DeleteTrip(ctx context.Context, tripID int64) error {
	if err := s.exists(ctx, tripID); err != nil {
		return err
	}

	s.mu.Lock()
	sess, ok := s.sessions[tripID]
	delete(s.sessions, tripID)
	n := len(s.sessions)
	s.mu.Unlock()

	if ok {
		s.metrics.SetActiveSessions(n)
		// a fix already waiting on the session must not recreate the trip
		sess.mu.Lock()
		defer sess.mu.Unlock()
		s.agg.Abandon(sess.rec)
	}

	points, err := s.store.CountPoints(ctx, tripID)
	if err != nil {
		return fmt.Errorf("%w: %w", trip.ErrStorage, err)
	}
	if err := s.agg.DropTrip(ctx, tripID); err != nil {
		return fmt.Errorf("failed to delete trip %d: %w", tripID, err)
	}
	s.tracks.Invalidate(tripID)
	s.logger.Info("Trip deleted", zap.Int64("trip_id", tripID), zap.Int("points", points))
	return nil
}

// ActiveTrips returns the ids of the open trips in ascending order
func (s *RecorderService) ActiveTrips() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// CloseAll finishes every open trip. Used on shutdown.
func (s *RecorderService) CloseAll(ctx context.Context) error {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[int64]*session)
	s.mu.Unlock()
	s.metrics.SetActiveSessions(0)

	var errs []error
	for id, sess := range sessions {
		sess.mu.Lock()
		if err := s.agg.Close(ctx, sess.rec); err != nil {
			errs = append(errs, fmt.Errorf("trip %d: %w", id, err))
		}
		sess.mu.Unlock()
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to close trips: %w", errors.Join(errs...))
	}
	return nil
}

// openIfAbsent registers rec unless a session for its trip exists, which it then returns
func (s *RecorderService) openIfAbsent(rec *trip.Record) (*session, bool) {
	id := rec.ID()
	rec.RegisterUpdates(trip.NotifierFunc(func() error {
		s.tracks.Invalidate(id)
		return nil
	}))

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[id]; ok {
		return existing, true
	}
	s.sessions[id] = &session{rec: rec}
	s.metrics.SetActiveSessions(len(s.sessions))
	return nil, false
}

func (s *RecorderService) active(tripID int64) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[tripID]
}

// session returns the open session of a trip. A stored trip that is not open
// yields ErrTripClosed.
func (s *RecorderService) session(ctx context.Context, tripID int64) (*session, error) {
	if sess := s.active(tripID); sess != nil {
		return sess, nil
	}
	if err := s.exists(ctx, tripID); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("trip %d: %w", tripID, trip.ErrTripClosed)
}

func (s *RecorderService) exists(ctx context.Context, tripID int64) error {
	if _, err := s.store.ReadSummary(ctx, tripID); err != nil {
		if errors.Is(err, repository.ErrTripNotFound) {
			return err
		}
		return fmt.Errorf("%w: %w", trip.ErrStorage, err)
	}
	return nil
}
