package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jengzang/trips-backend-go/internal/database"
	"github.com/jengzang/trips-backend-go/internal/metrics"
	"github.com/jengzang/trips-backend-go/internal/models"
	"github.com/jengzang/trips-backend-go/internal/repository"
	"github.com/jengzang/trips-backend-go/internal/track"
	"github.com/jengzang/trips-backend-go/internal/trip"
)

type fixture struct {
	svc     *RecorderService
	repo    *repository.TripRepository
	metrics *metrics.Metrics
}

// failingStore fails the next failAppends point appends
type failingStore struct {
	*repository.TripRepository
	failAppends int
}

func (s *failingStore) AppendPoint(ctx context.Context, tripID int64, p models.AcceptedPoint) error {
	if s.failAppends > 0 {
		s.failAppends--
		return errors.New("disk I/O error")
	}
	return s.TripRepository.AppendPoint(ctx, tripID, p)
}

func newFixture(t *testing.T, recompute bool) *fixture {
	t.Helper()
	return newFixtureWithStore(t, recompute, nil)
}

func newFixtureWithStore(t *testing.T, recompute bool, wrap func(*repository.TripRepository) TripStore) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "trips.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.NewMigrationManager(db, nil).RunMigrations(ctx))

	repo := repository.NewTripRepository(db)
	var store TripStore = repo
	if wrap != nil {
		store = wrap(repo)
	}
	m := metrics.New(prometheus.NewRegistry())
	agg := trip.NewAggregator(store, nil, trip.DefaultOptions(), m, nil)
	tracks := track.NewBuilder(store, time.Minute, nil)

	return &fixture{
		svc:     NewRecorderService(agg, store, tracks, recompute, m, nil),
		repo:    repo,
		metrics: m,
	}
}

func fix(ts int64, lat, lng float64) models.RawFix {
	return models.RawFix{Time: ts, Latitude: lat, Longitude: lng, Accuracy: 8, Speed: 4}
}

func TestRecordingLifecycle(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	started, err := f.svc.StartTrip(ctx)
	require.NoError(t, err)
	id := started.ID
	assert.Equal(t, []int64{id}, f.svc.ActiveTrips())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ActiveSessions))

	_, err = f.svc.RecordFix(ctx, id, fix(1000, 37.7749, -122.4194))
	require.NoError(t, err)
	out, err := f.svc.RecordFix(ctx, id, fix(2000, 37.7750, -122.4194))
	require.NoError(t, err)
	assert.Equal(t, trip.Accepted, out.Kind)
	assert.Equal(t, 2, out.Snapshot.PointCount)
	assert.InDelta(t, 11.12, out.Snapshot.DistanceTraveled, 0.05)

	tr, err := f.svc.GetTrack(ctx, id, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, tr.PointCount)

	_, err = f.svc.RecordFix(ctx, id, fix(3000, 37.7751, -122.4194))
	require.NoError(t, err)
	tr, err = f.svc.GetTrack(ctx, id, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, tr.PointCount)

	simplified, err := f.svc.GetTrack(ctx, id, 5)
	require.NoError(t, err)
	assert.Len(t, simplified.Vertices, 2)
	assert.Equal(t, 3, simplified.PointCount)

	live, err := f.svc.GetTrip(ctx, id)
	require.NoError(t, err)
	assert.False(t, live.Closed)
	assert.Equal(t, 3, live.PointCount)

	finished, err := f.svc.FinishTrip(ctx, id)
	require.NoError(t, err)
	assert.True(t, finished.Closed)
	assert.Empty(t, f.svc.ActiveTrips())
	assert.Zero(t, testutil.ToFloat64(f.metrics.ActiveSessions))

	stored, err := f.svc.GetTrip(ctx, id)
	require.NoError(t, err)
	assert.True(t, stored.Closed)
	assert.Zero(t, stored.PointCount)
	assert.Equal(t, finished.Box, stored.Box)
	assert.Equal(t, finished.StartTime, stored.StartTime)

	points, err := f.svc.GetPoints(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, points.Total)

	_, err = f.svc.RecordFix(ctx, id, fix(4000, 1, 1))
	assert.ErrorIs(t, err, trip.ErrTripClosed)
	_, err = f.svc.FinishTrip(ctx, id)
	assert.ErrorIs(t, err, trip.ErrTripClosed)
}

func TestUnknownTrip(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	_, err := f.svc.RecordFix(ctx, 42, fix(1, 1, 1))
	assert.ErrorIs(t, err, repository.ErrTripNotFound)
	_, err = f.svc.GetTrip(ctx, 42)
	assert.ErrorIs(t, err, repository.ErrTripNotFound)
	_, err = f.svc.GetTrack(ctx, 42, 0)
	assert.ErrorIs(t, err, repository.ErrTripNotFound)
	_, err = f.svc.ResumeTrip(ctx, 42)
	assert.ErrorIs(t, err, repository.ErrTripNotFound)
	assert.ErrorIs(t, f.svc.DeleteTrip(ctx, 42), repository.ErrTripNotFound)
}

func TestInvalidFix(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	started, err := f.svc.StartTrip(ctx)
	require.NoError(t, err)

	_, err = f.svc.RecordFix(ctx, started.ID, fix(1, 200, 0))
	assert.ErrorIs(t, err, trip.ErrInvalidInput)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.FixesTotal.WithLabelValues(metrics.OutcomeInvalid)))
}

func TestResumeTrip(t *testing.T) {
	for _, recompute := range []bool{false, true} {
		f := newFixture(t, recompute)
		ctx := context.Background()

		started, err := f.svc.StartTrip(ctx)
		require.NoError(t, err)
		id := started.ID
		for i, lat := range []float64{10, 10.001, 10.002} {
			_, err := f.svc.RecordFix(ctx, id, fix(int64(i+1), lat, 20))
			require.NoError(t, err)
		}
		finished, err := f.svc.FinishTrip(ctx, id)
		require.NoError(t, err)

		resumed, err := f.svc.ResumeTrip(ctx, id)
		require.NoError(t, err)
		assert.False(t, resumed.Closed)
		if recompute {
			assert.Equal(t, 3, resumed.PointCount)
			assert.InDelta(t, finished.DistanceTraveled, resumed.DistanceTraveled, 1e-9)
		} else {
			assert.Zero(t, resumed.PointCount)
			assert.Zero(t, resumed.DistanceTraveled)
		}

		again, err := f.svc.ResumeTrip(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, resumed, again)

		out, err := f.svc.RecordFix(ctx, id, fix(10, 10.003, 20))
		require.NoError(t, err)
		assert.Equal(t, trip.Accepted, out.Kind)

		n, err := f.repo.CountPoints(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 4, n)
	}
}

func TestUpdateDetailsAndList(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	open, err := f.svc.StartTrip(ctx)
	require.NoError(t, err)
	done, err := f.svc.StartTrip(ctx)
	require.NoError(t, err)
	_, err = f.svc.FinishTrip(ctx, done.ID)
	require.NoError(t, err)

	snap, err := f.svc.UpdateDetails(ctx, open.ID, models.TripDetails{Purpose: "commute", Category: "bike"})
	require.NoError(t, err)
	assert.Equal(t, "commute", snap.Purpose)
	assert.False(t, snap.Closed)

	snap, err = f.svc.UpdateDetails(ctx, done.ID, models.TripDetails{Purpose: "errand", Notes: "groceries"})
	require.NoError(t, err)
	assert.Equal(t, "groceries", snap.Notes)

	all, err := f.svc.ListTrips(ctx, models.TripFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), all.Total)
	assert.Equal(t, 1, all.Page)
	assert.Equal(t, 100, all.PageSize)
	assert.Equal(t, 1, all.TotalPages)

	commutes, err := f.svc.ListTrips(ctx, models.TripFilter{Purpose: "commute"})
	require.NoError(t, err)
	require.Len(t, commutes.Data, 1)
	assert.Equal(t, open.ID, commutes.Data[0].ID)
	assert.Equal(t, "bike", commutes.Data[0].Category)
}

func TestDeleteOpenTrip(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	started, err := f.svc.StartTrip(ctx)
	require.NoError(t, err)
	_, err = f.svc.RecordFix(ctx, started.ID, fix(1, 1, 1))
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteTrip(ctx, started.ID))
	assert.Empty(t, f.svc.ActiveTrips())
	_, err = f.svc.GetTrip(ctx, started.ID)
	assert.ErrorIs(t, err, repository.ErrTripNotFound)
	n, err := f.repo.CountPoints(ctx, started.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConcurrentFixesAreSerialized(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	started, err := f.svc.StartTrip(ctx)
	require.NoError(t, err)

	const workers, perWorker = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				k := w*perWorker + i
				_, err := f.svc.RecordFix(ctx, started.ID, fix(int64(k+1), 10+float64(k)*0.0001, 20))
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	snap, err := f.svc.GetTrip(ctx, started.ID)
	require.NoError(t, err)
	assert.Equal(t, workers*perWorker, snap.PointCount)
	n, err := f.repo.CountPoints(ctx, started.ID)
	require.NoError(t, err)
	assert.Equal(t, workers*perWorker, n)
}

func TestCloseAll(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		s, err := f.svc.StartTrip(ctx)
		require.NoError(t, err)
		_, err = f.svc.RecordFix(ctx, s.ID, fix(1, float64(i), 1))
		require.NoError(t, err)
	}
	require.NoError(t, f.svc.CloseAll(ctx))
	assert.Empty(t, f.svc.ActiveTrips())
	assert.Zero(t, testutil.ToFloat64(f.metrics.ActiveSessions))
}

func TestDeleteRefusesFixWaitingOnSession(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	started, err := f.svc.StartTrip(ctx)
	require.NoError(t, err)
	id := started.ID
	_, err = f.svc.RecordFix(ctx, id, fix(1, 37.7749, -122.4194))
	require.NoError(t, err)

	// a RecordFix that looked up the session before the delete
	sess := f.svc.active(id)
	require.NotNil(t, sess)
	require.NoError(t, f.svc.DeleteTrip(ctx, id))

	sess.mu.Lock()
	_, err = f.svc.agg.Ingest(ctx, sess.rec, fix(2, 37.7750, -122.4194))
	sess.mu.Unlock()
	assert.ErrorIs(t, err, trip.ErrTripClosed)

	_, err = f.repo.ReadSummary(ctx, id)
	assert.ErrorIs(t, err, repository.ErrTripNotFound)
	n, err := f.repo.CountPoints(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestResubmittedFixAfterStorageOutage(t *testing.T) {
	store := &failingStore{}
	f := newFixtureWithStore(t, false, func(repo *repository.TripRepository) TripStore {
		store.TripRepository = repo
		return store
	})
	ctx := context.Background()

	started, err := f.svc.StartTrip(ctx)
	require.NoError(t, err)
	id := started.ID

	// first attempt and the built-in retry both fail
	store.failAppends = 2
	fx := fix(1000, 37.7749, -122.4194)
	_, err = f.svc.RecordFix(ctx, id, fx)
	assert.ErrorIs(t, err, trip.ErrStorage)
	n, err := f.repo.CountPoints(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, n)
	stale, err := f.svc.GetTrack(ctx, id, 0)
	require.NoError(t, err)
	assert.Zero(t, stale.PointCount)

	out, err := f.svc.RecordFix(ctx, id, fx)
	require.NoError(t, err)
	assert.Equal(t, trip.Duplicate, out.Kind)
	assert.Equal(t, 1, out.Snapshot.PointCount)

	n, err = f.repo.CountPoints(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tr, err := f.svc.GetTrack(ctx, id, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, tr.PointCount)
}
