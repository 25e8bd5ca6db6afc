package trip

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/jengzang/trips-backend-go/internal/models"
)

var errNotFound = errors.New("not found")

// memStore is an in-memory PointStore
type memStore struct {
	mu        sync.Mutex
	nextID    int64
	summaries map[int64]models.TripSummary
	points    map[int64][]models.AcceptedPoint
	upserts   int
	appends   int
	calls     []string
}

func newMemStore() *memStore {
	return &memStore{
		summaries: map[int64]models.TripSummary{},
		points:    map[int64][]models.AcceptedPoint{},
	}
}

func (s *memStore) CreateTrip(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.summaries[s.nextID] = models.TripSummary{ID: s.nextID}
	return s.nextID, nil
}

func (s *memStore) AppendPoint(_ context.Context, tripID int64, p models.AcceptedPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appends++
	for _, q := range s.points[tripID] {
		if q.Time == p.Time && q.Lat == p.Lat && q.Lgt == p.Lgt {
			return nil
		}
	}
	s.points[tripID] = append(s.points[tripID], p)
	return nil
}

func (s *memStore) UpsertSummary(_ context.Context, sum models.TripSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	s.summaries[sum.ID] = sum
	return nil
}

func (s *memStore) ReadSummary(_ context.Context, tripID int64) (models.TripSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum, ok := s.summaries[tripID]
	if !ok {
		return models.TripSummary{}, fmt.Errorf("trip %d: %w", tripID, errNotFound)
	}
	return sum, nil
}

func (s *memStore) ReadPoints(_ context.Context, tripID int64) ([]models.AcceptedPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AcceptedPoint(nil), s.points[tripID]...), nil
}

func (s *memStore) DeleteTrip(_ context.Context, tripID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "DeleteTrip")
	delete(s.summaries, tripID)
	return nil
}

func (s *memStore) DeletePoints(_ context.Context, tripID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "DeletePoints")
	delete(s.points, tripID)
	return nil
}

// droppingStore also deletes atomically
type droppingStore struct {
	*memStore
	dropped []int64
}

func (s *droppingStore) DropTrip(_ context.Context, tripID int64) error {
	s.dropped = append(s.dropped, tripID)
	delete(s.memStore.points, tripID)
	delete(s.memStore.summaries, tripID)
	return nil
}

// mockStore is a PointStore driven by testify expectations
type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreateTrip(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) AppendPoint(ctx context.Context, tripID int64, p models.AcceptedPoint) error {
	return m.Called(ctx, tripID, p).Error(0)
}

func (m *mockStore) UpsertSummary(ctx context.Context, s models.TripSummary) error {
	return m.Called(ctx, s).Error(0)
}

func (m *mockStore) ReadSummary(ctx context.Context, tripID int64) (models.TripSummary, error) {
	args := m.Called(ctx, tripID)
	return args.Get(0).(models.TripSummary), args.Error(1)
}

func (m *mockStore) ReadPoints(ctx context.Context, tripID int64) ([]models.AcceptedPoint, error) {
	args := m.Called(ctx, tripID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.AcceptedPoint), args.Error(1)
}

func (m *mockStore) DeleteTrip(ctx context.Context, tripID int64) error {
	return m.Called(ctx, tripID).Error(0)
}

func (m *mockStore) DeletePoints(ctx context.Context, tripID int64) error {
	return m.Called(ctx, tripID).Error(0)
}
