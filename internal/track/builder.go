package track

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/golang/geo/s2"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/jengzang/trips-backend-go/internal/models"
	"github.com/jengzang/trips-backend-go/internal/spatial"
	"github.com/jengzang/trips-backend-go/internal/stats"
)

// PointReader reads the stored points of a trip in insertion order
type PointReader interface {
	ReadPoints(ctx context.Context, tripID int64) ([]models.AcceptedPoint, error)
}

// Vertex is one track vertex in degrees
type Vertex struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Track is a renderable view of a trip's stored points
type Track struct {
	TripID          int64              `json:"tripId"`
	PointCount      int                `json:"pointCount"`
	Vertices        []Vertex           `json:"vertices"`
	LengthMeters    float64            `json:"lengthMeters"`
	Bounds          models.BoundingBox `json:"bounds"`
	Center          *Vertex            `json:"center,omitempty"`
	StartTime       int64              `json:"startTime"`
	EndTime         int64              `json:"endTime"`
	DurationSeconds float64            `json:"durationSeconds"`
	MeanSpeed       float64            `json:"meanSpeed"` // m/s, as reported
	MedianSpeed     float64            `json:"medianSpeed"`
	P95Speed        float64            `json:"p95Speed"`
	MaxSpeed        float64            `json:"maxSpeed"`
}

// Builder builds tracks and memoizes them per trip
type Builder struct {
	reader PointReader
	cache  *cache.Cache
	logger *zap.Logger

	// generation per trip, bumped by Invalidate; a build started in an older
	// generation is returned but not cached
	mu   sync.Mutex
	gens map[int64]uint64
}

// NewBuilder creates a builder whose entries expire after ttl
func NewBuilder(reader PointReader, ttl time.Duration, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		reader: reader,
		cache:  cache.New(ttl, 2*ttl),
		logger: logger,
		gens:   make(map[int64]uint64),
	}
}

// Get returns the track of a trip, building it on a cache miss
func (b *Builder) Get(ctx context.Context, tripID int64) (*Track, error) {
	key := cacheKey(tripID)
	if v, ok := b.cache.Get(key); ok {
		return v.(*Track), nil
	}

	b.mu.Lock()
	gen := b.gens[tripID]
	b.mu.Unlock()

	points, err := b.reader.ReadPoints(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("failed to read trip points: %w", err)
	}
	t := Build(tripID, points)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gens[tripID] != gen {
		b.logger.Debug("Track changed while building, not cached", zap.Int64("trip_id", tripID))
		return t, nil
	}
	b.cache.SetDefault(key, t)
	b.logger.Debug("Track built", zap.Int64("trip_id", tripID), zap.Int("points", t.PointCount))
	return t, nil
}

// Invalidate drops the memoized track of a trip
func (b *Builder) Invalidate(tripID int64) {
	b.mu.Lock()
	b.gens[tripID]++
	b.cache.Delete(cacheKey(tripID))
	b.mu.Unlock()
}

// Cached reports how many tracks are memoized
func (b *Builder) Cached() int {
	return b.cache.ItemCount()
}

func cacheKey(tripID int64) string {
	return strconv.FormatInt(tripID, 10)
}

// Build derives a track from points ordered by insertion
func Build(tripID int64, points []models.AcceptedPoint) *Track {
	t := &Track{
		TripID:     tripID,
		PointCount: len(points),
		Vertices:   make([]Vertex, 0, len(points)),
		Bounds:     spatial.EmptyBox(),
	}
	if len(points) == 0 {
		return t
	}

	latlngs := make([]s2.LatLng, 0, len(points))
	speeds := make([]float64, 0, len(points))
	for _, p := range points {
		m := spatial.Micro{Lat: p.Lat, Lgt: p.Lgt}
		lat, lng := m.Degrees()
		t.Vertices = append(t.Vertices, Vertex{Lat: lat, Lng: lng})
		latlngs = append(latlngs, m.LatLng())
		t.Bounds = spatial.Extend(t.Bounds, m)
		speeds = append(speeds, p.Speed)
	}

	t.LengthMeters = spatial.PolylineLength(latlngs)
	if rect, ok := spatial.Rect(t.Bounds); ok {
		c := rect.Center()
		t.Center = &Vertex{Lat: c.Lat.Degrees(), Lng: c.Lng.Degrees()}
	}

	t.StartTime = points[0].Time
	t.EndTime = points[len(points)-1].Time
	if t.EndTime > t.StartTime {
		t.DurationSeconds = float64(t.EndTime-t.StartTime) / 1000
	}
	t.MeanSpeed = stats.Mean(speeds)
	t.MedianSpeed = stats.Median(speeds)
	t.P95Speed = stats.Percentile(speeds, 95)
	t.MaxSpeed = stats.Max(speeds)
	return t
}
