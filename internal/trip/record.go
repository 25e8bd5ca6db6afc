package trip

import (
	"github.com/jengzang/trips-backend-go/internal/models"
	"github.com/jengzang/trips-backend-go/internal/spatial"
)

// Notifier is told after every accepted fix. Errors are logged and dropped.
// Implementations must not call Ingest on the same record.
type Notifier interface {
	Notify() error
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func() error

// Notify calls f
func (f NotifierFunc) Notify() error { return f() }

// Record is the in-memory state of one trip. It is mutated only by an Aggregator
// and is not safe for concurrent use.
type Record struct {
	id        int64
	startTime int64

	distance     float64
	pointCount   int
	currentSpeed float64
	maxSpeed     float64
	box          models.BoundingBox

	// last accepted point, basis of the duplicate check
	last    spatial.Micro
	hasLast bool
	// reference location for distance deltas; only fixes that passed the accuracy gate
	prev    spatial.Micro
	hasPrev bool

	dirty  bool
	closed bool

	// accepted points whose append failed, oldest first
	pending []models.AcceptedPoint

	purpose  string
	category string
	notes    string

	notifier Notifier
}

func newRecord(id, startTime int64) *Record {
	return &Record{
		id:        id,
		startTime: startTime,
		box:       spatial.EmptyBox(),
	}
}

// Snapshot is an immutable copy of a record's statistics
type Snapshot struct {
	ID               int64              `json:"id"`
	StartTime        int64              `json:"startTime"`
	DistanceTraveled float64            `json:"distanceTraveled"`
	PointCount       int                `json:"pointCount"`
	CurrentSpeed     float64            `json:"currentSpeed"`
	MaxSpeed         float64            `json:"maxSpeed"`
	Box              models.BoundingBox `json:"boundingBox"`
	Purpose          string             `json:"purpose"`
	Category         string             `json:"category"`
	Notes            string             `json:"notes"`
	Dirty            bool               `json:"dirty"`
	Closed           bool               `json:"closed"`
}

// ID is assigned by the store and never changes
func (r *Record) ID() int64 { return r.id }

// StartTime is the creation time in ms since epoch
func (r *Record) StartTime() int64 { return r.startTime }

// DistanceTraveled is in meters
func (r *Record) DistanceTraveled() float64 { return r.distance }

// PointCount counts accepted fixes
func (r *Record) PointCount() int { return r.pointCount }

// CurrentSpeed is the converted speed of the last accurate fix
func (r *Record) CurrentSpeed() float64 { return r.currentSpeed }

// MaxSpeed is the highest plausible converted speed so far
func (r *Record) MaxSpeed() float64 { return r.maxSpeed }

// BoundingBox is inverted while no point was accepted
func (r *Record) BoundingBox() models.BoundingBox { return r.box }

// Dirty reports summary changes not yet handed to the sink
func (r *Record) Dirty() bool { return r.dirty }

// Closed reports whether Ingest is refused
func (r *Record) Closed() bool { return r.closed }

// PendingPoints reports how many accepted points still wait to be stored
func (r *Record) PendingPoints() int { return len(r.pending) }

// LastPoint returns the last accepted quantized point, if any
func (r *Record) LastPoint() (spatial.Micro, bool) { return r.last, r.hasLast }

// Details returns the user supplied metadata
func (r *Record) Details() models.TripDetails {
	return models.TripDetails{Purpose: r.purpose, Category: r.category, Notes: r.notes}
}

// RegisterUpdates sets the notifier invoked after accepted fixes; nil removes it
func (r *Record) RegisterUpdates(n Notifier) {
	r.notifier = n
}

// Snapshot copies the current state
func (r *Record) Snapshot() Snapshot {
	return Snapshot{
		ID:               r.id,
		StartTime:        r.startTime,
		DistanceTraveled: r.distance,
		PointCount:       r.pointCount,
		CurrentSpeed:     r.currentSpeed,
		MaxSpeed:         r.maxSpeed,
		Box:              r.box,
		Purpose:          r.purpose,
		Category:         r.category,
		Notes:            r.notes,
		Dirty:            r.dirty,
		Closed:           r.closed,
	}
}

func (r *Record) addPending(p models.AcceptedPoint) {
	for _, q := range r.pending {
		if samePoint(p, q) {
			return
		}
	}
	r.pending = append(r.pending, p)
}

func (r *Record) dropPending(p models.AcceptedPoint) {
	for i, q := range r.pending {
		if samePoint(p, q) {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			return
		}
	}
}

// samePoint matches the store's uniqueness key
func samePoint(a, b models.AcceptedPoint) bool {
	return a.Time == b.Time && a.Lat == b.Lat && a.Lgt == b.Lgt
}

func (r *Record) summary() models.TripSummary {
	return models.TripSummary{
		ID:        r.id,
		StartTime: r.startTime,
		Purpose:   r.purpose,
		Category:  r.category,
		Notes:     r.notes,
		Box:       r.box,
	}
}
