package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jengzang/trips-backend-go/internal/database"
	"github.com/jengzang/trips-backend-go/internal/models"
)

// ErrTripNotFound is returned when no summary row exists for a trip id
var ErrTripNotFound = errors.New("trip not found")

// TripRepository handles database operations for trips and their points
type TripRepository struct {
	db *sql.DB
}

// NewTripRepository creates a new trip repository
func NewTripRepository(db *sql.DB) *TripRepository {
	return &TripRepository{db: db}
}

// CreateTrip allocates a new trip id. The summary row starts empty and is
// filled by the first UpsertSummary.
func (r *TripRepository) CreateTrip(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO trips (start, lathi, latlo, lgthi, lgtlo)
		VALUES (0, 0, 0, 0, 0)`)
	if err != nil {
		return 0, fmt.Errorf("failed to create trip: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read trip id: %w", err)
	}
	return id, nil
}

// UpsertSummary writes the summary row of a trip
func (r *TripRepository) UpsertSummary(ctx context.Context, s models.TripSummary) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO trips (id, start, lathi, latlo, lgthi, lgtlo, purpose, fancy, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			start = excluded.start,
			lathi = excluded.lathi, latlo = excluded.latlo,
			lgthi = excluded.lgthi, lgtlo = excluded.lgtlo,
			purpose = excluded.purpose, fancy = excluded.fancy, notes = excluded.notes`,
		s.ID, s.StartTime, s.Box.LatMax, s.Box.LatMin, s.Box.LonMax, s.Box.LonMin,
		s.Purpose, s.Category, s.Notes)
	if err != nil {
		return fmt.Errorf("failed to update trip %d: %w", s.ID, err)
	}
	return nil
}

// ReadSummary retrieves the summary row of a trip
func (r *TripRepository) ReadSummary(ctx context.Context, tripID int64) (models.TripSummary, error) {
	query := `SELECT id, start, lathi, latlo, lgthi, lgtlo, purpose, fancy, notes
		FROM trips WHERE id = ?`

	s, err := scanSummary(r.db.QueryRowContext(ctx, query, tripID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.TripSummary{}, fmt.Errorf("trip %d: %w", tripID, ErrTripNotFound)
	}
	if err != nil {
		return models.TripSummary{}, fmt.Errorf("failed to get trip %d: %w", tripID, err)
	}
	return s, nil
}

// DeleteTrip removes the summary row of a trip
func (r *TripRepository) DeleteTrip(ctx context.Context, tripID int64) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM trips WHERE id = ?", tripID); err != nil {
		return fmt.Errorf("failed to delete trip %d: %w", tripID, err)
	}
	return nil
}

// DropTrip removes a trip and its points in one transaction
func (r *TripRepository) DropTrip(ctx context.Context, tripID int64) error {
	return database.Transaction(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM coords WHERE trip_id = ?", tripID); err != nil {
			return fmt.Errorf("failed to delete points of trip %d: %w", tripID, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM trips WHERE id = ?", tripID); err != nil {
			return fmt.Errorf("failed to delete trip %d: %w", tripID, err)
		}
		return nil
	})
}

// ListTrips retrieves trip summaries with filtering and pagination
func (r *TripRepository) ListTrips(ctx context.Context, filter models.TripFilter) ([]models.TripSummary, int64, error) {
	query := `SELECT id, start, lathi, latlo, lgthi, lgtlo, purpose, fancy, notes FROM trips`

	var conditions []string
	var args []interface{}

	if filter.StartTime > 0 {
		conditions = append(conditions, "start >= ?")
		args = append(args, filter.StartTime)
	}
	if filter.EndTime > 0 {
		conditions = append(conditions, "start <= ?")
		args = append(args, filter.EndTime)
	}
	if filter.Purpose != "" {
		conditions = append(conditions, "purpose = ?")
		args = append(args, filter.Purpose)
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM trips"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count trips: %w", err)
	}

	page, pageSize := NormalizePage(filter.Page, filter.PageSize)
	offset := (page - 1) * pageSize
	query += where + " ORDER BY start DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, pageSize, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query trips: %w", err)
	}
	defer rows.Close()

	trips := []models.TripSummary{}
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan trip: %w", err)
		}
		trips = append(trips, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate trips: %w", err)
	}

	return trips, total, nil
}

// NormalizePage clamps pagination parameters
func NormalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 100
	}
	if pageSize > 1000 {
		pageSize = 1000
	}
	return page, pageSize
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSummary(row rowScanner) (models.TripSummary, error) {
	var s models.TripSummary
	err := row.Scan(&s.ID, &s.StartTime, &s.Box.LatMax, &s.Box.LatMin, &s.Box.LonMax, &s.Box.LonMin,
		&s.Purpose, &s.Category, &s.Notes)
	return s, err
}
