package repository

import (
	"context"
	"fmt"

	"github.com/jengzang/trips-backend-go/internal/models"
)

// AppendPoint stores one accepted point. Appending the same (trip, time, lat, lgt)
// twice is a no-op so persistence can be retried.
func (r *TripRepository) AppendPoint(ctx context.Context, tripID int64, p models.AcceptedPoint) error {
	_, err := r.db.ExecContext(ctx, `INSERT OR IGNORE INTO coords (trip_id, lat, lgt, time, acc, alt, speed)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tripID, p.Lat, p.Lgt, p.Time, p.Accuracy, p.Altitude, p.Speed)
	if err != nil {
		return fmt.Errorf("failed to append point to trip %d: %w", tripID, err)
	}
	return nil
}

// ReadPoints retrieves the points of a trip in insertion order
func (r *TripRepository) ReadPoints(ctx context.Context, tripID int64) ([]models.AcceptedPoint, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, trip_id, lat, lgt, time, acc, alt, speed
		FROM coords WHERE trip_id = ? ORDER BY id ASC`, tripID)
	if err != nil {
		return nil, fmt.Errorf("failed to query points of trip %d: %w", tripID, err)
	}
	defer rows.Close()

	points := []models.AcceptedPoint{}
	for rows.Next() {
		var p models.AcceptedPoint
		if err := rows.Scan(&p.ID, &p.TripID, &p.Lat, &p.Lgt, &p.Time, &p.Accuracy, &p.Altitude, &p.Speed); err != nil {
			return nil, fmt.Errorf("failed to scan point: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate points of trip %d: %w", tripID, err)
	}

	return points, nil
}

// CountPoints returns the number of stored points of a trip
func (r *TripRepository) CountPoints(ctx context.Context, tripID int64) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM coords WHERE trip_id = ?", tripID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count points of trip %d: %w", tripID, err)
	}
	return n, nil
}

// DeletePoints removes all points of a trip
func (r *TripRepository) DeletePoints(ctx context.Context, tripID int64) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM coords WHERE trip_id = ?", tripID); err != nil {
		return fmt.Errorf("failed to delete points of trip %d: %w", tripID, err)
	}
	return nil
}
