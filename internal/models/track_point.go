package models

// RawFix is one position sample as reported by the device
type RawFix struct {
	Time      int64   `json:"time"` // ms since epoch, zero means now
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"` // radius in meters, smaller is better
	Altitude  float64 `json:"altitude"`
	Speed     float64 `json:"speed"` // m/s
}

// AcceptedPoint is a fix that passed the duplicate check and was stored for a trip.
// Coordinates are fixed-point micro-degrees.
type AcceptedPoint struct {
	ID       int64   `json:"id,omitempty" db:"id"`
	TripID   int64   `json:"tripId" db:"trip_id"`
	Lat      int     `json:"lat" db:"lat"`
	Lgt      int     `json:"lgt" db:"lgt"`
	Time     int64   `json:"time" db:"time"` // ms since epoch
	Accuracy float64 `json:"accuracy" db:"acc"`
	Altitude float64 `json:"altitude" db:"alt"`
	Speed    float64 `json:"speed" db:"speed"`
}

// TrackPointsResponse represents the stored points of one trip
type TrackPointsResponse struct {
	TripID int64           `json:"tripId"`
	Data   []AcceptedPoint `json:"data"`
	Total  int             `json:"total"`
}
