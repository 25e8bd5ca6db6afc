package models

// BoundingBox holds the extremes of all accepted coordinates of a trip in micro-degrees.
// An empty box is inverted (LatMin > LatMax).
type BoundingBox struct {
	LatMin int `json:"latMin" db:"latlo"`
	LatMax int `json:"latMax" db:"lathi"`
	LonMin int `json:"lonMin" db:"lgtlo"`
	LonMax int `json:"lonMax" db:"lgthi"`
}

// TripSummary is the persisted summary row of a trip
type TripSummary struct {
	ID        int64       `json:"id" db:"id"`
	StartTime int64       `json:"startTime" db:"start"` // ms since epoch
	Purpose   string      `json:"purpose" db:"purpose"`
	Category  string      `json:"category" db:"fancy"`
	Notes     string      `json:"notes" db:"notes"`
	Box       BoundingBox `json:"boundingBox"`
}

// TripDetails is the user supplied metadata of a trip
type TripDetails struct {
	Purpose  string `json:"purpose"`
	Category string `json:"category"`
	Notes    string `json:"notes"`
}

// TripsResponse represents a paginated response of trip summaries
type TripsResponse struct {
	Data       []TripSummary `json:"data"`
	Total      int64         `json:"total"`
	Page       int           `json:"page"`
	PageSize   int           `json:"pageSize"`
	TotalPages int           `json:"totalPages"`
}
