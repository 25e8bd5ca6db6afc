package models

// TripFilter represents filter parameters for querying trips
type TripFilter struct {
	StartTime int64  `form:"startTime"` // ms since epoch
	EndTime   int64  `form:"endTime"`   // ms since epoch
	Purpose   string `form:"purpose"`
	Page      int    `form:"page"`
	PageSize  int    `form:"pageSize"`
}
