package domain

import "time"

// TrackingQuery is the server-side filter accepted by the delivery backend.
// Zero values are omitted from the request.
type TrackingQuery struct {
	EnrolleeID string
	ActionType string
	FromDate   time.Time
	ToDate     time.Time
}
