// Package model defines the domain structs shared across the dispatch engine.
package model

import "github.com/teamrichards/dispatchd/internal/geo"

// TaxiStatus is the lifecycle state of a taxi. Serialized lower-case.
type TaxiStatus string

const (
	TaxiFree TaxiStatus = "free"
	TaxiBusy TaxiStatus = "busy"
)

// OrderStatus is the lifecycle state of an order. Orders only move
// pending -> assigned -> completed.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderAssigned  OrderStatus = "assigned"
	OrderCompleted OrderStatus = "completed"
)

// Taxi is one vehicle of the fixed fleet. The ID is stable for the whole run.
type Taxi struct {
	ID       string     `json:"id"`
	Location geo.Point  `json:"location"`
	Status   TaxiStatus `json:"status"`
}

// Order is one ride request. Seq is the monotonic creation counter backing
// the ID; it stays off the wire but drives retention eviction order.
type Order struct {
	ID      string      `json:"id"`
	Seq     int64       `json:"-"`
	Pickup  geo.Point   `json:"pickup"`
	Dropoff geo.Point   `json:"dropoff"`
	Status  OrderStatus `json:"status"`
}

// Route is an ordered polyline from start to end with an advisory duration
// in seconds. The engine never derives correctness from the duration.
type Route struct {
	Path            []geo.Point
	DurationSeconds float64
}

// End returns the final point of the route and false when the path is empty.
func (r Route) End() (geo.Point, bool) {
	if len(r.Path) == 0 {
		return geo.Point{}, false
	}
	return r.Path[len(r.Path)-1], true
}

// Assignment links a busy taxi to its assigned order together with the two
// routes the taxi will drive and the matching mode that produced the pair.
type Assignment struct {
	TaxiID    string
	OrderID   string
	ToPickup  Route
	ToDropoff Route
	Mode      string
}
