package hub

import (
	"math"

	"github.com/teamrichards/dispatchd/internal/demand"
	"github.com/teamrichards/dispatchd/internal/geo"
	"github.com/teamrichards/dispatchd/internal/model"
	"github.com/teamrichards/dispatchd/internal/state"
)

// Message type tags on the subscriber channel.
const (
	TypeStateUpdate  = "state_update"
	TypeDemandUpdate = "demand_update"

	typeCompleteAssignment = "complete_assignment"
	typeAlgorithmConfig    = "algorithm_config"
)

// StateUpdate carries the full fleet snapshot to subscribers.
type StateUpdate struct {
	Type        string       `json:"type"`
	Taxis       []Taxi       `json:"taxis"`
	Orders      []Order      `json:"orders"`
	Assignments []Assignment `json:"assignments"`
}

// Taxi is the wire form of one vehicle.
type Taxi struct {
	ID       string    `json:"id"`
	Location geo.Point `json:"location"`
	Status   string    `json:"status"`
}

// Order is the wire form of one ride request.
type Order struct {
	ID      string    `json:"id"`
	Pickup  geo.Point `json:"pickup"`
	Dropoff geo.Point `json:"dropoff"`
	Status  string    `json:"status"`
}

// Assignment is the wire form of an active pairing, routes included.
type Assignment struct {
	TaxiID    string `json:"taxi_id"`
	OrderID   string `json:"order_id"`
	ToPickup  Route  `json:"to_pickup_route"`
	ToDropoff Route  `json:"to_dropoff_route"`
	Algorithm string `json:"algorithm_used"`
}

// Route is a polyline of [lat, lng] pairs plus a duration in seconds.
type Route struct {
	Path     [][2]float64 `json:"path"`
	Duration float64      `json:"duration"`
}

// DemandUpdate carries the per-cell supply/demand table to subscribers.
type DemandUpdate struct {
	Type           string    `json:"type"`
	Hexagons       []Hexagon `json:"hexagons"`
	TotalHexagons  int       `json:"total_hexagons"`
	ActiveHexagons int       `json:"active_hexagons"`
	H3Resolution   int       `json:"h3_resolution"`
}

// Hexagon is the wire form of one aggregated cell. DemandRatio is -1 where
// the cell's ratio is infinite (orders without taxis).
type Hexagon struct {
	HexID       string       `json:"hex_id"`
	Center      [2]float64   `json:"center"`
	Boundary    [][2]float64 `json:"boundary"`
	OrdersCount int          `json:"orders_count"`
	TaxisCount  int          `json:"taxis_count"`
	DemandRatio float64      `json:"demand_ratio"`
	Color       string       `json:"color"`
	DemandLevel string       `json:"demand_level"`
}

// inboundMessage is the union of messages a subscriber may send.
type inboundMessage struct {
	Type         string `json:"type"`
	OrderID      string `json:"order_id"`
	Proximity    bool   `json:"proximity"`
	SupplyDemand bool   `json:"supply_demand"`
}

// NewStateUpdate converts a store snapshot into its wire form. Collections
// serialize as [] rather than null when empty.
func NewStateUpdate(snap state.Snapshot) StateUpdate {
	msg := StateUpdate{
		Type:        TypeStateUpdate,
		Taxis:       make([]Taxi, 0, len(snap.Taxis)),
		Orders:      make([]Order, 0, len(snap.Orders)),
		Assignments: make([]Assignment, 0, len(snap.Assignments)),
	}
	for _, t := range snap.Taxis {
		msg.Taxis = append(msg.Taxis, Taxi{
			ID:       t.ID,
			Location: t.Location,
			Status:   string(t.Status),
		})
	}
	for _, o := range snap.Orders {
		msg.Orders = append(msg.Orders, Order{
			ID:      o.ID,
			Pickup:  o.Pickup,
			Dropoff: o.Dropoff,
			Status:  string(o.Status),
		})
	}
	for _, a := range snap.Assignments {
		msg.Assignments = append(msg.Assignments, Assignment{
			TaxiID:    a.TaxiID,
			OrderID:   a.OrderID,
			ToPickup:  wireRoute(a.ToPickup),
			ToDropoff: wireRoute(a.ToDropoff),
			Algorithm: a.Mode,
		})
	}
	return msg
}

// NewDemandUpdate converts the aggregator's current table into its wire form.
func NewDemandUpdate(agg *demand.Aggregator) DemandUpdate {
	hexes, active := agg.Hexagons()
	msg := DemandUpdate{
		Type:           TypeDemandUpdate,
		Hexagons:       make([]Hexagon, 0, len(hexes)),
		TotalHexagons:  agg.TotalCells(),
		ActiveHexagons: active,
		H3Resolution:   agg.Resolution(),
	}
	for _, h := range hexes {
		ratio := h.Ratio
		if math.IsInf(ratio, 1) {
			ratio = -1
		}
		msg.Hexagons = append(msg.Hexagons, Hexagon{
			HexID:       h.HexID,
			Center:      [2]float64{h.Center.Lat, h.Center.Lng},
			Boundary:    wirePath(h.Boundary),
			OrdersCount: h.OrdersCount,
			TaxisCount:  h.TaxisCount,
			DemandRatio: ratio,
			Color:       h.Color,
			DemandLevel: h.Level,
		})
	}
	return msg
}

func wireRoute(r model.Route) Route {
	return Route{Path: wirePath(r.Path), Duration: r.DurationSeconds}
}

// wirePath flattens points into [lat, lng] pairs.
func wirePath(points []geo.Point) [][2]float64 {
	out := make([][2]float64, 0, len(points))
	for _, p := range points {
		out = append(out, [2]float64{p.Lat, p.Lng})
	}
	return out
}
