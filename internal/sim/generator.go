package sim

import (
	"errors"
	"log"
	"math/rand/v2"

	"github.com/teamrichards/dispatchd/internal/geo"
	"github.com/teamrichards/dispatchd/internal/model"
	"github.com/teamrichards/dispatchd/internal/state"
)

// spreadDegrees is the half-width of the uniform square used for sampling:
// pickups around the city center, dropoffs around their pickup.
const spreadDegrees = 0.035

// Recorder receives countable generator events. Nil disables recording.
type Recorder interface {
	OrderGenerated()
	OrderRejected()
}

// Generator admits synthetic ride requests around the configured center.
type Generator struct {
	store    *state.Store
	center   geo.Point
	recorder Recorder
}

// NewGenerator returns a generator sampling around center.
func NewGenerator(store *state.Store, center geo.Point, recorder Recorder) *Generator {
	return &Generator{store: store, center: center, recorder: recorder}
}

// GenerateOrder admits one order with a random pickup near the center and a
// random dropoff near the pickup. ok is false when admission was rejected.
func (g *Generator) GenerateOrder() (model.Order, bool) {
	pickup := jitterPoint(g.center, spreadDegrees)
	dropoff := jitterPoint(pickup, spreadDegrees)
	order, err := g.store.AddOrder(pickup, dropoff)
	if err != nil {
		if errors.Is(err, state.ErrPendingCapReached) {
			log.Printf("[sim] order skipped: %v", err)
		} else {
			log.Printf("[sim] order admission failed: %v", err)
		}
		if g.recorder != nil {
			g.recorder.OrderRejected()
		}
		return model.Order{}, false
	}
	if g.recorder != nil {
		g.recorder.OrderGenerated()
	}
	return order, true
}

// jitterPoint samples uniformly from the square of half-width spread
// degrees centered on p.
func jitterPoint(p geo.Point, spread float64) geo.Point {
	return geo.Point{
		Lat: p.Lat + (rand.Float64()*2-1)*spread,
		Lng: p.Lng + (rand.Float64()*2-1)*spread,
	}
}
