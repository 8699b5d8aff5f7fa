package sim

import (
	"github.com/google/uuid"

	"github.com/teamrichards/dispatchd/internal/geo"
	"github.com/teamrichards/dispatchd/internal/model"
	"github.com/teamrichards/dispatchd/internal/state"
)

// SeedTaxis registers n free taxis scattered uniformly around center. The
// fleet is fixed for the run; ids are fresh UUIDs.
func SeedTaxis(store *state.Store, center geo.Point, n int) error {
	for i := 0; i < n; i++ {
		t := model.Taxi{
			ID:       uuid.New().String(),
			Location: jitterPoint(center, spreadDegrees),
			Status:   model.TaxiFree,
		}
		if err := store.AddTaxi(t); err != nil {
			return err
		}
	}
	return nil
}
