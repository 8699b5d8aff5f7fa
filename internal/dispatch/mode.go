// Package dispatch matches free taxis to pending orders with a minimum cost
// bipartite assignment over one of three pricing models.
package dispatch

// Mode selects how the matcher prices a taxi-order pair.
type Mode string

const (
	// ModeProximity prices a pair by haversine distance alone.
	ModeProximity Mode = "proximity"
	// ModeDemand prices a pair by the demand ratio of the pickup cell alone.
	ModeDemand Mode = "demand"
	// ModeHybrid blends distance with a demand weight.
	ModeHybrid Mode = "hybrid"
)

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeProximity, ModeDemand, ModeHybrid:
		return true
	}
	return false
}

// ModeFromFlags maps the two boolean toggles of the client protocol to a
// Mode. Both flags select hybrid, a single flag selects its own mode, and
// neither flag falls back to proximity.
func ModeFromFlags(proximity, supplyDemand bool) Mode {
	switch {
	case proximity && supplyDemand:
		return ModeHybrid
	case supplyDemand:
		return ModeDemand
	default:
		return ModeProximity
	}
}
