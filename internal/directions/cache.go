package directions

import (
	"encoding/binary"
	"math"

	"github.com/maypok86/otter"
	"github.com/zeebo/xxh3"

	"github.com/teamrichards/dispatchd/internal/geo"
	"github.com/teamrichards/dispatchd/internal/model"
)

// routeCache memoizes provider successes. Fallback routes are never cached,
// so a recovered provider takes effect on the next fetch.
type routeCache struct {
	entries otter.Cache[[16]byte, model.Route]
}

func newRouteCache(capacity int) *routeCache {
	cache, err := otter.MustBuilder[[16]byte, model.Route](capacity).
		Cost(func(_ [16]byte, _ model.Route) uint32 { return 1 }).
		Build()
	if err != nil {
		panic("directions: failed to create route cache: " + err.Error())
	}
	return &routeCache{entries: cache}
}

func (rc *routeCache) get(start, end geo.Point) (model.Route, bool) {
	return rc.entries.Get(cacheKey(start, end))
}

func (rc *routeCache) put(start, end geo.Point, r model.Route) {
	rc.entries.Set(cacheKey(start, end), r)
}

// cacheKey hashes both endpoints quantized to 1e-5 degrees, about one meter,
// which is below the provider's own coordinate precision.
func cacheKey(start, end geo.Point) [16]byte {
	var buf [32]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(quantize(start.Lat)))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(quantize(start.Lng)))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(quantize(end.Lat)))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(quantize(end.Lng)))

	sum := xxh3.Hash128(buf[:])
	var key [16]byte
	binary.LittleEndian.PutUint64(key[:8], sum.Lo)
	binary.LittleEndian.PutUint64(key[8:], sum.Hi)
	return key
}

func quantize(deg float64) int64 {
	return int64(math.Round(deg * 1e5))
}
