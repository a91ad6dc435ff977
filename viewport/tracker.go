// Package viewport decides when camera movement warrants recomputing the
// cluster render set. Camera events fire continuously during a drag; the
// tracker collapses them to the moves that actually change what is visible.
package viewport

import (
	"fmt"
	"math"

	"github.com/golang/geo/r1"
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"

	"map-engine/models"
)

// Web-mercator renders latitudes only inside this band. Camera bounds are
// clamped to it before comparison so off-map extents compare equal.
const maxMercatorLat = 85.051129

func clampLat(lat float64) float64 {
	if lat > maxMercatorLat {
		return maxMercatorLat
	}
	if lat < -maxMercatorLat {
		return -maxMercatorLat
	}
	return lat
}

// Rect converts camera bounds to an s2 rectangle. The longitude interval is
// circular, so boxes crossing the antimeridian keep their true extent.
func Rect(b models.Bounds) s2.Rect {
	lo := s2.LatLngFromDegrees(clampLat(b.South), b.West)
	hi := s2.LatLngFromDegrees(clampLat(b.North), b.East)
	return s2.Rect{
		Lat: r1.Interval{
			Lo: lo.Lat.Radians(),
			Hi: hi.Lat.Radians()},
		Lng: s1.Interval{
			Lo: lo.Lng.Radians(),
			Hi: hi.Lng.Radians()},
	}
}

// CanonicalKey reduces bounds to a fixed-precision identity string. Six
// decimal places is about a tenth of a meter at the equator, below anything
// a marker redraw could show.
func CanonicalKey(b models.Bounds) string {
	r := Rect(b)
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f",
		s1.Angle(r.Lat.Lo).Degrees(),
		s1.Angle(r.Lng.Lo).Degrees(),
		s1.Angle(r.Lat.Hi).Degrees(),
		s1.Angle(r.Lng.Hi).Degrees())
}

// ZoomBucket maps a fractional camera zoom to the integer level used for
// cluster queries.
func ZoomBucket(zoom float64) int {
	return int(math.Floor(zoom))
}

// Tracker remembers the last emitted viewport identity. Not safe for
// concurrent use; each map session owns one.
type Tracker struct {
	primed     bool
	lastKey    string
	lastBucket int
}

// NewTracker returns a tracker that will request a recompute on the first
// viewport it observes.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Observe reports whether the viewport moved enough to warrant recomputing
// clusters: the canonicalized bounds changed or the zoom bucket changed.
func (t *Tracker) Observe(vp models.Viewport) bool {
	key := CanonicalKey(vp.Bounds)
	bucket := ZoomBucket(vp.Zoom)
	if t.primed && key == t.lastKey && bucket == t.lastBucket {
		return false
	}
	t.primed = true
	t.lastKey = key
	t.lastBucket = bucket
	return true
}
