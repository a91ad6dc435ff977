package models

// Bounds is a geographic bounding box. West may exceed East when the box
// crosses the antimeridian.
type Bounds struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// Contains reports whether the given coordinate falls inside the box.
func (b Bounds) Contains(lat, lng float64) bool {
	if lat < b.South || lat > b.North {
		return false
	}
	if b.West <= b.East {
		return lng >= b.West && lng <= b.East
	}
	// Crosses the antimeridian.
	return lng >= b.West || lng <= b.East
}

// Viewport is the camera state reported by a map client.
type Viewport struct {
	CenterLat float64 `json:"center_lat"`
	CenterLng float64 `json:"center_lng"`
	Zoom      float64 `json:"zoom"`
	Bounds    Bounds  `json:"bounds"`
}
