package cluster

import "math"

// project converts lng/lat degrees to normalized web-mercator coordinates
// in [0,1]. Latitudes at the poles clamp instead of diverging.
func project(lng, lat float64) (float64, float64) {
	x := (lng + 180) / 360

	sin := math.Sin(lat * math.Pi / 180)
	var y float64
	switch {
	case sin >= 1:
		y = 0
	case sin <= -1:
		y = 1
	default:
		y = 0.5 - 0.25*math.Log((1+sin)/(1-sin))/math.Pi
		if y < 0 {
			y = 0
		} else if y > 1 {
			y = 1
		}
	}
	return x, y
}

// unproject converts normalized web-mercator coordinates back to lng/lat degrees.
func unproject(x, y float64) (float64, float64) {
	lng := x*360 - 180
	lat := math.Atan(math.Sinh(math.Pi*(1-2*y))) * 180 / math.Pi
	return lng, lat
}
