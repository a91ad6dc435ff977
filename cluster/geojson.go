package cluster

import "map-engine/models"

// Feature is a GeoJSON feature wrapping one cluster.
type Feature struct {
	Type       string                 `json:"type"`
	Geometry   Geometry               `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

// FeatureCollection is a GeoJSON feature collection.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// Geometry is a GeoJSON point geometry in [lng, lat] order.
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// ToGeoJSON queries the index and renders the result as a GeoJSON
// FeatureCollection for map clients that consume features directly.
func (ix *Index) ToGeoJSON(bounds models.Bounds, zoom int) *FeatureCollection {
	clusters := ix.Query(bounds, zoom)

	features := make([]Feature, len(clusters))
	for i, c := range clusters {
		props := map[string]interface{}{
			"cluster":     c.IsAggregate(),
			"point_count": c.Count,
		}
		if c.IsAggregate() {
			props["cluster_id"] = c.ID
			props["expansion_zoom"] = c.ExpansionZoom
		} else {
			props["issue_id"] = c.IssueID
			props["category"] = string(c.Category)
		}
		features[i] = Feature{
			Type: "Feature",
			Geometry: Geometry{
				Type:        "Point",
				Coordinates: []float64{c.Longitude, c.Latitude},
			},
			Properties: props,
		}
	}

	return &FeatureCollection{
		Type:     "FeatureCollection",
		Features: features,
	}
}
