package cluster

import (
	"reflect"
	"sort"
	"testing"

	"map-engine/models"
)

var worldBounds = models.Bounds{West: -180, South: -85, East: 180, North: 85}

// Roughly 50 meters of latitude.
const fiftyMetersLat = 0.000449

func testPoints() []models.Point {
	return []models.Point{
		{IssueID: "a", Latitude: 40.0, Longitude: -74.0, Category: models.CategoryPothole},
		{IssueID: "b", Latitude: 40.0 + fiftyMetersLat, Longitude: -74.0, Category: models.CategoryGarbage},
		{IssueID: "c", Latitude: 51.5, Longitude: -0.12, Category: models.CategoryStreetlight},
	}
}

func TestQueryDeterminism(t *testing.T) {
	ix := NewIndex(DefaultOptions())
	ix.Build(testPoints())

	first := ix.Query(worldBounds, 10)
	second := ix.Query(worldBounds, 10)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Repeated queries differ: %v vs %v", first, second)
	}
}

func TestNearbyPairClusters(t *testing.T) {
	ix := NewIndex(DefaultOptions())
	ix.Build([]models.Point{
		{IssueID: "a", Latitude: 40.0, Longitude: -74.0, Category: models.CategoryPothole},
		{IssueID: "b", Latitude: 40.0 + fiftyMetersLat, Longitude: -74.0, Category: models.CategoryGarbage},
	})

	tests := []struct {
		name       string
		zoom       int
		wantCount  int
		wantAggreg bool
	}{
		{name: "clusters at city zoom", zoom: 10, wantCount: 1, wantAggreg: true},
		{name: "separates past max zoom", zoom: 20, wantCount: 2, wantAggreg: false},
	}

	for _, tc := range tests {
		clusters := ix.Query(worldBounds, tc.zoom)
		if len(clusters) != tc.wantCount {
			t.Errorf("%s: got %d clusters, expected %d", tc.name, len(clusters), tc.wantCount)
			continue
		}
		if tc.wantAggreg {
			c := clusters[0]
			if !c.IsAggregate() || c.Count != 2 {
				t.Errorf("%s: expected an aggregate of 2, got %+v", tc.name, c)
			}
			if c.ExpansionZoom != 16 {
				t.Errorf("%s: expansion zoom %d, expected 16", tc.name, c.ExpansionZoom)
			}
		} else {
			for _, c := range clusters {
				if c.IsAggregate() {
					t.Errorf("%s: expected only leaves, got %+v", tc.name, c)
				}
			}
		}
	}
}

func TestExpansionSplitsMembers(t *testing.T) {
	ix := NewIndex(DefaultOptions())
	ix.Build(testPoints())

	clusters := ix.Query(worldBounds, 10)
	var agg *Cluster
	for i := range clusters {
		if clusters[i].IsAggregate() {
			agg = &clusters[i]
			break
		}
	}
	if agg == nil {
		t.Fatal("No aggregate found at zoom 10")
	}

	wantMembers := agg.Members()
	split := ix.Query(worldBounds, agg.ExpansionZoom)

	var gotMembers []string
	distinct := 0
	for _, c := range split {
		overlap := false
		for _, m := range c.Members() {
			for _, w := range wantMembers {
				if m == w {
					overlap = true
				}
			}
		}
		if overlap {
			distinct++
			gotMembers = append(gotMembers, c.Members()...)
		}
	}
	if distinct < 2 {
		t.Errorf("Expected at least 2 clusters at expansion zoom, got %d", distinct)
	}
	sort.Strings(gotMembers)
	if !reflect.DeepEqual(gotMembers, wantMembers) {
		t.Errorf("Member union %v differs from original members %v", gotMembers, wantMembers)
	}
}

func TestExpansionTargetLookup(t *testing.T) {
	ix := NewIndex(DefaultOptions())
	ix.Build(testPoints())

	clusters := ix.Query(worldBounds, 10)
	for _, c := range clusters {
		if !c.IsAggregate() {
			continue
		}
		target, ok := ix.Expansion(c.ID)
		if !ok {
			t.Fatalf("Expansion lookup failed for fresh cluster id %q", c.ID)
		}
		if target.Zoom != c.ExpansionZoom {
			t.Errorf("Expansion zoom %d differs from cluster's %d", target.Zoom, c.ExpansionZoom)
		}
	}

	if _, ok := ix.Expansion("not-a-cluster"); ok {
		t.Error("Unknown cluster id should not resolve")
	}
}

func TestQueryRespectsBounds(t *testing.T) {
	ix := NewIndex(DefaultOptions())
	ix.Build(testPoints())

	london := models.Bounds{West: -1, South: 51, East: 1, North: 52}
	clusters := ix.Query(london, 10)
	if len(clusters) != 1 {
		t.Fatalf("Got %d clusters in London bounds, expected 1", len(clusters))
	}
	if clusters[0].IssueID != "c" {
		t.Errorf("Got issue %q, expected %q", clusters[0].IssueID, "c")
	}
}

func TestQueryAcrossAntimeridian(t *testing.T) {
	ix := NewIndex(DefaultOptions())
	ix.Build([]models.Point{
		{IssueID: "fiji", Latitude: -17.7, Longitude: 179.9, Category: models.CategoryOther},
		{IssueID: "samoa", Latitude: -13.8, Longitude: -171.7, Category: models.CategoryOther},
		{IssueID: "london", Latitude: 51.5, Longitude: -0.12, Category: models.CategoryOther},
	})

	pacific := models.Bounds{West: 170, South: -30, East: -160, North: 0}
	clusters := ix.Query(pacific, 8)

	got := map[string]bool{}
	for _, c := range clusters {
		got[c.IssueID] = true
	}
	want := map[string]bool{"fiji": true, "samoa": true}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Got issues %v, expected %v", got, want)
	}
}

func TestBuildReplacesPointSet(t *testing.T) {
	ix := NewIndex(DefaultOptions())
	ix.Build(testPoints())
	if ix.PointCount() != 3 {
		t.Fatalf("Point count %d, expected 3", ix.PointCount())
	}

	ix.Build(testPoints()[:1])
	if ix.PointCount() != 1 {
		t.Fatalf("Point count %d after rebuild, expected 1", ix.PointCount())
	}
	clusters := ix.Query(worldBounds, 10)
	if len(clusters) != 1 || clusters[0].IssueID != "a" {
		t.Errorf("Rebuild still serves stale points: %v", clusters)
	}
}

func TestLeafCarriesIssueFields(t *testing.T) {
	ix := NewIndex(DefaultOptions())
	ix.Build(testPoints()[2:])

	clusters := ix.Query(worldBounds, 10)
	if len(clusters) != 1 {
		t.Fatalf("Got %d clusters, expected 1", len(clusters))
	}
	c := clusters[0]
	if c.IssueID != "c" || c.Category != models.CategoryStreetlight || c.Count != 1 {
		t.Errorf("Leaf lost issue fields: %+v", c)
	}
}

func TestGeoJSONProperties(t *testing.T) {
	ix := NewIndex(DefaultOptions())
	ix.Build(testPoints())

	fc := ix.ToGeoJSON(worldBounds, 10)
	if fc.Type != "FeatureCollection" {
		t.Fatalf("Type %q, expected FeatureCollection", fc.Type)
	}
	if len(fc.Features) != 2 {
		t.Fatalf("Got %d features, expected 2", len(fc.Features))
	}
	for _, f := range fc.Features {
		isCluster, _ := f.Properties["cluster"].(bool)
		if isCluster {
			if _, ok := f.Properties["expansion_zoom"]; !ok {
				t.Errorf("Aggregate feature missing expansion_zoom: %v", f.Properties)
			}
		} else {
			if _, ok := f.Properties["issue_id"]; !ok {
				t.Errorf("Leaf feature missing issue_id: %v", f.Properties)
			}
		}
	}
}
