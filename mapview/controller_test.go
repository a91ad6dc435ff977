package mapview

import (
	"context"
	"fmt"
	"testing"
	"time"

	"map-engine/docstore"
	"map-engine/feed"
	"map-engine/models"
	"map-engine/position"
)

type fakeSurface struct {
	renders chan RenderSet
	flights chan FlyTo
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{
		renders: make(chan RenderSet, 32),
		flights: make(chan FlyTo, 32),
	}
}

func (s *fakeSurface) Render(rs RenderSet) { s.renders <- rs }

func (s *fakeSurface) FlyTo(f FlyTo) { s.flights <- f }

type fakeStream struct {
	samples  chan position.Sample
	failures chan position.Failure
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		samples:  make(chan position.Sample, 4),
		failures: make(chan position.Failure, 4),
	}
}

func (s *fakeStream) Samples() <-chan position.Sample   { return s.samples }
func (s *fakeStream) Failures() <-chan position.Failure { return s.failures }
func (s *fakeStream) Cancel()                           {}

type fakeSensor struct {
	stream *fakeStream
}

func (s *fakeSensor) Watch(position.WatchOptions) (position.Stream, error) {
	return s.stream, nil
}

type fixture struct {
	store   *docstore.MemStore
	stream  *fakeStream
	surface *fakeSurface
	ctrl    *Controller
}

func newFixture(t *testing.T, docs []docstore.Document) *fixture {
	t.Helper()

	store := docstore.NewMemStore()
	store.Push("issues", docs)

	f, err := feed.Subscribe(context.Background(), store, "issues")
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	stream := newFakeStream()
	watcher := position.NewWatcher(&fakeSensor{stream: stream}, position.WatchOptions{Timeout: time.Hour})

	opts := DefaultOptions()
	opts.DefaultLat = 20
	opts.DefaultLng = 10

	surface := newFakeSurface()
	ctrl := NewController(surface, f, watcher, opts)
	t.Cleanup(ctrl.Stop)

	return &fixture{store: store, stream: stream, surface: surface, ctrl: ctrl}
}

// awaitRender drains renders until one matches. Startup interleaving of feed
// and position events is not deterministic, so tests match on content rather
// than counting frames.
func (fx *fixture) awaitRender(t *testing.T, match func(RenderSet) bool) RenderSet {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case rs := <-fx.surface.renders:
			if match(rs) {
				return rs
			}
		case <-deadline:
			t.Fatal("timed out waiting for matching render")
		}
	}
}

func (fx *fixture) awaitFlyTo(t *testing.T) FlyTo {
	t.Helper()
	select {
	case f := <-fx.surface.flights:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for camera flight")
	}
	return FlyTo{}
}

func issueDoc(id string, lat, lng float64, category string) docstore.Document {
	return docstore.Document{
		"id":         id,
		"latitude":   lat,
		"longitude":  lng,
		"category":   category,
		"status":     "pending",
		"created_at": time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func worldView(zoom float64) models.Viewport {
	return models.Viewport{
		CenterLat: 0,
		CenterLng: 0,
		Zoom:      zoom,
		Bounds:    models.Bounds{West: -180, South: -85, East: 180, North: 85},
	}
}

func TestControllerFliesToFirstFix(t *testing.T) {
	fx := newFixture(t, []docstore.Document{issueDoc("a", 40, -74, "Pothole")})

	fx.stream.samples <- position.Sample{Latitude: 37.7749, Longitude: -122.4194}

	flight := fx.awaitFlyTo(t)
	if flight.CenterLat != 37.7749 || flight.CenterLng != -122.4194 {
		t.Errorf("expected flight to the fix, got %+v", flight)
	}
	if flight.Zoom != 14 {
		t.Errorf("expected focus zoom 14, got %v", flight.Zoom)
	}

	rs := fx.awaitRender(t, func(rs RenderSet) bool { return rs.UserPosition != nil })
	if rs.UserPosition.Latitude != 37.7749 {
		t.Errorf("expected user position in render, got %+v", rs.UserPosition)
	}
}

func TestControllerDeniedPermissionStillRenders(t *testing.T) {
	docs := []docstore.Document{
		issueDoc("a", 40, -74, "Pothole"),
		{"id": "broken", "longitude": -74.0, "created_at": time.Now().UTC()},
	}
	fx := newFixture(t, docs)

	fx.stream.failures <- position.Failure{Reason: position.ReasonDenied}

	flight := fx.awaitFlyTo(t)
	if flight.CenterLat != 20 || flight.CenterLng != 10 || flight.Zoom != 2 {
		t.Errorf("expected flight to the default center, got %+v", flight)
	}

	rs := fx.awaitRender(t, func(rs RenderSet) bool { return len(rs.Clusters) == 1 })
	if rs.UserPosition != nil {
		t.Errorf("expected no user position after denial, got %+v", rs.UserPosition)
	}
	if rs.EmptyState {
		t.Error("expected no empty state with one renderable issue")
	}
	if rs.Clusters[0].IssueID != "a" {
		t.Errorf("expected the record without latitude to be dropped, got %+v", rs.Clusters[0])
	}

	found := false
	for _, b := range rs.Banners {
		if b.Kind == BannerPositionFailure && b.Message == "Location permission denied" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a denial banner, got %+v", rs.Banners)
	}
}

func TestControllerEmptyState(t *testing.T) {
	fx := newFixture(t, nil)

	fx.stream.failures <- position.Failure{Reason: position.ReasonDenied}

	rs := fx.awaitRender(t, func(rs RenderSet) bool { return rs.EmptyState })
	if len(rs.Clusters) != 0 {
		t.Errorf("expected no clusters in the empty state, got %d", len(rs.Clusters))
	}
}

func TestControllerSelectFliesToIssue(t *testing.T) {
	docs := []docstore.Document{
		issueDoc("a", 40.0, -74.0, "Pothole"),
		issueDoc("b", 51.5, -0.12, "Garbage Overflow"),
	}
	fx := newFixture(t, docs)

	fx.stream.failures <- position.Failure{Reason: position.ReasonDenied}
	fx.awaitFlyTo(t)
	fx.awaitRender(t, func(rs RenderSet) bool { return len(rs.Clusters) == 2 })

	fx.ctrl.UpdateCamera(worldView(16))
	fx.awaitRender(t, func(rs RenderSet) bool { return len(rs.Clusters) == 2 })

	fx.ctrl.Select("a")
	flight := fx.awaitFlyTo(t)
	if flight.CenterLat != 40.0 || flight.CenterLng != -74.0 {
		t.Errorf("expected flight to issue a, got %+v", flight)
	}
	if flight.Zoom != 16 {
		t.Errorf("expected the current zoom to be kept above the focus floor, got %v", flight.Zoom)
	}

	rs := fx.awaitRender(t, func(rs RenderSet) bool { return rs.Selected != nil })
	if rs.Selected.ID != "a" {
		t.Errorf("expected issue a selected, got %+v", rs.Selected)
	}
}

func TestControllerSelectBelowFocusZoomLifts(t *testing.T) {
	fx := newFixture(t, []docstore.Document{issueDoc("a", 40.0, -74.0, "Pothole")})

	fx.stream.failures <- position.Failure{Reason: position.ReasonDenied}
	fx.awaitFlyTo(t)
	fx.awaitRender(t, func(rs RenderSet) bool { return len(rs.Clusters) == 1 })

	fx.ctrl.UpdateCamera(worldView(5))
	fx.awaitRender(t, func(rs RenderSet) bool { return true })

	fx.ctrl.Select("a")
	flight := fx.awaitFlyTo(t)
	if flight.Zoom != 14 {
		t.Errorf("expected the focus zoom floor, got %v", flight.Zoom)
	}
}

func TestControllerSelectionClearedWhenRecordDisappears(t *testing.T) {
	docs := []docstore.Document{
		issueDoc("a", 40.0, -74.0, "Pothole"),
		issueDoc("b", 51.5, -0.12, "Garbage Overflow"),
	}
	fx := newFixture(t, docs)

	fx.stream.failures <- position.Failure{Reason: position.ReasonDenied}
	fx.awaitRender(t, func(rs RenderSet) bool { return len(rs.Clusters) == 2 })

	fx.ctrl.Select("a")
	fx.awaitRender(t, func(rs RenderSet) bool { return rs.Selected != nil })

	fx.store.Push("issues", []docstore.Document{issueDoc("b", 51.5, -0.12, "Garbage Overflow")})

	rs := fx.awaitRender(t, func(rs RenderSet) bool { return len(rs.Clusters) == 1 })
	if rs.Selected != nil {
		t.Errorf("expected selection cleared once the record disappeared, got %+v", rs.Selected)
	}
}

func TestControllerUnknownSelectionIgnored(t *testing.T) {
	fx := newFixture(t, []docstore.Document{issueDoc("a", 40.0, -74.0, "Pothole")})

	fx.stream.failures <- position.Failure{Reason: position.ReasonDenied}
	fx.awaitFlyTo(t)
	fx.awaitRender(t, func(rs RenderSet) bool { return len(rs.Clusters) == 1 })

	fx.ctrl.Select("missing")
	fx.ctrl.Select("a")

	flight := fx.awaitFlyTo(t)
	if flight.CenterLat != 40.0 {
		t.Errorf("expected only the known issue to fly, got %+v", flight)
	}
}

func TestControllerExpandFliesToSplitZoom(t *testing.T) {
	docs := []docstore.Document{
		issueDoc("a", 40.0, -74.0, "Pothole"),
		issueDoc("b", 40.000449, -74.0, "Pothole"),
	}
	fx := newFixture(t, docs)

	fx.stream.failures <- position.Failure{Reason: position.ReasonDenied}
	fx.awaitFlyTo(t)
	rs := fx.awaitRender(t, func(rs RenderSet) bool {
		return len(rs.Clusters) == 1 && rs.Clusters[0].Count == 2
	})

	fx.ctrl.Expand(rs.Clusters[0].ID)
	flight := fx.awaitFlyTo(t)
	if flight.Zoom != 16 {
		t.Errorf("expected flight to the split zoom, got %v", flight.Zoom)
	}
	if flight.CenterLat < 40.0 || flight.CenterLat > 40.000449 {
		t.Errorf("expected flight centered between members, got %v", flight.CenterLat)
	}
}

func TestControllerExpandStaleIDIgnored(t *testing.T) {
	docs := []docstore.Document{
		issueDoc("a", 40.0, -74.0, "Pothole"),
		issueDoc("b", 40.000449, -74.0, "Pothole"),
	}
	fx := newFixture(t, docs)

	fx.stream.failures <- position.Failure{Reason: position.ReasonDenied}
	fx.awaitFlyTo(t)
	rs := fx.awaitRender(t, func(rs RenderSet) bool {
		return len(rs.Clusters) == 1 && rs.Clusters[0].Count == 2
	})
	staleID := rs.Clusters[0].ID

	fx.ctrl.UpdateCamera(worldView(17))
	fx.awaitRender(t, func(rs RenderSet) bool { return len(rs.Clusters) == 2 })

	fx.ctrl.Expand(staleID)
	fx.ctrl.Select("a")

	flight := fx.awaitFlyTo(t)
	if flight.CenterLat != 40.0 || flight.Zoom != 17 {
		t.Errorf("expected the stale expansion to be skipped, got %+v", flight)
	}
}

func TestControllerTimeoutBannerClearsOnFix(t *testing.T) {
	fx := newFixture(t, []docstore.Document{issueDoc("a", 40.0, -74.0, "Pothole")})

	fx.stream.samples <- position.Sample{Latitude: 37.0, Longitude: -122.0}
	fx.awaitFlyTo(t)
	fx.awaitRender(t, func(rs RenderSet) bool { return rs.UserPosition != nil })

	fx.stream.failures <- position.Failure{Reason: position.ReasonTimeout}
	fx.awaitRender(t, func(rs RenderSet) bool { return len(rs.Banners) == 1 })

	fx.stream.samples <- position.Sample{Latitude: 37.1, Longitude: -122.1}
	rs := fx.awaitRender(t, func(rs RenderSet) bool {
		return rs.UserPosition != nil && rs.UserPosition.Latitude == 37.1
	})
	if len(rs.Banners) != 0 {
		t.Errorf("expected the timeout banner cleared by the next fix, got %+v", rs.Banners)
	}
}

func TestControllerDismissBanner(t *testing.T) {
	fx := newFixture(t, []docstore.Document{issueDoc("a", 40.0, -74.0, "Pothole")})

	fx.stream.samples <- position.Sample{Latitude: 37.0, Longitude: -122.0}
	fx.awaitRender(t, func(rs RenderSet) bool { return rs.UserPosition != nil })

	fx.stream.failures <- position.Failure{Reason: position.ReasonTimeout}
	fx.awaitRender(t, func(rs RenderSet) bool { return len(rs.Banners) == 1 })

	fx.ctrl.DismissBanner(BannerPositionFailure)
	fx.awaitRender(t, func(rs RenderSet) bool { return len(rs.Banners) == 0 })
}

func TestControllerFeedFailureKeepsLastData(t *testing.T) {
	fx := newFixture(t, []docstore.Document{issueDoc("a", 40.0, -74.0, "Pothole")})

	fx.stream.failures <- position.Failure{Reason: position.ReasonDenied}
	fx.awaitRender(t, func(rs RenderSet) bool { return len(rs.Clusters) == 1 })

	fx.store.Fail("issues", fmt.Errorf("connection lost"))

	rs := fx.awaitRender(t, func(rs RenderSet) bool { return len(rs.Banners) == 2 })
	if len(rs.Clusters) != 1 {
		t.Errorf("expected the last snapshot to stay on screen, got %d clusters", len(rs.Clusters))
	}

	found := false
	for _, b := range rs.Banners {
		if b.Kind == BannerFeedFailure {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a feed failure banner, got %+v", rs.Banners)
	}
}

func TestControllerDuplicateCameraSuppressed(t *testing.T) {
	fx := newFixture(t, []docstore.Document{issueDoc("a", 40.0, -74.0, "Pothole")})

	fx.stream.failures <- position.Failure{Reason: position.ReasonDenied}
	fx.awaitRender(t, func(rs RenderSet) bool { return len(rs.Clusters) == 1 })

	fx.ctrl.UpdateCamera(worldView(10))
	fx.awaitRender(t, func(rs RenderSet) bool { return true })

	fx.ctrl.UpdateCamera(worldView(10))
	fx.ctrl.Select("a")

	rs := fx.awaitRender(t, func(rs RenderSet) bool { return true })
	if rs.Selected == nil || rs.Selected.ID != "a" {
		t.Errorf("expected the duplicate camera to not render, got %+v", rs)
	}
}

func TestControllerCategoryFilter(t *testing.T) {
	docs := []docstore.Document{
		issueDoc("a", 40.0, -74.0, "Pothole"),
		issueDoc("b", 51.5, -0.12, "Garbage Overflow"),
	}
	fx := newFixture(t, docs)

	fx.stream.failures <- position.Failure{Reason: position.ReasonDenied}
	fx.awaitRender(t, func(rs RenderSet) bool { return len(rs.Clusters) == 2 })

	fx.ctrl.Select("b")
	fx.awaitRender(t, func(rs RenderSet) bool { return rs.Selected != nil })

	fx.ctrl.SetFilter([]models.Category{models.CategoryPothole})
	rs := fx.awaitRender(t, func(rs RenderSet) bool { return len(rs.Clusters) == 1 })
	if rs.Clusters[0].IssueID != "a" {
		t.Errorf("expected only potholes after filtering, got %+v", rs.Clusters[0])
	}
	if rs.Selected == nil || rs.Selected.ID != "b" {
		t.Errorf("expected the selection to survive filtering, got %+v", rs.Selected)
	}

	fx.ctrl.SetFilter(nil)
	fx.awaitRender(t, func(rs RenderSet) bool { return len(rs.Clusters) == 2 })
}

func TestControllerStopIsIdempotent(t *testing.T) {
	fx := newFixture(t, nil)

	fx.ctrl.Stop()
	fx.ctrl.Stop()

	fx.ctrl.Select("a")
	fx.ctrl.UpdateCamera(worldView(10))
}
