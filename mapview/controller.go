// Package mapview composes the issue feed, the position watcher and the
// viewport tracker into render sets for one map client. All state lives in a
// single reactor goroutine; events from every source arrive on channels and
// each one re-derives the full render set from current state, so delivery
// order across sources never matters.
package mapview

import (
	"math"
	"reflect"
	"sort"
	"sync"

	"github.com/apex/log"

	"map-engine/cluster"
	"map-engine/feed"
	"map-engine/models"
	"map-engine/position"
	"map-engine/viewport"
)

// Phase is the controller lifecycle state. AwaitingLocation gates rendering
// until the device position resolves one way or the other.
type Phase int

const (
	PhaseAwaitingLocation Phase = iota
	PhaseReady
)

// Options tune one controller.
type Options struct {
	Cluster      cluster.Options
	MinFocusZoom float64
	DefaultLat   float64
	DefaultLng   float64
	DefaultZoom  float64
}

// DefaultOptions returns the standard controller parameters.
func DefaultOptions() Options {
	return Options{
		Cluster:      cluster.DefaultOptions(),
		MinFocusZoom: 14,
		DefaultZoom:  2,
	}
}

// Bounds used for cluster queries until the client reports its camera.
var worldBounds = models.Bounds{West: -180, South: -85.051129, East: 180, North: 85.051129}

const feedBannerMessage = "Live issue updates are unavailable"

func positionBannerMessage(r position.Reason) string {
	switch r {
	case position.ReasonDenied:
		return "Location permission denied"
	case position.ReasonUnavailable:
		return "Location currently unavailable"
	case position.ReasonTimeout:
		return "Locating is taking longer than usual"
	case position.ReasonUnsupported:
		return "Location not supported on this device"
	}
	return "Location error"
}

type commandKind int

const (
	cmdSelect commandKind = iota
	cmdExpand
	cmdDismiss
	cmdDismissBanner
	cmdFilter
)

type command struct {
	kind       commandKind
	id         string
	banner     BannerKind
	categories []models.Category
}

// Controller owns the map view for one client session. It takes ownership of
// the feed and the watcher and tears both down on Stop.
type Controller struct {
	opts    Options
	surface Surface
	feed    *feed.Feed
	watcher *position.Watcher
	index   *cluster.Index
	tracker *viewport.Tracker

	cameras  chan models.Viewport
	commands chan command

	// Reactor-owned state. Nothing below is touched outside run.
	phase       Phase
	records     []models.IssueRecord
	recordByID  map[string]models.IssueRecord
	points      []models.Point
	userPos     *models.UserPosition
	vp          models.Viewport
	hasViewport bool
	selected    string
	filter      map[models.Category]bool
	banners     map[BannerKind]string

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewController starts the reactor immediately; construction is the mount.
func NewController(surface Surface, f *feed.Feed, w *position.Watcher, opts Options) *Controller {
	c := &Controller{
		opts:       opts,
		surface:    surface,
		feed:       f,
		watcher:    w,
		index:      cluster.NewIndex(opts.Cluster),
		tracker:    viewport.NewTracker(),
		cameras:    make(chan models.Viewport, 1),
		commands:   make(chan command, 16),
		recordByID: make(map[string]models.IssueRecord),
		banners:    make(map[BannerKind]string),
		done:       make(chan struct{}),
	}
	c.wg.Add(1)
	go c.run()
	return c
}

// Stop tears down the controller, its feed subscription and its position
// watcher. Safe to call repeatedly.
func (c *Controller) Stop() {
	c.once.Do(func() { close(c.done) })
	c.wg.Wait()
}

// UpdateCamera reports a camera move. Only the newest pending move is kept;
// drags emit far faster than recomputes should run.
func (c *Controller) UpdateCamera(vp models.Viewport) {
	select {
	case c.cameras <- vp:
		return
	case <-c.done:
		return
	default:
	}
	select {
	case <-c.cameras:
	default:
	}
	select {
	case c.cameras <- vp:
	case <-c.done:
	default:
	}
}

// Select marks an issue as selected and flies the camera to it.
func (c *Controller) Select(issueID string) {
	c.send(command{kind: cmdSelect, id: issueID})
}

// Expand flies the camera to a cluster's expansion zoom.
func (c *Controller) Expand(clusterID string) {
	c.send(command{kind: cmdExpand, id: clusterID})
}

// Dismiss clears the selection without moving the camera.
func (c *Controller) Dismiss() {
	c.send(command{kind: cmdDismiss})
}

// DismissBanner hides one banner kind.
func (c *Controller) DismissBanner(kind BannerKind) {
	c.send(command{kind: cmdDismissBanner, banner: kind})
}

// SetFilter restricts rendering to the given categories; empty means all.
func (c *Controller) SetFilter(categories []models.Category) {
	c.send(command{kind: cmdFilter, categories: categories})
}

func (c *Controller) send(cmd command) {
	select {
	case c.commands <- cmd:
	case <-c.done:
	}
}

func (c *Controller) run() {
	defer c.wg.Done()
	defer c.watcher.Cancel()
	defer c.feed.Cancel()

	feedSnaps := c.feed.Snapshots()
	feedErrs := c.feed.Err()
	posUpdates := c.watcher.Updates()
	posFailures := c.watcher.Failures()

	for {
		select {
		case <-c.done:
			return

		case records := <-feedSnaps:
			c.applySnapshot(records)
			c.render()

		case err := <-feedErrs:
			log.Errorf("issue feed failed: %v", err)
			c.banners[BannerFeedFailure] = feedBannerMessage
			feedErrs = nil
			c.render()

		case s := <-posUpdates:
			c.userPos = &models.UserPosition{Latitude: s.Latitude, Longitude: s.Longitude}
			delete(c.banners, BannerPositionFailure)
			if c.phase == PhaseAwaitingLocation {
				c.enterReady(true)
			} else {
				c.render()
			}

		case f := <-posFailures:
			c.banners[BannerPositionFailure] = positionBannerMessage(f.Reason)
			if f.Reason.Terminal() {
				posUpdates, posFailures = nil, nil
				if c.phase == PhaseAwaitingLocation {
					c.enterReady(false)
				} else {
					c.render()
				}
			} else {
				c.render()
			}

		case vp := <-c.cameras:
			c.vp = vp
			c.hasViewport = true
			if c.tracker.Observe(vp) {
				c.render()
			}

		case cmd := <-c.commands:
			c.apply(cmd)
		}
	}
}

// applySnapshot replaces the record set and re-derives points. The index is
// rebuilt only when the derived point set actually changed; status edits and
// other non-spatial updates leave it alone.
func (c *Controller) applySnapshot(records []models.IssueRecord) {
	c.records = records
	c.recordByID = make(map[string]models.IssueRecord, len(records))
	for _, r := range records {
		c.recordByID[r.ID] = r
	}

	c.rebuildPoints()

	if c.selected != "" {
		if _, ok := c.recordByID[c.selected]; !ok {
			c.selected = ""
		}
	}
}

func (c *Controller) rebuildPoints() {
	points := models.PointsFromRecords(c.records, c.filter)
	if reflect.DeepEqual(points, c.points) {
		return
	}
	c.points = points
	c.index.Build(points)
}

// enterReady leaves the initial-load gate. With a position fix the camera
// flies to the viewer; otherwise it settles on the configured default so the
// map is usable without location.
func (c *Controller) enterReady(haveFix bool) {
	c.phase = PhaseReady
	if haveFix {
		c.surface.FlyTo(FlyTo{
			CenterLat: c.userPos.Latitude,
			CenterLng: c.userPos.Longitude,
			Zoom:      c.opts.MinFocusZoom,
		})
	} else {
		c.surface.FlyTo(FlyTo{
			CenterLat: c.opts.DefaultLat,
			CenterLng: c.opts.DefaultLng,
			Zoom:      c.opts.DefaultZoom,
		})
	}
	c.render()
}

func (c *Controller) apply(cmd command) {
	switch cmd.kind {
	case cmdSelect:
		record, ok := c.recordByID[cmd.id]
		if !ok {
			return
		}
		c.selected = cmd.id
		c.surface.FlyTo(FlyTo{
			CenterLat: record.Location.Latitude,
			CenterLng: record.Location.Longitude,
			Zoom:      math.Max(c.currentZoom(), c.opts.MinFocusZoom),
		})
		c.render()

	case cmdExpand:
		target, ok := c.index.Expansion(cmd.id)
		if !ok {
			log.Debugf("expansion requested for unknown cluster %s", cmd.id)
			return
		}
		c.surface.FlyTo(FlyTo{
			CenterLat: target.Latitude,
			CenterLng: target.Longitude,
			Zoom:      float64(target.Zoom),
		})

	case cmdDismiss:
		if c.selected == "" {
			return
		}
		c.selected = ""
		c.render()

	case cmdDismissBanner:
		if _, ok := c.banners[cmd.banner]; !ok {
			return
		}
		delete(c.banners, cmd.banner)
		c.render()

	case cmdFilter:
		if len(cmd.categories) == 0 {
			c.filter = nil
		} else {
			c.filter = make(map[models.Category]bool, len(cmd.categories))
			for _, cat := range cmd.categories {
				c.filter[cat] = true
			}
		}
		c.rebuildPoints()
		c.render()
	}
}

func (c *Controller) currentZoom() float64 {
	if c.hasViewport {
		return c.vp.Zoom
	}
	return c.opts.DefaultZoom
}

func (c *Controller) currentBounds() models.Bounds {
	if c.hasViewport {
		return c.vp.Bounds
	}
	return worldBounds
}

// render re-derives the full render set from current state and hands it to
// the surface. Before Ready nothing is emitted; subscriptions warm up in the
// background.
func (c *Controller) render() {
	if c.phase != PhaseReady {
		return
	}

	clusters := c.index.Query(c.currentBounds(), viewport.ZoomBucket(c.currentZoom()))

	rs := RenderSet{
		Clusters:   clusters,
		EmptyState: len(clusters) == 0,
		Banners:    c.bannerList(),
	}
	if c.userPos != nil {
		pos := *c.userPos
		rs.UserPosition = &pos
	}
	if c.selected != "" {
		if record, ok := c.recordByID[c.selected]; ok {
			rs.Selected = &record
		}
	}

	c.surface.Render(rs)
}

func (c *Controller) bannerList() []Banner {
	banners := make([]Banner, 0, len(c.banners))
	for kind, message := range c.banners {
		banners = append(banners, Banner{Kind: kind, Message: message})
	}
	sort.Slice(banners, func(i, j int) bool {
		return banners[i].Kind < banners[j].Kind
	})
	return banners
}
