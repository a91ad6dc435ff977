// Package cluster builds spatial cluster indexes over issue points and
// answers viewport queries with aggregate markers, supercluster-style.
package cluster

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"map-engine/models"
)

// Options control the clustering behavior. Radius is the grouping radius in
// screen pixels, constant across zoom levels. MaxZoom is the last zoom at
// which grouping happens; beyond it every point renders individually.
// MinPoints is the smallest group size rendered as an aggregate.
type Options struct {
	MinZoom   int
	MaxZoom   int
	MinPoints int
	Radius    float64
	Extent    int
}

// DefaultOptions returns the standard clustering parameters.
func DefaultOptions() Options {
	return Options{
		MinZoom:   0,
		MaxZoom:   16,
		MinPoints: 2,
		Radius:    40,
		Extent:    512,
	}
}

// Cluster is one render marker: a leaf wrapping a single issue, or an
// aggregate of two or more. Aggregates carry a deterministic opaque id and
// the precomputed zoom at which they split apart.
type Cluster struct {
	ID            string          `json:"id"`
	Latitude      float64         `json:"latitude"`
	Longitude     float64         `json:"longitude"`
	Count         int             `json:"count"`
	IssueID       string          `json:"issue_id,omitempty"`
	Category      models.Category `json:"category,omitempty"`
	ExpansionZoom int             `json:"expansion_zoom,omitempty"`

	memberIDs []string
}

// IsAggregate reports whether the cluster wraps more than one issue.
func (c *Cluster) IsAggregate() bool {
	return c.Count > 1
}

// Members returns the issue ids grouped under this cluster, in ascending order.
func (c *Cluster) Members() []string {
	out := make([]string, len(c.memberIDs))
	copy(out, c.memberIDs)
	return out
}

// ExpansionTarget is where the camera should fly to split an aggregate open.
type ExpansionTarget struct {
	Latitude  float64
	Longitude float64
	Zoom      int
}

type indexedPoint struct {
	x, y     float64 // normalized mercator
	lng, lat float64
	issueID  string
	category models.Category
}

// Index answers cluster queries over a fixed point set. Build replaces the
// point set wholesale; queries between builds are deterministic. Safe for
// concurrent use.
type Index struct {
	opts Options

	mu        sync.RWMutex
	points    []indexedPoint
	raw       []models.Point
	expansion map[string]ExpansionTarget
}

// NewIndex returns an empty index with the given options.
func NewIndex(opts Options) *Index {
	return &Index{
		opts:      opts,
		expansion: make(map[string]ExpansionTarget),
	}
}

// Build replaces the indexed point set. Points are ordered by issue id so
// grouping and tie-breaks are stable for identical inputs.
func (ix *Index) Build(points []models.Point) {
	indexed := make([]indexedPoint, 0, len(points))
	raw := make([]models.Point, 0, len(points))
	for _, p := range points {
		x, y := project(p.Longitude, p.Latitude)
		indexed = append(indexed, indexedPoint{
			x:        x,
			y:        y,
			lng:      p.Longitude,
			lat:      p.Latitude,
			issueID:  p.IssueID,
			category: p.Category,
		})
		raw = append(raw, p)
	}
	sort.Slice(indexed, func(i, j int) bool {
		return indexed[i].issueID < indexed[j].issueID
	})
	sort.Slice(raw, func(i, j int) bool {
		return raw[i].IssueID < raw[j].IssueID
	})

	ix.mu.Lock()
	ix.points = indexed
	ix.raw = raw
	ix.expansion = make(map[string]ExpansionTarget)
	ix.mu.Unlock()
}

// PointCount returns the number of indexed points.
func (ix *Index) PointCount() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.points)
}

// Points returns a copy of the indexed point set, ordered by issue id.
func (ix *Index) Points() []models.Point {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]models.Point, len(ix.raw))
	copy(out, ix.raw)
	return out
}

// Query returns the clusters visible in bounds at the given zoom, ordered by
// the smallest issue id in each cluster. Beyond MaxZoom every point comes
// back as its own leaf. Aggregate expansion targets are retained until the
// next Query or Build, so a tap on a marker from the latest render can be
// resolved without recomputing.
func (ix *Index) Query(bounds models.Bounds, zoom int) []Cluster {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	visible := make([]indexedPoint, 0, len(ix.points))
	for _, p := range ix.points {
		if bounds.Contains(p.lat, p.lng) {
			visible = append(visible, p)
		}
	}

	expansion := make(map[string]ExpansionTarget)
	clusters := ix.clusterAt(visible, zoom, expansion)
	ix.expansion = expansion
	return clusters
}

// Expansion resolves an aggregate id from the latest query to its fly-to
// target. Unknown or stale ids return false.
func (ix *Index) Expansion(clusterID string) (ExpansionTarget, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	target, ok := ix.expansion[clusterID]
	return target, ok
}

// clusterAt groups the given points at a zoom level. When expansion is
// non-nil, aggregates get deterministic ids and their expansion targets are
// recorded there; with a nil map the caller only needs group shapes.
func (ix *Index) clusterAt(points []indexedPoint, zoom int, expansion map[string]ExpansionTarget) []Cluster {
	if zoom > ix.opts.MaxZoom {
		leaves := make([]Cluster, 0, len(points))
		for _, p := range points {
			leaves = append(leaves, leaf(p))
		}
		return leaves
	}
	if zoom < ix.opts.MinZoom {
		zoom = ix.opts.MinZoom
	}

	// Grouping radius in normalized mercator units: Radius pixels at this
	// zoom's scale, so the on-screen grouping distance stays constant.
	r := ix.opts.Radius / (float64(ix.opts.Extent) * math.Exp2(float64(zoom)))
	r2 := r * r

	clusters := make([]Cluster, 0, len(points))
	processed := make([]bool, len(points))
	for i := range points {
		if processed[i] {
			continue
		}
		group := []int{i}
		for j := i + 1; j < len(points); j++ {
			if processed[j] {
				continue
			}
			dx := points[j].x - points[i].x
			dy := points[j].y - points[i].y
			if dx*dx+dy*dy <= r2 {
				group = append(group, j)
			}
		}
		if len(group) >= ix.opts.MinPoints && len(group) > 1 {
			for _, idx := range group {
				processed[idx] = true
			}
			clusters = append(clusters, ix.aggregate(points, group, zoom, expansion))
		} else {
			processed[i] = true
			clusters = append(clusters, leaf(points[i]))
		}
	}
	return clusters
}

func leaf(p indexedPoint) Cluster {
	return Cluster{
		ID:        p.issueID,
		Latitude:  p.lat,
		Longitude: p.lng,
		Count:     1,
		IssueID:   p.issueID,
		Category:  p.category,
		memberIDs: []string{p.issueID},
	}
}

func (ix *Index) aggregate(points []indexedPoint, group []int, zoom int, expansion map[string]ExpansionTarget) Cluster {
	var sumX, sumY float64
	members := make([]indexedPoint, 0, len(group))
	memberIDs := make([]string, 0, len(group))
	for _, idx := range group {
		sumX += points[idx].x
		sumY += points[idx].y
		members = append(members, points[idx])
		memberIDs = append(memberIDs, points[idx].issueID)
	}
	inv := 1.0 / float64(len(group))
	lng, lat := unproject(sumX*inv, sumY*inv)

	name := fmt.Sprintf("%d/%s", zoom, strings.Join(memberIDs, ","))
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()

	expZoom := ix.expansionZoom(members, zoom)
	if expansion != nil {
		expansion[id] = ExpansionTarget{Latitude: lat, Longitude: lng, Zoom: expZoom}
	}

	return Cluster{
		ID:            id,
		Latitude:      lat,
		Longitude:     lng,
		Count:         len(group),
		ExpansionZoom: expZoom,
		memberIDs:     memberIDs,
	}
}

// expansionZoom finds the first zoom past the current one at which the
// members no longer group into a single cluster. Members with identical
// coordinates never separate; they expand at MaxZoom+1 where everything
// renders individually.
func (ix *Index) expansionZoom(members []indexedPoint, fromZoom int) int {
	for z := fromZoom + 1; z <= ix.opts.MaxZoom; z++ {
		if len(ix.clusterAt(members, z, nil)) >= 2 {
			return z
		}
	}
	return ix.opts.MaxZoom + 1
}
