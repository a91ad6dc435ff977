// Package service composes the document store, the shared cluster index and
// the session hub into one engine with a start/stop lifecycle.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"

	"map-engine/cluster"
	"map-engine/config"
	"map-engine/docstore"
	"map-engine/feed"
	"map-engine/mapview"
	"map-engine/models"
	"map-engine/position"
	"map-engine/websocket"
)

const issuesCollection = "issues"

// Engine subscribes to the issues collection exactly once and multiplexes:
// the snapshot rebuilds the shared index serving one-shot queries, then fans
// out to every session's feed through an in-memory store.
type Engine struct {
	cfg      *config.Config
	store    docstore.Store
	notifier *docstore.Notifier
	mem      *docstore.MemStore
	index    *cluster.Index
	hub      *websocket.Hub

	// Latest applied snapshot, raw and normalized
	mu          sync.RWMutex
	lastDocs    []docstore.Document
	lastRecords []models.IssueRecord

	// Control channels
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewEngine opens the MySQL document store and wires the engine around it.
func NewEngine(cfg *config.Config) (*Engine, error) {
	store, err := docstore.NewMySQLStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open document store: %w", err)
	}

	e := newEngine(cfg, store)

	// Change notifications are best effort: a missing broker degrades to
	// poll-only, it never blocks startup.
	if cfg.AMQPURL != "" {
		notifier, err := docstore.NewNotifier(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Warnf("change notifications disabled: %v", err)
		} else {
			store.SetNotifier(notifier)
			e.notifier = notifier
		}
	}

	return e, nil
}

// NewEngineWithStore wires the engine around an existing store. Local runs
// and tests use it with the in-memory store.
func NewEngineWithStore(cfg *config.Config, store docstore.Store) *Engine {
	return newEngine(cfg, store)
}

func newEngine(cfg *config.Config, store docstore.Store) *Engine {
	e := &Engine{
		cfg:      cfg,
		store:    store,
		mem:      docstore.NewMemStore(),
		index:    cluster.NewIndex(clusterOptions(cfg)),
		stopChan: make(chan struct{}),
	}
	e.hub = websocket.NewHub(websocket.Config{
		Store:      e.mem,
		Collection: issuesCollection,
		View:       viewOptions(cfg),
		Watch: position.WatchOptions{
			HighAccuracy: true,
			Timeout:      cfg.PositionTimeout,
		},
	})
	return e
}

func clusterOptions(cfg *config.Config) cluster.Options {
	return cluster.Options{
		MinZoom:   0,
		MaxZoom:   cfg.ClusterMaxZoom,
		MinPoints: cfg.MinClusterSize,
		Radius:    cfg.ClusterRadius,
		Extent:    cfg.ClusterExtent,
	}
}

func viewOptions(cfg *config.Config) mapview.Options {
	return mapview.Options{
		Cluster:      clusterOptions(cfg),
		MinFocusZoom: cfg.MinFocusZoom,
		DefaultLat:   cfg.DefaultCenterLat,
		DefaultLng:   cfg.DefaultCenterLng,
		DefaultZoom:  cfg.DefaultZoom,
	}
}

// Start ensures the collection, warm-starts from the persisted snapshot and
// begins consuming the live subscription.
func (e *Engine) Start() error {
	log.Infof("starting map engine...")

	if err := e.store.EnsureCollection(context.Background(), issuesCollection); err != nil {
		return fmt.Errorf("failed to ensure %s collection: %w", issuesCollection, err)
	}

	e.warmStart()

	// Start the session hub
	go e.hub.Run()

	sub, err := e.store.Subscribe(context.Background(), issuesCollection)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", issuesCollection, err)
	}

	e.wg.Add(1)
	go e.consumeLoop(sub)

	log.Infof("map engine started")
	return nil
}

// Stop stops the engine gracefully: the subscription loop first, then the
// sessions, then the persisted snapshot and the store.
func (e *Engine) Stop() error {
	log.Infof("stopping map engine...")

	close(e.stopChan)
	e.wg.Wait()

	e.hub.CloseAll()
	e.saveSnapshot()

	if e.notifier != nil {
		if err := e.notifier.Close(); err != nil {
			log.Warnf("failed to close notifier: %v", err)
		}
	}
	if err := e.store.Close(); err != nil {
		log.Warnf("failed to close document store: %v", err)
	}

	log.Infof("map engine stopped")
	return nil
}

// Hub exposes the session hub for the websocket upgrade handler.
func (e *Engine) Hub() *websocket.Hub {
	return e.hub
}

// Health reports liveness plus the counters operators watch.
func (e *Engine) Health() models.HealthResponse {
	return models.HealthResponse{
		Status:           "healthy",
		Service:          "map-engine",
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
		ConnectedClients: e.hub.Count(),
		IndexedPoints:    e.index.PointCount(),
	}
}

// Bootstrap is everything a map client needs before opening its session.
type Bootstrap struct {
	StyleURL       string            `json:"style_url"`
	StyleAPIKey    string            `json:"style_api_key,omitempty"`
	DefaultLat     float64           `json:"default_lat"`
	DefaultLng     float64           `json:"default_lng"`
	DefaultZoom    float64           `json:"default_zoom"`
	MinFocusZoom   float64           `json:"min_focus_zoom"`
	ClusterMaxZoom int               `json:"cluster_max_zoom"`
	Categories     []models.Category `json:"categories"`
}

// Bootstrap returns the client bootstrap payload.
func (e *Engine) Bootstrap() Bootstrap {
	return Bootstrap{
		StyleURL:       e.cfg.StyleURL,
		StyleAPIKey:    e.cfg.StyleAPIKey,
		DefaultLat:     e.cfg.DefaultCenterLat,
		DefaultLng:     e.cfg.DefaultCenterLng,
		DefaultZoom:    e.cfg.DefaultZoom,
		MinFocusZoom:   e.cfg.MinFocusZoom,
		ClusterMaxZoom: e.cfg.ClusterMaxZoom,
		Categories:     models.Categories(),
	}
}

// Query answers a one-shot cluster query. Without a category filter it reads
// the shared index; a filter changes the point set, so filtered queries
// cluster their own copy.
func (e *Engine) Query(bounds models.Bounds, zoom int, categories []models.Category) []cluster.Cluster {
	return e.queryIndex(categories).Query(bounds, zoom)
}

// GeoJSON answers the same query as a GeoJSON FeatureCollection.
func (e *Engine) GeoJSON(bounds models.Bounds, zoom int, categories []models.Category) *cluster.FeatureCollection {
	return e.queryIndex(categories).ToGeoJSON(bounds, zoom)
}

func (e *Engine) queryIndex(categories []models.Category) *cluster.Index {
	if len(categories) == 0 {
		return e.index
	}

	allowed := make(map[models.Category]bool, len(categories))
	for _, c := range categories {
		allowed[c] = true
	}

	e.mu.RLock()
	records := e.lastRecords
	e.mu.RUnlock()

	ix := cluster.NewIndex(clusterOptions(e.cfg))
	ix.Build(models.PointsFromRecords(records, allowed))
	return ix
}

// warmStart seeds the index and the session fanout from the last persisted
// snapshot, so clients reconnecting right after a restart see markers before
// the first database snapshot arrives.
func (e *Engine) warmStart() {
	if e.cfg.SnapshotPath == "" {
		return
	}

	docs, err := docstore.LoadDocuments(e.cfg.SnapshotPath)
	if err != nil {
		log.Warnf("failed to load collection snapshot: %v", err)
		return
	}

	e.apply(docs)
	log.Infof("warm started with %d documents", len(docs))
}

func (e *Engine) saveSnapshot() {
	if e.cfg.SnapshotPath == "" {
		return
	}

	e.mu.RLock()
	docs := e.lastDocs
	e.mu.RUnlock()

	if docs == nil {
		return
	}
	if err := docstore.SaveDocuments(e.cfg.SnapshotPath, docs); err != nil {
		log.Warnf("failed to save collection snapshot: %v", err)
		return
	}
	log.Infof("saved collection snapshot with %d documents", len(docs))
}

// consumeLoop drives the engine from the store subscription until stopped or
// the subscription dies. A dead subscription is fanned out as a failure so
// every session shows the feed banner.
func (e *Engine) consumeLoop(sub docstore.Subscription) {
	defer e.wg.Done()
	defer sub.Cancel()

	for {
		select {
		case <-e.stopChan:
			return

		case docs := <-sub.Snapshots():
			e.apply(docs)

		case err := <-sub.Err():
			log.Errorf("issue subscription failed: %v", err)
			e.mem.Fail(issuesCollection, err)
			return
		}
	}
}

// apply rebuilds the shared index and fans the raw snapshot out to sessions.
// Sessions normalize and de-duplicate on their own; the engine relays
// documents untouched.
func (e *Engine) apply(docs []docstore.Document) {
	records := feed.Normalize(docs)
	e.index.Build(models.PointsFromRecords(records, nil))
	e.mem.Push(issuesCollection, docs)

	e.mu.Lock()
	e.lastDocs = docs
	e.lastRecords = records
	e.mu.Unlock()

	log.Debugf("applied snapshot: %d documents, %d indexed", len(docs), len(records))
}
