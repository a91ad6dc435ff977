// Package handlers exposes the engine over HTTP: health, client bootstrap,
// one-shot cluster queries for embeds and the websocket upgrade into a live
// map session.
package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"

	"map-engine/models"
	"map-engine/service"
	"map-engine/viewport"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	engine *service.Engine
}

// NewHandlers creates a new handlers instance
func NewHandlers(engine *service.Engine) *Handlers {
	return &Handlers{engine: engine}
}

// WebSocket upgrader
var upgrader = gorilla.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for now
		// In production, you should implement proper origin checking
		return true
	},
}

// MapSession handles WebSocket connections for live map sessions
func (h *Handlers) MapSession(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Errorf("failed to upgrade connection to WebSocket: %v", err)
		return
	}

	h.engine.Hub().ServeSession(conn)
}

// HealthCheck returns the service health status
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Health())
}

// Bootstrap returns everything a map client needs before opening a session
func (h *Handlers) Bootstrap(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Bootstrap())
}

// GetClusters handles one-shot cluster queries for map embeds
func (h *Handlers) GetClusters(c *gin.Context) {
	bounds, zoom, categories, ok := h.clusterQuery(c)
	if !ok {
		return
	}

	clusters := h.engine.Query(bounds, zoom, categories)
	c.JSON(http.StatusOK, gin.H{
		"clusters": clusters,
		"count":    len(clusters),
		"zoom":     zoom,
	})
}

// GetClustersGeoJSON answers the same query as a GeoJSON FeatureCollection
func (h *Handlers) GetClustersGeoJSON(c *gin.Context) {
	bounds, zoom, categories, ok := h.clusterQuery(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, h.engine.GeoJSON(bounds, zoom, categories))
}

// clusterQuery parses the bounds, zoom and category parameters shared by the
// cluster endpoints. On a bad parameter it writes the error response itself.
func (h *Handlers) clusterQuery(c *gin.Context) (models.Bounds, int, []models.Category, bool) {
	west, ok := floatParam(c, "west")
	if !ok {
		return models.Bounds{}, 0, nil, false
	}
	south, ok := floatParam(c, "south")
	if !ok {
		return models.Bounds{}, 0, nil, false
	}
	east, ok := floatParam(c, "east")
	if !ok {
		return models.Bounds{}, 0, nil, false
	}
	north, ok := floatParam(c, "north")
	if !ok {
		return models.Bounds{}, 0, nil, false
	}

	if south > north {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid bounds. 'south' must not exceed 'north'."})
		return models.Bounds{}, 0, nil, false
	}

	zoomStr := c.DefaultQuery("zoom", "0")
	zoom, err := strconv.ParseFloat(zoomStr, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'zoom' parameter. Must be a valid number."})
		return models.Bounds{}, 0, nil, false
	}

	var categories []models.Category
	if raw := c.Query("categories"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			category, known := models.KnownCategory(strings.TrimSpace(part))
			if !known {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Unknown category '%s'.", strings.TrimSpace(part))})
				return models.Bounds{}, 0, nil, false
			}
			categories = append(categories, category)
		}
	}

	bounds := models.Bounds{West: west, South: south, East: east, North: north}
	return bounds, viewport.ZoomBucket(zoom), categories, true
}

func floatParam(c *gin.Context, name string) (float64, bool) {
	raw := c.Query(name)
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Missing '%s' parameter", name)})
		return 0, false
	}

	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid '%s' parameter. Must be a valid number.", name)})
		return 0, false
	}
	return value, true
}
