package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"map-engine/common"
	"map-engine/config"
	"map-engine/handlers"
	"map-engine/service"

	"github.com/apex/log"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

const (
	EndPointHealth          = "/health"
	EndPointBootstrap       = "/bootstrap"
	EndPointClusters        = "/clusters"
	EndPointClustersGeoJSON = "/clusters/geojson"
	EndPointMapSession      = "/ws/map"
)

func main() {
	// Load configuration
	cfg := config.Load()

	common.SetupLog(cfg.LogLevel)
	if cfg.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	log.Info("Starting the map engine service...")

	// Create the engine around the MySQL document store
	engine, err := service.NewEngine(cfg)
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}

	if err := engine.Start(); err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}

	router := setupRouter(engine)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		log.Infof("HTTP server listening on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop accepting new connections first, then wind the engine down so
	// sessions see clean closes and the collection snapshot gets saved.
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}
	if err := engine.Stop(); err != nil {
		log.Errorf("Error stopping engine: %v", err)
	}

	log.Info("Server exited")
}

func setupRouter(engine *service.Engine) *gin.Engine {
	router := gin.Default()

	// Add gzip compression middleware
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	// Add CORS middleware
	router.Use(cors.New(cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type"},
		AllowOrigins:     []string{"*"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	h := handlers.NewHandlers(engine)

	// API routes
	api := router.Group("/api/v3")
	{
		// WebSocket upgrade into a live map session
		api.GET(EndPointMapSession, h.MapSession)

		// Health check endpoint
		api.GET(EndPointHealth, h.HealthCheck)

		// Client bootstrap: style URL, default camera, engine constants
		api.GET(EndPointBootstrap, h.Bootstrap)

		// One-shot cluster queries for map embeds
		api.GET(EndPointClusters, h.GetClusters)
		api.GET(EndPointClustersGeoJSON, h.GetClustersGeoJSON)
	}

	// Root health check
	router.GET(EndPointHealth, func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "map-engine",
			"time":    time.Now().UTC().Format(time.RFC3339),
		})
	})

	return router
}
