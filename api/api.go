// Package api names the HTTP surface of the map engine for clients.
package api

const (
	HealthEndpoint          = "/api/v3/health"
	BootstrapEndpoint       = "/api/v3/bootstrap"
	ClustersEndpoint        = "/api/v3/clusters"
	ClustersGeoJSONEndpoint = "/api/v3/clusters/geojson"
	MapSessionEndpoint      = "/api/v3/ws/map"
)
