package models

import (
	"time"
)

// Category classifies an issue into one of the six reportable kinds.
type Category string

const (
	CategoryPothole         Category = "Pothole"
	CategoryStreetlight     Category = "Streetlight Outage"
	CategoryGarbage         Category = "Garbage Overflow"
	CategoryWaterLeakage    Category = "Water Leakage"
	CategoryDamagedProperty Category = "Damaged Public Property"
	CategoryOther           Category = "Other"
)

// Status tracks an issue through the municipal workflow.
type Status string

const (
	StatusPending      Status = "pending"
	StatusAcknowledged Status = "acknowledged"
	StatusInProgress   Status = "in-progress"
	StatusResolved     Status = "resolved"
)

var categories = map[Category]bool{
	CategoryPothole:         true,
	CategoryStreetlight:     true,
	CategoryGarbage:         true,
	CategoryWaterLeakage:    true,
	CategoryDamagedProperty: true,
	CategoryOther:           true,
}

var statuses = map[Status]bool{
	StatusPending:      true,
	StatusAcknowledged: true,
	StatusInProgress:   true,
	StatusResolved:     true,
}

// ParseCategory maps a raw string onto a known category. Unknown values
// fall back to Other rather than invalidating the record.
func ParseCategory(s string) Category {
	if categories[Category(s)] {
		return Category(s)
	}
	return CategoryOther
}

// ParseStatus maps a raw string onto a known status, defaulting to pending.
func ParseStatus(s string) Status {
	if statuses[Status(s)] {
		return Status(s)
	}
	return StatusPending
}

// KnownCategory reports whether s names one of the reportable categories.
// Unlike ParseCategory it does not fall back, so filters stay strict.
func KnownCategory(s string) (Category, bool) {
	c := Category(s)
	return c, categories[c]
}

// Categories lists the reportable categories in display order.
func Categories() []Category {
	return []Category{
		CategoryPothole,
		CategoryStreetlight,
		CategoryGarbage,
		CategoryWaterLeakage,
		CategoryDamagedProperty,
		CategoryOther,
	}
}

// Location is where an issue was reported.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address"`
}

// IssueRecord represents one reported civic issue from the issues collection
type IssueRecord struct {
	ID           string    `json:"id"`
	Category     Category  `json:"category"`
	Description  string    `json:"description"`
	PhotoURL     string    `json:"photo_url,omitempty"`
	Location     Location  `json:"location"`
	Status       Status    `json:"status"`
	ReporterName string    `json:"reporter_name,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Point is the immutable projection of an IssueRecord used for indexing
type Point struct {
	Longitude float64  `json:"longitude"`
	Latitude  float64  `json:"latitude"`
	IssueID   string   `json:"issue_id"`
	Category  Category `json:"category"`
}

// PointsFromRecords derives the full point set for the given records.
// An empty allowed set means no category filter. Derivation is wholesale:
// callers replace their previous point set rather than patching it.
func PointsFromRecords(records []IssueRecord, allowed map[Category]bool) []Point {
	points := make([]Point, 0, len(records))
	for _, r := range records {
		if len(allowed) > 0 && !allowed[r.Category] {
			continue
		}
		points = append(points, Point{
			Longitude: r.Location.Longitude,
			Latitude:  r.Location.Latitude,
			IssueID:   r.ID,
			Category:  r.Category,
		})
	}
	return points
}

// UserPosition represents the viewer's device position
type UserPosition struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Message represents an envelope sent to WebSocket clients
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status           string `json:"status"`
	Service          string `json:"service"`
	Timestamp        string `json:"timestamp"`
	ConnectedClients int    `json:"connected_clients"`
	IndexedPoints    int    `json:"indexed_points"`
}
