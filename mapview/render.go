package mapview

import (
	"map-engine/cluster"
	"map-engine/models"
)

// BannerKind distinguishes the persistent notices shown over the map.
type BannerKind string

const (
	BannerFeedFailure     BannerKind = "feed_failure"
	BannerPositionFailure BannerKind = "position_failure"
)

// Banner is a dismissable notice. Banners degrade the view, never block it.
type Banner struct {
	Kind    BannerKind `json:"kind"`
	Message string     `json:"message"`
}

// RenderSet is everything a client needs to draw one frame.
type RenderSet struct {
	Clusters     []cluster.Cluster    `json:"clusters"`
	UserPosition *models.UserPosition `json:"user_position,omitempty"`
	Selected     *models.IssueRecord  `json:"selected,omitempty"`
	EmptyState   bool                 `json:"empty_state"`
	Banners      []Banner             `json:"banners"`
}

// FlyTo is a programmatic, animated camera move.
type FlyTo struct {
	CenterLat float64 `json:"center_lat"`
	CenterLng float64 `json:"center_lng"`
	Zoom      float64 `json:"zoom"`
}

// Surface is the map rendering target. Implementations are called from the
// controller goroutine and must not block for long; a websocket session
// queues frames, a test surface records them.
type Surface interface {
	Render(rs RenderSet)
	FlyTo(cmd FlyTo)
}
