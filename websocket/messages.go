package websocket

import "encoding/json"

// Inbound frame types sent by map clients.
const (
	TypeCamera        = "camera"
	TypePosition      = "position"
	TypePositionError = "position_error"
	TypeSelect        = "select"
	TypeExpand        = "expand"
	TypeDismiss       = "dismiss"
	TypeDismissBanner = "dismiss_banner"
	TypeFilter        = "filter"
)

// Outbound frame types sent to map clients.
const (
	TypeRender = "render"
	TypeFlyTo  = "fly_to"
)

// Frame is one inbound client message. Data stays raw until the type is
// known; malformed frames are logged and dropped, never fatal.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type selectPayload struct {
	IssueID string `json:"issue_id"`
}

type expandPayload struct {
	ClusterID string `json:"cluster_id"`
}

type dismissBannerPayload struct {
	Kind string `json:"kind"`
}

type filterPayload struct {
	Categories []string `json:"categories"`
}

type positionErrorPayload struct {
	Reason string `json:"reason"`
}
