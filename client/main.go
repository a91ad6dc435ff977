// Dev/test client for dev/test/troubleshooting.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"map-engine/api"

	"github.com/apex/log"
	"github.com/gorilla/websocket"
)

const serviceUrl = "http://127.0.0.1:8080"

var (
	deny = flag.Bool("deny", false, "Simulate a denied location permission.")
	lat  = flag.Float64("lat", 40.7128, "Reported device latitude.")
	lng  = flag.Float64("lng", -74.006, "Reported device longitude.")
)

func doBootstrap() {
	log.Info("doBootstrap()")
	resp, err := http.Get(serviceUrl + api.BootstrapEndpoint)
	if err != nil {
		log.Errorf("Failed to call the server with %v", err)
		return
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	log.Infof("Done, %s: %v", resp.Status, string(body))
}

func doClusters() {
	log.Info("doClusters()")
	resp, err := http.Get(serviceUrl + api.ClustersEndpoint + "?west=-180&south=-85&east=180&north=85&zoom=2")
	if err != nil {
		log.Errorf("Failed to call the server with %v", err)
		return
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	log.Infof("Done, %s: %v", resp.Status, string(body))
}

func doMapSession() {
	log.Info("doMapSession()")

	wsUrl := "ws" + strings.TrimPrefix(serviceUrl, "http") + api.MapSessionEndpoint
	conn, _, err := websocket.DefaultDialer.Dial(wsUrl, nil)
	if err != nil {
		log.Errorf("Failed to open the map session with %v", err)
		return
	}
	defer conn.Close()

	// The session renders nothing until the position resolves one way or the
	// other, so report it first.
	if *deny {
		send(conn, `{"type":"position_error","data":{"reason":"denied"}}`)
	} else {
		send(conn, fmt.Sprintf(`{"type":"position","data":{"latitude":%f,"longitude":%f}}`, *lat, *lng))
	}

	send(conn, fmt.Sprintf(`
	{
		"type": "camera",
		"data": {
			"center_lat": %f,
			"center_lng": %f,
			"zoom": 12,
			"bounds": {"west": %f, "south": %f, "east": %f, "north": %f}
		}
	}`, *lat, *lng, *lng-0.2, *lat-0.1, *lng+0.2, *lat+0.1))

	// Print whatever the session pushes for a few seconds.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Infof("Session drained: %v", err)
			return
		}
		var frame struct {
			Type string `json:"type"`
			Data struct {
				Clusters   []json.RawMessage `json:"clusters"`
				EmptyState bool              `json:"empty_state"`
			} `json:"data"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Errorf("Failed to decode frame: %v", err)
			continue
		}
		switch frame.Type {
		case "render":
			log.Infof("Got render: %d clusters, empty_state=%v", len(frame.Data.Clusters), frame.Data.EmptyState)
		default:
			log.Infof("Got %s: %s", frame.Type, string(data))
		}
	}
}

func send(conn *websocket.Conn, frame string) {
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		log.Errorf("Failed to send frame with %v", err)
	}
}

func main() {
	flag.Parse()

	doBootstrap()
	doClusters()
	doMapSession()
}
