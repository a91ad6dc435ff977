package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/gorilla/websocket"

	"map-engine/feed"
	"map-engine/mapview"
	"map-engine/models"
	"map-engine/position"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = 54 * time.Second

	// Maximum inbound frame size. Camera frames dominate and stay tiny.
	maxFrameSize = 4096
)

// Session is one connected map client. It is both the render surface for its
// controller and the position source: the browser relays geolocation results
// over the same socket.
type Session struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	ctrl *mapview.Controller

	samples  chan position.Sample
	failures chan position.Failure
	posDone  chan struct{}
	posOnce  sync.Once

	closed chan struct{}
	once   sync.Once
}

func newSession(h *Hub, conn *websocket.Conn) (*Session, error) {
	s := &Session{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, 256),
		samples:  make(chan position.Sample),
		failures: make(chan position.Failure),
		posDone:  make(chan struct{}),
		closed:   make(chan struct{}),
	}

	f, err := feed.Subscribe(context.Background(), h.cfg.Store, h.cfg.Collection)
	if err != nil {
		return nil, err
	}

	watcher := position.NewWatcher(s, h.cfg.Watch)
	s.ctrl = mapview.NewController(s, f, watcher, h.cfg.View)
	return s, nil
}

// Watch implements position.Source over the socket's position frames.
func (s *Session) Watch(position.WatchOptions) (position.Stream, error) {
	return sensorStream{s}, nil
}

type sensorStream struct {
	s *Session
}

func (st sensorStream) Samples() <-chan position.Sample { return st.s.samples }

func (st sensorStream) Failures() <-chan position.Failure { return st.s.failures }

func (st sensorStream) Cancel() {
	st.s.posOnce.Do(func() { close(st.s.posDone) })
}

// Render implements mapview.Surface.
func (s *Session) Render(rs mapview.RenderSet) {
	s.enqueue(TypeRender, rs)
}

// FlyTo implements mapview.Surface.
func (s *Session) FlyTo(cmd mapview.FlyTo) {
	s.enqueue(TypeFlyTo, cmd)
}

// enqueue wraps data in the outbound envelope and queues it. A session whose
// buffer is full is dropped rather than allowed to stall its controller.
func (s *Session) enqueue(msgType string, data interface{}) {
	msg := models.Message{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Errorf("failed to marshal %s frame: %v", msgType, err)
		return
	}

	select {
	case s.send <- payload:
	case <-s.closed:
	default:
		log.Warnf("dropping session with full send buffer")
		s.close()
	}
}

func (s *Session) close() {
	s.once.Do(func() { close(s.closed) })
}

// readPump pumps frames from the connection into the controller. It owns
// session teardown: when the read side ends, the controller and both
// subscriptions are stopped.
func (s *Session) readPump() {
	defer func() {
		s.close()
		s.hub.Unregister <- s
		s.ctrl.Stop()
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxFrameSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Debugf("session read error: %v", err)
			}
			return
		}
		s.dispatch(data)
	}
}

func (s *Session) dispatch(data []byte) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		log.Debugf("discarding malformed frame: %v", err)
		return
	}

	switch frame.Type {
	case TypeCamera:
		var vp models.Viewport
		if err := json.Unmarshal(frame.Data, &vp); err != nil {
			log.Debugf("discarding camera frame: %v", err)
			return
		}
		s.ctrl.UpdateCamera(vp)

	case TypePosition:
		var sample position.Sample
		if err := json.Unmarshal(frame.Data, &sample); err != nil {
			log.Debugf("discarding position frame: %v", err)
			return
		}
		select {
		case s.samples <- sample:
		case <-s.posDone:
		case <-s.closed:
		}

	case TypePositionError:
		var p positionErrorPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			log.Debugf("discarding position error frame: %v", err)
			return
		}
		select {
		case s.failures <- position.Failure{Reason: position.Reason(p.Reason)}:
		case <-s.posDone:
		case <-s.closed:
		}

	case TypeSelect:
		var p selectPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			log.Debugf("discarding select frame: %v", err)
			return
		}
		s.ctrl.Select(p.IssueID)

	case TypeExpand:
		var p expandPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			log.Debugf("discarding expand frame: %v", err)
			return
		}
		s.ctrl.Expand(p.ClusterID)

	case TypeDismiss:
		s.ctrl.Dismiss()

	case TypeDismissBanner:
		var p dismissBannerPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			log.Debugf("discarding banner frame: %v", err)
			return
		}
		s.ctrl.DismissBanner(mapview.BannerKind(p.Kind))

	case TypeFilter:
		var p filterPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			log.Debugf("discarding filter frame: %v", err)
			return
		}
		categories := make([]models.Category, 0, len(p.Categories))
		for _, raw := range p.Categories {
			c, ok := models.KnownCategory(raw)
			if !ok {
				log.Debugf("ignoring unknown category %q in filter", raw)
				continue
			}
			categories = append(categories, c)
		}
		s.ctrl.SetFilter(categories)

	default:
		log.Debugf("discarding frame of unknown type %q", frame.Type)
	}
}

// writePump pumps queued frames to the connection and keeps it alive with
// pings. It owns the write side; nothing else writes to the connection.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case payload := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := s.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				s.close()
				return
			}
			w.Write(payload)
			if err := w.Close(); err != nil {
				s.close()
				return
			}

		case <-s.closed:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		}
	}
}
