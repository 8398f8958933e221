package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/gps_receiver/internal/state"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

const wsWriteWait = 5 * time.Second

// LiveMessage is pushed on /ws/live every push interval.
type LiveMessage struct {
	Type      string                       `json:"type"` // always "live"
	Devices   map[string]state.DeviceState `json:"devices"`
	Recording RecordingView                `json:"recording"`
}

// handleLiveWS streams snapshots until the client goes away or the server
// shuts down. Client messages are read and discarded so close frames and
// pings are processed.
func (s *server) handleLiveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("web: websocket upgrade error", slog.Any("error", err))
		return
	}
	defer conn.Close()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.opts.PushInterval)
	defer ticker.Stop()

	for {
		msg := LiveMessage{
			Type:      "live",
			Devices:   s.engine.LiveState(),
			Recording: s.engine.Recording(),
		}
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(msg); err != nil {
			s.log.Debug("web: websocket write error", slog.Any("error", err))
			return
		}

		select {
		case <-ticker.C:
		case <-gone:
			return
		case <-s.opts.Done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(wsWriteWait))
			return
		}
	}
}
