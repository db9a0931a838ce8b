package web

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"reelmusic/internal/job"
)

const (
	eventsWriteWait  = 10 * time.Second
	eventsPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEvents streams job lifecycle events over a websocket.
// ?job=<id> limits the stream to one job; ?since=<seq> replays buffered
// events after that sequence number first.
func (s *server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendJSONError(w, "", "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.bus == nil {
		s.sendJSONError(w, "", "event stream is not enabled", http.StatusServiceUnavailable)
		return
	}

	jobID := r.URL.Query().Get("job")
	var since int64 = -1
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			s.sendJSONError(w, "", "since must be a non-negative integer", http.StatusBadRequest)
			return
		}
		since = n
	}

	// Subscribe before replaying so nothing published in between is lost.
	events, cancel := s.bus.Subscribe(64)
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Reader goroutine: detects client close and answers control frames.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var lastSeq int64
	send := func(e job.Event) bool {
		if jobID != "" && e.JobID != jobID {
			return true
		}
		if e.Seq <= lastSeq {
			return true
		}
		lastSeq = e.Seq
		conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
		if err := conn.WriteJSON(e); err != nil {
			slog.Debug("event stream write failed", "error", err)
			return false
		}
		return true
	}

	if since >= 0 {
		for _, e := range s.bus.Since(since) {
			if !send(e) {
				return
			}
		}
	}

	ping := time.NewTicker(eventsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if !send(e) {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventsWriteWait)); err != nil {
				return
			}
		}
	}
}
