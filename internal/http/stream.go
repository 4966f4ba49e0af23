package httpx

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/splax/teambuilder/internal/ws"
)

const activityEvent = "activity"

// activityTopic resolves the optional profile_id filter to a hub topic.
func activityTopic(w http.ResponseWriter, req *http.Request) (string, bool) {
	profileID := strings.TrimSpace(req.URL.Query().Get("profile_id"))
	if profileID == "" {
		return ws.AllTopics, true
	}
	if _, err := uuid.Parse(profileID); err != nil {
		writeError(w, http.StatusBadRequest, "profile_id must be a UUID")
		return "", false
	}
	return profileID, true
}

func (r *Router) activityHub(w http.ResponseWriter) (*ws.Hub, bool) {
	hub := r.activity.Hub()
	if hub == nil {
		writeError(w, http.StatusServiceUnavailable, "activity feed disabled")
		return nil, false
	}
	return hub, true
}

func (r *Router) handleActivityWS(w http.ResponseWriter, req *http.Request) {
	topic, ok := activityTopic(w, req)
	if !ok {
		return
	}
	hub, ok := r.activityHub(w)
	if !ok {
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	hub.Register(topic, client)
	go func() {
		defer func() {
			hub.Unregister(topic, client)
			client.Close()
		}()
		client.Drain()
	}()
}

func (r *Router) handleActivitySSE(w http.ResponseWriter, req *http.Request) {
	topic, ok := activityTopic(w, req)
	if !ok {
		return
	}
	hub, ok := r.activityHub(w)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, activityEvent, r.logger)
	hub.Register(topic, client)
	defer hub.Unregister(topic, client)
	client.Serve(req.Context(), r.heartbeat)
}
