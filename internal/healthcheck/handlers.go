package healthcheck

import (
	"encoding/json"
	"net/http"
	"time"
)

// HealthHandler serves /healthz responses. The status reflects the console,
// not the backend: a failing backend check still counts as a resolved check.
func HealthHandler(tracker *Tracker, pollInterval time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respond(w, tracker, tracker.Healthy(time.Now().UTC(), pollInterval))
	}
}

// ReadyHandler serves /readyz responses.
func ReadyHandler(tracker *Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respond(w, tracker, tracker.Ready())
	}
}

func respond(w http.ResponseWriter, tracker *Tracker, ok bool) {
	status := http.StatusServiceUnavailable
	if ok {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(tracker.Snapshot())
}
