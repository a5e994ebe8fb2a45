package healthcheck

import (
	"encoding/json"
	"net/http"
	"time"
)

// response is the JSON body for both probe endpoints. Snapshot fields are
// flattened so scrapers can read cycle timing regardless of probe outcome.
type response struct {
	Status string `json:"status"`
	Snapshot
}

// HealthHandler serves /healthz: the daemon is healthy while the last
// reconcile cycle completed within twice the poll interval.
func HealthHandler(tracker *Tracker, pollInterval time.Duration) http.HandlerFunc {
	return probeHandler(tracker, func() bool {
		return tracker.Healthy(time.Now().UTC(), pollInterval)
	})
}

// ReadyHandler serves /readyz: ready once the first cycle has completed.
func ReadyHandler(tracker *Tracker) http.HandlerFunc {
	return probeHandler(tracker, tracker.Ready)
}

func probeHandler(tracker *Tracker, check func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := response{Status: "unavailable", Snapshot: tracker.Snapshot()}
		status := http.StatusServiceUnavailable
		if check() {
			body.Status = "ok"
			status = http.StatusOK
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
