package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rickgao/crm-console/internal/connection"
	"github.com/rickgao/crm-console/internal/events"
	"github.com/rickgao/crm-console/internal/journal"
	"github.com/rickgao/crm-console/internal/model"
	"github.com/rickgao/crm-console/internal/version"
)

type connectionSource interface {
	Status() connection.Status
	Stats() connection.ManagerStats
}

type dispatcherSource interface {
	Stats() events.Stats
}

type userSource interface {
	User() *model.User
}

type journalSource interface {
	Stats() journal.Metrics
}

// statusResponse is served on /status.
type statusResponse struct {
	Version    string                  `json:"version"`
	State      connection.State        `json:"state"`
	Transport  string                  `json:"transport,omitempty"`
	Since      time.Time               `json:"since"`
	Activity   *time.Time              `json:"last_activity,omitempty"`
	Attempts   int                     `json:"reconnect_attempts"`
	Error      string                  `json:"error,omitempty"`
	User       string                  `json:"user,omitempty"`
	Connection connection.ManagerStats `json:"connection_stats"`
	Events     events.Stats            `json:"event_stats"`
	Journal    *journal.Metrics        `json:"journal_stats,omitempty"`
}

// newHealthHandler creates the HTTP handler for health checks. j may be nil.
func newHealthHandler(conn connectionSource, d dispatcherSource, users userSource, j *journal.Writer) http.Handler {
	var js journalSource
	if j != nil {
		js = j
	}
	return healthMux(conn, d, users, js)
}

func healthMux(conn connectionSource, d dispatcherSource, users userSource, j journalSource) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := conn.Status()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		health.Components["connection"] = status.State
		switch status.State {
		case connection.StateConnected:
		case connection.StateError, connection.StateReconnectFailed:
			health.Status = "unhealthy"
		default:
			health.Status = "degraded"
		}

		if j != nil {
			m := j.Stats()
			health.Components["journal"] = map[string]int64{
				"inserts": m.Inserts,
				"errors":  m.Errors,
				"dropped": m.Dropped,
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		status := conn.Status()

		resp := statusResponse{
			Version:    version.Version,
			State:      status.State,
			Transport:  status.Transport,
			Since:      status.Since,
			Attempts:   status.ReconnectAttempts,
			Connection: conn.Stats(),
			Events:     d.Stats(),
		}
		if !status.LastActivity.IsZero() {
			resp.Activity = &status.LastActivity
		}
		if status.Err != nil {
			resp.Error = status.Err.Error()
		}
		if u := users.User(); u != nil {
			resp.User = u.Email
		}
		if j != nil {
			m := j.Stats()
			resp.Journal = &m
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	return mux
}
