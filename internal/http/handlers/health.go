package handlers

import (
	"context"
	"net/http"
	"time"
)

// Health reports process liveness. It touches no downstream dependency so the
// endpoint stays up while the provider or database is down.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready reports whether the service can take traffic, pinging the database
// with a short deadline.
func (a *App) Ready(w http.ResponseWriter, r *http.Request) {
	if a.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.DB.Ping(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("readiness check failed")
			a.json(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	a.json(w, http.StatusOK, map[string]string{"status": "ready"})
}
