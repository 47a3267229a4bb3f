package handlers

import (
	"net/http"
)

// Health is the liveness probe. It deliberately touches no dependencies;
// readiness of the database and queue shows up in job processing, not here.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "reelforge",
	})
}
