package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"reelforge/internal/cache"
	"reelforge/internal/domain"
	"reelforge/internal/infra"
)

// App carries the handler dependencies. Handlers talk to the pipeline only
// through the durable stores: admission writes a job plus its first task, and
// the workers take it from there.
type App struct {
	Jobs   domain.JobStore
	Ledger domain.CreditLedger
	Queue  domain.TaskQueue
	Cache  cache.Cache
	Logger infra.Logger

	// Now is injectable for tests; defaults to time.Now via clock().
	Now func() time.Time
}

func (a *App) clock() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, slug, message string) {
	a.json(w, code, map[string]any{
		"error":   slug,
		"message": message,
	})
}

// currentOwnerID identifies the caller. Authentication happens upstream at
// the gateway, which forwards the verified identity in a header.
func (a *App) currentOwnerID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Owner-ID"))
}
