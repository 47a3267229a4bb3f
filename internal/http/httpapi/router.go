package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"reelforge/internal/http/handlers"
	"reelforge/internal/infra"
	"reelforge/internal/middleware"
)

// NewRouter wires the public API surface. Locale detection runs on every
// request so admission can default the prompt locale from the caller's
// language or country.
func NewRouter(app *handlers.App, log infra.Logger, defaultLocale string, lookup middleware.CountryLookup) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(log),
		middleware.I18N(defaultLocale, lookup),
	)

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/jobs", func(r chi.Router) {
		r.Post("/", app.JobCreate)
		r.Get("/{job_id}", app.JobStatus)
	})
	r.Get("/v1/credits", app.Credits)

	return r
}
