package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type RouterOptions struct {
	// AuthMiddleware, when set, guards every route except /healthz.
	AuthMiddleware func(http.Handler) http.Handler
}

// NewRouter constructs the harness HTTP router.
func NewRouter(s *Server) http.Handler {
	return NewRouterWithOptions(s, RouterOptions{})
}

func NewRouterWithOptions(s *Server, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if opts.AuthMiddleware != nil {
		r.Use(opts.AuthMiddleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Post("/sessions", s.CreateSession)
	r.Route("/sessions/{token}", func(r chi.Router) {
		r.Use(sessionMiddleware(s.Sessions))
		r.Get("/", s.GetSession)
		r.Delete("/", s.DeleteSession)
		r.Put("/fields/{role}", s.UpdateField)
		r.Post("/autofill", s.Autofill)
		r.Post("/tokenize", s.Tokenize)
		r.Get("/diagnostics", s.GetDiagnostics)
		r.Get("/telemetry", s.ListTelemetry)
	})
	return r
}
