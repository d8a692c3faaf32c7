package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	apiMiddleware "github.com/phrazzld/leitbox/internal/api/middleware"
	"github.com/phrazzld/leitbox/internal/service/auth"
	"github.com/phrazzld/leitbox/internal/task"
)

// MediaPrefix is the path below which the local media backend is served.
const MediaPrefix = "/media"

// RouterDeps holds everything the HTTP routes need.
type RouterDeps struct {
	JWTService  auth.JWTService
	Boxes       BoxService
	Cards       CardService
	Review      ReviewService
	Jobs        JobRunner
	Exporter    task.Exporter
	Importer    task.Importer
	Subscriber  Subscriber
	JobConfig   JobHandlerConfig
	CheckOrigin func(*http.Request) bool

	// Media serves signed media URLs. It is nil for backends that serve
	// their own URLs.
	Media http.Handler

	Logger *slog.Logger
}

// NewRouter creates the application router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(apiMiddleware.TraceMiddleware(log))
	r.Use(middleware.Recoverer)

	authMiddleware := apiMiddleware.NewAuthMiddleware(deps.JWTService)
	boxHandler := NewBoxHandler(deps.Boxes, log)
	cardHandler := NewCardHandler(deps.Cards, log)
	sessionHandler := NewSessionHandler(deps.Review, log)
	jobHandler := NewJobHandler(deps.Jobs, deps.Boxes, deps.Exporter, deps.Importer, deps.JobConfig, log)
	watchHandler := NewWatchHandler(deps.Cards, deps.Subscriber, deps.CheckOrigin, log)

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)

		r.Get("/boxes", boxHandler.ListBoxes)
		r.Post("/boxes", boxHandler.CreateBox)
		r.Route("/boxes/{boxID}", func(r chi.Router) {
			r.Get("/", boxHandler.GetBox)
			r.Patch("/", boxHandler.UpdateBox)
			r.Delete("/", boxHandler.DeleteBox)
			r.Post("/rebalance", boxHandler.RebalanceBox)

			r.Get("/cards", cardHandler.ListCards)
			r.Post("/cards", cardHandler.CreateCard)
			r.Post("/cards/batch-delete", cardHandler.BatchDeleteCards)

			r.Post("/sessions", sessionHandler.StartSession)
			r.Post("/export", jobHandler.ExportBox)
			r.Get("/watch", watchHandler.Watch)
		})

		r.Get("/cards/{cardID}", cardHandler.GetCard)
		r.Put("/cards/{cardID}", cardHandler.UpdateCard)
		r.Delete("/cards/{cardID}", cardHandler.DeleteCard)

		r.Get("/sessions/{sessionID}", sessionHandler.GetSession)
		r.Delete("/sessions/{sessionID}", sessionHandler.EndSession)
		r.Post("/sessions/{sessionID}/answer", sessionHandler.AnswerCard)
		r.Post("/sessions/{sessionID}/grade", sessionHandler.GradeCard)

		r.Post("/imports", jobHandler.ImportBox)
		r.Get("/jobs/{jobID}", jobHandler.GetJob)
		r.Delete("/jobs/{jobID}", jobHandler.CancelJob)
	})

	if deps.Media != nil {
		r.Handle(MediaPrefix+"/*", deps.Media)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error("Failed to write health check response", "error", err)
		}
	})

	return r
}
