package httpapi

import (
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"postaty/internal/httpapi/handlers"
	"postaty/internal/httpkit"
	"postaty/internal/orchestrator"
	"postaty/internal/pkg/logger"
	"postaty/internal/pkg/middleware"
	"postaty/internal/ports"
)

type Deps struct {
	Pool     *pgxpool.Pool
	RDB      *redis.Client
	SP       ports.StorageProvider
	Admitter *orchestrator.Admitter
	Jobs     ports.JobStore
	Ledger   ports.CreditLedger
	Sink     ports.NotificationSink
	Log      *logger.Logger
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(d.Log))
	r.Use(middleware.Logging(d.Log))

	// ---- CORS (Swagger UI + frontend) ----
	allowedOrigins := envCSV("CORS_ALLOWED_ORIGINS", []string{
		"http://localhost:8081",
		"http://localhost:5173",
	})
	r.Use(httpkit.CORS(httpkit.CORSOptions{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-User-ID"},
		AllowCredentials: false,
		MaxAgeSeconds:    600,
	}))

	h := handlers.New(handlers.Deps{
		Pool:     d.Pool,
		RDB:      d.RDB,
		SP:       d.SP,
		Admitter: d.Admitter,
		Jobs:     d.Jobs,
		Ledger:   d.Ledger,
		Sink:     d.Sink,
		Log:      d.Log,
	})

	// ---- HEALTH ----
	r.Get("/health", h.Health)

	// ---- JOBS ----
	r.Post("/jobs", h.PostJob)
	r.Get("/jobs", h.ListJobs)
	r.Get("/jobs/{jobId}", h.GetJob)
	r.Post("/jobs/{jobId}/cancel", h.CancelJob)
	r.Get("/jobs/{jobId}/output", h.GetJobOutput)

	// ---- CREDITS ----
	r.Get("/credits/balance", h.GetBalance)
	r.Get("/credits/ledger", h.ListLedger)
	r.Post("/credits/grant", h.GrantCredits)

	// ---- NOTIFICATIONS ----
	r.Get("/notifications", h.ListNotifications)
	r.Post("/notifications/{notificationId}/read", h.ReadNotification)

	return r
}

func envCSV(key string, def []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
