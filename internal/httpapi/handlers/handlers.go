package handlers

import (
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"postaty/internal/httpkit"
	"postaty/internal/orchestrator"
	apperrors "postaty/internal/pkg/errors"
	"postaty/internal/pkg/logger"
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

type Handler struct {
	pool     *pgxpool.Pool
	rdb      *redis.Client
	sp       ports.StorageProvider
	admitter *orchestrator.Admitter
	jobs     ports.JobStore
	ledger   ports.CreditLedger
	sink     ports.NotificationSink
	log      *logger.Logger
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	return &Handler{
		pool:     d.Pool,
		rdb:      d.RDB,
		sp:       d.SP,
		admitter: d.Admitter,
		jobs:     d.Jobs,
		ledger:   d.Ledger,
		sink:     d.Sink,
		log:      log.WithComponent("httpapi"),
	}
}

// ownerID extracts the caller identity. Authentication happens upstream;
// the identity layer injects X-User-ID and this service trusts it.
func ownerID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-User-ID"))
}

// writeError maps a domain error onto the JSON error envelope.
func writeError(w http.ResponseWriter, err error) {
	httpkit.WriteErr(w,
		apperrors.GetHTTPStatus(err),
		string(apperrors.GetCode(err)),
		err.Error(),
		apperrors.GetFields(err),
	)
}
