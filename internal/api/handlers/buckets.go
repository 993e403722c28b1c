package handlers

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dvloznov/envelope-ledger/internal/api/middleware"
	"github.com/dvloznov/envelope-ledger/internal/service"
)

// BucketsHandler serves projected balances.
type BucketsHandler struct {
	svc *service.Service
	log zerolog.Logger
}

// NewBucketsHandler creates a buckets handler.
func NewBucketsHandler(svc *service.Service, log zerolog.Logger) *BucketsHandler {
	return &BucketsHandler{svc: svc, log: log}
}

// List handles GET /api/buckets: every bucket's derived balances plus the
// unassigned pool, freshly projected from the log on each request.
func (h *BucketsHandler) List(w http.ResponseWriter, r *http.Request) {
	proj, err := h.svc.Projector(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to project ledger")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to project ledger")
		return
	}

	balances := proj.BucketBalances()
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"buckets":    balances,
		"unassigned": proj.UnassignedBalance(),
		"count":      len(balances),
	})
}
