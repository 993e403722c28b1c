package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dvloznov/envelope-ledger/internal/api/middleware"
	"github.com/dvloznov/envelope-ledger/internal/assistant"
	"github.com/dvloznov/envelope-ledger/internal/gateway"
	"github.com/dvloznov/envelope-ledger/internal/service"
)

// ActionsHandler serves the action-gateway endpoints. Structured client
// commands and assistant proposals both land here and run through the same
// gateway instance.
type ActionsHandler struct {
	gw   *gateway.Gateway
	svc  *service.Service
	asst assistant.Service
	log  zerolog.Logger
}

// NewActionsHandler creates the handler. asst may be nil when no assistant
// is configured; the /api/assistant endpoint then responds 503.
func NewActionsHandler(gw *gateway.Gateway, svc *service.Service, asst assistant.Service, log zerolog.Logger) *ActionsHandler {
	return &ActionsHandler{gw: gw, svc: svc, asst: asst, log: log}
}

type actionsRequest struct {
	Actions []map[string]any `json:"actions"`
}

// Apply handles POST /api/actions.
func (h *ActionsHandler) Apply(w http.ResponseWriter, r *http.Request) {
	var req actionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Actions) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "No actions provided")
		return
	}

	result, err := h.gw.Process(r.Context(), req.Actions)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to process action batch")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to process actions")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, result)
}

type assistantRequest struct {
	Command string `json:"command"`
}

// Assist handles POST /api/assistant: the command goes to the assistant with
// the current ledger snapshot, and whatever it proposes runs through the
// gateway like any other input.
func (h *ActionsHandler) Assist(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.asst == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "No assistant configured")
		return
	}

	var req assistantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Command == "" {
		middleware.WriteError(w, http.StatusBadRequest, "Command is required")
		return
	}

	proj, err := h.svc.Projector(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to project ledger for assistant")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to build ledger context")
		return
	}

	proposal, err := h.asst.ProposeActions(ctx, req.Command, assistant.Context{
		UnassignedBalance: proj.UnassignedBalance().String(),
		Buckets:           proj.BucketBalances(),
	})
	if err != nil {
		h.log.Error().Err(err).Msg("Assistant call failed")
		middleware.WriteError(w, http.StatusBadGateway, "Assistant call failed")
		return
	}

	result, err := h.gw.Process(ctx, proposal.Actions)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to process assistant actions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to process actions")
		return
	}
	if proposal.Summary != "" {
		result.Summary = proposal.Summary + " (" + result.Summary + ")"
	}
	result.Warnings = append(proposal.Warnings, result.Warnings...)

	middleware.WriteJSON(w, http.StatusOK, result)
}
