package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/segyhp/settlement-engine/internal/domain"
	"github.com/segyhp/settlement-engine/internal/oracle"
	"github.com/segyhp/settlement-engine/pkg/response"
)

type OracleVerifier interface {
	Verify(ctx context.Context, obl domain.Obligation) (*oracle.SettlementResult, error)
}

// OracleHandler serves verification requests when this node acts as a settlement oracle.
type OracleHandler struct {
	verifier OracleVerifier
	logger   *slog.Logger
}

func NewOracleHandler(verifier OracleVerifier, logger *slog.Logger) *OracleHandler {
	return &OracleHandler{verifier: verifier, logger: logger}
}

func (h *OracleHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/oracle/verify", h.Verify).Methods(http.MethodPost)
}

// Verify checks the latest payment of the posted obligation. Only its
// participants may ask.
func (h *OracleHandler) Verify(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req oracle.VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body", err)
		return
	}
	if !req.Obligation.IsParticipant(caller) {
		response.Forbidden(w, "caller is not a participant of the obligation")
		return
	}

	result, err := h.verifier.Verify(r.Context(), req.Obligation)
	if err != nil {
		if response.StatusFor(err) >= http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "oracle verification failed", "error", err, "linear_id", req.Obligation.LinearID)
		}
		response.FromError(w, "Verification failed", err)
		return
	}
	response.Success(w, result)
}
