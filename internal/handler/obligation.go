package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/segyhp/settlement-engine/internal/domain"
	"github.com/segyhp/settlement-engine/internal/oracle"
	"github.com/segyhp/settlement-engine/internal/service"
	"github.com/segyhp/settlement-engine/pkg/auth"
	"github.com/segyhp/settlement-engine/pkg/response"
)

type ObligationService interface {
	CreateObligation(ctx context.Context, caller domain.Party, request domain.CreateObligationRequest) (*domain.VersionedObligation, error)
	GetObligation(ctx context.Context, linearID string) (*domain.VersionedObligation, error)
	ListObligations(ctx context.Context) ([]domain.VersionedObligation, error)
	UpdateSettlementMethod(ctx context.Context, caller domain.Party, linearID string, method domain.SettlementMethod) (*domain.VersionedObligation, error)
	Novate(ctx context.Context, caller domain.Party, linearID string, command domain.NovationCommand) (*domain.VersionedObligation, error)
	Cancel(ctx context.Context, caller domain.Party, linearID string) error
	AttachPaymentReference(ctx context.Context, caller domain.Party, linearID string, attached domain.AttachPaymentRequest) (*domain.VersionedObligation, error)
}

type SettlementService interface {
	Settle(ctx context.Context, caller domain.Party, linearID string, amount decimal.Decimal, opts service.SettleOptions) (*service.SettlementReceipt, error)
	ResumeVerification(ctx context.Context, linearID string) (*service.SettlementReceipt, error)
}

type ObligationHandler struct {
	obligations ObligationService
	settlement  SettlementService
	validator   *validator.Validate
	logger      *slog.Logger
	now         func() time.Time
}

func NewObligationHandler(obligations ObligationService, settlement SettlementService, logger *slog.Logger) *ObligationHandler {
	return &ObligationHandler{
		obligations: obligations,
		settlement:  settlement,
		validator:   NewValidator(),
		logger:      logger,
		now:         time.Now,
	}
}

// NewValidator returns a validator that also understands decimal_gt0.
func NewValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("decimal_gt0", func(fl validator.FieldLevel) bool {
		d, ok := fl.Field().Interface().(decimal.Decimal)
		return ok && d.IsPositive()
	})
	return v
}

// SettleResponse is returned by the settle and resume endpoints.
type SettleResponse struct {
	Obligation domain.ObligationResponse `json:"obligation"`
	Payment    domain.Payment            `json:"payment"`
	Result     *oracle.SettlementResult  `json:"result,omitempty"`
}

func (h *ObligationHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/obligations", h.Create).Methods(http.MethodPost)
	r.HandleFunc("/obligations", h.List).Methods(http.MethodGet)
	r.HandleFunc("/obligations/{id}", h.Get).Methods(http.MethodGet)
	r.HandleFunc("/obligations/{id}", h.Cancel).Methods(http.MethodDelete)
	r.HandleFunc("/obligations/{id}/settlement-method", h.UpdateSettlementMethod).Methods(http.MethodPut)
	r.HandleFunc("/obligations/{id}/novate", h.Novate).Methods(http.MethodPost)
	r.HandleFunc("/obligations/{id}/settle", h.Settle).Methods(http.MethodPost)
	r.HandleFunc("/obligations/{id}/resume", h.Resume).Methods(http.MethodPost)
	r.HandleFunc("/obligations/{id}/payments/attach", h.AttachPayment).Methods(http.MethodPost)
}

func (h *ObligationHandler) Create(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req domain.CreateObligationRequest
	if !h.decode(w, r, &req) {
		return
	}
	v, err := h.obligations.CreateObligation(r.Context(), caller, req)
	if err != nil {
		h.fail(w, r, "Failed to create obligation", err)
		return
	}
	response.Created(w, domain.NewObligationResponse(*v, h.now()))
}

func (h *ObligationHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.obligations.ListObligations(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list obligations", err)
		return
	}
	now := h.now()
	out := make([]domain.ObligationResponse, 0, len(list))
	for _, v := range list {
		out = append(out, domain.NewObligationResponse(v, now))
	}
	response.Success(w, out)
}

func (h *ObligationHandler) Get(w http.ResponseWriter, r *http.Request) {
	v, err := h.obligations.GetObligation(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, "Failed to get obligation", err)
		return
	}
	response.Success(w, domain.NewObligationResponse(*v, h.now()))
}

func (h *ObligationHandler) UpdateSettlementMethod(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req domain.SettlementMethodRequest
	if !h.decode(w, r, &req) {
		return
	}
	v, err := h.obligations.UpdateSettlementMethod(r.Context(), caller, mux.Vars(r)["id"], req.Method())
	if err != nil {
		h.fail(w, r, "Failed to update settlement method", err)
		return
	}
	response.Success(w, domain.NewObligationResponse(*v, h.now()))
}

func (h *ObligationHandler) Novate(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req domain.NovateRequest
	if !h.decode(w, r, &req) {
		return
	}
	id := mux.Vars(r)["id"]

	var currentToken string
	if req.Kind == domain.NovateFaceAmountQuantity && req.Token == "" {
		current, err := h.obligations.GetObligation(r.Context(), id)
		if err != nil {
			h.fail(w, r, "Failed to novate obligation", err)
			return
		}
		currentToken = current.Obligation.FaceAmount.Token
	}

	v, err := h.obligations.Novate(r.Context(), caller, id, req.Command(currentToken))
	if err != nil {
		h.fail(w, r, "Failed to novate obligation", err)
		return
	}
	response.Success(w, domain.NewObligationResponse(*v, h.now()))
}

func (h *ObligationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	if err := h.obligations.Cancel(r.Context(), caller, mux.Vars(r)["id"]); err != nil {
		h.fail(w, r, "Failed to cancel obligation", err)
		return
	}
	response.Success(w, map[string]string{"linear_id": mux.Vars(r)["id"], "status": "cancelled"})
}

func (h *ObligationHandler) Settle(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req domain.SettleRequest
	if !h.decode(w, r, &req) {
		return
	}
	receipt, err := h.settlement.Settle(r.Context(), caller, mux.Vars(r)["id"], req.Amount, service.SettleOptions{
		ManualReference: req.ManualReference,
	})
	if err != nil {
		h.fail(w, r, "Settlement failed", err)
		return
	}
	response.Success(w, h.settleResponse(receipt))
}

func (h *ObligationHandler) Resume(w http.ResponseWriter, r *http.Request) {
	if _, ok := callerFrom(w, r); !ok {
		return
	}
	receipt, err := h.settlement.ResumeVerification(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, "Verification failed", err)
		return
	}
	response.Success(w, h.settleResponse(receipt))
}

func (h *ObligationHandler) AttachPayment(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req domain.AttachPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	v, err := h.obligations.AttachPaymentReference(r.Context(), caller, mux.Vars(r)["id"], req)
	if err != nil {
		h.fail(w, r, "Failed to attach payment reference", err)
		return
	}
	response.Success(w, domain.NewObligationResponse(*v, h.now()))
}

func (h *ObligationHandler) settleResponse(receipt *service.SettlementReceipt) SettleResponse {
	return SettleResponse{
		Obligation: domain.NewObligationResponse(receipt.Obligation, h.now()),
		Payment:    receipt.Payment,
		Result:     receipt.Result,
	}
}

func (h *ObligationHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		response.BadRequest(w, "Invalid request body", err)
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		response.BadRequest(w, "Validation failed", err)
		return false
	}
	return true
}

func (h *ObligationHandler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := response.StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), message, "error", err, "path", r.URL.Path)
	}
	response.FromError(w, message, err)
}

// callerFrom turns the authenticated principal into a well-known party.
func callerFrom(w http.ResponseWriter, r *http.Request) (domain.Party, bool) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		response.Unauthorized(w, "authentication required")
		return domain.Party{}, false
	}
	name := p.Name
	if name == "" {
		name = p.Key
	}
	return domain.Party{Key: p.Key, Name: name}, true
}
