package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/segyhp/settlement-engine/internal/domain"
	"github.com/segyhp/settlement-engine/internal/service"
	"github.com/segyhp/settlement-engine/pkg/auth"
	customError "github.com/segyhp/settlement-engine/pkg/errors"
	"github.com/segyhp/settlement-engine/pkg/logger"
	"github.com/segyhp/settlement-engine/tests/mocks"
)

const testSecret = "handler-test-secret"

var (
	obligor = domain.Party{Key: "party-a", Name: "PartyA"}
	obligee = domain.Party{Key: "party-b", Name: "PartyB"}
)

func sampleObligation(t *testing.T) *domain.VersionedObligation {
	t.Helper()
	o, err := domain.NewObligation(domain.AmountFromInt(10000, "USD"), obligor, obligee, nil, time.Now().UTC())
	require.NoError(t, err)
	return &domain.VersionedObligation{Obligation: o, Version: 1}
}

func tokenFor(t *testing.T, p domain.Party) string {
	t.Helper()
	token, err := auth.IssueToken(testSecret, p.Key, p.Name, time.Hour)
	require.NoError(t, err)
	return token
}

type testServer struct {
	obligations *mocks.MockObligationService
	settlement  *mocks.MockSettlementService
	verifier    *mocks.MockOracleVerifier
	handler     http.Handler
}

func newTestServer() *testServer {
	s := &testServer{
		obligations: new(mocks.MockObligationService),
		settlement:  new(mocks.MockSettlementService),
		verifier:    new(mocks.MockOracleVerifier),
	}
	log := logger.Discard()
	s.handler = NewRouter(Routes{
		Health:      NewHealthHandlerWithChecks(nil, time.Second),
		Obligations: NewObligationHandler(s.obligations, s.settlement, log),
		Oracle:      NewOracleHandler(s.verifier, log),
	}, testSecret, log)
	return s
}

func (s *testServer) do(t *testing.T, method, path string, body any, caller *domain.Party) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != nil {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, *caller))
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

type errorBody struct {
	Success                bool   `json:"success"`
	Code                   string `json:"code"`
	Reference              string `json:"reference"`
	RequiresOperatorAction bool   `json:"requires_operator_action"`
}

func TestCreateObligation(t *testing.T) {
	valid := map[string]any{
		"amount":       "10000",
		"token":        "USD",
		"role":         "obligor",
		"counterparty": map[string]string{"key": obligee.Key, "name": obligee.Name},
	}

	tests := []struct {
		name       string
		body       any
		caller     *domain.Party
		setupMocks func(s *mocks.MockObligationService)
		wantStatus int
		wantCode   string
	}{
		{
			name:   "created",
			body:   valid,
			caller: &obligor,
			setupMocks: func(s *mocks.MockObligationService) {
				s.On("CreateObligation", mock.Anything, obligor, mock.MatchedBy(func(r domain.CreateObligationRequest) bool {
					return r.Amount.Equal(decimal.NewFromInt(10000)) && r.Counterparty.Key == obligee.Key
				})).Return(sampleObligation(t), nil)
			},
			wantStatus: http.StatusCreated,
		},
		{
			name:       "no token",
			body:       valid,
			setupMocks: func(s *mocks.MockObligationService) {},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "zero amount fails validation",
			body: map[string]any{
				"amount":       "0",
				"token":        "USD",
				"role":         "obligor",
				"counterparty": map[string]string{"key": obligee.Key},
			},
			caller:     &obligor,
			setupMocks: func(s *mocks.MockObligationService) {},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed body",
			body:       "{not json",
			caller:     &obligor,
			setupMocks: func(s *mocks.MockObligationService) {},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:   "business error keeps its code",
			body:   valid,
			caller: &obligor,
			setupMocks: func(s *mocks.MockObligationService) {
				s.On("CreateObligation", mock.Anything, obligor, mock.Anything).
					Return(nil, customError.WrapInvalidState("obligor and obligee must differ"))
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   customError.ErrCodeInvalidState,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer()
			tt.setupMocks(s.obligations)

			rec := s.do(t, http.MethodPost, "/api/v1/obligations", tt.body, tt.caller)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantCode != "" {
				var body errorBody
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
				assert.Equal(t, tt.wantCode, body.Code)
			}
			s.obligations.AssertExpectations(t)
		})
	}
}

func TestCreateObligation_CallerNameDefaultsToKey(t *testing.T) {
	s := newTestServer()
	keyOnly := domain.Party{Key: "party-z"}
	s.obligations.On("CreateObligation", mock.Anything, domain.Party{Key: "party-z", Name: "party-z"}, mock.Anything).
		Return(sampleObligation(t), nil)

	rec := s.do(t, http.MethodPost, "/api/v1/obligations", map[string]any{
		"amount":       "5",
		"token":        "USD",
		"role":         "obligee",
		"counterparty": map[string]string{"key": obligor.Key},
	}, &keyOnly)

	assert.Equal(t, http.StatusCreated, rec.Code)
	s.obligations.AssertExpectations(t)
}

func TestGetObligation(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		s := newTestServer()
		v := sampleObligation(t)
		s.obligations.On("GetObligation", mock.Anything, v.Obligation.LinearID).Return(v, nil)

		rec := s.do(t, http.MethodGet, "/api/v1/obligations/"+v.Obligation.LinearID, nil, &obligor)

		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Data domain.ObligationResponse `json:"data"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, v.Obligation.LinearID, body.Data.Obligation.LinearID)
		assert.Equal(t, domain.Unsettled, body.Data.SettlementStatus)
		assert.True(t, body.Data.Outstanding.Quantity.Equal(decimal.NewFromInt(10000)))
	})

	t.Run("not found", func(t *testing.T) {
		s := newTestServer()
		s.obligations.On("GetObligation", mock.Anything, "missing").Return(nil, customError.WrapObligationNotFound("missing"))

		rec := s.do(t, http.MethodGet, "/api/v1/obligations/missing", nil, &obligor)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestListObligations(t *testing.T) {
	s := newTestServer()
	v := sampleObligation(t)
	s.obligations.On("ListObligations", mock.Anything).Return([]domain.VersionedObligation{*v}, nil)

	rec := s.do(t, http.MethodGet, "/api/v1/obligations", nil, &obligor)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data []domain.ObligationResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Len(t, body.Data, 1)
}

func TestUpdateSettlementMethod(t *testing.T) {
	s := newTestServer()
	v := sampleObligation(t)
	oracleParty := domain.Party{Key: "abcdef", Name: "Oracle"}
	want := domain.OffLedgerPayment(domain.RailXRP, "rDestination", &oracleParty)
	s.obligations.On("UpdateSettlementMethod", mock.Anything, obligee, v.Obligation.LinearID, want).Return(v, nil)

	rec := s.do(t, http.MethodPut, "/api/v1/obligations/"+v.Obligation.LinearID+"/settlement-method", map[string]any{
		"kind":              "off_ledger",
		"account_to_pay":    "rDestination",
		"rail":              "xrp",
		"settlement_oracle": map[string]string{"key": oracleParty.Key, "name": oracleParty.Name},
	}, &obligee)

	assert.Equal(t, http.StatusOK, rec.Code)
	s.obligations.AssertExpectations(t)
}

func TestNovate(t *testing.T) {
	t.Run("quantity novation fills the current token", func(t *testing.T) {
		s := newTestServer()
		v := sampleObligation(t)
		id := v.Obligation.LinearID
		s.obligations.On("GetObligation", mock.Anything, id).Return(v, nil)
		s.obligations.On("Novate", mock.Anything, obligor, id, mock.MatchedBy(func(c domain.NovationCommand) bool {
			return c.Kind == domain.NovateFaceAmountQuantity && c.Amount != nil &&
				c.Amount.Token == "USD" && c.Amount.Quantity.Equal(decimal.NewFromInt(7500))
		})).Return(v, nil)

		rec := s.do(t, http.MethodPost, "/api/v1/obligations/"+id+"/novate", map[string]any{
			"kind":   "update_face_amount_quantity",
			"amount": "7500",
		}, &obligor)

		assert.Equal(t, http.StatusOK, rec.Code)
		s.obligations.AssertExpectations(t)
	})

	t.Run("party novation", func(t *testing.T) {
		s := newTestServer()
		v := sampleObligation(t)
		id := v.Obligation.LinearID
		newParty := domain.Party{Key: "party-c", Name: "PartyC"}
		s.obligations.On("Novate", mock.Anything, obligor, id, domain.NovationCommand{
			Kind:     domain.NovateParty,
			OldParty: &obligee,
			NewParty: &newParty,
		}).Return(v, nil)

		rec := s.do(t, http.MethodPost, "/api/v1/obligations/"+id+"/novate", map[string]any{
			"kind":      "update_party",
			"old_party": map[string]string{"key": obligee.Key, "name": obligee.Name},
			"new_party": map[string]string{"key": newParty.Key, "name": newParty.Name},
		}, &obligor)

		assert.Equal(t, http.StatusOK, rec.Code)
		s.obligations.AssertExpectations(t)
	})

	t.Run("unknown kind", func(t *testing.T) {
		s := newTestServer()

		rec := s.do(t, http.MethodPost, "/api/v1/obligations/x/novate", map[string]any{"kind": "rename"}, &obligor)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		s.obligations.AssertNotCalled(t, "Novate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestCancel(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "cancelled", wantStatus: http.StatusOK},
		{name: "payment in flight", err: customError.WrapPaymentInFlight("tx-1"), wantStatus: http.StatusUnprocessableEntity},
		{name: "not a participant", err: customError.WrapUnauthorized("only participants may cancel"), wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer()
			s.obligations.On("Cancel", mock.Anything, obligor, "obl-1").Return(tt.err)

			rec := s.do(t, http.MethodDelete, "/api/v1/obligations/obl-1", nil, &obligor)

			assert.Equal(t, tt.wantStatus, rec.Code)
			s.obligations.AssertExpectations(t)
		})
	}
}

func TestSettle(t *testing.T) {
	v := sampleObligation(t)
	id := v.Obligation.LinearID
	payment := domain.Payment{
		Reference: "tx-1",
		Amount:    domain.AmountFromInt(5000, "USD"),
		Status:    domain.PaymentStatusSettled,
		Rail:      domain.RailXRP,
	}

	tests := []struct {
		name       string
		body       any
		setupMocks func(s *mocks.MockSettlementService)
		wantStatus int
		wantBody   errorBody
	}{
		{
			name: "settled",
			body: map[string]any{"amount": "5000"},
			setupMocks: func(s *mocks.MockSettlementService) {
				s.On("Settle", mock.Anything, obligor, id, mock.MatchedBy(func(d decimal.Decimal) bool {
					return d.Equal(decimal.NewFromInt(5000))
				}), service.SettleOptions{}).Return(&service.SettlementReceipt{Obligation: *v, Payment: payment}, nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "manual reference is passed through",
			body: map[string]any{"amount": "5000", "manual_reference": "CHQ-1"},
			setupMocks: func(s *mocks.MockSettlementService) {
				s.On("Settle", mock.Anything, obligor, id, mock.Anything, service.SettleOptions{ManualReference: "CHQ-1"}).
					Return(&service.SettlementReceipt{Obligation: *v, Payment: payment}, nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name:       "negative amount",
			body:       map[string]any{"amount": "-1"},
			setupMocks: func(s *mocks.MockSettlementService) {},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "unrecorded payment needs an operator",
			body: map[string]any{"amount": "5000"},
			setupMocks: func(s *mocks.MockSettlementService) {
				s.On("Settle", mock.Anything, obligor, id, mock.Anything, mock.Anything).
					Return(nil, customError.WrapUnrecordedPayment("tx-9", assert.AnError))
			},
			wantStatus: http.StatusConflict,
			wantBody: errorBody{
				Code:                   customError.ErrCodeUnrecordedPayment,
				Reference:              "tx-9",
				RequiresOperatorAction: true,
			},
		},
		{
			name: "oracle unavailable",
			body: map[string]any{"amount": "5000"},
			setupMocks: func(s *mocks.MockSettlementService) {
				s.On("Settle", mock.Anything, obligor, id, mock.Anything, mock.Anything).
					Return(&service.SettlementReceipt{Obligation: *v, Payment: payment}, customError.WrapOracleUnavailable(assert.AnError))
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   errorBody{Code: customError.ErrCodeOracleUnavailable},
		},
		{
			name: "verification rejected carries the reference",
			body: map[string]any{"amount": "5000"},
			setupMocks: func(s *mocks.MockSettlementService) {
				s.On("Settle", mock.Anything, obligor, id, mock.Anything, mock.Anything).
					Return(&service.SettlementReceipt{Obligation: *v, Payment: payment}, customError.WrapVerificationRejected("tx-1", "tecPATH_DRY"))
			},
			wantStatus: http.StatusUnprocessableEntity,
			wantBody:   errorBody{Code: customError.ErrCodeVerificationRejected, Reference: "tx-1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer()
			tt.setupMocks(s.settlement)

			rec := s.do(t, http.MethodPost, "/api/v1/obligations/"+id+"/settle", tt.body, &obligor)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody.Code != "" {
				var body errorBody
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
				assert.Equal(t, tt.wantBody, body)
			}
			s.settlement.AssertExpectations(t)
		})
	}
}

func TestResume(t *testing.T) {
	s := newTestServer()
	v := sampleObligation(t)
	s.settlement.On("ResumeVerification", mock.Anything, "obl-1").
		Return(&service.SettlementReceipt{Obligation: *v, Payment: domain.Payment{Reference: "tx-1"}}, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/obligations/obl-1/resume", nil, &obligor)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data SettleResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "tx-1", body.Data.Payment.Reference)
	s.settlement.AssertExpectations(t)
}

func TestAttachPayment(t *testing.T) {
	s := newTestServer()
	v := sampleObligation(t)
	s.obligations.On("AttachPaymentReference", mock.Anything, obligor, "obl-1", mock.MatchedBy(func(req domain.AttachPaymentRequest) bool {
		return req.Reference == "tx-42" && req.Amount.Equal(decimal.RequireFromString("12.5")) &&
			req.RailAmount != nil && req.RailAmount.Equal(decimal.NewFromInt(25))
	})).Return(v, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/obligations/obl-1/payments/attach", map[string]any{
		"reference":   "tx-42",
		"amount":      "12.5",
		"rail_amount": "25",
	}, &obligor)

	assert.Equal(t, http.StatusOK, rec.Code)
	s.obligations.AssertExpectations(t)

	rec = s.do(t, http.MethodPost, "/api/v1/obligations/obl-1/payments/attach", map[string]any{"amount": "1"}, &obligor)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
