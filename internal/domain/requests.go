package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role is the caller's side of a new obligation.
type Role string

const (
	RoleObligor Role = "obligor"
	RoleObligee Role = "obligee"
)

// DTOs for requests and responses

type PartyRequest struct {
	Key  string `json:"key" validate:"required"`
	Name string `json:"name"`
}

func (p PartyRequest) Party() Party {
	return Party{Key: p.Key, Name: p.Name}
}

type CreateObligationRequest struct {
	Amount       decimal.Decimal `json:"amount" validate:"decimal_gt0"`
	Token        string          `json:"token" validate:"required"`
	Role         Role            `json:"role" validate:"required,oneof=obligor obligee"`
	Counterparty PartyRequest    `json:"counterparty" validate:"required"`
	DueBy        *time.Time      `json:"due_by,omitempty"`
	Anonymous    bool            `json:"anonymous"`
}

type SettlementMethodRequest struct {
	Kind             MethodKind    `json:"kind" validate:"required,oneof=on_ledger off_ledger"`
	AcceptableTokens []string      `json:"acceptable_tokens,omitempty"`
	AccountToPay     string        `json:"account_to_pay,omitempty" validate:"required_if=Kind off_ledger"`
	Rail             RailKind      `json:"rail,omitempty" validate:"omitempty,oneof=xrp swift manual"`
	SettlementOracle *PartyRequest `json:"settlement_oracle,omitempty"`
}

func (r SettlementMethodRequest) Method() SettlementMethod {
	if r.Kind == MethodOnLedger {
		return OnLedgerSettlement(r.AcceptableTokens...)
	}
	var oracle *Party
	if r.SettlementOracle != nil {
		p := r.SettlementOracle.Party()
		oracle = &p
	}
	return OffLedgerPayment(r.Rail, r.AccountToPay, oracle)
}

type SettleRequest struct {
	Amount          decimal.Decimal `json:"amount" validate:"decimal_gt0"`
	ManualReference string          `json:"manual_reference,omitempty"`
}

type NovateRequest struct {
	Kind     NovationKind     `json:"kind" validate:"required,oneof=update_face_amount_quantity update_face_amount_token update_due_by update_party"`
	Amount   *decimal.Decimal `json:"amount,omitempty"`
	Token    string           `json:"token,omitempty"`
	DueBy    *time.Time       `json:"due_by,omitempty"`
	OldParty *PartyRequest    `json:"old_party,omitempty"`
	NewParty *PartyRequest    `json:"new_party,omitempty"`
}

// Command converts the request. currentToken fills the token of a quantity
// novation that leaves it out.
func (r NovateRequest) Command(currentToken string) NovationCommand {
	cmd := NovationCommand{Kind: r.Kind, DueBy: r.DueBy}
	if r.Amount != nil {
		token := r.Token
		if token == "" {
			token = currentToken
		}
		amount := NewAmount(*r.Amount, token)
		cmd.Amount = &amount
	}
	if r.OldParty != nil {
		p := r.OldParty.Party()
		cmd.OldParty = &p
	}
	if r.NewParty != nil {
		p := r.NewParty.Party()
		cmd.NewParty = &p
	}
	return cmd
}

// AttachPaymentRequest names a payment found on the rail. RailAmount is what
// the rail delivered in its own units, required for XRP.
type AttachPaymentRequest struct {
	Reference  string           `json:"reference" validate:"required"`
	Amount     decimal.Decimal  `json:"amount" validate:"decimal_gt0"`
	RailAmount *decimal.Decimal `json:"rail_amount,omitempty"`
}

type ObligationResponse struct {
	Obligation       Obligation       `json:"obligation"`
	Version          int64            `json:"version"`
	Payments         []Payment        `json:"payments"`
	AmountPaid       Amount           `json:"amount_paid"`
	Outstanding      Amount           `json:"outstanding"`
	SettlementStatus SettlementStatus `json:"settlement_status"`
	InDefault        bool             `json:"in_default"`
}

// NewObligationResponse flattens the derived fields for API consumers.
func NewObligationResponse(v VersionedObligation, now time.Time) ObligationResponse {
	o := v.Obligation
	return ObligationResponse{
		Obligation:       o,
		Version:          v.Version,
		Payments:         o.Payments(),
		AmountPaid:       o.AmountPaid(),
		Outstanding:      o.Outstanding(),
		SettlementStatus: o.SettlementStatus(),
		InDefault:        o.InDefault(now),
	}
}
