package domain

import (
	"fmt"
	"slices"

	customError "github.com/segyhp/settlement-engine/pkg/errors"
)

// MethodKind tags the SettlementMethod union.
type MethodKind string

const (
	MethodOnLedger  MethodKind = "on_ledger"
	MethodOffLedger MethodKind = "off_ledger"
)

// RailKind names an off-ledger payment rail.
type RailKind string

const (
	RailXRP    RailKind = "xrp"
	RailSWIFT  RailKind = "swift"
	RailManual RailKind = "manual"
)

// SettlementMethod is the agreed way of discharging an obligation.
// On-ledger methods carry AcceptableTokens; off-ledger methods carry
// AccountToPay, Rail and an optional SettlementOracle.
type SettlementMethod struct {
	Kind             MethodKind `json:"kind"`
	AcceptableTokens []string   `json:"acceptable_tokens,omitempty"`
	AccountToPay     string     `json:"account_to_pay,omitempty"`
	SettlementOracle *Party     `json:"settlement_oracle,omitempty"`
	Rail             RailKind   `json:"rail,omitempty"`
}

// OnLedgerSettlement builds an on-ledger token settlement method.
func OnLedgerSettlement(tokens ...string) SettlementMethod {
	return SettlementMethod{Kind: MethodOnLedger, AcceptableTokens: tokens}
}

// OffLedgerPayment builds an off-ledger method. A nil oracle means self-attested settlement.
func OffLedgerPayment(rail RailKind, accountToPay string, oracle *Party) SettlementMethod {
	return SettlementMethod{Kind: MethodOffLedger, Rail: rail, AccountToPay: accountToPay, SettlementOracle: oracle}
}

// IsOffLedger reports whether payments run through an external rail.
// SettlementToken is the token a rail moves when paying an obligation denominated in faceToken.
func (k RailKind) SettlementToken(faceToken string) string {
	if k == RailXRP {
		return "XRP"
	}
	return faceToken
}

func (m SettlementMethod) IsOffLedger() bool {
	return m.Kind == MethodOffLedger
}

// SelfAttested reports whether no independent verifier confirms payments.
func (m SettlementMethod) SelfAttested() bool {
	return m.Kind == MethodOffLedger && (m.Rail == RailManual || m.SettlementOracle == nil)
}

// Validate checks the method against the rail rules and the obligation it is attached to.
func (m SettlementMethod) Validate(o Obligation) error {
	switch m.Kind {
	case MethodOnLedger:
		if len(m.AcceptableTokens) == 0 {
			return customError.WrapInvalidState("on-ledger settlement needs at least one acceptable token")
		}
		if !slices.Contains(m.AcceptableTokens, o.FaceAmount.Token) {
			return customError.WrapInvalidState(fmt.Sprintf("token %s is not among the acceptable tokens", o.FaceAmount.Token))
		}
	case MethodOffLedger:
		if m.AccountToPay == "" {
			return customError.WrapInvalidState("off-ledger settlement needs an account to pay")
		}
		switch m.Rail {
		case RailXRP:
			if m.SettlementOracle == nil {
				return customError.WrapInvalidState("XRP settlement requires a settlement oracle")
			}
		case RailSWIFT:
			if m.SettlementOracle == nil {
				return customError.WrapInvalidState("SWIFT settlement requires a settlement oracle")
			}
			if o.DueBy == nil {
				return customError.WrapInvalidState("SWIFT settlement requires a due date")
			}
		case RailManual:
		default:
			return customError.WrapInvalidState(fmt.Sprintf("unknown payment rail %q", m.Rail))
		}
	default:
		return customError.WrapInvalidState(fmt.Sprintf("unknown settlement method kind %q", m.Kind))
	}
	return nil
}

func (m SettlementMethod) clone() SettlementMethod {
	c := m
	c.AcceptableTokens = slices.Clone(m.AcceptableTokens)
	if m.SettlementOracle != nil {
		oracle := *m.SettlementOracle
		c.SettlementOracle = &oracle
	}
	return c
}
