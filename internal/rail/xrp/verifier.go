package xrp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/segyhp/settlement-engine/internal/domain"
	"github.com/segyhp/settlement-engine/internal/rail"
)

// ReadClient is the read-only side of a rippled node.
type ReadClient interface {
	URL() string
	ServerInfo(ctx context.Context) (ServerInfo, error)
	Tx(ctx context.Context, hash string) (Transaction, error)
}

// Verifier checks a payment against every configured node and only reports
// a final outcome when all of them agree.
type Verifier struct {
	nodes []ReadClient
}

func NewVerifier(nodes ...ReadClient) *Verifier {
	return &Verifier{nodes: nodes}
}

type nodeVerdict int

const (
	verdictPending nodeVerdict = iota
	verdictMatch
	verdictMismatch
	verdictExpired
)

func syncedState(state string) bool {
	switch state {
	case "full", "validating", "proposing":
		return true
	}
	return false
}

func (v *Verifier) Verify(ctx context.Context, obligation domain.Obligation, payment domain.Payment) (rail.Verification, error) {
	if len(v.nodes) == 0 {
		return rail.Verification{}, errors.New("no XRP verification nodes configured")
	}
	method := obligation.SettlementMethod
	if method == nil || method.Rail != domain.RailXRP {
		return rail.Verification{Outcome: rail.OutcomeRejected, Reason: "obligation is not settled over XRP"}, nil
	}

	counts := make(map[nodeVerdict]int)
	var reasons []string
	for _, node := range v.nodes {
		verdict, reason, err := v.checkNode(ctx, node, obligation, payment)
		if err != nil {
			if ctx.Err() != nil {
				return rail.Verification{}, ctx.Err()
			}
			verdict, reason = verdictPending, fmt.Sprintf("%s unreachable: %v", node.URL(), err)
		}
		counts[verdict]++
		if reason != "" {
			reasons = append(reasons, reason)
		}
	}

	// final verdicts that mix a mismatch with an expiry still reject
	switch {
	case counts[verdictPending] > 0:
		return rail.Pending(strings.Join(reasons, "; ")), nil
	case counts[verdictMatch] == len(v.nodes):
		return rail.Verification{Outcome: rail.OutcomeSuccess}, nil
	case counts[verdictMatch] == 0 && counts[verdictMismatch] > 0:
		return rail.Verification{Outcome: rail.OutcomeRejected, Reason: strings.Join(reasons, "; ")}, nil
	case counts[verdictMatch] == 0:
		return rail.Verification{
			Outcome: rail.OutcomeTimeout,
			Reason:  fmt.Sprintf("%s was not validated before its last ledger", payment.Reference),
		}, nil
	default:
		return rail.Pending("verification nodes disagree: " + strings.Join(reasons, "; ")), nil
	}
}

func (v *Verifier) checkNode(ctx context.Context, node ReadClient, obligation domain.Obligation, payment domain.Payment) (nodeVerdict, string, error) {
	info, err := node.ServerInfo(ctx)
	if err != nil {
		return verdictPending, "", err
	}
	if !syncedState(info.State) {
		return verdictPending, fmt.Sprintf("%s is not up to date (%s)", node.URL(), info.State), nil
	}

	tx, err := node.Tx(ctx, payment.Reference)
	if errors.Is(err, ErrNotFound) {
		switch {
		case payment.LastLedgerSequence == 0:
			// attached by reference, so the transaction should already be on the ledger
			return verdictMismatch, fmt.Sprintf("%s has no record of %s", node.URL(), payment.Reference), nil
		case info.ValidatedLedger > payment.LastLedgerSequence:
			return verdictExpired, "", nil
		}
		return verdictPending, fmt.Sprintf("%s has not seen %s", node.URL(), payment.Reference), nil
	}
	if err != nil {
		return verdictPending, "", err
	}
	if !tx.Validated {
		deadline := payment.LastLedgerSequence
		if deadline == 0 {
			deadline = tx.LastLedgerSequence
		}
		if deadline != 0 && info.ValidatedLedger > deadline {
			return verdictExpired, "", nil
		}
		return verdictPending, fmt.Sprintf("%s has not validated %s yet", node.URL(), payment.Reference), nil
	}

	if reason := mismatch(tx, obligation, payment); reason != "" {
		return verdictMismatch, fmt.Sprintf("%s: %s", node.URL(), reason), nil
	}
	return verdictMatch, "", nil
}

func mismatch(tx Transaction, obligation domain.Obligation, payment domain.Payment) string {
	if tx.Result != "tesSUCCESS" {
		return "transaction failed with " + tx.Result
	}
	destination := obligation.SettlementMethod.AccountToPay
	if tx.Destination != destination {
		return fmt.Sprintf("destination %s does not match %s", tx.Destination, destination)
	}
	if !strings.EqualFold(tx.InvoiceID, LinkingReference(obligation.LinearID)) {
		return "invoice ID does not match the obligation"
	}
	if payment.RailAmount == nil || payment.RailAmount.Token != Token {
		return fmt.Sprintf("XRP amount of %s is unknown", payment.Reference)
	}
	delivered := tx.DeliveredAmount
	if delivered == "" {
		delivered = tx.Amount
	}
	got, err := decimal.NewFromString(delivered)
	if err != nil {
		return fmt.Sprintf("unreadable delivered amount %q", delivered)
	}
	want := payment.RailAmount.Quantity.Mul(dropsPerXRP)
	if !got.Equal(want) {
		return fmt.Sprintf("delivered %s drops, expected %s", got, want)
	}
	return ""
}
