package xrp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/segyhp/settlement-engine/internal/domain"
	"github.com/segyhp/settlement-engine/internal/rail"
	customError "github.com/segyhp/settlement-engine/pkg/errors"
)

// Token is the native currency code.
const Token = "XRP"

var dropsPerXRP = decimal.NewFromInt(1_000_000)

// LedgerClient is the write side of a rippled node.
type LedgerClient interface {
	AccountInfo(ctx context.Context, account string) (AccountInfo, error)
	LedgerCurrentIndex(ctx context.Context) (uint32, error)
	Submit(ctx context.Context, tx Payment, secret string) (SubmitResult, error)
}

type AdapterConfig struct {
	Account string
	Secret  string
	// ReserveMargin is the XRP balance never spent by a payment.
	ReserveMargin decimal.Decimal
	// DeadlineOffset is how many ledgers past the current one a payment may validate in.
	DeadlineOffset uint32
}

// Adapter pays obligations from a single XRP account.
type Adapter struct {
	client LedgerClient
	fx     rail.FXProvider
	cfg    AdapterConfig
	now    func() time.Time
}

func NewAdapter(client LedgerClient, fx rail.FXProvider, cfg AdapterConfig) *Adapter {
	return &Adapter{client: client, fx: fx, cfg: cfg, now: time.Now}
}

func (a *Adapter) Kind() domain.RailKind {
	return domain.RailXRP
}

func (a *Adapter) RequiresObligeeSignature() bool {
	return false
}

// LinkingReference derives the InvoiceID that ties a payment to its obligation.
func LinkingReference(linearID string) string {
	sum := sha256.Sum256([]byte(linearID))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// Setup reserves the account's next sequence number.
func (a *Adapter) Setup(ctx context.Context, in rail.Instruction) (domain.Reservation, error) {
	if a.cfg.Account == "" {
		return domain.Reservation{}, customError.WrapSetupFailed(errors.New("no XRP account configured"))
	}
	info, err := a.client.AccountInfo(ctx, a.cfg.Account)
	if err != nil {
		return domain.Reservation{}, customError.WrapSetupFailed(err)
	}
	return domain.Reservation{
		Rail:             domain.RailXRP,
		Account:          a.cfg.Account,
		Sequence:         info.Sequence,
		LinkingReference: LinkingReference(in.Obligation.LinearID),
	}, nil
}

// CheckBalance requires the converted amount plus the reserve margin.
func (a *Adapter) CheckBalance(ctx context.Context, in rail.Instruction, res domain.Reservation) error {
	required, err := a.toXRP(ctx, in.Amount)
	if err != nil {
		return err
	}
	required = required.Add(a.cfg.ReserveMargin)

	info, err := a.client.AccountInfo(ctx, res.Account)
	if err != nil {
		return customError.WrapRailError(string(domain.RailXRP), err)
	}
	balanceDrops, err := decimal.NewFromString(info.Balance)
	if err != nil {
		return customError.WrapRailError(string(domain.RailXRP), fmt.Errorf("parse balance %q: %w", info.Balance, err))
	}
	balance := balanceDrops.Div(dropsPerXRP)
	if balance.LessThan(required) {
		return customError.WrapInsufficientBalance(required.String()+" "+Token, balance.String()+" "+Token)
	}
	return nil
}

// MakePayment submits a Payment using the reserved sequence. The deadline
// ledger is fixed at submission time and carried on the returned payment.
func (a *Adapter) MakePayment(ctx context.Context, in rail.Instruction, res domain.Reservation) (domain.Payment, error) {
	method := in.Obligation.SettlementMethod
	if method == nil || method.Rail != domain.RailXRP {
		return domain.Payment{}, notSubmitted(customError.WrapInvalidState("obligation is not settled over XRP"))
	}

	xrpAmount, err := a.toXRP(ctx, in.Amount)
	if err != nil {
		return domain.Payment{}, notSubmitted(err)
	}
	amountDrops := xrpAmount.Mul(dropsPerXRP).Truncate(0)

	current, err := a.client.LedgerCurrentIndex(ctx)
	if err != nil {
		return domain.Payment{}, notSubmitted(err)
	}
	deadline := current + a.cfg.DeadlineOffset

	tx := Payment{
		TransactionType:    "Payment",
		Account:            res.Account,
		Destination:        method.AccountToPay,
		Amount:             amountDrops.String(),
		Sequence:           res.Sequence,
		LastLedgerSequence: deadline,
		InvoiceID:          res.LinkingReference,
	}
	result, err := a.client.Submit(ctx, tx, a.cfg.Secret)
	if err != nil {
		return domain.Payment{}, mapSubmitError(err, result, res, method.AccountToPay)
	}

	railAmount := domain.NewAmount(amountDrops.Div(dropsPerXRP), Token)
	return domain.Payment{
		Reference:          result.Hash,
		Amount:             in.Amount,
		Status:             domain.PaymentStatusSent,
		Rail:               domain.RailXRP,
		RailAmount:         &railAmount,
		LinkingReference:   res.LinkingReference,
		LastLedgerSequence: deadline,
		RecordedAt:         a.now().UTC(),
	}, nil
}

func (a *Adapter) toXRP(ctx context.Context, amount domain.Amount) (decimal.Decimal, error) {
	rate, err := a.fx.Rate(ctx, amount.Token, Token)
	if err != nil {
		return decimal.Zero, customError.WrapRailError(string(domain.RailXRP), err)
	}
	return amount.Quantity.Mul(rate), nil
}

func notSubmitted(err error) error {
	return customError.WrapNotSubmitted(string(domain.RailXRP), err)
}

func mapSubmitError(err error, result SubmitResult, res domain.Reservation, destination string) error {
	var engine *EngineError
	if !errors.As(err, &engine) {
		return customError.WrapRailError(string(domain.RailXRP), err)
	}
	switch engine.Code {
	case "tecUNFUNDED_PAYMENT", "tecPATH_DRY", "terINSUF_FEE_B":
		return customError.WrapInsufficientBalance("payment amount", "account balance")
	case "tefPAST_SEQ", "terPRE_SEQ":
		return customError.WrapSequenceConflict(engine)
	case "tefALREADY":
		ref := result.Hash
		if ref == "" {
			ref = fmt.Sprintf("%s/%d", res.Account, res.Sequence)
		}
		return customError.WrapAlreadySubmitted(ref)
	case "temREDUNDANT", "temDST_IS_SRC":
		return customError.WrapSelfPayment(destination)
	default:
		return customError.WrapRailError(string(domain.RailXRP), engine)
	}
}
