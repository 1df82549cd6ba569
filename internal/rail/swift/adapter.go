package swift

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/segyhp/settlement-engine/internal/domain"
	"github.com/segyhp/settlement-engine/internal/rail"
	customError "github.com/segyhp/settlement-engine/pkg/errors"
)

// Gateway is the payer side of the SWIFT gateway.
type Gateway interface {
	CreateUnsigned(ctx context.Context, in Instruction) (UnsignedPayment, error)
	Submit(ctx context.Context, uetr, signature, publicKey string) (Status, error)
}

// PayloadSigner produces the detached signature the gateway expects.
type PayloadSigner interface {
	Sign(data []byte) string
	PublicKey() string
}

// Adapter pays obligations by wire from a single debtor account.
type Adapter struct {
	gateway    Gateway
	signer     PayloadSigner
	debtorIBAN string
	now        func() time.Time
}

func NewAdapter(gateway Gateway, signer PayloadSigner, debtorIBAN string) *Adapter {
	return &Adapter{gateway: gateway, signer: signer, debtorIBAN: debtorIBAN, now: time.Now}
}

func (a *Adapter) Kind() domain.RailKind {
	return domain.RailSWIFT
}

func (a *Adapter) RequiresObligeeSignature() bool {
	return false
}

// Setup assigns the UETR the transfer will carry end to end.
func (a *Adapter) Setup(_ context.Context, in rail.Instruction) (domain.Reservation, error) {
	if in.Obligation.DueBy == nil {
		return domain.Reservation{}, customError.WrapSetupFailed(errors.New("SWIFT payments need a due date"))
	}
	if a.debtorIBAN == "" {
		return domain.Reservation{}, customError.WrapSetupFailed(errors.New("no debtor IBAN configured"))
	}
	return domain.Reservation{
		Rail:             domain.RailSWIFT,
		Account:          a.debtorIBAN,
		Reference:        uuid.NewString(),
		LinkingReference: in.Obligation.LinearID,
	}, nil
}

// CheckBalance is not supported by the gateway; funds are checked on submission.
func (a *Adapter) CheckBalance(context.Context, rail.Instruction, domain.Reservation) error {
	return nil
}

// MakePayment fetches the unsigned payload, signs it and submits the signature.
func (a *Adapter) MakePayment(ctx context.Context, in rail.Instruction, res domain.Reservation) (domain.Payment, error) {
	method := in.Obligation.SettlementMethod
	if method == nil || method.Rail != domain.RailSWIFT {
		return domain.Payment{}, customError.WrapNotSubmitted(string(domain.RailSWIFT), customError.WrapInvalidState("obligation is not settled over SWIFT"))
	}
	if method.AccountToPay == res.Account {
		return domain.Payment{}, customError.WrapSelfPayment(res.Account)
	}

	instruction := Instruction{
		UETR:           res.Reference,
		DebtorIBAN:     res.Account,
		CreditorIBAN:   method.AccountToPay,
		Amount:         in.Amount.Quantity.StringFixed(2),
		Currency:       in.Amount.Token,
		RemittanceInfo: res.LinkingReference,
		ExecutionDate:  in.Obligation.DueBy.UTC().Format("2006-01-02"),
	}
	unsigned, err := a.gateway.CreateUnsigned(ctx, instruction)
	if err != nil {
		mapped := mapGatewayError(err, res.Reference)
		if errors.Is(mapped, customError.ErrAlreadySubmitted) {
			return domain.Payment{}, mapped
		}
		// only the submit call moves money
		return domain.Payment{}, customError.WrapNotSubmitted(string(domain.RailSWIFT), mapped)
	}
	if unsigned.UETR != "" && unsigned.UETR != res.Reference {
		return domain.Payment{}, customError.WrapNotSubmitted(string(domain.RailSWIFT), errors.New("gateway assigned a different UETR"))
	}

	signature := a.signer.Sign([]byte(unsigned.Payload))
	if _, err := a.gateway.Submit(ctx, res.Reference, signature, a.signer.PublicKey()); err != nil {
		return domain.Payment{}, mapGatewayError(err, res.Reference)
	}

	return domain.Payment{
		Reference:        res.Reference,
		Amount:           in.Amount,
		Status:           domain.PaymentStatusSent,
		Rail:             domain.RailSWIFT,
		LinkingReference: res.LinkingReference,
		RecordedAt:       a.now().UTC(),
	}, nil
}

func mapGatewayError(err error, uetr string) error {
	switch {
	case errors.Is(err, ErrDuplicate):
		return customError.WrapAlreadySubmitted(uetr)
	case errors.Is(err, ErrInsufficientFunds):
		return customError.WrapInsufficientBalance("transfer amount", "debtor account balance")
	default:
		return customError.WrapRailError(string(domain.RailSWIFT), err)
	}
}

// StatusReader is the read side of the gateway.
type StatusReader interface {
	Status(ctx context.Context, uetr string) (Status, error)
}

// Verifier polls the gateway status endpoint.
type Verifier struct {
	gateway StatusReader
}

func NewVerifier(gateway StatusReader) *Verifier {
	return &Verifier{gateway: gateway}
}

func (v *Verifier) Verify(ctx context.Context, _ domain.Obligation, payment domain.Payment) (rail.Verification, error) {
	status, err := v.gateway.Status(ctx, payment.Reference)
	if errors.Is(err, ErrNotFound) {
		return rail.Pending("gateway does not know " + payment.Reference + " yet"), nil
	}
	if err != nil {
		return rail.Verification{}, err
	}
	switch status.Status {
	case StatusAccepted, StatusSettlementComplete:
		return rail.Verification{Outcome: rail.OutcomeSuccess}, nil
	case StatusRejected:
		reason := status.Reason
		if reason == "" {
			reason = "rejected by the gateway"
		}
		return rail.Verification{Outcome: rail.OutcomeRejected, Reason: reason}, nil
	default:
		return rail.Pending("transfer is " + status.Status), nil
	}
}
