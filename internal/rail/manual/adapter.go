// Package manual records payments made outside any integrated rail. The
// obligor attests to them; nothing verifies them independently.
package manual

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/segyhp/settlement-engine/internal/domain"
	"github.com/segyhp/settlement-engine/internal/rail"
	customError "github.com/segyhp/settlement-engine/pkg/errors"
)

type Adapter struct {
	now func() time.Time
}

func NewAdapter() *Adapter {
	return &Adapter{now: time.Now}
}

func (a *Adapter) Kind() domain.RailKind {
	return domain.RailManual
}

// RequiresObligeeSignature: manual payments are countersigned by the obligee.
func (a *Adapter) RequiresObligeeSignature() bool {
	return true
}

// Setup fixes the reference the payment will be recorded under.
func (a *Adapter) Setup(_ context.Context, in rail.Instruction) (domain.Reservation, error) {
	ref := in.Reference
	if ref == "" {
		ref = "MANUAL-" + uuid.NewString()
	}
	return domain.Reservation{
		Rail:             domain.RailManual,
		Reference:        ref,
		LinkingReference: in.Obligation.LinearID,
	}, nil
}

func (a *Adapter) CheckBalance(context.Context, rail.Instruction, domain.Reservation) error {
	return nil
}

func (a *Adapter) MakePayment(_ context.Context, in rail.Instruction, res domain.Reservation) (domain.Payment, error) {
	method := in.Obligation.SettlementMethod
	if method == nil || method.Rail != domain.RailManual {
		return domain.Payment{}, customError.WrapInvalidState("obligation is not settled manually")
	}
	return domain.Payment{
		Reference:        res.Reference,
		Amount:           in.Amount,
		Status:           domain.PaymentStatusSent,
		Rail:             domain.RailManual,
		LinkingReference: res.LinkingReference,
		RecordedAt:       a.now().UTC(),
	}, nil
}
