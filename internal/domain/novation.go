package domain

import (
	"fmt"
	"time"

	customError "github.com/segyhp/settlement-engine/pkg/errors"
)

// NovationKind selects which term a novation changes.
type NovationKind string

const (
	NovateFaceAmountQuantity NovationKind = "update_face_amount_quantity"
	NovateFaceAmountToken    NovationKind = "update_face_amount_token"
	NovateDueBy              NovationKind = "update_due_by"
	NovateParty              NovationKind = "update_party"
)

// NovationCommand is a single terms change.
type NovationCommand struct {
	Kind     NovationKind `json:"kind"`
	Amount   *Amount      `json:"amount,omitempty"`
	DueBy    *time.Time   `json:"due_by,omitempty"`
	OldParty *Party       `json:"old_party,omitempty"`
	NewParty *Party       `json:"new_party,omitempty"`
}

// Apply runs the command against o.
func (c NovationCommand) Apply(o Obligation) (Obligation, error) {
	switch c.Kind {
	case NovateFaceAmountQuantity:
		if c.Amount == nil {
			return Obligation{}, customError.WrapInvalidState("quantity novation needs an amount")
		}
		return o.WithNewFaceValueQuantity(*c.Amount)
	case NovateFaceAmountToken:
		if c.Amount == nil {
			return Obligation{}, customError.WrapInvalidState("token novation needs an amount")
		}
		return o.WithNewFaceValueToken(*c.Amount)
	case NovateDueBy:
		return o.WithDueDate(c.DueBy)
	case NovateParty:
		if c.OldParty == nil || c.NewParty == nil {
			return Obligation{}, customError.WrapInvalidState("party novation needs the old and the new party")
		}
		return o.WithNewCounterparty(*c.OldParty, *c.NewParty)
	default:
		return Obligation{}, customError.WrapInvalidState(fmt.Sprintf("unknown novation %q", c.Kind))
	}
}
