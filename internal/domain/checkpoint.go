package domain

import "time"

// OrchestrationState is a step of the off-ledger settlement state machine.
type OrchestrationState string

const (
	StateInitialising    OrchestrationState = "INITIALISING"
	StateSetup           OrchestrationState = "SETUP"
	StateCheckingBalance OrchestrationState = "CHECKING_BALANCE"
	StatePaying          OrchestrationState = "PAYING"
	StateRecording       OrchestrationState = "RECORDING"
	StateVerifying       OrchestrationState = "VERIFYING"
	StateDone            OrchestrationState = "DONE"
)

// Reservation is what a rail's setup step reserved for one payment, e.g. an
// account sequence number or a pre-assigned transfer reference.
type Reservation struct {
	Rail             RailKind `json:"rail"`
	Account          string   `json:"account,omitempty"`
	Sequence         uint32   `json:"sequence,omitempty"`
	Reference        string   `json:"reference,omitempty"`
	LinkingReference string   `json:"linking_reference,omitempty"`
}

// Checkpoint is the durable progress record of one settlement run.
type Checkpoint struct {
	LinearID    string             `json:"linear_id"`
	State       OrchestrationState `json:"state"`
	Amount      Amount             `json:"amount"`
	Reservation *Reservation       `json:"reservation,omitempty"`
	// PaymentAttempted is persisted before the rail call so a crash can never lead to a second submission.
	PaymentAttempted bool      `json:"payment_attempted"`
	Payment          *Payment  `json:"payment,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ExternalReference is the best known rail reference for the run.
func (c Checkpoint) ExternalReference() string {
	if c.Payment != nil {
		return c.Payment.Reference
	}
	if c.Reservation != nil {
		if c.Reservation.Reference != "" {
			return c.Reservation.Reference
		}
		return c.Reservation.LinkingReference
	}
	return ""
}
