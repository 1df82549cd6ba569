package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Amount is a quantity of a token or currency.
type Amount struct {
	Quantity decimal.Decimal `json:"quantity"`
	Token    string          `json:"token"`
}

// NewAmount creates an Amount from a decimal quantity.
func NewAmount(quantity decimal.Decimal, token string) Amount {
	return Amount{Quantity: quantity, Token: token}
}

// AmountFromInt is a shorthand for whole-unit amounts.
func AmountFromInt(quantity int64, token string) Amount {
	return NewAmount(decimal.NewFromInt(quantity), token)
}

// ZeroAmount returns a zero quantity of token.
func ZeroAmount(token string) Amount {
	return Amount{Quantity: decimal.Zero, Token: token}
}

// Add sums two amounts of the same token.
func (a Amount) Add(other Amount) (Amount, error) {
	if a.Token != other.Token {
		return Amount{}, fmt.Errorf("token mismatch: %s vs %s", a.Token, other.Token)
	}
	return Amount{Quantity: a.Quantity.Add(other.Quantity), Token: a.Token}, nil
}

// Sub subtracts other from a. Both must share a token.
func (a Amount) Sub(other Amount) (Amount, error) {
	if a.Token != other.Token {
		return Amount{}, fmt.Errorf("token mismatch: %s vs %s", a.Token, other.Token)
	}
	return Amount{Quantity: a.Quantity.Sub(other.Quantity), Token: a.Token}, nil
}

// Cmp compares quantities; callers are expected to have checked the token.
func (a Amount) Cmp(other Amount) int {
	return a.Quantity.Cmp(other.Quantity)
}

// Equal reports whether both token and quantity match. 10 and 10.00 are equal.
func (a Amount) Equal(other Amount) bool {
	return a.Token == other.Token && a.Quantity.Equal(other.Quantity)
}

func (a Amount) IsZero() bool {
	return a.Quantity.IsZero()
}

func (a Amount) IsPositive() bool {
	return a.Quantity.IsPositive()
}

func (a Amount) String() string {
	return a.Quantity.String() + " " + a.Token
}
