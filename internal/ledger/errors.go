package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientBalance is the match target for
	// InsufficientBalanceError via errors.Is.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrNoBalanceRow indicates the (user, asset) balance row was never
	// initialized. This is a programmer error: registration must create a
	// row per supported asset before any mutation can target it.
	ErrNoBalanceRow = errors.New("no balance row for user and asset")

	// ErrInvalidMutation covers malformed mutation requests (unknown
	// field, empty idempotency key, more than one foreign reference).
	ErrInvalidMutation = errors.New("invalid mutation")
)

// InsufficientBalanceError carries the diagnostics for a mutation that
// would drive a non-exempt balance negative.
type InsufficientBalanceError struct {
	UserID string
	Asset  string
	Field  Field

	Current decimal.Decimal
	Delta   decimal.Decimal
	Result  decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: user=%s asset=%s field=%s current=%s delta=%s result=%s",
		e.UserID, e.Asset, e.Field, e.Current, e.Delta, e.Result)
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

// API mapping consumed by pkg/response. The public message deliberately
// omits the amounts.
func (e *InsufficientBalanceError) APIStatus() int     { return 400 }
func (e *InsufficientBalanceError) APICode() string    { return "INSUFFICIENT_BALANCE" }
func (e *InsufficientBalanceError) APIMessage() string { return "Insufficient balance" }
