// Package ledger implements the pure balance arithmetic for wallet
// funds. Every mutation moves value between the available and locked
// portions of a single wallet and returns the updated balance; callers
// are responsible for persisting the result atomically.
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("amount must be positive")
)

// Balance is a wallet's funds split into the spendable and the
// order-reserved portions.
type Balance struct {
	Available decimal.Decimal
	Locked    decimal.Decimal
}

func (b Balance) Total() decimal.Decimal {
	return b.Available.Add(b.Locked)
}

// Lock moves amount from available to locked. Fails without mutation
// when available funds do not cover the amount.
func Lock(b Balance, amount decimal.Decimal) (Balance, error) {
	if err := requirePositive(amount); err != nil {
		return b, err
	}
	if b.Available.LessThan(amount) {
		return b, fmt.Errorf("%w: need %s, have %s available",
			ErrInsufficientBalance, amount.String(), b.Available.String())
	}
	return Balance{
		Available: b.Available.Sub(amount),
		Locked:    b.Locked.Add(amount),
	}, nil
}

// Release moves amount from locked back to available, undoing a lock.
func Release(b Balance, amount decimal.Decimal) (Balance, error) {
	if err := requirePositive(amount); err != nil {
		return b, err
	}
	if b.Locked.LessThan(amount) {
		return b, fmt.Errorf("release %s exceeds locked %s",
			amount.String(), b.Locked.String())
	}
	return Balance{
		Available: b.Available.Add(amount),
		Locked:    b.Locked.Sub(amount),
	}, nil
}

// Settle consumes amount from the locked portion, spending reserved
// funds on an executed fill.
func Settle(b Balance, amount decimal.Decimal) (Balance, error) {
	if err := requirePositive(amount); err != nil {
		return b, err
	}
	if b.Locked.LessThan(amount) {
		return b, fmt.Errorf("settle %s exceeds locked %s",
			amount.String(), b.Locked.String())
	}
	return Balance{
		Available: b.Available,
		Locked:    b.Locked.Sub(amount),
	}, nil
}

// Credit adds amount to available funds.
func Credit(b Balance, amount decimal.Decimal) (Balance, error) {
	if err := requirePositive(amount); err != nil {
		return b, err
	}
	return Balance{
		Available: b.Available.Add(amount),
		Locked:    b.Locked,
	}, nil
}

// Debit removes amount from available funds. Locked funds are never
// touched: reserved value stays reserved until released or settled.
func Debit(b Balance, amount decimal.Decimal) (Balance, error) {
	if err := requirePositive(amount); err != nil {
		return b, err
	}
	if b.Available.LessThan(amount) {
		return b, fmt.Errorf("%w: need %s, have %s available",
			ErrInsufficientBalance, amount.String(), b.Available.String())
	}
	return Balance{
		Available: b.Available.Sub(amount),
		Locked:    b.Locked,
	}, nil
}

func requirePositive(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("%w: got %s", ErrInvalidAmount, amount.String())
	}
	return nil
}
