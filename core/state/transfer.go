package state

import (
	"errors"
	"fmt"
	"math/big"

	"mavuno/crypto"
)

// ErrInsufficientBalance is returned when a debit exceeds the account balance.
var ErrInsufficientBalance = errors.New("state: insufficient balance")

// Transfer moves amount of symbol between two accounts within the journal.
func (m *Manager) Transfer(symbol string, from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("state: transfer amount must be positive")
	}
	if from == to {
		return nil
	}
	fromBal, err := m.Balance(from, symbol)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	toBal, err := m.Balance(to, symbol)
	if err != nil {
		return err
	}
	if err := m.SetBalance(from, symbol, new(big.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	return m.SetBalance(to, symbol, new(big.Int).Add(toBal, amount))
}

// Credit adds amount to the account balance. Used for genesis allocations and
// mints, which are the only sources of new supply.
func (m *Manager) Credit(symbol string, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("state: credit amount must be positive")
	}
	bal, err := m.Balance(to, symbol)
	if err != nil {
		return err
	}
	return m.SetBalance(to, symbol, new(big.Int).Add(bal, amount))
}
