package events

import (
	"math/big"

	"mavuno/core/types"
	"mavuno/crypto"
)

const (
	// TypeFiatUnderlyingCreated is emitted once per currency when the backing
	// ledger token is provisioned.
	TypeFiatUnderlyingCreated = "fiat.underlying_created"
	// TypeFiatMinted is emitted whenever new fiat supply is minted.
	TypeFiatMinted = "fiat.minted"
	// TypeFiatTransfer is emitted for every fiat balance movement.
	TypeFiatTransfer = "fiat.transfer"
	// TypeFiatApproval is emitted when an allowance is set.
	TypeFiatApproval = "fiat.approval"
	// TypeFiatAssociated is emitted the first time an account associates.
	TypeFiatAssociated = "fiat.associated"
)

type FiatUnderlyingCreated struct {
	Currency         string
	Symbol           string
	Name             string
	AutoRenewSeconds uint64
	Treasury         crypto.Address
}

func (FiatUnderlyingCreated) EventType() string { return TypeFiatUnderlyingCreated }

func (e FiatUnderlyingCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeFiatUnderlyingCreated,
		Attributes: map[string]string{
			"currency":  normalizeCurrency(e.Currency),
			"symbol":    e.Symbol,
			"name":      e.Name,
			"autoRenew": uintString(e.AutoRenewSeconds),
			"treasury":  addrString(e.Treasury),
		},
	}
}

type FiatMinted struct {
	Currency string
	Minter   crypto.Address
	To       crypto.Address
	Amount   *big.Int
	Supply   *big.Int
}

func (FiatMinted) EventType() string { return TypeFiatMinted }

func (e FiatMinted) Event() *types.Event {
	return &types.Event{
		Type: TypeFiatMinted,
		Attributes: map[string]string{
			"currency": normalizeCurrency(e.Currency),
			"minter":   addrString(e.Minter),
			"to":       addrString(e.To),
			"amount":   amountString(e.Amount),
			"supply":   amountString(e.Supply),
		},
	}
}

type FiatTransfer struct {
	Currency string
	From     crypto.Address
	To       crypto.Address
	Amount   *big.Int
}

func (FiatTransfer) EventType() string { return TypeFiatTransfer }

func (e FiatTransfer) Event() *types.Event {
	return &types.Event{
		Type: TypeFiatTransfer,
		Attributes: map[string]string{
			"currency": normalizeCurrency(e.Currency),
			"from":     addrString(e.From),
			"to":       addrString(e.To),
			"amount":   amountString(e.Amount),
		},
	}
}

type FiatApproval struct {
	Currency string
	Owner    crypto.Address
	Spender  crypto.Address
	Amount   *big.Int
}

func (FiatApproval) EventType() string { return TypeFiatApproval }

func (e FiatApproval) Event() *types.Event {
	return &types.Event{
		Type: TypeFiatApproval,
		Attributes: map[string]string{
			"currency": normalizeCurrency(e.Currency),
			"owner":    addrString(e.Owner),
			"spender":  addrString(e.Spender),
			"amount":   amountString(e.Amount),
		},
	}
}

type FiatAssociated struct {
	Currency string
	Account  crypto.Address
}

func (FiatAssociated) EventType() string { return TypeFiatAssociated }

func (e FiatAssociated) Event() *types.Event {
	return &types.Event{
		Type: TypeFiatAssociated,
		Attributes: map[string]string{
			"currency": normalizeCurrency(e.Currency),
			"account":  addrString(e.Account),
		},
	}
}
