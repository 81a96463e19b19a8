package events

import (
	"math/big"

	"mavuno/core/types"
	"mavuno/crypto"
)

const (
	TypeLendingSupplied          = "lending.supplied"
	TypeLendingWithdrawn         = "lending.withdrawn"
	TypeLendingBorrowed          = "lending.borrowed"
	TypeLendingRepaid            = "lending.repaid"
	TypeLendingPledgeActivated   = "lending.pledge_activated"
	TypeLendingPledgeDeactivated = "lending.pledge_deactivated"
	TypeLendingReservesWithdrawn = "lending.reserves_withdrawn"
)

// LendingSupplied records liquidity added to a pool.
type LendingSupplied struct {
	Currency   string
	Pool       crypto.Address
	Supplier   crypto.Address
	OnBehalfOf crypto.Address
	Amount     *big.Int
	Shares     *big.Int
}

func (LendingSupplied) EventType() string { return TypeLendingSupplied }

func (e LendingSupplied) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingSupplied,
		Attributes: map[string]string{
			"currency":   normalizeCurrency(e.Currency),
			"pool":       addrString(e.Pool),
			"supplier":   addrString(e.Supplier),
			"onBehalfOf": addrString(e.OnBehalfOf),
			"amount":     amountString(e.Amount),
			"shares":     amountString(e.Shares),
		},
	}
}

// LendingWithdrawn records liquidity removed from a pool.
type LendingWithdrawn struct {
	Currency string
	Pool     crypto.Address
	Supplier crypto.Address
	Amount   *big.Int
	Shares   *big.Int
}

func (LendingWithdrawn) EventType() string { return TypeLendingWithdrawn }

func (e LendingWithdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingWithdrawn,
		Attributes: map[string]string{
			"currency": normalizeCurrency(e.Currency),
			"pool":     addrString(e.Pool),
			"supplier": addrString(e.Supplier),
			"amount":   amountString(e.Amount),
			"shares":   amountString(e.Shares),
		},
	}
}

type LendingBorrowed struct {
	Currency    string
	Pool        crypto.Address
	Farmer      crypto.Address
	Amount      *big.Int
	Outstanding *big.Int
}

func (LendingBorrowed) EventType() string { return TypeLendingBorrowed }

func (e LendingBorrowed) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingBorrowed,
		Attributes: map[string]string{
			"currency":    normalizeCurrency(e.Currency),
			"pool":        addrString(e.Pool),
			"farmer":      addrString(e.Farmer),
			"amount":      amountString(e.Amount),
			"outstanding": amountString(e.Outstanding),
		},
	}
}

// LendingRepaid splits the repayment into its interest and principal parts.
type LendingRepaid struct {
	Currency    string
	Pool        crypto.Address
	Payer       crypto.Address
	Farmer      crypto.Address
	Amount      *big.Int
	Interest    *big.Int
	Principal   *big.Int
	Outstanding *big.Int
}

func (LendingRepaid) EventType() string { return TypeLendingRepaid }

func (e LendingRepaid) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingRepaid,
		Attributes: map[string]string{
			"currency":    normalizeCurrency(e.Currency),
			"pool":        addrString(e.Pool),
			"payer":       addrString(e.Payer),
			"farmer":      addrString(e.Farmer),
			"amount":      amountString(e.Amount),
			"interest":    amountString(e.Interest),
			"principal":   amountString(e.Principal),
			"outstanding": amountString(e.Outstanding),
		},
	}
}

type LendingPledgeActivated struct {
	Currency string
	Pool     crypto.Address
	Farmer   crypto.Address
	Manager  crypto.Address
}

func (LendingPledgeActivated) EventType() string { return TypeLendingPledgeActivated }

func (e LendingPledgeActivated) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingPledgeActivated,
		Attributes: map[string]string{
			"currency": normalizeCurrency(e.Currency),
			"pool":     addrString(e.Pool),
			"farmer":   addrString(e.Farmer),
			"manager":  addrString(e.Manager),
		},
	}
}

type LendingPledgeDeactivated struct {
	Currency string
	Pool     crypto.Address
	Farmer   crypto.Address
	Manager  crypto.Address
}

func (LendingPledgeDeactivated) EventType() string { return TypeLendingPledgeDeactivated }

func (e LendingPledgeDeactivated) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingPledgeDeactivated,
		Attributes: map[string]string{
			"currency": normalizeCurrency(e.Currency),
			"pool":     addrString(e.Pool),
			"farmer":   addrString(e.Farmer),
			"manager":  addrString(e.Manager),
		},
	}
}

type LendingReservesWithdrawn struct {
	Currency string
	Pool     crypto.Address
	To       crypto.Address
	Amount   *big.Int
}

func (LendingReservesWithdrawn) EventType() string { return TypeLendingReservesWithdrawn }

func (e LendingReservesWithdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingReservesWithdrawn,
		Attributes: map[string]string{
			"currency": normalizeCurrency(e.Currency),
			"pool":     addrString(e.Pool),
			"to":       addrString(e.To),
			"amount":   amountString(e.Amount),
		},
	}
}
