package events

import (
	"math/big"

	"mavuno/core/types"
	"mavuno/crypto"
)

const (
	// TypePledgeDeposited is emitted when a pledger adds collateral for a farmer.
	TypePledgeDeposited = "pledge.deposited"
	// TypePledgeWithdrawn is emitted when a pledger takes collateral back.
	TypePledgeWithdrawn = "pledge.withdrawn"
)

type PledgeDeposited struct {
	Manager crypto.Address
	Farmer  crypto.Address
	Pledger crypto.Address
	Amount  *big.Int
	Total   *big.Int
}

func (PledgeDeposited) EventType() string { return TypePledgeDeposited }

func (e PledgeDeposited) Event() *types.Event {
	return &types.Event{
		Type: TypePledgeDeposited,
		Attributes: map[string]string{
			"manager": addrString(e.Manager),
			"farmer":  addrString(e.Farmer),
			"pledger": addrString(e.Pledger),
			"amount":  amountString(e.Amount),
			"total":   amountString(e.Total),
		},
	}
}

type PledgeWithdrawn struct {
	Manager crypto.Address
	Farmer  crypto.Address
	Pledger crypto.Address
	Amount  *big.Int
	Total   *big.Int
}

func (PledgeWithdrawn) EventType() string { return TypePledgeWithdrawn }

func (e PledgeWithdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypePledgeWithdrawn,
		Attributes: map[string]string{
			"manager": addrString(e.Manager),
			"farmer":  addrString(e.Farmer),
			"pledger": addrString(e.Pledger),
			"amount":  amountString(e.Amount),
			"total":   amountString(e.Total),
		},
	}
}
