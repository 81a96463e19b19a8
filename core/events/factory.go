package events

import (
	"mavuno/core/types"
	"mavuno/crypto"
)

// TypeFactoryPoolCreated is emitted when a lending pool is wired for a currency.
const TypeFactoryPoolCreated = "factory.pool_created"

type FactoryPoolCreated struct {
	Currency string
	Pool     crypto.Address
	Creator  crypto.Address
}

func (FactoryPoolCreated) EventType() string { return TypeFactoryPoolCreated }

func (e FactoryPoolCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeFactoryPoolCreated,
		Attributes: map[string]string{
			"currency": normalizeCurrency(e.Currency),
			"pool":     addrString(e.Pool),
			"creator":  addrString(e.Creator),
		},
	}
}
