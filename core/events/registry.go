package events

import (
	"mavuno/core/types"
	"mavuno/crypto"
)

const (
	// TypeFarmerRegistered is emitted when a farmer and their pledge manager
	// are created.
	TypeFarmerRegistered = "registry.farmer_registered"
	// TypeFarmerVerified is emitted when an admin verifies a farmer.
	TypeFarmerVerified = "registry.farmer_verified"
)

type FarmerRegistered struct {
	Farmer  crypto.Address
	Manager crypto.Address
	Name    string
}

func (FarmerRegistered) EventType() string { return TypeFarmerRegistered }

func (e FarmerRegistered) Event() *types.Event {
	return &types.Event{
		Type: TypeFarmerRegistered,
		Attributes: map[string]string{
			"farmer":  addrString(e.Farmer),
			"manager": addrString(e.Manager),
			"name":    e.Name,
		},
	}
}

type FarmerVerified struct {
	Farmer   crypto.Address
	Verifier crypto.Address
}

func (FarmerVerified) EventType() string { return TypeFarmerVerified }

func (e FarmerVerified) Event() *types.Event {
	return &types.Event{
		Type: TypeFarmerVerified,
		Attributes: map[string]string{
			"farmer":   addrString(e.Farmer),
			"verifier": addrString(e.Verifier),
		},
	}
}
