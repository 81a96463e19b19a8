package events

import (
	"strconv"

	"mavuno/core/types"
	"mavuno/crypto"
)

// TypeModulePaused is emitted whenever an admin flips a module pause switch.
const TypeModulePaused = "module.paused"

type ModulePaused struct {
	Module string
	Paused bool
	By     crypto.Address
}

func (ModulePaused) EventType() string { return TypeModulePaused }

func (e ModulePaused) Event() *types.Event {
	return &types.Event{
		Type: TypeModulePaused,
		Attributes: map[string]string{
			"module": e.Module,
			"paused": strconv.FormatBool(e.Paused),
			"by":     addrString(e.By),
		},
	}
}
