package common

import "errors"

// Module names recognised by the pause switch.
const (
	ModuleFiat     = "fiat"
	ModuleOracle   = "oracle"
	ModuleRegistry = "registry"
	ModulePledge   = "pledge"
	ModuleLending  = "lending"
	ModuleFactory  = "factory"
)

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// KnownModule reports whether name is a pausable module.
func KnownModule(name string) bool {
	switch name {
	case ModuleFiat, ModuleOracle, ModuleRegistry, ModulePledge, ModuleLending, ModuleFactory:
		return true
	}
	return false
}

// ErrPriceUnavailable is shared by the oracle and its consumers so a missing
// rate can be matched with errors.Is on either side.
var ErrPriceUnavailable = errors.New("price unavailable")
