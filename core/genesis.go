package core

import (
	"fmt"

	"mavuno/core/genesis"
	nativecommon "mavuno/native/common"
)

var genesisMarkerKey = []byte("core/genesis")

type genesisMarker struct {
	GenesisTime uint64
}

// Bootstrap provisions the ledger from spec in one transaction: the native
// coin, operator roles, each currency's underlying token and opening rate,
// its pool, and native allocations. A ledger that was already bootstrapped is
// left untouched and Bootstrap reports false.
func (n *Node) Bootstrap(spec *genesis.GenesisSpec) (bool, error) {
	if spec == nil {
		return false, fmt.Errorf("genesis spec must not be nil")
	}
	if err := spec.Validate(); err != nil {
		return false, fmt.Errorf("invalid genesis spec: %w", err)
	}
	applied := false
	err := n.execute("genesis", "bootstrap", func(tx *txn) error {
		var marker genesisMarker
		ok, err := tx.state.KVGet(genesisMarkerKey, &marker)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		native := spec.NativeToken
		if !tx.state.TokenExists(native.Symbol) {
			if err := tx.state.RegisterToken(native.Symbol, native.Name, native.Decimals); err != nil {
				return fmt.Errorf("register native token: %w", err)
			}
		}

		for _, role := range spec.RoleNames() {
			for _, member := range spec.RoleMembers(role) {
				if err := tx.state.SetRole(role, member); err != nil {
					return fmt.Errorf("role %q: %w", role, err)
				}
			}
		}

		var admin, oracleAdmin = spec.RoleMembers(nativecommon.RoleAdmin), spec.RoleMembers(nativecommon.RoleOracleAdmin)
		for i := range spec.Currencies {
			c := &spec.Currencies[i]
			cur := c.Currency()
			if err := tx.token(cur).CreateUnderlying(admin[0], c.Name, c.Symbol, c.AutoRenewSeconds); err != nil {
				return fmt.Errorf("currency %s: %w", cur, err)
			}
			if rate := c.RateValue(); rate != nil {
				if err := tx.oracle().SetRate(oracleAdmin[0], cur, rate); err != nil {
					return fmt.Errorf("currency %s rate: %w", cur, err)
				}
			}
			if c.CreatePool {
				if _, err := tx.factory().CreatePool(admin[0], cur); err != nil {
					return fmt.Errorf("currency %s pool: %w", cur, err)
				}
			}
		}

		for addr, amount := range spec.Allocations() {
			if amount.Sign() == 0 {
				continue
			}
			if err := tx.state.Credit(native.Symbol, addr, amount); err != nil {
				return fmt.Errorf("alloc %s: %w", addr, err)
			}
		}

		ts := spec.GenesisTimestamp().Unix()
		if ts < 0 {
			ts = 0
		}
		if err := tx.state.KVPut(genesisMarkerKey, &genesisMarker{GenesisTime: uint64(ts)}); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if applied {
		n.logger.Info("ledger bootstrapped", "currencies", len(spec.Currencies), "genesis_time", spec.GenesisTime)
	}
	return applied, nil
}
