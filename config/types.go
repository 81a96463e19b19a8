package config

import "mavuno/native/lending"

const (
	// DefaultLTVBps lets a farmer borrow up to 70% of pledged collateral value.
	DefaultLTVBps = 7_000
	// DefaultReserveFactorBps routes 10% of interest to pool reserves.
	DefaultReserveFactorBps = 1_000
)

// DefaultLending returns the parameters new pools are created with when the
// configuration does not override them.
func DefaultLending() lending.Params {
	return lending.Params{
		LTVBps:           DefaultLTVBps,
		ReserveFactorBps: DefaultReserveFactorBps,
		Model:            lending.DefaultInterestModel,
	}
}
