package common

// NativeSymbol is the ledger's collateral coin. Amounts are held in minor
// units with NativeDecimals places.
const (
	NativeSymbol   = "HBAR"
	NativeDecimals = 8
)
