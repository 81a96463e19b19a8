package common

// Ledger-wide roles. Per-currency roles such as fiat minters are derived by
// the owning module.
const (
	RoleAdmin       = "ADMIN"
	RoleOracleAdmin = "ORACLE_ADMIN"
)
