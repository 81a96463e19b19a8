package lending

import (
	"math/big"

	"mavuno/crypto"
)

// Params are fixed per pool when it is created.
type Params struct {
	// LTVBps caps borrowing at this share of collateral value.
	LTVBps uint64 `toml:"LTVBps" yaml:"ltvBps" json:"ltvBps"`
	// ReserveFactorBps routes this share of interest to reserves.
	ReserveFactorBps uint64        `toml:"ReserveFactorBps" yaml:"reserveFactorBps" json:"reserveFactorBps"`
	Model            InterestModel `toml:"Model" yaml:"model" json:"model"`
}

// Market captures the aggregate accounting state of one pool. Amounts are in
// fiat minor units.
type Market struct {
	Params Params
	// TotalSupplied is the supplier value: principal plus credited yield.
	TotalSupplied *big.Int
	// TotalShares is the LP share supply.
	TotalShares *big.Int
	// TotalScaledDebt is aggregate debt divided by BorrowIndex.
	TotalScaledDebt *big.Int
	// BorrowIndex is the ray-scaled cumulative borrow growth.
	BorrowIndex *big.Int
	// Reserves is the reserve-factor share of interest held by the pool.
	Reserves *big.Int
	// LastAccrual is the unix second of the last index update.
	LastAccrual uint64
}

func (m *Market) normalize() {
	if m.TotalSupplied == nil {
		m.TotalSupplied = zero()
	}
	if m.TotalShares == nil {
		m.TotalShares = zero()
	}
	if m.TotalScaledDebt == nil {
		m.TotalScaledDebt = zero()
	}
	if m.BorrowIndex == nil || m.BorrowIndex.Sign() == 0 {
		m.BorrowIndex = new(big.Int).Set(ray)
	}
	if m.Reserves == nil {
		m.Reserves = zero()
	}
}

// Clone returns a deep copy of the market.
func (m *Market) Clone() *Market {
	if m == nil {
		return nil
	}
	return &Market{
		Params:          m.Params,
		TotalSupplied:   clone(m.TotalSupplied),
		TotalShares:     clone(m.TotalShares),
		TotalScaledDebt: clone(m.TotalScaledDebt),
		BorrowIndex:     clone(m.BorrowIndex),
		Reserves:        clone(m.Reserves),
		LastAccrual:     m.LastAccrual,
	}
}

// TotalBorrowed is the aggregate debt at the stored index.
func (m *Market) TotalBorrowed() *big.Int {
	return debtFromScaled(m.TotalScaledDebt, m.BorrowIndex)
}

// Position is a farmer's debt in one pool.
type Position struct {
	ScaledDebt *big.Int
	Principal  *big.Int
}

func (p *Position) normalize() {
	if p.ScaledDebt == nil {
		p.ScaledDebt = zero()
	}
	if p.Principal == nil {
		p.Principal = zero()
	}
}

// Snapshot is the read model of a pool.
type Snapshot struct {
	Currency           string         `json:"currency"`
	Address            crypto.Address `json:"address"`
	TotalSupplied      *big.Int       `json:"totalSupplied"`
	TotalBorrowed      *big.Int       `json:"totalBorrowed"`
	TotalShares        *big.Int       `json:"totalShares"`
	Reserves           *big.Int       `json:"reserves"`
	AvailableLiquidity *big.Int       `json:"availableLiquidity"`
	BorrowIndex        *big.Int       `json:"borrowIndex"`
	UtilizationBps     uint64         `json:"utilizationBps"`
	BorrowRateBps      uint64         `json:"borrowRateBps"`
	SupplyRateBps      uint64         `json:"supplyRateBps"`
	LTVBps             uint64         `json:"ltvBps"`
	ReserveFactorBps   uint64         `json:"reserveFactorBps"`
	LastAccrual        int64          `json:"lastAccrual"`
}

// FarmerPosition is the borrower read model. Borrowable and HealthFactor are
// nil when no price is available.
type FarmerPosition struct {
	Farmer         crypto.Address `json:"farmer"`
	Manager        crypto.Address `json:"manager"`
	Active         bool           `json:"active"`
	Pledge         *big.Int       `json:"pledge"`
	Principal      *big.Int       `json:"principal"`
	Outstanding    *big.Int       `json:"outstanding"`
	Borrowable     *big.Int       `json:"borrowable,omitempty"`
	HealthFactor   *big.Int       `json:"healthFactor,omitempty"`
	PriceAvailable bool           `json:"priceAvailable"`
}

// RepayResult splits a repayment into its interest and principal parts.
type RepayResult struct {
	Interest    *big.Int
	Principal   *big.Int
	Outstanding *big.Int
}
