package lending

import (
	"errors"
	"math/big"
)

var errInvalidModel = errors.New("lending: invalid interest model")

// InterestModel is a kinked utilisation curve. Every field is in basis points:
// a 2% base rate is 200 and an 80% kink is 8000.
type InterestModel struct {
	// BaseRateBps is the borrow APR applied when utilisation is zero.
	BaseRateBps uint64 `toml:"BaseRateBps" yaml:"baseRateBps" json:"baseRateBps"`
	// Slope1Bps is the APR added per unit of utilisation up to the kink.
	Slope1Bps uint64 `toml:"Slope1Bps" yaml:"slope1Bps" json:"slope1Bps"`
	// Slope2Bps is the APR added per unit of utilisation beyond the kink.
	Slope2Bps uint64 `toml:"Slope2Bps" yaml:"slope2Bps" json:"slope2Bps"`
	// KinkBps is the utilisation where the slope changes.
	KinkBps uint64 `toml:"KinkBps" yaml:"kinkBps" json:"kinkBps"`
}

// DefaultInterestModel provides a kinked curve with a modest base rate.
var DefaultInterestModel = InterestModel{BaseRateBps: 200, Slope1Bps: 1_500, Slope2Bps: 6_000, KinkBps: 8_000}

func (m InterestModel) Validate() error {
	if m.KinkBps > 10_000 {
		return errInvalidModel
	}
	return nil
}

func bpsRat(v uint64) *big.Rat {
	return new(big.Rat).SetFrac(new(big.Int).SetUint64(v), basisPoints)
}

// utilisation computes U = totalBorrowed / totalSupplied clamped to [0, 1].
// When no liquidity exists the utilisation is defined as zero.
func utilisation(totalBorrowed, totalSupplied *big.Int) *big.Rat {
	if totalBorrowed == nil || totalBorrowed.Sign() <= 0 {
		return new(big.Rat)
	}
	if totalSupplied == nil || totalSupplied.Sign() <= 0 {
		return new(big.Rat)
	}
	u := new(big.Rat).SetFrac(totalBorrowed, totalSupplied)
	if u.Cmp(big.NewRat(1, 1)) > 0 {
		return big.NewRat(1, 1)
	}
	return u
}

// UtilizationBps returns the pool utilisation floored to basis points.
func UtilizationBps(totalBorrowed, totalSupplied *big.Int) uint64 {
	return floorBps(utilisation(totalBorrowed, totalSupplied))
}

// borrowAPR derives the exact borrow APR on the curve.
func (m InterestModel) borrowAPR(totalBorrowed, totalSupplied *big.Int) *big.Rat {
	rate := bpsRat(m.BaseRateBps)
	u := utilisation(totalBorrowed, totalSupplied)
	if u.Sign() == 0 {
		return rate
	}
	kink := bpsRat(m.KinkBps)
	slope1 := bpsRat(m.Slope1Bps)
	if kink.Sign() == 0 || u.Cmp(kink) <= 0 {
		// Linear region before the kink.
		return rate.Add(rate, new(big.Rat).Mul(slope1, u))
	}
	rate.Add(rate, new(big.Rat).Mul(slope1, kink))
	excess := new(big.Rat).Sub(u, kink)
	return rate.Add(rate, new(big.Rat).Mul(bpsRat(m.Slope2Bps), excess))
}

// BorrowRateBps is floor(model(U)) in basis points.
func (m InterestModel) BorrowRateBps(totalBorrowed, totalSupplied *big.Int) uint64 {
	return floorBps(m.borrowAPR(totalBorrowed, totalSupplied))
}

// SupplyRateBps derives floor(borrowRate * U * (1 - reserveFactor)). The
// result never exceeds borrowRateBps.
func SupplyRateBps(borrowRateBps uint64, totalBorrowed, totalSupplied *big.Int, reserveFactorBps uint64) uint64 {
	if borrowRateBps == 0 {
		return 0
	}
	u := utilisation(totalBorrowed, totalSupplied)
	if u.Sign() == 0 {
		return 0
	}
	if reserveFactorBps > 10_000 {
		reserveFactorBps = 10_000
	}
	rate := new(big.Rat).SetInt(new(big.Int).SetUint64(borrowRateBps))
	rate.Mul(rate, u)
	rate.Mul(rate, bpsRat(10_000-reserveFactorBps))
	return new(big.Int).Quo(rate.Num(), rate.Denom()).Uint64()
}

func floorBps(r *big.Rat) uint64 {
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(basisPoints))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom()).Uint64()
}
