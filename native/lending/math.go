package lending

import "math/big"

const secondsPerYear = 31_536_000

var (
	basisPoints = big.NewInt(10_000)
	ray         = mustBigInt("1000000000000000000000000000") // 1e27 precision
	halfRay     = new(big.Int).Rsh(ray, 1)
	// nativeUnit converts native coin minor units (8 decimals) to whole coins.
	nativeUnit = big.NewInt(100_000_000)
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

func zero() *big.Int { return big.NewInt(0) }

func clone(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// rayMul multiplies a by a ray-scaled factor, rounding half up.
func rayMul(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	product.Add(product, halfRay)
	return product.Quo(product, ray)
}

// mulDiv returns floor(a*b/c). A zero divisor yields zero.
func mulDiv(a, b, c *big.Int) *big.Int {
	if c == nil || c.Sign() == 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, c)
}

// mulDivUp returns ceil(a*b/c) for non-negative operands.
func mulDivUp(a, b, c *big.Int) *big.Int {
	if c == nil || c.Sign() == 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	q, r := new(big.Int).QuoRem(product, c, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// linearFactor is the ray-scaled growth 1 + rate*dt/year for a rate in basis
// points.
func linearFactor(rateBps uint64, delta uint64) *big.Int {
	if rateBps == 0 || delta == 0 {
		return new(big.Int).Set(ray)
	}
	growth := new(big.Int).Mul(ray, new(big.Int).SetUint64(rateBps))
	growth.Mul(growth, new(big.Int).SetUint64(delta))
	growth.Quo(growth, new(big.Int).Mul(basisPoints, big.NewInt(secondsPerYear)))
	return growth.Add(growth, ray)
}

func scaledDebtFromAmount(amount, index *big.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 || index == nil || index.Sign() == 0 {
		return big.NewInt(0)
	}
	return mulDivUp(amount, ray, index)
}

func debtFromScaled(scaled, index *big.Int) *big.Int {
	if scaled == nil || scaled.Sign() == 0 || index == nil || index.Sign() == 0 {
		return big.NewInt(0)
	}
	return rayMul(scaled, index)
}

// collateralValue converts native minor units into fiat minor units at rate.
func collateralValue(pledge, rate *big.Int) *big.Int {
	return mulDiv(pledge, rate, nativeUnit)
}
