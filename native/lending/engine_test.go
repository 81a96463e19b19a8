package lending

import (
	"errors"
	"math/big"
	"testing"

	"mavuno/core/events"
	"mavuno/core/state"
	"mavuno/crypto"
	nativecommon "mavuno/native/common"
	"mavuno/native/fiat"
	"mavuno/storage"
)

func makeAddress(b byte) crypto.Address {
	var a crypto.Address
	a[0] = b
	a[crypto.AddressLength-1] = b
	return a
}

var (
	poolAddr = makeAddress(0xAA)
	admin    = makeAddress(1)
	supplier = makeAddress(2)
	second   = makeAddress(3)
	farmer   = makeAddress(4)
	manager  = makeAddress(5)
	stranger = makeAddress(6)
)

type allowanceKey struct{ owner, spender crypto.Address }

type fakeLedger struct {
	balances   map[crypto.Address]*big.Int
	allowances map[allowanceKey]*big.Int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		balances:   make(map[crypto.Address]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
	}
}

func (l *fakeLedger) fund(addr crypto.Address, amount int64) {
	l.balances[addr] = new(big.Int).Add(l.balance(addr), big.NewInt(amount))
}

func (l *fakeLedger) approve(owner, spender crypto.Address, amount int64) {
	l.allowances[allowanceKey{owner, spender}] = big.NewInt(amount)
}

func (l *fakeLedger) balance(addr crypto.Address) *big.Int {
	if bal, ok := l.balances[addr]; ok {
		return bal
	}
	return big.NewInt(0)
}

func (l *fakeLedger) BalanceOf(addr crypto.Address) (*big.Int, error) {
	return new(big.Int).Set(l.balance(addr)), nil
}

func (l *fakeLedger) Transfer(from, to crypto.Address, amount *big.Int) error {
	if l.balance(from).Cmp(amount) < 0 {
		return fiat.ErrInsufficientBalance
	}
	l.balances[from] = new(big.Int).Sub(l.balance(from), amount)
	l.balances[to] = new(big.Int).Add(l.balance(to), amount)
	return nil
}

func (l *fakeLedger) TransferFrom(spender, from, to crypto.Address, amount *big.Int) error {
	key := allowanceKey{from, spender}
	allowance, ok := l.allowances[key]
	if !ok || allowance.Cmp(amount) < 0 {
		return fiat.ErrInsufficientAllowance
	}
	if err := l.Transfer(from, to, amount); err != nil {
		return err
	}
	l.allowances[key] = new(big.Int).Sub(allowance, amount)
	return nil
}

type fakePrices map[fiat.Currency]*big.Int

func (p fakePrices) Rate(cur fiat.Currency) (*big.Int, error) {
	rate, ok := p[cur]
	if !ok {
		return nil, nativecommon.ErrPriceUnavailable
	}
	return rate, nil
}

type fakeValuation struct {
	managers map[crypto.Address]crypto.Address
	pledges  map[crypto.Address]*big.Int
	active   map[crypto.Address]map[string]bool
}

func newFakeValuation() *fakeValuation {
	return &fakeValuation{
		managers: make(map[crypto.Address]crypto.Address),
		pledges:  make(map[crypto.Address]*big.Int),
		active:   make(map[crypto.Address]map[string]bool),
	}
}

func (v *fakeValuation) ManagerOf(farmer crypto.Address) (crypto.Address, error) {
	return v.managers[farmer], nil
}

func (v *fakeValuation) TotalSupply(manager crypto.Address) (*big.Int, error) {
	if p, ok := v.pledges[manager]; ok {
		return new(big.Int).Set(p), nil
	}
	return big.NewInt(0), nil
}

func (v *fakeValuation) IsActive(manager crypto.Address, poolID string) (bool, error) {
	return v.active[manager][poolID], nil
}

func (v *fakeValuation) SetActive(manager crypto.Address, poolID string, active bool) error {
	if v.active[manager] == nil {
		v.active[manager] = make(map[string]bool)
	}
	v.active[manager][poolID] = active
	return nil
}

type harness struct {
	engine    *Engine
	state     *state.Manager
	ledger    *fakeLedger
	prices    fakePrices
	valuation *fakeValuation
	events    *events.Buffer
	clock     int64
}

func coins(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), nativeUnit)
}

// flatRate keeps the borrow APR at base regardless of utilisation.
func flatRate(bps uint64) InterestModel {
	return InterestModel{BaseRateBps: bps, KinkBps: 8_000}
}

func newHarness(t *testing.T, params Params) *harness {
	t.Helper()
	h := &harness{
		state:     state.NewManager(storage.NewMemDB()),
		ledger:    newFakeLedger(),
		prices:    fakePrices{fiat.NGN: big.NewInt(1_900_000)},
		valuation: newFakeValuation(),
		events:    &events.Buffer{},
		clock:     1_700_000_000,
	}
	if err := h.state.SetRole(nativecommon.RoleAdmin, admin); err != nil {
		t.Fatalf("admin role: %v", err)
	}
	h.engine = NewEngine(fiat.NGN, poolAddr)
	h.engine.SetState(NewStore(h.state))
	h.engine.SetFiatLedger(h.ledger)
	h.engine.SetPriceFeed(h.prices)
	h.engine.SetPledgeValuation(h.valuation)
	h.engine.SetPauses(h.state)
	h.engine.SetEmitter(h.events)
	h.engine.SetNowFunc(func() int64 { return h.clock })
	if err := h.engine.Init(params); err != nil {
		t.Fatalf("init: %v", err)
	}
	return h
}

func defaultParams() Params {
	return Params{LTVBps: 7_000, Model: DefaultInterestModel}
}

func (h *harness) supply(t *testing.T, from crypto.Address, amount int64) *big.Int {
	t.Helper()
	h.ledger.fund(from, amount)
	h.ledger.approve(from, poolAddr, amount)
	shares, err := h.engine.Supply(from, big.NewInt(amount), crypto.Address{})
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	return shares
}

func (h *harness) pledge(t *testing.T, amount *big.Int, activate bool) {
	t.Helper()
	h.valuation.managers[farmer] = manager
	h.valuation.pledges[manager] = amount
	if activate {
		if err := h.engine.ActivatePledge(farmer); err != nil {
			t.Fatalf("activate: %v", err)
		}
	}
}

func (h *harness) advance(seconds int64) { h.clock += seconds }

func TestBorrowableWorkedExample(t *testing.T) {
	h := newHarness(t, defaultParams())
	h.pledge(t, coins(10), true)
	got, err := h.engine.Borrowable(farmer)
	if err != nil {
		t.Fatalf("borrowable: %v", err)
	}
	if got.Cmp(big.NewInt(13_300_000)) != 0 {
		t.Fatalf("expected 13,300,000, got %s", got)
	}
}

func TestBorrowableZeroWithoutManagerOrActivation(t *testing.T) {
	h := newHarness(t, defaultParams())
	delete(h.prices, fiat.NGN)
	got, err := h.engine.Borrowable(farmer)
	if err != nil || got.Sign() != 0 {
		t.Fatalf("unregistered farmer: %v %v", got, err)
	}
	h.pledge(t, coins(10), false)
	got, err = h.engine.Borrowable(farmer)
	if err != nil || got.Sign() != 0 {
		t.Fatalf("inactive farmer: %v %v", got, err)
	}
}

func TestBorrowCapIsInclusive(t *testing.T) {
	h := newHarness(t, defaultParams())
	h.supply(t, supplier, 20_000_000)
	h.pledge(t, coins(10), true)

	if _, err := h.engine.Borrow(farmer, big.NewInt(13_300_001)); !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("expected ErrInsufficientCollateral, got %v", err)
	}
	outstanding, err := h.engine.Borrow(farmer, big.NewInt(13_300_000))
	if err != nil {
		t.Fatalf("borrow at cap: %v", err)
	}
	if outstanding.Cmp(big.NewInt(13_300_000)) != 0 {
		t.Fatalf("unexpected outstanding %s", outstanding)
	}
	if h.ledger.balance(farmer).Cmp(big.NewInt(13_300_000)) != 0 {
		t.Fatalf("farmer not paid: %s", h.ledger.balance(farmer))
	}
	left, _ := h.engine.Borrowable(farmer)
	if left.Sign() != 0 {
		t.Fatalf("capacity should be exhausted, got %s", left)
	}
	borrowed, _ := h.engine.TotalBorrowed()
	if borrowed.Cmp(big.NewInt(13_300_000)) != 0 {
		t.Fatalf("total borrowed %s", borrowed)
	}
}

func TestBorrowGuards(t *testing.T) {
	h := newHarness(t, defaultParams())
	h.supply(t, supplier, 1_000_000)

	if _, err := h.engine.Borrow(farmer, big.NewInt(1)); !errors.Is(err, ErrPledgeInactive) {
		t.Fatalf("expected inactive, got %v", err)
	}
	h.pledge(t, coins(10), true)
	if _, err := h.engine.Borrow(farmer, big.NewInt(1_000_001)); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected insufficient liquidity, got %v", err)
	}
	delete(h.prices, fiat.NGN)
	if _, err := h.engine.Borrow(farmer, big.NewInt(1)); !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("expected price unavailable, got %v", err)
	}
	if _, err := h.engine.Borrow(farmer, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestSupplySharePricing(t *testing.T) {
	h := newHarness(t, defaultParams())
	first := h.supply(t, supplier, 100_000)
	if first.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("genesis supply should mint 1:1, got %s", first)
	}
	total, _ := h.engine.TotalSupplied()
	if total.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("total supplied %s", total)
	}
	shares := h.supply(t, second, 50_000)
	if shares.Cmp(big.NewInt(50_000)) != 0 {
		t.Fatalf("second supplier shares %s", shares)
	}
	worth, _ := h.engine.SupplyBalance(second)
	if worth.Cmp(big.NewInt(50_000)) != 0 {
		t.Fatalf("second supplier worth %s", worth)
	}
	total, _ = h.engine.TotalSupplied()
	if total.Cmp(big.NewInt(150_000)) != 0 {
		t.Fatalf("total supplied %s", total)
	}
}

func TestSupplyRequiresAllowance(t *testing.T) {
	h := newHarness(t, defaultParams())
	h.ledger.fund(supplier, 1_000)
	if _, err := h.engine.Supply(supplier, big.NewInt(1_000), crypto.Address{}); !errors.Is(err, fiat.ErrInsufficientAllowance) {
		t.Fatalf("expected allowance error, got %v", err)
	}
}

func TestSupplyOnBehalfOf(t *testing.T) {
	h := newHarness(t, defaultParams())
	h.ledger.fund(supplier, 500)
	h.ledger.approve(supplier, poolAddr, 500)
	if _, err := h.engine.Supply(supplier, big.NewInt(500), second); err != nil {
		t.Fatalf("supply: %v", err)
	}
	if bal, _ := h.engine.BalanceOf(second); bal.Int64() != 500 {
		t.Fatalf("beneficiary shares %s", bal)
	}
	if bal, _ := h.engine.BalanceOf(supplier); bal.Sign() != 0 {
		t.Fatalf("payer received shares %s", bal)
	}
}

func TestWithdrawNeverPartiallyFills(t *testing.T) {
	h := newHarness(t, defaultParams())
	h.supply(t, supplier, 1_000_000)
	h.pledge(t, coins(10), true)
	if _, err := h.engine.Borrow(farmer, big.NewInt(700_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if _, err := h.engine.Withdraw(supplier, big.NewInt(1_000_001)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if _, err := h.engine.Withdraw(supplier, big.NewInt(300_001)); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected insufficient liquidity, got %v", err)
	}
	shares, _ := h.engine.BalanceOf(supplier)
	if shares.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("failed withdraw touched shares: %s", shares)
	}
	burned, err := h.engine.Withdraw(supplier, big.NewInt(300_000))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if burned.Cmp(big.NewInt(300_000)) != 0 {
		t.Fatalf("burned %s", burned)
	}
	if h.ledger.balance(supplier).Cmp(big.NewInt(300_000)) != 0 {
		t.Fatalf("supplier paid %s", h.ledger.balance(supplier))
	}
}

func TestRatesWorkedExample(t *testing.T) {
	supplied, borrowed := big.NewInt(1_000_000), big.NewInt(500_000)
	if u := UtilizationBps(borrowed, supplied); u != 5_000 {
		t.Fatalf("expected 50%% utilisation, got %d", u)
	}
	if got := SupplyRateBps(1_800, borrowed, supplied, 0); got != 900 {
		t.Fatalf("expected supply rate 900, got %d", got)
	}
}

func TestKinkedBorrowRate(t *testing.T) {
	m := DefaultInterestModel
	cases := []struct {
		borrowed, supplied int64
		want               uint64
	}{
		{0, 1_000, 200},
		{500, 1_000, 200 + 750},
		{800, 1_000, 200 + 1_200},
		{1_000, 1_000, 200 + 1_200 + 1_200},
		{2_000, 1_000, 200 + 1_200 + 1_200},
	}
	for _, tc := range cases {
		got := m.BorrowRateBps(big.NewInt(tc.borrowed), big.NewInt(tc.supplied))
		if got != tc.want {
			t.Fatalf("borrowed=%d supplied=%d: expected %d, got %d", tc.borrowed, tc.supplied, tc.want, got)
		}
	}
}

func TestSupplyRateNeverExceedsBorrowRate(t *testing.T) {
	models := []InterestModel{DefaultInterestModel, flatRate(1_800), {BaseRateBps: 0, Slope1Bps: 10_000, Slope2Bps: 90_000, KinkBps: 9_000}}
	for _, m := range models {
		for _, rf := range []uint64{0, 1_000, 10_000} {
			supplied := big.NewInt(977)
			for b := int64(0); b <= 977; b += 7 {
				borrowed := big.NewInt(b)
				borrowRate := m.BorrowRateBps(borrowed, supplied)
				supplyRate := SupplyRateBps(borrowRate, borrowed, supplied, rf)
				if supplyRate > borrowRate {
					t.Fatalf("supply %d > borrow %d at borrowed=%d rf=%d", supplyRate, borrowRate, b, rf)
				}
			}
		}
	}
}

func TestDebtIsMonotonic(t *testing.T) {
	h := newHarness(t, defaultParams())
	h.supply(t, supplier, 20_000_000)
	h.pledge(t, coins(10), true)
	if _, err := h.engine.Borrow(farmer, big.NewInt(5_000_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	prev, _ := h.engine.Outstanding(farmer)
	for i := 0; i < 50; i++ {
		h.advance(86_400 * 7)
		if i%10 == 0 {
			// An unrelated supplier moves the utilisation between samples.
			h.supply(t, second, 1_000_000)
		}
		next, err := h.engine.Outstanding(farmer)
		if err != nil {
			t.Fatalf("outstanding: %v", err)
		}
		if next.Cmp(prev) < 0 {
			t.Fatalf("debt decreased from %s to %s", prev, next)
		}
		prev = next
	}
	if prev.Cmp(big.NewInt(5_000_000)) <= 0 {
		t.Fatalf("no interest accrued: %s", prev)
	}
}

func TestHealthFactorSaturatesWithoutDebt(t *testing.T) {
	h := newHarness(t, defaultParams())
	delete(h.prices, fiat.NGN)
	hf, err := h.engine.HealthFactorLTV(farmer)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if hf.Cmp(InfiniteHealthFactor) != 0 {
		t.Fatalf("expected sentinel, got %s", hf)
	}
	if hf.BitLen() != 256 {
		t.Fatalf("sentinel should be MaxUint256")
	}
}

func TestHealthFactorWithDebt(t *testing.T) {
	h := newHarness(t, defaultParams())
	h.supply(t, supplier, 20_000_000)
	h.pledge(t, coins(10), true)
	if _, err := h.engine.Borrow(farmer, big.NewInt(13_300_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	hf, err := h.engine.HealthFactorLTV(farmer)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	// 19,000,000 of collateral over 13,300,000 of debt.
	if hf.Int64() != 14_285 {
		t.Fatalf("expected collateral/debt of 14285 bps at the borrow cap, got %s", hf)
	}
	delete(h.prices, fiat.NGN)
	if _, err := h.engine.HealthFactorLTV(farmer); !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("expected price unavailable, got %v", err)
	}
	view, err := h.engine.FarmerPositions(farmer)
	if err != nil {
		t.Fatalf("positions: %v", err)
	}
	if view.PriceAvailable || view.HealthFactor != nil || view.Outstanding.Int64() != 13_300_000 {
		t.Fatalf("unexpected degraded view %+v", view)
	}
}

func TestRepayInterestFirstAndClears(t *testing.T) {
	h := newHarness(t, Params{LTVBps: 7_000, ReserveFactorBps: 1_000, Model: flatRate(1_800)})
	h.supply(t, supplier, 10_000_000)
	h.pledge(t, coins(10), true)
	if _, err := h.engine.Borrow(farmer, big.NewInt(1_000_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	h.advance(secondsPerYear)

	outstanding, _ := h.engine.Outstanding(farmer)
	if outstanding.Cmp(big.NewInt(1_180_000)) != 0 {
		t.Fatalf("expected 18%% simple growth over one period, got %s", outstanding)
	}

	h.ledger.fund(farmer, 2_000_000)
	h.ledger.approve(farmer, poolAddr, 2_000_000)
	if _, err := h.engine.Repay(farmer, big.NewInt(1_180_001), crypto.Address{}); !errors.Is(err, ErrRepayExceedsDebt) {
		t.Fatalf("expected ErrRepayExceedsDebt, got %v", err)
	}
	res, err := h.engine.Repay(farmer, big.NewInt(100_000), crypto.Address{})
	if err != nil {
		t.Fatalf("partial repay: %v", err)
	}
	if res.Interest.Int64() != 100_000 || res.Principal.Sign() != 0 {
		t.Fatalf("interest should be paid first, got interest=%s principal=%s", res.Interest, res.Principal)
	}
	view, _ := h.engine.FarmerPositions(farmer)
	if view.Principal.Int64() != 1_000_000 {
		t.Fatalf("principal touched by interest payment: %s", view.Principal)
	}

	if err := h.engine.DeactivatePledge(farmer); !errors.Is(err, ErrOutstandingDebt) {
		t.Fatalf("expected ErrOutstandingDebt, got %v", err)
	}

	rest, _ := h.engine.Outstanding(farmer)
	res, err = h.engine.Repay(farmer, rest, crypto.Address{})
	if err != nil {
		t.Fatalf("final repay: %v", err)
	}
	if res.Principal.Int64() != 1_000_000 || res.Outstanding.Sign() != 0 {
		t.Fatalf("unexpected final split %+v", res)
	}
	if _, err := h.engine.Repay(farmer, big.NewInt(1), crypto.Address{}); !errors.Is(err, ErrNoDebt) {
		t.Fatalf("expected ErrNoDebt, got %v", err)
	}
	if err := h.engine.DeactivatePledge(farmer); err != nil {
		t.Fatalf("deactivate after repay: %v", err)
	}
	if err := h.engine.DeactivatePledge(farmer); !errors.Is(err, ErrPledgeInactive) {
		t.Fatalf("expected ErrPledgeInactive, got %v", err)
	}
}

func TestConservationWithReserves(t *testing.T) {
	h := newHarness(t, Params{LTVBps: 7_000, ReserveFactorBps: 1_000, Model: flatRate(1_800)})
	h.supply(t, supplier, 10_000_000)
	h.pledge(t, coins(10), true)
	if _, err := h.engine.Borrow(farmer, big.NewInt(1_000_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	h.advance(secondsPerYear)

	snap, err := h.engine.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Reserves.Int64() != 18_000 || snap.TotalSupplied.Int64() != 10_162_000 {
		t.Fatalf("interest split wrong: reserves=%s supplied=%s", snap.Reserves, snap.TotalSupplied)
	}
	assets := new(big.Int).Add(h.ledger.balance(poolAddr), snap.TotalBorrowed)
	claims := new(big.Int).Add(snap.TotalSupplied, snap.Reserves)
	if assets.Cmp(claims) != 0 {
		t.Fatalf("assets %s != claims %s", assets, claims)
	}

	h.supply(t, second, 3_333_333)
	sum := big.NewInt(0)
	for _, who := range []crypto.Address{supplier, second} {
		v, _ := h.engine.SupplyBalance(who)
		sum.Add(sum, v)
	}
	total, _ := h.engine.TotalSupplied()
	gap := new(big.Int).Sub(total, sum)
	if gap.Sign() < 0 || gap.Int64() > 2 {
		t.Fatalf("share values %s drift from total %s", sum, total)
	}
}

func TestActivationGuards(t *testing.T) {
	h := newHarness(t, defaultParams())
	if err := h.engine.ActivatePledge(farmer); !errors.Is(err, ErrNoPledgeManager) {
		t.Fatalf("expected ErrNoPledgeManager, got %v", err)
	}
	h.pledge(t, big.NewInt(0), false)
	if err := h.engine.ActivatePledge(farmer); !errors.Is(err, ErrNoCollateral) {
		t.Fatalf("expected ErrNoCollateral, got %v", err)
	}
	h.valuation.pledges[manager] = coins(1)
	if err := h.engine.ActivatePledge(farmer); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := h.engine.ActivatePledge(farmer); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}
	if !h.valuation.active[manager]["NGN"] {
		t.Fatalf("active flag not stored under the pool id")
	}
}

func TestCheckCollateralRelease(t *testing.T) {
	h := newHarness(t, defaultParams())
	h.supply(t, supplier, 20_000_000)
	h.pledge(t, coins(10), true)
	if err := h.engine.CheckCollateralRelease(farmer, big.NewInt(0)); err != nil {
		t.Fatalf("debt-free release should pass: %v", err)
	}
	if _, err := h.engine.Borrow(farmer, big.NewInt(6_650_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if err := h.engine.CheckCollateralRelease(farmer, coins(5)); err != nil {
		t.Fatalf("release down to exactly the limit should pass: %v", err)
	}
	if err := h.engine.CheckCollateralRelease(farmer, new(big.Int).Sub(coins(5), big.NewInt(1))); !errors.Is(err, ErrWithdrawUnsafe) {
		t.Fatalf("expected ErrWithdrawUnsafe, got %v", err)
	}
}

func TestPauseBlocksWrites(t *testing.T) {
	h := newHarness(t, defaultParams())
	if err := h.state.SetPaused(nativecommon.ModuleLending, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	h.ledger.fund(supplier, 10)
	h.ledger.approve(supplier, poolAddr, 10)
	if _, err := h.engine.Supply(supplier, big.NewInt(10), crypto.Address{}); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected paused, got %v", err)
	}
	if _, err := h.engine.TotalSupplied(); err != nil {
		t.Fatalf("reads should survive a pause: %v", err)
	}
}

func TestWithdrawReserves(t *testing.T) {
	h := newHarness(t, Params{LTVBps: 7_000, ReserveFactorBps: 5_000, Model: flatRate(1_000)})
	h.supply(t, supplier, 10_000_000)
	h.pledge(t, coins(10), true)
	if _, err := h.engine.Borrow(farmer, big.NewInt(1_000_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	h.advance(secondsPerYear)
	h.ledger.fund(farmer, 100_000)
	h.ledger.approve(farmer, poolAddr, 100_000)
	if _, err := h.engine.Repay(farmer, big.NewInt(100_000), crypto.Address{}); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if err := h.engine.WithdrawReserves(stranger, stranger, big.NewInt(1)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := h.engine.WithdrawReserves(admin, admin, big.NewInt(50_001)); !errors.Is(err, ErrInsufficientReserves) {
		t.Fatalf("expected insufficient reserves, got %v", err)
	}
	if err := h.engine.WithdrawReserves(admin, admin, big.NewInt(50_000)); err != nil {
		t.Fatalf("withdraw reserves: %v", err)
	}
	if h.ledger.balance(admin).Int64() != 50_000 {
		t.Fatalf("admin not paid")
	}
}

func TestEventsCarryPoolIdentity(t *testing.T) {
	h := newHarness(t, defaultParams())
	h.supply(t, supplier, 1_000)
	drained := h.events.Drain()
	if len(drained) != 1 {
		t.Fatalf("expected one event, got %d", len(drained))
	}
	attrs := drained[0].Event().Attributes
	if attrs["currency"] != "NGN" || attrs["pool"] != poolAddr.String() || attrs["shares"] != "1000" {
		t.Fatalf("unexpected attributes %v", attrs)
	}
}
