package pledge

import (
	"errors"
	"math/big"
	"testing"

	"mavuno/core/state"
	"mavuno/crypto"
	nativecommon "mavuno/native/common"
	"mavuno/storage"
)

func addr(b byte) crypto.Address {
	var a crypto.Address
	a[0] = b
	return a
}

var (
	farmer  = addr(1)
	manager = addr(2)
	alice   = addr(3)
	bob     = addr(4)
)

type recordingGuard struct {
	remaining *big.Int
	err       error
}

func (g *recordingGuard) CheckCollateralRelease(_ crypto.Address, remaining *big.Int) error {
	g.remaining = new(big.Int).Set(remaining)
	return g.err
}

func coins(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(100_000_000))
}

func newEngine(t *testing.T) (*Engine, *state.Manager) {
	t.Helper()
	mgr := state.NewManager(storage.NewMemDB())
	if err := mgr.RegisterToken(nativecommon.NativeSymbol, "Hedera", nativecommon.NativeDecimals); err != nil {
		t.Fatalf("register native: %v", err)
	}
	for _, who := range []crypto.Address{alice, bob} {
		if err := mgr.Credit(nativecommon.NativeSymbol, who, coins(100)); err != nil {
			t.Fatalf("credit: %v", err)
		}
	}
	eng := NewEngine()
	eng.SetState(mgr)
	if err := eng.Open(manager, farmer); err != nil {
		t.Fatalf("open: %v", err)
	}
	return eng, mgr
}

func assertConserved(t *testing.T, eng *Engine, mgr *state.Manager) {
	t.Helper()
	total, err := eng.TotalSupply(manager)
	if err != nil {
		t.Fatalf("total: %v", err)
	}
	held, err := mgr.Balance(manager, nativecommon.NativeSymbol)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	sum := big.NewInt(0)
	contributions, err := eng.Pledgers(manager)
	if err != nil {
		t.Fatalf("pledgers: %v", err)
	}
	for _, c := range contributions {
		sum.Add(sum, c.Amount)
	}
	if total.Cmp(held) != 0 || total.Cmp(sum) != 0 {
		t.Fatalf("pledge accounting drifted: total=%s held=%s sum=%s", total, held, sum)
	}
}

func TestDepositAndWithdraw(t *testing.T) {
	eng, mgr := newEngine(t)
	if err := eng.Deposit(manager, alice, coins(6)); err != nil {
		t.Fatalf("deposit alice: %v", err)
	}
	if err := eng.Deposit(manager, bob, coins(4)); err != nil {
		t.Fatalf("deposit bob: %v", err)
	}
	if err := eng.Deposit(manager, alice, coins(1)); err != nil {
		t.Fatalf("top up: %v", err)
	}
	assertConserved(t, eng, mgr)

	total, _ := eng.TotalSupply(manager)
	if total.Cmp(coins(11)) != 0 {
		t.Fatalf("expected 11 coins, got %s", total)
	}
	if err := eng.Withdraw(manager, bob, coins(5)); !errors.Is(err, ErrInsufficientPledge) {
		t.Fatalf("expected insufficient pledge, got %v", err)
	}
	if err := eng.Withdraw(manager, bob, coins(4)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	assertConserved(t, eng, mgr)
	contributions, _ := eng.Pledgers(manager)
	if len(contributions) != 1 || contributions[0].Pledger != alice {
		t.Fatalf("fully withdrawn pledger still listed: %+v", contributions)
	}
	bal, _ := mgr.Balance(bob, nativecommon.NativeSymbol)
	if bal.Cmp(coins(100)) != 0 {
		t.Fatalf("bob not refunded: %s", bal)
	}
}

func TestDepositRequiresFundsAndManager(t *testing.T) {
	eng, _ := newEngine(t)
	if err := eng.Deposit(manager, alice, coins(101)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if err := eng.Deposit(addr(99), alice, coins(1)); !errors.Is(err, ErrUnknownManager) {
		t.Fatalf("expected unknown manager, got %v", err)
	}
	if err := eng.Deposit(manager, alice, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if err := eng.Open(manager, farmer); !errors.Is(err, ErrManagerExists) {
		t.Fatalf("expected manager exists, got %v", err)
	}
}

func TestWithdrawConsultsGuard(t *testing.T) {
	eng, mgr := newEngine(t)
	if err := eng.Deposit(manager, alice, coins(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	blocked := errors.New("unsafe")
	guard := &recordingGuard{err: blocked}
	eng.SetWithdrawGuard(guard)
	if err := eng.Withdraw(manager, alice, coins(3)); !errors.Is(err, blocked) {
		t.Fatalf("expected guard error, got %v", err)
	}
	if guard.remaining.Cmp(coins(7)) != 0 {
		t.Fatalf("guard saw remaining %s", guard.remaining)
	}
	assertConserved(t, eng, mgr)
	guard.err = nil
	if err := eng.Withdraw(manager, alice, coins(3)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	assertConserved(t, eng, mgr)
}

func TestActiveFlagsArePerPool(t *testing.T) {
	eng, _ := newEngine(t)
	if err := eng.SetActive(manager, "ngn", true); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := eng.SetActive(manager, "NGN", true); err != nil {
		t.Fatalf("re-activate: %v", err)
	}
	if ok, _ := eng.IsActive(manager, "NGN"); !ok {
		t.Fatalf("NGN should be active")
	}
	if ok, _ := eng.IsActive(manager, "RAND"); ok {
		t.Fatalf("RAND should be inactive")
	}
	view, err := eng.Manager(manager)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	if len(view.ActivePools) != 1 || view.Farmer != farmer {
		t.Fatalf("unexpected manager view %+v", view)
	}
	if err := eng.SetActive(manager, "NGN", false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if ok, _ := eng.IsActive(manager, "NGN"); ok {
		t.Fatalf("NGN should be inactive")
	}
}

// Each deposit writes the same number of records whether it is the first
// pledger or the two hundredth, so deposit cost does not grow with the index.
func TestDepositWorkIndependentOfPledgerCount(t *testing.T) {
	eng, mgr := newEngine(t)
	dirtyFor := func(pledger crypto.Address) int {
		t.Helper()
		if err := mgr.Credit(nativecommon.NativeSymbol, pledger, coins(1)); err != nil {
			t.Fatalf("credit: %v", err)
		}
		if err := mgr.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}
		if err := eng.Deposit(manager, pledger, coins(1)); err != nil {
			t.Fatalf("deposit: %v", err)
		}
		n := mgr.Dirty()
		if err := mgr.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}
		return n
	}
	pledgerAt := func(i int) crypto.Address {
		var a crypto.Address
		a[0], a[1], a[2] = 0xAA, byte(i), byte(i>>8)
		return a
	}
	first := dirtyFor(pledgerAt(0))
	second := dirtyFor(pledgerAt(1))
	for i := 2; i < 200; i++ {
		dirtyFor(pledgerAt(i))
	}
	last := dirtyFor(pledgerAt(200))
	if second != last || last > first {
		t.Fatalf("deposit writes grew with pledgers: first=%d second=%d last=%d", first, second, last)
	}
	contributions, err := eng.Pledgers(manager)
	if err != nil {
		t.Fatalf("pledgers: %v", err)
	}
	if len(contributions) != 201 || contributions[200].Pledger != pledgerAt(200) {
		t.Fatalf("expected 201 pledgers in deposit order, got %d", len(contributions))
	}
	assertConserved(t, eng, mgr)
}

func TestReturningPledgerIsIndexedOnce(t *testing.T) {
	eng, mgr := newEngine(t)
	if err := eng.Deposit(manager, alice, coins(2)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := eng.Withdraw(manager, alice, coins(2)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if err := eng.Deposit(manager, alice, coins(3)); err != nil {
		t.Fatalf("deposit again: %v", err)
	}
	n, err := mgr.IndexLen(pledgersKey(manager))
	if err != nil {
		t.Fatalf("index len: %v", err)
	}
	if n != 1 {
		t.Fatalf("returning pledger indexed %d times", n)
	}
	contributions, _ := eng.Pledgers(manager)
	if len(contributions) != 1 || contributions[0].Amount.Cmp(coins(3)) != 0 {
		t.Fatalf("unexpected contributions %+v", contributions)
	}
	assertConserved(t, eng, mgr)
}
