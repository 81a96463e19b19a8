package factory

import (
	"errors"
	"testing"

	"mavuno/core/events"
	"mavuno/core/state"
	"mavuno/crypto"
	nativecommon "mavuno/native/common"
	"mavuno/native/fiat"
	"mavuno/native/lending"
	"mavuno/storage"
)

var admin = crypto.ModuleAddress(crypto.Address{}, "test/admin")

func newTestFactory(t *testing.T) (*Engine, *state.Manager, *events.Buffer) {
	t.Helper()
	mgr := state.NewManager(storage.NewMemDB())
	if err := mgr.SetRole(nativecommon.RoleAdmin, admin); err != nil {
		t.Fatalf("admin: %v", err)
	}
	buf := &events.Buffer{}
	tokens := func(cur fiat.Currency) Underlying {
		tok := fiat.NewToken(cur)
		tok.SetState(mgr)
		return tok
	}
	pools := func(cur fiat.Currency, addr crypto.Address) PoolInitializer {
		pool := lending.NewEngine(cur, addr)
		pool.SetState(lending.NewStore(mgr))
		return pool
	}
	f := NewEngine(lending.Params{LTVBps: 7_000, Model: lending.DefaultInterestModel})
	f.SetState(mgr)
	f.SetDeployers(tokens, pools)
	f.SetPauses(mgr)
	f.SetEmitter(buf)
	f.SetNowFunc(func() int64 { return 42 })
	return f, mgr, buf
}

func TestCreatePoolRequiresUnderlying(t *testing.T) {
	f, _, _ := newTestFactory(t)
	if _, err := f.CreatePool(admin, fiat.NGN); !errors.Is(err, ErrUnderlyingMissing) {
		t.Fatalf("expected ErrUnderlyingMissing, got %v", err)
	}
}

func TestCreatePool(t *testing.T) {
	f, mgr, buf := newTestFactory(t)
	tok := fiat.NewToken(fiat.NGN)
	tok.SetState(mgr)
	if err := tok.CreateUnderlying(admin, "Nigeria Naira", "NGN", 7_776_000); err != nil {
		t.Fatalf("underlying: %v", err)
	}

	if _, err := f.CreatePool(crypto.ModuleAddress(crypto.Address{}, "someone"), fiat.NGN); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	pool, err := f.CreatePool(admin, fiat.NGN)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	if pool != PoolAddress(fiat.NGN) {
		t.Fatalf("unexpected pool address %s", pool)
	}
	if ok, _ := tok.IsAssociated(pool); !ok {
		t.Fatalf("pool not associated with the fiat token")
	}
	if !tok.IsMinter(pool) {
		t.Fatalf("pool not granted the minter role")
	}
	market, err := lending.NewStore(mgr).GetMarket("NGN")
	if err != nil || market == nil {
		t.Fatalf("market not initialised: %v", err)
	}
	if market.Params.LTVBps != 7_000 {
		t.Fatalf("defaults not applied: %+v", market.Params)
	}

	if _, err := f.CreatePool(admin, fiat.NGN); !errors.Is(err, ErrPoolExists) {
		t.Fatalf("expected ErrPoolExists, got %v", err)
	}

	got, ok, err := f.PoolOf(fiat.NGN)
	if err != nil || !ok || got != pool {
		t.Fatalf("PoolOf: %s %v %v", got, ok, err)
	}
	if _, ok, _ := f.PoolOf(fiat.RAND); ok {
		t.Fatalf("RAND pool should not exist")
	}
	pools, err := f.Pools()
	if err != nil {
		t.Fatalf("pools: %v", err)
	}
	if len(pools) != 1 || pools[0].Currency != fiat.NGN || pools[0].CreatedAt != 42 {
		t.Fatalf("unexpected pool list %+v", pools)
	}

	var created bool
	for _, evt := range buf.Drain() {
		if evt.EventType() == events.TypeFactoryPoolCreated {
			created = true
		}
	}
	if !created {
		t.Fatalf("missing pool created event")
	}
}

func TestCreatePoolPaused(t *testing.T) {
	f, mgr, _ := newTestFactory(t)
	if err := mgr.SetPaused(nativecommon.ModuleFactory, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := f.CreatePool(admin, fiat.CEDI); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected paused, got %v", err)
	}
}
