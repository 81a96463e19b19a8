package fiat

import (
	"errors"
	"math/big"
	"testing"

	"mavuno/core/events"
	"mavuno/core/state"
	"mavuno/crypto"
	nativecommon "mavuno/native/common"
	"mavuno/storage"
)

func addr(b byte) crypto.Address {
	var a crypto.Address
	a[0] = b
	a[crypto.AddressLength-1] = b
	return a
}

var (
	admin  = addr(1)
	minter = addr(2)
	alice  = addr(3)
	bob    = addr(4)
)

func newTestToken(t *testing.T) (*Token, *state.Manager, *events.Buffer) {
	t.Helper()
	mgr := state.NewManager(storage.NewMemDB())
	if err := mgr.SetRole(nativecommon.RoleAdmin, admin); err != nil {
		t.Fatalf("grant admin: %v", err)
	}
	buf := &events.Buffer{}
	tok := NewToken(NGN)
	tok.SetState(mgr)
	tok.SetPauses(mgr)
	tok.SetEmitter(buf)
	tok.SetNowFunc(func() int64 { return 1_700_000_000 })
	if err := tok.CreateUnderlying(admin, "Nigeria Naira", "NGN", 7_776_000); err != nil {
		t.Fatalf("create underlying: %v", err)
	}
	if err := tok.GrantMinter(admin, minter); err != nil {
		t.Fatalf("grant minter: %v", err)
	}
	return tok, mgr, buf
}

func TestParseCurrency(t *testing.T) {
	cases := map[string]Currency{"ngn": NGN, "GHS": CEDI, " cedi ": CEDI, "zar": RAND, "RAND": RAND}
	for input, want := range cases {
		got, err := ParseCurrency(input)
		if err != nil {
			t.Fatalf("parse %q: %v", input, err)
		}
		if got != want {
			t.Fatalf("parse %q: expected %s, got %s", input, want, got)
		}
	}
	if _, err := ParseCurrency("USD"); !errors.Is(err, ErrUnknownCurrency) {
		t.Fatalf("expected unknown currency, got %v", err)
	}
	if CEDI.Info().Symbol != "₵" || RAND.Info().Name != "South African Rand" {
		t.Fatalf("unexpected currency table")
	}
}

func TestCreateUnderlyingOnce(t *testing.T) {
	tok, mgr, buf := newTestToken(t)
	if !mgr.TokenExists("NGN") {
		t.Fatalf("underlying token not registered")
	}
	meta, err := mgr.Token("NGN")
	if err != nil || meta == nil {
		t.Fatalf("token metadata: %v", err)
	}
	if meta.MintAuthority != Address(NGN) || meta.Decimals != 2 {
		t.Fatalf("unexpected metadata %+v", meta)
	}
	if ok, _ := tok.IsAssociated(tok.Address()); !ok {
		t.Fatalf("token contract not self-associated")
	}
	if err := tok.CreateUnderlying(admin, "Nigeria Naira", "NGN", 1); !errors.Is(err, ErrUnderlyingExists) {
		t.Fatalf("expected ErrUnderlyingExists, got %v", err)
	}
	info, err := tok.Info()
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.AutoRenewSeconds != 7_776_000 || info.UnderlyingSymbol != "NGN" || info.CreatedAt != 1_700_000_000 {
		t.Fatalf("unexpected info %+v", info)
	}
	drained := buf.Drain()
	if len(drained) == 0 || drained[0].EventType() != events.TypeFiatUnderlyingCreated {
		t.Fatalf("missing underlying event")
	}
}

func TestCreateUnderlyingRequiresAdmin(t *testing.T) {
	mgr := state.NewManager(storage.NewMemDB())
	tok := NewToken(RAND)
	tok.SetState(mgr)
	if err := tok.CreateUnderlying(alice, "South African Rand", "RAND", 0); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := tok.Mint(minter, alice, big.NewInt(1)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized mint, got %v", err)
	}
	if err := mgr.SetRole(MinterRole(RAND), minter); err != nil {
		t.Fatalf("role: %v", err)
	}
	if err := tok.Mint(minter, alice, big.NewInt(1)); !errors.Is(err, ErrUnderlyingMissing) {
		t.Fatalf("expected ErrUnderlyingMissing, got %v", err)
	}
}

func TestMint(t *testing.T) {
	tok, _, _ := newTestToken(t)

	if err := tok.Mint(alice, alice, big.NewInt(10)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("borrower minted: %v", err)
	}
	if err := tok.Mint(minter, alice, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if err := tok.Mint(minter, alice, big.NewInt(100)); !errors.Is(err, ErrNotAssociated) {
		t.Fatalf("expected not associated, got %v", err)
	}
	if err := tok.Associate(alice); err != nil {
		t.Fatalf("associate: %v", err)
	}
	if err := tok.Associate(alice); err != nil {
		t.Fatalf("repeat associate should be a no-op: %v", err)
	}
	if err := tok.Mint(minter, alice, big.NewInt(123_456)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	bal, _ := tok.BalanceOf(alice)
	supply, _ := tok.TotalSupply()
	if bal.Int64() != 123_456 || supply.Int64() != 123_456 {
		t.Fatalf("unexpected balance %s supply %s", bal, supply)
	}

	huge := new(big.Int).Lsh(big.NewInt(1), 256)
	if err := tok.Mint(minter, alice, huge); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	near := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	if err := tok.Mint(minter, alice, near); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow on supply, got %v", err)
	}
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	tok, _, _ := newTestToken(t)
	for _, who := range []crypto.Address{alice, bob} {
		if err := tok.Associate(who); err != nil {
			t.Fatalf("associate: %v", err)
		}
	}
	if err := tok.Mint(minter, alice, big.NewInt(1_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := tok.TransferFrom(bob, alice, bob, big.NewInt(10)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected allowance error, got %v", err)
	}
	if err := tok.Approve(alice, bob, big.NewInt(600)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := tok.TransferFrom(bob, alice, bob, big.NewInt(400)); err != nil {
		t.Fatalf("transferFrom: %v", err)
	}
	left, _ := tok.Allowance(alice, bob)
	if left.Int64() != 200 {
		t.Fatalf("expected allowance 200, got %s", left)
	}
	if err := tok.Approve(alice, bob, big.NewInt(5_000)); err != nil {
		t.Fatalf("re-approve: %v", err)
	}
	if err := tok.TransferFrom(bob, alice, bob, big.NewInt(700)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	aliceBal, _ := tok.BalanceOf(alice)
	bobBal, _ := tok.BalanceOf(bob)
	if aliceBal.Int64() != 600 || bobBal.Int64() != 400 {
		t.Fatalf("unexpected balances alice=%s bob=%s", aliceBal, bobBal)
	}
	supply, _ := tok.TotalSupply()
	if supply.Int64() != 1_000 {
		t.Fatalf("transfers changed supply: %s", supply)
	}
}

func TestTransferRequiresAssociatedRecipient(t *testing.T) {
	tok, _, _ := newTestToken(t)
	if err := tok.Associate(alice); err != nil {
		t.Fatalf("associate: %v", err)
	}
	if err := tok.Mint(minter, alice, big.NewInt(50)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := tok.Transfer(alice, bob, big.NewInt(10)); !errors.Is(err, ErrNotAssociated) {
		t.Fatalf("expected not associated, got %v", err)
	}
}

func TestPausedTokenRejectsWrites(t *testing.T) {
	tok, mgr, _ := newTestToken(t)
	if err := mgr.SetPaused(nativecommon.ModuleFiat, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := tok.Associate(alice); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected paused, got %v", err)
	}
}
