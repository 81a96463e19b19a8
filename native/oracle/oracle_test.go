package oracle

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

func TestSetRateAndRead(t *testing.T) {
	mgr := state.NewManager(storage.NewMemDB())
	var admin, stranger crypto.Address
	admin[0], stranger[0] = 1, 2
	if err := mgr.SetRole(nativecommon.RoleOracleAdmin, admin); err != nil {
		t.Fatalf("role: %v", err)
	}
	buf := &events.Buffer{}
	eng := NewEngine()
	eng.SetState(mgr)
	eng.SetEmitter(buf)
	eng.SetNowFunc(func() int64 { return 42 })

	if _, err := eng.Rate(fiat.NGN); !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("expected price unavailable, got %v", err)
	}
	if err := eng.SetRate(stranger, fiat.NGN, big.NewInt(1)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := eng.SetRate(admin, fiat.NGN, big.NewInt(0)); !errors.Is(err, ErrInvalidRate) {
		t.Fatalf("expected invalid rate, got %v", err)
	}
	if err := eng.SetRate(admin, fiat.NGN, big.NewInt(1_900_000)); err != nil {
		t.Fatalf("set rate: %v", err)
	}
	if err := eng.SetRate(admin, fiat.NGN, big.NewInt(193_700)); err != nil {
		t.Fatalf("overwrite rate: %v", err)
	}
	quote, err := eng.Quote(fiat.NGN)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.Rate.Int64() != 193_700 || quote.UpdatedAt != 42 || quote.UpdatedBy != admin {
		t.Fatalf("unexpected quote %+v", quote)
	}
	if _, err := eng.Rate(fiat.CEDI); !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("rates leaked across currencies: %v", err)
	}
	if got := len(buf.Drain()); got != 2 {
		t.Fatalf("expected 2 rate events, got %d", got)
	}
}
