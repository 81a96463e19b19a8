package events

import (
	"math/big"
	"testing"

	"mavuno/crypto"
)

func TestBufferDrainPreservesOrder(t *testing.T) {
	var buf Buffer
	buf.Emit(FiatMinted{Currency: "ngn", Amount: big.NewInt(5)})
	buf.Emit(nil)
	buf.Emit(LendingBorrowed{Currency: "NGN", Amount: big.NewInt(3)})

	drained := buf.Drain()
	if len(drained) != 2 {
		t.Fatalf("expected 2 events, got %d", len(drained))
	}
	if drained[0].EventType() != TypeFiatMinted || drained[1].EventType() != TypeLendingBorrowed {
		t.Fatalf("unexpected order: %s, %s", drained[0].EventType(), drained[1].EventType())
	}
	if len(buf.Drain()) != 0 {
		t.Fatalf("drain did not reset the buffer")
	}
}

type countingEmitter struct{ n int }

func (c *countingEmitter) Emit(Event) { c.n++ }

func TestFanoutDeliversToEveryEmitter(t *testing.T) {
	a, b := &countingEmitter{}, &countingEmitter{}
	fan := Fanout{a, nil, b}
	fan.Emit(ModulePaused{Module: "lending", Paused: true})
	if a.n != 1 || b.n != 1 {
		t.Fatalf("fanout delivered a=%d b=%d", a.n, b.n)
	}
}

func TestRepaidAttributes(t *testing.T) {
	var farmer crypto.Address
	farmer[0] = 9
	evt := LendingRepaid{
		Currency:  " ngn ",
		Farmer:    farmer,
		Amount:    big.NewInt(150),
		Interest:  big.NewInt(50),
		Principal: big.NewInt(100),
	}.Event()
	if evt.Type != TypeLendingRepaid {
		t.Fatalf("unexpected type %s", evt.Type)
	}
	attrs := evt.Attributes
	if attrs["currency"] != "NGN" {
		t.Fatalf("currency not normalised: %q", attrs["currency"])
	}
	if attrs["interest"] != "50" || attrs["principal"] != "100" {
		t.Fatalf("unexpected split %s/%s", attrs["interest"], attrs["principal"])
	}
	if attrs["outstanding"] != "0" {
		t.Fatalf("nil amount should render as 0, got %q", attrs["outstanding"])
	}
	if attrs["farmer"] != farmer.String() {
		t.Fatalf("farmer mismatch")
	}
	if attrs["pool"] != "" {
		t.Fatalf("zero pool should render empty, got %q", attrs["pool"])
	}
}

func TestEmitterFuncSkipsNil(t *testing.T) {
	var seen []string
	fn := EmitterFunc(func(evt Event) { seen = append(seen, evt.EventType()) })
	fn.Emit(nil)
	fn.Emit(FarmerVerified{})
	if len(seen) != 1 || seen[0] != TypeFarmerVerified {
		t.Fatalf("unexpected deliveries: %v", seen)
	}
	var empty EmitterFunc
	empty.Emit(FarmerVerified{})
}
