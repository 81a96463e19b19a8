package oracle

import (
	"errors"
	"math/big"
	"time"

	"mavuno/core/events"
	"mavuno/crypto"
	nativecommon "mavuno/native/common"
	"mavuno/native/fiat"
)

var (
	errNilState = errors.New("oracle: state not configured")

	ErrUnauthorized     = errors.New("oracle: unauthorized")
	ErrInvalidRate      = errors.New("oracle: rate must be positive")
	ErrPriceUnavailable = nativecommon.ErrPriceUnavailable
)

const moduleName = nativecommon.ModuleOracle

// Address is the ledger address of the shared price oracle.
var Address = crypto.ModuleAddress(crypto.Address{}, "mavuno/oracle")

type engineState interface {
	HasRole(role string, addr crypto.Address) bool
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Quote is the latest admin-set sample for a currency. Rate is expressed in
// fiat minor units per whole native coin.
type Quote struct {
	Currency  fiat.Currency  `json:"currency"`
	Rate      *big.Int       `json:"rate"`
	UpdatedAt int64          `json:"updatedAt"`
	UpdatedBy crypto.Address `json:"updatedBy"`
}

type storedQuote struct {
	Rate      *big.Int
	UpdatedAt uint64
	UpdatedBy crypto.Address
}

// Engine stores one point sample per currency. No history is retained.
type Engine struct {
	state   engineState
	emitter events.Emitter
	pauses  nativecommon.PauseView
	nowFn   func() int64
}

func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

func (e *Engine) SetState(state engineState) { e.state = state }

func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	e.nowFn = now
}

func rateKey(cur fiat.Currency) []byte {
	return []byte("oracle/rate/" + cur.String())
}

// SetRate overwrites the rate for cur. Only ORACLE_ADMIN members may call it.
func (e *Engine) SetRate(caller crypto.Address, cur fiat.Currency, rate *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if !e.state.HasRole(nativecommon.RoleOracleAdmin, caller) {
		return ErrUnauthorized
	}
	if !cur.Valid() {
		return fiat.ErrUnknownCurrency
	}
	if rate == nil || rate.Sign() <= 0 {
		return ErrInvalidRate
	}
	now := e.nowFn()
	record := storedQuote{Rate: new(big.Int).Set(rate), UpdatedAt: uint64(now), UpdatedBy: caller}
	if err := e.state.KVPut(rateKey(cur), &record); err != nil {
		return err
	}
	e.emitter.Emit(events.OracleRateUpdated{
		Currency:  cur.String(),
		Rate:      new(big.Int).Set(rate),
		UpdatedBy: caller,
		UpdatedAt: now,
	})
	return nil
}

// Rate returns the latest rate for cur, or ErrPriceUnavailable when none has
// been set. A zero price is never returned.
func (e *Engine) Rate(cur fiat.Currency) (*big.Int, error) {
	quote, err := e.Quote(cur)
	if err != nil {
		return nil, err
	}
	return quote.Rate, nil
}

func (e *Engine) Quote(cur fiat.Currency) (*Quote, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if !cur.Valid() {
		return nil, fiat.ErrUnknownCurrency
	}
	var record storedQuote
	ok, err := e.state.KVGet(rateKey(cur), &record)
	if err != nil {
		return nil, err
	}
	if !ok || record.Rate == nil || record.Rate.Sign() <= 0 {
		return nil, ErrPriceUnavailable
	}
	return &Quote{
		Currency:  cur,
		Rate:      record.Rate,
		UpdatedAt: int64(record.UpdatedAt),
		UpdatedBy: record.UpdatedBy,
	}, nil
}
