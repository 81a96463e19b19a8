package factory

import (
	"errors"
	"fmt"
	"time"

	"mavuno/core/events"
	"mavuno/crypto"
	nativecommon "mavuno/native/common"
	"mavuno/native/fiat"
	"mavuno/native/lending"
)

var (
	errNilState = errors.New("factory: state not configured")

	ErrUnauthorized      = errors.New("factory: unauthorized")
	ErrPoolExists        = errors.New("factory: pool already exists for currency")
	ErrUnderlyingMissing = fiat.ErrUnderlyingMissing
)

const moduleName = nativecommon.ModuleFactory

// Address is the factory's own ledger address. Pool addresses derive from it.
var Address = crypto.ModuleAddress(crypto.Address{}, "mavuno/factory")

// PoolAddress returns the deterministic address of the pool for cur.
func PoolAddress(cur fiat.Currency) crypto.Address {
	return crypto.ModuleAddress(Address, "pool/"+cur.String())
}

type engineState interface {
	HasRole(role string, addr crypto.Address) bool
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

// Underlying is the slice of the fiat token a new pool needs.
type Underlying interface {
	Info() (*fiat.Info, error)
	Associate(account crypto.Address) error
	GrantMinter(caller, account crypto.Address) error
}

// PoolInitializer creates the empty market of a freshly deployed pool.
type PoolInitializer interface {
	Init(params lending.Params) error
}

// Pool is the registry entry of a deployed pool.
type Pool struct {
	Currency  fiat.Currency  `json:"currency"`
	Address   crypto.Address `json:"address"`
	Creator   crypto.Address `json:"creator"`
	CreatedAt int64          `json:"createdAt"`
}

type storedPool struct {
	Address   crypto.Address
	Creator   crypto.Address
	CreatedAt uint64
}

type Engine struct {
	state    engineState
	tokens   func(fiat.Currency) Underlying
	pools    func(fiat.Currency, crypto.Address) PoolInitializer
	defaults lending.Params
	emitter  events.Emitter
	pauses   nativecommon.PauseView
	nowFn    func() int64
}

// NewEngine returns a factory that deploys pools with the given parameters.
func NewEngine(defaults lending.Params) *Engine {
	return &Engine{
		defaults: defaults,
		emitter:  events.NoopEmitter{},
		nowFn:    func() int64 { return time.Now().Unix() },
	}
}

func (e *Engine) SetState(state engineState) { e.state = state }

// SetDeployers supplies constructors for the token and pool engines bound to
// the current transaction.
func (e *Engine) SetDeployers(tokens func(fiat.Currency) Underlying, pools func(fiat.Currency, crypto.Address) PoolInitializer) {
	e.tokens = tokens
	e.pools = pools
}

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

func poolKey(cur fiat.Currency) []byte { return []byte("factory/pool/" + cur.String()) }

func poolListKey() []byte { return []byte("factory/pools") }

func (e *Engine) load(cur fiat.Currency) (*storedPool, error) {
	var record storedPool
	ok, err := e.state.KVGet(poolKey(cur), &record)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &record, nil
}

// CreatePool deploys the lending pool for cur. The fiat underlying must
// exist, and at most one pool exists per currency.
func (e *Engine) CreatePool(caller crypto.Address, cur fiat.Currency) (crypto.Address, error) {
	if e == nil || e.state == nil {
		return crypto.Address{}, errNilState
	}
	if e.tokens == nil || e.pools == nil {
		return crypto.Address{}, fmt.Errorf("factory: deployers not configured")
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return crypto.Address{}, err
	}
	if !e.state.HasRole(nativecommon.RoleAdmin, caller) {
		return crypto.Address{}, ErrUnauthorized
	}
	if !cur.Valid() {
		return crypto.Address{}, fiat.ErrUnknownCurrency
	}
	existing, err := e.load(cur)
	if err != nil {
		return crypto.Address{}, err
	}
	if existing != nil {
		return crypto.Address{}, ErrPoolExists
	}
	token := e.tokens(cur)
	if _, err := token.Info(); err != nil {
		return crypto.Address{}, err
	}

	pool := PoolAddress(cur)
	if err := token.Associate(pool); err != nil {
		return crypto.Address{}, fmt.Errorf("factory: associate pool: %w", err)
	}
	if err := token.GrantMinter(caller, pool); err != nil {
		return crypto.Address{}, fmt.Errorf("factory: grant minter: %w", err)
	}
	if err := e.pools(cur, pool).Init(e.defaults); err != nil {
		return crypto.Address{}, fmt.Errorf("factory: init pool: %w", err)
	}
	now := e.nowFn()
	if now < 0 {
		now = 0
	}
	if err := e.state.KVPut(poolKey(cur), &storedPool{Address: pool, Creator: caller, CreatedAt: uint64(now)}); err != nil {
		return crypto.Address{}, err
	}
	if err := e.state.KVAppend(poolListKey(), []byte(cur.String())); err != nil {
		return crypto.Address{}, err
	}
	e.emitter.Emit(events.FactoryPoolCreated{
		Currency: cur.String(),
		Pool:     pool,
		Creator:  caller,
	})
	return pool, nil
}

// PoolOf returns the pool address for cur, or false when none was deployed.
func (e *Engine) PoolOf(cur fiat.Currency) (crypto.Address, bool, error) {
	if e == nil || e.state == nil {
		return crypto.Address{}, false, errNilState
	}
	record, err := e.load(cur)
	if err != nil || record == nil {
		return crypto.Address{}, false, err
	}
	return record.Address, true, nil
}

// Pools lists deployed pools in creation order.
func (e *Engine) Pools() ([]Pool, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var codes [][]byte
	if err := e.state.KVGetList(poolListKey(), &codes); err != nil {
		return nil, err
	}
	out := make([]Pool, 0, len(codes))
	for _, code := range codes {
		cur, err := fiat.ParseCurrency(string(code))
		if err != nil {
			return nil, err
		}
		record, err := e.load(cur)
		if err != nil {
			return nil, err
		}
		if record == nil {
			continue
		}
		out = append(out, Pool{
			Currency:  cur,
			Address:   record.Address,
			Creator:   record.Creator,
			CreatedAt: int64(record.CreatedAt),
		})
	}
	return out, nil
}
