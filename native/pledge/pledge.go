package pledge

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"mavuno/core/events"
	"mavuno/crypto"
	nativecommon "mavuno/native/common"
)

var (
	errNilState = errors.New("pledge: state not configured")

	ErrInvalidAmount      = errors.New("pledge: amount must be positive")
	ErrUnknownManager     = errors.New("pledge: unknown manager")
	ErrManagerExists      = errors.New("pledge: manager already open")
	ErrInsufficientFunds  = errors.New("pledge: insufficient native balance")
	ErrInsufficientPledge = errors.New("pledge: amount exceeds pledged balance")
)

const moduleName = nativecommon.ModulePledge

type engineState interface {
	Balance(addr crypto.Address, symbol string) (*big.Int, error)
	Transfer(symbol string, from, to crypto.Address, amount *big.Int) error
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	IndexAppend(key []byte, value []byte) error
	IndexList(key []byte) ([][]byte, error)
}

// WithdrawGuard vets a collateral release before it happens. It is consulted
// with the total that would remain in the manager after the withdrawal.
type WithdrawGuard interface {
	CheckCollateralRelease(farmer crypto.Address, remaining *big.Int) error
}

// Manager summarises one farmer's escrow.
type Manager struct {
	Address     crypto.Address `json:"address"`
	Farmer      crypto.Address `json:"farmer"`
	Total       *big.Int       `json:"total"`
	ActivePools []string       `json:"activePools"`
}

// Contribution is one pledger's share of a manager.
type Contribution struct {
	Pledger crypto.Address `json:"pledger"`
	Amount  *big.Int       `json:"amount"`
}

type storedManager struct {
	Farmer      crypto.Address
	Total       *big.Int
	ActivePools []string
}

type Engine struct {
	state   engineState
	emitter events.Emitter
	pauses  nativecommon.PauseView
	guard   WithdrawGuard
}

func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

func (e *Engine) SetState(state engineState) { e.state = state }

func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetWithdrawGuard wires the lending-side safety check. A nil guard allows
// every withdrawal the pledger's balance covers.
func (e *Engine) SetWithdrawGuard(g WithdrawGuard) { e.guard = g }

func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func managerKey(manager crypto.Address) []byte {
	return append([]byte("pledge/manager/"), manager[:]...)
}

func shareKey(manager, pledger crypto.Address) []byte {
	key := append([]byte("pledge/share/"), manager[:]...)
	return append(key, pledger[:]...)
}

func pledgersKey(manager crypto.Address) []byte {
	return append([]byte("pledge/pledgers/"), manager[:]...)
}

// memberKey marks a pledger as already present in the manager's index.
func memberKey(manager, pledger crypto.Address) []byte {
	key := append([]byte("pledge/member/"), manager[:]...)
	return append(key, pledger[:]...)
}

// indexPledger adds pledger to the manager's index the first time it holds a
// share. A pledger who withdrew to zero and returns is already indexed.
func (e *Engine) indexPledger(manager, pledger crypto.Address) error {
	var member bool
	seen, err := e.state.KVGet(memberKey(manager, pledger), &member)
	if err != nil {
		return err
	}
	if seen {
		return nil
	}
	if err := e.state.KVPut(memberKey(manager, pledger), true); err != nil {
		return err
	}
	return e.state.IndexAppend(pledgersKey(manager), pledger.Bytes())
}

func (e *Engine) load(manager crypto.Address) (*storedManager, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var record storedManager
	ok, err := e.state.KVGet(managerKey(manager), &record)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnknownManager
	}
	if record.Total == nil {
		record.Total = big.NewInt(0)
	}
	return &record, nil
}

func (e *Engine) store(manager crypto.Address, record *storedManager) error {
	return e.state.KVPut(managerKey(manager), record)
}

// Open binds a new manager to its farmer. Registration calls this once.
func (e *Engine) Open(manager, farmer crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if manager.IsZero() || farmer.IsZero() {
		return fmt.Errorf("pledge: manager and farmer required")
	}
	if _, err := e.load(manager); err == nil {
		return ErrManagerExists
	} else if !errors.Is(err, ErrUnknownManager) {
		return err
	}
	return e.store(manager, &storedManager{Farmer: farmer, Total: big.NewInt(0), ActivePools: []string{}})
}

// Deposit escrows amount of the native coin from pledger into manager.
func (e *Engine) Deposit(manager, pledger crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	record, err := e.load(manager)
	if err != nil {
		return err
	}
	balance, err := e.state.Balance(pledger, nativecommon.NativeSymbol)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	share, err := e.PledgeOf(manager, pledger)
	if err != nil {
		return err
	}
	if err := e.state.Transfer(nativecommon.NativeSymbol, pledger, manager, amount); err != nil {
		return err
	}
	if err := e.state.KVPut(shareKey(manager, pledger), new(big.Int).Add(share, amount)); err != nil {
		return err
	}
	if share.Sign() == 0 {
		if err := e.indexPledger(manager, pledger); err != nil {
			return err
		}
	}
	record.Total = new(big.Int).Add(record.Total, amount)
	if err := e.store(manager, record); err != nil {
		return err
	}
	e.emitter.Emit(events.PledgeDeposited{
		Manager: manager,
		Farmer:  record.Farmer,
		Pledger: pledger,
		Amount:  new(big.Int).Set(amount),
		Total:   new(big.Int).Set(record.Total),
	})
	return nil
}

// Withdraw returns amount to pledger after the withdraw guard approves the
// collateral that would remain.
func (e *Engine) Withdraw(manager, pledger crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	record, err := e.load(manager)
	if err != nil {
		return err
	}
	share, err := e.PledgeOf(manager, pledger)
	if err != nil {
		return err
	}
	if share.Cmp(amount) < 0 {
		return ErrInsufficientPledge
	}
	remaining := new(big.Int).Sub(record.Total, amount)
	if e.guard != nil {
		if err := e.guard.CheckCollateralRelease(record.Farmer, remaining); err != nil {
			return err
		}
	}
	if err := e.state.Transfer(nativecommon.NativeSymbol, manager, pledger, amount); err != nil {
		return err
	}
	if err := e.state.KVPut(shareKey(manager, pledger), new(big.Int).Sub(share, amount)); err != nil {
		return err
	}
	record.Total = remaining
	if err := e.store(manager, record); err != nil {
		return err
	}
	e.emitter.Emit(events.PledgeWithdrawn{
		Manager: manager,
		Farmer:  record.Farmer,
		Pledger: pledger,
		Amount:  new(big.Int).Set(amount),
		Total:   new(big.Int).Set(remaining),
	})
	return nil
}

// TotalSupply is the collateral read used by lending pools.
func (e *Engine) TotalSupply(manager crypto.Address) (*big.Int, error) {
	record, err := e.load(manager)
	if err != nil {
		return nil, err
	}
	return record.Total, nil
}

func (e *Engine) PledgeOf(manager, pledger crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	share := new(big.Int)
	ok, err := e.state.KVGet(shareKey(manager, pledger), share)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return share, nil
}

// Pledgers lists every contributor with a non-zero balance.
func (e *Engine) Pledgers(manager crypto.Address) ([]Contribution, error) {
	if _, err := e.load(manager); err != nil {
		return nil, err
	}
	raw, err := e.state.IndexList(pledgersKey(manager))
	if err != nil {
		return nil, err
	}
	out := make([]Contribution, 0, len(raw))
	for _, b := range raw {
		pledger, err := crypto.NewAddress(b)
		if err != nil {
			return nil, err
		}
		amount, err := e.PledgeOf(manager, pledger)
		if err != nil {
			return nil, err
		}
		if amount.Sign() == 0 {
			continue
		}
		out = append(out, Contribution{Pledger: pledger, Amount: amount})
	}
	return out, nil
}

func (e *Engine) Manager(manager crypto.Address) (*Manager, error) {
	record, err := e.load(manager)
	if err != nil {
		return nil, err
	}
	return &Manager{
		Address:     manager,
		Farmer:      record.Farmer,
		Total:       record.Total,
		ActivePools: append([]string{}, record.ActivePools...),
	}, nil
}

// SetActive toggles whether the manager's collateral backs loans in poolID.
func (e *Engine) SetActive(manager crypto.Address, poolID string, active bool) error {
	poolID = strings.ToUpper(strings.TrimSpace(poolID))
	if poolID == "" {
		return fmt.Errorf("pledge: pool id required")
	}
	record, err := e.load(manager)
	if err != nil {
		return err
	}
	pools := make([]string, 0, len(record.ActivePools)+1)
	for _, p := range record.ActivePools {
		if p != poolID {
			pools = append(pools, p)
		}
	}
	if active {
		pools = append(pools, poolID)
		sort.Strings(pools)
	}
	record.ActivePools = pools
	return e.store(manager, record)
}

func (e *Engine) IsActive(manager crypto.Address, poolID string) (bool, error) {
	record, err := e.load(manager)
	if err != nil {
		return false, err
	}
	poolID = strings.ToUpper(strings.TrimSpace(poolID))
	for _, p := range record.ActivePools {
		if p == poolID {
			return true, nil
		}
	}
	return false, nil
}
