package core

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"mavuno/core/events"
	ledgerstate "mavuno/core/state"
	"mavuno/crypto"
	nativecommon "mavuno/native/common"
	"mavuno/native/factory"
	"mavuno/native/fiat"
	"mavuno/native/lending"
	"mavuno/native/oracle"
	"mavuno/native/pledge"
	"mavuno/native/registry"
	"mavuno/storage"
)

var (
	ErrUnauthorized        = errors.New("core: unauthorized")
	ErrUnknownModule       = errors.New("core: unknown module")
	ErrPoolNotFound        = errors.New("core: no pool for currency")
	ErrFarmerNotRegistered = errors.New("core: farmer not registered")
)

// OpObserver receives the outcome of every ledger operation.
type OpObserver func(module, op string, elapsed time.Duration, err error)

// Node is the single writer of the ledger. Every mutating call runs as one
// transaction over a journaled state overlay that commits atomically or not
// at all; events are released only after commit.
type Node struct {
	db       storage.Database
	stateMu  sync.Mutex
	emitter  events.Emitter
	nowFn    func() int64
	defaults lending.Params
	observe  OpObserver
	logger   *slog.Logger
}

// NewNode opens a ledger over db. Pools created later use defaults.
func NewNode(db storage.Database, defaults lending.Params) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("core: database must not be nil")
	}
	if err := lending.ValidateParams(defaults); err != nil {
		return nil, err
	}
	return &Node{
		db:       db,
		emitter:  events.NoopEmitter{},
		nowFn:    func() int64 { return time.Now().Unix() },
		defaults: defaults,
		logger:   slog.Default(),
	}, nil
}

// SetEmitter configures where committed events go. Passing nil discards them.
// Emitters run while the writer lock is held and must not call back into the
// node.
func (n *Node) SetEmitter(emitter events.Emitter) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	n.emitter = emitter
}

func (n *Node) SetNowFunc(now func() int64) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	n.nowFn = now
}

func (n *Node) SetObserver(observe OpObserver) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	n.observe = observe
}

func (n *Node) SetLogger(logger *slog.Logger) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	if logger == nil {
		logger = slog.Default()
	}
	n.logger = logger
}

// LendingDefaults are the parameters new pools are created with.
func (n *Node) LendingDefaults() lending.Params { return n.defaults }

// execute runs fn as one ledger transaction.
func (n *Node) execute(module, op string, fn func(tx *txn) error) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	start := time.Now()
	tx := n.begin()
	err := fn(tx)
	if err != nil {
		tx.state.Discard()
	} else if err = tx.state.Commit(); err != nil {
		err = fmt.Errorf("core: commit %s.%s: %w", module, op, err)
	}
	if n.observe != nil {
		n.observe(module, op, time.Since(start), err)
	}
	if err != nil {
		n.logger.Debug("ledger operation rejected", "module", module, "op", op, "error", err)
		return err
	}
	for _, evt := range tx.events.Drain() {
		n.emitter.Emit(evt)
	}
	return nil
}

// view runs fn against a read-only overlay.
func (n *Node) view(fn func(tx *txn) error) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	tx := n.begin()
	defer tx.state.Discard()
	return fn(tx)
}

// txn binds the module engines to one state overlay. Engines are built on
// first use so that cross-module reads share the overlay.
type txn struct {
	node   *Node
	state  *ledgerstate.Manager
	events *events.Buffer

	tokens   map[fiat.Currency]*fiat.Token
	pools    map[fiat.Currency]*lending.Engine
	prices   *oracle.Engine
	farmers  *registry.Engine
	pledges  *pledge.Engine
	deployer *factory.Engine
}

func (n *Node) begin() *txn {
	return &txn{
		node:   n,
		state:  ledgerstate.NewManager(n.db),
		events: &events.Buffer{},
		tokens: make(map[fiat.Currency]*fiat.Token),
		pools:  make(map[fiat.Currency]*lending.Engine),
	}
}

func (t *txn) token(cur fiat.Currency) *fiat.Token {
	if tok, ok := t.tokens[cur]; ok {
		return tok
	}
	tok := fiat.NewToken(cur)
	tok.SetState(t.state)
	tok.SetPauses(t.state)
	tok.SetEmitter(t.events)
	tok.SetNowFunc(t.node.nowFn)
	t.tokens[cur] = tok
	return tok
}

func (t *txn) oracle() *oracle.Engine {
	if t.prices == nil {
		t.prices = oracle.NewEngine()
		t.prices.SetState(t.state)
		t.prices.SetPauses(t.state)
		t.prices.SetEmitter(t.events)
		t.prices.SetNowFunc(t.node.nowFn)
	}
	return t.prices
}

func (t *txn) registry() *registry.Engine {
	if t.farmers == nil {
		t.farmers = registry.NewEngine()
		t.farmers.SetState(t.state)
		t.farmers.SetPauses(t.state)
		t.farmers.SetEmitter(t.events)
		t.farmers.SetNowFunc(t.node.nowFn)
	}
	return t.farmers
}

func (t *txn) pledge() *pledge.Engine {
	if t.pledges == nil {
		t.pledges = pledge.NewEngine()
		t.pledges.SetState(t.state)
		t.pledges.SetPauses(t.state)
		t.pledges.SetEmitter(t.events)
		t.pledges.SetWithdrawGuard(collateralGuard{tx: t})
	}
	return t.pledges
}

func (t *txn) factory() *factory.Engine {
	if t.deployer == nil {
		t.deployer = factory.NewEngine(t.node.defaults)
		t.deployer.SetState(t.state)
		t.deployer.SetPauses(t.state)
		t.deployer.SetEmitter(t.events)
		t.deployer.SetNowFunc(t.node.nowFn)
		t.deployer.SetDeployers(
			func(cur fiat.Currency) factory.Underlying { return t.token(cur) },
			func(cur fiat.Currency, addr crypto.Address) factory.PoolInitializer { return t.bindPool(cur, addr) },
		)
	}
	return t.deployer
}

func (t *txn) bindPool(cur fiat.Currency, addr crypto.Address) *lending.Engine {
	if pool, ok := t.pools[cur]; ok && pool.Address() == addr {
		return pool
	}
	pool := lending.NewEngine(cur, addr)
	pool.SetState(lending.NewStore(t.state))
	pool.SetFiatLedger(t.token(cur))
	pool.SetPriceFeed(t.oracle())
	pool.SetPledgeValuation(pledgeValuation{farmers: t.registry(), pledges: t.pledge()})
	pool.SetPauses(t.state)
	pool.SetEmitter(t.events)
	pool.SetNowFunc(t.node.nowFn)
	t.pools[cur] = pool
	return pool
}

// pool resolves the deployed pool for cur.
func (t *txn) pool(cur fiat.Currency) (*lending.Engine, error) {
	if pool, ok := t.pools[cur]; ok {
		return pool, nil
	}
	addr, ok, err := t.factory().PoolOf(cur)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, cur)
	}
	return t.bindPool(cur, addr), nil
}

func (t *txn) managerOf(farmer crypto.Address) (crypto.Address, error) {
	manager, err := t.registry().ManagerOf(farmer)
	if err != nil {
		return crypto.Address{}, err
	}
	if manager.IsZero() {
		return crypto.Address{}, ErrFarmerNotRegistered
	}
	return manager, nil
}

// pledgeValuation joins the registry and the pledge managers into the
// collateral view a pool consumes.
type pledgeValuation struct {
	farmers *registry.Engine
	pledges *pledge.Engine
}

func (v pledgeValuation) ManagerOf(farmer crypto.Address) (crypto.Address, error) {
	return v.farmers.ManagerOf(farmer)
}

func (v pledgeValuation) TotalSupply(manager crypto.Address) (*big.Int, error) {
	return v.pledges.TotalSupply(manager)
}

func (v pledgeValuation) IsActive(manager crypto.Address, poolID string) (bool, error) {
	return v.pledges.IsActive(manager, poolID)
}

func (v pledgeValuation) SetActive(manager crypto.Address, poolID string, active bool) error {
	return v.pledges.SetActive(manager, poolID, active)
}

// collateralGuard vets a pledge withdrawal against every pool the farmer has
// activated. The loop is bounded by the currency table.
type collateralGuard struct {
	tx *txn
}

func (g collateralGuard) CheckCollateralRelease(farmer crypto.Address, remaining *big.Int) error {
	manager, err := g.tx.registry().ManagerOf(farmer)
	if err != nil || manager.IsZero() {
		return err
	}
	record, err := g.tx.pledge().Manager(manager)
	if err != nil {
		return err
	}
	for _, poolID := range record.ActivePools {
		cur, err := fiat.ParseCurrency(poolID)
		if err != nil {
			return err
		}
		pool, err := g.tx.pool(cur)
		if err != nil {
			return err
		}
		if err := pool.CheckCollateralRelease(farmer, remaining); err != nil {
			return fmt.Errorf("%s pool: %w", cur, err)
		}
	}
	return nil
}

// --- Fiat ---

func (n *Node) CreateUnderlying(caller crypto.Address, cur fiat.Currency, name, symbol string, autoRenewSeconds uint64) error {
	return n.execute(nativecommon.ModuleFiat, "create_underlying", func(tx *txn) error {
		return tx.token(cur).CreateUnderlying(caller, name, symbol, autoRenewSeconds)
	})
}

func (n *Node) GrantMinter(caller crypto.Address, cur fiat.Currency, account crypto.Address) error {
	return n.execute(nativecommon.ModuleFiat, "grant_minter", func(tx *txn) error {
		return tx.token(cur).GrantMinter(caller, account)
	})
}

func (n *Node) Mint(caller crypto.Address, cur fiat.Currency, to crypto.Address, amount *big.Int) error {
	return n.execute(nativecommon.ModuleFiat, "mint", func(tx *txn) error {
		return tx.token(cur).Mint(caller, to, amount)
	})
}

func (n *Node) Associate(cur fiat.Currency, account crypto.Address) error {
	return n.execute(nativecommon.ModuleFiat, "associate", func(tx *txn) error {
		return tx.token(cur).Associate(account)
	})
}

func (n *Node) Approve(cur fiat.Currency, owner, spender crypto.Address, amount *big.Int) error {
	return n.execute(nativecommon.ModuleFiat, "approve", func(tx *txn) error {
		return tx.token(cur).Approve(owner, spender, amount)
	})
}

func (n *Node) TransferFiat(cur fiat.Currency, from, to crypto.Address, amount *big.Int) error {
	return n.execute(nativecommon.ModuleFiat, "transfer", func(tx *txn) error {
		return tx.token(cur).Transfer(from, to, amount)
	})
}

// --- Oracle ---

func (n *Node) SetRate(caller crypto.Address, cur fiat.Currency, rate *big.Int) error {
	return n.execute(nativecommon.ModuleOracle, "set_rate", func(tx *txn) error {
		return tx.oracle().SetRate(caller, cur, rate)
	})
}

// --- Registry ---

// RegisterFarmer records the farmer and opens their pledge manager in the
// same transaction.
func (n *Node) RegisterFarmer(farmer crypto.Address, profile registry.Profile) (crypto.Address, error) {
	var manager crypto.Address
	err := n.execute(nativecommon.ModuleRegistry, "register", func(tx *txn) error {
		var err error
		if manager, err = tx.registry().Register(farmer, profile); err != nil {
			return err
		}
		return tx.pledge().Open(manager, farmer)
	})
	return manager, err
}

func (n *Node) VerifyFarmer(caller, farmer crypto.Address) error {
	return n.execute(nativecommon.ModuleRegistry, "verify", func(tx *txn) error {
		return tx.registry().Verify(caller, farmer)
	})
}

// --- Pledge ---

// Pledge escrows amount of the native coin from pledger for farmer.
func (n *Node) Pledge(pledger, farmer crypto.Address, amount *big.Int) error {
	return n.execute(nativecommon.ModulePledge, "deposit", func(tx *txn) error {
		manager, err := tx.managerOf(farmer)
		if err != nil {
			return err
		}
		return tx.pledge().Deposit(manager, pledger, amount)
	})
}

// Unpledge returns part of pledger's contribution, subject to the collateral
// check of every pool the farmer borrows from.
func (n *Node) Unpledge(pledger, farmer crypto.Address, amount *big.Int) error {
	return n.execute(nativecommon.ModulePledge, "withdraw", func(tx *txn) error {
		manager, err := tx.managerOf(farmer)
		if err != nil {
			return err
		}
		return tx.pledge().Withdraw(manager, pledger, amount)
	})
}

// --- Factory ---

func (n *Node) CreatePool(caller crypto.Address, cur fiat.Currency) (crypto.Address, error) {
	var pool crypto.Address
	err := n.execute(nativecommon.ModuleFactory, "create_pool", func(tx *txn) error {
		var err error
		pool, err = tx.factory().CreatePool(caller, cur)
		return err
	})
	return pool, err
}

// --- Lending ---

func (n *Node) Supply(caller crypto.Address, cur fiat.Currency, amount *big.Int, onBehalfOf crypto.Address) (*big.Int, error) {
	var shares *big.Int
	err := n.execute(nativecommon.ModuleLending, "supply", func(tx *txn) error {
		pool, err := tx.pool(cur)
		if err != nil {
			return err
		}
		shares, err = pool.Supply(caller, amount, onBehalfOf)
		return err
	})
	return shares, err
}

func (n *Node) Withdraw(caller crypto.Address, cur fiat.Currency, amount *big.Int) (*big.Int, error) {
	var burned *big.Int
	err := n.execute(nativecommon.ModuleLending, "withdraw", func(tx *txn) error {
		pool, err := tx.pool(cur)
		if err != nil {
			return err
		}
		burned, err = pool.Withdraw(caller, amount)
		return err
	})
	return burned, err
}

// Borrow lends to farmer and updates the registry's lifetime counters in the
// same transaction.
func (n *Node) Borrow(farmer crypto.Address, cur fiat.Currency, amount *big.Int) (*big.Int, error) {
	var outstanding *big.Int
	err := n.execute(nativecommon.ModuleLending, "borrow", func(tx *txn) error {
		pool, err := tx.pool(cur)
		if err != nil {
			return err
		}
		if outstanding, err = pool.Borrow(farmer, amount); err != nil {
			return err
		}
		return tx.registry().RecordBorrow(farmer, cur, amount)
	})
	return outstanding, err
}

func (n *Node) Repay(caller crypto.Address, cur fiat.Currency, amount *big.Int, onBehalfOf crypto.Address) (*lending.RepayResult, error) {
	var result *lending.RepayResult
	err := n.execute(nativecommon.ModuleLending, "repay", func(tx *txn) error {
		pool, err := tx.pool(cur)
		if err != nil {
			return err
		}
		if result, err = pool.Repay(caller, amount, onBehalfOf); err != nil {
			return err
		}
		borrower := onBehalfOf
		if borrower.IsZero() {
			borrower = caller
		}
		return tx.registry().RecordRepay(borrower, cur, amount)
	})
	return result, err
}

func (n *Node) ActivatePledge(farmer crypto.Address, cur fiat.Currency) error {
	return n.execute(nativecommon.ModuleLending, "activate_pledge", func(tx *txn) error {
		pool, err := tx.pool(cur)
		if err != nil {
			return err
		}
		return pool.ActivatePledge(farmer)
	})
}

func (n *Node) DeactivatePledge(farmer crypto.Address, cur fiat.Currency) error {
	return n.execute(nativecommon.ModuleLending, "deactivate_pledge", func(tx *txn) error {
		pool, err := tx.pool(cur)
		if err != nil {
			return err
		}
		return pool.DeactivatePledge(farmer)
	})
}

func (n *Node) WithdrawReserves(caller crypto.Address, cur fiat.Currency, to crypto.Address, amount *big.Int) error {
	return n.execute(nativecommon.ModuleLending, "withdraw_reserves", func(tx *txn) error {
		pool, err := tx.pool(cur)
		if err != nil {
			return err
		}
		return pool.WithdrawReserves(caller, to, amount)
	})
}

// --- Administration ---

// SetModulePaused flips a module's pause switch. Admin only; works while the
// module is paused.
func (n *Node) SetModulePaused(caller crypto.Address, module string, paused bool) error {
	return n.execute("admin", "pause", func(tx *txn) error {
		if !nativecommon.KnownModule(module) {
			return fmt.Errorf("%w: %q", ErrUnknownModule, module)
		}
		if !tx.state.HasRole(nativecommon.RoleAdmin, caller) {
			return ErrUnauthorized
		}
		if err := tx.state.SetPaused(module, paused); err != nil {
			return err
		}
		tx.events.Emit(events.ModulePaused{Module: module, Paused: paused, By: caller})
		return nil
	})
}

func (n *Node) IsPaused(module string) bool {
	var paused bool
	_ = n.view(func(tx *txn) error {
		paused = tx.state.IsPaused(module)
		return nil
	})
	return paused
}

func (n *Node) HasRole(role string, addr crypto.Address) bool {
	var ok bool
	_ = n.view(func(tx *txn) error {
		ok = tx.state.HasRole(role, addr)
		return nil
	})
	return ok
}
