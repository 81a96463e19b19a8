package lending

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/holiman/uint256"

	"mavuno/core/events"
	"mavuno/crypto"
	nativecommon "mavuno/native/common"
	"mavuno/native/fiat"
)

var (
	errNilState         = errors.New("lending engine: state not configured")
	errNilCollaborators = errors.New("lending engine: collaborators not configured")

	ErrPoolNotInitialized     = errors.New("lending engine: pool not initialised")
	ErrPoolInitialized        = errors.New("lending engine: pool already initialised")
	ErrUnauthorized           = errors.New("lending engine: unauthorized")
	ErrInvalidAmount          = errors.New("lending engine: amount must be positive")
	ErrAmountTooSmall         = errors.New("lending engine: amount too small to mint shares")
	ErrInsufficientBalance    = errors.New("lending engine: insufficient balance")
	ErrInsufficientLiquidity  = errors.New("lending engine: insufficient liquidity")
	ErrInsufficientCollateral = errors.New("lending engine: amount exceeds borrowable")
	ErrInsufficientReserves   = errors.New("lending engine: amount exceeds reserves")
	ErrPledgeInactive         = errors.New("lending engine: pledge not active")
	ErrAlreadyActive          = errors.New("lending engine: pledge already active")
	ErrNoPledgeManager        = errors.New("lending engine: farmer has no pledge manager")
	ErrNoCollateral           = errors.New("lending engine: pledge manager holds no collateral")
	ErrOutstandingDebt        = errors.New("lending engine: outstanding debt must be repaid first")
	ErrNoDebt                 = errors.New("lending engine: no outstanding debt to repay")
	ErrRepayExceedsDebt       = errors.New("lending engine: repay amount exceeds outstanding debt")
	ErrWithdrawUnsafe         = errors.New("lending engine: collateral release would exceed loan-to-value")
	ErrInvalidParams          = errors.New("lending engine: invalid pool parameters")

	ErrPriceUnavailable = nativecommon.ErrPriceUnavailable
)

const moduleName = nativecommon.ModuleLending

// InfiniteHealthFactor is reported when a farmer carries no debt.
var InfiniteHealthFactor = new(uint256.Int).SetAllOne().ToBig()

type engineState interface {
	GetMarket(poolID string) (*Market, error)
	PutMarket(poolID string, market *Market) error
	GetPosition(poolID string, farmer crypto.Address) (*Position, error)
	PutPosition(poolID string, farmer crypto.Address, position *Position) error
	GetShares(poolID string, account crypto.Address) (*big.Int, error)
	PutShares(poolID string, account crypto.Address, shares *big.Int) error
	HasRole(role string, addr crypto.Address) bool
}

// FiatLedger moves the pool's currency.
type FiatLedger interface {
	TransferFrom(spender, from, to crypto.Address, amount *big.Int) error
	Transfer(from, to crypto.Address, amount *big.Int) error
	BalanceOf(account crypto.Address) (*big.Int, error)
}

// PriceFeed quotes fiat minor units per whole native coin.
type PriceFeed interface {
	Rate(cur fiat.Currency) (*big.Int, error)
}

// PledgeValuation exposes the farmer's collateral and the per-pool active flag.
type PledgeValuation interface {
	ManagerOf(farmer crypto.Address) (crypto.Address, error)
	TotalSupply(manager crypto.Address) (*big.Int, error)
	IsActive(manager crypto.Address, poolID string) (bool, error)
	SetActive(manager crypto.Address, poolID string, active bool) error
}

// Engine is the accounting core of one currency's lending pool.
type Engine struct {
	currency  fiat.Currency
	address   crypto.Address
	state     engineState
	ledger    FiatLedger
	prices    PriceFeed
	valuation PledgeValuation
	emitter   events.Emitter
	pauses    nativecommon.PauseView
	nowFn     func() int64
}

// NewEngine constructs the pool engine for cur held at address.
func NewEngine(cur fiat.Currency, address crypto.Address) *Engine {
	return &Engine{
		currency: cur,
		address:  address,
		emitter:  events.NoopEmitter{},
		nowFn:    func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

func (e *Engine) SetFiatLedger(l FiatLedger) { e.ledger = l }

func (e *Engine) SetPriceFeed(p PriceFeed) { e.prices = p }

func (e *Engine) SetPledgeValuation(v PledgeValuation) { e.valuation = v }

func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetEmitter configures the event sink. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the clock used for accrual.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	e.nowFn = now
}

// PoolID is the key under which the pool's records are stored.
func (e *Engine) PoolID() string { return e.currency.String() }

func (e *Engine) Address() crypto.Address { return e.address }

func (e *Engine) Currency() fiat.Currency { return e.currency }

func (e *Engine) now() uint64 {
	now := e.nowFn()
	if now < 0 {
		return 0
	}
	return uint64(now)
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.ledger == nil || e.prices == nil || e.valuation == nil {
		return errNilCollaborators
	}
	return nil
}

func (e *Engine) guard() error {
	if err := e.ready(); err != nil {
		return err
	}
	return nativecommon.Guard(e.pauses, moduleName)
}

// ValidateParams checks pool parameters before they are fixed at creation.
func ValidateParams(p Params) error {
	if p.LTVBps == 0 || p.LTVBps > 10_000 {
		return fmt.Errorf("%w: ltv %d bps", ErrInvalidParams, p.LTVBps)
	}
	if p.ReserveFactorBps > 10_000 {
		return fmt.Errorf("%w: reserve factor %d bps", ErrInvalidParams, p.ReserveFactorBps)
	}
	if err := p.Model.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}

// Init creates the empty market with its parameters fixed.
func (e *Engine) Init(params Params) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := ValidateParams(params); err != nil {
		return err
	}
	existing, err := e.state.GetMarket(e.PoolID())
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrPoolInitialized
	}
	market := &Market{Params: params, LastAccrual: e.now()}
	market.normalize()
	return e.state.PutMarket(e.PoolID(), market)
}

func (e *Engine) loadMarket() (*Market, error) {
	market, err := e.state.GetMarket(e.PoolID())
	if err != nil {
		return nil, err
	}
	if market == nil {
		return nil, ErrPoolNotInitialized
	}
	return market, nil
}

// accrue advances market to now. Interest equals the growth of aggregate debt
// and is credited to suppliers less the reserve share.
func (e *Engine) accrue(market *Market, now uint64) {
	if now <= market.LastAccrual {
		return
	}
	delta := now - market.LastAccrual
	market.LastAccrual = now
	if market.TotalScaledDebt.Sign() == 0 {
		return
	}
	before := market.TotalBorrowed()
	rateBps := market.Params.Model.BorrowRateBps(before, market.TotalSupplied)
	market.BorrowIndex = rayMul(market.BorrowIndex, linearFactor(rateBps, delta))
	interest := new(big.Int).Sub(market.TotalBorrowed(), before)
	if interest.Sign() <= 0 {
		return
	}
	reserveShare := mulDiv(interest, new(big.Int).SetUint64(market.Params.ReserveFactorBps), basisPoints)
	market.Reserves.Add(market.Reserves, reserveShare)
	market.TotalSupplied.Add(market.TotalSupplied, new(big.Int).Sub(interest, reserveShare))
}

// loadAccrued returns the market projected to now without persisting it.
func (e *Engine) loadAccrued() (*Market, error) {
	market, err := e.loadMarket()
	if err != nil {
		return nil, err
	}
	e.accrue(market, e.now())
	return market, nil
}

func (e *Engine) availableLiquidity(market *Market) (*big.Int, error) {
	balance, err := e.ledger.BalanceOf(e.address)
	if err != nil {
		return nil, err
	}
	available := new(big.Int).Sub(balance, market.Reserves)
	if available.Sign() < 0 {
		return zero(), nil
	}
	return available, nil
}

func (e *Engine) rate() (*big.Int, error) {
	rate, err := e.prices.Rate(e.currency)
	if err != nil {
		return nil, err
	}
	if rate == nil || rate.Sign() <= 0 {
		return nil, ErrPriceUnavailable
	}
	return rate, nil
}

// Supply pulls amount from caller and credits shares to onBehalfOf. The pool
// must already hold an allowance from caller.
func (e *Engine) Supply(caller crypto.Address, amount *big.Int, onBehalfOf crypto.Address) (*big.Int, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if onBehalfOf.IsZero() {
		onBehalfOf = caller
	}
	market, err := e.loadAccrued()
	if err != nil {
		return nil, err
	}

	var minted *big.Int
	if market.TotalShares.Sign() == 0 || market.TotalSupplied.Sign() == 0 {
		minted = new(big.Int).Set(amount)
	} else {
		minted = mulDiv(amount, market.TotalShares, market.TotalSupplied)
	}
	if minted.Sign() == 0 {
		return nil, ErrAmountTooSmall
	}

	if err := e.ledger.TransferFrom(e.address, caller, e.address, amount); err != nil {
		return nil, err
	}
	shares, err := e.state.GetShares(e.PoolID(), onBehalfOf)
	if err != nil {
		return nil, err
	}
	if err := e.state.PutShares(e.PoolID(), onBehalfOf, shares.Add(shares, minted)); err != nil {
		return nil, err
	}
	market.TotalShares.Add(market.TotalShares, minted)
	market.TotalSupplied.Add(market.TotalSupplied, amount)
	if err := e.state.PutMarket(e.PoolID(), market); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.LendingSupplied{
		Currency:   e.currency.String(),
		Pool:       e.address,
		Supplier:   caller,
		OnBehalfOf: onBehalfOf,
		Amount:     clone(amount),
		Shares:     clone(minted),
	})
	return minted, nil
}

// Withdraw burns the shares worth amount and pays it to caller. It never
// partially fills.
func (e *Engine) Withdraw(caller crypto.Address, amount *big.Int) (*big.Int, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	market, err := e.loadAccrued()
	if err != nil {
		return nil, err
	}
	shares, err := e.state.GetShares(e.PoolID(), caller)
	if err != nil {
		return nil, err
	}
	if market.TotalSupplied.Sign() == 0 || shares.Sign() == 0 {
		return nil, ErrInsufficientBalance
	}
	burn := mulDivUp(amount, market.TotalShares, market.TotalSupplied)
	if burn.Cmp(shares) > 0 {
		return nil, ErrInsufficientBalance
	}
	available, err := e.availableLiquidity(market)
	if err != nil {
		return nil, err
	}
	if amount.Cmp(available) > 0 {
		return nil, ErrInsufficientLiquidity
	}

	if err := e.state.PutShares(e.PoolID(), caller, new(big.Int).Sub(shares, burn)); err != nil {
		return nil, err
	}
	market.TotalShares.Sub(market.TotalShares, burn)
	market.TotalSupplied.Sub(market.TotalSupplied, amount)
	if market.TotalShares.Sign() == 0 && market.TotalSupplied.Sign() > 0 {
		// Dust left behind by rounding belongs to reserves once no supplier
		// remains to claim it.
		market.Reserves.Add(market.Reserves, market.TotalSupplied)
		market.TotalSupplied = zero()
	}
	if err := e.state.PutMarket(e.PoolID(), market); err != nil {
		return nil, err
	}
	if err := e.ledger.Transfer(e.address, caller, amount); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.LendingWithdrawn{
		Currency: e.currency.String(),
		Pool:     e.address,
		Supplier: caller,
		Amount:   clone(amount),
		Shares:   clone(burn),
	})
	return burn, nil
}

type collateral struct {
	manager crypto.Address
	active  bool
	pledge  *big.Int
}

func (e *Engine) loadCollateral(farmer crypto.Address) (*collateral, error) {
	manager, err := e.valuation.ManagerOf(farmer)
	if err != nil {
		return nil, err
	}
	c := &collateral{manager: manager, pledge: zero()}
	if manager.IsZero() {
		return c, nil
	}
	if c.active, err = e.valuation.IsActive(manager, e.PoolID()); err != nil {
		return nil, err
	}
	if c.pledge, err = e.valuation.TotalSupply(manager); err != nil {
		return nil, err
	}
	return c, nil
}

func (e *Engine) loadPosition(farmer crypto.Address) (*Position, error) {
	return e.state.GetPosition(e.PoolID(), farmer)
}

func borrowCap(pledge, rate *big.Int, ltvBps uint64) *big.Int {
	value := new(big.Int).Mul(pledge, rate)
	value.Mul(value, new(big.Int).SetUint64(ltvBps))
	return value.Quo(value, new(big.Int).Mul(nativeUnit, basisPoints))
}

func (e *Engine) borrowable(market *Market, c *collateral, outstanding *big.Int) (*big.Int, error) {
	if c.manager.IsZero() || !c.active {
		return zero(), nil
	}
	rate, err := e.rate()
	if err != nil {
		return nil, err
	}
	limit := borrowCap(c.pledge, rate, market.Params.LTVBps)
	limit.Sub(limit, outstanding)
	if limit.Sign() < 0 {
		return zero(), nil
	}
	return limit, nil
}

// Borrow lends amount to an active farmer within their collateral limit.
func (e *Engine) Borrow(farmer crypto.Address, amount *big.Int) (*big.Int, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	market, err := e.loadAccrued()
	if err != nil {
		return nil, err
	}
	c, err := e.loadCollateral(farmer)
	if err != nil {
		return nil, err
	}
	if c.manager.IsZero() || !c.active {
		return nil, ErrPledgeInactive
	}
	position, err := e.loadPosition(farmer)
	if err != nil {
		return nil, err
	}
	outstanding := debtFromScaled(position.ScaledDebt, market.BorrowIndex)
	limit, err := e.borrowable(market, c, outstanding)
	if err != nil {
		return nil, err
	}
	if amount.Cmp(limit) > 0 {
		return nil, ErrInsufficientCollateral
	}
	available, err := e.availableLiquidity(market)
	if err != nil {
		return nil, err
	}
	if amount.Cmp(available) > 0 {
		return nil, ErrInsufficientLiquidity
	}

	scaled := scaledDebtFromAmount(amount, market.BorrowIndex)
	position.ScaledDebt.Add(position.ScaledDebt, scaled)
	position.Principal.Add(position.Principal, amount)
	market.TotalScaledDebt.Add(market.TotalScaledDebt, scaled)
	if err := e.state.PutPosition(e.PoolID(), farmer, position); err != nil {
		return nil, err
	}
	if err := e.state.PutMarket(e.PoolID(), market); err != nil {
		return nil, err
	}
	if err := e.ledger.Transfer(e.address, farmer, amount); err != nil {
		return nil, err
	}
	after := debtFromScaled(position.ScaledDebt, market.BorrowIndex)
	e.emitter.Emit(events.LendingBorrowed{
		Currency:    e.currency.String(),
		Pool:        e.address,
		Farmer:      farmer,
		Amount:      clone(amount),
		Outstanding: clone(after),
	})
	return after, nil
}

// Repay settles part or all of onBehalfOf's debt with funds pulled from
// caller. Interest is paid before principal.
func (e *Engine) Repay(caller crypto.Address, amount *big.Int, onBehalfOf crypto.Address) (*RepayResult, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if onBehalfOf.IsZero() {
		onBehalfOf = caller
	}
	market, err := e.loadAccrued()
	if err != nil {
		return nil, err
	}
	position, err := e.loadPosition(onBehalfOf)
	if err != nil {
		return nil, err
	}
	outstanding := debtFromScaled(position.ScaledDebt, market.BorrowIndex)
	if outstanding.Sign() == 0 {
		return nil, ErrNoDebt
	}
	if amount.Cmp(outstanding) > 0 {
		return nil, ErrRepayExceedsDebt
	}

	accrued := new(big.Int).Sub(outstanding, position.Principal)
	if accrued.Sign() < 0 {
		accrued = zero()
	}
	interestPaid := clone(amount)
	if interestPaid.Cmp(accrued) > 0 {
		interestPaid = accrued
	}
	principalPaid := new(big.Int).Sub(amount, interestPaid)

	if amount.Cmp(outstanding) == 0 {
		market.TotalScaledDebt.Sub(market.TotalScaledDebt, position.ScaledDebt)
		position.ScaledDebt = zero()
		position.Principal = zero()
	} else {
		burn := mulDiv(amount, ray, market.BorrowIndex)
		if burn.Cmp(position.ScaledDebt) > 0 {
			burn = clone(position.ScaledDebt)
		}
		position.ScaledDebt.Sub(position.ScaledDebt, burn)
		market.TotalScaledDebt.Sub(market.TotalScaledDebt, burn)
		position.Principal.Sub(position.Principal, principalPaid)
		if position.Principal.Sign() < 0 {
			position.Principal = zero()
		}
	}
	if market.TotalScaledDebt.Sign() < 0 {
		market.TotalScaledDebt = zero()
	}

	if err := e.ledger.TransferFrom(e.address, caller, e.address, amount); err != nil {
		return nil, err
	}
	if err := e.state.PutPosition(e.PoolID(), onBehalfOf, position); err != nil {
		return nil, err
	}
	if err := e.state.PutMarket(e.PoolID(), market); err != nil {
		return nil, err
	}
	remaining := debtFromScaled(position.ScaledDebt, market.BorrowIndex)
	e.emitter.Emit(events.LendingRepaid{
		Currency:    e.currency.String(),
		Pool:        e.address,
		Payer:       caller,
		Farmer:      onBehalfOf,
		Amount:      clone(amount),
		Interest:    clone(interestPaid),
		Principal:   clone(principalPaid),
		Outstanding: clone(remaining),
	})
	return &RepayResult{Interest: interestPaid, Principal: principalPaid, Outstanding: remaining}, nil
}

// ActivatePledge lets the farmer's collateral back loans from this pool.
func (e *Engine) ActivatePledge(farmer crypto.Address) error {
	if err := e.guard(); err != nil {
		return err
	}
	if _, err := e.loadMarket(); err != nil {
		return err
	}
	c, err := e.loadCollateral(farmer)
	if err != nil {
		return err
	}
	if c.manager.IsZero() {
		return ErrNoPledgeManager
	}
	if c.pledge.Sign() == 0 {
		return ErrNoCollateral
	}
	if c.active {
		return ErrAlreadyActive
	}
	if err := e.valuation.SetActive(c.manager, e.PoolID(), true); err != nil {
		return err
	}
	e.emitter.Emit(events.LendingPledgeActivated{
		Currency: e.currency.String(),
		Pool:     e.address,
		Farmer:   farmer,
		Manager:  c.manager,
	})
	return nil
}

// DeactivatePledge releases the farmer's collateral from this pool once the
// debt is fully repaid.
func (e *Engine) DeactivatePledge(farmer crypto.Address) error {
	if err := e.guard(); err != nil {
		return err
	}
	market, err := e.loadAccrued()
	if err != nil {
		return err
	}
	c, err := e.loadCollateral(farmer)
	if err != nil {
		return err
	}
	if c.manager.IsZero() || !c.active {
		return ErrPledgeInactive
	}
	position, err := e.loadPosition(farmer)
	if err != nil {
		return err
	}
	if debtFromScaled(position.ScaledDebt, market.BorrowIndex).Sign() > 0 {
		return ErrOutstandingDebt
	}
	if err := e.valuation.SetActive(c.manager, e.PoolID(), false); err != nil {
		return err
	}
	e.emitter.Emit(events.LendingPledgeDeactivated{
		Currency: e.currency.String(),
		Pool:     e.address,
		Farmer:   farmer,
		Manager:  c.manager,
	})
	return nil
}

// WithdrawReserves sweeps accumulated reserves to the admin-chosen recipient.
func (e *Engine) WithdrawReserves(caller, to crypto.Address, amount *big.Int) error {
	if err := e.guard(); err != nil {
		return err
	}
	if !e.state.HasRole(nativecommon.RoleAdmin, caller) {
		return ErrUnauthorized
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	market, err := e.loadAccrued()
	if err != nil {
		return err
	}
	if amount.Cmp(market.Reserves) > 0 {
		return ErrInsufficientReserves
	}
	balance, err := e.ledger.BalanceOf(e.address)
	if err != nil {
		return err
	}
	if amount.Cmp(balance) > 0 {
		return ErrInsufficientLiquidity
	}
	market.Reserves.Sub(market.Reserves, amount)
	if err := e.state.PutMarket(e.PoolID(), market); err != nil {
		return err
	}
	if err := e.ledger.Transfer(e.address, to, amount); err != nil {
		return err
	}
	e.emitter.Emit(events.LendingReservesWithdrawn{
		Currency: e.currency.String(),
		Pool:     e.address,
		To:       to,
		Amount:   clone(amount),
	})
	return nil
}

// CheckCollateralRelease fails with ErrWithdrawUnsafe when the farmer's debt
// in this pool would exceed the loan-to-value limit on remainingPledge.
func (e *Engine) CheckCollateralRelease(farmer crypto.Address, remainingPledge *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	market, err := e.loadAccrued()
	if err != nil {
		return err
	}
	position, err := e.loadPosition(farmer)
	if err != nil {
		return err
	}
	outstanding := debtFromScaled(position.ScaledDebt, market.BorrowIndex)
	if outstanding.Sign() == 0 {
		return nil
	}
	rate, err := e.rate()
	if err != nil {
		return err
	}
	value := collateralValue(clone(remainingPledge), rate)
	lhs := value.Mul(value, new(big.Int).SetUint64(market.Params.LTVBps))
	rhs := new(big.Int).Mul(outstanding, basisPoints)
	if lhs.Cmp(rhs) < 0 {
		return ErrWithdrawUnsafe
	}
	return nil
}

// Outstanding is the farmer's debt projected to now.
func (e *Engine) Outstanding(farmer crypto.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	market, err := e.loadAccrued()
	if err != nil {
		return nil, err
	}
	position, err := e.loadPosition(farmer)
	if err != nil {
		return nil, err
	}
	return debtFromScaled(position.ScaledDebt, market.BorrowIndex), nil
}

// Borrowable is the remaining borrow capacity. It is zero for farmers without
// a manager or without an active pledge in this pool.
func (e *Engine) Borrowable(farmer crypto.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	market, err := e.loadAccrued()
	if err != nil {
		return nil, err
	}
	c, err := e.loadCollateral(farmer)
	if err != nil {
		return nil, err
	}
	position, err := e.loadPosition(farmer)
	if err != nil {
		return nil, err
	}
	return e.borrowable(market, c, debtFromScaled(position.ScaledDebt, market.BorrowIndex))
}

// HealthFactorLTV is collateralValue/outstanding in basis points, so 10_000
// means the collateral exactly covers the debt. The LTV limit is enforced by
// Borrow and CheckCollateralRelease, not here. Debt-free farmers report
// InfiniteHealthFactor.
func (e *Engine) HealthFactorLTV(farmer crypto.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	market, err := e.loadAccrued()
	if err != nil {
		return nil, err
	}
	position, err := e.loadPosition(farmer)
	if err != nil {
		return nil, err
	}
	outstanding := debtFromScaled(position.ScaledDebt, market.BorrowIndex)
	if outstanding.Sign() == 0 {
		return clone(InfiniteHealthFactor), nil
	}
	c, err := e.loadCollateral(farmer)
	if err != nil {
		return nil, err
	}
	rate, err := e.rate()
	if err != nil {
		return nil, err
	}
	return healthFactor(c.pledge, rate, outstanding), nil
}

func healthFactor(pledge, rate, outstanding *big.Int) *big.Int {
	value := collateralValue(clone(pledge), rate)
	value.Mul(value, basisPoints)
	return value.Quo(value, outstanding)
}

// FarmerPositions assembles the borrower view in one read.
func (e *Engine) FarmerPositions(farmer crypto.Address) (*FarmerPosition, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	market, err := e.loadAccrued()
	if err != nil {
		return nil, err
	}
	c, err := e.loadCollateral(farmer)
	if err != nil {
		return nil, err
	}
	position, err := e.loadPosition(farmer)
	if err != nil {
		return nil, err
	}
	outstanding := debtFromScaled(position.ScaledDebt, market.BorrowIndex)
	view := &FarmerPosition{
		Farmer:      farmer,
		Manager:     c.manager,
		Active:      c.active,
		Pledge:      c.pledge,
		Principal:   position.Principal,
		Outstanding: outstanding,
	}
	rate, err := e.rate()
	switch {
	case errors.Is(err, ErrPriceUnavailable):
		if outstanding.Sign() == 0 {
			view.HealthFactor = clone(InfiniteHealthFactor)
		}
		if c.manager.IsZero() || !c.active {
			view.Borrowable = zero()
		}
		return view, nil
	case err != nil:
		return nil, err
	}
	view.PriceAvailable = true
	if view.Borrowable, err = e.borrowable(market, c, outstanding); err != nil {
		return nil, err
	}
	if outstanding.Sign() == 0 {
		view.HealthFactor = clone(InfiniteHealthFactor)
	} else {
		view.HealthFactor = healthFactor(c.pledge, rate, outstanding)
	}
	return view, nil
}

// BalanceOf returns the account's LP shares.
func (e *Engine) BalanceOf(account crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.GetShares(e.PoolID(), account)
}

// SupplyBalance values the account's shares at the current share price.
func (e *Engine) SupplyBalance(account crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	market, err := e.loadAccrued()
	if err != nil {
		return nil, err
	}
	shares, err := e.state.GetShares(e.PoolID(), account)
	if err != nil {
		return nil, err
	}
	return mulDiv(shares, market.TotalSupplied, market.TotalShares), nil
}

func (e *Engine) TotalSupplied() (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	market, err := e.loadAccrued()
	if err != nil {
		return nil, err
	}
	return market.TotalSupplied, nil
}

func (e *Engine) TotalBorrowed() (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	market, err := e.loadAccrued()
	if err != nil {
		return nil, err
	}
	return market.TotalBorrowed(), nil
}

func (e *Engine) Utilization() (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	market, err := e.loadAccrued()
	if err != nil {
		return 0, err
	}
	return UtilizationBps(market.TotalBorrowed(), market.TotalSupplied), nil
}

func (e *Engine) BorrowRateBp() (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	market, err := e.loadAccrued()
	if err != nil {
		return 0, err
	}
	return market.Params.Model.BorrowRateBps(market.TotalBorrowed(), market.TotalSupplied), nil
}

func (e *Engine) SupplyRateBp() (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	market, err := e.loadAccrued()
	if err != nil {
		return 0, err
	}
	borrowed := market.TotalBorrowed()
	borrowRate := market.Params.Model.BorrowRateBps(borrowed, market.TotalSupplied)
	return SupplyRateBps(borrowRate, borrowed, market.TotalSupplied, market.Params.ReserveFactorBps), nil
}

// Snapshot reports the pool's aggregate state projected to now.
func (e *Engine) Snapshot() (*Snapshot, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	market, err := e.loadAccrued()
	if err != nil {
		return nil, err
	}
	available, err := e.availableLiquidity(market)
	if err != nil {
		return nil, err
	}
	borrowed := market.TotalBorrowed()
	borrowRate := market.Params.Model.BorrowRateBps(borrowed, market.TotalSupplied)
	return &Snapshot{
		Currency:           e.currency.String(),
		Address:            e.address,
		TotalSupplied:      market.TotalSupplied,
		TotalBorrowed:      borrowed,
		TotalShares:        market.TotalShares,
		Reserves:           market.Reserves,
		AvailableLiquidity: available,
		BorrowIndex:        market.BorrowIndex,
		UtilizationBps:     UtilizationBps(borrowed, market.TotalSupplied),
		BorrowRateBps:      borrowRate,
		SupplyRateBps:      SupplyRateBps(borrowRate, borrowed, market.TotalSupplied, market.Params.ReserveFactorBps),
		LTVBps:             market.Params.LTVBps,
		ReserveFactorBps:   market.Params.ReserveFactorBps,
		LastAccrual:        int64(market.LastAccrual),
	}, nil
}
