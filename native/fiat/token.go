package fiat

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"mavuno/core/events"
	"mavuno/crypto"
	nativecommon "mavuno/native/common"
)

var (
	errNilState = errors.New("fiat: state not configured")

	ErrUnauthorized           = errors.New("fiat: unauthorized")
	ErrInvalidAmount          = errors.New("fiat: amount must be positive")
	ErrUnderlyingExists       = errors.New("fiat: underlying already created")
	ErrUnderlyingMissing      = errors.New("fiat: underlying not created")
	ErrNotAssociated          = errors.New("fiat: account not associated")
	ErrInsufficientBalance    = errors.New("fiat: insufficient balance")
	ErrInsufficientAllowance  = errors.New("fiat: insufficient allowance")
	ErrOverflow               = errors.New("fiat: amount overflows 256 bits")
	ErrInvalidUnderlyingParam = errors.New("fiat: underlying name and symbol required")
)

const moduleName = nativecommon.ModuleFiat

type engineState interface {
	RegisterToken(symbol, name string, decimals uint8) error
	SetTokenMintAuthority(symbol string, authority crypto.Address) error
	TokenExists(symbol string) bool
	Balance(addr crypto.Address, symbol string) (*big.Int, error)
	SetBalance(addr crypto.Address, symbol string, amount *big.Int) error
	HasRole(role string, addr crypto.Address) bool
	SetRole(role string, addr crypto.Address) error
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Info describes a provisioned fiat token.
type Info struct {
	Currency         Currency       `json:"currency"`
	Address          crypto.Address `json:"address"`
	Name             string         `json:"name"`
	UnderlyingSymbol string         `json:"underlyingSymbol"`
	AutoRenewSeconds uint64         `json:"autoRenewSeconds"`
	CreatedAt        int64          `json:"createdAt"`
}

type storedInfo struct {
	Name             string
	Symbol           string
	AutoRenewSeconds uint64
	CreatedAt        uint64
}

// Address returns the deterministic ledger address of the fiat token for cur.
func Address(cur Currency) crypto.Address {
	return crypto.ModuleAddress(crypto.Address{}, "mavuno/fiat/"+cur.String())
}

// MinterRole names the role allowed to mint cur.
func MinterRole(cur Currency) string {
	return "fiat:minter:" + cur.String()
}

// Token is the per-currency fiat engine bound to one transaction's state.
type Token struct {
	currency Currency
	state    engineState
	emitter  events.Emitter
	pauses   nativecommon.PauseView
	nowFn    func() int64
}

// NewToken constructs the engine for cur with a no-op emitter.
func NewToken(cur Currency) *Token {
	return &Token{
		currency: cur,
		emitter:  events.NoopEmitter{},
		nowFn:    func() int64 { return time.Now().Unix() },
	}
}

func (t *Token) SetState(state engineState) { t.state = state }

func (t *Token) SetPauses(p nativecommon.PauseView) { t.pauses = p }

// SetEmitter configures the event sink. Passing nil resets it to a no-op.
func (t *Token) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		t.emitter = events.NoopEmitter{}
		return
	}
	t.emitter = emitter
}

func (t *Token) SetNowFunc(now func() int64) {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	t.nowFn = now
}

func (t *Token) Currency() Currency { return t.currency }

func (t *Token) Address() crypto.Address { return Address(t.currency) }

func (t *Token) prefix() string { return "fiat/" + t.currency.String() + "/" }

func (t *Token) infoKey() []byte { return []byte(t.prefix() + "info") }

func (t *Token) supplyKey() []byte { return []byte(t.prefix() + "supply") }

func (t *Token) assocKey(addr crypto.Address) []byte {
	return append([]byte(t.prefix()+"assoc/"), addr[:]...)
}

func (t *Token) allowanceKey(owner, spender crypto.Address) []byte {
	key := append([]byte(t.prefix()+"allowance/"), owner[:]...)
	return append(key, spender[:]...)
}

func (t *Token) ready() error {
	if t == nil || t.state == nil {
		return errNilState
	}
	if !t.currency.Valid() {
		return ErrUnknownCurrency
	}
	return nil
}

func (t *Token) loadInfo() (*storedInfo, error) {
	var info storedInfo
	ok, err := t.state.KVGet(t.infoKey(), &info)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &info, nil
}

func (t *Token) requireUnderlying() (*storedInfo, error) {
	info, err := t.loadInfo()
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, ErrUnderlyingMissing
	}
	return info, nil
}

// CreateUnderlying provisions the backing ledger token. The fiat contract
// becomes its mint authority and is associated with itself.
func (t *Token) CreateUnderlying(caller crypto.Address, name, symbol string, autoRenewSeconds uint64) error {
	if err := t.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(t.pauses, moduleName); err != nil {
		return err
	}
	if !t.state.HasRole(nativecommon.RoleAdmin, caller) {
		return ErrUnauthorized
	}
	name = strings.TrimSpace(name)
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if name == "" || symbol == "" {
		return ErrInvalidUnderlyingParam
	}
	existing, err := t.loadInfo()
	if err != nil {
		return err
	}
	if existing != nil || t.state.TokenExists(symbol) {
		return ErrUnderlyingExists
	}
	if err := t.state.RegisterToken(symbol, name, Decimals); err != nil {
		return fmt.Errorf("fiat: register underlying: %w", err)
	}
	if err := t.state.SetTokenMintAuthority(symbol, t.Address()); err != nil {
		return err
	}
	info := &storedInfo{
		Name:             name,
		Symbol:           symbol,
		AutoRenewSeconds: autoRenewSeconds,
		CreatedAt:        uint64(t.nowFn()),
	}
	if err := t.state.KVPut(t.infoKey(), info); err != nil {
		return err
	}
	if err := t.state.KVPut(t.supplyKey(), big.NewInt(0)); err != nil {
		return err
	}
	if err := t.associate(t.Address()); err != nil {
		return err
	}
	t.emitter.Emit(events.FiatUnderlyingCreated{
		Currency:         t.currency.String(),
		Symbol:           symbol,
		Name:             name,
		AutoRenewSeconds: autoRenewSeconds,
		Treasury:         t.Address(),
	})
	return nil
}

// Info returns the provisioned token description.
func (t *Token) Info() (*Info, error) {
	if err := t.ready(); err != nil {
		return nil, err
	}
	info, err := t.requireUnderlying()
	if err != nil {
		return nil, err
	}
	return &Info{
		Currency:         t.currency,
		Address:          t.Address(),
		Name:             info.Name,
		UnderlyingSymbol: info.Symbol,
		AutoRenewSeconds: info.AutoRenewSeconds,
		CreatedAt:        int64(info.CreatedAt),
	}, nil
}

// GrantMinter adds account to the currency's minter role. Admin only.
func (t *Token) GrantMinter(caller, account crypto.Address) error {
	if err := t.ready(); err != nil {
		return err
	}
	if !t.state.HasRole(nativecommon.RoleAdmin, caller) {
		return ErrUnauthorized
	}
	return t.state.SetRole(MinterRole(t.currency), account)
}

func (t *Token) IsMinter(account crypto.Address) bool {
	if t.ready() != nil {
		return false
	}
	return t.state.HasRole(MinterRole(t.currency), account)
}

// Mint issues new supply to an associated recipient.
func (t *Token) Mint(caller, to crypto.Address, amount *big.Int) error {
	if err := t.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(t.pauses, moduleName); err != nil {
		return err
	}
	if !t.IsMinter(caller) {
		return ErrUnauthorized
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	info, err := t.requireUnderlying()
	if err != nil {
		return err
	}
	if ok, err := t.IsAssociated(to); err != nil {
		return err
	} else if !ok {
		return ErrNotAssociated
	}
	supply, err := t.TotalSupply()
	if err != nil {
		return err
	}
	nextSupply, err := checkedAdd(supply, amount)
	if err != nil {
		return err
	}
	balance, err := t.state.Balance(to, info.Symbol)
	if err != nil {
		return err
	}
	nextBalance, err := checkedAdd(balance, amount)
	if err != nil {
		return err
	}
	if err := t.state.SetBalance(to, info.Symbol, nextBalance); err != nil {
		return err
	}
	if err := t.state.KVPut(t.supplyKey(), nextSupply); err != nil {
		return err
	}
	t.emitter.Emit(events.FiatMinted{
		Currency: t.currency.String(),
		Minter:   caller,
		To:       to,
		Amount:   new(big.Int).Set(amount),
		Supply:   nextSupply,
	})
	return nil
}

// TotalSupply returns the minted supply. Zero before the underlying exists.
func (t *Token) TotalSupply() (*big.Int, error) {
	if err := t.ready(); err != nil {
		return nil, err
	}
	supply := new(big.Int)
	ok, err := t.state.KVGet(t.supplyKey(), supply)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return supply, nil
}

func (t *Token) BalanceOf(account crypto.Address) (*big.Int, error) {
	if err := t.ready(); err != nil {
		return nil, err
	}
	info, err := t.loadInfo()
	if err != nil {
		return nil, err
	}
	if info == nil {
		return big.NewInt(0), nil
	}
	return t.state.Balance(account, info.Symbol)
}

// Associate opts account in to receiving the token. Repeat calls are no-ops.
func (t *Token) Associate(account crypto.Address) error {
	if err := t.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(t.pauses, moduleName); err != nil {
		return err
	}
	if _, err := t.requireUnderlying(); err != nil {
		return err
	}
	ok, err := t.IsAssociated(account)
	if err != nil || ok {
		return err
	}
	if err := t.associate(account); err != nil {
		return err
	}
	t.emitter.Emit(events.FiatAssociated{Currency: t.currency.String(), Account: account})
	return nil
}

func (t *Token) associate(account crypto.Address) error {
	if account.IsZero() {
		return fmt.Errorf("fiat: cannot associate zero address")
	}
	return t.state.KVPut(t.assocKey(account), true)
}

func (t *Token) IsAssociated(account crypto.Address) (bool, error) {
	if err := t.ready(); err != nil {
		return false, err
	}
	var flag bool
	ok, err := t.state.KVGet(t.assocKey(account), &flag)
	if err != nil {
		return false, err
	}
	return ok && flag, nil
}

// Approve overwrites the allowance owner grants to spender.
func (t *Token) Approve(owner, spender crypto.Address, amount *big.Int) error {
	if err := t.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(t.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if spender.IsZero() {
		return fmt.Errorf("fiat: spender must not be empty")
	}
	if _, err := uint256FromBig(amount); err != nil {
		return err
	}
	if err := t.state.KVPut(t.allowanceKey(owner, spender), amount); err != nil {
		return err
	}
	t.emitter.Emit(events.FiatApproval{
		Currency: t.currency.String(),
		Owner:    owner,
		Spender:  spender,
		Amount:   new(big.Int).Set(amount),
	})
	return nil
}

func (t *Token) Allowance(owner, spender crypto.Address) (*big.Int, error) {
	if err := t.ready(); err != nil {
		return nil, err
	}
	allowance := new(big.Int)
	ok, err := t.state.KVGet(t.allowanceKey(owner, spender), allowance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return allowance, nil
}

// Transfer moves amount from one holder to an associated recipient.
func (t *Token) Transfer(from, to crypto.Address, amount *big.Int) error {
	if err := t.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(t.pauses, moduleName); err != nil {
		return err
	}
	return t.move(from, to, amount)
}

// TransferFrom moves amount on behalf of from, consuming spender's allowance.
func (t *Token) TransferFrom(spender, from, to crypto.Address, amount *big.Int) error {
	if err := t.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(t.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	allowance, err := t.Allowance(from, spender)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	if err := t.move(from, to, amount); err != nil {
		return err
	}
	return t.state.KVPut(t.allowanceKey(from, spender), new(big.Int).Sub(allowance, amount))
}

func (t *Token) move(from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	info, err := t.requireUnderlying()
	if err != nil {
		return err
	}
	if ok, err := t.IsAssociated(to); err != nil {
		return err
	} else if !ok {
		return ErrNotAssociated
	}
	fromBal, err := t.state.Balance(from, info.Symbol)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if from != to {
		toBal, err := t.state.Balance(to, info.Symbol)
		if err != nil {
			return err
		}
		if err := t.state.SetBalance(from, info.Symbol, new(big.Int).Sub(fromBal, amount)); err != nil {
			return err
		}
		if err := t.state.SetBalance(to, info.Symbol, new(big.Int).Add(toBal, amount)); err != nil {
			return err
		}
	}
	t.emitter.Emit(events.FiatTransfer{
		Currency: t.currency.String(),
		From:     from,
		To:       to,
		Amount:   new(big.Int).Set(amount),
	})
	return nil
}

func uint256FromBig(v *big.Int) (*uint256.Int, error) {
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

func checkedAdd(a, b *big.Int) (*big.Int, error) {
	x, err := uint256FromBig(a)
	if err != nil {
		return nil, err
	}
	y, err := uint256FromBig(b)
	if err != nil {
		return nil, err
	}
	sum, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	return sum.ToBig(), nil
}
