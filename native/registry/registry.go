package registry

import (
	"errors"
	"fmt"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"mavuno/core/events"
	"mavuno/crypto"
	nativecommon "mavuno/native/common"
	"mavuno/native/fiat"
)

var (
	errNilState = errors.New("registry: state not configured")

	ErrUnauthorized      = errors.New("registry: unauthorized")
	ErrAlreadyRegistered = errors.New("registry: farmer already registered")
	ErrNotRegistered     = errors.New("registry: farmer not registered")
	ErrInvalidProfile    = errors.New("registry: invalid profile")
)

const moduleName = nativecommon.ModuleRegistry

// Address is the ledger address of the farmer registry. Pledge manager
// addresses are derived from it.
var Address = crypto.ModuleAddress(crypto.Address{}, "mavuno/registry")

var farmerIndexKey = []byte("registry/farmers")

type engineState interface {
	HasRole(role string, addr crypto.Address) bool
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	IndexAppend(key []byte, value []byte) error
	IndexList(key []byte) ([][]byte, error)
}

// Profile is the self-reported application data a farmer registers with.
type Profile struct {
	Name              string `json:"name"`
	Email             string `json:"email"`
	Location          string `json:"location"`
	FarmSize          string `json:"farmSize"`
	CropType          string `json:"cropType"`
	Description       string `json:"description"`
	PreferredCurrency string `json:"preferredCurrency,omitempty"`
	MetadataURL       string `json:"metadataUrl,omitempty"`
}

// Farmer is the full registry record.
type Farmer struct {
	Address       crypto.Address      `json:"address"`
	Manager       crypto.Address      `json:"manager"`
	Profile       Profile             `json:"profile"`
	Verified      bool                `json:"verified"`
	VerifiedBy    crypto.Address      `json:"verifiedBy,omitempty"`
	CreatedAt     int64               `json:"createdAt"`
	TotalBorrowed map[string]*big.Int `json:"totalBorrowed"`
	TotalRepaid   map[string]*big.Int `json:"totalRepaid"`
}

type storedFarmer struct {
	Manager    crypto.Address
	Profile    Profile
	Verified   bool
	VerifiedBy crypto.Address
	CreatedAt  uint64
}

type loanCounters struct {
	Borrowed *big.Int
	Repaid   *big.Int
}

// ManagerAddress derives the pledge manager bound to farmer.
func ManagerAddress(farmer crypto.Address) crypto.Address {
	return crypto.ModuleAddress(Address, "pledge-manager/"+string(farmer[:]))
}

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

func farmerKey(farmer crypto.Address) []byte {
	return append([]byte("registry/farmer/"), farmer[:]...)
}

func countersKey(farmer crypto.Address, cur fiat.Currency) []byte {
	key := append([]byte("registry/loans/"), farmer[:]...)
	return append(key, "/"+cur.String()...)
}

func normalizeProfile(p Profile) (Profile, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.Email = strings.TrimSpace(p.Email)
	p.Location = strings.TrimSpace(p.Location)
	p.FarmSize = strings.TrimSpace(p.FarmSize)
	p.CropType = strings.TrimSpace(p.CropType)
	p.Description = strings.TrimSpace(p.Description)
	p.MetadataURL = strings.TrimSpace(p.MetadataURL)
	if p.Name == "" {
		return p, fmt.Errorf("%w: name required", ErrInvalidProfile)
	}
	if p.Email != "" {
		if _, err := mail.ParseAddress(p.Email); err != nil {
			return p, fmt.Errorf("%w: email: %v", ErrInvalidProfile, err)
		}
	}
	if pref := strings.TrimSpace(p.PreferredCurrency); pref != "" {
		cur, err := fiat.ParseCurrency(pref)
		if err != nil {
			return p, fmt.Errorf("%w: preferred currency: %v", ErrInvalidProfile, err)
		}
		p.PreferredCurrency = cur.String()
	}
	return p, nil
}

func (e *Engine) load(farmer crypto.Address) (*storedFarmer, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var record storedFarmer
	ok, err := e.state.KVGet(farmerKey(farmer), &record)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &record, nil
}

// Register records the farmer and derives their pledge manager address.
func (e *Engine) Register(farmer crypto.Address, profile Profile) (crypto.Address, error) {
	if e == nil || e.state == nil {
		return crypto.Address{}, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return crypto.Address{}, err
	}
	if farmer.IsZero() {
		return crypto.Address{}, fmt.Errorf("%w: farmer address required", ErrInvalidProfile)
	}
	existing, err := e.load(farmer)
	if err != nil {
		return crypto.Address{}, err
	}
	if existing != nil {
		return crypto.Address{}, ErrAlreadyRegistered
	}
	normalized, err := normalizeProfile(profile)
	if err != nil {
		return crypto.Address{}, err
	}
	manager := ManagerAddress(farmer)
	record := storedFarmer{
		Manager:   manager,
		Profile:   normalized,
		CreatedAt: uint64(e.nowFn()),
	}
	if err := e.state.KVPut(farmerKey(farmer), &record); err != nil {
		return crypto.Address{}, err
	}
	if err := e.state.IndexAppend(farmerIndexKey, farmer.Bytes()); err != nil {
		return crypto.Address{}, err
	}
	e.emitter.Emit(events.FarmerRegistered{Farmer: farmer, Manager: manager, Name: normalized.Name})
	return manager, nil
}

// ManagerOf returns the farmer's pledge manager, or the zero address when the
// farmer never registered.
func (e *Engine) ManagerOf(farmer crypto.Address) (crypto.Address, error) {
	record, err := e.load(farmer)
	if err != nil {
		return crypto.Address{}, err
	}
	if record == nil {
		return crypto.Address{}, nil
	}
	return record.Manager, nil
}

func (e *Engine) Farmer(farmer crypto.Address) (*Farmer, error) {
	record, err := e.load(farmer)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrNotRegistered
	}
	out := &Farmer{
		Address:       farmer,
		Manager:       record.Manager,
		Profile:       record.Profile,
		Verified:      record.Verified,
		VerifiedBy:    record.VerifiedBy,
		CreatedAt:     int64(record.CreatedAt),
		TotalBorrowed: make(map[string]*big.Int),
		TotalRepaid:   make(map[string]*big.Int),
	}
	for _, cur := range fiat.Currencies() {
		counters, err := e.counters(farmer, cur)
		if err != nil {
			return nil, err
		}
		out.TotalBorrowed[cur.String()] = counters.Borrowed
		out.TotalRepaid[cur.String()] = counters.Repaid
	}
	return out, nil
}

// Verify flags the farmer as vetted. Admin only.
func (e *Engine) Verify(caller, farmer crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if !e.state.HasRole(nativecommon.RoleAdmin, caller) {
		return ErrUnauthorized
	}
	record, err := e.load(farmer)
	if err != nil {
		return err
	}
	if record == nil {
		return ErrNotRegistered
	}
	record.Verified = true
	record.VerifiedBy = caller
	if err := e.state.KVPut(farmerKey(farmer), record); err != nil {
		return err
	}
	e.emitter.Emit(events.FarmerVerified{Farmer: farmer, Verifier: caller})
	return nil
}

func (e *Engine) counters(farmer crypto.Address, cur fiat.Currency) (*loanCounters, error) {
	var c loanCounters
	ok, err := e.state.KVGet(countersKey(farmer, cur), &c)
	if err != nil {
		return nil, err
	}
	if !ok || c.Borrowed == nil {
		c.Borrowed = big.NewInt(0)
	}
	if !ok || c.Repaid == nil {
		c.Repaid = big.NewInt(0)
	}
	return &c, nil
}

// RecordBorrow adds amount to the farmer's lifetime borrowed counter. It runs
// inside the borrow transaction and performs no authorization.
func (e *Engine) RecordBorrow(farmer crypto.Address, cur fiat.Currency, amount *big.Int) error {
	return e.record(farmer, cur, amount, true)
}

// RecordRepay adds amount to the farmer's lifetime repaid counter.
func (e *Engine) RecordRepay(farmer crypto.Address, cur fiat.Currency, amount *big.Int) error {
	return e.record(farmer, cur, amount, false)
}

func (e *Engine) record(farmer crypto.Address, cur fiat.Currency, amount *big.Int, borrowed bool) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	record, err := e.load(farmer)
	if err != nil {
		return err
	}
	if record == nil {
		return ErrNotRegistered
	}
	c, err := e.counters(farmer, cur)
	if err != nil {
		return err
	}
	if borrowed {
		c.Borrowed.Add(c.Borrowed, amount)
	} else {
		c.Repaid.Add(c.Repaid, amount)
	}
	return e.state.KVPut(countersKey(farmer, cur), c)
}

// Farmers lists registered farmers in registration order.
func (e *Engine) Farmers() ([]crypto.Address, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	raw, err := e.state.IndexList(farmerIndexKey)
	if err != nil {
		return nil, err
	}
	out := make([]crypto.Address, 0, len(raw))
	for _, b := range raw {
		addr, err := crypto.NewAddress(b)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}
