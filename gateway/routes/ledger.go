package routes

import (
	"errors"
	"math/big"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"mavuno/crypto"
	"mavuno/gateway/middleware"
	"mavuno/native/factory"
	"mavuno/native/fiat"
	"mavuno/native/lending"
	"mavuno/native/registry"
)

type amountRequest struct {
	Amount     string `json:"amount"`
	OnBehalfOf string `json:"onBehalfOf,omitempty"`
}

type approveRequest struct {
	// Spender defaults to the currency's pool.
	Spender string `json:"spender,omitempty"`
	Amount  string `json:"amount"`
}

type pledgeRequest struct {
	Farmer string `json:"farmer"`
	Amount string `json:"amount"`
}

type poolSummary struct {
	factory.Pool
	Snapshot *lending.Snapshot `json:"snapshot"`
}

type poolDetail struct {
	Snapshot *lending.Snapshot `json:"snapshot"`
	Params   lending.Params    `json:"params"`
}

type fiatBalance struct {
	Currency      fiat.Currency  `json:"currency"`
	Account       crypto.Address `json:"account"`
	Balance       *big.Int       `json:"balance"`
	Associated    bool           `json:"associated"`
	PoolAllowance *big.Int       `json:"poolAllowance"`
}

func currencyParam(r *http.Request) (fiat.Currency, error) {
	return fiat.ParseCurrency(chi.URLParam(r, "currency"))
}

func addressParam(r *http.Request, name string) (crypto.Address, error) {
	return parseAddress(chi.URLParam(r, name))
}

func parseAddress(value string) (crypto.Address, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return crypto.Address{}, errors.New("address is required")
	}
	return crypto.DecodeAddress(trimmed)
}

// optionalAddress decodes value, returning the zero address when it is empty.
func optionalAddress(value string) (crypto.Address, error) {
	if strings.TrimSpace(value) == "" {
		return crypto.Address{}, nil
	}
	return parseAddress(value)
}

// caller returns the authenticated account. The auth middleware guarantees
// it on write routes.
func caller(w http.ResponseWriter, r *http.Request) (crypto.Address, bool) {
	addr, ok := middleware.CallerFrom(r.Context())
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "unauthenticated", "missing caller")
	}
	return addr, ok
}

// --- reads ---

func (a *api) listPools(w http.ResponseWriter, r *http.Request) {
	pools, err := a.node.Pools()
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]poolSummary, 0, len(pools))
	for _, pool := range pools {
		snap, err := a.node.PoolSnapshot(pool.Currency)
		if err != nil {
			writeError(w, err)
			return
		}
		out = append(out, poolSummary{Pool: pool, Snapshot: snap})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) getPool(w http.ResponseWriter, r *http.Request) {
	cur, err := currencyParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	snap, err := a.node.PoolSnapshot(cur)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, poolDetail{Snapshot: snap, Params: a.node.LendingDefaults()})
}

func (a *api) getPoolAccount(w http.ResponseWriter, r *http.Request) {
	cur, err := currencyParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	addr, err := addressParam(r, "addr")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	view, err := a.node.Account(cur, addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *api) getQuote(w http.ResponseWriter, r *http.Request) {
	cur, err := currencyParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	quote, err := a.node.Quote(cur)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (a *api) listFarmers(w http.ResponseWriter, r *http.Request) {
	farmers, err := a.node.Farmers()
	if err != nil {
		writeError(w, err)
		return
	}
	if farmers == nil {
		farmers = []*registry.Farmer{}
	}
	writeJSON(w, http.StatusOK, farmers)
}

func (a *api) getFarmer(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r, "addr")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	farmer, err := a.node.Farmer(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, farmer)
}

func (a *api) getPledges(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r, "addr")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	view, err := a.node.Pledges(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *api) getFiatInfo(w http.ResponseWriter, r *http.Request) {
	cur, err := currencyParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	info, err := a.node.FiatInfo(cur)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *api) getFiatBalance(w http.ResponseWriter, r *http.Request) {
	cur, err := currencyParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	addr, err := addressParam(r, "addr")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	out := fiatBalance{Currency: cur, Account: addr}
	if out.Balance, err = a.node.FiatBalance(cur, addr); err != nil {
		writeError(w, err)
		return
	}
	if out.Associated, err = a.node.IsAssociated(cur, addr); err != nil {
		writeError(w, err)
		return
	}
	if out.PoolAllowance, err = a.node.FiatAllowance(cur, addr, factory.PoolAddress(cur)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) getNativeBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r, "addr")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	balance, err := a.node.NativeBalance(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": addr, "balance": balance})
}

// --- pool actions ---

type poolRequest struct {
	caller     crypto.Address
	currency   fiat.Currency
	amount     *big.Int
	onBehalfOf crypto.Address
}

// poolAction decodes the common {amount, onBehalfOf} body for the caller's
// action on the currency's pool.
func poolAction(w http.ResponseWriter, r *http.Request) (*poolRequest, bool) {
	who, ok := caller(w, r)
	if !ok {
		return nil, false
	}
	cur, err := currencyParam(r)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	var body amountRequest
	if err := decodeJSON(r, &body); err != nil {
		writeBadRequest(w, err.Error())
		return nil, false
	}
	amount, err := parseAmount(body.Amount)
	if err != nil {
		writeBadRequest(w, err.Error())
		return nil, false
	}
	onBehalfOf, err := optionalAddress(body.OnBehalfOf)
	if err != nil {
		writeBadRequest(w, "onBehalfOf: "+err.Error())
		return nil, false
	}
	return &poolRequest{caller: who, currency: cur, amount: amount, onBehalfOf: onBehalfOf}, true
}

func (a *api) supply(w http.ResponseWriter, r *http.Request) {
	req, ok := poolAction(w, r)
	if !ok {
		return
	}
	shares, err := a.node.Supply(req.caller, req.currency, req.amount, req.onBehalfOf)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shares": shares})
}

func (a *api) withdraw(w http.ResponseWriter, r *http.Request) {
	req, ok := poolAction(w, r)
	if !ok {
		return
	}
	burned, err := a.node.Withdraw(req.caller, req.currency, req.amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sharesBurned": burned})
}

func (a *api) borrow(w http.ResponseWriter, r *http.Request) {
	req, ok := poolAction(w, r)
	if !ok {
		return
	}
	outstanding, err := a.node.Borrow(req.caller, req.currency, req.amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outstanding": outstanding})
}

func (a *api) repay(w http.ResponseWriter, r *http.Request) {
	req, ok := poolAction(w, r)
	if !ok {
		return
	}
	result, err := a.node.Repay(req.caller, req.currency, req.amount, req.onBehalfOf)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"interest":    result.Interest,
		"principal":   result.Principal,
		"outstanding": result.Outstanding,
	})
}

func (a *api) activatePledge(w http.ResponseWriter, r *http.Request) {
	a.togglePledge(w, r, a.node.ActivatePledge)
}

func (a *api) deactivatePledge(w http.ResponseWriter, r *http.Request) {
	a.togglePledge(w, r, a.node.DeactivatePledge)
}

func (a *api) togglePledge(w http.ResponseWriter, r *http.Request, fn func(crypto.Address, fiat.Currency) error) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	cur, err := currencyParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := fn(who, cur); err != nil {
		writeError(w, err)
		return
	}
	view, err := a.node.Account(cur, who)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// --- fiat ---

func (a *api) approve(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	cur, err := currencyParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req approveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	// Approving zero revokes, so only the sign is checked here.
	amount, ok := new(big.Int).SetString(strings.TrimSpace(req.Amount), 10)
	if !ok || amount.Sign() < 0 {
		writeBadRequest(w, "amount must be a non-negative integer")
		return
	}
	spender := factory.PoolAddress(cur)
	if strings.TrimSpace(req.Spender) != "" {
		if spender, err = parseAddress(req.Spender); err != nil {
			writeBadRequest(w, "spender: "+err.Error())
			return
		}
	}
	if err := a.node.Approve(cur, who, spender, amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"owner": who, "spender": spender, "allowance": amount})
}

func (a *api) associate(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	cur, err := currencyParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := a.node.Associate(cur, who); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": who, "currency": cur, "associated": true})
}

// --- pledges and farmers ---

func (a *api) pledgeDeposit(w http.ResponseWriter, r *http.Request) {
	a.pledgeMove(w, r, a.node.Pledge)
}

func (a *api) pledgeWithdraw(w http.ResponseWriter, r *http.Request) {
	a.pledgeMove(w, r, a.node.Unpledge)
}

func (a *api) pledgeMove(w http.ResponseWriter, r *http.Request, fn func(pledger, farmer crypto.Address, amount *big.Int) error) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req pledgeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	farmer, err := parseAddress(req.Farmer)
	if err != nil {
		writeBadRequest(w, "farmer: "+err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if err := fn(who, farmer, amount); err != nil {
		writeError(w, err)
		return
	}
	view, err := a.node.Pledges(farmer)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *api) registerFarmer(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var profile registry.Profile
	if err := decodeJSON(r, &profile); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if _, err := a.node.RegisterFarmer(who, profile); err != nil {
		writeError(w, err)
		return
	}
	farmer, err := a.node.Farmer(who)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, farmer)
}
