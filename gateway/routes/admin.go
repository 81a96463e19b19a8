package routes

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

type rateRequest struct {
	Rate string `json:"rate"`
}

type accountRequest struct {
	Account string `json:"account"`
}

type transferRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

func (a *api) setRate(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	cur, err := currencyParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req rateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	rate, err := parseAmount(req.Rate)
	if err != nil {
		writeBadRequest(w, "rate: "+err.Error())
		return
	}
	if err := a.node.SetRate(who, cur, rate); err != nil {
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

func (a *api) createPool(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	cur, err := currencyParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	pool, err := a.node.CreatePool(who, cur)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"currency": cur, "address": pool})
}

func (a *api) withdrawReserves(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	cur, err := currencyParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req transferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	to, err := parseAddress(req.To)
	if err != nil {
		writeBadRequest(w, "to: "+err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if err := a.node.WithdrawReserves(who, cur, to, amount); err != nil {
		writeError(w, err)
		return
	}
	snap, err := a.node.PoolSnapshot(cur)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *api) verifyFarmer(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	farmer, err := addressParam(r, "addr")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if err := a.node.VerifyFarmer(who, farmer); err != nil {
		writeError(w, err)
		return
	}
	record, err := a.node.Farmer(farmer)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (a *api) grantMinter(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	cur, err := currencyParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req accountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	account, err := parseAddress(req.Account)
	if err != nil {
		writeBadRequest(w, "account: "+err.Error())
		return
	}
	if err := a.node.GrantMinter(who, cur, account); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"currency": cur, "minter": account})
}

func (a *api) mint(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	cur, err := currencyParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req transferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	to, err := parseAddress(req.To)
	if err != nil {
		writeBadRequest(w, "to: "+err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if err := a.node.Mint(who, cur, to, amount); err != nil {
		writeError(w, err)
		return
	}
	balance, err := a.node.FiatBalance(cur, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"currency": cur, "to": to, "balance": balance})
}

func (a *api) pauseModule(paused bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		who, ok := caller(w, r)
		if !ok {
			return
		}
		module := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "module")))
		if err := a.node.SetModulePaused(who, module, paused); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"module": module, "paused": paused})
	}
}
