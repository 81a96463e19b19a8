package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"

	"mavuno/core"
	"mavuno/gateway/middleware"
	nativecommon "mavuno/native/common"
	"mavuno/native/factory"
	"mavuno/native/fiat"
	"mavuno/native/lending"
	"mavuno/native/oracle"
	"mavuno/native/pledge"
	"mavuno/native/registry"
	"mavuno/services/timeline"
)

const requestLimit = 1 << 20 // 1 MiB

type errorMapping struct {
	err    error
	status int
	code   string
}

// ledgerErrors maps sentinels to HTTP statuses. The first match wins, so
// specific sentinels precede the ones they wrap.
var ledgerErrors = []errorMapping{
	{nativecommon.ErrModulePaused, http.StatusServiceUnavailable, "module_paused"},
	{nativecommon.ErrPriceUnavailable, http.StatusServiceUnavailable, "price_unavailable"},

	{core.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
	{fiat.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
	{oracle.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
	{registry.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
	{factory.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
	{lending.ErrUnauthorized, http.StatusForbidden, "unauthorized"},

	{core.ErrPoolNotFound, http.StatusNotFound, "pool_not_found"},
	{core.ErrFarmerNotRegistered, http.StatusNotFound, "farmer_not_registered"},
	{registry.ErrNotRegistered, http.StatusNotFound, "farmer_not_registered"},
	{pledge.ErrUnknownManager, http.StatusNotFound, "pledge_manager_not_found"},
	{fiat.ErrUnderlyingMissing, http.StatusNotFound, "underlying_missing"},
	{timeline.ErrPostNotFound, http.StatusNotFound, "post_not_found"},

	{fiat.ErrUnderlyingExists, http.StatusConflict, "underlying_exists"},
	{factory.ErrPoolExists, http.StatusConflict, "pool_exists"},
	{registry.ErrAlreadyRegistered, http.StatusConflict, "farmer_already_registered"},
	{pledge.ErrManagerExists, http.StatusConflict, "pledge_manager_exists"},
	{lending.ErrAlreadyActive, http.StatusConflict, "pledge_already_active"},

	{core.ErrUnknownModule, http.StatusBadRequest, "unknown_module"},
	{fiat.ErrUnknownCurrency, http.StatusBadRequest, "unknown_currency"},
	{fiat.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{fiat.ErrInvalidUnderlyingParam, http.StatusBadRequest, "invalid_underlying"},
	{lending.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{pledge.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{oracle.ErrInvalidRate, http.StatusBadRequest, "invalid_rate"},
	{registry.ErrInvalidProfile, http.StatusBadRequest, "invalid_profile"},
	{timeline.ErrInvalidPost, http.StatusBadRequest, "invalid_post"},
	{timeline.ErrInvalidAccount, http.StatusBadRequest, "invalid_account"},

	{fiat.ErrNotAssociated, http.StatusUnprocessableEntity, "not_associated"},
	{fiat.ErrInsufficientBalance, http.StatusUnprocessableEntity, "insufficient_balance"},
	{fiat.ErrInsufficientAllowance, http.StatusUnprocessableEntity, "insufficient_allowance"},
	{fiat.ErrOverflow, http.StatusUnprocessableEntity, "amount_overflow"},
	{pledge.ErrInsufficientFunds, http.StatusUnprocessableEntity, "insufficient_funds"},
	{pledge.ErrInsufficientPledge, http.StatusUnprocessableEntity, "insufficient_pledge"},
	{lending.ErrAmountTooSmall, http.StatusUnprocessableEntity, "amount_too_small"},
	{lending.ErrInsufficientBalance, http.StatusUnprocessableEntity, "insufficient_balance"},
	{lending.ErrInsufficientLiquidity, http.StatusUnprocessableEntity, "insufficient_liquidity"},
	{lending.ErrInsufficientCollateral, http.StatusUnprocessableEntity, "exceeds_borrowable"},
	{lending.ErrInsufficientReserves, http.StatusUnprocessableEntity, "insufficient_reserves"},
	{lending.ErrPledgeInactive, http.StatusUnprocessableEntity, "pledge_inactive"},
	{lending.ErrNoPledgeManager, http.StatusUnprocessableEntity, "no_pledge_manager"},
	{lending.ErrNoCollateral, http.StatusUnprocessableEntity, "no_collateral"},
	{lending.ErrOutstandingDebt, http.StatusUnprocessableEntity, "outstanding_debt"},
	{lending.ErrNoDebt, http.StatusUnprocessableEntity, "no_debt"},
	{lending.ErrRepayExceedsDebt, http.StatusUnprocessableEntity, "repay_exceeds_debt"},
	{lending.ErrWithdrawUnsafe, http.StatusUnprocessableEntity, "withdraw_unsafe"},
}

// statusFor resolves err to an HTTP status and error code.
func statusFor(err error) (int, string) {
	for _, m := range ledgerErrors {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

func writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = http.StatusText(status)
	}
	middleware.WriteError(w, status, code, message)
}

func writeBadRequest(w http.ResponseWriter, message string) {
	middleware.WriteError(w, http.StatusBadRequest, "bad_request", message)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errors.New("missing request body")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, requestLimit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

// parseAmount reads a base-10 integer of minor units. Amounts travel as
// strings so they keep full precision in JavaScript clients.
func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, errors.New("amount is required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("amount %q is not an integer", value)
	}
	if amount.Sign() <= 0 {
		return nil, errors.New("amount must be positive")
	}
	return amount, nil
}
