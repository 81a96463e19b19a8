package events

import (
	"math/big"
	"strconv"

	"mavuno/core/types"
	"mavuno/crypto"
)

// TypeOracleRateUpdated is emitted when an admin overwrites a fiat rate.
const TypeOracleRateUpdated = "oracle.rate_updated"

type OracleRateUpdated struct {
	Currency  string
	Rate      *big.Int
	UpdatedBy crypto.Address
	UpdatedAt int64
}

func (OracleRateUpdated) EventType() string { return TypeOracleRateUpdated }

func (e OracleRateUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeOracleRateUpdated,
		Attributes: map[string]string{
			"currency":  normalizeCurrency(e.Currency),
			"rate":      amountString(e.Rate),
			"updatedBy": addrString(e.UpdatedBy),
			"updatedAt": strconv.FormatInt(e.UpdatedAt, 10),
		},
	}
}
