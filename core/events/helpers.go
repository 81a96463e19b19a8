package events

import (
	"math/big"
	"strconv"
	"strings"

	"mavuno/crypto"
)

func normalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func addrString(a crypto.Address) string {
	return a.String()
}

func uintString(v uint64) string {
	return strconv.FormatUint(v, 10)
}
