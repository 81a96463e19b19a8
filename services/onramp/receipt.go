package onramp

import (
	"encoding/hex"
	"math/big"
	"strings"

	"lukechampine.com/blake3"
)

// ReceiptID derives the stable receipt identifier of a payment from
// provider|reference|account|amount.
func ReceiptID(provider, reference, account string, amount *big.Int) string {
	value := "0"
	if amount != nil {
		value = amount.String()
	}
	payload := strings.Join([]string{provider, reference, account, value}, "|")
	sum := blake3.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
