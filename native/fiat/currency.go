package fiat

import (
	"errors"
	"fmt"
	"strings"
)

// Currency enumerates the pegged fiat units the ledger can issue.
type Currency uint8

const (
	NGN Currency = iota + 1
	CEDI
	RAND
)

// Decimals is the minor-unit precision shared by every fiat currency.
const Decimals uint8 = 2

var ErrUnknownCurrency = errors.New("fiat: unknown currency")

// CurrencyInfo is the static metadata for a currency.
type CurrencyInfo struct {
	Code     string `json:"code"`
	ISO      string `json:"iso"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals uint8  `json:"decimals"`
}

var currencyTable = map[Currency]CurrencyInfo{
	NGN:  {Code: "NGN", ISO: "NGN", Symbol: "₦", Name: "Nigeria Naira", Decimals: Decimals},
	CEDI: {Code: "CEDI", ISO: "GHS", Symbol: "₵", Name: "Ghanaian Cedi", Decimals: Decimals},
	RAND: {Code: "RAND", ISO: "ZAR", Symbol: "R", Name: "South African Rand", Decimals: Decimals},
}

// Currencies lists every supported currency in declaration order.
func Currencies() []Currency {
	return []Currency{NGN, CEDI, RAND}
}

// ParseCurrency resolves a currency code or ISO name, ignoring case.
func ParseCurrency(value string) (Currency, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	if normalized == "" {
		return 0, ErrUnknownCurrency
	}
	for _, cur := range Currencies() {
		info := currencyTable[cur]
		if normalized == info.Code || normalized == info.ISO {
			return cur, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCurrency, value)
}

// Valid reports whether c is a member of the currency table.
func (c Currency) Valid() bool {
	_, ok := currencyTable[c]
	return ok
}

// Info returns the table entry for c. Unknown values yield a zero record.
func (c Currency) Info() CurrencyInfo {
	return currencyTable[c]
}

func (c Currency) String() string {
	if info, ok := currencyTable[c]; ok {
		return info.Code
	}
	return fmt.Sprintf("Currency(%d)", uint8(c))
}

func (c Currency) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, ErrUnknownCurrency
	}
	return []byte(c.String()), nil
}

func (c *Currency) UnmarshalText(text []byte) error {
	parsed, err := ParseCurrency(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
