package timeline

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	nativecommon "mavuno/native/common"
	"mavuno/native/fiat"
)

// FormatFiat renders minor units of code with the currency symbol and
// thousands separators, e.g. "₦1,234.56". Unknown codes fall back to the code.
func FormatFiat(code string, minor *big.Int) string {
	prefix := strings.ToUpper(strings.TrimSpace(code)) + " "
	decimals := int32(fiat.Decimals)
	if cur, err := fiat.ParseCurrency(code); err == nil {
		info := cur.Info()
		prefix = info.Symbol
		decimals = int32(info.Decimals)
	}
	return prefix + groupThousands(scaled(minor, decimals).StringFixed(decimals))
}

// FormatNative renders native minor units as whole coins, trimming trailing
// zeros, e.g. "12.5 HBAR".
func FormatNative(units *big.Int) string {
	return groupThousands(scaled(units, nativecommon.NativeDecimals).String()) + " " + nativecommon.NativeSymbol
}

func scaled(v *big.Int, decimals int32) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -decimals)
}

func groupThousands(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if hasFrac {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return sign + b.String()
}
