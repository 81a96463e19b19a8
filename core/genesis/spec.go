// core/genesis/spec.go
package genesis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"
	"time"

	"mavuno/crypto"
	nativecommon "mavuno/native/common"
	"mavuno/native/fiat"
)

// DefaultAutoRenewSeconds is the underlying token auto-renew period (90 days).
const DefaultAutoRenewSeconds = 7_776_000

type GenesisSpec struct {
	GenesisTime string              `json:"genesisTime" toml:"GenesisTime"`
	NativeToken NativeTokenSpec     `json:"nativeToken" toml:"NativeToken"`
	Roles       map[string][]string `json:"roles" toml:"Roles"` // role -> []addr
	Currencies  []CurrencySpec      `json:"currencies" toml:"Currencies"`
	Alloc       map[string]string   `json:"alloc" toml:"Alloc"` // addr -> native units

	genesisTimestamp time.Time
	roles            map[string][]crypto.Address
	alloc            map[crypto.Address]*big.Int
}

type NativeTokenSpec struct {
	Symbol   string `json:"symbol" toml:"Symbol"`
	Name     string `json:"name" toml:"Name"`
	Decimals uint8  `json:"decimals" toml:"Decimals"`
}

// CurrencySpec provisions one fiat currency: its underlying token, the
// opening oracle rate and, optionally, its lending pool.
type CurrencySpec struct {
	Code             string `json:"code" toml:"Code"`
	Name             string `json:"name" toml:"Name"`
	Symbol           string `json:"symbol" toml:"Symbol"`
	AutoRenewSeconds uint64 `json:"autoRenewSeconds" toml:"AutoRenewSeconds"`
	Rate             string `json:"rate" toml:"Rate"`
	CreatePool       bool   `json:"createPool" toml:"CreatePool"`

	currency fiat.Currency
	rate     *big.Int
}

func (c *CurrencySpec) Currency() fiat.Currency { return c.currency }

// RateValue is the parsed opening rate. Nil means no rate is seeded.
func (c *CurrencySpec) RateValue() *big.Int {
	if c.rate == nil {
		return nil
	}
	return new(big.Int).Set(c.rate)
}

// Default mirrors the production deployment: the native coin, the three
// supported currencies with their opening rates, and admin holding every
// operator role.
func Default(admin crypto.Address) *GenesisSpec {
	spec := &GenesisSpec{
		GenesisTime: "2024-01-01T00:00:00Z",
		NativeToken: DefaultNativeToken(),
		Roles: map[string][]string{
			nativecommon.RoleAdmin:       {admin.String()},
			nativecommon.RoleOracleAdmin: {admin.String()},
		},
		Currencies: []CurrencySpec{
			{Code: "NGN", Name: "Nigeria Naira", Symbol: "NGN", AutoRenewSeconds: DefaultAutoRenewSeconds, Rate: "193700", CreatePool: true},
			{Code: "CEDI", Name: "Ghanaian Cedi", Symbol: "CEDI", AutoRenewSeconds: DefaultAutoRenewSeconds, Rate: "151200", CreatePool: true},
			{Code: "RAND", Name: "South African Rand", Symbol: "RAND", AutoRenewSeconds: DefaultAutoRenewSeconds, Rate: "160200", CreatePool: true},
		},
	}
	if err := spec.Validate(); err != nil {
		panic(fmt.Sprintf("default genesis invalid: %v", err))
	}
	return spec
}

// DefaultNativeToken describes the collateral coin.
func DefaultNativeToken() NativeTokenSpec {
	return NativeTokenSpec{Symbol: nativecommon.NativeSymbol, Name: "Hedera", Decimals: nativecommon.NativeDecimals}
}

func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	var spec GenesisSpec
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode genesis spec %q: %w", path, err)
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis spec %q: %w", path, err)
	}
	return &spec, nil
}

func (s *GenesisSpec) GenesisTimestamp() time.Time { return s.genesisTimestamp }

// RoleMembers returns the parsed members of role in declaration order.
func (s *GenesisSpec) RoleMembers(role string) []crypto.Address {
	return append([]crypto.Address(nil), s.roles[role]...)
}

// RoleNames lists the declared roles sorted by name.
func (s *GenesisSpec) RoleNames() []string {
	names := make([]string, 0, len(s.roles))
	for role := range s.roles {
		names = append(names, role)
	}
	sort.Strings(names)
	return names
}

// Allocations returns native balances keyed by account.
func (s *GenesisSpec) Allocations() map[crypto.Address]*big.Int {
	out := make(map[crypto.Address]*big.Int, len(s.alloc))
	for addr, amount := range s.alloc {
		out[addr] = new(big.Int).Set(amount)
	}
	return out
}

// Validate checks the spec and caches its parsed values. It must run before
// the spec is applied.
func (s *GenesisSpec) Validate() error {
	parsedTime, err := parseGenesisTime(s.GenesisTime)
	if err != nil {
		return err
	}
	s.genesisTimestamp = parsedTime

	if err := s.NativeToken.validate(); err != nil {
		return fmt.Errorf("nativeToken: %w", err)
	}

	// roles
	s.roles = make(map[string][]crypto.Address, len(s.Roles))
	roleNames := make([]string, 0, len(s.Roles))
	for role := range s.Roles {
		roleNames = append(roleNames, role)
	}
	sort.Strings(roleNames)
	for _, role := range roleNames {
		if strings.TrimSpace(role) == "" {
			return fmt.Errorf("roles: role name must be provided")
		}
		for i, account := range s.Roles[role] {
			addr, err := crypto.DecodeAddress(strings.TrimSpace(account))
			if err != nil {
				return fmt.Errorf("roles[%q][%d]: %w", role, i, err)
			}
			s.roles[role] = append(s.roles[role], addr)
		}
	}

	// currencies
	seen := make(map[fiat.Currency]struct{}, len(s.Currencies))
	needsRate := false
	for i := range s.Currencies {
		c := &s.Currencies[i]
		if err := c.validate(); err != nil {
			return fmt.Errorf("currencies[%d]: %w", i, err)
		}
		if _, dup := seen[c.currency]; dup {
			return fmt.Errorf("currencies[%d]: duplicate currency %q", i, c.Code)
		}
		seen[c.currency] = struct{}{}
		if c.rate != nil {
			needsRate = true
		}
	}
	if len(s.Currencies) > 0 && len(s.roles[nativecommon.RoleAdmin]) == 0 {
		return fmt.Errorf("roles: %s required to provision currencies", nativecommon.RoleAdmin)
	}
	if needsRate && len(s.roles[nativecommon.RoleOracleAdmin]) == 0 {
		return fmt.Errorf("roles: %s required to seed oracle rates", nativecommon.RoleOracleAdmin)
	}

	// alloc
	s.alloc = make(map[crypto.Address]*big.Int, len(s.Alloc))
	accounts := make([]string, 0, len(s.Alloc))
	for account := range s.Alloc {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)
	for _, account := range accounts {
		addr, err := crypto.DecodeAddress(strings.TrimSpace(account))
		if err != nil {
			return fmt.Errorf("alloc[%q]: %w", account, err)
		}
		amount, err := parseAmountString(s.Alloc[account])
		if err != nil {
			return fmt.Errorf("alloc[%q]: %w", account, err)
		}
		if _, dup := s.alloc[addr]; dup {
			return fmt.Errorf("alloc[%q]: duplicate account", account)
		}
		s.alloc[addr] = amount
	}
	return nil
}

func (t *NativeTokenSpec) validate() error {
	if t == nil {
		return fmt.Errorf("token spec must not be nil")
	}
	if strings.TrimSpace(t.Symbol) == "" {
		return fmt.Errorf("symbol must be provided")
	}
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("name must be provided")
	}
	if t.Decimals > 36 {
		return fmt.Errorf("decimals must be <= 36")
	}
	return nil
}

func (c *CurrencySpec) validate() error {
	cur, err := fiat.ParseCurrency(c.Code)
	if err != nil {
		return err
	}
	c.currency = cur
	if strings.TrimSpace(c.Name) == "" {
		c.Name = cur.Info().Name
	}
	if strings.TrimSpace(c.Symbol) == "" {
		c.Symbol = cur.String()
	}
	c.rate = nil
	if strings.TrimSpace(c.Rate) != "" {
		rate, err := parseAmountString(c.Rate)
		if err != nil {
			return fmt.Errorf("rate: %w", err)
		}
		if rate.Sign() == 0 {
			return fmt.Errorf("rate must be positive")
		}
		c.rate = rate
	}
	return nil
}

func parseAmountString(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}

func parseGenesisTime(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, fmt.Errorf("genesisTime must be provided")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("invalid genesisTime %q", value)
}
