package lending

import (
	"math/big"
	"strings"

	"mavuno/crypto"
)

type kvBackend interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	HasRole(role string, addr crypto.Address) bool
}

// Store persists lending records in the ledger KV space.
type Store struct {
	kv kvBackend
}

func NewStore(kv kvBackend) *Store { return &Store{kv: kv} }

func poolPrefix(poolID string) string {
	return "lending/" + strings.ToUpper(strings.TrimSpace(poolID)) + "/"
}

func marketKey(poolID string) []byte { return []byte(poolPrefix(poolID) + "market") }

func positionKey(poolID string, farmer crypto.Address) []byte {
	return append([]byte(poolPrefix(poolID)+"position/"), farmer[:]...)
}

func sharesKey(poolID string, account crypto.Address) []byte {
	return append([]byte(poolPrefix(poolID)+"shares/"), account[:]...)
}

// GetMarket returns nil when the pool has not been initialised.
func (s *Store) GetMarket(poolID string) (*Market, error) {
	var m Market
	ok, err := s.kv.KVGet(marketKey(poolID), &m)
	if err != nil || !ok {
		return nil, err
	}
	m.normalize()
	return &m, nil
}

func (s *Store) PutMarket(poolID string, market *Market) error {
	return s.kv.KVPut(marketKey(poolID), market)
}

func (s *Store) GetPosition(poolID string, farmer crypto.Address) (*Position, error) {
	var p Position
	if _, err := s.kv.KVGet(positionKey(poolID, farmer), &p); err != nil {
		return nil, err
	}
	p.normalize()
	return &p, nil
}

func (s *Store) PutPosition(poolID string, farmer crypto.Address, position *Position) error {
	if position == nil || (position.ScaledDebt.Sign() == 0 && position.Principal.Sign() == 0) {
		return s.kv.KVDelete(positionKey(poolID, farmer))
	}
	return s.kv.KVPut(positionKey(poolID, farmer), position)
}

func (s *Store) GetShares(poolID string, account crypto.Address) (*big.Int, error) {
	shares := new(big.Int)
	ok, err := s.kv.KVGet(sharesKey(poolID, account), shares)
	if err != nil {
		return nil, err
	}
	if !ok {
		return zero(), nil
	}
	return shares, nil
}

func (s *Store) PutShares(poolID string, account crypto.Address, shares *big.Int) error {
	if shares == nil || shares.Sign() == 0 {
		return s.kv.KVDelete(sharesKey(poolID, account))
	}
	return s.kv.KVPut(sharesKey(poolID, account), shares)
}

func (s *Store) HasRole(role string, addr crypto.Address) bool {
	return s.kv.HasRole(role, addr)
}
