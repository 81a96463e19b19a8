package core

import (
	"math/big"

	"mavuno/crypto"
	nativecommon "mavuno/native/common"
	"mavuno/native/factory"
	"mavuno/native/fiat"
	"mavuno/native/lending"
	"mavuno/native/oracle"
	"mavuno/native/pledge"
	"mavuno/native/registry"
)

// AccountView is one account's standing in a pool, as a supplier and as a
// borrower.
type AccountView struct {
	Currency      string                  `json:"currency"`
	Account       crypto.Address          `json:"account"`
	Shares        *big.Int                `json:"shares"`
	SupplyBalance *big.Int                `json:"supplyBalance"`
	FiatBalance   *big.Int                `json:"fiatBalance"`
	Position      *lending.FarmerPosition `json:"position"`
}

// PledgeView is a farmer's pledge manager with its contributors.
type PledgeView struct {
	Manager  *pledge.Manager       `json:"manager"`
	Pledgers []pledge.Contribution `json:"pledgers"`
}

// Pools lists every deployed pool in creation order.
func (n *Node) Pools() ([]factory.Pool, error) {
	var out []factory.Pool
	err := n.view(func(tx *txn) error {
		var err error
		out, err = tx.factory().Pools()
		return err
	})
	return out, err
}

// PoolSnapshot reports the aggregate state of cur's pool projected to now.
func (n *Node) PoolSnapshot(cur fiat.Currency) (*lending.Snapshot, error) {
	var out *lending.Snapshot
	err := n.view(func(tx *txn) error {
		pool, err := tx.pool(cur)
		if err != nil {
			return err
		}
		out, err = pool.Snapshot()
		return err
	})
	return out, err
}

func (n *Node) Account(cur fiat.Currency, account crypto.Address) (*AccountView, error) {
	var out *AccountView
	err := n.view(func(tx *txn) error {
		pool, err := tx.pool(cur)
		if err != nil {
			return err
		}
		view := &AccountView{Currency: cur.String(), Account: account}
		if view.Shares, err = pool.BalanceOf(account); err != nil {
			return err
		}
		if view.SupplyBalance, err = pool.SupplyBalance(account); err != nil {
			return err
		}
		if view.FiatBalance, err = tx.token(cur).BalanceOf(account); err != nil {
			return err
		}
		if view.Position, err = pool.FarmerPositions(account); err != nil {
			return err
		}
		out = view
		return nil
	})
	return out, err
}

func (n *Node) Outstanding(cur fiat.Currency, farmer crypto.Address) (*big.Int, error) {
	var out *big.Int
	err := n.view(func(tx *txn) error {
		pool, err := tx.pool(cur)
		if err != nil {
			return err
		}
		out, err = pool.Outstanding(farmer)
		return err
	})
	return out, err
}

func (n *Node) Borrowable(cur fiat.Currency, farmer crypto.Address) (*big.Int, error) {
	var out *big.Int
	err := n.view(func(tx *txn) error {
		pool, err := tx.pool(cur)
		if err != nil {
			return err
		}
		out, err = pool.Borrowable(farmer)
		return err
	})
	return out, err
}

func (n *Node) HealthFactorLTV(cur fiat.Currency, farmer crypto.Address) (*big.Int, error) {
	var out *big.Int
	err := n.view(func(tx *txn) error {
		pool, err := tx.pool(cur)
		if err != nil {
			return err
		}
		out, err = pool.HealthFactorLTV(farmer)
		return err
	})
	return out, err
}

func (n *Node) Quote(cur fiat.Currency) (*oracle.Quote, error) {
	var out *oracle.Quote
	err := n.view(func(tx *txn) error {
		var err error
		out, err = tx.oracle().Quote(cur)
		return err
	})
	return out, err
}

func (n *Node) Farmer(addr crypto.Address) (*registry.Farmer, error) {
	var out *registry.Farmer
	err := n.view(func(tx *txn) error {
		var err error
		out, err = tx.registry().Farmer(addr)
		return err
	})
	return out, err
}

// Farmers returns the directory of registered farmers.
func (n *Node) Farmers() ([]*registry.Farmer, error) {
	var out []*registry.Farmer
	err := n.view(func(tx *txn) error {
		addrs, err := tx.registry().Farmers()
		if err != nil {
			return err
		}
		out = make([]*registry.Farmer, 0, len(addrs))
		for _, addr := range addrs {
			farmer, err := tx.registry().Farmer(addr)
			if err != nil {
				return err
			}
			out = append(out, farmer)
		}
		return nil
	})
	return out, err
}

func (n *Node) Pledges(farmer crypto.Address) (*PledgeView, error) {
	var out *PledgeView
	err := n.view(func(tx *txn) error {
		manager, err := tx.managerOf(farmer)
		if err != nil {
			return err
		}
		view := &PledgeView{}
		if view.Manager, err = tx.pledge().Manager(manager); err != nil {
			return err
		}
		if view.Pledgers, err = tx.pledge().Pledgers(manager); err != nil {
			return err
		}
		out = view
		return nil
	})
	return out, err
}

func (n *Node) FiatInfo(cur fiat.Currency) (*fiat.Info, error) {
	var out *fiat.Info
	err := n.view(func(tx *txn) error {
		var err error
		out, err = tx.token(cur).Info()
		return err
	})
	return out, err
}

func (n *Node) FiatBalance(cur fiat.Currency, account crypto.Address) (*big.Int, error) {
	var out *big.Int
	err := n.view(func(tx *txn) error {
		var err error
		out, err = tx.token(cur).BalanceOf(account)
		return err
	})
	return out, err
}

func (n *Node) FiatAllowance(cur fiat.Currency, owner, spender crypto.Address) (*big.Int, error) {
	var out *big.Int
	err := n.view(func(tx *txn) error {
		var err error
		out, err = tx.token(cur).Allowance(owner, spender)
		return err
	})
	return out, err
}

func (n *Node) IsAssociated(cur fiat.Currency, account crypto.Address) (bool, error) {
	var out bool
	err := n.view(func(tx *txn) error {
		var err error
		out, err = tx.token(cur).IsAssociated(account)
		return err
	})
	return out, err
}

func (n *Node) NativeBalance(account crypto.Address) (*big.Int, error) {
	var out *big.Int
	err := n.view(func(tx *txn) error {
		var err error
		out, err = tx.state.Balance(account, nativecommon.NativeSymbol)
		return err
	})
	return out, err
}
