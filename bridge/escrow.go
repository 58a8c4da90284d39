package bridge

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/geanlabs/gravity/ledger"
	"github.com/geanlabs/gravity/storage"
	"github.com/geanlabs/gravity/types"
)

// amount is the stored form of a uint256 balance.
type amount [32]byte

func (a amount) Int() *uint256.Int { return new(uint256.Int).SetBytes32(a[:]) }

func toAmount(v *uint256.Int) amount { return v.Bytes32() }

// holding identifies the balance of one account in one token.
type holding struct {
	Token   types.Address
	Account types.Address
}

func holdingKey(h holding) []byte {
	return append(h.Token.Bytes(), h.Account.Bytes()...)
}

// Payout moves Amount of Token out of escrow to To.
type Payout struct {
	Token  types.Address
	To     types.Address
	Amount *uint256.Int
}

// Escrow tracks the tokens locked in the bridge and the balances paid out of
// it to destinations and relayers.
type Escrow struct {
	locked  *ledger.Keyed[types.Address, amount]
	credits *ledger.Keyed[holding, amount]
}

// NewEscrow creates an escrow ledger.
func NewEscrow() *Escrow {
	return &Escrow{
		locked:  ledger.NewKeyed[types.Address, amount]("escrow", ledger.AddressKey),
		credits: ledger.NewKeyed[holding, amount]("credit", holdingKey),
	}
}

// Locked returns the escrowed balance of token.
func (e *Escrow) Locked(r storage.Reader, token types.Address) (*uint256.Int, error) {
	a, _, err := e.locked.Get(r, token)
	if err != nil {
		return nil, err
	}
	return a.Int(), nil
}

// Credited returns what account has been paid in token.
func (e *Escrow) Credited(r storage.Reader, token, account types.Address) (*uint256.Int, error) {
	a, _, err := e.credits.Get(r, holding{Token: token, Account: account})
	if err != nil {
		return nil, err
	}
	return a.Int(), nil
}

// Lock adds value to the escrowed balance of token.
func (e *Escrow) Lock(w storage.Writer, token types.Address, value *uint256.Int) error {
	_, err := e.locked.Apply(w, token, func(cur amount, _ bool) (amount, error) {
		sum, overflow := new(uint256.Int).AddOverflow(cur.Int(), value)
		if overflow {
			return amount{}, fmt.Errorf("%w: escrow of %s overflows", types.ErrMalformedInput, token.Hex())
		}
		return toAmount(sum), nil
	})
	return err
}

// Release pays out of escrow. Every token must cover the sum of its payouts
// before any balance changes; otherwise ErrInsufficientEscrow is returned and
// nothing is written.
func (e *Escrow) Release(w storage.Writer, payouts []Payout) error {
	need := make(map[types.Address]*uint256.Int)
	var order []types.Address
	for i, p := range payouts {
		sum, ok := need[p.Token]
		if !ok {
			sum = new(uint256.Int)
			need[p.Token] = sum
			order = append(order, p.Token)
		}
		if _, overflow := sum.AddOverflow(sum, p.Amount); overflow {
			return fmt.Errorf("%w: payout %d overflows", types.ErrMalformedInput, i)
		}
	}

	for _, token := range order {
		have, err := e.Locked(w, token)
		if err != nil {
			return err
		}
		if have.Lt(need[token]) {
			return fmt.Errorf("%w: token %s has %s escrowed, needs %s",
				types.ErrInsufficientEscrow, token.Hex(), have.Dec(), need[token].Dec())
		}
	}

	for _, token := range order {
		have, err := e.Locked(w, token)
		if err != nil {
			return err
		}
		if err := e.locked.Put(w, token, toAmount(have.Sub(have, need[token]))); err != nil {
			return err
		}
	}
	for _, p := range payouts {
		if p.Amount.IsZero() {
			continue
		}
		h := holding{Token: p.Token, Account: p.To}
		_, err := e.credits.Apply(w, h, func(cur amount, _ bool) (amount, error) {
			return toAmount(new(uint256.Int).Add(cur.Int(), p.Amount)), nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
