package state

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"crowdsale/core/events"
	"crowdsale/native/sale"
)

// ValueAsset is the symbol of the contributed value asset.
const ValueAsset = "ETH"

var (
	ErrInsufficientBalance = errors.New("state: insufficient balance")
	ErrBalanceOverflow     = errors.New("state: balance overflow")
	ErrTokenNotRegistered  = errors.New("state: token not registered")

	errInvalidAmount = errors.New("state: amount must be positive")
	errZeroAddress   = errors.New("state: zero address")

	balancePrefix = []byte("balance:")
	grantPrefix   = []byte("trustee/grants/")
	holdersKey    = []byte("accounts/index")
)

// TrusteeGrant is a vesting grant recorded against a trustee.
type TrusteeGrant struct {
	Token    string
	Amount   *big.Int
	Start    uint64
	Cliff    uint64
	Duration uint64
}

// Account summarises the balances held by an address.
type Account struct {
	Address common.Address
	Value   *big.Int
	Tokens  *big.Int
	Grants  []TrusteeGrant
}

func balanceKey(addr common.Address, symbol string) []byte {
	buf := make([]byte, len(balancePrefix)+len(symbol)+1+common.AddressLength)
	copy(buf, balancePrefix)
	copy(buf[len(balancePrefix):], symbol)
	buf[len(balancePrefix)+len(symbol)] = ':'
	copy(buf[len(balancePrefix)+len(symbol)+1:], addr.Bytes())
	return ethcrypto.Keccak256(buf)
}

func grantKey(trustee common.Address) []byte {
	return append(append([]byte(nil), grantPrefix...), trustee.Bytes()...)
}

// Balance retrieves the balance of addr in the given asset.
func (m *Manager) Balance(addr common.Address, symbol string) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := m.getRLP(balanceKey(addr, strings.ToUpper(strings.TrimSpace(symbol))), amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

func (m *Manager) adjustBalance(addr common.Address, symbol string, delta *big.Int) (*big.Int, error) {
	if addr == (common.Address{}) {
		return nil, errZeroAddress
	}
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	current, err := m.Balance(addr, normalized)
	if err != nil {
		return nil, err
	}
	updated := new(big.Int).Add(current, delta)
	if updated.Sign() < 0 {
		return nil, ErrInsufficientBalance
	}
	if updated.BitLen() > 256 {
		return nil, ErrBalanceOverflow
	}
	if err := m.putRLP(balanceKey(addr, normalized), updated); err != nil {
		return nil, err
	}
	if err := m.KVAppend(holdersKey, addr.Bytes()); err != nil {
		return nil, err
	}
	return updated, nil
}

func positive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	return nil
}

// ValueBalance returns the value asset balance of addr.
func (m *Manager) ValueBalance(addr common.Address) (*big.Int, error) {
	return m.Balance(addr, ValueAsset)
}

// Fund credits value to addr from outside the sale, e.g. a bridge deposit.
func (m *Manager) Fund(addr common.Address, amount *big.Int) error {
	if err := positive(amount); err != nil {
		return err
	}
	if _, err := m.adjustBalance(addr, ValueAsset, amount); err != nil {
		return err
	}
	m.emit(events.Transfer{Asset: ValueAsset, To: addr, Amount: new(big.Int).Set(amount), Reason: "fund"})
	return nil
}

// Withdraw debits value from addr.
func (m *Manager) Withdraw(from common.Address, amount *big.Int) error {
	if err := positive(amount); err != nil {
		return err
	}
	if _, err := m.adjustBalance(from, ValueAsset, new(big.Int).Neg(amount)); err != nil {
		return err
	}
	m.emit(events.Transfer{Asset: ValueAsset, From: from, Amount: new(big.Int).Set(amount), Reason: "debit"})
	return nil
}

// Deposit credits value to addr.
func (m *Manager) Deposit(to common.Address, amount *big.Int) error {
	if err := positive(amount); err != nil {
		return err
	}
	if _, err := m.adjustBalance(to, ValueAsset, amount); err != nil {
		return err
	}
	m.emit(events.Transfer{Asset: ValueAsset, To: to, Amount: new(big.Int).Set(amount), Reason: "credit"})
	return nil
}

// Ledger issues the sale token through the state manager.
type Ledger struct {
	m     *Manager
	token string
}

// Ledger returns a token ledger for the registered token symbol.
func (m *Manager) Ledger(symbol string) (*Ledger, error) {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if !m.TokenExists(normalized) {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotRegistered, normalized)
	}
	return &Ledger{m: m, token: normalized}, nil
}

// Token returns the symbol issued by the ledger.
func (l *Ledger) Token() string { return l.token }

// Balance returns the token balance of addr.
func (l *Ledger) Balance(addr common.Address) (*big.Int, error) {
	return l.m.Balance(addr, l.token)
}

func (l *Ledger) issue(to common.Address, amount *big.Int, reason string) error {
	if err := positive(amount); err != nil {
		return err
	}
	if _, err := l.m.adjustBalance(to, l.token, amount); err != nil {
		return err
	}
	total, err := l.m.AdjustTokenSupply(l.token, amount)
	if err != nil {
		return err
	}
	l.m.emit(events.TokenMinted{Recipient: to, Token: l.token, Amount: new(big.Int).Set(amount)})
	l.m.emit(events.TokenSupply{Token: l.token, Total: total, Delta: new(big.Int).Set(amount), Reason: reason})
	return nil
}

// Mint issues amount tokens to addr.
func (l *Ledger) Mint(to common.Address, amount *big.Int, reason string) error {
	if strings.TrimSpace(reason) == "" {
		reason = events.SupplyReasonMint
	}
	return l.issue(to, amount, reason)
}

// Grant issues amount tokens to the trustee and records the vesting schedule
// they are held under.
func (l *Ledger) Grant(trustee common.Address, amount *big.Int, vesting sale.Vesting) error {
	if err := l.issue(trustee, amount, events.SupplyReasonGrant); err != nil {
		return err
	}
	var grants []TrusteeGrant
	if err := l.m.KVGetList(grantKey(trustee), &grants); err != nil {
		return err
	}
	grants = append(grants, TrusteeGrant{
		Token:    l.token,
		Amount:   new(big.Int).Set(amount),
		Start:    vesting.Start,
		Cliff:    vesting.Cliff,
		Duration: vesting.Duration,
	})
	if err := l.m.KVPut(grantKey(trustee), grants); err != nil {
		return err
	}
	l.m.emit(events.TrusteeGrant{
		Trustee: trustee,
		Amount:  new(big.Int).Set(amount),
		Start:   vesting.Start,
		Cliff:   vesting.Cliff,
		Vesting: vesting.Duration,
	})
	return nil
}

// TrusteeGrants lists the grants recorded against trustee.
func (m *Manager) TrusteeGrants(trustee common.Address) ([]TrusteeGrant, error) {
	var grants []TrusteeGrant
	if err := m.KVGetList(grantKey(trustee), &grants); err != nil {
		return nil, err
	}
	return grants, nil
}

// Account returns the value and token balances of addr plus any trustee grants.
func (m *Manager) Account(addr common.Address, token string) (*Account, error) {
	value, err := m.ValueBalance(addr)
	if err != nil {
		return nil, err
	}
	tokens, err := m.Balance(addr, token)
	if err != nil {
		return nil, err
	}
	grants, err := m.TrusteeGrants(addr)
	if err != nil {
		return nil, err
	}
	return &Account{Address: addr, Value: value, Tokens: tokens, Grants: grants}, nil
}

// Holders returns every address that has ever held a balance.
func (m *Manager) Holders() ([]common.Address, error) {
	var raw [][]byte
	if err := m.KVGetList(holdersKey, &raw); err != nil {
		return nil, err
	}
	out := make([]common.Address, 0, len(raw))
	for _, entry := range raw {
		out = append(out, common.BytesToAddress(entry))
	}
	return out, nil
}
