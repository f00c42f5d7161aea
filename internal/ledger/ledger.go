package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"ledger_operator/internal/models"
)

var (
	ErrDistribution   = errors.New("distribution error")
	ErrNoMembers      = fmt.Errorf("%w: no members to distribute to", ErrDistribution)
	ErrNegativeAmount = fmt.Errorf("%w: negative amount", ErrDistribution)
)

const DefaultWeight uint64 = 1

type Member struct {
	Address  string
	Earnings *big.Int
	Weight   uint64
}

// Ledger keeps members in insertion order. It is not safe for concurrent use.
type Ledger struct {
	members     []*Member
	index       map[string]int
	unallocated *big.Int
}

func New() *Ledger {
	return &Ledger{
		index:       make(map[string]int),
		unallocated: new(big.Int),
	}
}

// FromState rebuilds a ledger from a persisted balance list and held amount.
func FromState(balances []models.BalanceEntry, unallocated string) (*Ledger, error) {
	l := New()
	for _, entry := range balances {
		earnings, ok := new(big.Int).SetString(entry.Earnings, 10)
		if !ok || earnings.Sign() < 0 {
			return nil, fmt.Errorf("invalid earnings %q for %s", entry.Earnings, entry.Address)
		}
		key := strings.ToLower(entry.Address)
		if _, exists := l.index[key]; exists {
			return nil, fmt.Errorf("duplicate member %s", key)
		}
		weight := entry.Weight
		if weight == 0 {
			weight = DefaultWeight
		}
		l.index[key] = len(l.members)
		l.members = append(l.members, &Member{Address: key, Earnings: earnings, Weight: weight})
	}
	if unallocated != "" {
		held, ok := new(big.Int).SetString(unallocated, 10)
		if !ok || held.Sign() < 0 {
			return nil, fmt.Errorf("invalid unallocated amount %q", unallocated)
		}
		l.unallocated = held
	}
	return l, nil
}

// AddMember appends address with zero earnings. It reports false if the address was already a member.
func (l *Ledger) AddMember(address string, weight uint64) bool {
	key := strings.ToLower(address)
	if _, exists := l.index[key]; exists {
		return false
	}
	if weight == 0 {
		weight = DefaultWeight
	}
	l.index[key] = len(l.members)
	l.members = append(l.members, &Member{Address: key, Earnings: new(big.Int), Weight: weight})
	return true
}

// RemoveMember drops address and its entry. It reports false if the address was not a member.
func (l *Ledger) RemoveMember(address string) bool {
	key := strings.ToLower(address)
	i, exists := l.index[key]
	if !exists {
		return false
	}
	l.members = append(l.members[:i], l.members[i+1:]...)
	delete(l.index, key)
	for j := i; j < len(l.members); j++ {
		l.index[l.members[j].Address] = j
	}
	return true
}

// Distribute credits amount to the current members in proportion to their weights.
// On error the ledger is left untouched.
func (l *Ledger) Distribute(amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	if len(l.members) == 0 {
		return ErrNoMembers
	}
	weights := make([]uint64, len(l.members))
	for i, m := range l.members {
		weights[i] = m.Weight
	}
	shares := Split(amount, weights)
	for i, m := range l.members {
		m.Earnings.Add(m.Earnings, shares[i])
	}
	return nil
}

// DistributeOrHold distributes amount plus anything held earlier. With no members the
// amount is added to the held balance instead and held is true.
func (l *Ledger) DistributeOrHold(amount *big.Int) (held bool, err error) {
	if amount.Sign() < 0 {
		return false, ErrNegativeAmount
	}
	if len(l.members) == 0 {
		l.unallocated.Add(l.unallocated, amount)
		return true, nil
	}
	total := new(big.Int).Add(amount, l.unallocated)
	if err := l.Distribute(total); err != nil {
		return false, err
	}
	l.unallocated.SetInt64(0)
	return false, nil
}

func (l *Ledger) Unallocated() *big.Int {
	return new(big.Int).Set(l.unallocated)
}

func (l *Ledger) Len() int {
	return len(l.members)
}

func (l *Ledger) Member(address string) (Member, bool) {
	i, ok := l.index[strings.ToLower(address)]
	if !ok {
		return Member{}, false
	}
	m := l.members[i]
	return Member{Address: m.Address, Earnings: new(big.Int).Set(m.Earnings), Weight: m.Weight}, true
}

func (l *Ledger) TotalEarnings() *big.Int {
	total := new(big.Int)
	for _, m := range l.members {
		total.Add(total, m.Earnings)
	}
	return total
}

func (l *Ledger) Clone() *Ledger {
	c := &Ledger{
		members:     make([]*Member, len(l.members)),
		index:       make(map[string]int, len(l.index)),
		unallocated: new(big.Int).Set(l.unallocated),
	}
	for i, m := range l.members {
		c.members[i] = &Member{Address: m.Address, Earnings: new(big.Int).Set(m.Earnings), Weight: m.Weight}
		c.index[m.Address] = i
	}
	return c
}

// Balances returns the persisted form of the members, in ledger order.
func (l *Ledger) Balances() []models.BalanceEntry {
	out := make([]models.BalanceEntry, len(l.members))
	for i, m := range l.members {
		out[i] = models.BalanceEntry{Address: m.Address, Earnings: m.Earnings.String(), Weight: m.Weight}
	}
	return out
}
