package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

type CommandKind string

const (
	CommandJoin    CommandKind = "join"
	CommandPart    CommandKind = "part"
	CommandRevenue CommandKind = "revenue"
)

var CommandKinds = []CommandKind{CommandJoin, CommandPart, CommandRevenue}

var ErrInvalidCommand = errors.New("invalid command")

// Command is one of Join, Part or Revenue.
type Command interface {
	Kind() CommandKind
}

type Join struct {
	Addresses []string
	Weight    uint64
}

type Part struct {
	Addresses []string
}

type Revenue struct {
	Amount *big.Int
}

func (Join) Kind() CommandKind    { return CommandJoin }
func (Part) Kind() CommandKind    { return CommandPart }
func (Revenue) Kind() CommandKind { return CommandRevenue }

type membershipPayload struct {
	Addresses []string `json:"addresses"`
	Weight    uint64   `json:"weight,omitempty"`
}

type revenuePayload struct {
	Amount string `json:"amount"`
}

// NormalizeAddress validates a hex address and returns it in lower case.
func NormalizeAddress(address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("%w: bad address %q", ErrInvalidCommand, address)
	}
	return strings.ToLower(common.HexToAddress(address).Hex()), nil
}

func DecodeCommand(kind CommandKind, payload []byte) (Command, error) {
	switch kind {
	case CommandJoin, CommandPart:
		var p membershipPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %v", ErrInvalidCommand, kind, err)
		}
		if len(p.Addresses) == 0 {
			return nil, fmt.Errorf("%w: %s without addresses", ErrInvalidCommand, kind)
		}
		addresses, err := normalizeAddresses(p.Addresses)
		if err != nil {
			return nil, err
		}
		if kind == CommandPart {
			return Part{Addresses: addresses}, nil
		}
		weight := p.Weight
		if weight == 0 {
			weight = 1
		}
		return Join{Addresses: addresses, Weight: weight}, nil
	case CommandRevenue:
		var p revenuePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("%w: revenue payload: %v", ErrInvalidCommand, err)
		}
		amount, ok := new(big.Int).SetString(p.Amount, 10)
		if !ok {
			return nil, fmt.Errorf("%w: bad revenue amount %q", ErrInvalidCommand, p.Amount)
		}
		if amount.Sign() < 0 {
			return nil, fmt.Errorf("%w: negative revenue amount %s", ErrInvalidCommand, p.Amount)
		}
		return Revenue{Amount: amount}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidCommand, kind)
	}
}

func EncodeCommand(cmd Command) ([]byte, error) {
	switch c := cmd.(type) {
	case Join:
		return json.Marshal(membershipPayload{Addresses: c.Addresses, Weight: c.Weight})
	case Part:
		return json.Marshal(membershipPayload{Addresses: c.Addresses})
	case Revenue:
		if c.Amount == nil {
			return nil, fmt.Errorf("%w: revenue without amount", ErrInvalidCommand)
		}
		return json.Marshal(revenuePayload{Amount: c.Amount.String()})
	default:
		return nil, fmt.Errorf("%w: unsupported command %T", ErrInvalidCommand, cmd)
	}
}

// normalizeAddresses drops duplicates while keeping first-seen order.
func normalizeAddresses(addresses []string) ([]string, error) {
	seen := make(map[string]struct{}, len(addresses))
	out := make([]string, 0, len(addresses))
	for _, a := range addresses {
		normalized, err := NormalizeAddress(a)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out, nil
}
