package evm

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"ownersale/native/sale"
)

var (
	transferEventSignature = gethcrypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

	allowanceSelector    = sale.SelectorFromSignature("allowance(address,address)")
	transferFromSelector = sale.SelectorFromSignature("transferFrom(address,address,uint256)")
)

// ERC20Funds implements sale.FundsBackend over ERC-20 tokens. Bidders
// pre-authorize the custody address via approve; settlement uses transferFrom
// and requires a matching Transfer log on the receipt before reporting
// success.
type ERC20Funds struct {
	backend *Backend
	tokens  map[string]common.Address
}

// NewERC20Funds constructs a funds backend with a symbol-to-contract map.
// Symbols are canonicalized to uppercase.
func NewERC20Funds(backend *Backend, tokens map[string]common.Address) *ERC20Funds {
	normalized := make(map[string]common.Address, len(tokens))
	for symbol, addr := range tokens {
		if trimmed := strings.ToUpper(strings.TrimSpace(symbol)); trimmed != "" {
			normalized[trimmed] = addr
		}
	}
	return &ERC20Funds{backend: backend, tokens: normalized}
}

// Assets lists the settleable symbols in sorted order.
func (f *ERC20Funds) Assets() []string {
	out := make([]string, 0, len(f.tokens))
	for symbol := range f.tokens {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// Authorized implements sale.FundsBackend via allowance(owner, spender).
func (f *ERC20Funds) Authorized(ctx context.Context, owner, spender common.Address, asset string) (*big.Int, error) {
	token, err := f.token(asset)
	if err != nil {
		return nil, err
	}
	ret, err := f.backend.Call(ctx, sale.Invocation{
		Target:   token,
		Selector: allowanceSelector,
		Params:   []common.Hash{sale.AddressWord(owner), sale.AddressWord(spender)},
	})
	if err != nil {
		return nil, fmt.Errorf("allowance query for %s: %w", asset, err)
	}
	if len(ret) < common.HashLength {
		return nil, fmt.Errorf("allowance query for %s returned %d bytes", asset, len(ret))
	}
	return new(big.Int).SetBytes(ret[:common.HashLength]), nil
}

// Transfer implements sale.FundsBackend via transferFrom(from, to, amount).
// Success requires both a successful receipt and a Transfer log matching the
// exact movement, since some tokens report failure through a false return
// value instead of reverting.
func (f *ERC20Funds) Transfer(ctx context.Context, from, to common.Address, asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("transfer amount must be positive")
	}
	token, err := f.token(asset)
	if err != nil {
		return err
	}
	inv := sale.Invocation{
		Target:   token,
		Selector: transferFromSelector,
		Params: []common.Hash{
			sale.AddressWord(from),
			sale.AddressWord(to),
			common.BigToHash(amount),
		},
	}
	receipt, err := f.backend.send(ctx, token, inv.Data())
	if err != nil {
		return fmt.Errorf("transferFrom %s: %w", asset, err)
	}
	for _, log := range receipt.Logs {
		if log == nil || log.Address != token {
			continue
		}
		if len(log.Topics) < 3 || log.Topics[0] != transferEventSignature {
			continue
		}
		if common.BytesToAddress(log.Topics[1].Bytes()) != from {
			continue
		}
		if common.BytesToAddress(log.Topics[2].Bytes()) != to {
			continue
		}
		if new(big.Int).SetBytes(log.Data).Cmp(amount) == 0 {
			return nil
		}
	}
	return fmt.Errorf("no matching %s Transfer log for %s -> %s", asset, from.Hex(), to.Hex())
}

func (f *ERC20Funds) token(asset string) (common.Address, error) {
	normalized, err := sale.NormalizeAsset(asset)
	if err != nil {
		return common.Address{}, err
	}
	token, ok := f.tokens[normalized]
	if !ok {
		return common.Address{}, fmt.Errorf("unsupported asset %s", normalized)
	}
	return token, nil
}
