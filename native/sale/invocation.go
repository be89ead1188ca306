package sale

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Invocation is a fully constructed call against an external entry point:
// a target, a 4-byte selector and a word-aligned parameter payload.
type Invocation struct {
	Target   common.Address
	Selector Selector
	Params   []common.Hash
}

// Data renders the wire payload: the selector followed by the parameter
// words in order.
func (inv Invocation) Data() []byte {
	out := make([]byte, 0, len(inv.Selector)+len(inv.Params)*common.HashLength)
	out = append(out, inv.Selector[:]...)
	for _, word := range inv.Params {
		out = append(out, word.Bytes()...)
	}
	return out
}

// BuildTransferInvocation copies the template's parameter words and splices
// the new administrator into the designated slot. The template is never
// mutated.
func BuildTransferInvocation(t TransferTemplate, newOwner common.Address) (Invocation, error) {
	if err := t.Validate(); err != nil {
		return Invocation{}, err
	}
	params := append([]common.Hash(nil), t.Params...)
	params[t.NewOwnerIndex] = AddressWord(newOwner)
	return Invocation{Target: t.Target, Selector: t.TransferSelector, Params: params}, nil
}

// BuildQueryInvocation constructs the read-only administrator query. The
// query entry point takes no arguments.
func BuildQueryInvocation(t TransferTemplate) Invocation {
	return Invocation{Target: t.Target, Selector: t.QuerySelector}
}

// BuildRecoveryInvocation constructs the cancel-path transfer handing the
// resource back to the recorded previous administrator. Recovery targets only
// the base case of returning sole authority, so the payload carries a single
// word regardless of the template's parameter list; targets whose transfer
// entry point requires more arguments will reject this invocation.
func BuildRecoveryInvocation(t TransferTemplate, previousAdmin common.Address) Invocation {
	return Invocation{
		Target:   t.Target,
		Selector: t.TransferSelector,
		Params:   []common.Hash{AddressWord(previousAdmin)},
	}
}

// AddressWord left-pads an identity into a 32-byte parameter word.
func AddressWord(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

// DecodeAdminWord decodes the return payload of the administrator query. A
// valid return is exactly one word whose upper twelve bytes are zero.
func DecodeAdminWord(ret []byte) (common.Address, error) {
	if len(ret) != common.HashLength {
		return common.Address{}, fmt.Errorf("admin word must be %d bytes, got %d", common.HashLength, len(ret))
	}
	for _, b := range ret[:common.HashLength-common.AddressLength] {
		if b != 0 {
			return common.Address{}, fmt.Errorf("admin word has non-zero padding")
		}
	}
	return common.BytesToAddress(ret), nil
}

// SelectorFromSignature derives the 4-byte selector from a canonical entry
// point signature, e.g. "transferOwnership(address)".
func SelectorFromSignature(sig string) Selector {
	hash := ethcrypto.Keccak256([]byte(strings.TrimSpace(sig)))
	var sel Selector
	copy(sel[:], hash[:4])
	return sel
}

// ParseSelector decodes a 0x-prefixed or bare 8-digit hex selector.
func ParseSelector(raw string) (Selector, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return Selector{}, fmt.Errorf("invalid selector %q: %w", raw, err)
	}
	if len(decoded) != 4 {
		return Selector{}, fmt.Errorf("selector must be 4 bytes, got %d", len(decoded))
	}
	var sel Selector
	copy(sel[:], decoded)
	return sel, nil
}
