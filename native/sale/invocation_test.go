package sale

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func testTemplate(paramCount, ownerIndex int) TransferTemplate {
	params := make([]common.Hash, paramCount)
	for i := range params {
		params[i] = common.BigToHash(common.Big1)
		params[i][0] = byte(0x10 + i)
	}
	return TransferTemplate{
		Target:           common.HexToAddress("0x00000000000000000000000000000000000000AA"),
		TransferSelector: SelectorFromSignature("transferOwnership(address)"),
		Params:           params,
		NewOwnerIndex:    ownerIndex,
		QuerySelector:    SelectorFromSignature("owner()"),
	}
}

func TestBuildTransferInvocationSplicesOnlyOwnerSlot(t *testing.T) {
	newOwner := common.HexToAddress("0x00000000000000000000000000000000000000B0")
	for _, tc := range []struct {
		params, index int
	}{
		{1, 0},
		{3, 0},
		{3, 1},
		{3, 2},
		{7, 4},
	} {
		tpl := testTemplate(tc.params, tc.index)
		inv, err := BuildTransferInvocation(tpl, newOwner)
		if err != nil {
			t.Fatalf("params=%d index=%d: %v", tc.params, tc.index, err)
		}
		if len(inv.Params) != tc.params {
			t.Fatalf("expected %d params, got %d", tc.params, len(inv.Params))
		}
		for i, word := range inv.Params {
			if i == tc.index {
				if word != AddressWord(newOwner) {
					t.Fatalf("slot %d not spliced: %x", i, word)
				}
				continue
			}
			if word != tpl.Params[i] {
				t.Fatalf("slot %d modified: have %x want %x", i, word, tpl.Params[i])
			}
		}
		// The template itself must keep its placeholder.
		if tpl.Params[tc.index] == AddressWord(newOwner) {
			t.Fatalf("template mutated at index %d", tc.index)
		}
	}
}

func TestBuildTransferInvocationRejectsInvalidTemplate(t *testing.T) {
	tpl := testTemplate(2, 2)
	if _, err := BuildTransferInvocation(tpl, common.Address{1}); !errors.Is(err, ErrInvalidTemplate) {
		t.Fatalf("expected ErrInvalidTemplate, got %v", err)
	}
	tpl = testTemplate(2, -1)
	if _, err := BuildTransferInvocation(tpl, common.Address{1}); !errors.Is(err, ErrInvalidTemplate) {
		t.Fatalf("expected ErrInvalidTemplate for negative index, got %v", err)
	}
}

func TestBuildRecoveryInvocationSingleWord(t *testing.T) {
	tpl := testTemplate(4, 2)
	previous := common.HexToAddress("0x00000000000000000000000000000000000000C0")
	inv := BuildRecoveryInvocation(tpl, previous)
	if inv.Selector != tpl.TransferSelector {
		t.Fatalf("recovery must reuse the transfer selector")
	}
	if len(inv.Params) != 1 {
		t.Fatalf("recovery payload must be a single word, got %d", len(inv.Params))
	}
	if inv.Params[0] != AddressWord(previous) {
		t.Fatalf("recovery word is %x", inv.Params[0])
	}
}

func TestInvocationData(t *testing.T) {
	tpl := testTemplate(2, 0)
	inv := BuildQueryInvocation(tpl)
	if !bytes.Equal(inv.Data(), tpl.QuerySelector[:]) {
		t.Fatalf("query payload must be the bare selector")
	}
	transfer, err := BuildTransferInvocation(tpl, common.Address{0xBB})
	if err != nil {
		t.Fatal(err)
	}
	data := transfer.Data()
	if len(data) != 4+2*common.HashLength {
		t.Fatalf("unexpected payload length %d", len(data))
	}
	if !bytes.Equal(data[:4], tpl.TransferSelector[:]) {
		t.Fatalf("payload must start with the selector")
	}
}

func TestSelectorFromSignature(t *testing.T) {
	// Known ERC-173 selectors.
	if got := SelectorFromSignature("transferOwnership(address)").Hex(); got != "0xf2fde38b" {
		t.Fatalf("transferOwnership selector = %s", got)
	}
	if got := SelectorFromSignature("owner()").Hex(); got != "0x8da5cb5b" {
		t.Fatalf("owner selector = %s", got)
	}
}

func TestParseSelector(t *testing.T) {
	sel, err := ParseSelector("0xf2fde38b")
	if err != nil {
		t.Fatal(err)
	}
	if sel != SelectorFromSignature("transferOwnership(address)") {
		t.Fatalf("parsed selector mismatch: %s", sel.Hex())
	}
	if _, err := ParseSelector("0x1234"); err == nil {
		t.Fatal("expected error for short selector")
	}
	if _, err := ParseSelector("zzzzzzzz"); err == nil {
		t.Fatal("expected error for non-hex selector")
	}
}

func TestDecodeAdminWord(t *testing.T) {
	admin := common.HexToAddress("0x00000000000000000000000000000000000000D1")
	decoded, err := DecodeAdminWord(AddressWord(admin).Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if decoded != admin {
		t.Fatalf("decoded %s want %s", decoded.Hex(), admin.Hex())
	}
	if _, err := DecodeAdminWord(admin.Bytes()); err == nil {
		t.Fatal("expected error for 20-byte payload")
	}
	bad := AddressWord(admin)
	bad[3] = 0xFF
	if _, err := DecodeAdminWord(bad.Bytes()); err == nil {
		t.Fatal("expected error for non-zero padding")
	}
}
