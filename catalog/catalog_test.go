package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"ownersale/native/sale"
)

func TestBuiltinERC173(t *testing.T) {
	c := Builtin()
	target := common.HexToAddress("0x00000000000000000000000000000000000000AA")
	tpl, err := c.Template("erc173", target, nil)
	require.NoError(t, err)
	require.Equal(t, target, tpl.Target)
	require.Equal(t, "0xf2fde38b", tpl.TransferSelector.Hex())
	require.Equal(t, "0x8da5cb5b", tpl.QuerySelector.Hex())
	require.Len(t, tpl.Params, 1)
	require.Equal(t, 0, tpl.NewOwnerIndex)
}

func TestTemplateFixedSlots(t *testing.T) {
	c := Builtin()
	c.put(Entry{
		Name:              "managed",
		TransferSignature: "transferControl(bytes32,address,uint256)",
		QuerySignature:    "controller()",
		ParamWords:        3,
		NewOwnerIndex:     1,
	})
	target := common.HexToAddress("0x00000000000000000000000000000000000000AA")
	realm := common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111")

	tpl, err := c.Template("managed", target, map[int]common.Hash{0: realm})
	require.NoError(t, err)
	require.Equal(t, realm, tpl.Params[0])
	require.Equal(t, common.Hash{}, tpl.Params[2])

	_, err = c.Template("managed", target, map[int]common.Hash{1: realm})
	require.Error(t, err, "fixing the owner placeholder must fail")

	_, err = c.Template("managed", target, map[int]common.Hash{5: realm})
	require.Error(t, err, "out of range slot must fail")
}

func TestLoadMergesOverBuiltin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
entries:
  - name: vault
    transferSelector: "0x0a0b0c0d"
    querySelector: "0x8da5cb5b"
    paramWords: 2
    newOwnerIndex: 0
`), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	require.Contains(t, c.Names(), "erc173")
	require.Contains(t, c.Names(), "vault")

	tpl, err := c.Template("vault", common.HexToAddress("0x00000000000000000000000000000000000000AA"), nil)
	require.NoError(t, err)
	sel, err := sale.ParseSelector("0x0a0b0c0d")
	require.NoError(t, err)
	require.Equal(t, sel, tpl.TransferSelector)
	require.Len(t, tpl.Params, 2)
}

func TestLoadRejectsInvalidEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
entries:
  - name: broken
    transferSignature: "transferOwnership(address)"
    querySignature: "owner()"
    paramWords: 1
    newOwnerIndex: 3
`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}
