package registry

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"ownersale/catalog"
	"ownersale/native/sale"
	"ownersale/storage"
)

var (
	self  = common.HexToAddress("0x0000000000000000000000000000000000000E5C")
	alice = common.HexToAddress("0x00000000000000000000000000000000000A11CE")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000B0B")
)

// fakeChain hosts any number of ERC-173 style resources keyed by target
// address, plus per-owner asset authorizations.
type fakeChain struct {
	admins     map[common.Address]common.Address
	authorized map[string]*big.Int
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		admins:     make(map[common.Address]common.Address),
		authorized: make(map[string]*big.Int),
	}
}

func (f *fakeChain) Call(_ context.Context, inv sale.Invocation) ([]byte, error) {
	return sale.AddressWord(f.admins[inv.Target]).Bytes(), nil
}

func (f *fakeChain) Execute(_ context.Context, inv sale.Invocation) error {
	admin, err := sale.DecodeAdminWord(inv.Params[0].Bytes())
	if err != nil {
		return err
	}
	f.admins[inv.Target] = admin
	return nil
}

func (f *fakeChain) Authorized(_ context.Context, owner, _ common.Address, asset string) (*big.Int, error) {
	amount, ok := f.authorized[owner.Hex()+"/"+asset]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(amount), nil
}

func (f *fakeChain) Transfer(_ context.Context, from, _ common.Address, asset string, amount *big.Int) error {
	key := from.Hex() + "/" + asset
	f.authorized[key] = new(big.Int).Sub(f.authorized[key], amount)
	return nil
}

func erc173Template(t *testing.T, target common.Address) sale.TransferTemplate {
	t.Helper()
	tpl, err := catalog.Builtin().Template("erc173", target, nil)
	require.NoError(t, err)
	return tpl
}

func TestCreatePersistsAndGuardsDuplicates(t *testing.T) {
	db := storage.NewMemDB()
	chain := newFakeChain()
	target := common.HexToAddress("0x00000000000000000000000000000000000000AA")
	chain.admins[target] = alice

	reg, err := Open(db, chain, chain, self, nil)
	require.NoError(t, err)

	snap, err := reg.Create(context.Background(), erc173Template(t, target), alice)
	require.NoError(t, err)
	require.Equal(t, sale.SaleInitialized, snap.Status)
	require.Equal(t, alice, snap.PreviousAdmin)
	require.NotEmpty(t, snap.SaleID)

	ok, err := db.Has([]byte("sale/" + snap.SaleID))
	require.NoError(t, err)
	require.True(t, ok)

	_, err = reg.Create(context.Background(), erc173Template(t, target), alice)
	require.ErrorIs(t, err, ErrDuplicateSale)

	// A different target is unaffected.
	other := common.HexToAddress("0x00000000000000000000000000000000000000BB")
	chain.admins[other] = alice
	_, err = reg.Create(context.Background(), erc173Template(t, other), alice)
	require.NoError(t, err)
}

func TestLifecycleThroughRegistry(t *testing.T) {
	db := storage.NewMemDB()
	chain := newFakeChain()
	target := common.HexToAddress("0x00000000000000000000000000000000000000AA")
	chain.admins[target] = alice

	reg, err := Open(db, chain, chain, self, nil)
	require.NoError(t, err)
	snap, err := reg.Create(context.Background(), erc173Template(t, target), alice)
	require.NoError(t, err)
	saleID := snap.SaleID

	// Administrator hands control to the custody identity out of band.
	chain.admins[target] = self

	snap, err = reg.StartSale(context.Background(), saleID, alice, sale.Price{Amount: big.NewInt(100), Asset: "USDC"})
	require.NoError(t, err)
	require.Equal(t, sale.SaleInProgress, snap.Status)

	chain.authorized[bob.Hex()+"/USDC"] = big.NewInt(100)
	_, err = reg.MakeOffer(context.Background(), saleID, bob, big.NewInt(100), "USDC")
	require.NoError(t, err)

	offer, ok, err := reg.OfferOf(saleID, bob)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(100), offer.Amount.Int64())

	snap, err = reg.FinalizeSale(context.Background(), saleID, alice, sale.AcceptOffer{Buyer: bob, Amount: big.NewInt(100), Asset: "USDC"})
	require.NoError(t, err)
	require.Equal(t, sale.SaleFinalized, snap.Status)
	require.Equal(t, bob, chain.admins[target])

	// Terminal sale frees the target for a new escrow.
	chain.admins[target] = bob
	_, err = reg.Create(context.Background(), erc173Template(t, target), bob)
	require.NoError(t, err)
}

func TestOpenRestoresInstances(t *testing.T) {
	db := storage.NewMemDB()
	chain := newFakeChain()
	target := common.HexToAddress("0x00000000000000000000000000000000000000AA")
	chain.admins[target] = alice

	reg, err := Open(db, chain, chain, self, nil)
	require.NoError(t, err)
	snap, err := reg.Create(context.Background(), erc173Template(t, target), alice)
	require.NoError(t, err)
	chain.admins[target] = self
	_, err = reg.StartSale(context.Background(), snap.SaleID, alice, sale.Price{Amount: big.NewInt(100), Asset: "USDC"})
	require.NoError(t, err)

	// Reopen against the same store: the in-progress sale is back and still
	// holds its target.
	reopened, err := Open(db, chain, chain, self, nil)
	require.NoError(t, err)
	restored, err := reopened.Get(snap.SaleID)
	require.NoError(t, err)
	require.Equal(t, sale.SaleInProgress, restored.Status)

	_, err = reopened.Create(context.Background(), erc173Template(t, target), alice)
	require.ErrorIs(t, err, ErrDuplicateSale)

	// The restored instance can finish the sale without re-initializing.
	_, err = reopened.CancelSale(context.Background(), snap.SaleID, alice)
	require.NoError(t, err)
	require.Equal(t, alice, chain.admins[target])
}

func TestUnknownSale(t *testing.T) {
	reg, err := Open(storage.NewMemDB(), newFakeChain(), newFakeChain(), self, nil)
	require.NoError(t, err)
	_, err = reg.Get("missing")
	require.ErrorIs(t, err, ErrSaleNotFound)
	_, err = reg.CancelSale(context.Background(), "missing", alice)
	require.ErrorIs(t, err, ErrSaleNotFound)
}
