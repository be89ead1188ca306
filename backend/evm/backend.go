package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"ownersale/crypto"
	"ownersale/native/sale"
)

// Client defines the subset of the Ethereum RPC the backend uses. Keeping it
// narrow makes the backend mockable in tests.
type Client interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
}

// Dial initialises an EVM RPC client for the provided endpoint.
func Dial(endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("evm endpoint required")
	}
	return ethclient.Dial(trimmed)
}

// Backend executes sale invocations against an Ethereum node. Queries go
// through eth_call; mutating invocations are signed with the custody key and
// considered done only once a successful receipt has reached the configured
// confirmation depth.
type Backend struct {
	client        Client
	key           *crypto.PrivateKey
	chainID       *big.Int
	confirmations uint64
	pollInterval  time.Duration
}

// NewBackend constructs a backend around a client and the custody key.
func NewBackend(client Client, key *crypto.PrivateKey, chainID *big.Int, confirmations uint64) *Backend {
	return &Backend{
		client:        client,
		key:           key,
		chainID:       chainID,
		confirmations: confirmations,
		pollInterval:  2 * time.Second,
	}
}

// SetPollInterval overrides the receipt polling cadence. Intended for tests.
func (b *Backend) SetPollInterval(d time.Duration) {
	if d > 0 {
		b.pollInterval = d
	}
}

// From returns the custody address transactions are signed with.
func (b *Backend) From() common.Address {
	return b.key.Address()
}

// Call implements sale.ResourceBackend.
func (b *Backend) Call(ctx context.Context, inv sale.Invocation) ([]byte, error) {
	to := inv.Target
	return b.client.CallContract(ctx, ethereum.CallMsg{
		From: b.From(),
		To:   &to,
		Data: inv.Data(),
	}, nil)
}

// Execute implements sale.ResourceBackend.
func (b *Backend) Execute(ctx context.Context, inv sale.Invocation) error {
	_, err := b.send(ctx, inv.Target, inv.Data())
	return err
}

// send signs and submits a transaction carrying data to the target and waits
// for a successful, sufficiently confirmed receipt.
func (b *Backend) send(ctx context.Context, to common.Address, data []byte) (*gethtypes.Receipt, error) {
	from := b.From()
	nonce, err := b.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("fetch nonce: %w", err)
	}
	gasPrice, err := b.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch gas price: %w", err)
	}
	gasLimit, err := b.client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}
	tx := gethtypes.NewTransaction(nonce, to, new(big.Int), gasLimit, gasPrice, data)
	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(b.chainID), b.key.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	if err := b.client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send transaction: %w", err)
	}
	return b.waitConfirmed(ctx, signed.Hash())
}

func (b *Backend) waitConfirmed(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error) {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()
	for {
		receipt, err := b.client.TransactionReceipt(ctx, txHash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status != gethtypes.ReceiptStatusSuccessful {
				return nil, fmt.Errorf("transaction %s reverted", txHash.Hex())
			}
			if err := b.checkConfirmations(ctx, receipt); err != nil {
				if errors.Is(err, errNotYetConfirmed) {
					break
				}
				return nil, err
			}
			return receipt, nil
		case errors.Is(err, ethereum.NotFound):
			// Not mined yet; keep polling.
		case err != nil:
			return nil, fmt.Errorf("fetch receipt: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

var errNotYetConfirmed = errors.New("transaction not yet confirmed")

func (b *Backend) checkConfirmations(ctx context.Context, receipt *gethtypes.Receipt) error {
	if b.confirmations == 0 {
		return nil
	}
	header, err := b.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return fmt.Errorf("fetch head: %w", err)
	}
	if header == nil || header.Number == nil || receipt.BlockNumber == nil {
		return fmt.Errorf("block metadata unavailable")
	}
	if header.Number.Cmp(receipt.BlockNumber) < 0 {
		return errNotYetConfirmed
	}
	confirmed := new(big.Int).Sub(header.Number, receipt.BlockNumber)
	confirmed.Add(confirmed, big.NewInt(1))
	if confirmed.Cmp(new(big.Int).SetUint64(b.confirmations)) < 0 {
		return errNotYetConfirmed
	}
	return nil
}
