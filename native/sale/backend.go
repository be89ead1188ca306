package sale

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ResourceBackend executes invocations against the external managed resource.
// The hosting environment provides the implementation; the engine only
// depends on this surface.
type ResourceBackend interface {
	// Call issues a read-only invocation and returns its raw payload.
	Call(ctx context.Context, inv Invocation) ([]byte, error)
	// Execute issues a mutating invocation. It reports success or failure
	// with no payload; effects must be visible to a following Call.
	Execute(ctx context.Context, inv Invocation) error
}

// FundsBackend settles the sale's value leg. Bidders pre-authorize the
// instance to move the stated asset; the controller checks the authorization
// before accepting an offer and moves funds only after a verified ownership
// transfer.
type FundsBackend interface {
	// Authorized reports how much of the asset the owner has pre-authorized
	// the spender to move.
	Authorized(ctx context.Context, owner, spender common.Address, asset string) (*big.Int, error)
	// Transfer moves the amount of asset from one identity to another using
	// the prior authorization.
	Transfer(ctx context.Context, from, to common.Address, asset string, amount *big.Int) error
}
