package sale

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"ownersale/core/events"
	"ownersale/core/types"
)

var errNilFunds = errors.New("sale controller: funds backend not configured")

// FinalizeRequest selects one of the two completion paths. The explicit tag
// replaces dispatch on caller identity so each path carries its own
// authorization rule and can be tested independently.
type FinalizeRequest interface {
	finalizeRequest()
}

// AcceptOffer completes the sale by accepting a stored offer. Only the
// administrator may submit it, and the terms must match the buyer's stored
// offer exactly.
type AcceptOffer struct {
	Buyer  common.Address
	Amount *big.Int
	Asset  string
}

func (AcceptOffer) finalizeRequest() {}

// AcceptBuyItNow completes the sale at the public asking price. The caller
// becomes the buyer; the submitted terms must match the buy-it-now price
// exactly.
type AcceptBuyItNow struct {
	Amount *big.Int
	Asset  string
}

func (AcceptBuyItNow) finalizeRequest() {}

// Controller drives the sale lifecycle state machine on top of an escrow
// Engine. It holds the engine by composition and delegates every interaction
// with the external resource to it. All state transitions are all-or-nothing:
// controller fields mutate only after the engine and funds calls for the
// transition have succeeded.
type Controller struct {
	engine  *Engine
	funds   FundsBackend
	emitter events.Emitter

	saleID        string
	status        SaleStatus
	administrator common.Address
	buyItNow      *Price
	offers        map[common.Address]Offer
}

// NewController creates a controller in the DEPLOYED state with a no-op
// emitter. Callers can override the emitter via SetEmitter.
func NewController(saleID string, engine *Engine, funds FundsBackend) *Controller {
	return &Controller{
		engine:  engine,
		funds:   funds,
		emitter: events.NoopEmitter{},
		saleID:  saleID,
		status:  SaleDeployed,
		offers:  make(map[common.Address]Offer),
	}
}

// RestoreController reconstructs a controller from a persisted snapshot
// without touching the external resource.
func RestoreController(snap Snapshot, backend ResourceBackend, funds FundsBackend, self common.Address) (*Controller, error) {
	if !snap.Status.Valid() {
		return nil, fmt.Errorf("sale: snapshot carries invalid status %d", uint8(snap.Status))
	}
	c := &Controller{
		funds:         funds,
		emitter:       events.NoopEmitter{},
		saleID:        snap.SaleID,
		status:        snap.Status,
		administrator: snap.Administrator,
		offers:        make(map[common.Address]Offer, len(snap.Offers)),
	}
	if snap.Status == SaleDeployed {
		c.engine = NewEngine(backend, self)
		return c, nil
	}
	engine, err := RestoreEngine(backend, self, snap.Template, snap.PreviousAdmin)
	if err != nil {
		return nil, err
	}
	c.engine = engine
	if snap.BuyItNow != nil {
		price := snap.BuyItNow.Clone()
		c.buyItNow = &price
	}
	for _, offer := range snap.Offers {
		c.offers[offer.Bidder] = offer.Clone()
	}
	return c, nil
}

// SetEmitter configures the notification emitter. Passing nil resets it to a
// no-op implementation.
func (c *Controller) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		c.emitter = events.NoopEmitter{}
		return
	}
	c.emitter = emitter
}

// SaleID returns the instance identifier assigned at creation.
func (c *Controller) SaleID() string { return c.saleID }

// Status returns the current lifecycle status.
func (c *Controller) Status() SaleStatus { return c.status }

// Administrator returns the identity permitted to start and cancel the sale
// and to accept offers.
func (c *Controller) Administrator() common.Address { return c.administrator }

// Resource returns the external managed resource under escrow.
func (c *Controller) Resource() common.Address { return c.engine.Template().Target }

// BuyItNowPrice returns the asking price and whether one has been set.
func (c *Controller) BuyItNowPrice() (Price, bool) {
	if c.buyItNow == nil {
		return Price{}, false
	}
	return c.buyItNow.Clone(), true
}

// OfferOf returns the bidder's current standing offer, if any.
func (c *Controller) OfferOf(bidder common.Address) (Offer, bool) {
	offer, ok := c.offers[bidder]
	if !ok {
		return Offer{}, false
	}
	return offer.Clone(), true
}

// Snapshot returns a persistable image of the controller and engine state.
func (c *Controller) Snapshot() Snapshot {
	snap := Snapshot{
		SaleID:        c.saleID,
		Status:        c.status,
		Administrator: c.administrator,
	}
	if c.engine.Initialized() {
		snap.Template = c.engine.Template()
		snap.PreviousAdmin = c.engine.PreviousAdmin()
	}
	if c.buyItNow != nil {
		price := c.buyItNow.Clone()
		snap.BuyItNow = &price
	}
	for _, offer := range c.offers {
		snap.Offers = append(snap.Offers, offer.Clone())
	}
	return snap
}

// Initialize records the administrator and runs the engine's one-time
// initializer against the resource. A second call fails with
// ErrAlreadyInitialized; an engine failure leaves the controller DEPLOYED.
func (c *Controller) Initialize(ctx context.Context, template TransferTemplate, administrator common.Address) error {
	if c.status != SaleDeployed {
		return ErrAlreadyInitialized
	}
	if (administrator == common.Address{}) {
		return fmt.Errorf("sale: zero administrator")
	}
	if err := c.engine.Initialize(ctx, template); err != nil {
		return err
	}
	c.administrator = administrator
	c.status = SaleInitialized
	c.emit(NewCreatedEvent(c))
	return nil
}

// StartSale opens the sale at the given asking price. Only the administrator
// may call it, only from INITIALIZED, and only once the engine confirms the
// resource already reports the escrow instance as administrator; a failed
// confirmation aborts the whole transition.
func (c *Controller) StartSale(ctx context.Context, caller common.Address, price Price) error {
	switch c.status {
	case SaleInitialized:
	case SaleDeployed:
		return ErrNotInitialized
	default:
		return fmt.Errorf("%w: cannot start sale from %s", ErrInvalidStatus, c.status)
	}
	if caller != c.administrator {
		return fmt.Errorf("%w: only the administrator may start the sale", ErrUnauthorized)
	}
	validated, err := price.Validate()
	if err != nil {
		return err
	}
	if err := c.engine.Confirm(ctx); err != nil {
		return err
	}
	c.buyItNow = &validated
	c.status = SaleInProgress
	c.emit(NewStartedEvent(c))
	return nil
}

// MakeOffer records or overwrites the caller's standing offer. Any identity
// may offer while the sale is IN_PROGRESS, provided it has pre-authorized at
// least the offered amount of the stated asset for later transfer.
func (c *Controller) MakeOffer(ctx context.Context, caller common.Address, amount *big.Int, asset string) error {
	if c.status != SaleInProgress {
		return fmt.Errorf("%w: offers require an in-progress sale, status is %s", ErrInvalidStatus, c.status)
	}
	if c.funds == nil {
		return errNilFunds
	}
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("sale: offer amount must be positive")
	}
	authorized, err := c.funds.Authorized(ctx, caller, c.engine.Self(), normalized)
	if err != nil {
		return err
	}
	if authorized == nil || authorized.Cmp(amount) < 0 {
		return fmt.Errorf("%w: authorized %s of %s, offered %s", ErrInsufficientAuthorization, bigString(authorized), normalized, amount.String())
	}
	offer := Offer{Bidder: caller, Amount: new(big.Int).Set(amount), Asset: normalized}
	c.offers[caller] = offer
	c.emit(NewOfferMadeEvent(c, offer))
	return nil
}

// FinalizeSale completes the sale: it resolves the request to a buyer and
// settlement terms, hands the resource to the buyer through the engine, and
// only after verified ownership transfer moves the funds from the buyer to
// the administrator. Any failure leaves the controller IN_PROGRESS with
// offers and price untouched.
func (c *Controller) FinalizeSale(ctx context.Context, caller common.Address, req FinalizeRequest) error {
	if c.status != SaleInProgress {
		return fmt.Errorf("%w: cannot finalize from %s", ErrInvalidStatus, c.status)
	}
	if c.funds == nil {
		return errNilFunds
	}
	var (
		buyer  common.Address
		amount *big.Int
		asset  string
	)
	switch r := req.(type) {
	case AcceptOffer:
		if caller != c.administrator {
			return fmt.Errorf("%w: only the administrator may accept an offer", ErrUnauthorized)
		}
		normalized, err := NormalizeAsset(r.Asset)
		if err != nil {
			return err
		}
		stored, ok := c.offers[r.Buyer]
		if !ok {
			return fmt.Errorf("%w: no offer on file for %s", ErrOfferMismatch, r.Buyer.Hex())
		}
		if !stored.Matches(r.Amount, normalized) {
			return fmt.Errorf("%w: accepted terms differ from stored offer", ErrOfferMismatch)
		}
		buyer = r.Buyer
		amount = new(big.Int).Set(stored.Amount)
		asset = stored.Asset
	case AcceptBuyItNow:
		if c.buyItNow == nil {
			return fmt.Errorf("%w: no buy-it-now price set", ErrInvalidStatus)
		}
		normalized, err := NormalizeAsset(r.Asset)
		if err != nil {
			return err
		}
		if r.Amount == nil || c.buyItNow.Amount.Cmp(r.Amount) != 0 || c.buyItNow.Asset != normalized {
			return fmt.Errorf("%w: terms differ from the buy-it-now price", ErrOfferMismatch)
		}
		buyer = caller
		amount = new(big.Int).Set(c.buyItNow.Amount)
		asset = c.buyItNow.Asset
	default:
		return fmt.Errorf("sale: unsupported finalize request %T", req)
	}

	// Re-check the authorization immediately before moving ownership to
	// shrink the window where control transfers but settlement cannot.
	authorized, err := c.funds.Authorized(ctx, buyer, c.engine.Self(), asset)
	if err != nil {
		return err
	}
	if authorized == nil || authorized.Cmp(amount) < 0 {
		return fmt.Errorf("%w: buyer authorization no longer covers %s %s", ErrInsufficientAuthorization, amount.String(), asset)
	}
	if err := c.engine.Finalize(ctx, buyer); err != nil {
		return err
	}
	// Ownership has verifiably moved; an off-chain driver cannot unwind it,
	// so a settlement failure here is surfaced loudly with the sale left
	// IN_PROGRESS for operator remediation.
	if err := c.funds.Transfer(ctx, buyer, c.administrator, asset, amount); err != nil {
		return fmt.Errorf("sale: settlement transfer after ownership handover to %s: %w", buyer.Hex(), err)
	}
	c.status = SaleFinalized
	c.emit(NewFinalizedEvent(c, buyer, amount, asset))
	return nil
}

// CancelSale aborts the sale and returns the resource to the administrator
// recorded at initialization. Only the sale administrator may call it;
// terminal states reject it and a DEPLOYED instance has nothing to recover.
func (c *Controller) CancelSale(ctx context.Context, caller common.Address) error {
	switch c.status {
	case SaleInitialized, SaleInProgress:
	case SaleDeployed:
		return ErrNotInitialized
	default:
		return fmt.Errorf("%w: cannot cancel from %s", ErrInvalidStatus, c.status)
	}
	if caller != c.administrator {
		return fmt.Errorf("%w: only the administrator may cancel the sale", ErrUnauthorized)
	}
	if err := c.engine.Cancel(ctx); err != nil {
		return err
	}
	c.status = SaleCancelled
	c.emit(NewCancelledEvent(c))
	return nil
}

func (c *Controller) emit(event *types.Event) {
	if c == nil || c.emitter == nil || event == nil {
		return
	}
	c.emitter.Emit(saleEvent{evt: event})
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
