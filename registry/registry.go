package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"ownersale/core/events"
	"ownersale/native/sale"
	"ownersale/storage"
)

var (
	// ErrSaleNotFound is returned for an unknown sale identifier.
	ErrSaleNotFound = errors.New("registry: sale not found")
	// ErrDuplicateSale is returned when a non-terminal sale already escrows
	// the same target. With a single custody identity, two live escrows of
	// one resource would both pass the engine's confirmation.
	ErrDuplicateSale = errors.New("registry: target already under an active sale")
)

const snapshotPrefix = "sale/"

// Registry is the instance factory and host: it stamps out fresh,
// independently owned controller instances, serializes all operations per
// instance, and persists a snapshot after every successful transition so
// instances survive a restart.
type Registry struct {
	db      storage.Database
	backend sale.ResourceBackend
	funds   sale.FundsBackend
	emitter events.Emitter
	self    common.Address

	mu             sync.Mutex
	instances      map[string]*instance
	activeByTarget map[common.Address]string
}

type instance struct {
	mu   sync.Mutex
	ctrl *sale.Controller
}

// Open loads all persisted sale snapshots from the store and reconstructs
// their controllers. Non-terminal sales re-occupy their target's active slot.
func Open(db storage.Database, backend sale.ResourceBackend, funds sale.FundsBackend, self common.Address, emitter events.Emitter) (*Registry, error) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	r := &Registry{
		db:             db,
		backend:        backend,
		funds:          funds,
		emitter:        emitter,
		self:           self,
		instances:      make(map[string]*instance),
		activeByTarget: make(map[common.Address]string),
	}
	err := db.Iterate([]byte(snapshotPrefix), func(key, value []byte) error {
		var snap sale.Snapshot
		if err := json.Unmarshal(value, &snap); err != nil {
			return fmt.Errorf("registry: decode snapshot %s: %w", key, err)
		}
		ctrl, err := sale.RestoreController(snap, backend, funds, self)
		if err != nil {
			return fmt.Errorf("registry: restore sale %s: %w", snap.SaleID, err)
		}
		ctrl.SetEmitter(emitter)
		r.instances[snap.SaleID] = &instance{ctrl: ctrl}
		if !snap.Status.Terminal() && snap.Status != sale.SaleDeployed {
			r.activeByTarget[snap.Template.Target] = snap.SaleID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Self returns the custody identity sale instances operate under.
func (r *Registry) Self() common.Address { return r.self }

// Create stamps a fresh controller instance, runs its one-time initializer
// against the resource and persists the first snapshot. Each instance owns
// its own state; nothing is shared beyond the immutable template values
// copied at creation.
func (r *Registry) Create(ctx context.Context, template sale.TransferTemplate, administrator common.Address) (sale.Snapshot, error) {
	if err := template.Validate(); err != nil {
		return sale.Snapshot{}, err
	}
	r.mu.Lock()
	if active, ok := r.activeByTarget[template.Target]; ok {
		r.mu.Unlock()
		return sale.Snapshot{}, fmt.Errorf("%w: sale %s", ErrDuplicateSale, active)
	}
	// Reserve the target before the (slow) external initialization.
	saleID := uuid.NewString()
	r.activeByTarget[template.Target] = saleID
	r.mu.Unlock()

	ctrl := sale.NewController(saleID, sale.NewEngine(r.backend, r.self), r.funds)
	ctrl.SetEmitter(r.emitter)
	if err := ctrl.Initialize(ctx, template, administrator); err != nil {
		r.mu.Lock()
		delete(r.activeByTarget, template.Target)
		r.mu.Unlock()
		return sale.Snapshot{}, err
	}
	snap := ctrl.Snapshot()
	if err := r.persist(snap); err != nil {
		r.mu.Lock()
		delete(r.activeByTarget, template.Target)
		r.mu.Unlock()
		return sale.Snapshot{}, err
	}
	r.mu.Lock()
	r.instances[saleID] = &instance{ctrl: ctrl}
	r.mu.Unlock()
	return snap, nil
}

// Get returns the snapshot of a sale instance.
func (r *Registry) Get(saleID string) (sale.Snapshot, error) {
	inst, err := r.instance(saleID)
	if err != nil {
		return sale.Snapshot{}, err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.ctrl.Snapshot(), nil
}

// List returns snapshots of every known sale, sorted by identifier.
func (r *Registry) List() []sale.Snapshot {
	r.mu.Lock()
	ids := make([]string, 0, len(r.instances))
	for id := range r.instances {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	out := make([]sale.Snapshot, 0, len(ids))
	for _, id := range ids {
		if snap, err := r.Get(id); err == nil {
			out = append(out, snap)
		}
	}
	return out
}

// OfferOf returns the bidder's standing offer on a sale.
func (r *Registry) OfferOf(saleID string, bidder common.Address) (sale.Offer, bool, error) {
	inst, err := r.instance(saleID)
	if err != nil {
		return sale.Offer{}, false, err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	offer, ok := inst.ctrl.OfferOf(bidder)
	return offer, ok, nil
}

// StartSale opens the identified sale at the given price.
func (r *Registry) StartSale(ctx context.Context, saleID string, caller common.Address, price sale.Price) (sale.Snapshot, error) {
	return r.mutate(saleID, func(ctrl *sale.Controller) error {
		return ctrl.StartSale(ctx, caller, price)
	})
}

// MakeOffer records the caller's offer on the identified sale.
func (r *Registry) MakeOffer(ctx context.Context, saleID string, caller common.Address, amount *big.Int, asset string) (sale.Snapshot, error) {
	return r.mutate(saleID, func(ctrl *sale.Controller) error {
		return ctrl.MakeOffer(ctx, caller, amount, asset)
	})
}

// FinalizeSale completes the identified sale.
func (r *Registry) FinalizeSale(ctx context.Context, saleID string, caller common.Address, req sale.FinalizeRequest) (sale.Snapshot, error) {
	return r.mutate(saleID, func(ctrl *sale.Controller) error {
		return ctrl.FinalizeSale(ctx, caller, req)
	})
}

// CancelSale aborts the identified sale.
func (r *Registry) CancelSale(ctx context.Context, saleID string, caller common.Address) (sale.Snapshot, error) {
	return r.mutate(saleID, func(ctrl *sale.Controller) error {
		return ctrl.CancelSale(ctx, caller)
	})
}

func (r *Registry) mutate(saleID string, op func(*sale.Controller) error) (sale.Snapshot, error) {
	inst, err := r.instance(saleID)
	if err != nil {
		return sale.Snapshot{}, err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if err := op(inst.ctrl); err != nil {
		return sale.Snapshot{}, err
	}
	snap := inst.ctrl.Snapshot()
	if err := r.persist(snap); err != nil {
		return sale.Snapshot{}, err
	}
	if snap.Status.Terminal() {
		r.mu.Lock()
		if r.activeByTarget[snap.Template.Target] == saleID {
			delete(r.activeByTarget, snap.Template.Target)
		}
		r.mu.Unlock()
	}
	return snap, nil
}

func (r *Registry) instance(saleID string) (*instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[saleID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSaleNotFound, saleID)
	}
	return inst, nil
}

func (r *Registry) persist(snap sale.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("registry: encode snapshot %s: %w", snap.SaleID, err)
	}
	return r.db.Put([]byte(snapshotPrefix+snap.SaleID), raw)
}
