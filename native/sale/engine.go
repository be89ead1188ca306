package sale

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var errNilBackend = errors.New("sale engine: resource backend not configured")

// Engine owns all interaction with the external resource's administrative
// surface. It holds the immutable transfer template and the administrator
// recorded at initialization, and verifies the resource's reported holder
// after every mutating invocation. The engine keeps no other local state;
// administrator changes live on the resource itself.
type Engine struct {
	backend ResourceBackend
	// self is the identity the resource reports while escrowed.
	self common.Address

	template      TransferTemplate
	previousAdmin common.Address
	initialized   bool
}

// NewEngine creates an uninitialized engine bound to a resource backend and
// the escrow instance's own identity.
func NewEngine(backend ResourceBackend, self common.Address) *Engine {
	return &Engine{backend: backend, self: self}
}

// RestoreEngine reconstructs an initialized engine from persisted state
// without re-querying the resource.
func RestoreEngine(backend ResourceBackend, self common.Address, template TransferTemplate, previousAdmin common.Address) (*Engine, error) {
	if err := template.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		backend:       backend,
		self:          self,
		template:      template.Clone(),
		previousAdmin: previousAdmin,
		initialized:   true,
	}, nil
}

// Self returns the identity the resource is expected to report while the
// escrow holds control.
func (e *Engine) Self() common.Address { return e.self }

// Template returns a copy of the stored transfer template.
func (e *Engine) Template() TransferTemplate { return e.template.Clone() }

// PreviousAdmin returns the administrator recorded at initialization.
func (e *Engine) PreviousAdmin() common.Address { return e.previousAdmin }

// Initialized reports whether Initialize has completed.
func (e *Engine) Initialized() bool { return e != nil && e.initialized }

// Initialize validates and stores the transfer template, then queries the
// resource and records its current administrator for later recovery. It must
// run exactly once, before any other operation; a failed query leaves the
// engine uninitialized with no template stored.
func (e *Engine) Initialize(ctx context.Context, template TransferTemplate) error {
	if e == nil || e.backend == nil {
		return errNilBackend
	}
	if e.initialized {
		return ErrAlreadyInitialized
	}
	if err := template.Validate(); err != nil {
		return err
	}
	admin, err := e.queryAdmin(ctx, template)
	if err != nil {
		return err
	}
	e.template = template.Clone()
	e.previousAdmin = admin
	e.initialized = true
	return nil
}

// CurrentAdmin issues the read-only query and decodes the resource's
// reported administrator.
func (e *Engine) CurrentAdmin(ctx context.Context) (common.Address, error) {
	if e == nil || e.backend == nil {
		return common.Address{}, errNilBackend
	}
	if !e.initialized {
		return common.Address{}, ErrNotInitialized
	}
	return e.queryAdmin(ctx, e.template)
}

// Confirm asserts that the resource currently reports this instance as its
// administrator. It is a pure precondition check with no mutation and no
// transfer invocation.
func (e *Engine) Confirm(ctx context.Context) error {
	admin, err := e.CurrentAdmin(ctx)
	if err != nil {
		return err
	}
	if admin != e.self {
		return fmt.Errorf("%w: resource reports %s", ErrNotYetInControl, admin.Hex())
	}
	return nil
}

// Finalize splices the new administrator into the transfer template, issues
// the invocation, then re-queries the resource and requires it to report the
// new administrator. An invocation can succeed at the transport level while
// silently doing nothing, so success means "invocation succeeded AND
// post-state matches" and nothing less. The engine mutates no local state on
// any path.
func (e *Engine) Finalize(ctx context.Context, newAdmin common.Address) error {
	if e == nil || e.backend == nil {
		return errNilBackend
	}
	if !e.initialized {
		return ErrNotInitialized
	}
	inv, err := BuildTransferInvocation(e.template, newAdmin)
	if err != nil {
		return err
	}
	return e.transferAndVerify(ctx, inv, newAdmin)
}

// Cancel hands the resource back to the administrator recorded at
// initialization. The recovery payload carries only the previous-admin word
// (see BuildRecoveryInvocation); targets with multi-argument transfer entry
// points surface this as an invocation failure. Verification matches
// Finalize, against the previous administrator.
func (e *Engine) Cancel(ctx context.Context) error {
	if e == nil || e.backend == nil {
		return errNilBackend
	}
	if !e.initialized {
		return ErrNotInitialized
	}
	inv := BuildRecoveryInvocation(e.template, e.previousAdmin)
	return e.transferAndVerify(ctx, inv, e.previousAdmin)
}

func (e *Engine) transferAndVerify(ctx context.Context, inv Invocation, want common.Address) error {
	if err := e.backend.Execute(ctx, inv); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferInvocationFailed, err)
	}
	admin, err := e.queryAdmin(ctx, e.template)
	if err != nil {
		// Cannot prove the post-state; fail closed.
		return fmt.Errorf("%w: post-transfer query: %v", ErrTransferVerificationFailed, err)
	}
	if admin != want {
		return fmt.Errorf("%w: resource reports %s, want %s", ErrTransferVerificationFailed, admin.Hex(), want.Hex())
	}
	return nil
}

func (e *Engine) queryAdmin(ctx context.Context, template TransferTemplate) (common.Address, error) {
	ret, err := e.backend.Call(ctx, BuildQueryInvocation(template))
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	admin, err := DecodeAdminWord(ret)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	return admin, nil
}
