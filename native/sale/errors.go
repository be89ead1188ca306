package sale

import "errors"

var (
	// ErrAlreadyInitialized flags a second call to a one-time initializer.
	ErrAlreadyInitialized = errors.New("sale: already initialized")
	// ErrNotInitialized flags an operation attempted before initialization.
	ErrNotInitialized = errors.New("sale: not initialized")
	// ErrNotYetInControl is returned by Confirm when the resource does not
	// yet report the escrow instance as its administrator.
	ErrNotYetInControl = errors.New("sale: escrow not yet in control of resource")
	// ErrQueryFailed covers a failed or undecodable administrator query.
	ErrQueryFailed = errors.New("sale: admin query failed")
	// ErrTransferInvocationFailed covers a failed transfer invocation.
	ErrTransferInvocationFailed = errors.New("sale: transfer invocation failed")
	// ErrTransferVerificationFailed is returned when the transfer invocation
	// succeeded but the resource does not report the expected administrator
	// afterwards, or the post-transfer query itself failed.
	ErrTransferVerificationFailed = errors.New("sale: transfer verification failed")
	// ErrInvalidStatus flags a transition that is not legal from the current
	// sale status.
	ErrInvalidStatus = errors.New("sale: invalid status for operation")
	// ErrUnauthorized flags a caller that does not hold the required role.
	ErrUnauthorized = errors.New("sale: unauthorized caller")
	// ErrOfferMismatch flags finalize terms that do not match the stored
	// offer or the buy-it-now price exactly.
	ErrOfferMismatch = errors.New("sale: offer terms mismatch")
	// ErrInsufficientAuthorization flags a bidder that has not pre-authorized
	// enough of the stated asset.
	ErrInsufficientAuthorization = errors.New("sale: insufficient funds authorization")
	// ErrInvalidTemplate flags a transfer template that violates its
	// construction invariants.
	ErrInvalidTemplate = errors.New("sale: invalid transfer template")
)
