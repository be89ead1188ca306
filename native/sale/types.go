package sale

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// SaleStatus represents the lifecycle states of a sale instance. The status
// only ever advances: DEPLOYED -> INITIALIZED -> IN_PROGRESS and then exactly
// one of FINALIZED or CANCELLED, both terminal.
type SaleStatus uint8

const (
	SaleDeployed SaleStatus = iota
	SaleInitialized
	SaleInProgress
	SaleFinalized
	SaleCancelled
)

// Valid reports whether the status value is within the supported range.
func (s SaleStatus) Valid() bool {
	switch s {
	case SaleDeployed, SaleInitialized, SaleInProgress, SaleFinalized, SaleCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status is one of the permanent end states.
func (s SaleStatus) Terminal() bool {
	return s == SaleFinalized || s == SaleCancelled
}

func (s SaleStatus) String() string {
	switch s {
	case SaleDeployed:
		return "DEPLOYED"
	case SaleInitialized:
		return "INITIALIZED"
	case SaleInProgress:
		return "IN_PROGRESS"
	case SaleFinalized:
		return "FINALIZED"
	case SaleCancelled:
		return "CANCELLED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
	}
}

// ParseStatus resolves the canonical string form back into a status value.
func ParseStatus(raw string) (SaleStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "DEPLOYED":
		return SaleDeployed, nil
	case "INITIALIZED":
		return SaleInitialized, nil
	case "IN_PROGRESS":
		return SaleInProgress, nil
	case "FINALIZED":
		return SaleFinalized, nil
	case "CANCELLED":
		return SaleCancelled, nil
	default:
		return 0, fmt.Errorf("sale: unknown status %q", raw)
	}
}

// MarshalText encodes the status in its canonical string form.
func (s SaleStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("sale: invalid status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes the canonical string form.
func (s *SaleStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Selector identifies an entry point on the external managed resource. The
// value is opaque to this layer; it is prepended verbatim to the invocation
// payload.
type Selector [4]byte

// Hex returns the 0x-prefixed hexadecimal form of the selector.
func (s Selector) Hex() string { return "0x" + hex.EncodeToString(s[:]) }

// MarshalText encodes the selector as 0x-prefixed hex.
func (s Selector) MarshalText() ([]byte, error) { return []byte(s.Hex()), nil }

// UnmarshalText decodes a 0x-prefixed or bare 8-digit hex selector.
func (s *Selector) UnmarshalText(text []byte) error {
	parsed, err := ParseSelector(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// TransferTemplate is the immutable description of how to construct a valid
// administrator-change invocation for a specific external resource.
type TransferTemplate struct {
	// Target is the external managed resource.
	Target common.Address `json:"target"`
	// TransferSelector identifies the "change administrator" entry point.
	TransferSelector Selector `json:"transferSelector"`
	// Params is the ordered fixed-width argument list for the transfer entry
	// point. The slot at NewOwnerIndex is a placeholder overwritten with the
	// new administrator at invocation time.
	Params []common.Hash `json:"params"`
	// NewOwnerIndex designates the placeholder slot within Params.
	NewOwnerIndex int `json:"newOwnerIndex"`
	// QuerySelector identifies the read-only "current administrator" entry
	// point.
	QuerySelector Selector `json:"querySelector"`
}

// Validate checks the construction invariants. Whether the word count matches
// what the target actually expects is unverifiable here; a mismatch surfaces
// only as an invocation failure.
func (t TransferTemplate) Validate() error {
	if (t.Target == common.Address{}) {
		return fmt.Errorf("%w: zero target", ErrInvalidTemplate)
	}
	if len(t.Params) == 0 {
		return fmt.Errorf("%w: empty parameter list", ErrInvalidTemplate)
	}
	if t.NewOwnerIndex < 0 || t.NewOwnerIndex >= len(t.Params) {
		return fmt.Errorf("%w: new-owner index %d out of range for %d params", ErrInvalidTemplate, t.NewOwnerIndex, len(t.Params))
	}
	return nil
}

// Clone returns a deep copy so callers can safely hold the template without
// aliasing the stored parameter slice.
func (t TransferTemplate) Clone() TransferTemplate {
	clone := t
	clone.Params = append([]common.Hash(nil), t.Params...)
	return clone
}

// Price is a buy-it-now asking price.
type Price struct {
	Amount *big.Int `json:"amount"`
	Asset  string   `json:"asset"`
}

// Clone returns a deep copy of the price.
func (p Price) Clone() Price {
	return Price{Amount: cloneBigInt(p.Amount), Asset: p.Asset}
}

// Validate normalizes the asset symbol and requires a positive amount.
func (p Price) Validate() (Price, error) {
	asset, err := NormalizeAsset(p.Asset)
	if err != nil {
		return Price{}, err
	}
	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return Price{}, fmt.Errorf("sale: price amount must be positive")
	}
	return Price{Amount: new(big.Int).Set(p.Amount), Asset: asset}, nil
}

// Offer is a bidder's current standing offer. The latest offer per bidder
// overwrites any prior one.
type Offer struct {
	Bidder common.Address `json:"bidder"`
	Amount *big.Int       `json:"amount"`
	Asset  string         `json:"asset"`
}

// Clone returns a deep copy of the offer.
func (o Offer) Clone() Offer {
	return Offer{Bidder: o.Bidder, Amount: cloneBigInt(o.Amount), Asset: o.Asset}
}

// Matches reports whether the offer carries exactly the given terms.
func (o Offer) Matches(amount *big.Int, asset string) bool {
	if o.Amount == nil || amount == nil {
		return false
	}
	return o.Amount.Cmp(amount) == 0 && o.Asset == asset
}

// NormalizeAsset canonicalizes an asset symbol to its trimmed uppercase form.
// Which symbols are actually settleable is decided by the funds backend.
func NormalizeAsset(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", fmt.Errorf("sale: empty asset symbol")
	}
	return trimmed, nil
}

// Snapshot is the JSON-serializable image of a sale instance used for
// persistence and crash recovery. Restoring a snapshot reconstructs the
// controller without re-running initialization against the resource.
type Snapshot struct {
	SaleID        string           `json:"saleId"`
	Status        SaleStatus       `json:"status"`
	Administrator common.Address   `json:"administrator"`
	PreviousAdmin common.Address   `json:"previousAdmin"`
	Template      TransferTemplate `json:"template"`
	BuyItNow      *Price           `json:"buyItNow,omitempty"`
	Offers        []Offer          `json:"offers,omitempty"`
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
