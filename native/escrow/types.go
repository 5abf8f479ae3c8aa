package escrow

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Status represents the lifecycle states supported by the escrow ledger.
type Status uint8

const (
	StatusCreated Status = iota
	StatusFunded
	StatusReleased
	StatusRefunded
	StatusDisputed
)

// Role identifiers understood by the authority checker. The ledger never
// interprets these beyond membership checks.
const (
	RolePlatform   = "ROLE_PLATFORM"
	RoleArbitrator = "ROLE_ARBITRATOR"
	RoleAdmin      = "ROLE_ADMIN"
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusFunded, StatusReleased, StatusRefunded, StatusDisputed:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusReleased || s == StatusRefunded
}

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusFunded:
		return "funded"
	case StatusReleased:
		return "released"
	case StatusRefunded:
		return "refunded"
	case StatusDisputed:
		return "disputed"
	default:
		return "unknown"
	}
}

// ParseStatus maps the canonical lowercase status name back to its value.
func ParseStatus(name string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "created":
		return StatusCreated, nil
	case "funded":
		return StatusFunded, nil
	case "released":
		return StatusReleased, nil
	case "refunded":
		return StatusRefunded, nil
	case "disputed":
		return StatusDisputed, nil
	default:
		return 0, fmt.Errorf("escrow: unknown status %q", name)
	}
}

// Escrow captures the metadata and runtime status of a single escrow agreement
// between a client and a freelancer. Identifiers are allocated by the ledger
// from a monotonically increasing counter; the project identifier is an opaque
// correlation key owned by the caller.
type Escrow struct {
	ID            uint64         `json:"id"`
	ProjectID     string         `json:"projectId"`
	Client        common.Address `json:"client"`
	Freelancer    common.Address `json:"freelancer"`
	Amount        *big.Int       `json:"amount"`
	Status        Status         `json:"status"`
	CreatedAt     int64          `json:"createdAt"`
	UpdatedAt     int64          `json:"updatedAt"`
	DisputeReason string         `json:"disputeReason,omitempty"`
}

// Clone returns a deep copy of the escrow so callers can safely mutate the
// copy without affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Amount != nil {
		clone.Amount = new(big.Int).Set(e.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// Sanitize validates and normalises the supplied escrow record, returning a
// cloned instance with a non-nil amount field. The original is not mutated.
func Sanitize(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("escrow: nil escrow")
	}
	clone := e.Clone()
	if clone.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("escrow: amount must be positive")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("escrow: invalid status %d", clone.Status)
	}
	if clone.Client == (common.Address{}) || clone.Freelancer == (common.Address{}) {
		return nil, fmt.Errorf("escrow: zero party address")
	}
	if clone.Client == clone.Freelancer {
		return nil, fmt.Errorf("escrow: client and freelancer must differ")
	}
	clone.ProjectID = strings.TrimSpace(clone.ProjectID)
	return clone, nil
}
