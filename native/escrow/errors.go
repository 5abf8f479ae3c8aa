package escrow

import "errors"

// Sentinel errors surfaced by ledger operations. Each maps to a single
// precondition class so callers can branch with errors.Is.
var (
	ErrNotFound          = errors.New("escrow: not found")
	ErrInvalidState      = errors.New("escrow: invalid state for operation")
	ErrUnauthorized      = errors.New("escrow: unauthorized caller")
	ErrInvalidAmount     = errors.New("escrow: amount must be positive")
	ErrInvalidParty      = errors.New("escrow: invalid party address")
	ErrAmountMismatch    = errors.New("escrow: supplied amount does not match escrow amount")
	ErrEmptyReason       = errors.New("escrow: dispute reason required")
	ErrSharesExceedTotal = errors.New("escrow: resolution shares exceed 10000 bps")
	ErrFeeRateTooHigh    = errors.New("escrow: fee rate above 1000 bps cap")
	ErrInvalidRecipient  = errors.New("escrow: fee recipient must not be the zero address")

	errNilState      = errors.New("escrow ledger: state not configured")
	errNilRail       = errors.New("escrow ledger: payment rail not configured")
	errNilAuthority  = errors.New("escrow ledger: authority checker not configured")
	errNilFeeAccount = errors.New("escrow ledger: fee recipient not configured")
)
