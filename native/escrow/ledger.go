package escrow

import (
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"skillchain/core/events"
	"skillchain/core/types"
)

const bpsDenominator = 10_000

// MaxFeeRateBps caps the platform fee at 10% of the escrowed amount.
const MaxFeeRateBps = 1_000

// State is the durable store backing the ledger. Implementations must persist
// secondary indexes so the by-project and by-party lookups stay cheap.
type State interface {
	EscrowPut(*Escrow) error
	EscrowGet(id uint64) (*Escrow, bool, error)
	EscrowNextID() (uint64, error)
	EscrowsByProject(projectID string) ([]*Escrow, error)
	EscrowsByClient(addr common.Address) ([]*Escrow, error)
	EscrowsByFreelancer(addr common.Address) ([]*Escrow, error)
}

// PaymentRail is the external value-transfer primitive. Both operations are
// atomic and synchronous: they either fully succeed or leave balances
// untouched and return an error.
type PaymentRail interface {
	// Deposit moves the supplied value from the payer into ledger custody.
	Deposit(from common.Address, amount *big.Int) error
	// Pay releases value from ledger custody to the recipient.
	Pay(to common.Address, amount *big.Int) error
}

// AuthorityChecker reports role membership for an actor. The ledger does not
// authenticate callers; it only checks roles supplied by this collaborator.
type AuthorityChecker interface {
	HasRole(addr common.Address, role string) bool
}

// Ledger owns the lifecycle of every escrow record: creation, funding,
// release, refund, dispute, and arbitrated resolution. All mutating
// operations are serialized behind a single mutex so the status guard is
// checked and set atomically; queries clone records and may run concurrently.
type Ledger struct {
	mu           sync.Mutex
	state        State
	rail         PaymentRail
	authority    AuthorityChecker
	emitter      events.Emitter
	logger       *slog.Logger
	feeRateBps   uint32
	feeRecipient common.Address
	nowFn        func() int64
}

// NewLedger creates an escrow ledger with a no-op emitter and a zero fee rate.
// Callers wire the state, payment rail, and authority checker before use.
func NewLedger() *Ledger {
	return &Ledger{
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the ledger.
func (l *Ledger) SetState(state State) { l.state = state }

// SetPaymentRail configures the value-transfer primitive.
func (l *Ledger) SetPaymentRail(rail PaymentRail) { l.rail = rail }

// SetAuthority configures the role-membership collaborator.
func (l *Ledger) SetAuthority(authority AuthorityChecker) { l.authority = authority }

// SetEmitter configures the event emitter used by the ledger. Passing nil
// resets the emitter to a no-op implementation.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// SetLogger overrides the structured logger. Passing nil restores the default.
func (l *Ledger) SetLogger(logger *slog.Logger) {
	if logger == nil {
		l.logger = slog.Default()
		return
	}
	l.logger = logger
}

// SetNowFunc overrides the time source used for record timestamps. Primarily
// intended for tests to provide deterministic values.
func (l *Ledger) SetNowFunc(now func() int64) {
	if now == nil {
		l.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	l.nowFn = now
}

// SetFeeRateBps updates the platform fee rate applied on release. Requires the
// admin role and rejects rates above the 1000 bps cap.
func (l *Ledger) SetFeeRateBps(actor common.Address, rate uint32) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.authority == nil {
		return errNilAuthority
	}
	if !l.authority.HasRole(actor, RoleAdmin) {
		return ErrUnauthorized
	}
	if rate > MaxFeeRateBps {
		return ErrFeeRateTooHigh
	}
	l.feeRateBps = rate
	return nil
}

// SetFeeRecipient updates the account receiving platform fees. Requires the
// admin role and rejects the zero address.
func (l *Ledger) SetFeeRecipient(actor, recipient common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.authority == nil {
		return errNilAuthority
	}
	if !l.authority.HasRole(actor, RoleAdmin) {
		return ErrUnauthorized
	}
	if recipient == (common.Address{}) {
		return ErrInvalidRecipient
	}
	l.feeRecipient = recipient
	return nil
}

// BootstrapFeePolicy seeds the fee policy from node configuration at startup,
// bypassing the admin-role check that guards runtime updates. The bps cap and
// recipient requirement still apply.
func (l *Ledger) BootstrapFeePolicy(rate uint32, recipient common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rate > MaxFeeRateBps {
		return ErrFeeRateTooHigh
	}
	if rate > 0 && recipient == (common.Address{}) {
		return ErrInvalidRecipient
	}
	l.feeRateBps = rate
	l.feeRecipient = recipient
	return nil
}

// FeePolicy reports the current fee rate and recipient.
func (l *Ledger) FeePolicy() (uint32, common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.feeRateBps, l.feeRecipient
}

func (l *Ledger) emit(evt *types.Event) {
	if l.emitter == nil || evt == nil {
		return
	}
	l.emitter.Emit(ledgerEvent{evt: evt})
}

func (l *Ledger) now() int64 {
	if l == nil || l.nowFn == nil {
		return time.Now().Unix()
	}
	return l.nowFn()
}

func (l *Ledger) loadEscrow(id uint64) (*Escrow, error) {
	if l.state == nil {
		return nil, errNilState
	}
	esc, ok, err := l.state.EscrowGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return esc, nil
}

func (l *Ledger) storeEscrow(esc *Escrow) error {
	if l.state == nil {
		return errNilState
	}
	return l.state.EscrowPut(esc)
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// Create initialises and persists a new escrow in the Created state. The actor
// must hold platform authority; the parties must be distinct non-zero
// addresses and the amount strictly positive.
func (l *Ledger) Create(projectID string, client, freelancer common.Address, amount *big.Int, actor common.Address) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == nil {
		return 0, errNilState
	}
	if l.authority == nil {
		return 0, errNilAuthority
	}
	if !l.authority.HasRole(actor, RolePlatform) {
		return 0, ErrUnauthorized
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return 0, ErrInvalidAmount
	}
	if client == (common.Address{}) || freelancer == (common.Address{}) {
		return 0, ErrInvalidParty
	}
	if client == freelancer {
		return 0, ErrInvalidParty
	}
	id, err := l.state.EscrowNextID()
	if err != nil {
		return 0, err
	}
	now := l.now()
	esc := &Escrow{
		ID:         id,
		ProjectID:  strings.TrimSpace(projectID),
		Client:     client,
		Freelancer: freelancer,
		Amount:     amt,
		Status:     StatusCreated,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := l.storeEscrow(esc); err != nil {
		return 0, err
	}
	l.emit(NewCreatedEvent(esc))
	return id, nil
}

// Fund transitions a Created escrow to Funded once the client deposits exactly
// the escrowed amount. The deposit and the transition are all-or-nothing: a
// failed deposit leaves the escrow in Created.
func (l *Ledger) Fund(id uint64, actor common.Address, supplied *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rail == nil {
		return errNilRail
	}
	esc, err := l.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != StatusCreated {
		return ErrInvalidState
	}
	if actor != esc.Client {
		return ErrUnauthorized
	}
	if supplied == nil || supplied.Cmp(esc.Amount) != 0 {
		return ErrAmountMismatch
	}
	if err := l.rail.Deposit(esc.Client, esc.Amount); err != nil {
		return err
	}
	esc.Status = StatusFunded
	esc.UpdatedAt = l.now()
	if err := l.storeEscrow(esc); err != nil {
		return err
	}
	l.emit(NewFundedEvent(esc))
	return nil
}

// Release settles a Funded escrow in favour of the freelancer, deducting the
// platform fee. Only the client or a platform actor may release; the
// freelancer may not self-release.
func (l *Ledger) Release(id uint64, actor common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rail == nil {
		return errNilRail
	}
	esc, err := l.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != StatusFunded {
		return ErrInvalidState
	}
	if actor != esc.Client && !l.hasRole(actor, RolePlatform) {
		return ErrUnauthorized
	}
	total := cloneBigInt(esc.Amount)
	fee := new(big.Int).Mul(total, new(big.Int).SetUint64(uint64(l.feeRateBps)))
	fee.Div(fee, big.NewInt(bpsDenominator))
	payout := new(big.Int).Sub(total, fee)
	if fee.Sign() > 0 && l.feeRecipient == (common.Address{}) {
		return errNilFeeAccount
	}
	if payout.Sign() > 0 {
		if err := l.rail.Pay(esc.Freelancer, payout); err != nil {
			return err
		}
	}
	if fee.Sign() > 0 {
		if err := l.rail.Pay(l.feeRecipient, fee); err != nil {
			l.logger.Error("escrow release fee leg failed after payout; manual reconciliation required",
				"escrow", esc.ID, "fee", fee.String(), "recipient", l.feeRecipient.Hex(), "err", err)
			return err
		}
	}
	esc.Status = StatusReleased
	esc.UpdatedAt = l.now()
	if err := l.storeEscrow(esc); err != nil {
		return err
	}
	l.emit(NewReleasedEvent(esc, fee))
	return nil
}

// Refund returns the full escrowed amount to the client with no fee deducted.
// The freelancer, a platform actor, or an arbitrator may refund; the client
// may not unilaterally reclaim funds, their exit path is a dispute.
func (l *Ledger) Refund(id uint64, actor common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rail == nil {
		return errNilRail
	}
	esc, err := l.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != StatusFunded {
		return ErrInvalidState
	}
	if actor != esc.Freelancer && !l.hasRole(actor, RolePlatform) && !l.hasRole(actor, RoleArbitrator) {
		return ErrUnauthorized
	}
	if err := l.rail.Pay(esc.Client, cloneBigInt(esc.Amount)); err != nil {
		return err
	}
	esc.Status = StatusRefunded
	esc.UpdatedAt = l.now()
	if err := l.storeEscrow(esc); err != nil {
		return err
	}
	l.emit(NewRefundedEvent(esc))
	return nil
}

// Dispute flags the escrow as disputed. Only the client or freelancer may file
// a dispute, and a non-empty reason is required. Disputes may be raised from
// Created or Funded.
func (l *Ledger) Dispute(id uint64, actor common.Address, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	esc, err := l.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != StatusCreated && esc.Status != StatusFunded {
		return ErrInvalidState
	}
	if actor != esc.Client && actor != esc.Freelancer {
		return ErrUnauthorized
	}
	trimmed := strings.TrimSpace(reason)
	if trimmed == "" {
		return ErrEmptyReason
	}
	esc.Status = StatusDisputed
	esc.DisputeReason = trimmed
	esc.UpdatedAt = l.now()
	if err := l.storeEscrow(esc); err != nil {
		return err
	}
	l.emit(NewDisputedEvent(esc))
	return nil
}

// ResolveDispute settles a Disputed escrow according to the arbitrator's split.
// The client receives amount*clientShareBps/10000 and the freelancer
// amount*freelancerShareBps/10000; any remainder when the shares sum to less
// than 10000 bps stays in ledger custody. No platform fee is deducted. The
// escrow transitions to Released.
func (l *Ledger) ResolveDispute(id uint64, actor common.Address, clientShareBps, freelancerShareBps uint32) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rail == nil {
		return errNilRail
	}
	if l.authority == nil {
		return errNilAuthority
	}
	esc, err := l.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != StatusDisputed {
		return ErrInvalidState
	}
	if !l.authority.HasRole(actor, RoleArbitrator) {
		return ErrUnauthorized
	}
	if uint64(clientShareBps)+uint64(freelancerShareBps) > bpsDenominator {
		return ErrSharesExceedTotal
	}
	total := cloneBigInt(esc.Amount)
	clientPay := shareOf(total, clientShareBps)
	freelancerPay := shareOf(total, freelancerShareBps)
	remainder := new(big.Int).Sub(total, new(big.Int).Add(clientPay, freelancerPay))
	if clientPay.Sign() > 0 {
		if err := l.rail.Pay(esc.Client, clientPay); err != nil {
			return err
		}
	}
	if freelancerPay.Sign() > 0 {
		if err := l.rail.Pay(esc.Freelancer, freelancerPay); err != nil {
			l.logger.Error("dispute resolution freelancer leg failed after client payout; manual reconciliation required",
				"escrow", esc.ID, "amount", freelancerPay.String(), "err", err)
			return err
		}
	}
	esc.Status = StatusReleased
	esc.UpdatedAt = l.now()
	if err := l.storeEscrow(esc); err != nil {
		return err
	}
	l.emit(NewResolvedEvent(esc, clientShareBps, freelancerShareBps, remainder))
	return nil
}

// GetEscrow returns an immutable snapshot of the escrow with the given id.
func (l *Ledger) GetEscrow(id uint64) (*Escrow, error) {
	if l.state == nil {
		return nil, errNilState
	}
	esc, ok, err := l.state.EscrowGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return esc.Clone(), nil
}

// GetEscrowsByProject returns snapshots of every escrow correlated with the
// supplied project identifier, ordered by id.
func (l *Ledger) GetEscrowsByProject(projectID string) ([]*Escrow, error) {
	if l.state == nil {
		return nil, errNilState
	}
	return cloneAll(l.state.EscrowsByProject(strings.TrimSpace(projectID)))
}

// GetEscrowsByClient returns snapshots of every escrow where the supplied
// address is the client, ordered by id.
func (l *Ledger) GetEscrowsByClient(addr common.Address) ([]*Escrow, error) {
	if l.state == nil {
		return nil, errNilState
	}
	return cloneAll(l.state.EscrowsByClient(addr))
}

// GetEscrowsByFreelancer returns snapshots of every escrow where the supplied
// address is the freelancer, ordered by id.
func (l *Ledger) GetEscrowsByFreelancer(addr common.Address) ([]*Escrow, error) {
	if l.state == nil {
		return nil, errNilState
	}
	return cloneAll(l.state.EscrowsByFreelancer(addr))
}

func (l *Ledger) hasRole(addr common.Address, role string) bool {
	if l.authority == nil {
		return false
	}
	return l.authority.HasRole(addr, role)
}

func shareOf(total *big.Int, bps uint32) *big.Int {
	share := new(big.Int).Mul(total, new(big.Int).SetUint64(uint64(bps)))
	return share.Div(share, big.NewInt(bpsDenominator))
}

func cloneAll(escrows []*Escrow, err error) ([]*Escrow, error) {
	if err != nil {
		return nil, err
	}
	out := make([]*Escrow, 0, len(escrows))
	for _, esc := range escrows {
		out = append(out, esc.Clone())
	}
	return out, nil
}
