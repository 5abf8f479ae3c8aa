package escrow

import (
	"math/big"
	"strconv"
	"strings"

	"skillchain/core/types"
)

const (
	EventTypeEscrowCreated  = "escrow.created"
	EventTypeEscrowFunded   = "escrow.funded"
	EventTypeEscrowReleased = "escrow.released"
	EventTypeEscrowRefunded = "escrow.refunded"
	EventTypeEscrowDisputed = "escrow.disputed"
	EventTypeEscrowResolved = "escrow.resolved"
)

type ledgerEvent struct {
	evt *types.Event
}

func (e ledgerEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e ledgerEvent) Event() *types.Event { return e.evt }

// NewCreatedEvent returns the canonical event payload for a newly created
// escrow.
func NewCreatedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowCreated, e) }

// NewFundedEvent returns the canonical event payload emitted when an escrow is
// funded by the client.
func NewFundedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowFunded, e) }

// NewReleasedEvent returns the canonical event payload for a release of escrow
// funds to the freelancer.
func NewReleasedEvent(e *Escrow, fee *big.Int) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowReleased, e)
	evt.Attributes["fee"] = formatAmount(fee)
	return evt
}

// NewRefundedEvent returns the canonical event payload for an escrow refund to
// the client.
func NewRefundedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowRefunded, e) }

// NewDisputedEvent returns the canonical event payload emitted when an escrow
// is marked as disputed.
func NewDisputedEvent(e *Escrow) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowDisputed, e)
	if reason := strings.TrimSpace(e.DisputeReason); reason != "" {
		evt.Attributes["reason"] = reason
	}
	return evt
}

// NewResolvedEvent returns the canonical event payload emitted when a dispute
// is settled by an arbitrator. The remainder attribute records any undistributed
// slack retained by the ledger when the shares sum to less than 10000 bps.
func NewResolvedEvent(e *Escrow, clientShareBps, freelancerShareBps uint32, remainder *big.Int) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowResolved, e)
	evt.Attributes["clientShareBps"] = strconv.FormatUint(uint64(clientShareBps), 10)
	evt.Attributes["freelancerShareBps"] = strconv.FormatUint(uint64(freelancerShareBps), 10)
	evt.Attributes["remainder"] = formatAmount(remainder)
	evt.Attributes["resolved"] = "true"
	return evt
}

func newEscrowEvent(eventType string, e *Escrow) *types.Event {
	attrs := make(map[string]string)
	if e == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = strconv.FormatUint(e.ID, 10)
	attrs["projectId"] = e.ProjectID
	attrs["client"] = e.Client.Hex()
	attrs["freelancer"] = e.Freelancer.Hex()
	attrs["amount"] = formatAmount(e.Amount)
	attrs["status"] = e.Status.String()
	attrs["updatedAt"] = strconv.FormatInt(e.UpdatedAt, 10)
	return &types.Event{Type: eventType, Attributes: attrs}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
