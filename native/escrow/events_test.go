package escrow

import (
	"math/big"
	"testing"
)

func testEventEscrow() *Escrow {
	return &Escrow{
		ID:         3,
		ProjectID:  "p9",
		Client:     newTestAddress(0x10),
		Freelancer: newTestAddress(0x20),
		Amount:     big.NewInt(750),
		Status:     StatusFunded,
		UpdatedAt:  1_700_000_100,
	}
}

func TestEscrowEventAttributes(t *testing.T) {
	evt := NewFundedEvent(testEventEscrow())
	if evt.Type != EventTypeEscrowFunded {
		t.Fatalf("unexpected type %q", evt.Type)
	}
	attrs := evt.Attributes
	if attrs["id"] != "3" || attrs["projectId"] != "p9" {
		t.Fatalf("identifier attributes wrong: %v", attrs)
	}
	if attrs["amount"] != "750" || attrs["status"] != "funded" {
		t.Fatalf("amount/status attributes wrong: %v", attrs)
	}
	if attrs["client"] == "" || attrs["freelancer"] == "" {
		t.Fatalf("party attributes missing: %v", attrs)
	}
}

func TestDisputedEventCarriesReason(t *testing.T) {
	esc := testEventEscrow()
	esc.Status = StatusDisputed
	esc.DisputeReason = "missed deadline"
	evt := NewDisputedEvent(esc)
	if evt.Attributes["reason"] != "missed deadline" {
		t.Fatalf("reason missing: %v", evt.Attributes)
	}
}

func TestResolvedEventCarriesSplit(t *testing.T) {
	esc := testEventEscrow()
	esc.Status = StatusReleased
	evt := NewResolvedEvent(esc, 6_000, 3_000, big.NewInt(75))
	if evt.Attributes["clientShareBps"] != "6000" || evt.Attributes["freelancerShareBps"] != "3000" {
		t.Fatalf("share attributes wrong: %v", evt.Attributes)
	}
	if evt.Attributes["remainder"] != "75" || evt.Attributes["resolved"] != "true" {
		t.Fatalf("remainder attributes wrong: %v", evt.Attributes)
	}
}

func TestReleasedEventCarriesFee(t *testing.T) {
	esc := testEventEscrow()
	esc.Status = StatusReleased
	evt := NewReleasedEvent(esc, big.NewInt(19))
	if evt.Attributes["fee"] != "19" {
		t.Fatalf("fee attribute wrong: %v", evt.Attributes)
	}
	if evt := NewReleasedEvent(nil, nil); evt.Attributes["fee"] != "0" {
		t.Fatalf("nil inputs must normalise: %v", evt.Attributes)
	}
}
