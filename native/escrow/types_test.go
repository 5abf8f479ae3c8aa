package escrow

import (
	"math/big"
	"testing"
)

func TestStatusRoundTrip(t *testing.T) {
	for _, status := range []Status{StatusCreated, StatusFunded, StatusReleased, StatusRefunded, StatusDisputed} {
		parsed, err := ParseStatus(status.String())
		if err != nil {
			t.Fatalf("parse %q: %v", status.String(), err)
		}
		if parsed != status {
			t.Fatalf("round trip mismatch: %v != %v", parsed, status)
		}
	}
	if _, err := ParseStatus("limbo"); err == nil {
		t.Fatal("unknown status must fail to parse")
	}
}

func TestStatusTerminal(t *testing.T) {
	if !StatusReleased.Terminal() || !StatusRefunded.Terminal() {
		t.Fatal("released and refunded are terminal")
	}
	for _, status := range []Status{StatusCreated, StatusFunded, StatusDisputed} {
		if status.Terminal() {
			t.Fatalf("%s must not be terminal", status)
		}
	}
}

func TestSanitize(t *testing.T) {
	valid := &Escrow{
		ID:         1,
		ProjectID:  " p1 ",
		Client:     newTestAddress(0x10),
		Freelancer: newTestAddress(0x20),
		Amount:     big.NewInt(100),
		Status:     StatusCreated,
	}
	clean, err := Sanitize(valid)
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if clean.ProjectID != "p1" {
		t.Fatalf("project id not trimmed: %q", clean.ProjectID)
	}
	clean.Amount.SetInt64(5)
	if valid.Amount.Cmp(big.NewInt(100)) != 0 {
		t.Fatal("sanitize must not alias the original amount")
	}

	invalid := valid.Clone()
	invalid.Client = invalid.Freelancer
	if _, err := Sanitize(invalid); err == nil {
		t.Fatal("equal parties must fail sanitation")
	}
	invalid = valid.Clone()
	invalid.Amount = big.NewInt(0)
	if _, err := Sanitize(invalid); err == nil {
		t.Fatal("zero amount must fail sanitation")
	}
	invalid = valid.Clone()
	invalid.Status = Status(42)
	if _, err := Sanitize(invalid); err == nil {
		t.Fatal("out of range status must fail sanitation")
	}
	if _, err := Sanitize(nil); err == nil {
		t.Fatal("nil escrow must fail sanitation")
	}
}

func TestCloneNilAmount(t *testing.T) {
	esc := &Escrow{ID: 7}
	clone := esc.Clone()
	if clone.Amount == nil || clone.Amount.Sign() != 0 {
		t.Fatal("clone must normalise a nil amount to zero")
	}
}
