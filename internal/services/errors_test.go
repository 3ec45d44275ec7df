package services

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_IsMatchesByCode(t *testing.T) {
	err := ErrQuorumViolation.With("active_signers", 2, "required_signatures", 2)
	wrapped := fmt.Errorf("remove signer: %w", err)

	if !errors.Is(wrapped, ErrQuorumViolation) {
		t.Error("detailed copy must match its sentinel")
	}
	if errors.Is(wrapped, ErrWalletNotReady) {
		t.Error("different codes must not match")
	}

	e, ok := AsError(wrapped)
	if !ok || e.Kind != KindStateConflict {
		t.Fatalf("AsError = %+v, %v", e, ok)
	}
	if !strings.Contains(e.Error(), "active_signers=2") {
		t.Errorf("message lacks details: %s", e.Error())
	}
	if len(ErrQuorumViolation.Details) != 0 {
		t.Error("With must not mutate the sentinel")
	}
}

func TestError_Withf(t *testing.T) {
	e := ErrInvalidStatus.Withf("cannot go from %s to %s", "archived", "active")
	if e.Message != "cannot go from archived to active" || e.Code != ErrInvalidStatus.Code {
		t.Errorf("unexpected %+v", e)
	}
	if ErrInvalidStatus.Message == e.Message {
		t.Error("Withf must not mutate the sentinel")
	}
}
