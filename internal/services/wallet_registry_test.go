package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/multisig-custody/backend/internal/events"
	"github.com/multisig-custody/backend/internal/models"
	"github.com/multisig-custody/backend/internal/repositories"
)

func TestCreateWallet_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*EngineConfig)
		wc      WalletConfig
		wantErr *Error
	}{
		{"feature disabled", func(c *EngineConfig) { c.Enabled = false }, WalletConfig{Name: "w", Chain: "ethereum", RequiredSignatures: 1, TotalSigners: 1}, ErrFeatureDisabled},
		{"unsupported chain", nil, WalletConfig{Name: "w", Chain: "dogecoin", RequiredSignatures: 1, TotalSigners: 1}, ErrUnsupportedChain},
		{"zero required", nil, WalletConfig{Name: "w", Chain: "ethereum", RequiredSignatures: 0, TotalSigners: 2}, ErrInvalidConfig},
		{"required above total", nil, WalletConfig{Name: "w", Chain: "ethereum", RequiredSignatures: 3, TotalSigners: 2}, ErrInvalidConfig},
		{"too many signers", nil, WalletConfig{Name: "w", Chain: "ethereum", RequiredSignatures: 2, TotalSigners: 16}, ErrInvalidConfig},
		{"missing name", nil, WalletConfig{Chain: "ethereum", RequiredSignatures: 1, TotalSigners: 1}, ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testEngineConfig()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			f := newFixtureWith(t, cfg, nil)
			_, err := f.registry.CreateWallet(context.Background(), f.owner, tt.wc, nil)
			expectCode(t, err, tt.wantErr)
		})
	}
}

func TestCreateWallet_AwaitingSignersAndNotified(t *testing.T) {
	f := newFixture(t)
	ctx := events.WithTenant(context.Background(), "tenant-7")

	w, err := f.registry.CreateWallet(ctx, f.owner, WalletConfig{
		Name: "ops", Chain: "Ethereum", RequiredSignatures: 2, TotalSigners: 3,
	}, map[string]any{"team": "ops"})
	if err != nil {
		t.Fatal(err)
	}
	if w.Status != models.WalletStatusAwaitingSigners {
		t.Errorf("status = %s", w.Status)
	}
	if w.HasAddress() {
		t.Error("address must not be assigned before activation")
	}
	if w.Chain != "ethereum" {
		t.Errorf("chain not normalized: %s", w.Chain)
	}

	created := f.bus.Events(events.EventWalletCreated)
	if len(created) != 1 {
		t.Fatalf("expected 1 wallet_created event, got %d", len(created))
	}
	if created[0].TenantID != "tenant-7" {
		t.Errorf("tenant = %q", created[0].TenantID)
	}

	f.createWallet(t, 1, 1)
	if got := f.bus.Events(events.EventWalletCreated)[1].TenantID; got != "default" {
		t.Errorf("expected default tenant sentinel, got %q", got)
	}
}

func TestAddSigner_ActivatesExactlyAtTotal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.createWallet(t, 2, 3)

	f.enroll(t, w.ID)
	f.enroll(t, w.ID)
	got, _ := f.registry.GetWallet(ctx, w.ID)
	if got.Status != models.WalletStatusAwaitingSigners || got.HasAddress() {
		t.Fatalf("wallet activated early: status=%s", got.Status)
	}

	third := f.enroll(t, w.ID)
	got, _ = f.registry.GetWallet(ctx, w.ID)
	if got.Status != models.WalletStatusActive {
		t.Fatalf("status = %s, want active", got.Status)
	}
	if !got.HasAddress() || !strings.HasPrefix(*got.Address, "0x") {
		t.Fatalf("unexpected address %v", got.Address)
	}
	if got.ActivatedAt == nil {
		t.Error("activated_at not set")
	}
	if third.signer.Position != 3 {
		t.Errorf("position = %d, want 3", third.signer.Position)
	}
	if third.signer.Address == nil {
		t.Error("signer address not derived")
	}

	changes := f.bus.Events(events.EventWalletStatusChanged)
	if len(changes) != 1 || changes[0].Payload["new_status"] != models.WalletStatusActive {
		t.Errorf("expected one activation event, got %+v", changes)
	}

	s := newTestSigner(t)
	_, err := f.registry.AddSigner(ctx, w.ID, f.owner, AddSignerInput{
		SignerType: models.SignerTypeInternal, PublicKey: s.pub, UserID: &s.userID,
	})
	expectCode(t, err, ErrFullySetUp)
}

func TestAddSigner_AddressIndependentOfOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := newTestSigner(t), newTestSigner(t)

	enroll := func(order ...*testSigner) string {
		w := f.createWallet(t, 2, 2)
		for _, s := range order {
			if _, err := f.registry.AddSigner(ctx, w.ID, f.owner, AddSignerInput{
				SignerType: models.SignerTypeInternal, PublicKey: s.pub, UserID: &s.userID,
			}); err != nil {
				t.Fatal(err)
			}
		}
		got, _ := f.registry.GetWallet(ctx, w.ID)
		return *got.Address
	}

	if enroll(a, b) != enroll(b, a) {
		t.Error("wallet address depends on enrollment order")
	}
}

func TestAddSigner_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.createWallet(t, 2, 3)
	first := f.enroll(t, w.ID)

	ledgerKey := "02" + strings.Repeat("ab", 32)
	device := f.hardware.Enroll(models.HardwareAssociation{
		UserID: uuid.New(), DeviceType: "ledger", Chain: "ethereum", PublicKey: ledgerKey,
	})
	signer, err := f.registry.AddSigner(ctx, w.ID, f.owner, AddSignerInput{
		SignerType: models.SignerTypeHardwareLedger, HardwareID: &device.ID,
	})
	if err != nil {
		t.Fatalf("add ledger signer: %v", err)
	}
	if signer.PublicKey != ledgerKey || *signer.UserID != device.UserID || *signer.HardwareAssociationID != device.ID {
		t.Errorf("signer not built from the registered device: %+v", signer)
	}

	otherKey := "03" + strings.Repeat("cd", 32)
	bitcoinTrezor := f.hardware.Enroll(models.HardwareAssociation{UserID: uuid.New(), DeviceType: "trezor", Chain: "bitcoin", PublicKey: otherKey})
	ledger := f.hardware.Enroll(models.HardwareAssociation{UserID: uuid.New(), DeviceType: "ledger", Chain: "ethereum", PublicKey: otherKey})
	unknown := uuid.New()

	otherUser := uuid.New()
	tests := []struct {
		name    string
		actor   uuid.UUID
		in      AddSignerInput
		wantErr *Error
	}{
		{"unknown type", f.owner, AddSignerInput{SignerType: "smart_card", PublicKey: first.pub, UserID: &otherUser}, ErrUnknownSignerType},
		{"not owner", first.userID, AddSignerInput{SignerType: models.SignerTypeInternal, PublicKey: newTestSigner(t).pub, UserID: &otherUser}, ErrUnauthorized},
		{"duplicate key", f.owner, AddSignerInput{SignerType: models.SignerTypeExternal, PublicKey: strings.ToUpper(first.pub), UserID: &otherUser}, ErrDuplicateSigner},
		{"duplicate device", f.owner, AddSignerInput{SignerType: models.SignerTypeHardwareLedger, HardwareID: &device.ID}, ErrDuplicateSigner},
		{"unregistered device", f.owner, AddSignerInput{SignerType: models.SignerTypeHardwareLedger, HardwareID: &unknown, PublicKey: otherKey}, ErrNotFound},
		{"device chain mismatch", f.owner, AddSignerInput{SignerType: models.SignerTypeHardwareTrezor, HardwareID: &bitcoinTrezor.ID}, ErrChainMismatch},
		{"device type mismatch", f.owner, AddSignerInput{SignerType: models.SignerTypeHardwareTrezor, HardwareID: &ledger.ID}, ErrInvalidSigner},
		{"device of another user", f.owner, AddSignerInput{SignerType: models.SignerTypeHardwareLedger, HardwareID: &ledger.ID, UserID: &otherUser}, ErrInvalidSigner},
		{"device key mismatch", f.owner, AddSignerInput{SignerType: models.SignerTypeHardwareLedger, HardwareID: &ledger.ID, PublicKey: newTestSigner(t).pub}, ErrInvalidSigner},
		{"user signer with device", f.owner, AddSignerInput{SignerType: models.SignerTypeInternal, PublicKey: newTestSigner(t).pub, UserID: &otherUser, HardwareID: &ledger.ID}, ErrInvalidSigner},
		{"hardware without device", f.owner, AddSignerInput{SignerType: models.SignerTypeHardwareTrezor, PublicKey: otherKey}, ErrInvalidSigner},
		{"user signer without user", f.owner, AddSignerInput{SignerType: models.SignerTypeInternal, PublicKey: newTestSigner(t).pub}, ErrInvalidSigner},
		{"malformed key", f.owner, AddSignerInput{SignerType: models.SignerTypeInternal, PublicKey: "xyz", UserID: &otherUser}, ErrMalformedSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.registry.AddSigner(ctx, w.ID, tt.actor, tt.in)
			expectCode(t, err, tt.wantErr)
		})
	}

	signers, _ := f.registry.ListSigners(ctx, w.ID, true)
	if len(signers) != 2 {
		t.Errorf("rejected enrollments must not create signers, have %d", len(signers))
	}
	if signers[1].UserID == nil || *signers[1].UserID != device.UserID {
		t.Error("hardware signer must be bound to the device owner")
	}
}

func TestRemoveSigner_QuorumViolation(t *testing.T) {
	f := newFixture(t)
	w, signers := f.activeWallet(t, 2, 2)

	err := f.registry.RemoveSigner(context.Background(), w.ID, signers[0].signer.ID, f.owner)
	expectCode(t, err, ErrQuorumViolation)

	e, _ := AsError(err)
	if e.Details["active_signers"] != 2 || e.Details["required_signatures"] != 2 {
		t.Errorf("details = %v", e.Details)
	}
}

func TestRemoveSigner_SoftRemovalKeepsAddress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w, signers := f.activeWallet(t, 2, 3)

	if err := f.registry.RemoveSigner(ctx, w.ID, signers[2].signer.ID, f.owner); err != nil {
		t.Fatal(err)
	}

	all, _ := f.registry.ListSigners(ctx, w.ID, false)
	active, _ := f.registry.ListSigners(ctx, w.ID, true)
	if len(all) != 3 || len(active) != 2 {
		t.Fatalf("signers all=%d active=%d", len(all), len(active))
	}
	removed := f.bus.Events(events.EventSignerRemoved)
	if len(removed) != 1 || removed[0].Payload["wallet_id"] != w.ID.String() || removed[0].Payload["signer_id"] != signers[2].signer.ID.String() {
		t.Errorf("signer_removed events = %+v", removed)
	}

	// Below total: no new requests until the slot is refilled.
	_, err := f.coordinator.CreateApprovalRequest(ctx, w.ID, f.owner, CreateRequestInput{
		TransactionData: map[string]any{"to": "x"},
	})
	expectCode(t, err, ErrWalletNotReady)

	replacement := f.enroll(t, w.ID)
	if replacement.signer.Position != 4 {
		t.Errorf("positions must never be reused, got %d", replacement.signer.Position)
	}

	got, _ := f.registry.GetWallet(ctx, w.ID)
	if *got.Address != *w.Address {
		t.Error("address changed after re-enrollment")
	}
	if got.Status != models.WalletStatusActive {
		t.Errorf("status = %s", got.Status)
	}
	f.createRequest(t, w.ID, f.owner)

	err = f.registry.RemoveSigner(ctx, w.ID, signers[2].signer.ID, f.owner)
	expectCode(t, err, ErrNotFound)
}

func TestWalletStatusTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending := f.createWallet(t, 1, 2)
	expectCode(t, f.registry.SuspendWallet(ctx, pending.ID, f.owner), ErrInvalidStatus)
	expectCode(t, f.registry.ArchiveWallet(ctx, pending.ID, f.owner), ErrInvalidStatus)

	w, signers := f.activeWallet(t, 1, 2)
	expectCode(t, f.registry.SuspendWallet(ctx, w.ID, signers[0].userID), ErrUnauthorized)

	if err := f.registry.SuspendWallet(ctx, w.ID, f.owner); err != nil {
		t.Fatal(err)
	}
	_, err := f.coordinator.CreateApprovalRequest(ctx, w.ID, f.owner, CreateRequestInput{
		TransactionData: map[string]any{"to": "x"},
	})
	expectCode(t, err, ErrWalletNotReady)

	if err := f.registry.ReactivateWallet(ctx, w.ID, f.owner); err != nil {
		t.Fatal(err)
	}
	if err := f.registry.ArchiveWallet(ctx, w.ID, f.owner); err != nil {
		t.Fatal(err)
	}
	expectCode(t, f.registry.ReactivateWallet(ctx, w.ID, f.owner), ErrInvalidStatus)

	got, _ := f.registry.GetWallet(ctx, w.ID)
	if got.Status != models.WalletStatusArchived || *got.Address != *w.Address {
		t.Errorf("archived wallet: status=%s address=%v", got.Status, got.Address)
	}
}

func TestSuspendedWalletFreezesRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w, s := f.activeWallet(t, 2, 3)
	a, b, c := s[0], s[1], s[2]

	req := f.createRequest(t, w.ID, f.owner)
	other := f.createRequest(t, w.ID, f.owner)
	f.approve(t, req, a)

	if err := f.registry.SuspendWallet(ctx, w.ID, f.owner); err != nil {
		t.Fatal(err)
	}

	_, err := f.coordinator.SubmitSignature(ctx, req.ID, b.userID, b.sign(t, req), b.pub)
	expectCode(t, err, ErrWalletNotReady)
	e, _ := AsError(err)
	if e.Details["status"] != models.WalletStatusSuspended {
		t.Errorf("details = %v", e.Details)
	}
	if got := f.request(t, req.ID); got.CurrentSignatures != 1 || got.Status != models.RequestStatusPending {
		t.Fatalf("suspended wallet accepted a signature: current=%d status=%s", got.CurrentSignatures, got.Status)
	}

	// rejecting and cancelling stay open so a frozen wallet can be cleaned up
	if _, err := f.coordinator.RejectRequest(ctx, req.ID, c.userID, nil); err != nil {
		t.Fatalf("reject on suspended wallet: %v", err)
	}
	if err := f.coordinator.CancelRequest(ctx, other.ID, f.owner); err != nil {
		t.Fatalf("cancel on suspended wallet: %v", err)
	}

	if err := f.registry.ReactivateWallet(ctx, w.ID, f.owner); err != nil {
		t.Fatal(err)
	}
	f.approve(t, req, b)
	if got := f.request(t, req.ID); got.Status != models.RequestStatusApproved {
		t.Fatalf("status after reactivation = %s", got.Status)
	}

	if err := f.registry.SuspendWallet(ctx, w.ID, f.owner); err != nil {
		t.Fatal(err)
	}
	_, err = f.coordinator.BroadcastTransaction(ctx, req.ID)
	expectCode(t, err, ErrWalletNotReady)
	if f.connector.Calls() != 0 {
		t.Errorf("connector called %d times for a suspended wallet", f.connector.Calls())
	}
	if got := f.request(t, req.ID); got.Status != models.RequestStatusApproved {
		t.Errorf("refused broadcast moved request to %s", got.Status)
	}

	if err := f.registry.ReactivateWallet(ctx, w.ID, f.owner); err != nil {
		t.Fatal(err)
	}
	done, err := f.coordinator.BroadcastTransaction(ctx, req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != models.RequestStatusCompleted {
		t.Errorf("status = %s", done.Status)
	}
}

func TestArchiveWallet_CancelsPendingOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w, signers := f.activeWallet(t, 1, 2)

	pending := f.createRequest(t, w.ID, f.owner)
	approved := f.createRequest(t, w.ID, f.owner)
	f.approve(t, approved, signers[0])

	if err := f.registry.ArchiveWallet(ctx, w.ID, f.owner); err != nil {
		t.Fatal(err)
	}

	if got := f.request(t, pending.ID); got.Status != models.RequestStatusCancelled {
		t.Errorf("pending request status = %s, want cancelled", got.Status)
	}
	if got := f.request(t, approved.ID); got.Status != models.RequestStatusApproved {
		t.Errorf("approved request status = %s, want approved", got.Status)
	}
}

type failingCanceller struct{}

func (failingCanceller) CancelPendingForWallet(ctx context.Context, tx repositories.Store, walletID uuid.UUID, actorID *uuid.UUID, ob *outbox) (int, error) {
	return 0, errors.New("cancel failed")
}

func TestArchiveWallet_AtomicOnCancelFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w, _ := f.activeWallet(t, 1, 2)
	f.registry.requests = failingCanceller{}

	if err := f.registry.ArchiveWallet(ctx, w.ID, f.owner); err == nil {
		t.Fatal("expected archival to fail")
	}
	got, _ := f.registry.GetWallet(ctx, w.ID)
	if got.Status != models.WalletStatusActive {
		t.Errorf("status = %s, archival must not proceed", got.Status)
	}
}

func TestWalletLookups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	owned, signers := f.activeWallet(t, 1, 1)
	member := signers[0]

	tonWallet, err := f.registry.CreateWallet(ctx, member.userID, WalletConfig{
		Name: "ton", Chain: "ton", RequiredSignatures: 1, TotalSigners: 1,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	all, err := f.registry.GetUserWallets(ctx, member.userID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected owned+signer wallets, got %d", len(all))
	}

	tonOnly := "TON"
	filtered, _ := f.registry.GetUserWallets(ctx, member.userID, &tonOnly)
	if len(filtered) != 1 || filtered[0].ID != tonWallet.ID {
		t.Errorf("chain filter returned %+v", filtered)
	}

	signerOf, _ := f.registry.GetSignerWallets(ctx, member.userID, nil)
	if len(signerOf) != 1 || signerOf[0].ID != owned.ID {
		t.Errorf("signer wallets = %+v", signerOf)
	}
	ownedBy, _ := f.registry.GetOwnedWallets(ctx, f.owner, nil)
	if len(ownedBy) != 1 || ownedBy[0].ID != owned.ID {
		t.Errorf("owned wallets = %+v", ownedBy)
	}

	role, _, err := f.registry.RoleOf(ctx, owned.ID, member.userID)
	if err != nil || role != "signer" {
		t.Errorf("RoleOf = %q, %v", role, err)
	}
}
