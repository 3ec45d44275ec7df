package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/multisig-custody/backend/internal/chain"
	"github.com/multisig-custody/backend/internal/events"
	"github.com/multisig-custody/backend/internal/models"
	"github.com/multisig-custody/backend/internal/rbac"
	"github.com/multisig-custody/backend/internal/repositories"
	"github.com/multisig-custody/backend/internal/signing"
	"go.uber.org/zap"
)

// pendingCanceller cancels a wallet's pending approval requests inside the
// caller's transaction.
type pendingCanceller interface {
	CancelPendingForWallet(ctx context.Context, tx repositories.Store, walletID uuid.UUID, actorID *uuid.UUID, ob *outbox) (int, error)
}

// HardwareResolver looks up device associations enrolled by the device
// registry.
type HardwareResolver interface {
	GetHardwareAssociation(ctx context.Context, id uuid.UUID) (*models.HardwareAssociation, error)
}

// WalletRegistry owns multi-sig wallets and their signers.
type WalletRegistry struct {
	store    repositories.Store
	hardware HardwareResolver
	requests pendingCanceller
	notifier *notifier
	cfg      EngineConfig
	log      *zap.Logger
	now      func() time.Time
}

// NewWalletRegistry builds the registry. A nil hardware resolver disables
// hardware signers.
func NewWalletRegistry(store repositories.Store, hardware HardwareResolver, publisher events.Publisher, cfg EngineConfig, log *zap.Logger) *WalletRegistry {
	return &WalletRegistry{
		store:    store,
		hardware: hardware,
		notifier: &notifier{
			store:         store,
			publisher:     publisher,
			defaultTenant: cfg.DefaultTenantID,
			log:           log,
		},
		cfg: cfg,
		log: log,
		now: time.Now,
	}
}

type WalletConfig struct {
	Name               string `json:"name"`
	Chain              string `json:"chain"`
	RequiredSignatures int    `json:"required_signatures"`
	TotalSigners       int    `json:"total_signers"`
}

type AddSignerInput struct {
	SignerType string
	PublicKey  string
	Address    *string
	UserID     *uuid.UUID
	HardwareID *uuid.UUID
	Label      *string
	Metadata   map[string]any
}

func (r *WalletRegistry) CreateWallet(ctx context.Context, ownerID uuid.UUID, wc WalletConfig, metadata map[string]any) (*models.MultiSigWallet, error) {
	if !r.cfg.Enabled {
		return nil, ErrFeatureDisabled
	}
	chainName := strings.ToLower(strings.TrimSpace(wc.Chain))
	if !r.cfg.IsChainSupported(chainName) {
		return nil, ErrUnsupportedChain.With("chain", wc.Chain)
	}
	if err := r.validateConfig(wc); err != nil {
		return nil, err
	}

	now := r.now().UTC()
	wallet := &models.MultiSigWallet{
		ID:                 uuid.New(),
		OwnerUserID:        ownerID,
		Name:               strings.TrimSpace(wc.Name),
		Chain:              chainName,
		RequiredSignatures: wc.RequiredSignatures,
		TotalSigners:       wc.TotalSigners,
		Status:             models.WalletStatusAwaitingSigners,
		Metadata:           metadata,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := r.store.CreateWallet(ctx, wallet); err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}

	ob := &outbox{}
	ob.audit(&ownerID, "multisig_wallet_created", "multisig_wallet", wallet.ID, map[string]any{
		"chain":               wallet.Chain,
		"required_signatures": wallet.RequiredSignatures,
		"total_signers":       wallet.TotalSigners,
	})
	ob.notify(events.EventWalletCreated, map[string]any{
		"wallet_id":           wallet.ID.String(),
		"owner_user_id":       ownerID.String(),
		"chain":               wallet.Chain,
		"required_signatures": wallet.RequiredSignatures,
		"total_signers":       wallet.TotalSigners,
	})
	r.notifier.flush(ctx, ob)

	r.log.Info("multisig wallet created",
		zap.String("wallet_id", wallet.ID.String()),
		zap.String("chain", wallet.Chain),
		zap.Int("required", wallet.RequiredSignatures),
		zap.Int("total", wallet.TotalSigners),
	)
	return wallet, nil
}

func (r *WalletRegistry) validateConfig(wc WalletConfig) error {
	if strings.TrimSpace(wc.Name) == "" {
		return ErrInvalidConfig.Withf("wallet name is required")
	}
	if wc.RequiredSignatures < 1 {
		return ErrInvalidConfig.Withf("required signatures must be at least 1").
			With("required_signatures", wc.RequiredSignatures)
	}
	if wc.TotalSigners < wc.RequiredSignatures {
		return ErrInvalidConfig.Withf("total signers must not be less than required signatures").
			With("required_signatures", wc.RequiredSignatures, "total_signers", wc.TotalSigners)
	}
	if r.cfg.MaxSigners > 0 && wc.TotalSigners > r.cfg.MaxSigners {
		return ErrInvalidConfig.Withf("too many signers").
			With("total_signers", wc.TotalSigners, "max_signers", r.cfg.MaxSigners)
	}
	return nil
}

// AddSigner enrolls a signer. When the active signer count reaches the
// wallet's total for the first time, the address is derived and the wallet
// becomes active in the same transaction.
func (r *WalletRegistry) AddSigner(ctx context.Context, walletID, actorID uuid.UUID, in AddSignerInput) (*models.MultiSigWalletSigner, error) {
	device, err := signing.For(in.SignerType)
	if err != nil {
		return nil, ErrUnknownSignerType.With("signer_type", in.SignerType)
	}

	var signer *models.MultiSigWalletSigner
	ob := &outbox{}

	err = r.store.InTx(ctx, func(tx repositories.Store) error {
		wallet, err := tx.GetWalletForUpdate(ctx, walletID)
		if err != nil {
			return mapStoreErr(err, "wallet")
		}
		if err := r.authorize(ctx, tx, wallet, actorID, rbac.PermManageSigners); err != nil {
			return err
		}
		if wallet.Status == models.WalletStatusArchived {
			return ErrInvalidStatus.With("status", wallet.Status)
		}

		active, err := tx.ListSigners(ctx, wallet.ID, true)
		if err != nil {
			return err
		}
		if len(active) >= wallet.TotalSigners {
			return ErrFullySetUp.With("active_signers", len(active), "total_signers", wallet.TotalSigners)
		}

		hw, err := r.lookupHardware(ctx, in)
		if err != nil {
			return err
		}
		publicKey := in.PublicKey
		if hw != nil && publicKey == "" {
			publicKey = hw.PublicKey
		}
		if err := device.ValidatePublicKey(publicKey); err != nil {
			return ErrMalformedSignature.Withf("invalid signer public key").With("reason", err.Error())
		}
		publicKey = signing.NormalizeKey(publicKey)

		userID, hwID, err := r.resolveSignerRef(wallet, in, hw)
		if err != nil {
			return err
		}
		for _, s := range active {
			if hwID != nil && s.HardwareAssociationID != nil && *s.HardwareAssociationID == *hwID {
				return ErrDuplicateSigner.With("signer_id", s.ID.String(), "hardware_association_id", hwID.String())
			}
			if signing.NormalizeKey(s.PublicKey) == publicKey {
				return ErrDuplicateSigner.With("signer_id", s.ID.String())
			}
		}

		position, err := tx.NextSignerPosition(ctx, wallet.ID)
		if err != nil {
			return err
		}

		addr := in.Address
		if addr == nil {
			if derived, err := chain.DeriveSignerAddress(wallet.Chain, publicKey); err == nil {
				addr = &derived
			}
		}

		now := r.now().UTC()
		signer = &models.MultiSigWalletSigner{
			ID:                    uuid.New(),
			WalletID:              wallet.ID,
			UserID:                userID,
			HardwareAssociationID: hwID,
			SignerType:            in.SignerType,
			PublicKey:             publicKey,
			Address:               addr,
			Position:              position,
			IsActive:              true,
			Label:                 in.Label,
			Metadata:              in.Metadata,
			CreatedAt:             now,
		}
		if err := tx.CreateSigner(ctx, signer); err != nil {
			return fmt.Errorf("create signer: %w", err)
		}
		ob.audit(&actorID, "multisig_signer_added", "multisig_wallet", wallet.ID, map[string]any{
			"signer_id":   signer.ID.String(),
			"signer_type": signer.SignerType,
			"position":    signer.Position,
		})

		active = append(active, *signer)
		if len(active) == wallet.TotalSigners && wallet.Status == models.WalletStatusAwaitingSigners {
			return r.activate(ctx, tx, wallet, active, now, ob)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.notifier.flush(ctx, ob)
	return signer, nil
}

// lookupHardware loads the referenced device from the device registry.
// Callers never supply the device record themselves.
func (r *WalletRegistry) lookupHardware(ctx context.Context, in AddSignerInput) (*models.HardwareAssociation, error) {
	if in.HardwareID == nil || !models.IsHardwareSigner(in.SignerType) {
		return nil, nil
	}
	if r.hardware == nil {
		return nil, ErrInvalidSigner.Withf("hardware signers are not available")
	}
	hw, err := r.hardware.GetHardwareAssociation(ctx, *in.HardwareID)
	if err != nil {
		return nil, mapStoreErr(err, "hardware device")
	}
	return hw, nil
}

// resolveSignerRef enforces which reference each signer type carries.
func (r *WalletRegistry) resolveSignerRef(wallet *models.MultiSigWallet, in AddSignerInput, hw *models.HardwareAssociation) (*uuid.UUID, *uuid.UUID, error) {
	if !models.IsHardwareSigner(in.SignerType) {
		if in.HardwareID != nil {
			return nil, nil, ErrInvalidSigner.Withf("%s signers cannot reference a hardware device", in.SignerType)
		}
		if in.UserID == nil || *in.UserID == uuid.Nil {
			return nil, nil, ErrInvalidSigner.Withf("%s signers require a user", in.SignerType)
		}
		return in.UserID, nil, nil
	}

	if hw == nil {
		return nil, nil, ErrInvalidSigner.Withf("%s signers require a hardware device association", in.SignerType)
	}
	if !strings.EqualFold(hw.Chain, wallet.Chain) {
		return nil, nil, ErrChainMismatch.With("device_chain", hw.Chain, "wallet_chain", wallet.Chain)
	}
	if expected := strings.TrimPrefix(in.SignerType, "hardware_"); !strings.EqualFold(hw.DeviceType, expected) {
		return nil, nil, ErrInvalidSigner.Withf("device type %q does not match signer type %s", hw.DeviceType, in.SignerType)
	}
	if in.UserID != nil && *in.UserID != hw.UserID {
		return nil, nil, ErrInvalidSigner.Withf("hardware device belongs to another user")
	}
	if hw.PublicKey != "" && in.PublicKey != "" && signing.NormalizeKey(hw.PublicKey) != signing.NormalizeKey(in.PublicKey) {
		return nil, nil, ErrInvalidSigner.Withf("public key does not match the hardware device key")
	}
	userID, hwID := hw.UserID, hw.ID
	return &userID, &hwID, nil
}

func (r *WalletRegistry) activate(ctx context.Context, tx repositories.Store, wallet *models.MultiSigWallet, active []models.MultiSigWalletSigner, now time.Time, ob *outbox) error {
	keys := make([]string, 0, len(active))
	for _, s := range active {
		keys = append(keys, s.PublicKey)
	}
	addr, err := chain.DeriveAddress(wallet.Chain, wallet.RequiredSignatures, keys)
	if err != nil {
		return fmt.Errorf("derive wallet address: %w", err)
	}

	oldStatus := wallet.Status
	wallet.Address = &addr
	wallet.Status = models.WalletStatusActive
	wallet.ActivatedAt = &now
	wallet.UpdatedAt = now
	if err := tx.UpdateWallet(ctx, wallet); err != nil {
		return mapStoreErr(err, "wallet")
	}

	ob.audit(nil, fmt.Sprintf("multisig_wallet_%s_to_%s", oldStatus, wallet.Status), "multisig_wallet", wallet.ID, map[string]any{
		"address": addr,
	})
	ob.notify(events.EventWalletStatusChanged, map[string]any{
		"wallet_id":  wallet.ID.String(),
		"old_status": oldStatus,
		"new_status": wallet.Status,
		"address":    addr,
	})
	r.log.Info("multisig wallet activated",
		zap.String("wallet_id", wallet.ID.String()),
		zap.String("address", addr),
	)
	return nil
}

// RemoveSigner deactivates a signer. The row is kept for history.
func (r *WalletRegistry) RemoveSigner(ctx context.Context, walletID, signerID, actorID uuid.UUID) error {
	ob := &outbox{}
	err := r.store.InTx(ctx, func(tx repositories.Store) error {
		wallet, err := tx.GetWalletForUpdate(ctx, walletID)
		if err != nil {
			return mapStoreErr(err, "wallet")
		}
		if err := r.authorize(ctx, tx, wallet, actorID, rbac.PermManageSigners); err != nil {
			return err
		}
		if wallet.Status == models.WalletStatusArchived {
			return ErrInvalidStatus.With("status", wallet.Status)
		}

		signer, err := tx.GetSigner(ctx, signerID)
		if err != nil {
			return mapStoreErr(err, "signer")
		}
		if signer.WalletID != wallet.ID || !signer.IsActive {
			return ErrNotFound.Withf("active signer not found").With("signer_id", signerID.String())
		}

		active, err := tx.ListSigners(ctx, wallet.ID, true)
		if err != nil {
			return err
		}
		if len(active)-1 < wallet.RequiredSignatures {
			return ErrQuorumViolation.With(
				"active_signers", len(active),
				"required_signatures", wallet.RequiredSignatures,
			)
		}

		if err := tx.DeactivateSigner(ctx, signer.ID, r.now().UTC()); err != nil {
			return mapStoreErr(err, "signer")
		}
		ob.audit(&actorID, "multisig_signer_removed", "multisig_wallet", wallet.ID, map[string]any{
			"signer_id":      signer.ID.String(),
			"active_signers": len(active) - 1,
		})
		ob.notify(events.EventSignerRemoved, map[string]any{
			"wallet_id":      wallet.ID.String(),
			"signer_id":      signer.ID.String(),
			"active_signers": len(active) - 1,
		})
		return nil
	})
	if err != nil {
		return err
	}

	r.notifier.flush(ctx, ob)
	return nil
}

func (r *WalletRegistry) SuspendWallet(ctx context.Context, walletID, actorID uuid.UUID) error {
	return r.changeStatus(ctx, walletID, actorID, models.WalletStatusSuspended)
}

func (r *WalletRegistry) ReactivateWallet(ctx context.Context, walletID, actorID uuid.UUID) error {
	return r.changeStatus(ctx, walletID, actorID, models.WalletStatusActive)
}

// ArchiveWallet cancels every pending request on the wallet and archives it
// in one transaction. If any cancellation fails nothing changes.
func (r *WalletRegistry) ArchiveWallet(ctx context.Context, walletID, actorID uuid.UUID) error {
	return r.changeStatus(ctx, walletID, actorID, models.WalletStatusArchived)
}

func (r *WalletRegistry) changeStatus(ctx context.Context, walletID, actorID uuid.UUID, newStatus string) error {
	ob := &outbox{}
	err := r.store.InTx(ctx, func(tx repositories.Store) error {
		wallet, err := tx.GetWalletForUpdate(ctx, walletID)
		if err != nil {
			return mapStoreErr(err, "wallet")
		}
		if err := r.authorize(ctx, tx, wallet, actorID, rbac.PermManageWallet); err != nil {
			return err
		}
		if !models.IsValidWalletTransition(wallet.Status, newStatus) {
			return ErrInvalidStatus.Withf("invalid transition from %s to %s", wallet.Status, newStatus).
				With("status", wallet.Status, "requested_status", newStatus)
		}

		cancelled := 0
		if newStatus == models.WalletStatusArchived {
			if r.requests == nil {
				return fmt.Errorf("archive wallet: no approval coordinator bound")
			}
			cancelled, err = r.requests.CancelPendingForWallet(ctx, tx, wallet.ID, &actorID, ob)
			if err != nil {
				return fmt.Errorf("cancel pending requests: %w", err)
			}
		}

		oldStatus := wallet.Status
		wallet.Status = newStatus
		wallet.UpdatedAt = r.now().UTC()
		if err := tx.UpdateWallet(ctx, wallet); err != nil {
			return mapStoreErr(err, "wallet")
		}

		meta := map[string]any{"old_status": oldStatus, "new_status": newStatus}
		if newStatus == models.WalletStatusArchived {
			meta["cancelled_requests"] = cancelled
		}
		ob.audit(&actorID, fmt.Sprintf("multisig_wallet_%s_to_%s", oldStatus, newStatus), "multisig_wallet", wallet.ID, meta)
		ob.notify(events.EventWalletStatusChanged, map[string]any{
			"wallet_id":  wallet.ID.String(),
			"old_status": oldStatus,
			"new_status": newStatus,
		})
		return nil
	})
	if err != nil {
		return err
	}

	r.notifier.flush(ctx, ob)
	r.log.Info("multisig wallet status changed",
		zap.String("wallet_id", walletID.String()),
		zap.String("new_status", newStatus),
	)
	return nil
}

// authorize checks the actor's role on the wallet against a permission.
func (r *WalletRegistry) authorize(ctx context.Context, tx repositories.Store, wallet *models.MultiSigWallet, actorID uuid.UUID, perm string) error {
	role, err := roleOf(ctx, tx, wallet, actorID)
	if err != nil {
		return err
	}
	if !rbac.HasPermission(role, perm) {
		return ErrUnauthorized.With("permission", perm)
	}
	return nil
}

func roleOf(ctx context.Context, store repositories.Store, wallet *models.MultiSigWallet, userID uuid.UUID) (string, error) {
	if wallet.OwnerUserID == userID {
		return rbac.RoleOwner, nil
	}
	active, err := store.ListSigners(ctx, wallet.ID, true)
	if err != nil {
		return rbac.RoleNone, err
	}
	for _, s := range active {
		if s.UserID != nil && *s.UserID == userID {
			return rbac.RoleSigner, nil
		}
	}
	return rbac.RoleNone, nil
}

// RoleOf returns the user's role on the wallet (owner, signer or none).
func (r *WalletRegistry) RoleOf(ctx context.Context, walletID, userID uuid.UUID) (string, *models.MultiSigWallet, error) {
	wallet, err := r.GetWallet(ctx, walletID)
	if err != nil {
		return rbac.RoleNone, nil, err
	}
	role, err := roleOf(ctx, r.store, wallet, userID)
	if err != nil {
		return rbac.RoleNone, nil, err
	}
	return role, wallet, nil
}

// readiness loads the wallet's active signers and reports whether the wallet
// can take new approval requests.
func readiness(ctx context.Context, store repositories.Store, wallet *models.MultiSigWallet) ([]models.MultiSigWalletSigner, error) {
	active, err := store.ListSigners(ctx, wallet.ID, true)
	if err != nil {
		return nil, err
	}
	if wallet.Status != models.WalletStatusActive || !wallet.HasAddress() || len(active) < wallet.TotalSigners {
		return nil, ErrWalletNotReady.With(
			"status", wallet.Status,
			"active_signers", len(active),
			"total_signers", wallet.TotalSigners,
			"has_address", wallet.HasAddress(),
		)
	}
	return active, nil
}

func (r *WalletRegistry) GetWallet(ctx context.Context, walletID uuid.UUID) (*models.MultiSigWallet, error) {
	wallet, err := r.store.GetWallet(ctx, walletID)
	if err != nil {
		return nil, mapStoreErr(err, "wallet")
	}
	return wallet, nil
}

func (r *WalletRegistry) ListSigners(ctx context.Context, walletID uuid.UUID, activeOnly bool) ([]models.MultiSigWalletSigner, error) {
	if _, err := r.GetWallet(ctx, walletID); err != nil {
		return nil, err
	}
	return r.store.ListSigners(ctx, walletID, activeOnly)
}

func (r *WalletRegistry) GetOwnedWallets(ctx context.Context, userID uuid.UUID, chainName *string) ([]models.MultiSigWallet, error) {
	return r.store.ListWallets(ctx, repositories.WalletFilter{OwnerUserID: &userID, Chain: lowerPtr(chainName), Limit: 500})
}

func (r *WalletRegistry) GetSignerWallets(ctx context.Context, userID uuid.UUID, chainName *string) ([]models.MultiSigWallet, error) {
	return r.store.ListWallets(ctx, repositories.WalletFilter{SignerUserID: &userID, Chain: lowerPtr(chainName), Limit: 500})
}

// GetUserWallets returns wallets the user owns or signs for, newest first.
func (r *WalletRegistry) GetUserWallets(ctx context.Context, userID uuid.UUID, chainName *string) ([]models.MultiSigWallet, error) {
	owned, err := r.GetOwnedWallets(ctx, userID, chainName)
	if err != nil {
		return nil, err
	}
	signed, err := r.GetSignerWallets(ctx, userID, chainName)
	if err != nil {
		return nil, err
	}

	seen := make(map[uuid.UUID]bool, len(owned)+len(signed))
	out := make([]models.MultiSigWallet, 0, len(owned)+len(signed))
	for _, list := range [][]models.MultiSigWallet{owned, signed} {
		for _, w := range list {
			if seen[w.ID] {
				continue
			}
			seen[w.ID] = true
			out = append(out, w)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *WalletRegistry) ListAudit(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]models.AuditLog, error) {
	return r.store.ListAudit(ctx, "multisig_wallet", walletID, limit, offset)
}

func mapStoreErr(err error, entity string) error {
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return ErrNotFound.Withf("%s not found", entity)
	case errors.Is(err, repositories.ErrConcurrentModification):
		return ErrConcurrentModification.With("entity", entity)
	default:
		return err
	}
}

func lowerPtr(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	v := strings.ToLower(*s)
	return &v
}
