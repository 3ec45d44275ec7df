package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/multisig-custody/backend/internal/models"
)

var (
	ErrNotFound               = errors.New("record not found")
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// Store is the persistence contract for wallets, signers, approval requests
// and signer approvals. Both the Postgres and the in-memory backends satisfy it.
//
// Get*ForUpdate must be called inside InTx; the row stays locked until the
// transaction ends. Update* methods compare the entity's Version and fail with
// ErrConcurrentModification if another writer got there first.
type Store interface {
	InTx(ctx context.Context, fn func(tx Store) error) error

	// --- Wallets ---
	CreateWallet(ctx context.Context, w *models.MultiSigWallet) error
	GetWallet(ctx context.Context, id uuid.UUID) (*models.MultiSigWallet, error)
	GetWalletForUpdate(ctx context.Context, id uuid.UUID) (*models.MultiSigWallet, error)
	UpdateWallet(ctx context.Context, w *models.MultiSigWallet) error
	ListWallets(ctx context.Context, f WalletFilter) ([]models.MultiSigWallet, error)

	// --- Signers ---
	CreateSigner(ctx context.Context, s *models.MultiSigWalletSigner) error
	GetSigner(ctx context.Context, id uuid.UUID) (*models.MultiSigWalletSigner, error)
	ListSigners(ctx context.Context, walletID uuid.UUID, activeOnly bool) ([]models.MultiSigWalletSigner, error)
	NextSignerPosition(ctx context.Context, walletID uuid.UUID) (int, error)
	DeactivateSigner(ctx context.Context, id uuid.UUID, at time.Time) error

	// --- Approval requests ---
	CreateRequest(ctx context.Context, r *models.MultiSigApprovalRequest) error
	GetRequest(ctx context.Context, id uuid.UUID) (*models.MultiSigApprovalRequest, error)
	GetRequestForUpdate(ctx context.Context, id uuid.UUID) (*models.MultiSigApprovalRequest, error)
	UpdateRequest(ctx context.Context, r *models.MultiSigApprovalRequest) error
	ListRequests(ctx context.Context, f RequestFilter) ([]models.MultiSigApprovalRequest, error)
	CountLivePendingRequests(ctx context.Context, walletID uuid.UUID, now time.Time) (int, error)

	// --- Signer approvals ---
	CreateApprovals(ctx context.Context, approvals []*models.MultiSigSignerApproval) error
	ListApprovals(ctx context.Context, requestID uuid.UUID) ([]models.MultiSigSignerApproval, error)
	DecideApproval(ctx context.Context, a *models.MultiSigSignerApproval) error

	// --- Audit ---
	LogAudit(ctx context.Context, entry models.AuditLog) error
	ListAudit(ctx context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]models.AuditLog, error)
}

type WalletFilter struct {
	OwnerUserID  *uuid.UUID
	SignerUserID *uuid.UUID // through active signers
	Chain        *string
	Status       *string
	Limit        int
	Offset       int
}

type RequestFilter struct {
	WalletID      *uuid.UUID
	Status        *string
	ExpiresBefore *time.Time
	Limit         int
	Offset        int
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}
