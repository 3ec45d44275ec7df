package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/multisig-custody/backend/internal/models"
)

const walletColumns = `id, owner_user_id, name, chain, required_signatures, total_signers, address, status,
	metadata, version, activated_at, created_at, updated_at`

func scanWallet(row pgx.Row) (*models.MultiSigWallet, error) {
	var w models.MultiSigWallet
	var meta []byte
	err := row.Scan(&w.ID, &w.OwnerUserID, &w.Name, &w.Chain, &w.RequiredSignatures, &w.TotalSigners, &w.Address, &w.Status,
		&meta, &w.Version, &w.ActivatedAt, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	w.Metadata = unmarshalMap(meta)
	return &w, nil
}

func (r *PostgresStore) CreateWallet(ctx context.Context, w *models.MultiSigWallet) error {
	return r.q.QueryRow(ctx, `
		INSERT INTO multisig_wallets (owner_user_id, name, chain, required_signatures, total_signers, status, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, version, created_at, updated_at
	`, w.OwnerUserID, w.Name, w.Chain, w.RequiredSignatures, w.TotalSigners, w.Status, marshalJSON(w.Metadata),
	).Scan(&w.ID, &w.Version, &w.CreatedAt, &w.UpdatedAt)
}

func (r *PostgresStore) GetWallet(ctx context.Context, id uuid.UUID) (*models.MultiSigWallet, error) {
	return scanWallet(r.q.QueryRow(ctx, `SELECT `+walletColumns+` FROM multisig_wallets WHERE id = $1`, id))
}

func (r *PostgresStore) GetWalletForUpdate(ctx context.Context, id uuid.UUID) (*models.MultiSigWallet, error) {
	return scanWallet(r.q.QueryRow(ctx, `SELECT `+walletColumns+` FROM multisig_wallets WHERE id = $1 FOR UPDATE`, id))
}

// UpdateWallet writes status, address and metadata. The address column is
// only ever filled once: COALESCE keeps an existing value.
func (r *PostgresStore) UpdateWallet(ctx context.Context, w *models.MultiSigWallet) error {
	err := r.q.QueryRow(ctx, `
		UPDATE multisig_wallets
		SET status = $1, address = COALESCE(address, $2), metadata = $3, activated_at = COALESCE(activated_at, $4),
		    version = version + 1, updated_at = now()
		WHERE id = $5 AND version = $6
		RETURNING version, updated_at
	`, w.Status, w.Address, marshalJSON(w.Metadata), w.ActivatedAt, w.ID, w.Version).Scan(&w.Version, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrConcurrentModification
		}
		return err
	}
	return nil
}

func (r *PostgresStore) ListWallets(ctx context.Context, f WalletFilter) ([]models.MultiSigWallet, error) {
	query := `SELECT ` + prefixed("w.", walletColumns) + ` FROM multisig_wallets w`
	args := []any{}
	argIdx := 1
	where := []string{}

	if f.OwnerUserID != nil {
		where = append(where, fmt.Sprintf("w.owner_user_id = $%d", argIdx))
		args = append(args, *f.OwnerUserID)
		argIdx++
	}
	if f.SignerUserID != nil {
		where = append(where, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM multisig_wallet_signers s WHERE s.wallet_id = w.id AND s.is_active = true AND s.user_id = $%d)", argIdx))
		args = append(args, *f.SignerUserID)
		argIdx++
	}
	if f.Chain != nil {
		where = append(where, fmt.Sprintf("w.chain = $%d", argIdx))
		args = append(args, *f.Chain)
		argIdx++
	}
	if f.Status != nil {
		where = append(where, fmt.Sprintf("w.status = $%d", argIdx))
		args = append(args, *f.Status)
		argIdx++
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY w.created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, normalizeLimit(f.Limit), f.Offset)

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wallets []models.MultiSigWallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, *w)
	}
	return wallets, rows.Err()
}

// ---- Signers ----

const signerColumns = `id, wallet_id, user_id, hardware_association_id, signer_type, public_key, address, position,
	is_active, label, metadata, created_at, deactivated_at`

func scanSigner(row pgx.Row) (*models.MultiSigWalletSigner, error) {
	var s models.MultiSigWalletSigner
	var meta []byte
	err := row.Scan(&s.ID, &s.WalletID, &s.UserID, &s.HardwareAssociationID, &s.SignerType, &s.PublicKey, &s.Address, &s.Position,
		&s.IsActive, &s.Label, &meta, &s.CreatedAt, &s.DeactivatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	s.Metadata = unmarshalMap(meta)
	return &s, nil
}

func (r *PostgresStore) CreateSigner(ctx context.Context, s *models.MultiSigWalletSigner) error {
	return r.q.QueryRow(ctx, `
		INSERT INTO multisig_wallet_signers (wallet_id, user_id, hardware_association_id, signer_type, public_key, address,
		                                     position, is_active, label, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`, s.WalletID, s.UserID, s.HardwareAssociationID, s.SignerType, s.PublicKey, s.Address,
		s.Position, s.IsActive, s.Label, marshalJSON(s.Metadata),
	).Scan(&s.ID, &s.CreatedAt)
}

func (r *PostgresStore) GetSigner(ctx context.Context, id uuid.UUID) (*models.MultiSigWalletSigner, error) {
	return scanSigner(r.q.QueryRow(ctx, `SELECT `+signerColumns+` FROM multisig_wallet_signers WHERE id = $1`, id))
}

func (r *PostgresStore) ListSigners(ctx context.Context, walletID uuid.UUID, activeOnly bool) ([]models.MultiSigWalletSigner, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+signerColumns+`
		FROM multisig_wallet_signers
		WHERE wallet_id = $1 AND ($2 = false OR is_active = true)
		ORDER BY position
	`, walletID, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signers []models.MultiSigWalletSigner
	for rows.Next() {
		s, err := scanSigner(rows)
		if err != nil {
			return nil, err
		}
		signers = append(signers, *s)
	}
	return signers, rows.Err()
}

// NextSignerPosition counts inactive signers too: positions are never reused.
func (r *PostgresStore) NextSignerPosition(ctx context.Context, walletID uuid.UUID) (int, error) {
	var v *int
	err := r.q.QueryRow(ctx, `SELECT MAX(position) FROM multisig_wallet_signers WHERE wallet_id = $1`, walletID).Scan(&v)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 1, nil
	}
	return *v + 1, nil
}

func (r *PostgresStore) DeactivateSigner(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE multisig_wallet_signers SET is_active = false, deactivated_at = $1
		WHERE id = $2 AND is_active = true
	`, at, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConcurrentModification
	}
	return nil
}

func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
