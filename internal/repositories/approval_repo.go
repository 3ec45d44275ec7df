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

const requestColumns = `id, wallet_id, initiator_user_id, status, request_type, transaction_data, raw_data_to_sign,
	required_signatures, current_signatures, expires_at, transaction_hash, error_message, metadata, version,
	completed_at, created_at, updated_at`

func scanRequest(row pgx.Row) (*models.MultiSigApprovalRequest, error) {
	var r models.MultiSigApprovalRequest
	var txData, meta []byte
	err := row.Scan(&r.ID, &r.WalletID, &r.InitiatorUserID, &r.Status, &r.RequestType, &txData, &r.RawDataToSign,
		&r.RequiredSignatures, &r.CurrentSignatures, &r.ExpiresAt, &r.TransactionHash, &r.ErrorMessage, &meta, &r.Version,
		&r.CompletedAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	r.TransactionData = unmarshalMap(txData)
	r.Metadata = unmarshalMap(meta)
	return &r, nil
}

func (r *PostgresStore) CreateRequest(ctx context.Context, req *models.MultiSigApprovalRequest) error {
	return r.q.QueryRow(ctx, `
		INSERT INTO multisig_approval_requests (wallet_id, initiator_user_id, status, request_type, transaction_data,
		                                        raw_data_to_sign, required_signatures, current_signatures, expires_at,
		                                        metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		RETURNING id, version
	`, req.WalletID, req.InitiatorUserID, req.Status, req.RequestType, marshalJSON(req.TransactionData),
		req.RawDataToSign, req.RequiredSignatures, req.CurrentSignatures, req.ExpiresAt,
		marshalJSON(req.Metadata), req.CreatedAt,
	).Scan(&req.ID, &req.Version)
}

func (r *PostgresStore) GetRequest(ctx context.Context, id uuid.UUID) (*models.MultiSigApprovalRequest, error) {
	return scanRequest(r.q.QueryRow(ctx, `SELECT `+requestColumns+` FROM multisig_approval_requests WHERE id = $1`, id))
}

func (r *PostgresStore) GetRequestForUpdate(ctx context.Context, id uuid.UUID) (*models.MultiSigApprovalRequest, error) {
	return scanRequest(r.q.QueryRow(ctx, `SELECT `+requestColumns+` FROM multisig_approval_requests WHERE id = $1 FOR UPDATE`, id))
}

// UpdateRequest is a compare-and-swap on version. The current_signatures
// CHECK constraint (<= required_signatures) backs the engine's own cap.
func (r *PostgresStore) UpdateRequest(ctx context.Context, req *models.MultiSigApprovalRequest) error {
	err := r.q.QueryRow(ctx, `
		UPDATE multisig_approval_requests
		SET status = $1, current_signatures = $2, transaction_hash = $3, error_message = $4, metadata = $5,
		    completed_at = $6, version = version + 1, updated_at = now()
		WHERE id = $7 AND version = $8
		RETURNING version, updated_at
	`, req.Status, req.CurrentSignatures, req.TransactionHash, req.ErrorMessage, marshalJSON(req.Metadata),
		req.CompletedAt, req.ID, req.Version,
	).Scan(&req.Version, &req.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrConcurrentModification
		}
		return err
	}
	return nil
}

func (r *PostgresStore) ListRequests(ctx context.Context, f RequestFilter) ([]models.MultiSigApprovalRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM multisig_approval_requests`
	args := []any{}
	argIdx := 1
	where := []string{}

	if f.WalletID != nil {
		where = append(where, fmt.Sprintf("wallet_id = $%d", argIdx))
		args = append(args, *f.WalletID)
		argIdx++
	}
	if f.Status != nil {
		where = append(where, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *f.Status)
		argIdx++
	}
	if f.ExpiresBefore != nil {
		where = append(where, fmt.Sprintf("expires_at <= $%d", argIdx))
		args = append(args, *f.ExpiresBefore)
		argIdx++
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, normalizeLimit(f.Limit), f.Offset)

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []models.MultiSigApprovalRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}
	return requests, rows.Err()
}

func (r *PostgresStore) CountLivePendingRequests(ctx context.Context, walletID uuid.UUID, now time.Time) (int, error) {
	var n int
	err := r.q.QueryRow(ctx, `
		SELECT COUNT(*) FROM multisig_approval_requests
		WHERE wallet_id = $1 AND status = 'pending' AND expires_at > $2
	`, walletID, now).Scan(&n)
	return n, err
}

// ---- Signer approvals ----

func (r *PostgresStore) CreateApprovals(ctx context.Context, approvals []*models.MultiSigSignerApproval) error {
	for _, a := range approvals {
		err := r.q.QueryRow(ctx, `
			INSERT INTO multisig_signer_approvals (approval_request_id, signer_id, user_id, decision)
			VALUES ($1, $2, $3, $4)
			RETURNING id, created_at
		`, a.ApprovalRequestID, a.SignerID, a.UserID, a.Decision).Scan(&a.ID, &a.CreatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *PostgresStore) ListApprovals(ctx context.Context, requestID uuid.UUID) ([]models.MultiSigSignerApproval, error) {
	rows, err := r.q.Query(ctx, `
		SELECT a.id, a.approval_request_id, a.signer_id, a.user_id, a.decision, a.signature, a.public_key,
		       a.rejection_reason, a.decided_at, a.created_at
		FROM multisig_signer_approvals a
		JOIN multisig_wallet_signers s ON s.id = a.signer_id
		WHERE a.approval_request_id = $1
		ORDER BY s.position
	`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var approvals []models.MultiSigSignerApproval
	for rows.Next() {
		var a models.MultiSigSignerApproval
		if err := rows.Scan(&a.ID, &a.ApprovalRequestID, &a.SignerID, &a.UserID, &a.Decision, &a.Signature, &a.PublicKey,
			&a.RejectionReason, &a.DecidedAt, &a.CreatedAt); err != nil {
			return nil, err
		}
		approvals = append(approvals, a)
	}
	return approvals, rows.Err()
}

// DecideApproval records a signer's decision. A row leaves pending at most once.
func (r *PostgresStore) DecideApproval(ctx context.Context, a *models.MultiSigSignerApproval) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE multisig_signer_approvals
		SET decision = $1, signature = $2, public_key = $3, rejection_reason = $4, decided_at = $5
		WHERE id = $6 AND decision = 'pending'
	`, a.Decision, a.Signature, a.PublicKey, a.RejectionReason, a.DecidedAt, a.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConcurrentModification
	}
	return nil
}
