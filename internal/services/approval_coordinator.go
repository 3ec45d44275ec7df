package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/multisig-custody/backend/internal/events"
	"github.com/multisig-custody/backend/internal/models"
	"github.com/multisig-custody/backend/internal/repositories"
	"github.com/multisig-custody/backend/internal/signing"
	"go.uber.org/zap"
)

const expirySweepBatch = 200

// ApprovalCoordinator owns approval requests and signer decisions.
type ApprovalCoordinator struct {
	store    repositories.Store
	wallets  *WalletRegistry
	gateway  *BroadcastGateway
	notifier *notifier
	cfg      EngineConfig
	log      *zap.Logger
	now      func() time.Time
}

// NewApprovalCoordinator also binds itself to the registry so wallet
// archival can cancel pending requests.
func NewApprovalCoordinator(
	store repositories.Store,
	wallets *WalletRegistry,
	gateway *BroadcastGateway,
	publisher events.Publisher,
	cfg EngineConfig,
	log *zap.Logger,
) *ApprovalCoordinator {
	c := &ApprovalCoordinator{
		store:   store,
		wallets: wallets,
		gateway: gateway,
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
	wallets.requests = c
	return c
}

type CreateRequestInput struct {
	RequestType     string         `json:"request_type"`
	TransactionData map[string]any `json:"transaction_data"`
	Metadata        map[string]any `json:"metadata"`
}

// ApprovalStatus is a request together with every signer's decision.
type ApprovalStatus struct {
	Request   *models.MultiSigApprovalRequest `json:"request"`
	Approvals []models.MultiSigSignerApproval `json:"approvals"`
	Approved  int                             `json:"approved"`
	Rejected  int                             `json:"rejected"`
	Pending   int                             `json:"pending"`
}

func (c *ApprovalCoordinator) CreateApprovalRequest(ctx context.Context, walletID, initiatorID uuid.UUID, in CreateRequestInput) (*models.MultiSigApprovalRequest, error) {
	if in.RequestType == "" {
		in.RequestType = models.RequestTypeTransaction
	}
	if !models.IsValidRequestType(in.RequestType) {
		return nil, ErrInvalidRequest.Withf("unknown request type %q", in.RequestType)
	}
	if len(in.TransactionData) == 0 {
		return nil, ErrInvalidRequest.Withf("transaction data is required")
	}

	var req *models.MultiSigApprovalRequest
	ob := &outbox{}

	err := c.store.InTx(ctx, func(tx repositories.Store) error {
		wallet, err := tx.GetWalletForUpdate(ctx, walletID)
		if err != nil {
			return mapStoreErr(err, "wallet")
		}
		active, err := readiness(ctx, tx, wallet)
		if err != nil {
			return err
		}

		now := c.now().UTC()
		pending, err := tx.CountLivePendingRequests(ctx, wallet.ID, now)
		if err != nil {
			return err
		}
		if pending >= c.cfg.MaxPendingRequests {
			return ErrTooManyPendingRequests.With("pending", pending, "limit", c.cfg.MaxPendingRequests)
		}

		if !canInitiate(wallet, active, initiatorID) {
			return ErrUnauthorized.Withf("only the wallet owner or an active signer can create requests")
		}

		digest, err := dataToSign(wallet, in.TransactionData, now)
		if err != nil {
			return err
		}

		req = &models.MultiSigApprovalRequest{
			ID:                 uuid.New(),
			WalletID:           wallet.ID,
			InitiatorUserID:    initiatorID,
			Status:             models.RequestStatusPending,
			RequestType:        in.RequestType,
			TransactionData:    in.TransactionData,
			RawDataToSign:      digest,
			RequiredSignatures: wallet.RequiredSignatures,
			CurrentSignatures:  0,
			ExpiresAt:          now.Add(c.cfg.ApprovalTTL),
			Metadata:           in.Metadata,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := tx.CreateRequest(ctx, req); err != nil {
			return fmt.Errorf("create approval request: %w", err)
		}

		approvals := make([]*models.MultiSigSignerApproval, 0, len(active))
		for _, s := range active {
			userID := uuid.Nil
			if s.UserID != nil {
				userID = *s.UserID
			}
			approvals = append(approvals, &models.MultiSigSignerApproval{
				ID:                uuid.New(),
				ApprovalRequestID: req.ID,
				SignerID:          s.ID,
				UserID:            userID,
				Decision:          models.DecisionPending,
				CreatedAt:         now,
			})
		}
		if err := tx.CreateApprovals(ctx, approvals); err != nil {
			return fmt.Errorf("create signer approvals: %w", err)
		}

		ob.audit(&initiatorID, "multisig_request_created", "multisig_request", req.ID, map[string]any{
			"wallet_id":           wallet.ID.String(),
			"required_signatures": req.RequiredSignatures,
			"signers":             len(approvals),
		})
		ob.notify(events.EventApprovalCreated, map[string]any{
			"request_id":          req.ID.String(),
			"wallet_id":           wallet.ID.String(),
			"initiator_user_id":   initiatorID.String(),
			"required_signatures": req.RequiredSignatures,
			"expires_at":          req.ExpiresAt,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.notifier.flush(ctx, ob)
	c.log.Info("approval request created",
		zap.String("request_id", req.ID.String()),
		zap.String("wallet_id", walletID.String()),
	)
	return req, nil
}

func canInitiate(wallet *models.MultiSigWallet, active []models.MultiSigWalletSigner, userID uuid.UUID) bool {
	if wallet.OwnerUserID == userID {
		return true
	}
	for _, s := range active {
		if s.UserID != nil && *s.UserID == userID {
			return true
		}
	}
	return false
}

// dataToSign hashes the payload with its wallet context and a fresh nonce,
// so two requests never share a digest.
func dataToSign(wallet *models.MultiSigWallet, payload map[string]any, at time.Time) (string, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	address := ""
	if wallet.Address != nil {
		address = *wallet.Address
	}
	b, err := json.Marshal(map[string]any{
		"wallet_id":      wallet.ID.String(),
		"wallet_address": address,
		"chain":          wallet.Chain,
		"payload":        payload,
		"timestamp":      at.Format(time.RFC3339Nano),
		"nonce":          hex.EncodeToString(nonce),
	})
	if err != nil {
		return "", fmt.Errorf("encode data to sign: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// SubmitSignature records the user's approval. The counter update and the
// transition to approved happen under the request's row lock. Approvals
// close once quorum is reached: a later submission from a remaining signer
// fails with invalid_status. Signing requires an active wallet.
func (c *ApprovalCoordinator) SubmitSignature(ctx context.Context, requestID, userID uuid.UUID, signature, publicKey string) (*models.MultiSigSignerApproval, error) {
	var decided *models.MultiSigSignerApproval
	var expired *models.MultiSigApprovalRequest
	ob := &outbox{}

	err := c.store.InTx(ctx, func(tx repositories.Store) error {
		req, err := tx.GetRequestForUpdate(ctx, requestID)
		if err != nil {
			return mapStoreErr(err, "approval request")
		}
		now := c.now().UTC()
		if req.IsExpiredAt(now) {
			expired = req
			return c.expire(ctx, tx, req, now, ob)
		}
		if req.Status != models.RequestStatusPending {
			return ErrInvalidStatus.With("status", req.Status)
		}
		wallet, err := tx.GetWallet(ctx, req.WalletID)
		if err != nil {
			return mapStoreErr(err, "wallet")
		}
		if wallet.Status != models.WalletStatusActive {
			return ErrWalletNotReady.With("status", wallet.Status)
		}

		approvals, err := tx.ListApprovals(ctx, req.ID)
		if err != nil {
			return err
		}
		row, signer, err := c.pickRow(ctx, tx, approvals, userID, publicKey)
		if err != nil {
			return err
		}

		device, err := signing.For(signer.SignerType)
		if err != nil {
			return ErrUnknownSignerType.With("signer_type", signer.SignerType)
		}
		digest, err := hex.DecodeString(req.RawDataToSign)
		if err != nil {
			return fmt.Errorf("decode stored digest: %w", err)
		}
		if err := device.ValidateSignature(signature, publicKey, digest); err != nil {
			return ErrMalformedSignature.With("reason", err.Error(), "signer_type", signer.SignerType)
		}

		sig := signature
		pub := signing.NormalizeKey(publicKey)
		row.Decision = models.DecisionApproved
		row.Signature = &sig
		row.PublicKey = &pub
		row.DecidedAt = &now
		if err := tx.DecideApproval(ctx, row); err != nil {
			if errors.Is(err, repositories.ErrConcurrentModification) {
				return ErrAlreadyDecided.With("signer_id", row.SignerID.String())
			}
			return err
		}

		approved := 1
		for _, a := range approvals {
			if a.Decision == models.DecisionApproved {
				approved++
			}
		}
		if approved != req.CurrentSignatures+1 {
			c.log.Warn("signature counter out of sync with approved rows",
				zap.String("request_id", req.ID.String()),
				zap.Int("counter", req.CurrentSignatures),
				zap.Int("approved_rows", approved),
			)
		}
		req.CurrentSignatures = min(approved, req.RequiredSignatures)

		quorum := req.QuorumReached()
		if quorum {
			req.Status = models.RequestStatusApproved
		}
		req.UpdatedAt = now
		if err := tx.UpdateRequest(ctx, req); err != nil {
			return mapStoreErr(err, "approval request")
		}

		ob.audit(&userID, "multisig_signature_submitted", "multisig_request", req.ID, map[string]any{
			"signer_id":          row.SignerID.String(),
			"current_signatures": req.CurrentSignatures,
		})
		if quorum {
			ob.audit(nil, "multisig_request_pending_to_approved", "multisig_request", req.ID, nil)
		}
		ob.notify(events.EventSignatureSubmitted, map[string]any{
			"request_id":          req.ID.String(),
			"wallet_id":           req.WalletID.String(),
			"signer_id":           row.SignerID.String(),
			"current_signatures":  req.CurrentSignatures,
			"required_signatures": req.RequiredSignatures,
			"quorum_reached":      quorum,
		})
		if quorum {
			c.log.Info("quorum reached",
				zap.String("request_id", req.ID.String()),
				zap.Int("signatures", req.CurrentSignatures),
			)
		}
		decided = row
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.notifier.flush(ctx, ob)
	if expired != nil {
		return nil, expiredErr(expired)
	}
	return decided, nil
}

// RejectRequest records the user's rejection. Rejections never block the
// remaining signers from reaching quorum.
func (c *ApprovalCoordinator) RejectRequest(ctx context.Context, requestID, userID uuid.UUID, reason *string) (*models.MultiSigSignerApproval, error) {
	var decided *models.MultiSigSignerApproval
	var expired *models.MultiSigApprovalRequest
	ob := &outbox{}

	err := c.store.InTx(ctx, func(tx repositories.Store) error {
		req, err := tx.GetRequestForUpdate(ctx, requestID)
		if err != nil {
			return mapStoreErr(err, "approval request")
		}
		now := c.now().UTC()
		if req.IsExpiredAt(now) {
			expired = req
			return c.expire(ctx, tx, req, now, ob)
		}
		if req.Status != models.RequestStatusPending && req.Status != models.RequestStatusApproved {
			return ErrInvalidStatus.With("status", req.Status)
		}

		approvals, err := tx.ListApprovals(ctx, req.ID)
		if err != nil {
			return err
		}
		row, _, err := c.pickRow(ctx, tx, approvals, userID, "")
		if err != nil {
			return err
		}

		row.Decision = models.DecisionRejected
		row.RejectionReason = reason
		row.DecidedAt = &now
		if err := tx.DecideApproval(ctx, row); err != nil {
			if errors.Is(err, repositories.ErrConcurrentModification) {
				return ErrAlreadyDecided.With("signer_id", row.SignerID.String())
			}
			return err
		}

		ob.audit(&userID, "multisig_signature_rejected", "multisig_request", req.ID, map[string]any{
			"signer_id": row.SignerID.String(),
		})
		ob.notify(events.EventSignatureRejected, map[string]any{
			"request_id":         req.ID.String(),
			"wallet_id":          req.WalletID.String(),
			"signer_id":          row.SignerID.String(),
			"current_signatures": req.CurrentSignatures,
		})
		decided = row
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.notifier.flush(ctx, ob)
	if expired != nil {
		return nil, expiredErr(expired)
	}
	return decided, nil
}

// pickRow finds the user's undecided approval row. When publicKey is set and
// the user holds several signer slots, the slot enrolled with that key wins.
func (c *ApprovalCoordinator) pickRow(ctx context.Context, tx repositories.Store, approvals []models.MultiSigSignerApproval, userID uuid.UUID, publicKey string) (*models.MultiSigSignerApproval, *models.MultiSigWalletSigner, error) {
	var mine []models.MultiSigSignerApproval
	for _, a := range approvals {
		if a.UserID == userID {
			mine = append(mine, a)
		}
	}
	if len(mine) == 0 {
		return nil, nil, ErrNotASigner
	}

	var undecided []models.MultiSigSignerApproval
	for _, a := range mine {
		if a.Decision == models.DecisionPending {
			undecided = append(undecided, a)
		}
	}
	if len(undecided) == 0 {
		return nil, nil, ErrAlreadyDecided.With("decision", mine[0].Decision)
	}

	key := ""
	if publicKey != "" {
		key = signing.NormalizeKey(publicKey)
	}
	for i := range undecided {
		signer, err := tx.GetSigner(ctx, undecided[i].SignerID)
		if err != nil {
			return nil, nil, mapStoreErr(err, "signer")
		}
		if key == "" || signing.NormalizeKey(signer.PublicKey) == key {
			row := undecided[i]
			return &row, signer, nil
		}
	}
	return nil, nil, ErrMalformedSignature.Withf("public key does not match the enrolled signer key")
}

// BroadcastTransaction hands an approved request to the chain connector.
// Only one caller can move a request to broadcasting; the connector is
// called outside the transaction. The outcome is recorded even when ctx is
// cancelled while the connector runs, so a request never stays stuck in
// broadcasting because its caller went away.
func (c *ApprovalCoordinator) BroadcastTransaction(ctx context.Context, requestID uuid.UUID) (*models.MultiSigApprovalRequest, error) {
	var (
		req     *models.MultiSigApprovalRequest
		wallet  *models.MultiSigWallet
		shares  []signerShare
		expired *models.MultiSigApprovalRequest
	)
	ob := &outbox{}

	err := c.store.InTx(ctx, func(tx repositories.Store) error {
		var err error
		req, err = tx.GetRequestForUpdate(ctx, requestID)
		if err != nil {
			return mapStoreErr(err, "approval request")
		}
		now := c.now().UTC()
		if req.IsExpiredAt(now) {
			expired = req
			return c.expire(ctx, tx, req, now, ob)
		}
		if req.Status != models.RequestStatusPending && req.Status != models.RequestStatusApproved {
			return ErrInvalidStatus.With("status", req.Status)
		}
		if !req.QuorumReached() {
			return ErrQuorumNotReached.With(
				"current_signatures", req.CurrentSignatures,
				"required_signatures", req.RequiredSignatures,
			)
		}

		wallet, err = tx.GetWallet(ctx, req.WalletID)
		if err != nil {
			return mapStoreErr(err, "wallet")
		}
		if wallet.Status != models.WalletStatusActive {
			return ErrWalletNotReady.With("status", wallet.Status)
		}
		if !wallet.HasAddress() {
			return ErrWalletNotReady.With("status", wallet.Status, "has_address", false)
		}

		approvals, err := tx.ListApprovals(ctx, req.ID)
		if err != nil {
			return err
		}
		for _, a := range approvals {
			if a.Decision != models.DecisionApproved || a.Signature == nil {
				continue
			}
			signer, err := tx.GetSigner(ctx, a.SignerID)
			if err != nil {
				return mapStoreErr(err, "signer")
			}
			pub := signer.PublicKey
			if a.PublicKey != nil {
				pub = *a.PublicKey
			}
			shares = append(shares, signerShare{
				SignerID:   a.SignerID,
				SignerType: signer.SignerType,
				PublicKey:  pub,
				Signature:  *a.Signature,
			})
		}

		oldStatus := req.Status
		req.Status = models.RequestStatusBroadcasting
		req.UpdatedAt = now
		if err := tx.UpdateRequest(ctx, req); err != nil {
			if errors.Is(err, repositories.ErrConcurrentModification) {
				return ErrInvalidStatus.Withf("request is already being broadcast")
			}
			return err
		}
		ob.audit(nil, fmt.Sprintf("multisig_request_%s_to_%s", oldStatus, req.Status), "multisig_request", req.ID, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.notifier.flush(ctx, ob)
	if expired != nil {
		return nil, expiredErr(expired)
	}

	hash, bcErr := c.gateway.Broadcast(ctx, wallet, req, shares)

	recordCtx := context.WithoutCancel(ctx)
	ob = &outbox{}
	err = c.store.InTx(recordCtx, func(tx repositories.Store) error {
		current, err := tx.GetRequestForUpdate(recordCtx, req.ID)
		if err != nil {
			return mapStoreErr(err, "approval request")
		}
		now := c.now().UTC()
		if bcErr != nil {
			msg := bcErr.Error()
			current.Status = models.RequestStatusFailed
			current.ErrorMessage = &msg
		} else {
			current.Status = models.RequestStatusCompleted
			current.TransactionHash = &hash
		}
		current.CompletedAt = &now
		current.UpdatedAt = now
		if err := tx.UpdateRequest(recordCtx, current); err != nil {
			return mapStoreErr(err, "approval request")
		}

		payload := map[string]any{
			"request_id": current.ID.String(),
			"wallet_id":  current.WalletID.String(),
			"status":     current.Status,
		}
		meta := map[string]any{}
		if current.TransactionHash != nil {
			payload["transaction_hash"] = *current.TransactionHash
			meta["transaction_hash"] = *current.TransactionHash
		}
		if current.ErrorMessage != nil {
			payload["error_message"] = *current.ErrorMessage
			meta["error_message"] = *current.ErrorMessage
		}
		ob.audit(nil, fmt.Sprintf("multisig_request_broadcasting_to_%s", current.Status), "multisig_request", current.ID, meta)
		ob.notify(events.EventApprovalCompleted, payload)
		req = current
		return nil
	})
	if err != nil {
		c.log.Error("failed to record broadcast outcome",
			zap.String("request_id", req.ID.String()),
			zap.String("tx_hash", hash),
			zap.NamedError("broadcast_error", bcErr),
			zap.Error(err),
		)
		return nil, err
	}
	c.notifier.flush(recordCtx, ob)

	if bcErr != nil {
		c.log.Warn("broadcast failed", zap.String("request_id", req.ID.String()), zap.Error(bcErr))
		return req, ErrBroadcastFailed.With("request_id", req.ID.String(), "error", bcErr.Error())
	}
	c.log.Info("broadcast completed",
		zap.String("request_id", req.ID.String()),
		zap.String("tx_hash", hash),
	)
	return req, nil
}

// CancelRequest cancels a pending request. Only its initiator or the wallet
// owner may do so.
func (c *ApprovalCoordinator) CancelRequest(ctx context.Context, requestID, userID uuid.UUID) error {
	var expired *models.MultiSigApprovalRequest
	ob := &outbox{}

	err := c.store.InTx(ctx, func(tx repositories.Store) error {
		req, err := tx.GetRequestForUpdate(ctx, requestID)
		if err != nil {
			return mapStoreErr(err, "approval request")
		}
		now := c.now().UTC()
		if req.IsExpiredAt(now) {
			expired = req
			return c.expire(ctx, tx, req, now, ob)
		}
		if req.Status != models.RequestStatusPending {
			return ErrInvalidStatus.With("status", req.Status)
		}

		wallet, err := tx.GetWallet(ctx, req.WalletID)
		if err != nil {
			return mapStoreErr(err, "wallet")
		}
		if userID != req.InitiatorUserID && userID != wallet.OwnerUserID {
			return ErrUnauthorized.Withf("only the initiator or the wallet owner can cancel a request")
		}
		return c.cancel(ctx, tx, req, &userID, now, ob)
	})
	if err != nil {
		return err
	}

	c.notifier.flush(ctx, ob)
	if expired != nil {
		return expiredErr(expired)
	}
	return nil
}

// CancelPendingForWallet cancels the wallet's pending requests inside tx.
// Pending requests already past expiry are expired instead.
func (c *ApprovalCoordinator) CancelPendingForWallet(ctx context.Context, tx repositories.Store, walletID uuid.UUID, actorID *uuid.UUID, ob *outbox) (int, error) {
	pendingStatus := models.RequestStatusPending
	now := c.now().UTC()
	cancelled := 0

	for {
		batch, err := tx.ListRequests(ctx, repositories.RequestFilter{
			WalletID: &walletID,
			Status:   &pendingStatus,
			Limit:    expirySweepBatch,
		})
		if err != nil {
			return cancelled, err
		}
		if len(batch) == 0 {
			return cancelled, nil
		}
		for _, r := range batch {
			req, err := tx.GetRequestForUpdate(ctx, r.ID)
			if err != nil {
				return cancelled, mapStoreErr(err, "approval request")
			}
			if req.Status != models.RequestStatusPending {
				continue
			}
			if req.IsExpiredAt(now) {
				if err := c.expire(ctx, tx, req, now, ob); err != nil {
					return cancelled, err
				}
				continue
			}
			if err := c.cancel(ctx, tx, req, actorID, now, ob); err != nil {
				return cancelled, err
			}
			cancelled++
		}
	}
}

func (c *ApprovalCoordinator) cancel(ctx context.Context, tx repositories.Store, req *models.MultiSigApprovalRequest, actorID *uuid.UUID, now time.Time, ob *outbox) error {
	req.Status = models.RequestStatusCancelled
	req.CompletedAt = &now
	req.UpdatedAt = now
	if err := tx.UpdateRequest(ctx, req); err != nil {
		return mapStoreErr(err, "approval request")
	}
	ob.audit(actorID, "multisig_request_pending_to_cancelled", "multisig_request", req.ID, nil)
	ob.notify(events.EventApprovalCompleted, map[string]any{
		"request_id": req.ID.String(),
		"wallet_id":  req.WalletID.String(),
		"status":     req.Status,
	})
	return nil
}

func (c *ApprovalCoordinator) expire(ctx context.Context, tx repositories.Store, req *models.MultiSigApprovalRequest, now time.Time, ob *outbox) error {
	req.Status = models.RequestStatusExpired
	req.CompletedAt = &now
	req.UpdatedAt = now
	if err := tx.UpdateRequest(ctx, req); err != nil {
		return mapStoreErr(err, "approval request")
	}
	ob.audit(nil, "multisig_request_pending_to_expired", "multisig_request", req.ID, map[string]any{
		"expires_at": req.ExpiresAt,
	})
	ob.notify(events.EventApprovalCompleted, map[string]any{
		"request_id": req.ID.String(),
		"wallet_id":  req.WalletID.String(),
		"status":     req.Status,
	})
	return nil
}

func expiredErr(req *models.MultiSigApprovalRequest) error {
	return ErrRequestExpired.With("request_id", req.ID.String(), "expires_at", req.ExpiresAt, "status", req.Status)
}

// ExpireOldRequests moves every pending request past its expiry to expired.
// Safe to run concurrently with itself and with user calls.
func (c *ApprovalCoordinator) ExpireOldRequests(ctx context.Context) (int, error) {
	pendingStatus := models.RequestStatusPending
	total := 0

	for {
		now := c.now().UTC()
		batch, err := c.store.ListRequests(ctx, repositories.RequestFilter{
			Status:        &pendingStatus,
			ExpiresBefore: &now,
			Limit:         expirySweepBatch,
		})
		if err != nil {
			return total, err
		}

		expiredNow := 0
		for _, r := range batch {
			ob := &outbox{}
			done := false
			err := c.store.InTx(ctx, func(tx repositories.Store) error {
				req, err := tx.GetRequestForUpdate(ctx, r.ID)
				if err != nil {
					return err
				}
				if !req.IsExpiredAt(now) {
					return nil
				}
				done = true
				return c.expire(ctx, tx, req, now, ob)
			})
			if err != nil {
				c.log.Warn("failed to expire approval request", zap.String("request_id", r.ID.String()), zap.Error(err))
				continue
			}
			if done {
				expiredNow++
				c.notifier.flush(ctx, ob)
			}
		}
		total += expiredNow

		if len(batch) < expirySweepBatch || expiredNow == 0 {
			return total, nil
		}
	}
}

// GetApprovalStatus returns the request with all signer decisions, expiring
// it first if its window has passed.
func (c *ApprovalCoordinator) GetApprovalStatus(ctx context.Context, requestID uuid.UUID) (*ApprovalStatus, error) {
	req, err := c.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, mapStoreErr(err, "approval request")
	}

	if req.IsExpiredAt(c.now().UTC()) {
		ob := &outbox{}
		err := c.store.InTx(ctx, func(tx repositories.Store) error {
			locked, err := tx.GetRequestForUpdate(ctx, requestID)
			if err != nil {
				return mapStoreErr(err, "approval request")
			}
			now := c.now().UTC()
			if locked.IsExpiredAt(now) {
				if err := c.expire(ctx, tx, locked, now, ob); err != nil {
					return err
				}
			}
			req = locked
			return nil
		})
		if err != nil {
			return nil, err
		}
		c.notifier.flush(ctx, ob)
	}

	approvals, err := c.store.ListApprovals(ctx, requestID)
	if err != nil {
		return nil, err
	}
	status := &ApprovalStatus{Request: req, Approvals: approvals}
	for _, a := range approvals {
		switch a.Decision {
		case models.DecisionApproved:
			status.Approved++
		case models.DecisionRejected:
			status.Rejected++
		default:
			status.Pending++
		}
	}
	return status, nil
}

func (c *ApprovalCoordinator) GetRequest(ctx context.Context, requestID uuid.UUID) (*models.MultiSigApprovalRequest, error) {
	req, err := c.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, mapStoreErr(err, "approval request")
	}
	return req, nil
}

func (c *ApprovalCoordinator) ListRequests(ctx context.Context, walletID uuid.UUID, status *string, limit, offset int) ([]models.MultiSigApprovalRequest, error) {
	return c.store.ListRequests(ctx, repositories.RequestFilter{
		WalletID: &walletID,
		Status:   status,
		Limit:    limit,
		Offset:   offset,
	})
}

// ListApproved returns requests that reached quorum and wait for broadcast.
func (c *ApprovalCoordinator) ListApproved(ctx context.Context, limit int) ([]models.MultiSigApprovalRequest, error) {
	status := models.RequestStatusApproved
	return c.store.ListRequests(ctx, repositories.RequestFilter{Status: &status, Limit: limit})
}
