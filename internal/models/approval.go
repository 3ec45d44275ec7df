package models

import (
	"time"

	"github.com/google/uuid"
)

// Approval request statuses
const (
	RequestStatusPending      = "pending"
	RequestStatusApproved     = "approved"
	RequestStatusBroadcasting = "broadcasting"
	RequestStatusCompleted    = "completed"
	RequestStatusFailed       = "failed"
	RequestStatusCancelled    = "cancelled"
	RequestStatusExpired      = "expired"
)

// Valid request transitions: from -> []to
var ValidRequestTransitions = map[string][]string{
	RequestStatusPending:      {RequestStatusApproved, RequestStatusBroadcasting, RequestStatusCancelled, RequestStatusExpired},
	RequestStatusApproved:     {RequestStatusBroadcasting},
	RequestStatusBroadcasting: {RequestStatusCompleted, RequestStatusFailed},
	RequestStatusCompleted:    {},
	RequestStatusFailed:       {},
	RequestStatusCancelled:    {},
	RequestStatusExpired:      {},
}

func IsValidRequestTransition(from, to string) bool {
	return isAllowed(ValidRequestTransitions, from, to)
}

func IsTerminalRequestStatus(status string) bool {
	next, ok := ValidRequestTransitions[status]
	return ok && len(next) == 0
}

// Request types
const (
	RequestTypeTransaction = "transaction"
	RequestTypeOther       = "other"
)

func IsValidRequestType(t string) bool {
	return t == RequestTypeTransaction || t == RequestTypeOther
}

// Signer decisions
const (
	DecisionPending  = "pending"
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

type MultiSigApprovalRequest struct {
	ID                 uuid.UUID      `json:"id"`
	WalletID           uuid.UUID      `json:"wallet_id"`
	InitiatorUserID    uuid.UUID      `json:"initiator_user_id"`
	Status             string         `json:"status"`
	RequestType        string         `json:"request_type"`
	TransactionData    map[string]any `json:"transaction_data"`
	RawDataToSign      string         `json:"raw_data_to_sign"` // hex sha256 digest
	RequiredSignatures int            `json:"required_signatures"`
	CurrentSignatures  int            `json:"current_signatures"`
	ExpiresAt          time.Time      `json:"expires_at"`
	TransactionHash    *string        `json:"transaction_hash,omitempty"`
	ErrorMessage       *string        `json:"error_message,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	Version            int64          `json:"-"`
	CompletedAt        *time.Time     `json:"completed_at,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// IsExpiredAt reports whether a pending request is past its expiry.
// Only pending requests expire.
func (r *MultiSigApprovalRequest) IsExpiredAt(now time.Time) bool {
	return r.Status == RequestStatusPending && !now.Before(r.ExpiresAt)
}

func (r *MultiSigApprovalRequest) QuorumReached() bool {
	return r.CurrentSignatures >= r.RequiredSignatures
}

type MultiSigSignerApproval struct {
	ID                uuid.UUID  `json:"id"`
	ApprovalRequestID uuid.UUID  `json:"approval_request_id"`
	SignerID          uuid.UUID  `json:"signer_id"`
	UserID            uuid.UUID  `json:"user_id"`
	Decision          string     `json:"decision"`
	Signature         *string    `json:"signature,omitempty"`
	PublicKey         *string    `json:"public_key,omitempty"`
	RejectionReason   *string    `json:"rejection_reason,omitempty"`
	DecidedAt         *time.Time `json:"decided_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// SignatureShare is one approved signer's contribution to a broadcast.
type SignatureShare struct {
	SignerID   uuid.UUID `json:"signer_id"`
	SignerType string    `json:"signer_type"`
	PublicKey  string    `json:"public_key"`
	Signature  string    `json:"signature"`
}

// SignedTransaction is what a chain connector receives for submission.
type SignedTransaction struct {
	RequestID     uuid.UUID        `json:"request_id"`
	Chain         string           `json:"chain"`
	WalletAddress string           `json:"wallet_address"`
	Payload       map[string]any   `json:"payload"`
	DataToSign    string           `json:"data_to_sign"`
	Threshold     int              `json:"threshold"`
	Signatures    []SignatureShare `json:"signatures"`
}
