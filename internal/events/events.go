package events

import (
	"context"
	"time"
)

// Stream all multi-sig notifications are published on.
const StreamMultiSig = "events:multisig"

// Event types
const (
	EventWalletCreated       = "wallet_created"
	EventWalletStatusChanged = "wallet_status_changed"
	EventSignerRemoved       = "signer_removed"
	EventApprovalCreated     = "approval_created"
	EventSignatureSubmitted  = "signature_submitted"
	EventSignatureRejected   = "signature_rejected"
	EventApprovalCompleted   = "approval_completed"
)

type Event struct {
	Type       string         `json:"type"`
	TenantID   string         `json:"tenant_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
