package models

import (
	"time"

	"github.com/google/uuid"
)

// Wallet statuses
const (
	WalletStatusAwaitingSigners = "awaiting_signers"
	WalletStatusActive          = "active"
	WalletStatusSuspended       = "suspended"
	WalletStatusArchived        = "archived"
)

// Valid wallet transitions: from -> []to
var ValidWalletTransitions = map[string][]string{
	WalletStatusAwaitingSigners: {WalletStatusActive},
	WalletStatusActive:          {WalletStatusSuspended, WalletStatusArchived},
	WalletStatusSuspended:       {WalletStatusActive, WalletStatusArchived},
	WalletStatusArchived:        {},
}

func IsValidWalletTransition(from, to string) bool {
	return isAllowed(ValidWalletTransitions, from, to)
}

// Signer types
const (
	SignerTypeInternal       = "internal_user"
	SignerTypeExternal       = "external_user"
	SignerTypeHardwareLedger = "hardware_ledger"
	SignerTypeHardwareTrezor = "hardware_trezor"
)

var SignerTypes = []string{
	SignerTypeInternal,
	SignerTypeExternal,
	SignerTypeHardwareLedger,
	SignerTypeHardwareTrezor,
}

func IsValidSignerType(t string) bool {
	for _, s := range SignerTypes {
		if s == t {
			return true
		}
	}
	return false
}

func IsHardwareSigner(t string) bool {
	return t == SignerTypeHardwareLedger || t == SignerTypeHardwareTrezor
}

type MultiSigWallet struct {
	ID                 uuid.UUID      `json:"id"`
	OwnerUserID        uuid.UUID      `json:"owner_user_id"`
	Name               string         `json:"name"`
	Chain              string         `json:"chain"`
	RequiredSignatures int            `json:"required_signatures"`
	TotalSigners       int            `json:"total_signers"`
	Address            *string        `json:"address,omitempty"` // set once, on activation
	Status             string         `json:"status"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	Version            int64          `json:"-"`
	ActivatedAt        *time.Time     `json:"activated_at,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// HasAddress reports whether the wallet was activated at least once.
func (w *MultiSigWallet) HasAddress() bool {
	return w.Address != nil && *w.Address != ""
}

type MultiSigWalletSigner struct {
	ID                    uuid.UUID      `json:"id"`
	WalletID              uuid.UUID      `json:"wallet_id"`
	UserID                *uuid.UUID     `json:"user_id,omitempty"`
	HardwareAssociationID *uuid.UUID     `json:"hardware_association_id,omitempty"`
	SignerType            string         `json:"signer_type"`
	PublicKey             string         `json:"public_key"` // hex
	Address               *string        `json:"address,omitempty"`
	Position              int            `json:"position"`
	IsActive              bool           `json:"is_active"`
	Label                 *string        `json:"label,omitempty"`
	Metadata              map[string]any `json:"metadata,omitempty"`
	CreatedAt             time.Time      `json:"created_at"`
	DeactivatedAt         *time.Time     `json:"deactivated_at,omitempty"`
}

// HardwareAssociation is a user's registered hardware signing device.
// The device registry lives outside this service; callers pass the record in.
type HardwareAssociation struct {
	ID         uuid.UUID `json:"id"`
	UserID     uuid.UUID `json:"user_id"`
	DeviceType string    `json:"device_type"` // ledger / trezor
	Chain      string    `json:"chain"`
	PublicKey  string    `json:"public_key"`
}

func isAllowed(table map[string][]string, from, to string) bool {
	allowed, ok := table[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}
