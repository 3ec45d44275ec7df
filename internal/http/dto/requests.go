package dto

type CreateWalletRequest struct {
	Name               string         `json:"name"`
	Chain              string         `json:"chain"`
	RequiredSignatures int            `json:"required_signatures"`
	TotalSigners       int            `json:"total_signers"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

type AddSignerRequest struct {
	SignerType string         `json:"signer_type"` // internal_user / external_user / hardware_ledger / hardware_trezor
	PublicKey  string         `json:"public_key"`
	Address    *string        `json:"address,omitempty"`
	UserID     *string        `json:"user_id,omitempty"`
	HardwareID *string        `json:"hardware_id,omitempty"` // device registry id
	Label      *string        `json:"label,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type CreateApprovalRequest struct {
	RequestType     string         `json:"request_type,omitempty"` // transaction / other
	TransactionData map[string]any `json:"transaction_data"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

type SubmitSignatureRequest struct {
	Signature string `json:"signature"`
	PublicKey string `json:"public_key"`
}

type RejectApprovalRequest struct {
	Reason *string `json:"reason,omitempty"`
}
