package dto

type ErrorResponse struct {
	Error     string         `json:"error"`
	Code      string         `json:"code,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type WalletResponse struct {
	Wallet any    `json:"wallet"`
	Role   string `json:"role"`
}

type CancelledResponse struct {
	Cancelled int `json:"cancelled"`
}

type MetaResponse struct {
	Enabled            bool     `json:"enabled"`
	SupportedChains    []string `json:"supported_chains"`
	SignerTypes        []string `json:"signer_types"`
	MaxSigners         int      `json:"max_signers"`
	MaxPendingRequests int      `json:"max_pending_requests"`
	ApprovalTTLSeconds int64    `json:"approval_ttl_seconds"`
}
