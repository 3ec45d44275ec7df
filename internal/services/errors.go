package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind groups failures by how a caller should react to them.
type Kind string

const (
	KindConfiguration   Kind = "configuration"
	KindAuthorization   Kind = "authorization"
	KindStateConflict   Kind = "state_conflict"
	KindTemporal        Kind = "temporal"
	KindInputValidation Kind = "input_validation"
	KindExternal        Kind = "external"
	KindNotFound        Kind = "not_found"
)

// Error is the single domain failure type returned by the engine.
// Two errors match under errors.Is when their codes are equal.
type Error struct {
	Kind    Kind           `json:"kind"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if len(e.Details) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, e.Details[k]))
	}
	return e.Message + " (" + strings.Join(parts, ", ") + ")"
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// With returns a copy carrying the given details. kv alternates key, value.
func (e *Error) With(kv ...any) *Error {
	out := &Error{Kind: e.Kind, Code: e.Code, Message: e.Message, Details: make(map[string]any, len(kv)/2)}
	for k, v := range e.Details {
		out.Details[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		if key, ok := kv[i].(string); ok {
			out.Details[key] = kv[i+1]
		}
	}
	return out
}

// Withf returns a copy with a more specific message.
func (e *Error) Withf(format string, args ...any) *Error {
	out := e.With()
	out.Message = fmt.Sprintf(format, args...)
	return out
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrFeatureDisabled  = newError(KindConfiguration, "feature_disabled", "multi-sig wallets are disabled")
	ErrUnsupportedChain = newError(KindConfiguration, "unsupported_chain", "chain is not supported for multi-sig wallets")
	ErrInvalidConfig    = newError(KindInputValidation, "invalid_config", "invalid wallet configuration")
	ErrInvalidRequest   = newError(KindInputValidation, "invalid_request", "invalid approval request")

	ErrUnauthorized = newError(KindAuthorization, "unauthorized", "user is not allowed to perform this action")
	ErrNotASigner   = newError(KindAuthorization, "not_a_signer", "user is not a signer on this request")

	ErrFullySetUp             = newError(KindStateConflict, "full_set_up", "wallet already has all signers")
	ErrDuplicateSigner        = newError(KindStateConflict, "duplicate_signer", "signer is already active on this wallet")
	ErrQuorumViolation        = newError(KindStateConflict, "quorum_violation", "removal would leave fewer active signers than required")
	ErrWalletNotReady         = newError(KindStateConflict, "wallet_not_ready", "wallet is not active and fully set up")
	ErrTooManyPendingRequests = newError(KindStateConflict, "too_many_pending_requests", "wallet has too many pending approval requests")
	ErrAlreadyDecided         = newError(KindStateConflict, "already_decided", "signer already decided on this request")
	ErrQuorumNotReached       = newError(KindStateConflict, "quorum_not_reached", "not enough signatures to broadcast")
	ErrInvalidStatus          = newError(KindStateConflict, "invalid_status", "operation not allowed in current status")
	ErrConcurrentModification = newError(KindStateConflict, "concurrent_modification", "entity was modified concurrently, retry")

	ErrRequestExpired = newError(KindTemporal, "request_expired", "approval request has expired")

	ErrMalformedSignature = newError(KindInputValidation, "malformed_signature", "signature or public key is malformed")
	ErrUnknownSignerType  = newError(KindInputValidation, "unknown_signer_type", "unknown signer type")
	ErrInvalidSigner      = newError(KindInputValidation, "invalid_signer", "signer reference does not match signer type")
	ErrChainMismatch      = newError(KindInputValidation, "chain_mismatch", "hardware device chain does not match wallet chain")

	ErrBroadcastFailed = newError(KindExternal, "broadcast_failed", "transaction broadcast failed")

	ErrNotFound = newError(KindNotFound, "not_found", "not found")
)

// AsError extracts the domain error from err, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
