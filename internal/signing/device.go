package signing

import (
	"errors"
	"fmt"

	"github.com/multisig-custody/backend/internal/models"
)

var (
	ErrUnknownSignerType  = errors.New("unknown signer type")
	ErrMalformedPublicKey = errors.New("malformed public key")
	ErrMalformedSignature = errors.New("malformed signature")
	ErrInvalidSignature   = errors.New("signature does not verify")
)

// Device is the capability a signer kind exposes to the approval flow.
// Implementations only look at bytes; key custody and the signing protocol
// itself live on the device or with the external signer.
type Device interface {
	Type() string
	ValidatePublicKey(pubHex string) error
	// ValidateSignature checks the signature shape for this device kind and,
	// when the key scheme allows it, verifies it against digest.
	ValidateSignature(sigHex, pubHex string, digest []byte) error
	// ConstructSignedTransaction appends the signer's share to tx in the form
	// the chain connectors expect.
	ConstructSignedTransaction(tx *models.SignedTransaction, share models.SignatureShare) error
}

var devices = map[string]Device{
	models.SignerTypeInternal:       Internal{},
	models.SignerTypeExternal:       External{},
	models.SignerTypeHardwareLedger: Ledger{},
	models.SignerTypeHardwareTrezor: Trezor{},
}

// For returns the device capability for a signer type.
func For(signerType string) (Device, error) {
	d, ok := devices[signerType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSignerType, signerType)
	}
	return d, nil
}

// Internal is a custodial key held for a platform user.
type Internal struct{}

func (Internal) Type() string { return models.SignerTypeInternal }

func (Internal) ValidatePublicKey(pubHex string) error {
	_, err := decodePublicKey(pubHex, keyEd25519, keyCompressed)
	return err
}

func (d Internal) ValidateSignature(sigHex, pubHex string, digest []byte) error {
	return validateRaw(sigHex, pubHex, digest, false, keyEd25519, keyCompressed)
}

func (d Internal) ConstructSignedTransaction(tx *models.SignedTransaction, share models.SignatureShare) error {
	return appendShare(tx, d.Type(), share, false)
}

// External is a key held by the user outside the platform (browser wallet,
// CLI). DER-encoded ECDSA signatures are accepted as-is.
type External struct{}

func (External) Type() string { return models.SignerTypeExternal }

func (External) ValidatePublicKey(pubHex string) error {
	_, err := decodePublicKey(pubHex, keyEd25519, keyCompressed, keyUncompressed)
	return err
}

func (External) ValidateSignature(sigHex, pubHex string, digest []byte) error {
	pub, err := decodePublicKey(pubHex, keyEd25519, keyCompressed, keyUncompressed)
	if err != nil {
		return err
	}
	sig, err := decodeHex(sigHex)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	if len(pub) != keyEd25519 && isDER(sig) {
		return nil
	}
	return checkSignature(sig, pub, digest, false)
}

func (d External) ConstructSignedTransaction(tx *models.SignedTransaction, share models.SignatureShare) error {
	return appendShare(tx, d.Type(), share, false)
}

// Ledger devices return either a compact 64-byte signature or a 65-byte
// recoverable one with a legacy 27/28 recovery byte.
type Ledger struct{}

func (Ledger) Type() string { return models.SignerTypeHardwareLedger }

func (Ledger) ValidatePublicKey(pubHex string) error {
	_, err := decodePublicKey(pubHex, keyEd25519, keyCompressed, keyUncompressed)
	return err
}

func (Ledger) ValidateSignature(sigHex, pubHex string, digest []byte) error {
	return validateRaw(sigHex, pubHex, digest, true, keyEd25519, keyCompressed, keyUncompressed)
}

func (d Ledger) ConstructSignedTransaction(tx *models.SignedTransaction, share models.SignatureShare) error {
	return appendShare(tx, d.Type(), share, true)
}

// Trezor always returns recoverable signatures for secp256k1 keys.
type Trezor struct{}

func (Trezor) Type() string { return models.SignerTypeHardwareTrezor }

func (Trezor) ValidatePublicKey(pubHex string) error {
	_, err := decodePublicKey(pubHex, keyEd25519, keyCompressed, keyUncompressed)
	return err
}

func (Trezor) ValidateSignature(sigHex, pubHex string, digest []byte) error {
	pub, err := decodePublicKey(pubHex, keyEd25519, keyCompressed, keyUncompressed)
	if err != nil {
		return err
	}
	sig, err := decodeHex(sigHex)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	if len(pub) != keyEd25519 && len(sig) != recoverableSigSize {
		return fmt.Errorf("%w: trezor secp256k1 signature must be %d bytes, got %d",
			ErrMalformedSignature, recoverableSigSize, len(sig))
	}
	return checkSignature(sig, pub, digest, true)
}

func (d Trezor) ConstructSignedTransaction(tx *models.SignedTransaction, share models.SignatureShare) error {
	return appendShare(tx, d.Type(), share, true)
}

func validateRaw(sigHex, pubHex string, digest []byte, hardware bool, keySizes ...int) error {
	pub, err := decodePublicKey(pubHex, keySizes...)
	if err != nil {
		return err
	}
	sig, err := decodeHex(sigHex)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	return checkSignature(sig, pub, digest, hardware)
}

func appendShare(tx *models.SignedTransaction, signerType string, share models.SignatureShare, hardware bool) error {
	sig, err := decodeHex(share.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	if hardware {
		sig = normalizeRecovery(sig)
	}
	pub, err := decodeHex(share.PublicKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPublicKey, err)
	}

	share.SignerType = signerType
	share.Signature = encodeHex(sig)
	share.PublicKey = encodeHex(pub)
	tx.Signatures = append(tx.Signatures, share)
	return nil
}
