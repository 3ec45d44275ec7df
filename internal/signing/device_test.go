package signing

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/multisig-custody/backend/internal/models"
)

func compressedKey() string {
	return "02" + strings.Repeat("ab", 32)
}

func uncompressedKey() string {
	return "04" + strings.Repeat("cd", 64)
}

func sigWithV(v byte) string {
	return strings.Repeat("11", 64) + hex.EncodeToString([]byte{v})
}

func TestFor(t *testing.T) {
	for _, st := range models.SignerTypes {
		d, err := For(st)
		if err != nil {
			t.Fatalf("For(%q): %v", st, err)
		}
		if d.Type() != st {
			t.Errorf("For(%q).Type() = %q", st, d.Type())
		}
	}

	if _, err := For("smart_card"); !errors.Is(err, ErrUnknownSignerType) {
		t.Errorf("expected ErrUnknownSignerType, got %v", err)
	}
}

func TestEd25519Verification(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	digest := sha256.Sum256([]byte("payload"))
	sig := ed25519.Sign(priv, digest[:])

	pubHex := hex.EncodeToString(pub)
	sigHex := hex.EncodeToString(sig)

	for _, st := range models.SignerTypes {
		d, _ := For(st)
		if err := d.ValidateSignature(sigHex, pubHex, digest[:]); err != nil {
			t.Errorf("%s: valid ed25519 signature rejected: %v", st, err)
		}

		other := sha256.Sum256([]byte("other payload"))
		if err := d.ValidateSignature(sigHex, pubHex, other[:]); !errors.Is(err, ErrInvalidSignature) {
			t.Errorf("%s: expected ErrInvalidSignature for wrong digest, got %v", st, err)
		}
	}
}

func TestValidateSignature_Structural(t *testing.T) {
	digest := make([]byte, 32)
	der := "3006020101020101"

	tests := []struct {
		name    string
		device  Device
		sig     string
		pub     string
		wantErr error
	}{
		{"internal compact", Internal{}, strings.Repeat("11", 64), compressedKey(), nil},
		{"internal recoverable v=1", Internal{}, sigWithV(1), compressedKey(), nil},
		{"internal legacy v rejected", Internal{}, sigWithV(27), compressedKey(), ErrMalformedSignature},
		{"internal uncompressed key rejected", Internal{}, sigWithV(0), uncompressedKey(), ErrMalformedPublicKey},
		{"external DER", External{}, der, uncompressedKey(), nil},
		{"external 0x prefix", External{}, "0x" + strings.Repeat("11", 64), compressedKey(), nil},
		{"ledger legacy v", Ledger{}, sigWithV(28), compressedKey(), nil},
		{"ledger compact", Ledger{}, strings.Repeat("11", 64), uncompressedKey(), nil},
		{"trezor compact rejected", Trezor{}, strings.Repeat("11", 64), compressedKey(), ErrMalformedSignature},
		{"trezor recoverable", Trezor{}, sigWithV(27), compressedKey(), nil},
		{"not hex", Ledger{}, "zz", compressedKey(), ErrMalformedSignature},
		{"empty signature", Internal{}, "", compressedKey(), ErrMalformedSignature},
		{"short signature", Internal{}, strings.Repeat("11", 10), compressedKey(), ErrMalformedSignature},
		{"bad key prefix", Ledger{}, sigWithV(0), "05" + strings.Repeat("ab", 32), ErrMalformedPublicKey},
		{"bad key size", External{}, sigWithV(0), strings.Repeat("ab", 20), ErrMalformedPublicKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.device.ValidateSignature(tt.sig, tt.pub, digest)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConstructSignedTransaction_NormalizesHardware(t *testing.T) {
	tx := &models.SignedTransaction{Chain: "ethereum", Threshold: 2}

	if err := (Ledger{}).ConstructSignedTransaction(tx, models.SignatureShare{
		PublicKey: "0X" + strings.ToUpper(compressedKey()),
		Signature: sigWithV(28),
	}); err != nil {
		t.Fatal(err)
	}
	if err := (Internal{}).ConstructSignedTransaction(tx, models.SignatureShare{
		PublicKey: compressedKey(),
		Signature: sigWithV(1),
	}); err != nil {
		t.Fatal(err)
	}

	if len(tx.Signatures) != 2 {
		t.Fatalf("expected 2 shares, got %d", len(tx.Signatures))
	}
	ledger := tx.Signatures[0]
	if ledger.SignerType != models.SignerTypeHardwareLedger {
		t.Errorf("signer type = %q", ledger.SignerType)
	}
	if !strings.HasSuffix(ledger.Signature, "01") {
		t.Errorf("expected recovery byte 28 normalized to 01, got %s", ledger.Signature)
	}
	if ledger.PublicKey != compressedKey() {
		t.Errorf("public key not normalized: %s", ledger.PublicKey)
	}
}

func TestNormalizeKey(t *testing.T) {
	if got := NormalizeKey("0xABcd"); got != "abcd" {
		t.Errorf("NormalizeKey = %q", got)
	}
}
