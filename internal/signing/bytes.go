package signing

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	keyEd25519      = ed25519.PublicKeySize // 32
	keyCompressed   = 33                    // secp256k1, 0x02/0x03 prefix
	keyUncompressed = 65                    // secp256k1, 0x04 prefix

	compactSigSize     = 64
	recoverableSigSize = 65
)

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if s == "" {
		return nil, fmt.Errorf("empty value")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return b, nil
}

func encodeHex(b []byte) string {
	return hex.EncodeToString(b)
}

// NormalizeKey lowercases and strips the 0x prefix so keys compare byte-wise.
func NormalizeKey(pubHex string) string {
	b, err := decodeHex(pubHex)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(pubHex))
	}
	return encodeHex(b)
}

func decodePublicKey(pubHex string, sizes ...int) ([]byte, error) {
	pub, err := decodeHex(pubHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPublicKey, err)
	}
	allowed := false
	for _, n := range sizes {
		if len(pub) == n {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: unsupported key size %d", ErrMalformedPublicKey, len(pub))
	}
	switch len(pub) {
	case keyCompressed:
		if pub[0] != 0x02 && pub[0] != 0x03 {
			return nil, fmt.Errorf("%w: bad compressed key prefix 0x%02x", ErrMalformedPublicKey, pub[0])
		}
	case keyUncompressed:
		if pub[0] != 0x04 {
			return nil, fmt.Errorf("%w: bad uncompressed key prefix 0x%02x", ErrMalformedPublicKey, pub[0])
		}
	}
	return pub, nil
}

func checkSignature(sig, pub, digest []byte, hardware bool) error {
	if len(pub) == keyEd25519 {
		if len(sig) != ed25519.SignatureSize {
			return fmt.Errorf("%w: ed25519 signature must be %d bytes, got %d",
				ErrMalformedSignature, ed25519.SignatureSize, len(sig))
		}
		if !ed25519.Verify(ed25519.PublicKey(pub), digest, sig) {
			return ErrInvalidSignature
		}
		return nil
	}

	switch len(sig) {
	case compactSigSize:
		return nil
	case recoverableSigSize:
		v := sig[recoverableSigSize-1]
		if v == 0 || v == 1 || (hardware && (v == 27 || v == 28)) {
			return nil
		}
		return fmt.Errorf("%w: bad recovery id %d", ErrMalformedSignature, v)
	default:
		return fmt.Errorf("%w: unexpected signature size %d", ErrMalformedSignature, len(sig))
	}
}

// normalizeRecovery maps the legacy 27/28 recovery byte to 0/1.
func normalizeRecovery(sig []byte) []byte {
	if len(sig) != recoverableSigSize {
		return sig
	}
	v := sig[recoverableSigSize-1]
	if v != 27 && v != 28 {
		return sig
	}
	out := make([]byte, len(sig))
	copy(out, sig)
	out[recoverableSigSize-1] = v - 27
	return out
}

// isDER does a shallow structural check of an ASN.1 DER ECDSA signature:
// SEQUENCE { INTEGER r, INTEGER s }.
func isDER(sig []byte) bool {
	if len(sig) < 8 || len(sig) > 72 {
		return false
	}
	if sig[0] != 0x30 || int(sig[1]) != len(sig)-2 {
		return false
	}
	if sig[2] != 0x02 {
		return false
	}
	rLen := int(sig[3])
	if rLen == 0 || 4+rLen+2 > len(sig) {
		return false
	}
	if sig[4+rLen] != 0x02 {
		return false
	}
	sLen := int(sig[5+rLen])
	return sLen > 0 && 6+rLen+sLen == len(sig)
}
