package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/xssnick/tonutils-go/address"
	"golang.org/x/crypto/sha3"
)

var ErrNoKeys = errors.New("no signer keys to derive address from")

// Address families
const (
	FamilyEVM    = "evm"
	FamilyTON    = "ton"
	FamilyBase58 = "base58"
)

var evmChains = map[string]bool{
	"ethereum":  true,
	"polygon":   true,
	"bsc":       true,
	"arbitrum":  true,
	"optimism":  true,
	"avalanche": true,
	"base":      true,
}

// Family reports which address encoding a chain uses.
func Family(chain string) string {
	chain = strings.ToLower(chain)
	switch {
	case evmChains[chain]:
		return FamilyEVM
	case chain == "ton":
		return FamilyTON
	default:
		return FamilyBase58
	}
}

// DeriveAddress computes the multi-sig wallet address from its policy and
// the active signers' public keys. Keys are normalized and sorted first, so
// the result does not depend on enrollment order.
func DeriveAddress(chain string, required int, publicKeys []string) (string, error) {
	if len(publicKeys) == 0 {
		return "", ErrNoKeys
	}

	keys := make([]string, 0, len(publicKeys))
	for _, k := range publicKeys {
		b, err := decodeKey(k)
		if err != nil {
			return "", err
		}
		keys = append(keys, hex.EncodeToString(b))
	}
	sort.Strings(keys)

	chain = strings.ToLower(chain)
	preimage := []byte(chain + ":" + strconv.Itoa(required) + ":" + strings.Join(keys, ","))

	switch Family(chain) {
	case FamilyEVM:
		return evmAddress(preimage), nil
	case FamilyTON:
		hash := sha256.Sum256(preimage)
		return address.NewAddress(0, 0, hash[:]).String(), nil
	default:
		return base58Check(0x05, preimage), nil
	}
}

// DeriveSignerAddress renders a single signer key as an address on chain.
func DeriveSignerAddress(chain, publicKey string) (string, error) {
	key, err := decodeKey(publicKey)
	if err != nil {
		return "", err
	}

	switch Family(chain) {
	case FamilyEVM:
		// uncompressed keys hash without the 0x04 prefix
		if len(key) == 65 && key[0] == 0x04 {
			key = key[1:]
		}
		return evmAddress(key), nil
	case FamilyTON:
		hash := sha256.Sum256(key)
		return address.NewAddress(0, 0, hash[:]).String(), nil
	default:
		return base58Check(0x00, key), nil
	}
}

func evmAddress(data []byte) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	sum := h.Sum(nil)
	return "0x" + hex.EncodeToString(sum[len(sum)-20:])
}

// base58Check encodes version || sha256(data)[:20] || checksum.
func base58Check(version byte, data []byte) string {
	first := sha256.Sum256(data)
	payload := append([]byte{version}, first[:20]...)
	a := sha256.Sum256(payload)
	b := sha256.Sum256(a[:])
	return base58.Encode(append(payload, b[:4]...))
}

func decodeKey(k string) ([]byte, error) {
	k = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(k), "0x"), "0X")
	b, err := hex.DecodeString(k)
	if err != nil || len(b) == 0 {
		return nil, fmt.Errorf("invalid public key %q", k)
	}
	return b, nil
}
