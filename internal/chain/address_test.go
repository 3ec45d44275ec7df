package chain

import (
	"errors"
	"strings"
	"testing"
)

var testKeys = []string{
	"02" + strings.Repeat("aa", 32),
	"03" + strings.Repeat("bb", 32),
	"02" + strings.Repeat("cc", 32),
}

func TestDeriveAddress_OrderIndependent(t *testing.T) {
	for _, chain := range []string{"ethereum", "ton", "bitcoin"} {
		t.Run(chain, func(t *testing.T) {
			a, err := DeriveAddress(chain, 2, testKeys)
			if err != nil {
				t.Fatal(err)
			}
			reversed := []string{testKeys[2], "0x" + strings.ToUpper(testKeys[1]), testKeys[0]}
			b, err := DeriveAddress(chain, 2, reversed)
			if err != nil {
				t.Fatal(err)
			}
			if a != b {
				t.Errorf("address depends on key order: %s != %s", a, b)
			}
		})
	}
}

func TestDeriveAddress_DependsOnPolicy(t *testing.T) {
	a, _ := DeriveAddress("ethereum", 2, testKeys)
	b, _ := DeriveAddress("ethereum", 3, testKeys)
	c, _ := DeriveAddress("polygon", 2, testKeys)
	if a == b {
		t.Error("threshold must change the address")
	}
	if a == c {
		t.Error("chain must change the address")
	}
}

func TestDeriveAddress_Format(t *testing.T) {
	evm, _ := DeriveAddress("Ethereum", 2, testKeys)
	if !strings.HasPrefix(evm, "0x") || len(evm) != 42 {
		t.Errorf("unexpected evm address %q", evm)
	}

	ton, _ := DeriveAddress("ton", 2, testKeys)
	if len(ton) != 48 {
		t.Errorf("unexpected ton address %q", ton)
	}

	btc, _ := DeriveAddress("bitcoin", 2, testKeys)
	if !strings.HasPrefix(btc, "3") {
		t.Errorf("expected p2sh-style base58 address, got %q", btc)
	}
}

func TestDeriveAddress_Errors(t *testing.T) {
	if _, err := DeriveAddress("ethereum", 1, nil); !errors.Is(err, ErrNoKeys) {
		t.Errorf("expected ErrNoKeys, got %v", err)
	}
	if _, err := DeriveAddress("ethereum", 1, []string{"not-hex"}); err == nil {
		t.Error("expected error for invalid key")
	}
}

func TestDeriveSignerAddress(t *testing.T) {
	uncompressed := "04" + strings.Repeat("11", 64)
	a, err := DeriveSignerAddress("ethereum", uncompressed)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(a, "0x") || len(a) != 42 {
		t.Errorf("unexpected signer address %q", a)
	}

	b, _ := DeriveSignerAddress("bitcoin", testKeys[0])
	if !strings.HasPrefix(b, "1") {
		t.Errorf("expected p2pkh-style base58 address, got %q", b)
	}
}

func TestFamily(t *testing.T) {
	tests := map[string]string{
		"ethereum": FamilyEVM,
		"POLYGON":  FamilyEVM,
		"ton":      FamilyTON,
		"bitcoin":  FamilyBase58,
		"solana":   FamilyBase58,
	}
	for chain, want := range tests {
		if got := Family(chain); got != want {
			t.Errorf("Family(%q) = %q, want %q", chain, got, want)
		}
	}
}
