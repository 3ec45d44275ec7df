package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/multisig-custody/backend/internal/chain"
	"github.com/multisig-custody/backend/internal/models"
	"go.uber.org/zap"
)

type slowConnector struct{}

func (slowConnector) Broadcast(ctx context.Context, tx *models.SignedTransaction) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func gatewayInputs() (*models.MultiSigWallet, *models.MultiSigApprovalRequest, []signerShare) {
	addr := "0x1234"
	wallet := &models.MultiSigWallet{ID: uuid.New(), Chain: "ethereum", Address: &addr, RequiredSignatures: 2}
	req := &models.MultiSigApprovalRequest{
		ID:                 uuid.New(),
		WalletID:           wallet.ID,
		TransactionData:    map[string]any{"to": "0xbeef"},
		RawDataToSign:      strings.Repeat("ab", 32),
		RequiredSignatures: 2,
	}
	shares := []signerShare{
		{SignerID: uuid.New(), SignerType: models.SignerTypeHardwareTrezor, PublicKey: "02" + strings.Repeat("11", 32), Signature: strings.Repeat("22", 64) + "1b"},
		{SignerID: uuid.New(), SignerType: models.SignerTypeExternal, PublicKey: "0x03" + strings.Repeat("33", 32), Signature: strings.Repeat("44", 64)},
	}
	return wallet, req, shares
}

func TestGateway_Assemble(t *testing.T) {
	g := NewBroadcastGateway(chain.NewRegistry(), time.Second, zap.NewNop())
	wallet, req, shares := gatewayInputs()

	tx, err := g.Assemble(wallet, req, shares)
	if err != nil {
		t.Fatal(err)
	}
	if tx.WalletAddress != "0x1234" || tx.Threshold != 2 || tx.DataToSign != req.RawDataToSign {
		t.Errorf("unexpected tx %+v", tx)
	}
	if len(tx.Signatures) != 2 {
		t.Fatalf("signatures = %d", len(tx.Signatures))
	}
	if !strings.HasSuffix(tx.Signatures[0].Signature, "00") {
		t.Errorf("trezor recovery byte not normalized: %s", tx.Signatures[0].Signature)
	}
	if strings.HasPrefix(tx.Signatures[1].PublicKey, "0x") {
		t.Errorf("public key not normalized: %s", tx.Signatures[1].PublicKey)
	}

	if _, err := g.Assemble(wallet, req, shares[:1]); err == nil {
		t.Error("expected error below threshold")
	}
}

func TestGateway_Broadcast(t *testing.T) {
	wallet, req, shares := gatewayInputs()

	t.Run("no connector", func(t *testing.T) {
		g := NewBroadcastGateway(chain.NewRegistry(), time.Second, zap.NewNop())
		if _, err := g.Broadcast(context.Background(), wallet, req, shares); !errors.Is(err, chain.ErrNoConnector) {
			t.Errorf("expected ErrNoConnector, got %v", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		reg := chain.NewRegistry()
		reg.Register("ethereum", slowConnector{})
		g := NewBroadcastGateway(reg, 20*time.Millisecond, zap.NewNop())
		_, err := g.Broadcast(context.Background(), wallet, req, shares)
		if err == nil || !strings.Contains(err.Error(), "timed out") {
			t.Errorf("expected timeout, got %v", err)
		}
	})

	t.Run("empty hash", func(t *testing.T) {
		reg := chain.NewRegistry()
		reg.Register("ethereum", &scriptedConnector{})
		g := NewBroadcastGateway(reg, time.Second, zap.NewNop())
		if _, err := g.Broadcast(context.Background(), wallet, req, shares); err == nil {
			t.Error("expected error for empty hash")
		}
	})

	t.Run("success", func(t *testing.T) {
		reg := chain.NewRegistry()
		conn := &scriptedConnector{hash: "0xfeed"}
		reg.Register("ethereum", conn)
		g := NewBroadcastGateway(reg, time.Second, zap.NewNop())
		hash, err := g.Broadcast(context.Background(), wallet, req, shares)
		if err != nil || hash != "0xfeed" {
			t.Errorf("hash=%q err=%v", hash, err)
		}
		if conn.last.RequestID != req.ID {
			t.Error("connector got a different request")
		}
	})
}
