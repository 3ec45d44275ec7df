package chain

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/multisig-custody/backend/internal/config"
	"github.com/multisig-custody/backend/internal/models"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/liteclient"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"
	"github.com/xssnick/tonutils-go/tvm/cell"
	"go.uber.org/zap"
)

// OpExecute is the multisig contract op carried in the external message body.
const OpExecute uint32 = 0x6d736967 // "msig"

type externalSender interface {
	SendExternalMessage(ctx context.Context, msg *tlb.ExternalMessage) error
}

// TONConnector sends an external message to the wallet contract carrying the
// approved digest and the chain of signer signatures.
type TONConnector struct {
	api externalSender
	now func() time.Time
	log *zap.Logger
}

func NewTONConnector(api externalSender, log *zap.Logger) *TONConnector {
	return &TONConnector{api: api, now: time.Now, log: log}
}

// DialTON connects to the TON network.
// If LITE_SERVER_HOST + LITE_SERVER_KEY are set, connects to a specific lite server.
// Otherwise, auto-discovers lite servers from the global TON config based on TON_NETWORK.
func DialTON(ctx context.Context, cfg *config.Config, log *zap.Logger) (ton.APIClientWrapped, error) {
	client := liteclient.NewConnectionPool()

	if cfg.LiteServerHost != "" && cfg.LiteServerKey != "" {
		addr := fmt.Sprintf("%s:%d", cfg.LiteServerHost, cfg.LiteServerPort)
		log.Info("connecting to lite server", zap.String("addr", addr))
		if err := client.AddConnection(ctx, addr, cfg.LiteServerKey); err != nil {
			return nil, fmt.Errorf("connect to lite server %s: %w", addr, err)
		}
	} else {
		configURL := "https://ton.org/testnet-global.config.json"
		if strings.ToLower(cfg.TONNetwork) == "mainnet" {
			configURL = "https://ton.org/global.config.json"
		}
		log.Info("connecting via global config", zap.String("url", configURL), zap.String("network", cfg.TONNetwork))
		if err := client.AddConnectionsFromConfigUrl(ctx, configURL); err != nil {
			return nil, fmt.Errorf("connect via config %s: %w", configURL, err)
		}
	}

	proofPolicy := ton.ProofCheckPolicyFast
	if strings.ToLower(cfg.TONNetwork) == "mainnet" {
		proofPolicy = ton.ProofCheckPolicySecure
	}

	return ton.NewAPIClient(client, proofPolicy).WithRetry(), nil
}

func (c *TONConnector) Broadcast(ctx context.Context, tx *models.SignedTransaction) (string, error) {
	dst, err := address.ParseAddr(tx.WalletAddress)
	if err != nil {
		return "", fmt.Errorf("invalid wallet address %q: %w", tx.WalletAddress, err)
	}

	body, err := c.buildBody(tx)
	if err != nil {
		return "", err
	}

	msg := &tlb.ExternalMessage{
		DstAddr:   dst,
		ImportFee: tlb.ZeroCoins,
		Body:      body,
	}
	msgCell, err := tlb.ToCell(msg)
	if err != nil {
		return "", fmt.Errorf("serialize external message: %w", err)
	}

	if err := c.api.SendExternalMessage(ctx, msg); err != nil {
		return "", fmt.Errorf("send external message: %w", err)
	}

	hash := hex.EncodeToString(msgCell.Hash())
	c.log.Info("external message sent",
		zap.String("wallet", dst.String()),
		zap.String("request_id", tx.RequestID.String()),
		zap.String("msg_hash", hash),
	)
	return hash, nil
}

// buildBody lays out: op(32) | query_id(64) | digest(256) | ^signatures.
// Each signature cell is pubkey(256) | signature(512) | maybe ^next.
func (c *TONConnector) buildBody(tx *models.SignedTransaction) (*cell.Cell, error) {
	digest, err := hex.DecodeString(tx.DataToSign)
	if err != nil || len(digest) != 32 {
		return nil, fmt.Errorf("data to sign must be a 32-byte hex digest")
	}
	if len(tx.Signatures) < tx.Threshold {
		return nil, fmt.Errorf("have %d signatures, contract needs %d", len(tx.Signatures), tx.Threshold)
	}

	var next *cell.Cell
	for i := len(tx.Signatures) - 1; i >= 0; i-- {
		share := tx.Signatures[i]
		pub, err := hex.DecodeString(share.PublicKey)
		if err != nil || len(pub) != 32 {
			return nil, fmt.Errorf("signer %s: ton requires 32-byte ed25519 keys", share.SignerID)
		}
		sig, err := hex.DecodeString(share.Signature)
		if err != nil || len(sig) != 64 {
			return nil, fmt.Errorf("signer %s: ton requires 64-byte ed25519 signatures", share.SignerID)
		}
		next = cell.BeginCell().
			MustStoreSlice(pub, 256).
			MustStoreSlice(sig, 512).
			MustStoreMaybeRef(next).
			EndCell()
	}

	return cell.BeginCell().
		MustStoreUInt(uint64(OpExecute), 32).
		MustStoreUInt(uint64(c.now().UnixNano()), 64).
		MustStoreSlice(digest, 256).
		MustStoreRef(next).
		EndCell(), nil
}
