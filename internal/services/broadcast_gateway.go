package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/multisig-custody/backend/internal/chain"
	"github.com/multisig-custody/backend/internal/models"
	"github.com/multisig-custody/backend/internal/signing"
	"go.uber.org/zap"
)

// ConnectorResolver finds the broadcast connector for a chain.
type ConnectorResolver interface {
	For(chainName string) (chain.Connector, error)
}

// BroadcastGateway assembles the signed transaction from the approved
// shares and hands it to the chain connector.
type BroadcastGateway struct {
	connectors ConnectorResolver
	timeout    time.Duration
	log        *zap.Logger
}

func NewBroadcastGateway(connectors ConnectorResolver, timeout time.Duration, log *zap.Logger) *BroadcastGateway {
	return &BroadcastGateway{connectors: connectors, timeout: timeout, log: log}
}

type signerShare struct {
	SignerID   uuid.UUID
	SignerType string
	PublicKey  string
	Signature  string
}

// Broadcast returns the chain transaction hash. Any error is final for the
// request: its digest cannot be signed again.
func (g *BroadcastGateway) Broadcast(ctx context.Context, wallet *models.MultiSigWallet, req *models.MultiSigApprovalRequest, shares []signerShare) (string, error) {
	tx, err := g.Assemble(wallet, req, shares)
	if err != nil {
		return "", err
	}

	connector, err := g.connectors.For(wallet.Chain)
	if err != nil {
		return "", err
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	hash, err := connector.Broadcast(ctx, tx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("broadcast timed out after %s: %w", g.timeout, err)
		}
		return "", err
	}
	if hash == "" {
		return "", fmt.Errorf("connector returned an empty transaction hash")
	}

	g.log.Info("transaction broadcast",
		zap.String("request_id", req.ID.String()),
		zap.String("chain", wallet.Chain),
		zap.String("tx_hash", hash),
		zap.Duration("took", time.Since(start)),
	)
	return hash, nil
}

// Assemble builds the connector input, letting each signer's device kind
// shape its own share.
func (g *BroadcastGateway) Assemble(wallet *models.MultiSigWallet, req *models.MultiSigApprovalRequest, shares []signerShare) (*models.SignedTransaction, error) {
	if len(shares) < req.RequiredSignatures {
		return nil, fmt.Errorf("have %d signatures, need %d", len(shares), req.RequiredSignatures)
	}

	address := ""
	if wallet.Address != nil {
		address = *wallet.Address
	}
	tx := &models.SignedTransaction{
		RequestID:     req.ID,
		Chain:         wallet.Chain,
		WalletAddress: address,
		Payload:       req.TransactionData,
		DataToSign:    req.RawDataToSign,
		Threshold:     req.RequiredSignatures,
	}
	for _, s := range shares {
		device, err := signing.For(s.SignerType)
		if err != nil {
			return nil, err
		}
		if err := device.ConstructSignedTransaction(tx, models.SignatureShare{
			SignerID:  s.SignerID,
			PublicKey: s.PublicKey,
			Signature: s.Signature,
		}); err != nil {
			return nil, fmt.Errorf("signer %s: %w", s.SignerID, err)
		}
	}
	return tx, nil
}
