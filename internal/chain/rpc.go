package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/multisig-custody/backend/internal/models"
	"go.uber.org/zap"
)

// RPCConnector hands signed transactions to a JSON-RPC relayer that knows
// how to assemble and submit them for one chain.
type RPCConnector struct {
	url        string
	method     string
	httpClient *http.Client
	nextID     atomic.Int64
	log        *zap.Logger
}

func NewRPCConnector(url, method string, timeout time.Duration, log *zap.Logger) *RPCConnector {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RPCConnector{
		url:    url,
		method: method,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	ID     int64     `json:"id"`
	Result string    `json:"result"`
	Error  *rpcError `json:"error"`
}

func (c *RPCConnector) Broadcast(ctx context.Context, tx *models.SignedTransaction) (string, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  c.method,
		Params:  []any{tx},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("rpc relayer unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("rpc relayer returned %d: %s", resp.StatusCode, string(b))
	}

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode rpc response: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("rpc error %d: %s", out.Error.Code, out.Error.Message)
	}
	if out.Result == "" {
		return "", fmt.Errorf("rpc relayer returned empty transaction hash")
	}

	c.log.Info("transaction relayed",
		zap.String("chain", tx.Chain),
		zap.String("request_id", tx.RequestID.String()),
		zap.String("tx_hash", out.Result),
	)
	return out.Result, nil
}
