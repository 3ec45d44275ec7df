package chain

import (
	"context"

	"github.com/multisig-custody/backend/internal/config"
	"go.uber.org/zap"
)

// NewRegistryFromConfig registers an RPC relayer for every configured
// endpoint and, when "ton" is a supported chain, a lite-client connector.
// A TON dial failure leaves ton without a connector; broadcasts for it then
// fail and are recorded as failed requests.
func NewRegistryFromConfig(ctx context.Context, cfg *config.Config, log *zap.Logger) *Registry {
	r := NewRegistry()

	for chainName, url := range cfg.RPCEndpoints {
		r.Register(chainName, NewRPCConnector(url, cfg.RPCMethod, cfg.BroadcastTimeout, log))
		log.Info("rpc connector registered", zap.String("chain", chainName))
	}

	for _, chainName := range cfg.SupportedChains {
		if chainName != "ton" {
			continue
		}
		api, err := DialTON(ctx, cfg, log)
		if err != nil {
			log.Error("ton connector unavailable", zap.Error(err))
			break
		}
		r.Register("ton", NewTONConnector(api, log))
		log.Info("ton connector registered", zap.String("network", cfg.TONNetwork))
	}

	return r
}
