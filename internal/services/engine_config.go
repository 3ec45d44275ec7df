package services

import (
	"strings"
	"time"

	"github.com/multisig-custody/backend/internal/config"
)

// EngineConfig holds the rule tables the wallet registry and approval
// coordinator consult. It is fixed at construction time.
type EngineConfig struct {
	Enabled            bool
	SupportedChains    map[string]bool
	MaxPendingRequests int
	ApprovalTTL        time.Duration
	MaxSigners         int
	DefaultTenantID    string
}

func NewEngineConfig(cfg *config.Config) EngineConfig {
	chains := make(map[string]bool, len(cfg.SupportedChains))
	for _, c := range cfg.SupportedChains {
		chains[strings.ToLower(c)] = true
	}
	return EngineConfig{
		Enabled:            cfg.MultiSigEnabled,
		SupportedChains:    chains,
		MaxPendingRequests: cfg.MaxPendingRequests,
		ApprovalTTL:        cfg.ApprovalTTL,
		MaxSigners:         cfg.MaxSigners,
		DefaultTenantID:    cfg.DefaultTenantID,
	}
}

func (c EngineConfig) IsChainSupported(chain string) bool {
	return c.SupportedChains[strings.ToLower(chain)]
}
