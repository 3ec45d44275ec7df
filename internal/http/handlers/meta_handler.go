package handlers

import (
	"sort"

	"github.com/gofiber/fiber/v2"
	"github.com/multisig-custody/backend/internal/http/dto"
	"github.com/multisig-custody/backend/internal/models"
	"github.com/multisig-custody/backend/internal/services"
)

type MetaHandler struct {
	cfg services.EngineConfig
}

func NewMetaHandler(cfg services.EngineConfig) *MetaHandler {
	return &MetaHandler{cfg: cfg}
}

// GetMeta describes what wallets this deployment can create.
func (h *MetaHandler) GetMeta(c *fiber.Ctx) error {
	chains := make([]string, 0, len(h.cfg.SupportedChains))
	for name, ok := range h.cfg.SupportedChains {
		if ok {
			chains = append(chains, name)
		}
	}
	sort.Strings(chains)

	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.MetaResponse{
		Enabled:            h.cfg.Enabled,
		SupportedChains:    chains,
		SignerTypes:        models.SignerTypes,
		MaxSigners:         h.cfg.MaxSigners,
		MaxPendingRequests: h.cfg.MaxPendingRequests,
		ApprovalTTLSeconds: int64(h.cfg.ApprovalTTL.Seconds()),
	}})
}
