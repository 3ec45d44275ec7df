package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/multisig-custody/backend/internal/http/dto"
	"github.com/multisig-custody/backend/internal/middleware"
	"github.com/multisig-custody/backend/internal/models"
	"github.com/multisig-custody/backend/internal/rbac"
	"github.com/multisig-custody/backend/internal/services"
	"go.uber.org/zap"
)

type WalletHandler struct {
	registry *services.WalletRegistry
	log      *zap.Logger
}

func NewWalletHandler(registry *services.WalletRegistry, log *zap.Logger) *WalletHandler {
	return &WalletHandler{registry: registry, log: log}
}

func (h *WalletHandler) CreateWallet(c *fiber.Ctx) error {
	var req dto.CreateWalletRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	wallet, err := h.registry.CreateWallet(c.UserContext(), middleware.GetUserID(c), services.WalletConfig{
		Name:               req.Name,
		Chain:              req.Chain,
		RequiredSignatures: req.RequiredSignatures,
		TotalSigners:       req.TotalSigners,
	}, req.Metadata)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: wallet})
}

// ListWallets lists the caller's wallets. scope is owned, signer or all.
func (h *WalletHandler) ListWallets(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	var chainName *string
	if v := c.Query("chain"); v != "" {
		chainName = &v
	}

	var (
		wallets []models.MultiSigWallet
		err     error
	)
	switch strings.ToLower(c.Query("scope", "all")) {
	case "owned":
		wallets, err = h.registry.GetOwnedWallets(c.UserContext(), userID, chainName)
	case "signer":
		wallets, err = h.registry.GetSignerWallets(c.UserContext(), userID, chainName)
	case "all":
		wallets, err = h.registry.GetUserWallets(c.UserContext(), userID, chainName)
	default:
		return badRequest(c, "scope must be owned, signer or all")
	}
	if err != nil {
		return respondError(c, h.log, err)
	}
	if wallets == nil {
		wallets = []models.MultiSigWallet{}
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: wallets})
}

func (h *WalletHandler) GetWallet(c *fiber.Ctx) error {
	walletID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid wallet id")
	}
	role, wallet, err := h.authorize(c, walletID, rbac.PermViewWallet)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.WalletResponse{Wallet: wallet, Role: role}})
}

func (h *WalletHandler) ListSigners(c *fiber.Ctx) error {
	walletID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid wallet id")
	}
	if _, _, err := h.authorize(c, walletID, rbac.PermViewWallet); err != nil {
		return respondError(c, h.log, err)
	}

	signers, err := h.registry.ListSigners(c.UserContext(), walletID, c.QueryBool("active", false))
	if err != nil {
		return respondError(c, h.log, err)
	}
	if signers == nil {
		signers = []models.MultiSigWalletSigner{}
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: signers})
}

func (h *WalletHandler) AddSigner(c *fiber.Ctx) error {
	walletID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid wallet id")
	}
	var req dto.AddSignerRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	in := services.AddSignerInput{
		SignerType: req.SignerType,
		PublicKey:  req.PublicKey,
		Address:    req.Address,
		Label:      req.Label,
		Metadata:   req.Metadata,
	}
	if req.UserID != nil {
		uid, err := uuid.Parse(*req.UserID)
		if err != nil {
			return badRequest(c, "invalid user_id")
		}
		in.UserID = &uid
	}
	if req.HardwareID != nil {
		hwID, err := uuid.Parse(*req.HardwareID)
		if err != nil {
			return badRequest(c, "invalid hardware_id")
		}
		in.HardwareID = &hwID
	}

	signer, err := h.registry.AddSigner(c.UserContext(), walletID, middleware.GetUserID(c), in)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: signer})
}

func (h *WalletHandler) RemoveSigner(c *fiber.Ctx) error {
	walletID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid wallet id")
	}
	signerID, err := uuid.Parse(c.Params("signerId"))
	if err != nil {
		return badRequest(c, "invalid signer id")
	}

	if err := h.registry.RemoveSigner(c.UserContext(), walletID, signerID, middleware.GetUserID(c)); err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

func (h *WalletHandler) SuspendWallet(c *fiber.Ctx) error {
	return h.changeStatus(c, h.registry.SuspendWallet)
}

func (h *WalletHandler) ReactivateWallet(c *fiber.Ctx) error {
	return h.changeStatus(c, h.registry.ReactivateWallet)
}

// ArchiveWallet archives the wallet and cancels its pending requests.
func (h *WalletHandler) ArchiveWallet(c *fiber.Ctx) error {
	return h.changeStatus(c, h.registry.ArchiveWallet)
}

func (h *WalletHandler) changeStatus(c *fiber.Ctx, fn func(ctx context.Context, walletID, actorID uuid.UUID) error) error {
	walletID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid wallet id")
	}
	if err := fn(c.UserContext(), walletID, middleware.GetUserID(c)); err != nil {
		return respondError(c, h.log, err)
	}

	wallet, err := h.registry.GetWallet(c.UserContext(), walletID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: wallet})
}

func (h *WalletHandler) GetAudit(c *fiber.Ctx) error {
	walletID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid wallet id")
	}
	if _, _, err := h.authorize(c, walletID, rbac.PermManageWallet); err != nil {
		return respondError(c, h.log, err)
	}

	limit, offset := pagination(c)
	entries, err := h.registry.ListAudit(c.UserContext(), walletID, limit, offset)
	if err != nil {
		return respondError(c, h.log, err)
	}
	if entries == nil {
		entries = []models.AuditLog{}
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: entries})
}

// authorize resolves the caller's role on the wallet and checks perm.
func (h *WalletHandler) authorize(c *fiber.Ctx, walletID uuid.UUID, perm string) (string, *models.MultiSigWallet, error) {
	return authorizeWallet(c, h.registry, walletID, perm)
}

func authorizeWallet(c *fiber.Ctx, registry *services.WalletRegistry, walletID uuid.UUID, perm string) (string, *models.MultiSigWallet, error) {
	role, wallet, err := registry.RoleOf(c.UserContext(), walletID, middleware.GetUserID(c))
	if err != nil {
		return "", nil, err
	}
	if !rbac.HasPermission(role, perm) {
		return "", nil, services.ErrUnauthorized.With("permission", perm)
	}
	return role, wallet, nil
}

func pagination(c *fiber.Ctx) (int, int) {
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
