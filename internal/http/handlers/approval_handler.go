package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/multisig-custody/backend/internal/http/dto"
	"github.com/multisig-custody/backend/internal/middleware"
	"github.com/multisig-custody/backend/internal/models"
	"github.com/multisig-custody/backend/internal/rbac"
	"github.com/multisig-custody/backend/internal/services"
	"go.uber.org/zap"
)

type ApprovalHandler struct {
	coordinator *services.ApprovalCoordinator
	registry    *services.WalletRegistry
	log         *zap.Logger
}

func NewApprovalHandler(coordinator *services.ApprovalCoordinator, registry *services.WalletRegistry, log *zap.Logger) *ApprovalHandler {
	return &ApprovalHandler{coordinator: coordinator, registry: registry, log: log}
}

func (h *ApprovalHandler) CreateRequest(c *fiber.Ctx) error {
	walletID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid wallet id")
	}
	var req dto.CreateApprovalRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	created, err := h.coordinator.CreateApprovalRequest(c.UserContext(), walletID, middleware.GetUserID(c), services.CreateRequestInput{
		RequestType:     req.RequestType,
		TransactionData: req.TransactionData,
		Metadata:        req.Metadata,
	})
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: created})
}

func (h *ApprovalHandler) ListRequests(c *fiber.Ctx) error {
	walletID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid wallet id")
	}
	if _, _, err := authorizeWallet(c, h.registry, walletID, rbac.PermViewWallet); err != nil {
		return respondError(c, h.log, err)
	}

	var status *string
	if v := c.Query("status"); v != "" {
		if _, ok := models.ValidRequestTransitions[v]; !ok {
			return badRequest(c, "unknown status")
		}
		status = &v
	}

	limit, offset := pagination(c)
	requests, err := h.coordinator.ListRequests(c.UserContext(), walletID, status, limit, offset)
	if err != nil {
		return respondError(c, h.log, err)
	}
	if requests == nil {
		requests = []models.MultiSigApprovalRequest{}
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: requests})
}

// GetStatus returns the request with every signer's decision.
func (h *ApprovalHandler) GetStatus(c *fiber.Ctx) error {
	requestID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid request id")
	}
	if _, err := h.authorizeRequest(c, requestID, rbac.PermViewWallet); err != nil {
		return respondError(c, h.log, err)
	}

	status, err := h.coordinator.GetApprovalStatus(c.UserContext(), requestID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: status})
}

func (h *ApprovalHandler) SubmitSignature(c *fiber.Ctx) error {
	requestID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid request id")
	}
	var req dto.SubmitSignatureRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	approval, err := h.coordinator.SubmitSignature(c.UserContext(), requestID, middleware.GetUserID(c), req.Signature, req.PublicKey)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: approval})
}

func (h *ApprovalHandler) RejectRequest(c *fiber.Ctx) error {
	requestID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid request id")
	}
	var req dto.RejectApprovalRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
	}

	approval, err := h.coordinator.RejectRequest(c.UserContext(), requestID, middleware.GetUserID(c), req.Reason)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: approval})
}

// Broadcast submits a request that reached quorum. A failed submission
// still returns the request, now in failed status, alongside the error.
func (h *ApprovalHandler) Broadcast(c *fiber.Ctx) error {
	requestID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid request id")
	}
	if _, err := h.authorizeRequest(c, requestID, rbac.PermBroadcast); err != nil {
		return respondError(c, h.log, err)
	}

	req, err := h.coordinator.BroadcastTransaction(c.UserContext(), requestID)
	if err != nil {
		if de, ok := services.AsError(err); ok && errors.Is(err, services.ErrBroadcastFailed) && req != nil {
			h.log.Warn("broadcast failed",
				zap.String("approval_request_id", requestID.String()),
				zap.Error(err),
			)
			err = de.With("status", req.Status)
		}
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: req})
}

func (h *ApprovalHandler) CancelRequest(c *fiber.Ctx) error {
	requestID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid request id")
	}
	if err := h.coordinator.CancelRequest(c.UserContext(), requestID, middleware.GetUserID(c)); err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

func (h *ApprovalHandler) authorizeRequest(c *fiber.Ctx, requestID uuid.UUID, perm string) (*models.MultiSigApprovalRequest, error) {
	req, err := h.coordinator.GetRequest(c.UserContext(), requestID)
	if err != nil {
		return nil, err
	}
	if _, _, err := authorizeWallet(c, h.registry, req.WalletID, perm); err != nil {
		return nil, err
	}
	return req, nil
}
