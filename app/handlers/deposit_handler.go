package handlers

import (
	"context"
	"log"
	"time"

	"github.com/amirphl/Kusanagi/app/dto"
	businessflow "github.com/amirphl/Kusanagi/business_flow"
	"github.com/amirphl/Kusanagi/utils"
	"github.com/gofiber/fiber/v3"
)

type DepositHandlerInterface interface {
	Summary(c fiber.Ctx) error
	History(c fiber.Ctx) error
	Balance(c fiber.Ctx) error
}

type DepositHandler struct {
	flow businessflow.DepositFlow
}

func (h *DepositHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{Success: false, Message: message, Error: dto.ErrorDetail{Code: errorCode, Details: details}})
}

func (h *DepositHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{Success: true, Message: message, Data: data})
}

func NewDepositHandler(flow businessflow.DepositFlow) DepositHandlerInterface {
	return &DepositHandler{flow: flow}
}

// Summary returns a customer's deposit statistics and current balance
// @Summary Deposit summary
// @Tags Deposits
// @Produce json
// @Param chat_id query int true "Customer chat id"
// @Success 200 {object} dto.APIResponse{data=dto.DepositSummaryResponse}
// @Failure 404 {object} dto.APIResponse
// @Router /api/v1/deposits/summary [get]
func (h *DepositHandler) Summary(c fiber.Ctx) error {
	chatID, err := parseChatID(c)
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid chat id", "INVALID_CHAT_ID", nil)
	}

	req := dto.DepositSummaryRequest{ChatID: chatID}
	metadata := clientMetadata(c)
	res, err := h.flow.Summary(h.createRequestContext(c, "/api/v1/deposits/summary"), &req, metadata)
	if err != nil {
		log.Println("Deposit summary failed", err)
		return mapDepositErr(c, err)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Deposit summary retrieved", res)
}

// History pages through a customer's settled deposits
// @Summary Deposit history
// @Tags Deposits
// @Produce json
// @Param chat_id query int true "Customer chat id"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} dto.APIResponse{data=dto.DepositHistoryResponse}
// @Failure 404 {object} dto.APIResponse
// @Router /api/v1/deposits/history [get]
func (h *DepositHandler) History(c fiber.Ctx) error {
	chatID, err := parseChatID(c)
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid chat id", "INVALID_CHAT_ID", nil)
	}

	req := dto.DepositHistoryRequest{
		ChatID:   chatID,
		Page:     parseIntQuery(c, "page", 1),
		PageSize: parseIntQuery(c, "page_size", 20),
	}
	metadata := clientMetadata(c)
	res, err := h.flow.History(h.createRequestContext(c, "/api/v1/deposits/history"), &req, metadata)
	if err != nil {
		log.Println("Deposit history failed", err)
		return mapDepositErr(c, err)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Deposit history retrieved", res)
}

// Balance returns a customer's spendable balance
// @Summary Balance
// @Tags Deposits
// @Produce json
// @Param chat_id query int true "Customer chat id"
// @Success 200 {object} dto.APIResponse{data=dto.BalanceResponse}
// @Failure 404 {object} dto.APIResponse
// @Router /api/v1/balance [get]
func (h *DepositHandler) Balance(c fiber.Ctx) error {
	chatID, err := parseChatID(c)
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid chat id", "INVALID_CHAT_ID", nil)
	}

	req := dto.BalanceRequest{ChatID: chatID}
	metadata := clientMetadata(c)
	res, err := h.flow.Balance(h.createRequestContext(c, "/api/v1/balance"), &req, metadata)
	if err != nil {
		log.Println("Balance lookup failed", err)
		return mapDepositErr(c, err)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Balance retrieved", res)
}

func mapDepositErr(c fiber.Ctx, err error) error {
	switch {
	case businessflow.IsCustomerNotFound(err):
		return c.Status(fiber.StatusNotFound).JSON(dto.APIResponse{Success: false, Message: "Customer not found", Error: dto.ErrorDetail{Code: "CUSTOMER_NOT_FOUND"}})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(dto.APIResponse{Success: false, Message: "Deposit operation failed", Error: dto.ErrorDetail{Code: "DEPOSIT_OPERATION_FAILED", Details: err.Error()}})
	}
}

func (h *DepositHandler) createRequestContext(c fiber.Ctx, endpoint string) context.Context {
	return h.createRequestContextWithTimeout(c, endpoint, 30*time.Second)
}

func (h *DepositHandler) createRequestContextWithTimeout(c fiber.Ctx, endpoint string, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	ctx = context.WithValue(ctx, utils.RequestIDKey, c.Get("X-Request-ID"))
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get("User-Agent"))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	ctx = context.WithValue(ctx, utils.TimeoutKey, timeout)
	ctx = context.WithValue(ctx, utils.CancelFuncKey, cancel)
	return ctx
}
