package handlers

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/amirphl/Kusanagi/app/dto"
	businessflow "github.com/amirphl/Kusanagi/business_flow"
	"github.com/amirphl/Kusanagi/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type InvoiceHandlerInterface interface {
	CreateDeposit(c fiber.Ctx) error
	CreateOrderPayment(c fiber.Ctx) error
	List(c fiber.Ctx) error
	Get(c fiber.Ctx) error
	Cancel(c fiber.Ctx) error
}

type InvoiceHandler struct {
	flow      businessflow.InvoiceFlow
	validator *validator.Validate
}

func (h *InvoiceHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{Success: false, Message: message, Error: dto.ErrorDetail{Code: errorCode, Details: details}})
}

func (h *InvoiceHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{Success: true, Message: message, Data: data})
}

func NewInvoiceHandler(flow businessflow.InvoiceFlow) InvoiceHandlerInterface {
	return &InvoiceHandler{flow: flow, validator: validator.New()}
}

// CreateDeposit creates a provider invoice that tops up a customer balance
// @Summary Create deposit invoice
// @Tags Invoices
// @Accept json
// @Produce json
// @Param request body dto.CreateDepositInvoiceRequest true "Deposit parameters"
// @Success 201 {object} dto.APIResponse{data=dto.CreateInvoiceResponse}
// @Failure 400 {object} dto.APIResponse
// @Failure 502 {object} dto.APIResponse
// @Router /api/v1/invoices/deposit [post]
func (h *InvoiceHandler) CreateDeposit(c fiber.Ctx) error {
	var req dto.CreateDepositInvoiceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", formatValidationErrors(err))
	}
	metadata := clientMetadata(c)
	res, err := h.flow.CreateDepositInvoice(h.createRequestContext(c, "/api/v1/invoices/deposit"), &req, metadata)
	if err != nil {
		log.Println("Deposit invoice creation failed", err)
		return mapInvoiceErr(c, err)
	}
	return h.SuccessResponse(c, fiber.StatusCreated, "Invoice created", res)
}

// CreateOrderPayment creates a provider invoice that settles a pending order
// @Summary Create order payment invoice
// @Tags Invoices
// @Accept json
// @Produce json
// @Param request body dto.CreateOrderPaymentInvoiceRequest true "Order payment parameters"
// @Success 201 {object} dto.APIResponse{data=dto.CreateInvoiceResponse}
// @Failure 400 {object} dto.APIResponse
// @Failure 404 {object} dto.APIResponse
// @Router /api/v1/invoices/order-payment [post]
func (h *InvoiceHandler) CreateOrderPayment(c fiber.Ctx) error {
	var req dto.CreateOrderPaymentInvoiceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", formatValidationErrors(err))
	}
	metadata := clientMetadata(c)
	res, err := h.flow.CreateOrderPaymentInvoice(h.createRequestContext(c, "/api/v1/invoices/order-payment"), &req, metadata)
	if err != nil {
		log.Println("Order payment invoice creation failed", err)
		return mapInvoiceErr(c, err)
	}
	return h.SuccessResponse(c, fiber.StatusCreated, "Invoice created", res)
}

// List pages through a customer's invoices
// @Summary List invoices
// @Tags Invoices
// @Produce json
// @Param chat_id query int true "Customer chat id"
// @Param status query string false "Filter by invoice status"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} dto.APIResponse{data=dto.ListInvoicesResponse}
// @Failure 400 {object} dto.APIResponse
// @Router /api/v1/invoices [get]
func (h *InvoiceHandler) List(c fiber.Ctx) error {
	chatID, err := parseChatID(c)
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid chat id", "INVALID_CHAT_ID", nil)
	}

	req := dto.ListInvoicesRequest{
		ChatID:   chatID,
		Page:     parseIntQuery(c, "page", 1),
		PageSize: parseIntQuery(c, "page_size", 20),
	}
	if v := c.Query("status"); v != "" {
		req.Status = &v
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", formatValidationErrors(err))
	}

	metadata := clientMetadata(c)
	res, err := h.flow.ListInvoices(h.createRequestContext(c, "/api/v1/invoices"), &req, metadata)
	if err != nil {
		log.Println("Invoice listing failed", err)
		return mapInvoiceErr(c, err)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Invoices retrieved", res)
}

// Get fetches one invoice, refreshing a pending one against the provider
// @Summary Get invoice
// @Tags Invoices
// @Produce json
// @Param invoice_id path int true "Provider invoice id"
// @Param chat_id query int true "Customer chat id"
// @Success 200 {object} dto.APIResponse{data=dto.InvoiceDTO}
// @Failure 404 {object} dto.APIResponse
// @Router /api/v1/invoices/{invoice_id} [get]
func (h *InvoiceHandler) Get(c fiber.Ctx) error {
	chatID, err := parseChatID(c)
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid chat id", "INVALID_CHAT_ID", nil)
	}
	invoiceID, err := strconv.ParseInt(c.Params("invoice_id"), 10, 64)
	if err != nil || invoiceID <= 0 {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid invoice id", "INVALID_INVOICE_ID", nil)
	}

	req := dto.GetInvoiceRequest{ChatID: chatID, ProviderInvoiceID: invoiceID}
	metadata := clientMetadata(c)
	res, err := h.flow.GetInvoice(h.createRequestContext(c, "/api/v1/invoices/:invoice_id"), &req, metadata)
	if err != nil {
		log.Println("Invoice lookup failed", err)
		return mapInvoiceErr(c, err)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Invoice retrieved", res)
}

// Cancel cancels a pending invoice at the provider and locally
// @Summary Cancel invoice
// @Tags Invoices
// @Produce json
// @Param invoice_id path int true "Provider invoice id"
// @Param chat_id query int true "Customer chat id"
// @Success 200 {object} dto.APIResponse{data=dto.CancelInvoiceResponse}
// @Failure 404 {object} dto.APIResponse
// @Failure 409 {object} dto.APIResponse
// @Router /api/v1/invoices/{invoice_id}/cancel [post]
func (h *InvoiceHandler) Cancel(c fiber.Ctx) error {
	chatID, err := parseChatID(c)
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid chat id", "INVALID_CHAT_ID", nil)
	}
	invoiceID, err := strconv.ParseInt(c.Params("invoice_id"), 10, 64)
	if err != nil || invoiceID <= 0 {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid invoice id", "INVALID_INVOICE_ID", nil)
	}

	req := dto.CancelInvoiceRequest{ChatID: chatID, ProviderInvoiceID: invoiceID}
	metadata := clientMetadata(c)
	res, err := h.flow.CancelInvoice(h.createRequestContext(c, "/api/v1/invoices/:invoice_id/cancel"), &req, metadata)
	if err != nil {
		log.Println("Invoice cancellation failed", err)
		return mapInvoiceErr(c, err)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Invoice cancelled", res)
}

func mapInvoiceErr(c fiber.Ctx, err error) error {
	switch {
	case businessflow.IsInvalidAmount(err), businessflow.IsInvalidAsset(err):
		return c.Status(fiber.StatusBadRequest).JSON(dto.APIResponse{Success: false, Message: "Invalid amount", Error: dto.ErrorDetail{Code: "INVALID_AMOUNT"}})
	case businessflow.IsAmountTooLow(err):
		return c.Status(fiber.StatusBadRequest).JSON(dto.APIResponse{Success: false, Message: "Amount too low", Error: dto.ErrorDetail{Code: "AMOUNT_TOO_LOW"}})
	case businessflow.IsAmountTooHigh(err):
		return c.Status(fiber.StatusBadRequest).JSON(dto.APIResponse{Success: false, Message: "Amount too high", Error: dto.ErrorDetail{Code: "AMOUNT_TOO_HIGH"}})
	case businessflow.IsCustomerNotFound(err):
		return c.Status(fiber.StatusNotFound).JSON(dto.APIResponse{Success: false, Message: "Customer not found", Error: dto.ErrorDetail{Code: "CUSTOMER_NOT_FOUND"}})
	case businessflow.IsInvoiceNotFound(err):
		return c.Status(fiber.StatusNotFound).JSON(dto.APIResponse{Success: false, Message: "Invoice not found", Error: dto.ErrorDetail{Code: "INVOICE_NOT_FOUND"}})
	case businessflow.IsOrderNotFound(err):
		return c.Status(fiber.StatusNotFound).JSON(dto.APIResponse{Success: false, Message: "Order not found", Error: dto.ErrorDetail{Code: "ORDER_NOT_FOUND"}})
	case businessflow.IsOwnershipMismatch(err):
		return c.Status(fiber.StatusForbidden).JSON(dto.APIResponse{Success: false, Message: "Resource belongs to another customer", Error: dto.ErrorDetail{Code: "OWNERSHIP_MISMATCH"}})
	case businessflow.IsOrderNotPending(err):
		return c.Status(fiber.StatusConflict).JSON(dto.APIResponse{Success: false, Message: "Order is not awaiting payment", Error: dto.ErrorDetail{Code: "ORDER_NOT_PENDING"}})
	case businessflow.IsInvoiceNotPending(err):
		return c.Status(fiber.StatusConflict).JSON(dto.APIResponse{Success: false, Message: "Invoice is not pending", Error: dto.ErrorDetail{Code: "INVOICE_NOT_PENDING"}})
	case businessflow.IsDuplicateInvoice(err):
		return c.Status(fiber.StatusConflict).JSON(dto.APIResponse{Success: false, Message: "Invoice already tracked", Error: dto.ErrorDetail{Code: "DUPLICATE_INVOICE"}})
	case businessflow.IsProviderUnavailable(err):
		return c.Status(fiber.StatusBadGateway).JSON(dto.APIResponse{Success: false, Message: "Payment provider unavailable", Error: dto.ErrorDetail{Code: "PROVIDER_UNAVAILABLE"}})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(dto.APIResponse{Success: false, Message: "Invoice operation failed", Error: dto.ErrorDetail{Code: "INVOICE_OPERATION_FAILED", Details: err.Error()}})
	}
}

func (h *InvoiceHandler) createRequestContext(c fiber.Ctx, endpoint string) context.Context {
	return h.createRequestContextWithTimeout(c, endpoint, 30*time.Second)
}

func (h *InvoiceHandler) createRequestContextWithTimeout(c fiber.Ctx, endpoint string, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	ctx = context.WithValue(ctx, utils.RequestIDKey, c.Get("X-Request-ID"))
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get("User-Agent"))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	ctx = context.WithValue(ctx, utils.TimeoutKey, timeout)
	ctx = context.WithValue(ctx, utils.CancelFuncKey, cancel)
	return ctx
}
