package handlers

import (
	"context"
	"log"
	"time"

	"github.com/amirphl/Kusanagi/app/dto"
	businessflow "github.com/amirphl/Kusanagi/business_flow"
	"github.com/amirphl/Kusanagi/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type OrderHandlerInterface interface {
	Checkout(c fiber.Ctx) error
	Get(c fiber.Ctx) error
	Refund(c fiber.Ctx) error
}

type OrderHandler struct {
	checkoutFlow businessflow.CheckoutFlow
	invoiceFlow  businessflow.InvoiceFlow
	validator    *validator.Validate
}

func (h *OrderHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{Success: false, Message: message, Error: dto.ErrorDetail{Code: errorCode, Details: details}})
}

func (h *OrderHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{Success: true, Message: message, Data: data})
}

func NewOrderHandler(checkoutFlow businessflow.CheckoutFlow, invoiceFlow businessflow.InvoiceFlow) OrderHandlerInterface {
	return &OrderHandler{checkoutFlow: checkoutFlow, invoiceFlow: invoiceFlow, validator: validator.New()}
}

// Checkout creates an order from a cart. Balance payments settle
// immediately; crypto payments come back with a provider invoice to pay.
// @Summary Checkout
// @Tags Orders
// @Accept json
// @Produce json
// @Param request body dto.CheckoutRequest true "Cart and payment method"
// @Success 201 {object} dto.APIResponse{data=dto.CheckoutResponse}
// @Failure 400 {object} dto.APIResponse
// @Failure 402 {object} dto.APIResponse
// @Failure 409 {object} dto.APIResponse
// @Router /api/v1/orders/checkout [post]
func (h *OrderHandler) Checkout(c fiber.Ctx) error {
	var req dto.CheckoutRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", formatValidationErrors(err))
	}

	ctx := h.createRequestContext(c, "/api/v1/orders/checkout")
	metadata := clientMetadata(c)
	res, err := h.checkoutFlow.CreateOrderFromCart(ctx, &req, metadata)
	if err != nil {
		log.Println("Checkout failed", err)
		return mapOrderErr(c, err)
	}

	// Crypto orders need an invoice to pay; the order stays pending
	// until the reconciler sees that invoice settle
	if req.PaymentMethod == "crypto" {
		invoiceReq := dto.CreateOrderPaymentInvoiceRequest{
			ChatID:    req.ChatID,
			OrderUUID: res.Order.UUID,
			Asset:     req.Asset,
		}
		invoiceRes, err := h.invoiceFlow.CreateOrderPaymentInvoice(ctx, &invoiceReq, metadata)
		if err != nil {
			log.Println("Checkout order created but invoice creation failed", err)
			return mapInvoiceErr(c, err)
		}
		res.Invoice = &invoiceRes.Invoice
	}

	return h.SuccessResponse(c, fiber.StatusCreated, "Order created", res)
}

// Get fetches one order
// @Summary Get order
// @Tags Orders
// @Produce json
// @Param uuid path string true "Order UUID"
// @Param chat_id query int true "Customer chat id"
// @Success 200 {object} dto.APIResponse{data=dto.OrderDTO}
// @Failure 404 {object} dto.APIResponse
// @Router /api/v1/orders/{uuid} [get]
func (h *OrderHandler) Get(c fiber.Ctx) error {
	chatID, err := parseChatID(c)
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid chat id", "INVALID_CHAT_ID", nil)
	}
	orderUUID := c.Params("uuid")
	if _, err := utils.ParseUUID(orderUUID); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid order UUID", "INVALID_ORDER_UUID", nil)
	}

	req := dto.GetOrderRequest{ChatID: chatID, OrderUUID: orderUUID}
	metadata := clientMetadata(c)
	res, err := h.checkoutFlow.GetOrder(h.createRequestContext(c, "/api/v1/orders/:uuid"), &req, metadata)
	if err != nil {
		log.Println("Order lookup failed", err)
		return mapOrderErr(c, err)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Order retrieved", res)
}

// Refund returns a paid order's money to the customer balance
// @Summary Refund order
// @Tags Orders
// @Produce json
// @Param uuid path string true "Order UUID"
// @Param chat_id query int true "Customer chat id"
// @Success 200 {object} dto.APIResponse{data=dto.RefundOrderResponse}
// @Failure 404 {object} dto.APIResponse
// @Failure 409 {object} dto.APIResponse
// @Router /api/v1/orders/{uuid}/refund [post]
func (h *OrderHandler) Refund(c fiber.Ctx) error {
	chatID, err := parseChatID(c)
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid chat id", "INVALID_CHAT_ID", nil)
	}
	orderUUID := c.Params("uuid")
	if _, err := utils.ParseUUID(orderUUID); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid order UUID", "INVALID_ORDER_UUID", nil)
	}

	req := dto.RefundOrderRequest{ChatID: chatID, OrderUUID: orderUUID}
	metadata := clientMetadata(c)
	res, err := h.checkoutFlow.RefundOrder(h.createRequestContext(c, "/api/v1/orders/:uuid/refund"), &req, metadata)
	if err != nil {
		log.Println("Order refund failed", err)
		return mapOrderErr(c, err)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Order refunded", res)
}

func mapOrderErr(c fiber.Ctx, err error) error {
	switch {
	case businessflow.IsEmptyCart(err):
		return c.Status(fiber.StatusBadRequest).JSON(dto.APIResponse{Success: false, Message: "Cart is empty", Error: dto.ErrorDetail{Code: "EMPTY_CART"}})
	case businessflow.IsInvalidQuantity(err):
		return c.Status(fiber.StatusBadRequest).JSON(dto.APIResponse{Success: false, Message: "Quantity must be at least 1", Error: dto.ErrorDetail{Code: "INVALID_QUANTITY"}})
	case businessflow.IsInvalidAmount(err):
		return c.Status(fiber.StatusBadRequest).JSON(dto.APIResponse{Success: false, Message: "Cart total must be positive", Error: dto.ErrorDetail{Code: "INVALID_CART_TOTAL"}})
	case businessflow.IsCustomerNotFound(err):
		return c.Status(fiber.StatusNotFound).JSON(dto.APIResponse{Success: false, Message: "Customer not found", Error: dto.ErrorDetail{Code: "CUSTOMER_NOT_FOUND"}})
	case businessflow.IsProductNotFound(err):
		return c.Status(fiber.StatusNotFound).JSON(dto.APIResponse{Success: false, Message: "Product not found", Error: dto.ErrorDetail{Code: "PRODUCT_NOT_FOUND"}})
	case businessflow.IsProductInactive(err):
		return c.Status(fiber.StatusConflict).JSON(dto.APIResponse{Success: false, Message: "Product is not available", Error: dto.ErrorDetail{Code: "PRODUCT_NOT_AVAILABLE"}})
	case businessflow.IsOutOfStock(err):
		return c.Status(fiber.StatusConflict).JSON(dto.APIResponse{Success: false, Message: "Not enough stock", Error: dto.ErrorDetail{Code: "OUT_OF_STOCK"}})
	case businessflow.IsInsufficientFunds(err):
		return c.Status(fiber.StatusPaymentRequired).JSON(dto.APIResponse{Success: false, Message: "Balance does not cover the cart", Error: dto.ErrorDetail{Code: "INSUFFICIENT_FUNDS"}})
	case businessflow.IsOrderNotFound(err):
		return c.Status(fiber.StatusNotFound).JSON(dto.APIResponse{Success: false, Message: "Order not found", Error: dto.ErrorDetail{Code: "ORDER_NOT_FOUND"}})
	case businessflow.IsOwnershipMismatch(err):
		return c.Status(fiber.StatusForbidden).JSON(dto.APIResponse{Success: false, Message: "Order belongs to another customer", Error: dto.ErrorDetail{Code: "OWNERSHIP_MISMATCH"}})
	case businessflow.IsOrderNotRefundable(err):
		return c.Status(fiber.StatusConflict).JSON(dto.APIResponse{Success: false, Message: "Order holds no refundable payment", Error: dto.ErrorDetail{Code: "ORDER_NOT_REFUNDABLE"}})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(dto.APIResponse{Success: false, Message: "Order operation failed", Error: dto.ErrorDetail{Code: "ORDER_OPERATION_FAILED", Details: err.Error()}})
	}
}

func (h *OrderHandler) createRequestContext(c fiber.Ctx, endpoint string) context.Context {
	return h.createRequestContextWithTimeout(c, endpoint, 30*time.Second)
}

func (h *OrderHandler) createRequestContextWithTimeout(c fiber.Ctx, endpoint string, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	ctx = context.WithValue(ctx, utils.RequestIDKey, c.Get("X-Request-ID"))
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get("User-Agent"))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	ctx = context.WithValue(ctx, utils.TimeoutKey, timeout)
	ctx = context.WithValue(ctx, utils.CancelFuncKey, cancel)
	return ctx
}
