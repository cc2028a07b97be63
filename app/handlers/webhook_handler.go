package handlers

import (
	"context"
	"log"
	"time"

	"github.com/amirphl/Kusanagi/app/dto"
	"github.com/amirphl/Kusanagi/app/middleware"
	"github.com/amirphl/Kusanagi/app/services"
	businessflow "github.com/amirphl/Kusanagi/business_flow"
	"github.com/amirphl/Kusanagi/utils"
	"github.com/gofiber/fiber/v3"
)

type WebhookHandlerInterface interface {
	Receive(c fiber.Ctx) error
}

type WebhookHandler struct {
	flow businessflow.WebhookFlow
}

func NewWebhookHandler(flow businessflow.WebhookFlow) WebhookHandlerInterface {
	return &WebhookHandler{flow: flow}
}

// Receive accepts one provider delivery. The signature covers the raw
// request body, so the body must reach the flow byte for byte.
// @Summary CryptoPay webhook
// @Tags Webhooks
// @Accept json
// @Produce json
// @Success 200 {object} dto.APIResponse
// @Failure 400 {object} dto.APIResponse
// @Failure 500 {object} dto.APIResponse
// @Router /api/v1/webhooks/crypto-pay [post]
func (h *WebhookHandler) Receive(c fiber.Ctx) error {
	rawBody := c.Body()
	signature := c.Get(services.CryptoPaySignatureHeader)

	metadata := clientMetadata(c)
	receipt, err := h.flow.Receive(h.createRequestContext(c, "/api/v1/webhooks/crypto-pay"), rawBody, signature, metadata)
	if err != nil {
		switch {
		case businessflow.IsInvalidSignature(err):
			middleware.RecordWebhookDelivery("rejected_signature")
			return c.Status(fiber.StatusBadRequest).JSON(dto.APIResponse{Success: false, Message: "Invalid signature", Error: dto.ErrorDetail{Code: "INVALID_SIGNATURE"}})
		case businessflow.IsMalformedPayload(err):
			middleware.RecordWebhookDelivery("rejected_payload")
			return c.Status(fiber.StatusBadRequest).JSON(dto.APIResponse{Success: false, Message: "Malformed payload", Error: dto.ErrorDetail{Code: "MALFORMED_PAYLOAD"}})
		default:
			// Transient; the provider redelivers on non-2xx
			log.Println("Webhook processing failed", err)
			middleware.RecordWebhookDelivery("failed")
			return c.Status(fiber.StatusInternalServerError).JSON(dto.APIResponse{Success: false, Message: "Delivery processing failed", Error: dto.ErrorDetail{Code: "WEBHOOK_PROCESSING_FAILED"}})
		}
	}

	middleware.RecordWebhookDelivery(string(receipt.Status))
	return c.Status(fiber.StatusOK).JSON(dto.APIResponse{
		Success: true,
		Message: "Delivery " + string(receipt.Status),
	})
}

func (h *WebhookHandler) createRequestContext(c fiber.Ctx, endpoint string) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	ctx = context.WithValue(ctx, utils.RequestIDKey, c.Get("X-Request-ID"))
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get("User-Agent"))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	ctx = context.WithValue(ctx, utils.CancelFuncKey, cancel)
	return ctx
}
