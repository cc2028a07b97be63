// Package businessflow contains the business logic for the application.
package businessflow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/amirphl/Kusanagi/app/dto"
	"github.com/amirphl/Kusanagi/models"
	"github.com/amirphl/Kusanagi/repository"
	"github.com/amirphl/Kusanagi/utils"
)

// ClientMetadata holds all client-related information for audit logging and session tracking
type ClientMetadata struct {
	IPAddress  string            `json:"ip_address"`
	UserAgent  string            `json:"user_agent"`
	DeviceInfo map[string]string `json:"device_info,omitempty"`
	Location   *LocationInfo     `json:"location,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
	Additional map[string]string `json:"additional,omitempty"`
}

// LocationInfo holds geographical location information
type LocationInfo struct {
	Country   string `json:"country,omitempty"`
	Region    string `json:"region,omitempty"`
	City      string `json:"city,omitempty"`
	Latitude  string `json:"latitude,omitempty"`
	Longitude string `json:"longitude,omitempty"`
}

// NewClientMetadata creates a new ClientMetadata instance with basic information
func NewClientMetadata(ipAddress, userAgent string) *ClientMetadata {
	return &ClientMetadata{
		IPAddress:  ipAddress,
		UserAgent:  userAgent,
		DeviceInfo: make(map[string]string),
		Additional: make(map[string]string),
	}
}

// AddDeviceInfo adds device information to the metadata
func (cm *ClientMetadata) AddDeviceInfo(key, value string) {
	if cm.DeviceInfo == nil {
		cm.DeviceInfo = make(map[string]string)
	}
	cm.DeviceInfo[key] = value
}

// AddAdditional adds additional custom information to the metadata
func (cm *ClientMetadata) AddAdditional(key, value string) {
	if cm.Additional == nil {
		cm.Additional = make(map[string]string)
	}
	cm.Additional[key] = value
}

// SetLocation sets location information
func (cm *ClientMetadata) SetLocation(location *LocationInfo) {
	cm.Location = location
}

// SetRequestID sets the request ID
func (cm *ClientMetadata) SetRequestID(requestID string) {
	cm.RequestID = requestID
}

// SetSessionID sets the session ID
func (cm *ClientMetadata) SetSessionID(sessionID string) {
	cm.SessionID = sessionID
}

// ToBotDTO converts a bot model to BotDTO for authentication responses
func ToBotDTO(bot models.Bot) dto.BotDTO {
	return dto.BotDTO{
		ID:        bot.ID,
		UUID:      bot.UUID.String(),
		Username:  bot.Username,
		IsActive:  bot.IsActive,
		CreatedAt: bot.CreatedAt.Format(time.RFC3339),
	}
}

// ToBotSessionDTO wraps freshly issued tokens in the session response shape
func ToBotSessionDTO(accessToken, refreshToken string) dto.BotSessionDTO {
	return dto.BotSessionDTO{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    utils.AccessTokenTTLSeconds,
		TokenType:    "Bearer",
		CreatedAt:    utils.UTCNow().Format(time.RFC3339),
	}
}

// logAuditEvent records one audit row; flows call this best-effort and
// never fail a request over it
func logAuditEvent(ctx context.Context, auditRepo repository.AuditLogRepository, customer *models.Customer, action, description string, success bool, errMsg *string, metadata *ClientMetadata) error {
	var customerID *uint
	if customer != nil {
		customerID = &customer.ID
	}

	ipAddress := "127.0.0.1"
	userAgent := ""
	if metadata != nil {
		ipAddress = metadata.IPAddress
		userAgent = metadata.UserAgent
	}

	audit := &models.AuditLog{
		CustomerID:   customerID,
		Action:       action,
		Description:  &description,
		Success:      utils.ToPtr(success),
		IPAddress:    &ipAddress,
		UserAgent:    &userAgent,
		ErrorMessage: errMsg,
	}

	if metadata != nil && len(metadata.Additional) > 0 {
		if extra, err := json.Marshal(metadata.Additional); err == nil {
			audit.Metadata = extra
		}
	}

	requestID := ctx.Value(utils.RequestIDKey)
	if requestID != nil {
		requestIDStr, ok := requestID.(string)
		if ok && requestIDStr != "" {
			audit.RequestID = &requestIDStr
		}
	}

	return auditRepo.Save(ctx, audit)
}

// ToInvoiceDTO converts an invoice model to its API shape. The order UUID
// is filled only when the Order relation was preloaded.
func ToInvoiceDTO(invoice models.Invoice) dto.InvoiceDTO {
	d := dto.InvoiceDTO{
		UUID:              invoice.UUID.String(),
		ProviderInvoiceID: invoice.ProviderInvoiceID,
		Purpose:           string(invoice.Purpose),
		Status:            string(invoice.Status),
		Amount:            invoice.Amount.String(),
		Asset:             invoice.Asset,
		Description:       invoice.Description,
		BotInvoiceURL:     invoice.BotInvoiceURL,
		MiniAppInvoiceURL: invoice.MiniAppInvoiceURL,
		CreatedAt:         invoice.CreatedAt.Format(time.RFC3339),
	}

	if invoice.Order != nil {
		orderUUID := invoice.Order.UUID.String()
		d.OrderUUID = &orderUUID
	}
	if invoice.PaidAmount != nil {
		paidAmount := invoice.PaidAmount.String()
		d.PaidAmount = &paidAmount
	}
	if invoice.PaidAsset != nil {
		d.PaidAsset = invoice.PaidAsset
	}
	if invoice.FeeAmount != nil {
		feeAmount := invoice.FeeAmount.String()
		d.FeeAmount = &feeAmount
	}
	if invoice.FeeAsset != nil {
		d.FeeAsset = invoice.FeeAsset
	}
	d.ExpiresAt = utils.RFC3339Ptr(invoice.ExpiresAt)
	d.PaidAt = utils.RFC3339Ptr(invoice.PaidAt)

	return d
}

// ToOrderDTO converts an order model to its API shape. Items come along
// only when the Items relation was preloaded.
func ToOrderDTO(order models.Order) dto.OrderDTO {
	d := dto.OrderDTO{
		UUID:          order.UUID.String(),
		Status:        string(order.Status),
		TotalAmount:   order.TotalAmount.String(),
		PaymentMethod: order.PaymentMethod,
		PaymentRef:    order.PaymentRef,
		CreatedAt:     order.CreatedAt.Format(time.RFC3339),
	}

	d.PaidAt = utils.RFC3339Ptr(order.PaidAt)
	d.RefundedAt = utils.RFC3339Ptr(order.RefundedAt)

	for _, item := range order.Items {
		d.Items = append(d.Items, ToOrderItemDTO(item))
	}

	return d
}

// ToOrderItemDTO converts one order line. Callers must preload the
// Product relation for the name and UUID to come through.
func ToOrderItemDTO(item models.OrderItem) dto.OrderItemDTO {
	return dto.OrderItemDTO{
		ProductUUID: item.Product.UUID.String(),
		ProductName: item.Product.Name,
		Quantity:    item.Quantity,
		UnitPrice:   item.UnitPrice.String(),
		Subtotal:    item.Subtotal().String(),
	}
}

// ToDepositEntryDTO converts a settled deposit to its API shape
func ToDepositEntryDTO(entry models.DepositEntry) dto.DepositHistoryItemDTO {
	d := dto.DepositHistoryItemDTO{
		ProviderInvoiceID: entry.ProviderInvoiceID,
		Amount:            entry.Amount.String(),
		Asset:             entry.Asset,
		RequestedAmount:   entry.RequestedAmount.String(),
		RequestedAsset:    entry.RequestedAsset,
		DepositedAt:       entry.DepositedAt.Format(time.RFC3339),
	}

	if entry.FeeAmount != nil {
		feeAmount := entry.FeeAmount.String()
		d.FeeAmount = &feeAmount
	}
	if entry.FeeAsset != nil {
		d.FeeAsset = entry.FeeAsset
	}

	return d
}
