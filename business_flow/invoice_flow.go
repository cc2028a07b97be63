package businessflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/amirphl/Kusanagi/app/dto"
	"github.com/amirphl/Kusanagi/app/services"
	"github.com/amirphl/Kusanagi/config"
	"github.com/amirphl/Kusanagi/models"
	"github.com/amirphl/Kusanagi/repository"
	"github.com/amirphl/Kusanagi/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// InvoiceFlow defines provider invoice operations
type InvoiceFlow interface {
	CreateDepositInvoice(ctx context.Context, req *dto.CreateDepositInvoiceRequest, metadata *ClientMetadata) (*dto.CreateInvoiceResponse, error)
	CreateOrderPaymentInvoice(ctx context.Context, req *dto.CreateOrderPaymentInvoiceRequest, metadata *ClientMetadata) (*dto.CreateInvoiceResponse, error)
	GetInvoice(ctx context.Context, req *dto.GetInvoiceRequest, metadata *ClientMetadata) (*dto.InvoiceDTO, error)
	ListInvoices(ctx context.Context, req *dto.ListInvoicesRequest, metadata *ClientMetadata) (*dto.ListInvoicesResponse, error)
	CancelInvoice(ctx context.Context, req *dto.CancelInvoiceRequest, metadata *ClientMetadata) (*dto.CancelInvoiceResponse, error)
}

// invoicePayload is echoed through the provider and comes back in the
// webhook delivery; the stored invoice row stays the authority
type invoicePayload struct {
	CustomerID uint   `json:"customer_id"`
	ChatID     int64  `json:"chat_id"`
	Purpose    string `json:"purpose"`
	Amount     string `json:"amount"`
	Asset      string `json:"asset"`
	OrderUUID  string `json:"order_uuid,omitempty"`
}

// InvoiceFlowImpl implements InvoiceFlow
type InvoiceFlowImpl struct {
	invoiceRepo  repository.InvoiceRepository
	customerRepo repository.CustomerRepository
	orderRepo    repository.OrderRepository
	auditRepo    repository.AuditLogRepository
	provider     services.PaymentProvider
	applier      PaidInvoiceApplier
	db           *gorm.DB
	paymentCfg   config.PaymentConfig
}

func NewInvoiceFlow(
	invoiceRepo repository.InvoiceRepository,
	customerRepo repository.CustomerRepository,
	orderRepo repository.OrderRepository,
	auditRepo repository.AuditLogRepository,
	provider services.PaymentProvider,
	applier PaidInvoiceApplier,
	db *gorm.DB,
	paymentCfg config.PaymentConfig,
) InvoiceFlow {
	return &InvoiceFlowImpl{
		invoiceRepo:  invoiceRepo,
		customerRepo: customerRepo,
		orderRepo:    orderRepo,
		auditRepo:    auditRepo,
		provider:     provider,
		applier:      applier,
		db:           db,
		paymentCfg:   paymentCfg,
	}
}

func normalizeAsset(asset, fallback string) string {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if asset == "" {
		return fallback
	}
	return asset
}

func (f *InvoiceFlowImpl) CreateDepositInvoice(ctx context.Context, req *dto.CreateDepositInvoiceRequest, metadata *ClientMetadata) (*dto.CreateInvoiceResponse, error) {
	if req == nil {
		return nil, NewBusinessError("DEPOSIT_INVOICE_VALIDATION_FAILED", "Request is required", ErrInvalidAmount)
	}

	amount := req.Amount
	if !amount.IsPositive() {
		return nil, NewBusinessError("DEPOSIT_INVOICE_VALIDATION_FAILED", "Amount must be positive", ErrInvalidAmount)
	}
	if amount.LessThan(decimal.NewFromInt(int64(f.paymentCfg.MinDepositAmount))) {
		return nil, NewBusinessError("DEPOSIT_AMOUNT_TOO_LOW", fmt.Sprintf("Minimum deposit is %d", f.paymentCfg.MinDepositAmount), ErrAmountTooLow)
	}
	if amount.GreaterThan(decimal.NewFromInt(int64(f.paymentCfg.MaxDepositAmount))) {
		return nil, NewBusinessError("DEPOSIT_AMOUNT_TOO_HIGH", fmt.Sprintf("Maximum deposit is %d", f.paymentCfg.MaxDepositAmount), ErrAmountTooHigh)
	}
	asset := normalizeAsset(req.Asset, f.paymentCfg.DefaultAsset)
	if !utils.IsSupportedAsset(asset) {
		return nil, NewBusinessError("UNSUPPORTED_ASSET", fmt.Sprintf("Asset %s is not supported", asset), ErrInvalidAsset)
	}

	customer, err := f.customerRepo.EnsureByChatID(ctx, req.ChatID, req.Username, req.FirstName, req.LastName)
	if err != nil {
		return nil, NewBusinessError("CUSTOMER_ENSURE_FAILED", "Failed to resolve customer", err)
	}

	payload := invoicePayload{
		CustomerID: customer.ID,
		ChatID:     req.ChatID,
		Purpose:    string(models.InvoicePurposeDeposit),
		Amount:     amount.String(),
		Asset:      asset,
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, NewBusinessError("DEPOSIT_INVOICE_VALIDATION_FAILED", "Failed to encode invoice payload", err)
	}

	description := fmt.Sprintf("Balance top-up for %s", customer.DisplayName())
	prov, err := f.provider.CreateInvoice(ctx, services.CreateInvoiceInput{
		Asset:       asset,
		Amount:      amount,
		Description: description,
		Payload:     string(payloadJSON),
		ExpiresIn:   int(f.paymentCfg.DepositInvoiceTTL.Seconds()),
	})
	if err != nil {
		return nil, NewBusinessError("PROVIDER_CREATE_INVOICE_FAILED", "Failed to create invoice with provider", fmt.Errorf("%w: %w", ErrProviderUnavailable, err))
	}

	expiresAt := utils.UTCNow().Add(f.paymentCfg.DepositInvoiceTTL)
	invoice := &models.Invoice{
		ProviderInvoiceID: prov.InvoiceID,
		CustomerID:        customer.ID,
		Purpose:           models.InvoicePurposeDeposit,
		Amount:            amount,
		Asset:             asset,
		CurrencyType:      "crypto",
		Description:       description,
		BotInvoiceURL:     prov.BotInvoiceURL,
		MiniAppInvoiceURL: prov.MiniAppInvoiceURL,
		ProviderHash:      prov.Hash,
		PayloadData:       payloadJSON,
		Status:            models.InvoiceStatusPending,
		ExpiresAt:         &expiresAt,
	}
	if err := f.invoiceRepo.Save(ctx, invoice); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, NewBusinessError("DUPLICATE_INVOICE", "Invoice is already tracked", ErrDuplicateInvoice)
		}
		// The invoice exists at the provider but not here; delete it so
		// money cannot arrive for an untracked invoice
		if _, delErr := f.provider.DeleteInvoice(ctx, prov.InvoiceID); delErr != nil {
			log.Printf("failed to delete orphaned provider invoice %d: %v", prov.InvoiceID, delErr)
		}
		return nil, NewBusinessError("INVOICE_PERSIST_FAILED", "Failed to persist invoice", err)
	}

	f.logInvoiceEvent(ctx, customer, models.AuditActionInvoiceCreated,
		fmt.Sprintf("Deposit invoice %d created for %s %s", prov.InvoiceID, amount.String(), asset), true, nil, metadata)

	resp := &dto.CreateInvoiceResponse{Invoice: ToInvoiceDTO(*invoice)}
	return resp, nil
}

func (f *InvoiceFlowImpl) CreateOrderPaymentInvoice(ctx context.Context, req *dto.CreateOrderPaymentInvoiceRequest, metadata *ClientMetadata) (*dto.CreateInvoiceResponse, error) {
	if req == nil || req.OrderUUID == "" {
		return nil, NewBusinessError("ORDER_INVOICE_VALIDATION_FAILED", "Order UUID is required", ErrOrderNotFound)
	}
	asset := normalizeAsset(req.Asset, f.paymentCfg.DefaultAsset)
	if !utils.IsSupportedAsset(asset) {
		return nil, NewBusinessError("UNSUPPORTED_ASSET", fmt.Sprintf("Asset %s is not supported", asset), ErrInvalidAsset)
	}

	customer, err := f.customerRepo.ByChatID(ctx, req.ChatID)
	if err != nil {
		return nil, NewBusinessError("CUSTOMER_LOOKUP_FAILED", "Failed to lookup customer", err)
	}
	if customer == nil {
		return nil, NewBusinessError("CUSTOMER_NOT_FOUND", "Customer not found", ErrCustomerNotFound)
	}

	order, err := f.orderRepo.ByUUID(ctx, req.OrderUUID)
	if err != nil {
		return nil, NewBusinessError("ORDER_LOOKUP_FAILED", "Failed to lookup order", err)
	}
	if order == nil {
		return nil, NewBusinessError("ORDER_NOT_FOUND", "Order not found", ErrOrderNotFound)
	}
	if order.CustomerID != customer.ID {
		return nil, NewBusinessError("ORDER_OWNERSHIP_MISMATCH", "Order belongs to another customer", ErrOwnershipMismatch)
	}
	if !order.IsPending() {
		return nil, NewBusinessError("ORDER_NOT_PENDING", "Order is not awaiting payment", ErrOrderNotPending)
	}

	// Reuse an existing payable invoice instead of stacking new ones on
	// the same order
	existing, err := f.invoiceRepo.ByOrderID(ctx, order.ID)
	if err != nil {
		return nil, NewBusinessError("INVOICE_LOOKUP_FAILED", "Failed to lookup order invoice", err)
	}
	if existing != nil && existing.IsPending() && !existing.IsExpired() {
		resp := &dto.CreateInvoiceResponse{Invoice: ToInvoiceDTO(*existing)}
		return resp, nil
	}

	payload := invoicePayload{
		CustomerID: customer.ID,
		ChatID:     req.ChatID,
		Purpose:    string(models.InvoicePurposeOrderPayment),
		Amount:     order.TotalAmount.String(),
		Asset:      asset,
		OrderUUID:  order.UUID.String(),
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, NewBusinessError("ORDER_INVOICE_VALIDATION_FAILED", "Failed to encode invoice payload", err)
	}

	description := fmt.Sprintf("Payment for order %s", order.UUID.String())
	prov, err := f.provider.CreateInvoice(ctx, services.CreateInvoiceInput{
		Asset:       asset,
		Amount:      order.TotalAmount,
		Description: description,
		Payload:     string(payloadJSON),
		ExpiresIn:   int(f.paymentCfg.OrderInvoiceTTL.Seconds()),
	})
	if err != nil {
		return nil, NewBusinessError("PROVIDER_CREATE_INVOICE_FAILED", "Failed to create invoice with provider", fmt.Errorf("%w: %w", ErrProviderUnavailable, err))
	}

	expiresAt := utils.UTCNow().Add(f.paymentCfg.OrderInvoiceTTL)
	invoice := &models.Invoice{
		ProviderInvoiceID: prov.InvoiceID,
		CustomerID:        customer.ID,
		Purpose:           models.InvoicePurposeOrderPayment,
		OrderID:           &order.ID,
		Amount:            order.TotalAmount,
		Asset:             asset,
		CurrencyType:      "crypto",
		Description:       description,
		BotInvoiceURL:     prov.BotInvoiceURL,
		MiniAppInvoiceURL: prov.MiniAppInvoiceURL,
		ProviderHash:      prov.Hash,
		PayloadData:       payloadJSON,
		Status:            models.InvoiceStatusPending,
		ExpiresAt:         &expiresAt,
	}
	if err := f.invoiceRepo.Save(ctx, invoice); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, NewBusinessError("DUPLICATE_INVOICE", "Invoice is already tracked", ErrDuplicateInvoice)
		}
		if _, delErr := f.provider.DeleteInvoice(ctx, prov.InvoiceID); delErr != nil {
			log.Printf("failed to delete orphaned provider invoice %d: %v", prov.InvoiceID, delErr)
		}
		return nil, NewBusinessError("INVOICE_PERSIST_FAILED", "Failed to persist invoice", err)
	}
	invoice.Order = order

	f.logInvoiceEvent(ctx, customer, models.AuditActionInvoiceCreated,
		fmt.Sprintf("Order payment invoice %d created for order %s", prov.InvoiceID, order.UUID.String()), true, nil, metadata)

	resp := &dto.CreateInvoiceResponse{Invoice: ToInvoiceDTO(*invoice)}
	return resp, nil
}

func (f *InvoiceFlowImpl) GetInvoice(ctx context.Context, req *dto.GetInvoiceRequest, metadata *ClientMetadata) (*dto.InvoiceDTO, error) {
	if req == nil || req.ProviderInvoiceID == 0 {
		return nil, NewBusinessError("INVOICE_LOOKUP_VALIDATION_FAILED", "Invoice id is required", ErrInvoiceNotFound)
	}

	_, invoice, err := f.ownedInvoice(ctx, req.ChatID, req.ProviderInvoiceID)
	if err != nil {
		return nil, err
	}

	// A pending invoice may have been paid without the webhook arriving
	// yet; ask the provider and settle it on the spot
	if invoice.IsPending() && f.applier != nil {
		if refreshed := f.refreshFromProvider(ctx, invoice); refreshed != nil {
			invoice = refreshed
		}
	}

	d := ToInvoiceDTO(*invoice)
	return &d, nil
}

// refreshFromProvider checks the provider for a payment this service has
// not observed yet. Returns the re-read invoice after applying, nil when
// nothing changed.
func (f *InvoiceFlowImpl) refreshFromProvider(ctx context.Context, invoice *models.Invoice) *models.Invoice {
	provInvoices, err := f.provider.GetInvoices(ctx, []int64{invoice.ProviderInvoiceID}, "")
	if err != nil {
		log.Printf("provider invoice refresh failed for %d: %v", invoice.ProviderInvoiceID, err)
		return nil
	}
	if len(provInvoices) == 0 || provInvoices[0].Status != services.ProviderInvoiceStatusPaid {
		return nil
	}

	details := PaymentDetailsFromProvider(&provInvoices[0])
	if _, err := f.applier.ApplyPaidInvoice(ctx, invoice.ProviderInvoiceID, details); err != nil {
		log.Printf("applying provider-reported payment failed for %d: %v", invoice.ProviderInvoiceID, err)
		return nil
	}

	refreshed, err := f.invoiceRepo.ByProviderInvoiceID(ctx, invoice.ProviderInvoiceID)
	if err != nil || refreshed == nil {
		return nil
	}
	return refreshed
}

func (f *InvoiceFlowImpl) ListInvoices(ctx context.Context, req *dto.ListInvoicesRequest, metadata *ClientMetadata) (*dto.ListInvoicesResponse, error) {
	if req == nil {
		return nil, NewBusinessError("INVOICE_LIST_VALIDATION_FAILED", "Request is required", ErrCustomerNotFound)
	}

	customer, err := f.customerRepo.ByChatID(ctx, req.ChatID)
	if err != nil {
		return nil, NewBusinessError("CUSTOMER_LOOKUP_FAILED", "Failed to lookup customer", err)
	}
	if customer == nil {
		return nil, NewBusinessError("CUSTOMER_NOT_FOUND", "Customer not found", ErrCustomerNotFound)
	}

	page := req.Page
	if page < 1 {
		page = 1
	}
	pageSize := req.PageSize
	if pageSize < 1 {
		pageSize = 20
	}

	filter := models.InvoiceFilter{CustomerID: &customer.ID}
	if req.Status != nil {
		status := models.InvoiceStatus(*req.Status)
		filter.Status = &status
	}

	invoices, err := f.invoiceRepo.ByFilter(ctx, filter, "created_at DESC", pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, NewBusinessError("INVOICE_LIST_FAILED", "Failed to list invoices", err)
	}
	total, err := f.invoiceRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("INVOICE_LIST_FAILED", "Failed to count invoices", err)
	}

	resp := &dto.ListInvoicesResponse{
		Invoices: make([]dto.InvoiceDTO, 0, len(invoices)),
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}
	for _, invoice := range invoices {
		resp.Invoices = append(resp.Invoices, ToInvoiceDTO(*invoice))
	}
	return resp, nil
}

func (f *InvoiceFlowImpl) CancelInvoice(ctx context.Context, req *dto.CancelInvoiceRequest, metadata *ClientMetadata) (*dto.CancelInvoiceResponse, error) {
	if req == nil || req.ProviderInvoiceID == 0 {
		return nil, NewBusinessError("INVOICE_CANCEL_VALIDATION_FAILED", "Invoice id is required", ErrInvoiceNotFound)
	}

	customer, invoice, err := f.ownedInvoice(ctx, req.ChatID, req.ProviderInvoiceID)
	if err != nil {
		return nil, err
	}

	if !invoice.IsPending() {
		return nil, NewBusinessError("INVOICE_NOT_PENDING", "Only pending invoices can be cancelled", ErrInvoiceNotPending)
	}

	// Delete at the provider first; a payment that lands after deletion
	// is impossible, one that already landed shows up as a lost
	// conditional update below
	if _, err := f.provider.DeleteInvoice(ctx, invoice.ProviderInvoiceID); err != nil {
		return nil, NewBusinessError("PROVIDER_DELETE_INVOICE_FAILED", "Failed to delete invoice with provider", fmt.Errorf("%w: %w", ErrProviderUnavailable, err))
	}

	cancelled, err := f.invoiceRepo.Cancel(ctx, invoice.ProviderInvoiceID)
	if err != nil {
		return nil, NewBusinessError("INVOICE_CANCEL_FAILED", "Failed to cancel invoice", err)
	}
	if !cancelled {
		// A payment or the expiry sweep won the race
		return nil, NewBusinessError("INVOICE_NOT_PENDING", "Invoice is not pending anymore", ErrInvoiceNotPending)
	}

	invoice, err = f.invoiceRepo.ByProviderInvoiceID(ctx, invoice.ProviderInvoiceID)
	if err != nil || invoice == nil {
		return nil, NewBusinessError("INVOICE_LOOKUP_FAILED", "Failed to reload invoice", err)
	}

	f.logInvoiceEvent(ctx, customer, models.AuditActionInvoiceCancelled,
		fmt.Sprintf("Invoice %d cancelled", invoice.ProviderInvoiceID), true, nil, metadata)

	resp := &dto.CancelInvoiceResponse{
		Invoice: ToInvoiceDTO(*invoice),
		Message: "Invoice cancelled",
	}
	return resp, nil
}

// ownedInvoice loads an invoice and verifies it belongs to the chat's customer
func (f *InvoiceFlowImpl) ownedInvoice(ctx context.Context, chatID, providerInvoiceID int64) (*models.Customer, *models.Invoice, error) {
	customer, err := f.customerRepo.ByChatID(ctx, chatID)
	if err != nil {
		return nil, nil, NewBusinessError("CUSTOMER_LOOKUP_FAILED", "Failed to lookup customer", err)
	}
	if customer == nil {
		return nil, nil, NewBusinessError("CUSTOMER_NOT_FOUND", "Customer not found", ErrCustomerNotFound)
	}

	invoice, err := f.invoiceRepo.ByProviderInvoiceID(ctx, providerInvoiceID)
	if err != nil {
		return nil, nil, NewBusinessError("INVOICE_LOOKUP_FAILED", "Failed to lookup invoice", err)
	}
	if invoice == nil {
		return nil, nil, NewBusinessError("INVOICE_NOT_FOUND", "Invoice not found", ErrInvoiceNotFound)
	}
	if invoice.CustomerID != customer.ID {
		return nil, nil, NewBusinessError("INVOICE_OWNERSHIP_MISMATCH", "Invoice belongs to another customer", ErrOwnershipMismatch)
	}
	return customer, invoice, nil
}

func (f *InvoiceFlowImpl) logInvoiceEvent(ctx context.Context, customer *models.Customer, action, description string, success bool, errMsg *string, metadata *ClientMetadata) {
	if err := logAuditEvent(ctx, f.auditRepo, customer, action, description, success, errMsg, metadata); err != nil {
		log.Printf("failed to record audit event %s: %v", action, err)
	}
}
