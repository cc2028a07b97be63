package businessflow

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"github.com/amirphl/Kusanagi/app/dto"
	"github.com/amirphl/Kusanagi/models"
	"github.com/amirphl/Kusanagi/repository"
	"github.com/amirphl/Kusanagi/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CheckoutFlow defines order creation and fulfillment operations
type CheckoutFlow interface {
	CreateOrderFromCart(ctx context.Context, req *dto.CheckoutRequest, metadata *ClientMetadata) (*dto.CheckoutResponse, error)
	GetOrder(ctx context.Context, req *dto.GetOrderRequest, metadata *ClientMetadata) (*dto.OrderDTO, error)
	RefundOrder(ctx context.Context, req *dto.RefundOrderRequest, metadata *ClientMetadata) (*dto.RefundOrderResponse, error)
	// ApplyPayment settles a pending order against a paid provider
	// invoice. Callers run it inside their own transaction; it never
	// touches the balance.
	ApplyPayment(ctx context.Context, orderID, customerID uint, providerInvoiceID int64, details models.PaymentDetails) (*models.Order, error)
}

// cartLine is a resolved cart entry priced at checkout time
type cartLine struct {
	product  *models.Product
	quantity int
}

// CheckoutFlowImpl implements CheckoutFlow
type CheckoutFlowImpl struct {
	orderRepo     repository.OrderRepository
	productRepo   repository.ProductRepository
	customerRepo  repository.CustomerRepository
	balanceRepo   repository.BalanceAccountRepository
	balanceTxRepo repository.BalanceTransactionRepository
	auditRepo     repository.AuditLogRepository
	db            *gorm.DB
}

func NewCheckoutFlow(
	orderRepo repository.OrderRepository,
	productRepo repository.ProductRepository,
	customerRepo repository.CustomerRepository,
	balanceRepo repository.BalanceAccountRepository,
	balanceTxRepo repository.BalanceTransactionRepository,
	auditRepo repository.AuditLogRepository,
	db *gorm.DB,
) CheckoutFlow {
	return &CheckoutFlowImpl{
		orderRepo:     orderRepo,
		productRepo:   productRepo,
		customerRepo:  customerRepo,
		balanceRepo:   balanceRepo,
		balanceTxRepo: balanceTxRepo,
		auditRepo:     auditRepo,
		db:            db,
	}
}

func (f *CheckoutFlowImpl) CreateOrderFromCart(ctx context.Context, req *dto.CheckoutRequest, metadata *ClientMetadata) (*dto.CheckoutResponse, error) {
	if req == nil || len(req.Items) == 0 {
		return nil, NewBusinessError("CHECKOUT_VALIDATION_FAILED", "Cart is empty", ErrEmptyCart)
	}

	customer, err := f.customerRepo.ByChatID(ctx, req.ChatID)
	if err != nil {
		return nil, NewBusinessError("CUSTOMER_LOOKUP_FAILED", "Failed to lookup customer", err)
	}
	if customer == nil {
		return nil, NewBusinessError("CUSTOMER_NOT_FOUND", "Customer not found", ErrCustomerNotFound)
	}

	lines, total, err := f.priceCart(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	switch req.PaymentMethod {
	case models.PaymentMethodBalance:
		return f.checkoutWithBalance(ctx, customer, lines, total, req, metadata)
	case "crypto":
		return f.checkoutPendingCrypto(ctx, customer, lines, total, req, metadata)
	default:
		return nil, NewBusinessError("CHECKOUT_VALIDATION_FAILED", "Unknown payment method", ErrMalformedPayload)
	}
}

// priceCart resolves product references and totals the cart at current prices
func (f *CheckoutFlowImpl) priceCart(ctx context.Context, items []dto.CheckoutItem) ([]cartLine, decimal.Decimal, error) {
	lines := make([]cartLine, 0, len(items))
	total := decimal.Zero
	for _, item := range items {
		if item.Quantity < 1 {
			return nil, decimal.Zero, NewBusinessError("CHECKOUT_VALIDATION_FAILED", "Quantity must be at least 1", ErrInvalidQuantity)
		}
		product, err := f.productRepo.ByUUID(ctx, item.ProductUUID)
		if err != nil {
			return nil, decimal.Zero, NewBusinessError("PRODUCT_LOOKUP_FAILED", "Failed to lookup product", err)
		}
		if product == nil {
			return nil, decimal.Zero, NewBusinessError("PRODUCT_NOT_FOUND", fmt.Sprintf("Product %s not found", item.ProductUUID), ErrProductNotFound)
		}
		if !product.IsPurchasable() {
			return nil, decimal.Zero, NewBusinessError("PRODUCT_NOT_AVAILABLE", fmt.Sprintf("Product %s is not available", product.Name), ErrProductInactive)
		}
		if !product.InStock(item.Quantity) {
			return nil, decimal.Zero, NewBusinessError("OUT_OF_STOCK", fmt.Sprintf("Not enough stock for %s", product.Name), ErrOutOfStock)
		}
		lines = append(lines, cartLine{product: product, quantity: item.Quantity})
		total = total.Add(product.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	if !total.IsPositive() {
		return nil, decimal.Zero, NewBusinessError("CHECKOUT_VALIDATION_FAILED", "Cart total must be positive", ErrInvalidAmount)
	}
	return lines, total, nil
}

// checkoutWithBalance settles the order immediately from the customer's
// balance. The steps are sequential conditional updates with explicit
// compensation instead of one long transaction: each step is atomic on
// its own row and a later failure undoes the earlier steps.
func (f *CheckoutFlowImpl) checkoutWithBalance(ctx context.Context, customer *models.Customer, lines []cartLine, total decimal.Decimal, req *dto.CheckoutRequest, metadata *ClientMetadata) (*dto.CheckoutResponse, error) {
	newBalance, ok, err := f.balanceRepo.Debit(ctx, customer.ID, total)
	if err != nil {
		return nil, NewBusinessError("CHECKOUT_DEBIT_FAILED", "Failed to debit balance", err)
	}
	if !ok {
		f.logCheckoutEvent(ctx, customer, models.AuditActionCheckoutFailed,
			fmt.Sprintf("Checkout rejected: balance below %s", total.String()), false, utils.ToPtr("insufficient funds"), metadata)
		return nil, NewBusinessError("INSUFFICIENT_FUNDS", "Balance does not cover the cart", ErrInsufficientFunds)
	}

	decremented := make([]cartLine, 0, len(lines))
	for _, line := range lines {
		ok, err := f.productRepo.DecrementStock(ctx, line.product.ID, line.quantity)
		if err != nil {
			f.compensate(ctx, customer, decremented, total, "stock reservation failed", metadata)
			return nil, NewBusinessError("CHECKOUT_STOCK_FAILED", "Failed to reserve stock", err)
		}
		if !ok {
			f.compensate(ctx, customer, decremented, total, "stock ran out mid-checkout", metadata)
			return nil, NewBusinessError("OUT_OF_STOCK", fmt.Sprintf("Not enough stock for %s", line.product.Name), ErrOutOfStock)
		}
		decremented = append(decremented, line)
	}

	now := utils.UTCNow()
	order := &models.Order{
		CustomerID:      customer.ID,
		Status:          models.OrderStatusPaid,
		TotalAmount:     total,
		PaymentMethod:   models.PaymentMethodBalance,
		DeliveryAddress: req.DeliveryAddress,
		Comment:         req.Comment,
		PaidAt:          &now,
		Items:           orderItems(lines),
	}
	if err := f.orderRepo.Save(ctx, order); err != nil {
		f.compensate(ctx, customer, decremented, total, "order insert failed", metadata)
		return nil, NewBusinessError("ORDER_PERSIST_FAILED", "Failed to persist order", err)
	}

	f.recordBalanceTx(ctx, customer.ID, models.BalanceTransactionTypeCheckoutDebit, total,
		newBalance.Add(total), newBalance, order.UUID.String(),
		fmt.Sprintf("Checkout of order %s", order.UUID.String()))

	f.logCheckoutEvent(ctx, customer, models.AuditActionOrderCreated,
		fmt.Sprintf("Order %s created and paid from balance (%s)", order.UUID.String(), total.String()), true, nil, metadata)
	f.logCheckoutEvent(ctx, customer, models.AuditActionOrderPaid,
		fmt.Sprintf("Order %s paid from balance", order.UUID.String()), true, nil, metadata)

	balance := newBalance.String()
	resp := &dto.CheckoutResponse{Order: ToOrderDTO(*order), Balance: &balance}
	return resp, nil
}

// checkoutPendingCrypto inserts a pending order awaiting an invoice
// payment. No money moves here; the reconciler settles the order when
// the provider reports its invoice paid.
func (f *CheckoutFlowImpl) checkoutPendingCrypto(ctx context.Context, customer *models.Customer, lines []cartLine, total decimal.Decimal, req *dto.CheckoutRequest, metadata *ClientMetadata) (*dto.CheckoutResponse, error) {
	order := &models.Order{
		CustomerID:      customer.ID,
		Status:          models.OrderStatusPending,
		TotalAmount:     total,
		DeliveryAddress: req.DeliveryAddress,
		Comment:         req.Comment,
		Items:           orderItems(lines),
	}
	if err := f.orderRepo.Save(ctx, order); err != nil {
		return nil, NewBusinessError("ORDER_PERSIST_FAILED", "Failed to persist order", err)
	}

	f.logCheckoutEvent(ctx, customer, models.AuditActionOrderCreated,
		fmt.Sprintf("Order %s created, awaiting crypto payment (%s)", order.UUID.String(), total.String()), true, nil, metadata)

	resp := &dto.CheckoutResponse{Order: ToOrderDTO(*order)}
	return resp, nil
}

func orderItems(lines []cartLine) []models.OrderItem {
	items := make([]models.OrderItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, models.OrderItem{
			ProductID: line.product.ID,
			Quantity:  line.quantity,
			UnitPrice: line.product.Price,
			Product:   *line.product,
		})
	}
	return items
}

// compensate undoes a partially completed balance checkout: restores
// every decremented stock row and credits the debit back
func (f *CheckoutFlowImpl) compensate(ctx context.Context, customer *models.Customer, decremented []cartLine, total decimal.Decimal, reason string, metadata *ClientMetadata) {
	for _, line := range decremented {
		if err := f.productRepo.RestoreStock(ctx, line.product.ID, line.quantity); err != nil {
			log.Printf("compensation failed to restore %d units of product %d: %v", line.quantity, line.product.ID, err)
		}
	}
	newBalance, err := f.balanceRepo.Credit(ctx, customer.ID, total)
	if err != nil {
		log.Printf("compensation failed to credit %s back to customer %d: %v", total.String(), customer.ID, err)
		return
	}
	f.recordBalanceTx(ctx, customer.ID, models.BalanceTransactionTypeCheckoutRefund, total,
		newBalance.Sub(total), newBalance, "",
		fmt.Sprintf("Checkout compensation: %s", reason))
	f.logCheckoutEvent(ctx, customer, models.AuditActionCheckoutFailed,
		fmt.Sprintf("Checkout compensated (%s), %s returned to balance", reason, total.String()), false, utils.ToPtr(reason), metadata)
}

func (f *CheckoutFlowImpl) GetOrder(ctx context.Context, req *dto.GetOrderRequest, metadata *ClientMetadata) (*dto.OrderDTO, error) {
	if req == nil || req.OrderUUID == "" {
		return nil, NewBusinessError("ORDER_LOOKUP_VALIDATION_FAILED", "Order UUID is required", ErrOrderNotFound)
	}

	_, order, err := f.ownedOrder(ctx, req.ChatID, req.OrderUUID)
	if err != nil {
		return nil, err
	}

	d := ToOrderDTO(*order)
	return &d, nil
}

func (f *CheckoutFlowImpl) RefundOrder(ctx context.Context, req *dto.RefundOrderRequest, metadata *ClientMetadata) (*dto.RefundOrderResponse, error) {
	if req == nil || req.OrderUUID == "" {
		return nil, NewBusinessError("REFUND_VALIDATION_FAILED", "Order UUID is required", ErrOrderNotFound)
	}

	customer, order, err := f.ownedOrder(ctx, req.ChatID, req.OrderUUID)
	if err != nil {
		return nil, err
	}
	if !order.CanBeRefunded() {
		return nil, NewBusinessError("ORDER_NOT_REFUNDABLE", "Order holds no refundable payment", ErrOrderNotRefundable)
	}

	now := utils.UTCNow()
	refunded, err := f.orderRepo.MarkRefunded(ctx, order.ID, now)
	if err != nil {
		return nil, NewBusinessError("REFUND_FAILED", "Failed to refund order", err)
	}
	if !refunded {
		// A concurrent refund or status change won
		return nil, NewBusinessError("ORDER_NOT_REFUNDABLE", "Order holds no refundable payment anymore", ErrOrderNotRefundable)
	}

	items, err := f.orderRepo.ListItems(ctx, order.ID)
	if err != nil {
		log.Printf("refund of order %s could not list items for stock restore: %v", order.UUID.String(), err)
	}
	for _, item := range items {
		if err := f.productRepo.RestoreStock(ctx, item.ProductID, item.Quantity); err != nil {
			log.Printf("refund of order %s could not restore %d units of product %d: %v", order.UUID.String(), item.Quantity, item.ProductID, err)
		}
	}

	newBalance, err := f.balanceRepo.Credit(ctx, customer.ID, order.TotalAmount)
	if err != nil {
		return nil, NewBusinessError("REFUND_CREDIT_FAILED", "Order refunded but balance credit failed", err)
	}
	f.recordBalanceTx(ctx, customer.ID, models.BalanceTransactionTypeOrderRefund, order.TotalAmount,
		newBalance.Sub(order.TotalAmount), newBalance, order.UUID.String(),
		fmt.Sprintf("Refund of order %s", order.UUID.String()))

	f.logCheckoutEvent(ctx, customer, models.AuditActionOrderRefunded,
		fmt.Sprintf("Order %s refunded, %s returned to balance", order.UUID.String(), order.TotalAmount.String()), true, nil, metadata)

	order, err = f.orderRepo.ByUUID(ctx, req.OrderUUID)
	if err != nil || order == nil {
		return nil, NewBusinessError("ORDER_LOOKUP_FAILED", "Failed to reload order", err)
	}

	resp := &dto.RefundOrderResponse{
		Order:   ToOrderDTO(*order),
		Balance: newBalance.String(),
	}
	return resp, nil
}

func (f *CheckoutFlowImpl) ApplyPayment(ctx context.Context, orderID, customerID uint, providerInvoiceID int64, details models.PaymentDetails) (*models.Order, error) {
	order, err := f.orderRepo.ByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if order.CustomerID != customerID {
		return nil, ErrOwnershipMismatch
	}

	ref := strconv.FormatInt(providerInvoiceID, 10)
	if settled, err := classifySettledOrder(order, ref); settled != nil || err != nil {
		return settled, err
	}

	paymentMethod := models.CryptoPaymentMethod(details.PaidAsset)
	marked, err := f.orderRepo.MarkPaid(ctx, order.ID, paymentMethod, &ref, details.PaidAt)
	if err != nil {
		return nil, err
	}
	if !marked {
		// Lost a race; the re-read tells which way it went
		order, err = f.orderRepo.ByID(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if order == nil {
			return nil, ErrOrderNotFound
		}
		if settled, err := classifySettledOrder(order, ref); settled != nil || err != nil {
			return settled, err
		}
		return nil, ErrAlreadyFulfilled
	}

	order, err = f.orderRepo.ByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// classifySettledOrder tells a redelivery apart from a genuine conflict.
// Returns the order when the same invoice already paid it, an error when
// a different reference or status holds it, and nothing when it is still
// payable.
func classifySettledOrder(order *models.Order, ref string) (*models.Order, error) {
	if order.IsPending() {
		return nil, nil
	}
	if order.IsPaid() && order.PaymentRef != nil && *order.PaymentRef == ref {
		return order, nil
	}
	return nil, ErrAlreadyFulfilled
}

func (f *CheckoutFlowImpl) ownedOrder(ctx context.Context, chatID int64, orderUUID string) (*models.Customer, *models.Order, error) {
	customer, err := f.customerRepo.ByChatID(ctx, chatID)
	if err != nil {
		return nil, nil, NewBusinessError("CUSTOMER_LOOKUP_FAILED", "Failed to lookup customer", err)
	}
	if customer == nil {
		return nil, nil, NewBusinessError("CUSTOMER_NOT_FOUND", "Customer not found", ErrCustomerNotFound)
	}

	order, err := f.orderRepo.ByUUID(ctx, orderUUID)
	if err != nil {
		return nil, nil, NewBusinessError("ORDER_LOOKUP_FAILED", "Failed to lookup order", err)
	}
	if order == nil {
		return nil, nil, NewBusinessError("ORDER_NOT_FOUND", "Order not found", ErrOrderNotFound)
	}
	if order.CustomerID != customer.ID {
		return nil, nil, NewBusinessError("ORDER_OWNERSHIP_MISMATCH", "Order belongs to another customer", ErrOwnershipMismatch)
	}
	return customer, order, nil
}

func (f *CheckoutFlowImpl) recordBalanceTx(ctx context.Context, customerID uint, txType models.BalanceTransactionType, amount, before, after decimal.Decimal, reference, description string) {
	tx := &models.BalanceTransaction{
		CustomerID:    customerID,
		Type:          txType,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Reference:     reference,
		Description:   description,
	}
	if err := f.balanceTxRepo.Save(ctx, tx); err != nil {
		log.Printf("failed to record %s balance transaction for customer %d: %v", txType, customerID, err)
	}
}

func (f *CheckoutFlowImpl) logCheckoutEvent(ctx context.Context, customer *models.Customer, action, description string, success bool, errMsg *string, metadata *ClientMetadata) {
	if err := logAuditEvent(ctx, f.auditRepo, customer, action, description, success, errMsg, metadata); err != nil {
		log.Printf("failed to record audit event %s: %v", action, err)
	}
}
