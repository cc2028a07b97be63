// Package testing provides test utilities and database setup for testing the payment service
package testing

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/amirphl/Kusanagi/models"
	"github.com/amirphl/Kusanagi/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// CreateTestBot creates an active bot account with the given plaintext password
func (tf *TestFixtures) CreateTestBot(password string) (*models.Bot, error) {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	bot := &models.Bot{
		UUID:         uuid.New(),
		Username:     fmt.Sprintf("test-bot-%d", rand.Intn(10000000)),
		PasswordHash: string(hashedPassword),
		IsActive:     utils.ToPtr(true),
		CreatedAt:    utils.UTCNow(),
		UpdatedAt:    utils.UTCNow(),
	}

	if err := tf.DB.DB.Create(bot).Error; err != nil {
		return nil, fmt.Errorf("failed to create test bot: %w", err)
	}

	return bot, nil
}

// CreateTestCustomer creates an active customer with a unique chat id
func (tf *TestFixtures) CreateTestCustomer() (*models.Customer, error) {
	username := fmt.Sprintf("shopper%d", rand.Intn(10000000))

	customer := &models.Customer{
		ChatID:    rand.Int63n(900000000) + 100000000,
		Username:  &username,
		FirstName: utils.ToPtr("Test"),
		LastName:  utils.ToPtr("Customer"),
		IsActive:  utils.ToPtr(true),
	}

	if err := tf.DB.DB.Create(customer).Error; err != nil {
		return nil, fmt.Errorf("failed to create test customer: %w", err)
	}

	return customer, nil
}

// CreateTestProduct creates an active product with the given price and stock
func (tf *TestFixtures) CreateTestProduct(name string, price decimal.Decimal, stock int) (*models.Product, error) {
	product := &models.Product{
		Name:        name,
		Description: fmt.Sprintf("Test product %s", name),
		Price:       price,
		Stock:       stock,
		IsActive:    utils.ToPtr(true),
	}

	if err := tf.DB.DB.Create(product).Error; err != nil {
		return nil, fmt.Errorf("failed to create test product: %w", err)
	}

	return product, nil
}

// CreateTestBalanceAccount creates a balance account holding the given amount
func (tf *TestFixtures) CreateTestBalanceAccount(customerID uint, balance decimal.Decimal) (*models.BalanceAccount, error) {
	account := &models.BalanceAccount{
		CustomerID: customerID,
		Balance:    balance,
	}

	if err := tf.DB.DB.Create(account).Error; err != nil {
		return nil, fmt.Errorf("failed to create test balance account: %w", err)
	}

	return account, nil
}

// CreateTestDepositInvoice creates a pending deposit invoice that expires in one hour
func (tf *TestFixtures) CreateTestDepositInvoice(customerID uint, providerInvoiceID int64, amount decimal.Decimal) (*models.Invoice, error) {
	invoice := &models.Invoice{
		ProviderInvoiceID: providerInvoiceID,
		CustomerID:        customerID,
		Purpose:           models.InvoicePurposeDeposit,
		Amount:            amount,
		Asset:             utils.DefaultAsset,
		CurrencyType:      "crypto",
		Description:       "Test deposit",
		Status:            models.InvoiceStatusPending,
		ExpiresAt:         utils.ToPtr(utils.UTCNow().Add(time.Hour)),
	}

	if err := tf.DB.DB.Create(invoice).Error; err != nil {
		return nil, fmt.Errorf("failed to create test deposit invoice: %w", err)
	}

	return invoice, nil
}

// CreateTestOrderPaymentInvoice creates a pending order_payment invoice bound to the given order
func (tf *TestFixtures) CreateTestOrderPaymentInvoice(customerID, orderID uint, providerInvoiceID int64, amount decimal.Decimal) (*models.Invoice, error) {
	invoice := &models.Invoice{
		ProviderInvoiceID: providerInvoiceID,
		CustomerID:        customerID,
		Purpose:           models.InvoicePurposeOrderPayment,
		OrderID:           &orderID,
		Amount:            amount,
		Asset:             utils.DefaultAsset,
		CurrencyType:      "crypto",
		Description:       "Test order payment",
		Status:            models.InvoiceStatusPending,
		ExpiresAt:         utils.ToPtr(utils.UTCNow().Add(30 * time.Minute)),
	}

	if err := tf.DB.DB.Create(invoice).Error; err != nil {
		return nil, fmt.Errorf("failed to create test order payment invoice: %w", err)
	}

	return invoice, nil
}

// CreateTestOrder creates an order in the given status without items
func (tf *TestFixtures) CreateTestOrder(customerID uint, status models.OrderStatus, total decimal.Decimal) (*models.Order, error) {
	order := &models.Order{
		CustomerID:    customerID,
		Status:        status,
		TotalAmount:   total,
		PaymentMethod: models.CryptoPaymentMethod(utils.DefaultAsset),
	}

	if err := tf.DB.DB.Create(order).Error; err != nil {
		return nil, fmt.Errorf("failed to create test order: %w", err)
	}

	return order, nil
}

// CreateTestDepositEntry creates a settled ledger entry for the given invoice id
func (tf *TestFixtures) CreateTestDepositEntry(customerID uint, providerInvoiceID int64, amount decimal.Decimal) (*models.DepositEntry, error) {
	entry := &models.DepositEntry{
		ProviderInvoiceID: providerInvoiceID,
		CustomerID:        customerID,
		Amount:            amount,
		Asset:             utils.DefaultAsset,
		RequestedAmount:   amount,
		RequestedAsset:    utils.DefaultAsset,
		IsSwapped:         utils.ToPtr(false),
		DepositedAt:       utils.UTCNow(),
	}

	if err := tf.DB.DB.Create(entry).Error; err != nil {
		return nil, fmt.Errorf("failed to create test deposit entry: %w", err)
	}

	return entry, nil
}

// CreateTestAuditLog creates a test audit log entry
func (tf *TestFixtures) CreateTestAuditLog(customerID *uint, action string, success bool) (*models.AuditLog, error) {
	description := fmt.Sprintf("Test %s action", action)
	ipAddress := "127.0.0.1"
	userAgent := "Test User Agent"

	audit := &models.AuditLog{
		CustomerID:  customerID,
		Action:      action,
		Description: &description,
		Success:     &success,
		IPAddress:   &ipAddress,
		UserAgent:   &userAgent,
	}

	if !success {
		errorMessage := "Test failed action"
		audit.ErrorMessage = &errorMessage
	}

	if err := tf.DB.DB.Create(audit).Error; err != nil {
		return nil, fmt.Errorf("failed to create test audit log: %w", err)
	}

	return audit, nil
}
