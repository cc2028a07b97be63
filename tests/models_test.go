// Package tests contains test cases for models and repository packages to avoid circular imports
package tests

import (
	"testing"
	"time"

	"github.com/amirphl/Kusanagi/models"
	testingutil "github.com/amirphl/Kusanagi/testing"
	"github.com/amirphl/Kusanagi/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

func TestBotModel(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)

		t.Run("CreateBot", func(t *testing.T) {
			bot, err := fixtures.CreateTestBot("TestPass123!")
			require.NoError(t, err)
			assert.NotZero(t, bot.ID)
			assert.NotEqual(t, uuid.Nil, bot.UUID)
			assert.True(t, utils.IsTrue(bot.IsActive))
		})

		t.Run("TableName", func(t *testing.T) {
			bot := &models.Bot{}
			assert.Equal(t, "bots", bot.TableName())
		})

		t.Run("PasswordHashing", func(t *testing.T) {
			bot, err := fixtures.CreateTestBot("TestPass123!")
			require.NoError(t, err)

			assert.NotEmpty(t, bot.PasswordHash)
			assert.NotEqual(t, "TestPass123!", bot.PasswordHash)

			err = bcrypt.CompareHashAndPassword([]byte(bot.PasswordHash), []byte("TestPass123!"))
			assert.NoError(t, err)
		})

		t.Run("UniqueUsername", func(t *testing.T) {
			bot, err := fixtures.CreateTestBot("TestPass123!")
			require.NoError(t, err)

			duplicate := &models.Bot{
				UUID:         uuid.New(),
				Username:     bot.Username,
				PasswordHash: bot.PasswordHash,
				IsActive:     utils.ToPtr(true),
			}
			err = testDB.DB.Create(duplicate).Error
			require.Error(t, err)
			assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
		})

		return nil
	})
	require.NoError(t, err)
}

func TestCustomerModel(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)

		t.Run("CreateCustomer", func(t *testing.T) {
			customer, err := fixtures.CreateTestCustomer()
			require.NoError(t, err)
			assert.NotZero(t, customer.ID)
			assert.NotEqual(t, uuid.Nil, customer.UUID)
			assert.NotZero(t, customer.ChatID)
			assert.True(t, utils.IsTrue(customer.IsActive))
		})

		t.Run("UniqueChatID", func(t *testing.T) {
			customer, err := fixtures.CreateTestCustomer()
			require.NoError(t, err)

			duplicate := &models.Customer{ChatID: customer.ChatID}
			err = testDB.DB.Create(duplicate).Error
			require.Error(t, err)
			assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
		})

		t.Run("DisplayNamePrefersUsername", func(t *testing.T) {
			customer := &models.Customer{
				Username:  utils.ToPtr("alice"),
				FirstName: utils.ToPtr("Alice"),
				LastName:  utils.ToPtr("Smith"),
			}
			assert.Equal(t, "@alice", customer.DisplayName())
		})

		t.Run("DisplayNameFallsBackToNames", func(t *testing.T) {
			customer := &models.Customer{
				FirstName: utils.ToPtr("Alice"),
				LastName:  utils.ToPtr("Smith"),
			}
			assert.Equal(t, "Alice Smith", customer.DisplayName())

			customer.LastName = nil
			assert.Equal(t, "Alice", customer.DisplayName())
		})

		return nil
	})
	require.NoError(t, err)
}

func TestProductModel(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)

		t.Run("CreateProduct", func(t *testing.T) {
			product, err := fixtures.CreateTestProduct("Widget", decimal.RequireFromString("9.95"), 10)
			require.NoError(t, err)
			assert.NotZero(t, product.ID)
			assert.NotEqual(t, uuid.Nil, product.UUID)
			assert.Equal(t, "9.95", product.Price.String())
		})

		t.Run("InStock", func(t *testing.T) {
			product := &models.Product{Stock: 3}
			assert.True(t, product.InStock(3))
			assert.False(t, product.InStock(4))
		})

		t.Run("IsPurchasable", func(t *testing.T) {
			product := &models.Product{Stock: 1, IsActive: utils.ToPtr(true)}
			assert.True(t, product.IsPurchasable())

			product.Stock = 0
			assert.False(t, product.IsPurchasable())

			product.Stock = 1
			product.IsActive = utils.ToPtr(false)
			assert.False(t, product.IsPurchasable())
		})

		return nil
	})
	require.NoError(t, err)
}

func TestOrderModel(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)

		t.Run("CreateOrder", func(t *testing.T) {
			customer, err := fixtures.CreateTestCustomer()
			require.NoError(t, err)

			order, err := fixtures.CreateTestOrder(customer.ID, models.OrderStatusPending, decimal.NewFromInt(25))
			require.NoError(t, err)
			assert.NotZero(t, order.ID)
			assert.NotEqual(t, uuid.Nil, order.UUID)
			assert.NotEqual(t, uuid.Nil, order.CorrelationID)
		})

		t.Run("StatusHelpers", func(t *testing.T) {
			order := &models.Order{Status: models.OrderStatusPending}
			assert.True(t, order.IsPending())
			assert.False(t, order.IsPaid())
			assert.False(t, order.IsFinal())
			assert.False(t, order.CanBeRefunded())

			// Settled money survives into the fulfillment states
			for _, status := range []models.OrderStatus{
				models.OrderStatusPaid,
				models.OrderStatusProcessing,
				models.OrderStatusShipped,
			} {
				order.Status = status
				assert.True(t, order.IsPaid(), "status %s", status)
				assert.True(t, order.CanBeRefunded(), "status %s", status)
			}

			order.Status = models.OrderStatusDelivered
			assert.True(t, order.IsPaid())
			assert.False(t, order.CanBeRefunded())
			assert.True(t, order.IsFinal())

			order.Status = models.OrderStatusRefunded
			assert.False(t, order.IsPaid())
			assert.True(t, order.IsFinal())
		})

		t.Run("PaymentMethodHelpers", func(t *testing.T) {
			order := &models.Order{PaymentMethod: models.PaymentMethodBalance}
			assert.True(t, order.PaidWithBalance())
			assert.False(t, order.PaidWithCrypto())

			order.PaymentMethod = models.CryptoPaymentMethod("USDT")
			assert.Equal(t, "crypto_USDT", order.PaymentMethod)
			assert.False(t, order.PaidWithBalance())
			assert.True(t, order.PaidWithCrypto())
		})

		t.Run("ItemSubtotal", func(t *testing.T) {
			item := &models.OrderItem{Quantity: 3, UnitPrice: decimal.RequireFromString("4.50")}
			assert.Equal(t, "13.5", item.Subtotal().String())
		})

		return nil
	})
	require.NoError(t, err)
}

func TestInvoiceModel(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)

		t.Run("CreateInvoice", func(t *testing.T) {
			customer, err := fixtures.CreateTestCustomer()
			require.NoError(t, err)

			invoice, err := fixtures.CreateTestDepositInvoice(customer.ID, 5001, decimal.NewFromInt(10))
			require.NoError(t, err)
			assert.NotZero(t, invoice.ID)
			assert.NotEqual(t, uuid.Nil, invoice.UUID)
			assert.True(t, invoice.IsPending())
			assert.False(t, invoice.IsFinal())
		})

		t.Run("UniqueProviderInvoiceID", func(t *testing.T) {
			customer, err := fixtures.CreateTestCustomer()
			require.NoError(t, err)

			_, err = fixtures.CreateTestDepositInvoice(customer.ID, 5002, decimal.NewFromInt(10))
			require.NoError(t, err)

			_, err = fixtures.CreateTestDepositInvoice(customer.ID, 5002, decimal.NewFromInt(20))
			require.Error(t, err)
			assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
		})

		t.Run("IsExpired", func(t *testing.T) {
			invoice := &models.Invoice{}
			assert.False(t, invoice.IsExpired())

			invoice.ExpiresAt = utils.ToPtr(utils.UTCNow().Add(time.Hour))
			assert.False(t, invoice.IsExpired())

			invoice.ExpiresAt = utils.ToPtr(utils.UTCNow().Add(-time.Minute))
			assert.True(t, invoice.IsExpired())
		})

		t.Run("SettledAmount", func(t *testing.T) {
			invoice := &models.Invoice{
				Amount: decimal.NewFromInt(10),
				Asset:  "USDT",
			}

			// Unpaid falls back to the requested amount
			amount, asset := invoice.SettledAmount()
			assert.Equal(t, "10", amount.String())
			assert.Equal(t, "USDT", asset)

			invoice.PaidAmount = utils.ToPtr(decimal.RequireFromString("9.99"))
			invoice.PaidAsset = utils.ToPtr("TON")
			amount, asset = invoice.SettledAmount()
			assert.Equal(t, "9.99", amount.String())
			assert.Equal(t, "TON", asset)

			// Swapped payments settle in the swap target
			invoice.IsSwapped = utils.ToPtr(true)
			invoice.SwappedTo = utils.ToPtr("USDT")
			invoice.SwappedAmount = utils.ToPtr(decimal.RequireFromString("9.50"))
			amount, asset = invoice.SettledAmount()
			assert.Equal(t, "9.5", amount.String())
			assert.Equal(t, "USDT", asset)
		})

		t.Run("SamePayment", func(t *testing.T) {
			invoice := &models.Invoice{
				PaidAmount: utils.ToPtr(decimal.RequireFromString("9.99")),
				PaidAsset:  utils.ToPtr("USDT"),
			}
			details := models.PaymentDetails{
				PaidAmount: decimal.RequireFromString("9.99"),
				PaidAsset:  "USDT",
			}
			assert.True(t, invoice.SamePayment(details))

			details.PaidAmount = decimal.RequireFromString("5.00")
			assert.False(t, invoice.SamePayment(details))

			details.PaidAmount = decimal.RequireFromString("9.99")
			details.PaidAsset = "TON"
			assert.False(t, invoice.SamePayment(details))

			details.PaidAsset = "USDT"
			details.IsSwapped = true
			assert.False(t, invoice.SamePayment(details))

			// Nothing recorded yet never matches
			empty := &models.Invoice{}
			assert.False(t, empty.SamePayment(details))
		})

		t.Run("RecordedPaymentDetails", func(t *testing.T) {
			paidAt := utils.UTCNow()
			invoice := &models.Invoice{
				Amount:     decimal.NewFromInt(10),
				Asset:      "USDT",
				PaidAmount: utils.ToPtr(decimal.RequireFromString("9.99")),
				PaidAsset:  utils.ToPtr("TON"),
				IsSwapped:  utils.ToPtr(true),
				SwappedTo:  utils.ToPtr("USDT"),
				PaidAt:     &paidAt,
			}

			details := invoice.RecordedPaymentDetails()
			assert.Equal(t, "9.99", details.PaidAmount.String())
			assert.Equal(t, "TON", details.PaidAsset)
			assert.True(t, details.IsSwapped)
			assert.Equal(t, paidAt, details.PaidAt)
			assert.True(t, invoice.SamePayment(details))
		})

		return nil
	})
	require.NoError(t, err)
}

func TestDepositModels(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)

		t.Run("UniqueProviderInvoiceID", func(t *testing.T) {
			customer, err := fixtures.CreateTestCustomer()
			require.NoError(t, err)

			_, err = fixtures.CreateTestDepositEntry(customer.ID, 6001, decimal.NewFromInt(10))
			require.NoError(t, err)

			// The ledger refuses a second entry for the same invoice
			_, err = fixtures.CreateTestDepositEntry(customer.ID, 6001, decimal.NewFromInt(10))
			require.Error(t, err)
			assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
		})

		t.Run("NetOfFee", func(t *testing.T) {
			entry := &models.DepositEntry{
				Amount: decimal.NewFromInt(10),
				Asset:  "USDT",
			}
			assert.Equal(t, "10", entry.NetOfFee().String())

			entry.FeeAmount = utils.ToPtr(decimal.RequireFromString("0.3"))
			entry.FeeAsset = utils.ToPtr("USDT")
			assert.Equal(t, "9.7", entry.NetOfFee().String())

			// Fees charged in another asset do not reduce the settled amount
			entry.FeeAsset = utils.ToPtr("TON")
			assert.Equal(t, "10", entry.NetOfFee().String())
		})

		t.Run("AggregateAbsorb", func(t *testing.T) {
			now := utils.UTCNow()
			aggregate := &models.DepositAggregate{CustomerID: 1}

			first := &models.DepositEntry{
				ProviderInvoiceID: 6101,
				CustomerID:        1,
				Amount:            decimal.NewFromInt(10),
				Asset:             "USDT",
				FeeAmount:         utils.ToPtr(decimal.RequireFromString("0.1")),
				DepositedAt:       now,
			}
			require.NoError(t, aggregate.Absorb(first, now))

			assert.Equal(t, 1, aggregate.DepositsCount)
			assert.Equal(t, "10", aggregate.TotalDeposited.String())
			assert.Equal(t, "0.1", aggregate.TotalFeesPaid.String())
			require.NotNil(t, aggregate.FirstDepositAt)
			require.NotNil(t, aggregate.LargestDepositAmount)
			assert.Equal(t, "10", aggregate.LargestDepositAmount.String())
			assert.Equal(t, int64(6101), *aggregate.LargestDepositInvoiceID)

			later := now.Add(time.Minute)
			second := &models.DepositEntry{
				ProviderInvoiceID: 6102,
				CustomerID:        1,
				Amount:            decimal.NewFromInt(25),
				Asset:             "TON",
				DepositedAt:       later,
			}
			require.NoError(t, aggregate.Absorb(second, later))

			assert.Equal(t, 2, aggregate.DepositsCount)
			assert.Equal(t, "35", aggregate.TotalDeposited.String())
			assert.Equal(t, "25", aggregate.LargestDepositAmount.String())
			assert.Equal(t, int64(6102), *aggregate.LargestDepositInvoiceID)
			assert.Equal(t, now, *aggregate.FirstDepositAt)
			assert.Equal(t, later, *aggregate.LastDepositAt)

			totals, err := aggregate.AssetTotals()
			require.NoError(t, err)
			assert.Equal(t, "10", totals["USDT"].String())
			assert.Equal(t, "25", totals["TON"].String())
		})

		return nil
	})
	require.NoError(t, err)
}

func TestWebhookEventModel(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		t.Run("UniqueProviderUpdate", func(t *testing.T) {
			event := &models.WebhookEvent{
				Provider:         "crypto-pay",
				ProviderUpdateID: 7001,
				UpdateType:       "invoice_paid",
				RawPayload:       []byte(`{}`),
				Status:           models.WebhookEventStatusReceived,
			}
			require.NoError(t, testDB.DB.Create(event).Error)

			duplicate := &models.WebhookEvent{
				Provider:         "crypto-pay",
				ProviderUpdateID: 7001,
				UpdateType:       "invoice_paid",
				RawPayload:       []byte(`{}`),
				Status:           models.WebhookEventStatusReceived,
			}
			err := testDB.DB.Create(duplicate).Error
			require.Error(t, err)
			assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)

			// The same update id under a different provider is fine
			other := &models.WebhookEvent{
				Provider:         "other-provider",
				ProviderUpdateID: 7001,
				UpdateType:       "invoice_paid",
				RawPayload:       []byte(`{}`),
				Status:           models.WebhookEventStatusReceived,
			}
			assert.NoError(t, testDB.DB.Create(other).Error)
		})

		t.Run("IsSettled", func(t *testing.T) {
			event := &models.WebhookEvent{Status: models.WebhookEventStatusReceived}
			assert.False(t, event.IsSettled())

			event.Status = models.WebhookEventStatusFailed
			assert.False(t, event.IsSettled())

			for _, status := range []models.WebhookEventStatus{
				models.WebhookEventStatusProcessed,
				models.WebhookEventStatusDuplicate,
				models.WebhookEventStatusUnhandled,
				models.WebhookEventStatusDiscarded,
				models.WebhookEventStatusConflict,
			} {
				event.Status = status
				assert.True(t, event.IsSettled(), "status %s", status)
			}
		})

		return nil
	})
	require.NoError(t, err)
}

func TestBalanceModels(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)

		t.Run("OneAccountPerCustomer", func(t *testing.T) {
			customer, err := fixtures.CreateTestCustomer()
			require.NoError(t, err)

			_, err = fixtures.CreateTestBalanceAccount(customer.ID, decimal.NewFromInt(50))
			require.NoError(t, err)

			_, err = fixtures.CreateTestBalanceAccount(customer.ID, decimal.NewFromInt(10))
			require.Error(t, err)
			assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
		})

		t.Run("CanCover", func(t *testing.T) {
			account := &models.BalanceAccount{Balance: decimal.NewFromInt(10)}
			assert.True(t, account.CanCover(decimal.NewFromInt(10)))
			assert.True(t, account.CanCover(decimal.NewFromInt(5)))
			assert.False(t, account.CanCover(decimal.RequireFromString("10.00000001")))
		})

		t.Run("TransactionIsCredit", func(t *testing.T) {
			tx := &models.BalanceTransaction{Type: models.BalanceTransactionTypeDepositCredit}
			assert.True(t, tx.IsCredit())

			tx.Type = models.BalanceTransactionTypeOrderRefund
			assert.True(t, tx.IsCredit())

			tx.Type = models.BalanceTransactionTypeCheckoutRefund
			assert.True(t, tx.IsCredit())

			tx.Type = models.BalanceTransactionTypeCheckoutDebit
			assert.False(t, tx.IsCredit())
		})

		return nil
	})
	require.NoError(t, err)
}

func TestAuditLogModel(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)

		t.Run("TableName", func(t *testing.T) {
			assert.Equal(t, "audit_log", models.AuditLog{}.TableName())
		})

		t.Run("CreateAuditLog", func(t *testing.T) {
			customer, err := fixtures.CreateTestCustomer()
			require.NoError(t, err)

			audit, err := fixtures.CreateTestAuditLog(&customer.ID, models.AuditActionDepositCredited, true)
			require.NoError(t, err)
			assert.NotZero(t, audit.ID)
			assert.False(t, audit.IsFailed())

			failed, err := fixtures.CreateTestAuditLog(&customer.ID, models.AuditActionCheckoutFailed, false)
			require.NoError(t, err)
			assert.True(t, failed.IsFailed())
			assert.NotNil(t, failed.ErrorMessage)
		})

		t.Run("IsMoneyEvent", func(t *testing.T) {
			audit := &models.AuditLog{Action: models.AuditActionDepositCredited}
			assert.True(t, audit.IsMoneyEvent())

			audit.Action = models.AuditActionOrderPaid
			assert.True(t, audit.IsMoneyEvent())

			audit.Action = models.AuditActionBotLoginSuccessful
			assert.False(t, audit.IsMoneyEvent())
		})

		return nil
	})
	require.NoError(t, err)
}
