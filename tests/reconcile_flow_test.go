// Package tests contains integration tests for payment reconciliation
package tests

import (
	"context"
	"testing"
	"time"

	"github.com/amirphl/Kusanagi/app/services"
	businessflow "github.com/amirphl/Kusanagi/business_flow"
	"github.com/amirphl/Kusanagi/models"
	"github.com/amirphl/Kusanagi/repository"
	testingutil "github.com/amirphl/Kusanagi/testing"
	"github.com/amirphl/Kusanagi/utils"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileFlow(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)

		// Initialize repositories
		invoiceRepo := repository.NewInvoiceRepository(testDB.DB)
		customerRepo := repository.NewCustomerRepository(testDB.DB)
		orderRepo := repository.NewOrderRepository(testDB.DB)
		productRepo := repository.NewProductRepository(testDB.DB)
		balanceRepo := repository.NewBalanceAccountRepository(testDB.DB)
		balanceTxRepo := repository.NewBalanceTransactionRepository(testDB.DB)
		auditRepo := repository.NewAuditLogRepository(testDB.DB)
		entryRepo := repository.NewDepositEntryRepository(testDB.DB)
		aggregateRepo := repository.NewDepositAggregateRepository(testDB.DB)

		// Initialize flows and services
		depositFlow := businessflow.NewDepositFlow(entryRepo, aggregateRepo, balanceRepo, customerRepo, testDB.DB)
		checkoutFlow := businessflow.NewCheckoutFlow(orderRepo, productRepo, customerRepo, balanceRepo, balanceTxRepo, auditRepo, testDB.DB)

		chatProvider := services.NewMockChatProvider()
		notifier := services.NewNotificationService(chatProvider)

		reconciler := businessflow.NewReconcileFlow(
			invoiceRepo,
			customerRepo,
			orderRepo,
			balanceRepo,
			balanceTxRepo,
			auditRepo,
			depositFlow,
			checkoutFlow,
			notifier,
			nil,
			testDB.DB,
		)

		t.Run("SettleDepositInvoice", func(t *testing.T) {
			customer, err := fixtures.CreateTestCustomer()
			require.NoError(t, err)

			_, err = fixtures.CreateTestDepositInvoice(customer.ID, 20001, decimal.NewFromInt(10))
			require.NoError(t, err)

			details := models.PaymentDetails{
				PaidAmount: decimal.NewFromInt(10),
				PaidAsset:  "USDT",
				PaidAt:     utils.UTCNow(),
			}
			result, err := reconciler.HandlePaidEvent(context.Background(), 20001, details)
			require.NoError(t, err)
			require.NotNil(t, result)
			assert.Equal(t, businessflow.ApplyOutcomeSettled, result.Outcome)

			// The invoice carries the settlement and every effect marker
			invoice, err := invoiceRepo.ByProviderInvoiceID(context.Background(), 20001)
			require.NoError(t, err)
			assert.Equal(t, models.InvoiceStatusPaid, invoice.Status)
			assert.NotNil(t, invoice.LedgerAppliedAt)
			assert.NotNil(t, invoice.NotifiedAt)
			assert.Nil(t, invoice.OrderAppliedAt)

			// The ledger holds exactly one entry for the invoice
			entry, err := entryRepo.ByProviderInvoiceID(context.Background(), 20001)
			require.NoError(t, err)
			require.NotNil(t, entry)
			assert.Equal(t, "10", entry.Amount.String())
			assert.Equal(t, "USDT", entry.Asset)

			// The balance was credited once with a matching audit row
			account, err := balanceRepo.ByCustomerID(context.Background(), customer.ID)
			require.NoError(t, err)
			require.NotNil(t, account)
			assert.Equal(t, "10", account.Balance.String())

			transactions, err := balanceTxRepo.ByReference(context.Background(), "20001")
			require.NoError(t, err)
			require.Len(t, transactions, 1)
			assert.Equal(t, models.BalanceTransactionTypeDepositCredit, transactions[0].Type)
			assert.Equal(t, "0", transactions[0].BalanceBefore.String())
			assert.Equal(t, "10", transactions[0].BalanceAfter.String())

			// The aggregate absorbed the deposit
			aggregate, err := aggregateRepo.ByCustomerID(context.Background(), customer.ID)
			require.NoError(t, err)
			require.NotNil(t, aggregate)
			assert.Equal(t, 1, aggregate.DepositsCount)
			assert.Equal(t, "10", aggregate.TotalDeposited.String())

			// The customer heard about it
			messages := chatProvider.Messages()
			found := false
			for _, msg := range messages {
				if msg.ChatID == customer.ChatID {
					found = true
					break
				}
			}
			assert.True(t, found)
		})

		t.Run("RedeliveredSettlementIsDuplicate", func(t *testing.T) {
			customer, err := fixtures.CreateTestCustomer()
			require.NoError(t, err)

			_, err = fixtures.CreateTestDepositInvoice(customer.ID, 20002, decimal.NewFromInt(10))
			require.NoError(t, err)

			details := models.PaymentDetails{
				PaidAmount: decimal.NewFromInt(10),
				PaidAsset:  "USDT",
				PaidAt:     utils.UTCNow(),
			}
			result, err := reconciler.HandlePaidEvent(context.Background(), 20002, details)
			require.NoError(t, err)
			assert.Equal(t, businessflow.ApplyOutcomeSettled, result.Outcome)

			// The provider redelivers the same settlement
			result, err = reconciler.HandlePaidEvent(context.Background(), 20002, details)
			require.NoError(t, err)
			assert.Equal(t, businessflow.ApplyOutcomeDuplicate, result.Outcome)

			// No double credit
			account, err := balanceRepo.ByCustomerID(context.Background(), customer.ID)
			require.NoError(t, err)
			assert.Equal(t, "10", account.Balance.String())

			transactions, err := balanceTxRepo.ByReference(context.Background(), "20002")
			require.NoError(t, err)
			assert.Len(t, transactions, 1)
		})

		t.Run("ConflictingPaymentRejected", func(t *testing.T) {
			customer, err := fixtures.CreateTestCustomer()
			require.NoError(t, err)

			_, err = fixtures.CreateTestDepositInvoice(customer.ID, 20003, decimal.NewFromInt(10))
			require.NoError(t, err)

			details := models.PaymentDetails{
				PaidAmount: decimal.NewFromInt(10),
				PaidAsset:  "USDT",
				PaidAt:     utils.UTCNow(),
			}
			_, err = reconciler.HandlePaidEvent(context.Background(), 20003, details)
			require.NoError(t, err)

			// Same invoice, different money
			conflicting := models.PaymentDetails{
				PaidAmount: decimal.NewFromInt(7),
				PaidAsset:  "USDT",
				PaidAt:     utils.UTCNow(),
			}
			result, err := reconciler.HandlePaidEvent(context.Background(), 20003, conflicting)
			require.Error(t, err)
			assert.Nil(t, result)
			assert.True(t, businessflow.IsConflictingPayment(err))

			// The conflict left an audit trail for review
			action := models.AuditActionPaymentConflict
			audits, err := auditRepo.ByFilter(context.Background(), models.AuditLogFilter{
				CustomerID: &customer.ID,
				Action:     &action,
			}, "", 0, 0)
			require.NoError(t, err)
			assert.Len(t, audits, 1)

			// The recorded settlement is untouched
			invoice, err := invoiceRepo.ByProviderInvoiceID(context.Background(), 20003)
			require.NoError(t, err)
			require.NotNil(t, invoice.PaidAmount)
			assert.Equal(t, "10", invoice.PaidAmount.String())
		})

		t.Run("PaymentForExpiredInvoice", func(t *testing.T) {
			customer, err := fixtures.CreateTestCustomer()
			require.NoError(t, err)

			invoice, err := fixtures.CreateTestDepositInvoice(customer.ID, 20004, decimal.NewFromInt(10))
			require.NoError(t, err)
			invoice.ExpiresAt = utils.ToPtr(utils.UTCNow().Add(-time.Hour))
			require.NoError(t, invoiceRepo.Update(context.Background(), invoice))

			swept, err := reconciler.SweepExpired(context.Background())
			require.NoError(t, err)
			assert.GreaterOrEqual(t, swept, int64(1))

			details := models.PaymentDetails{
				PaidAmount: decimal.NewFromInt(10),
				PaidAsset:  "USDT",
				PaidAt:     utils.UTCNow(),
			}
			result, err := reconciler.HandlePaidEvent(context.Background(), 20004, details)
			require.Error(t, err)
			assert.Nil(t, result)
			assert.True(t, businessflow.IsInvoiceNotPending(err))

			// Money for a dead invoice is a conflict someone must look at
			action := models.AuditActionPaymentConflict
			audits, err := auditRepo.ByFilter(context.Background(), models.AuditLogFilter{
				CustomerID: &customer.ID,
				Action:     &action,
			}, "", 0, 0)
			require.NoError(t, err)
			assert.Len(t, audits, 1)

			// No ledger entry, no credit
			entry, err := entryRepo.ByProviderInvoiceID(context.Background(), 20004)
			require.NoError(t, err)
			assert.Nil(t, entry)
		})

		t.Run("UnknownInvoiceRejected", func(t *testing.T) {
			details := models.PaymentDetails{
				PaidAmount: decimal.NewFromInt(10),
				PaidAsset:  "USDT",
				PaidAt:     utils.UTCNow(),
			}
			result, err := reconciler.HandlePaidEvent(context.Background(), 424242, details)
			require.Error(t, err)
			assert.Nil(t, result)
			assert.True(t, businessflow.IsInvoiceNotFound(err))
		})

		t.Run("SettleOrderPaymentInvoice", func(t *testing.T) {
			customer, err := fixtures.CreateTestCustomer()
			require.NoError(t, err)

			order, err := fixtures.CreateTestOrder(customer.ID, models.OrderStatusPending, decimal.NewFromInt(30))
			require.NoError(t, err)

			_, err = fixtures.CreateTestOrderPaymentInvoice(customer.ID, order.ID, 20005, decimal.NewFromInt(30))
			require.NoError(t, err)

			details := models.PaymentDetails{
				PaidAmount: decimal.NewFromInt(30),
				PaidAsset:  "USDT",
				PaidAt:     utils.UTCNow(),
			}
			result, err := reconciler.HandlePaidEvent(context.Background(), 20005, details)
			require.NoError(t, err)
			assert.Equal(t, businessflow.ApplyOutcomeSettled, result.Outcome)

			// The order settled with the invoice as payment reference
			updated, err := orderRepo.ByID(context.Background(), order.ID)
			require.NoError(t, err)
			assert.Equal(t, models.OrderStatusPaid, updated.Status)
			assert.Equal(t, "crypto_USDT", updated.PaymentMethod)
			require.NotNil(t, updated.PaymentRef)
			assert.Equal(t, "20005", *updated.PaymentRef)
			assert.NotNil(t, updated.PaidAt)

			// Order payments never touch the deposit ledger
			invoice, err := invoiceRepo.ByProviderInvoiceID(context.Background(), 20005)
			require.NoError(t, err)
			assert.NotNil(t, invoice.OrderAppliedAt)
			assert.NotNil(t, invoice.NotifiedAt)
			assert.Nil(t, invoice.LedgerAppliedAt)

			entry, err := entryRepo.ByProviderInvoiceID(context.Background(), 20005)
			require.NoError(t, err)
			assert.Nil(t, entry)
		})

		t.Run("NotificationFailureDoesNotBlockSettlement", func(t *testing.T) {
			customer, err := fixtures.CreateTestCustomer()
			require.NoError(t, err)

			_, err = fixtures.CreateTestDepositInvoice(customer.ID, 20006, decimal.NewFromInt(10))
			require.NoError(t, err)

			chatProvider.FailNext = true

			details := models.PaymentDetails{
				PaidAmount: decimal.NewFromInt(10),
				PaidAsset:  "USDT",
				PaidAt:     utils.UTCNow(),
			}
			result, err := reconciler.HandlePaidEvent(context.Background(), 20006, details)
			require.NoError(t, err)
			assert.Equal(t, businessflow.ApplyOutcomeSettled, result.Outcome)

			// Notification is best-effort; the marker is set regardless
			invoice, err := invoiceRepo.ByProviderInvoiceID(context.Background(), 20006)
			require.NoError(t, err)
			assert.NotNil(t, invoice.NotifiedAt)

			account, err := balanceRepo.ByCustomerID(context.Background(), customer.ID)
			require.NoError(t, err)
			assert.Equal(t, "10", account.Balance.String())
		})

		t.Run("SwappedPaymentSettlesInTargetAsset", func(t *testing.T) {
			customer, err := fixtures.CreateTestCustomer()
			require.NoError(t, err)

			_, err = fixtures.CreateTestDepositInvoice(customer.ID, 20007, decimal.NewFromInt(10))
			require.NoError(t, err)

			details := models.PaymentDetails{
				PaidAmount:    decimal.RequireFromString("2.5"),
				PaidAsset:     "TON",
				IsSwapped:     true,
				SwappedTo:     utils.ToPtr("USDT"),
				SwappedAmount: utils.ToPtr(decimal.RequireFromString("9.8")),
				PaidAt:        utils.UTCNow(),
			}
			result, err := reconciler.HandlePaidEvent(context.Background(), 20007, details)
			require.NoError(t, err)
			assert.Equal(t, businessflow.ApplyOutcomeSettled, result.Outcome)

			// The ledger and the balance carry the swap output
			entry, err := entryRepo.ByProviderInvoiceID(context.Background(), 20007)
			require.NoError(t, err)
			require.NotNil(t, entry)
			assert.Equal(t, "9.8", entry.Amount.String())
			assert.Equal(t, "USDT", entry.Asset)
			require.NotNil(t, entry.SwappedFrom)
			assert.Equal(t, "TON", *entry.SwappedFrom)

			account, err := balanceRepo.ByCustomerID(context.Background(), customer.ID)
			require.NoError(t, err)
			assert.Equal(t, "9.8", account.Balance.String())
		})

		t.Run("PaymentForCancelledOrderFlagged", func(t *testing.T) {
			customer, err := fixtures.CreateTestCustomer()
			require.NoError(t, err)

			order, err := fixtures.CreateTestOrder(customer.ID, models.OrderStatusCancelled, decimal.NewFromInt(30))
			require.NoError(t, err)

			_, err = fixtures.CreateTestOrderPaymentInvoice(customer.ID, order.ID, 20008, decimal.NewFromInt(30))
			require.NoError(t, err)

			details := models.PaymentDetails{
				PaidAmount: decimal.NewFromInt(30),
				PaidAsset:  "USDT",
				PaidAt:     utils.UTCNow(),
			}
			result, err := reconciler.HandlePaidEvent(context.Background(), 20008, details)
			require.NoError(t, err)
			assert.Equal(t, businessflow.ApplyOutcomeSettled, result.Outcome)

			// The money is recorded on the invoice but the order keeps
			// its cancelled state
			updated, err := orderRepo.ByID(context.Background(), order.ID)
			require.NoError(t, err)
			assert.Equal(t, models.OrderStatusCancelled, updated.Status)
			assert.Nil(t, updated.PaidAt)

			invoice, err := invoiceRepo.ByProviderInvoiceID(context.Background(), 20008)
			require.NoError(t, err)
			assert.Equal(t, models.InvoiceStatusPaid, invoice.Status)
			assert.NotNil(t, invoice.OrderAppliedAt)

			// The mismatch landed in the audit log for manual review
			conflicts, err := auditRepo.ListByAction(context.Background(), models.AuditActionPaymentConflict, 10, 0)
			require.NoError(t, err)
			found := false
			for _, c := range conflicts {
				if c.Description != nil && *c.Description != "" && c.CustomerID != nil && *c.CustomerID == customer.ID {
					found = true
					break
				}
			}
			assert.True(t, found)
		})

		return nil
	})
	require.NoError(t, err)
}

func TestReconcileFlowSweeps(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)

		invoiceRepo := repository.NewInvoiceRepository(testDB.DB)
		customerRepo := repository.NewCustomerRepository(testDB.DB)
		orderRepo := repository.NewOrderRepository(testDB.DB)
		productRepo := repository.NewProductRepository(testDB.DB)
		balanceRepo := repository.NewBalanceAccountRepository(testDB.DB)
		balanceTxRepo := repository.NewBalanceTransactionRepository(testDB.DB)
		auditRepo := repository.NewAuditLogRepository(testDB.DB)
		entryRepo := repository.NewDepositEntryRepository(testDB.DB)
		aggregateRepo := repository.NewDepositAggregateRepository(testDB.DB)

		depositFlow := businessflow.NewDepositFlow(entryRepo, aggregateRepo, balanceRepo, customerRepo, testDB.DB)
		checkoutFlow := businessflow.NewCheckoutFlow(orderRepo, productRepo, customerRepo, balanceRepo, balanceTxRepo, auditRepo, testDB.DB)

		chatProvider := services.NewMockChatProvider()
		notifier := services.NewNotificationService(chatProvider)

		// A fixed clock two hours ahead makes fresh invoices sweepable
		clock := utils.NewFixedClock(utils.UTCNow().Add(2 * time.Hour))

		reconciler := businessflow.NewReconcileFlow(
			invoiceRepo,
			customerRepo,
			orderRepo,
			balanceRepo,
			balanceTxRepo,
			auditRepo,
			depositFlow,
			checkoutFlow,
			notifier,
			clock,
			testDB.DB,
		)

		t.Run("SweepExpiredUsesClock", func(t *testing.T) {
			customer, err := fixtures.CreateTestCustomer()
			require.NoError(t, err)

			// Deposit window is one hour; the clock sits two hours out
			_, err = fixtures.CreateTestDepositInvoice(customer.ID, 21001, decimal.NewFromInt(10))
			require.NoError(t, err)

			swept, err := reconciler.SweepExpired(context.Background())
			require.NoError(t, err)
			assert.Equal(t, int64(1), swept)

			invoice, err := invoiceRepo.ByProviderInvoiceID(context.Background(), 21001)
			require.NoError(t, err)
			assert.Equal(t, models.InvoiceStatusExpired, invoice.Status)

			// The sweep records what it did
			action := models.AuditActionInvoiceExpired
			audits, err := auditRepo.ByFilter(context.Background(), models.AuditLogFilter{Action: &action}, "", 0, 0)
			require.NoError(t, err)
			assert.Len(t, audits, 1)
		})

		t.Run("RetryPendingEffects", func(t *testing.T) {
			customer, err := fixtures.CreateTestCustomer()
			require.NoError(t, err)

			// Settlement recorded, effects never ran: the shape a crash
			// between commit and effects leaves behind
			_, err = fixtures.CreateTestDepositInvoice(customer.ID, 21002, decimal.NewFromInt(10))
			require.NoError(t, err)

			details := models.PaymentDetails{
				PaidAmount: decimal.NewFromInt(10),
				PaidAsset:  "USDT",
				PaidAt:     utils.UTCNow(),
			}
			ok, err := invoiceRepo.MarkPaid(context.Background(), 21002, details)
			require.NoError(t, err)
			require.True(t, ok)

			completed, err := reconciler.RetryPendingEffects(context.Background(), 10)
			require.NoError(t, err)
			assert.Equal(t, 1, completed)

			invoice, err := invoiceRepo.ByProviderInvoiceID(context.Background(), 21002)
			require.NoError(t, err)
			assert.NotNil(t, invoice.LedgerAppliedAt)
			assert.NotNil(t, invoice.NotifiedAt)

			account, err := balanceRepo.ByCustomerID(context.Background(), customer.ID)
			require.NoError(t, err)
			require.NotNil(t, account)
			assert.Equal(t, "10", account.Balance.String())

			// A second pass finds nothing left to do
			completed, err = reconciler.RetryPendingEffects(context.Background(), 10)
			require.NoError(t, err)
			assert.Equal(t, 0, completed)
		})

		return nil
	})
	require.NoError(t, err)
}
