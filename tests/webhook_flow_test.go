// Package tests contains integration tests for webhook delivery processing
package tests

import (
	"context"
	"fmt"
	"testing"

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

// paidDelivery builds a raw invoice_paid delivery body the way the
// provider sends it
func paidDelivery(updateID, invoiceID int64, amount string) []byte {
	return []byte(fmt.Sprintf(`{
		"update_id": %d,
		"update_type": "invoice_paid",
		"request_date": "2026-01-01T00:00:00Z",
		"payload": {
			"invoice_id": %d,
			"status": "paid",
			"asset": "USDT",
			"amount": %q,
			"paid_amount": %q,
			"paid_asset": "USDT"
		}
	}`, updateID, invoiceID, amount, amount))
}

func TestWebhookFlow(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)

		// Initialize repositories
		eventRepo := repository.NewWebhookEventRepository(testDB.DB)
		invoiceRepo := repository.NewInvoiceRepository(testDB.DB)
		customerRepo := repository.NewCustomerRepository(testDB.DB)
		orderRepo := repository.NewOrderRepository(testDB.DB)
		productRepo := repository.NewProductRepository(testDB.DB)
		entryRepo := repository.NewDepositEntryRepository(testDB.DB)
		aggregateRepo := repository.NewDepositAggregateRepository(testDB.DB)
		balanceRepo := repository.NewBalanceAccountRepository(testDB.DB)
		balanceTxRepo := repository.NewBalanceTransactionRepository(testDB.DB)
		auditRepo := repository.NewAuditLogRepository(testDB.DB)

		// Initialize business flows
		depositFlow := businessflow.NewDepositFlow(entryRepo, aggregateRepo, balanceRepo, customerRepo, testDB.DB)
		checkoutFlow := businessflow.NewCheckoutFlow(orderRepo, productRepo, customerRepo, balanceRepo, balanceTxRepo, auditRepo, testDB.DB)
		reconcileFlow := businessflow.NewReconcileFlow(invoiceRepo, customerRepo, orderRepo, balanceRepo, balanceTxRepo, auditRepo, depositFlow, checkoutFlow, nil, nil, testDB.DB)

		provider := services.NewMockPaymentProvider()
		replayGuard := services.NewMockReplayGuard()
		webhookFlow := businessflow.NewWebhookFlow(eventRepo, provider, replayGuard, reconcileFlow, testDB.DB)

		metadata := businessflow.NewClientMetadata("127.0.0.1", "Test User Agent")

		t.Run("EmptySignatureRejected", func(t *testing.T) {
			body := paidDelivery(41001, 40001, "10")
			receipt, err := webhookFlow.Receive(context.Background(), body, "", metadata)
			require.Error(t, err)
			assert.Nil(t, receipt)
			assert.True(t, businessflow.IsInvalidSignature(err))
		})

		t.Run("MalformedEnvelopeRejected", func(t *testing.T) {
			for _, body := range [][]byte{
				[]byte(`not json at all`),
				[]byte(`{"update_type": "invoice_paid"}`),
				[]byte(`{"update_id": 41002}`),
			} {
				receipt, err := webhookFlow.Receive(context.Background(), body, "sig", metadata)
				require.Error(t, err, "body %s", body)
				assert.Nil(t, receipt)
				assert.True(t, businessflow.IsMalformedPayload(err))
			}
		})

		t.Run("PaidInvoiceProcessed", func(t *testing.T) {
			customer, err := fixtures.CreateTestCustomer()
			require.NoError(t, err)
			_, err = fixtures.CreateTestDepositInvoice(customer.ID, 40003, decimal.NewFromInt(10))
			require.NoError(t, err)

			receipt, err := webhookFlow.Receive(context.Background(), paidDelivery(41003, 40003, "10"), "sig", metadata)
			require.NoError(t, err)
			require.NotNil(t, receipt)
			assert.Equal(t, int64(41003), receipt.UpdateID)
			assert.Equal(t, "invoice_paid", receipt.UpdateType)
			assert.Equal(t, models.WebhookEventStatusProcessed, receipt.Status)

			// The delivery was recorded with its terminal outcome
			event, err := eventRepo.ByProviderUpdateID(context.Background(), provider.Name(), 41003)
			require.NoError(t, err)
			require.NotNil(t, event)
			assert.Equal(t, models.WebhookEventStatusProcessed, event.Status)
			assert.NotNil(t, event.ProcessedAt)

			// The settlement went all the way to the balance
			invoice, err := invoiceRepo.ByProviderInvoiceID(context.Background(), 40003)
			require.NoError(t, err)
			assert.Equal(t, models.InvoiceStatusPaid, invoice.Status)

			account, err := balanceRepo.ByCustomerID(context.Background(), customer.ID)
			require.NoError(t, err)
			assert.Equal(t, "10", account.Balance.String())
		})

		t.Run("RedeliveryShortCircuits", func(t *testing.T) {
			customer, err := fixtures.CreateTestCustomer()
			require.NoError(t, err)
			_, err = fixtures.CreateTestDepositInvoice(customer.ID, 40004, decimal.NewFromInt(10))
			require.NoError(t, err)

			receipt, err := webhookFlow.Receive(context.Background(), paidDelivery(41004, 40004, "10"), "sig", metadata)
			require.NoError(t, err)
			assert.Equal(t, models.WebhookEventStatusProcessed, receipt.Status)

			// The replay guard answers the redelivery without touching state
			receipt, err = webhookFlow.Receive(context.Background(), paidDelivery(41004, 40004, "10"), "sig", metadata)
			require.NoError(t, err)
			require.NotNil(t, receipt)
			assert.Equal(t, models.WebhookEventStatusDuplicate, receipt.Status)

			event, err := eventRepo.ByProviderUpdateID(context.Background(), provider.Name(), 41004)
			require.NoError(t, err)
			assert.Equal(t, models.WebhookEventStatusProcessed, event.Status)

			account, err := balanceRepo.ByCustomerID(context.Background(), customer.ID)
			require.NoError(t, err)
			assert.Equal(t, "10", account.Balance.String())
		})

		t.Run("ColdGuardFallsBackToEventRow", func(t *testing.T) {
			customer, err := fixtures.CreateTestCustomer()
			require.NoError(t, err)
			_, err = fixtures.CreateTestDepositInvoice(customer.ID, 40005, decimal.NewFromInt(10))
			require.NoError(t, err)

			receipt, err := webhookFlow.Receive(context.Background(), paidDelivery(41005, 40005, "10"), "sig", metadata)
			require.NoError(t, err)
			assert.Equal(t, models.WebhookEventStatusProcessed, receipt.Status)

			// A restart empties the cache; the unique index still
			// recognizes the redelivery
			coldFlow := businessflow.NewWebhookFlow(eventRepo, provider, services.NewMockReplayGuard(), reconcileFlow, testDB.DB)
			receipt, err = coldFlow.Receive(context.Background(), paidDelivery(41005, 40005, "10"), "sig", metadata)
			require.NoError(t, err)
			require.NotNil(t, receipt)
			assert.Equal(t, models.WebhookEventStatusDuplicate, receipt.Status)

			account, err := balanceRepo.ByCustomerID(context.Background(), customer.ID)
			require.NoError(t, err)
			assert.Equal(t, "10", account.Balance.String())
		})

		t.Run("UnhandledUpdateType", func(t *testing.T) {
			body := []byte(`{"update_id": 41006, "update_type": "invoice_expired", "request_date": "2026-01-01T00:00:00Z", "payload": {}}`)
			receipt, err := webhookFlow.Receive(context.Background(), body, "sig", metadata)
			require.NoError(t, err)
			require.NotNil(t, receipt)
			assert.Equal(t, models.WebhookEventStatusUnhandled, receipt.Status)

			event, err := eventRepo.ByProviderUpdateID(context.Background(), provider.Name(), 41006)
			require.NoError(t, err)
			require.NotNil(t, event)
			assert.Equal(t, models.WebhookEventStatusUnhandled, event.Status)
		})

		t.Run("UnusablePayloadDiscarded", func(t *testing.T) {
			body := []byte(`{"update_id": 41007, "update_type": "invoice_paid", "request_date": "2026-01-01T00:00:00Z", "payload": {}}`)
			receipt, err := webhookFlow.Receive(context.Background(), body, "sig", metadata)
			require.NoError(t, err)
			require.NotNil(t, receipt)
			assert.Equal(t, models.WebhookEventStatusDiscarded, receipt.Status)

			event, err := eventRepo.ByProviderUpdateID(context.Background(), provider.Name(), 41007)
			require.NoError(t, err)
			require.NotNil(t, event)
			assert.Equal(t, models.WebhookEventStatusDiscarded, event.Status)
			assert.NotNil(t, event.ProcessingError)
		})

		t.Run("UnknownInvoiceDiscarded", func(t *testing.T) {
			// The payload parses but names an invoice this service never issued
			receipt, err := webhookFlow.Receive(context.Background(), paidDelivery(41008, 49999, "10"), "sig", metadata)
			require.NoError(t, err)
			require.NotNil(t, receipt)
			assert.Equal(t, models.WebhookEventStatusDiscarded, receipt.Status)

			event, err := eventRepo.ByProviderUpdateID(context.Background(), provider.Name(), 41008)
			require.NoError(t, err)
			require.NotNil(t, event)
			assert.Equal(t, models.WebhookEventStatusDiscarded, event.Status)
		})

		t.Run("ConflictingRedeliveryRecorded", func(t *testing.T) {
			customer, err := fixtures.CreateTestCustomer()
			require.NoError(t, err)
			_, err = fixtures.CreateTestDepositInvoice(customer.ID, 40009, decimal.NewFromInt(10))
			require.NoError(t, err)

			receipt, err := webhookFlow.Receive(context.Background(), paidDelivery(41009, 40009, "10"), "sig", metadata)
			require.NoError(t, err)
			assert.Equal(t, models.WebhookEventStatusProcessed, receipt.Status)

			// A fresh update id contradicting the recorded settlement is a
			// conflict, not a duplicate
			receipt, err = webhookFlow.Receive(context.Background(), paidDelivery(41010, 40009, "7"), "sig", metadata)
			require.NoError(t, err)
			require.NotNil(t, receipt)
			assert.Equal(t, models.WebhookEventStatusConflict, receipt.Status)

			event, err := eventRepo.ByProviderUpdateID(context.Background(), provider.Name(), 41010)
			require.NoError(t, err)
			require.NotNil(t, event)
			assert.Equal(t, models.WebhookEventStatusConflict, event.Status)
			assert.NotNil(t, event.ProcessingError)

			// The recorded settlement is untouched
			account, err := balanceRepo.ByCustomerID(context.Background(), customer.ID)
			require.NoError(t, err)
			assert.Equal(t, "10", account.Balance.String())
		})

		t.Run("TransientFailureAsksForRedelivery", func(t *testing.T) {
			owner, err := fixtures.CreateTestCustomer()
			require.NoError(t, err)
			stranger, err := fixtures.CreateTestCustomer()
			require.NoError(t, err)

			order, err := fixtures.CreateTestOrder(owner.ID, models.OrderStatusPending, decimal.NewFromInt(30))
			require.NoError(t, err)

			// The invoice is bound to another customer's order, so the order
			// effect cannot apply
			_, err = fixtures.CreateTestOrderPaymentInvoice(stranger.ID, order.ID, 40011, decimal.NewFromInt(30))
			require.NoError(t, err)

			receipt, err := webhookFlow.Receive(context.Background(), paidDelivery(41011, 40011, "30"), "sig", metadata)
			require.Error(t, err)
			assert.Nil(t, receipt)
			assert.True(t, businessflow.IsOwnershipMismatch(err))

			// The failed attempt stays visible for redelivery to retry
			event, err := eventRepo.ByProviderUpdateID(context.Background(), provider.Name(), 41011)
			require.NoError(t, err)
			require.NotNil(t, event)
			assert.Equal(t, models.WebhookEventStatusFailed, event.Status)
			assert.NotNil(t, event.ProcessingError)

			// The settlement itself was recorded; only the effect is pending
			invoice, err := invoiceRepo.ByProviderInvoiceID(context.Background(), 40011)
			require.NoError(t, err)
			assert.Equal(t, models.InvoiceStatusPaid, invoice.Status)
			assert.Nil(t, invoice.OrderAppliedAt)
		})

		t.Run("StalledDeliveryResumed", func(t *testing.T) {
			customer, err := fixtures.CreateTestCustomer()
			require.NoError(t, err)
			_, err = fixtures.CreateTestDepositInvoice(customer.ID, 40012, decimal.NewFromInt(10))
			require.NoError(t, err)

			// A prior attempt crashed after recording the delivery but
			// before settling it
			body := paidDelivery(41012, 40012, "10")
			stalled := &models.WebhookEvent{
				Provider:         provider.Name(),
				ProviderUpdateID: 41012,
				UpdateType:       "invoice_paid",
				RawPayload:       body,
				Status:           models.WebhookEventStatusReceived,
				ReceivedAt:       utils.UTCNow(),
			}
			require.NoError(t, eventRepo.Save(context.Background(), stalled))

			coldFlow := businessflow.NewWebhookFlow(eventRepo, provider, services.NewMockReplayGuard(), reconcileFlow, testDB.DB)
			receipt, err := coldFlow.Receive(context.Background(), body, "sig", metadata)
			require.NoError(t, err)
			require.NotNil(t, receipt)
			assert.Equal(t, models.WebhookEventStatusProcessed, receipt.Status)

			// The stalled row itself carries the outcome now
			event, err := eventRepo.ByProviderUpdateID(context.Background(), provider.Name(), 41012)
			require.NoError(t, err)
			require.NotNil(t, event)
			assert.Equal(t, stalled.ID, event.ID)
			assert.Equal(t, models.WebhookEventStatusProcessed, event.Status)

			account, err := balanceRepo.ByCustomerID(context.Background(), customer.ID)
			require.NoError(t, err)
			assert.Equal(t, "10", account.Balance.String())
		})

		return nil
	})
	require.NoError(t, err)
}
