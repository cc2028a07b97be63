// Package tests contains integration tests for invoice lifecycle flows
package tests

import (
	"context"
	"errors"
	"testing"

	"github.com/amirphl/Kusanagi/app/dto"
	"github.com/amirphl/Kusanagi/app/services"
	businessflow "github.com/amirphl/Kusanagi/business_flow"
	"github.com/amirphl/Kusanagi/config"
	"github.com/amirphl/Kusanagi/models"
	"github.com/amirphl/Kusanagi/repository"
	testingutil "github.com/amirphl/Kusanagi/testing"
	"github.com/amirphl/Kusanagi/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvoiceFlow(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)

		// Initialize repositories
		invoiceRepo := repository.NewInvoiceRepository(testDB.DB)
		customerRepo := repository.NewCustomerRepository(testDB.DB)
		orderRepo := repository.NewOrderRepository(testDB.DB)
		productRepo := repository.NewProductRepository(testDB.DB)
		entryRepo := repository.NewDepositEntryRepository(testDB.DB)
		aggregateRepo := repository.NewDepositAggregateRepository(testDB.DB)
		balanceRepo := repository.NewBalanceAccountRepository(testDB.DB)
		balanceTxRepo := repository.NewBalanceTransactionRepository(testDB.DB)
		auditRepo := repository.NewAuditLogRepository(testDB.DB)

		// Initialize business flows. The reconciler doubles as the applier
		// for payments noticed during a provider refresh.
		depositFlow := businessflow.NewDepositFlow(entryRepo, aggregateRepo, balanceRepo, customerRepo, testDB.DB)
		checkoutFlow := businessflow.NewCheckoutFlow(orderRepo, productRepo, customerRepo, balanceRepo, balanceTxRepo, auditRepo, testDB.DB)
		reconcileFlow := businessflow.NewReconcileFlow(invoiceRepo, customerRepo, orderRepo, balanceRepo, balanceTxRepo, auditRepo, depositFlow, checkoutFlow, nil, nil, testDB.DB)

		provider := services.NewMockPaymentProvider()
		paymentCfg := config.PaymentConfig{
			DefaultAsset:      utils.DefaultAsset,
			MinDepositAmount:  utils.MinDepositAmount,
			MaxDepositAmount:  utils.MaxDepositAmount,
			DepositInvoiceTTL: utils.DepositInvoiceTTL,
			OrderInvoiceTTL:   utils.OrderInvoiceTTL,
		}
		invoiceFlow := businessflow.NewInvoiceFlow(invoiceRepo, customerRepo, orderRepo, auditRepo, provider, reconcileFlow, testDB.DB, paymentCfg)

		metadata := businessflow.NewClientMetadata("127.0.0.1", "Test User Agent")

		t.Run("CreateDepositInvoice", func(t *testing.T) {
			req := &dto.CreateDepositInvoiceRequest{
				ChatID:    51001,
				Username:  utils.ToPtr("alice_tg"),
				FirstName: utils.ToPtr("Alice"),
				Amount:    decimal.NewFromInt(25),
			}
			resp, err := invoiceFlow.CreateDepositInvoice(context.Background(), req, metadata)
			require.NoError(t, err)
			require.NotNil(t, resp)

			assert.NotZero(t, resp.Invoice.ProviderInvoiceID)
			assert.Equal(t, string(models.InvoicePurposeDeposit), resp.Invoice.Purpose)
			assert.Equal(t, string(models.InvoiceStatusPending), resp.Invoice.Status)
			assert.Equal(t, "25", resp.Invoice.Amount)
			assert.Equal(t, utils.DefaultAsset, resp.Invoice.Asset)
			assert.NotEmpty(t, resp.Invoice.BotInvoiceURL)
			assert.NotNil(t, resp.Invoice.ExpiresAt)

			// First contact created the customer
			customer, err := customerRepo.ByChatID(context.Background(), 51001)
			require.NoError(t, err)
			require.NotNil(t, customer)
			assert.Equal(t, "alice_tg", *customer.Username)

			// The invoice row tracks the provider invoice
			invoice, err := invoiceRepo.ByProviderInvoiceID(context.Background(), resp.Invoice.ProviderInvoiceID)
			require.NoError(t, err)
			require.NotNil(t, invoice)
			assert.Equal(t, customer.ID, invoice.CustomerID)

			action := models.AuditActionInvoiceCreated
			audits, err := auditRepo.ByFilter(context.Background(), models.AuditLogFilter{
				CustomerID: &customer.ID,
				Action:     &action,
			}, "", 0, 0)
			require.NoError(t, err)
			assert.Len(t, audits, 1)
		})

		t.Run("DepositAmountValidated", func(t *testing.T) {
			cases := []struct {
				amount string
				check  func(error) bool
			}{
				{"0", businessflow.IsInvalidAmount},
				{"-3", businessflow.IsInvalidAmount},
				{"0.5", businessflow.IsAmountTooLow},
				{"10001", businessflow.IsAmountTooHigh},
			}
			for _, tc := range cases {
				req := &dto.CreateDepositInvoiceRequest{
					ChatID: 51002,
					Amount: decimal.RequireFromString(tc.amount),
				}
				_, err := invoiceFlow.CreateDepositInvoice(context.Background(), req, metadata)
				require.Error(t, err, "amount %s", tc.amount)
				assert.True(t, tc.check(err), "amount %s", tc.amount)
			}
		})

		t.Run("AssetNormalized", func(t *testing.T) {
			req := &dto.CreateDepositInvoiceRequest{
				ChatID: 51003,
				Amount: decimal.NewFromInt(10),
				Asset:  "ton",
			}
			resp, err := invoiceFlow.CreateDepositInvoice(context.Background(), req, metadata)
			require.NoError(t, err)
			assert.Equal(t, "TON", resp.Invoice.Asset)
		})

		t.Run("UnsupportedAssetRejected", func(t *testing.T) {
			req := &dto.CreateDepositInvoiceRequest{
				ChatID: 51003,
				Amount: decimal.NewFromInt(10),
				Asset:  "DOGE",
			}
			_, err := invoiceFlow.CreateDepositInvoice(context.Background(), req, metadata)
			require.Error(t, err)
			assert.True(t, businessflow.IsInvalidAsset(err))
		})

		t.Run("ProviderOutageSurfaces", func(t *testing.T) {
			provider.CreateErr = errors.New("gateway timeout")
			defer func() { provider.CreateErr = nil }()

			req := &dto.CreateDepositInvoiceRequest{
				ChatID: 51004,
				Amount: decimal.NewFromInt(10),
			}
			_, err := invoiceFlow.CreateDepositInvoice(context.Background(), req, metadata)
			require.Error(t, err)
			assert.True(t, businessflow.IsProviderUnavailable(err))

			// The customer exists but carries no invoice
			listResp, err := invoiceFlow.ListInvoices(context.Background(), &dto.ListInvoicesRequest{ChatID: 51004}, metadata)
			require.NoError(t, err)
			assert.Zero(t, listResp.Total)
		})

		t.Run("CreateOrderPaymentInvoice", func(t *testing.T) {
			customer, err := fixtures.CreateTestCustomer()
			require.NoError(t, err)
			order, err := fixtures.CreateTestOrder(customer.ID, models.OrderStatusPending, decimal.NewFromInt(30))
			require.NoError(t, err)

			req := &dto.CreateOrderPaymentInvoiceRequest{
				ChatID:    customer.ChatID,
				OrderUUID: order.UUID.String(),
			}
			resp, err := invoiceFlow.CreateOrderPaymentInvoice(context.Background(), req, metadata)
			require.NoError(t, err)
			require.NotNil(t, resp)

			assert.Equal(t, string(models.InvoicePurposeOrderPayment), resp.Invoice.Purpose)
			assert.Equal(t, "30", resp.Invoice.Amount)
			require.NotNil(t, resp.Invoice.OrderUUID)
			assert.Equal(t, order.UUID.String(), *resp.Invoice.OrderUUID)

			// Asking again reuses the payable invoice instead of stacking a
			// second one on the order
			again, err := invoiceFlow.CreateOrderPaymentInvoice(context.Background(), req, metadata)
			require.NoError(t, err)
			assert.Equal(t, resp.Invoice.ProviderInvoiceID, again.Invoice.ProviderInvoiceID)
		})

		t.Run("OrderPaymentInvoiceGuards", func(t *testing.T) {
			customer, err := fixtures.CreateTestCustomer()
			require.NoError(t, err)
			stranger, err := fixtures.CreateTestCustomer()
			require.NoError(t, err)

			paidOrder, err := fixtures.CreateTestOrder(customer.ID, models.OrderStatusPaid, decimal.NewFromInt(30))
			require.NoError(t, err)

			_, err = invoiceFlow.CreateOrderPaymentInvoice(context.Background(), &dto.CreateOrderPaymentInvoiceRequest{
				ChatID:    customer.ChatID,
				OrderUUID: paidOrder.UUID.String(),
			}, metadata)
			require.Error(t, err)
			assert.True(t, businessflow.IsOrderNotPending(err))

			pendingOrder, err := fixtures.CreateTestOrder(customer.ID, models.OrderStatusPending, decimal.NewFromInt(30))
			require.NoError(t, err)

			_, err = invoiceFlow.CreateOrderPaymentInvoice(context.Background(), &dto.CreateOrderPaymentInvoiceRequest{
				ChatID:    stranger.ChatID,
				OrderUUID: pendingOrder.UUID.String(),
			}, metadata)
			require.Error(t, err)
			assert.True(t, businessflow.IsOwnershipMismatch(err))

			_, err = invoiceFlow.CreateOrderPaymentInvoice(context.Background(), &dto.CreateOrderPaymentInvoiceRequest{
				ChatID:    customer.ChatID,
				OrderUUID: uuid.New().String(),
			}, metadata)
			require.Error(t, err)
			assert.True(t, businessflow.IsOrderNotFound(err))

			_, err = invoiceFlow.CreateOrderPaymentInvoice(context.Background(), &dto.CreateOrderPaymentInvoiceRequest{
				ChatID:    55,
				OrderUUID: pendingOrder.UUID.String(),
			}, metadata)
			require.Error(t, err)
			assert.True(t, businessflow.IsCustomerNotFound(err))
		})

		t.Run("GetInvoice", func(t *testing.T) {
			customer, err := fixtures.CreateTestCustomer()
			require.NoError(t, err)
			stranger, err := fixtures.CreateTestCustomer()
			require.NoError(t, err)

			invoice, err := fixtures.CreateTestDepositInvoice(customer.ID, 50001, decimal.NewFromInt(10))
			require.NoError(t, err)

			found, err := invoiceFlow.GetInvoice(context.Background(), &dto.GetInvoiceRequest{
				ChatID:            customer.ChatID,
				ProviderInvoiceID: invoice.ProviderInvoiceID,
			}, metadata)
			require.NoError(t, err)
			require.NotNil(t, found)
			assert.Equal(t, invoice.ProviderInvoiceID, found.ProviderInvoiceID)
			assert.Equal(t, "10", found.Amount)

			_, err = invoiceFlow.GetInvoice(context.Background(), &dto.GetInvoiceRequest{
				ChatID:            stranger.ChatID,
				ProviderInvoiceID: invoice.ProviderInvoiceID,
			}, metadata)
			require.Error(t, err)
			assert.True(t, businessflow.IsOwnershipMismatch(err))

			_, err = invoiceFlow.GetInvoice(context.Background(), &dto.GetInvoiceRequest{
				ChatID:            customer.ChatID,
				ProviderInvoiceID: 59999,
			}, metadata)
			require.Error(t, err)
			assert.True(t, businessflow.IsInvoiceNotFound(err))
		})

		t.Run("GetInvoicePicksUpMissedPayment", func(t *testing.T) {
			// The webhook never arrived; the provider already shows the
			// invoice paid
			createResp, err := invoiceFlow.CreateDepositInvoice(context.Background(), &dto.CreateDepositInvoiceRequest{
				ChatID: 51005,
				Amount: decimal.NewFromInt(25),
			}, metadata)
			require.NoError(t, err)

			providerInvoiceID := createResp.Invoice.ProviderInvoiceID
			provider.MarkInvoicePaid(providerInvoiceID, decimal.NewFromInt(25), utils.DefaultAsset)

			found, err := invoiceFlow.GetInvoice(context.Background(), &dto.GetInvoiceRequest{
				ChatID:            51005,
				ProviderInvoiceID: providerInvoiceID,
			}, metadata)
			require.NoError(t, err)
			require.NotNil(t, found)
			assert.Equal(t, string(models.InvoiceStatusPaid), found.Status)
			require.NotNil(t, found.PaidAmount)
			assert.Equal(t, "25", *found.PaidAmount)

			// The settlement ran its full effects
			customer, err := customerRepo.ByChatID(context.Background(), 51005)
			require.NoError(t, err)
			account, err := balanceRepo.ByCustomerID(context.Background(), customer.ID)
			require.NoError(t, err)
			require.NotNil(t, account)
			assert.Equal(t, "25", account.Balance.String())

			invoice, err := invoiceRepo.ByProviderInvoiceID(context.Background(), providerInvoiceID)
			require.NoError(t, err)
			assert.NotNil(t, invoice.LedgerAppliedAt)
		})

		t.Run("CancelInvoice", func(t *testing.T) {
			createResp, err := invoiceFlow.CreateDepositInvoice(context.Background(), &dto.CreateDepositInvoiceRequest{
				ChatID: 51006,
				Amount: decimal.NewFromInt(10),
			}, metadata)
			require.NoError(t, err)

			providerInvoiceID := createResp.Invoice.ProviderInvoiceID
			cancelResp, err := invoiceFlow.CancelInvoice(context.Background(), &dto.CancelInvoiceRequest{
				ChatID:            51006,
				ProviderInvoiceID: providerInvoiceID,
			}, metadata)
			require.NoError(t, err)
			require.NotNil(t, cancelResp)
			assert.Equal(t, string(models.InvoiceStatusCancelled), cancelResp.Invoice.Status)

			// The provider invoice is gone, so no payment can land for it
			assert.True(t, provider.Deleted(providerInvoiceID))

			// Cancelling twice finds nothing pending
			_, err = invoiceFlow.CancelInvoice(context.Background(), &dto.CancelInvoiceRequest{
				ChatID:            51006,
				ProviderInvoiceID: providerInvoiceID,
			}, metadata)
			require.Error(t, err)
			assert.True(t, businessflow.IsInvoiceNotPending(err))
		})

		t.Run("CancelPaidInvoiceRejected", func(t *testing.T) {
			createResp, err := invoiceFlow.CreateDepositInvoice(context.Background(), &dto.CreateDepositInvoiceRequest{
				ChatID: 51007,
				Amount: decimal.NewFromInt(10),
			}, metadata)
			require.NoError(t, err)

			providerInvoiceID := createResp.Invoice.ProviderInvoiceID
			_, err = reconcileFlow.HandlePaidEvent(context.Background(), providerInvoiceID, models.PaymentDetails{
				PaidAmount: decimal.NewFromInt(10),
				PaidAsset:  utils.DefaultAsset,
				PaidAt:     utils.UTCNow(),
			})
			require.NoError(t, err)

			_, err = invoiceFlow.CancelInvoice(context.Background(), &dto.CancelInvoiceRequest{
				ChatID:            51007,
				ProviderInvoiceID: providerInvoiceID,
			}, metadata)
			require.Error(t, err)
			assert.True(t, businessflow.IsInvoiceNotPending(err))
		})

		t.Run("ListInvoices", func(t *testing.T) {
			customer, err := fixtures.CreateTestCustomer()
			require.NoError(t, err)

			for _, id := range []int64{50011, 50012, 50013} {
				_, err := fixtures.CreateTestDepositInvoice(customer.ID, id, decimal.NewFromInt(10))
				require.NoError(t, err)
			}
			marked, err := invoiceRepo.MarkPaid(context.Background(), 50013, models.PaymentDetails{
				PaidAmount: decimal.NewFromInt(10),
				PaidAsset:  utils.DefaultAsset,
				PaidAt:     utils.UTCNow(),
			})
			require.NoError(t, err)
			require.True(t, marked)

			all, err := invoiceFlow.ListInvoices(context.Background(), &dto.ListInvoicesRequest{ChatID: customer.ChatID}, metadata)
			require.NoError(t, err)
			assert.Equal(t, int64(3), all.Total)
			assert.Len(t, all.Invoices, 3)
			assert.Equal(t, 1, all.Page)
			assert.Equal(t, 20, all.PageSize)

			pending, err := invoiceFlow.ListInvoices(context.Background(), &dto.ListInvoicesRequest{
				ChatID: customer.ChatID,
				Status: utils.ToPtr(string(models.InvoiceStatusPending)),
			}, metadata)
			require.NoError(t, err)
			assert.Equal(t, int64(2), pending.Total)
			assert.Len(t, pending.Invoices, 2)

			paged, err := invoiceFlow.ListInvoices(context.Background(), &dto.ListInvoicesRequest{
				ChatID:   customer.ChatID,
				Page:     2,
				PageSize: 2,
			}, metadata)
			require.NoError(t, err)
			assert.Equal(t, int64(3), paged.Total)
			assert.Len(t, paged.Invoices, 1)

			_, err = invoiceFlow.ListInvoices(context.Background(), &dto.ListInvoicesRequest{ChatID: 66}, metadata)
			require.Error(t, err)
			assert.True(t, businessflow.IsCustomerNotFound(err))
		})

		return nil
	})
	require.NoError(t, err)
}
