// Package tests contains integration tests for the deposit ledger
package tests

import (
	"context"
	"testing"
	"time"

	"github.com/amirphl/Kusanagi/app/dto"
	businessflow "github.com/amirphl/Kusanagi/business_flow"
	"github.com/amirphl/Kusanagi/models"
	"github.com/amirphl/Kusanagi/repository"
	testingutil "github.com/amirphl/Kusanagi/testing"
	"github.com/amirphl/Kusanagi/utils"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDepositFlow(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)

		// Initialize repositories
		invoiceRepo := repository.NewInvoiceRepository(testDB.DB)
		entryRepo := repository.NewDepositEntryRepository(testDB.DB)
		aggregateRepo := repository.NewDepositAggregateRepository(testDB.DB)
		balanceRepo := repository.NewBalanceAccountRepository(testDB.DB)
		customerRepo := repository.NewCustomerRepository(testDB.DB)

		// Initialize business flow
		depositFlow := businessflow.NewDepositFlow(entryRepo, aggregateRepo, balanceRepo, customerRepo, testDB.DB)

		metadata := businessflow.NewClientMetadata("127.0.0.1", "Test User Agent")

		// paidDeposit settles a deposit invoice the way the reconciler
		// records it, without running the ledger effects
		paidDeposit := func(t *testing.T, customerID uint, providerInvoiceID int64, details models.PaymentDetails) *models.Invoice {
			_, err := fixtures.CreateTestDepositInvoice(customerID, providerInvoiceID, details.PaidAmount)
			require.NoError(t, err)
			marked, err := invoiceRepo.MarkPaid(context.Background(), providerInvoiceID, details)
			require.NoError(t, err)
			require.True(t, marked)
			invoice, err := invoiceRepo.ByProviderInvoiceID(context.Background(), providerInvoiceID)
			require.NoError(t, err)
			require.NotNil(t, invoice)
			return invoice
		}

		usdt := func(amount string) models.PaymentDetails {
			return models.PaymentDetails{
				PaidAmount: decimal.RequireFromString(amount),
				PaidAsset:  utils.DefaultAsset,
				PaidAt:     utils.UTCNow(),
			}
		}

		t.Run("AppendEntryOnce", func(t *testing.T) {
			customer, err := fixtures.CreateTestCustomer()
			require.NoError(t, err)

			invoice := paidDeposit(t, customer.ID, 60001, usdt("10"))

			result, err := depositFlow.AppendEntry(context.Background(), invoice)
			require.NoError(t, err)
			require.NotNil(t, result)
			assert.True(t, result.Appended)
			assert.Equal(t, "10", result.Entry.Amount.String())
			assert.Equal(t, utils.DefaultAsset, result.Entry.Asset)
			require.NotNil(t, result.Aggregate)
			assert.Equal(t, 1, result.Aggregate.DepositsCount)

			// A second append for the same invoice changes nothing
			again, err := depositFlow.AppendEntry(context.Background(), invoice)
			require.NoError(t, err)
			assert.False(t, again.Appended)
			assert.Equal(t, result.Entry.ID, again.Entry.ID)

			aggregate, err := aggregateRepo.ByCustomerID(context.Background(), customer.ID)
			require.NoError(t, err)
			assert.Equal(t, 1, aggregate.DepositsCount)
			assert.Equal(t, "10", aggregate.TotalDeposited.String())

			// The ledger append itself moves no balance; that credit
			// belongs to the reconciler
			account, err := balanceRepo.ByCustomerID(context.Background(), customer.ID)
			require.NoError(t, err)
			assert.Nil(t, account)
		})

		t.Run("RejectsUnsettledInvoice", func(t *testing.T) {
			customer, err := fixtures.CreateTestCustomer()
			require.NoError(t, err)

			pending, err := fixtures.CreateTestDepositInvoice(customer.ID, 60002, decimal.NewFromInt(10))
			require.NoError(t, err)

			_, err = depositFlow.AppendEntry(context.Background(), pending)
			require.Error(t, err)
			assert.True(t, businessflow.IsInvoiceNotPending(err))

			_, err = depositFlow.AppendEntry(context.Background(), nil)
			require.Error(t, err)
		})

		t.Run("FeesAndSwapsRecorded", func(t *testing.T) {
			customer, err := fixtures.CreateTestCustomer()
			require.NoError(t, err)

			// Paid in TON, swapped to USDT, with the provider's fee taken
			details := models.PaymentDetails{
				PaidAmount:    decimal.RequireFromString("2.5"),
				PaidAsset:     "TON",
				FeeAmount:     utils.ToPtr(decimal.RequireFromString("0.3")),
				FeeAsset:      utils.ToPtr(utils.DefaultAsset),
				IsSwapped:     true,
				SwappedTo:     utils.ToPtr(utils.DefaultAsset),
				SwappedAmount: utils.ToPtr(decimal.RequireFromString("9.8")),
				SwappedRate:   utils.ToPtr(decimal.RequireFromString("3.92")),
				PaidAt:        utils.UTCNow(),
			}
			_, err = fixtures.CreateTestDepositInvoice(customer.ID, 60003, decimal.NewFromInt(10))
			require.NoError(t, err)
			marked, err := invoiceRepo.MarkPaid(context.Background(), 60003, details)
			require.NoError(t, err)
			require.True(t, marked)
			invoice, err := invoiceRepo.ByProviderInvoiceID(context.Background(), 60003)
			require.NoError(t, err)

			result, err := depositFlow.AppendEntry(context.Background(), invoice)
			require.NoError(t, err)
			require.True(t, result.Appended)

			// The ledger keeps the settled value in the target asset and
			// remembers what it was swapped from
			entry := result.Entry
			assert.Equal(t, "9.8", entry.Amount.String())
			assert.Equal(t, utils.DefaultAsset, entry.Asset)
			assert.True(t, utils.IsTrue(entry.IsSwapped))
			require.NotNil(t, entry.SwappedFrom)
			assert.Equal(t, "TON", *entry.SwappedFrom)
			require.NotNil(t, entry.FeeAmount)
			assert.Equal(t, "0.3", entry.FeeAmount.String())
			assert.Equal(t, "10", entry.RequestedAmount.String())

			aggregate, err := aggregateRepo.ByCustomerID(context.Background(), customer.ID)
			require.NoError(t, err)
			assert.Equal(t, "9.8", aggregate.TotalDeposited.String())
			assert.Equal(t, "0.3", aggregate.TotalFeesPaid.String())
		})

		t.Run("Summary", func(t *testing.T) {
			customer, err := fixtures.CreateTestCustomer()
			require.NoError(t, err)

			first := paidDeposit(t, customer.ID, 60004, usdt("10"))
			second := paidDeposit(t, customer.ID, 60005, usdt("25"))

			for _, invoice := range []*models.Invoice{first, second} {
				result, err := depositFlow.AppendEntry(context.Background(), invoice)
				require.NoError(t, err)
				require.True(t, result.Appended)
			}
			_, err = balanceRepo.Credit(context.Background(), customer.ID, decimal.NewFromInt(35))
			require.NoError(t, err)

			resp, err := depositFlow.Summary(context.Background(), &dto.DepositSummaryRequest{ChatID: customer.ChatID}, metadata)
			require.NoError(t, err)
			require.NotNil(t, resp)

			assert.Equal(t, customer.ChatID, resp.ChatID)
			assert.Equal(t, 2, resp.DepositsCount)
			assert.Equal(t, "35", resp.TotalDeposited)
			assert.Equal(t, "35", resp.Balance)
			assert.Equal(t, "35", resp.AssetsDeposited[utils.DefaultAsset])
			require.NotNil(t, resp.LargestDepositAmount)
			assert.Equal(t, "25", *resp.LargestDepositAmount)
			require.NotNil(t, resp.LargestDepositInvoiceID)
			assert.Equal(t, int64(60005), *resp.LargestDepositInvoiceID)
			assert.NotNil(t, resp.FirstDepositAt)
			assert.NotNil(t, resp.LastDepositAt)
			assert.Len(t, resp.RecentDeposits, 2)
		})

		t.Run("SummaryForFreshCustomer", func(t *testing.T) {
			customer, err := fixtures.CreateTestCustomer()
			require.NoError(t, err)

			resp, err := depositFlow.Summary(context.Background(), &dto.DepositSummaryRequest{ChatID: customer.ChatID}, metadata)
			require.NoError(t, err)
			require.NotNil(t, resp)
			assert.Zero(t, resp.DepositsCount)
			assert.Equal(t, "0", resp.TotalDeposited)
			assert.Equal(t, "0", resp.Balance)
			assert.Empty(t, resp.AssetsDeposited)
			assert.Empty(t, resp.RecentDeposits)

			_, err = depositFlow.Summary(context.Background(), &dto.DepositSummaryRequest{ChatID: 77}, metadata)
			require.Error(t, err)
			assert.True(t, businessflow.IsCustomerNotFound(err))
		})

		t.Run("History", func(t *testing.T) {
			customer, err := fixtures.CreateTestCustomer()
			require.NoError(t, err)

			// Distinct settle times make the newest-first order observable
			base := utils.UTCNow()
			for i, id := range []int64{60006, 60007, 60008} {
				details := usdt("10")
				details.PaidAt = base.Add(time.Duration(i-2) * time.Hour)
				invoice := paidDeposit(t, customer.ID, id, details)
				result, err := depositFlow.AppendEntry(context.Background(), invoice)
				require.NoError(t, err)
				require.True(t, result.Appended)
			}

			resp, err := depositFlow.History(context.Background(), &dto.DepositHistoryRequest{
				ChatID:   customer.ChatID,
				Page:     1,
				PageSize: 2,
			}, metadata)
			require.NoError(t, err)
			assert.Equal(t, int64(3), resp.Total)
			require.Len(t, resp.Items, 2)
			assert.Equal(t, int64(60008), resp.Items[0].ProviderInvoiceID)
			assert.Equal(t, int64(60007), resp.Items[1].ProviderInvoiceID)

			rest, err := depositFlow.History(context.Background(), &dto.DepositHistoryRequest{
				ChatID:   customer.ChatID,
				Page:     2,
				PageSize: 2,
			}, metadata)
			require.NoError(t, err)
			require.Len(t, rest.Items, 1)
			assert.Equal(t, int64(60006), rest.Items[0].ProviderInvoiceID)

			// Zero paging falls back to the defaults
			defaults, err := depositFlow.History(context.Background(), &dto.DepositHistoryRequest{ChatID: customer.ChatID}, metadata)
			require.NoError(t, err)
			assert.Equal(t, 1, defaults.Page)
			assert.Equal(t, 20, defaults.PageSize)
			assert.Len(t, defaults.Items, 3)
		})

		t.Run("Balance", func(t *testing.T) {
			customer, err := fixtures.CreateTestCustomer()
			require.NoError(t, err)

			resp, err := depositFlow.Balance(context.Background(), &dto.BalanceRequest{ChatID: customer.ChatID}, metadata)
			require.NoError(t, err)
			assert.Equal(t, "0", resp.Balance)

			_, err = balanceRepo.Credit(context.Background(), customer.ID, decimal.NewFromInt(15))
			require.NoError(t, err)

			resp, err = depositFlow.Balance(context.Background(), &dto.BalanceRequest{ChatID: customer.ChatID}, metadata)
			require.NoError(t, err)
			assert.Equal(t, "15", resp.Balance)

			_, err = depositFlow.Balance(context.Background(), &dto.BalanceRequest{ChatID: 88}, metadata)
			require.Error(t, err)
			assert.True(t, businessflow.IsCustomerNotFound(err))
		})

		return nil
	})
	require.NoError(t, err)
}
