package businessflow

import (
	"context"
	"errors"
	"time"

	"github.com/amirphl/Kusanagi/app/dto"
	"github.com/amirphl/Kusanagi/models"
	"github.com/amirphl/Kusanagi/repository"
	"github.com/amirphl/Kusanagi/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DepositFlow defines deposit ledger operations
type DepositFlow interface {
	// AppendEntry records one settled deposit invoice in the ledger and
	// folds it into the customer's aggregate. Safe to call again for
	// the same invoice.
	AppendEntry(ctx context.Context, invoice *models.Invoice) (*AppendEntryResult, error)
	Summary(ctx context.Context, req *dto.DepositSummaryRequest, metadata *ClientMetadata) (*dto.DepositSummaryResponse, error)
	History(ctx context.Context, req *dto.DepositHistoryRequest, metadata *ClientMetadata) (*dto.DepositHistoryResponse, error)
	Balance(ctx context.Context, req *dto.BalanceRequest, metadata *ClientMetadata) (*dto.BalanceResponse, error)
}

// AppendEntryResult reports what AppendEntry did. Appended is false when
// the invoice was already in the ledger.
type AppendEntryResult struct {
	Entry     *models.DepositEntry
	Aggregate *models.DepositAggregate
	Appended  bool
}

// DepositFlowImpl implements DepositFlow
type DepositFlowImpl struct {
	entryRepo     repository.DepositEntryRepository
	aggregateRepo repository.DepositAggregateRepository
	balanceRepo   repository.BalanceAccountRepository
	customerRepo  repository.CustomerRepository
	db            *gorm.DB
}

func NewDepositFlow(
	entryRepo repository.DepositEntryRepository,
	aggregateRepo repository.DepositAggregateRepository,
	balanceRepo repository.BalanceAccountRepository,
	customerRepo repository.CustomerRepository,
	db *gorm.DB,
) DepositFlow {
	return &DepositFlowImpl{
		entryRepo:     entryRepo,
		aggregateRepo: aggregateRepo,
		balanceRepo:   balanceRepo,
		customerRepo:  customerRepo,
		db:            db,
	}
}

func (f *DepositFlowImpl) AppendEntry(ctx context.Context, invoice *models.Invoice) (*AppendEntryResult, error) {
	if invoice == nil || !invoice.IsPaid() {
		return nil, NewBusinessError("DEPOSIT_ENTRY_VALIDATION_FAILED", "Only paid invoices enter the ledger", ErrInvoiceNotPending)
	}

	var result *AppendEntryResult
	err := repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		existing, err := f.entryRepo.ByProviderInvoiceID(txCtx, invoice.ProviderInvoiceID)
		if err != nil {
			return err
		}
		if existing != nil {
			result = &AppendEntryResult{Entry: existing, Appended: false}
			return nil
		}

		entry := entryFromInvoice(invoice)
		if err := f.entryRepo.Save(txCtx, entry); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				// A concurrent append won between the read and the
				// insert; the unique index is the authority
				existing, rerr := f.entryRepo.ByProviderInvoiceID(txCtx, invoice.ProviderInvoiceID)
				if rerr != nil {
					return rerr
				}
				result = &AppendEntryResult{Entry: existing, Appended: false}
				return nil
			}
			return err
		}

		aggregate, err := f.absorbLocked(txCtx, entry)
		if err != nil {
			return err
		}

		result = &AppendEntryResult{Entry: entry, Aggregate: aggregate, Appended: true}
		return nil
	})
	if err != nil {
		return nil, NewBusinessError("DEPOSIT_ENTRY_FAILED", "Failed to record deposit", err)
	}
	return result, nil
}

// absorbLocked folds the entry into the customer's aggregate under a row
// lock. A first deposit creates the row; a create race surfaces as a
// unique violation and rolls the transaction back for retry.
func (f *DepositFlowImpl) absorbLocked(ctx context.Context, entry *models.DepositEntry) (*models.DepositAggregate, error) {
	aggregate, err := f.aggregateRepo.ByCustomerIDForUpdate(ctx, entry.CustomerID)
	if err != nil {
		return nil, err
	}
	now := utils.UTCNow()
	if aggregate == nil {
		aggregate = &models.DepositAggregate{CustomerID: entry.CustomerID}
		if err := aggregate.Absorb(entry, now); err != nil {
			return nil, err
		}
		if err := f.aggregateRepo.Save(ctx, aggregate); err != nil {
			return nil, err
		}
		return aggregate, nil
	}
	if err := aggregate.Absorb(entry, now); err != nil {
		return nil, err
	}
	if err := f.aggregateRepo.Update(ctx, aggregate); err != nil {
		return nil, err
	}
	return aggregate, nil
}

func entryFromInvoice(invoice *models.Invoice) *models.DepositEntry {
	settledAmount, settledAsset := invoice.SettledAmount()
	depositedAt := utils.UTCNow()
	if invoice.PaidAt != nil {
		depositedAt = *invoice.PaidAt
	}

	entry := &models.DepositEntry{
		ProviderInvoiceID: invoice.ProviderInvoiceID,
		CustomerID:        invoice.CustomerID,
		Amount:            settledAmount,
		Asset:             settledAsset,
		FeeAmount:         invoice.FeeAmount,
		FeeAsset:          invoice.FeeAsset,
		RequestedAmount:   invoice.Amount,
		RequestedAsset:    invoice.Asset,
		DepositedAt:       depositedAt,
	}
	if utils.IsTrue(invoice.IsSwapped) {
		entry.IsSwapped = utils.ToPtr(true)
		// The paid asset is what the swap converted away from
		entry.SwappedFrom = invoice.PaidAsset
		entry.SwappedRate = invoice.SwappedRate
	}
	return entry
}

func (f *DepositFlowImpl) Summary(ctx context.Context, req *dto.DepositSummaryRequest, metadata *ClientMetadata) (*dto.DepositSummaryResponse, error) {
	if req == nil {
		return nil, NewBusinessError("DEPOSIT_SUMMARY_VALIDATION_FAILED", "Request is required", ErrCustomerNotFound)
	}

	customer, err := f.customerRepo.ByChatID(ctx, req.ChatID)
	if err != nil {
		return nil, NewBusinessError("CUSTOMER_LOOKUP_FAILED", "Failed to lookup customer", err)
	}
	if customer == nil {
		return nil, NewBusinessError("CUSTOMER_NOT_FOUND", "Customer not found", ErrCustomerNotFound)
	}

	resp := &dto.DepositSummaryResponse{
		ChatID:          req.ChatID,
		TotalDeposited:  decimal.Zero.String(),
		TotalFeesPaid:   decimal.Zero.String(),
		AssetsDeposited: map[string]string{},
		Balance:         decimal.Zero.String(),
	}

	aggregate, err := f.aggregateRepo.ByCustomerID(ctx, customer.ID)
	if err != nil {
		return nil, NewBusinessError("DEPOSIT_SUMMARY_FAILED", "Failed to load deposit summary", err)
	}
	if aggregate != nil {
		resp.DepositsCount = aggregate.DepositsCount
		resp.TotalDeposited = aggregate.TotalDeposited.String()
		resp.TotalFeesPaid = aggregate.TotalFeesPaid.String()

		totals, err := aggregate.AssetTotals()
		if err != nil {
			return nil, NewBusinessError("DEPOSIT_SUMMARY_FAILED", "Failed to decode asset totals", err)
		}
		for asset, amount := range totals {
			resp.AssetsDeposited[asset] = amount.String()
		}

		if aggregate.FirstDepositAt != nil {
			first := aggregate.FirstDepositAt.Format(time.RFC3339)
			resp.FirstDepositAt = &first
		}
		if aggregate.LastDepositAt != nil {
			last := aggregate.LastDepositAt.Format(time.RFC3339)
			resp.LastDepositAt = &last
		}
		if aggregate.LargestDepositAmount != nil {
			largest := aggregate.LargestDepositAmount.String()
			resp.LargestDepositAmount = &largest
			resp.LargestDepositInvoiceID = aggregate.LargestDepositInvoiceID
		}
	}

	entries, err := f.entryRepo.ListByCustomer(ctx, customer.ID, 5, 0)
	if err != nil {
		return nil, NewBusinessError("DEPOSIT_SUMMARY_FAILED", "Failed to load recent deposits", err)
	}
	for _, entry := range entries {
		resp.RecentDeposits = append(resp.RecentDeposits, ToDepositEntryDTO(*entry))
	}

	account, err := f.balanceRepo.ByCustomerID(ctx, customer.ID)
	if err != nil {
		return nil, NewBusinessError("DEPOSIT_SUMMARY_FAILED", "Failed to load balance", err)
	}
	if account != nil {
		resp.Balance = account.Balance.String()
	}

	return resp, nil
}

func (f *DepositFlowImpl) History(ctx context.Context, req *dto.DepositHistoryRequest, metadata *ClientMetadata) (*dto.DepositHistoryResponse, error) {
	if req == nil {
		return nil, NewBusinessError("DEPOSIT_HISTORY_VALIDATION_FAILED", "Request is required", ErrCustomerNotFound)
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

	entries, err := f.entryRepo.ListByCustomer(ctx, customer.ID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, NewBusinessError("DEPOSIT_HISTORY_FAILED", "Failed to load deposits", err)
	}
	total, err := f.entryRepo.Count(ctx, models.DepositEntryFilter{CustomerID: &customer.ID})
	if err != nil {
		return nil, NewBusinessError("DEPOSIT_HISTORY_FAILED", "Failed to count deposits", err)
	}

	resp := &dto.DepositHistoryResponse{
		Items:    make([]dto.DepositHistoryItemDTO, 0, len(entries)),
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}
	for _, entry := range entries {
		resp.Items = append(resp.Items, ToDepositEntryDTO(*entry))
	}
	return resp, nil
}

func (f *DepositFlowImpl) Balance(ctx context.Context, req *dto.BalanceRequest, metadata *ClientMetadata) (*dto.BalanceResponse, error) {
	if req == nil {
		return nil, NewBusinessError("BALANCE_VALIDATION_FAILED", "Request is required", ErrCustomerNotFound)
	}

	customer, err := f.customerRepo.ByChatID(ctx, req.ChatID)
	if err != nil {
		return nil, NewBusinessError("CUSTOMER_LOOKUP_FAILED", "Failed to lookup customer", err)
	}
	if customer == nil {
		return nil, NewBusinessError("CUSTOMER_NOT_FOUND", "Customer not found", ErrCustomerNotFound)
	}

	resp := &dto.BalanceResponse{ChatID: req.ChatID, Balance: decimal.Zero.String()}
	account, err := f.balanceRepo.ByCustomerID(ctx, customer.ID)
	if err != nil {
		return nil, NewBusinessError("BALANCE_LOOKUP_FAILED", "Failed to load balance", err)
	}
	if account != nil {
		resp.Balance = account.Balance.String()
	}
	return resp, nil
}
