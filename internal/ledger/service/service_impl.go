package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/yardcraft/internal/account/domain"
	"github.com/smallbiznis/yardcraft/internal/clock"
	"github.com/smallbiznis/yardcraft/internal/config"
	"github.com/smallbiznis/yardcraft/internal/events"
	"github.com/smallbiznis/yardcraft/internal/funding"
	ledgerdomain "github.com/smallbiznis/yardcraft/internal/ledger/domain"
	obslogger "github.com/smallbiznis/yardcraft/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/yardcraft/internal/observability/metrics"
	"github.com/smallbiznis/yardcraft/pkg/db"
	"github.com/smallbiznis/yardcraft/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Accounts   accountdomain.Repository
	Clock      clock.Clock
	Policy     *config.GenerationPolicyHolder
	Events     events.Publisher    `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	accounts   accountdomain.Repository
	clock      clock.Clock
	policy     *config.GenerationPolicyHolder
	events     events.Publisher
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	publisher := p.Events
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		accounts:   p.Accounts,
		clock:      p.Clock,
		policy:     p.Policy,
		events:     publisher,
		obsMetrics: p.ObsMetrics,
	}
}

// Reserve resolves the funding source and charges it on the same locked
// account row, then runs req.Persist in that transaction.
func (s *Service) Reserve(ctx context.Context, req ledgerdomain.ReserveRequest) (ledgerdomain.Reservation, error) {
	if req.AccountID == 0 {
		return ledgerdomain.Reservation{}, ledgerdomain.ErrInvalidAccount
	}
	if req.Units < 1 {
		return ledgerdomain.Reservation{}, ledgerdomain.ErrInvalidUnits
	}

	var (
		reservation ledgerdomain.Reservation
		recorded    ledgerdomain.Transaction
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.lockAccount(ctx, tx, req.AccountID)
		if err != nil {
			return err
		}

		source, err := funding.Resolve(*account, s.clock.Now(), s.policy.Get().PastDueGrace)
		if err != nil {
			return err
		}

		generationID := req.GenerationID
		recorded, err = s.applyDebit(ctx, tx, account, source, req.Units, req.Description, optionalID(generationID))
		if err != nil {
			return err
		}

		reservation = ledgerdomain.Reservation{
			TransactionID: recorded.ID,
			Source:        source,
			Units:         req.Units,
			BalanceAfter:  recorded.BalanceAfter,
		}
		if req.Persist != nil {
			return req.Persist(ctx, tx, reservation)
		}
		return nil
	})
	if err != nil {
		var denied *funding.DeniedError
		switch {
		case errors.As(err, &denied):
			s.obsMetrics.RecordDenial(ctx, "no_funding_source")
		case errors.Is(err, ledgerdomain.ErrInsufficientFunds):
			s.obsMetrics.RecordDenial(ctx, "insufficient_funds")
		}
		return ledgerdomain.Reservation{}, err
	}

	s.recorded(ctx, recorded)
	return reservation, nil
}

// Debit charges an explicit source. Callers that need the priority rules
// use Reserve instead.
func (s *Service) Debit(ctx context.Context, req ledgerdomain.DebitRequest) (ledgerdomain.Transaction, error) {
	if req.Units < 1 {
		return ledgerdomain.Transaction{}, ledgerdomain.ErrInvalidUnits
	}
	if !req.Source.Valid() {
		return ledgerdomain.Transaction{}, ledgerdomain.ErrInvalidSource
	}

	var recorded ledgerdomain.Transaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.lockAccount(ctx, tx, req.AccountID)
		if err != nil {
			return err
		}
		recorded, err = s.applyDebit(ctx, tx, account, req.Source, req.Units, req.Description, req.GenerationID)
		return err
	})
	if err != nil {
		return ledgerdomain.Transaction{}, err
	}
	s.recorded(ctx, recorded)
	return recorded, nil
}

// Credit returns units to a source. Subscription credits only write a
// zero-amount audit row.
func (s *Service) Credit(ctx context.Context, req ledgerdomain.CreditRequest) (ledgerdomain.Transaction, error) {
	if req.Units < 1 {
		return ledgerdomain.Transaction{}, ledgerdomain.ErrInvalidUnits
	}
	if !req.Source.Valid() {
		return ledgerdomain.Transaction{}, ledgerdomain.ErrInvalidSource
	}

	var recorded ledgerdomain.Transaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.lockAccount(ctx, tx, req.AccountID)
		if err != nil {
			return err
		}
		row := s.newCreditRow(account, req.Source, req.Units, req.Reason, req.GenerationID)
		if err := s.insertTransaction(ctx, tx, &row); err != nil {
			return err
		}
		recorded = row
		return s.applyCredit(ctx, tx, account.ID, req.Source, req.Units)
	})
	if err != nil {
		return ledgerdomain.Transaction{}, err
	}
	s.recorded(ctx, recorded)
	return recorded, nil
}

// RefundArea credits one unit for a failed area. The refund reference is
// unique per area item, so a second call finds the row already present and
// returns ErrAlreadyRefunded without touching balances.
func (s *Service) RefundArea(ctx context.Context, req ledgerdomain.RefundRequest) (ledgerdomain.Transaction, error) {
	if req.AreaItemID == 0 || req.GenerationID == 0 {
		return ledgerdomain.Transaction{}, ledgerdomain.ErrInvalidReference
	}
	if !req.Source.Valid() {
		return ledgerdomain.Transaction{}, ledgerdomain.ErrInvalidSource
	}

	var recorded ledgerdomain.Transaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.lockAccount(ctx, tx, req.AccountID)
		if err != nil {
			return err
		}

		reason := strings.TrimSpace(req.Reason)
		if reason == "" {
			reason = "area generation failed"
		}
		generationID := req.GenerationID
		areaItemID := req.AreaItemID
		reference := ledgerdomain.RefundReference(areaItemID)

		row := s.newCreditRow(account, req.Source, 1, reason, &generationID)
		row.ExternalReference = &reference
		row.AreaItemID = &areaItemID

		inserted, err := s.insertTransactionOnce(ctx, tx, &row)
		if err != nil {
			return err
		}
		if !inserted {
			return ledgerdomain.ErrAlreadyRefunded
		}

		if err := markAreaRefunded(ctx, tx, generationID, areaItemID, row.CreatedAt); err != nil {
			return err
		}
		if err := s.applyCredit(ctx, tx, account.ID, req.Source, 1); err != nil {
			return err
		}
		recorded = row
		return nil
	})
	if err != nil {
		return ledgerdomain.Transaction{}, err
	}

	s.recorded(ctx, recorded)
	return recorded, nil
}

// markAreaRefunded stamps the area item and bumps the request's refund
// counter, refusing to refund more units than the request was charged.
func markAreaRefunded(ctx context.Context, tx *gorm.DB, generationID, areaItemID snowflake.ID, at time.Time) error {
	result := tx.WithContext(ctx).Exec(
		`UPDATE generation_area_items SET refunded_at = ?
		 WHERE id = ? AND generation_id = ? AND status = 'failed' AND refunded_at IS NULL`,
		at, areaItemID, generationID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ledgerdomain.ErrAlreadyRefunded
	}

	result = tx.WithContext(ctx).Exec(
		`UPDATE generation_requests SET units_refunded = units_refunded + 1, updated_at = ?
		 WHERE id = ? AND units_refunded < units_debited`,
		at, generationID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ledgerdomain.ErrRefundExceedsDebit
	}
	return nil
}

// CreditPurchase inserts the purchase row first and credits only when the
// insert took effect, all in one transaction. A replayed provider reference
// returns ErrDuplicateReference with no balance change.
func (s *Service) CreditPurchase(ctx context.Context, req ledgerdomain.PurchaseCredit) (ledgerdomain.Transaction, error) {
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		return ledgerdomain.Transaction{}, ledgerdomain.ErrInvalidReference
	}
	if req.Tokens < 1 {
		return ledgerdomain.Transaction{}, ledgerdomain.ErrInvalidUnits
	}
	txType := req.Type
	switch txType {
	case "":
		txType = ledgerdomain.TypePurchase
	case ledgerdomain.TypePurchase, ledgerdomain.TypeAutoReload:
	default:
		return ledgerdomain.Transaction{}, fmt.Errorf("credit purchase with type %q: %w", txType, ledgerdomain.ErrInvalidSource)
	}

	var recorded ledgerdomain.Transaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.lockAccount(ctx, tx, req.AccountID)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		row := ledgerdomain.Transaction{
			ID:                s.genID.Generate(),
			AccountID:         account.ID,
			Amount:            req.Tokens,
			TransactionType:   txType,
			PaymentSource:     funding.SourceToken,
			Description:       defaultString(req.Description, fmt.Sprintf("%d token purchase", req.Tokens)),
			ExternalReference: &reference,
			BalanceAfter:      account.TokenBalance + req.Tokens,
			CreatedAt:         now,
		}
		inserted, err := s.insertTransactionOnce(ctx, tx, &row)
		if err != nil {
			return err
		}
		if !inserted {
			return ledgerdomain.ErrDuplicateReference
		}

		if err := s.applyCredit(ctx, tx, account.ID, funding.SourceToken, int(req.Tokens)); err != nil {
			return err
		}
		if txType == ledgerdomain.TypeAutoReload {
			if err := s.accounts.ClearAutoReloadPending(ctx, tx, account.ID, now); err != nil {
				return err
			}
		}
		recorded = row
		return nil
	})
	if err != nil {
		return ledgerdomain.Transaction{}, err
	}

	s.recorded(ctx, recorded)
	return recorded, nil
}

// Adjust applies an operator correction to the token balance.
func (s *Service) Adjust(ctx context.Context, req ledgerdomain.Adjustment) (ledgerdomain.Transaction, error) {
	if req.Delta == 0 {
		return ledgerdomain.Transaction{}, ledgerdomain.ErrInvalidUnits
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return ledgerdomain.Transaction{}, fmt.Errorf("adjustment requires a reason: %w", ledgerdomain.ErrInvalidReference)
	}

	var recorded ledgerdomain.Transaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.lockAccount(ctx, tx, req.AccountID)
		if err != nil {
			return err
		}
		if account.TokenBalance+req.Delta < 0 {
			return ledgerdomain.ErrInsufficientFunds
		}

		row := ledgerdomain.Transaction{
			ID:              s.genID.Generate(),
			AccountID:       account.ID,
			Amount:          req.Delta,
			TransactionType: ledgerdomain.TypeAdjustment,
			PaymentSource:   funding.SourceToken,
			Description:     reason,
			BalanceAfter:    account.TokenBalance + req.Delta,
			CreatedAt:       s.clock.Now(),
		}
		if ref := strings.TrimSpace(req.Reference); ref != "" {
			row.ExternalReference = &ref
			inserted, err := s.insertTransactionOnce(ctx, tx, &row)
			if err != nil {
				return err
			}
			if !inserted {
				return ledgerdomain.ErrDuplicateReference
			}
		} else if err := s.insertTransaction(ctx, tx, &row); err != nil {
			return err
		}

		result := tx.WithContext(ctx).Exec(
			`UPDATE accounts SET token_balance = token_balance + ?, updated_at = ?
			 WHERE id = ? AND token_balance + ? >= 0`,
			req.Delta, row.CreatedAt, account.ID, req.Delta,
		)
		if result.Error != nil {
			return translateBalanceErr(result.Error)
		}
		if result.RowsAffected == 0 {
			return ledgerdomain.ErrInsufficientFunds
		}
		recorded = row
		return nil
	})
	if err != nil {
		return ledgerdomain.Transaction{}, err
	}

	s.log.Warn("balance adjusted",
		zap.String("account_id", recorded.AccountID.String()),
		zap.Int64("delta", recorded.Amount),
		zap.String("reason", recorded.Description),
	)
	s.recorded(ctx, recorded)
	return recorded, nil
}

func (s *Service) ListTransactions(ctx context.Context, accountID snowflake.ID, page pagination.Pagination) (ledgerdomain.ListTransactionsResponse, error) {
	cursor, err := pagination.DecodeCursor(page.PageToken)
	if err != nil {
		return ledgerdomain.ListTransactionsResponse{}, fmt.Errorf("decode page token: %w", ledgerdomain.ErrInvalidReference)
	}
	limit := page.Limit()

	stmt := s.db.WithContext(ctx).
		Model(&ledgerdomain.Transaction{}).
		Where("account_id = ?", accountID)
	if cursor > 0 {
		stmt = stmt.Where("id < ?", cursor)
	}

	var rows []ledgerdomain.Transaction
	if err := stmt.Order("id desc").Limit(limit + 1).Find(&rows).Error; err != nil {
		return ledgerdomain.ListTransactionsResponse{}, err
	}

	rows, info := pagination.Page(rows, limit, func(t ledgerdomain.Transaction) int64 { return int64(t.ID) })
	return ledgerdomain.ListTransactionsResponse{PageInfo: info, Transactions: rows}, nil
}

func (s *Service) lockAccount(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*accountdomain.Account, error) {
	account, err := s.accounts.FindByIDForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ledgerdomain.ErrAccountNotFound
	}
	return account, nil
}

// applyDebit guards every balance update with a conditional WHERE in
// addition to the row lock; the CHECK constraints are the last line.
func (s *Service) applyDebit(
	ctx context.Context,
	tx *gorm.DB,
	account *accountdomain.Account,
	source funding.Source,
	units int,
	description string,
	generationID *snowflake.ID,
) (ledgerdomain.Transaction, error) {
	now := s.clock.Now()
	row := ledgerdomain.Transaction{
		ID:            s.genID.Generate(),
		AccountID:     account.ID,
		PaymentSource: source,
		Description:   defaultString(description, fmt.Sprintf("%d area generation", units)),
		GenerationID:  generationID,
		CreatedAt:     now,
	}

	var result *gorm.DB
	switch source {
	case funding.SourceSubscription:
		row.TransactionType = ledgerdomain.TypeSubscriptionUse
		row.Amount = 0
		row.BalanceAfter = 0
	case funding.SourceTrial:
		if account.TrialRemaining < units {
			return ledgerdomain.Transaction{}, &ledgerdomain.ShortfallError{
				Source: source, Available: int64(account.TrialRemaining), Requested: units,
			}
		}
		row.TransactionType = ledgerdomain.TypeTrialDebit
		row.Amount = -int64(units)
		row.BalanceAfter = int64(account.TrialRemaining - units)
		result = tx.WithContext(ctx).Exec(
			`UPDATE accounts SET trial_remaining = trial_remaining - ?, trial_used = trial_used + ?, updated_at = ?
			 WHERE id = ? AND trial_remaining >= ?`,
			units, units, now, account.ID, units,
		)
	case funding.SourceToken:
		if account.TokenBalance < int64(units) {
			return ledgerdomain.Transaction{}, &ledgerdomain.ShortfallError{
				Source: source, Available: account.TokenBalance, Requested: units,
			}
		}
		row.TransactionType = ledgerdomain.TypeGenerationDebit
		row.Amount = -int64(units)
		row.BalanceAfter = account.TokenBalance - int64(units)
		result = tx.WithContext(ctx).Exec(
			`UPDATE accounts SET token_balance = token_balance - ?, updated_at = ?
			 WHERE id = ? AND token_balance >= ?`,
			units, now, account.ID, units,
		)
	default:
		return ledgerdomain.Transaction{}, ledgerdomain.ErrInvalidSource
	}

	if result != nil {
		if result.Error != nil {
			return ledgerdomain.Transaction{}, translateBalanceErr(result.Error)
		}
		if result.RowsAffected == 0 {
			return ledgerdomain.Transaction{}, ledgerdomain.ErrInsufficientFunds
		}
	}

	if err := s.insertTransaction(ctx, tx, &row); err != nil {
		return ledgerdomain.Transaction{}, err
	}
	return row, nil
}

func (s *Service) newCreditRow(account *accountdomain.Account, source funding.Source, units int, reason string, generationID *snowflake.ID) ledgerdomain.Transaction {
	row := ledgerdomain.Transaction{
		ID:            s.genID.Generate(),
		AccountID:     account.ID,
		PaymentSource: source,
		Description:   defaultString(reason, "credit"),
		GenerationID:  generationID,
		CreatedAt:     s.clock.Now(),
	}
	switch source {
	case funding.SourceSubscription:
		row.TransactionType = ledgerdomain.TypeRefund
	case funding.SourceTrial:
		row.TransactionType = ledgerdomain.TypeTrialRefund
		row.Amount = int64(units)
		row.BalanceAfter = int64(account.TrialRemaining + units)
	case funding.SourceToken:
		row.TransactionType = ledgerdomain.TypeRefund
		row.Amount = int64(units)
		row.BalanceAfter = account.TokenBalance + int64(units)
	}
	return row
}

// applyCredit restores units. A trial credit moves units from trial_used
// back to trial_remaining so their sum never grows past the grant.
func (s *Service) applyCredit(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, source funding.Source, units int) error {
	now := s.clock.Now()
	var result *gorm.DB
	switch source {
	case funding.SourceSubscription:
		return nil
	case funding.SourceTrial:
		result = tx.WithContext(ctx).Exec(
			`UPDATE accounts SET trial_remaining = trial_remaining + ?, trial_used = trial_used - ?, updated_at = ?
			 WHERE id = ? AND trial_used >= ?`,
			units, units, now, accountID, units,
		)
	case funding.SourceToken:
		result = tx.WithContext(ctx).Exec(
			`UPDATE accounts SET token_balance = token_balance + ?, updated_at = ? WHERE id = ?`,
			units, now, accountID,
		)
	default:
		return ledgerdomain.ErrInvalidSource
	}
	if result.Error != nil {
		return translateBalanceErr(result.Error)
	}
	if result.RowsAffected == 0 {
		return ledgerdomain.ErrRefundExceedsDebit
	}
	return nil
}

func (s *Service) insertTransaction(ctx context.Context, tx *gorm.DB, row *ledgerdomain.Transaction) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO ledger_transactions (
			id, account_id, amount, transaction_type, payment_source, description,
			external_reference, generation_id, area_item_id, balance_after, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.AccountID, row.Amount, row.TransactionType, row.PaymentSource, row.Description,
		row.ExternalReference, row.GenerationID, row.AreaItemID, row.BalanceAfter, row.CreatedAt,
	).Error
}

// insertTransactionOnce relies on the unique external_reference index and
// reports whether this call created the row.
func (s *Service) insertTransactionOnce(ctx context.Context, tx *gorm.DB, row *ledgerdomain.Transaction) (bool, error) {
	result := tx.WithContext(ctx).Exec(
		`INSERT INTO ledger_transactions (
			id, account_id, amount, transaction_type, payment_source, description,
			external_reference, generation_id, area_item_id, balance_after, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (external_reference) DO NOTHING`,
		row.ID, row.AccountID, row.Amount, row.TransactionType, row.PaymentSource, row.Description,
		row.ExternalReference, row.GenerationID, row.AreaItemID, row.BalanceAfter, row.CreatedAt,
	)
	if result.Error != nil {
		if db.IsDuplicateKeyErr(result.Error) {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (s *Service) recorded(ctx context.Context, row ledgerdomain.Transaction) {
	s.obsMetrics.RecordLedgerEntry(ctx, string(row.TransactionType), row.Amount)
	obslogger.WithContext(ctx, s.log).Info("ledger transaction recorded",
		zap.String("transaction_id", row.ID.String()),
		zap.String("account_id", row.AccountID.String()),
		zap.String("transaction_type", string(row.TransactionType)),
		zap.String("payment_source", row.PaymentSource.String()),
		zap.Int64("amount", row.Amount),
		zap.Int64("balance_after", row.BalanceAfter),
	)

	payload := map[string]any{
		"transaction_id":   row.ID.String(),
		"transaction_type": string(row.TransactionType),
		"payment_source":   row.PaymentSource.String(),
		"amount":           row.Amount,
		"balance_after":    row.BalanceAfter,
	}
	if row.GenerationID != nil {
		payload["generation_id"] = row.GenerationID.String()
	}
	if err := s.events.Publish(ctx, events.Event{
		Type:       events.EventLedgerRecorded,
		Key:        row.AccountID.String(),
		Payload:    payload,
		OccurredAt: row.CreatedAt,
	}); err != nil {
		s.log.Warn("failed to publish ledger event", zap.Error(err))
	}
}

func translateBalanceErr(err error) error {
	if db.IsCheckViolation(err) {
		return ledgerdomain.ErrInsufficientFunds
	}
	return err
}

func optionalID(id snowflake.ID) *snowflake.ID {
	if id == 0 {
		return nil
	}
	return &id
}

func defaultString(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}
