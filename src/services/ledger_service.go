package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/username/bankfolio/backend/src/logger"
	"github.com/username/bankfolio/backend/src/model"
)

type ledgerService struct {
	db *sql.DB
}

func NewLedgerService(db *sql.DB) LedgerService {
	return &ledgerService{db: db}
}

func balanceColumn(account string) (string, error) {
	switch account {
	case model.AccountFiat:
		return "balance", nil
	case model.AccountCrypto:
		return "crypto_balance", nil
	}
	return "", fmt.Errorf("unknown account type %q", account)
}

func validAmount(amount float64) bool {
	return !math.IsNaN(amount) && !math.IsInf(amount, 0) && amount > 0
}

// applyDelta mutates one balance column inside tx and returns the new
// balance. Debits use a conditional update so the sufficient-funds check
// and the subtraction are a single statement; two concurrent debits can
// never both observe the same pre-mutation balance.
func applyDelta(tx *sql.Tx, userID int64, column string, amount float64, debit bool) (float64, error) {
	var res sql.Result
	var err error
	now := time.Now()
	if debit {
		// #nosec G201 -- column is one of two compile-time constants
		res, err = tx.Exec(fmt.Sprintf(
			`UPDATE users SET %s = %s - ?, updated_at = ? WHERE id = ? AND %s >= ?`,
			column, column, column),
			amount, now, userID, amount)
	} else {
		res, err = tx.Exec(fmt.Sprintf(
			`UPDATE users SET %s = %s + ?, updated_at = ? WHERE id = ?`,
			column, column),
			amount, now, userID)
	}
	if err != nil {
		return 0, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		// Either the user does not exist or a debit failed the funds
		// check. Tell them apart.
		var exists int
		err = tx.QueryRow(`SELECT 1 FROM users WHERE id = ?`, userID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		if err != nil {
			return 0, err
		}
		return 0, ErrInsufficientFunds
	}

	var newBalance float64
	// #nosec G201 -- see above
	if err := tx.QueryRow(fmt.Sprintf(`SELECT %s FROM users WHERE id = ?`, column), userID).Scan(&newBalance); err != nil {
		return 0, err
	}
	return newBalance, nil
}

func (s *ledgerService) Record(ctx context.Context, userID int64, account, entryType string, amount float64, currency, description string) (*model.LedgerEntry, error) {
	if !model.ValidEntryType(entryType) {
		return nil, ErrInvalidEntryType
	}
	if !validAmount(amount) {
		return nil, ErrInvalidAmount
	}
	column, err := balanceColumn(account)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	newBalance, err := applyDelta(tx, userID, column, amount, model.IsDebitType(entryType))
	if err != nil {
		return nil, err
	}

	entry := &model.LedgerEntry{
		UserID:       userID,
		Type:         entryType,
		Amount:       amount,
		Currency:     currency,
		Description:  description,
		BalanceAfter: newBalance,
	}
	if err := model.InsertLedgerEntry(tx, entry); err != nil {
		return nil, err
	}

	// Withdrawals notify the account owner. The intent rides in the same
	// transaction as the mutation; the outbox dispatcher delivers it.
	if entryType == model.EntryWithdrawal {
		if err := s.enqueueWithdrawalAlert(tx, userID, amount, currency, newBalance); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("Ledger entry recorded",
		"userID", userID, "type", entryType, "amount", amount, "balanceAfter", newBalance)
	return entry, nil
}

func (s *ledgerService) enqueueWithdrawalAlert(tx *sql.Tx, userID int64, amount float64, currency string, balanceAfter float64) error {
	var email, username string
	if err := tx.QueryRow(`SELECT email, username FROM users WHERE id = ?`, userID).Scan(&email, &username); err != nil {
		return err
	}
	n := &model.OutboxNotification{
		UserID:    userID,
		Kind:      model.NotificationWithdrawal,
		Recipient: email,
		Subject:   "Withdrawal confirmation",
		Body: fmt.Sprintf("Hi %s,\n\nA withdrawal of %.2f %s was made from your account. Your new balance is %.2f %s.\n\nIf you did not make this withdrawal, contact support immediately.\n",
			username, amount, currency, balanceAfter, currency),
	}
	return model.EnqueueNotification(tx, n)
}

func (s *ledgerService) Transfer(ctx context.Context, fromUserID, toUserID int64, amount float64, currency, description string) (*model.LedgerEntry, *model.LedgerEntry, error) {
	if fromUserID == toUserID {
		return nil, nil, ErrSameAccount
	}
	if !validAmount(amount) {
		return nil, nil, ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	fromBalance, err := applyDelta(tx, fromUserID, "balance", amount, true)
	if err != nil {
		return nil, nil, err
	}
	toBalance, err := applyDelta(tx, toUserID, "balance", amount, false)
	if err != nil {
		return nil, nil, err
	}

	outEntry := &model.LedgerEntry{
		UserID:        fromUserID,
		Type:          model.EntryTransferOut,
		Amount:        amount,
		Currency:      currency,
		Description:   description,
		BalanceAfter:  fromBalance,
		RelatedUserID: sql.NullInt64{Int64: toUserID, Valid: true},
	}
	if err := model.InsertLedgerEntry(tx, outEntry); err != nil {
		return nil, nil, err
	}

	inEntry := &model.LedgerEntry{
		UserID:        toUserID,
		Type:          model.EntryTransferIn,
		Amount:        amount,
		Currency:      currency,
		Description:   description,
		BalanceAfter:  toBalance,
		RelatedUserID: sql.NullInt64{Int64: fromUserID, Valid: true},
	}
	if err := model.InsertLedgerEntry(tx, inEntry); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	logger.FromContext(ctx).Info("Transfer recorded",
		"fromUserID", fromUserID, "toUserID", toUserID, "amount", amount)
	return outEntry, inEntry, nil
}
