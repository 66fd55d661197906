package services

import (
	"context"
	"database/sql"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/bankfolio/backend/src/logger"
	"github.com/username/bankfolio/backend/src/model"
	_ "modernc.org/sqlite"
)

const testSchema = `
CREATE TABLE users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    username TEXT NOT NULL UNIQUE,
    email TEXT NOT NULL UNIQUE,
    password TEXT NOT NULL,
    role TEXT NOT NULL DEFAULT 'user',
    auth_provider TEXT NOT NULL DEFAULT 'local',
    verified INTEGER NOT NULL DEFAULT 0,
    balance REAL NOT NULL DEFAULT 0,
    crypto_balance REAL NOT NULL DEFAULT 0,
    is_email_verified INTEGER NOT NULL DEFAULT 0,
    email_verification_token TEXT,
    email_verification_token_expires_at TIMESTAMP,
    password_reset_token TEXT,
    password_reset_token_expires_at TIMESTAMP,
    mfa_secret TEXT,
    mfa_enabled INTEGER NOT NULL DEFAULT 0,
    login_count INTEGER NOT NULL DEFAULT 0,
    last_login_at TIMESTAMP,
    last_login_ip TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE ledger_entries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    entry_type TEXT NOT NULL,
    amount REAL NOT NULL,
    currency TEXT NOT NULL,
    description TEXT,
    balance_after REAL NOT NULL,
    related_user_id INTEGER,
    display_date TIMESTAMP NOT NULL,
    original_date TIMESTAMP,
    edited_by_admin INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE recurring_transfers (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    transfer_type TEXT NOT NULL,
    amount REAL NOT NULL,
    interval TEXT NOT NULL,
    description TEXT,
    active INTEGER NOT NULL DEFAULT 1,
    last_run TIMESTAMP,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE statements (
    id TEXT PRIMARY KEY,
    user_id INTEGER NOT NULL,
    account_type TEXT NOT NULL,
    period_start TIMESTAMP NOT NULL,
    period_end TIMESTAMP NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    error_message TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE notification_outbox (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    kind TEXT NOT NULL,
    recipient TEXT NOT NULL,
    subject TEXT NOT NULL,
    body TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    attempts INTEGER NOT NULL DEFAULT 0,
    next_attempt_at TIMESTAMP NOT NULL,
    last_error TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	if logger.L == nil {
		logger.InitLogger("error")
	}

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(testSchema)
	require.NoError(t, err)
	return db
}

func insertTestUser(t *testing.T, db *sql.DB, username string, balance, cryptoBalance float64) int64 {
	t.Helper()
	res, err := db.Exec(`
		INSERT INTO users (username, email, password, balance, crypto_balance)
		VALUES (?, ?, 'x', ?, ?)`,
		username, username+"@example.com", balance, cryptoBalance)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func userBalance(t *testing.T, db *sql.DB, userID int64, column string) float64 {
	t.Helper()
	var balance float64
	require.NoError(t, db.QueryRow(`SELECT `+column+` FROM users WHERE id = ?`, userID).Scan(&balance))
	return balance
}

func TestRecordDeposit(t *testing.T) {
	db := setupTestDB(t)
	svc := NewLedgerService(db)
	userID := insertTestUser(t, db, "alice", 100, 0)

	entry, err := svc.Record(context.Background(), userID, model.AccountFiat, model.EntryDeposit, 50.25, "USD", "payday")
	require.NoError(t, err)

	assert.Equal(t, 150.25, entry.BalanceAfter)
	assert.Equal(t, model.EntryDeposit, entry.Type)
	assert.Equal(t, 150.25, userBalance(t, db, userID, "balance"))

	entries, err := model.ListLedgerEntries(db, userID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 50.25, entries[0].Amount)
}

func TestRecordWithdrawalInsufficientFunds(t *testing.T) {
	db := setupTestDB(t)
	svc := NewLedgerService(db)
	userID := insertTestUser(t, db, "bob", 30, 0)

	_, err := svc.Record(context.Background(), userID, model.AccountFiat, model.EntryWithdrawal, 30.01, "USD", "")
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	// Balance untouched and no ledger entry written.
	assert.Equal(t, 30.0, userBalance(t, db, userID, "balance"))
	entries, err := model.ListLedgerEntries(db, userID, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRecordExactBalanceWithdrawal(t *testing.T) {
	db := setupTestDB(t)
	svc := NewLedgerService(db)
	userID := insertTestUser(t, db, "carol", 30, 0)

	entry, err := svc.Record(context.Background(), userID, model.AccountFiat, model.EntryWithdrawal, 30, "USD", "")
	require.NoError(t, err)
	assert.Equal(t, 0.0, entry.BalanceAfter)
}

func TestRecordRejectsInvalidAmounts(t *testing.T) {
	db := setupTestDB(t)
	svc := NewLedgerService(db)
	userID := insertTestUser(t, db, "dave", 100, 0)

	for _, amount := range []float64{0, -5, math.NaN(), math.Inf(1)} {
		_, err := svc.Record(context.Background(), userID, model.AccountFiat, model.EntryDeposit, amount, "USD", "")
		assert.ErrorIs(t, err, ErrInvalidAmount, "amount %v should be rejected", amount)
	}
}

func TestRecordRejectsUnknownEntryType(t *testing.T) {
	db := setupTestDB(t)
	svc := NewLedgerService(db)
	userID := insertTestUser(t, db, "erin", 100, 0)

	_, err := svc.Record(context.Background(), userID, model.AccountFiat, "transfer_out", 10, "USD", "")
	assert.ErrorIs(t, err, ErrInvalidEntryType)
}

func TestRecordUnknownUser(t *testing.T) {
	db := setupTestDB(t)
	svc := NewLedgerService(db)

	_, err := svc.Record(context.Background(), 9999, model.AccountFiat, model.EntryWithdrawal, 10, "USD", "")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestRecordCryptoAccount(t *testing.T) {
	db := setupTestDB(t)
	svc := NewLedgerService(db)
	userID := insertTestUser(t, db, "frank", 0, 2)

	entry, err := svc.Record(context.Background(), userID, model.AccountCrypto, model.EntryDeposit, 0.5, "BTC", "")
	require.NoError(t, err)
	assert.Equal(t, 2.5, entry.BalanceAfter)
	assert.Equal(t, 2.5, userBalance(t, db, userID, "crypto_balance"))
	assert.Equal(t, 0.0, userBalance(t, db, userID, "balance"))
}

func TestWithdrawalEnqueuesNotification(t *testing.T) {
	db := setupTestDB(t)
	svc := NewLedgerService(db)
	userID := insertTestUser(t, db, "grace", 100, 0)

	_, err := svc.Record(context.Background(), userID, model.AccountFiat, model.EntryWithdrawal, 40, "USD", "")
	require.NoError(t, err)

	var kind, recipient, status string
	require.NoError(t, db.QueryRow(`
		SELECT kind, recipient, status FROM notification_outbox WHERE user_id = ?`, userID).
		Scan(&kind, &recipient, &status))
	assert.Equal(t, model.NotificationWithdrawal, kind)
	assert.Equal(t, "grace@example.com", recipient)
	assert.Equal(t, model.OutboxPending, status)
}

func TestDepositDoesNotEnqueueNotification(t *testing.T) {
	db := setupTestDB(t)
	svc := NewLedgerService(db)
	userID := insertTestUser(t, db, "heidi", 0, 0)

	_, err := svc.Record(context.Background(), userID, model.AccountFiat, model.EntryDeposit, 40, "USD", "")
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM notification_outbox`).Scan(&count))
	assert.Zero(t, count)
}

func TestTransfer(t *testing.T) {
	db := setupTestDB(t)
	svc := NewLedgerService(db)
	fromID := insertTestUser(t, db, "ivan", 100, 0)
	toID := insertTestUser(t, db, "judy", 20, 0)

	outEntry, inEntry, err := svc.Transfer(context.Background(), fromID, toID, 60, "USD", "rent")
	require.NoError(t, err)

	assert.Equal(t, model.EntryTransferOut, outEntry.Type)
	assert.Equal(t, 40.0, outEntry.BalanceAfter)
	assert.Equal(t, model.EntryTransferIn, inEntry.Type)
	assert.Equal(t, 80.0, inEntry.BalanceAfter)

	require.True(t, outEntry.RelatedUserID.Valid)
	assert.Equal(t, toID, outEntry.RelatedUserID.Int64)
	require.True(t, inEntry.RelatedUserID.Valid)
	assert.Equal(t, fromID, inEntry.RelatedUserID.Int64)

	assert.Equal(t, 40.0, userBalance(t, db, fromID, "balance"))
	assert.Equal(t, 80.0, userBalance(t, db, toID, "balance"))
}

func TestTransferInsufficientFundsRollsBack(t *testing.T) {
	db := setupTestDB(t)
	svc := NewLedgerService(db)
	fromID := insertTestUser(t, db, "kate", 10, 0)
	toID := insertTestUser(t, db, "liam", 0, 0)

	_, _, err := svc.Transfer(context.Background(), fromID, toID, 50, "USD", "")
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	assert.Equal(t, 10.0, userBalance(t, db, fromID, "balance"))
	assert.Equal(t, 0.0, userBalance(t, db, toID, "balance"))

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM ledger_entries`).Scan(&count))
	assert.Zero(t, count)
}

func TestTransferToMissingRecipientRollsBack(t *testing.T) {
	db := setupTestDB(t)
	svc := NewLedgerService(db)
	fromID := insertTestUser(t, db, "mike", 100, 0)

	_, _, err := svc.Transfer(context.Background(), fromID, 9999, 50, "USD", "")
	assert.ErrorIs(t, err, ErrUserNotFound)

	// The debit from the sender must not survive the failed credit.
	assert.Equal(t, 100.0, userBalance(t, db, fromID, "balance"))
}

func TestTransferSameAccount(t *testing.T) {
	db := setupTestDB(t)
	svc := NewLedgerService(db)
	userID := insertTestUser(t, db, "nina", 100, 0)

	_, _, err := svc.Transfer(context.Background(), userID, userID, 10, "USD", "")
	assert.ErrorIs(t, err, ErrSameAccount)
}
