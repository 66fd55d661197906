package model

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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
CREATE TABLE sessions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    token TEXT NOT NULL,
    refresh_token TEXT NOT NULL,
    user_agent TEXT,
    client_ip TEXT,
    is_blocked INTEGER NOT NULL DEFAULT 0,
    expires_at TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE login_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    ip_address TEXT,
    user_agent TEXT,
    login_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
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
`

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(testSchema)
	require.NoError(t, err)
	return db
}

func createTestUser(t *testing.T, db *sql.DB, username string) *User {
	t.Helper()
	u := &User{Username: username, Email: username + "@example.com", Password: "hash"}
	require.NoError(t, u.CreateUser(db))
	return u
}

func insertEntry(t *testing.T, db *sql.DB, userID int64, displayDate time.Time) *LedgerEntry {
	t.Helper()
	tx, err := db.Begin()
	require.NoError(t, err)
	e := &LedgerEntry{
		UserID:       userID,
		Type:         EntryDeposit,
		Amount:       10,
		Currency:     "USD",
		BalanceAfter: 10,
		DisplayDate:  displayDate,
	}
	require.NoError(t, InsertLedgerEntry(tx, e))
	require.NoError(t, tx.Commit())
	return e
}

func TestSetVerifiedIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	u := createTestUser(t, db, "alice")

	require.NoError(t, u.SetVerified(db, true))
	assert.True(t, u.Verified)

	// Verifying an already verified user succeeds and changes nothing.
	require.NoError(t, u.SetVerified(db, true))
	got, err := GetUserByID(db, u.ID)
	require.NoError(t, err)
	assert.True(t, got.Verified)

	require.NoError(t, u.SetVerified(db, false))
	got, err = GetUserByID(db, u.ID)
	require.NoError(t, err)
	assert.False(t, got.Verified)
}

func TestCreateFirstAdminOnlyOnce(t *testing.T) {
	db := setupTestDB(t)

	first := &User{Username: "root", Email: "root@example.com", Password: "hash"}
	require.NoError(t, CreateFirstAdmin(db, first))
	assert.Equal(t, RoleAdmin, first.Role)

	second := &User{Username: "usurper", Email: "usurper@example.com", Password: "hash"}
	err := CreateFirstAdmin(db, second)
	assert.ErrorIs(t, err, ErrAdminExists)

	count, err := CountAdmins(db)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestOverrideDisplayDatePreservesOriginal(t *testing.T) {
	db := setupTestDB(t)
	u := createTestUser(t, db, "bob")
	original := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := insertEntry(t, db, u.ID, original)

	firstEdit := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	got, err := OverrideDisplayDate(db, e.ID, firstEdit)
	require.NoError(t, err)

	assert.True(t, got.EditedByAdmin)
	assert.True(t, got.DisplayDate.Equal(firstEdit))
	require.True(t, got.OriginalDate.Valid)
	assert.True(t, got.OriginalDate.Time.Equal(original))

	// A second override moves the display date again but must not touch
	// the snapshot taken on the first edit.
	secondEdit := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	got, err = OverrideDisplayDate(db, e.ID, secondEdit)
	require.NoError(t, err)

	assert.True(t, got.DisplayDate.Equal(secondEdit))
	require.True(t, got.OriginalDate.Valid)
	assert.True(t, got.OriginalDate.Time.Equal(original))
}

func TestOverrideDisplayDateMissingEntry(t *testing.T) {
	db := setupTestDB(t)
	_, err := OverrideDisplayDate(db, 42, time.Now())
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestListLedgerEntriesOrdersByDisplayDate(t *testing.T) {
	db := setupTestDB(t)
	u := createTestUser(t, db, "carol")

	older := insertEntry(t, db, u.ID, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	newer := insertEntry(t, db, u.ID, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))

	entries, err := ListLedgerEntries(db, u.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, newer.ID, entries[0].ID)
	assert.Equal(t, older.ID, entries[1].ID)
}

func TestRecordLoginUpdatesStatsAndHistory(t *testing.T) {
	db := setupTestDB(t)
	u := createTestUser(t, db, "dave")

	require.NoError(t, RecordLogin(db, u.ID, "10.0.0.1", "test-agent"))
	require.NoError(t, RecordLogin(db, u.ID, "10.0.0.2", "test-agent"))

	got, err := GetUserByID(db, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.LoginCount)
	assert.Equal(t, "10.0.0.2", got.LastLoginIP)
	assert.True(t, got.LastLoginAt.Valid)

	var historyCount int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM login_history WHERE user_id = ?`, u.ID).Scan(&historyCount))
	assert.Equal(t, 2, historyCount)
}

func TestSessionLifecycle(t *testing.T) {
	db := setupTestDB(t)
	u := createTestUser(t, db, "erin")

	session := &Session{
		UserID:       u.ID,
		Token:        "access-token",
		RefreshToken: "refresh-token",
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	require.NoError(t, CreateSession(db, session))

	got, err := GetSessionByToken(db, "access-token")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.UserID)

	require.NoError(t, DeleteSessionByToken(db, "access-token"))
	_, err = GetSessionByToken(db, "access-token")
	assert.Error(t, err)
}

func TestGetOverviewTotals(t *testing.T) {
	db := setupTestDB(t)
	a := createTestUser(t, db, "frank")
	b := createTestUser(t, db, "grace")
	require.NoError(t, a.SetVerified(db, true))

	_, err := db.Exec(`UPDATE users SET balance = 100, crypto_balance = 1 WHERE id = ?`, a.ID)
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE users SET balance = 50 WHERE id = ?`, b.ID)
	require.NoError(t, err)
	insertEntry(t, db, a.ID, time.Now())

	totals, err := GetOverviewTotals(db)
	require.NoError(t, err)
	assert.Equal(t, 2, totals.TotalUsers)
	assert.Equal(t, 1, totals.VerifiedUsers)
	assert.Equal(t, 150.0, totals.TotalBalance)
	assert.Equal(t, 1.0, totals.TotalCryptoBalance)
	assert.Equal(t, 1, totals.TotalEntries)
}

func TestListUsersPaginationAndSorting(t *testing.T) {
	db := setupTestDB(t)
	createTestUser(t, db, "zed")
	createTestUser(t, db, "amy")
	createTestUser(t, db, "mia")

	users, total, err := ListUsers(db, "username", "asc", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, users, 2)
	assert.Equal(t, "amy", users[0].Username)
	assert.Equal(t, "mia", users[1].Username)

	users, _, err = ListUsers(db, "username", "asc", 2, 2)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "zed", users[0].Username)

	// Unknown sort column falls back instead of erroring.
	_, _, err = ListUsers(db, "password; DROP TABLE users", "asc", 10, 0)
	assert.NoError(t, err)
}
