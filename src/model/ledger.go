package model

import (
	"database/sql"
	"errors"
	"time"
)

// Ledger entry types. Deposits and credits add to a balance, the rest
// subtract.
const (
	EntryDeposit     = "deposit"
	EntryWithdrawal  = "withdrawal"
	EntryTransferIn  = "transfer_in"
	EntryTransferOut = "transfer_out"
	EntryDebit       = "debit"
	EntryCredit      = "credit"
)

// LedgerEntry is one immutable balance-affecting event. Amount and type
// never change after insertion; an admin may override the display date,
// in which case the original date is preserved permanently.
type LedgerEntry struct {
	ID            int64         `json:"id"`
	UserID        int64         `json:"user_id"`
	Type          string        `json:"type"`
	Amount        float64       `json:"amount"`
	Currency      string        `json:"currency"`
	Description   string        `json:"description"`
	BalanceAfter  float64       `json:"balance_after"`
	RelatedUserID sql.NullInt64 `json:"-"`
	DisplayDate   time.Time     `json:"date"`
	OriginalDate  NullTime      `json:"original_date,omitempty"`
	EditedByAdmin bool          `json:"edited_by_admin"`
	CreatedAt     time.Time     `json:"created_at"`
}

// IsDebitType reports whether the entry type subtracts from a balance.
func IsDebitType(entryType string) bool {
	switch entryType {
	case EntryWithdrawal, EntryTransferOut, EntryDebit:
		return true
	}
	return false
}

// ValidEntryType reports whether the entry type is one the ledger accepts
// from a request.
func ValidEntryType(entryType string) bool {
	switch entryType {
	case EntryDeposit, EntryWithdrawal, EntryDebit, EntryCredit:
		return true
	}
	return false
}

const ledgerColumns = `id, user_id, entry_type, amount, currency, description, balance_after,
	related_user_id, display_date, original_date, edited_by_admin, created_at`

func scanLedgerEntry(row rowScanner) (*LedgerEntry, error) {
	var e LedgerEntry
	var description sql.NullString
	var originalDate sql.NullTime

	err := row.Scan(
		&e.ID, &e.UserID, &e.Type, &e.Amount, &e.Currency, &description,
		&e.BalanceAfter, &e.RelatedUserID, &e.DisplayDate, &originalDate,
		&e.EditedByAdmin, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Description = description.String
	e.OriginalDate = NullTime(originalDate)
	return &e, nil
}

// InsertLedgerEntry appends an entry inside an existing transaction. The
// ledger core always writes entries together with the balance mutation,
// so only a *sql.Tx variant exists.
func InsertLedgerEntry(tx *sql.Tx, e *LedgerEntry) error {
	now := time.Now()
	if e.DisplayDate.IsZero() {
		e.DisplayDate = now
	}
	e.CreatedAt = now

	res, err := tx.Exec(`
		INSERT INTO ledger_entries (user_id, entry_type, amount, currency, description, balance_after,
		                            related_user_id, display_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.UserID, e.Type, e.Amount, e.Currency, e.Description, e.BalanceAfter,
		e.RelatedUserID, e.DisplayDate, e.CreatedAt,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = id
	return nil
}

func GetLedgerEntryByID(db *sql.DB, id int64) (*LedgerEntry, error) {
	row := db.QueryRow(`SELECT `+ledgerColumns+` FROM ledger_entries WHERE id = ?`, id)
	return scanLedgerEntry(row)
}

// ListLedgerEntries returns a user's entries, newest first.
func ListLedgerEntries(db *sql.DB, userID int64, limit int) ([]LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		WHERE user_id = ?
		ORDER BY display_date DESC, id DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// ListLedgerEntriesInPeriod returns a user's entries between two instants,
// oldest first, for statement rendering.
func ListLedgerEntriesInPeriod(db *sql.DB, userID int64, from, to time.Time) ([]LedgerEntry, error) {
	rows, err := db.Query(`
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		WHERE user_id = ? AND display_date >= ? AND display_date < ?
		ORDER BY display_date ASC, id ASC`, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// RecentActivity is a ledger entry joined with the owning user, for the
// admin overview feed.
type RecentActivity struct {
	LedgerEntry
	Username string `json:"username"`
	Email    string `json:"email"`
}

// ListRecentActivity returns the newest entries across all users.
func ListRecentActivity(db *sql.DB, limit int) ([]RecentActivity, error) {
	rows, err := db.Query(`
		SELECT le.id, le.user_id, le.entry_type, le.amount, le.currency, le.description, le.balance_after,
		       le.related_user_id, le.display_date, le.original_date, le.edited_by_admin, le.created_at,
		       u.username, u.email
		FROM ledger_entries le
		JOIN users u ON u.id = le.user_id
		ORDER BY le.display_date DESC, le.id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var activity []RecentActivity
	for rows.Next() {
		var a RecentActivity
		var description sql.NullString
		var originalDate sql.NullTime
		if err := rows.Scan(
			&a.ID, &a.UserID, &a.Type, &a.Amount, &a.Currency, &description,
			&a.BalanceAfter, &a.RelatedUserID, &a.DisplayDate, &originalDate,
			&a.EditedByAdmin, &a.CreatedAt, &a.Username, &a.Email,
		); err != nil {
			return nil, err
		}
		a.Description = description.String
		a.OriginalDate = NullTime(originalDate)
		activity = append(activity, a)
	}
	return activity, rows.Err()
}

var ErrEntryNotFound = errors.New("ledger entry not found")

// OverrideDisplayDate changes an entry's display date. The first edit
// snapshots the current display date into original_date; later edits must
// not touch it, so the invariant "original_date keeps the pre-edit value
// permanently" holds across repeated overrides.
func OverrideDisplayDate(db *sql.DB, entryID int64, newDate time.Time) (*LedgerEntry, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var displayDate time.Time
	var edited bool
	err = tx.QueryRow(`SELECT display_date, edited_by_admin FROM ledger_entries WHERE id = ?`, entryID).
		Scan(&displayDate, &edited)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}

	if edited {
		_, err = tx.Exec(`UPDATE ledger_entries SET display_date = ? WHERE id = ?`, newDate, entryID)
	} else {
		_, err = tx.Exec(`
			UPDATE ledger_entries
			SET display_date = ?, original_date = ?, edited_by_admin = 1
			WHERE id = ?`, newDate, displayDate, entryID)
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return GetLedgerEntryByID(db, entryID)
}
