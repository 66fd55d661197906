package model

import (
	"database/sql"
	"time"
)

const (
	IntervalDaily   = "daily"
	IntervalWeekly  = "weekly"
	IntervalMonthly = "monthly"
)

// RecurringTransfer is a standing instruction executed by the recurring
// runner. last_run is NULL until the first execution.
type RecurringTransfer struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	Type        string    `json:"type"`
	Amount      float64   `json:"amount"`
	Interval    string    `json:"interval"`
	Description string    `json:"description"`
	Active      bool      `json:"active"`
	LastRun     NullTime  `json:"last_run"`
	CreatedAt   time.Time `json:"created_at"`
}

func ValidInterval(interval string) bool {
	switch interval {
	case IntervalDaily, IntervalWeekly, IntervalMonthly:
		return true
	}
	return false
}

// Due reports whether the transfer should run at the given instant.
func (rt *RecurringTransfer) Due(now time.Time) bool {
	if !rt.Active {
		return false
	}
	if !rt.LastRun.Valid {
		return true
	}
	var period time.Duration
	switch rt.Interval {
	case IntervalDaily:
		period = 24 * time.Hour
	case IntervalWeekly:
		period = 7 * 24 * time.Hour
	case IntervalMonthly:
		period = 30 * 24 * time.Hour
	default:
		return false
	}
	return now.Sub(rt.LastRun.Time) >= period
}

func (rt *RecurringTransfer) Create(db *sql.DB) error {
	rt.CreatedAt = time.Now()
	rt.Active = true
	res, err := db.Exec(`
		INSERT INTO recurring_transfers (user_id, transfer_type, amount, interval, description, active, created_at)
		VALUES (?, ?, ?, ?, ?, 1, ?)`,
		rt.UserID, rt.Type, rt.Amount, rt.Interval, rt.Description, rt.CreatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	rt.ID = id
	return nil
}

func scanRecurring(row rowScanner) (*RecurringTransfer, error) {
	var rt RecurringTransfer
	var description sql.NullString
	var lastRun sql.NullTime
	err := row.Scan(&rt.ID, &rt.UserID, &rt.Type, &rt.Amount, &rt.Interval,
		&description, &rt.Active, &lastRun, &rt.CreatedAt)
	if err != nil {
		return nil, err
	}
	rt.Description = description.String
	rt.LastRun = NullTime(lastRun)
	return &rt, nil
}

const recurringColumns = `id, user_id, transfer_type, amount, interval, description, active, last_run, created_at`

func ListRecurringByUser(db *sql.DB, userID int64) ([]RecurringTransfer, error) {
	rows, err := db.Query(`SELECT `+recurringColumns+` FROM recurring_transfers WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transfers []RecurringTransfer
	for rows.Next() {
		rt, err := scanRecurring(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, *rt)
	}
	return transfers, rows.Err()
}

// ListActiveRecurring returns every active definition; the runner filters
// for due ones in memory.
func ListActiveRecurring(db *sql.DB) ([]RecurringTransfer, error) {
	rows, err := db.Query(`SELECT ` + recurringColumns + ` FROM recurring_transfers WHERE active = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transfers []RecurringTransfer
	for rows.Next() {
		rt, err := scanRecurring(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, *rt)
	}
	return transfers, rows.Err()
}

func (rt *RecurringTransfer) MarkRun(db *sql.DB, at time.Time) error {
	rt.LastRun = NullTime{Time: at, Valid: true}
	_, err := db.Exec(`UPDATE recurring_transfers SET last_run = ? WHERE id = ?`, at, rt.ID)
	return err
}
