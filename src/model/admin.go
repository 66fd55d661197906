package model

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrAdminExists is returned when admin self-registration is attempted
// after the first administrator account already exists.
var ErrAdminExists = errors.New("an administrator account already exists")

// CreateFirstAdmin inserts an admin account only when none exists yet.
// The count and the insert share one transaction so two concurrent
// registrations cannot both succeed.
func CreateFirstAdmin(db *sql.DB, u *User) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM users WHERE role = ?`, RoleAdmin).Scan(&count); err != nil {
		return fmt.Errorf("counting admins: %w", err)
	}
	if count > 0 {
		return ErrAdminExists
	}

	now := time.Now()
	u.Role = RoleAdmin
	u.CreatedAt = now
	u.UpdatedAt = now
	if u.AuthProvider == "" {
		u.AuthProvider = "local"
	}

	res, err := tx.Exec(`
		INSERT INTO users (username, email, password, role, auth_provider, verified, is_email_verified, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Username, u.Email, u.Password, u.Role, u.AuthProvider, u.Verified, u.IsEmailVerified, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting admin: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = id
	return tx.Commit()
}

// userSortColumns whitelists the sortable columns for the admin user
// list. Anything else falls back to created_at.
var userSortColumns = map[string]string{
	"username":    "username",
	"email":       "email",
	"balance":     "balance",
	"verified":    "verified",
	"login_count": "login_count",
	"created_at":  "created_at",
}

// ListUsers returns a page of users for the admin console plus the total
// user count for pagination.
func ListUsers(db *sql.DB, sortBy, order string, limit, offset int) ([]User, int, error) {
	column, ok := userSortColumns[sortBy]
	if !ok {
		column = "created_at"
	}
	if order != "asc" {
		order = "desc"
	}

	var total int
	if err := db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting users: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM users ORDER BY %s %s LIMIT ? OFFSET ?`, userColumns, column, order)
	rows, err := db.Query(query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, *user)
	}
	return users, total, rows.Err()
}

// OverviewTotals aggregates the figures shown on the admin dashboard.
type OverviewTotals struct {
	TotalUsers         int     `json:"total_users"`
	VerifiedUsers      int     `json:"verified_users"`
	TotalBalance       float64 `json:"total_balance"`
	TotalCryptoBalance float64 `json:"total_crypto_balance"`
	TotalEntries       int     `json:"total_transactions"`
}

func GetOverviewTotals(db *sql.DB) (*OverviewTotals, error) {
	totals := &OverviewTotals{}
	err := db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN verified = 1 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(balance), 0),
		       COALESCE(SUM(crypto_balance), 0)
		FROM users`).Scan(&totals.TotalUsers, &totals.VerifiedUsers, &totals.TotalBalance, &totals.TotalCryptoBalance)
	if err != nil {
		return nil, fmt.Errorf("aggregating user totals: %w", err)
	}

	if err := db.QueryRow(`SELECT COUNT(*) FROM ledger_entries`).Scan(&totals.TotalEntries); err != nil {
		return nil, fmt.Errorf("counting ledger entries: %w", err)
	}
	return totals, nil
}
