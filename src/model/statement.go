package model

import (
	"database/sql"
	"time"
)

const (
	StatementPending = "pending"
	StatementSent    = "sent"
	StatementFailed  = "failed"

	AccountFiat   = "fiat"
	AccountCrypto = "crypto"
)

// Statement is an async document-generation request. It is created
// pending and transitions terminally to sent or failed; there is no retry.
type Statement struct {
	ID           string    `json:"id"`
	UserID       int64     `json:"user_id"`
	AccountType  string    `json:"account_type"`
	PeriodStart  time.Time `json:"period_start"`
	PeriodEnd    time.Time `json:"period_end"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func ValidAccountType(accountType string) bool {
	return accountType == AccountFiat || accountType == AccountCrypto
}

func (s *Statement) Create(db *sql.DB) error {
	now := time.Now()
	s.Status = StatementPending
	s.CreatedAt = now
	s.UpdatedAt = now
	_, err := db.Exec(`
		INSERT INTO statements (id, user_id, account_type, period_start, period_end, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.AccountType, s.PeriodStart, s.PeriodEnd, s.Status, s.CreatedAt, s.UpdatedAt)
	return err
}

const statementColumns = `id, user_id, account_type, period_start, period_end, status, error_message, created_at, updated_at`

func scanStatement(row rowScanner) (*Statement, error) {
	var s Statement
	var errorMessage sql.NullString
	err := row.Scan(&s.ID, &s.UserID, &s.AccountType, &s.PeriodStart, &s.PeriodEnd,
		&s.Status, &errorMessage, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.ErrorMessage = errorMessage.String
	return &s, nil
}

func GetStatementByID(db *sql.DB, id string) (*Statement, error) {
	row := db.QueryRow(`SELECT `+statementColumns+` FROM statements WHERE id = ?`, id)
	return scanStatement(row)
}

func ListPendingStatements(db *sql.DB, limit int) ([]Statement, error) {
	rows, err := db.Query(`
		SELECT `+statementColumns+`
		FROM statements
		WHERE status = ?
		ORDER BY created_at ASC
		LIMIT ?`, StatementPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var statements []Statement
	for rows.Next() {
		s, err := scanStatement(rows)
		if err != nil {
			return nil, err
		}
		statements = append(statements, *s)
	}
	return statements, rows.Err()
}

func ListStatementsByUser(db *sql.DB, userID int64) ([]Statement, error) {
	rows, err := db.Query(`
		SELECT `+statementColumns+`
		FROM statements
		WHERE user_id = ?
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var statements []Statement
	for rows.Next() {
		s, err := scanStatement(rows)
		if err != nil {
			return nil, err
		}
		statements = append(statements, *s)
	}
	return statements, rows.Err()
}

// MarkStatement transitions a pending statement to its terminal state.
func MarkStatement(db *sql.DB, id, status, errorMessage string) error {
	var errArg interface{}
	if errorMessage != "" {
		errArg = errorMessage
	}
	_, err := db.Exec(`
		UPDATE statements SET status = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		status, errArg, time.Now(), id, StatementPending)
	return err
}
