package model

import (
	"database/sql"
	"time"
)

const (
	OutboxPending = "pending"
	OutboxSent    = "sent"
	OutboxFailed  = "failed"

	NotificationWithdrawal = "withdrawal_alert"
	NotificationTransfer   = "transfer_alert"
	NotificationStatement  = "statement"
)

// OutboxNotification is a mail-delivery intent recorded in the same SQL
// transaction as the balance mutation it describes. The dispatcher owns
// delivery and retry; a send failure never affects the ledger.
type OutboxNotification struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"user_id"`
	Kind          string    `json:"kind"`
	Recipient     string    `json:"recipient"`
	Subject       string    `json:"subject"`
	Body          string    `json:"body"`
	Status        string    `json:"status"`
	Attempts      int       `json:"attempts"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	LastError     string    `json:"last_error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// EnqueueNotification writes the intent inside the caller's transaction.
func EnqueueNotification(tx *sql.Tx, n *OutboxNotification) error {
	now := time.Now()
	n.Status = OutboxPending
	if n.NextAttemptAt.IsZero() {
		n.NextAttemptAt = now
	}
	n.CreatedAt = now
	n.UpdatedAt = now

	res, err := tx.Exec(`
		INSERT INTO notification_outbox (user_id, kind, recipient, subject, body, status, attempts, next_attempt_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		n.UserID, n.Kind, n.Recipient, n.Subject, n.Body, n.Status, n.NextAttemptAt, n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	n.ID = id
	return nil
}

// ListDueNotifications returns pending notifications whose next attempt
// time has passed.
func ListDueNotifications(db *sql.DB, now time.Time, limit int) ([]OutboxNotification, error) {
	rows, err := db.Query(`
		SELECT id, user_id, kind, recipient, subject, body, status, attempts, next_attempt_at, last_error, created_at, updated_at
		FROM notification_outbox
		WHERE status = ? AND next_attempt_at <= ?
		ORDER BY next_attempt_at ASC
		LIMIT ?`, OutboxPending, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []OutboxNotification
	for rows.Next() {
		var n OutboxNotification
		var lastError sql.NullString
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &n.Recipient, &n.Subject, &n.Body,
			&n.Status, &n.Attempts, &n.NextAttemptAt, &lastError, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, err
		}
		n.LastError = lastError.String
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func MarkNotificationSent(db *sql.DB, id int64) error {
	_, err := db.Exec(`
		UPDATE notification_outbox
		SET status = ?, attempts = attempts + 1, last_error = NULL, updated_at = ?
		WHERE id = ?`, OutboxSent, time.Now(), id)
	return err
}

// MarkNotificationFailed records a failed attempt. Below maxAttempts the
// row stays pending with a pushed-out next_attempt_at; at maxAttempts it
// goes terminally failed.
func MarkNotificationFailed(db *sql.DB, id int64, attempts, maxAttempts int, nextAttemptAt time.Time, sendErr string) error {
	status := OutboxPending
	if attempts >= maxAttempts {
		status = OutboxFailed
	}
	_, err := db.Exec(`
		UPDATE notification_outbox
		SET status = ?, attempts = ?, next_attempt_at = ?, last_error = ?, updated_at = ?
		WHERE id = ?`, status, attempts, nextAttemptAt, sendErr, time.Now(), id)
	return err
}
