// backend/src/services/interfaces.go
package services

import (
	"context"
	"errors"

	"github.com/username/bankfolio/backend/src/model"
)

// Sentinel errors surfaced by the ledger core. Handlers translate them to
// HTTP status codes.
var (
	ErrUserNotFound      = errors.New("user not found")
	ErrInvalidAmount     = errors.New("amount must be a finite number greater than zero")
	ErrInvalidEntryType  = errors.New("invalid transaction type")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrSameAccount       = errors.New("cannot transfer to the same account")
)

// LedgerService applies balance deltas and appends audit entries as one
// logical unit.
type LedgerService interface {
	// Record applies a single signed delta to one user's account and
	// appends the matching ledger entry atomically.
	Record(ctx context.Context, userID int64, account, entryType string, amount float64, currency, description string) (*model.LedgerEntry, error)

	// Transfer moves an amount between two users' fiat accounts in one
	// transaction, producing a transfer_out and a transfer_in entry.
	Transfer(ctx context.Context, fromUserID, toUserID int64, amount float64, currency, description string) (*model.LedgerEntry, *model.LedgerEntry, error)
}

// EmailService delivers outbound mail. Implementations must be safe for
// concurrent use by the request path and the background workers.
type EmailService interface {
	SendVerificationEmail(toEmail, username, token string) error
	SendPasswordResetEmail(toEmail, username, token string) error
	Send(toEmail, subject, body string) error
}
