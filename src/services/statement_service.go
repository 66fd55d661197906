package services

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/username/bankfolio/backend/src/config"
	"github.com/username/bankfolio/backend/src/logger"
	"github.com/username/bankfolio/backend/src/model"
)

const statementBatchSize = 10

// StatementService renders pending statement requests into plain-text
// account statements and mails them. A request transitions terminally to
// sent or failed; there is no retry.
type StatementService struct {
	db    *sql.DB
	email EmailService
}

func NewStatementService(db *sql.DB, email EmailService) *StatementService {
	return &StatementService{db: db, email: email}
}

// ProcessPending handles one batch of pending statements. Driven by cron.
func (s *StatementService) ProcessPending() {
	pending, err := model.ListPendingStatements(s.db, statementBatchSize)
	if err != nil {
		logger.L.Error("Failed to list pending statements", "error", err)
		return
	}

	for _, st := range pending {
		if err := s.process(&st); err != nil {
			logger.L.Warn("Statement generation failed", "statementID", st.ID, "error", err)
			if markErr := model.MarkStatement(s.db, st.ID, model.StatementFailed, err.Error()); markErr != nil {
				logger.L.Error("Failed to mark statement failed", "statementID", st.ID, "error", markErr)
			}
			continue
		}
		if err := model.MarkStatement(s.db, st.ID, model.StatementSent, ""); err != nil {
			logger.L.Error("Failed to mark statement sent", "statementID", st.ID, "error", err)
		}
	}
}

func (s *StatementService) process(st *model.Statement) error {
	user, err := model.GetUserByID(s.db, st.UserID)
	if err != nil {
		return fmt.Errorf("loading statement owner: %w", err)
	}

	entries, err := model.ListLedgerEntriesInPeriod(s.db, st.UserID, st.PeriodStart, st.PeriodEnd)
	if err != nil {
		return fmt.Errorf("loading ledger entries: %w", err)
	}

	// A statement covers one account; drop entries from the other one.
	accountCurrency := config.Cfg.FiatCurrency
	if st.AccountType == model.AccountCrypto {
		accountCurrency = config.Cfg.CryptoCurrency
	}
	filtered := entries[:0]
	for _, e := range entries {
		if e.Currency == accountCurrency {
			filtered = append(filtered, e)
		}
	}

	body := renderStatement(user, st, filtered)
	subject := fmt.Sprintf("Account statement %s to %s",
		st.PeriodStart.Format("2006-01-02"), st.PeriodEnd.Format("2006-01-02"))

	if err := s.email.Send(user.Email, subject, body); err != nil {
		return fmt.Errorf("mailing statement: %w", err)
	}
	return nil
}

func renderStatement(user *model.User, st *model.Statement, entries []model.LedgerEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Statement for %s (%s account)\n", user.Username, st.AccountType)
	fmt.Fprintf(&b, "Period: %s to %s\n\n",
		st.PeriodStart.Format("2006-01-02"), st.PeriodEnd.Format("2006-01-02"))

	if len(entries) == 0 {
		b.WriteString("No transactions in this period.\n")
	} else {
		for _, e := range entries {
			sign := "+"
			if model.IsDebitType(e.Type) {
				sign = "-"
			}
			fmt.Fprintf(&b, "%s  %-12s %s%.2f %s  balance %.2f  %s\n",
				e.DisplayDate.Format("2006-01-02"), e.Type, sign, e.Amount, e.Currency,
				e.BalanceAfter, e.Description)
		}
	}

	balance := user.Balance
	if st.AccountType == model.AccountCrypto {
		balance = user.CryptoBalance
	}
	fmt.Fprintf(&b, "\nCurrent balance: %.2f\n", balance)
	return b.String()
}
