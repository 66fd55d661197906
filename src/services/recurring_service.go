package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/username/bankfolio/backend/src/config"
	"github.com/username/bankfolio/backend/src/logger"
	"github.com/username/bankfolio/backend/src/model"
)

// RecurringRunner executes due recurring transfers through the ledger
// core. It is driven by the cron scheduler configured in main.
type RecurringRunner struct {
	db     *sql.DB
	ledger LedgerService
}

func NewRecurringRunner(db *sql.DB, ledger LedgerService) *RecurringRunner {
	return &RecurringRunner{db: db, ledger: ledger}
}

// RunDue executes every active definition that is due. A failing
// definition is logged and left untouched so the next tick retries it;
// insufficient funds is expected (the account may simply be empty) and
// also just skips the run.
func (r *RecurringRunner) RunDue() {
	now := time.Now()
	defs, err := model.ListActiveRecurring(r.db)
	if err != nil {
		logger.L.Error("Failed to list recurring transfers", "error", err)
		return
	}

	var executed, skipped int
	for i := range defs {
		rt := &defs[i]
		if !rt.Due(now) {
			continue
		}

		_, err := r.ledger.Record(context.Background(), rt.UserID, model.AccountFiat, rt.Type,
			rt.Amount, config.Cfg.FiatCurrency, rt.Description)
		if err != nil {
			if errors.Is(err, ErrInsufficientFunds) {
				logger.L.Warn("Recurring transfer skipped: insufficient funds",
					"recurringID", rt.ID, "userID", rt.UserID, "amount", rt.Amount)
			} else {
				logger.L.Error("Recurring transfer failed",
					"recurringID", rt.ID, "userID", rt.UserID, "error", err)
			}
			skipped++
			continue
		}

		if err := rt.MarkRun(r.db, now); err != nil {
			logger.L.Error("Failed to stamp recurring transfer run", "recurringID", rt.ID, "error", err)
		}
		executed++
	}

	if executed > 0 || skipped > 0 {
		logger.L.Info("Recurring transfer run finished", "executed", executed, "skipped", skipped)
	}
}
