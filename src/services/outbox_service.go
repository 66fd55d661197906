package services

import (
	"database/sql"
	"sync"
	"time"

	"github.com/username/bankfolio/backend/src/logger"
	"github.com/username/bankfolio/backend/src/model"
)

const outboxBatchSize = 20

// OutboxDispatcher drains the notification outbox on an interval. Each
// pending row is attempted at most maxRetries times with linear backoff,
// then marked failed. Delivery never touches balances.
type OutboxDispatcher struct {
	db         *sql.DB
	email      EmailService
	interval   time.Duration
	maxRetries int

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewOutboxDispatcher(db *sql.DB, email EmailService, interval time.Duration, maxRetries int) *OutboxDispatcher {
	return &OutboxDispatcher{
		db:         db,
		email:      email,
		interval:   interval,
		maxRetries: maxRetries,
		stop:       make(chan struct{}),
	}
}

func (d *OutboxDispatcher) Start() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.DispatchDue()
			case <-d.stop:
				return
			}
		}
	}()
	logger.L.Info("Outbox dispatcher started", "interval", d.interval.String(), "maxRetries", d.maxRetries)
}

func (d *OutboxDispatcher) Stop() {
	close(d.stop)
	d.wg.Wait()
	logger.L.Info("Outbox dispatcher stopped")
}

// DispatchDue processes one batch of due notifications. Exported so the
// cron wiring and tests can drive it directly.
func (d *OutboxDispatcher) DispatchDue() {
	now := time.Now()
	due, err := model.ListDueNotifications(d.db, now, outboxBatchSize)
	if err != nil {
		logger.L.Error("Failed to list due notifications", "error", err)
		return
	}

	for _, n := range due {
		if err := d.email.Send(n.Recipient, n.Subject, n.Body); err != nil {
			attempts := n.Attempts + 1
			backoff := time.Duration(attempts) * d.interval
			logger.L.Warn("Notification delivery failed",
				"notificationID", n.ID, "kind", n.Kind, "attempt", attempts, "error", err)
			if markErr := model.MarkNotificationFailed(d.db, n.ID, attempts, d.maxRetries, now.Add(backoff), err.Error()); markErr != nil {
				logger.L.Error("Failed to record notification failure", "notificationID", n.ID, "error", markErr)
			}
			continue
		}
		if err := model.MarkNotificationSent(d.db, n.ID); err != nil {
			logger.L.Error("Failed to mark notification sent", "notificationID", n.ID, "error", err)
			continue
		}
		logger.L.Info("Notification delivered", "notificationID", n.ID, "kind", n.Kind)
	}
}
