package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/bankfolio/backend/src/config"
	"github.com/username/bankfolio/backend/src/model"
)

// fakeEmailService records sends and can be told to fail.
type fakeEmailService struct {
	mu      sync.Mutex
	sent    []string
	sendErr error
}

func (f *fakeEmailService) Send(toEmail, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, toEmail)
	return nil
}

func (f *fakeEmailService) SendVerificationEmail(toEmail, username, token string) error {
	return f.Send(toEmail, "verify", token)
}

func (f *fakeEmailService) SendPasswordResetEmail(toEmail, username, token string) error {
	return f.Send(toEmail, "reset", token)
}

func (f *fakeEmailService) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func testConfig() {
	config.Cfg = &config.AppConfig{
		FiatCurrency:   "USD",
		CryptoCurrency: "BTC",
	}
}

func TestRecurringRunnerExecutesDueTransfers(t *testing.T) {
	db := setupTestDB(t)
	testConfig()
	svc := NewLedgerService(db)
	runner := NewRecurringRunner(db, svc)
	userID := insertTestUser(t, db, "oscar", 100, 0)

	rt := &model.RecurringTransfer{
		UserID:      userID,
		Type:        model.EntryDeposit,
		Amount:      25,
		Interval:    model.IntervalDaily,
		Description: "salary drip",
	}
	require.NoError(t, rt.Create(db))

	// Never run before, so it is due immediately.
	runner.RunDue()
	assert.Equal(t, 125.0, userBalance(t, db, userID, "balance"))

	// Running again on the same day must not execute twice.
	runner.RunDue()
	assert.Equal(t, 125.0, userBalance(t, db, userID, "balance"))
}

func TestRecurringRunnerSkipsInsufficientFunds(t *testing.T) {
	db := setupTestDB(t)
	testConfig()
	svc := NewLedgerService(db)
	runner := NewRecurringRunner(db, svc)
	userID := insertTestUser(t, db, "peggy", 5, 0)

	rt := &model.RecurringTransfer{
		UserID:   userID,
		Type:     model.EntryWithdrawal,
		Amount:   50,
		Interval: model.IntervalWeekly,
	}
	require.NoError(t, rt.Create(db))

	runner.RunDue()
	assert.Equal(t, 5.0, userBalance(t, db, userID, "balance"))

	// A skipped run keeps last_run NULL so the next tick retries.
	defs, err := model.ListActiveRecurring(db)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.False(t, defs[0].LastRun.Valid)
}

func TestRecurringDue(t *testing.T) {
	now := time.Now()
	rt := &model.RecurringTransfer{Active: true, Interval: model.IntervalDaily}

	assert.True(t, rt.Due(now), "never-run definition is due")

	rt.LastRun = model.NullTime{Time: now.Add(-2 * time.Hour), Valid: true}
	assert.False(t, rt.Due(now))

	rt.LastRun = model.NullTime{Time: now.Add(-25 * time.Hour), Valid: true}
	assert.True(t, rt.Due(now))

	rt.Active = false
	assert.False(t, rt.Due(now), "inactive definition never runs")
}

func TestOutboxDispatcherDeliversAndMarksSent(t *testing.T) {
	db := setupTestDB(t)
	email := &fakeEmailService{}
	dispatcher := NewOutboxDispatcher(db, email, time.Minute, 3)
	userID := insertTestUser(t, db, "quinn", 0, 0)

	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, model.EnqueueNotification(tx, &model.OutboxNotification{
		UserID:    userID,
		Kind:      model.NotificationWithdrawal,
		Recipient: "quinn@example.com",
		Subject:   "hello",
		Body:      "world",
	}))
	require.NoError(t, tx.Commit())

	dispatcher.DispatchDue()

	assert.Equal(t, 1, email.sentCount())
	var status string
	require.NoError(t, db.QueryRow(`SELECT status FROM notification_outbox`).Scan(&status))
	assert.Equal(t, model.OutboxSent, status)

	// Delivered rows are not picked up again.
	dispatcher.DispatchDue()
	assert.Equal(t, 1, email.sentCount())
}

func TestOutboxDispatcherRetriesThenFails(t *testing.T) {
	db := setupTestDB(t)
	email := &fakeEmailService{sendErr: errors.New("smtp down")}
	dispatcher := NewOutboxDispatcher(db, email, time.Nanosecond, 2)
	userID := insertTestUser(t, db, "ruth", 0, 0)

	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, model.EnqueueNotification(tx, &model.OutboxNotification{
		UserID:    userID,
		Kind:      model.NotificationWithdrawal,
		Recipient: "ruth@example.com",
		Subject:   "s",
		Body:      "b",
	}))
	require.NoError(t, tx.Commit())

	dispatcher.DispatchDue()
	var status string
	var attempts int
	require.NoError(t, db.QueryRow(`SELECT status, attempts FROM notification_outbox`).Scan(&status, &attempts))
	assert.Equal(t, model.OutboxPending, status)
	assert.Equal(t, 1, attempts)

	time.Sleep(time.Millisecond)
	dispatcher.DispatchDue()
	require.NoError(t, db.QueryRow(`SELECT status, attempts FROM notification_outbox`).Scan(&status, &attempts))
	assert.Equal(t, model.OutboxFailed, status)
	assert.Equal(t, 2, attempts)
}

func TestStatementServiceSendsPendingStatement(t *testing.T) {
	db := setupTestDB(t)
	testConfig()
	email := &fakeEmailService{}
	statements := NewStatementService(db, email)
	ledger := NewLedgerService(db)
	userID := insertTestUser(t, db, "sybil", 100, 0)

	_, err := ledger.Record(context.Background(), userID, model.AccountFiat, model.EntryDeposit, 10, "USD", "topup")
	require.NoError(t, err)

	st := &model.Statement{
		ID:          "stmt-1",
		UserID:      userID,
		AccountType: model.AccountFiat,
		PeriodStart: time.Now().Add(-24 * time.Hour),
		PeriodEnd:   time.Now().Add(24 * time.Hour),
	}
	require.NoError(t, st.Create(db))

	statements.ProcessPending()

	assert.Equal(t, 1, email.sentCount())
	got, err := model.GetStatementByID(db, "stmt-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatementSent, got.Status)
}

func TestStatementServiceMarksFailedOnSendError(t *testing.T) {
	db := setupTestDB(t)
	testConfig()
	email := &fakeEmailService{sendErr: errors.New("mailbox full")}
	statements := NewStatementService(db, email)
	userID := insertTestUser(t, db, "trent", 0, 0)

	st := &model.Statement{
		ID:          "stmt-2",
		UserID:      userID,
		AccountType: model.AccountFiat,
		PeriodStart: time.Now().Add(-24 * time.Hour),
		PeriodEnd:   time.Now(),
	}
	require.NoError(t, st.Create(db))

	statements.ProcessPending()

	got, err := model.GetStatementByID(db, "stmt-2")
	require.NoError(t, err)
	assert.Equal(t, model.StatementFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "mailbox full")

	// Terminal: a later run does not retry it.
	email.sendErr = nil
	statements.ProcessPending()
	assert.Equal(t, 0, email.sentCount())
}
