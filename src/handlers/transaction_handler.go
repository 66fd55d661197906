// backend/src/handlers/transaction_handler.go
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/username/bankfolio/backend/src/config"
	"github.com/username/bankfolio/backend/src/database"
	"github.com/username/bankfolio/backend/src/logger"
	"github.com/username/bankfolio/backend/src/model"
	"github.com/username/bankfolio/backend/src/security/validation"
	"github.com/username/bankfolio/backend/src/services"
)

// TransactionHandler owns the money-movement endpoints.
type TransactionHandler struct {
	ledgerService services.LedgerService
}

func NewTransactionHandler(ledgerService services.LedgerService) *TransactionHandler {
	return &TransactionHandler{ledgerService: ledgerService}
}

type transactionRequest struct {
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Description string  `json:"description"`
}

// resolveAccount maps a request currency onto the balance it affects.
// An empty currency means the fiat account.
func resolveAccount(currency string) (account, normalized string, err error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	switch currency {
	case "", config.Cfg.FiatCurrency:
		return model.AccountFiat, config.Cfg.FiatCurrency, nil
	case config.Cfg.CryptoCurrency:
		return model.AccountCrypto, config.Cfg.CryptoCurrency, nil
	}
	return "", "", errors.New("Unsupported currency")
}

// parseTransactionRequest decodes and validates the common movement
// payload.
func parseTransactionRequest(r *http.Request) (*transactionRequest, string, error) {
	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, "", errors.New("Invalid request body")
	}

	if err := validation.ValidateAmount(req.Amount, "Amount"); err != nil {
		return nil, "", err
	}
	if err := validation.ValidateCurrencyCode(req.Currency); err != nil {
		return nil, "", err
	}

	req.Description = validation.SanitizeDescription(req.Description)
	if err := validation.ValidateStringMaxLength(req.Description, 255, "Description"); err != nil {
		return nil, "", err
	}

	account, currency, err := resolveAccount(req.Currency)
	if err != nil {
		return nil, "", err
	}
	req.Currency = currency
	return &req, account, nil
}

func sendLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrInsufficientFunds):
		sendJSONError(w, "Insufficient funds", http.StatusUnprocessableEntity)
	case errors.Is(err, services.ErrInvalidAmount), errors.Is(err, services.ErrInvalidEntryType):
		sendJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrSameAccount):
		sendJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrUserNotFound):
		sendJSONError(w, "Account not found", http.StatusNotFound)
	default:
		sendJSONError(w, "Failed to process transaction", http.StatusInternalServerError)
	}
}

func (h *TransactionHandler) record(w http.ResponseWriter, r *http.Request, entryType string) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		sendJSONError(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	req, account, err := parseTransactionRequest(r)
	if err != nil {
		sendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	entry, err := h.ledgerService.Record(r.Context(), userID, account, entryType, req.Amount, req.Currency, req.Description)
	if err != nil {
		logger.FromContext(r.Context()).Warn("Ledger record failed",
			"type", entryType, "amount", req.Amount, "error", err)
		sendLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(entry)
}

func (h *TransactionHandler) HandleDeposit(w http.ResponseWriter, r *http.Request) {
	h.record(w, r, model.EntryDeposit)
}

func (h *TransactionHandler) HandleWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.record(w, r, model.EntryWithdrawal)
}

// HandleTransfer moves fiat funds to another user, identified by email.
func (h *TransactionHandler) HandleTransfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		sendJSONError(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	var req struct {
		ToEmail     string  `json:"to_email"`
		Amount      float64 `json:"amount"`
		Description string  `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	req.ToEmail = strings.ToLower(validation.SanitizeText(strings.TrimSpace(req.ToEmail)))
	if req.ToEmail == "" {
		sendJSONError(w, "Recipient email is required", http.StatusBadRequest)
		return
	}
	if err := validation.ValidateAmount(req.Amount, "Amount"); err != nil {
		sendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.Description = validation.SanitizeDescription(req.Description)

	recipient, err := model.GetUserByEmail(database.DB, req.ToEmail)
	if err != nil {
		// Same message whether the account is missing or lookup failed, so
		// the endpoint cannot be used to probe registered emails.
		sendJSONError(w, "Recipient not found", http.StatusNotFound)
		return
	}

	outEntry, _, err := h.ledgerService.Transfer(r.Context(), userID, recipient.ID, req.Amount, config.Cfg.FiatCurrency, req.Description)
	if err != nil {
		logger.FromContext(r.Context()).Warn("Transfer failed",
			"toUserID", recipient.ID, "amount", req.Amount, "error", err)
		sendLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(outEntry)
}

// HandleGetTransactions returns the caller's ledger history, newest
// first by display date.
func (h *TransactionHandler) HandleGetTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		sendJSONError(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 1 || limit > 500 {
		limit = 100
	}

	entries, err := model.ListLedgerEntries(database.DB, userID, limit)
	if err != nil {
		logger.L.Error("Failed to list ledger entries", "userID", userID, "error", err)
		sendJSONError(w, "Failed to load transactions", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"transactions": entries})
}

// HandleCreateRecurring registers a standing deposit or withdrawal
// executed by the scheduler.
func (h *TransactionHandler) HandleCreateRecurring(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		sendJSONError(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	var req struct {
		Type        string  `json:"type"`
		Amount      float64 `json:"amount"`
		Interval    string  `json:"interval"`
		Description string  `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Type != model.EntryDeposit && req.Type != model.EntryWithdrawal {
		sendJSONError(w, "Type must be 'deposit' or 'withdrawal'", http.StatusBadRequest)
		return
	}
	if !model.ValidInterval(req.Interval) {
		sendJSONError(w, "Interval must be 'daily', 'weekly' or 'monthly'", http.StatusBadRequest)
		return
	}
	if err := validation.ValidateAmount(req.Amount, "Amount"); err != nil {
		sendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.Description = validation.SanitizeDescription(req.Description)

	rt := &model.RecurringTransfer{
		UserID:      userID,
		Type:        req.Type,
		Amount:      req.Amount,
		Interval:    req.Interval,
		Description: req.Description,
	}
	if err := rt.Create(database.DB); err != nil {
		logger.L.Error("Failed to create recurring transfer", "userID", userID, "error", err)
		sendJSONError(w, "Failed to create recurring transfer", http.StatusInternalServerError)
		return
	}

	logger.FromContext(r.Context()).Info("Recurring transfer created",
		"recurringID", rt.ID, "type", rt.Type, "interval", rt.Interval)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(rt)
}

func (h *TransactionHandler) HandleListRecurring(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		sendJSONError(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	transfers, err := model.ListRecurringByUser(database.DB, userID)
	if err != nil {
		logger.L.Error("Failed to list recurring transfers", "userID", userID, "error", err)
		sendJSONError(w, "Failed to load recurring transfers", http.StatusInternalServerError)
		return
	}
	if transfers == nil {
		transfers = []model.RecurringTransfer{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"recurring_transfers": transfers})
}
