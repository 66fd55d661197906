// backend/src/handlers/statement_handler.go
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/username/bankfolio/backend/src/database"
	"github.com/username/bankfolio/backend/src/logger"
	"github.com/username/bankfolio/backend/src/model"
)

// StatementHandler accepts statement requests and exposes their status.
// Generation itself happens in the background worker.
type StatementHandler struct{}

func NewStatementHandler() *StatementHandler {
	return &StatementHandler{}
}

// HandleRequestStatement enqueues a statement for async generation and
// returns its ID immediately.
func (h *StatementHandler) HandleRequestStatement(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		sendJSONError(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	var req struct {
		AccountType string `json:"account_type"`
		PeriodStart string `json:"period_start"`
		PeriodEnd   string `json:"period_end"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.AccountType == "" {
		req.AccountType = model.AccountFiat
	}
	if !model.ValidAccountType(req.AccountType) {
		sendJSONError(w, "Account type must be 'fiat' or 'crypto'", http.StatusBadRequest)
		return
	}

	periodStart, err := time.Parse(time.RFC3339, req.PeriodStart)
	if err != nil {
		sendJSONError(w, "period_start must be RFC3339 formatted", http.StatusBadRequest)
		return
	}
	periodEnd, err := time.Parse(time.RFC3339, req.PeriodEnd)
	if err != nil {
		sendJSONError(w, "period_end must be RFC3339 formatted", http.StatusBadRequest)
		return
	}
	if !periodEnd.After(periodStart) {
		sendJSONError(w, "period_end must be after period_start", http.StatusBadRequest)
		return
	}

	statement := &model.Statement{
		ID:          uuid.New().String(),
		UserID:      userID,
		AccountType: req.AccountType,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
	}
	if err := statement.Create(database.DB); err != nil {
		logger.L.Error("Failed to create statement request", "userID", userID, "error", err)
		sendJSONError(w, "Failed to request statement", http.StatusInternalServerError)
		return
	}

	logger.FromContext(r.Context()).Info("Statement requested",
		"statementID", statement.ID, "accountType", statement.AccountType)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(statement)
}

// HandleGetStatement returns one statement's status. Callers only see
// their own statements.
func (h *StatementHandler) HandleGetStatement(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		sendJSONError(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	statementID := chi.URLParam(r, "statementID")
	statement, err := model.GetStatementByID(database.DB, statementID)
	if err != nil {
		sendJSONError(w, "Statement not found", http.StatusNotFound)
		return
	}
	if statement.UserID != userID {
		// Hide other users' statement IDs rather than confirm they exist.
		sendJSONError(w, "Statement not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statement)
}

func (h *StatementHandler) HandleListStatements(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		sendJSONError(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	statements, err := model.ListStatementsByUser(database.DB, userID)
	if err != nil {
		logger.L.Error("Failed to list statements", "userID", userID, "error", err)
		sendJSONError(w, "Failed to load statements", http.StatusInternalServerError)
		return
	}
	if statements == nil {
		statements = []model.Statement{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"statements": statements})
}
