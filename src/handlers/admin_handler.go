// backend/src/handlers/admin_handler.go
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/patrickmn/go-cache"
	"github.com/username/bankfolio/backend/src/config"
	"github.com/username/bankfolio/backend/src/database"
	"github.com/username/bankfolio/backend/src/logger"
	"github.com/username/bankfolio/backend/src/model"
	"github.com/username/bankfolio/backend/src/security/validation"
)

const overviewCacheKey = "admin_overview"

// HandleAdminRegister creates the first administrator account. Once any
// admin exists the endpoint refuses further self-registration; more
// admins would have to be provisioned out of band.
func (h *UserHandler) HandleAdminRegister(w http.ResponseWriter, r *http.Request) {
	var credentials registerRequest
	if err := json.NewDecoder(r.Body).Decode(&credentials); err != nil {
		sendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := validateRegistration(&credentials); err != nil {
		sendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if status, err := checkCredentialsAvailable(credentials.Username, credentials.Email); err != nil {
		if status == http.StatusInternalServerError {
			logger.L.Error("Error checking admin credential uniqueness", "error", err)
			sendJSONError(w, "Failed to process registration", http.StatusInternalServerError)
			return
		}
		sendJSONError(w, err.Error(), status)
		return
	}

	hashedPassword, err := h.authService.HashPassword(credentials.Password)
	if err != nil {
		logger.L.Error("Failed to hash admin password", "error", err)
		sendJSONError(w, "Failed to process registration", http.StatusInternalServerError)
		return
	}

	// Admin accounts skip the email verification flow.
	admin := &model.User{
		Username:        credentials.Username,
		Email:           credentials.Email,
		Password:        hashedPassword,
		AuthProvider:    "local",
		IsEmailVerified: true,
		Verified:        true,
	}

	if err := model.CreateFirstAdmin(database.DB, admin); err != nil {
		if errors.Is(err, model.ErrAdminExists) {
			sendJSONError(w, "An administrator account already exists", http.StatusConflict)
			return
		}
		logger.L.Error("Failed to create admin account", "error", err)
		sendJSONError(w, "Failed to create administrator", http.StatusInternalServerError)
		return
	}

	logger.L.Info("First administrator registered", "userID", admin.ID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Administrator registered successfully.",
	})
}

// HandleAdminLogin authenticates an administrator. Accounts with MFA
// enabled must also supply a valid TOTP code.
func (h *UserHandler) HandleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var credentials struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		MfaCode  string `json:"mfa_code"`
	}

	if err := json.NewDecoder(r.Body).Decode(&credentials); err != nil {
		sendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	credentials.Email = strings.ToLower(validation.SanitizeText(strings.TrimSpace(credentials.Email)))

	user, err := model.GetUserByEmail(database.DB, credentials.Email)
	if err != nil {
		logger.L.Warn("Admin lookup by email failed for login", "error", err)
		sendJSONError(w, "Invalid email or password", http.StatusUnauthorized)
		return
	}

	if user.Role != model.RoleAdmin {
		logger.L.Warn("Non-admin account attempted admin login", "userID", user.ID)
		sendJSONError(w, "Invalid email or password", http.StatusUnauthorized)
		return
	}

	if err := user.CheckPassword(credentials.Password); err != nil {
		logger.L.Warn("Admin password check failed", "userID", user.ID)
		sendJSONError(w, "Invalid email or password", http.StatusUnauthorized)
		return
	}

	if user.MfaEnabled {
		if credentials.MfaCode == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{
				"error": "MFA code required",
				"code":  "MFA_REQUIRED",
			})
			return
		}
		if !h.mfaService.ValidateToken(user.MfaSecret, credentials.MfaCode) {
			logger.L.Warn("Admin MFA validation failed", "userID", user.ID)
			sendJSONError(w, "Invalid MFA code", http.StatusUnauthorized)
			return
		}
	}

	if err := model.RecordLogin(database.DB, user.ID, r.RemoteAddr, r.UserAgent()); err != nil {
		logger.L.Error("Failed to record admin login info", "userID", user.ID, "error", err)
	}

	payload, err := h.issueSession(user, r)
	if err != nil {
		logger.L.Error("Failed to issue session on admin login", "userID", user.ID, "error", err)
		sendJSONError(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	logger.L.Info("Admin login successful", "userID", user.ID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}

// HandleGetAdminUsers lists users for the admin console, paginated and
// sortable via query parameters.
func (h *UserHandler) HandleGetAdminUsers(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	pageSize, err := strconv.Atoi(r.URL.Query().Get("page_size"))
	if err != nil || pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	sortBy := r.URL.Query().Get("sort_by")
	order := r.URL.Query().Get("order")

	users, total, err := model.ListUsers(database.DB, sortBy, order, pageSize, (page-1)*pageSize)
	if err != nil {
		logger.L.Error("Failed to list users for admin console", "error", err)
		sendJSONError(w, "Failed to list users", http.StatusInternalServerError)
		return
	}
	if users == nil {
		users = []model.User{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"users":     users,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

type overviewResponse struct {
	Totals         *model.OverviewTotals  `json:"totals"`
	RecentActivity []model.RecentActivity `json:"recent_activity"`
	GeneratedAt    time.Time              `json:"generated_at"`
}

// HandleGetAdminOverview returns aggregated dashboard figures plus the
// ten most recent ledger entries across all users. The response is
// cached so a busy dashboard does not rescan the ledger on every load.
func (h *UserHandler) HandleGetAdminOverview(w http.ResponseWriter, r *http.Request) {
	if cached, found := h.cache.Get(overviewCacheKey); found {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Cache", "HIT")
		json.NewEncoder(w).Encode(cached)
		return
	}

	totals, err := model.GetOverviewTotals(database.DB)
	if err != nil {
		logger.L.Error("Failed to compute overview totals", "error", err)
		sendJSONError(w, "Failed to compute overview", http.StatusInternalServerError)
		return
	}

	activity, err := model.ListRecentActivity(database.DB, 10)
	if err != nil {
		logger.L.Error("Failed to list recent activity", "error", err)
		sendJSONError(w, "Failed to compute overview", http.StatusInternalServerError)
		return
	}
	if activity == nil {
		activity = []model.RecentActivity{}
	}

	response := overviewResponse{
		Totals:         totals,
		RecentActivity: activity,
		GeneratedAt:    time.Now(),
	}
	h.cache.Set(overviewCacheKey, response, cache.DefaultExpiration)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", "MISS")
	json.NewEncoder(w).Encode(response)
}

// HandleClearOverviewCache drops the cached overview so the next read
// recomputes it.
func (h *UserHandler) HandleClearOverviewCache(w http.ResponseWriter, r *http.Request) {
	h.cache.Delete(overviewCacheKey)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Overview cache cleared"})
}

// HandleSetUserVerified sets a user's verification flag explicitly. The
// operation is idempotent: re-verifying a verified user succeeds without
// side effects.
func (h *UserHandler) HandleSetUserVerified(w http.ResponseWriter, r *http.Request) {
	targetID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		sendJSONError(w, "Invalid user ID", http.StatusBadRequest)
		return
	}

	var req struct {
		Verified *bool `json:"verified"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Verified == nil {
		sendJSONError(w, "Request body must contain a boolean 'verified' field", http.StatusBadRequest)
		return
	}

	user, err := model.GetUserByID(database.DB, targetID)
	if err != nil {
		sendJSONError(w, "User not found", http.StatusNotFound)
		return
	}

	if err := user.SetVerified(database.DB, *req.Verified); err != nil {
		logger.L.Error("Failed to update user verification flag", "targetUserID", targetID, "error", err)
		sendJSONError(w, "Failed to update verification status", http.StatusInternalServerError)
		return
	}
	h.cache.Delete(overviewCacheKey)

	adminID, _ := GetUserIDFromContext(r.Context())
	logger.FromContext(r.Context()).Info("User verification flag updated",
		"adminID", adminID, "targetUserID", targetID, "verified", *req.Verified)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":       user.ID,
		"verified": user.Verified,
	})
}

// HandleOverrideTransactionDate rewrites the display date of a ledger
// entry. The first override snapshots the original date; the entry is
// flagged as admin-edited either way. Disabled unless the pending
// transaction feature is switched on.
func (h *UserHandler) HandleOverrideTransactionDate(w http.ResponseWriter, r *http.Request) {
	if !config.Cfg.EnablePendingTx {
		sendJSONError(w, "Transaction date editing is disabled", http.StatusForbidden)
		return
	}

	entryID, err := strconv.ParseInt(chi.URLParam(r, "entryID"), 10, 64)
	if err != nil {
		sendJSONError(w, "Invalid transaction ID", http.StatusBadRequest)
		return
	}

	var req struct {
		Date string `json:"date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	newDate, err := time.Parse(time.RFC3339, req.Date)
	if err != nil {
		sendJSONError(w, "Date must be RFC3339 formatted", http.StatusBadRequest)
		return
	}

	entry, err := model.OverrideDisplayDate(database.DB, entryID, newDate)
	if err != nil {
		if errors.Is(err, model.ErrEntryNotFound) {
			sendJSONError(w, "Transaction not found", http.StatusNotFound)
			return
		}
		logger.L.Error("Failed to override transaction date", "entryID", entryID, "error", err)
		sendJSONError(w, "Failed to update transaction date", http.StatusInternalServerError)
		return
	}

	adminID, _ := GetUserIDFromContext(r.Context())
	logger.FromContext(r.Context()).Info("Transaction display date overridden",
		"adminID", adminID, "entryID", entryID, "newDate", newDate)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entry)
}
