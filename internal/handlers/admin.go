package handlers

import (
	"errors"
	"net/http"
	"sort"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/wenkexue-ai/wechat-bot/internal/credit"
)

// AdminHandler exposes read-only operational endpoints over the credit
// ledger. These are meant to sit behind the deployment's own access
// control, not be public.
type AdminHandler struct {
	credits credit.Store
	logger  *logrus.Logger
}

func NewAdminHandler(credits credit.Store, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{credits: credits, logger: logger}
}

// HandleStats reports aggregate usage totals.
func (h *AdminHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.credits.Accounts(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Listing accounts failed")
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false})
		return
	}

	var totalBalance, totalDebits int
	for _, a := range accounts {
		totalBalance += a.Balance
		totalDebits += a.TotalDebits
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"totalUsers":   len(accounts),
		"totalBalance": totalBalance,
		"totalDebits":  totalDebits,
	})
}

type userSummary struct {
	OpenID      string `json:"openId"`
	Balance     int    `json:"balance"`
	TotalDebits int    `json:"totalDebits"`
	LastActive  string `json:"lastActive"`
}

// HandleUsers lists accounts with the openid redacted.
func (h *AdminHandler) HandleUsers(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.credits.Accounts(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Listing accounts failed")
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false})
		return
	}

	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].LastActiveAt.After(accounts[j].LastActiveAt)
	})

	users := make([]userSummary, 0, len(accounts))
	for _, a := range accounts {
		users = append(users, userSummary{
			OpenID:      redactOpenID(a.OpenID),
			Balance:     a.Balance,
			TotalDebits: a.TotalDebits,
			LastActive:  a.LastActiveAt.Format("2006-01-02 15:04:05"),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"users":   users,
	})
}

// HandleUser returns one account in full, including its recent debit
// history.
func (h *AdminHandler) HandleUser(w http.ResponseWriter, r *http.Request) {
	openID := mux.Vars(r)["openID"]

	account, err := h.credits.Get(r.Context(), openID)
	if errors.Is(err, credit.ErrAccountNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"success": false,
			"message": "用户不存在",
		})
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Loading account failed")
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false})
		return
	}

	history := make([]map[string]interface{}, 0, len(account.History))
	for _, e := range account.History {
		history = append(history, map[string]interface{}{
			"amount": e.Amount,
			"note":   e.Note,
			"at":     e.At.Format("2006-01-02 15:04:05"),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"openId":      account.OpenID,
		"balance":     account.Balance,
		"totalDebits": account.TotalDebits,
		"firstSeen":   account.FirstSeenAt.Format("2006-01-02 15:04:05"),
		"history":     history,
	})
}

func redactOpenID(openID string) string {
	runes := []rune(openID)
	if len(runes) <= 10 {
		return openID
	}
	return string(runes[:10]) + "***"
}
