package handlers

import (
	"crypto/subtle"
	"net/http"
	"os"
	"strconv"
	"strings"

	"postaty/internal/httpkit"
)

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	owner := ownerID(r)
	if owner == "" {
		httpkit.WriteErr(w, 401, "UNAUTHORIZED", "missing X-User-ID", nil)
		return
	}

	balance, err := h.ledger.Balance(ctx, owner)
	if err != nil {
		writeError(w, err)
		return
	}

	httpkit.WriteJSON(w, 200, map[string]any{
		"user_id": owner,
		"balance": balance,
	})
}

func (h *Handler) ListLedger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	owner := ownerID(r)
	if owner == "" {
		httpkit.WriteErr(w, 401, "UNAUTHORIZED", "missing X-User-ID", nil)
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 200 {
			limit = v
		}
	}

	entries, err := h.ledger.Entries(ctx, owner, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	httpkit.WriteJSON(w, 200, map[string]any{"entries": entries})
}

type grantRequest struct {
	UserID string `json:"user_id"`
	Amount int64  `json:"amount"`
}

// GrantCredits tops up a user's balance. Admin-only; the caller proves
// itself with the shared ADMIN_TOKEN.
func (h *Handler) GrantCredits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := strings.TrimSpace(os.Getenv("ADMIN_TOKEN"))
	given := strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(given)) != 1 {
		httpkit.WriteErr(w, 403, "FORBIDDEN", "admin token required", nil)
		return
	}

	var req grantRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		httpkit.WriteErr(w, 400, "VALIDATION_ERROR", "invalid json body", nil)
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		httpkit.WriteErr(w, 400, "VALIDATION_ERROR", "user_id is required", map[string]any{"field": "user_id"})
		return
	}

	if err := h.ledger.Grant(ctx, req.UserID, req.Amount); err != nil {
		writeError(w, err)
		return
	}

	balance, err := h.ledger.Balance(ctx, req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	httpkit.WriteJSON(w, 200, map[string]any{
		"user_id": req.UserID,
		"balance": balance,
	})
}
