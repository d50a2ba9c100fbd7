package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"postaty/internal/httpkit"
)

func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	owner := ownerID(r)
	if owner == "" {
		httpkit.WriteErr(w, 401, "UNAUTHORIZED", "missing X-User-ID", nil)
		return
	}

	unreadOnly := r.URL.Query().Get("unread") == "true"

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 200 {
			limit = v
		}
	}

	items, err := h.sink.List(ctx, owner, unreadOnly, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	httpkit.WriteJSON(w, 200, map[string]any{"notifications": items})
}

func (h *Handler) ReadNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	owner := ownerID(r)
	if owner == "" {
		httpkit.WriteErr(w, 401, "UNAUTHORIZED", "missing X-User-ID", nil)
		return
	}

	id := chi.URLParam(r, "notificationId")
	if err := h.sink.MarkRead(ctx, owner, id); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(204)
}
