package handler

import (
	"net/http"
	"strconv"
	"strings"

	"go-auth-tokens/internal/model"
	"go-auth-tokens/internal/service"
)

type AuditHandler struct {
	service *service.AuditService
}

func NewAuditHandler(service *service.AuditService) *AuditHandler {
	return &AuditHandler{service: service}
}

func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	items, err := h.service.Query(model.AuditQuery{
		Action:   strings.TrimSpace(query.Get("action")),
		Username: strings.TrimSpace(query.Get("username")),
		Status:   strings.TrimSpace(query.Get("status")),
		Limit:    parseIntOrDefault(query.Get("limit"), 50),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, model.AuditListData{Items: items})
}

func parseIntOrDefault(raw string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return v
}
