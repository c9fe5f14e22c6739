package handler

import (
	"context"
	"net/http"

	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/domain"
)

// DashboardService Описываем, что нам нужно от хранилища
type DashboardService interface {
	GetDashboardStats(ctx context.Context) (*domain.DashboardStats, error)
}

type DashboardHandler struct {
	service DashboardService
}

func NewDashboardHandler(s DashboardService) *DashboardHandler {
	return &DashboardHandler{service: s}
}

func (h *DashboardHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetDashboardStats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to fetch stats", nil)
		return
	}
	respondData(w, http.StatusOK, stats)
}
