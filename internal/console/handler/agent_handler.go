package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/console/service"
	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/domain"
	"go.uber.org/zap"
)

type AgentHandler struct {
	service *service.AgentService
	logger  *zap.Logger
}

func NewAgentHandler(s *service.AgentService, logger *zap.Logger) *AgentHandler {
	return &AgentHandler{service: s, logger: logger.Named("agent-handler")}
}

// Routes Маршруты для Chi
func (h *AgentHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Put("/", h.Update)
		r.Delete("/", h.Delete)
		r.Post("/pause", h.Pause)   // Вывод из обслуживания одной кнопкой
		r.Post("/resume", h.Resume)
	})
	return r
}

func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
	agents, err := h.service.List(r.Context())
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondData(w, http.StatusOK, agents)
}

func (h *AgentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var a domain.Agent
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	created, err := h.service.Create(r.Context(), &a)
	if err != nil {
		if isValidationError(err) {
			respondError(w, http.StatusBadRequest, err.Error(), nil)
			return
		}
		respondFailure(w, err)
		return
	}
	respondData(w, http.StatusCreated, created)
}

func (h *AgentHandler) Get(w http.ResponseWriter, r *http.Request) {
	a, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondData(w, http.StatusOK, a)
}

func (h *AgentHandler) Update(w http.ResponseWriter, r *http.Request) {
	var a domain.Agent
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	a.ID = chi.URLParam(r, "id")

	updated, err := h.service.Update(r.Context(), &a)
	if err != nil {
		if isValidationError(err) {
			respondError(w, http.StatusBadRequest, err.Error(), nil)
			return
		}
		respondFailure(w, err)
		return
	}
	respondData(w, http.StatusOK, updated)
}

func (h *AgentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AgentHandler) Pause(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Pause(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AgentHandler) Resume(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Resume(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func isValidationError(err error) bool {
	switch err {
	case service.ErrAgentNameRequired, service.ErrInvalidTemperature, service.ErrInvalidAgentStatus:
		return true
	}
	return false
}
