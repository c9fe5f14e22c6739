package handler

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/console/service"
	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/domain"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

type ConnectionHandler struct {
	service *service.ConnectionService
	logger  *zap.Logger
}

func NewConnectionHandler(s *service.ConnectionService, logger *zap.Logger) *ConnectionHandler {
	return &ConnectionHandler{service: s, logger: logger.Named("connection-handler")}
}

// Routes Маршруты для Chi
func (h *ConnectionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Delete("/", h.Disconnect)
		r.Post("/refresh", h.Refresh)
		r.Put("/agent", h.AssignAgent)
		r.Get("/qr.png", h.QRImage)
	})
	return r
}

func (h *ConnectionHandler) List(w http.ResponseWriter, r *http.Request) {
	respondData(w, http.StatusOK, h.service.List(r.Context()))
}

type createConnectionRequest struct {
	ID      string  `json:"id,omitempty"`
	Name    string  `json:"name,omitempty"`
	AgentID *string `json:"agentId,omitempty"`
}

func (h *ConnectionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	rec, err := h.service.Create(r.Context(), req.ID, req.Name, req.AgentID)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondData(w, http.StatusCreated, rec)
}

func (h *ConnectionHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondData(w, http.StatusOK, rec)
}

func (h *ConnectionHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Disconnect(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ConnectionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.Refresh(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondData(w, http.StatusOK, state)
}

type assignAgentRequest struct {
	AgentID *string `json:"agentId"` // null отвязывает агента
}

func (h *ConnectionHandler) AssignAgent(w http.ResponseWriter, r *http.Request) {
	var req assignAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	rec, err := h.service.AssignAgent(r.Context(), chi.URLParam(r, "id"), req.AgentID)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondData(w, http.StatusOK, rec)
}

// QRImage отдает QR как PNG — для UI, где data-URL неудобен (печать, <img src>).
// Шлюз обычно присылает уже отрендеренный PNG в base64; если же пришла
// сырая pairing-строка, рендерим картинку сами.
func (h *ConnectionHandler) QRImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	state, ok := h.service.LiveState(id)
	if !ok || state.Phase != domain.PhaseAwaitingScan || state.QR == "" {
		respondError(w, http.StatusNotFound, "no QR available for this connection", nil)
		return
	}

	png, err := base64.StdEncoding.DecodeString(state.QR)
	if err != nil || !isPNG(png) {
		png, err = qrcode.Encode(state.QR, qrcode.Medium, 256)
		if err != nil {
			h.logger.Error("qr render failed", zap.String("connection_id", id), zap.Error(err))
			respondError(w, http.StatusInternalServerError, "failed to render QR", nil)
			return
		}
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store") // QR короткоживущий
	w.Write(png)
}

func isPNG(data []byte) bool {
	return len(data) > 8 && string(data[:8]) == "\x89PNG\r\n\x1a\n"
}
