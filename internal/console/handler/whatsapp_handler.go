package handler

/*
Файл whatsapp_handler.go — единая точка входа для фронтенда дашборда:
POST /v1/whatsapp/dispatch с полем action. Одна ручка вместо россыпи
эндпоинтов, потому что фронт шлет все операции через общий прокси-вызов.
*/

import (
	"encoding/json"
	"net/http"

	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/console/service"
	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/gateway"
	"go.uber.org/zap"
)

type dispatchRequest struct {
	Action       string  `json:"action"`
	ConnectionID string  `json:"connectionId,omitempty"`
	AgentID      *string `json:"agentId,omitempty"`

	// Для send
	Number string `json:"number,omitempty"`
	Text   string `json:"text,omitempty"`

	// Пер-вызовные креды шлюза (высший приоритет, не сохраняются)
	Credentials *gateway.Credentials `json:"credentials,omitempty"`
}

type WhatsAppHandler struct {
	service *service.ConnectionService
	logger  *zap.Logger
}

func NewWhatsAppHandler(s *service.ConnectionService, logger *zap.Logger) *WhatsAppHandler {
	return &WhatsAppHandler{service: s, logger: logger.Named("whatsapp-handler")}
}

func (h *WhatsAppHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	ctx := r.Context()

	switch req.Action {
	case "update_credentials":
		var apiURL, apiKey string
		if req.Credentials != nil {
			apiURL, apiKey = req.Credentials.APIURL, req.Credentials.APIKey
		}
		if err := h.service.UpdateCredentials(apiURL, apiKey); err != nil {
			respondFailure(w, err)
			return
		}
		respondData(w, http.StatusOK, map[string]string{"status": "credentials updated"})

	case "test_connection":
		if err := h.service.TestConnection(ctx, req.Credentials); err != nil {
			respondFailure(w, err)
			return
		}
		respondData(w, http.StatusOK, map[string]bool{"reachable": true})

	case "connect":
		state, err := h.service.Connect(ctx, req.ConnectionID, req.AgentID)
		if err != nil {
			respondFailure(w, err)
			return
		}
		respondData(w, http.StatusOK, state)

	case "status":
		view, err := h.service.Status(ctx, req.ConnectionID)
		if err != nil {
			respondFailure(w, err)
			return
		}
		respondData(w, http.StatusOK, view)

	case "send":
		if err := h.service.Send(ctx, req.ConnectionID, req.Number, req.Text, req.Credentials); err != nil {
			respondFailure(w, err)
			return
		}
		respondData(w, http.StatusOK, map[string]string{"status": "sent"})

	case "disconnect":
		if err := h.service.Disconnect(ctx, req.ConnectionID); err != nil {
			respondFailure(w, err)
			return
		}
		respondData(w, http.StatusOK, map[string]string{"status": "disconnected"})

	default:
		h.logger.Warn("unknown dispatch action", zap.String("action", req.Action))
		respondError(w, http.StatusBadRequest, "unknown action: "+req.Action, nil)
	}
}
