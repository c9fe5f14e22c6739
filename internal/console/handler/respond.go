package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/domain"
	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/gateway"
)

// envelope — единый формат ответа API. Ошибки шлюза едут с success=false
// и списком details: UI показывает их в раскрывающемся блоке диагностики.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Details []string    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondData(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, status int, msg string, details []string) {
	writeJSON(w, status, envelope{Success: false, Error: msg, Details: details})
}

// respondFailure раскладывает ошибку по HTTP-статусам: валидация -> 400,
// нет записи -> 404, недоступность шлюза -> 500, бизнес-отказ шлюза
// (тело с error, определившийся 4xx) -> 200 + success=false: это штатный
// исход операции, а не сбой нашего API.
func respondFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrEmptyConnectionID),
		errors.Is(err, domain.ErrEmptyPhoneNumber),
		errors.Is(err, gateway.ErrEmptyCredentials):
		respondError(w, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, domain.ErrConnectionNotFound),
		errors.Is(err, domain.ErrAgentNotFound):
		respondError(w, http.StatusNotFound, err.Error(), nil)
	default:
		var apiErr *gateway.APIError
		if errors.As(err, &apiErr) {
			// Status 0 — транспортный сбой, до шлюза не достучались
			if apiErr.Status == 0 || apiErr.Status >= 500 {
				respondError(w, http.StatusInternalServerError, apiErr.Message, apiErr.Details)
				return
			}
			respondError(w, http.StatusOK, apiErr.Message, apiErr.Details)
			return
		}
		respondError(w, http.StatusInternalServerError, "internal error", nil)
	}
}
