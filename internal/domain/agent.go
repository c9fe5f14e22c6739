package domain

import (
	"errors"
	"time"
)

var ErrAgentNotFound = errors.New("agent not found")

type AgentStatus string

const (
	AgentActive   AgentStatus = "active"   // Агент обслуживает сообщения
	AgentPaused   AgentStatus = "paused"   // Временно отключен оператором
	AgentArchived AgentStatus = "archived" // Скрыт из списков, история сохранена
)

// Agent — AI-агент, от имени которого ведется переписка в WhatsApp.
type Agent struct {
	ID     string      `json:"id"` // UUID
	Name   string      `json:"name"`
	Status AgentStatus `json:"status"`

	// Настройки поведения модели
	Prompt      string  `json:"prompt"`      // Системная инструкция (персона)
	Model       string  `json:"model"`       // Идентификатор LLM
	Temperature float64 `json:"temperature"` // 0..2

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
