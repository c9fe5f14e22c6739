package audit

import "time"

// OperationEvent — одна операция против шлюза или записи подключения.
// Складывается в operation_trail и питает статистику дашборда.
type OperationEvent struct {
	ID           string    `json:"id"`
	ConnectionID string    `json:"connection_id"`
	Operation    string    `json:"operation"` // connect, status, send, disconnect...
	Status       string    `json:"status"`    // SUCCESS | FAILED
	Error        string    `json:"error,omitempty"`
	DurationMs   int64     `json:"duration_ms"`
	Timestamp    time.Time `json:"timestamp"`
}
