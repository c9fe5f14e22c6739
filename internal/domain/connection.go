package domain

import (
	"errors"
	"time"
)

// Фазы State Machine подключения WhatsApp-инстанса
type ConnectionPhase string

const (
	PhaseIdle         ConnectionPhase = "idle"               // Ничего не запущено
	PhaseTesting      ConnectionPhase = "testing_connection" // Проверяем доступность шлюза
	PhaseLoading      ConnectionPhase = "loading"            // Создание/подключение инстанса
	PhaseAwaitingScan ConnectionPhase = "awaiting_scan"      // QR выдан, ждем сканирования
	PhasePending      ConnectionPhase = "pending"            // Инстанс принят, QR еще не сгенерирован
	PhaseConnected    ConnectionPhase = "connected"          // Шлюз сообщил state=open
	PhaseError        ConnectionPhase = "error"              // Сбой, восстановимо через refresh
)

// NeedsCreation — особый статус реконсиляции: запись о подключении есть,
// а инстанса на шлюзе нет. UI предлагает пересоздание вместо тупика.
const NeedsCreation = "needs_creation"

var (
	ErrConnectionNotFound = errors.New("connection record not found")
	ErrEmptyConnectionID  = errors.New("connection id is required")
	ErrEmptyPhoneNumber   = errors.New("phone number is required")
)

// ConnectionState — снимок состояния одной попытки подключения.
// awaiting_scan всегда несет непустой QR, error — человекочитаемое сообщение.
type ConnectionState struct {
	Phase      ConnectionPhase `json:"phase"`
	QR         string          `json:"qr,omitempty"`          // Голый base64, без data-URL префикса
	QRAttempts int             `json:"qr_attempts,omitempty"` // Сколько раз QR обновлялся
	Message    string          `json:"message,omitempty"`
	Details    []string        `json:"details,omitempty"` // Сырые диагностики для раскрывающегося блока в UI
}

// Terminal — connected останавливает поллинг; error восстановим через refresh,
// поэтому терминален только с точки зрения текущей попытки.
func (s ConnectionState) Terminal() bool {
	return s.Phase == PhaseConnected || s.Phase == PhaseError
}

// ConnectionData — свободная часть записи (jsonb в Postgres).
type ConnectionData struct {
	Status string `json:"status"`
	QR     string `json:"qr,omitempty"`
	Name   string `json:"name,omitempty"`
}

// ConnectionRecord — персистентная запись о подключении.
// Инвариант: IsActive == true тогда и только тогда, когда
// ConnectionData.Status == "connected". Реконсайлер выводит флаг из статуса,
// поэтому рассинхронизация невозможна дольше одного цикла записи.
type ConnectionRecord struct {
	ID        string         `json:"id"`
	AgentID   *string        `json:"agent_id,omitempty"` // NULL до привязки к агенту
	Platform  string         `json:"platform"`           // всегда "whatsapp"
	IsActive  bool           `json:"is_active"`
	Data      ConnectionData `json:"connection_data"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Типы событий по записям подключений (realtime-подписка)
type RecordEventType string

const (
	RecordInserted RecordEventType = "INSERT"
	RecordUpdated  RecordEventType = "UPDATE"
	RecordDeleted  RecordEventType = "DELETE"
)

// RecordEvent транслируется через Redis Pub/Sub и в WebSocket-наблюдателей.
// Для DELETE заполнен только ID.
type RecordEvent struct {
	Type   RecordEventType   `json:"type"`
	ID     string            `json:"id"`
	Record *ConnectionRecord `json:"record,omitempty"`
}
