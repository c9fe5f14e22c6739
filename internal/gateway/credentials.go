package gateway

import (
	"errors"
	"sync"
)

// Credentials — эффективная пара для обращения к шлюзу.
type Credentials struct {
	APIURL string `json:"apiUrl"`
	APIKey string `json:"apiKey"`
}

var ErrEmptyCredentials = errors.New("both apiUrl and apiKey are required")

// CredentialStore резолвит {apiUrl, apiKey} в порядке приоритета:
// (a) креды, переданные с конкретным вызовом, (b) рантайм-переопределение
// через Set, (c) деплойные дефолты из конфига.
//
// Состояние процессное и не переживает рестарт — осознанное решение
// для single-instance деплоя (см. DESIGN.md). Гонки конкурентных Set
// разрешаются last-writer-wins, обновления редки и инициируются человеком.
type CredentialStore struct {
	mu       sync.RWMutex
	defaults Credentials
	override *Credentials
}

func NewCredentialStore(defaults Credentials) *CredentialStore {
	return &CredentialStore{defaults: defaults}
}

// Set переопределяет креды на время жизни процесса.
// Пустые поля отклоняются, предыдущее значение сохраняется.
func (s *CredentialStore) Set(apiURL, apiKey string) error {
	if apiURL == "" || apiKey == "" {
		return ErrEmptyCredentials
	}
	s.mu.Lock()
	s.override = &Credentials{APIURL: apiURL, APIKey: apiKey}
	s.mu.Unlock()
	return nil
}

// Get возвращает текущие эффективные креды (без пер-вызовного переопределения).
func (s *CredentialStore) Get() Credentials {
	return s.Resolve(nil)
}

// Resolve применяет порядок приоритета, описанный выше.
func (s *CredentialStore) Resolve(perCall *Credentials) Credentials {
	if perCall != nil && perCall.APIURL != "" {
		return *perCall
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.override != nil {
		return *s.override
	}
	return s.defaults
}
