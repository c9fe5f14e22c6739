package connection

import (
	"sort"
	"sync"

	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/domain"
)

// ListView — локальная проекция таблицы подключений для списковых UI
// (сайдбар, таблица устройств). Складывает поток событий по правилу
// last-writer-wins на id; DELETE убирает запись безусловно.
type ListView struct {
	mu      sync.RWMutex
	records map[string]domain.ConnectionRecord
}

func NewListView() *ListView {
	return &ListView{records: make(map[string]domain.ConnectionRecord)}
}

// Replace целиком заменяет проекцию свежим снапшотом из БД
// (вызывается при каждом (пере)подключении к шине событий).
func (v *ListView) Replace(records []domain.ConnectionRecord) {
	next := make(map[string]domain.ConnectionRecord, len(records))
	for _, r := range records {
		next[r.ID] = r
	}
	v.mu.Lock()
	v.records = next
	v.mu.Unlock()
}

// Apply фолдит одно событие в проекцию.
func (v *ListView) Apply(evt domain.RecordEvent) {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch evt.Type {
	case domain.RecordDeleted:
		delete(v.records, evt.ID)
	case domain.RecordInserted, domain.RecordUpdated:
		if evt.Record != nil {
			v.records[evt.Record.ID] = *evt.Record
		}
	}
}

// Snapshot возвращает записи, новые сверху.
func (v *ListView) Snapshot() []domain.ConnectionRecord {
	v.mu.RLock()
	out := make([]domain.ConnectionRecord, 0, len(v.records))
	for _, r := range v.records {
		out = append(out, r)
	}
	v.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
