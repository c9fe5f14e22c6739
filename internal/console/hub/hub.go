package hub

import (
	"encoding/json"
	"sync"

	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/domain"
)

type Writer interface {
	Write(message []byte) error
	Close() error
}

type Connection struct {
	Writer Writer
}

// Hub раздает события по записям подключений всем открытым вкладкам дашборда.
// Сегментации по пользователям нет: список подключений общий для всей админки.
type Hub struct {
	mu          sync.RWMutex
	connections map[*Connection]struct{}
}

func New() *Hub {
	return &Hub{connections: make(map[*Connection]struct{})}
}

func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	h.connections[conn] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	delete(h.connections, conn)
	h.mu.Unlock()
}

// Broadcast пишет сообщение во все соединения; отвалившиеся закрывает и убирает.
func (h *Hub) Broadcast(message []byte) {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.connections))
	for c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	var failed []*Connection
	for _, c := range conns {
		if err := c.Writer.Write(message); err != nil {
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		_ = c.Writer.Close()
		h.Unregister(c)
	}
}

// BroadcastEvent сериализует типизированное событие и рассылает его.
// Это приемник для Reconciler.SetNotify.
func (h *Hub) BroadcastEvent(evt domain.RecordEvent) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	h.Broadcast(payload)
}
