package audit

import (
	"context"
	"sync"
	"testing"

	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/infra"
	"go.uber.org/zap"
)

type memStorage struct {
	mu     sync.Mutex
	events []OperationEvent
}

func (s *memStorage) WriteBatch(ctx context.Context, events []OperationEvent) error {
	s.mu.Lock()
	s.events = append(s.events, events...)
	s.mu.Unlock()
	return nil
}

func (s *memStorage) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestTrailFlushesEverythingOnStop(t *testing.T) {
	store := &memStorage{}
	trail := NewTrail(store, infra.NewMetrics(nil), zap.NewNop())
	trail.Start()

	for i := 0; i < 250; i++ {
		trail.Log(OperationEvent{ID: "e", ConnectionID: "conn-1", Operation: "status", Status: "SUCCESS"})
	}
	trail.Stop()

	if got := store.count(); got != 250 {
		t.Fatalf("expected all 250 events flushed on stop, got %d", got)
	}
}

func TestTrailDropsAfterStop(t *testing.T) {
	store := &memStorage{}
	trail := NewTrail(store, infra.NewMetrics(nil), zap.NewNop())
	trail.Start()
	trail.Stop()

	// Не должно ни паниковать, ни дописывать
	trail.Log(OperationEvent{ID: "late", Operation: "send", Status: "SUCCESS"})
	if got := store.count(); got != 0 {
		t.Fatalf("expected no events after stop, got %d", got)
	}
}

func TestTrailFillsTimestamp(t *testing.T) {
	store := &memStorage{}
	trail := NewTrail(store, infra.NewMetrics(nil), zap.NewNop())
	trail.Start()

	trail.Log(OperationEvent{ID: "e1", Operation: "connect", Status: "FAILED", Error: "boom"})
	trail.Stop()

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(store.events))
	}
	if store.events[0].Timestamp.IsZero() {
		t.Fatal("trail must stamp events that come without a timestamp")
	}
}
