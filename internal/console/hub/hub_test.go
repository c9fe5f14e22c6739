package hub

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/domain"
)

type testWriter struct {
	writes   int
	messages [][]byte
	fail     bool
}

func (w *testWriter) Write(message []byte) error {
	w.writes++
	if w.fail {
		return errors.New("broken pipe")
	}
	w.messages = append(w.messages, message)
	return nil
}

func (w *testWriter) Close() error { return nil }

func TestHubRegisterBroadcastUnregister(t *testing.T) {
	h := New()
	w1 := &testWriter{}
	c1 := &Connection{Writer: w1}

	h.Register(c1)
	h.Broadcast([]byte("x"))
	if w1.writes != 1 {
		t.Fatalf("expected 1 write, got %d", w1.writes)
	}

	h.Unregister(c1)
	h.Broadcast([]byte("x"))
	if w1.writes != 1 {
		t.Fatalf("expected no more writes, got %d", w1.writes)
	}
}

func TestHubRemovesFailedConnections(t *testing.T) {
	h := New()
	w1 := &testWriter{fail: true}
	c1 := &Connection{Writer: w1}
	h.Register(c1)

	h.Broadcast([]byte("x"))
	h.Broadcast([]byte("x"))
	if w1.writes != 1 {
		t.Fatalf("expected only 1 write before removal, got %d", w1.writes)
	}
}

func TestHubBroadcastEventSerializesRecordEvent(t *testing.T) {
	h := New()
	w1 := &testWriter{}
	h.Register(&Connection{Writer: w1})

	h.BroadcastEvent(domain.RecordEvent{Type: domain.RecordDeleted, ID: "conn-1"})

	if len(w1.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w1.messages))
	}
	var evt domain.RecordEvent
	if err := json.Unmarshal(w1.messages[0], &evt); err != nil {
		t.Fatalf("unmarshal broadcast payload: %v", err)
	}
	if evt.Type != domain.RecordDeleted || evt.ID != "conn-1" {
		t.Fatalf("unexpected event: %+v", evt)
	}
}
