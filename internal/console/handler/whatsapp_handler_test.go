package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/audit"
	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/connection"
	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/console/service"
	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/domain"
	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/gateway"
	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/infra"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// fakeStore — персистентный слой в памяти для интеграционных проверок dispatch.
type fakeStore struct {
	mu      sync.Mutex
	records map[string]domain.ConnectionRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]domain.ConnectionRecord)}
}

func (s *fakeStore) CreateConnection(ctx context.Context, rec *domain.ConnectionRecord) (*domain.ConnectionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	s.records[cp.ID] = cp
	return &cp, nil
}

func (s *fakeStore) GetConnection(ctx context.Context, id string) (*domain.ConnectionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, domain.ErrConnectionNotFound
	}
	cp := rec
	return &cp, nil
}

func (s *fakeStore) AssignAgent(ctx context.Context, id string, agentID *string) (*domain.ConnectionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, domain.ErrConnectionNotFound
	}
	rec.AgentID = agentID
	rec.UpdatedAt = time.Now()
	s.records[id] = rec
	cp := rec
	return &cp, nil
}

func (s *fakeStore) DeleteConnection(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return domain.ErrConnectionNotFound
	}
	delete(s.records, id)
	return nil
}

func (s *fakeStore) UpdateConnectionState(ctx context.Context, id string, isActive bool, data domain.ConnectionData) (*domain.ConnectionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, domain.ErrConnectionNotFound
	}
	rec.IsActive = isActive
	rec.Data.Status = data.Status
	rec.Data.QR = data.QR // Имя сохраняется, статус и QR перезаписываются
	rec.UpdatedAt = time.Now()
	s.records[id] = rec
	cp := rec
	return &cp, nil
}

func (s *fakeStore) ListConnections(ctx context.Context) ([]domain.ConnectionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ConnectionRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out, nil
}

type nopTrail struct{}

func (nopTrail) Log(audit.OperationEvent) {}

// stubGateway — минимальный Evolution API для тестов.
type stubGateway struct {
	mu         sync.Mutex
	state      string // Ответ connectionState
	missing    bool   // Инстанс не существует: везде 404
	logoutHits int
	deleteHits int
}

func (g *stubGateway) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		state, missing := g.state, g.missing
		g.mu.Unlock()

		switch {
		case r.URL.Path == "/":
			w.Write([]byte(`{"status":200,"message":"Welcome to the Evolution API"}`))
		case strings.HasPrefix(r.URL.Path, "/instance/create"):
			w.Write([]byte(`{"instance":{"instanceName":"conn-1","state":"connecting"},"qrcode":{"base64":"data:image/png;base64,UVIx"}}`))
		case strings.HasPrefix(r.URL.Path, "/instance/connect/"):
			w.Write([]byte(`{"base64":"data:image/png;base64,UVIx"}`))
		case strings.HasPrefix(r.URL.Path, "/instance/connectionState/"):
			if missing {
				http.Error(w, `{"error":"instance not found"}`, http.StatusNotFound)
				return
			}
			w.Write([]byte(`{"instance":{"instanceName":"conn-1","state":"` + state + `"}}`))
		case strings.HasPrefix(r.URL.Path, "/instance/qrcode/"):
			w.Write([]byte(`{"base64":"data:image/png;base64,UVIx"}`))
		case strings.HasPrefix(r.URL.Path, "/instance/logout/"):
			g.mu.Lock()
			g.logoutHits++
			g.mu.Unlock()
			w.Write([]byte(`{}`))
		case strings.HasPrefix(r.URL.Path, "/instance/delete/"):
			g.mu.Lock()
			g.deleteHits++
			g.mu.Unlock()
			w.Write([]byte(`{}`))
		default:
			w.Write([]byte(`{}`))
		}
	})
}

func (g *stubGateway) setState(state string) {
	g.mu.Lock()
	g.state = state
	g.mu.Unlock()
}

type dispatchEnv struct {
	handler *WhatsAppHandler
	store   *fakeStore
	stub    *stubGateway
}

func newDispatchEnv(t *testing.T) *dispatchEnv {
	t.Helper()
	logger := zap.NewNop()

	stub := &stubGateway{state: "connecting"}
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)

	creds := gateway.NewCredentialStore(gateway.Credentials{APIURL: srv.URL, APIKey: "test-key"})
	gwClient := gateway.NewClient(creds, infra.GatewayConfig{
		RequestTimeout: 2 * time.Second,
		RetryAttempts:  3,
		RetryDelay:     5 * time.Millisecond,
		RatePerSecond:  1000,
	}, infra.NewMetrics(nil), logger)

	store := newFakeStore()
	view := connection.NewListView()
	// Redis недоступен: Broadcast падает на Publish и применяет события локально
	deadRedis := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})
	bus := connection.NewEventBus(deadRedis, logger)
	reconciler := connection.NewReconciler(store, bus, view, logger)

	registry := connection.NewRegistry(gwClient, reconciler, 3*time.Second, logger)
	poller := connection.NewPoller(time.Hour, infra.NewMetrics(nil), logger)
	t.Cleanup(poller.Shutdown)

	svc := service.NewConnectionService(store, registry, poller, reconciler, view, gwClient, creds, nopTrail{}, logger)
	return &dispatchEnv{
		handler: NewWhatsAppHandler(svc, logger),
		store:   store,
		stub:    stub,
	}
}

func (e *dispatchEnv) dispatch(t *testing.T, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/whatsapp/dispatch", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	e.handler.Dispatch(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal response %q: %v", w.Body.String(), err)
	}
	return w, env
}

func dataField(t *testing.T, env envelope, key string) interface{} {
	t.Helper()
	m, ok := env.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("expected object data, got %T", env.Data)
	}
	return m[key]
}

func TestDispatchConnectIssuesQR(t *testing.T) {
	e := newDispatchEnv(t)

	w, env := e.dispatch(t, `{"action":"connect","connectionId":"conn-1"}`)
	if w.Code != http.StatusOK || !env.Success {
		t.Fatalf("expected success, got code=%d body=%+v", w.Code, env)
	}
	if got := dataField(t, env, "phase"); got != "awaiting_scan" {
		t.Fatalf("expected awaiting_scan, got %v", got)
	}
	// QR нормализован: data-URL префикс отрезан
	if got := dataField(t, env, "qr"); got != "UVIx" {
		t.Fatalf("expected bare base64 QR, got %v", got)
	}

	// Запись создана автоматически и отражает состояние
	rec, err := e.store.GetConnection(context.Background(), "conn-1")
	if err != nil {
		t.Fatalf("record must be auto-created: %v", err)
	}
	if rec.IsActive || rec.Data.Status != "awaiting_scan" {
		t.Fatalf("unexpected persisted state: %+v", rec)
	}
}

func TestDispatchStatusTracksOpenSession(t *testing.T) {
	e := newDispatchEnv(t)
	e.dispatch(t, `{"action":"connect","connectionId":"conn-1"}`)

	// Пользователь отсканировал QR
	e.stub.setState("open")

	_, env := e.dispatch(t, `{"action":"status","connectionId":"conn-1"}`)
	if !env.Success {
		t.Fatalf("expected success, got %+v", env)
	}
	if got := dataField(t, env, "status"); got != "connected" {
		t.Fatalf("expected connected, got %v", got)
	}

	// is_active выводится из статуса
	rec, _ := e.store.GetConnection(context.Background(), "conn-1")
	if !rec.IsActive || rec.Data.Status != "connected" {
		t.Fatalf("expected active connected record, got %+v", rec)
	}
}

func TestDispatchStatusNeedsCreation(t *testing.T) {
	e := newDispatchEnv(t)
	// Запись есть (например, после рестарта), инстанса на шлюзе нет
	e.store.CreateConnection(context.Background(), &domain.ConnectionRecord{
		ID: "ghost", Platform: "whatsapp",
		Data: domain.ConnectionData{Status: "pending"},
	})
	e.stub.mu.Lock()
	e.stub.missing = true
	e.stub.mu.Unlock()

	_, env := e.dispatch(t, `{"action":"status","connectionId":"ghost"}`)
	if !env.Success {
		t.Fatalf("needs_creation is a normal outcome, got %+v", env)
	}
	if got := dataField(t, env, "status"); got != domain.NeedsCreation {
		t.Fatalf("expected needs_creation, got %v", got)
	}
}

func TestDispatchDisconnectTearsEverythingDown(t *testing.T) {
	e := newDispatchEnv(t)
	e.dispatch(t, `{"action":"connect","connectionId":"conn-1"}`)

	w, env := e.dispatch(t, `{"action":"disconnect","connectionId":"conn-1"}`)
	if w.Code != http.StatusOK || !env.Success {
		t.Fatalf("expected success, got code=%d body=%+v", w.Code, env)
	}

	if _, err := e.store.GetConnection(context.Background(), "conn-1"); err != domain.ErrConnectionNotFound {
		t.Fatalf("record must be removed, got %v", err)
	}
	e.stub.mu.Lock()
	defer e.stub.mu.Unlock()
	if e.stub.logoutHits != 1 || e.stub.deleteHits != 1 {
		t.Fatalf("gateway teardown incomplete: logout=%d delete=%d", e.stub.logoutHits, e.stub.deleteHits)
	}
}

func TestDispatchValidation(t *testing.T) {
	e := newDispatchEnv(t)

	w, env := e.dispatch(t, `{"action":"teleport"}`)
	if w.Code != http.StatusBadRequest || env.Success {
		t.Fatalf("unknown action must be 400, got code=%d body=%+v", w.Code, env)
	}

	w, _ = e.dispatch(t, `{"action":"connect"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("connect without id must be 400, got %d", w.Code)
	}

	w, _ = e.dispatch(t, `{"action":"update_credentials","credentials":{"apiUrl":"","apiKey":""}}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty credentials must be 400, got %d", w.Code)
	}

	w, _ = e.dispatch(t, `{"action":"send","connectionId":"conn-1","number":"","text":"hi"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("send without number must be 400, got %d", w.Code)
	}
}
