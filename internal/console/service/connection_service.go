package service

/*
Файл connection_service.go — оркестратор жизненного цикла WhatsApp-подключений.
Сервис связывает воедино: записи в Postgres, машины состояний (registry),
поллер статуса, клиента шлюза и журнал операций. Хендлеры не знают ни про
машину, ни про шлюз — только про методы этого сервиса.
*/

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/audit"
	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/connection"
	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/domain"
	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/gateway"
	"go.uber.org/zap"
)

// ConnectionRepo — персистентные операции над записями подключений.
type ConnectionRepo interface {
	CreateConnection(ctx context.Context, rec *domain.ConnectionRecord) (*domain.ConnectionRecord, error)
	GetConnection(ctx context.Context, id string) (*domain.ConnectionRecord, error)
	AssignAgent(ctx context.Context, id string, agentID *string) (*domain.ConnectionRecord, error)
	DeleteConnection(ctx context.Context, id string) error
}

// StatusView — ответ на запрос статуса. Status дублирует State.Phase,
// кроме особого случая needs_creation: запись есть, инстанса на шлюзе нет.
// QRDataURL — тот же QR, но с data-URL префиксом, готовый для <img src>.
type StatusView struct {
	Status    string                 `json:"status"`
	State     domain.ConnectionState `json:"state"`
	QRDataURL string                 `json:"qr_data_url,omitempty"`
}

func newStatusView(status string, state domain.ConnectionState) *StatusView {
	v := &StatusView{Status: status, State: state}
	if state.QR != "" {
		v.QRDataURL = gateway.AddDataURLPrefix(state.QR)
	}
	return v
}

type ConnectionService struct {
	repo       ConnectionRepo
	registry   *connection.Registry
	poller     *connection.Poller
	reconciler *connection.Reconciler
	view       *connection.ListView
	gw         *gateway.Client
	creds      *gateway.CredentialStore
	trail      audit.Recorder
	logger     *zap.Logger
}

func NewConnectionService(
	repo ConnectionRepo,
	registry *connection.Registry,
	poller *connection.Poller,
	reconciler *connection.Reconciler,
	view *connection.ListView,
	gw *gateway.Client,
	creds *gateway.CredentialStore,
	trail audit.Recorder,
	logger *zap.Logger,
) *ConnectionService {
	return &ConnectionService{
		repo:       repo,
		registry:   registry,
		poller:     poller,
		reconciler: reconciler,
		view:       view,
		gw:         gw,
		creds:      creds,
		trail:      trail,
		logger:     logger.Named("connection-service"),
	}
}

// client выбирает клиента: с пер-вызовными кредами или общего.
func (s *ConnectionService) client(perCall *gateway.Credentials) *gateway.Client {
	if perCall != nil && perCall.APIURL != "" {
		return s.gw.WithCredentials(*perCall)
	}
	return s.gw
}

// record пишет исход операции в журнал (асинхронно, не блокирует ответ).
func (s *ConnectionService) record(connectionID, op string, start time.Time, err error) {
	event := audit.OperationEvent{
		ID:           uuid.New().String(),
		ConnectionID: connectionID,
		Operation:    op,
		Status:       "SUCCESS",
		DurationMs:   time.Since(start).Milliseconds(),
	}
	if err != nil {
		event.Status = "FAILED"
		event.Error = err.Error()
	}
	s.trail.Log(event)
}

// UpdateCredentials переопределяет креды шлюза на время жизни процесса.
func (s *ConnectionService) UpdateCredentials(apiURL, apiKey string) error {
	if err := s.creds.Set(apiURL, apiKey); err != nil {
		return err
	}
	s.logger.Info("gateway credentials updated", zap.String("api_url", apiURL))
	return nil
}

// TestConnection проверяет доступность шлюза текущими или пер-вызовными кредами.
func (s *ConnectionService) TestConnection(ctx context.Context, perCall *gateway.Credentials) error {
	start := time.Now()
	err := s.client(perCall).TestConnection(ctx)
	s.record("", "test_connection", start, err)
	return err
}

// Connect запускает (или продолжает) подключение. Если записи еще нет —
// создает ее и рассылает INSERT, затем гонит машину состояний.
func (s *ConnectionService) Connect(ctx context.Context, id string, agentID *string) (domain.ConnectionState, error) {
	if id == "" {
		return domain.ConnectionState{}, domain.ErrEmptyConnectionID
	}
	start := time.Now()

	if _, err := s.repo.GetConnection(ctx, id); err != nil {
		if !errors.Is(err, domain.ErrConnectionNotFound) {
			return domain.ConnectionState{}, err
		}
		if _, err := s.ensureRecord(ctx, id, "", agentID); err != nil {
			return domain.ConnectionState{}, err
		}
	}

	m := s.registry.GetOrCreate(id)
	state := m.Initialize(ctx)
	s.watch(id, m, state)

	s.record(id, "connect", start, stateError(state))
	return state, nil
}

// Refresh перезапускает попытку без пересоздания существующего инстанса.
func (s *ConnectionService) Refresh(ctx context.Context, id string) (domain.ConnectionState, error) {
	if id == "" {
		return domain.ConnectionState{}, domain.ErrEmptyConnectionID
	}
	if _, err := s.repo.GetConnection(ctx, id); err != nil {
		return domain.ConnectionState{}, err
	}
	start := time.Now()

	m := s.registry.GetOrCreate(id)
	state := m.Refresh(ctx)
	s.watch(id, m, state)

	s.record(id, "refresh", start, stateError(state))
	return state, nil
}

// Status возвращает актуальное состояние подключения.
// Если машины в памяти нет (например, после рестарта сервиса), состояние
// восстанавливается пробой шлюза; отсутствие инстанса — это needs_creation,
// а не ошибка: UI по этому статусу предлагает пересоздание.
func (s *ConnectionService) Status(ctx context.Context, id string) (*StatusView, error) {
	if id == "" {
		return nil, domain.ErrEmptyConnectionID
	}
	if _, err := s.repo.GetConnection(ctx, id); err != nil {
		return nil, err
	}
	start := time.Now()

	if m, ok := s.registry.Get(id); ok {
		state := m.CheckStatus(ctx)
		s.record(id, "status", start, stateError(state))
		return newStatusView(string(state.Phase), state), nil
	}

	// Холодный путь: машины нет, спрашиваем шлюз напрямую
	if _, err := s.gw.GetStatus(ctx, id); err != nil {
		var apiErr *gateway.APIError
		if errors.As(err, &apiErr) && apiErr.Status == 404 {
			s.record(id, "status", start, nil)
			return newStatusView(domain.NeedsCreation, domain.ConnectionState{Phase: domain.PhaseIdle}), nil
		}
		s.record(id, "status", start, err)
		return nil, err
	}

	// Инстанс жив — поднимаем машину и даем ей принять состояние
	m := s.registry.GetOrCreate(id)
	state := m.CheckStatus(ctx)
	s.watch(id, m, state)
	s.record(id, "status", start, stateError(state))
	return newStatusView(string(state.Phase), state), nil
}

// Send отправляет текстовое сообщение через инстанс подключения.
func (s *ConnectionService) Send(ctx context.Context, id, number, text string, perCall *gateway.Credentials) error {
	if id == "" {
		return domain.ErrEmptyConnectionID
	}
	if number == "" {
		return domain.ErrEmptyPhoneNumber
	}
	start := time.Now()
	err := s.client(perCall).SendText(ctx, id, number, text)
	s.record(id, "send", start, err)
	return err
}

// Disconnect разбирает подключение целиком: стоп поллинга, logout и удаление
// инстанса на шлюзе, удаление записи, DELETE-событие. Сбои на шлюзе не
// блокируют удаление — запись уходит безусловно.
func (s *ConnectionService) Disconnect(ctx context.Context, id string) error {
	if id == "" {
		return domain.ErrEmptyConnectionID
	}
	start := time.Now()

	s.poller.Stop(id)
	s.registry.Remove(id)

	if err := s.gw.LogoutInstance(ctx, id); err != nil {
		s.logger.Warn("gateway logout failed during disconnect",
			zap.String("connection_id", id), zap.Error(err))
	}
	if err := s.gw.DeleteInstance(ctx, id); err != nil {
		s.logger.Warn("gateway instance delete failed during disconnect",
			zap.String("connection_id", id), zap.Error(err))
	}

	err := s.repo.DeleteConnection(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrConnectionNotFound) {
		s.record(id, "disconnect", start, err)
		return err
	}

	s.reconciler.Broadcast(ctx, domain.RecordEvent{Type: domain.RecordDeleted, ID: id})
	s.record(id, "disconnect", start, nil)
	return err
}

// Create заводит запись о подключении без немедленного запуска машины.
func (s *ConnectionService) Create(ctx context.Context, id, name string, agentID *string) (*domain.ConnectionRecord, error) {
	if id == "" {
		id = uuid.New().String()
	}
	return s.ensureRecord(ctx, id, name, agentID)
}

func (s *ConnectionService) ensureRecord(ctx context.Context, id, name string, agentID *string) (*domain.ConnectionRecord, error) {
	rec, err := s.repo.CreateConnection(ctx, &domain.ConnectionRecord{
		ID:       id,
		AgentID:  agentID,
		Platform: "whatsapp",
		IsActive: false,
		Data:     domain.ConnectionData{Status: string(domain.PhasePending), Name: name},
	})
	if err != nil {
		return nil, err
	}
	s.reconciler.Broadcast(ctx, domain.RecordEvent{Type: domain.RecordInserted, ID: rec.ID, Record: rec})
	return rec, nil
}

// Get возвращает запись из БД (авторитетный источник для карточки).
func (s *ConnectionService) Get(ctx context.Context, id string) (*domain.ConnectionRecord, error) {
	return s.repo.GetConnection(ctx, id)
}

// List отдает локальную проекцию: она дешевле похода в БД и обновляется
// потоком событий (после рестарта прогревается снапшотом в Run реконсайлера).
func (s *ConnectionService) List(ctx context.Context) []domain.ConnectionRecord {
	return s.view.Snapshot()
}

// LiveState — состояние машины в памяти, без сетевых вызовов (для qr.png).
func (s *ConnectionService) LiveState(id string) (domain.ConnectionState, bool) {
	m, ok := s.registry.Get(id)
	if !ok {
		return domain.ConnectionState{}, false
	}
	return m.State(), true
}

// AssignAgent привязывает агента к подключению и рассылает UPDATE.
func (s *ConnectionService) AssignAgent(ctx context.Context, id string, agentID *string) (*domain.ConnectionRecord, error) {
	rec, err := s.repo.AssignAgent(ctx, id, agentID)
	if err != nil {
		return nil, err
	}
	s.reconciler.Broadcast(ctx, domain.RecordEvent{Type: domain.RecordUpdated, ID: rec.ID, Record: rec})
	return rec, nil
}

// Shutdown гасит все фоновые таймеры опроса.
func (s *ConnectionService) Shutdown() {
	s.poller.Shutdown()
}

// watch держит поллер активным для нетерминальных состояний.
func (s *ConnectionService) watch(id string, m *connection.Machine, state domain.ConnectionState) {
	if state.Terminal() {
		return
	}
	s.poller.Start(id, m)
}

// stateError сворачивает фазу error в error для журнала операций.
func stateError(state domain.ConnectionState) error {
	if state.Phase == domain.PhaseError {
		return errors.New(state.Message)
	}
	return nil
}
