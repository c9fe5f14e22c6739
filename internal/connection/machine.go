package connection

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/domain"
	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/gateway"
	"go.uber.org/zap"
)

// GatewayAPI — что машине состояний нужно от клиента шлюза.
type GatewayAPI interface {
	TestConnection(ctx context.Context) error
	CreateInstance(ctx context.Context, name, token string, opts gateway.CreateOptions) (*gateway.InstanceInfo, error)
	ConnectInstance(ctx context.Context, name string) (*gateway.InstanceInfo, error)
	GetStatus(ctx context.Context, name string) (gateway.InstanceState, error)
	GetQRCode(ctx context.Context, name string) (string, error)
}

// TransitionListener получает каждый меняющий статус переход.
// Реализуется реконсайлером, который зеркалит состояние в ConnectionRecord.
type TransitionListener interface {
	OnTransition(ctx context.Context, connectionID string, state domain.ConnectionState)
}

// Machine ведет одну попытку подключения WhatsApp-инстанса от начала до конца:
// создание инстанса, выдача QR, ожидание сканирования, connected/error.
// Ни одна операция не роняет паникой и не возвращает ошибку наружу —
// любой исход выражается новым ConnectionState.
//
// Конкурентные Initialize/Refresh схлопываются в одну попытку (single-flight):
// опоздавший вызов дожидается результата уже идущей, не плодя параллельных
// обращений к шлюзу.
type Machine struct {
	id       string // id записи подключения; оно же имя инстанса на шлюзе
	gw       GatewayAPI
	listener TransitionListener
	logger   *zap.Logger

	mu              sync.Mutex
	state           domain.ConnectionState
	connectionOK    bool // Последний testConnection прошел
	instanceCreated bool // create уже был: refresh не должен пересоздавать

	busy bool
	done chan struct{}

	// Подменяется в тестах, по умолчанию time.AfterFunc
	schedule       func(d time.Duration, fn func())
	pendingRecheck time.Duration
}

func NewMachine(id string, gw GatewayAPI, listener TransitionListener, pendingRecheck time.Duration, logger *zap.Logger) *Machine {
	m := &Machine{
		id:             id,
		gw:             gw,
		listener:       listener,
		logger:         logger.Named("connection-machine").With(zap.String("connection_id", id)),
		state:          domain.ConnectionState{Phase: domain.PhaseIdle},
		pendingRecheck: pendingRecheck,
	}
	m.schedule = func(d time.Duration, fn func()) { time.AfterFunc(d, fn) }
	return m
}

// State возвращает снимок текущего состояния.
func (m *Machine) State() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyState(m.state)
}

// Initialize запускает полную последовательность create+connect.
func (m *Machine) Initialize(ctx context.Context) domain.ConnectionState {
	m.single(func() { m.initialize(ctx) })
	return m.State()
}

// Refresh перезапускает попытку. Если инстанс уже создан — сразу идем
// на проверку статуса, чтобы не пересоздавать существующий инстанс.
func (m *Machine) Refresh(ctx context.Context) domain.ConnectionState {
	m.single(func() {
		m.mu.Lock()
		created := m.instanceCreated
		m.mu.Unlock()

		if created {
			m.checkStatus(ctx)
			return
		}
		m.initialize(ctx)
	})
	return m.State()
}

// CheckStatus — один шаг опроса. No-op в connected и testing_connection
// (ни перехода, ни сетевого вызова): защита от избыточного поллинга.
func (m *Machine) CheckStatus(ctx context.Context) domain.ConnectionState {
	m.mu.Lock()
	phase := m.state.Phase
	m.mu.Unlock()
	if phase == domain.PhaseConnected || phase == domain.PhaseTesting {
		return m.State()
	}

	m.single(func() { m.checkStatus(ctx) })
	return m.State()
}

// single — single-flight на машину: если попытка уже идет, присоединяемся
// к ней (ждем завершения) вместо параллельного запуска.
func (m *Machine) single(fn func()) {
	m.mu.Lock()
	if m.busy {
		done := m.done
		m.mu.Unlock()
		<-done
		return
	}
	m.busy = true
	m.done = make(chan struct{})
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.busy = false
		close(m.done)
		m.mu.Unlock()
	}()
	fn()
}

// ensureReachable прогоняет testConnection, если связь со шлюзом не подтверждена.
// При недоступности внешняя операция прерывается.
func (m *Machine) ensureReachable(ctx context.Context) bool {
	m.mu.Lock()
	ok := m.connectionOK
	m.mu.Unlock()
	if ok {
		return true
	}

	m.transition(ctx, domain.ConnectionState{Phase: domain.PhaseTesting})
	if err := m.gw.TestConnection(ctx); err != nil {
		m.fail(ctx, "messaging gateway is unreachable", err)
		return false
	}

	m.mu.Lock()
	m.connectionOK = true
	m.mu.Unlock()
	return true
}

func (m *Machine) initialize(ctx context.Context) {
	if !m.ensureReachable(ctx) {
		return
	}
	m.transition(ctx, domain.ConnectionState{Phase: domain.PhaseLoading})

	token := uuid.New().String()
	created, err := m.gw.CreateInstance(ctx, m.id, token, gateway.CreateOptions{})
	if err != nil {
		m.fail(ctx, "failed to create gateway instance", err)
		return
	}

	m.mu.Lock()
	m.instanceCreated = true
	m.mu.Unlock()

	// Шлюз мог вернуть QR уже на create; connect уточняет состояние
	info, err := m.gw.ConnectInstance(ctx, m.id)
	if err != nil {
		m.fail(ctx, "failed to connect gateway instance", err)
		return
	}
	if info.QR == "" {
		info.QR = created.QR
	}
	if info.State == gateway.StateUnknown {
		info.State = created.State
	}

	m.applyInstanceInfo(ctx, info)
}

func (m *Machine) checkStatus(ctx context.Context) {
	state, err := m.gw.GetStatus(ctx, m.id)
	if err != nil {
		m.fail(ctx, "status check failed", err)
		return
	}

	if state == gateway.StateOpen {
		m.transition(ctx, domain.ConnectionState{Phase: domain.PhaseConnected})
		return
	}

	// Не open: возможно, шлюз перегенерировал QR
	qr, err := m.gw.GetQRCode(ctx, m.id)
	if err != nil {
		m.logger.Debug("qr refresh failed during status check", zap.Error(err))
		return
	}
	if qr == "" {
		return
	}

	m.mu.Lock()
	current := m.state
	m.mu.Unlock()

	// Меняем QR только если он реально новый — иначе UI перерисовывается зря
	if current.Phase == domain.PhaseAwaitingScan && current.QR == qr {
		return
	}
	m.transition(ctx, domain.ConnectionState{
		Phase:      domain.PhaseAwaitingScan,
		QR:         qr,
		QRAttempts: current.QRAttempts + 1,
	})
}

// applyInstanceInfo раскладывает результат create/connect по исходам:
// connected (уже open), awaiting_scan (QR есть), pending (инстанс принят,
// QR еще не сгенерирован — планируем отложенную проверку).
func (m *Machine) applyInstanceInfo(ctx context.Context, info *gateway.InstanceInfo) {
	switch {
	case info.State == gateway.StateOpen:
		m.transition(ctx, domain.ConnectionState{Phase: domain.PhaseConnected})
	case info.QR != "":
		m.mu.Lock()
		attempts := m.state.QRAttempts
		m.mu.Unlock()
		m.transition(ctx, domain.ConnectionState{
			Phase:      domain.PhaseAwaitingScan,
			QR:         info.QR,
			QRAttempts: attempts + 1,
		})
	default:
		m.transition(ctx, domain.ConnectionState{Phase: domain.PhasePending})
		m.schedule(m.pendingRecheck, func() {
			m.CheckStatus(context.Background())
		})
	}
}

func (m *Machine) fail(ctx context.Context, message string, err error) {
	m.logger.Warn(message, zap.Error(err))
	m.transition(ctx, domain.ConnectionState{
		Phase:   domain.PhaseError,
		Message: message,
		Details: gateway.ErrorDetails(err),
	})
}

func (m *Machine) transition(ctx context.Context, next domain.ConnectionState) {
	m.mu.Lock()
	m.state = next
	snapshot := copyState(next)
	m.mu.Unlock()

	m.logger.Info("connection state changed", zap.String("phase", string(next.Phase)))
	if m.listener != nil {
		m.listener.OnTransition(ctx, m.id, snapshot)
	}
}

func copyState(s domain.ConnectionState) domain.ConnectionState {
	cp := s
	if s.Details != nil {
		cp.Details = append([]string(nil), s.Details...)
	}
	return cp
}

// Registry хранит машины по id записи подключения: один connection — одна машина.
type Registry struct {
	mu       sync.Mutex
	machines map[string]*Machine

	gw             GatewayAPI
	listener       TransitionListener
	pendingRecheck time.Duration
	logger         *zap.Logger
}

func NewRegistry(gw GatewayAPI, listener TransitionListener, pendingRecheck time.Duration, logger *zap.Logger) *Registry {
	return &Registry{
		machines:       make(map[string]*Machine),
		gw:             gw,
		listener:       listener,
		pendingRecheck: pendingRecheck,
		logger:         logger,
	}
}

func (r *Registry) GetOrCreate(id string) *Machine {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.machines[id]; ok {
		return m
	}
	m := NewMachine(id, r.gw, r.listener, r.pendingRecheck, r.logger)
	r.machines[id] = m
	return m
}

func (r *Registry) Get(id string) (*Machine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.machines[id]
	return m, ok
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.machines, id)
	r.mu.Unlock()
}
