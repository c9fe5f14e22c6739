package connection

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/domain"
	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/gateway"
	"go.uber.org/zap"
)

type fakeGateway struct {
	mu    sync.Mutex
	calls map[string]int

	testErr     error
	testBlock   chan struct{} // Если задан, TestConnection ждет закрытия
	createInfo  gateway.InstanceInfo
	createErr   error
	createBlock chan struct{} // Если задан, CreateInstance ждет закрытия
	connectInfo gateway.InstanceInfo
	connectErr  error
	statusQueue []gateway.InstanceState
	statusErr   error
	qr          string
	qrErr       error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{calls: make(map[string]int)}
}

func (f *fakeGateway) count(op string) {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()
}

func (f *fakeGateway) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeGateway) TestConnection(ctx context.Context) error {
	if f.testBlock != nil {
		<-f.testBlock
	}
	f.count("test")
	return f.testErr
}

func (f *fakeGateway) CreateInstance(ctx context.Context, name, token string, opts gateway.CreateOptions) (*gateway.InstanceInfo, error) {
	if f.createBlock != nil {
		<-f.createBlock
	}
	f.count("create")
	if f.createErr != nil {
		return nil, f.createErr
	}
	info := f.createInfo
	return &info, nil
}

func (f *fakeGateway) ConnectInstance(ctx context.Context, name string) (*gateway.InstanceInfo, error) {
	f.count("connect")
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	info := f.connectInfo
	return &info, nil
}

func (f *fakeGateway) GetStatus(ctx context.Context, name string) (gateway.InstanceState, error) {
	f.count("status")
	if f.statusErr != nil {
		return gateway.StateUnknown, f.statusErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statusQueue) == 0 {
		return gateway.StateUnknown, nil
	}
	state := f.statusQueue[0]
	if len(f.statusQueue) > 1 {
		f.statusQueue = f.statusQueue[1:]
	}
	return state, nil
}

func (f *fakeGateway) GetQRCode(ctx context.Context, name string) (string, error) {
	f.count("qr")
	if f.qrErr != nil {
		return "", f.qrErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.qr, nil
}

func (f *fakeGateway) setQR(qr string) {
	f.mu.Lock()
	f.qr = qr
	f.mu.Unlock()
}

// recorder собирает все переходы, которые увидел бы реконсайлер.
type recorder struct {
	mu     sync.Mutex
	states []domain.ConnectionState
}

func (r *recorder) OnTransition(ctx context.Context, id string, state domain.ConnectionState) {
	r.mu.Lock()
	r.states = append(r.states, state)
	r.mu.Unlock()
}

func (r *recorder) phases() []domain.ConnectionPhase {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.ConnectionPhase, len(r.states))
	for i, s := range r.states {
		out[i] = s.Phase
	}
	return out
}

func newTestMachine(gw GatewayAPI, rec *recorder) *Machine {
	return NewMachine("conn-1", gw, rec, 3*time.Second, zap.NewNop())
}

func TestInitializeReachesAwaitingScan(t *testing.T) {
	gw := newFakeGateway()
	gw.connectInfo = gateway.InstanceInfo{QR: "qr1", State: gateway.StateConnecting}
	rec := &recorder{}
	m := newTestMachine(gw, rec)

	state := m.Initialize(context.Background())
	if state.Phase != domain.PhaseAwaitingScan {
		t.Fatalf("expected awaiting_scan, got %q", state.Phase)
	}
	if state.QR != "qr1" || state.QRAttempts != 1 {
		t.Fatalf("unexpected QR state: %+v", state)
	}

	want := []domain.ConnectionPhase{domain.PhaseTesting, domain.PhaseLoading, domain.PhaseAwaitingScan}
	got := rec.phases()
	if len(got) != len(want) {
		t.Fatalf("expected phases %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected phases %v, got %v", want, got)
		}
	}
}

func TestInitializeAlreadyOpen(t *testing.T) {
	gw := newFakeGateway()
	gw.connectInfo = gateway.InstanceInfo{State: gateway.StateOpen}
	rec := &recorder{}
	m := newTestMachine(gw, rec)

	state := m.Initialize(context.Background())
	if state.Phase != domain.PhaseConnected {
		t.Fatalf("expected connected, got %q", state.Phase)
	}
}

func TestInitializeGatewayUnreachable(t *testing.T) {
	gw := newFakeGateway()
	gw.testErr = &gateway.APIError{Message: "gateway unreachable", Details: []string{"dial tcp: refused"}}
	rec := &recorder{}
	m := newTestMachine(gw, rec)

	state := m.Initialize(context.Background())
	if state.Phase != domain.PhaseError {
		t.Fatalf("expected error phase, got %q", state.Phase)
	}
	if state.Message == "" || len(state.Details) == 0 {
		t.Fatalf("error state must carry message and diagnostics: %+v", state)
	}
	if gw.callCount("create") != 0 {
		t.Fatal("create must not run when gateway is unreachable")
	}
}

func TestConnectFallsBackToCreateResult(t *testing.T) {
	gw := newFakeGateway()
	// QR пришел уже на create, connect вернул пусто
	gw.createInfo = gateway.InstanceInfo{QR: "from-create", State: gateway.StateConnecting}
	gw.connectInfo = gateway.InstanceInfo{State: gateway.StateUnknown}
	rec := &recorder{}
	m := newTestMachine(gw, rec)

	state := m.Initialize(context.Background())
	if state.Phase != domain.PhaseAwaitingScan || state.QR != "from-create" {
		t.Fatalf("expected QR from create response, got %+v", state)
	}
}

func TestCheckStatusConnectsAfterScan(t *testing.T) {
	gw := newFakeGateway()
	gw.connectInfo = gateway.InstanceInfo{QR: "qr1", State: gateway.StateConnecting}
	gw.qr = "qr1"
	rec := &recorder{}
	m := newTestMachine(gw, rec)
	m.Initialize(context.Background())

	// Еще не отсканирован: QR тот же — перехода быть не должно
	gw.statusQueue = []gateway.InstanceState{gateway.StateConnecting}
	before := len(rec.phases())
	state := m.CheckStatus(context.Background())
	if state.Phase != domain.PhaseAwaitingScan || state.QRAttempts != 1 {
		t.Fatalf("unchanged QR must not produce a transition: %+v", state)
	}
	if got := len(rec.phases()); got != before {
		t.Fatalf("expected no new transitions, got %d -> %d", before, got)
	}

	// Пользователь отсканировал
	gw.statusQueue = []gateway.InstanceState{gateway.StateOpen}
	state = m.CheckStatus(context.Background())
	if state.Phase != domain.PhaseConnected {
		t.Fatalf("expected connected, got %q", state.Phase)
	}
}

func TestQRReplacedOnlyWhenChanged(t *testing.T) {
	gw := newFakeGateway()
	gw.connectInfo = gateway.InstanceInfo{QR: "qr1", State: gateway.StateConnecting}
	gw.qr = "qr1"
	rec := &recorder{}
	m := newTestMachine(gw, rec)
	m.Initialize(context.Background())

	gw.statusQueue = []gateway.InstanceState{gateway.StateConnecting}
	gw.setQR("qr2") // Шлюз перегенерировал QR
	state := m.CheckStatus(context.Background())
	if state.QR != "qr2" {
		t.Fatalf("expected refreshed QR, got %q", state.QR)
	}
	if state.QRAttempts != 2 {
		t.Fatalf("expected attempt counter 2, got %d", state.QRAttempts)
	}
}

func TestPendingSchedulesDelayedRecheck(t *testing.T) {
	gw := newFakeGateway()
	// Инстанс принят, но QR еще не сгенерирован
	gw.connectInfo = gateway.InstanceInfo{State: gateway.StateConnecting}
	rec := &recorder{}
	m := newTestMachine(gw, rec)

	var scheduledDelay time.Duration
	var scheduledFn func()
	m.schedule = func(d time.Duration, fn func()) {
		scheduledDelay = d
		scheduledFn = fn
	}

	state := m.Initialize(context.Background())
	if state.Phase != domain.PhasePending {
		t.Fatalf("expected pending, got %q", state.Phase)
	}
	if scheduledFn == nil {
		t.Fatal("pending must schedule a delayed re-check")
	}
	if scheduledDelay != 3*time.Second {
		t.Fatalf("unexpected re-check delay: %v", scheduledDelay)
	}

	// К моменту отложенной проверки шлюз уже открыл сессию
	gw.statusQueue = []gateway.InstanceState{gateway.StateOpen}
	scheduledFn()
	if got := m.State().Phase; got != domain.PhaseConnected {
		t.Fatalf("expected connected after re-check, got %q", got)
	}
}

func TestRefreshDoesNotRecreateInstance(t *testing.T) {
	gw := newFakeGateway()
	gw.connectInfo = gateway.InstanceInfo{QR: "qr1", State: gateway.StateConnecting}
	gw.qr = "qr1"
	rec := &recorder{}
	m := newTestMachine(gw, rec)
	m.Initialize(context.Background())

	gw.statusQueue = []gateway.InstanceState{gateway.StateConnecting}
	m.Refresh(context.Background())

	if got := gw.callCount("create"); got != 1 {
		t.Fatalf("refresh must not recreate an existing instance, create called %d times", got)
	}
	if gw.callCount("status") == 0 {
		t.Fatal("refresh must fall through to a status check")
	}
}

func TestRefreshRunsFullSequenceWhenNothingCreated(t *testing.T) {
	gw := newFakeGateway()
	gw.connectInfo = gateway.InstanceInfo{QR: "qr1", State: gateway.StateConnecting}
	rec := &recorder{}
	m := newTestMachine(gw, rec)

	state := m.Refresh(context.Background())
	if state.Phase != domain.PhaseAwaitingScan {
		t.Fatalf("expected awaiting_scan, got %q", state.Phase)
	}
	if gw.callCount("create") != 1 {
		t.Fatal("refresh on a fresh machine must create the instance")
	}
}

func TestCheckStatusIsNoopWhenConnected(t *testing.T) {
	gw := newFakeGateway()
	gw.connectInfo = gateway.InstanceInfo{State: gateway.StateOpen}
	rec := &recorder{}
	m := newTestMachine(gw, rec)
	m.Initialize(context.Background())

	before := gw.callCount("status")
	state := m.CheckStatus(context.Background())
	if state.Phase != domain.PhaseConnected {
		t.Fatalf("expected connected, got %q", state.Phase)
	}
	if gw.callCount("status") != before {
		t.Fatal("connected machine must not hit the gateway on status checks")
	}
}

func TestCheckStatusIsNoopWhileTestingConnection(t *testing.T) {
	gw := newFakeGateway()
	gw.testBlock = make(chan struct{})
	gw.connectInfo = gateway.InstanceInfo{QR: "qr1", State: gateway.StateConnecting}
	rec := &recorder{}
	m := newTestMachine(gw, rec)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.Initialize(context.Background())
	}()

	// Дожидаемся фазы testing_connection, пока testConnection висит
	deadline := time.Now().Add(2 * time.Second)
	for m.State().Phase != domain.PhaseTesting {
		if time.Now().After(deadline) {
			t.Fatal("machine never entered testing_connection")
		}
		time.Sleep(time.Millisecond)
	}

	// CheckStatus не должен ни блокироваться на single-flight, ни ходить в шлюз
	state := m.CheckStatus(context.Background())
	if state.Phase != domain.PhaseTesting {
		t.Fatalf("expected testing_connection, got %q", state.Phase)
	}
	if got := gw.callCount("status"); got != 0 {
		t.Fatalf("status must not be polled mid-handshake, got %d calls", got)
	}

	close(gw.testBlock)
	wg.Wait()
	if got := m.State().Phase; got != domain.PhaseAwaitingScan {
		t.Fatalf("expected awaiting_scan after release, got %q", got)
	}
}

func TestConcurrentInitializeCollapsesToOneAttempt(t *testing.T) {
	gw := newFakeGateway()
	gw.createBlock = make(chan struct{})
	gw.connectInfo = gateway.InstanceInfo{QR: "qr1", State: gateway.StateConnecting}
	rec := &recorder{}
	m := newTestMachine(gw, rec)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Initialize(context.Background())
		}()
	}

	// Даем конкурентам время упереться в single-flight и отпускаем create
	time.Sleep(50 * time.Millisecond)
	close(gw.createBlock)
	wg.Wait()

	if got := gw.callCount("create"); got != 1 {
		t.Fatalf("concurrent initialize must collapse into one attempt, create called %d times", got)
	}
	if got := m.State().Phase; got != domain.PhaseAwaitingScan {
		t.Fatalf("expected awaiting_scan, got %q", got)
	}
}
