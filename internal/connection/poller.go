package connection

import (
	"context"
	"sync"
	"time"

	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/domain"
	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/infra"
	"go.uber.org/zap"
)

// Poller — таймерный драйвер опроса: пока подключение в awaiting_scan,
// дергает CheckStatus машины раз в interval. На одно подключение — ровно
// один активный таймер; повторный Start для того же id — no-op.
// Останавливается сам на терминальном состоянии и синхронно по Stop/Shutdown:
// после Stop ни одного тика не будет. Висящие HTTP-вызовы не прерываются —
// они ограничены таймаутом клиента, их результат просто игнорируется.
type Poller struct {
	interval time.Duration
	metrics  *infra.Metrics
	logger   *zap.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func NewPoller(interval time.Duration, metrics *infra.Metrics, logger *zap.Logger) *Poller {
	return &Poller{
		interval: interval,
		metrics:  metrics,
		logger:   logger.Named("status-poller"),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Start запускает цикл опроса для машины. Если таймер для этого id уже
// крутится — ничего не делает (ровно один интервал на подключение).
func (p *Poller) Start(id string, m *Machine) {
	p.mu.Lock()
	if _, running := p.cancels[id]; running {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancels[id] = cancel
	p.mu.Unlock()

	p.metrics.ActivePollers.Inc()
	p.logger.Info("polling started", zap.String("connection_id", id))

	go p.loop(ctx, id, m)
}

func (p *Poller) loop(ctx context.Context, id string, m *Machine) {
	defer func() {
		p.remove(id)
		p.metrics.ActivePollers.Dec()
		p.logger.Info("polling stopped", zap.String("connection_id", id))
	}()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state := m.CheckStatus(ctx)
			if state.Phase == domain.PhaseConnected || state.Phase == domain.PhaseError {
				return
			}
		}
	}
}

// Stop отменяет таймер для подключения. Отмена синхронная: после возврата
// новые тики не начнутся.
func (p *Poller) Stop(id string) {
	p.mu.Lock()
	cancel, ok := p.cancels[id]
	if ok {
		delete(p.cancels, id)
	}
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

// Running сообщает, крутится ли таймер для подключения.
func (p *Poller) Running(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.cancels[id]
	return ok
}

// Shutdown гасит все таймеры (teardown владеющей поверхности).
func (p *Poller) Shutdown() {
	p.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(p.cancels))
	for id, cancel := range p.cancels {
		cancels = append(cancels, cancel)
		delete(p.cancels, id)
	}
	p.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

func (p *Poller) remove(id string) {
	p.mu.Lock()
	delete(p.cancels, id)
	p.mu.Unlock()
}
