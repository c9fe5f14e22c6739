package audit

/*
Файл trail.go реализует журнал операций (Operation Trail) — асинхронный
сборщик событий по вызовам шлюза и изменениям подключений.

Ключевые особенности архитектуры:
- Non-blocking Logging: события уходят в буферизованный канал, задержки
  записи в БД не влияют на время ответа API.
- Batching: накопление и пакетная запись (Bulk Insert) в PostgreSQL
  по таймеру или при достижении лимита (100 событий).
- Drain Pattern & Graceful Shutdown: при остановке сервиса буфер вычитывается
  полностью, финальный flush гарантирует отсутствие потерь при рестарте.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/infra"
	"go.uber.org/zap"
)

// StorageInterface определяет, куда физически будут сохраняться события
type StorageInterface interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []OperationEvent) error
}

type Recorder interface {
	Log(event OperationEvent)
}

type Trail struct {
	ch      chan OperationEvent
	repo    StorageInterface
	metrics *infra.Metrics
	logger  *zap.Logger
	wg      sync.WaitGroup
	// Защита от Log после остановки
	isClosed int32 // Атомарный флаг (0 - открыт, 1 - закрыт)
}

func NewTrail(repo StorageInterface, metrics *infra.Metrics, logger *zap.Logger) *Trail {
	return &Trail{
		ch:      make(chan OperationEvent, 10000),
		repo:    repo,
		metrics: metrics,
		logger:  logger.With(zap.String("mod", "operation-trail")),
	}
}

func (t *Trail) Start() {
	t.wg.Add(1)
	go t.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (t *Trail) Stop() {
	atomic.StoreInt32(&t.isClosed, 1)

	// Крошечная пауза, чтобы текущие Log успели проскочить
	time.Sleep(10 * time.Millisecond)

	t.logger.Info("stopping operation trail: closing channel and flushing buffer...")
	close(t.ch)
	t.wg.Wait()
	t.logger.Info("operation trail stopped gracefully")
}

func (t *Trail) Log(event OperationEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if atomic.LoadInt32(&t.isClosed) == 1 {
		t.logger.Warn("operation event dropped: trail is stopping", zap.String("id", event.ID))
		return
	}

	// Load Shedding: при переполнении буфера событие уходит в обычный лог,
	// чтобы данные не пропали молча
	select {
	case t.ch <- event:
		t.metrics.AuditBufferFill.Set(float64(len(t.ch)))
	default:
		t.logger.Error("operation_trail_overflow",
			zap.String("connection_id", event.ConnectionID),
			zap.String("operation", event.Operation),
		)
	}
}

func (t *Trail) worker() {
	defer t.wg.Done()

	batch := make([]OperationEvent, 0, 100)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			// Background: основной контекст к этому моменту может быть закрыт
			if err := t.repo.WriteBatch(context.Background(), batch); err != nil {
				t.logger.Error("operation trail flush failed", zap.Error(err))
			}
			batch = batch[:0]
		}
	}

	for {
		select {
		case event, ok := <-t.ch:
			if !ok {
				// Канал закрыт из Stop(): воркер вычитал остатки и завершает
				flush()
				t.logger.Info("operation trail worker finished")
				return
			}
			batch = append(batch, event)
			t.metrics.AuditBufferFill.Set(float64(len(t.ch)))
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
