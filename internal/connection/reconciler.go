package connection

import (
	"context"
	"errors"

	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/domain"
	"go.uber.org/zap"
)

// RecordStore — что реконсайлеру нужно от персистентного слоя.
type RecordStore interface {
	UpdateConnectionState(ctx context.Context, id string, isActive bool, data domain.ConnectionData) (*domain.ConnectionRecord, error)
	ListConnections(ctx context.Context) ([]domain.ConnectionRecord, error)
}

// Reconciler зеркалит переходы машины состояний в ConnectionRecord и
// раздает типизированные события наблюдателям (локальная проекция,
// WebSocket-хаб, другие реплики через Redis).
//
// is_active выводится из статуса (true только для connected), так что
// инвариант "is_active подразумевает status=connected" не нарушаем
// по построению.
type Reconciler struct {
	store  RecordStore
	bus    *EventBus
	view   *ListView
	notify func(domain.RecordEvent) // Локальный fan-out (WebSocket), может быть nil
	logger *zap.Logger
}

func NewReconciler(store RecordStore, bus *EventBus, view *ListView, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		bus:    bus,
		view:   view,
		logger: logger.Named("reconciler"),
	}
}

// SetNotify задает локальный приемник событий (до запуска Run).
func (r *Reconciler) SetNotify(fn func(domain.RecordEvent)) { r.notify = fn }

// OnTransition реализует TransitionListener: после каждого меняющего статус
// перехода записываем {is_active, connection_data} в запись подключения.
func (r *Reconciler) OnTransition(ctx context.Context, connectionID string, state domain.ConnectionState) {
	isActive := state.Phase == domain.PhaseConnected
	data := domain.ConnectionData{
		Status: string(state.Phase),
		QR:     state.QR,
	}

	rec, err := r.store.UpdateConnectionState(ctx, connectionID, isActive, data)
	if err != nil {
		if errors.Is(err, domain.ErrConnectionNotFound) {
			// Запись удалили, пока шла попытка — событие просто некому отражать
			r.logger.Warn("transition for missing record dropped",
				zap.String("connection_id", connectionID),
				zap.String("phase", string(state.Phase)))
			return
		}
		r.logger.Error("failed to persist connection state",
			zap.String("connection_id", connectionID),
			zap.Error(err))
		return
	}

	r.Broadcast(ctx, domain.RecordEvent{
		Type:   domain.RecordUpdated,
		ID:     rec.ID,
		Record: rec,
	})
}

// Broadcast публикует событие в Redis; при недоступности шины событие
// все равно применяется локально, чтобы эта реплика не отстала.
func (r *Reconciler) Broadcast(ctx context.Context, evt domain.RecordEvent) {
	if err := r.bus.Publish(ctx, evt); err != nil {
		r.logger.Warn("record event delivery failed", zap.Error(err))
		r.apply(evt)
	}
}

// Run крутит подписку на события до отмены контекста. При каждом
// (пере)подключении перечитывает полный снапшот из БД.
func (r *Reconciler) Run(ctx context.Context) {
	r.bus.Listen(ctx,
		func() error {
			records, err := r.store.ListConnections(ctx)
			if err != nil {
				return err
			}
			r.view.Replace(records)
			return nil
		},
		r.apply,
	)
}

func (r *Reconciler) apply(evt domain.RecordEvent) {
	r.view.Apply(evt)
	if r.notify != nil {
		r.notify(evt)
	}
}
