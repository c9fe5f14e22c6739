package connection

import (
	"context"
	"encoding/json"
	"time"

	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/domain"
	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/infra"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventBus транслирует типизированные события по записям подключений через
// Redis Pub/Sub. Все инстансы сервиса слушают один канал — так списки
// в разных вкладках и на разных репликах остаются согласованными.
type EventBus struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewEventBus(rdb *redis.Client, logger *zap.Logger) *EventBus {
	return &EventBus{rdb: rdb, logger: logger.Named("record-events")}
}

func (b *EventBus) Publish(ctx context.Context, evt domain.RecordEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, infra.RedisChanConnectionEvents, payload).Err()
}

// Listen — живучий цикл подписки: переподключается при обрывах,
// на каждом успешном коннекте вызывает onReconnect для ресинка снапшота.
func (b *EventBus) Listen(
	ctx context.Context,
	onReconnect func() error, // Синхронизация полного состояния при (пере)подключении
	onEvent func(domain.RecordEvent),
) {
	for {
		pubsub := b.rdb.Subscribe(ctx, infra.RedisChanConnectionEvents)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			if ctx.Err() != nil {
				pubsub.Close()
				return
			}
			b.logger.Error("failed to subscribe", zap.Error(err))
			time.Sleep(5 * time.Second)
			continue
		}

		if err := onReconnect(); err != nil {
			b.logger.Error("sync failed on reconnect", zap.Error(err))
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}

				var evt domain.RecordEvent
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					b.logger.Error("invalid record event payload", zap.Error(err))
					continue
				}
				onEvent(evt)
			}
		}

		pubsub.Close()
		time.Sleep(1 * time.Second)
	}
}
