package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "sorcerer"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanConnectionEvents — канал трансляции INSERT/UPDATE/DELETE по записям
	// подключений. Все инстансы сервиса (и их WebSocket-наблюдатели) слушают его,
	// чтобы локальные списки оставались согласованными.
	RedisChanConnectionEvents = RedisNamespace + ":connections:events"
)
