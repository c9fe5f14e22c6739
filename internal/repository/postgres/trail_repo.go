package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/audit"
)

// WriteBatch сохраняет пачку событий журнала операций одним запросом.
func (r *Repo) WriteBatch(ctx context.Context, events []audit.OperationEvent) error {
	if len(events) == 0 {
		return nil
	}

	// Количество колонок в таблице operation_trail
	numFields := 7
	placeholderStr := ""
	vals := make([]interface{}, 0, len(events)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range events {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7)

		vals = append(vals,
			e.ID, e.ConnectionID, e.Operation, e.Status, e.Error, e.DurationMs, e.Timestamp,
		)
	}

	// Убираем лишнюю запятую в конце
	query := fmt.Sprintf(
		"INSERT INTO operation_trail (id, connection_id, operation, status, error, duration_ms, timestamp) VALUES %s",
		strings.TrimSuffix(placeholderStr, ","),
	)

	_, err := r.pool.Exec(ctx, query, vals...)
	return err
}
