package postgres

/*
Файл connection_repo.go — хранение записей о WhatsApp-подключениях.
Свободная часть записи (status, qr, name) лежит в колонке connection_data
типа jsonb; is_active — вынесенный наружу флаг для дешевых выборок.
*/

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/domain"
)

const connectionColumns = `id, agent_id, platform, is_active, connection_data, created_at, updated_at`

func scanConnection(row pgx.Row) (*domain.ConnectionRecord, error) {
	rec := &domain.ConnectionRecord{}
	var data []byte

	err := row.Scan(
		&rec.ID, &rec.AgentID, &rec.Platform, &rec.IsActive,
		&data, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrConnectionNotFound
		}
		return nil, err
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &rec.Data); err != nil {
			return nil, fmt.Errorf("postgres: corrupt connection_data for %s: %w", rec.ID, err)
		}
	}
	return rec, nil
}

// CreateConnection заводит новую запись. Статус в connection_data задает
// вызывающий (обычно "pending" до первого реального перехода).
func (r *Repo) CreateConnection(ctx context.Context, rec *domain.ConnectionRecord) (*domain.ConnectionRecord, error) {
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO connections (id, agent_id, platform, is_active, connection_data)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + connectionColumns

	return scanConnection(r.pool.QueryRow(ctx, query,
		rec.ID, rec.AgentID, rec.Platform, rec.IsActive, data,
	))
}

func (r *Repo) GetConnection(ctx context.Context, id string) (*domain.ConnectionRecord, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE id = $1`
	return scanConnection(r.pool.QueryRow(ctx, query, id))
}

func (r *Repo) ListConnections(ctx context.Context) ([]domain.ConnectionRecord, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.ConnectionRecord
	for rows.Next() {
		rec, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *rec)
	}
	return results, rows.Err()
}

// UpdateConnectionState пишет производное состояние после перехода машины.
// connection_data мержится (||), а не затирается: поле name, заданное при
// создании, переживает любые обновления статуса. qr при этом пишется всегда,
// даже пустой — иначе устаревший код остался бы висеть после connected.
func (r *Repo) UpdateConnectionState(ctx context.Context, id string, isActive bool, data domain.ConnectionData) (*domain.ConnectionRecord, error) {
	patch, err := json.Marshal(map[string]string{
		"status": data.Status,
		"qr":     data.QR,
	})
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE connections
		SET is_active = $2,
		    connection_data = connection_data || $3::jsonb,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING ` + connectionColumns

	return scanConnection(r.pool.QueryRow(ctx, query, id, isActive, patch))
}

// AssignAgent привязывает (или отвязывает, при nil) агента к подключению.
func (r *Repo) AssignAgent(ctx context.Context, id string, agentID *string) (*domain.ConnectionRecord, error) {
	query := `
		UPDATE connections
		SET agent_id = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + connectionColumns

	return scanConnection(r.pool.QueryRow(ctx, query, id, agentID))
}

// DeleteConnection удаляет запись безусловно.
func (r *Repo) DeleteConnection(ctx context.Context, id string) error {
	ct, err := r.pool.Exec(ctx, `DELETE FROM connections WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to delete connection: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrConnectionNotFound
	}
	return nil
}
