package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/domain"
)

const agentColumns = `id, name, status, prompt, model, temperature, created_at, updated_at`

func scanAgent(row pgx.Row) (*domain.Agent, error) {
	a := &domain.Agent{}
	err := row.Scan(
		&a.ID, &a.Name, &a.Status, &a.Prompt, &a.Model, &a.Temperature,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAgentNotFound
		}
		return nil, err
	}
	return a, nil
}

func (r *Repo) CreateAgent(ctx context.Context, a *domain.Agent) (*domain.Agent, error) {
	query := `
		INSERT INTO agents (id, name, status, prompt, model, temperature)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)
		RETURNING ` + agentColumns

	return scanAgent(r.pool.QueryRow(ctx, query,
		a.Name, a.Status, a.Prompt, a.Model, a.Temperature,
	))
}

func (r *Repo) GetAgent(ctx context.Context, id string) (*domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE id = $1`
	return scanAgent(r.pool.QueryRow(ctx, query, id))
}

func (r *Repo) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *a)
	}
	return results, rows.Err()
}

func (r *Repo) UpdateAgent(ctx context.Context, a *domain.Agent) (*domain.Agent, error) {
	query := `
		UPDATE agents
		SET name = $2, status = $3, prompt = $4, model = $5, temperature = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + agentColumns

	return scanAgent(r.pool.QueryRow(ctx, query,
		a.ID, a.Name, a.Status, a.Prompt, a.Model, a.Temperature,
	))
}

// UpdateAgentStatus меняет только статус (пауза/архив одной кнопкой).
func (r *Repo) UpdateAgentStatus(ctx context.Context, id string, status domain.AgentStatus) error {
	ct, err := r.pool.Exec(ctx,
		`UPDATE agents SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to update agent status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrAgentNotFound
	}
	return nil
}

// DeleteAgent удаляет агента; привязанные подключения остаются с agent_id = NULL
// (внешний ключ ON DELETE SET NULL).
func (r *Repo) DeleteAgent(ctx context.Context, id string) error {
	ct, err := r.pool.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to delete agent: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrAgentNotFound
	}
	return nil
}
