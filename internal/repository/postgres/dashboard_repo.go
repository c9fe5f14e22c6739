package postgres

import (
	"context"

	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/domain"
)

func (r *Repo) GetDashboardStats(ctx context.Context) (*domain.DashboardStats, error) {
	d := &domain.DashboardStats{}

	// 1. Срез по подключениям: активные, ожидающие скан, упавшие
	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE is_active),
			COUNT(*) FILTER (WHERE connection_data->>'status' = 'awaiting_scan'),
			COUNT(*) FILTER (WHERE connection_data->>'status' = 'error')
		FROM connections`).Scan(
		&d.Connections.Active,
		&d.Connections.AwaitingScan,
		&d.Connections.Errored,
	)
	if err != nil {
		return nil, err
	}

	// 2. Агенты
	err = r.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE status = 'active')
		FROM agents`).Scan(&d.Agents.Total, &d.Agents.Active)
	if err != nil {
		return nil, err
	}

	// 3. Метрики шлюза из журнала операций за последние 60 минут.
	// PERCENTILE_CONT дает честный P95 Latency, а не среднее
	var failed int64
	err = r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'FAILED'),
			COALESCE(PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY duration_ms), 0)
		FROM operation_trail
		WHERE timestamp > NOW() - INTERVAL '60 minutes'`).Scan(
		&d.Gateway.OpsLastHour,
		&failed,
		&d.Gateway.P95LatencyMs,
	)
	if err != nil {
		return nil, err
	}

	if d.Gateway.OpsLastHour > 0 {
		d.Gateway.FailureRatio = float64(failed) / float64(d.Gateway.OpsLastHour)
	}
	return d, nil
}
