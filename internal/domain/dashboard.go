package domain

// DashboardStats — сводка для главного экрана админки.
type DashboardStats struct {
	Connections ConnectionStats `json:"connections"`
	Agents      AgentStats      `json:"agents"`
	Gateway     GatewayStats    `json:"gateway"`
}

type ConnectionStats struct {
	Active       int `json:"active"`        // is_active = true
	AwaitingScan int `json:"awaiting_scan"` // Висят с QR на экране
	Errored      int `json:"errored"`
}

type AgentStats struct {
	Total  int `json:"total"`
	Active int `json:"active"`
}

// GatewayStats собирается из журнала операций за последний час.
type GatewayStats struct {
	OpsLastHour  int64   `json:"ops_last_hour"`
	FailureRatio float64 `json:"failure_ratio"`
	P95LatencyMs float64 `json:"p95_latency_ms"`
}
