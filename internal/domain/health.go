package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
}

// EngineMetrics is returned by GET /v1/metrics/engine.
type EngineMetrics struct {
	SettlementsCreated  int64   `json:"settlementsCreated"`
	DuplicatesAbsorbed  int64   `json:"duplicatesAbsorbed"`
	SettlementsRejected int64   `json:"settlementsRejected"`
	StoreErrors         int64   `json:"storeErrors"`
	CacheHitRate        float64 `json:"cacheHitRate"`
	Period              string  `json:"period"`
}

// ResetRequest confirms a full store wipe.
type ResetRequest struct {
	Confirmation string `json:"confirmacao"`
}

// ResetConfirmation is the phrase an operator must send to wipe the store.
const ResetConfirmation = "LIMPAR TUDO"

// SuccessResponse wraps a successful single-entity response.
type SuccessResponse struct {
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}
