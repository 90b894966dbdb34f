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

// WizardMetrics is returned by GET /v1/metrics/wizard.
type WizardMetrics struct {
	SessionsStarted   int64   `json:"sessionsStarted"`
	Declarations      int64   `json:"declarations"`
	Payments          int64   `json:"payments"`
	PaymentFailures   int64   `json:"paymentFailures"`
	AIFallbacks       int64   `json:"aiFallbacks"`
	AIFallbackRate    float64 `json:"aiFallbackRate"`
	ExternalErrors    int64   `json:"externalErrors"`
	TaxTypeCacheRatio float64 `json:"taxTypeCacheHitRate"`
	Period            string  `json:"period"`
}

// SuccessResponse wraps a successful single-entity response.
type SuccessResponse struct {
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}
