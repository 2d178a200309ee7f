package types

// Model describes one of the fixed super-resolution networks served by the daemon.
type Model struct {
	// Stable identifier for the model.
	// example: RealESRGAN_x4plus
	ID string `json:"id" example:"RealESRGAN_x4plus"`
	// Human-friendly name.
	// example: Real-ESRGAN x4plus (general)
	Name string `json:"name" example:"Real-ESRGAN x4plus (general)"`
	// Fixed upsample factor of the network.
	// example: 4
	Scale int `json:"scale" example:"4"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	// List of available models.
	Models []Model `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: image file is required
	Error string `json:"error" example:"image file is required"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// EngineStatus summarizes one cached inference engine for /status.
type EngineStatus struct {
	// ID of the model this engine serves.
	// example: RealESRGAN_x4plus
	ModelID string `json:"model_id" example:"RealESRGAN_x4plus"`
	// Last time this engine served a request (unix seconds).
	// example: 1700000000
	LastUsed int64 `json:"last_used_unix" example:"1700000000"`
	// Number of requests served by this engine since it was built.
	// example: 12
	Requests int64 `json:"requests" example:"12"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Compute device currently backing the cache (cuda or cpu).
	// example: cuda
	Device string `json:"device" example:"cuda"`
	// Whether reduced-precision inference is active on this device.
	// example: true
	HalfPrecision bool `json:"half_precision" example:"true"`
	// Cached engines keyed by model id.
	Engines []EngineStatus `json:"engines"`
	// Number of times the cache was invalidated by a device change.
	// example: 0
	Invalidations int64 `json:"invalidations" example:"0"`
}
