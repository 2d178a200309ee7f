package upscaler

// The error taxonomy surfaced by the lifecycle controller. Anything not
// covered below is converted to the opaque processing-failed error before
// it reaches a caller; internal error text never crosses the boundary.

// invalidInputError signals a missing or unreadable image for 400 mapping.
type invalidInputError struct{ msg string }

func (e invalidInputError) Error() string { return e.msg }

// ErrInvalidInput constructs an invalidInputError.
func ErrInvalidInput(msg string) error { return invalidInputError{msg: msg} }

// IsInvalidInput reports whether err indicates a rejected input (return 400).
func IsInvalidInput(err error) bool {
	_, ok := err.(invalidInputError)
	return ok
}

// modelNotFoundError signals an unknown model id for 404 mapping.
type modelNotFoundError struct{ id string }

func (e modelNotFoundError) Error() string { return "model not found: " + e.id }

// ErrModelNotFound returns an error when a requested model id is not in the registry.
func ErrModelNotFound(id string) error { return modelNotFoundError{id: id} }

// IsModelNotFound reports whether the error indicates a missing model id.
func IsModelNotFound(err error) bool {
	_, ok := err.(modelNotFoundError)
	return ok
}

// deviceExhaustedError signals a device-memory allocation failure during
// inference. Cleanup has already run by the time a caller sees it.
type deviceExhaustedError struct{}

func (deviceExhaustedError) Error() string {
	return "device memory exhausted: try a smaller image or a different model"
}

// ErrDeviceExhausted constructs a deviceExhaustedError.
func ErrDeviceExhausted() error { return deviceExhaustedError{} }

// IsDeviceExhausted reports whether err indicates device memory pressure.
func IsDeviceExhausted(err error) bool {
	_, ok := err.(deviceExhaustedError)
	return ok
}

// timeoutError signals that inference exceeded the allotted execution slot.
// Fatal for the request; no partial output exists.
type timeoutError struct{}

func (timeoutError) Error() string { return "processing timed out" }

// ErrTimeout constructs a timeoutError.
func ErrTimeout() error { return timeoutError{} }

// IsTimeout reports whether err indicates an exceeded execution slot.
func IsTimeout(err error) bool {
	_, ok := err.(timeoutError)
	return ok
}

// processingFailedError is the opaque catch-all. It deliberately carries a
// fixed message so stack traces, paths and model internals stay inside the
// process.
type processingFailedError struct{}

func (processingFailedError) Error() string {
	return "processing failed: try a smaller image or a different model"
}

// ErrProcessingFailed constructs the opaque catch-all error.
func ErrProcessingFailed() error { return processingFailedError{} }

// IsProcessingFailed reports whether err is the opaque catch-all.
func IsProcessingFailed(err error) bool {
	_, ok := err.(processingFailedError)
	return ok
}
