// Package device inspects the available compute backends and picks one,
// together with a precision policy appropriate to it.
package device

import (
	"os"
	"strings"
)

// Kind identifies a compute backend.
type Kind string

const (
	// KindCUDA is the accelerated parallel device.
	KindCUDA Kind = "cuda"
	// KindCPU is the serial fallback, always available.
	KindCPU Kind = "cpu"
)

// Profile is the outcome of one selection: backend plus precision policy.
// It is derived per cache access and never persisted.
type Profile struct {
	Kind Kind
	// HalfPrecision enables fp16 tensor I/O. Only set for device classes
	// that reliably support it; on unsupported hardware fp16 is either
	// rejected or numerically unstable.
	HalfPrecision bool
}

// Selector picks the compute profile for the next engine build. It is an
// interface so tests and the cache can inject a fixed or scripted profile.
type Selector interface {
	Select() Profile
}

// runtimeSelector probes the actual host hardware.
type runtimeSelector struct{}

// NewSelector returns the hardware-probing selector.
// Priority: accelerated device with fp16 > accelerated device > CPU.
// Selection never fails; CPU with full precision is the floor.
func NewSelector() Selector { return runtimeSelector{} }

func (runtimeSelector) Select() Profile {
	switch strings.ToLower(os.Getenv("UPSCALED_DEVICE")) {
	case "cuda":
		return Profile{Kind: KindCUDA, HalfPrecision: halfAllowed()}
	case "cpu":
		return Profile{Kind: KindCPU}
	}
	if cudaPresent() {
		return Profile{Kind: KindCUDA, HalfPrecision: halfAllowed()}
	}
	return Profile{Kind: KindCPU}
}

// cudaPresent reports whether an NVIDIA driver is loaded on this host.
func cudaPresent() bool {
	_, err := os.Stat("/proc/driver/nvidia/version")
	return err == nil
}

// halfAllowed honors the operator escape hatch for GPUs whose fp16 path
// misbehaves.
func halfAllowed() bool {
	return os.Getenv("UPSCALED_NO_HALF") != "1"
}

// Fixed is a Selector that always returns the given profile. Used by tests
// and single-device deployments.
type Fixed struct{ Profile Profile }

func (f Fixed) Select() Profile { return f.Profile }
