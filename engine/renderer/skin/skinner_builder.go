package skin

import "github.com/cogentcore/webgpu/wgpu"

// SkinnerBuilderOption is a functional option for configuring a Skinner.
// Use the With* functions to create options.
type SkinnerBuilderOption func(s *skinnerImpl)

// WithLimits sets the device limits consulted by capability detection.
// Pass the renderer's Limits() so the binding mode matches the hardware.
//
// Parameters:
//   - limits: the device limits
//
// Returns:
//   - SkinnerBuilderOption: option function to apply
func WithLimits(limits wgpu.Limits) SkinnerBuilderOption {
	return func(s *skinnerImpl) {
		s.limits = limits
	}
}

// WithCapability shares a Capability cell with other consumers so the whole
// renderer agrees on one binding-mode decision.
//
// Parameters:
//   - c: the capability cell
//
// Returns:
//   - SkinnerBuilderOption: option function to apply
func WithCapability(c *Capability) SkinnerBuilderOption {
	return func(s *skinnerImpl) {
		s.capability = c
	}
}

// WithBufferLabels sets the debug labels of the two joint buffers.
//
// Parameters:
//   - a: label for the first buffer
//   - b: label for the second buffer
//
// Returns:
//   - SkinnerBuilderOption: option function to apply
func WithBufferLabels(a, b string) SkinnerBuilderOption {
	return func(s *skinnerImpl) {
		s.current = NewJointBuffer(a)
		s.prev = NewJointBuffer(b)
	}
}
