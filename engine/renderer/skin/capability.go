package skin

import (
	"sync"

	"github.com/cogentcore/webgpu/wgpu"
)

// Capability is a compute-once cell deciding which buffer binding mode the
// joint matrices use. The first call to UsesUniformBuffers fixes the answer
// for the lifetime of the cell; later calls return the cached value and
// ignore their argument. Device limits do not change while a device lives,
// so recomputing would only buy the chance of a mid-frame flip.
type Capability struct {
	once           sync.Once
	uniformBuffers bool
}

// UsesUniformBuffers reports whether joint matrices must bind as uniform
// buffers because the vertex stage has no storage buffer slots.
//
// Parameters:
//   - limits: the device limits (consulted on the first call only)
//
// Returns:
//   - bool: true when the uniform fallback is required
func (c *Capability) UsesUniformBuffers(limits wgpu.Limits) bool {
	c.once.Do(func() {
		c.uniformBuffers = limits.MaxStorageBuffersPerShaderStage == 0
	})
	return c.uniformBuffers
}
