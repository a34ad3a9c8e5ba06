// Package skin packs per-instance joint matrices into shared GPU buffers for
// skinned mesh rendering.
//
// Each frame the world transforms of every visible skinned instance's joints
// are multiplied with the skin's inverse bindposes and appended to one large
// staging buffer, and each instance is assigned an offset into it. On hardware
// without storage buffers in the vertex stage the joints bind as a uniform
// buffer instead; uniform bindings have a fixed size, so instances address
// their slice of the buffer with 256-byte-aligned dynamic offsets and the
// packer pads between instances to keep every offset legal.
//
// Two buffers alternate roles each frame, so the previous frame's matrices
// stay resident on the GPU for motion-vector work without any copying.
package skin

import (
	"github.com/cogentcore/webgpu/wgpu"
)

const (
	// MaxJoints is the hard cap on joints per skinned instance. Instances
	// with more joints are truncated to the first MaxJoints.
	MaxJoints = 256

	// MatrixByteSize is the size of one joint matrix (4x4 float32).
	MatrixByteSize = 64
)

// SkinIndex locates one instance's joint matrices within the shared joint
// buffer. Immutable once created.
type SkinIndex struct {
	// ByteOffset is the offset of the instance's first joint matrix in bytes.
	// In uniform-fallback mode this is the dynamic offset for the joint
	// binding; the packer guarantees it is 256-byte aligned.
	ByteOffset uint32
}

// NewSkinIndex creates a SkinIndex from a start offset in whole matrices.
//
// Parameters:
//   - start: the offset of the instance's first matrix, in matrix units
//
// Returns:
//   - SkinIndex: the index
func NewSkinIndex(start int) SkinIndex {
	return SkinIndex{ByteOffset: uint32(start * MatrixByteSize)}
}

// Index returns the offset in whole matrices. This is what storage-buffer
// shaders index with, since they address the buffer as an array of mat4.
//
// Returns:
//   - uint32: the matrix-unit offset
func (s SkinIndex) Index() uint32 {
	return s.ByteOffset / MatrixByteSize
}

// BindGroupLayoutDescriptor returns the joint-matrix bind group layout for
// the given buffer mode: a read-only storage binding normally, or a
// dynamic-offset uniform binding of exactly MaxJoints matrices in fallback
// mode.
//
// Parameters:
//   - uniformFallback: true when storage buffers are unavailable in the vertex stage
//
// Returns:
//   - wgpu.BindGroupLayoutDescriptor: the layout descriptor for binding 0
func BindGroupLayoutDescriptor(uniformFallback bool) wgpu.BindGroupLayoutDescriptor {
	entry := wgpu.BindGroupLayoutEntry{
		Binding:    0,
		Visibility: wgpu.ShaderStageVertex,
		Buffer: wgpu.BufferBindingLayout{
			Type:           wgpu.BufferBindingTypeReadOnlyStorage,
			MinBindingSize: MatrixByteSize,
		},
	}
	if uniformFallback {
		entry.Buffer = wgpu.BufferBindingLayout{
			Type:             wgpu.BufferBindingTypeUniform,
			HasDynamicOffset: true,
			MinBindingSize:   MaxJoints * MatrixByteSize,
		}
	}
	return wgpu.BindGroupLayoutDescriptor{
		Label:   "Joint Matrices Layout",
		Entries: []wgpu.BindGroupLayoutEntry{entry},
	}
}
