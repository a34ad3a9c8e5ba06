package skin

import (
	"github.com/Carmen-Shannon/oxy-skin/common"
	"github.com/cogentcore/webgpu/wgpu"
)

// JointBuffer is one of the two shared joint-matrix buffers: a growable
// CPU-side staging sequence of whole matrices plus a lazily allocated GPU
// buffer. The GPU buffer grows geometrically and never shrinks, so a frame
// with fewer instances than the last does not reallocate.
type JointBuffer struct {
	label string

	matrices [][16]float32

	gpu         *wgpu.Buffer
	gpuCapacity uint64
}

// NewJointBuffer creates an empty JointBuffer with the given debug label.
// An empty label falls back to "Joint Matrices".
//
// Parameters:
//   - label: the debug label for the GPU buffer
//
// Returns:
//   - *JointBuffer: the new buffer
func NewJointBuffer(label string) *JointBuffer {
	return &JointBuffer{label: common.Coalesce(label, "Joint Matrices")}
}

// Label returns the buffer's debug label.
func (b *JointBuffer) Label() string {
	return b.label
}

// Len returns the staged matrix count.
func (b *JointBuffer) Len() int {
	return len(b.matrices)
}

// ByteLen returns the staged size in bytes.
func (b *JointBuffer) ByteLen() uint64 {
	return uint64(len(b.matrices)) * MatrixByteSize
}

// Push appends one matrix to the staging sequence.
//
// Parameters:
//   - m: the matrix to append, column-major
func (b *JointBuffer) Push(m [16]float32) {
	b.matrices = append(b.matrices, m)
}

// Truncate discards staged matrices beyond n. No-op if n >= Len.
//
// Parameters:
//   - n: the length to keep, in whole matrices
func (b *JointBuffer) Truncate(n int) {
	if n < len(b.matrices) {
		b.matrices = b.matrices[:n]
	}
}

// Clear empties the staging sequence, keeping its capacity.
func (b *JointBuffer) Clear() {
	b.matrices = b.matrices[:0]
}

// At returns the staged matrix at index i.
//
// Parameters:
//   - i: the matrix index
//
// Returns:
//   - [16]float32: the matrix
func (b *JointBuffer) At(i int) [16]float32 {
	return b.matrices[i]
}

// Matrices returns the staging sequence. The returned slice is a view; do
// not hold it across Clear or Push.
//
// Returns:
//   - [][16]float32: the staged matrices
func (b *JointBuffer) Matrices() [][16]float32 {
	return b.matrices
}

// GPUBuffer returns the GPU buffer, or nil before the first Reserve.
//
// Returns:
//   - *wgpu.Buffer: the GPU buffer
func (b *JointBuffer) GPUBuffer() *wgpu.Buffer {
	return b.gpu
}

// Reserve ensures the GPU buffer can hold the staged matrices, reallocating
// with geometric growth when it cannot. Existing contents are not preserved
// across a reallocation; callers rewrite the buffer after reserving.
//
// Parameters:
//   - device: the GPU device
//   - usage: the buffer usage flags (binding mode plus CopyDst)
//
// Returns:
//   - error: error if buffer creation fails
func (b *JointBuffer) Reserve(device *wgpu.Device, usage wgpu.BufferUsage) error {
	needed := b.ByteLen()
	if needed == 0 || needed <= b.gpuCapacity {
		return nil
	}

	capacity := max(needed, b.gpuCapacity*2)

	buf, err := device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: b.label,
		Size:  capacity,
		Usage: usage,
	})
	if err != nil {
		return err
	}

	if b.gpu != nil {
		b.gpu.Release()
	}
	b.gpu = buf
	b.gpuCapacity = capacity
	return nil
}

// WriteTo uploads the staged matrices to the GPU buffer. Callers must have
// reserved capacity first.
//
// Parameters:
//   - queue: the GPU submission queue
func (b *JointBuffer) WriteTo(queue *wgpu.Queue) {
	if len(b.matrices) == 0 || b.gpu == nil {
		return
	}
	queue.WriteBuffer(b.gpu, 0, common.SliceToBytes(b.matrices))
}

// Release frees the GPU buffer and drops the staged matrices.
func (b *JointBuffer) Release() {
	if b.gpu != nil {
		b.gpu.Release()
		b.gpu = nil
	}
	b.gpuCapacity = 0
	b.matrices = nil
}
