package skin

import (
	"sync"

	"github.com/Carmen-Shannon/oxy-skin/common"
	"github.com/Carmen-Shannon/oxy-skin/engine/loader"
	"github.com/Carmen-Shannon/oxy-skin/engine/scene"
	"github.com/cogentcore/webgpu/wgpu"
)

// skinnerImpl is the implementation of the Skinner interface.
type skinnerImpl struct {
	mu *sync.Mutex

	capability *Capability
	limits     wgpu.Limits

	current *JointBuffer
	prev    *JointBuffer

	currentIndex map[uint64]SkinIndex
	prevIndex    map[uint64]SkinIndex
}

// Skinner owns the double-buffered joint matrix state: two JointBuffers whose
// roles swap each frame and the per-instance offset tables that address them.
//
// The per-frame call order is Extract, then MarkBatchingExemptions, then
// Prepare. Extract swaps roles first, so everything that reads "current" or
// "previous" during a frame must run after it.
type Skinner interface {
	// Extract rebuilds the current joint buffer and offset table from the
	// scene. The previous frame's buffer and table become the "prev" set
	// untouched. Instances that are hidden, reference unloaded bindposes, or
	// lose joints mid-pack are skipped for the frame; their matrices never
	// reach the buffer and they get no offset entry.
	//
	// Joint world transforms must be up to date before this runs.
	//
	// Parameters:
	//   - scn: the scene to extract from
	//   - bindposes: the inverse-bindpose registry
	Extract(scn scene.Scene, bindposes loader.Registry)

	// Prepare uploads the current joint buffer to the GPU, growing it first
	// if needed. The previous buffer is not rewritten; its contents survive
	// on the GPU from last frame's upload. No-op when nothing was packed.
	//
	// Parameters:
	//   - device: the GPU device
	//   - queue: the GPU submission queue
	//
	// Returns:
	//   - error: error if buffer allocation fails
	Prepare(device *wgpu.Device, queue *wgpu.Queue) error

	// MarkBatchingExemptions marks every skinned instance as exempt from
	// automatic draw batching, but only in uniform-fallback mode: each
	// instance needs its own dynamic offset there, so batched draws would
	// address the wrong matrices. Instances that were skipped this frame
	// (hidden, or bindposes still loading) are exempted too, so they never
	// join a batch they would have to leave the moment they pack. No-op in
	// storage-buffer mode.
	//
	// Parameters:
	//   - scn: the scene to mark
	MarkBatchingExemptions(scn scene.Scene)

	// CurrentOffset returns the instance's offset for this frame.
	//
	// Parameters:
	//   - id: the instance entity ID
	//
	// Returns:
	//   - SkinIndex: the offset into the current buffer
	//   - bool: false if the instance was not packed this frame
	CurrentOffset(id uint64) (SkinIndex, bool)

	// PrevOffset returns the instance's offset for the previous frame.
	// Motion-vector consumers fall back to CurrentOffset when this misses.
	//
	// Parameters:
	//   - id: the instance entity ID
	//
	// Returns:
	//   - SkinIndex: the offset into the previous buffer
	//   - bool: false if the instance was not packed last frame
	PrevOffset(id uint64) (SkinIndex, bool)

	// CurrentBuffer returns the joint buffer holding this frame's matrices.
	//
	// Returns:
	//   - *JointBuffer: the current buffer
	CurrentBuffer() *JointBuffer

	// PrevBuffer returns the joint buffer holding the previous frame's matrices.
	//
	// Returns:
	//   - *JointBuffer: the previous buffer
	PrevBuffer() *JointBuffer

	// UsesUniformBuffers reports the buffer binding mode decided by the
	// capability cell from the configured limits.
	//
	// Returns:
	//   - bool: true when the uniform fallback is active
	UsesUniformBuffers() bool

	// Release frees both GPU buffers and drops all staged state.
	Release()
}

var _ Skinner = &skinnerImpl{}

// NewSkinner creates a new Skinner with the provided options applied.
// Without WithLimits the WebGPU spec default limits are assumed, which
// support storage buffers in the vertex stage.
//
// Parameters:
//   - options: functional options for skinner configuration
//
// Returns:
//   - Skinner: the newly created skinner
func NewSkinner(options ...SkinnerBuilderOption) Skinner {
	s := &skinnerImpl{
		mu:           &sync.Mutex{},
		capability:   &Capability{},
		limits:       wgpu.DefaultLimits(),
		current:      NewJointBuffer("Joint Matrices A"),
		prev:         NewJointBuffer("Joint Matrices B"),
		currentIndex: make(map[uint64]SkinIndex),
		prevIndex:    make(map[uint64]SkinIndex),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

func (s *skinnerImpl) Extract(scn scene.Scene, bindposes loader.Registry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	uniformFallback := s.capability.UsesUniformBuffers(s.limits)

	// Swap roles: last frame's current becomes prev, and the stale buffer
	// from two frames ago is cleared and repacked. O(1), no matrix copies.
	s.current, s.prev = s.prev, s.current
	s.currentIndex, s.prevIndex = s.prevIndex, s.currentIndex
	clear(s.currentIndex)
	s.current.Clear()

	buf := s.current
	lastStart := 0

	for _, inst := range scn.SkinnedInstances() {
		if !inst.Visible {
			continue
		}

		inverseBindposes, ok := bindposes.Get(inst.Binding.InverseBindposes)
		if !ok {
			// Asset still in flight; the instance retries next frame.
			continue
		}

		joints := inst.Binding.Joints
		start := buf.Len()
		target := start + min(len(joints), MaxJoints)

		n := min(len(joints), len(inverseBindposes), MaxJoints)
		for i := 0; i < n; i++ {
			world, ok := scn.JointWorldTransform(joints[i])
			if !ok {
				// Missing joint entity: nothing is pushed, so the length
				// check below rolls the whole instance back.
				continue
			}
			var m [16]float32
			common.Mul4(m[:], world[:], inverseBindposes[i][:])
			buf.Push(m)
		}

		// All-or-nothing: a despawned joint or short bindpose set leaves
		// fewer matrices than target, and a partial skin would deform with
		// the wrong matrices. Roll back to the instance's start.
		if buf.Len() != target {
			buf.Truncate(start)
			continue
		}

		lastStart = max(lastStart, start)
		s.currentIndex[inst.ID] = NewSkinIndex(start)

		if uniformFallback {
			// Dynamic offsets must be 256-byte aligned; four 64-byte
			// matrices per step keeps every start offset legal.
			for buf.Len()%4 != 0 {
				buf.Push([16]float32{})
			}
		}
	}

	// Pad the tail so a shader reading MaxJoints matrices from the last
	// instance's offset stays in bounds regardless of its joint count.
	for buf.Len()-lastStart < MaxJoints {
		buf.Push([16]float32{})
	}
}

func (s *skinnerImpl) Prepare(device *wgpu.Device, queue *wgpu.Queue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current.Len() == 0 {
		return nil
	}

	usage := wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst
	if s.capability.UsesUniformBuffers(s.limits) {
		usage = wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst
	}

	if err := s.current.Reserve(device, usage); err != nil {
		return err
	}
	s.current.WriteTo(queue)
	return nil
}

func (s *skinnerImpl) MarkBatchingExemptions(scn scene.Scene) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.capability.UsesUniformBuffers(s.limits) {
		return
	}

	// Every instance with a skin binding, packed or not: an instance whose
	// bindposes are still in flight draws unskinned now but needs its own
	// dynamic offset as soon as they land.
	for _, inst := range scn.SkinnedInstances() {
		if !scn.BatchingExempt(inst.ID) {
			scn.SetBatchingExempt(inst.ID)
		}
	}
}

func (s *skinnerImpl) CurrentOffset(id uint64) (SkinIndex, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.currentIndex[id]
	return idx, ok
}

func (s *skinnerImpl) PrevOffset(id uint64) (SkinIndex, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.prevIndex[id]
	return idx, ok
}

func (s *skinnerImpl) CurrentBuffer() *JointBuffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *skinnerImpl) PrevBuffer() *JointBuffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prev
}

func (s *skinnerImpl) UsesUniformBuffers() bool {
	return s.capability.UsesUniformBuffers(s.limits)
}

func (s *skinnerImpl) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current.Release()
	s.prev.Release()
	clear(s.currentIndex)
	clear(s.prevIndex)
}
