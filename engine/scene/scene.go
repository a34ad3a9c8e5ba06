package scene

import (
	"runtime"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-skin/common"
	"github.com/Carmen-Shannon/oxy-skin/engine/loader"
)

// Transform is a local TRS transform. Rotation is a unit quaternion in
// (x, y, z, w) order, matching the glTF node convention.
type Transform struct {
	Translation [3]float32
	Rotation    [4]float32
	Scale       [3]float32
}

// DefaultTransform returns an identity transform (no translation, identity
// rotation, unit scale).
//
// Returns:
//   - Transform: the identity transform
func DefaultTransform() Transform {
	return Transform{
		Rotation: [4]float32{0, 0, 0, 1},
		Scale:    [3]float32{1, 1, 1},
	}
}

// SkinBinding connects a skinned instance to its skeleton and rest pose.
type SkinBinding struct {
	// Joints are the joint entity IDs in skin order. The matrix written for
	// slot i is the world transform of Joints[i] times InverseBindposes[i].
	Joints []uint64

	// InverseBindposes resolves to the inverse bind matrices through a
	// loader.Registry. The handle may still be in flight.
	InverseBindposes loader.Handle
}

// SkinnedInstance is a snapshot of one skinned entity.
type SkinnedInstance struct {
	// ID is the instance's entity ID.
	ID uint64

	// Visible reports whether the instance passed visibility determination
	// this frame.
	Visible bool

	// Binding is the instance's skin binding.
	Binding SkinBinding
}

// jointNode is a joint entity in the hierarchy.
type jointNode struct {
	parent   uint64
	children []uint64
	local    Transform
	world    [16]float32

	// explicitWorld marks joints whose world transform was set directly;
	// propagation leaves them untouched but still feeds them to children.
	explicitWorld bool
}

// scene is the implementation of the Scene interface.
type scene struct {
	mu *sync.RWMutex

	name string

	nextID uint64

	joints     map[uint64]*jointNode
	jointRoots []uint64

	instances     []SkinnedInstance
	instanceIndex map[uint64]int

	batchingExempt map[uint64]struct{}

	computeWorkers int
	computePool    worker.DynamicWorkerPool
}

// Scene is a minimal scene graph for skinned entities: joint hierarchies with
// local TRS transforms and cached world transforms, plus skinned instances in
// spawn order. All methods are safe for concurrent use.
type Scene interface {
	// Name returns the scene's name.
	//
	// Returns:
	//   - string: the scene name
	Name() string

	// SpawnJoint creates a joint entity under the given parent.
	//
	// Parameters:
	//   - parent: the parent joint ID, or 0 for a root joint
	//   - local: the joint's local transform
	//
	// Returns:
	//   - uint64: the new joint's entity ID
	SpawnJoint(parent uint64, local Transform) uint64

	// SetJointLocal replaces a joint's local transform. The change is
	// reflected in world transforms after the next UpdateWorldTransforms.
	//
	// Parameters:
	//   - id: the joint entity ID
	//   - local: the new local transform
	SetJointLocal(id uint64, local Transform)

	// SetJointWorld sets a joint's world transform directly, bypassing
	// hierarchy propagation. Children still inherit the given matrix.
	//
	// Parameters:
	//   - id: the joint entity ID
	//   - world: the world transform, column-major
	SetJointWorld(id uint64, world [16]float32)

	// JointWorldTransform returns a joint's cached world transform.
	//
	// Parameters:
	//   - id: the joint entity ID
	//
	// Returns:
	//   - [16]float32: the world transform, column-major
	//   - bool: false if no such joint exists
	JointWorldTransform(id uint64) ([16]float32, bool)

	// Spawn creates a skinned instance with the given binding.
	// Instances are visible by default.
	//
	// Parameters:
	//   - binding: the instance's skin binding
	//
	// Returns:
	//   - uint64: the new instance's entity ID
	Spawn(binding SkinBinding) uint64

	// SetVisible updates an instance's visibility flag.
	//
	// Parameters:
	//   - id: the instance entity ID
	//   - visible: the new visibility state
	SetVisible(id uint64, visible bool)

	// Despawn removes a skinned instance. Joints are independent entities
	// and survive the instances that reference them.
	//
	// Parameters:
	//   - id: the instance entity ID
	Despawn(id uint64)

	// SkinnedInstances returns a snapshot of all skinned instances in spawn
	// order. The returned slice is a copy.
	//
	// Returns:
	//   - []SkinnedInstance: the instances in spawn order
	SkinnedInstances() []SkinnedInstance

	// SetBatchingExempt marks an instance as exempt from automatic draw
	// batching. Idempotent.
	//
	// Parameters:
	//   - id: the instance entity ID
	SetBatchingExempt(id uint64)

	// BatchingExempt reports whether an instance carries the batching
	// exemption marker.
	//
	// Parameters:
	//   - id: the instance entity ID
	//
	// Returns:
	//   - bool: true if the instance is exempt
	BatchingExempt(id uint64) bool

	// UpdateWorldTransforms recomputes cached world transforms for every
	// joint hierarchy, parents before children. Root subtrees are fanned out
	// across the compute pool.
	UpdateWorldTransforms()
}

var _ Scene = &scene{}

// NewScene creates a new Scene instance with the provided options applied.
//
// Parameters:
//   - name: the scene name
//   - options: functional options for scene configuration
//
// Returns:
//   - Scene: the newly created scene
func NewScene(name string, options ...SceneBuilderOption) Scene {
	s := &scene{
		mu:             &sync.RWMutex{},
		name:           name,
		joints:         make(map[uint64]*jointNode),
		instanceIndex:  make(map[uint64]int),
		batchingExempt: make(map[uint64]struct{}),
		computeWorkers: max(runtime.NumCPU()-1, 1),
	}

	for _, option := range options {
		option(s)
	}

	// Initialize the compute pool after options so WithComputeWorkers can override the default.
	// Queue size of 256 accommodates typical root subtree counts with headroom.
	s.computePool = worker.NewDynamicWorkerPool(s.computeWorkers, 256, 1*time.Second)

	return s
}

func (s *scene) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

func (s *scene) SpawnJoint(parent uint64, local Transform) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID

	j := &jointNode{
		parent: parent,
		local:  local,
	}
	common.Identity(j.world[:])
	s.joints[id] = j

	if p, ok := s.joints[parent]; ok {
		p.children = append(p.children, id)
	} else {
		s.jointRoots = append(s.jointRoots, id)
	}

	return id
}

func (s *scene) SetJointLocal(id uint64, local Transform) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.joints[id]; ok {
		j.local = local
		j.explicitWorld = false
	}
}

func (s *scene) SetJointWorld(id uint64, world [16]float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.joints[id]; ok {
		j.world = world
		j.explicitWorld = true
	}
}

func (s *scene) JointWorldTransform(id uint64) ([16]float32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.joints[id]
	if !ok {
		return [16]float32{}, false
	}
	return j.world, true
}

func (s *scene) Spawn(binding SkinBinding) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID

	s.instanceIndex[id] = len(s.instances)
	s.instances = append(s.instances, SkinnedInstance{
		ID:      id,
		Visible: true,
		Binding: binding,
	})

	return id
}

func (s *scene) SetVisible(id uint64, visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.instanceIndex[id]; ok {
		s.instances[idx].Visible = visible
	}
}

func (s *scene) Despawn(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.instanceIndex[id]
	if !ok {
		return
	}

	// Preserve spawn order of the remaining instances.
	s.instances = append(s.instances[:idx], s.instances[idx+1:]...)
	delete(s.instanceIndex, id)
	delete(s.batchingExempt, id)
	for i := idx; i < len(s.instances); i++ {
		s.instanceIndex[s.instances[i].ID] = i
	}
}

func (s *scene) SkinnedInstances() []SkinnedInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make([]SkinnedInstance, len(s.instances))
	copy(cp, s.instances)
	return cp
}

func (s *scene) SetBatchingExempt(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batchingExempt[id] = struct{}{}
}

func (s *scene) BatchingExempt(id uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.batchingExempt[id]
	return ok
}

func (s *scene) UpdateWorldTransforms() {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Fan root subtrees out across the compute pool. Subtrees are disjoint,
	// so workers never touch the same joint. A WaitGroup provides per-frame
	// barrier sync since pool.Wait() blocks until workers idle-exit which is
	// unsuitable for frame-rate workloads.
	var wg sync.WaitGroup
	for i, root := range s.jointRoots {
		wg.Add(1)
		rootCap := root // capture for closure
		s.computePool.SubmitTask(worker.Task{
			ID: i,
			Do: func() (any, error) {
				defer wg.Done()
				s.propagateSubtree(rootCap)
				return nil, nil
			},
		})
	}
	wg.Wait()
}

// propagateSubtree recomputes world transforms for one root subtree,
// parents before children. Callers must hold the write lock; subtrees are
// disjoint so concurrent workers never alias.
func (s *scene) propagateSubtree(root uint64) {
	j := s.joints[root]
	if !j.explicitWorld {
		common.ComposeTRS(j.world[:], j.local.Translation, j.local.Rotation, j.local.Scale)
	}

	stack := append([]uint64(nil), j.children...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		child := s.joints[id]
		parent := s.joints[child.parent]
		if !child.explicitWorld {
			var localMat [16]float32
			common.ComposeTRS(localMat[:], child.local.Translation, child.local.Rotation, child.local.Scale)
			common.Mul4(child.world[:], parent.world[:], localMat[:])
		}

		stack = append(stack, child.children...)
	}
}
