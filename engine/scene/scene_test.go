package scene

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpawnJointHierarchyWorldTransforms(t *testing.T) {
	s := NewScene("test", WithComputeWorkers(2))

	rootLocal := DefaultTransform()
	rootLocal.Translation = [3]float32{1, 0, 0}
	root := s.SpawnJoint(0, rootLocal)

	childLocal := DefaultTransform()
	childLocal.Translation = [3]float32{0, 2, 0}
	child := s.SpawnJoint(root, childLocal)

	grandLocal := DefaultTransform()
	grandLocal.Translation = [3]float32{0, 0, 3}
	grand := s.SpawnJoint(child, grandLocal)

	s.UpdateWorldTransforms()

	rw, ok := s.JointWorldTransform(root)
	require.True(t, ok)
	assert.Equal(t, float32(1), rw[12])

	cw, ok := s.JointWorldTransform(child)
	require.True(t, ok)
	assert.Equal(t, float32(1), cw[12])
	assert.Equal(t, float32(2), cw[13])

	gw, ok := s.JointWorldTransform(grand)
	require.True(t, ok)
	assert.Equal(t, float32(1), gw[12])
	assert.Equal(t, float32(2), gw[13])
	assert.Equal(t, float32(3), gw[14])
}

func TestSetJointWorldOverridesPropagation(t *testing.T) {
	s := NewScene("test")

	root := s.SpawnJoint(0, DefaultTransform())
	childLocal := DefaultTransform()
	childLocal.Translation = [3]float32{0, 1, 0}
	child := s.SpawnJoint(root, childLocal)

	var override [16]float32
	override[0], override[5], override[10], override[15] = 1, 1, 1, 1
	override[12] = 10
	s.SetJointWorld(root, override)

	s.UpdateWorldTransforms()

	rw, _ := s.JointWorldTransform(root)
	assert.Equal(t, float32(10), rw[12])

	// The child inherits the explicit parent world transform.
	cw, _ := s.JointWorldTransform(child)
	assert.Equal(t, float32(10), cw[12])
	assert.Equal(t, float32(1), cw[13])

	// SetJointLocal clears the override so propagation takes back over.
	s.SetJointLocal(root, DefaultTransform())
	s.UpdateWorldTransforms()
	rw, _ = s.JointWorldTransform(root)
	assert.Equal(t, float32(0), rw[12])
}

func TestJointScalePropagates(t *testing.T) {
	s := NewScene("test")

	rootLocal := DefaultTransform()
	rootLocal.Scale = [3]float32{2, 2, 2}
	root := s.SpawnJoint(0, rootLocal)

	childLocal := DefaultTransform()
	childLocal.Translation = [3]float32{1, 0, 0}
	child := s.SpawnJoint(root, childLocal)

	s.UpdateWorldTransforms()

	// Parent scale doubles the child's translation.
	cw, _ := s.JointWorldTransform(child)
	assert.Equal(t, float32(2), cw[12])
}

func TestSkinnedInstancesSpawnOrder(t *testing.T) {
	s := NewScene("test")

	a := s.Spawn(SkinBinding{})
	b := s.Spawn(SkinBinding{})
	c := s.Spawn(SkinBinding{})

	instances := s.SkinnedInstances()
	require.Len(t, instances, 3)
	assert.Equal(t, a, instances[0].ID)
	assert.Equal(t, b, instances[1].ID)
	assert.Equal(t, c, instances[2].ID)
	for _, inst := range instances {
		assert.True(t, inst.Visible)
	}

	s.Despawn(b)
	instances = s.SkinnedInstances()
	require.Len(t, instances, 2)
	assert.Equal(t, a, instances[0].ID)
	assert.Equal(t, c, instances[1].ID)
}

func TestSetVisible(t *testing.T) {
	s := NewScene("test")

	id := s.Spawn(SkinBinding{})
	s.SetVisible(id, false)

	instances := s.SkinnedInstances()
	require.Len(t, instances, 1)
	assert.False(t, instances[0].Visible)
}

func TestBatchingExempt(t *testing.T) {
	s := NewScene("test")

	id := s.Spawn(SkinBinding{})
	assert.False(t, s.BatchingExempt(id))

	s.SetBatchingExempt(id)
	assert.True(t, s.BatchingExempt(id))

	// Idempotent.
	s.SetBatchingExempt(id)
	assert.True(t, s.BatchingExempt(id))

	s.Despawn(id)
	assert.False(t, s.BatchingExempt(id))
}

func TestUnknownJointLookupMisses(t *testing.T) {
	s := NewScene("test")
	_, ok := s.JointWorldTransform(99)
	assert.False(t, ok)
}

func TestManyRootSubtreesPropagateInParallel(t *testing.T) {
	s := NewScene("test", WithComputeWorkers(4))

	roots := make([]uint64, 0, 32)
	for i := 0; i < 32; i++ {
		local := DefaultTransform()
		local.Translation = [3]float32{float32(i), 0, 0}
		roots = append(roots, s.SpawnJoint(0, local))
	}

	s.UpdateWorldTransforms()

	for i, root := range roots {
		w, ok := s.JointWorldTransform(root)
		require.True(t, ok)
		assert.Equal(t, float32(i), w[12])
	}
}
