package skin

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-skin/engine/loader"
	"github.com/Carmen-Shannon/oxy-skin/engine/scene"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// uniformOnlyLimits mimics downlevel hardware with no storage buffers in the
// vertex stage.
func uniformOnlyLimits() wgpu.Limits {
	return wgpu.Limits{MaxStorageBuffersPerShaderStage: 0}
}

func identityMat() [16]float32 {
	return [16]float32{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}
}

func translationMat(x, y, z float32) [16]float32 {
	m := identityMat()
	m[12], m[13], m[14] = x, y, z
	return m
}

// spawnJoints creates n joints with distinct world translations so packed
// matrices are observable.
func spawnJoints(s scene.Scene, n int) []uint64 {
	ids := make([]uint64, n)
	for i := range ids {
		ids[i] = s.SpawnJoint(0, scene.DefaultTransform())
		s.SetJointWorld(ids[i], translationMat(float32(i+1), 0, 0))
	}
	return ids
}

func identityBindposes(n int) [][16]float32 {
	bp := make([][16]float32, n)
	for i := range bp {
		bp[i] = identityMat()
	}
	return bp
}

func TestExtractStorageModePacking(t *testing.T) {
	scn := scene.NewScene("test")
	reg := loader.NewRegistry()

	jointsA := spawnJoints(scn, 3)
	jointsB := spawnJoints(scn, 5)
	a := scn.Spawn(scene.SkinBinding{Joints: jointsA, InverseBindposes: reg.Insert(identityBindposes(3))})
	b := scn.Spawn(scene.SkinBinding{Joints: jointsB, InverseBindposes: reg.Insert(identityBindposes(5))})

	sk := NewSkinner()
	require.False(t, sk.UsesUniformBuffers())
	sk.Extract(scn, reg)

	offA, ok := sk.CurrentOffset(a)
	require.True(t, ok)
	assert.Equal(t, uint32(0), offA.Index())

	// Storage mode packs contiguously: no alignment padding between instances.
	offB, ok := sk.CurrentOffset(b)
	require.True(t, ok)
	assert.Equal(t, uint32(3), offB.Index())

	// Tail padding guarantees MaxJoints readable matrices past the last start.
	assert.Equal(t, 3+MaxJoints, sk.CurrentBuffer().Len())

	// The packed matrices are world * inverse_bindpose; with identity
	// bindposes that is the joint world transform.
	assert.Equal(t, translationMat(1, 0, 0), sk.CurrentBuffer().At(0))
	assert.Equal(t, translationMat(1, 0, 0), sk.CurrentBuffer().At(3))
}

func TestExtractUniformFallbackAlignment(t *testing.T) {
	scn := scene.NewScene("test")
	reg := loader.NewRegistry()

	jointsA := spawnJoints(scn, 3)
	jointsB := spawnJoints(scn, 5)
	a := scn.Spawn(scene.SkinBinding{Joints: jointsA, InverseBindposes: reg.Insert(identityBindposes(3))})
	b := scn.Spawn(scene.SkinBinding{Joints: jointsB, InverseBindposes: reg.Insert(identityBindposes(5))})

	sk := NewSkinner(WithLimits(uniformOnlyLimits()))
	require.True(t, sk.UsesUniformBuffers())
	sk.Extract(scn, reg)

	// Every start offset must be a legal 256-byte dynamic offset.
	offA, ok := sk.CurrentOffset(a)
	require.True(t, ok)
	offB, ok := sk.CurrentOffset(b)
	require.True(t, ok)
	assert.Zero(t, offA.ByteOffset%256)
	assert.Zero(t, offB.ByteOffset%256)

	// 3 matrices pad to 4, so the second instance starts at matrix 4.
	assert.Equal(t, uint32(4), offB.Index())

	// 5 matrices after start 4 end at 9, padded to 12, then tail padding
	// fills out MaxJoints past start 4.
	assert.Equal(t, 4+MaxJoints, sk.CurrentBuffer().Len())
}

func TestExtractClampsJointsToMaxJoints(t *testing.T) {
	scn := scene.NewScene("test")
	reg := loader.NewRegistry()

	joints := spawnJoints(scn, MaxJoints+44)
	id := scn.Spawn(scene.SkinBinding{Joints: joints, InverseBindposes: reg.Insert(identityBindposes(MaxJoints + 44))})

	sk := NewSkinner()
	sk.Extract(scn, reg)

	_, ok := sk.CurrentOffset(id)
	require.True(t, ok)
	assert.Equal(t, MaxJoints, sk.CurrentBuffer().Len())
}

func TestExtractRollsBackInstanceWithMissingJoint(t *testing.T) {
	scn := scene.NewScene("test")
	reg := loader.NewRegistry()

	jointsA := spawnJoints(scn, 3)
	a := scn.Spawn(scene.SkinBinding{Joints: jointsA, InverseBindposes: reg.Insert(identityBindposes(3))})

	jointsB := spawnJoints(scn, 4)
	jointsB[2] = 9999 // despawned joint
	b := scn.Spawn(scene.SkinBinding{Joints: jointsB, InverseBindposes: reg.Insert(identityBindposes(4))})

	jointsC := spawnJoints(scn, 2)
	c := scn.Spawn(scene.SkinBinding{Joints: jointsC, InverseBindposes: reg.Insert(identityBindposes(2))})

	sk := NewSkinner()
	sk.Extract(scn, reg)

	// B is rolled back wholesale; a partial skin would deform wrongly.
	_, ok := sk.CurrentOffset(b)
	assert.False(t, ok)

	// Neighbors are unaffected, and C packs where B would have.
	offA, ok := sk.CurrentOffset(a)
	require.True(t, ok)
	assert.Equal(t, uint32(0), offA.Index())

	offC, ok := sk.CurrentOffset(c)
	require.True(t, ok)
	assert.Equal(t, uint32(3), offC.Index())
}

func TestExtractRollsBackShortBindposeSet(t *testing.T) {
	scn := scene.NewScene("test")
	reg := loader.NewRegistry()

	joints := spawnJoints(scn, 4)
	id := scn.Spawn(scene.SkinBinding{Joints: joints, InverseBindposes: reg.Insert(identityBindposes(2))})

	sk := NewSkinner()
	sk.Extract(scn, reg)

	_, ok := sk.CurrentOffset(id)
	assert.False(t, ok)
	// Only tail padding remains.
	assert.Equal(t, MaxJoints, sk.CurrentBuffer().Len())
}

func TestExtractSkipsHiddenInstance(t *testing.T) {
	scn := scene.NewScene("test")
	reg := loader.NewRegistry()

	joints := spawnJoints(scn, 2)
	id := scn.Spawn(scene.SkinBinding{Joints: joints, InverseBindposes: reg.Insert(identityBindposes(2))})
	scn.SetVisible(id, false)

	sk := NewSkinner()
	sk.Extract(scn, reg)

	_, ok := sk.CurrentOffset(id)
	assert.False(t, ok)
}

func TestExtractRetriesUnloadedBindposesNextFrame(t *testing.T) {
	scn := scene.NewScene("test")
	reg := loader.NewRegistry()

	h := reg.Reserve()
	joints := spawnJoints(scn, 2)
	id := scn.Spawn(scene.SkinBinding{Joints: joints, InverseBindposes: h})

	sk := NewSkinner()
	sk.Extract(scn, reg)
	_, ok := sk.CurrentOffset(id)
	assert.False(t, ok)

	// The asset arrives between frames; the next extract picks it up.
	reg.Fulfill(h, identityBindposes(2))
	sk.Extract(scn, reg)
	_, ok = sk.CurrentOffset(id)
	assert.True(t, ok)
}

func TestExtractEmptySceneStillPadsTail(t *testing.T) {
	scn := scene.NewScene("test")
	reg := loader.NewRegistry()

	sk := NewSkinner()
	sk.Extract(scn, reg)

	require.Equal(t, MaxJoints, sk.CurrentBuffer().Len())
	assert.Equal(t, [16]float32{}, sk.CurrentBuffer().At(0))
	assert.Equal(t, [16]float32{}, sk.CurrentBuffer().At(MaxJoints-1))
}

func TestExtractAppliesInverseBindpose(t *testing.T) {
	scn := scene.NewScene("test")
	reg := loader.NewRegistry()

	j := scn.SpawnJoint(0, scene.DefaultTransform())
	scn.SetJointWorld(j, translationMat(5, 0, 0))

	// The inverse bindpose undoes the rest pose, so world * bindpose is
	// identity when the joint sits exactly at its rest position.
	id := scn.Spawn(scene.SkinBinding{
		Joints:           []uint64{j},
		InverseBindposes: reg.Insert([][16]float32{translationMat(-5, 0, 0)}),
	})

	sk := NewSkinner()
	sk.Extract(scn, reg)

	_, ok := sk.CurrentOffset(id)
	require.True(t, ok)
	assert.Equal(t, identityMat(), sk.CurrentBuffer().At(0))
}

func TestDoubleBufferSwapAcrossFrames(t *testing.T) {
	scn := scene.NewScene("test")
	reg := loader.NewRegistry()

	j := scn.SpawnJoint(0, scene.DefaultTransform())
	scn.SetJointWorld(j, translationMat(1, 0, 0))
	id := scn.Spawn(scene.SkinBinding{Joints: []uint64{j}, InverseBindposes: reg.Insert(identityBindposes(1))})

	sk := NewSkinner()

	// Frame 1.
	sk.Extract(scn, reg)
	frame1Buffer := sk.CurrentBuffer()
	frame1Off, ok := sk.CurrentOffset(id)
	require.True(t, ok)
	assert.Equal(t, translationMat(1, 0, 0), frame1Buffer.At(0))

	// Frame 2 with a moved joint.
	scn.SetJointWorld(j, translationMat(2, 0, 0))
	sk.Extract(scn, reg)

	// The frame 1 buffer is now the prev buffer, contents intact.
	assert.Same(t, frame1Buffer, sk.PrevBuffer())
	assert.Equal(t, translationMat(1, 0, 0), sk.PrevBuffer().At(0))
	assert.Equal(t, translationMat(2, 0, 0), sk.CurrentBuffer().At(0))

	prevOff, ok := sk.PrevOffset(id)
	require.True(t, ok)
	assert.Equal(t, frame1Off, prevOff)

	// Frame 3: roles swap again, the frame 1 buffer is recycled as current.
	sk.Extract(scn, reg)
	assert.Same(t, frame1Buffer, sk.CurrentBuffer())
}

func TestPrevOffsetMissesForNewInstance(t *testing.T) {
	scn := scene.NewScene("test")
	reg := loader.NewRegistry()

	sk := NewSkinner()
	sk.Extract(scn, reg)

	joints := spawnJoints(scn, 1)
	id := scn.Spawn(scene.SkinBinding{Joints: joints, InverseBindposes: reg.Insert(identityBindposes(1))})
	sk.Extract(scn, reg)

	_, ok := sk.CurrentOffset(id)
	assert.True(t, ok)
	_, ok = sk.PrevOffset(id)
	assert.False(t, ok)
}

func TestMarkBatchingExemptionsOnlyInFallbackMode(t *testing.T) {
	// a packs normally, b is hidden, c's bindposes are still in flight.
	buildScene := func() (scene.Scene, loader.Registry, uint64, uint64, uint64) {
		scn := scene.NewScene("test")
		reg := loader.NewRegistry()
		jointsA := spawnJoints(scn, 2)
		a := scn.Spawn(scene.SkinBinding{Joints: jointsA, InverseBindposes: reg.Insert(identityBindposes(2))})
		jointsB := spawnJoints(scn, 2)
		b := scn.Spawn(scene.SkinBinding{Joints: jointsB, InverseBindposes: reg.Insert(identityBindposes(2))})
		scn.SetVisible(b, false)
		jointsC := spawnJoints(scn, 2)
		c := scn.Spawn(scene.SkinBinding{Joints: jointsC, InverseBindposes: reg.Reserve()})
		return scn, reg, a, b, c
	}

	// Storage mode: batching stays on.
	scn, reg, a, b, c := buildScene()
	sk := NewSkinner()
	sk.Extract(scn, reg)
	sk.MarkBatchingExemptions(scn)
	assert.False(t, scn.BatchingExempt(a))
	assert.False(t, scn.BatchingExempt(b))
	assert.False(t, scn.BatchingExempt(c))

	// Fallback mode: every skinned instance gets the exemption, packed or
	// not. An instance skipped this frame still needs its own dynamic
	// offset the moment it packs, so it must never join a batch.
	scn, reg, a, b, c = buildScene()
	sk = NewSkinner(WithLimits(uniformOnlyLimits()))
	sk.Extract(scn, reg)
	sk.MarkBatchingExemptions(scn)
	assert.True(t, scn.BatchingExempt(a))
	assert.True(t, scn.BatchingExempt(b))
	assert.True(t, scn.BatchingExempt(c))

	// c was skipped, not packed.
	_, ok := sk.CurrentOffset(c)
	assert.False(t, ok)
}

func TestCapabilityComputesOnce(t *testing.T) {
	c := &Capability{}
	assert.True(t, c.UsesUniformBuffers(uniformOnlyLimits()))

	// Later calls ignore their argument; the first answer sticks.
	assert.True(t, c.UsesUniformBuffers(wgpu.DefaultLimits()))

	c2 := &Capability{}
	assert.False(t, c2.UsesUniformBuffers(wgpu.DefaultLimits()))
	assert.False(t, c2.UsesUniformBuffers(uniformOnlyLimits()))
}

func TestSkinIndexUnits(t *testing.T) {
	idx := NewSkinIndex(3)
	assert.Equal(t, uint32(192), idx.ByteOffset)
	assert.Equal(t, uint32(3), idx.Index())

	assert.Zero(t, NewSkinIndex(0).ByteOffset)
}

func TestBindGroupLayoutDescriptorModes(t *testing.T) {
	storage := BindGroupLayoutDescriptor(false)
	require.Len(t, storage.Entries, 1)
	assert.Equal(t, wgpu.BufferBindingTypeReadOnlyStorage, storage.Entries[0].Buffer.Type)
	assert.False(t, storage.Entries[0].Buffer.HasDynamicOffset)

	uniform := BindGroupLayoutDescriptor(true)
	require.Len(t, uniform.Entries, 1)
	assert.Equal(t, wgpu.BufferBindingTypeUniform, uniform.Entries[0].Buffer.Type)
	assert.True(t, uniform.Entries[0].Buffer.HasDynamicOffset)
	assert.Equal(t, uint64(MaxJoints*MatrixByteSize), uniform.Entries[0].Buffer.MinBindingSize)
}
