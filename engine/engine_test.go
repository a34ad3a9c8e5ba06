package engine

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-skin/engine/loader"
	"github.com/Carmen-Shannon/oxy-skin/engine/renderer/skin"
	"github.com/Carmen-Shannon/oxy-skin/engine/scene"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identityBindposes(n int) [][16]float32 {
	bp := make([][16]float32, n)
	for i := range bp {
		bp[i] = [16]float32{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}
	}
	return bp
}

func TestNewEngineDefaults(t *testing.T) {
	e := NewEngine()
	assert.NotNil(t, e.Scene())
	assert.NotNil(t, e.Skinner())
	assert.NotNil(t, e.Bindposes())
	assert.Nil(t, e.Window())
	assert.Nil(t, e.Renderer())
}

func TestRunFramePropagatesBeforeExtraction(t *testing.T) {
	scn := scene.NewScene("test")
	reg := loader.NewRegistry()

	rootLocal := scene.DefaultTransform()
	rootLocal.Translation = [3]float32{1, 0, 0}
	root := scn.SpawnJoint(0, rootLocal)

	childLocal := scene.DefaultTransform()
	childLocal.Translation = [3]float32{0, 1, 0}
	child := scn.SpawnJoint(root, childLocal)

	id := scn.Spawn(scene.SkinBinding{
		Joints:           []uint64{root, child},
		InverseBindposes: reg.Insert(identityBindposes(2)),
	})

	e := NewEngine(WithScene(scn), WithBindposeRegistry(reg))
	require.NoError(t, e.RunFrame(1.0/60))

	// Extraction saw propagated world transforms, so the child's matrix
	// carries the accumulated translation.
	off, ok := e.Skinner().CurrentOffset(id)
	require.True(t, ok)
	childMat := e.Skinner().CurrentBuffer().At(int(off.Index()) + 1)
	assert.Equal(t, float32(1), childMat[12])
	assert.Equal(t, float32(1), childMat[13])
}

func TestRunFrameSwapsDoubleBuffer(t *testing.T) {
	scn := scene.NewScene("test")
	reg := loader.NewRegistry()

	j := scn.SpawnJoint(0, scene.DefaultTransform())
	id := scn.Spawn(scene.SkinBinding{
		Joints:           []uint64{j},
		InverseBindposes: reg.Insert(identityBindposes(1)),
	})

	e := NewEngine(WithScene(scn), WithBindposeRegistry(reg))

	require.NoError(t, e.RunFrame(1.0/60))
	_, ok := e.Skinner().PrevOffset(id)
	assert.False(t, ok)

	require.NoError(t, e.RunFrame(1.0/60))
	_, ok = e.Skinner().PrevOffset(id)
	assert.True(t, ok)
}

func TestRunFrameMarksExemptionsInFallbackMode(t *testing.T) {
	scn := scene.NewScene("test")
	reg := loader.NewRegistry()

	j := scn.SpawnJoint(0, scene.DefaultTransform())
	id := scn.Spawn(scene.SkinBinding{
		Joints:           []uint64{j},
		InverseBindposes: reg.Insert(identityBindposes(1)),
	})

	e := NewEngine(
		WithScene(scn),
		WithBindposeRegistry(reg),
		WithSkinner(skin.NewSkinner(skin.WithLimits(wgpu.Limits{}))),
	)

	require.NoError(t, e.RunFrame(1.0/60))
	assert.True(t, scn.BatchingExempt(id))
}

func TestQuitHeadlessIsNoOp(t *testing.T) {
	e := NewEngine()
	e.Quit()
}
