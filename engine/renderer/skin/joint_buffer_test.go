package skin

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJointBufferStagingOps(t *testing.T) {
	b := NewJointBuffer("test")
	assert.Equal(t, "test", b.Label())
	assert.Zero(t, b.Len())
	assert.Zero(t, b.ByteLen())

	m := translationMat(1, 2, 3)
	b.Push(m)
	b.Push(identityMat())
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, uint64(2*MatrixByteSize), b.ByteLen())
	assert.Equal(t, m, b.At(0))
	assert.Len(t, b.Matrices(), 2)

	b.Truncate(1)
	assert.Equal(t, 1, b.Len())
	assert.Equal(t, m, b.At(0))

	// Truncate beyond length is a no-op.
	b.Truncate(5)
	assert.Equal(t, 1, b.Len())

	b.Clear()
	assert.Zero(t, b.Len())
	assert.Nil(t, b.GPUBuffer())
}
