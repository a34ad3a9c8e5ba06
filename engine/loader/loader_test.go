package loader

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildGLTFWithBindposes builds a minimal glTF 2.0 JSON document containing a
// single skin whose inverse bind matrices are embedded as a base64 data URI.
func buildGLTFWithBindposes(t *testing.T, matrices [][16]float32) string {
	t.Helper()

	var buf bytes.Buffer
	for _, m := range matrices {
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, m))
	}
	encoded := base64.StdEncoding.EncodeToString(buf.Bytes())

	joints := ""
	for i := range matrices {
		if i > 0 {
			joints += ","
		}
		joints += fmt.Sprintf("%d", i)
	}

	return fmt.Sprintf(`{
		"asset": {"version": "2.0"},
		"buffers": [{"byteLength": %d, "uri": "data:application/octet-stream;base64,%s"}],
		"bufferViews": [{"buffer": 0, "byteOffset": 0, "byteLength": %d}],
		"accessors": [{"bufferView": 0, "componentType": 5126, "count": %d, "type": "MAT4"}],
		"skins": [{"inverseBindMatrices": 0, "joints": [%s]}]
	}`, buf.Len(), encoded, buf.Len(), len(matrices), joints)
}

func identityMatrix() [16]float32 {
	return [16]float32{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}
}

func TestRegistryLoadFile(t *testing.T) {
	want := [][16]float32{identityMatrix(), identityMatrix()}
	want[1][12] = 3.5 // translate the second bindpose so order is observable

	doc := buildGLTFWithBindposes(t, want)
	path := filepath.Join(t.TempDir(), "skinned.gltf")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	reg := NewRegistry()
	h, err := reg.LoadFile(path, 0)
	require.NoError(t, err)
	require.NotZero(t, h)

	got, ok := reg.Get(h)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestRegistryLoadFileSkinIndexOutOfRange(t *testing.T) {
	doc := buildGLTFWithBindposes(t, [][16]float32{identityMatrix()})
	path := filepath.Join(t.TempDir(), "skinned.gltf")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	reg := NewRegistry()
	_, err := reg.LoadFile(path, 3)
	assert.Error(t, err)
}

func TestRegistryLoadReader(t *testing.T) {
	want := [][16]float32{identityMatrix()}
	doc := buildGLTFWithBindposes(t, want)

	reg := NewRegistry()
	h, err := reg.LoadReader(bytes.NewReader([]byte(doc)), false, 0)
	require.NoError(t, err)

	got, ok := reg.Get(h)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestRegistryMissingInverseBindMatricesDefaultsToIdentity(t *testing.T) {
	doc := `{
		"asset": {"version": "2.0"},
		"skins": [{"joints": [0, 1, 2]}]
	}`

	reg := NewRegistry()
	h, err := reg.LoadReader(bytes.NewReader([]byte(doc)), false, 0)
	require.NoError(t, err)

	got, ok := reg.Get(h)
	require.True(t, ok)
	require.Len(t, got, 3)
	for _, m := range got {
		assert.Equal(t, identityMatrix(), m)
	}
}

func TestRegistryReserveFulfill(t *testing.T) {
	reg := NewRegistry()

	h := reg.Reserve()
	require.NotZero(t, h)

	// Reserved but unfulfilled handles resolve to a miss.
	_, ok := reg.Get(h)
	assert.False(t, ok)
	assert.Zero(t, reg.Len())

	want := [][16]float32{identityMatrix()}
	reg.Fulfill(h, want)

	got, ok := reg.Get(h)
	require.True(t, ok)
	assert.Equal(t, want, got)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistryFulfillUnknownHandleIsNoOp(t *testing.T) {
	reg := NewRegistry()
	reg.Fulfill(Handle(42), [][16]float32{identityMatrix()})
	assert.Zero(t, reg.Len())

	_, ok := reg.Get(Handle(42))
	assert.False(t, ok)
}

func TestRegistryLoadFileAsync(t *testing.T) {
	want := [][16]float32{identityMatrix(), identityMatrix()}
	doc := buildGLTFWithBindposes(t, want)
	path := filepath.Join(t.TempDir(), "skinned.gltf")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	reg := NewRegistry()
	h := reg.LoadFileAsync(path, 0)
	require.NotZero(t, h)

	deadline := time.Now().Add(5 * time.Second)
	for {
		if got, ok := reg.Get(h); ok {
			assert.Equal(t, want, got)
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("async load did not fulfill handle in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRegistryLoadFileAsyncFailureLeavesHandleUnfulfilled(t *testing.T) {
	reg := NewRegistry()
	h := reg.LoadFileAsync(filepath.Join(t.TempDir(), "missing.gltf"), 0)

	time.Sleep(50 * time.Millisecond)
	_, ok := reg.Get(h)
	assert.False(t, ok)
}

func TestRegistryWithBindposesOption(t *testing.T) {
	want := [][16]float32{identityMatrix()}
	reg := NewRegistry(WithBindposes(want))

	got, ok := reg.Get(Handle(1))
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestParserRejectsBadVersion(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.LoadReader(bytes.NewReader([]byte(`{"asset": {"version": "1.0"}}`)), false, 0)
	assert.ErrorIs(t, err, errInvalidGLTFVersion)
}

func TestParserGLBRoundTrip(t *testing.T) {
	want := [][16]float32{identityMatrix()}

	var bin bytes.Buffer
	require.NoError(t, binary.Write(&bin, binary.LittleEndian, want[0]))

	jsonChunk := []byte(fmt.Sprintf(`{
		"asset": {"version": "2.0"},
		"buffers": [{"byteLength": %d}],
		"bufferViews": [{"buffer": 0, "byteOffset": 0, "byteLength": %d}],
		"accessors": [{"bufferView": 0, "componentType": 5126, "count": 1, "type": "MAT4"}],
		"skins": [{"inverseBindMatrices": 0, "joints": [0]}]
	}`, bin.Len(), bin.Len()))
	// GLB JSON chunks are padded to 4-byte alignment with spaces.
	for len(jsonChunk)%4 != 0 {
		jsonChunk = append(jsonChunk, ' ')
	}
	binChunk := bin.Bytes()
	for len(binChunk)%4 != 0 {
		binChunk = append(binChunk, 0)
	}

	var glb bytes.Buffer
	total := uint32(12 + 8 + len(jsonChunk) + 8 + len(binChunk))
	require.NoError(t, binary.Write(&glb, binary.LittleEndian, gltfGLBHeader{
		Magic:   gltfGLBMagic,
		Version: gltfGLBVersion,
		Length:  total,
	}))
	require.NoError(t, binary.Write(&glb, binary.LittleEndian, gltfGLBChunkHeader{
		ChunkLength: uint32(len(jsonChunk)),
		ChunkType:   gltfGLBChunkJSON,
	}))
	glb.Write(jsonChunk)
	require.NoError(t, binary.Write(&glb, binary.LittleEndian, gltfGLBChunkHeader{
		ChunkLength: uint32(len(binChunk)),
		ChunkType:   gltfGLBChunkBIN,
	}))
	glb.Write(binChunk)

	reg := NewRegistry()
	h, err := reg.LoadReader(bytes.NewReader(glb.Bytes()), true, 0)
	require.NoError(t, err)

	got, ok := reg.Get(h)
	require.True(t, ok)
	assert.Equal(t, want, got)
}
