package loader

import (
	"fmt"
	"io"
	"log"
	"sync"
)

// Handle identifies an inverse-bindpose set in a Registry.
// The zero Handle is never issued and always resolves to "not loaded".
type Handle uint64

// registry is the implementation of the Registry interface.
type registry struct {
	mu sync.RWMutex

	bindposes  map[Handle][][16]float32
	nextHandle Handle
}

// Registry stores inverse-bindpose matrix sets keyed by opaque handles.
// Handles may be reserved before their data is available; consumers that
// resolve an unfulfilled handle simply get a miss and try again later,
// which is how in-flight asset loads degrade without blocking a frame.
type Registry interface {
	// Reserve allocates a handle with no data attached.
	// Get on a reserved handle reports not-loaded until Fulfill is called.
	//
	// Returns:
	//   - Handle: the reserved handle
	Reserve() Handle

	// Fulfill attaches inverse-bindpose data to a previously reserved handle.
	// Fulfilling an unknown handle is a no-op.
	//
	// Parameters:
	//   - h: the handle to fulfill
	//   - bindposes: the inverse bind matrices, one per joint, column-major
	Fulfill(h Handle, bindposes [][16]float32)

	// Insert stores inverse-bindpose data under a fresh handle.
	//
	// Parameters:
	//   - bindposes: the inverse bind matrices, one per joint, column-major
	//
	// Returns:
	//   - Handle: the handle for the stored data
	Insert(bindposes [][16]float32) Handle

	// Get resolves a handle to its inverse-bindpose data.
	//
	// Parameters:
	//   - h: the handle to resolve
	//
	// Returns:
	//   - [][16]float32: the matrices, or nil when not loaded
	//   - bool: true if the handle has been fulfilled
	Get(h Handle) ([][16]float32, bool)

	// LoadFile parses a glTF/GLB file and stores the inverse bind matrices
	// of the skin at the given index. Skins without an inverseBindMatrices
	// accessor get identity matrices, one per joint, per the glTF spec.
	//
	// Parameters:
	//   - path: path to the .gltf or .glb file
	//   - skinIndex: index into the document's skins array
	//
	// Returns:
	//   - Handle: the handle for the stored data
	//   - error: error if parsing or accessor reads fail
	LoadFile(path string, skinIndex int) (Handle, error)

	// LoadFileAsync reserves a handle immediately and fulfills it from a
	// background goroutine once the file has been parsed. Load failures are
	// logged and leave the handle unfulfilled.
	//
	// Parameters:
	//   - path: path to the .gltf or .glb file
	//   - skinIndex: index into the document's skins array
	//
	// Returns:
	//   - Handle: the reserved handle
	LoadFileAsync(path string, skinIndex int) Handle

	// LoadReader parses glTF data from a reader and stores the inverse bind
	// matrices of the skin at the given index.
	//
	// Parameters:
	//   - r: reader providing glTF JSON or GLB data
	//   - isGLB: true if the reader provides GLB binary data
	//   - skinIndex: index into the document's skins array
	//
	// Returns:
	//   - Handle: the handle for the stored data
	//   - error: error if parsing or accessor reads fail
	LoadReader(r io.Reader, isGLB bool, skinIndex int) (Handle, error)

	// Len reports the number of fulfilled entries.
	//
	// Returns:
	//   - int: the fulfilled entry count
	Len() int
}

var _ Registry = &registry{}

// NewRegistry creates a new Registry instance with the provided options applied.
//
// Parameters:
//   - options: functional options for registry configuration
//
// Returns:
//   - Registry: the newly created registry
func NewRegistry(options ...RegistryBuilderOption) Registry {
	r := &registry{
		bindposes: make(map[Handle][][16]float32),
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

func (r *registry) Reserve() Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reserveLocked()
}

// reserveLocked issues the next handle; callers must hold the write lock.
func (r *registry) reserveLocked() Handle {
	r.nextHandle++
	return r.nextHandle
}

func (r *registry) Fulfill(h Handle, bindposes [][16]float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h == 0 || h > r.nextHandle {
		return
	}
	r.bindposes[h] = bindposes
}

func (r *registry) Insert(bindposes [][16]float32) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.reserveLocked()
	r.bindposes[h] = bindposes
	return h
}

func (r *registry) Get(h Handle) ([][16]float32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bp, ok := r.bindposes[h]
	return bp, ok
}

func (r *registry) LoadFile(path string, skinIndex int) (Handle, error) {
	bp, err := readBindposes(func(p gltfParser) error { return p.Parse(path) }, skinIndex)
	if err != nil {
		return 0, fmt.Errorf("failed to load %q: %w", path, err)
	}
	return r.Insert(bp), nil
}

func (r *registry) LoadFileAsync(path string, skinIndex int) Handle {
	h := r.Reserve()
	go func() {
		bp, err := readBindposes(func(p gltfParser) error { return p.Parse(path) }, skinIndex)
		if err != nil {
			log.Printf("async bindpose load failed for %q: %v", path, err)
			return
		}
		r.Fulfill(h, bp)
	}()
	return h
}

func (r *registry) LoadReader(reader io.Reader, isGLB bool, skinIndex int) (Handle, error) {
	bp, err := readBindposes(func(p gltfParser) error { return p.ParseReader(reader, isGLB) }, skinIndex)
	if err != nil {
		return 0, fmt.Errorf("failed to load reader data: %w", err)
	}
	return r.Insert(bp), nil
}

func (r *registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindposes)
}

// readBindposes runs a parse step and extracts the inverse bind matrices of
// one skin from the resulting document.
func readBindposes(parse func(gltfParser) error, skinIndex int) ([][16]float32, error) {
	p := newGLTFParser()
	if err := parse(p); err != nil {
		return nil, err
	}

	doc := p.Document()
	if skinIndex < 0 || skinIndex >= len(doc.Skins) {
		return nil, fmt.Errorf("skin index %d out of range (%d skins)", skinIndex, len(doc.Skins))
	}
	skin := &doc.Skins[skinIndex]

	if skin.InverseBindMatrices == nil {
		// glTF spec: absent inverseBindMatrices means identity per joint.
		bp := make([][16]float32, len(skin.Joints))
		for i := range bp {
			bp[i] = [16]float32{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}
		}
		return bp, nil
	}

	bp, err := p.ReadMat4Accessor(*skin.InverseBindMatrices)
	if err != nil {
		return nil, fmt.Errorf("failed to read inverse bind matrices: %w", err)
	}
	return bp, nil
}
