package common

import (
	"unsafe"
)

// Identity resets a 4x4 matrix (flat slice) to the identity matrix.
// The matrix is stored in column-major order.
//
// Parameters:
//   - m: destination slice (must be at least 16 elements)
func Identity(m []float32) {
	for i := range m {
		m[i] = 0
	}
	m[0], m[5], m[10], m[15] = 1, 1, 1, 1
}

// IdentityMat4 returns a fresh 4x4 identity matrix in column-major order.
//
// Returns:
//   - [16]float32: the identity matrix
func IdentityMat4() [16]float32 {
	var m [16]float32
	Identity(m[:])
	return m
}

// SliceToBytes converts any slice to a byte slice for GPU buffer uploads.
// Uses unsafe pointer operations to create a view into the original data.
// WARNING: The returned slice shares memory with the input - do not modify.
//
// Parameters:
//   - data: source slice of any type
//
// Returns:
//   - []byte: byte slice view of the input data, or nil if input is empty
func SliceToBytes[T any](data []T) []byte {
	if len(data) == 0 {
		return nil
	}
	var zero T
	size := unsafe.Sizeof(zero)
	totalBytes := int(size) * len(data)
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), totalBytes)
}

// StructToBytes reinterprets a pointer to a struct as a raw byte slice using unsafe.
// The returned slice has length equal to the struct's size in memory.
//
// Parameters:
//   - v: pointer to the struct to reinterpret
//
// Returns:
//   - []byte: byte slice view of the struct's memory
func StructToBytes[T any](v *T) []byte {
	size := unsafe.Sizeof(*v)
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), int(size))
}

// Mul4 multiplies two 4x4 matrices and stores the result in out.
// All matrices are stored in column-major order (OpenGL/WebGPU convention).
// Result: out = a * b
//
// Parameters:
//   - out: destination slice (must be at least 16 elements)
//   - a: left-hand matrix (16 elements)
//   - b: right-hand matrix (16 elements)
func Mul4(out, a, b []float32) {
	var buf [16]float32
	for i := 0; i < 4; i++ { // column of B
		for j := 0; j < 4; j++ { // row of A
			sum := float32(0)
			for k := 0; k < 4; k++ {
				sum += a[k*4+j] * b[i*4+k]
			}
			buf[i*4+j] = sum
		}
	}
	copy(out, buf[:])
}

// ComposeTRS builds a 4x4 transform from translation, rotation, and scale.
// The rotation is a unit quaternion in (x, y, z, w) order, matching the glTF
// node convention. The result is column-major: out = T * R * S.
//
// Parameters:
//   - out: destination slice (must be at least 16 elements)
//   - translation: (x, y, z) translation
//   - rotation: unit quaternion (x, y, z, w)
//   - scale: (x, y, z) per-axis scale
func ComposeTRS(out []float32, translation [3]float32, rotation [4]float32, scale [3]float32) {
	x, y, z, w := rotation[0], rotation[1], rotation[2], rotation[3]

	xx, yy, zz := x*x, y*y, z*z
	xy, xz, yz := x*y, x*z, y*z
	wx, wy, wz := w*x, w*y, w*z

	sx, sy, sz := scale[0], scale[1], scale[2]

	// Column 0 (rotation basis X scaled by sx)
	out[0] = (1 - 2*(yy+zz)) * sx
	out[1] = 2 * (xy + wz) * sx
	out[2] = 2 * (xz - wy) * sx
	out[3] = 0

	// Column 1
	out[4] = 2 * (xy - wz) * sy
	out[5] = (1 - 2*(xx+zz)) * sy
	out[6] = 2 * (yz + wx) * sy
	out[7] = 0

	// Column 2
	out[8] = 2 * (xz + wy) * sz
	out[9] = 2 * (yz - wx) * sz
	out[10] = (1 - 2*(xx+yy)) * sz
	out[11] = 0

	// Column 3 (translation)
	out[12] = translation[0]
	out[13] = translation[1]
	out[14] = translation[2]
	out[15] = 1
}
