// tensor.go - Dichte Tensoren fuer die CPU-Inferenz
// Dieses Modul enthaelt:
// - Tensor: zusammenhaengender float64-Speicher mit Shape (row-major)
// - Konstruktoren (New, Zeros, Ones, Full, FromFloat32s)
// - Views ohne Kopie (Reshape, Unsqueeze, Squeeze)
package ml

import (
	"fmt"
	"slices"
)

// Tensor is a dense, row-major float64 array. The last axis is contiguous.
// Operations never mutate their inputs unless the method name says so.
type Tensor struct {
	shape []int
	data  []float64
}

// New wraps data without copying. It panics if len(data) does not match shape.
func New(data []float64, shape ...int) *Tensor {
	if n := mul(shape...); n != len(data) {
		panic(fmt.Sprintf("ml: data length %d does not match shape %v", len(data), shape))
	}

	return &Tensor{shape: slices.Clone(shape), data: data}
}

func Zeros(shape ...int) *Tensor {
	for _, d := range shape {
		if d < 0 {
			panic(fmt.Sprintf("ml: negative dimension in shape %v", shape))
		}
	}

	return &Tensor{shape: slices.Clone(shape), data: make([]float64, mul(shape...))}
}

func Ones(shape ...int) *Tensor {
	return Full(1, shape...)
}

// Full returns a tensor with every element set to v.
func Full(v float64, shape ...int) *Tensor {
	t := Zeros(shape...)
	for i := range t.data {
		t.data[i] = v
	}

	return t
}

// FromFloat32s copies single precision values into a new tensor.
func FromFloat32s(data []float32, shape ...int) *Tensor {
	t := Zeros(shape...)
	if len(data) != len(t.data) {
		panic(fmt.Sprintf("ml: data length %d does not match shape %v", len(data), shape))
	}

	for i, v := range data {
		t.data[i] = float64(v)
	}

	return t
}

func (t *Tensor) Shape() []int {
	return slices.Clone(t.shape)
}

func (t *Tensor) Rank() int {
	return len(t.shape)
}

// Dim returns the size of axis n. Negative values count from the end.
func (t *Tensor) Dim(n int) int {
	return t.shape[t.axis(n)]
}

// Len returns the number of elements.
func (t *Tensor) Len() int {
	return len(t.data)
}

// Data returns the backing slice. Writes are visible to every view of t.
func (t *Tensor) Data() []float64 {
	return t.data
}

func (t *Tensor) Float32s() []float32 {
	s := make([]float32, len(t.data))
	for i, v := range t.data {
		s[i] = float32(v)
	}

	return s
}

func (t *Tensor) Clone() *Tensor {
	return &Tensor{shape: slices.Clone(t.shape), data: slices.Clone(t.data)}
}

// Reshape returns a view with a new shape. One dimension may be -1 and is
// inferred from the element count.
func (t *Tensor) Reshape(shape ...int) *Tensor {
	shape = slices.Clone(shape)
	infer := -1
	known := 1
	for i, d := range shape {
		if d == -1 {
			if infer >= 0 {
				panic("ml: only one dimension can be inferred")
			}
			infer = i
			continue
		}
		known *= d
	}

	if infer >= 0 {
		if known == 0 || len(t.data)%known != 0 {
			panic(fmt.Sprintf("ml: cannot reshape %v into %v", t.shape, shape))
		}
		shape[infer] = len(t.data) / known
	}

	if mul(shape...) != len(t.data) {
		panic(fmt.Sprintf("ml: cannot reshape %v into %v", t.shape, shape))
	}

	return &Tensor{shape: shape, data: t.data}
}

// Unsqueeze inserts a unit axis at position axis.
func (t *Tensor) Unsqueeze(axis int) *Tensor {
	if axis < 0 {
		axis += len(t.shape) + 1
	}

	if axis < 0 || axis > len(t.shape) {
		panic(fmt.Sprintf("ml: unsqueeze axis %d out of range for shape %v", axis, t.shape))
	}

	return &Tensor{shape: slices.Insert(slices.Clone(t.shape), axis, 1), data: t.data}
}

// Squeeze removes the unit axis at position axis.
func (t *Tensor) Squeeze(axis int) *Tensor {
	axis = t.axis(axis)
	if t.shape[axis] != 1 {
		panic(fmt.Sprintf("ml: cannot squeeze axis %d of shape %v", axis, t.shape))
	}

	return &Tensor{shape: slices.Delete(slices.Clone(t.shape), axis, axis+1), data: t.data}
}

func (t *Tensor) offset(idx []int) int {
	if len(idx) != len(t.shape) {
		panic(fmt.Sprintf("ml: index %v does not match shape %v", idx, t.shape))
	}

	off := 0
	for i, n := range idx {
		if n < 0 || n >= t.shape[i] {
			panic(fmt.Sprintf("ml: index %v out of range for shape %v", idx, t.shape))
		}
		off = off*t.shape[i] + n
	}

	return off
}

func (t *Tensor) At(idx ...int) float64 {
	return t.data[t.offset(idx)]
}

// Set writes v at idx in place.
func (t *Tensor) Set(v float64, idx ...int) {
	t.data[t.offset(idx)] = v
}

// Item returns the only element of a single element tensor.
func (t *Tensor) Item() float64 {
	if len(t.data) != 1 {
		panic(fmt.Sprintf("ml: item of tensor with shape %v", t.shape))
	}

	return t.data[0]
}

func (t *Tensor) String() string {
	return Dump(t, DumpWithPrecision(4))
}

func (t *Tensor) axis(n int) int {
	if n < 0 {
		n += len(t.shape)
	}

	if n < 0 || n >= len(t.shape) {
		panic(fmt.Sprintf("ml: axis %d out of range for shape %v", n, t.shape))
	}

	return n
}

// SameShape reports whether all tensors share one shape.
func SameShape(ts ...*Tensor) bool {
	for _, t := range ts[1:] {
		if !slices.Equal(ts[0].shape, t.shape) {
			return false
		}
	}

	return true
}
