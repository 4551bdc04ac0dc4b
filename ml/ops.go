// ops.go - Elementweise Operationen mit Broadcasting
// Dieses Modul enthaelt:
// - Add, Sub, Mul, Div mit NumPy-artigem Broadcasting
// - Skalar-Operationen (Scale, AddScalar)
// - Apply sowie Reduktionen (Sum, SumSquares, Max)
package ml

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
)

// Add returns a + b with broadcasting.
func Add(a, b *Tensor) *Tensor {
	return binary(a, b, floats.AddTo, func(x, y float64) float64 { return x + y })
}

// Sub returns a - b with broadcasting.
func Sub(a, b *Tensor) *Tensor {
	return binary(a, b, floats.SubTo, func(x, y float64) float64 { return x - y })
}

// Mul returns the elementwise product of a and b with broadcasting.
func Mul(a, b *Tensor) *Tensor {
	return binary(a, b, floats.MulTo, func(x, y float64) float64 { return x * y })
}

// Div returns a / b with broadcasting.
func Div(a, b *Tensor) *Tensor {
	return binary(a, b, floats.DivTo, func(x, y float64) float64 { return x / y })
}

func Scale(t *Tensor, s float64) *Tensor {
	out := Zeros(t.shape...)
	floats.ScaleTo(out.data, s, t.data)
	return out
}

func AddScalar(t *Tensor, s float64) *Tensor {
	out := t.Clone()
	floats.AddConst(s, out.data)
	return out
}

// Apply maps fn over every element.
func Apply(t *Tensor, fn func(float64) float64) *Tensor {
	out := Zeros(t.shape...)
	for i, v := range t.data {
		out.data[i] = fn(v)
	}

	return out
}

func Exp(t *Tensor) *Tensor  { return Apply(t, math.Exp) }
func Sqrt(t *Tensor) *Tensor { return Apply(t, math.Sqrt) }

func Sum(t *Tensor) float64 {
	return floats.Sum(t.data)
}

func SumSquares(t *Tensor) float64 {
	return floats.Dot(t.data, t.data)
}

// MaxAbs returns the largest absolute element, 0 for empty tensors.
func MaxAbs(t *Tensor) float64 {
	var m float64
	for _, v := range t.data {
		m = max(m, math.Abs(v))
	}

	return m
}

// BroadcastShape returns the shape two operands broadcast to. It panics if
// the shapes are incompatible.
func BroadcastShape(a, b []int) []int {
	n := max(len(a), len(b))
	out := make([]int, n)
	for i := range n {
		da, db := 1, 1
		if j := len(a) - n + i; j >= 0 {
			da = a[j]
		}
		if j := len(b) - n + i; j >= 0 {
			db = b[j]
		}

		switch {
		case da == db:
			out[i] = da
		case da == 1:
			out[i] = db
		case db == 1:
			out[i] = da
		default:
			panic(fmt.Sprintf("ml: shapes %v and %v cannot be broadcast", a, b))
		}
	}

	return out
}

// broadcastStrides returns element strides of shape aligned to target, with
// zero strides along broadcast axes.
func broadcastStrides(shape, target []int) []int {
	strides := make([]int, len(target))
	stride := 1
	for i := len(target) - 1; i >= 0; i-- {
		j := len(shape) - len(target) + i
		if j < 0 {
			continue
		}

		if shape[j] != 1 {
			strides[i] = stride
		}
		stride *= shape[j]
	}

	return strides
}

func binary(a, b *Tensor, fast func(dst, s, t []float64) []float64, op func(x, y float64) float64) *Tensor {
	if slices.Equal(a.shape, b.shape) {
		out := Zeros(a.shape...)
		fast(out.data, a.data, b.data)
		return out
	}

	shape := BroadcastShape(a.shape, b.shape)
	out := Zeros(shape...)
	if len(out.data) == 0 {
		return out
	}

	sa, sb := broadcastStrides(a.shape, shape), broadcastStrides(b.shape, shape)
	idx := make([]int, len(shape))
	ia, ib := 0, 0
	for i := range out.data {
		out.data[i] = op(a.data[ia], b.data[ib])
		for d := len(shape) - 1; d >= 0; d-- {
			idx[d]++
			ia += sa[d]
			ib += sb[d]
			if idx[d] < shape[d] {
				break
			}

			ia -= sa[d] * shape[d]
			ib -= sb[d] * shape[d]
			idx[d] = 0
		}
	}

	return out
}
