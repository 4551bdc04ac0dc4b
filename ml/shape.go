// shape.go - Formoperationen entlang einer Achse
// Dieses Modul enthaelt Concat, Narrow, Stride, Place und ReplicatePad.
// Alle Funktionen kopieren; Eingaben bleiben unveraendert.
package ml

import (
	"fmt"
	"slices"
)

// split views a shape as [outer, shape[axis], inner].
func split(shape []int, axis int) (outer, n, inner int) {
	return mul(shape[:axis]...), shape[axis], mul(shape[axis+1:]...)
}

// Concat joins tensors along axis. All other dimensions must match.
func Concat(axis int, ts ...*Tensor) *Tensor {
	if len(ts) == 0 {
		panic("ml: concat of zero tensors")
	}

	axis = ts[0].axis(axis)
	shape := ts[0].Shape()
	shape[axis] = 0
	for _, t := range ts {
		if len(t.shape) != len(shape) {
			panic(fmt.Sprintf("ml: concat rank mismatch %v", t.shape))
		}
		for i := range shape {
			if i != axis && t.shape[i] != ts[0].shape[i] {
				panic(fmt.Sprintf("ml: concat shape mismatch %v and %v", ts[0].shape, t.shape))
			}
		}
		shape[axis] += t.shape[axis]
	}

	out := Zeros(shape...)
	outer, total, inner := split(shape, axis)
	pos := 0
	for _, t := range ts {
		_, n, _ := split(t.shape, axis)
		for o := range outer {
			copy(out.data[(o*total+pos)*inner:(o*total+pos+n)*inner], t.data[o*n*inner:(o+1)*n*inner])
		}
		pos += n
	}

	return out
}

// Narrow copies length elements of axis starting at start.
func Narrow(t *Tensor, axis, start, length int) *Tensor {
	axis = t.axis(axis)
	if start < 0 || length < 0 || start+length > t.shape[axis] {
		panic(fmt.Sprintf("ml: narrow [%d:%d] out of range for axis %d of %v", start, start+length, axis, t.shape))
	}

	shape := t.Shape()
	shape[axis] = length
	out := Zeros(shape...)
	outer, n, inner := split(t.shape, axis)
	for o := range outer {
		copy(out.data[o*length*inner:(o+1)*length*inner], t.data[(o*n+start)*inner:(o*n+start+length)*inner])
	}

	return out
}

// Stride keeps every step-th element of axis, starting at 0. The result has
// ceil(n/step) entries along axis.
func Stride(t *Tensor, axis, step int) *Tensor {
	axis = t.axis(axis)
	if step < 1 {
		panic(fmt.Sprintf("ml: invalid stride %d", step))
	}

	outer, n, inner := split(t.shape, axis)
	m := (n + step - 1) / step
	shape := t.Shape()
	shape[axis] = m
	out := Zeros(shape...)
	for o := range outer {
		for i := range m {
			copy(out.data[(o*m+i)*inner:(o*m+i+1)*inner], t.data[(o*n+i*step)*inner:(o*n+i*step+1)*inner])
		}
	}

	return out
}

// Place returns a copy of dst with src written along axis starting at start.
// All other dimensions must match.
func Place(dst, src *Tensor, axis, start int) *Tensor {
	axis = dst.axis(axis)
	if len(src.shape) != len(dst.shape) {
		panic(fmt.Sprintf("ml: place rank mismatch %v into %v", src.shape, dst.shape))
	}

	for i := range dst.shape {
		if i != axis && src.shape[i] != dst.shape[i] {
			panic(fmt.Sprintf("ml: place shape mismatch %v into %v", src.shape, dst.shape))
		}
	}

	outer, n, inner := split(dst.shape, axis)
	m := src.shape[axis]
	if start < 0 || start+m > n {
		panic(fmt.Sprintf("ml: place [%d:%d] out of range for axis %d of %v", start, start+m, axis, dst.shape))
	}

	out := dst.Clone()
	for o := range outer {
		copy(out.data[(o*n+start)*inner:(o*n+start+m)*inner], src.data[o*m*inner:(o+1)*m*inner])
	}

	return out
}

// ReplicatePad extends axis by repeating its first and last entries.
func ReplicatePad(t *Tensor, axis, before, after int) *Tensor {
	axis = t.axis(axis)
	outer, n, inner := split(t.shape, axis)
	if n == 0 {
		panic(fmt.Sprintf("ml: cannot replicate pad empty axis %d of %v", axis, t.shape))
	}

	m := n + before + after
	shape := t.Shape()
	shape[axis] = m
	out := Zeros(shape...)
	for o := range outer {
		for i := range m {
			j := min(max(i-before, 0), n-1)
			copy(out.data[(o*m+i)*inner:(o*m+i+1)*inner], t.data[(o*n+j)*inner:(o*n+j+1)*inner])
		}
	}

	return out
}

// Expand broadcasts t to shape by copying.
func Expand(t *Tensor, shape ...int) *Tensor {
	if !slices.Equal(BroadcastShape(t.shape, shape), shape) {
		panic(fmt.Sprintf("ml: cannot expand %v to %v", t.shape, shape))
	}

	return Add(t, Zeros(shape...))
}
