// nn_ops.go - Rechenkerne fuer neuronale Netze
// Dieses Modul enthaelt:
// - Linear (Matrixprodukt via gonum/mat)
// - Conv2D ueber im2col und ConvTranspose2D ueber col2im
// - GroupNorm, Mish und Softmax entlang der letzten Achse
//
// Layout: Bilder sind [N, C, H, W]. Alle Faltungsgewichte sind
// [out, in, kh, kw], auch bei transponierten Faltungen.
package ml

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Linear computes x·wᵀ + b for x of shape [..., in] and w of shape [out, in].
// b may be nil.
func Linear(x, w, b *Tensor) *Tensor {
	if w.Rank() != 2 || x.Dim(-1) != w.shape[1] {
		panic(fmt.Sprintf("ml: linear input %v does not match weight %v", x.shape, w.shape))
	}

	in, out := w.shape[1], w.shape[0]
	rows := len(x.data) / in
	shape := x.Shape()
	shape[len(shape)-1] = out
	y := Zeros(shape...)
	if rows == 0 {
		return y
	}

	xm := mat.NewDense(rows, in, x.data)
	wm := mat.NewDense(out, in, w.data)
	ym := mat.NewDense(rows, out, y.data)
	ym.Mul(xm, wm.T())

	if b != nil {
		if b.Len() != out {
			panic(fmt.Sprintf("ml: linear bias %v does not match weight %v", b.shape, w.shape))
		}
		for r := range rows {
			floats.Add(y.data[r*out:(r+1)*out], b.data)
		}
	}

	return y
}

func convOutput(n, k, stride, pad int) int {
	return (n+2*pad-k)/stride + 1
}

// Conv2D applies a 2d convolution with square stride and zero padding.
// x is [N, Cin, H, W], w is [Cout, Cin, kh, kw] and b is [Cout] or nil.
func Conv2D(x, w, b *Tensor, stride, pad int) *Tensor {
	if x.Rank() != 4 || w.Rank() != 4 || x.shape[1] != w.shape[1] {
		panic(fmt.Sprintf("ml: conv2d input %v does not match weight %v", x.shape, w.shape))
	}

	n, cin, h, wd := x.shape[0], x.shape[1], x.shape[2], x.shape[3]
	cout, kh, kw := w.shape[0], w.shape[2], w.shape[3]
	oh, ow := convOutput(h, kh, stride, pad), convOutput(wd, kw, stride, pad)
	if oh <= 0 || ow <= 0 {
		panic(fmt.Sprintf("ml: conv2d kernel %v larger than padded input %v", w.shape, x.shape))
	}

	y := Zeros(n, cout, oh, ow)
	k := cin * kh * kw
	wm := mat.NewDense(cout, k, w.data)

	parallelFor(n, func(i int) {
		src := x.data[i*cin*h*wd : (i+1)*cin*h*wd]
		dst := y.data[i*cout*oh*ow : (i+1)*cout*oh*ow]

		cols := src
		if kh != 1 || kw != 1 || stride != 1 || pad != 0 {
			cols = im2col(src, cin, h, wd, kh, kw, stride, pad, oh, ow)
		}

		ym := mat.NewDense(cout, oh*ow, dst)
		ym.Mul(wm, mat.NewDense(k, oh*ow, cols))
	})

	if b != nil {
		addChannelBias(y, b)
	}

	return y
}

func im2col(src []float64, c, h, w, kh, kw, stride, pad, oh, ow int) []float64 {
	cols := make([]float64, c*kh*kw*oh*ow)
	for ci := range c {
		for ki := range kh {
			for kj := range kw {
				row := ((ci*kh+ki)*kw + kj) * oh * ow
				for oi := range oh {
					ii := oi*stride - pad + ki
					if ii < 0 || ii >= h {
						continue
					}
					for oj := range ow {
						jj := oj*stride - pad + kj
						if jj < 0 || jj >= w {
							continue
						}
						cols[row+oi*ow+oj] = src[(ci*h+ii)*w+jj]
					}
				}
			}
		}
	}

	return cols
}

// ConvTranspose2D applies a transposed 2d convolution. The output size is
// (H-1)*stride - 2*pad + kh. x is [N, Cin, H, W], w is [Cout, Cin, kh, kw].
func ConvTranspose2D(x, w, b *Tensor, stride, pad int) *Tensor {
	if x.Rank() != 4 || w.Rank() != 4 || x.shape[1] != w.shape[1] {
		panic(fmt.Sprintf("ml: conv_transpose2d input %v does not match weight %v", x.shape, w.shape))
	}

	n, cin, h, wd := x.shape[0], x.shape[1], x.shape[2], x.shape[3]
	cout, kh, kw := w.shape[0], w.shape[2], w.shape[3]
	oh, ow := (h-1)*stride-2*pad+kh, (wd-1)*stride-2*pad+kw
	if oh <= 0 || ow <= 0 {
		panic(fmt.Sprintf("ml: conv_transpose2d output for %v is empty", x.shape))
	}

	y := Zeros(n, cout, oh, ow)
	kk := kh * kw

	for i := range n {
		xm := mat.NewDense(cin, h*wd, x.data[i*cin*h*wd:(i+1)*cin*h*wd])
		parallelFor(cout, func(co int) {
			// cols[(ki,kj), p] = sum_ci w[co, ci, ki, kj] * x[ci, p]
			wm := mat.NewDense(cin, kk, w.data[co*cin*kk:(co+1)*cin*kk])
			var cols mat.Dense
			cols.Mul(wm.T(), xm)

			dst := y.data[(i*cout+co)*oh*ow : (i*cout+co+1)*oh*ow]
			for ki := range kh {
				for kj := range kw {
					row := cols.RawRowView(ki*kw + kj)
					for ii := range h {
						oi := ii*stride - pad + ki
						if oi < 0 || oi >= oh {
							continue
						}
						for jj := range wd {
							oj := jj*stride - pad + kj
							if oj < 0 || oj >= ow {
								continue
							}
							dst[oi*ow+oj] += row[ii*wd+jj]
						}
					}
				}
			}
		})
	}

	if b != nil {
		addChannelBias(y, b)
	}

	return y
}

func addChannelBias(y, b *Tensor) {
	c := y.shape[1]
	if b.Len() != c {
		panic(fmt.Sprintf("ml: bias %v does not match %d channels", b.shape, c))
	}

	plane := mul(y.shape[2:]...)
	for i := range y.shape[0] {
		for ci := range c {
			floats.AddConst(b.data[ci], y.data[(i*c+ci)*plane:(i*c+ci+1)*plane])
		}
	}
}

// GroupNorm normalises x of shape [N, C, ...] over groups of C/groups channels
// and all trailing axes, then applies the per-channel affine w and b.
func GroupNorm(x, w, b *Tensor, groups int, eps float64) *Tensor {
	n, c := x.shape[0], x.shape[1]
	if groups < 1 || c%groups != 0 {
		panic(fmt.Sprintf("ml: %d channels are not divisible into %d groups", c, groups))
	}

	if (w != nil && w.Len() != c) || (b != nil && b.Len() != c) {
		panic(fmt.Sprintf("ml: group norm affine parameters do not match %d channels", c))
	}

	plane := mul(x.shape[2:]...)
	per := c / groups
	size := per * plane
	y := Zeros(x.shape...)

	parallelFor(n*groups, func(j int) {
		i, g := j/groups, j%groups
		off := (i*c + g*per) * plane
		src := x.data[off : off+size]

		mean := floats.Sum(src) / float64(size)
		var variance float64
		for _, v := range src {
			d := v - mean
			variance += d * d
		}
		variance /= float64(size)
		inv := 1 / math.Sqrt(variance+eps)

		for k := range per {
			ci := g*per + k
			scale, shift := 1.0, 0.0
			if w != nil {
				scale = w.data[ci]
			}
			if b != nil {
				shift = b.data[ci]
			}

			for p := range plane {
				idx := off + k*plane + p
				y.data[idx] = (x.data[idx]-mean)*inv*scale + shift
			}
		}
	})

	return y
}

// Mish computes x·tanh(softplus(x)).
func Mish(x *Tensor) *Tensor {
	return Apply(x, mish)
}

func mish(v float64) float64 {
	// log1p(exp(-|v|)) + max(v, 0) avoids overflow for large v
	softplus := math.Log1p(math.Exp(-math.Abs(v))) + math.Max(v, 0)
	return v * math.Tanh(softplus)
}

// Softmax normalises the last axis of x in place.
func Softmax(x *Tensor) {
	n := x.Dim(-1)
	if n == 0 {
		return
	}

	for r := 0; r < len(x.data); r += n {
		softmax(x.data[r : r+n])
	}
}

func softmax(row []float64) {
	m := floats.Max(row)
	var sum float64
	for i, v := range row {
		row[i] = math.Exp(v - m)
		sum += row[i]
	}

	floats.Scale(1/sum, row)
}
