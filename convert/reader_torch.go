package convert

import (
	"fmt"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"

	"github.com/ollama/gradtts/ml"
)

// parseTorch reads a pickled state dict. Checkpoints that wrap the state dict
// under "state_dict" or "model" are unwrapped.
func parseTorch(path string) ([]Tensor, error) {
	pt, err := pytorch.Load(path)
	if err != nil {
		return nil, err
	}

	for _, key := range []string{"state_dict", "model"} {
		if inner, ok := lookup(pt, key); ok {
			pt = inner
			break
		}
	}

	var ts []Tensor
	err = each(pt, func(k, v any) error {
		name, ok := k.(string)
		if !ok {
			return nil
		}

		t, ok := v.(*pytorch.Tensor)
		if !ok {
			return nil
		}

		values, err := torchValues(t)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}

		ts = append(ts, Tensor{Name: name, Tensor: ml.New(values, t.Size...)})
		return nil
	})

	return ts, err
}

func lookup(pt any, key string) (any, bool) {
	switch d := pt.(type) {
	case *types.Dict:
		return d.Get(key)
	case *types.OrderedDict:
		return d.Get(key)
	}

	return nil, false
}

func each(pt any, fn func(k, v any) error) error {
	switch d := pt.(type) {
	case *types.Dict:
		for _, k := range d.Keys() {
			if err := fn(k, d.MustGet(k)); err != nil {
				return err
			}
		}
	case *types.OrderedDict:
		for e := d.List.Front(); e != nil; e = e.Next() {
			entry := e.Value.(*types.OrderedDictEntry)
			if err := fn(entry.Key, entry.Value); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unsupported checkpoint root %T", pt)
	}

	return nil
}

// torchValues gathers the logical elements of t in row-major order,
// following its strides into the shared storage.
func torchValues(t *pytorch.Tensor) ([]float64, error) {
	var get func(int) float64
	switch s := t.Source.(type) {
	case *pytorch.FloatStorage:
		get = func(i int) float64 { return float64(s.Data[i]) }
	case *pytorch.HalfStorage:
		get = func(i int) float64 { return float64(s.Data[i]) }
	case *pytorch.DoubleStorage:
		get = func(i int) float64 { return s.Data[i] }
	default:
		return nil, fmt.Errorf("unsupported storage %T", s)
	}

	n := 1
	for _, d := range t.Size {
		n *= d
	}

	values := make([]float64, n)
	idx := make([]int, len(t.Size))
	for i := range values {
		off := t.StorageOffset
		for d, k := range idx {
			off += k * t.Stride[d]
		}
		values[i] = get(off)

		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < t.Size[d] {
				break
			}
			idx[d] = 0
		}
	}

	return values, nil
}
