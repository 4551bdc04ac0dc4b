// Package safetensors liest und schreibt Tensor-Dateien im safetensors-Format.
//
// Dateiaufbau:
// - 8 Byte Header-Laenge (little endian)
// - JSON-Header: Name -> {dtype, shape, data_offsets} sowie "__metadata__"
// - Rohdaten, Offsets relativ zum Ende des Headers
//
// Unterstuetzte Datentypen: F64, F32, F16, BF16. Im Speicher liegen alle
// Tensoren als float64 vor.
package safetensors

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"

	"github.com/ollama/gradtts/fs"
	"github.com/ollama/gradtts/ml"
)

const metadataKey = "__metadata__"

// maxHeaderSize rejects corrupt length prefixes before allocating.
const maxHeaderSize = 100 << 20

var ErrInvalidFile = errors.New("invalid safetensors file")

type tensorInfo struct {
	DType   string   `json:"dtype"`
	Shape   []int    `json:"shape"`
	Offsets [2]int64 `json:"data_offsets"`
}

// ReadFile loads every tensor and the metadata of path into a Store.
func ReadFile(path string) (*ml.Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	s, err := Decode(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	return s, nil
}

// Decode reads a safetensors stream. Tensors keep their on-disk order.
func Decode(r io.Reader) (*ml.Store, error) {
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}

	if n == 0 || n > maxHeaderSize {
		return nil, fmt.Errorf("%w: header size %d", ErrInvalidFile, n)
	}

	header := make([]byte, n)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(header, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}

	kv := fs.KV{}
	if m, ok := raw[metadataKey]; ok {
		if err := json.Unmarshal(m, &kv); err != nil {
			return nil, fmt.Errorf("%w: metadata: %v", ErrInvalidFile, err)
		}
		delete(raw, metadataKey)
	}

	type entry struct {
		name string
		tensorInfo
	}

	entries := make([]entry, 0, len(raw))
	for name, msg := range raw {
		var info tensorInfo
		if err := json.Unmarshal(msg, &info); err != nil {
			return nil, fmt.Errorf("%w: tensor %q: %v", ErrInvalidFile, name, err)
		}
		entries = append(entries, entry{name: name, tensorInfo: info})
	}

	slices.SortFunc(entries, func(a, b entry) int {
		if c := a.Offsets[0] - b.Offsets[0]; c != 0 {
			if c < 0 {
				return -1
			}
			return 1
		}
		return strings.Compare(a.name, b.name)
	})

	s := ml.NewStore(kv)
	var pos int64
	for _, e := range entries {
		dtype, err := ml.ParseDType(e.DType)
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", e.name, err)
		}

		count := 1
		for _, d := range e.Shape {
			if d < 0 {
				return nil, fmt.Errorf("%w: tensor %q has shape %v", ErrInvalidFile, e.name, e.Shape)
			}
			count *= d
		}

		size := int64(count * dtype.Size())
		if e.Offsets[1]-e.Offsets[0] != size || e.Offsets[0] < pos {
			return nil, fmt.Errorf("%w: tensor %q has offsets %v for %d bytes", ErrInvalidFile, e.name, e.Offsets, size)
		}

		if skip := e.Offsets[0] - pos; skip > 0 {
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
			}
		}

		b := make([]byte, size)
		if _, err := io.ReadFull(r, b); err != nil {
			return nil, fmt.Errorf("%w: tensor %q: %v", ErrInvalidFile, e.name, err)
		}
		pos = e.Offsets[1]

		s.Set(e.name, ml.New(decodeValues(dtype, b), e.Shape...))
	}

	return s, nil
}

func decodeValues(dtype ml.DType, b []byte) []float64 {
	var values []float64
	switch dtype {
	case ml.DTypeF64:
		values = make([]float64, len(b)/8)
		for i := range values {
			values[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
		}
	case ml.DTypeF32:
		values = make([]float64, len(b)/4)
		for i := range values {
			values[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:])))
		}
	case ml.DTypeF16:
		values = make([]float64, len(b)/2)
		for i := range values {
			values[i] = float64(float16.Frombits(binary.LittleEndian.Uint16(b[i*2:])).Float32())
		}
	case ml.DTypeBF16:
		f32s := bfloat16.DecodeFloat32(b)
		values = make([]float64, len(f32s))
		for i, v := range f32s {
			values[i] = float64(v)
		}
	}

	return values
}

func encodeValues(dtype ml.DType, values []float64) []byte {
	b := make([]byte, len(values)*dtype.Size())
	switch dtype {
	case ml.DTypeF64:
		for i, v := range values {
			binary.LittleEndian.PutUint64(b[i*8:], math.Float64bits(v))
		}
	case ml.DTypeF32:
		for i, v := range values {
			binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(float32(v)))
		}
	case ml.DTypeF16:
		for i, v := range values {
			binary.LittleEndian.PutUint16(b[i*2:], float16.Fromfloat32(float32(v)).Bits())
		}
	case ml.DTypeBF16:
		f32s := make([]float32, len(values))
		for i, v := range values {
			f32s[i] = float32(v)
		}
		b = bfloat16.EncodeFloat32(f32s)
	}

	return b
}

// Encode writes every tensor of b in storage order using dtype.
func Encode(w io.Writer, b ml.Backend, kv fs.KV, dtype ml.DType) error {
	if dtype.Size() == 0 {
		return fmt.Errorf("unsupported dtype %v", dtype)
	}

	header := make(map[string]any)
	if len(kv) > 0 {
		header[metadataKey] = kv
	}

	names := b.Names()
	var offset int64
	for _, name := range names {
		t := b.Get(name)
		size := int64(t.Len() * dtype.Size())
		header[name] = tensorInfo{DType: dtype.String(), Shape: t.Shape(), Offsets: [2]int64{offset, offset + size}}
		offset += size
	}

	h, err := json.Marshal(header)
	if err != nil {
		return err
	}

	// pad the header to 8 bytes so the data section stays aligned
	if pad := len(h) % 8; pad != 0 {
		h = append(h, bytes.Repeat([]byte(" "), 8-pad)...)
	}

	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(h))); err != nil {
		return err
	}

	if _, err := bw.Write(h); err != nil {
		return err
	}

	for _, name := range names {
		if _, err := bw.Write(encodeValues(dtype, b.Get(name).Data())); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// WriteFile writes atomically by renaming a temporary file into place.
func WriteFile(path string, b ml.Backend, kv fs.KV, dtype ml.DType) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	if err := Encode(f, b, kv, dtype); err != nil {
		f.Close()
		return err
	}

	if err := f.Close(); err != nil {
		return err
	}

	return os.Rename(f.Name(), path)
}
