// convert.go - Konvertierung von Fremdformaten in einen Tensor-Store
// Hauptfunktionen: Torch, LoadTorch
//
// Ablauf: Checkpoint lesen -> Namen umschreiben -> Tensoren umpacken ->
// Metadaten aus den Gewichten ableiten -> ml.Store
package convert

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"

	ofs "github.com/ollama/gradtts/fs"
	"github.com/ollama/gradtts/ml"
)

var ErrNoTensors = errors.New("no convertible tensors")

// Tensor is a named tensor read from a foreign checkpoint.
type Tensor struct {
	Name string
	*ml.Tensor
}

// ModelConverter maps a foreign checkpoint onto native tensor names and metadata.
type ModelConverter interface {
	// Rename returns the native name of a checkpoint key, or false to skip it.
	Rename(string) (string, bool)

	// Repack rewrites tensor data whose native layout differs.
	Repack(Tensor) (Tensor, error)

	// KV derives metadata from the converted tensors.
	KV(*ml.Store) ofs.KV
}

// LoadTorch converts a PyTorch Grad-TTS checkpoint using default metadata.
func LoadTorch(path string) (ml.Backend, error) {
	return Torch(path, nil)
}

// Torch converts a PyTorch checkpoint. Values in overrides replace derived metadata.
func Torch(path string, overrides ofs.KV) (*ml.Store, error) {
	ts, err := parseTorch(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	s, err := convertTensors(&gradttsModel{}, ts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	maps.Copy(s.KV(), overrides)
	return s, nil
}

func convertTensors(conv ModelConverter, ts []Tensor) (*ml.Store, error) {
	s := ml.NewStore(nil)
	var skipped []string
	for _, t := range ts {
		name, ok := conv.Rename(t.Name)
		if !ok {
			skipped = append(skipped, t.Name)
			continue
		}

		if s.Get(name) != nil {
			return nil, fmt.Errorf("duplicate tensor name '%s' was found for this model", name)
		}

		rt, err := conv.Repack(Tensor{Name: name, Tensor: t.Tensor})
		if err != nil {
			return nil, fmt.Errorf("repack %s: %w", name, err)
		}

		s.Set(rt.Name, rt.Tensor)
	}

	if s.Len() == 0 {
		return nil, ErrNoTensors
	}

	if len(skipped) > 0 {
		slog.Debug("skipped checkpoint tensors", "count", len(skipped), "first", slices.Min(skipped))
	}

	maps.Copy(s.KV(), conv.KV(s))
	return s, nil
}
