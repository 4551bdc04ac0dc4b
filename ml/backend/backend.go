// Package backend registriert die Gewichtsformate beim ml-Paket.
// Importiert wird es nur fuer seine Seiteneffekte.
package backend

import (
	"github.com/ollama/gradtts/convert"
	"github.com/ollama/gradtts/fs/safetensors"
	"github.com/ollama/gradtts/ml"
)

func init() {
	ml.RegisterBackend(".safetensors", func(path string) (ml.Backend, error) {
		return safetensors.ReadFile(path)
	})

	for _, ext := range []string{".pt", ".pth", ".bin", ".ckpt"} {
		ml.RegisterBackend(ext, convert.LoadTorch)
	}
}
