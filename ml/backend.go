// backend.go - Backend-Interface und Registrierung fuer Gewichtsquellen
// Dieses Modul definiert das Backend-Interface, die Backend-Factory-Funktionen
// und Store, ein geordnetes In-Memory-Backend.
package ml

import (
	"fmt"
	"path/filepath"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/ollama/gradtts/fs"
)

// Backend provides named parameter tensors and model metadata.
type Backend interface {
	Config() fs.Config

	// Get returns the tensor stored under name, or nil.
	Get(name string) *Tensor

	// Names lists tensor names in storage order.
	Names() []string
}

var backends = make(map[string]func(string) (Backend, error))

// RegisterBackend registers a loader for files with the given extension.
func RegisterBackend(ext string, f func(string) (Backend, error)) {
	ext = strings.ToLower(ext)
	if _, ok := backends[ext]; ok {
		panic("backend: backend already registered")
	}

	backends[ext] = f
}

// NewBackend opens path with the loader registered for its extension.
func NewBackend(path string) (Backend, error) {
	if backend, ok := backends[strings.ToLower(filepath.Ext(path))]; ok {
		return backend(path)
	}

	return nil, fmt.Errorf("unsupported backend for %q", filepath.Base(path))
}

// Store is an in-memory Backend that keeps insertion order.
type Store struct {
	kv      fs.KV
	tensors *orderedmap.OrderedMap[string, *Tensor]
}

func NewStore(kv fs.KV) *Store {
	if kv == nil {
		kv = fs.KV{}
	}

	return &Store{kv: kv, tensors: orderedmap.New[string, *Tensor]()}
}

func (s *Store) Config() fs.Config {
	return s.kv
}

// KV returns the mutable metadata map.
func (s *Store) KV() fs.KV {
	return s.kv
}

func (s *Store) Get(name string) *Tensor {
	t, _ := s.tensors.Get(name)
	return t
}

// Set stores t under name, replacing any previous tensor but keeping its position.
func (s *Store) Set(name string, t *Tensor) {
	s.tensors.Set(name, t)
}

func (s *Store) Names() []string {
	names := make([]string, 0, s.tensors.Len())
	for pair := s.tensors.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}

	return names
}

func (s *Store) Len() int {
	return s.tensors.Len()
}

// Params returns the total number of scalar parameters.
func (s *Store) Params() int {
	var n int
	for pair := s.tensors.Oldest(); pair != nil; pair = pair.Next() {
		n += pair.Value.Len()
	}

	return n
}
