// Package model - Model-Interface und Initialisierung
//
// Dieses Paket definiert das Model-Interface und stellt Funktionen
// zur Initialisierung und Verwaltung von Modellen bereit.
//
// Hauptkomponenten:
// - Model: Interface für alle Modell-Architekturen
// - Base: Basis-Implementierung für gemeinsame Funktionalität
// - New / FromBackend: Erstellt neue Model-Instanzen
// - Register: Registriert Modell-Konstruktoren
// - Collect: Sammelt alle Parameter eines Modells in einen Store

package model

import (
	"errors"
	"fmt"
	"reflect"
	"slices"

	"github.com/ollama/gradtts/fs"
	"github.com/ollama/gradtts/ml"
	_ "github.com/ollama/gradtts/ml/backend"
)

// Fehler-Definitionen
var (
	ErrUnsupportedModel = errors.New("model not supported")
	ErrMissingTensor    = errors.New("missing tensor")
)

// Model definiert das Interface für spezifische Modell-Architekturen
type Model interface {
	Backend() ml.Backend
}

// Validator ist ein optionales Interface für Post-Load-Validierung
type Validator interface {
	Validate() error
}

// Base implementiert gemeinsame Felder und Methoden für alle Modelle
type Base struct {
	b ml.Backend
}

// NewBase bindet ein Backend an ein Modell, das nicht ueber New geladen wurde
func NewBase(b ml.Backend) Base {
	return Base{b: b}
}

// Backend gibt das Backend zurück, aus dem das Modell geladen wurde
func (m *Base) Backend() ml.Backend {
	return m.b
}

// models speichert registrierte Modell-Konstruktoren
var models = make(map[string]func(fs.Config) (Model, error))

// Register registriert einen Modell-Konstruktor für eine Architektur
func Register(name string, f func(fs.Config) (Model, error)) {
	if _, ok := models[name]; ok {
		panic("model: model already registered")
	}

	models[name] = f
}

// Architectures listet alle registrierten Architekturen
func Architectures() []string {
	var names []string
	for name := range models {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// New lädt Gewichte aus modelPath und initialisiert das passende Modell
func New(modelPath string) (Model, error) {
	b, err := ml.NewBackend(modelPath)
	if err != nil {
		return nil, err
	}

	return FromBackend(b)
}

// FromBackend initialisiert ein Modell aus einem bereits geladenen Backend
func FromBackend(b ml.Backend) (Model, error) {
	m, err := modelForArch(b.Config())
	if err != nil {
		return nil, err
	}

	base := Base{b: b}
	v := reflect.ValueOf(m)
	v.Elem().Set(populateFields(base, v.Elem()))

	if validator, ok := m.(Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// modelForArch erstellt ein Model basierend auf der Architektur
func modelForArch(c fs.Config) (Model, error) {
	arch := c.Architecture()
	f, ok := models[arch]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedModel, arch)
	}

	return f(c)
}
