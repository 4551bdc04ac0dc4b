// Package fs - KV (Key-Value) Metadaten
//
// Dieses Modul enthaelt den KV-Typ und alle zugehoerigen Methoden:
// - KV: Map fuer Modell-Metadaten (wie im safetensors-Header als Strings)
// - Architecture
// - Generische Getter (String, Uint, Float, Bool, Uints)
// - Setter fuer die Serialisierung (SetUint, SetFloat, SetUints)
package fs

import (
	"iter"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// KV repraesentiert Modell-Metadaten. Werte werden als Strings gespeichert.
type KV map[string]string

// Architecture gibt die Modell-Architektur zurueck
func (kv KV) Architecture() string {
	if arch, ok := kv["general.architecture"]; ok {
		return arch
	}

	return "unknown"
}

func (kv KV) key(key string) string {
	if !strings.HasPrefix(key, "general.") {
		key = kv.Architecture() + "." + key
	}

	return key
}

// keyValue liest einen Wert und wandelt ihn mit parse um
func keyValue[T any](kv KV, key string, parse func(string) (T, error), defaultValue ...T) T {
	key = kv.key(key)
	if s, ok := kv[key]; ok {
		if val, err := parse(s); err == nil {
			return val
		}
		slog.Warn("invalid metadata value", "key", key, "value", s)
	}

	var zero T
	return append(defaultValue, zero)[0]
}

// String gibt einen String-Wert zurueck
func (kv KV) String(key string, defaultValue ...string) string {
	return keyValue(kv, key, func(s string) (string, error) { return s, nil }, defaultValue...)
}

// Uint gibt einen uint32-Wert zurueck
func (kv KV) Uint(key string, defaultValue ...uint32) uint32 {
	return keyValue(kv, key, parseUint, defaultValue...)
}

// Float gibt einen float64-Wert zurueck
func (kv KV) Float(key string, defaultValue ...float64) float64 {
	return keyValue(kv, key, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) }, defaultValue...)
}

// Bool gibt einen bool-Wert zurueck
func (kv KV) Bool(key string, defaultValue ...bool) bool {
	return keyValue(kv, key, strconv.ParseBool, defaultValue...)
}

// Uints gibt ein uint32-Array zurueck, gespeichert als kommagetrennte Liste
func (kv KV) Uints(key string, defaultValue ...[]uint32) []uint32 {
	return keyValue(kv, key, func(s string) ([]uint32, error) {
		var values []uint32
		for _, part := range strings.Split(s, ",") {
			u, err := parseUint(strings.TrimSpace(part))
			if err != nil {
				return nil, err
			}
			values = append(values, u)
		}
		return values, nil
	}, defaultValue...)
}

func parseUint(s string) (uint32, error) {
	u, err := strconv.ParseUint(s, 10, 32)
	return uint32(u), err
}

// SetString setzt einen Wert unterhalb der Architektur
func (kv KV) SetString(key, value string) {
	kv[kv.key(key)] = value
}

func (kv KV) SetUint(key string, value uint32) {
	kv.SetString(key, strconv.FormatUint(uint64(value), 10))
}

func (kv KV) SetFloat(key string, value float64) {
	kv.SetString(key, strconv.FormatFloat(value, 'g', -1, 64))
}

func (kv KV) SetUints(key string, values []uint32) {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatUint(uint64(v), 10)
	}
	kv.SetString(key, strings.Join(parts, ","))
}

// Len gibt die Anzahl der KV-Paare zurueck
func (kv KV) Len() int {
	return len(kv)
}

// Keys gibt die Keys sortiert zurueck
func (kv KV) Keys() iter.Seq[string] {
	return slices.Values(slices.Sorted(maps.Keys(kv)))
}
