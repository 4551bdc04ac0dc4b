package fs

// Config is read-only access to model metadata. Keys without a "general."
// prefix are looked up below the architecture name.
type Config interface {
	Architecture() string
	String(string, ...string) string
	Uint(string, ...uint32) uint32
	Float(string, ...float64) float64
	Bool(string, ...bool) bool
	Uints(string, ...[]uint32) []uint32
}
