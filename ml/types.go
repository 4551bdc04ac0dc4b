// types.go - Datentypen und Konstanten fuer ML-Operationen
// Dieses Modul definiert DType fuer gespeicherte Tensoren.
package ml

import "fmt"

// DType represents the on-disk data type of tensor elements. Tensors are
// always float64 in memory.
type DType int

const (
	DTypeOther DType = iota
	DTypeF32
	DTypeF16
	DTypeBF16
	DTypeF64
)

// ParseDType maps safetensors dtype names to DType.
func ParseDType(s string) (DType, error) {
	switch s {
	case "F32":
		return DTypeF32, nil
	case "F16":
		return DTypeF16, nil
	case "BF16":
		return DTypeBF16, nil
	case "F64":
		return DTypeF64, nil
	default:
		return DTypeOther, fmt.Errorf("unsupported dtype %q", s)
	}
}

func (d DType) String() string {
	switch d {
	case DTypeF32:
		return "F32"
	case DTypeF16:
		return "F16"
	case DTypeBF16:
		return "BF16"
	case DTypeF64:
		return "F64"
	default:
		return "unknown"
	}
}

// Size returns the number of bytes per element.
func (d DType) Size() int {
	switch d {
	case DTypeF16, DTypeBF16:
		return 2
	case DTypeF32:
		return 4
	case DTypeF64:
		return 8
	default:
		return 0
	}
}
