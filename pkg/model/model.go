// Package model defines the flat vector encodings of the diffusion models
// handled by the estimators, and codecs describing each of them.
package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnknownModel is returned by Lookup for names it does not know.
var ErrUnknownModel = errors.New("model: unknown model")

// Codec describes one model encoding.
type Codec interface {
	// Name is the short name of the model, such as "dti"
	Name() string

	// Size is the length of an encoding
	Size() int

	// Baseline returns the unweighted signal of an encoding
	Baseline(enc []float64) float64

	// Distance measures how different two encodings are
	Distance(a, b []float64) float64

	// Empty returns the encoding used when there is no information
	Empty() []float64
}

// DefaultFiberComps is the number of fiber compartments of "xfib".
const DefaultFiberComps = 3

// Lookup returns the codec of a model name. Fibers accept an optional
// compartment count suffix, as in "xfib2".
func Lookup(name string) (Codec, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case TensorName:
		return TensorCodec{}, nil
	case BiTensorName:
		return BiTensorCodec{}, nil
	case NoddiName:
		return NoddiCodec{}, nil
	case McsmtName:
		return McsmtCodec{}, nil
	case LineName:
		return LineCodec{}, nil
	case FibersName:
		return FibersCodec{Comps: DefaultFiberComps}, nil
	}

	if rest := strings.TrimPrefix(name, FibersName); rest != name {
		if n, err := strconv.Atoi(rest); err == nil && n > 0 {
			return FibersCodec{Comps: n}, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownModel, name)
}

func checkSize(model string, enc []float64, size int) {
	if len(enc) != size {
		panic(fmt.Sprintf("model: %s encoding has %d values, want %d", model, len(enc), size))
	}
}
