package model

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

const (
	LineName = "line"
	LineSize = 3
)

// LineCodec describes the "line" encoding, a sign-ambiguous unit axis.
type LineCodec struct{}

func (LineCodec) Name() string { return LineName }
func (LineCodec) Size() int    { return LineSize }

// Baseline is always zero, a line carries no signal.
func (LineCodec) Baseline(enc []float64) float64 {
	checkSize(LineName, enc, LineSize)
	return 0
}

// Distance is the sine of the angle between the axes.
func (LineCodec) Distance(a, b []float64) float64 {
	checkSize(LineName, a, LineSize)
	checkSize(LineName, b, LineSize)
	d := floats.Dot(a, b)
	return math.Sqrt(math.Max(0, 1-d*d))
}

func (LineCodec) Empty() []float64 {
	return make([]float64, LineSize)
}
