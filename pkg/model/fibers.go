package model

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

const FibersName = "xfib"

// Fiber is one compartment of a multi-fiber model.
type Fiber struct {
	Frac  float64
	Stat  float64
	Label int
	Line  []float64
}

// Fibers is a ball and sticks model. Its encoding is base diff followed by
// frac stat label lx ly lz for every compartment.
type Fibers struct {
	Base  float64
	Diff  float64
	Comps []Fiber
}

// FibersSize returns the encoding length of a model with n compartments.
func FibersSize(n int) int {
	return 2 + 6*n
}

// FibersCount returns the number of compartments of an encoding length.
func FibersCount(size int) (int, error) {
	if size < 2 || (size-2)%6 != 0 {
		return 0, fmt.Errorf("invalid fibers encoding size %d", size)
	}
	return (size - 2) / 6, nil
}

// NewFibers returns an empty model with n compartments.
func NewFibers(n int) Fibers {
	out := Fibers{Comps: make([]Fiber, n)}
	for i := range out.Comps {
		out.Comps[i].Line = make([]float64, 3)
	}
	return out
}

// DecodeFibers unpacks a fibers encoding.
func DecodeFibers(enc []float64) Fibers {
	n, err := FibersCount(len(enc))
	if err != nil {
		panic("model: " + err.Error())
	}

	out := Fibers{Base: enc[0], Diff: enc[1], Comps: make([]Fiber, n)}
	for i := range out.Comps {
		off := 2 + 6*i
		out.Comps[i] = Fiber{
			Frac:  enc[off],
			Stat:  enc[off+1],
			Label: int(math.Round(enc[off+2])),
			Line:  []float64{enc[off+3], enc[off+4], enc[off+5]},
		}
	}
	return out
}

// Encode packs the model.
func (f Fibers) Encode() []float64 {
	out := make([]float64, FibersSize(len(f.Comps)))
	out[0], out[1] = f.Base, f.Diff
	for i, c := range f.Comps {
		off := 2 + 6*i
		out[off] = c.Frac
		out[off+1] = c.Stat
		out[off+2] = float64(c.Label)
		copy(out[off+3:off+6], c.Line)
	}
	return out
}

// Sorted returns a copy with compartments ordered by descending fraction.
func (f Fibers) Sorted() Fibers {
	out := Fibers{Base: f.Base, Diff: f.Diff, Comps: append([]Fiber(nil), f.Comps...)}
	sort.SliceStable(out.Comps, func(i, j int) bool {
		return out.Comps[i].Frac > out.Comps[j].Frac
	})
	return out
}

// Count returns the number of compartments with a fraction above thresh.
func (f Fibers) Count(thresh float64) int {
	var count int
	for _, c := range f.Comps {
		if c.Frac > thresh {
			count++
		}
	}
	return count
}

// FracSum returns the total compartment fraction.
func (f Fibers) FracSum() float64 {
	var sum float64
	for _, c := range f.Comps {
		sum += c.Frac
	}
	return sum
}

// FibersCodec describes an "xfib" encoding with a fixed compartment count.
type FibersCodec struct {
	Comps int
}

func (c FibersCodec) Name() string { return FibersName }
func (c FibersCodec) Size() int    { return FibersSize(c.Comps) }

func (c FibersCodec) Baseline(enc []float64) float64 {
	checkSize(FibersName, enc, c.Size())
	return enc[0]
}

// Distance sums, over the compartments of a, the fraction weighted squared
// sine to the closest line of b, and takes the square root.
func (c FibersCodec) Distance(a, b []float64) float64 {
	fa, fb := DecodeFibers(a), DecodeFibers(b)
	var out float64
	for _, ca := range fa.Comps {
		if ca.Frac == 0 {
			continue
		}
		closest := math.Inf(1)
		for _, cb := range fb.Comps {
			d := floats.Dot(ca.Line, cb.Line)
			closest = math.Min(closest, 1-d*d)
		}
		if !math.IsInf(closest, 1) {
			out += ca.Frac * closest
		}
	}
	return math.Sqrt(math.Max(0, out))
}

func (c FibersCodec) Empty() []float64 {
	return NewFibers(c.Comps).Encode()
}
