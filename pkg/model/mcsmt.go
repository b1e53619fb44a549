package model

import "math"

const (
	McsmtName = "mcsmt"
	McsmtSize = 4
)

// Mcsmt is a multi-compartment spherical mean model. Its encoding is
// base frac diff dot.
type Mcsmt struct {
	Base float64
	Frac float64
	Diff float64
	Dot  float64
}

// DecodeMcsmt unpacks an MCSMT encoding.
func DecodeMcsmt(enc []float64) Mcsmt {
	checkSize(McsmtName, enc, McsmtSize)
	return Mcsmt{Base: enc[0], Frac: enc[1], Diff: enc[2], Dot: enc[3]}
}

// Encode packs the model.
func (m Mcsmt) Encode() []float64 {
	return []float64{m.Base, m.Frac, m.Diff, m.Dot}
}

// McsmtCodec describes the "mcsmt" encoding.
type McsmtCodec struct{}

func (McsmtCodec) Name() string { return McsmtName }
func (McsmtCodec) Size() int    { return McsmtSize }

func (McsmtCodec) Baseline(enc []float64) float64 {
	checkSize(McsmtName, enc, McsmtSize)
	return enc[0]
}

func (McsmtCodec) Distance(a, b []float64) float64 {
	ma, mb := DecodeMcsmt(a), DecodeMcsmt(b)
	dfrac := ma.Frac - mb.Frac
	ddiff := ma.Diff - mb.Diff
	return math.Sqrt(dfrac*dfrac + ddiff*ddiff)
}

func (McsmtCodec) Empty() []float64 {
	return make([]float64, McsmtSize)
}
