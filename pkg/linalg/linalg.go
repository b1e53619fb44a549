// Package linalg holds the small dense linear algebra helpers shared by the
// fitters and estimators: dyadic sums, sorted symmetric eigendecompositions,
// matrix log/exp for log-Euclidean averaging and axis utilities.
package linalg

import (
	"math"
	"sort"

	"github.com/valyala/fastrand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Delta is the tolerance used for "is zero" checks on accumulated weights.
const Delta = 1e-12

// Zero reports whether v is numerically zero.
func Zero(v float64) bool {
	return math.Abs(v) < Delta
}

// AddDyadic accumulates w * v v^T into dst.
func AddDyadic(dst *mat.SymDense, w float64, v []float64) {
	dst.SymRankOne(dst, w, mat.NewVecDense(len(v), v))
}

// Eigen is a symmetric eigendecomposition sorted by descending eigenvalue.
type Eigen struct {
	Values  []float64
	Vectors [][]float64
}

// Eig decomposes a symmetric matrix. Eigenvalues are returned in descending
// order with matching unit eigenvectors.
func Eig(a mat.Symmetric) (Eigen, bool) {
	var es mat.EigenSym
	if !es.Factorize(a, true) {
		return Eigen{}, false
	}

	n := a.SymmetricDim()
	vals := es.Values(nil)
	var ev mat.Dense
	es.VectorsTo(&ev)

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool { return vals[idx[i]] > vals[idx[j]] })

	out := Eigen{Values: make([]float64, n), Vectors: make([][]float64, n)}
	for i, src := range idx {
		out.Values[i] = vals[src]
		out.Vectors[i] = mat.Col(nil, src, &ev)
	}
	return out, true
}

// Compose rebuilds V diag(values) V^T.
func Compose(values []float64, vectors [][]float64) *mat.SymDense {
	n := len(values)
	out := mat.NewSymDense(n, nil)
	for i, v := range values {
		AddDyadic(out, v, vectors[i])
	}
	return out
}

// LogSym returns the matrix logarithm of a symmetric positive definite
// matrix. ok is false when any eigenvalue is not strictly positive.
func LogSym(a mat.Symmetric) (*mat.SymDense, bool) {
	eig, ok := Eig(a)
	if !ok {
		return nil, false
	}
	logs := make([]float64, len(eig.Values))
	for i, v := range eig.Values {
		if v <= 0 {
			return nil, false
		}
		logs[i] = math.Log(v)
	}
	return Compose(logs, eig.Vectors), true
}

// ExpSym returns the matrix exponential of a symmetric matrix.
func ExpSym(a mat.Symmetric) (*mat.SymDense, bool) {
	eig, ok := Eig(a)
	if !ok {
		return nil, false
	}
	exps := make([]float64, len(eig.Values))
	for i, v := range eig.Values {
		exps[i] = math.Exp(v)
	}
	return Compose(exps, eig.Vectors), true
}

// Normalize returns a unit length copy of v, or a zero vector when v is zero.
func Normalize(v []float64) []float64 {
	out := make([]float64, len(v))
	n := floats.Norm(v, 2)
	if Zero(n) {
		return out
	}
	floats.ScaleTo(out, 1/n, v)
	return out
}

// Cross returns a x b for 3-vectors.
func Cross(a, b []float64) []float64 {
	return []float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

// Perp returns a unit 3-vector perpendicular to v.
func Perp(v []float64) []float64 {
	// cross with the axis least aligned with v
	axis := []float64{1, 0, 0}
	ax, ay, az := math.Abs(v[0]), math.Abs(v[1]), math.Abs(v[2])
	if ay <= ax && ay <= az {
		axis = []float64{0, 1, 0}
	} else if az <= ax && az <= ay {
		axis = []float64{0, 0, 1}
	}
	return Normalize(Cross(v, axis))
}

// Orient flips v in place so that it points into the half space of ref.
func Orient(v, ref []float64) {
	if floats.Dot(v, ref) < 0 {
		floats.Scale(-1, v)
	}
}

// Uniform draws a float64 in [0, 1).
func Uniform(rng *fastrand.RNG) float64 {
	return float64(rng.Uint32()) / (1 << 32)
}

// RandomUnit draws a uniformly distributed unit 3-vector.
func RandomUnit(rng *fastrand.RNG) []float64 {
	for {
		v := []float64{
			2*Uniform(rng) - 1,
			2*Uniform(rng) - 1,
			2*Uniform(rng) - 1,
		}
		n := floats.Norm(v, 2)
		if n > 1e-3 && n <= 1 {
			floats.Scale(1/n, v)
			return v
		}
	}
}

// Subset draws k distinct indices from [0, n).
func Subset(rng *fastrand.RNG, n, k int) []int {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	for i := 0; i < k && i < n; i++ {
		j := i + int(rng.Uint32n(uint32(n-i)))
		perm[i], perm[j] = perm[j], perm[i]
	}
	if k > n {
		k = n
	}
	return perm[:k]
}
