package cluster

import (
	"fmt"

	"github.com/valyala/fastrand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// KMeans clusters vectors by squared Euclidean distance.
type KMeans struct {
	Config

	// Initial optionally fixes the starting centers, one per cluster
	Initial [][]float64
}

// Run clusters vects. Nil weights count every sample once.
func (km KMeans) Run(vects [][]float64, weights []float64) (*KMeansResult, error) {
	if km.Initial != nil && len(km.Initial) != km.K {
		return nil, fmt.Errorf("%w: %d initial centers for k=%d", ErrInvalidConfig, len(km.Initial), km.K)
	}
	w, err := sampleWeights(weights, len(vects))
	if err != nil {
		return nil, err
	}

	s, trace, err := run(km.Config, len(vects), func(rng *fastrand.RNG) *hardState {
		return newHardState(vects, w, km.K, euclidean{}, rng, km.Initial)
	})
	if err != nil {
		return nil, fmt.Errorf("kmeans: %w", err)
	}
	return s.result(trace), nil
}

type euclidean struct{}

func (euclidean) distance(a, b []float64) float64 {
	d := floats.Distance(a, b, 2)
	return d * d
}

func (euclidean) center(members [][]float64, weights []float64) []float64 {
	return weightedMean(members, weights)
}

// centroid is a cluster center stored in a kd-tree
type centroid struct {
	vals  []float64
	index int
}

// Compare implements the kdtree.Comparable interface
func (p centroid) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(centroid)
	return p.vals[d] - q.vals[d]
}

// Dims returns the number of dimensions for the KD-tree
func (p centroid) Dims() int { return len(p.vals) }

// Distance returns the squared Euclidean distance between two centers
func (p centroid) Distance(c kdtree.Comparable) float64 {
	q := c.(centroid)
	var sum float64
	for i, v := range p.vals {
		d := v - q.vals[i]
		sum += d * d
	}
	return sum
}

// centroids is a collection of centroid that satisfies kdtree.Interface
type centroids []centroid

func (p centroids) Index(i int) kdtree.Comparable         { return p[i] }
func (p centroids) Len() int                              { return len(p) }
func (p centroids) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot implements the kdtree.Interface method
func (p centroids) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(centroidPlane{centroids: p, Dim: d}, kdtree.MedianOfRandoms(centroidPlane{centroids: p, Dim: d}, 100))
}

// centroidPlane implements sort.Interface and kdtree.SortSlicer for centroids
type centroidPlane struct {
	centroids
	kdtree.Dim
}

func (p centroidPlane) Less(i, j int) bool {
	return p.centroids[i].vals[p.Dim] < p.centroids[j].vals[p.Dim]
}

func (p centroidPlane) Slice(start, end int) kdtree.SortSlicer {
	return centroidPlane{centroids: p.centroids[start:end], Dim: p.Dim}
}

func (p centroidPlane) Swap(i, j int) {
	p.centroids[i], p.centroids[j] = p.centroids[j], p.centroids[i]
}

// newCenterTree indexes centers in a kd-tree and returns a lookup of the
// index of the center closest to a query.
func newCenterTree(centers [][]float64) func([]float64) int {
	points := make(centroids, len(centers))
	for i, c := range centers {
		points[i] = centroid{vals: c, index: i}
	}
	tree := kdtree.New(points, false)

	return func(v []float64) int {
		got, _ := tree.Nearest(centroid{vals: v})
		return got.(centroid).index
	}
}
