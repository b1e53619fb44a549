package cluster

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"qitkit/pkg/fitting"
)

// Kind names a clustering variant.
type Kind int

const (
	KindKMeans Kind = iota
	KindAxialKMeans
	KindSpatialAxialKMeans
	KindGaussianMixture
	KindWatsonMixture
	KindGaussianWatsonMixture
	KindBernoulliMixture
)

var kindNames = map[Kind]string{
	KindKMeans:                "kmeans",
	KindAxialKMeans:           "axial",
	KindSpatialAxialKMeans:    "spatial-axial",
	KindGaussianMixture:       "gaussian",
	KindWatsonMixture:         "watson",
	KindGaussianWatsonMixture: "gaussian-watson",
	KindBernoulliMixture:      "bernoulli",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind maps a variant name to its Kind.
func ParseKind(name string) (Kind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return KindKMeans, fmt.Errorf("%w: unknown clustering method %q", ErrUnsupported, name)
}

// table is the persisted form of a clustering: one row per component with
// its label, mixing weight, parameters and, for Gaussians, covariance.
type table struct {
	labels []int
	mix    []float64
	params [][]float64
	cov    [][]float64
}

// WriteTable persists the components of a k-means, Gaussian mixture or
// Bernoulli mixture result as CSV.
func WriteTable(w io.Writer, result any) error {
	var t table
	switch r := result.(type) {
	case *KMeansResult:
		t = table{mix: r.Mix, params: r.Centers}
	case *GaussianMixtureResult:
		t = table{mix: r.Mix}
		for _, g := range r.Components {
			t.params = append(t.params, g.Mean)
			t.cov = append(t.cov, mat.DenseCopyOf(g.Cov).RawMatrix().Data)
		}
	case *BernoulliMixtureResult:
		t = table{mix: r.Mix, params: r.Components}
	case *WatsonMixtureResult:
		return fmt.Errorf("%w: writing a watson mixture", ErrUnsupported)
	case *GaussianWatsonMixtureResult:
		return fmt.Errorf("%w: writing a gaussian watson mixture", ErrUnsupported)
	default:
		return fmt.Errorf("%w: writing %T", ErrUnsupported, result)
	}
	for j := range t.mix {
		t.labels = append(t.labels, j+1)
	}
	return t.write(w)
}

func (t table) write(w io.Writer) error {
	if len(t.params) == 0 {
		return fmt.Errorf("%w: nothing to write", ErrEmpty)
	}
	dim := len(t.params[0])

	header := []string{"label", "mix"}
	for d := 0; d < dim; d++ {
		header = append(header, fmt.Sprintf("p%d", d))
	}
	if t.cov != nil {
		for d := 0; d < dim*dim; d++ {
			header = append(header, fmt.Sprintf("c%d", d))
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("error writing table header: %w", err)
	}
	for j, p := range t.params {
		row := []string{strconv.Itoa(t.labels[j]), formatFloat(t.mix[j])}
		for _, v := range p {
			row = append(row, formatFloat(v))
		}
		if t.cov != nil {
			for _, v := range t.cov[j] {
				row = append(row, formatFloat(v))
			}
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("error writing component %d: %w", t.labels[j], err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func readTable(r io.Reader) (table, error) {
	rows, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return table{}, fmt.Errorf("error reading table: %w", err)
	}
	if len(rows) < 2 {
		return table{}, fmt.Errorf("%w: table has no components", ErrEmpty)
	}

	header := rows[0]
	if len(header) < 3 || header[0] != "label" || header[1] != "mix" {
		return table{}, errors.New("table header must start with label,mix and name at least one parameter")
	}
	var dim, ncov int
	for _, name := range header[2:] {
		switch {
		case strings.HasPrefix(name, "p"):
			dim++
		case strings.HasPrefix(name, "c"):
			ncov++
		default:
			return table{}, fmt.Errorf("unexpected table column %q", name)
		}
	}
	if ncov != 0 && ncov != dim*dim {
		return table{}, fmt.Errorf("table has %d covariance columns for %d parameters", ncov, dim)
	}

	var t table
	for i, row := range rows[1:] {
		if len(row) != len(header) {
			return table{}, fmt.Errorf("table row %d has %d fields, want %d", i+1, len(row), len(header))
		}
		label, err := strconv.Atoi(row[0])
		if err != nil {
			return table{}, fmt.Errorf("table row %d label: %w", i+1, err)
		}
		if label != i+1 {
			return table{}, fmt.Errorf("table row %d has label %d, want %d", i+1, label, i+1)
		}
		vals := make([]float64, len(row)-1)
		for c, field := range row[1:] {
			if vals[c], err = strconv.ParseFloat(strings.TrimSpace(field), 64); err != nil {
				return table{}, fmt.Errorf("table row %d column %s: %w", i+1, header[c+1], err)
			}
		}

		t.labels = append(t.labels, label)
		t.mix = append(t.mix, vals[0])
		t.params = append(t.params, vals[1:1+dim])
		if ncov > 0 {
			t.cov = append(t.cov, vals[1+dim:])
		}
	}
	return t, nil
}

// ReadKMeans restores the centers and mixing weights written by WriteTable.
// Sample labels are not persisted, so the result has nil Labels.
func ReadKMeans(r io.Reader) (*KMeansResult, error) {
	t, err := readTable(r)
	if err != nil {
		return nil, err
	}
	return &KMeansResult{Mix: t.mix, Centers: t.params}, nil
}

// ReadGaussianMixture restores the components of a Gaussian mixture. As with
// ReadKMeans, Labels and Resp are left empty.
func ReadGaussianMixture(r io.Reader, logger *zap.Logger) (*GaussianMixtureResult, error) {
	t, err := readTable(r)
	if err != nil {
		return nil, err
	}
	if t.cov == nil {
		return nil, errors.New("gaussian mixture table has no covariance columns")
	}

	out := &GaussianMixtureResult{Mix: t.mix}
	for j, mean := range t.params {
		dim := len(mean)
		cov := mat.NewSymDense(dim, nil)
		for a := 0; a < dim; a++ {
			for b := a; b < dim; b++ {
				cov.SetSym(a, b, t.cov[j][a*dim+b])
			}
		}
		out.Components = append(out.Components, fitting.NewGaussian(mean, cov, logger))
	}
	return out, nil
}

// ReadBernoulliMixture restores the components of a Bernoulli mixture.
func ReadBernoulliMixture(r io.Reader) (*BernoulliMixtureResult, error) {
	t, err := readTable(r)
	if err != nil {
		return nil, err
	}
	return &BernoulliMixtureResult{Mix: t.mix, Components: t.params}, nil
}

// ReadTable restores a persisted clustering of the given kind.
func ReadTable(r io.Reader, kind Kind, logger *zap.Logger) (any, error) {
	switch kind {
	case KindKMeans, KindAxialKMeans, KindSpatialAxialKMeans:
		return ReadKMeans(r)
	case KindGaussianMixture:
		return ReadGaussianMixture(r, logger)
	case KindBernoulliMixture:
		return ReadBernoulliMixture(r)
	default:
		return nil, fmt.Errorf("%w: reading a %s table", ErrUnsupported, kind)
	}
}
