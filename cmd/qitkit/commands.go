package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"qitkit/internal/models"
	"qitkit/pkg/cluster"
	"qitkit/pkg/config"
	"qitkit/pkg/estimation"
	"qitkit/pkg/fitting"
	"qitkit/pkg/kernel"
)

// clusterSetup maps the configuration onto a clustering variant.
func clusterSetup(cfg *config.Config, logger *zap.Logger) (cluster.Kind, cluster.Config, cluster.Params, error) {
	c := cfg.Cluster
	kind, err := cluster.ParseKind(c.Method)
	if err != nil {
		return 0, cluster.Config{}, cluster.Params{}, err
	}
	cov, err := fitting.ParseCovarianceType(c.Covariance)
	if err != nil {
		return 0, cluster.Config{}, cluster.Params{}, err
	}

	cc := cluster.Config{
		K:        c.K,
		MaxIters: c.MaxIters,
		Restarts: c.Restarts,
		Thresh:   c.Thresh,
		Seed:     cfg.Processing.Seed,
		Logger:   logger,
	}
	p := cluster.Params{
		Gaussian: fitting.GaussianFitter{
			Type:     cov,
			Variance: c.Variance,
			Prior:    c.Prior,
			Mix:      c.Mix,
			Add:      c.Add,
			Logger:   logger,
		},
		Watson: fitting.WatsonFitter{Reg: c.WatsonReg, Logger: logger},
		Alpha:  c.Alpha,
		Beta:   c.Beta,
	}
	if c.WatsonKappa > 0 {
		kappa := c.WatsonKappa
		p.Watson.Fixed = &kappa
	}
	return kind, cc, p, nil
}

func runCluster(args []string) error {
	fs := flag.NewFlagSet("cluster", flag.ExitOnError)
	opts := addCommon(fs)
	input := fs.String("input", "", "CSV file with one vector per row")
	weighted := fs.Bool("weighted", false, "Read the first column of each row as the sample weight")
	labelsPath := fs.String("labels", "labels.csv", "Output CSV of sample labels")
	tablePath := fs.String("table", "", "Optional output CSV of the fitted components")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *input == "" {
		fs.Usage()
		return fmt.Errorf("missing -input")
	}

	cfg, logger, err := opts.setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	rows, err := readRowsFile(*input)
	if err != nil {
		return err
	}
	var weights []float64
	if *weighted {
		if weights, rows, err = splitColumn(rows); err != nil {
			return err
		}
	}

	kind, cc, params, err := clusterSetup(cfg, logger)
	if err != nil {
		return err
	}

	start := time.Now()
	labels, result, err := cluster.Run(kind, cc, params, rows, weights)
	if err != nil {
		return err
	}
	logger.Info("clustering finished",
		zap.Stringer("method", kind),
		zap.Int("samples", len(rows)),
		zap.Int("k", cc.K),
		since(start))

	out := make([][]float64, len(labels))
	for i, l := range labels {
		out[i] = []float64{float64(l)}
	}
	if err := writeRowsFile(*labelsPath, out); err != nil {
		return err
	}

	if *tablePath != "" {
		f, err := createFile(*tablePath)
		if err != nil {
			return err
		}
		if err := cluster.WriteTable(f, result); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}

func runEstimate(args []string) error {
	fs := flag.NewFlagSet("estimate", flag.ExitOnError)
	opts := addCommon(fs)
	input := fs.String("input", "", "CSV file with rows of weight followed by a model encoding")
	modelName := fs.String("model", "", "Model name, overriding the configuration")
	output := fs.String("output", "consensus.csv", "Output CSV holding the consensus encoding")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *input == "" {
		fs.Usage()
		return fmt.Errorf("missing -input")
	}

	cfg, logger, err := opts.setup()
	if err != nil {
		return err
	}
	defer logger.Sync()
	if *modelName != "" {
		cfg.Estimation.Model = *modelName
	}

	est, err := estimation.New(cfg.Estimation, logger)
	if err != nil {
		return err
	}

	rows, err := readRowsFile(*input)
	if err != nil {
		return err
	}
	weights, encodings, err := splitColumn(rows)
	if err != nil {
		return err
	}
	size := est.Codec().Size()
	for i, enc := range encodings {
		if len(enc) != size {
			return fmt.Errorf("row %d has %d values, %s encodings have %d", i+1, len(enc), est.Codec().Name(), size)
		}
	}

	out, err := est.Estimate(weights, encodings)
	if err != nil {
		return err
	}
	logger.Info("consensus estimated", zap.String("model", est.Codec().Name()), zap.Int("samples", len(rows)))
	return writeRowsFile(*output, [][]float64{out})
}

// volumeFromRows builds a volume from rows of i j k followed by the voxel
// values. The grid is sized to hold the largest index; voxels without a row
// are masked out.
func volumeFromRows(rows [][]float64, channels int, voxelSize float64) (*models.Volume, error) {
	var dims [3]int
	for n, row := range rows {
		if len(row) != 3+channels {
			return nil, fmt.Errorf("row %d has %d values, want 3 indices and %d channels", n+1, len(row), channels)
		}
		for d := 0; d < 3; d++ {
			idx := row[d]
			if idx < 0 || idx != math.Trunc(idx) {
				return nil, fmt.Errorf("row %d has invalid voxel index %g", n+1, idx)
			}
			if int(idx)+1 > dims[d] {
				dims[d] = int(idx) + 1
			}
		}
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("volume has no voxels")
	}

	vol := models.NewVolume(dims[0], dims[1], dims[2], channels)
	vol.VoxelSize = [3]float64{voxelSize, voxelSize, voxelSize}
	vol.Mask = make([]bool, dims[0]*dims[1]*dims[2])
	for _, row := range rows {
		s := models.Sample{I: int(row[0]), J: int(row[1]), K: int(row[2])}
		if err := vol.Set(s, row[3:]); err != nil {
			return nil, err
		}
		vol.Mask[s.K*dims[0]*dims[1]+s.J*dims[0]+s.I] = true
	}
	return vol, nil
}

func runInterpolate(args []string) error {
	fs := flag.NewFlagSet("interpolate", flag.ExitOnError)
	opts := addCommon(fs)
	volumePath := fs.String("volume", "", "CSV file with rows of i, j, k followed by a model encoding")
	coordsPath := fs.String("coords", "", "CSV file with one world coordinate per row")
	voxelSize := fs.Float64("voxel", 1, "Voxel size in mm")
	output := fs.String("output", "interpolated.csv", "Output CSV with one encoding per coordinate")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *volumePath == "" || *coordsPath == "" {
		fs.Usage()
		return fmt.Errorf("missing -volume or -coords")
	}

	cfg, logger, err := opts.setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	est, err := estimation.New(cfg.Estimation, logger)
	if err != nil {
		return err
	}
	rows, err := readRowsFile(*volumePath)
	if err != nil {
		return err
	}
	vol, err := volumeFromRows(rows, est.Codec().Size(), *voxelSize)
	if err != nil {
		return err
	}
	coords, err := readRowsFile(*coordsPath)
	if err != nil {
		return err
	}
	for i, c := range coords {
		if len(c) != 3 {
			return fmt.Errorf("coordinate %d has %d values, want 3", i+1, len(c))
		}
	}

	k, err := kernel.New(vol, est, cfg.Kernel, logger)
	if err != nil {
		return err
	}

	start := time.Now()
	batch, err := k.EstimateAll(context.Background(), coords, cfg.Processing.NumCores)
	if err != nil {
		return err
	}
	logger.Info("interpolation finished",
		zap.Int("queries", len(coords)),
		zap.Stringer("kernel", k.Interp),
		zap.Float64("meanNeighbors", batch.Neighbors.Mean),
		zap.Float64("maxNeighbors", batch.Neighbors.Max),
		since(start))
	return writeRowsFile(*output, batch.Values)
}
