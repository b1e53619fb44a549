// Package config provides configuration loading and management for qitkit.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned by Validate for unusable settings.
var ErrInvalid = errors.New("invalid configuration")

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores specifies how many workers evaluate voxels in parallel
		NumCores int `yaml:"numCores"`

		// Seed makes clustering restarts reproducible
		Seed uint32 `yaml:"seed"`
	} `yaml:"processing"`

	Cluster    Cluster    `yaml:"cluster"`
	Estimation Estimation `yaml:"estimation"`
	Kernel     Kernel     `yaml:"kernel"`

	// Output parameters
	Output struct {
		// Verbose enables debug logging
		Verbose bool `yaml:"verbose"`

		// LogFile additionally writes JSON logs to a rotated file
		LogFile string `yaml:"logFile"`

		// LogMaxSizeMB is the size at which the log file is rotated
		LogMaxSizeMB int `yaml:"logMaxSizeMB"`
	} `yaml:"output"`
}

// Cluster holds the clustering parameters
type Cluster struct {
	// Method is one of kmeans, axial, spatial-axial, gaussian, watson,
	// gaussian-watson or bernoulli
	Method string `yaml:"method"`

	K        int     `yaml:"k"`
	MaxIters int     `yaml:"maxIters"`
	Restarts int     `yaml:"restarts"`
	Thresh   float64 `yaml:"thresh"`

	// Covariance is one of full, diagonal, spherical or fixed
	Covariance string  `yaml:"covariance"`
	Variance   float64 `yaml:"variance"`
	Prior      float64 `yaml:"prior"`
	Mix        float64 `yaml:"mix"`
	Add        float64 `yaml:"add"`

	// WatsonKappa fixes the Watson concentration when positive
	WatsonKappa float64 `yaml:"watsonKappa"`
	WatsonReg   float64 `yaml:"watsonReg"`

	// Alpha and Beta weigh the positional and directional distances
	Alpha float64 `yaml:"alpha"`
	Beta  float64 `yaml:"beta"`
}

// Estimation holds the model consensus parameters
type Estimation struct {
	// Model is the encoding name, such as dti or noddi
	Model string `yaml:"model"`

	// LogEuclidean averages tensors in log space when possible
	LogEuclidean bool `yaml:"logEuclidean"`

	// Noddi is the NODDI strategy, optionally prefixed with Weighted
	Noddi string `yaml:"noddi"`

	Fibers Fibers `yaml:"fibers"`
}

// Fibers holds the multi-fiber consensus parameters
type Fibers struct {
	// Estimation is match or rank
	Estimation string `yaml:"estimation"`

	// Selection is max, fixed, linear or adaptive
	Selection string `yaml:"selection"`

	MaxComps int     `yaml:"maxComps"`
	MinFrac  float64 `yaml:"minFrac"`
	Lambda   float64 `yaml:"lambda"`
	Restarts int     `yaml:"restarts"`

	// Clustering is axial or watson
	Clustering string `yaml:"clustering"`
}

// Kernel holds the volume sampling parameters
type Kernel struct {
	// Interp is nearest, trilinear or gaussian
	Interp string `yaml:"interp"`

	// Support is the voxel radius of the gaussian kernel
	Support int `yaml:"support"`

	HPos float64 `yaml:"hpos"`
	HVal float64 `yaml:"hval"`
	HSig float64 `yaml:"hsig"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumCores = runtime.NumCPU()
	cfg.Processing.Seed = 0

	cfg.Cluster = Cluster{
		Method:     "kmeans",
		K:          2,
		MaxIters:   300,
		Restarts:   1,
		Thresh:     1e-3,
		Covariance: "full",
		Prior:      1,
		Alpha:      1,
		Beta:       1,
	}

	cfg.Estimation = Estimation{
		Model:        "dti",
		LogEuclidean: true,
		Noddi:        "Component",
		Fibers: Fibers{
			Estimation: "match",
			Selection:  "adaptive",
			MaxComps:   3,
			MinFrac:    0.01,
			Lambda:     0.99,
			Restarts:   5,
			Clustering: "axial",
		},
	}

	cfg.Kernel = Kernel{
		Interp:  "trilinear",
		Support: 1,
		HPos:    1,
	}

	cfg.Output.Verbose = false
	cfg.Output.LogMaxSizeMB = 64

	return cfg
}

// Validate checks that every setting is usable
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}
	oneOf := func(v string, names ...string) bool {
		for _, n := range names {
			if strings.EqualFold(v, n) {
				return true
			}
		}
		return false
	}

	check(c.Processing.NumCores > 0, "processing.numCores must be positive, got %d", c.Processing.NumCores)

	cl := c.Cluster
	check(oneOf(cl.Method, "kmeans", "axial", "spatial-axial", "gaussian", "watson", "gaussian-watson", "bernoulli"),
		"cluster.method %q is not supported", cl.Method)
	check(cl.K > 0, "cluster.k must be positive, got %d", cl.K)
	check(cl.MaxIters > 0, "cluster.maxIters must be positive, got %d", cl.MaxIters)
	check(cl.Restarts > 0, "cluster.restarts must be positive, got %d", cl.Restarts)
	check(cl.Thresh > 0, "cluster.thresh must be positive, got %g", cl.Thresh)
	check(oneOf(cl.Covariance, "full", "diagonal", "spherical", "fixed"), "cluster.covariance %q is not supported", cl.Covariance)
	check(cl.Mix >= 0 && cl.Mix <= 1, "cluster.mix must be in [0, 1], got %g", cl.Mix)
	check(cl.WatsonReg >= 0 && cl.WatsonReg <= 1, "cluster.watsonReg must be in [0, 1], got %g", cl.WatsonReg)

	fb := c.Estimation.Fibers
	check(c.Estimation.Model != "", "estimation.model must be set")
	check(oneOf(fb.Estimation, "match", "rank"), "estimation.fibers.estimation %q is not supported", fb.Estimation)
	check(oneOf(fb.Selection, "max", "fixed", "linear", "adaptive"), "estimation.fibers.selection %q is not supported", fb.Selection)
	check(oneOf(fb.Clustering, "axial", "watson"), "estimation.fibers.clustering %q is not supported", fb.Clustering)
	check(fb.MaxComps > 0, "estimation.fibers.maxComps must be positive, got %d", fb.MaxComps)
	check(fb.Restarts > 0, "estimation.fibers.restarts must be positive, got %d", fb.Restarts)

	k := c.Kernel
	check(oneOf(k.Interp, "nearest", "trilinear", "gaussian"), "kernel.interp %q is not supported", k.Interp)
	check(k.Support >= 0, "kernel.support must not be negative, got %d", k.Support)
	check(k.HPos > 0, "kernel.hpos must be positive, got %g", k.HPos)
	check(k.HVal >= 0 && k.HSig >= 0, "kernel.hval and kernel.hsig must not be negative")

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
