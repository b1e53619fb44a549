package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"qitkit/pkg/config"
	"qitkit/pkg/logging"
)

const usage = `qitkit: quantitative imaging model estimation

Usage:
  qitkit <command> [flags]

Commands:
  cluster      cluster the vectors of a CSV file
  estimate     compute the weighted consensus of model encodings
  interpolate  evaluate a model volume at arbitrary coordinates
  init-config  write a default configuration file

Run "qitkit <command> -h" for the flags of a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "cluster":
		err = runCluster(args)
	case "estimate":
		err = runEstimate(args)
	case "interpolate":
		err = runInterpolate(args)
	case "init-config":
		err = runInitConfig(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", cmd, err)
		os.Exit(1)
	}
}

// common holds the flags shared by every processing command.
type common struct {
	configPath *string
	verbose    *bool
}

func addCommon(fs *flag.FlagSet) common {
	return common{
		configPath: fs.String("config", "qitkit.yaml", "Configuration file (defaults are used when missing)"),
		verbose:    fs.Bool("verbose", false, "Enable debug logging"),
	}
}

// setup loads and validates the configuration and builds the logger.
func (c common) setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(*c.configPath)
	if err != nil {
		return nil, nil, err
	}
	if *c.verbose {
		cfg.Output.Verbose = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger := logging.New(logging.Options{
		Verbose:   cfg.Output.Verbose,
		File:      cfg.Output.LogFile,
		MaxSizeMB: cfg.Output.LogMaxSizeMB,
	})
	return cfg, logger, nil
}

func runInitConfig(args []string) error {
	fs := flag.NewFlagSet("init-config", flag.ExitOnError)
	path := fs.String("config", "qitkit.yaml", "Path of the configuration file to create")
	force := fs.Bool("force", false, "Overwrite an existing file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := os.Stat(*path); err == nil && !*force {
		return fmt.Errorf("%s already exists, use -force to overwrite it", *path)
	}
	if err := config.CreateDefaultConfigFile(*path); err != nil {
		return err
	}
	fmt.Printf("Default configuration written to: %s\n", *path)
	return nil
}

func since(start time.Time) zap.Field {
	return zap.Duration("elapsed", time.Since(start))
}
