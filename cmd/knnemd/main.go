package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/TrevorS/knnemd"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/automaxprocs/maxprocs"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	Root = &cobra.Command{
		Use:           "knnemd",
		Short:         "Select highly variable features from single-cell count matrices",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	configFile = Root.PersistentFlags().String("config", "", "YAML configuration file")
	verbosity  = Root.PersistentFlags().String("verbosity", "info", "Log level: debug, info, warning, error, critical")

	selectCmd = &cobra.Command{
		Use:   "select --input counts.{npy,tsv,csv,mtx}",
		Short: "Score features and write the selection",
		Args:  cobra.NoArgs,
	}

	input        = selectCmd.Flags().String("input", "", "Count matrix, cells × features (.npy, .tsv, .csv, .mtx)")
	featuresFile = selectCmd.Flags().String("features", "", "Feature names, one per line (first column), for .npy and .mtx input")
	transpose    = selectCmd.Flags().Bool("transpose", false, "Flip the input orientation; .mtx files are read as features × cells unless set")
	output       = selectCmd.Flags().String("output", "", "Score table (TSV), stdout when empty")
	recordFile   = selectCmd.Flags().String("record", "", "Write the run record as YAML")
	neighborsOut = selectCmd.Flags().String("neighbors-out", "", "Write the neighbor index array as .npy")

	nFeatures   = selectCmd.Flags().Int("n-features", 0, "Select exactly this many features (0: automatic cutoff)")
	knn         = selectCmd.Flags().Int("knn", 0, "Neighbors per cell (0: floor(0.5*sqrt(cells)))")
	sensitivity = selectCmd.Flags().Float64("s", -0.01, "Cutoff shift as a fraction of the feature count")
	noCorrect   = selectCmd.Flags().Bool("no-background-correction", false, "Skip the randomized null model")
	nComps      = selectCmd.Flags().Int("n-comps", 0, "PCA components (0: automatic, negative: no PCA)")
	metric      = selectCmd.Flags().String("metric", knnemd.MetricCosine, "Neighbor metric")
	minkowskiP  = selectCmd.Flags().Float64("minkowski-p", 2, "Minkowski exponent")
	nWindows    = selectCmd.Flags().Int("n-windows", 25, "Mean-expression windows for detrending")
	randomState = selectCmd.Flags().Int64("random-state", 0, "Seed of the null model")
	nProcs      = selectCmd.Flags().Int("n-procs", 0, "Worker goroutines (0: GOMAXPROCS-1)")
	minKNN      = selectCmd.Flags().Int("min-knn", 0, "Smallest acceptable neighbor count")
	algorithm   = selectCmd.Flags().String("algorithm", string(knnemd.NeighborAlgorithmAuto), "Neighbor search: auto, brute, kdtree, balltree")
	leafSize    = selectCmd.Flags().Int("leaf-size", 40, "KD-tree and ball tree leaf size")
	failDegen   = selectCmd.Flags().Bool("fail-on-degenerate", false, "Fail instead of selecting nothing when no cutoff exists")

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Show knnemd version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "knnemd", version)
			return nil
		},
	}
)

// bindFlags applies configuration file and environment values to every flag
// not set on the command line.
func bindFlags(cmd *cobra.Command) error {
	var firstErr error
	apply := func(f *pflag.Flag) {
		if f.Changed || !viper.IsSet(f.Name) {
			return
		}
		if err := f.Value.Set(viper.GetString(f.Name)); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "configuration value for %s", f.Name)
		}
	}
	cmd.PersistentFlags().VisitAll(apply)
	cmd.Flags().VisitAll(apply)
	for _, sub := range cmd.Commands() {
		if err := bindFlags(sub); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func loadConfiguration(cmd *cobra.Command) error {
	viper.SetEnvPrefix("KNNEMD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if *configFile != "" {
		viper.SetConfigFile(*configFile)
		if err := viper.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "reading configuration %s", *configFile)
		}
	}
	return bindFlags(cmd)
}

func logger() zerolog.Logger {
	return knnemd.NewLogger(knnemd.Verbosity(*verbosity), nil)
}

func configFromFlags() knnemd.Config {
	cfg := knnemd.DefaultConfig()
	cfg.NFeatures = *nFeatures
	cfg.KNN = *knn
	cfg.S = *sensitivity
	cfg.BackgroundCorrection = !*noCorrect
	cfg.NComps = *nComps
	cfg.Metric = *metric
	cfg.MinkowskiP = *minkowskiP
	cfg.NWindows = *nWindows
	cfg.RandomState = *randomState
	cfg.NProcs = *nProcs
	cfg.MinKNN = *minKNN
	cfg.NeighborAlgorithm = knnemd.NeighborAlgorithm(*algorithm)
	cfg.LeafSize = *leafSize
	cfg.FailOnDegenerate = *failDegen
	cfg.Verbosity = knnemd.Verbosity(*verbosity)
	return cfg
}

func runSelect(cmd *cobra.Command, args []string) error {
	if *input == "" {
		return errors.New("--input is required")
	}
	log := logger()
	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
		log.Debug().Msgf(format, args...)
	})); err != nil {
		log.Warn().Err(err).Msg("could not adjust GOMAXPROCS")
	}

	counts, names, err := readCounts(*input, *transpose)
	if err != nil {
		return err
	}
	if *featuresFile != "" {
		if names, err = readFeatureNames(*featuresFile); err != nil {
			return err
		}
	}
	cells, features := counts.Dims()
	log.Info().Str("input", *input).Int("cells", cells).Int("features", features).Msg("loaded count matrix")

	ds := &knnemd.Dataset{X: counts, FeatureNames: names}
	cfg := configFromFlags()
	cfg.Logger = &log
	res, err := knnemd.Select(knnemd.DatasetInput(ds), cfg)
	if err != nil {
		return err
	}

	if *output == "" {
		if err := writeScores(cmd.OutOrStdout(), ds, res); err != nil {
			return errors.Wrap(err, "writing scores")
		}
	} else if err := writeScoresFile(*output, ds, res); err != nil {
		return errors.Wrap(err, "writing scores")
	}
	if *recordFile != "" {
		if err := writeRecord(*recordFile, res.Record); err != nil {
			return errors.Wrap(err, "writing run record")
		}
	}
	if *neighborsOut != "" {
		if err := writeNeighbors(*neighborsOut, res.Neighbors); err != nil {
			return errors.Wrap(err, "writing neighbors")
		}
	}
	log.Info().Int("selected", res.NumSelected()).Msg("done")
	return nil
}

func init() {
	Root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return loadConfiguration(Root)
	}
	selectCmd.RunE = runSelect
	Root.AddCommand(selectCmd, versionCmd)
}

func main() {
	if err := Root.Execute(); err != nil {
		log := logger()
		log.Error().Err(err).Msg("knnemd failed")
		os.Exit(1)
	}
}
