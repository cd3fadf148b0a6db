// Command rspca runs randomized sparse PCA on a CSV matrix and writes the
// loadings and scores back out as CSV.
package main

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"github.com/n0madic/go-sparse-pca/rspca"
)

// params mirrors the solver options that can come from a YAML file.
// Command-line flags override file values.
type params struct {
	Alpha      float64 `yaml:"alpha"`
	Beta       float64 `yaml:"beta"`
	Center     bool    `yaml:"center"`
	Scale      bool    `yaml:"scale"`
	MaxIter    int     `yaml:"max_iter"`
	Tol        float64 `yaml:"tol"`
	Oversample int     `yaml:"oversample"`
	PowerIters int     `yaml:"power_iters"`
	Seed       int64   `yaml:"seed"`
}

func defaultParams() params {
	return params{
		Alpha:      1e-4,
		Beta:       1e-4,
		Center:     true,
		Scale:      false,
		MaxIter:    1000,
		Tol:        1e-5,
		Oversample: 20,
		PowerIters: 2,
	}
}

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	var (
		rank        int
		configPath  string
		loadingsOut string
		scoresOut   string
		verbose     bool
	)
	p := defaultParams()

	root := &cobra.Command{
		Use:   "rspca <matrix.csv>",
		Short: "Randomized sparse principal component analysis",
		Long: "Reads a numeric CSV matrix (rows = observations, columns = variables),\n" +
			"fits sparse principal components via randomized variable projection, and\n" +
			"writes the loadings and scores as CSV. Empty and \"NA\" cells are treated\n" +
			"as missing; rows containing them are dropped with a warning.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				if err := loadParams(configPath, &p, cmd.Flags()); err != nil {
					return err
				}
			}

			x, err := readMatrix(args[0])
			if err != nil {
				return err
			}
			n, cols := x.Dims()
			log.Info().Int("rows", n).Int("cols", cols).Msg("matrix loaded")

			opts := []rspca.Option{
				rspca.WithAlpha(p.Alpha),
				rspca.WithBeta(p.Beta),
				rspca.WithCenter(p.Center),
				rspca.WithScale(p.Scale),
				rspca.WithMaxIter(p.MaxIter),
				rspca.WithTol(p.Tol),
				rspca.WithOversample(p.Oversample),
				rspca.WithPowerIters(p.PowerIters),
				rspca.WithRandomSeed(p.Seed),
			}
			if verbose {
				opts = append(opts, rspca.WithProgress(func(iter int, obj, impr float64) {
					log.Debug().
						Int("iteration", iter).
						Float64("objective", obj).
						Float64("improvement", impr).
						Msg("solver progress")
				}))
			}

			res, err := rspca.Fit(x, rank, opts...)
			if err != nil {
				return err
			}

			if res.RowsDropped > 0 {
				log.Warn().Int("rows", res.RowsDropped).Msg("rows with missing values were dropped")
			}
			log.Info().
				Bool("converged", res.Converged).
				Int("iterations", res.Iterations).
				Msg("fit finished")

			ratios := res.ExplainedVarianceRatio()
			for j := range res.Eigenvalues {
				fmt.Printf("component %d: eigenvalue %.6f, sdev %.6f, explained %.2f%%\n",
					j+1, res.Eigenvalues[j], res.Sdev[j], 100*ratios[j])
			}

			if loadingsOut != "" {
				if err := writeMatrix(loadingsOut, res.Loadings); err != nil {
					return err
				}
				log.Info().Str("path", loadingsOut).Msg("loadings written")
			}
			if scoresOut != "" {
				if err := writeMatrix(scoresOut, res.Scores); err != nil {
					return err
				}
				log.Info().Str("path", scoresOut).Msg("scores written")
			}
			return nil
		},
	}

	flags := root.Flags()
	flags.IntVarP(&rank, "rank", "k", 0, "number of sparse components (required)")
	flags.Float64Var(&p.Alpha, "alpha", p.Alpha, "L1 sparsity penalty")
	flags.Float64Var(&p.Beta, "beta", p.Beta, "ridge penalty")
	flags.BoolVar(&p.Center, "center", p.Center, "center columns")
	flags.BoolVar(&p.Scale, "scale", p.Scale, "scale columns to unit variance")
	flags.IntVar(&p.MaxIter, "max-iter", p.MaxIter, "iteration cap")
	flags.Float64Var(&p.Tol, "tol", p.Tol, "convergence tolerance")
	flags.IntVar(&p.Oversample, "oversample", p.Oversample, "extra sketch directions")
	flags.IntVar(&p.PowerIters, "power-iters", p.PowerIters, "sketch power iterations")
	flags.Int64Var(&p.Seed, "seed", 0, "sketch random seed (0 = non-deterministic)")
	flags.StringVar(&configPath, "config", "", "YAML file with solver parameters")
	flags.StringVar(&loadingsOut, "loadings", "", "output CSV for the loadings matrix")
	flags.StringVar(&scoresOut, "scores", "", "output CSV for the scores matrix")
	flags.BoolVarP(&verbose, "verbose", "v", false, "log per-iteration progress")
	cobra.CheckErr(root.MarkFlagRequired("rank"))

	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("rspca failed")
	}
}

// loadParams fills p from a YAML file, keeping values already set by
// explicit command-line flags.
func loadParams(path string, p *params, flags *pflag.FlagSet) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	fromFile := *p
	if err := yaml.Unmarshal(data, &fromFile); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	keep := map[string]bool{}
	flags.Visit(func(f *pflag.Flag) {
		keep[f.Name] = true
	})
	if !keep["alpha"] {
		p.Alpha = fromFile.Alpha
	}
	if !keep["beta"] {
		p.Beta = fromFile.Beta
	}
	if !keep["center"] {
		p.Center = fromFile.Center
	}
	if !keep["scale"] {
		p.Scale = fromFile.Scale
	}
	if !keep["max-iter"] {
		p.MaxIter = fromFile.MaxIter
	}
	if !keep["tol"] {
		p.Tol = fromFile.Tol
	}
	if !keep["oversample"] {
		p.Oversample = fromFile.Oversample
	}
	if !keep["power-iters"] {
		p.PowerIters = fromFile.PowerIters
	}
	if !keep["seed"] {
		p.Seed = fromFile.Seed
	}
	return nil
}

// readMatrix parses a numeric CSV file into a dense matrix. Empty cells and
// the literal "NA" become NaN so the solver can drop those rows.
func readMatrix(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s: empty matrix", path)
	}

	n, p := len(records), len(records[0])
	x := mat.NewDense(n, p, nil)
	for i, row := range records {
		if len(row) != p {
			return nil, fmt.Errorf("%s: row %d has %d fields, want %d", path, i+1, len(row), p)
		}
		for j, field := range row {
			if field == "" || field == "NA" {
				x.Set(i, j, math.NaN())
				continue
			}
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("%s: row %d col %d: %w", path, i+1, j+1, err)
			}
			x.Set(i, j, v)
		}
	}
	return x, nil
}

func writeMatrix(path string, m *mat.Dense) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	rows, cols := m.Dims()
	record := make([]string, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			record[j] = strconv.FormatFloat(m.At(i, j), 'g', -1, 64)
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
