package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/solvmd/internal/analysis"
	"github.com/san-kum/solvmd/internal/config"
	"github.com/san-kum/solvmd/internal/dynamo"
	"github.com/san-kum/solvmd/internal/experiment"
	"github.com/san-kum/solvmd/internal/sampler"
	"github.com/san-kum/solvmd/internal/sim"
	"github.com/san-kum/solvmd/internal/storage"
	"github.com/san-kum/solvmd/internal/tui"
)

var (
	dataDir    string
	configFile string
	preset     string
	seed       uint64
	workers    int
	backend    string
	equilSteps int64
	prodSteps  int64
	resumeID   string
	live       bool
	quiet      bool
	phase      string
	numRuns    int
	benchReps  int

	plotColumns    []string
	csvColumns     []string
	analyzeColumns []string
)

// main registers the solvmd commands. A canceled run exits with status 130,
// any other failure with status 1.
func main() {
	rootCmd := &cobra.Command{
		Use:           "solvmd",
		Short:         "solute-in-solvent molecular dynamics",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".solvmd", "data directory")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "minimize, equilibrate and sample a system",
		Args:  cobra.NoArgs,
		RunE:  runSimulation,
	}
	addConfigFlags(runCmd)
	runCmd.Flags().Int64Var(&equilSteps, "equilibrate", 0, "equilibration steps")
	runCmd.Flags().Int64Var(&prodSteps, "produce", 0, "production steps")
	runCmd.Flags().StringVar(&resumeID, "resume", "", "continue a canceled run from its checkpoint")
	runCmd.Flags().BoolVar(&live, "live", false, "show a live monitor")
	runCmd.Flags().BoolVar(&quiet, "quiet", false, "log to the run directory only")
	runCmd.MarkFlagsMutuallyExclusive("resume", "config")
	runCmd.MarkFlagsMutuallyExclusive("resume", "preset")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		RunE:  listRuns,
	}

	showCmd := &cobra.Command{
		Use:   "show [run_id]",
		Short: "print run metadata",
		Args:  cobra.ExactArgs(1),
		RunE:  showRun,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot thermo columns of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().StringSliceVar(&plotColumns, "columns", []string{"temp", "pe", "etot"}, "columns to plot")

	exportCSVCmd := &cobra.Command{
		Use:   "export-csv [run_id]",
		Short: "export thermo data to CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return storage.New(dataDir).ExportCSV(os.Stdout, args[0], csvColumns)
		},
	}
	exportCSVCmd.Flags().StringSliceVar(&csvColumns, "columns", nil, "columns to export")

	exportJSONCmd := &cobra.Command{
		Use:   "export-json [run_id]",
		Short: "export run metadata and thermo data to JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return storage.New(dataDir).ExportJSON(os.Stdout, args[0])
		},
	}

	analyzeCmd := &cobra.Command{
		Use:   "analyze [run_id]",
		Short: "correlation-corrected averages of thermo columns",
		Args:  cobra.ExactArgs(1),
		RunE:  analyzeRun,
	}
	analyzeCmd.Flags().StringSliceVar(&analyzeColumns, "columns", []string{"temp", "pe", "etot", "press"}, "columns to analyze")
	analyzeCmd.Flags().StringVar(&phase, "phase", "producing", "only rows of this phase (empty for all)")

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list available presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range config.ListPresets() {
				fmt.Printf("  %s\n", p)
			}
			return nil
		},
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "print a configuration as YAML",
		RunE:  printConfig,
	}
	configCmd.Flags().StringVar(&preset, "preset", "", "preset to print")

	benchCmd := &cobra.Command{
		Use:   "bench",
		Short: "time neighbor builds and pair forces on each backend",
		RunE:  benchBackends,
	}
	addConfigFlags(benchCmd)
	benchCmd.Flags().IntVar(&benchReps, "reps", 50, "force evaluations per backend")

	ensembleCmd := &cobra.Command{
		Use:   "ensemble",
		Short: "run seed replicas and summarize their metrics",
		RunE:  runEnsemble,
	}
	addConfigFlags(ensembleCmd)
	ensembleCmd.Flags().Int64Var(&equilSteps, "equilibrate", 0, "equilibration steps")
	ensembleCmd.Flags().Int64Var(&prodSteps, "produce", 0, "production steps")
	ensembleCmd.Flags().IntVar(&numRuns, "runs", 4, "number of replicas")

	sweepCmd := &cobra.Command{
		Use:   "sweep [param] [min] [max] [points]",
		Short: "run a configuration across values of one parameter",
		Args:  cobra.ExactArgs(4),
		RunE:  runSweep,
	}
	addConfigFlags(sweepCmd)
	sweepCmd.Flags().Int64Var(&equilSteps, "equilibrate", 0, "equilibration steps")
	sweepCmd.Flags().Int64Var(&prodSteps, "produce", 0, "production steps")

	rootCmd.AddCommand(runCmd, listCmd, showCmd, plotCmd, analyzeCmd, exportCSVCmd, exportJSONCmd, presetsCmd, configCmd, benchCmd, ensembleCmd, sweepCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if errors.Is(err, dynamo.ErrCanceled) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}

func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	cmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")
	cmd.Flags().Uint64Var(&seed, "seed", config.DefaultSeed, "random seed")
	cmd.Flags().IntVar(&workers, "workers", 0, "force workers (0 for one per CPU)")
	cmd.Flags().StringVar(&backend, "backend", "", "force backend")
	cmd.MarkFlagsMutuallyExclusive("config", "preset")
}

// loadConfig resolves the base configuration and applies flags the user set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	switch {
	case configFile != "":
		c, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = c
	case preset != "":
		cfg = config.GetPreset(preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
	}

	flags := cmd.Flags()
	if flags.Changed("seed") {
		cfg.Seed = seed
	}
	if flags.Changed("workers") {
		cfg.Workers = workers
	}
	if flags.Changed("backend") {
		cfg.Backend = backend
	}
	if flags.Changed("equilibrate") {
		cfg.Phases.Equilibrate = equilSteps
	}
	if flags.Changed("produce") {
		cfg.Phases.Produce = prodSteps
	}
	return cfg, cfg.Validate()
}

func particleCount(cfg *config.Config) int {
	n := 0
	for _, sp := range cfg.Species {
		n += sp.Count
	}
	return n
}

func runSimulation(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)

	var (
		cfg *config.Config
		run *storage.Run
		cp  *dynamo.Checkpoint
		err error
	)
	if resumeID != "" {
		raw, err := st.LoadConfig(resumeID)
		if err != nil {
			return err
		}
		if cfg, err = config.Parse(raw); err != nil {
			return err
		}
		if cp, err = st.LoadCheckpoint(resumeID); err != nil {
			return err
		}
		if err := cp.Resumable(); err != nil {
			return fmt.Errorf("resume %s: %w", resumeID, err)
		}
		if run, err = st.Open(resumeID); err != nil {
			return err
		}
	} else {
		if cfg, err = loadConfig(cmd); err != nil {
			return err
		}
		raw, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		run, err = st.Create(storage.RunMetadata{
			Name:        cfg.Name,
			Seed:        cfg.Seed,
			Dt:          cfg.Dt,
			Temperature: cfg.Temperature,
			Particles:   particleCount(cfg),
		}, raw)
		if err != nil {
			return err
		}
	}

	logFile, err := os.OpenFile(run.Path("run.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		run.Close()
		return err
	}
	defer logFile.Close()
	var logOut io.Writer = logFile
	if !quiet && !live {
		logOut = io.MultiWriter(os.Stderr, logFile)
	}
	logger := log.New(logOut, "", log.LstdFlags)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sinks := []sampler.RowSink{run}
	var mon *tui.Monitor
	monDone := make(chan error, 1)
	if live {
		mon = tui.NewMonitor(fmt.Sprintf("%s  %s", cfg.Name, run.ID()), 256, cancel)
		sinks = append(sinks, mon)
		go func() { monDone <- mon.Run(ctx) }()
	}

	exp, err := experiment.New(cfg, experiment.Options{
		Logger:       logger,
		OutputDir:    run.Dir(),
		Appending:    cp != nil,
		Sinks:        sinks,
		Checkpointer: run,
	})
	if err == nil && cp != nil {
		err = exp.Resume(cp)
	}
	if err != nil {
		if mon != nil {
			mon.Finish(err)
			<-monDone
		}
		ferr := run.Finish(dynamo.Failed, 0, nil, err)
		return errors.Join(err, ferr)
	}

	if !quiet && !live {
		fmt.Printf("running %s (%d particles) as %s\n", cfg.Name, exp.System.Len(), run.ID())
	}
	start := time.Now()
	result, runErr := exp.Run(ctx)
	elapsed := time.Since(start)

	if mon != nil {
		mon.Finish(runErr)
		if err := <-monDone; err != nil {
			logger.Printf("live monitor: %v", err)
		}
	}

	if err := run.Finish(result.Phase, result.Steps, result.Metrics, runErr); err != nil {
		return errors.Join(runErr, err)
	}
	if runErr != nil {
		if errors.Is(runErr, dynamo.ErrCanceled) {
			fmt.Printf("canceled at step %d; resume with: solvmd run --resume %s\n", result.Steps, run.ID())
		}
		return runErr
	}

	printResult(run.ID(), elapsed, result)
	return nil
}

func printResult(runID string, elapsed time.Duration, result *sim.Result) {
	fmt.Printf("completed in %v\n", elapsed)
	fmt.Printf("run id: %s\n", runID)
	fmt.Printf("steps: %d  time: %.4g\n", result.Steps, result.Time)
	if m := result.Minimize; m != nil {
		fmt.Printf("minimize: %s after %d iterations, energy %.6g -> %.6g\n",
			m.Reason, m.Iterations, m.InitialEnergy, m.FinalEnergy)
	}
	fmt.Println("\nmetrics:")
	names := make([]string, 0, len(result.Metrics))
	for name := range result.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %s: %.6f\n", name, result.Metrics[name])
	}
}

func listRuns(cmd *cobra.Command, args []string) error {
	runs, err := storage.New(dataDir).List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTIME\tN\tSEED\tPHASE\tSTEP")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%d\n",
			run.ID,
			run.Name,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Particles,
			run.Seed,
			run.Phase,
			run.Step,
		)
	}
	return w.Flush()
}

func showRun(cmd *cobra.Command, args []string) error {
	meta, err := storage.New(dataDir).Load(args[0])
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(meta)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]
	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	rows, err := st.LoadThermo(runID)
	if err != nil {
		return err
	}
	if len(rows) < 2 {
		return fmt.Errorf("no data to plot")
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("phase: %s\n", meta.Phase)
	fmt.Printf("samples: %d\n\n", len(rows))

	for _, col := range plotColumns {
		data, err := storage.Column(rows, col)
		if err != nil {
			return err
		}
		graph := asciigraph.Plot(data,
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(col+" vs step"),
		)
		fmt.Println(graph)
		fmt.Println()
	}
	return nil
}

func analyzeRun(cmd *cobra.Command, args []string) error {
	rows, err := storage.New(dataDir).LoadThermo(args[0])
	if err != nil {
		return err
	}
	if phase != "" {
		kept := rows[:0]
		for _, r := range rows {
			if r.Phase == phase {
				kept = append(kept, r)
			}
		}
		rows = kept
	}
	if len(rows) < 2 {
		return fmt.Errorf("not enough %s rows to analyze", phase)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COLUMN\tN\tMEAN\tSTDDEV\tTAU\tNEFF\tSTDERR")
	var first []float64
	for _, col := range analyzeColumns {
		data, err := storage.Column(rows, col)
		if err != nil {
			return err
		}
		if first == nil {
			first = data
		}
		s := analysis.Analyze(data)
		fmt.Fprintf(w, "%s\t%d\t%.6g\t%.4g\t%.2f\t%.1f\t%.4g\n", col, s.N, s.Mean, s.StdDev, s.Tau, s.NEff, s.StdErr)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(first) > 2 {
		acf := analysis.Autocorrelation(first, min(len(first)/2, 200))
		fmt.Println()
		fmt.Println(asciigraph.Plot(acf,
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(analyzeColumns[0]+" autocorrelation vs lag (rows)"),
		))
	}
	return nil
}

func printConfig(cmd *cobra.Command, args []string) error {
	cfg := config.DefaultConfig()
	if preset != "" {
		if cfg = config.GetPreset(preset); cfg == nil {
			return fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}

func benchBackends(cmd *cobra.Command, args []string) error {
	base, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	base.Output = config.OutputConfig{}

	registry := experiment.NewRegistry()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BACKEND\tWORKERS\tPAIRS\tBUILD\tFORCE\tEVALS/SEC")

	for _, name := range registry.ListBackends() {
		cfg := base.Clone()
		cfg.Backend = name
		b, err := registry.GetBackend(name, cfg.Workers)
		if err != nil {
			return err
		}
		exp, err := experiment.New(cfg, experiment.Options{})
		if err != nil {
			return err
		}
		ctx := exp.Context
		nb := exp.Pair.Neighbors()
		nb.Invalidate()

		start := time.Now()
		if _, _, err := nb.Update(exp.System, ctx.Step, true); err != nil {
			return err
		}
		build := time.Since(start)

		start = time.Now()
		for i := 0; i < benchReps; i++ {
			exp.System.ZeroForces()
			if _, _, err := exp.Pair.Compute(ctx); err != nil {
				return err
			}
		}
		force := time.Since(start)
		perEval := force / time.Duration(max(benchReps, 1))

		fmt.Fprintf(w, "%s\t%d\t%d\t%v\t%v\t%.0f\n",
			name, b.Workers(), nb.Current().Pairs(), build, perEval, float64(benchReps)/force.Seconds())
	}
	return w.Flush()
}

func runEnsemble(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if numRuns < 1 {
		return fmt.Errorf("runs must be at least 1")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("running %d replicas of %s from seed %d\n", numRuns, cfg.Name, cfg.Seed)
	start := time.Now()
	results, err := experiment.NewEnsemble(cfg, numRuns, cfg.Seed).Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("completed in %v\n\n", time.Since(start))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "METRIC\tMEAN\tSTDERR\tN")
	for _, s := range experiment.Summarize(results) {
		fmt.Fprintf(w, "%s\t%.6f\t%.6f\t%d\n", s.Name, s.Mean, s.StdErr, s.N)
	}
	return w.Flush()
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	lo, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("min: %w", err)
	}
	hi, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return fmt.Errorf("max: %w", err)
	}
	points, err := strconv.Atoi(args[3])
	if err != nil {
		return fmt.Errorf("points: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sw := &experiment.Sweep{Base: cfg, ParamName: args[0], ParamMin: lo, ParamMax: hi, NumSteps: points}
	results, err := sw.Run(ctx)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\tTEMP\tPE\tETOT\tPRESS\tPHASE\n", strings.ToUpper(args[0]))
	for _, r := range results {
		m := r.Metrics
		fmt.Fprintf(w, "%g\t%.4f\t%.4f\t%.4f\t%.4f\t%s\n", r.ParamValue, m["temp_avg"], m["pe_avg"], m["etot_avg"], m["press_avg"], r.Phase)
	}
	if ferr := w.Flush(); ferr != nil {
		return errors.Join(err, ferr)
	}
	return err
}
