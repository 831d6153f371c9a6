package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/galaxy-atlas/server/internal/config"
	"github.com/galaxy-atlas/server/internal/galaxy"
	"github.com/galaxy-atlas/server/internal/logging"
	"github.com/galaxy-atlas/server/internal/reconcile"
	"github.com/galaxy-atlas/server/internal/render"
	"github.com/galaxy-atlas/server/internal/store"
	"github.com/galaxy-atlas/server/pkg/colormap"
)

var errNeedsConfirmation = errors.New("refusing to overwrite coordinates without --yes")

// app is the state shared by subcommands, built once the flags are parsed.
type app struct {
	cfg        *config.Config
	log        *zap.Logger
	transform  *galaxy.Transform
	runner     *reconcile.Runner
	diskRadius float64
	diskHeight float64
	store      *store.Store
}

func (a *app) openStore() (*store.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	st, err := store.Open(a.cfg.Store.SQLitePath)
	if err != nil {
		return nil, err
	}
	a.store = st
	return st, nil
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
		a.store = nil
	}
	if a.log != nil {
		a.log.Sync()
	}
}

func newRootCmd(a *app) *cobra.Command {
	var (
		configPath string
		verbose    bool
	)

	root := &cobra.Command{
		Use:           "galaxyctl",
		Short:         "Operate the galaxy atlas coordinate store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			level := cfg.Log.Level
			if verbose {
				level = "debug"
			}
			logger, err := logging.New(level, true)
			if err != nil {
				return err
			}
			transform, err := cfg.Transform()
			if err != nil {
				return err
			}

			a.cfg = cfg
			a.log = logger
			a.transform = transform
			a.diskRadius, a.diskHeight = cfg.DiskBounds(transform.Regions())
			a.runner = reconcile.NewRunner(transform, reconcile.Config{
				Concurrency:   cfg.Reconcile.Concurrency,
				BatchInterval: time.Duration(cfg.Reconcile.BatchIntervalMS) * time.Millisecond,
				Logger:        logger,
			})
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config/server.yaml", "Path to configuration file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")

	root.AddCommand(
		newBatchCmd(a),
		newSweepCmd(a),
		newClearCmd(a),
		newValidateCmd(a),
		newPreviewCmd(a),
		newRegionsCmd(a),
		newImportCmd(a),
		newExportCmd(a),
	)
	return root
}

// signalContext is cancelled on SIGINT/SIGTERM so a sweep stops between batches.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newBatchCmd(a *app) *cobra.Command {
	var (
		req reconcile.BatchRequest
		yes bool
	)
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Reconcile one page of systems and print the batch result",
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.ForceRecompute && !yes {
				return errNeedsConfirmation
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			if req.BatchSize == 0 {
				req.BatchSize = a.cfg.Reconcile.BatchSize
			}
			res, err := a.runner.RunBatch(cmd.Context(), st, req)
			if res != nil {
				if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	cmd.Flags().IntVar(&req.BatchSize, "batch-size", 0, "Records per batch (default from config)")
	cmd.Flags().IntVar(&req.Offset, "offset", 0, "Offset into the pending set")
	cmd.Flags().BoolVar(&req.ForceRecompute, "force", false, "Recompute records that already have coordinates")
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm --force")
	return cmd
}

func newSweepCmd(a *app) *cobra.Command {
	var (
		batchSize int
		force     bool
		yes       bool
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Reconcile batches until nothing is pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			if force && !yes {
				return errNeedsConfirmation
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			if batchSize == 0 {
				batchSize = a.cfg.Reconcile.BatchSize
			}

			ctx, stop := signalContext(cmd)
			defer stop()

			out := cmd.OutOrStdout()
			n := 0
			sum, err := a.runner.Sweep(ctx, st, batchSize, force, func(b *reconcile.BatchResult) {
				n++
				fmt.Fprintf(out, "batch %d: %d/%d updated, %d errors, %d remaining\n", n, b.Completed, b.Total, b.Errors, b.Remaining)
			})
			fmt.Fprintf(out, "sweep %s: %d batches, %d updated, %d errors, %d remaining\n",
				sweepState(sum, err), sum.Batches, sum.Completed, sum.Errors, sum.Remaining)
			return err
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Records per batch (default from config)")
	cmd.Flags().BoolVar(&force, "force", false, "Recompute every system, overwriting existing coordinates")
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm --force")
	return cmd
}

func sweepState(sum *reconcile.SweepResult, err error) string {
	switch {
	case sum.Cancelled:
		return "cancelled"
	case err != nil:
		return "failed"
	}
	return "finished"
}

func newClearCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Reset every computed coordinate so the next sweep recomputes it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errNeedsConfirmation
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			n, err := a.runner.Clear(cmd.Context(), st, a.cfg.Reconcile.BatchSize)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %d systems\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the clear")
	return cmd
}

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check computed coordinates against the disk and their regions",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			report, err := a.runner.Validate(cmd.Context(), st, a.diskRadius, a.diskHeight, a.cfg.Reconcile.BatchSize)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if !report.OK() {
				return fmt.Errorf("%d of %d systems failed validation", report.Checked-report.Valid, report.Checked)
			}
			return nil
		},
	}
}

func newPreviewCmd(a *app) *cobra.Command {
	var (
		population     int64
		classification string
	)
	cmd := &cobra.Command{
		Use:   "preview GRID REGION NAME",
		Short: "Show where a system would be placed",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			attrs := galaxy.Attributes{Classification: classification}
			if cmd.Flags().Changed("population") {
				attrs.Population = &population
			}
			p, err := a.transform.Place(args[0], args[1], args[2], attrs)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{
				"placement":            p,
				"withinGalacticBounds": galaxy.IsWithinGalacticBounds(p.Coordinates, a.diskRadius, a.diskHeight),
			})
		},
	}
	cmd.Flags().Int64Var(&population, "population", 0, "System population")
	cmd.Flags().StringVar(&classification, "classification", "", "System classification")
	return cmd
}

func newRegionsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "regions",
		Short: "List the region table with legend colors",
		RunE: func(cmd *cobra.Command, args []string) error {
			regions := a.transform.Regions()
			legend := render.NewGalaxyRenderer(regions, render.Config{})

			profiles := append(regions.Ordered(), regions.Fallback())
			colors := make([]string, len(profiles))
			t := table.New().
				Border(lipgloss.NormalBorder()).
				Headers("REGION", "MIN RADIUS", "MAX RADIUS", "MIN HEIGHT", "MAX HEIGHT", "COLOR")
			for i, p := range profiles {
				colors[i] = colormap.Hex(legend.RegionColor(p.Name))
				t.Row(p.Name, num(p.MinRadius), num(p.MaxRadius), num(p.MinHeight), num(p.MaxHeight), colors[i])
			}
			t.StyleFunc(func(row, col int) lipgloss.Style {
				style := lipgloss.NewStyle().Padding(0, 1)
				if row >= 0 && row < len(colors) && col == 0 {
					style = style.Foreground(lipgloss.Color(colors[row]))
				}
				return style
			})

			_, err := fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			return err
		},
	}
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Upsert systems from a JSON snapshot (.json or .json.zst)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			n, err := st.ImportFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d systems\n", n)
			return nil
		},
	}
}

func newExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export FILE",
		Short: "Write every system to a JSON snapshot (.json or .json.zst)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			n, err := st.ExportFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d systems\n", n)
			return nil
		},
	}
}
