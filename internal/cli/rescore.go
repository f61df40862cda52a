package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/oybaeko/HubSpotPipeline/internal/scoring"
)

var rescoreAll bool

var rescoreCmd = &cobra.Command{
	Use:   "rescore [snapshot-id]",
	Short: "Recompute scoring for a snapshot (or all scored snapshots)",
	Long: `Recomputes pipeline units and score history for a snapshot whose
scoring already ran. Recomputation replaces previous output atomically, so
running it twice leaves the warehouse unchanged.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runRescore,
}

func init() {
	rescoreCmd.Flags().BoolVar(&rescoreAll, "all", false, "rescore every snapshot with completed scoring")
	rootCmd.AddCommand(rescoreCmd)
}

func runRescore(cmd *cobra.Command, args []string) {
	if !rescoreAll && len(args) == 0 {
		slog.Error("Provide a snapshot ID or pass --all")
		os.Exit(1)
	}

	cfg, level := setup()
	app := buildPipeline(cfg, level)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if rescoreAll {
		results, err := app.Orchestrator().RescoreAll(ctx)
		if err != nil {
			slog.Error("Rescore failed", "error", err)
			os.Exit(1)
		}
		for _, r := range results {
			printResult(r)
		}
		slog.Info("Rescore complete", "snapshots", len(results))
		return
	}

	result, err := app.Orchestrator().ProcessSnapshot(ctx, args[0], scoring.Options{Recompute: true})
	if err != nil {
		slog.Error("Rescore failed", "snapshot", args[0], "error", err)
		os.Exit(1)
	}
	printResult(result)
}

func printResult(r *scoring.Result) {
	fmt.Printf("%s  status=%s units=%d history=%d elapsed=%s\n",
		r.SnapshotID, r.Status, r.Units, r.History, r.Elapsed.Round(time.Millisecond))
}
