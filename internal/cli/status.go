package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/oybaeko/HubSpotPipeline/internal/core/domain"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent snapshots and their pipeline state",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "number of snapshots to show")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg, level := setup()
	app := buildPipeline(cfg, level)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	snapshots, err := app.Registry().List(ctx, statusLimit)
	if err != nil {
		slog.Error("Failed to list snapshots", "error", err)
		os.Exit(1)
	}

	if len(snapshots) == 0 {
		fmt.Println("No snapshots recorded.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SNAPSHOT\tSTATUS\tTRIGGERED BY\tCOMPANIES\tDEALS\tUPDATED")
	for _, s := range snapshots {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			s.SnapshotID,
			s.Status,
			s.TriggeredBy,
			s.RecordCounts[domain.KindCompanies],
			s.RecordCounts[domain.KindDeals],
			s.UpdatedAt.Format(time.RFC3339),
		)
	}
	w.Flush()
}
