package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kbguard/kbguard-go/internal/drift"
	"github.com/kbguard/kbguard-go/internal/logging"
)

// NewDriftCmd constructs the `kbguard drift` command, which scans the
// document registry for knowledge base decay and prints a per-namespace
// health report.
func NewDriftCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drift",
		Short: "Scan the knowledge base for staleness and deprecated buildup",
		Long: `Scan every namespace in the document registry for drift.

A namespace is flagged when its fresh-document ratio drops below the warning
(75%) or critical (60%) threshold, or when deprecated versions exceed 10% of
its records. Critical and warning namespaces raise alerts through the
structured log; the full report is printed as JSON.

Intended to run on a schedule, e.g. a weekly cron:
  0 9 * * 1 kbguard drift`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			reg, err := openRegistry()
			if err != nil {
				return fmt.Errorf("drift: %w", err)
			}
			defer reg.Close()

			detector := drift.New(reg, drift.LogAlerter{Log: log})
			report, err := detector.Scan(ctx)
			if err != nil {
				return fmt.Errorf("drift: scan failed: %w", err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return fmt.Errorf("drift: failed to encode report: %w", err)
			}
			return nil
		},
	}

	return cmd
}
