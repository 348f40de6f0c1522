package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kbguard/kbguard-go/internal/logging"
)

// NewAuditCmd constructs the `kbguard audit` command, which prints recent
// entries from the durable audit trail.
func NewAuditCmd() *cobra.Command {
	var limit int
	var updates bool

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent audit trail entries",
		Long: `Show the most recent entries from the durable audit trail.

By default the trail of answered (and blocked) queries is shown: question,
gate status, grounding documents, and answer preview. Pass --updates to show
document version transitions instead.

Examples:
  kbguard audit
  kbguard audit -l 50
  kbguard audit --updates`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			trail, err := openTrail(log)
			if err != nil {
				return fmt.Errorf("audit: %w", err)
			}
			defer trail.Close()

			if updates {
				entries, err := trail.RecentVersionUpdates(ctx, limit)
				if err != nil {
					return fmt.Errorf("audit: %w", err)
				}
				for _, e := range entries {
					old := e.OldDocID
					if old == "" {
						old = "(first version)"
					}
					fmt.Printf("%s  %s  %s -> %s\n",
						e.CreatedAt.Format("2006-01-02 15:04:05"), e.SourcePath, old, e.NewDocID)
				}
				return nil
			}

			records, err := trail.RecentQueries(ctx, limit)
			if err != nil {
				return fmt.Errorf("audit: %w", err)
			}
			for _, r := range records {
				fmt.Printf("%s  [%s]  %q\n",
					r.CreatedAt.Format("2006-01-02 15:04:05"), r.GateStatus, r.Question)
				if len(r.DocIDs) > 0 {
					fmt.Printf("  docs: %s\n", strings.Join(r.DocIDs, ", "))
				}
				if r.AnswerPreview != "" {
					fmt.Printf("  answer: %s\n", r.AnswerPreview)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "Maximum number of entries to show")
	cmd.Flags().BoolVar(&updates, "updates", false, "Show document version transitions instead of queries")

	return cmd
}
