package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kbguard/kbguard-go/internal/logging"
)

// NewAskCmd constructs the `kbguard ask` command, which answers a single
// question through the full governed query pipeline and prints the result.
func NewAskCmd() *cobra.Command {
	var namespace string

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask the knowledge base a question",
		Long: `Ask a natural language question against one knowledge namespace.

The question runs through the full governance pipeline: retrieval is
validated by the gate (enough chunks, relevant, fresh, not deprecated)
before any model call, and the generated answer is checked by the
hallucination shield before it is shown. When the knowledge base cannot
back an answer, you get a refusal with the reason instead of a guess.

Examples:
  kbguard ask -n hr-policies "how many annual leave days do employees get?"
  kbguard ask -n eng-docs "what is our database migration process?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			deps, err := buildQueryPipeline(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer deps.close()

			resp, err := deps.pipeline.Answer(ctx, args[0], namespace)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			fmt.Println(resp.Answer)
			if len(resp.Sources) > 0 {
				fmt.Printf("\nsources: %v\n", resp.Sources)
			}
			if resp.Reliability > 0 {
				fmt.Printf("reliability: %.2f\n", resp.Reliability)
			}
			for _, w := range resp.Warnings {
				fmt.Printf("warning: %s\n", w)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "Knowledge domain to query (required)")
	_ = cmd.MarkFlagRequired("namespace")

	return cmd
}
