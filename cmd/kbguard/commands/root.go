// Package commands defines all Cobra CLI commands for the kbguard binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/kbguard/kbguard-go/internal/audit"
	"github.com/kbguard/kbguard-go/internal/config"
	"github.com/kbguard/kbguard-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kbguard",
		Short: "kbguard — governed RAG knowledge base with contract-checked ingestion",
		Long: `kbguard is a knowledge base governance pipeline for RAG systems.

It ingests documents into a Qdrant vector store under contract validation
(required metadata, freshness, namespace allow-lists), versions updates with
add-then-deprecate semantics, and answers questions through a retrieval gate
and hallucination shield so the model only speaks when the knowledge base
can back it up.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.kbguard/config.yaml).
See 'kbguard --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.kbguard/config.yaml)")

	root.AddCommand(
		NewIngestCmd(),
		NewUpdateCmd(),
		NewAskCmd(),
		NewServeCmd(),
		NewDriftCmd(),
		NewAuditCmd(),
		NewVersionCmd(),
	)

	return root
}
