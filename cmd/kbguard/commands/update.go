package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/kbguard/kbguard-go/internal/chunker"
	"github.com/kbguard/kbguard-go/internal/embedder"
	"github.com/kbguard/kbguard-go/internal/ingestion"
)

// NewUpdateCmd constructs the `kbguard update` command, which ingests a new
// version of a document and deprecates the previous one.
func NewUpdateCmd() *cobra.Command {
	var namespace string
	var source string
	var owner string
	var lastUpdated string
	var status string
	var chunkSize int
	var chunkOverlap int

	cmd := &cobra.Command{
		Use:   "update [file]",
		Short: "Ingest a new document version and deprecate the old one",
		Long: `Ingest a new version of a document using add-then-deprecate semantics.

The new version is fully indexed and validated before the currently active
version is touched. Only once the new version is confirmed searchable is the
old version marked deprecated — queries keep working throughout, and a failed
update rolls the new version back without ever degrading the active one.
Every version transition is recorded in the audit trail.

Examples:
  kbguard update ./docs/leave-policy.md -n hr-policies --owner hr-team --last-updated 2026-08-28
  kbguard update ./handbook.md -n eng-docs --owner platform --last-updated 2026-08-20`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := slog.Default()
			filePath := args[0]

			// Non-default chunking changes retrieval behaviour for everything
			// ingested afterwards, so it needs human sign-off.
			if cmd.Flags().Changed("chunk-size") || cmd.Flags().Changed("chunk-overlap") {
				if err := confirmHighRisk("change_chunking_params"); err != nil {
					return fmt.Errorf("update: %w", err)
				}
			}

			if err := embedder.ValidateForRAG(log); err != nil {
				return fmt.Errorf("update: %w", err)
			}

			emb, err := embedder.NewFromEnv()
			if err != nil {
				return fmt.Errorf("update: failed to initialise embedder: %w", err)
			}

			store, err := buildStore(ctx, log)
			if err != nil {
				return fmt.Errorf("update: %w", err)
			}
			defer store.Close()

			reg, err := openRegistry()
			if err != nil {
				return fmt.Errorf("update: %w", err)
			}
			defer reg.Close()

			trail, err := openTrail(log)
			if err != nil {
				return fmt.Errorf("update: %w", err)
			}
			defer trail.Close()

			versioned := ingestion.NewVersionedIngestor(
				reg,
				chunker.New(chunkSize, chunkOverlap),
				emb,
				store,
				ingestion.FileLoader{},
				trail,
			)

			metadata := documentMetadata(filePath, source, owner, lastUpdated, status)
			log.Info("starting versioned update",
				slog.String("file", filePath),
				slog.String("namespace", namespace),
			)

			doc, err := versioned.UpdateDocument(ctx, filePath, namespace, metadata)
			if err != nil {
				return fmt.Errorf("update: %w", err)
			}

			log.Info("update complete",
				slog.String("doc_id", doc.DocID),
				slog.String("version", doc.Version),
				slog.Int("chunks", doc.ChunkCount),
			)
			fmt.Printf("updated %s: doc_id=%s version=%s chunks=%d namespace=%s\n",
				filePath, doc.DocID, doc.Version, doc.ChunkCount, doc.Namespace)
			return nil
		},
	}

	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "Knowledge domain the document belongs to (required)")
	cmd.Flags().StringVar(&source, "source", "", "Source reference for the document (default: the file path)")
	cmd.Flags().StringVar(&owner, "owner", "", "Owning team responsible for the document (required)")
	cmd.Flags().StringVar(&lastUpdated, "last-updated", "", "Document last-updated date, ISO format (required)")
	cmd.Flags().StringVar(&status, "status", "approved", "Document approval status; only approved documents may be ingested")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "Chunk size budget in tokens (default: 600)")
	cmd.Flags().IntVar(&chunkOverlap, "chunk-overlap", 0, "Token overlap between consecutive chunks (default: 100)")
	_ = cmd.MarkFlagRequired("namespace")

	return cmd
}
