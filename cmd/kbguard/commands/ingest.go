package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/kbguard/kbguard-go/internal/chunker"
	"github.com/kbguard/kbguard-go/internal/embedder"
	"github.com/kbguard/kbguard-go/internal/ingestion"
)

// NewIngestCmd constructs the `kbguard ingest` command, which runs a document
// through the contract-validated ingestion pipeline into the vector store.
func NewIngestCmd() *cobra.Command {
	var namespace string
	var source string
	var owner string
	var lastUpdated string
	var status string
	var chunkSize int
	var chunkOverlap int

	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Ingest a document into the knowledge base under contract validation",
		Long: `Chunk, embed, and index a local document into the Qdrant vector store.

Ingestion is all-or-nothing: preconditions (allowed namespace, required
metadata, document freshness) are checked before any write, postconditions
are verified after, and a failed postcondition rolls back every chunk that
was written. Nothing enters the knowledge base half-indexed.

Required environment variables:
  QDRANT_HOST          Qdrant server hostname (default: localhost)
  QDRANT_PORT          Qdrant gRPC port (default: 6334)
  QDRANT_COLLECTION    Collection name (default: kbguard-kb)
  QDRANT_API_KEY       Optional API key for authenticated clusters
  KBGUARD_NAMESPACES   Comma-separated namespace allow-list
  MODEL_PROVIDER       Embedding backend: ollama, openai, azure (default: ollama)
  EMBEDDING_*          Provider-specific overrides (see README)

Examples:
  kbguard ingest ./docs/leave-policy.md -n hr-policies --owner hr-team --last-updated 2026-08-01
  kbguard ingest ./handbook.md -n eng-docs --owner platform --last-updated 2026-06-15 --source https://wiki/handbook`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := slog.Default()
			filePath := args[0]

			// Non-default chunking changes retrieval behaviour for everything
			// ingested afterwards, so it needs human sign-off.
			if cmd.Flags().Changed("chunk-size") || cmd.Flags().Changed("chunk-overlap") {
				if err := confirmHighRisk("change_chunking_params"); err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
			}

			if err := embedder.ValidateForRAG(log); err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			emb, err := embedder.NewFromEnv()
			if err != nil {
				return fmt.Errorf("ingest: failed to initialise embedder: %w", err)
			}
			log.Info("embedder initialised", slog.String("provider", getEnvOrDefault("EMBEDDING_PROVIDER", getEnvOrDefault("MODEL_PROVIDER", "ollama"))))

			store, err := buildStore(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer store.Close()

			ingestor := ingestion.NewIngestor(
				allowedNamespaces(),
				store,
				chunker.New(chunkSize, chunkOverlap),
				emb,
				ingestion.FileLoader{},
			)

			metadata := documentMetadata(filePath, source, owner, lastUpdated, status)
			log.Info("starting ingestion",
				slog.String("file", filePath),
				slog.String("namespace", namespace),
				slog.String("owner", metadata["owner"]),
				slog.String("last_updated", metadata["last_updated"]),
			)

			result, err := ingestor.Ingest(ctx, filePath, namespace, metadata)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			log.Info("ingestion complete",
				slog.String("doc_id", result.DocID),
				slog.Int("chunks", result.ChunkCount),
				slog.String("namespace", result.Namespace),
			)
			fmt.Printf("ingested %s: doc_id=%s chunks=%d namespace=%s\n",
				filePath, result.DocID, result.ChunkCount, result.Namespace)
			return nil
		},
	}

	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "Knowledge domain to ingest into (required, must be allow-listed)")
	cmd.Flags().StringVar(&source, "source", "", "Source reference for the document (default: the file path)")
	cmd.Flags().StringVar(&owner, "owner", "", "Owning team responsible for the document (required)")
	cmd.Flags().StringVar(&lastUpdated, "last-updated", "", "Document last-updated date, ISO format (required)")
	cmd.Flags().StringVar(&status, "status", "approved", "Document approval status; only approved documents may be ingested")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "Chunk size budget in tokens (default: 600)")
	cmd.Flags().IntVar(&chunkOverlap, "chunk-overlap", 0, "Token overlap between consecutive chunks (default: 100)")
	_ = cmd.MarkFlagRequired("namespace")

	return cmd
}
