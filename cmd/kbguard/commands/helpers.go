package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kbguard/kbguard-go/internal/audit"
	"github.com/kbguard/kbguard-go/internal/embedder"
	"github.com/kbguard/kbguard-go/internal/gate"
	"github.com/kbguard/kbguard-go/internal/hitl"
	"github.com/kbguard/kbguard-go/internal/rag"
	"github.com/kbguard/kbguard-go/internal/registry"
)

// defaultNamespaces is the ingestion allow-list used when KBGUARD_NAMESPACES
// is not configured.
const defaultNamespaces = "hr-policies,eng-docs,product-docs"

// buildStore connects to Qdrant using the QDRANT_* environment variables,
// sizing the collection vectors for the active embedding backend.
func buildStore(ctx context.Context, log *slog.Logger) (*rag.QdrantStore, error) {
	host := getEnvOrDefault("QDRANT_HOST", "localhost")
	port := getEnvInt("QDRANT_PORT", 6334)
	collection := getEnvOrDefault("QDRANT_COLLECTION", "kbguard-kb")
	embBackend := getEnvOrDefault("EMBEDDING_PROVIDER", getEnvOrDefault("MODEL_PROVIDER", "ollama"))
	vectorSize := uint64(embedder.DefaultDimensions(embBackend)) //nolint:gosec // dimensions are bounded

	store, err := rag.NewQdrantStore(ctx, &rag.QdrantConfig{
		Host:       host,
		Port:       port,
		Collection: collection,
		VectorSize: vectorSize,
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     os.Getenv("QDRANT_TLS") == "true",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", host, port, err)
	}
	log.Info("qdrant store ready",
		slog.String("host", host),
		slog.Int("port", port),
		slog.String("collection", collection),
	)
	return store, nil
}

// openRegistry opens the document version registry. KBGUARD_REGISTRY_DB
// overrides the default path (~/.kbguard/registry.db).
func openRegistry() (*registry.SQLiteRegistry, error) {
	path := os.Getenv("KBGUARD_REGISTRY_DB")
	if path == "" {
		var err error
		path, err = registry.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve registry path: %w", err)
		}
	}
	reg, err := registry.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry %s: %w", path, err)
	}
	return reg, nil
}

// openTrail opens the durable audit trail. KBGUARD_AUDIT_DB overrides the
// default path (~/.kbguard/audit.db).
func openTrail(log *slog.Logger) (*audit.Trail, error) {
	path := os.Getenv("KBGUARD_AUDIT_DB")
	if path == "" {
		var err error
		path, err = audit.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve audit trail path: %w", err)
		}
	}
	trail, err := audit.Open(path, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit trail %s: %w", path, err)
	}
	return trail, nil
}

// buildGate constructs the retrieval gate from GATE_* environment variables,
// falling back to the built-in thresholds for anything unset.
func buildGate() *gate.Gate {
	minChunks := getEnvInt("GATE_MIN_CHUNKS", 0)
	minScore := getEnvFloat32("GATE_MIN_SCORE", 0)
	maxAgeDays := getEnvInt("GATE_MAX_AGE_DAYS", 0)
	if minChunks == 0 && minScore == 0 && maxAgeDays == 0 {
		return gate.New()
	}
	return gate.NewWithThresholds(minChunks, minScore, time.Duration(maxAgeDays)*24*time.Hour)
}

// allowedNamespaces parses the KBGUARD_NAMESPACES allow-list.
func allowedNamespaces() []string {
	return splitList(getEnvOrDefault("KBGUARD_NAMESPACES", defaultNamespaces))
}

// confirmHighRisk consults the human-in-the-loop checker before a guarded
// operation runs. Session exemptions come from KBGUARD_AUTHORIZED_OPS
// (comma-separated operation names) and KBGUARD_URGENT_FIX=true.
func confirmHighRisk(operation string) error {
	session := hitl.SessionContext{
		AuthorizedOps: splitList(os.Getenv("KBGUARD_AUTHORIZED_OPS")),
		UrgentFix:     os.Getenv("KBGUARD_URGENT_FIX") == "true",
	}
	ok, reason := hitl.New().ShouldProceed(operation, session)
	if !ok {
		return fmt.Errorf("%s", reason)
	}
	return nil
}

// splitList splits a comma-separated value, dropping empty entries.
func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// documentMetadata assembles the contract-required metadata map from the
// ingest/update command flags. source defaults to the file path itself.
func documentMetadata(filePath, source, owner, lastUpdated, status string) map[string]string {
	if source == "" {
		source = filePath
	}
	return map[string]string{
		"source":       source,
		"owner":        owner,
		"last_updated": lastUpdated,
		"status":       status,
	}
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvFloat32 returns the float32 value of the named environment variable,
// or fallback if the variable is unset, empty, or not parseable.
func getEnvFloat32(key string, fallback float32) float32 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			return float32(f)
		}
	}
	return fallback
}
