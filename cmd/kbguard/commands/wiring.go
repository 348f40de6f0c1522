package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/cloudwego/eino/components/model"

	"github.com/kbguard/kbguard-go/internal/embedder"
	"github.com/kbguard/kbguard-go/internal/provider"
	"github.com/kbguard/kbguard-go/internal/query"
	"github.com/kbguard/kbguard-go/internal/rag"
	"github.com/kbguard/kbguard-go/internal/shield"
)

// queryDeps bundles everything a query-serving command needs: the assembled
// pipeline plus the underlying components the serve command probes for
// readiness.
type queryDeps struct {
	pipeline    *query.Pipeline
	chatModel   model.ToolCallingChatModel
	providerCfg *provider.Config
	store       *rag.QdrantStore

	// close releases the store and audit trail. Safe to call once.
	close func()
}

// buildQueryPipeline wires the full governed query path from environment
// configuration: embedder, vector store, retrieval gate, LLM generator under
// the model policy ceiling, hallucination shield, and audit trail.
//
// A missing audit trail is downgraded to a warning — the pipeline itself
// complains loudly on every unaudited query.
func buildQueryPipeline(ctx context.Context, log *slog.Logger, metrics *query.Metrics) (*queryDeps, error) {
	providerCfg := provider.ConfigFromEnv()
	chatModel, err := provider.New(ctx, providerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise model provider: %w", err)
	}
	log.Info("provider initialised",
		slog.String("provider", string(providerCfg.Backend)),
		slog.String("model", providerCfg.ModelName()),
	)

	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}

	store, err := buildStore(ctx, log)
	if err != nil {
		return nil, err
	}

	cleanup := func() { _ = store.Close() }

	var auditLogger query.AuditLogger
	trail, err := openTrail(log)
	if err != nil {
		log.Warn("audit trail unavailable, queries will not be recorded", slog.Any("error", err))
	} else {
		auditLogger = trail
		storeClose := cleanup
		cleanup = func() {
			_ = trail.Close()
			storeClose()
		}
	}

	var validator query.AnswerValidator
	if os.Getenv("KBGUARD_SHIELD_DISABLED") == "true" {
		log.Warn("hallucination shield disabled via KBGUARD_SHIELD_DISABLED")
	} else {
		validator = shield.New(emb)
	}

	generator := query.NewGeneratorWithTuning(
		chatModel,
		providerCfg.ModelName(),
		providerCfg.Tuning.Temperature,
		providerCfg.Tuning.MaxTokens,
	)

	pipeline, err := query.New(query.Config{
		Embedder:  emb,
		Store:     store,
		Generator: generator,
		Gate:      buildGate(),
		Shield:    validator,
		Audit:     auditLogger,
		Metrics:   metrics,
		Logger:    log,
	})
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to assemble query pipeline: %w", err)
	}

	return &queryDeps{
		pipeline:    pipeline,
		chatModel:   chatModel,
		providerCfg: providerCfg,
		store:       store,
		close:       cleanup,
	}, nil
}
