// Command mnemo-agent runs the Mnemo conversational agent: a REPL chat loop
// backed by the associative memory graph, the per-turn pipeline and the
// configured language-model provider.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/crowmane/mnemo/internal/agent"
	"github.com/crowmane/mnemo/internal/config"
	"github.com/crowmane/mnemo/internal/llm"
	"github.com/crowmane/mnemo/internal/memquery"
	"github.com/crowmane/mnemo/internal/pipeline"
	"github.com/crowmane/mnemo/internal/reform"
	"github.com/crowmane/mnemo/internal/storage"
	"github.com/crowmane/mnemo/internal/storage/postgres"
	"github.com/crowmane/mnemo/internal/storage/sqlite"
)

func main() {
	chatID := flag.String("chat", "default", "Chat id to resume or start")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	retryCfg := llm.DefaultRetryConfig()
	retryCfg.MaxAttempts = cfg.Resilience.MaxAttempts
	retryCfg.CallTimeout = time.Duration(cfg.Resilience.CallTimeoutSec) * time.Second
	retryCfg.RequestsPerSecond = cfg.Resilience.RequestsPerSecond

	registry, embedder, err := buildModels(cfg, retryCfg)
	if err != nil {
		log.Fatalf("Failed to initialize models: %v", err)
	}

	primary, err := registry.Resolve(llm.RolePrimary)
	if err != nil {
		log.Fatalf("Failed to resolve primary model: %v", err)
	}
	auxiliary, err := registry.Resolve(llm.RoleAuxiliary)
	if err != nil {
		log.Fatalf("Failed to resolve auxiliary model: %v", err)
	}

	reformulator := reform.New(auxiliary)
	memStore := storage.NewEmbeddingStore(store, reformulator, embedder, cfg.Storage.EmbeddingDimension)

	queries, err := memquery.NewService(memStore, embedder, reformulator)
	if err != nil {
		log.Fatalf("Failed to initialize query service: %v", err)
	}

	executor, err := buildExecutor(cfg, queries)
	if err != nil {
		log.Fatalf("Failed to initialize pipeline executor: %v", err)
	}

	planner, err := agent.NewPlanner(queries, cfg.Agent.RetrievalTopK, cfg.Agent.RetrievalMin)
	if err != nil {
		log.Fatalf("Failed to initialize planner: %v", err)
	}

	var reflector *agent.Reflector
	if cfg.Agent.ReflectEnabled {
		reflector = agent.NewReflector(auxiliary)
	} else {
		reflector = agent.NewReflector(nil)
	}

	responder, err := agent.NewResponder(memStore, executor, primary, planner, reflector, agent.Config{
		PipelineID:       cfg.Pipeline.DefaultPipelineID,
		SystemPrompt:     cfg.Agent.SystemPrompt,
		MaxRegenerations: cfg.Agent.MaxRegenerations,
	})
	if err != nil {
		log.Fatalf("Failed to initialize responder: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("Mnemo agent ready (chat %q, model %s)", *chatID, primary.GetModel())
	runREPL(ctx, responder, *chatID)
	log.Println("Shutting down gracefully...")
}

// openStore selects the storage backend from configuration.
func openStore(cfg *config.Config) (storage.MemoryStore, error) {
	switch cfg.Storage.StorageEngine {
	case "postgres":
		return postgres.NewMemoryStore(cfg.Storage.PostgresDSN, cfg.Storage.EmbeddingDimension)
	default:
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		return sqlite.NewMemoryStore(cfg.Storage.DataPath + "/mnemo.db")
	}
}

// buildModels registers the primary and auxiliary completion models and the
// embedding client, all wrapped in the resilience layer.
func buildModels(cfg *config.Config, retryCfg llm.RetryConfig) (*llm.Registry, llm.EmbeddingGenerator, error) {
	provider := llm.ProviderConfig{
		Provider: cfg.LLM.LLMProvider,
		BaseURL:  cfg.LLM.OllamaURL,
		APIKey:   cfg.LLM.OpenAIAPIKey,
	}

	primaryCfg := provider
	auxiliaryCfg := provider
	embeddingModel := cfg.LLM.OllamaEmbeddingModel
	switch cfg.LLM.LLMProvider {
	case "openai":
		primaryCfg.Model = cfg.LLM.OpenAIModel
		auxiliaryCfg.Model = cfg.LLM.OpenAIModel
		embeddingModel = cfg.LLM.OpenAIEmbeddingModel
	default:
		primaryCfg.Model = cfg.LLM.OllamaModel
		auxiliaryCfg.Model = cfg.LLM.OllamaAuxiliaryModel
	}

	registry := llm.NewRegistry()
	for role, roleCfg := range map[string]llm.ProviderConfig{
		llm.RolePrimary:   primaryCfg,
		llm.RoleAuxiliary: auxiliaryCfg,
	} {
		gen, err := llm.NewTextGenerator(roleCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("build %s model: %w", role, err)
		}
		registry.RegisterClient(role, llm.NewResilientTextGenerator(gen, retryCfg))
	}

	rawEmbedder, err := llm.NewEmbeddingGenerator(provider, embeddingModel)
	if err != nil {
		return nil, nil, fmt.Errorf("build embedding client: %w", err)
	}
	return registry, llm.NewResilientEmbedder(rawEmbedder, retryCfg), nil
}

// buildExecutor wires the pipeline executor. With no manifest directory
// configured, a built-in chat pipeline (user input + memory retrieval) is
// registered under the configured default id.
func buildExecutor(cfg *config.Config, queries *memquery.Service) (*pipeline.Executor, error) {
	deps := pipeline.Dependencies{Retriever: &memoryRetriever{queries: queries}}

	if cfg.Pipeline.ManifestDir != "" {
		repo, err := pipeline.NewFileRepository(cfg.Pipeline.ManifestDir)
		if err != nil {
			return nil, err
		}
		return pipeline.NewExecutor(repo, deps)
	}

	repo := pipeline.NewInMemoryRepository()
	err := repo.Register(&pipeline.Manifest{
		ID:   cfg.Pipeline.DefaultPipelineID,
		Name: "Built-in chat pipeline",
		Components: []pipeline.ComponentConfig{
			{Name: "user_input", Type: pipeline.StageTypeUserInput},
			{Name: "memory_retrieval", Type: pipeline.StageTypeMemoryRetrieval, Config: map[string]interface{}{
				"max_results":              cfg.Agent.RetrievalTopK,
				"minimum_similarity_score": cfg.Agent.RetrievalMin,
			}},
		},
	})
	if err != nil {
		return nil, err
	}
	return pipeline.NewExecutor(repo, deps)
}

// memoryRetriever adapts the query service to the pipeline's retriever
// contract.
type memoryRetriever struct {
	queries *memquery.Service
}

func (r *memoryRetriever) Query(ctx context.Context, text string, topK int, minScore float64) ([]pipeline.QueryResult, error) {
	hits, err := r.queries.Query(ctx, text, topK, minScore)
	if err != nil {
		return nil, err
	}
	out := make([]pipeline.QueryResult, 0, len(hits))
	for _, h := range hits {
		out = append(out, pipeline.QueryResult{
			ID:        h.Memorygram.ID,
			Content:   h.Memorygram.Content,
			Type:      string(h.Memorygram.Type),
			Score:     h.Score,
			Timestamp: h.Memorygram.Timestamp,
		})
	}
	return out, nil
}

func runREPL(ctx context.Context, responder *agent.Responder, chatID string) {
	fmt.Println("Type a message, /history to review the chat, /quit to exit.")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("you> ")
		if !scanner.Scan() {
			return
		}
		if ctx.Err() != nil {
			return
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit", line == "/exit":
			return
		case line == "/history":
			printHistory(ctx, responder, chatID)
			continue
		}

		result, err := responder.ProcessUserMessage(ctx, chatID, line)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		fmt.Printf("mnemo> %s\n", result.ResponseText)
		if len(result.UtilizedMemoryIDs) > 0 {
			fmt.Printf("       (drew on %d memories)\n", len(result.UtilizedMemoryIDs))
		}
	}
}

func printHistory(ctx context.Context, responder *agent.Responder, chatID string) {
	history, err := responder.GetChatHistory(ctx, chatID)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	for _, m := range history {
		fmt.Printf("[%s] %s\n", m.Type, m.Content)
	}
}
