package docfuse

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/docfuse/docfuse"
	"github.com/docfuse/docfuse/pkg/batch"
	"github.com/docfuse/docfuse/pkg/config"
	"github.com/docfuse/docfuse/pkg/embedder"
	"github.com/docfuse/docfuse/pkg/governor"
	"github.com/docfuse/docfuse/pkg/nlp"
	"github.com/docfuse/docfuse/pkg/ocr"
	"github.com/docfuse/docfuse/pkg/rerank"
	"github.com/docfuse/docfuse/pkg/search"
	"github.com/docfuse/docfuse/pkg/server"
	"github.com/docfuse/docfuse/pkg/status"
	"github.com/docfuse/docfuse/pkg/store"
	"github.com/docfuse/docfuse/pkg/telemetry"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the DocFuse HTTP server",
	Long: `Start the DocFuse HTTP server to provide REST API access to the
ingestion pipeline and the hybrid retrieval engine.

The server provides endpoints for:
- Submitting documents for ingestion
- Checking per-document ingestion status
- Querying with evidence fusion and optional answer synthesis
- Health checks

Configuration can be provided through config files, environment variables, or command-line flags.`,
	RunE: runServer,
}

var (
	serverHost string
	serverPort int
	serverMode string
)

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().StringVar(&serverHost, "host", "localhost", "Server host")
	serverCmd.Flags().IntVar(&serverPort, "port", 8080, "Server port")
	serverCmd.Flags().StringVar(&serverMode, "mode", "debug", "Server mode (debug, release, test)")

	// Store flags
	serverCmd.Flags().String("lexical-path", "", "SQLite database path for the lexical index")
	serverCmd.Flags().String("graph-uri", "", "Neo4j URI")
	serverCmd.Flags().String("graph-username", "", "Neo4j username")
	serverCmd.Flags().String("graph-password", "", "Neo4j password")
	serverCmd.Flags().String("vector-host", "", "Qdrant host")
	serverCmd.Flags().Int("vector-port", 0, "Qdrant gRPC port")
	serverCmd.Flags().String("vector-collection", "", "Qdrant collection name")

	// NLP flags
	serverCmd.Flags().String("nlp-model", "", "Language model name")
	serverCmd.Flags().String("nlp-api-key", "", "Language model API key")
	serverCmd.Flags().String("nlp-base-url", "", "Language model base URL")

	// Embedding flags
	serverCmd.Flags().String("embedding-model", "", "Embedding model name")
	serverCmd.Flags().String("embedding-api-key", "", "Embedding API key")
	serverCmd.Flags().String("embedding-base-url", "", "Embedding base URL")

	// OCR flags
	serverCmd.Flags().String("ocr-endpoint", "", "OCR service endpoint (empty disables OCR)")

	// Telemetry flags
	serverCmd.Flags().String("telemetry-parquet-path", "", "Directory for parquet telemetry output")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	overrideConfigWithFlags(cmd, cfg)

	if err := validateServerConfig(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	client, cleanup, err := initializeClient(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize docfuse: %w", err)
	}
	defer cleanup()

	srv := server.New(cfg, client)
	srv.Setup()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			serverErrChan <- err
		}
	}()
	logger.Info("server started", "host", cfg.Server.Host, "port", cfg.Server.Port)

	select {
	case err := <-serverErrChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		logger.Info("shutting down", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		logger.Info("server stopped gracefully")
		return nil
	}
}

func overrideConfigWithFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serverHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = serverPort
	}
	if cmd.Flags().Changed("mode") {
		cfg.Server.Mode = serverMode
	}

	if cmd.Flags().Changed("lexical-path") {
		cfg.Lexical.Path, _ = cmd.Flags().GetString("lexical-path")
	}
	if cmd.Flags().Changed("graph-uri") {
		cfg.Graph.URI, _ = cmd.Flags().GetString("graph-uri")
	}
	if cmd.Flags().Changed("graph-username") {
		cfg.Graph.Username, _ = cmd.Flags().GetString("graph-username")
	}
	if cmd.Flags().Changed("graph-password") {
		cfg.Graph.Password, _ = cmd.Flags().GetString("graph-password")
	}
	if cmd.Flags().Changed("vector-host") {
		cfg.Vector.Host, _ = cmd.Flags().GetString("vector-host")
	}
	if cmd.Flags().Changed("vector-port") {
		cfg.Vector.Port, _ = cmd.Flags().GetInt("vector-port")
	}
	if cmd.Flags().Changed("vector-collection") {
		cfg.Vector.Collection, _ = cmd.Flags().GetString("vector-collection")
	}

	if cmd.Flags().Changed("nlp-model") {
		cfg.NLP.Model, _ = cmd.Flags().GetString("nlp-model")
	}
	if cmd.Flags().Changed("nlp-api-key") {
		cfg.NLP.APIKey, _ = cmd.Flags().GetString("nlp-api-key")
	}
	if cmd.Flags().Changed("nlp-base-url") {
		cfg.NLP.BaseURL, _ = cmd.Flags().GetString("nlp-base-url")
	}

	if cmd.Flags().Changed("embedding-model") {
		cfg.Embedding.Model, _ = cmd.Flags().GetString("embedding-model")
	}
	if cmd.Flags().Changed("embedding-api-key") {
		cfg.Embedding.APIKey, _ = cmd.Flags().GetString("embedding-api-key")
	}
	if cmd.Flags().Changed("embedding-base-url") {
		cfg.Embedding.BaseURL, _ = cmd.Flags().GetString("embedding-base-url")
	}

	if cmd.Flags().Changed("ocr-endpoint") {
		cfg.OCR.Endpoint, _ = cmd.Flags().GetString("ocr-endpoint")
	}

	if cmd.Flags().Changed("telemetry-parquet-path") {
		cfg.Telemetry.ParquetPath, _ = cmd.Flags().GetString("telemetry-parquet-path")
		cfg.Telemetry.Enabled = true
	}
}

func validateServerConfig(cfg *config.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Server.Port)
	}
	if cfg.NLP.APIKey == "" {
		return fmt.Errorf("language model API key is required (nlp.api_key or OPENAI_API_KEY)")
	}
	if cfg.Embedding.APIKey == "" {
		return fmt.Errorf("embedding API key is required (embedding.api_key or OPENAI_API_KEY)")
	}
	if cfg.Lexical.Path == "" {
		return fmt.Errorf("lexical store path is required")
	}
	return nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// initializeClient builds the stores and capability clients from config and
// wires them into a docfuse client. The returned cleanup closes everything
// in reverse order of construction.
func initializeClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*docfuse.Client, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*docfuse.Client, func(), error) {
		cleanup()
		return nil, nil, err
	}

	lexical, err := store.NewSQLiteLexicalStore(cfg.Lexical.Path)
	if err != nil {
		return fail(fmt.Errorf("failed to open lexical store: %w", err))
	}
	closers = append(closers, func() { lexical.Close() })

	vector, err := store.NewQdrantVectorStore(ctx, store.QdrantConfig{
		Host:       cfg.Vector.Host,
		Port:       cfg.Vector.Port,
		APIKey:     cfg.Vector.APIKey,
		UseTLS:     cfg.Vector.UseTLS,
		Collection: cfg.Vector.Collection,
		Dim:        cfg.Embedding.Dimensions,
	})
	if err != nil {
		return fail(fmt.Errorf("failed to connect to qdrant: %w", err))
	}
	closers = append(closers, func() { vector.Close() })

	graph, err := store.NewNeo4jGraphStore(cfg.Graph.URI, cfg.Graph.Username, cfg.Graph.Password, cfg.Graph.Database)
	if err != nil {
		return fail(fmt.Errorf("failed to connect to neo4j: %w", err))
	}
	closers = append(closers, func() { graph.Close() })

	// Language model: retries under a circuit breaker.
	retryConfig := nlp.DefaultRetryConfig()
	if cfg.NLP.MaxRetries > 0 {
		retryConfig.MaxRetries = cfg.NLP.MaxRetries
	}
	baseLLM := nlp.NewOpenAIClient(cfg.NLP.APIKey, nlp.Config{
		Model:       cfg.NLP.Model,
		BaseURL:     cfg.NLP.BaseURL,
		Temperature: float32(cfg.NLP.Temperature),
		MaxTokens:   cfg.NLP.MaxTokens,
	})
	llm := nlp.NewCircuitBreakerClient(
		nlp.NewRetryClient(baseLLM, retryConfig),
		nlp.DefaultBreakerConfig(), "llm", logger)

	baseEmbedder := embedder.NewOpenAIEmbedder(cfg.Embedding.APIKey, embedder.Config{
		Model:      cfg.Embedding.Model,
		BaseURL:    cfg.Embedding.BaseURL,
		Dimensions: cfg.Embedding.Dimensions,
	})
	embedClient, err := embedder.NewCachedEmbedder(baseEmbedder, embedder.CacheConfig{
		MaxCostBytes: int64(cfg.Embedding.CacheMB) << 20,
		TTL:          time.Duration(cfg.Embedding.CacheTTLHours) * time.Hour,
	})
	if err != nil {
		return fail(fmt.Errorf("failed to create embedding cache: %w", err))
	}
	closers = append(closers, func() { embedClient.Close() })

	var ocrClient ocr.Client
	if cfg.OCR.Endpoint != "" {
		ocrClient, err = ocr.NewHTTPClient(ocr.HTTPConfig{
			Endpoint: cfg.OCR.Endpoint,
			APIKey:   cfg.OCR.APIKey,
			Timeout:  time.Duration(cfg.OCR.TimeoutSec) * time.Second,
		})
		if err != nil {
			return fail(fmt.Errorf("failed to create OCR client: %w", err))
		}
	}

	statusStore, err := status.Open(cfg.Status.Path)
	if err != nil {
		return fail(fmt.Errorf("failed to open status store: %w", err))
	}
	closers = append(closers, func() { statusStore.Close() })

	var recorder *telemetry.Recorder
	if cfg.Telemetry.Enabled {
		recorder, err = telemetry.NewRecorder(cfg.Telemetry.ParquetPath, cfg.Telemetry.BatchSize, logger)
		if err != nil {
			return fail(fmt.Errorf("failed to create telemetry recorder: %w", err))
		}
		closers = append(closers, func() { recorder.Close() })
		logger.Info("telemetry enabled", "path", cfg.Telemetry.ParquetPath)
	}

	var reranker search.Reranker
	if cfg.Search.Rerank {
		reranker = rerank.NewLLMReranker(llm, rerank.Config{}, logger)
	}

	var patternRules []search.PatternRule
	if cfg.Search.PatternRules != "" {
		patternRules, err = search.LoadPatternRules(cfg.Search.PatternRules)
		if err != nil {
			return fail(fmt.Errorf("failed to load pattern rules: %w", err))
		}
	}

	client, err := docfuse.NewClient(docfuse.Options{
		Lexical:   lexical,
		Vector:    vector,
		Graph:     graph,
		Embedder:  embedClient,
		LLM:       llm,
		OCR:       ocrClient,
		Status:    statusStore,
		Telemetry: recorder,
		Reranker:  reranker,
		Governor: governor.Config{
			Thresholds: governor.Thresholds{
				CPUPercent:       cfg.Governor.CPUThreshold,
				MemoryPercent:    cfg.Governor.MemoryThreshold,
				GPUMemoryPercent: cfg.Governor.GPUMemoryThreshold,
			},
			MonitorInterval: time.Duration(cfg.Governor.MonitorIntervalSec) * time.Second,
			SweepInterval:   time.Duration(cfg.Governor.SweepIntervalSec) * time.Second,
		},
		EmbeddingWindow: batch.Config{
			BatchSize: cfg.Batch.Embedding.Size,
			MaxWait:   time.Duration(cfg.Batch.Embedding.MaxWaitSec) * time.Second,
		},
		OCRWindow: batch.Config{
			BatchSize: cfg.Batch.OCR.Size,
			MaxWait:   time.Duration(cfg.Batch.OCR.MaxWaitSec) * time.Second,
		},
		Search: search.Config{
			RankConstant:    cfg.Search.RankConstant,
			ScoreThreshold:  cfg.Search.ScoreThreshold,
			StageCandidates: cfg.Search.StageCandidates,
			MaxHops:         cfg.Search.MaxHops,
			Limit:           cfg.Search.Limit,
			StageTimeout:    time.Duration(cfg.Search.StageTimeoutSec) * time.Second,
		},
		PatternRules:  patternRules,
		ChunkTokens:   cfg.Extract.MaxTokensPerChunk,
		MinSimilarity: cfg.Search.MinSimilarity,
		Logger:        logger,
	})
	if err != nil {
		return fail(fmt.Errorf("failed to create docfuse client: %w", err))
	}
	closers = append(closers, func() { client.Close() })

	logger.Info("docfuse initialized",
		"lexical", cfg.Lexical.Path,
		"vector", fmt.Sprintf("%s:%d/%s", cfg.Vector.Host, cfg.Vector.Port, cfg.Vector.Collection),
		"graph", cfg.Graph.URI,
		"nlp_model", cfg.NLP.Model,
		"embedding_model", cfg.Embedding.Model,
		"ocr", cfg.OCR.Endpoint != "")

	return client, cleanup, nil
}
