package docfuse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/prometheus/procfs"

	"github.com/docfuse/docfuse/pkg/batch"
	"github.com/docfuse/docfuse/pkg/embedder"
	"github.com/docfuse/docfuse/pkg/extract"
	"github.com/docfuse/docfuse/pkg/governor"
	"github.com/docfuse/docfuse/pkg/kg"
	"github.com/docfuse/docfuse/pkg/nlp"
	"github.com/docfuse/docfuse/pkg/ocr"
	"github.com/docfuse/docfuse/pkg/search"
	"github.com/docfuse/docfuse/pkg/status"
	"github.com/docfuse/docfuse/pkg/store"
	"github.com/docfuse/docfuse/pkg/telemetry"
	"github.com/docfuse/docfuse/pkg/types"
)

var (
	// ErrMissingCapability is returned by NewClient when a required
	// capability was not provided. This is the only fatal configuration
	// error; everything else degrades at runtime.
	ErrMissingCapability = errors.New("missing required capability")

	// ErrBusy is returned when the governor rejects a submission. The
	// caller should back off and retry; nothing was queued.
	ErrBusy = errors.New("governor at capacity")
)

// Options wires a Client. Lexical, Vector, Graph, Embedder, and LLM are
// required; the rest are optional and default sensibly.
type Options struct {
	Lexical store.LexicalStore
	Vector  store.VectorStore
	Graph   store.GraphStore

	Embedder embedder.Client
	LLM      nlp.Client
	// OCR derives text from image units; without it image units rely on
	// DerivedText supplied by the extractor.
	OCR ocr.Client

	// Extractor defaults to the PDF extractor.
	Extractor extract.Extractor
	// Status tracks per-document ingestion progress; optional.
	Status *status.Store
	// Telemetry records ingestion/query outcomes; optional.
	Telemetry *telemetry.Recorder
	// Reranker optionally reorders post-fusion evidence.
	Reranker search.Reranker

	// Hardware seeds the governor tier; zero value means autodetect.
	Hardware types.HardwareProfile
	// Sampler feeds the governor's load monitor; defaults to procfs.
	Sampler governor.LoadSampler

	Governor governor.Config
	// EmbeddingWindow and OCRWindow parameterize the batch scheduler.
	EmbeddingWindow batch.Config
	OCRWindow       batch.Config
	Search          search.Config
	// PatternRules replaces the built-in query-entity regex rules.
	PatternRules []search.PatternRule
	// ChunkTokens bounds extracted text chunks.
	ChunkTokens int
	// MinSimilarity gates fuzzy query-entity alignment.
	MinSimilarity float64

	Logger *slog.Logger
}

// Client is the library facade: ingestion on one side, retrieval on the
// other, with the governor and scheduler in between.
type Client struct {
	lexical store.LexicalStore
	vector  store.VectorStore
	graph   store.GraphStore

	embedder  embedder.Client
	llm       nlp.Client
	ocr       ocr.Client
	extractor extract.Extractor

	gov         *governor.Governor
	embedWindow *batch.Window[string, []float32]
	ocrWindow   *batch.Window[[]byte, *ocr.Result]

	builder *kg.Builder
	engine  *search.Engine

	status    *status.Store
	telemetry *telemetry.Recorder
	logger    *slog.Logger

	stop context.CancelFunc
}

// NewClient validates the options, wires the pipeline, and starts the
// governor's monitor. Close releases everything.
func NewClient(opts Options) (*Client, error) {
	switch {
	case opts.Lexical == nil:
		return nil, fmt.Errorf("%w: lexical store", ErrMissingCapability)
	case opts.Vector == nil:
		return nil, fmt.Errorf("%w: vector store", ErrMissingCapability)
	case opts.Graph == nil:
		return nil, fmt.Errorf("%w: graph store", ErrMissingCapability)
	case opts.Embedder == nil:
		return nil, fmt.Errorf("%w: embedder", ErrMissingCapability)
	case opts.LLM == nil:
		return nil, fmt.Errorf("%w: language model", ErrMissingCapability)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sampler := opts.Sampler
	if sampler == nil {
		sampler = governor.NewProcSampler(nil)
	}

	gov, err := governor.New(opts.Governor, sampler, logger)
	if err != nil {
		return nil, fmt.Errorf("create governor: %w", err)
	}

	profile := opts.Hardware
	if profile == (types.HardwareProfile{}) {
		profile = DetectHardware()
	}
	gov.Configure(profile)

	c := &Client{
		lexical:   opts.Lexical,
		vector:    opts.Vector,
		graph:     opts.Graph,
		embedder:  opts.Embedder,
		llm:       opts.LLM,
		ocr:       opts.OCR,
		extractor: opts.Extractor,
		gov:       gov,
		status:    opts.Status,
		telemetry: opts.Telemetry,
		logger:    logger,
	}
	if c.extractor == nil {
		c.extractor = extract.NewPDFExtractor(opts.ChunkTokens)
	}

	// Batch windows follow the governor's adaptive batch size: a degraded
	// tier shrinks batches immediately, without window reconfiguration.
	embedCfg := opts.EmbeddingWindow
	if embedCfg.SizeLimit == nil {
		embedCfg.SizeLimit = func() int { return gov.Limits().BatchSize }
	}
	c.embedWindow = batch.NewWindow(batch.KindEmbedding, embedCfg,
		func(ctx context.Context, texts []string) ([][]float32, error) {
			return opts.Embedder.Embed(ctx, texts)
		}, logger)

	if opts.OCR != nil {
		ocrCfg := opts.OCRWindow
		if ocrCfg.SizeLimit == nil {
			ocrCfg.SizeLimit = func() int { return gov.Limits().BatchSize }
		}
		c.ocrWindow = batch.NewWindow(batch.KindOCR, ocrCfg,
			func(ctx context.Context, images [][]byte) ([]*ocr.Result, error) {
				out := make([]*ocr.Result, len(images))
				for i, img := range images {
					result, err := opts.OCR.Recognize(ctx, img)
					if err != nil {
						return nil, err
					}
					out[i] = result
				}
				return out, nil
			}, logger)
	}

	c.builder = kg.NewBuilder(opts.LLM, opts.OCR, opts.Graph, logger)

	pattern, err := search.NewPatternStrategy(opts.PatternRules)
	if err != nil {
		return nil, fmt.Errorf("pattern rules: %w", err)
	}
	strategies := []search.EntityStrategy{
		pattern,
		search.NewNERStrategy(),
		search.NewLLMStrategy(opts.LLM),
	}
	extractor := search.NewQueryEntityExtractor(strategies, opts.Graph, opts.MinSimilarity, logger)
	c.engine = search.NewEngine(opts.Lexical, opts.Vector, opts.Graph,
		opts.Embedder, extractor, opts.Reranker, opts.Search, logger)

	ctx, cancel := context.WithCancel(context.Background())
	c.stop = cancel
	gov.Start(ctx)

	return c, nil
}

// DetectHardware builds a coarse hardware profile from the host. GPU
// presence is not probed; pass an explicit profile to enable GPU limits.
func DetectHardware() types.HardwareProfile {
	profile := types.HardwareProfile{
		LogicalCores: runtime.NumCPU(),
		MemoryGB:     8,
	}
	if fs, err := procfs.NewDefaultFS(); err == nil {
		if mem, err := fs.Meminfo(); err == nil && mem.MemTotal != nil {
			profile.MemoryGB = float64(*mem.MemTotal) / (1024 * 1024)
		}
	}
	return profile
}

// Governor exposes the resource governor for reconfiguration and inspection.
func (c *Client) Governor() *governor.Governor { return c.gov }

// Status returns the ingestion status for a document, when a status store
// is configured.
func (c *Client) Status(documentID string) (*status.DocumentStatus, error) {
	if c.status == nil {
		return nil, status.ErrNotFound
	}
	return c.status.Get(documentID)
}

// Close stops the governor and closes the batch windows. Stores and
// capability clients are owned by the caller and are not closed here.
func (c *Client) Close() error {
	c.stop()
	c.gov.Stop()

	ctx := context.Background()
	c.embedWindow.Close(ctx)
	if c.ocrWindow != nil {
		c.ocrWindow.Close(ctx)
	}
	if c.telemetry != nil {
		c.telemetry.Flush()
	}
	return nil
}
