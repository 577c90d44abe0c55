package search

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	prose "github.com/jdkato/prose/v2"
	"github.com/sergi/go-diff/diffmatchpatch"
	"gopkg.in/yaml.v3"

	"github.com/docfuse/docfuse/pkg/nlp"
	"github.com/docfuse/docfuse/pkg/store"
	"github.com/docfuse/docfuse/pkg/types"
)

// EntityStrategy proposes probable entity mentions in a query. Strategies
// run in order; their outputs are pooled and deduplicated before alignment
// against the stored graph.
type EntityStrategy interface {
	Mentions(ctx context.Context, query string) ([]string, error)
	Name() string
}

// PatternRule is one named regular expression that captures a mention in
// its first group (or the whole match when there is no group).
type PatternRule struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
}

// PatternStrategy matches configured regular expressions against the query.
type PatternStrategy struct {
	rules []compiledRule
}

type compiledRule struct {
	name string
	re   *regexp.Regexp
}

// DefaultPatternRules covers quoted phrases, capitalized word runs, and CJK
// spans, which between them catch most literal entity mentions.
func DefaultPatternRules() []PatternRule {
	return []PatternRule{
		{Name: "quoted", Pattern: `"([^"]{2,64})"`},
		{Name: "capitalized", Pattern: `\b([A-Z][\w-]+(?:\s+[A-Z][\w-]+)*)\b`},
		{Name: "cjk", Pattern: `([\p{Han}\p{Hiragana}\p{Katakana}]{2,16})`},
	}
}

// NewPatternStrategy compiles the given rules, falling back to the defaults
// when none are given. Invalid patterns are rejected.
func NewPatternStrategy(rules []PatternRule) (*PatternStrategy, error) {
	if len(rules) == 0 {
		rules = DefaultPatternRules()
	}
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("pattern rule %q: %w", r.Name, err)
		}
		compiled = append(compiled, compiledRule{name: r.Name, re: re})
	}
	return &PatternStrategy{rules: compiled}, nil
}

// LoadPatternRules reads pattern rules from a YAML file.
func LoadPatternRules(path string) ([]PatternRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pattern rules: %w", err)
	}
	var rules []PatternRule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse pattern rules: %w", err)
	}
	return rules, nil
}

func (s *PatternStrategy) Name() string { return "pattern" }

func (s *PatternStrategy) Mentions(ctx context.Context, query string) ([]string, error) {
	var out []string
	for _, rule := range s.rules {
		for _, m := range rule.re.FindAllStringSubmatch(query, -1) {
			mention := m[0]
			if len(m) > 1 && m[1] != "" {
				mention = m[1]
			}
			out = append(out, strings.TrimSpace(mention))
		}
	}
	return out, nil
}

// NERStrategy uses a statistical named entity recognizer. It needs no
// network call, so it sits between the cheap pattern rules and the LLM.
type NERStrategy struct{}

func NewNERStrategy() *NERStrategy { return &NERStrategy{} }

func (s *NERStrategy) Name() string { return "ner" }

func (s *NERStrategy) Mentions(ctx context.Context, query string) ([]string, error) {
	doc, err := prose.NewDocument(query, prose.WithSegmentation(false))
	if err != nil {
		return nil, fmt.Errorf("ner: %w", err)
	}
	var out []string
	for _, ent := range doc.Entities() {
		out = append(out, strings.TrimSpace(ent.Text))
	}
	return out, nil
}

// LLMStrategy asks the language model for mentions, one per line. It is the
// most capable and most expensive strategy and runs last.
type LLMStrategy struct {
	llm nlp.Client
}

func NewLLMStrategy(llm nlp.Client) *LLMStrategy { return &LLMStrategy{llm: llm} }

func (s *LLMStrategy) Name() string { return "llm" }

const mentionPrompt = `List the named entities mentioned in this query, one per line, no other text. If there are none, respond with an empty line.

Query: %s`

func (s *LLMStrategy) Mentions(ctx context.Context, query string) ([]string, error) {
	if s.llm == nil {
		return nil, nil
	}
	resp, err := s.llm.Complete(ctx, fmt.Sprintf(mentionPrompt, query))
	if err != nil {
		return nil, fmt.Errorf("llm mentions: %w", err)
	}
	var out []string
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
		if line != "" {
			out = append(out, line)
		}
	}
	return out, nil
}

// QueryEntityExtractor pools mentions from an ordered strategy list and
// aligns them to stored entity names, exact match first, then fuzzy.
type QueryEntityExtractor struct {
	strategies []EntityStrategy
	graph      store.GraphStore
	// minSimilarity gates fuzzy alignment; below it a mention stays
	// unmatched.
	minSimilarity float64
	logger        *slog.Logger
	dmp           *diffmatchpatch.DiffMatchPatch
}

// NewQueryEntityExtractor wires the extractor. A strategy error skips that
// strategy, never the whole extraction.
func NewQueryEntityExtractor(strategies []EntityStrategy, graph store.GraphStore, minSimilarity float64, logger *slog.Logger) *QueryEntityExtractor {
	if minSimilarity <= 0 || minSimilarity > 1 {
		minSimilarity = 0.8
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryEntityExtractor{
		strategies:    strategies,
		graph:         graph,
		minSimilarity: minSimilarity,
		logger:        logger,
		dmp:           diffmatchpatch.New(),
	}
}

// Extract returns the stored entities the query mentions.
func (x *QueryEntityExtractor) Extract(ctx context.Context, query string) ([]*types.Entity, error) {
	mentions := x.mentions(ctx, query)
	if len(mentions) == 0 {
		return nil, nil
	}

	var matched []*types.Entity
	seen := make(map[string]bool)
	for _, mention := range mentions {
		entity, err := x.align(ctx, mention)
		if err != nil {
			return nil, err
		}
		if entity == nil {
			continue
		}
		key := strings.ToLower(entity.Name)
		if seen[key] {
			continue
		}
		seen[key] = true
		matched = append(matched, entity)
	}
	return matched, nil
}

func (x *QueryEntityExtractor) mentions(ctx context.Context, query string) []string {
	var pooled []string
	seen := make(map[string]bool)
	for _, strategy := range x.strategies {
		found, err := strategy.Mentions(ctx, query)
		if err != nil {
			x.logger.Debug("entity strategy failed, skipping",
				"strategy", strategy.Name(), "error", err)
			continue
		}
		for _, m := range found {
			key := strings.ToLower(m)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			pooled = append(pooled, m)
		}
	}
	return pooled
}

// align resolves a mention to a stored entity: exact case-insensitive name
// lookup first, then a fuzzy scan over fragment matches.
func (x *QueryEntityExtractor) align(ctx context.Context, mention string) (*types.Entity, error) {
	entity, err := x.graph.FindEntity(ctx, mention)
	if err == nil {
		return entity, nil
	}
	if err != store.ErrNotFound {
		return nil, fmt.Errorf("align %q: %w", mention, err)
	}

	candidates, err := x.graph.SearchEntities(ctx, fragmentOf(mention), 10)
	if err != nil {
		return nil, fmt.Errorf("align %q: %w", mention, err)
	}

	var best *types.Entity
	bestSim := x.minSimilarity
	for _, c := range candidates {
		sim := x.similarity(mention, c.Name)
		if sim >= bestSim {
			best = c
			bestSim = sim
		}
	}
	return best, nil
}

// fragmentOf picks a substring for the candidate scan: a short prefix of
// the mention's longest word, so near-miss spellings still surface
// candidates for the similarity check.
func fragmentOf(mention string) string {
	fields := strings.Fields(mention)
	longest := mention
	if len(fields) > 0 {
		longest = fields[0]
		for _, f := range fields[1:] {
			if len(f) > len(longest) {
				longest = f
			}
		}
	}
	runes := []rune(longest)
	if len(runes) > 4 {
		runes = runes[:4]
	}
	return string(runes)
}

// similarity is 1 - normalized Levenshtein distance over lowercase names.
func (x *QueryEntityExtractor) similarity(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a == b {
		return 1
	}
	longer := len([]rune(a))
	if l := len([]rune(b)); l > longer {
		longer = l
	}
	if longer == 0 {
		return 0
	}
	diffs := x.dmp.DiffMain(a, b, false)
	dist := x.dmp.DiffLevenshtein(diffs)
	return 1 - float64(dist)/float64(longer)
}
